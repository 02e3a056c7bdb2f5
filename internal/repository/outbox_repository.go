package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"shopfront/internal/database"
	"shopfront/internal/domain"

	"github.com/google/uuid"
)

// OutboxRepository stores events in the same transaction as the state
// change they describe; a relay delivers them afterwards.
type OutboxRepository interface {
	WithTx(tx *sql.Tx) OutboxRepository

	Insert(ctx context.Context, eventID uuid.UUID, topic, key string, payload any) error
	FetchPending(ctx context.Context, limit int) ([]domain.OutboxMessage, error)
	MarkSent(ctx context.Context, id int64) error
}

type outboxRepository struct {
	db database.DBTX
}

func NewOutboxRepository(db database.DBTX) OutboxRepository {
	return &outboxRepository{db: db}
}

func (r *outboxRepository) WithTx(tx *sql.Tx) OutboxRepository {
	return &outboxRepository{db: tx}
}

func (r *outboxRepository) Insert(ctx context.Context, eventID uuid.UUID, topic, key string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode outbox payload: %w", err)
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO outbox (event_id, topic, key, payload) VALUES ($1, $2, $3, $4)`,
		eventID, topic, key, string(data),
	)
	if err != nil {
		return fmt.Errorf("failed to insert outbox event: %w", err)
	}
	return nil
}

// FetchPending returns undelivered rows oldest first. Concurrent relays
// skip rows another relay already holds.
func (r *outboxRepository) FetchPending(ctx context.Context, limit int) ([]domain.OutboxMessage, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, event_id, topic, key, payload, created_at, sent_at
		FROM outbox
		WHERE sent_at IS NULL
		ORDER BY id
		LIMIT $1
		FOR UPDATE SKIP LOCKED
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch outbox: %w", err)
	}
	defer rows.Close()

	out := []domain.OutboxMessage{}
	for rows.Next() {
		var msg domain.OutboxMessage
		var payload []byte
		if err := rows.Scan(&msg.ID, &msg.EventID, &msg.Topic, &msg.Key, &payload, &msg.CreatedAt, &msg.SentAt); err != nil {
			return nil, fmt.Errorf("failed to scan outbox row: %w", err)
		}
		msg.Payload = json.RawMessage(payload)
		out = append(out, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating outbox: %w", err)
	}
	return out, nil
}

func (r *outboxRepository) MarkSent(ctx context.Context, id int64) error {
	_, err := r.db.ExecContext(ctx, `UPDATE outbox SET sent_at = now() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to mark outbox row sent: %w", err)
	}
	return nil
}
