package repository

import (
	"context"
	"database/sql"
	"fmt"

	"shopfront/internal/database"
	"shopfront/internal/domain"

	"github.com/google/uuid"
)

// HistoryRepository is the append-only audit log of order transitions
type HistoryRepository interface {
	WithTx(tx *sql.Tx) HistoryRepository

	Append(ctx context.Context, entry *domain.OrderHistory) error
	ListForOrder(ctx context.Context, orderID uuid.UUID, changedBy *uuid.UUID) ([]domain.OrderHistory, error)
}

type historyRepository struct {
	db database.DBTX
}

func NewHistoryRepository(db database.DBTX) HistoryRepository {
	return &historyRepository{db: db}
}

func (r *historyRepository) WithTx(tx *sql.Tx) HistoryRepository {
	return &historyRepository{db: tx}
}

// Append stores entry. ChangedAt is assigned by the database clock.
func (r *historyRepository) Append(ctx context.Context, entry *domain.OrderHistory) error {
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO order_history (id, order_id, status, changed_by)
		VALUES ($1, $2, $3, $4)
		RETURNING changed_at
	`, entry.ID, entry.OrderID, entry.Status, entry.ChangedBy).Scan(&entry.ChangedAt)
	if err != nil {
		return fmt.Errorf("failed to append order history: %w", err)
	}
	return nil
}

// ListForOrder returns rows oldest first. A non-nil changedBy keeps only
// the rows recorded by that actor.
func (r *historyRepository) ListForOrder(ctx context.Context, orderID uuid.UUID, changedBy *uuid.UUID) ([]domain.OrderHistory, error) {
	query := `
		SELECT id, order_id, status, changed_by, changed_at
		FROM order_history
		WHERE order_id = $1
	`
	args := []any{orderID}
	if changedBy != nil {
		query += ` AND changed_by = $2`
		args = append(args, *changedBy)
	}
	query += ` ORDER BY changed_at, id`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to load order history: %w", err)
	}
	defer rows.Close()

	entries := []domain.OrderHistory{}
	for rows.Next() {
		var entry domain.OrderHistory
		var status string
		if err := rows.Scan(&entry.ID, &entry.OrderID, &status, &entry.ChangedBy, &entry.ChangedAt); err != nil {
			return nil, fmt.Errorf("failed to scan order history: %w", err)
		}
		entry.Status = domain.OrderStatus(status)
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating order history: %w", err)
	}
	return entries, nil
}
