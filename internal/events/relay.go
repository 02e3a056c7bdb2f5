package events

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"shopfront/internal/database"
	"shopfront/internal/domain"
	"shopfront/internal/repository"

	"go.uber.org/zap"
)

// RelayObserver is told how each delivery attempt went
type RelayObserver interface {
	OutboxPublished(topic string)
	OutboxFailed()
}

type noopRelayObserver struct{}

func (noopRelayObserver) OutboxPublished(string) {}
func (noopRelayObserver) OutboxFailed()          {}

// Relay polls the outbox and hands pending rows to every publisher in order.
// A row is marked sent only once all publishers accepted it, so delivery is
// at least once.
type Relay struct {
	tx         database.TxRunner
	outbox     repository.OutboxRepository
	publishers []Publisher
	interval   time.Duration
	batchSize  int
	observer   RelayObserver
	logger     *zap.Logger
}

func NewRelay(
	tx database.TxRunner,
	outbox repository.OutboxRepository,
	interval time.Duration,
	batchSize int,
	observer RelayObserver,
	logger *zap.Logger,
	publishers ...Publisher,
) *Relay {
	if interval <= 0 {
		interval = time.Second
	}
	if batchSize <= 0 {
		batchSize = 100
	}
	if observer == nil {
		observer = noopRelayObserver{}
	}
	return &Relay{
		tx:         tx,
		outbox:     outbox,
		publishers: publishers,
		interval:   interval,
		batchSize:  batchSize,
		observer:   observer,
		logger:     logger,
	}
}

// Run flushes on every tick until ctx is cancelled
func (r *Relay) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.logger.Info("Outbox relay started", zap.Duration("interval", r.interval), zap.Int("batch_size", r.batchSize))
	for {
		select {
		case <-ctx.Done():
			r.logger.Info("Outbox relay stopped")
			return
		case <-ticker.C:
			if _, err := r.Flush(ctx); err != nil && !errors.Is(err, context.Canceled) {
				r.logger.Error("Outbox flush failed", zap.Error(err))
			}
		}
	}
}

// Flush delivers one batch and returns how many rows were marked sent. The
// rows stay locked for the duration so concurrent relays skip them.
func (r *Relay) Flush(ctx context.Context) (int, error) {
	sent := 0
	var publishErr error

	err := r.tx.RunInTx(ctx, func(tx *sql.Tx) error {
		sent = 0
		publishErr = nil
		outbox := r.outbox.WithTx(tx)

		pending, err := outbox.FetchPending(ctx, r.batchSize)
		if err != nil {
			return err
		}

		for _, msg := range pending {
			if err := r.publish(ctx, msg); err != nil {
				// keep what was already delivered; this row and later ones wait for the next tick
				publishErr = err
				r.observer.OutboxFailed()
				break
			}
			if err := outbox.MarkSent(ctx, msg.ID); err != nil {
				return err
			}
			r.observer.OutboxPublished(msg.Topic)
			sent++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	if sent > 0 {
		r.logger.Debug("Outbox batch delivered", zap.Int("sent", sent))
	}
	return sent, publishErr
}

func (r *Relay) publish(ctx context.Context, msg domain.OutboxMessage) error {
	for _, p := range r.publishers {
		if err := p.Publish(ctx, msg); err != nil {
			return err
		}
	}
	return nil
}
