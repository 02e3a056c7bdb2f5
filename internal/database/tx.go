package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"shopfront/internal/domain"

	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"
)

// TxRunner executes fn inside one transaction. fn's error rolls everything back.
type TxRunner interface {
	RunInTx(ctx context.Context, fn func(tx *sql.Tx) error) error
}

type txRunner struct {
	db         *sql.DB
	maxRetries uint64
	baseDelay  time.Duration
	logger     *zap.Logger
}

// NewTxRunner wraps db. Serialization failures and deadlocks are replayed up
// to maxRetries times before surfacing as domain.ErrTransient.
func NewTxRunner(db *sql.DB, maxRetries int, logger *zap.Logger) TxRunner {
	if maxRetries < 0 {
		maxRetries = 0
	}
	return &txRunner{
		db:         db,
		maxRetries: uint64(maxRetries),
		baseDelay:  20 * time.Millisecond,
		logger:     logger,
	}
}

func (r *txRunner) RunInTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	backoff := retry.NewExponential(r.baseDelay)
	backoff = retry.WithJitterPercent(20, backoff)
	backoff = retry.WithMaxRetries(r.maxRetries, backoff)

	attempt := 0
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		err := r.runOnce(ctx, fn)
		if IsRetryable(err) {
			r.logger.Warn("Transaction conflict, retrying",
				zap.Int("attempt", attempt),
				zap.String("sqlstate", PgCode(err)),
			)
			return retry.RetryableError(err)
		}
		return err
	})

	if IsRetryable(err) {
		return fmt.Errorf("%w: %w", domain.ErrTransient, err)
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, sql.ErrConnDone) {
		return fmt.Errorf("%w: %w", domain.ErrTransient, err)
	}
	return err
}

func (r *txRunner) runOnce(ctx context.Context, fn func(tx *sql.Tx) error) (err error) {
	tx, err := r.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				r.logger.Error("Failed to roll back transaction", zap.Error(rbErr))
			}
		}
	}()

	if err = fn(tx); err != nil {
		return err
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
