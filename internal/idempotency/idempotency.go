// Package idempotency remembers which order a checkout request produced so a
// retried request with the same Idempotency-Key returns that order instead
// of creating another one.
package idempotency

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"shopfront/internal/domain"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	Header = "Idempotency-Key"

	// idem:order:create:{user_id}:{key} -> "pending" | order id
	keyOrderCreate = "idem:order:create:%s:%s"
	pending        = "pending"

	MaxKeyLength = 255
	DefaultTTL   = 24 * time.Hour
)

var ErrInProgress = domain.Conflictf("a request with this idempotency key is still being processed")

// Key reads the trimmed header value. Empty means the client did not ask for idempotency.
func Key(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get(Header))
}

// Store keeps reservations in Redis
type Store struct {
	rdb redis.UniversalClient
	ttl time.Duration
}

func NewStore(rdb redis.UniversalClient, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Store{rdb: rdb, ttl: ttl}
}

// Reserve claims key for userID. If an earlier request already completed,
// its order id is returned with found set. A reservation still held by an
// unfinished request yields ErrInProgress.
func (s *Store) Reserve(ctx context.Context, userID uuid.UUID, key string) (orderID uuid.UUID, found bool, err error) {
	if len(key) > MaxKeyLength {
		return uuid.Nil, false, domain.Validationf("%s must be at most %d characters", Header, MaxKeyLength)
	}
	redisKey := fmt.Sprintf(keyOrderCreate, userID, key)

	ok, err := s.rdb.SetNX(ctx, redisKey, pending, s.ttl).Result()
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("failed to reserve idempotency key: %w", err)
	}
	if ok {
		return uuid.Nil, false, nil
	}

	value, err := s.rdb.Get(ctx, redisKey).Result()
	if errors.Is(err, redis.Nil) {
		// expired between SETNX and GET; try once more
		return s.Reserve(ctx, userID, key)
	}
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("failed to read idempotency key: %w", err)
	}
	if value == pending {
		return uuid.Nil, false, ErrInProgress
	}

	orderID, err = uuid.Parse(value)
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("corrupt idempotency record %q: %w", redisKey, err)
	}
	return orderID, true, nil
}

// Complete records the order produced under key
func (s *Store) Complete(ctx context.Context, userID uuid.UUID, key string, orderID uuid.UUID) error {
	redisKey := fmt.Sprintf(keyOrderCreate, userID, key)
	if err := s.rdb.Set(ctx, redisKey, orderID.String(), s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to complete idempotency key: %w", err)
	}
	return nil
}

// Release drops a reservation whose request failed so the client may retry
func (s *Store) Release(ctx context.Context, userID uuid.UUID, key string) error {
	redisKey := fmt.Sprintf(keyOrderCreate, userID, key)
	if err := s.rdb.Del(ctx, redisKey).Err(); err != nil {
		return fmt.Errorf("failed to release idempotency key: %w", err)
	}
	return nil
}
