package idempotency

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"shopfront/internal/domain"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewStore(client, time.Hour), mr
}

func TestStore_Lifecycle(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()
	user := uuid.New()
	orderID := uuid.New()

	_, found, err := store.Reserve(ctx, user, "abc")
	require.NoError(t, err)
	assert.False(t, found)

	_, _, err = store.Reserve(ctx, user, "abc")
	assert.ErrorIs(t, err, ErrInProgress)
	assert.ErrorIs(t, err, domain.ErrConflict)

	require.NoError(t, store.Complete(ctx, user, "abc", orderID))

	got, found, err := store.Reserve(ctx, user, "abc")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, orderID, got)

	key := "idem:order:create:" + user.String() + ":abc"
	assert.True(t, mr.Exists(key))
	assert.Equal(t, time.Hour, mr.TTL(key))

	mr.FastForward(2 * time.Hour)
	_, found, err = store.Reserve(ctx, user, "abc")
	require.NoError(t, err)
	assert.False(t, found, "expired keys start over")
}

func TestStore_KeysAreScopedPerUser(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	alice := uuid.New()
	bob := uuid.New()

	_, _, err := store.Reserve(ctx, alice, "same")
	require.NoError(t, err)
	require.NoError(t, store.Complete(ctx, alice, "same", uuid.New()))

	_, found, err := store.Reserve(ctx, bob, "same")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestStore_Release(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	user := uuid.New()

	_, _, err := store.Reserve(ctx, user, "retry-me")
	require.NoError(t, err)
	require.NoError(t, store.Release(ctx, user, "retry-me"))

	_, found, err := store.Reserve(ctx, user, "retry-me")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestStore_RejectsLongKeys(t *testing.T) {
	store, _ := newTestStore(t)
	_, _, err := store.Reserve(context.Background(), uuid.New(), strings.Repeat("k", MaxKeyLength+1))
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestStore_RedisDown(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", DialTimeout: 100 * time.Millisecond, MaxRetries: -1})
	defer client.Close()
	store := NewStore(client, 0)
	_, _, err := store.Reserve(context.Background(), uuid.New(), "k")
	assert.Error(t, err)
}

func TestKey(t *testing.T) {
	r := httptest.NewRequest("POST", "/api/orders", nil)
	assert.Equal(t, "", Key(r))
	r.Header.Set(Header, "  k-1 ")
	assert.Equal(t, "k-1", Key(r))
}
