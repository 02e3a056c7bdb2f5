package repository

import (
	"context"
	"testing"
	"time"

	"shopfront/internal/domain"

	"github.com/google/uuid"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

// Feature: shopfront, Property 3: Stored users keep their bcrypt hash
func TestProperty_UserRoundTripKeepsHash(t *testing.T) {
	db := requireDB(t)
	repo := NewUserRepository(db)
	ctx := context.Background()

	properties := gopter.NewProperties(nil)

	properties.Property("users are retrievable by email with the stored hash", prop.ForAll(
		func(local string, password string) bool {
			email := local + "-" + uuid.NewString()[:8] + "@example.com"
			hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
			if err != nil {
				return false
			}

			user := &domain.User{
				ID:           uuid.New(),
				Email:        email,
				PasswordHash: string(hash),
				Role:         domain.RoleUser,
				IsActive:     true,
				CreatedAt:    time.Now().UTC(),
				UpdatedAt:    time.Now().UTC(),
			}
			if err := repo.Create(ctx, user); err != nil {
				t.Logf("FAIL: Failed to create user: %v", err)
				return false
			}

			stored, err := repo.FindByEmail(ctx, email)
			if err != nil {
				t.Logf("FAIL: Failed to find user: %v", err)
				return false
			}
			if stored.ID != user.ID || stored.Role != domain.RoleUser {
				return false
			}
			return bcrypt.CompareHashAndPassword([]byte(stored.PasswordHash), []byte(password)) == nil
		},
		gen.RegexMatch(`[a-z]{3,10}`),
		gen.RegexMatch(`[A-Za-z0-9!@#$%]{8,20}`),
	))

	properties.TestingRun(t, gopter.ConsoleReporter(false))
}

func TestUserRepository(t *testing.T) {
	db := requireDB(t)
	repo := NewUserRepository(db)
	ctx := context.Background()

	t.Run("duplicate email is a conflict", func(t *testing.T) {
		user := seedUser(t, db)
		dup := *user
		dup.ID = uuid.New()
		err := repo.Create(ctx, &dup)
		assert.ErrorIs(t, err, ErrUserAlreadyExists)
		assert.ErrorIs(t, err, domain.ErrConflict)
	})

	t.Run("role changes", func(t *testing.T) {
		user := seedUser(t, db)
		require.NoError(t, repo.UpdateRole(ctx, user.ID, domain.RoleAdmin))

		stored, err := repo.FindByID(ctx, user.ID)
		require.NoError(t, err)
		assert.True(t, stored.IsAdmin())

		assert.ErrorIs(t, repo.UpdateRole(ctx, uuid.New(), domain.RoleAdmin), ErrUserNotFound)
	})

	t.Run("users with orders cannot be deleted", func(t *testing.T) {
		buyer := seedUser(t, db)
		seedOrder(t, db, buyer.ID, map[*domain.Product]int{seedProduct(t, db, "1.00", 1): 1})
		assert.ErrorIs(t, repo.Delete(ctx, buyer.ID), ErrUserHasOrders)

		idle := seedUser(t, db)
		_, err := NewCartRepository(db).GetOrCreate(ctx, idle.ID)
		require.NoError(t, err)
		require.NoError(t, repo.Delete(ctx, idle.ID))
		_, err = repo.FindByID(ctx, idle.ID)
		assert.ErrorIs(t, err, ErrUserNotFound)
	})

	t.Run("list pages in creation order", func(t *testing.T) {
		users, err := repo.List(ctx, 0, 100)
		require.NoError(t, err)
		assert.NotEmpty(t, users)

		page, err := repo.List(ctx, 1, 1)
		require.NoError(t, err)
		require.Len(t, page, 1)
		assert.Equal(t, users[1].ID, page[0].ID)
	})
}

func TestRefreshTokenRepository(t *testing.T) {
	db := requireDB(t)
	repo := NewRefreshTokenRepository(db)
	ctx := context.Background()
	user := seedUser(t, db)

	token := &domain.RefreshToken{
		ID:        uuid.New(),
		UserID:    user.ID,
		ExpiresAt: time.Now().Add(time.Hour).UTC(),
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, repo.Create(ctx, token))

	stored, err := repo.FindByID(ctx, token.ID)
	require.NoError(t, err)
	assert.Equal(t, user.ID, stored.UserID)

	require.NoError(t, repo.Revoke(ctx, token.ID))
	_, err = repo.FindByID(ctx, token.ID)
	assert.ErrorIs(t, err, ErrRefreshTokenRevoked)

	_, err = repo.FindByID(ctx, uuid.New())
	assert.ErrorIs(t, err, ErrRefreshTokenNotFound)
	assert.ErrorIs(t, repo.Revoke(ctx, uuid.New()), ErrRefreshTokenNotFound)

	other := &domain.RefreshToken{ID: uuid.New(), UserID: user.ID, ExpiresAt: time.Now().Add(time.Hour).UTC(), CreatedAt: time.Now().UTC()}
	require.NoError(t, repo.Create(ctx, other))
	require.NoError(t, repo.RevokeAllForUser(ctx, user.ID))
	_, err = repo.FindByID(ctx, other.ID)
	assert.ErrorIs(t, err, ErrRefreshTokenRevoked)
}
