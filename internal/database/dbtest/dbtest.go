// Package dbtest boots a throwaway PostgreSQL container with the schema applied.
package dbtest

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"shopfront/internal/database"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// Teardown stops the container started by Start
type Teardown func(context.Context) error

// Start runs postgres:15, applies the goose migrations found in
// migrationsDir and returns an open pool.
func Start(ctx context.Context, migrationsDir string) (*sql.DB, Teardown, error) {
	var (
		dbName = "testdb"
		dbPwd  = "password"
		dbUser = "user"
	)

	dbContainer, err := postgres.Run(
		ctx,
		"postgres:15",
		postgres.WithDatabase(dbName),
		postgres.WithUsername(dbUser),
		postgres.WithPassword(dbPwd),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	if err != nil {
		return nil, nil, err
	}

	connStr, err := dbContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		return nil, dbContainer.Terminate, err
	}

	db, err := sql.Open("pgx", connStr)
	if err != nil {
		return nil, dbContainer.Terminate, err
	}
	db.SetMaxOpenConns(20)

	if err := database.RunMigrations(db, migrationsDir, zap.NewNop()); err != nil {
		db.Close()
		return nil, dbContainer.Terminate, fmt.Errorf("migrate test database: %w", err)
	}

	return db, dbContainer.Terminate, nil
}

// Truncate empties every application table between tests
func Truncate(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		TRUNCATE outbox, order_history, order_items, orders, cart_items, carts,
		         products, refresh_tokens, users RESTART IDENTITY CASCADE
	`)
	return err
}
