package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"shopfront/internal/database"
	"shopfront/internal/domain"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	ErrCartNotFound     = fmt.Errorf("cart %w", domain.ErrNotFound)
	ErrCartItemNotFound = fmt.Errorf("cart item %w", domain.ErrNotFound)
)

// CartRepository defines the interface for cart data access
type CartRepository interface {
	WithTx(tx *sql.Tx) CartRepository

	GetOrCreate(ctx context.Context, userID uuid.UUID) (*domain.Cart, error)
	LockByUser(ctx context.Context, userID uuid.UUID) (*domain.Cart, error)
	Items(ctx context.Context, cartID uuid.UUID) ([]domain.CartItem, error)
	LockItems(ctx context.Context, cartID uuid.UUID) ([]domain.CartItem, error)
	FindItem(ctx context.Context, cartID, itemID uuid.UUID) (*domain.CartItem, error)
	UpsertItem(ctx context.Context, cartID, productID uuid.UUID, quantity int, price decimal.Decimal) (*domain.CartItem, error)
	UpdateItemQuantity(ctx context.Context, cartID, itemID uuid.UUID, quantity int) error
	RemoveItem(ctx context.Context, cartID, itemID uuid.UUID) error
	RemoveItems(ctx context.Context, cartID uuid.UUID, itemIDs []uuid.UUID) (int, error)
	Clear(ctx context.Context, cartID uuid.UUID) (int, error)
}

type cartRepository struct {
	db database.DBTX
}

// NewCartRepository creates a new instance of CartRepository
func NewCartRepository(db database.DBTX) CartRepository {
	return &cartRepository{db: db}
}

func (r *cartRepository) WithTx(tx *sql.Tx) CartRepository {
	return &cartRepository{db: tx}
}

// GetOrCreate is safe under concurrent first access: the unique user_id
// constraint makes every racer settle on the same row.
func (r *cartRepository) GetOrCreate(ctx context.Context, userID uuid.UUID) (*domain.Cart, error) {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO carts (id, user_id, created_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id) DO NOTHING
	`, uuid.New(), userID, time.Now().UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to create cart: %w", err)
	}

	cart := &domain.Cart{}
	err = r.db.QueryRowContext(ctx,
		`SELECT id, user_id, created_at FROM carts WHERE user_id = $1`, userID,
	).Scan(&cart.ID, &cart.UserID, &cart.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to load cart: %w", err)
	}

	return cart, nil
}

// LockByUser row-locks the user's cart so two checkouts cannot both consume it
func (r *cartRepository) LockByUser(ctx context.Context, userID uuid.UUID) (*domain.Cart, error) {
	cart := &domain.Cart{}
	err := r.db.QueryRowContext(ctx,
		`SELECT id, user_id, created_at FROM carts WHERE user_id = $1 FOR UPDATE`, userID,
	).Scan(&cart.ID, &cart.UserID, &cart.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrCartNotFound
		}
		return nil, fmt.Errorf("failed to lock cart: %w", err)
	}
	return cart, nil
}

const cartItemsQuery = `
	SELECT id, cart_id, product_id, quantity, price, created_at
	FROM cart_items
	WHERE cart_id = $1
	ORDER BY created_at, id`

func (r *cartRepository) Items(ctx context.Context, cartID uuid.UUID) ([]domain.CartItem, error) {
	return r.listItems(ctx, cartItemsQuery, cartID)
}

// LockItems reads the lines FOR UPDATE. A concurrent merge into one of them
// waits for the locking transaction, so checkout never drops quantity it did
// not order.
func (r *cartRepository) LockItems(ctx context.Context, cartID uuid.UUID) ([]domain.CartItem, error) {
	return r.listItems(ctx, cartItemsQuery+` FOR UPDATE`, cartID)
}

func (r *cartRepository) listItems(ctx context.Context, query string, cartID uuid.UUID) ([]domain.CartItem, error) {
	rows, err := r.db.QueryContext(ctx, query, cartID)
	if err != nil {
		return nil, fmt.Errorf("failed to load cart items: %w", err)
	}
	defer rows.Close()

	items := []domain.CartItem{}
	for rows.Next() {
		item, err := scanCartItem(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan cart item: %w", err)
		}
		items = append(items, *item)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating cart items: %w", err)
	}
	return items, nil
}

// FindItem loads a line only if it belongs to cartID, so foreign items read as missing
func (r *cartRepository) FindItem(ctx context.Context, cartID, itemID uuid.UUID) (*domain.CartItem, error) {
	item, err := scanCartItem(r.db.QueryRowContext(ctx, `
		SELECT id, cart_id, product_id, quantity, price, created_at
		FROM cart_items
		WHERE id = $1 AND cart_id = $2
	`, itemID, cartID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrCartItemNotFound
		}
		return nil, fmt.Errorf("failed to find cart item: %w", err)
	}
	return item, nil
}

// UpsertItem merges into an existing line for the product. The price
// snapshot of an existing line is kept.
func (r *cartRepository) UpsertItem(ctx context.Context, cartID, productID uuid.UUID, quantity int, price decimal.Decimal) (*domain.CartItem, error) {
	item, err := scanCartItem(r.db.QueryRowContext(ctx, `
		INSERT INTO cart_items (id, cart_id, product_id, quantity, price, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (cart_id, product_id)
		DO UPDATE SET quantity = cart_items.quantity + EXCLUDED.quantity
		RETURNING id, cart_id, product_id, quantity, price, created_at
	`, uuid.New(), cartID, productID, quantity, price, time.Now().UTC()))
	if err != nil {
		if database.IsForeignKeyViolation(err) {
			return nil, ErrProductNotFound
		}
		return nil, fmt.Errorf("failed to add cart item: %w", err)
	}
	return item, nil
}

func (r *cartRepository) UpdateItemQuantity(ctx context.Context, cartID, itemID uuid.UUID, quantity int) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE cart_items SET quantity = $3 WHERE id = $1 AND cart_id = $2`,
		itemID, cartID, quantity,
	)
	if err != nil {
		return fmt.Errorf("failed to update cart item: %w", err)
	}
	return expectOneRow(result, ErrCartItemNotFound)
}

func (r *cartRepository) RemoveItem(ctx context.Context, cartID, itemID uuid.UUID) error {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM cart_items WHERE id = $1 AND cart_id = $2`, itemID, cartID)
	if err != nil {
		return fmt.Errorf("failed to remove cart item: %w", err)
	}
	return expectOneRow(result, ErrCartItemNotFound)
}

// RemoveItems deletes the given lines of the cart and reports how many went
func (r *cartRepository) RemoveItems(ctx context.Context, cartID uuid.UUID, itemIDs []uuid.UUID) (int, error) {
	if len(itemIDs) == 0 {
		return 0, nil
	}
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM cart_items WHERE cart_id = $1 AND id = ANY($2)`, cartID, itemIDs)
	if err != nil {
		return 0, fmt.Errorf("failed to remove cart items: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return int(n), nil
}

// Clear deletes every line of the cart and reports how many went
func (r *cartRepository) Clear(ctx context.Context, cartID uuid.UUID) (int, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM cart_items WHERE cart_id = $1`, cartID)
	if err != nil {
		return 0, fmt.Errorf("failed to clear cart: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return int(n), nil
}

func scanCartItem(row rowScanner) (*domain.CartItem, error) {
	item := &domain.CartItem{}
	if err := row.Scan(
		&item.ID,
		&item.CartID,
		&item.ProductID,
		&item.Quantity,
		&item.Price,
		&item.CreatedAt,
	); err != nil {
		return nil, err
	}
	return item, nil
}
