package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Product represents a product in the catalog
type Product struct {
	ID          uuid.UUID       `json:"id" db:"id"`
	Name        string          `json:"name" db:"name"`
	Description string          `json:"description" db:"description"`
	Price       decimal.Decimal `json:"price" db:"price"`
	Quantity    int             `json:"quantity" db:"quantity"`
	IsActive    bool            `json:"is_active" db:"is_active"`
	ImageURL    string          `json:"image_url" db:"image_url"`
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at" db:"updated_at"`
}

// Available reports whether the product can take a reservation of qty units.
func (p *Product) Available(qty int) bool {
	return p.IsActive && qty <= p.Quantity
}

// ProductFilter narrows catalog listings
type ProductFilter struct {
	ActiveOnly bool
	Query      string
	Page       int
	PageSize   int
	SortBy     string
	SortOrder  string
}
