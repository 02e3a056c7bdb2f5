package service

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"shopfront/internal/domain"
	"shopfront/internal/repository"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/tealeg/xlsx"
	"go.uber.org/zap"
)

// MinSearchLength is the shortest accepted search text
const MinSearchLength = 2

// ProductInput carries the fields of a new product
type ProductInput struct {
	Name        string
	Description string
	Price       decimal.Decimal
	Quantity    int
	ImageURL    string
}

// ProductUpdate changes only the fields that are set. Stock is not
// editable here; use Restock.
type ProductUpdate struct {
	Name        *string
	Description *string
	Price       *decimal.Decimal
	ImageURL    *string
	IsActive    *bool
}

// CatalogService defines the interface for product catalog operations
type CatalogService interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Product, error)
	GetActive(ctx context.Context, id uuid.UUID) (*domain.Product, error)
	ListActive(ctx context.Context, filter domain.ProductFilter) ([]*domain.Product, int, error)
	Search(ctx context.Context, text string) ([]*domain.Product, error)
	ListAll(ctx context.Context, filter domain.ProductFilter) ([]*domain.Product, int, error)

	Create(ctx context.Context, input ProductInput) (*domain.Product, error)
	Update(ctx context.Context, id uuid.UUID, update ProductUpdate) (*domain.Product, error)
	Restock(ctx context.Context, id uuid.UUID, quantity int) (*domain.Product, error)
	SoftDelete(ctx context.Context, id uuid.UUID) error
	Purge(ctx context.Context, id uuid.UUID) error
	ExportXLSX(ctx context.Context, w io.Writer) error
}

type catalogService struct {
	productRepo repository.ProductRepository
	logger      *zap.Logger
}

// NewCatalogService creates a new instance of CatalogService
func NewCatalogService(productRepo repository.ProductRepository, logger *zap.Logger) CatalogService {
	return &catalogService{
		productRepo: productRepo,
		logger:      logger,
	}
}

func (s *catalogService) GetByID(ctx context.Context, id uuid.UUID) (*domain.Product, error) {
	return s.productRepo.FindByID(ctx, id)
}

// GetActive hides soft-deleted products from shoppers
func (s *catalogService) GetActive(ctx context.Context, id uuid.UUID) (*domain.Product, error) {
	product, err := s.productRepo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !product.IsActive {
		return nil, repository.ErrProductNotFound
	}
	return product, nil
}

func (s *catalogService) ListActive(ctx context.Context, filter domain.ProductFilter) ([]*domain.Product, int, error) {
	filter.ActiveOnly = true
	return s.productRepo.List(ctx, filter)
}

// Search matches text case-insensitively against name or description of active products
func (s *catalogService) Search(ctx context.Context, text string) ([]*domain.Product, error) {
	text = strings.TrimSpace(text)
	if len([]rune(text)) < MinSearchLength {
		return nil, domain.Validationf("search text must be at least %d characters", MinSearchLength)
	}

	products, _, err := s.productRepo.List(ctx, domain.ProductFilter{
		ActiveOnly: true,
		Query:      text,
		SortBy:     "name",
		SortOrder:  string(repository.SortOrderAsc),
	})
	return products, err
}

func (s *catalogService) ListAll(ctx context.Context, filter domain.ProductFilter) ([]*domain.Product, int, error) {
	filter.ActiveOnly = false
	return s.productRepo.List(ctx, filter)
}

func (s *catalogService) Create(ctx context.Context, input ProductInput) (*domain.Product, error) {
	input.Name = strings.TrimSpace(input.Name)
	if input.Name == "" {
		return nil, domain.Validationf("name is required")
	}
	if input.Price.IsNegative() {
		return nil, domain.Validationf("price must not be negative")
	}
	if input.Quantity < 0 {
		return nil, domain.Validationf("quantity must not be negative")
	}

	now := time.Now().UTC()
	product := &domain.Product{
		ID:          uuid.New(),
		Name:        input.Name,
		Description: input.Description,
		Price:       input.Price.Round(2),
		Quantity:    input.Quantity,
		IsActive:    true,
		ImageURL:    input.ImageURL,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := s.productRepo.Create(ctx, product); err != nil {
		return nil, err
	}

	s.logger.Info("Product created", zap.String("product_id", product.ID.String()), zap.String("name", product.Name))
	return product, nil
}

func (s *catalogService) Update(ctx context.Context, id uuid.UUID, update ProductUpdate) (*domain.Product, error) {
	product, err := s.productRepo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if update.Name != nil {
		name := strings.TrimSpace(*update.Name)
		if name == "" {
			return nil, domain.Validationf("name must not be empty")
		}
		product.Name = name
	}
	if update.Description != nil {
		product.Description = *update.Description
	}
	if update.Price != nil {
		if update.Price.IsNegative() {
			return nil, domain.Validationf("price must not be negative")
		}
		product.Price = update.Price.Round(2)
	}
	if update.ImageURL != nil {
		product.ImageURL = *update.ImageURL
	}
	if update.IsActive != nil {
		product.IsActive = *update.IsActive
	}

	if err := s.productRepo.Update(ctx, product); err != nil {
		return nil, err
	}
	return product, nil
}

// Restock adds units to a product. It is the only stock writer outside the order engine.
func (s *catalogService) Restock(ctx context.Context, id uuid.UUID, quantity int) (*domain.Product, error) {
	if quantity <= 0 {
		return nil, domain.Validationf("restock quantity must be positive")
	}

	if _, err := s.productRepo.AdjustStock(ctx, id, quantity); err != nil {
		return nil, err
	}

	product, err := s.productRepo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}

	s.logger.Info("Product restocked",
		zap.String("product_id", id.String()),
		zap.Int("added", quantity),
		zap.Int("quantity", product.Quantity),
	)
	return product, nil
}

// SoftDelete deactivates the product. Order items keep pointing at it.
func (s *catalogService) SoftDelete(ctx context.Context, id uuid.UUID) error {
	if err := s.productRepo.SetActive(ctx, id, false); err != nil {
		return err
	}
	s.logger.Info("Product deactivated", zap.String("product_id", id.String()))
	return nil
}

// Purge removes a product outright. Anything an order ever referenced is a Conflict.
func (s *catalogService) Purge(ctx context.Context, id uuid.UUID) error {
	referenced, err := s.productRepo.IsReferencedByOrders(ctx, id)
	if err != nil {
		return err
	}
	if referenced {
		return repository.ErrProductReferenced
	}

	if err := s.productRepo.Purge(ctx, id); err != nil {
		return err
	}
	s.logger.Info("Product purged", zap.String("product_id", id.String()))
	return nil
}

// ExportXLSX writes the whole catalog, inactive products included, as a spreadsheet
func (s *catalogService) ExportXLSX(ctx context.Context, w io.Writer) error {
	products, _, err := s.productRepo.List(ctx, domain.ProductFilter{SortBy: "name", SortOrder: "ASC"})
	if err != nil {
		return err
	}

	file := xlsx.NewFile()
	sheet, err := file.AddSheet("Products")
	if err != nil {
		return fmt.Errorf("failed to create sheet: %w", err)
	}

	header := sheet.AddRow()
	for _, h := range []string{"ID", "Name", "Description", "Price", "Quantity", "Active", "ImageURL", "CreatedAt", "UpdatedAt"} {
		header.AddCell().SetString(h)
	}

	for _, p := range products {
		row := sheet.AddRow()
		row.AddCell().SetString(p.ID.String())
		row.AddCell().SetString(p.Name)
		row.AddCell().SetString(p.Description)
		row.AddCell().SetString(p.Price.StringFixed(2))
		row.AddCell().SetInt(p.Quantity)
		row.AddCell().SetString(strconv.FormatBool(p.IsActive))
		row.AddCell().SetString(p.ImageURL)
		row.AddCell().SetString(p.CreatedAt.UTC().Format(time.RFC3339))
		row.AddCell().SetString(p.UpdatedAt.UTC().Format(time.RFC3339))
	}

	if err := file.Write(w); err != nil {
		return fmt.Errorf("failed to write spreadsheet: %w", err)
	}
	return nil
}
