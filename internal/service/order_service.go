package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"shopfront/internal/database"
	"shopfront/internal/domain"
	"shopfront/internal/repository"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// OrderObserver is told about every committed lifecycle change and every
// checkout refused for stock. The metrics package implements it.
type OrderObserver interface {
	OrderTransitioned(status domain.OrderStatus)
	StockRejected()
}

type noopObserver struct{}

func (noopObserver) OrderTransitioned(domain.OrderStatus) {}
func (noopObserver) StockRejected()                       {}

// OrderRepositories groups the stores the order engine writes in one unit
type OrderRepositories struct {
	Carts    repository.CartRepository
	Products repository.ProductRepository
	Orders   repository.OrderRepository
	History  repository.HistoryRepository
	Outbox   repository.OutboxRepository
}

// OrderService is the order lifecycle engine
type OrderService interface {
	CreateOrder(ctx context.Context, userID uuid.UUID) (*domain.Order, error)
	PayOrder(ctx context.Context, orderID, userID uuid.UUID) (*domain.Order, error)
	CancelOrder(ctx context.Context, orderID, userID uuid.UUID) (*domain.Order, error)
	GetOrder(ctx context.Context, orderID, userID uuid.UUID) (*domain.Order, error)
	GetOrderHistory(ctx context.Context, orderID, userID uuid.UUID) ([]domain.OrderHistory, error)
	ListOrdersByUser(ctx context.Context, userID uuid.UUID) ([]*domain.Order, error)
}

type orderService struct {
	tx       database.TxRunner
	repos    OrderRepositories
	topic    string
	observer OrderObserver
	logger   *zap.Logger
}

// NewOrderService wires the engine. Events are written to the outbox under
// topic; observer may be nil.
func NewOrderService(tx database.TxRunner, repos OrderRepositories, topic string, observer OrderObserver, logger *zap.Logger) OrderService {
	if observer == nil {
		observer = noopObserver{}
	}
	return &orderService{
		tx:       tx,
		repos:    repos,
		topic:    topic,
		observer: observer,
		logger:   logger,
	}
}

// CreateOrder turns the caller's cart into a pending order. Lines are checked
// once up front for a cheap early answer and again under row locks, where
// the answer is authoritative.
func (s *orderService) CreateOrder(ctx context.Context, userID uuid.UUID) (*domain.Order, error) {
	cart, err := s.repos.Carts.GetOrCreate(ctx, userID)
	if err != nil {
		return nil, err
	}
	cart.Items, err = s.repos.Carts.Items(ctx, cart.ID)
	if err != nil {
		return nil, err
	}
	if len(cart.Items) == 0 {
		return nil, domain.ErrEmptyCart
	}

	products, err := s.repos.Products.FindByIDs(ctx, cart.ProductIDs())
	if err != nil {
		return nil, err
	}
	if err := s.validateLines(cart.Items, products); err != nil {
		if errors.Is(err, domain.ErrInsufficientStock) {
			s.observer.StockRejected()
		}
		return nil, err
	}

	var order *domain.Order
	err = s.tx.RunInTx(ctx, func(tx *sql.Tx) error {
		var err error
		order, err = s.checkout(ctx, tx, userID)
		return err
	})
	if err != nil {
		if errors.Is(err, domain.ErrInsufficientStock) {
			s.observer.StockRejected()
		}
		return nil, err
	}

	s.observer.OrderTransitioned(domain.OrderStatusPending)
	s.logger.Info("Order created",
		zap.String("order_id", order.ID.String()),
		zap.String("user_id", userID.String()),
		zap.Int("items", len(order.Items)),
		zap.String("total", order.TotalPrice().StringFixed(2)),
	)

	return s.readBack(ctx, order.ID, userID)
}

// checkout is the atomic unit of CreateOrder
func (s *orderService) checkout(ctx context.Context, tx *sql.Tx, userID uuid.UUID) (*domain.Order, error) {
	carts := s.repos.Carts.WithTx(tx)
	products := s.repos.Products.WithTx(tx)

	// a concurrent checkout of the same cart waits here and then sees it empty
	cart, err := carts.LockByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	cart.Items, err = carts.LockItems(ctx, cart.ID)
	if err != nil {
		return nil, err
	}
	if len(cart.Items) == 0 {
		return nil, domain.ErrEmptyCart
	}

	ids := cart.ProductIDs()
	domain.SortIDs(ids)
	locked := make(map[uuid.UUID]*domain.Product, len(ids))
	for _, id := range ids {
		product, err := products.FindByIDForUpdate(ctx, id)
		if err != nil {
			if errors.Is(err, repository.ErrProductNotFound) {
				return nil, &domain.UnavailableError{ProductID: id}
			}
			return nil, err
		}
		locked[id] = product
	}
	if err := s.validateLines(cart.Items, locked); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	order := &domain.Order{
		ID:        uuid.New(),
		UserID:    userID,
		Status:    domain.OrderStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	for _, line := range cart.Items {
		product := locked[line.ProductID]
		order.Items = append(order.Items, domain.OrderItem{
			ID:        uuid.New(),
			ProductID: line.ProductID,
			Quantity:  line.Quantity,
			Price:     product.Price,
		})
	}

	if err := s.repos.Orders.WithTx(tx).Create(ctx, order); err != nil {
		return nil, err
	}

	for _, line := range cart.Items {
		if _, err := products.AdjustStock(ctx, line.ProductID, -line.Quantity); err != nil {
			if errors.Is(err, repository.ErrStockWouldGoNegative) {
				return nil, stockError(locked[line.ProductID], line.Quantity)
			}
			return nil, err
		}
	}

	consumed := make([]uuid.UUID, len(cart.Items))
	for i, line := range cart.Items {
		consumed[i] = line.ID
	}
	if _, err := carts.RemoveItems(ctx, cart.ID, consumed); err != nil {
		return nil, err
	}

	if err := s.record(ctx, tx, order, userID, domain.EventOrderCreated); err != nil {
		return nil, err
	}
	return order, nil
}

// PayOrder moves a pending order to paid. No stock moves.
func (s *orderService) PayOrder(ctx context.Context, orderID, userID uuid.UUID) (*domain.Order, error) {
	err := s.tx.RunInTx(ctx, func(tx *sql.Tx) error {
		order, err := s.repos.Orders.WithTx(tx).LockForUser(ctx, orderID, userID)
		if err != nil {
			return err
		}
		if err := transition(order, domain.OrderStatusPaid); err != nil {
			return err
		}

		if err := s.repos.Orders.WithTx(tx).UpdateStatus(ctx, order.ID, order.Status); err != nil {
			return err
		}
		return s.record(ctx, tx, order, userID, domain.EventOrderPaid)
	})
	if err != nil {
		return nil, err
	}

	s.observer.OrderTransitioned(domain.OrderStatusPaid)
	s.logger.Info("Order paid", zap.String("order_id", orderID.String()), zap.String("user_id", userID.String()))
	return s.readBack(ctx, orderID, userID)
}

// CancelOrder moves a pending order to cancelled and returns every reserved unit
func (s *orderService) CancelOrder(ctx context.Context, orderID, userID uuid.UUID) (*domain.Order, error) {
	err := s.tx.RunInTx(ctx, func(tx *sql.Tx) error {
		order, err := s.repos.Orders.WithTx(tx).LockForUser(ctx, orderID, userID)
		if err != nil {
			return err
		}
		if err := transition(order, domain.OrderStatusCancelled); err != nil {
			return err
		}

		restock := make(map[uuid.UUID]int, len(order.Items))
		for _, item := range order.Items {
			restock[item.ProductID] += item.Quantity
		}
		products := s.repos.Products.WithTx(tx)
		for _, id := range order.ProductIDs() {
			if _, err := products.AdjustStock(ctx, id, restock[id]); err != nil {
				return err
			}
		}

		if err := s.repos.Orders.WithTx(tx).UpdateStatus(ctx, order.ID, order.Status); err != nil {
			return err
		}
		return s.record(ctx, tx, order, userID, domain.EventOrderCancelled)
	})
	if err != nil {
		return nil, err
	}

	s.observer.OrderTransitioned(domain.OrderStatusCancelled)
	s.logger.Info("Order cancelled", zap.String("order_id", orderID.String()), zap.String("user_id", userID.String()))
	return s.readBack(ctx, orderID, userID)
}

func (s *orderService) GetOrder(ctx context.Context, orderID, userID uuid.UUID) (*domain.Order, error) {
	return s.readBack(ctx, orderID, userID)
}

// GetOrderHistory lists the transitions of an order the caller owns, limited
// to the ones the caller performed.
func (s *orderService) GetOrderHistory(ctx context.Context, orderID, userID uuid.UUID) ([]domain.OrderHistory, error) {
	if _, err := s.repos.Orders.FindByIDForUser(ctx, orderID, userID); err != nil {
		return nil, err
	}
	return s.repos.History.ListForOrder(ctx, orderID, &userID)
}

func (s *orderService) ListOrdersByUser(ctx context.Context, userID uuid.UUID) ([]*domain.Order, error) {
	orders, err := s.repos.Orders.ListByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if err := attachProducts(ctx, s.repos.Products, orders...); err != nil {
		return nil, err
	}
	return orders, nil
}

func (s *orderService) validateLines(items []domain.CartItem, products map[uuid.UUID]*domain.Product) error {
	for _, line := range items {
		product, ok := products[line.ProductID]
		if !ok || !product.IsActive {
			return &domain.UnavailableError{ProductID: line.ProductID}
		}
		if line.Quantity > product.Quantity {
			return stockError(product, line.Quantity)
		}
	}
	return nil
}

// record appends the history row and the outbox event for order's current status
func (s *orderService) record(ctx context.Context, tx *sql.Tx, order *domain.Order, actorID uuid.UUID, eventType string) error {
	entry := &domain.OrderHistory{
		ID:        uuid.New(),
		OrderID:   order.ID,
		Status:    order.Status,
		ChangedBy: actorID,
	}
	if err := s.repos.History.WithTx(tx).Append(ctx, entry); err != nil {
		return err
	}
	return writeEvent(ctx, s.repos.Outbox.WithTx(tx), s.topic, domain.NewOrderEvent(eventType, order, actorID))
}

func (s *orderService) readBack(ctx context.Context, orderID, userID uuid.UUID) (*domain.Order, error) {
	order, err := s.repos.Orders.FindByIDForUser(ctx, orderID, userID)
	if err != nil {
		return nil, err
	}
	if err := attachProducts(ctx, s.repos.Products, order); err != nil {
		return nil, err
	}
	return order, nil
}

// transition applies next to order if the state machine allows it
func transition(order *domain.Order, next domain.OrderStatus) error {
	if !order.Status.CanTransitionTo(next) {
		return domain.Conflictf("order is %s and cannot become %s", order.Status, next)
	}
	order.Status = next
	return nil
}

func writeEvent(ctx context.Context, outbox repository.OutboxRepository, topic string, event domain.OrderEvent) error {
	if err := outbox.Insert(ctx, event.EventID, topic, event.OrderID.String(), event); err != nil {
		return fmt.Errorf("failed to record %s event: %w", event.Type, err)
	}
	return nil
}

// attachProducts loads every referenced product with one batched query
func attachProducts(ctx context.Context, products repository.ProductRepository, orders ...*domain.Order) error {
	ids := []uuid.UUID{}
	seen := map[uuid.UUID]struct{}{}
	for _, order := range orders {
		for _, id := range order.ProductIDs() {
			if _, ok := seen[id]; !ok {
				seen[id] = struct{}{}
				ids = append(ids, id)
			}
		}
	}

	found, err := products.FindByIDs(ctx, ids)
	if err != nil {
		return err
	}
	for _, order := range orders {
		for i := range order.Items {
			order.Items[i].Product = found[order.Items[i].ProductID]
		}
	}
	return nil
}
