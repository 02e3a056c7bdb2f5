package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"shopfront/internal/database"
	"shopfront/internal/domain"
	"shopfront/internal/repository"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// AdminService holds the operations only administrators may call. Route
// gating happens in middleware; nothing here re-checks the caller's role.
type AdminService interface {
	ChangeOrderStatus(ctx context.Context, adminID, orderID uuid.UUID, status domain.OrderStatus) (*domain.Order, error)
	ListUserOrders(ctx context.Context, userID uuid.UUID) ([]*domain.Order, error)

	ListUsers(ctx context.Context, offset, limit int) ([]*domain.User, error)
	CreateUser(ctx context.Context, email, password, role string) (*domain.User, error)
	DeleteUser(ctx context.Context, adminID, userID uuid.UUID) error
	PromoteUser(ctx context.Context, userID uuid.UUID) (*domain.User, error)
	DemoteUser(ctx context.Context, adminID, userID uuid.UUID) (*domain.User, error)
}

type adminService struct {
	tx       database.TxRunner
	users    repository.UserRepository
	sessions repository.RefreshTokenRepository
	orders   repository.OrderRepository
	products repository.ProductRepository
	outbox   repository.OutboxRepository
	topic    string
	observer OrderObserver
	logger   *zap.Logger
}

// NewAdminService creates a new instance of AdminService
func NewAdminService(
	tx database.TxRunner,
	users repository.UserRepository,
	sessions repository.RefreshTokenRepository,
	repos OrderRepositories,
	topic string,
	observer OrderObserver,
	logger *zap.Logger,
) AdminService {
	if observer == nil {
		observer = noopObserver{}
	}
	return &adminService{
		tx:       tx,
		users:    users,
		sessions: sessions,
		orders:   repos.Orders,
		products: repos.Products,
		outbox:   repos.Outbox,
		topic:    topic,
		observer: observer,
		logger:   logger,
	}
}

// ChangeOrderStatus sets any known status without consulting the state
// machine. It writes no history row; the outbox event is the audit trail.
func (s *adminService) ChangeOrderStatus(ctx context.Context, adminID, orderID uuid.UUID, status domain.OrderStatus) (*domain.Order, error) {
	if !status.Valid() {
		return nil, domain.Validationf("unknown order status %q", status)
	}

	var previous domain.OrderStatus
	err := s.tx.RunInTx(ctx, func(tx *sql.Tx) error {
		order, err := s.orders.WithTx(tx).Lock(ctx, orderID)
		if err != nil {
			return err
		}
		previous = order.Status
		order.Status = status

		if err := s.orders.WithTx(tx).UpdateStatus(ctx, order.ID, status); err != nil {
			return err
		}
		return writeEvent(ctx, s.outbox.WithTx(tx), s.topic, domain.NewOrderEvent(domain.EventOrderStatusChanged, order, adminID))
	})
	if err != nil {
		return nil, err
	}

	s.observer.OrderTransitioned(status)
	s.logger.Info("Order status overridden",
		zap.String("order_id", orderID.String()),
		zap.String("admin_id", adminID.String()),
		zap.String("from", string(previous)),
		zap.String("to", string(status)),
	)

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if err := attachProducts(ctx, s.products, order); err != nil {
		return nil, err
	}
	return order, nil
}

func (s *adminService) ListUserOrders(ctx context.Context, userID uuid.UUID) ([]*domain.Order, error) {
	if _, err := s.users.FindByID(ctx, userID); err != nil {
		return nil, err
	}

	orders, err := s.orders.ListByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if err := attachProducts(ctx, s.products, orders...); err != nil {
		return nil, err
	}
	return orders, nil
}

func (s *adminService) ListUsers(ctx context.Context, offset, limit int) ([]*domain.User, error) {
	if offset < 0 {
		offset = 0
	}
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	return s.users.List(ctx, offset, limit)
}

func (s *adminService) CreateUser(ctx context.Context, email, password, role string) (*domain.User, error) {
	user, err := newUser(email, password, role)
	if err != nil {
		return nil, err
	}

	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrUserAlreadyExists) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	s.logger.Info("User created by admin", zap.String("user_id", user.ID.String()), zap.String("role", user.Role))
	return user, nil
}

// DeleteUser refuses to delete the calling admin. Users with orders are a Conflict.
func (s *adminService) DeleteUser(ctx context.Context, adminID, userID uuid.UUID) error {
	if adminID == userID {
		return domain.Conflictf("administrators cannot delete themselves")
	}
	if err := s.users.Delete(ctx, userID); err != nil {
		return err
	}
	s.logger.Info("User deleted", zap.String("user_id", userID.String()), zap.String("admin_id", adminID.String()))
	return nil
}

func (s *adminService) PromoteUser(ctx context.Context, userID uuid.UUID) (*domain.User, error) {
	return s.setRole(ctx, userID, domain.RoleAdmin)
}

// DemoteUser refuses to demote the calling admin so at least one admin remains
// reachable. The demoted user's refresh tokens are revoked.
func (s *adminService) DemoteUser(ctx context.Context, adminID, userID uuid.UUID) (*domain.User, error) {
	if adminID == userID {
		return nil, domain.Conflictf("administrators cannot demote themselves")
	}
	user, err := s.setRole(ctx, userID, domain.RoleUser)
	if err != nil {
		return nil, err
	}
	if err := s.sessions.RevokeAllForUser(ctx, userID); err != nil {
		return nil, fmt.Errorf("failed to end sessions of demoted user: %w", err)
	}
	return user, nil
}

func (s *adminService) setRole(ctx context.Context, userID uuid.UUID, role string) (*domain.User, error) {
	if err := s.users.UpdateRole(ctx, userID, role); err != nil {
		return nil, err
	}
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	s.logger.Info("User role changed", zap.String("user_id", userID.String()), zap.String("role", role))
	return user, nil
}
