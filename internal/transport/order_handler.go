package transport

import (
	"context"
	"errors"
	"net/http"

	"shopfront/internal/domain"
	"shopfront/internal/idempotency"
	"shopfront/internal/middleware"
	"shopfront/internal/service"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ReplayedHeader is set on a checkout response that was answered from an
// earlier request carrying the same Idempotency-Key.
const ReplayedHeader = "Idempotent-Replayed"

// IdempotencyStore is implemented by *idempotency.Store
type IdempotencyStore interface {
	Reserve(ctx context.Context, userID uuid.UUID, key string) (uuid.UUID, bool, error)
	Complete(ctx context.Context, userID uuid.UUID, key string, orderID uuid.UUID) error
	Release(ctx context.Context, userID uuid.UUID, key string) error
}

// OrderHandler handles checkout and the buyer side of the order lifecycle
type OrderHandler struct {
	orders service.OrderService
	idem   IdempotencyStore
	logger *zap.Logger
}

// NewOrderHandler creates a new OrderHandler. idem may be nil, in which case
// the Idempotency-Key header is ignored.
func NewOrderHandler(orders service.OrderService, idem IdempotencyStore, logger *zap.Logger) *OrderHandler {
	return &OrderHandler{
		orders: orders,
		idem:   idem,
		logger: logger,
	}
}

// RegisterRoutes registers all order routes behind authentication
func (h *OrderHandler) RegisterRoutes(r chi.Router, authMiddleware func(http.Handler) http.Handler) {
	r.Route("/api/orders", func(r chi.Router) {
		r.Use(authMiddleware)
		r.Post("/", h.Create)
		r.Get("/", h.List)
		r.Get("/{id}", h.Get)
		r.Post("/{id}/pay", h.Pay)
		r.Post("/{id}/cancel", h.Cancel)
		r.Get("/{id}/history", h.History)
	})
}

// Create checks out the caller's cart
func (h *OrderHandler) Create(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(w, r, h.logger)
	if !ok {
		return
	}
	ctx := r.Context()

	key := idempotency.Key(r)
	if key == "" || h.idem == nil {
		h.createOnce(w, r, userID)
		return
	}

	existingID, found, err := h.idem.Reserve(ctx, userID, key)
	if err != nil && !errors.Is(err, domain.ErrValidation) && !errors.Is(err, domain.ErrConflict) {
		// store unreachable: serve the request without replay protection
		h.logger.Warn("Idempotency store unavailable, checking out without key",
			zap.String("user_id", userID.String()),
			zap.Error(err),
		)
		h.createOnce(w, r, userID)
		return
	}
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	if found {
		order, err := h.orders.GetOrder(ctx, existingID, userID)
		if err != nil {
			respondError(w, h.logger, err)
			return
		}
		w.Header().Set(ReplayedHeader, "true")
		middleware.RespondWithJSON(w, http.StatusCreated, newOrderResponse(order))
		return
	}

	order, err := h.orders.CreateOrder(ctx, userID)
	if err != nil {
		if relErr := h.idem.Release(context.WithoutCancel(ctx), userID, key); relErr != nil {
			h.logger.Warn("Failed to release idempotency key", zap.Error(relErr))
		}
		h.logger.Debug("Checkout failed", zap.Error(err))
		respondError(w, h.logger, err)
		return
	}

	if err := h.idem.Complete(context.WithoutCancel(ctx), userID, key, order.ID); err != nil {
		// the order exists; a retry with this key will now see ErrInProgress until the TTL lapses
		h.logger.Error("Failed to complete idempotency key",
			zap.String("order_id", order.ID.String()),
			zap.Error(err),
		)
	}
	middleware.RespondWithJSON(w, http.StatusCreated, newOrderResponse(order))
}

func (h *OrderHandler) createOnce(w http.ResponseWriter, r *http.Request, userID uuid.UUID) {
	order, err := h.orders.CreateOrder(r.Context(), userID)
	if err != nil {
		h.logger.Debug("Checkout failed", zap.Error(err))
		respondError(w, h.logger, err)
		return
	}
	middleware.RespondWithJSON(w, http.StatusCreated, newOrderResponse(order))
}

// List returns the caller's orders, newest first
func (h *OrderHandler) List(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(w, r, h.logger)
	if !ok {
		return
	}

	orders, err := h.orders.ListOrdersByUser(r.Context(), userID)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	middleware.RespondWithJSON(w, http.StatusOK, newOrderResponses(orders))
}

func (h *OrderHandler) Get(w http.ResponseWriter, r *http.Request) {
	h.withOrder(w, r, h.orders.GetOrder)
}

func (h *OrderHandler) Pay(w http.ResponseWriter, r *http.Request) {
	h.withOrder(w, r, h.orders.PayOrder)
}

func (h *OrderHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	h.withOrder(w, r, h.orders.CancelOrder)
}

// History returns the status trail of one of the caller's orders
func (h *OrderHandler) History(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(w, r, h.logger)
	if !ok {
		return
	}
	orderID, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	history, err := h.orders.GetOrderHistory(r.Context(), orderID, userID)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	if history == nil {
		history = []domain.OrderHistory{}
	}
	middleware.RespondWithJSON(w, http.StatusOK, history)
}

type orderOp func(ctx context.Context, orderID, userID uuid.UUID) (*domain.Order, error)

func (h *OrderHandler) withOrder(w http.ResponseWriter, r *http.Request, op orderOp) {
	userID, ok := callerID(w, r, h.logger)
	if !ok {
		return
	}
	orderID, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	order, err := op(r.Context(), orderID, userID)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	middleware.RespondWithJSON(w, http.StatusOK, newOrderResponse(order))
}
