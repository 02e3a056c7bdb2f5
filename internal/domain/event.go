package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	EventOrderCreated       = "order.created"
	EventOrderPaid          = "order.paid"
	EventOrderCancelled     = "order.cancelled"
	EventOrderStatusChanged = "order.status_changed"
)

// OrderEvent is the envelope written to the outbox for every lifecycle change
type OrderEvent struct {
	EventID   uuid.UUID       `json:"event_id"`
	Type      string          `json:"type"`
	OrderID   uuid.UUID       `json:"order_id"`
	UserID    uuid.UUID       `json:"user_id"`
	ActorID   uuid.UUID       `json:"actor_id"`
	Status    OrderStatus     `json:"status"`
	Total     decimal.Decimal `json:"total"`
	CreatedAt time.Time       `json:"created_at"`
}

// NewOrderEvent builds an event describing the current state of order
func NewOrderEvent(eventType string, order *Order, actorID uuid.UUID) OrderEvent {
	return OrderEvent{
		EventID:   uuid.New(),
		Type:      eventType,
		OrderID:   order.ID,
		UserID:    order.UserID,
		ActorID:   actorID,
		Status:    order.Status,
		Total:     order.TotalPrice(),
		CreatedAt: time.Now().UTC(),
	}
}

// OutboxMessage is a pending or delivered row of the transactional outbox
type OutboxMessage struct {
	ID        int64           `json:"id"`
	EventID   uuid.UUID       `json:"event_id"`
	Topic     string          `json:"topic"`
	Key       string          `json:"key"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
	SentAt    *time.Time      `json:"sent_at"`
}
