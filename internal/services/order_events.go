package services

import (
	"context"
	"time"

	"github.com/google/uuid"

	domain "github.com/naturevibes/api/internal/domain"
)

const (
	OrderEventPlaced                = "order.placed"
	OrderEventPaymentSessionCreated = "order.payment_session_created"
	OrderEventPaid                  = "order.paid"
	OrderEventPaymentFailed         = "order.payment_failed"
	OrderEventStatusUpdated         = "order.status_updated"
)

// OrderEvent is the message emitted after an order mutation commits.
type OrderEvent struct {
	ID            string    `json:"id"`
	Type          string    `json:"type"`
	OrderID       string    `json:"orderId"`
	OrderNumber   string    `json:"orderNumber"`
	Status        string    `json:"status"`
	PaymentStatus string    `json:"paymentStatus"`
	Amount        string    `json:"amount"`
	OccurredAt    time.Time `json:"occurredAt"`
}

func newOrderEvent(eventType string, order domain.Order, now time.Time) OrderEvent {
	return OrderEvent{
		ID:            uuid.NewString(),
		Type:          eventType,
		OrderID:       order.ID,
		OrderNumber:   order.OrderNumber,
		Status:        string(order.Status),
		PaymentStatus: string(order.PaymentStatus),
		Amount:        order.Amount.StringFixed(2),
		OccurredAt:    now,
	}
}

// eventEmitter publishes best-effort: failures are logged and never returned.
type eventEmitter struct {
	publisher OrderEventPublisher
	logger    Logger
}

func (e eventEmitter) emit(ctx context.Context, eventType string, order domain.Order, now time.Time) {
	if e.publisher == nil {
		return
	}
	event := newOrderEvent(eventType, order, now)
	if _, err := e.publisher.PublishOrderEvent(ctx, event); err != nil {
		e.logger(ctx, "order.event.publish.failed", map[string]any{
			"eventType": eventType,
			"eventId":   event.ID,
			"orderId":   order.ID,
			"error":     err.Error(),
		})
	}
}
