package services

import (
	"context"

	domain "github.com/naturevibes/api/internal/domain"
	"github.com/naturevibes/api/internal/payments"
)

// OrderService places orders and opens hosted payment sessions for them.
type OrderService interface {
	PlaceOrder(ctx context.Context, cmd PlaceOrderCommand) (domain.Order, error)
	StartPaymentSession(ctx context.Context, cmd PlaceOrderCommand) (PaymentSessionResult, error)
}

// ReconciliationService applies verified payment provider events to orders.
type ReconciliationService interface {
	HandleEvent(ctx context.Context, event payments.WebhookEvent) (ReconciliationOutcome, error)
}

// ReportingService exposes the read side plus the admin status mutation.
type ReportingService interface {
	ListOrders(ctx context.Context, query OrderListQuery) ([]domain.Order, error)
	UserOrders(ctx context.Context, userID string) (UserOrders, error)
	UpdateStatus(ctx context.Context, cmd UpdateStatusCommand) (domain.Order, error)
	Summary(ctx context.Context) (OrderSummary, error)
}

// SystemService exposes service health.
type SystemService interface {
	HealthReport(ctx context.Context) (SystemHealthReport, error)
}

// UserDirectory is the read-only account lookup owned by the identity service.
type UserDirectory interface {
	FindByID(ctx context.Context, userID string) (domain.Account, error)
	Count(ctx context.Context) (int64, error)
}

// ProductCatalog is the read-only catalog view used for reporting.
type ProductCatalog interface {
	CountActive(ctx context.Context) (int64, error)
}

// OrderEventPublisher publishes order domain events for downstream consumers.
type OrderEventPublisher interface {
	PublishOrderEvent(ctx context.Context, event OrderEvent) (string, error)
}

// Logger receives structured service events.
type Logger func(ctx context.Context, event string, fields map[string]any)

func noopLogger(context.Context, string, map[string]any) {}
