package repositories

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/naturevibes/api/internal/domain"
)

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// OrderLocator identifies an order either by primary key or by the gateway session stored on it.
// OrderID wins when both are set.
type OrderLocator struct {
	OrderID    string
	SessionRef string
}

// PaymentSettlement carries the gateway references recorded when a payment settles.
type PaymentSettlement struct {
	SessionRef     string
	TransactionRef string
	Method         domain.PaymentMethod
	PaidAt         time.Time
}

// OrderStatusChange describes a guarded admin mutation. The write only applies while the
// stored status/paymentStatus is still one of the allowed values.
type OrderStatusChange struct {
	Status                 *domain.OrderStatus
	AllowedStatuses        []domain.OrderStatus
	PaymentStatus          *domain.PaymentStatus
	AllowedPaymentStatuses []domain.PaymentStatus
	Now                    time.Time
}

// OrderListFilter narrows admin order listings.
type OrderListFilter struct {
	Status *domain.OrderStatus
	Limit  int
}

// CustomerOrderFilter matches orders linked to an account or carrying the account's email.
type CustomerOrderFilter struct {
	UserRef string
	Email   string
}

// OrderStats aggregates order counts and revenue.
type OrderStats struct {
	Total    int64
	ByStatus map[domain.OrderStatus]int64
	Revenue  decimal.Decimal
}

// OrderRepository owns order persistence. Every mutating method is a single conditional write
// against the stored document; callers never read-then-write.
type OrderRepository interface {
	// Insert stores a new order and claims its order number. A taken number yields a conflict error.
	Insert(ctx context.Context, order domain.Order) error
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	SetSessionRef(ctx context.Context, orderID string, sessionRef string, now time.Time) error
	// MarkPaid settles the located order. PaidAt is kept when already present and refunded
	// orders are never touched. The boolean reports whether the order moved into paid.
	MarkPaid(ctx context.Context, locator OrderLocator, settlement PaymentSettlement) (domain.Order, bool, error)
	// MarkPaymentFailed flips the located order to failed unless it is already paid or refunded.
	// The boolean reports whether the write applied.
	MarkPaymentFailed(ctx context.Context, locator OrderLocator, now time.Time) (domain.Order, bool, error)
	// UpdateStatus applies a guarded admin change. A failed guard yields a conflict error.
	UpdateStatus(ctx context.Context, orderID string, change OrderStatusChange) (domain.Order, error)
	List(ctx context.Context, filter OrderListFilter) ([]domain.Order, error)
	ListForCustomer(ctx context.Context, filter CustomerOrderFilter) ([]domain.Order, error)
	Stats(ctx context.Context) (OrderStats, error)
}

// UserRepository reads registered accounts owned by the identity service.
type UserRepository interface {
	FindByID(ctx context.Context, userID string) (domain.Account, error)
	Count(ctx context.Context) (int64, error)
}

// ProductRepository reads catalog aggregates owned by the catalog service.
type ProductRepository interface {
	CountActive(ctx context.Context) (int64, error)
}

// HealthRepository exposes status of downstream dependencies for readiness checks.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.HealthReport, error)
}

// Registry exposes the repositories backed by the configured database of record.
type Registry interface {
	Orders() OrderRepository
	Users() UserRepository
	Products() ProductRepository
	// Ping reports whether the backing store answers. Used by readiness checks.
	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}
