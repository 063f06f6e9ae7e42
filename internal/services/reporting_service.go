package services

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/naturevibes/api/internal/domain"
	"github.com/naturevibes/api/internal/repositories"
)

const defaultSummaryRecent = 6

var (
	// ErrInvalidStatus signals an order status outside the accepted set.
	ErrInvalidStatus = errors.New("order: invalid status")
	// ErrInvalidPaymentStatus signals a payment status outside the accepted set.
	ErrInvalidPaymentStatus = errors.New("order: invalid payment status")
	// ErrStatusUpdateEmpty signals an update naming neither status nor payment status.
	ErrStatusUpdateEmpty = errors.New("order: status or payment status required")
	// ErrStatusTransition signals a transition the order lifecycle does not allow.
	ErrStatusTransition = errors.New("order: status transition not allowed")
	// ErrUserNotFound indicates the requesting account does not exist.
	ErrUserNotFound = errors.New("order: user not found")
)

// OrderListQuery filters the admin order list. Status "" or "all" disables filtering.
type OrderListQuery struct {
	Status string
	Limit  int
}

// UserOrders is an account's order history split by lifecycle stage.
type UserOrders struct {
	Account domain.Account
	Current []domain.Order
	History []domain.Order
}

// All returns current and historical orders, newest first.
func (u UserOrders) All() []domain.Order {
	out := make([]domain.Order, 0, len(u.Current)+len(u.History))
	out = append(out, u.Current...)
	out = append(out, u.History...)
	sortNewestFirst(out)
	return out
}

// UpdateStatusCommand is an admin status change; at least one field must be set.
type UpdateStatusCommand struct {
	OrderID       string
	Status        *string
	PaymentStatus *string
}

// OrderSummary is the admin dashboard aggregate.
type OrderSummary struct {
	TotalOrders   int64
	StatusCounts  map[domain.OrderStatus]int64
	Revenue       decimal.Decimal
	TotalProducts int64
	TotalUsers    int64
	RecentOrders  []domain.Order
}

// ReportingServiceDeps bundles collaborators required to construct the reporting service.
type ReportingServiceDeps struct {
	Orders        repositories.OrderRepository
	Users         UserDirectory
	Products      ProductCatalog
	Events        OrderEventPublisher
	SummaryRecent int
	Clock         func() time.Time
	Logger        Logger
}

type reportingService struct {
	orders   repositories.OrderRepository
	users    UserDirectory
	products ProductCatalog
	events   eventEmitter
	recent   int
	clock    func() time.Time
	logger   Logger
}

var _ ReportingService = (*reportingService)(nil)

func NewReportingService(deps ReportingServiceDeps) (ReportingService, error) {
	if deps.Orders == nil {
		return nil, errors.New("reporting service: order repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = noopLogger
	}
	recent := deps.SummaryRecent
	if recent <= 0 {
		recent = defaultSummaryRecent
	}
	return &reportingService{
		orders:   deps.Orders,
		users:    deps.Users,
		products: deps.Products,
		events:   eventEmitter{publisher: deps.Events, logger: logger},
		recent:   recent,
		clock:    func() time.Time { return clock().UTC() },
		logger:   logger,
	}, nil
}

func (s *reportingService) ListOrders(ctx context.Context, query OrderListQuery) ([]domain.Order, error) {
	filter := repositories.OrderListFilter{Limit: query.Limit}
	if raw := strings.TrimSpace(query.Status); raw != "" && !strings.EqualFold(raw, "all") {
		status, err := domain.ParseOrderStatus(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, raw)
		}
		filter.Status = &status
	}
	orders, err := s.orders.List(ctx, filter)
	if err != nil {
		return nil, storeError("list orders", err)
	}
	return orders, nil
}

// UserOrders matches by account reference or by the account email, so guest orders placed with
// the same address show up too. Email matching is best-effort.
func (s *reportingService) UserOrders(ctx context.Context, userID string) (UserOrders, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" || s.users == nil {
		return UserOrders{}, ErrUserNotFound
	}
	account, err := s.users.FindByID(ctx, userID)
	if err != nil {
		if isRepoNotFound(err) {
			return UserOrders{}, fmt.Errorf("%w: %s", ErrUserNotFound, userID)
		}
		return UserOrders{}, storeError("load account", err)
	}
	if account.ID == "" {
		account.ID = userID
	}

	orders, err := s.orders.ListForCustomer(ctx, repositories.CustomerOrderFilter{
		UserRef: account.ID,
		Email:   normalizeEmail(account.Email),
	})
	if err != nil {
		return UserOrders{}, storeError("list customer orders", err)
	}

	out := UserOrders{Account: account, Current: []domain.Order{}, History: []domain.Order{}}
	for _, order := range orders {
		if order.Status.IsCurrent() {
			out.Current = append(out.Current, order)
		} else {
			out.History = append(out.History, order)
		}
	}
	return out, nil
}

func (s *reportingService) UpdateStatus(ctx context.Context, cmd UpdateStatusCommand) (domain.Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return domain.Order{}, fmt.Errorf("%w: order id required", ErrOrderNotFound)
	}
	if cmd.Status == nil && cmd.PaymentStatus == nil {
		return domain.Order{}, ErrStatusUpdateEmpty
	}

	change := repositories.OrderStatusChange{Now: s.clock()}
	if cmd.Status != nil {
		status, err := domain.ParseOrderStatus(*cmd.Status)
		if err != nil {
			return domain.Order{}, fmt.Errorf("%w: %q", ErrInvalidStatus, *cmd.Status)
		}
		change.Status = &status
		for _, from := range domain.OrderStatuses {
			if from.CanTransitionTo(status) {
				change.AllowedStatuses = append(change.AllowedStatuses, from)
			}
		}
	}
	if cmd.PaymentStatus != nil {
		status, err := domain.ParsePaymentStatus(*cmd.PaymentStatus)
		if err != nil {
			return domain.Order{}, fmt.Errorf("%w: %q", ErrInvalidPaymentStatus, *cmd.PaymentStatus)
		}
		change.PaymentStatus = &status
		for _, from := range domain.PaymentStatuses {
			if from.CanTransitionTo(status) {
				change.AllowedPaymentStatuses = append(change.AllowedPaymentStatuses, from)
			}
		}
	}

	order, err := s.orders.UpdateStatus(ctx, orderID, change)
	if err != nil {
		if isRepoConflict(err) {
			return domain.Order{}, fmt.Errorf("%w: %v", ErrStatusTransition, err)
		}
		return domain.Order{}, storeError("update status", err)
	}

	fields := map[string]any{"orderId": order.ID, "status": string(order.Status), "paymentStatus": string(order.PaymentStatus)}
	s.logger(ctx, "order.status.updated", fields)
	s.events.emit(ctx, OrderEventStatusUpdated, order, change.Now)
	return order, nil
}

func (s *reportingService) Summary(ctx context.Context) (OrderSummary, error) {
	stats, err := s.orders.Stats(ctx)
	if err != nil {
		return OrderSummary{}, storeError("order stats", err)
	}
	recent, err := s.orders.List(ctx, repositories.OrderListFilter{Limit: s.recent})
	if err != nil {
		return OrderSummary{}, storeError("recent orders", err)
	}

	summary := OrderSummary{
		TotalOrders:  stats.Total,
		StatusCounts: make(map[domain.OrderStatus]int64, len(domain.OrderStatuses)),
		Revenue:      stats.Revenue.Round(2),
		RecentOrders: recent,
	}
	for _, status := range domain.OrderStatuses {
		summary.StatusCounts[status] = stats.ByStatus[status]
	}
	if s.products != nil {
		if summary.TotalProducts, err = s.products.CountActive(ctx); err != nil {
			return OrderSummary{}, storeError("count products", err)
		}
	}
	if s.users != nil {
		if summary.TotalUsers, err = s.users.Count(ctx); err != nil {
			return OrderSummary{}, storeError("count users", err)
		}
	}
	return summary, nil
}

func sortNewestFirst(orders []domain.Order) {
	slices.SortStableFunc(orders, func(a, b domain.Order) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
}
