package services

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/naturevibes/api/internal/domain"
	"github.com/naturevibes/api/internal/payments"
	"github.com/naturevibes/api/internal/repositories"
)

type repoError struct {
	notFound    bool
	conflict    bool
	unavailable bool
	msg         string
}

func (e *repoError) Error() string       { return e.msg }
func (e *repoError) IsNotFound() bool    { return e.notFound }
func (e *repoError) IsConflict() bool    { return e.conflict }
func (e *repoError) IsUnavailable() bool { return e.unavailable }

func notFoundErr(msg string) error    { return &repoError{notFound: true, msg: msg} }
func conflictErr(msg string) error    { return &repoError{conflict: true, msg: msg} }
func unavailableErr(msg string) error { return &repoError{unavailable: true, msg: msg} }

// memoryOrderRepo applies the same conditional-write rules as the real stores.
type memoryOrderRepo struct {
	mu         sync.Mutex
	orders     map[string]domain.Order
	numbers    map[string]bool
	writes     int
	lookups    int
	insertErrs []error
	failAll    error
}

var _ repositories.OrderRepository = (*memoryOrderRepo)(nil)

func newMemoryOrderRepo(seed ...domain.Order) *memoryOrderRepo {
	repo := &memoryOrderRepo{orders: map[string]domain.Order{}, numbers: map[string]bool{}}
	for _, order := range seed {
		repo.orders[order.ID] = order
		repo.numbers[order.OrderNumber] = true
	}
	return repo
}

func (r *memoryOrderRepo) get(id string) domain.Order {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.orders[id]
}

func (r *memoryOrderRepo) writeCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.writes
}

func (r *memoryOrderRepo) Insert(_ context.Context, order domain.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failAll != nil {
		return r.failAll
	}
	if len(r.insertErrs) > 0 {
		err := r.insertErrs[0]
		r.insertErrs = r.insertErrs[1:]
		if err != nil {
			return err
		}
	}
	if r.numbers[order.OrderNumber] {
		return conflictErr("order number taken")
	}
	if _, exists := r.orders[order.ID]; exists {
		return conflictErr("order exists")
	}
	r.orders[order.ID] = order
	r.numbers[order.OrderNumber] = true
	r.writes++
	return nil
}

func (r *memoryOrderRepo) FindByID(_ context.Context, orderID string) (domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	order, ok := r.orders[orderID]
	if !ok {
		return domain.Order{}, notFoundErr("order not found")
	}
	return order, nil
}

func (r *memoryOrderRepo) SetSessionRef(_ context.Context, orderID, sessionRef string, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	order, ok := r.orders[orderID]
	if !ok {
		return notFoundErr("order not found")
	}
	order.GatewaySessionRef = sessionRef
	order.UpdatedAt = now
	r.orders[orderID] = order
	r.writes++
	return nil
}

func (r *memoryOrderRepo) locate(locator repositories.OrderLocator) (domain.Order, error) {
	r.lookups++
	if locator.OrderID != "" {
		order, ok := r.orders[locator.OrderID]
		if !ok {
			return domain.Order{}, notFoundErr("order not found")
		}
		return order, nil
	}
	for _, order := range r.orders {
		if locator.SessionRef != "" && order.GatewaySessionRef == locator.SessionRef {
			return order, nil
		}
	}
	return domain.Order{}, notFoundErr("order not found")
}

func (r *memoryOrderRepo) MarkPaid(_ context.Context, locator repositories.OrderLocator, settlement repositories.PaymentSettlement) (domain.Order, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failAll != nil {
		return domain.Order{}, false, r.failAll
	}
	order, err := r.locate(locator)
	if err != nil {
		return domain.Order{}, false, err
	}
	if order.PaymentStatus == domain.PaymentStatusRefunded {
		return order, false, nil
	}
	changed := order.PaymentStatus != domain.PaymentStatusPaid
	order.PaymentStatus = domain.PaymentStatusPaid
	order.PaymentMethod = settlement.Method
	if order.PaidAt == nil {
		paidAt := settlement.PaidAt
		order.PaidAt = &paidAt
	}
	if settlement.SessionRef != "" {
		order.GatewaySessionRef = settlement.SessionRef
	}
	if settlement.TransactionRef != "" {
		order.GatewayTransactionRef = settlement.TransactionRef
	}
	order.UpdatedAt = settlement.PaidAt
	r.orders[order.ID] = order
	r.writes++
	return order, changed, nil
}

func (r *memoryOrderRepo) MarkPaymentFailed(_ context.Context, locator repositories.OrderLocator, now time.Time) (domain.Order, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failAll != nil {
		return domain.Order{}, false, r.failAll
	}
	order, err := r.locate(locator)
	if err != nil {
		return domain.Order{}, false, err
	}
	if order.PaymentStatus != domain.PaymentStatusPending {
		return order, false, nil
	}
	order.PaymentStatus = domain.PaymentStatusFailed
	order.UpdatedAt = now
	r.orders[order.ID] = order
	r.writes++
	return order, true, nil
}

func (r *memoryOrderRepo) UpdateStatus(_ context.Context, orderID string, change repositories.OrderStatusChange) (domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	order, ok := r.orders[orderID]
	if !ok {
		return domain.Order{}, notFoundErr("order not found")
	}
	if change.Status != nil && !slices.Contains(change.AllowedStatuses, order.Status) {
		return domain.Order{}, conflictErr("status guard failed")
	}
	if change.PaymentStatus != nil && !slices.Contains(change.AllowedPaymentStatuses, order.PaymentStatus) {
		return domain.Order{}, conflictErr("payment status guard failed")
	}
	if change.Status != nil {
		order.Status = *change.Status
	}
	if change.PaymentStatus != nil {
		order.PaymentStatus = *change.PaymentStatus
		if *change.PaymentStatus == domain.PaymentStatusPaid && order.PaidAt == nil {
			paidAt := change.Now
			order.PaidAt = &paidAt
		}
	}
	order.UpdatedAt = change.Now
	r.orders[orderID] = order
	r.writes++
	return order, nil
}

func (r *memoryOrderRepo) sorted(keep func(domain.Order) bool) []domain.Order {
	out := make([]domain.Order, 0, len(r.orders))
	for _, order := range r.orders {
		if keep(order) {
			out = append(out, order)
		}
	}
	sortNewestFirst(out)
	return out
}

func (r *memoryOrderRepo) List(_ context.Context, filter repositories.OrderListFilter) ([]domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failAll != nil {
		return nil, r.failAll
	}
	out := r.sorted(func(o domain.Order) bool { return filter.Status == nil || o.Status == *filter.Status })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (r *memoryOrderRepo) ListForCustomer(_ context.Context, filter repositories.CustomerOrderFilter) ([]domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sorted(func(o domain.Order) bool {
		if filter.UserRef != "" && o.UserRef != nil && *o.UserRef == filter.UserRef {
			return true
		}
		return filter.Email != "" && strings.EqualFold(o.Customer.Email, filter.Email)
	}), nil
}

func (r *memoryOrderRepo) Stats(_ context.Context) (repositories.OrderStats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	stats := repositories.OrderStats{ByStatus: map[domain.OrderStatus]int64{}, Revenue: decimal.Zero}
	for _, order := range r.orders {
		stats.Total++
		stats.ByStatus[order.Status]++
		if order.Status != domain.OrderStatusCancelled {
			stats.Revenue = stats.Revenue.Add(order.Amount)
		}
	}
	return stats, nil
}

type stubUsers struct {
	accounts map[string]domain.Account
	err      error
	calls    int
}

func (s *stubUsers) FindByID(_ context.Context, userID string) (domain.Account, error) {
	s.calls++
	if s.err != nil {
		return domain.Account{}, s.err
	}
	account, ok := s.accounts[userID]
	if !ok {
		return domain.Account{}, notFoundErr("user not found")
	}
	return account, nil
}

func (s *stubUsers) Count(context.Context) (int64, error) {
	return int64(len(s.accounts)), s.err
}

type stubProducts struct{ count int64 }

func (s stubProducts) CountActive(context.Context) (int64, error) { return s.count, nil }

type fakeGateway struct {
	requests []payments.CheckoutRequest
	session  payments.CheckoutSession
	err      error
}

func (g *fakeGateway) CreateCheckoutSession(_ context.Context, req payments.CheckoutRequest) (payments.CheckoutSession, error) {
	g.requests = append(g.requests, req)
	if g.err != nil {
		return payments.CheckoutSession{}, g.err
	}
	return g.session, nil
}

func (g *fakeGateway) VerifyWebhook([]byte, string) (payments.WebhookEvent, error) {
	return payments.WebhookEvent{}, errors.New("not used")
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []OrderEvent
	err    error
}

func (p *recordingPublisher) PublishOrderEvent(_ context.Context, event OrderEvent) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	if p.err != nil {
		return "", p.err
	}
	return fmt.Sprintf("msg-%d", len(p.events)), nil
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

func dec(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

func strPtr(s string) *string { return &s }

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func validContact() ContactInput {
	return ContactInput{
		Address: AddressInput{
			FullName:      "Asha Rao",
			Phone:         "9876543210",
			StreetAddress: "12 Garden Lane",
			City:          "Pune",
			State:         "MH",
			Pincode:       "411001",
		},
		Customer: CustomerInput{Name: "Asha Rao", Email: "Asha@Example.com", Phone: "9876543210"},
	}
}

func monsteraCart(total string) CartInput {
	in := CartInput{Items: []CartItemInput{{Name: "Monstera", Price: dec("1299"), Quantity: dec("2")}}}
	if total != "" {
		in.ClientTotal = dec(total)
	}
	return in
}

func seedOrder(id string, status domain.OrderStatus, payment domain.PaymentStatus, created time.Time) domain.Order {
	return domain.Order{
		ID:            id,
		OrderNumber:   "NV-" + id,
		Items:         []domain.OrderItem{{Name: "Fern", Price: decimal.NewFromInt(100), Quantity: 1}},
		Amount:        decimal.NewFromInt(100),
		Status:        status,
		PaymentMethod: domain.PaymentMethodCOD,
		PaymentStatus: payment,
		Customer:      domain.Customer{Name: "Guest", Email: "guest@example.com"},
		CreatedAt:     created,
		UpdatedAt:     created,
	}
}
