package services

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net/url"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"

	domain "github.com/naturevibes/api/internal/domain"
	"github.com/naturevibes/api/internal/payments"
	"github.com/naturevibes/api/internal/repositories"
)

const (
	orderNumberPrefix  = "NV"
	defaultFrontendURL = "http://localhost:5173"
	orderNumberTries   = 2
)

var (
	// ErrInvalidPaymentMethod signals a payment method outside the accepted set.
	ErrInvalidPaymentMethod = errors.New("order: invalid payment method")
	// ErrPaymentGateway signals the payment provider could not open a session. The order is kept.
	ErrPaymentGateway = errors.New("order: payment gateway error")
	// ErrOrderNotFound indicates the order could not be located.
	ErrOrderNotFound = errors.New("order: not found")
	// ErrOrderStoreUnavailable indicates the order store could not be reached.
	ErrOrderStoreUnavailable = errors.New("order: store unavailable")
	// ErrOrderNumberExhausted indicates every generated order number collided.
	ErrOrderNumberExhausted = errors.New("order: order number collision")
)

// PlaceOrderCommand is a checkout submission.
type PlaceOrderCommand struct {
	Cart          CartInput
	Contact       ContactInput
	PaymentMethod string
	// Origin is the storefront origin of the request; used for payment redirect URLs when no
	// frontend URL is configured.
	Origin string
	Locale string
}

// PaymentSessionResult is returned by StartPaymentSession. Order is populated whenever the order
// was persisted, including when the gateway call failed.
type PaymentSessionResult struct {
	Order       domain.Order
	SessionID   string
	RedirectURL string
}

// OrderServiceDeps bundles collaborators required to construct the order service.
type OrderServiceDeps struct {
	Orders          repositories.OrderRepository
	Users           UserDirectory
	Gateway         payments.Gateway
	Events          OrderEventPublisher
	AmountTolerance *decimal.Decimal
	FrontendURL     string
	Clock           func() time.Time
	IDGenerator     func() string
	OrderNumbers    func(time.Time) string
	Logger          Logger
}

type orderService struct {
	orders       repositories.OrderRepository
	normalizer   *CustomerNormalizer
	gateway      payments.Gateway
	events       eventEmitter
	tolerance    decimal.Decimal
	frontendURL  string
	clock        func() time.Time
	newID        func() string
	orderNumbers func(time.Time) string
	logger       Logger
}

var _ OrderService = (*orderService)(nil)

// NewOrderService wires dependencies into a concrete OrderService implementation.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Orders == nil {
		return nil, errors.New("order service: order repository is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	newID := deps.IDGenerator
	if newID == nil {
		newID = func() string { return ulid.Make().String() }
	}
	numbers := deps.OrderNumbers
	if numbers == nil {
		numbers = NewOrderNumber
	}
	tolerance := DefaultAmountTolerance
	if deps.AmountTolerance != nil {
		tolerance = *deps.AmountTolerance
	}
	logger := deps.Logger
	if logger == nil {
		logger = noopLogger
	}

	return &orderService{
		orders:       deps.Orders,
		normalizer:   NewCustomerNormalizer(deps.Users),
		gateway:      deps.Gateway,
		events:       eventEmitter{publisher: deps.Events, logger: logger},
		tolerance:    tolerance,
		frontendURL:  strings.TrimRight(strings.TrimSpace(deps.FrontendURL), "/"),
		clock:        func() time.Time { return clock().UTC() },
		newID:        newID,
		orderNumbers: numbers,
		logger:       logger,
	}, nil
}

// NewOrderNumber formats NV-<unix millis>-<1000..9999>.
func NewOrderNumber(now time.Time) string {
	return fmt.Sprintf("%s-%d-%d", orderNumberPrefix, now.UnixMilli(), 1000+rand.IntN(9000))
}

func (s *orderService) PlaceOrder(ctx context.Context, cmd PlaceOrderCommand) (domain.Order, error) {
	method := domain.PaymentMethodCOD
	if raw := strings.TrimSpace(cmd.PaymentMethod); raw != "" {
		parsed, err := domain.ParsePaymentMethod(raw)
		if err != nil {
			return domain.Order{}, fmt.Errorf("%w: %q", ErrInvalidPaymentMethod, raw)
		}
		method = parsed
	}

	order, err := s.buildOrder(ctx, cmd, method)
	if err != nil {
		return domain.Order{}, err
	}
	order, err = s.insert(ctx, order)
	if err != nil {
		return domain.Order{}, err
	}

	s.logger(ctx, "order.placed", map[string]any{
		"orderId":       order.ID,
		"orderNumber":   order.OrderNumber,
		"paymentMethod": string(order.PaymentMethod),
		"amount":        order.Amount.StringFixed(2),
	})
	s.events.emit(ctx, OrderEventPlaced, order, order.CreatedAt)
	return order, nil
}

// StartPaymentSession persists the order before asking the gateway for a session so the webhook
// always has an order to land on.
func (s *orderService) StartPaymentSession(ctx context.Context, cmd PlaceOrderCommand) (PaymentSessionResult, error) {
	if s.gateway == nil {
		return PaymentSessionResult{}, fmt.Errorf("%w: %v", ErrPaymentGateway, payments.ErrGatewayNotConfigured)
	}

	order, err := s.buildOrder(ctx, cmd, domain.PaymentMethodStripe)
	if err != nil {
		return PaymentSessionResult{}, err
	}
	order, err = s.insert(ctx, order)
	if err != nil {
		return PaymentSessionResult{}, err
	}
	s.events.emit(ctx, OrderEventPlaced, order, order.CreatedAt)

	base := s.redirectBase(cmd.Origin)
	session, err := s.gateway.CreateCheckoutSession(ctx, payments.CheckoutRequest{
		OrderID:       order.ID,
		OrderNumber:   order.OrderNumber,
		Items:         order.Items,
		CustomerEmail: order.Customer.Email,
		SuccessURL:    fmt.Sprintf("%s/success?orderId=%s&session_id={CHECKOUT_SESSION_ID}", base, url.QueryEscape(order.ID)),
		CancelURL:     fmt.Sprintf("%s/checkout?payment=cancelled&orderId=%s", base, url.QueryEscape(order.ID)),
		Locale:        cmd.Locale,
	})
	if err != nil {
		s.logger(ctx, "order.payment_session.failed", map[string]any{
			"orderId":     order.ID,
			"orderNumber": order.OrderNumber,
			"error":       err.Error(),
		})
		return PaymentSessionResult{Order: order}, fmt.Errorf("%w: %v", ErrPaymentGateway, err)
	}

	now := s.clock()
	if err := s.orders.SetSessionRef(ctx, order.ID, session.ID, now); err != nil {
		// Reconciliation resolves by the orderId metadata first, so the buyer can still pay.
		s.logger(ctx, "order.payment_session.store.failed", map[string]any{
			"orderId":   order.ID,
			"sessionId": session.ID,
			"error":     err.Error(),
		})
	} else {
		order.GatewaySessionRef = session.ID
		order.UpdatedAt = now
	}

	s.logger(ctx, "order.payment_session.created", map[string]any{
		"orderId":   order.ID,
		"sessionId": session.ID,
	})
	s.events.emit(ctx, OrderEventPaymentSessionCreated, order, now)

	return PaymentSessionResult{Order: order, SessionID: session.ID, RedirectURL: session.RedirectURL}, nil
}

func (s *orderService) buildOrder(ctx context.Context, cmd PlaceOrderCommand, method domain.PaymentMethod) (domain.Order, error) {
	cart, err := ValidateCart(cmd.Cart, s.tolerance)
	if err != nil {
		return domain.Order{}, err
	}
	contact, err := s.normalizer.Normalize(ctx, cmd.Contact)
	if err != nil {
		return domain.Order{}, err
	}
	if cart.Dropped > 0 {
		s.logger(ctx, "order.cart.items_dropped", map[string]any{"dropped": cart.Dropped})
	}

	now := s.clock()
	return domain.Order{
		ID:            s.newID(),
		UserRef:       contact.UserRef,
		Items:         cart.Items,
		Amount:        cart.Amount,
		Status:        domain.OrderStatusPlaced,
		PaymentMethod: method,
		PaymentStatus: method.InitialPaymentStatus(),
		Address:       contact.Address,
		Customer:      contact.Customer,
		CreatedAt:     now,
		UpdatedAt:     now,
	}, nil
}

// insert assigns an order number and stores the order, regenerating the number once when the
// store reports it taken.
func (s *orderService) insert(ctx context.Context, order domain.Order) (domain.Order, error) {
	var lastErr error
	for attempt := 0; attempt < orderNumberTries; attempt++ {
		order.OrderNumber = s.orderNumbers(s.clock())
		err := s.orders.Insert(ctx, order)
		if err == nil {
			return order, nil
		}
		if !isRepoConflict(err) {
			return domain.Order{}, storeError("insert order", err)
		}
		lastErr = err
		s.logger(ctx, "order.number.collision", map[string]any{"orderNumber": order.OrderNumber})
	}
	return domain.Order{}, fmt.Errorf("%w: %v", ErrOrderNumberExhausted, lastErr)
}

func (s *orderService) redirectBase(origin string) string {
	if s.frontendURL != "" {
		return s.frontendURL
	}
	if origin = strings.TrimRight(strings.TrimSpace(origin), "/"); origin != "" {
		return origin
	}
	return defaultFrontendURL
}

// storeError maps repository failures onto service sentinels.
func storeError(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case isRepoNotFound(err):
		return fmt.Errorf("%w: %v", ErrOrderNotFound, err)
	case isRepoUnavailable(err):
		return fmt.Errorf("%w: %s: %v", ErrOrderStoreUnavailable, op, err)
	default:
		return fmt.Errorf("order: %s: %w", op, err)
	}
}
