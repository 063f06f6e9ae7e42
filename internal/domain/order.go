package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var (
	// ErrUnknownOrderStatus is returned when a wire value is not a recognised order status.
	ErrUnknownOrderStatus = errors.New("domain: unknown order status")
	// ErrUnknownPaymentStatus is returned when a wire value is not a recognised payment status.
	ErrUnknownPaymentStatus = errors.New("domain: unknown payment status")
	// ErrUnknownPaymentMethod is returned when a wire value is not a recognised payment method.
	ErrUnknownPaymentMethod = errors.New("domain: unknown payment method")
)

// OrderStatus enumerates the fulfilment states of an order.
type OrderStatus string

const (
	// OrderStatusPlaced is assigned by the system when the order is created.
	OrderStatusPlaced OrderStatus = "placed"
	// OrderStatusProcessing indicates the order is being prepared.
	OrderStatusProcessing OrderStatus = "processing"
	// OrderStatusShipped indicates the order left the warehouse.
	OrderStatusShipped OrderStatus = "shipped"
	// OrderStatusDelivered is terminal.
	OrderStatusDelivered OrderStatus = "delivered"
	// OrderStatusCancelled is terminal.
	OrderStatusCancelled OrderStatus = "cancelled"
)

// orderStatusRank orders the forward workflow. Cancelled sits outside it.
var orderStatusRank = map[OrderStatus]int{
	OrderStatusPlaced:     1,
	OrderStatusProcessing: 2,
	OrderStatusShipped:    3,
	OrderStatusDelivered:  4,
}

// OrderStatuses lists every status in workflow order.
var OrderStatuses = []OrderStatus{
	OrderStatusPlaced,
	OrderStatusProcessing,
	OrderStatusShipped,
	OrderStatusDelivered,
	OrderStatusCancelled,
}

// ParseOrderStatus converts a wire value into an OrderStatus, rejecting unknown values.
func ParseOrderStatus(raw string) (OrderStatus, error) {
	status := OrderStatus(strings.ToLower(strings.TrimSpace(raw)))
	if status == OrderStatusCancelled {
		return status, nil
	}
	if _, ok := orderStatusRank[status]; ok {
		return status, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownOrderStatus, raw)
}

// IsTerminal reports whether no further status changes are allowed.
func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusDelivered || s == OrderStatusCancelled
}

// IsCurrent reports whether the order is still in flight from the buyer's point of view.
func (s OrderStatus) IsCurrent() bool {
	switch s {
	case OrderStatusPlaced, OrderStatusProcessing, OrderStatusShipped:
		return true
	default:
		return false
	}
}

// CanTransitionTo reports whether next is reachable from s. Re-applying the current
// status is allowed so repeated admin submissions stay harmless.
func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	if s == next {
		return true
	}
	if s.IsTerminal() {
		return false
	}
	if next == OrderStatusCancelled {
		return true
	}
	from, okFrom := orderStatusRank[s]
	to, okTo := orderStatusRank[next]
	return okFrom && okTo && to > from
}

// PaymentStatus tracks settlement independently of fulfilment.
type PaymentStatus string

const (
	PaymentStatusPending  PaymentStatus = "pending"
	PaymentStatusPaid     PaymentStatus = "paid"
	PaymentStatusFailed   PaymentStatus = "failed"
	PaymentStatusRefunded PaymentStatus = "refunded"
)

// PaymentStatuses lists every payment status.
var PaymentStatuses = []PaymentStatus{
	PaymentStatusPending,
	PaymentStatusPaid,
	PaymentStatusFailed,
	PaymentStatusRefunded,
}

var paymentTransitions = map[PaymentStatus][]PaymentStatus{
	PaymentStatusPending: {PaymentStatusPaid, PaymentStatusFailed},
	PaymentStatusPaid:    {PaymentStatusRefunded},
}

// ParsePaymentStatus converts a wire value into a PaymentStatus, rejecting unknown values.
func ParsePaymentStatus(raw string) (PaymentStatus, error) {
	status := PaymentStatus(strings.ToLower(strings.TrimSpace(raw)))
	switch status {
	case PaymentStatusPending, PaymentStatusPaid, PaymentStatusFailed, PaymentStatusRefunded:
		return status, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownPaymentStatus, raw)
}

// CanTransitionTo reports whether next is reachable from s.
func (s PaymentStatus) CanTransitionTo(next PaymentStatus) bool {
	if s == next {
		return true
	}
	for _, candidate := range paymentTransitions[s] {
		if candidate == next {
			return true
		}
	}
	return false
}

// PaymentMethod enumerates the payment rails accepted at checkout.
type PaymentMethod string

const (
	PaymentMethodCOD        PaymentMethod = "cod"
	PaymentMethodRazorpay   PaymentMethod = "razorpay"
	PaymentMethodUPI        PaymentMethod = "upi"
	PaymentMethodCard       PaymentMethod = "card"
	PaymentMethodNetbanking PaymentMethod = "netbanking"
	PaymentMethodStripe     PaymentMethod = "stripe"
)

// ParsePaymentMethod converts a wire value into a PaymentMethod, rejecting unknown values.
func ParsePaymentMethod(raw string) (PaymentMethod, error) {
	method := PaymentMethod(strings.ToLower(strings.TrimSpace(raw)))
	switch method {
	case PaymentMethodCOD, PaymentMethodRazorpay, PaymentMethodUPI,
		PaymentMethodCard, PaymentMethodNetbanking, PaymentMethodStripe:
		return method, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownPaymentMethod, raw)
}

// InitialPaymentStatus returns the payment status a freshly placed order starts in.
// None of the supported rails settle at placement time.
func (m PaymentMethod) InitialPaymentStatus() PaymentStatus {
	return PaymentStatusPending
}

// OrderItem is a line item snapshot taken at order time.
type OrderItem struct {
	ProductRef *string
	Name       string
	Image      string
	Price      decimal.Decimal
	Quantity   int
}

// LineTotal returns price × quantity without rounding.
func (i OrderItem) LineTotal() decimal.Decimal {
	return i.Price.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// Address is the delivery address copied onto the order.
type Address struct {
	FullName      string
	Phone         string
	StreetAddress string
	City          string
	State         string
	Pincode       string
}

// Customer is the contact snapshot copied onto the order.
type Customer struct {
	Name  string
	Email string
	Phone string
}

// Order is the persisted order record.
type Order struct {
	ID                    string
	OrderNumber           string
	UserRef               *string
	Items                 []OrderItem
	Amount                decimal.Decimal
	Status                OrderStatus
	PaymentMethod         PaymentMethod
	PaymentStatus         PaymentStatus
	PaidAt                *time.Time
	GatewaySessionRef     string
	GatewayTransactionRef string
	Address               Address
	Customer              Customer
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// Account is the subset of a registered user the order core reads.
type Account struct {
	ID    string
	Name  string
	Email string
}
