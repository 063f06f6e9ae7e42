package repositories

import (
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/naturevibes/api/internal/domain"
)

// Stored field names shared by every order store.
const (
	FieldOrderNumber     = "orderNumber"
	FieldUser            = "user"
	FieldAmount          = "amount"
	FieldStatus          = "status"
	FieldPaymentMethod   = "paymentMethod"
	FieldPaymentStatus   = "paymentStatus"
	FieldPaidAt          = "paidAt"
	FieldSessionRef      = "stripeSessionId"
	FieldTransactionRef  = "stripePaymentIntentId"
	FieldCustomerEmail   = "customer.email"
	FieldCreatedAt       = "createdAt"
	FieldUpdatedAt       = "updatedAt"
	FieldProductDeleted  = "isDeleted"
	FieldReservedOrderID = "orderId"
)

// OrderRecord is the persisted shape of an order. Amounts are stored as numbers so stores can
// aggregate them server-side.
type OrderRecord struct {
	OrderNumber           string            `firestore:"orderNumber" bson:"orderNumber"`
	User                  *string           `firestore:"user" bson:"user"`
	Items                 []OrderItemRecord `firestore:"items" bson:"items"`
	Amount                float64           `firestore:"amount" bson:"amount"`
	Status                string            `firestore:"status" bson:"status"`
	PaymentMethod         string            `firestore:"paymentMethod" bson:"paymentMethod"`
	PaymentStatus         string            `firestore:"paymentStatus" bson:"paymentStatus"`
	PaidAt                *time.Time        `firestore:"paidAt" bson:"paidAt"`
	StripeSessionID       string            `firestore:"stripeSessionId,omitempty" bson:"stripeSessionId,omitempty"`
	StripePaymentIntentID string            `firestore:"stripePaymentIntentId,omitempty" bson:"stripePaymentIntentId,omitempty"`
	Address               AddressRecord     `firestore:"address" bson:"address"`
	Customer              CustomerRecord    `firestore:"customer" bson:"customer"`
	CreatedAt             time.Time         `firestore:"createdAt" bson:"createdAt"`
	UpdatedAt             time.Time         `firestore:"updatedAt" bson:"updatedAt"`
}

type OrderItemRecord struct {
	Product  *string `firestore:"product" bson:"product"`
	Name     string  `firestore:"name" bson:"name"`
	Image    string  `firestore:"image" bson:"image"`
	Price    float64 `firestore:"price" bson:"price"`
	Quantity int64   `firestore:"quantity" bson:"quantity"`
}

type AddressRecord struct {
	FullName      string `firestore:"fullName" bson:"fullName"`
	Phone         string `firestore:"phone" bson:"phone"`
	StreetAddress string `firestore:"streetAddress" bson:"streetAddress"`
	City          string `firestore:"city" bson:"city"`
	State         string `firestore:"state" bson:"state"`
	Pincode       string `firestore:"pincode" bson:"pincode"`
}

type CustomerRecord struct {
	Name  string `firestore:"name" bson:"name"`
	Email string `firestore:"email" bson:"email"`
	Phone string `firestore:"phone" bson:"phone"`
}

// AccountRecord is the subset of a stored user document read by the order core.
type AccountRecord struct {
	Name  string `firestore:"name" bson:"name"`
	Email string `firestore:"email" bson:"email"`
}

// NewOrderRecord converts a domain order into its stored form.
func NewOrderRecord(order domain.Order) OrderRecord {
	items := make([]OrderItemRecord, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, OrderItemRecord{
			Product:  item.ProductRef,
			Name:     item.Name,
			Image:    item.Image,
			Price:    item.Price.InexactFloat64(),
			Quantity: int64(item.Quantity),
		})
	}
	return OrderRecord{
		OrderNumber:           order.OrderNumber,
		User:                  order.UserRef,
		Items:                 items,
		Amount:                order.Amount.Round(2).InexactFloat64(),
		Status:                string(order.Status),
		PaymentMethod:         string(order.PaymentMethod),
		PaymentStatus:         string(order.PaymentStatus),
		PaidAt:                utcPtr(order.PaidAt),
		StripeSessionID:       order.GatewaySessionRef,
		StripePaymentIntentID: order.GatewayTransactionRef,
		Address: AddressRecord{
			FullName:      order.Address.FullName,
			Phone:         order.Address.Phone,
			StreetAddress: order.Address.StreetAddress,
			City:          order.Address.City,
			State:         order.Address.State,
			Pincode:       order.Address.Pincode,
		},
		Customer: CustomerRecord{
			Name:  order.Customer.Name,
			Email: order.Customer.Email,
			Phone: order.Customer.Phone,
		},
		CreatedAt: order.CreatedAt.UTC(),
		UpdatedAt: order.UpdatedAt.UTC(),
	}
}

// Order converts the stored form back into a domain order.
func (r OrderRecord) Order(id string) domain.Order {
	items := make([]domain.OrderItem, 0, len(r.Items))
	for _, item := range r.Items {
		items = append(items, domain.OrderItem{
			ProductRef: item.Product,
			Name:       item.Name,
			Image:      item.Image,
			Price:      decimal.NewFromFloat(item.Price),
			Quantity:   int(item.Quantity),
		})
	}
	return domain.Order{
		ID:                    id,
		OrderNumber:           r.OrderNumber,
		UserRef:               r.User,
		Items:                 items,
		Amount:                decimal.NewFromFloat(r.Amount).Round(2),
		Status:                domain.OrderStatus(r.Status),
		PaymentMethod:         domain.PaymentMethod(r.PaymentMethod),
		PaymentStatus:         domain.PaymentStatus(r.PaymentStatus),
		PaidAt:                utcPtr(r.PaidAt),
		GatewaySessionRef:     r.StripeSessionID,
		GatewayTransactionRef: r.StripePaymentIntentID,
		Address: domain.Address{
			FullName:      r.Address.FullName,
			Phone:         r.Address.Phone,
			StreetAddress: r.Address.StreetAddress,
			City:          r.Address.City,
			State:         r.Address.State,
			Pincode:       r.Address.Pincode,
		},
		Customer: domain.Customer{
			Name:  r.Customer.Name,
			Email: r.Customer.Email,
			Phone: r.Customer.Phone,
		},
		CreatedAt: r.CreatedAt.UTC(),
		UpdatedAt: r.UpdatedAt.UTC(),
	}
}

// Account converts a stored user into the domain account.
func (r AccountRecord) Account(id string) domain.Account {
	return domain.Account{ID: id, Name: r.Name, Email: r.Email}
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil || t.IsZero() {
		return nil
	}
	v := t.UTC()
	return &v
}
