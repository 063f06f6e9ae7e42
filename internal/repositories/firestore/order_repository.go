package firestore

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/shopspring/decimal"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/naturevibes/api/internal/domain"
	pfirestore "github.com/naturevibes/api/internal/platform/firestore"
	"github.com/naturevibes/api/internal/repositories"
)

const (
	ordersCollection       = "orders"
	orderNumbersCollection = "orderNumbers"
)

// orderNumberReservation claims a human-readable order number. Creating it in the same
// transaction as the order keeps numbers unique without a composite index.
type orderNumberReservation struct {
	OrderID   string    `firestore:"orderId"`
	CreatedAt time.Time `firestore:"createdAt"`
}

// OrderRepository stores orders in the "orders" collection.
type OrderRepository struct {
	provider *pfirestore.Provider
	orders   *pfirestore.Collection[repositories.OrderRecord]
	numbers  *pfirestore.Collection[orderNumberReservation]
}

// NewOrderRepository constructs an order repository backed by Firestore.
func NewOrderRepository(provider *pfirestore.Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository: firestore provider is required")
	}
	return &OrderRepository{
		provider: provider,
		orders:   pfirestore.NewCollection[repositories.OrderRecord](provider, ordersCollection),
		numbers:  pfirestore.NewCollection[orderNumberReservation](provider, orderNumbersCollection),
	}, nil
}

// Insert stores the order and reserves its number atomically.
func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) error {
	orderRef, err := r.orders.Doc(ctx, order.ID)
	if err != nil {
		return err
	}
	numberRef, err := r.numbers.Doc(ctx, order.OrderNumber)
	if err != nil {
		return err
	}
	record := repositories.NewOrderRecord(order)

	return r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		if _, err := tx.Get(numberRef); err == nil {
			return pfirestore.Conflict("orders.insert", fmt.Sprintf("order number %s already taken", order.OrderNumber))
		} else if status.Code(err) != codes.NotFound {
			return pfirestore.WrapError("orders.insert.reservation", err)
		}
		if err := tx.Create(numberRef, orderNumberReservation{OrderID: order.ID, CreatedAt: order.CreatedAt.UTC()}); err != nil {
			return pfirestore.WrapError("orders.insert.reservation", err)
		}
		if err := tx.Create(orderRef, record); err != nil {
			return pfirestore.WrapError("orders.insert", err)
		}
		return nil
	}, pfirestore.WithTxOp("orders.insert"))
}

func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	doc, err := r.orders.Get(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	return doc.Data.Order(doc.ID), nil
}

// SetSessionRef records the checkout session created for the order.
func (r *OrderRepository) SetSessionRef(ctx context.Context, orderID, sessionRef string, now time.Time) error {
	ref, err := r.orders.Doc(ctx, orderID)
	if err != nil {
		return err
	}
	_, err = ref.Update(ctx, []firestore.Update{
		{Path: repositories.FieldSessionRef, Value: sessionRef},
		{Path: repositories.FieldUpdatedAt, Value: now.UTC()},
	})
	return pfirestore.WrapError("orders.setSessionRef", err)
}

// MarkPaid settles the located order. Refunded orders are left untouched and an existing
// paidAt is never overwritten.
func (r *OrderRepository) MarkPaid(ctx context.Context, locator repositories.OrderLocator, settlement repositories.PaymentSettlement) (domain.Order, bool, error) {
	var (
		result  domain.Order
		changed bool
	)
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref, order, err := r.locate(ctx, tx, locator)
		if err != nil {
			return err
		}
		changed = false
		if order.PaymentStatus == domain.PaymentStatusRefunded {
			result = order
			return nil
		}

		paidAt := settlement.PaidAt.UTC()
		updates := []firestore.Update{
			{Path: repositories.FieldPaymentStatus, Value: string(domain.PaymentStatusPaid)},
			{Path: repositories.FieldPaymentMethod, Value: string(settlement.Method)},
			{Path: repositories.FieldUpdatedAt, Value: paidAt},
		}
		changed = order.PaymentStatus != domain.PaymentStatusPaid
		order.PaymentStatus = domain.PaymentStatusPaid
		order.PaymentMethod = settlement.Method
		order.UpdatedAt = paidAt
		if order.PaidAt == nil {
			updates = append(updates, firestore.Update{Path: repositories.FieldPaidAt, Value: paidAt})
			order.PaidAt = &paidAt
		}
		if settlement.SessionRef != "" {
			updates = append(updates, firestore.Update{Path: repositories.FieldSessionRef, Value: settlement.SessionRef})
			order.GatewaySessionRef = settlement.SessionRef
		}
		if settlement.TransactionRef != "" {
			updates = append(updates, firestore.Update{Path: repositories.FieldTransactionRef, Value: settlement.TransactionRef})
			order.GatewayTransactionRef = settlement.TransactionRef
		}
		if err := tx.Update(ref, updates); err != nil {
			return pfirestore.WrapError("orders.markPaid", err)
		}
		result = order
		return nil
	}, pfirestore.WithTxOp("orders.markPaid"))
	if err != nil {
		return domain.Order{}, false, err
	}
	return result, changed, nil
}

// MarkPaymentFailed flips a pending order to failed. Any other payment status is left alone.
func (r *OrderRepository) MarkPaymentFailed(ctx context.Context, locator repositories.OrderLocator, now time.Time) (domain.Order, bool, error) {
	var (
		result  domain.Order
		changed bool
	)
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref, order, err := r.locate(ctx, tx, locator)
		if err != nil {
			return err
		}
		result, changed = order, false
		if order.PaymentStatus != domain.PaymentStatusPending {
			return nil
		}
		now := now.UTC()
		if err := tx.Update(ref, []firestore.Update{
			{Path: repositories.FieldPaymentStatus, Value: string(domain.PaymentStatusFailed)},
			{Path: repositories.FieldUpdatedAt, Value: now},
		}); err != nil {
			return pfirestore.WrapError("orders.markPaymentFailed", err)
		}
		order.PaymentStatus = domain.PaymentStatusFailed
		order.UpdatedAt = now
		result, changed = order, true
		return nil
	}, pfirestore.WithTxOp("orders.markPaymentFailed"))
	if err != nil {
		return domain.Order{}, false, err
	}
	return result, changed, nil
}

// UpdateStatus applies a guarded admin change.
func (r *OrderRepository) UpdateStatus(ctx context.Context, orderID string, change repositories.OrderStatusChange) (domain.Order, error) {
	var result domain.Order
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref, order, err := r.locate(ctx, tx, repositories.OrderLocator{OrderID: orderID})
		if err != nil {
			return err
		}
		if change.Status != nil && !slices.Contains(change.AllowedStatuses, order.Status) {
			return pfirestore.Conflict("orders.updateStatus", fmt.Sprintf("status %s cannot change to %s", order.Status, *change.Status))
		}
		if change.PaymentStatus != nil && !slices.Contains(change.AllowedPaymentStatuses, order.PaymentStatus) {
			return pfirestore.Conflict("orders.updateStatus", fmt.Sprintf("payment status %s cannot change to %s", order.PaymentStatus, *change.PaymentStatus))
		}

		now := change.Now.UTC()
		updates := []firestore.Update{{Path: repositories.FieldUpdatedAt, Value: now}}
		if change.Status != nil {
			updates = append(updates, firestore.Update{Path: repositories.FieldStatus, Value: string(*change.Status)})
			order.Status = *change.Status
		}
		if change.PaymentStatus != nil {
			updates = append(updates, firestore.Update{Path: repositories.FieldPaymentStatus, Value: string(*change.PaymentStatus)})
			order.PaymentStatus = *change.PaymentStatus
			if order.PaymentStatus == domain.PaymentStatusPaid && order.PaidAt == nil {
				updates = append(updates, firestore.Update{Path: repositories.FieldPaidAt, Value: now})
				order.PaidAt = &now
			}
		}
		if err := tx.Update(ref, updates); err != nil {
			return pfirestore.WrapError("orders.updateStatus", err)
		}
		order.UpdatedAt = now
		result = order
		return nil
	}, pfirestore.WithTxOp("orders.updateStatus"))
	if err != nil {
		return domain.Order{}, err
	}
	return result, nil
}

// List returns orders newest first, optionally narrowed to one status.
func (r *OrderRepository) List(ctx context.Context, filter repositories.OrderListFilter) ([]domain.Order, error) {
	docs, err := r.orders.Query(ctx, func(q firestore.Query) firestore.Query {
		if filter.Status != nil {
			q = q.Where(repositories.FieldStatus, "==", string(*filter.Status))
		}
		q = q.OrderBy(repositories.FieldCreatedAt, firestore.Desc)
		if filter.Limit > 0 {
			q = q.Limit(filter.Limit)
		}
		return q
	})
	if err != nil {
		return nil, err
	}
	return toOrders(docs), nil
}

// ListForCustomer returns orders linked to the account or placed with its email.
func (r *OrderRepository) ListForCustomer(ctx context.Context, filter repositories.CustomerOrderFilter) ([]domain.Order, error) {
	var filters []firestore.EntityFilter
	if ref := strings.TrimSpace(filter.UserRef); ref != "" {
		filters = append(filters, firestore.PropertyFilter{Path: repositories.FieldUser, Operator: "==", Value: ref})
	}
	if email := strings.ToLower(strings.TrimSpace(filter.Email)); email != "" {
		filters = append(filters, firestore.PropertyFilter{Path: repositories.FieldCustomerEmail, Operator: "==", Value: email})
	}
	if len(filters) == 0 {
		return nil, nil
	}

	docs, err := r.orders.Query(ctx, func(q firestore.Query) firestore.Query {
		if len(filters) == 1 {
			q = q.WhereEntity(filters[0])
		} else {
			q = q.WhereEntity(firestore.OrFilter{Filters: filters})
		}
		return q.OrderBy(repositories.FieldCreatedAt, firestore.Desc)
	})
	if err != nil {
		return nil, err
	}
	return toOrders(docs), nil
}

// Stats aggregates counts and revenue server-side. Cancelled orders carry no revenue.
func (r *OrderRepository) Stats(ctx context.Context) (repositories.OrderStats, error) {
	stats := repositories.OrderStats{ByStatus: make(map[domain.OrderStatus]int64, len(domain.OrderStatuses))}

	total, err := r.orders.Count(ctx, nil)
	if err != nil {
		return repositories.OrderStats{}, err
	}
	stats.Total = total

	for _, st := range domain.OrderStatuses {
		value := string(st)
		count, err := r.orders.Count(ctx, func(q firestore.Query) firestore.Query {
			return q.Where(repositories.FieldStatus, "==", value)
		})
		if err != nil {
			return repositories.OrderStats{}, err
		}
		stats.ByStatus[st] = count
	}

	revenue, err := r.orders.Sum(ctx, repositories.FieldAmount, func(q firestore.Query) firestore.Query {
		return q.Where(repositories.FieldStatus, "!=", string(domain.OrderStatusCancelled))
	})
	if err != nil {
		return repositories.OrderStats{}, err
	}
	stats.Revenue = decimal.NewFromFloat(revenue).Round(2)
	return stats, nil
}

// locate resolves the locator inside tx. An order id that does not exist is not-found even when
// a session ref is also supplied.
func (r *OrderRepository) locate(ctx context.Context, tx *firestore.Transaction, locator repositories.OrderLocator) (*firestore.DocumentRef, domain.Order, error) {
	if id := strings.TrimSpace(locator.OrderID); id != "" {
		ref, err := r.orders.Doc(ctx, id)
		if err != nil {
			return nil, domain.Order{}, err
		}
		snap, err := tx.Get(ref)
		if err != nil {
			return nil, domain.Order{}, pfirestore.WrapError("orders.locate", err)
		}
		return decodeOrder(snap)
	}

	sessionRef := strings.TrimSpace(locator.SessionRef)
	if sessionRef == "" {
		return nil, domain.Order{}, pfirestore.NotFound("orders.locate", "order locator is empty")
	}
	col, err := r.orders.Ref(ctx)
	if err != nil {
		return nil, domain.Order{}, err
	}
	iter := tx.Documents(col.Where(repositories.FieldSessionRef, "==", sessionRef).Limit(1))
	defer iter.Stop()
	snap, err := iter.Next()
	if errors.Is(err, iterator.Done) {
		return nil, domain.Order{}, pfirestore.NotFound("orders.locate", fmt.Sprintf("no order for session %s", sessionRef))
	}
	if err != nil {
		return nil, domain.Order{}, pfirestore.WrapError("orders.locate", err)
	}
	return decodeOrder(snap)
}

func decodeOrder(snap *firestore.DocumentSnapshot) (*firestore.DocumentRef, domain.Order, error) {
	doc, err := pfirestore.Decode[repositories.OrderRecord](snap)
	if err != nil {
		return nil, domain.Order{}, fmt.Errorf("orders: decode %s: %w", snap.Ref.ID, err)
	}
	return snap.Ref, doc.Data.Order(doc.ID), nil
}

func toOrders(docs []pfirestore.Document[repositories.OrderRecord]) []domain.Order {
	out := make([]domain.Order, 0, len(docs))
	for _, doc := range docs {
		out = append(out, doc.Data.Order(doc.ID))
	}
	return out
}
