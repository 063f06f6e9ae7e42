package mongo

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	domain "github.com/naturevibes/api/internal/domain"
	"github.com/naturevibes/api/internal/repositories"
)

// orderDocument adds the primary key to the shared record.
type orderDocument struct {
	ID                       string `bson:"_id"`
	repositories.OrderRecord `bson:",inline"`
}

func (d orderDocument) order() domain.Order { return d.OrderRecord.Order(d.ID) }

// OrderRepository stores orders in the "orders" collection. Every mutation is one
// FindOneAndUpdate whose filter carries the state guard.
type OrderRepository struct {
	orders *mongo.Collection
}

func NewOrderRepository(store *Store) (*OrderRepository, error) {
	if store == nil {
		return nil, errors.New("order repository requires mongo store")
	}
	return &OrderRepository{orders: store.collection(ordersCollection)}, nil
}

// Insert stores the order. The unique orderNumber index reports a taken number as a conflict.
func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) error {
	if strings.TrimSpace(order.ID) == "" {
		return errors.New("orders.insert: order id is required")
	}
	_, err := r.orders.InsertOne(ctx, orderDocument{ID: order.ID, OrderRecord: repositories.NewOrderRecord(order)})
	return wrapError("orders.insert", err)
}

func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	return r.findOne(ctx, "orders.get", bson.D{{Key: "_id", Value: orderID}})
}

func (r *OrderRepository) SetSessionRef(ctx context.Context, orderID, sessionRef string, now time.Time) error {
	res, err := r.orders.UpdateOne(ctx, bson.D{{Key: "_id", Value: orderID}}, bson.D{{Key: "$set", Value: bson.D{
		{Key: repositories.FieldSessionRef, Value: sessionRef},
		{Key: repositories.FieldUpdatedAt, Value: now.UTC()},
	}}})
	if err != nil {
		return wrapError("orders.setSessionRef", err)
	}
	if res.MatchedCount == 0 {
		return notFound("orders.setSessionRef", "order not found")
	}
	return nil
}

// MarkPaid moves the located order into paid unless it was refunded. paidAt is only filled
// when absent.
func (r *OrderRepository) MarkPaid(ctx context.Context, locator repositories.OrderLocator, settlement repositories.PaymentSettlement) (domain.Order, bool, error) {
	filter, err := locatorFilter(locator)
	if err != nil {
		return domain.Order{}, false, err
	}
	guarded := append(append(bson.D{}, filter...), bson.E{Key: repositories.FieldPaymentStatus, Value: bson.D{{Key: "$ne", Value: string(domain.PaymentStatusRefunded)}}})

	var before orderDocument
	err = r.orders.FindOneAndUpdate(ctx, guarded, markPaidPipeline(settlement),
		options.FindOneAndUpdate().SetReturnDocument(options.Before)).Decode(&before)
	if errors.Is(err, mongo.ErrNoDocuments) {
		// Either missing or refunded; only the latter is a no-op.
		order, findErr := r.findOne(ctx, "orders.markPaid", filter)
		return order, false, findErr
	}
	if err != nil {
		return domain.Order{}, false, wrapError("orders.markPaid", err)
	}

	order := before.order()
	changed := order.PaymentStatus != domain.PaymentStatusPaid
	paidAt := settlement.PaidAt.UTC()
	order.PaymentStatus = domain.PaymentStatusPaid
	order.PaymentMethod = settlement.Method
	order.UpdatedAt = paidAt
	if order.PaidAt == nil {
		order.PaidAt = &paidAt
	}
	if settlement.SessionRef != "" {
		order.GatewaySessionRef = settlement.SessionRef
	}
	if settlement.TransactionRef != "" {
		order.GatewayTransactionRef = settlement.TransactionRef
	}
	return order, changed, nil
}

// MarkPaymentFailed flips a pending order to failed.
func (r *OrderRepository) MarkPaymentFailed(ctx context.Context, locator repositories.OrderLocator, now time.Time) (domain.Order, bool, error) {
	filter, err := locatorFilter(locator)
	if err != nil {
		return domain.Order{}, false, err
	}
	guarded := append(append(bson.D{}, filter...), bson.E{Key: repositories.FieldPaymentStatus, Value: string(domain.PaymentStatusPending)})
	update := bson.D{{Key: "$set", Value: bson.D{
		{Key: repositories.FieldPaymentStatus, Value: string(domain.PaymentStatusFailed)},
		{Key: repositories.FieldUpdatedAt, Value: now.UTC()},
	}}}

	var after orderDocument
	err = r.orders.FindOneAndUpdate(ctx, guarded, update,
		options.FindOneAndUpdate().SetReturnDocument(options.After)).Decode(&after)
	if errors.Is(err, mongo.ErrNoDocuments) {
		order, findErr := r.findOne(ctx, "orders.markPaymentFailed", filter)
		return order, false, findErr
	}
	if err != nil {
		return domain.Order{}, false, wrapError("orders.markPaymentFailed", err)
	}
	return after.order(), true, nil
}

// UpdateStatus applies a guarded admin change. A missed guard on an existing order is a conflict.
func (r *OrderRepository) UpdateStatus(ctx context.Context, orderID string, change repositories.OrderStatusChange) (domain.Order, error) {
	byID := bson.D{{Key: "_id", Value: orderID}}
	guarded := append(bson.D{}, byID...)
	if change.Status != nil {
		guarded = append(guarded, bson.E{Key: repositories.FieldStatus, Value: bson.D{{Key: "$in", Value: stringsOf(change.AllowedStatuses)}}})
	}
	if change.PaymentStatus != nil {
		guarded = append(guarded, bson.E{Key: repositories.FieldPaymentStatus, Value: bson.D{{Key: "$in", Value: stringsOf(change.AllowedPaymentStatuses)}}})
	}

	var after orderDocument
	err := r.orders.FindOneAndUpdate(ctx, guarded, statusPipeline(change),
		options.FindOneAndUpdate().SetReturnDocument(options.After)).Decode(&after)
	if errors.Is(err, mongo.ErrNoDocuments) {
		if _, findErr := r.findOne(ctx, "orders.updateStatus", byID); findErr != nil {
			return domain.Order{}, findErr
		}
		return domain.Order{}, conflict("orders.updateStatus", "order no longer in an allowed state")
	}
	if err != nil {
		return domain.Order{}, wrapError("orders.updateStatus", err)
	}
	return after.order(), nil
}

func (r *OrderRepository) List(ctx context.Context, filter repositories.OrderListFilter) ([]domain.Order, error) {
	query := bson.D{}
	if filter.Status != nil {
		query = append(query, bson.E{Key: repositories.FieldStatus, Value: string(*filter.Status)})
	}
	opts := options.Find().SetSort(bson.D{{Key: repositories.FieldCreatedAt, Value: -1}})
	if filter.Limit > 0 {
		opts.SetLimit(int64(filter.Limit))
	}
	return r.find(ctx, "orders.list", query, opts)
}

// ListForCustomer returns orders linked to the account or placed with its email.
func (r *OrderRepository) ListForCustomer(ctx context.Context, filter repositories.CustomerOrderFilter) ([]domain.Order, error) {
	var clauses bson.A
	if ref := strings.TrimSpace(filter.UserRef); ref != "" {
		clauses = append(clauses, bson.D{{Key: repositories.FieldUser, Value: ref}})
	}
	if email := strings.ToLower(strings.TrimSpace(filter.Email)); email != "" {
		clauses = append(clauses, bson.D{{Key: repositories.FieldCustomerEmail, Value: email}})
	}
	if len(clauses) == 0 {
		return nil, nil
	}
	opts := options.Find().SetSort(bson.D{{Key: repositories.FieldCreatedAt, Value: -1}})
	return r.find(ctx, "orders.listForCustomer", bson.D{{Key: "$or", Value: clauses}}, opts)
}

// Stats groups orders by status in one aggregation. Cancelled orders carry no revenue.
func (r *OrderRepository) Stats(ctx context.Context) (repositories.OrderStats, error) {
	cursor, err := r.orders.Aggregate(ctx, mongo.Pipeline{
		{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: "$" + repositories.FieldStatus},
			{Key: "count", Value: bson.D{{Key: "$sum", Value: 1}}},
			{Key: "revenue", Value: bson.D{{Key: "$sum", Value: "$" + repositories.FieldAmount}}},
		}}},
	})
	if err != nil {
		return repositories.OrderStats{}, wrapError("orders.stats", err)
	}
	var groups []struct {
		Status  string  `bson:"_id"`
		Count   int64   `bson:"count"`
		Revenue float64 `bson:"revenue"`
	}
	if err := cursor.All(ctx, &groups); err != nil {
		return repositories.OrderStats{}, wrapError("orders.stats", err)
	}

	stats := repositories.OrderStats{ByStatus: make(map[domain.OrderStatus]int64, len(domain.OrderStatuses)), Revenue: decimal.Zero}
	for _, st := range domain.OrderStatuses {
		stats.ByStatus[st] = 0
	}
	for _, g := range groups {
		status := domain.OrderStatus(g.Status)
		stats.Total += g.Count
		stats.ByStatus[status] += g.Count
		if status != domain.OrderStatusCancelled {
			stats.Revenue = stats.Revenue.Add(decimal.NewFromFloat(g.Revenue))
		}
	}
	stats.Revenue = stats.Revenue.Round(2)
	return stats, nil
}

func (r *OrderRepository) findOne(ctx context.Context, op string, filter bson.D) (domain.Order, error) {
	var doc orderDocument
	if err := r.orders.FindOne(ctx, filter).Decode(&doc); err != nil {
		return domain.Order{}, wrapError(op, err)
	}
	return doc.order(), nil
}

func (r *OrderRepository) find(ctx context.Context, op string, filter bson.D, opts *options.FindOptions) ([]domain.Order, error) {
	cursor, err := r.orders.Find(ctx, filter, opts)
	if err != nil {
		return nil, wrapError(op, err)
	}
	var docs []orderDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, wrapError(op, err)
	}
	out := make([]domain.Order, 0, len(docs))
	for _, doc := range docs {
		out = append(out, doc.order())
	}
	return out, nil
}

// locatorFilter matches by id when given, otherwise by checkout session.
func locatorFilter(locator repositories.OrderLocator) (bson.D, error) {
	if id := strings.TrimSpace(locator.OrderID); id != "" {
		return bson.D{{Key: "_id", Value: id}}, nil
	}
	if ref := strings.TrimSpace(locator.SessionRef); ref != "" {
		return bson.D{{Key: repositories.FieldSessionRef, Value: ref}}, nil
	}
	return nil, notFound("orders.locate", "order locator is empty")
}

func markPaidPipeline(settlement repositories.PaymentSettlement) mongo.Pipeline {
	paidAt := settlement.PaidAt.UTC()
	set := bson.D{
		{Key: repositories.FieldPaymentStatus, Value: literal(string(domain.PaymentStatusPaid))},
		{Key: repositories.FieldPaymentMethod, Value: literal(string(settlement.Method))},
		{Key: repositories.FieldUpdatedAt, Value: paidAt},
		{Key: repositories.FieldPaidAt, Value: bson.D{{Key: "$ifNull", Value: bson.A{"$" + repositories.FieldPaidAt, paidAt}}}},
	}
	if settlement.SessionRef != "" {
		set = append(set, bson.E{Key: repositories.FieldSessionRef, Value: literal(settlement.SessionRef)})
	}
	if settlement.TransactionRef != "" {
		set = append(set, bson.E{Key: repositories.FieldTransactionRef, Value: literal(settlement.TransactionRef)})
	}
	return mongo.Pipeline{{{Key: "$set", Value: set}}}
}

func statusPipeline(change repositories.OrderStatusChange) mongo.Pipeline {
	now := change.Now.UTC()
	set := bson.D{{Key: repositories.FieldUpdatedAt, Value: now}}
	if change.Status != nil {
		set = append(set, bson.E{Key: repositories.FieldStatus, Value: literal(string(*change.Status))})
	}
	if change.PaymentStatus != nil {
		set = append(set, bson.E{Key: repositories.FieldPaymentStatus, Value: literal(string(*change.PaymentStatus))})
		if *change.PaymentStatus == domain.PaymentStatusPaid {
			set = append(set, bson.E{Key: repositories.FieldPaidAt, Value: bson.D{{Key: "$ifNull", Value: bson.A{"$" + repositories.FieldPaidAt, now}}}})
		}
	}
	return mongo.Pipeline{{{Key: "$set", Value: set}}}
}

// literal stops pipeline stages from reading string values as field paths.
func literal(v string) bson.D {
	return bson.D{{Key: "$literal", Value: v}}
}

func stringsOf[T ~string](values []T) bson.A {
	out := make(bson.A, 0, len(values))
	for _, v := range values {
		out = append(out, string(v))
	}
	return out
}
