//go:build integration

package mongo

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	domain "github.com/naturevibes/api/internal/domain"
	"github.com/naturevibes/api/internal/platform/config"
	"github.com/naturevibes/api/internal/repositories"
)

const mongoImage = "mongo:7"

func TestOrderRepositoryIntegration(t *testing.T) {
	if _, err := exec.LookPath("docker"); err != nil {
		t.Skip("docker not available: " + err.Error())
	}
	port := freePort(t)
	id := startMongo(t, port)
	t.Cleanup(func() { stopContainer(id) })

	ctx, cancel := context.WithTimeout(context.Background(), 90*time.Second)
	defer cancel()

	store := connectWithRetry(t, ctx, config.MongoConfig{
		URI:            fmt.Sprintf("mongodb://127.0.0.1:%d", port),
		Database:       "orders_test",
		ConnectTimeout: 2 * time.Second,
	})
	t.Cleanup(func() { _ = store.Close(context.Background()) })
	if err := store.EnsureIndexes(ctx); err != nil {
		t.Fatalf("ensure indexes: %v", err)
	}

	repo, _ := NewOrderRepository(store)
	users, _ := NewUserRepository(store)
	products, _ := NewProductRepository(store)

	userID := primitive.NewObjectID()
	if _, err := store.collection(usersCollection).InsertOne(ctx, bson.M{"_id": userID, "name": "Asha", "email": "asha@example.com"}); err != nil {
		t.Fatalf("seed user: %v", err)
	}
	if _, err := store.collection(productsCollection).InsertMany(ctx, []any{
		bson.M{"name": "Monstera"},
		bson.M{"name": "Fern", "isDeleted": false},
		bson.M{"name": "Gone", "isDeleted": true},
	}); err != nil {
		t.Fatalf("seed products: %v", err)
	}

	now := time.Now().UTC().Truncate(time.Millisecond)
	ref := userID.Hex()
	order := domain.Order{
		ID:            "01HZX0000000000000000000A1",
		OrderNumber:   "NV-1-1000",
		UserRef:       &ref,
		Items:         []domain.OrderItem{{Name: "Monstera", Price: decimal.RequireFromString("499.50"), Quantity: 2}},
		Amount:        decimal.RequireFromString("999"),
		Status:        domain.OrderStatusPlaced,
		PaymentMethod: domain.PaymentMethodStripe,
		PaymentStatus: domain.PaymentStatusPending,
		Customer:      domain.Customer{Name: "Asha", Email: "asha@example.com"},
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := repo.Insert(ctx, order); err != nil {
		t.Fatalf("insert: %v", err)
	}
	clash := order
	clash.ID = "01HZX0000000000000000000A2"
	var repoErr repositories.RepositoryError
	if err := repo.Insert(ctx, clash); !errors.As(err, &repoErr) || !repoErr.IsConflict() {
		t.Fatalf("expected conflict on duplicate order number, got %v", err)
	}

	if err := repo.SetSessionRef(ctx, order.ID, "cs_1", now); err != nil {
		t.Fatalf("set session ref: %v", err)
	}
	if err := repo.SetSessionRef(ctx, "missing", "cs_2", now); !errors.As(err, &repoErr) || !repoErr.IsNotFound() {
		t.Fatalf("expected not found, got %v", err)
	}

	if _, changed, err := repo.MarkPaymentFailed(ctx, repositories.OrderLocator{SessionRef: "cs_1"}, now); err != nil || !changed {
		t.Fatalf("mark failed: changed=%v err=%v", changed, err)
	}
	paidAt := now.Add(time.Minute)
	paid, changed, err := repo.MarkPaid(ctx, repositories.OrderLocator{SessionRef: "cs_1"}, repositories.PaymentSettlement{
		TransactionRef: "pi_1", Method: domain.PaymentMethodStripe, PaidAt: paidAt,
	})
	if err != nil || !changed || paid.PaymentStatus != domain.PaymentStatusPaid {
		t.Fatalf("mark paid: %+v changed=%v err=%v", paid, changed, err)
	}
	stored, err := repo.FindByID(ctx, order.ID)
	if err != nil || stored.PaidAt == nil || !stored.PaidAt.Equal(paidAt) || stored.GatewayTransactionRef != "pi_1" {
		t.Fatalf("unexpected stored order %+v %v", stored, err)
	}
	if _, changed, err := repo.MarkPaid(ctx, repositories.OrderLocator{OrderID: order.ID}, repositories.PaymentSettlement{PaidAt: paidAt.Add(time.Hour)}); err != nil || changed {
		t.Fatalf("expected idempotent mark paid, changed=%v err=%v", changed, err)
	}
	if again, _ := repo.FindByID(ctx, order.ID); !again.PaidAt.Equal(paidAt) {
		t.Fatalf("paidAt overwritten: %v", again.PaidAt)
	}

	refunded := domain.PaymentStatusRefunded
	if _, err := repo.UpdateStatus(ctx, order.ID, repositories.OrderStatusChange{
		PaymentStatus: &refunded, AllowedPaymentStatuses: []domain.PaymentStatus{domain.PaymentStatusPaid}, Now: now,
	}); err != nil {
		t.Fatalf("refund: %v", err)
	}
	if _, changed, err := repo.MarkPaid(ctx, repositories.OrderLocator{OrderID: order.ID}, repositories.PaymentSettlement{PaidAt: now}); err != nil || changed {
		t.Fatalf("refunded order must stay untouched, changed=%v err=%v", changed, err)
	}
	if _, err := repo.UpdateStatus(ctx, order.ID, repositories.OrderStatusChange{
		PaymentStatus: &refunded, AllowedPaymentStatuses: []domain.PaymentStatus{domain.PaymentStatusPaid}, Now: now,
	}); !errors.As(err, &repoErr) || !repoErr.IsConflict() {
		t.Fatalf("expected conflict when guard misses, got %v", err)
	}

	mine, err := repo.ListForCustomer(ctx, repositories.CustomerOrderFilter{UserRef: ref, Email: "asha@example.com"})
	if err != nil || len(mine) != 1 {
		t.Fatalf("list for customer: %d %v", len(mine), err)
	}
	stats, err := repo.Stats(ctx)
	if err != nil || stats.Total != 1 || stats.ByStatus[domain.OrderStatusPlaced] != 1 || stats.Revenue.StringFixed(2) != "999.00" {
		t.Fatalf("unexpected stats %+v %v", stats, err)
	}

	account, err := users.FindByID(ctx, ref)
	if err != nil || account.Name != "Asha" || account.ID != ref {
		t.Fatalf("find user: %+v %v", account, err)
	}
	if count, err := products.CountActive(ctx); err != nil || count != 2 {
		t.Fatalf("expected 2 active products, got %d %v", count, err)
	}
}

func connectWithRetry(t *testing.T, ctx context.Context, cfg config.MongoConfig) *Store {
	t.Helper()
	var lastErr error
	for ctx.Err() == nil {
		store, err := Connect(ctx, cfg)
		if err == nil {
			return store
		}
		lastErr = err
		time.Sleep(500 * time.Millisecond)
	}
	t.Fatalf("mongo did not become ready: %v", lastErr)
	return nil
}

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("unable to allocate port: %v", err)
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}

func startMongo(t *testing.T, port int) string {
	t.Helper()
	out, err := exec.Command("docker", "run", "-d", "--rm", "-p", fmt.Sprintf("%d:27017", port), mongoImage).CombinedOutput()
	if err != nil {
		t.Skipf("unable to start mongo container: %v - %s", err, string(out))
	}
	return strings.TrimSpace(string(out))
}

func stopContainer(id string) {
	if id == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = exec.CommandContext(ctx, "docker", "stop", id).Run()
}
