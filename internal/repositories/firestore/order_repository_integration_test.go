//go:build integration

package firestore

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

	domain "github.com/naturevibes/api/internal/domain"
	pconfig "github.com/naturevibes/api/internal/platform/config"
	pfirestore "github.com/naturevibes/api/internal/platform/firestore"
	"github.com/naturevibes/api/internal/repositories"
)

func TestOrderRepositoryIntegration(t *testing.T) {
	if _, err := exec.LookPath("docker"); err != nil {
		t.Skip("docker not available: " + err.Error())
	}

	ensureDockerDaemon(t)

	port := freePort(t)
	endpoint := fmt.Sprintf("127.0.0.1:%d", port)
	containerID := startFirestoreEmulator(t, port)
	t.Cleanup(func() { stopContainer(containerID) })

	waitForEndpoint(t, endpoint, 30*time.Second)

	provider := pfirestore.NewProvider(pconfig.FirestoreConfig{ProjectID: "orders-test", EmulatorHost: endpoint})
	t.Cleanup(func() { _ = provider.Close() })

	repo, err := NewOrderRepository(provider)
	if err != nil {
		t.Fatalf("new order repository: %v", err)
	}
	users, err := NewUserRepository(provider)
	if err != nil {
		t.Fatalf("new user repository: %v", err)
	}
	products, err := NewProductRepository(provider)
	if err != nil {
		t.Fatalf("new product repository: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	client, err := provider.Client(ctx)
	if err != nil {
		t.Fatalf("provider client: %v", err)
	}
	if _, err := client.Collection(usersCollection).Doc("u1").Set(ctx, map[string]any{"name": "Asha", "email": "asha@example.com"}); err != nil {
		t.Fatalf("seed user: %v", err)
	}
	for id, deleted := range map[string]bool{"p1": false, "p2": false, "p3": true} {
		if _, err := client.Collection(productsCollection).Doc(id).Set(ctx, map[string]any{"name": id, "isDeleted": deleted}); err != nil {
			t.Fatalf("seed product: %v", err)
		}
	}

	now := time.Now().UTC().Truncate(time.Millisecond)
	user := "u1"
	base := domain.Order{
		UserRef:       &user,
		Items:         []domain.OrderItem{{Name: "Monstera", Price: decimal.RequireFromString("499"), Quantity: 2}},
		Amount:        decimal.RequireFromString("998"),
		Status:        domain.OrderStatusPlaced,
		PaymentMethod: domain.PaymentMethodStripe,
		PaymentStatus: domain.PaymentStatusPending,
		Customer:      domain.Customer{Name: "Asha", Email: "asha@example.com"},
		Address:       domain.Address{FullName: "Asha", Phone: "9999999999", StreetAddress: "1 Lane", Pincode: "411001"},
	}

	first := base
	first.ID, first.OrderNumber, first.CreatedAt, first.UpdatedAt = "o1", "NV-1-1000", now, now
	if err := repo.Insert(ctx, first); err != nil {
		t.Fatalf("insert: %v", err)
	}

	dup := base
	dup.ID, dup.OrderNumber, dup.CreatedAt, dup.UpdatedAt = "o2", "NV-1-1000", now, now
	err = repo.Insert(ctx, dup)
	var repoErr repositories.RepositoryError
	if !errors.As(err, &repoErr) || !repoErr.IsConflict() {
		t.Fatalf("expected conflict for duplicate order number, got %v", err)
	}

	guest := base
	guest.ID, guest.OrderNumber, guest.UserRef = "o3", "NV-2-2000", nil
	guest.CreatedAt, guest.UpdatedAt = now.Add(time.Minute), now.Add(time.Minute)
	guest.Status = domain.OrderStatusCancelled
	if err := repo.Insert(ctx, guest); err != nil {
		t.Fatalf("insert guest: %v", err)
	}

	if err := repo.SetSessionRef(ctx, "o1", "cs_test_1", now); err != nil {
		t.Fatalf("set session ref: %v", err)
	}

	paidAt := now.Add(2 * time.Minute)
	paid, changed, err := repo.MarkPaid(ctx, repositories.OrderLocator{SessionRef: "cs_test_1"}, repositories.PaymentSettlement{
		TransactionRef: "pi_1",
		Method:         domain.PaymentMethodStripe,
		PaidAt:         paidAt,
	})
	if err != nil || !changed {
		t.Fatalf("mark paid: changed=%v err=%v", changed, err)
	}
	if paid.PaymentStatus != domain.PaymentStatusPaid || paid.PaidAt == nil || !paid.PaidAt.Equal(paidAt) {
		t.Fatalf("unexpected paid order %+v", paid)
	}

	again, changed, err := repo.MarkPaid(ctx, repositories.OrderLocator{OrderID: "o1"}, repositories.PaymentSettlement{
		Method: domain.PaymentMethodStripe,
		PaidAt: paidAt.Add(time.Hour),
	})
	if err != nil || changed {
		t.Fatalf("expected idempotent mark paid, changed=%v err=%v", changed, err)
	}
	if !again.PaidAt.Equal(paidAt) || again.GatewayTransactionRef != "pi_1" {
		t.Fatalf("paidAt or transaction ref overwritten: %+v", again)
	}

	if _, changed, err := repo.MarkPaymentFailed(ctx, repositories.OrderLocator{OrderID: "o1"}, now); err != nil || changed {
		t.Fatalf("failed must not override paid: changed=%v err=%v", changed, err)
	}

	_, _, err = repo.MarkPaid(ctx, repositories.OrderLocator{OrderID: "missing", SessionRef: "cs_test_1"}, repositories.PaymentSettlement{PaidAt: now})
	if !errors.As(err, &repoErr) || !repoErr.IsNotFound() {
		t.Fatalf("expected not found for unknown id, got %v", err)
	}

	shipped := domain.OrderStatusShipped
	if _, err := repo.UpdateStatus(ctx, "o3", repositories.OrderStatusChange{
		Status:          &shipped,
		AllowedStatuses: []domain.OrderStatus{domain.OrderStatusPlaced, domain.OrderStatusProcessing},
		Now:             now,
	}); !errors.As(err, &repoErr) || !repoErr.IsConflict() {
		t.Fatalf("expected guard conflict, got %v", err)
	}
	updated, err := repo.UpdateStatus(ctx, "o1", repositories.OrderStatusChange{
		Status:          &shipped,
		AllowedStatuses: []domain.OrderStatus{domain.OrderStatusPlaced, domain.OrderStatusProcessing},
		Now:             now,
	})
	if err != nil || updated.Status != domain.OrderStatusShipped {
		t.Fatalf("update status: %+v %v", updated, err)
	}

	cancelled := domain.OrderStatusCancelled
	list, err := repo.List(ctx, repositories.OrderListFilter{Status: &cancelled})
	if err != nil || len(list) != 1 || list[0].ID != "o3" {
		t.Fatalf("unexpected filtered list %v %v", list, err)
	}

	mine, err := repo.ListForCustomer(ctx, repositories.CustomerOrderFilter{UserRef: "u1", Email: "ASHA@example.com"})
	if err != nil {
		t.Fatalf("list for customer: %v", err)
	}
	if len(mine) != 2 || mine[0].ID != "o3" || mine[1].ID != "o1" {
		t.Fatalf("expected guest and linked orders newest first, got %d", len(mine))
	}

	stats, err := repo.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Total != 2 || stats.ByStatus[domain.OrderStatusShipped] != 1 || stats.ByStatus[domain.OrderStatusCancelled] != 1 {
		t.Fatalf("unexpected stats %+v", stats)
	}
	if stats.Revenue.StringFixed(2) != "998.00" {
		t.Fatalf("expected revenue 998.00, got %s", stats.Revenue)
	}

	account, err := users.FindByID(ctx, "u1")
	if err != nil || account.Email != "asha@example.com" {
		t.Fatalf("find user: %+v %v", account, err)
	}
	if _, err := users.FindByID(ctx, "nobody"); !errors.As(err, &repoErr) || !repoErr.IsNotFound() {
		t.Fatalf("expected not found user, got %v", err)
	}
	if count, err := products.CountActive(ctx); err != nil || count != 2 {
		t.Fatalf("expected 2 active products, got %d %v", count, err)
	}
}

func freePort(t *testing.T) int {
	t.Helper()
	addr, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("unable to allocate port: %v", err)
	}
	defer addr.Close()
	return addr.Addr().(*net.TCPAddr).Port
}

func startFirestoreEmulator(t *testing.T, port int) string {
	t.Helper()
	args := []string{
		"run", "-d", "--rm",
		"-p", fmt.Sprintf("%d:8080", port),
		firestoreEmulatorImage,
		"gcloud", "beta", "emulators", "firestore", "start",
		"--host-port=0.0.0.0:8080",
		"--quiet",
	}

	out, err := exec.Command("docker", args...).CombinedOutput()
	if err != nil {
		t.Fatalf("failed to start firestore emulator: %v - %s", err, string(out))
	}
	id := strings.TrimSpace(string(out))
	if id == "" {
		t.Fatalf("docker returned empty container id")
	}
	if len(id) > 12 {
		id = id[:12]
	}
	return id
}

func ensureDockerDaemon(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := exec.CommandContext(ctx, "docker", "info").Run(); err != nil {
		t.Fatalf("docker daemon not available: %v", err)
	}
}

func stopContainer(id string) {
	if id == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = exec.CommandContext(ctx, "docker", "stop", id).Run()
}

func waitForEndpoint(t *testing.T, endpoint string, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		conn, err := net.DialTimeout("tcp", endpoint, 500*time.Millisecond)
		if err == nil {
			conn.Close()
			return
		}
		time.Sleep(200 * time.Millisecond)
	}
	t.Fatalf("firestore emulator at %s did not become ready within %s", endpoint, timeout)
}

const firestoreEmulatorImage = "gcr.io/google.com/cloudsdktool/cloud-sdk:emulators"
