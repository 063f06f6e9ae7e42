package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	domain "github.com/naturevibes/api/internal/domain"
	"github.com/naturevibes/api/internal/payments"
	"github.com/naturevibes/api/internal/platform/auth"
	"github.com/naturevibes/api/internal/services"
)

const (
	userToken  = "user-token"
	adminToken = "admin-token"
)

type stubTokenVerifier struct{}

func (stubTokenVerifier) Verify(_ context.Context, token string) (*auth.Identity, error) {
	switch token {
	case userToken:
		return &auth.Identity{UID: "user-1", Email: "asha@example.com"}, nil
	case adminToken:
		return &auth.Identity{UID: "admin-1", Email: "admin@example.com", Roles: []string{auth.RoleAdmin}}, nil
	default:
		return nil, auth.ErrTokenInvalid
	}
}

func testAuthenticator() *auth.Authenticator {
	return auth.NewAuthenticator(stubTokenVerifier{})
}

type stubOrderService struct {
	placeFunc   func(ctx context.Context, cmd services.PlaceOrderCommand) (domain.Order, error)
	sessionFunc func(ctx context.Context, cmd services.PlaceOrderCommand) (services.PaymentSessionResult, error)
	calls       int
}

func (s *stubOrderService) PlaceOrder(ctx context.Context, cmd services.PlaceOrderCommand) (domain.Order, error) {
	s.calls++
	if s.placeFunc != nil {
		return s.placeFunc(ctx, cmd)
	}
	return sampleOrder(), nil
}

func (s *stubOrderService) StartPaymentSession(ctx context.Context, cmd services.PlaceOrderCommand) (services.PaymentSessionResult, error) {
	s.calls++
	if s.sessionFunc != nil {
		return s.sessionFunc(ctx, cmd)
	}
	return services.PaymentSessionResult{Order: sampleOrder(), SessionID: "cs_test", RedirectURL: "https://checkout.stripe.test/cs_test"}, nil
}

type stubReportingService struct {
	listFunc    func(ctx context.Context, query services.OrderListQuery) ([]domain.Order, error)
	userFunc    func(ctx context.Context, userID string) (services.UserOrders, error)
	updateFunc  func(ctx context.Context, cmd services.UpdateStatusCommand) (domain.Order, error)
	summaryFunc func(ctx context.Context) (services.OrderSummary, error)
}

func (s *stubReportingService) ListOrders(ctx context.Context, query services.OrderListQuery) ([]domain.Order, error) {
	if s.listFunc != nil {
		return s.listFunc(ctx, query)
	}
	return nil, nil
}

func (s *stubReportingService) UserOrders(ctx context.Context, userID string) (services.UserOrders, error) {
	if s.userFunc != nil {
		return s.userFunc(ctx, userID)
	}
	return services.UserOrders{}, nil
}

func (s *stubReportingService) UpdateStatus(ctx context.Context, cmd services.UpdateStatusCommand) (domain.Order, error) {
	if s.updateFunc != nil {
		return s.updateFunc(ctx, cmd)
	}
	return sampleOrder(), nil
}

func (s *stubReportingService) Summary(ctx context.Context) (services.OrderSummary, error) {
	if s.summaryFunc != nil {
		return s.summaryFunc(ctx)
	}
	return services.OrderSummary{}, nil
}

type stubWebhookVerifier struct {
	event payments.WebhookEvent
	err   error
	calls int
}

func (s *stubWebhookVerifier) VerifyWebhook(payload []byte, signature string) (payments.WebhookEvent, error) {
	s.calls++
	return s.event, s.err
}

type stubReconciliation struct {
	outcome services.ReconciliationOutcome
	err     error
	events  []payments.WebhookEvent
}

func (s *stubReconciliation) HandleEvent(_ context.Context, event payments.WebhookEvent) (services.ReconciliationOutcome, error) {
	s.events = append(s.events, event)
	return s.outcome, s.err
}

var errBoom = errors.New("boom")

func sampleOrder() domain.Order {
	created := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	product := "p1"
	return domain.Order{
		ID:          "01HZORDER",
		OrderNumber: "NV-1714557600000-4242",
		Items: []domain.OrderItem{
			{ProductRef: &product, Name: "Monstera", Image: "https://cdn.example/m.jpg", Price: decimal.RequireFromString("499.5"), Quantity: 2},
		},
		Amount:        decimal.RequireFromString("999"),
		Status:        domain.OrderStatusPlaced,
		PaymentMethod: domain.PaymentMethodCOD,
		PaymentStatus: domain.PaymentStatusPending,
		Address:       domain.Address{FullName: "Asha", Phone: "9999999999", StreetAddress: "12 Palm Lane"},
		Customer:      domain.Customer{Name: "Asha", Email: "asha@example.com", Phone: "9999999999"},
		CreatedAt:     created,
		UpdatedAt:     created,
	}
}

func orderRouter(h *OrderHandlers) chi.Router {
	router := chi.NewRouter()
	h.Routes(router)
	return router
}

func doRequest(router http.Handler, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = bytes.NewBufferString(body)
	}
	req := httptest.NewRequest(method, path, reader)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

func bearer(token string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + token}
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode response %q: %v", rr.Body.String(), err)
	}
	return body
}
