package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	domain "github.com/naturevibes/api/internal/domain"
	"github.com/naturevibes/api/internal/payments"
	"github.com/naturevibes/api/internal/platform/auth"
	"github.com/naturevibes/api/internal/platform/httpx"
	"github.com/naturevibes/api/internal/services"
)

const (
	maxOrderRequestBody = 64 * 1024
	maxOrderListLimit   = 500
)

var payloadValidator = validator.New()

// OrderHandlers serves the storefront and admin order endpoints.
type OrderHandlers struct {
	authn       *auth.Authenticator
	orders      services.OrderService
	reporting   services.ReportingService
	idempotency func(http.Handler) http.Handler
	limiter     rateLimiter
}

// OrderHandlerOption customises OrderHandlers.
type OrderHandlerOption func(*OrderHandlers)

// WithIdempotency guards the order-creating routes with mw.
func WithIdempotency(mw func(http.Handler) http.Handler) OrderHandlerOption {
	return func(h *OrderHandlers) {
		h.idempotency = mw
	}
}

// WithPlacementRateLimit caps order-creating requests per caller inside window.
func WithPlacementRateLimit(limit int, window time.Duration) OrderHandlerOption {
	return func(h *OrderHandlers) {
		h.limiter = newWindowRateLimiter(limit, window, nil)
	}
}

func NewOrderHandlers(authn *auth.Authenticator, orders services.OrderService, reporting services.ReportingService, opts ...OrderHandlerOption) *OrderHandlers {
	h := &OrderHandlers{authn: authn, orders: orders, reporting: reporting}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers the order endpoints relative to the /api/orders mount.
func (h *OrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Group(func(storefront chi.Router) {
		if h.authn != nil {
			storefront.Use(h.authn.OptionalAuth())
		}
		if h.limiter != nil {
			storefront.Use(rateLimit(h.limiter))
		}
		if h.idempotency != nil {
			storefront.Use(h.idempotency)
		}
		storefront.Post("/place", h.placeOrder)
		storefront.Post("/stripe/create-checkout-session", h.createCheckoutSession)
	})
	r.Group(func(admin chi.Router) {
		if h.authn != nil {
			admin.Use(h.authn.RequireAuth(auth.RoleAdmin))
		}
		admin.Get("/list", h.listOrders)
		admin.Get("/summary", h.summary)
		admin.Patch("/status", h.updateStatus)
	})
	r.Group(func(user chi.Router) {
		if h.authn != nil {
			user.Use(h.authn.RequireAuth())
		}
		user.Get("/my", h.myOrders)
	})
}

type cartItemRequest struct {
	ProductID string          `json:"productId"`
	Name      string          `json:"name"`
	Image     string          `json:"image"`
	Price     json.RawMessage `json:"price"`
	Quantity  json.RawMessage `json:"quantity"`
}

type addressRequest struct {
	FullName      string `json:"fullName"`
	Phone         string `json:"phone"`
	StreetAddress string `json:"streetAddress"`
	City          string `json:"city"`
	State         string `json:"state"`
	Pincode       string `json:"pincode"`
}

type customerRequest struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone"`
}

type placeOrderRequest struct {
	Items         []cartItemRequest `json:"items"`
	Amount        json.RawMessage   `json:"amount"`
	Address       addressRequest    `json:"address"`
	Customer      customerRequest   `json:"customer"`
	PaymentMethod string            `json:"paymentMethod"`
}

type updateStatusRequest struct {
	OrderID       string  `json:"orderId" validate:"required"`
	Status        *string `json:"status"`
	PaymentStatus *string `json:"paymentStatus"`
}

func (h *OrderHandlers) placeOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		writeServiceUnavailable(ctx, w)
		return
	}
	cmd, err := decodePlaceOrder(r)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	order, err := h.orders.PlaceOrder(ctx, cmd)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, map[string]any{
		"success": true,
		"message": "Order placed successfully",
		"order":   buildOrderPayload(order),
	})
}

func (h *OrderHandlers) createCheckoutSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		writeServiceUnavailable(ctx, w)
		return
	}
	cmd, err := decodePlaceOrder(r)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	result, err := h.orders.StartPaymentSession(ctx, cmd)
	if err != nil {
		if errors.Is(err, services.ErrPaymentGateway) && result.Order.ID != "" {
			// The order is kept; the client may retry payment against it.
			httpx.WriteError(ctx, w, httpx.NewError("payment_gateway_error", "Unable to start payment. Please try again.", http.StatusBadGateway).
				WithDetails(map[string]any{"orderId": result.Order.ID, "orderNumber": result.Order.OrderNumber}))
			return
		}
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, map[string]any{
		"success":     true,
		"message":     "Stripe checkout initiated",
		"sessionId":   result.SessionID,
		"checkoutUrl": result.RedirectURL,
		"orderId":     result.Order.ID,
		"orderNumber": result.Order.OrderNumber,
	})
}

func (h *OrderHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.reporting == nil {
		writeServiceUnavailable(ctx, w)
		return
	}
	query := services.OrderListQuery{Status: strings.TrimSpace(r.URL.Query().Get("status"))}
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "limit must be a non-negative integer", http.StatusBadRequest))
			return
		}
		query.Limit = min(limit, maxOrderListLimit)
	}

	orders, err := h.reporting.ListOrders(ctx, query)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]any{
		"success": true,
		"count":   len(orders),
		"orders":  buildOrderPayloads(orders),
	})
}

func (h *OrderHandlers) summary(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.reporting == nil {
		writeServiceUnavailable(ctx, w)
		return
	}
	summary, err := h.reporting.Summary(ctx)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	counts := func(status domain.OrderStatus) int64 { return summary.StatusCounts[status] }
	recent := make([]recentOrderPayload, 0, len(summary.RecentOrders))
	for _, order := range summary.RecentOrders {
		recent = append(recent, recentOrderPayload{
			ID:            order.ID,
			OrderNumber:   order.OrderNumber,
			Amount:        money(order.Amount),
			Status:        string(order.Status),
			PaymentStatus: string(order.PaymentStatus),
			CreatedAt:     formatTime(order.CreatedAt),
			Customer:      customerPayload(order.Customer),
		})
	}
	writeJSONResponse(w, http.StatusOK, map[string]any{
		"success": true,
		"summary": map[string]any{
			"totalOrders":      summary.TotalOrders,
			"placedOrders":     counts(domain.OrderStatusPlaced),
			"processingOrders": counts(domain.OrderStatusProcessing),
			"shippedOrders":    counts(domain.OrderStatusShipped),
			"deliveredOrders":  counts(domain.OrderStatusDelivered),
			"cancelledOrders":  counts(domain.OrderStatusCancelled),
			"totalRevenue":     money(summary.Revenue),
			"totalProducts":    summary.TotalProducts,
			"totalUsers":       summary.TotalUsers,
		},
		"recentOrders": recent,
	})
}

func (h *OrderHandlers) updateStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.reporting == nil {
		writeServiceUnavailable(ctx, w)
		return
	}
	var req updateStatusRequest
	if err := decodeJSONBody(r, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}
	req.OrderID = strings.TrimSpace(req.OrderID)
	if err := payloadValidator.Struct(req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "orderId is required", http.StatusBadRequest))
		return
	}

	order, err := h.reporting.UpdateStatus(ctx, services.UpdateStatusCommand{
		OrderID:       req.OrderID,
		Status:        req.Status,
		PaymentStatus: req.PaymentStatus,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "Order updated successfully",
		"order":   buildOrderPayload(order),
	})
}

func (h *OrderHandlers) myOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.reporting == nil {
		writeServiceUnavailable(ctx, w)
		return
	}
	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "Not authorized. Please login again.", http.StatusUnauthorized))
		return
	}

	result, err := h.reporting.UserOrders(ctx, identity.UID)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	all := result.All()
	writeJSONResponse(w, http.StatusOK, map[string]any{
		"success":       true,
		"count":         len(all),
		"currentOrders": buildOrderPayloads(result.Current),
		"historyOrders": buildOrderPayloads(result.History),
		"orders":        buildOrderPayloads(all),
	})
}

func decodePlaceOrder(r *http.Request) (services.PlaceOrderCommand, error) {
	var req placeOrderRequest
	if err := decodeJSONBody(r, &req); err != nil {
		return services.PlaceOrderCommand{}, err
	}

	items := make([]services.CartItemInput, 0, len(req.Items))
	for _, item := range req.Items {
		quantity := parseNumber(item.Quantity)
		if isAbsent(item.Quantity) {
			one := decimal.NewFromInt(1)
			quantity = &one
		}
		items = append(items, services.CartItemInput{
			ProductRef: item.ProductID,
			Name:       item.Name,
			Image:      item.Image,
			Price:      parseNumber(item.Price),
			Quantity:   quantity,
		})
	}

	cmd := services.PlaceOrderCommand{
		Cart: services.CartInput{Items: items, ClientTotal: parseNumber(req.Amount)},
		Contact: services.ContactInput{
			Address: services.AddressInput{
				FullName:      req.Address.FullName,
				Phone:         req.Address.Phone,
				StreetAddress: req.Address.StreetAddress,
				City:          req.Address.City,
				State:         req.Address.State,
				Pincode:       req.Address.Pincode,
			},
			Customer: services.CustomerInput{
				Name:  req.Customer.Name,
				Email: req.Customer.Email,
				Phone: req.Customer.Phone,
			},
		},
		PaymentMethod: req.PaymentMethod,
		Origin:        strings.TrimSpace(r.Header.Get("Origin")),
		Locale:        payments.CheckoutLocale(r.Header.Get("Accept-Language")),
	}
	if identity, ok := auth.IdentityFromContext(r.Context()); ok {
		cmd.Contact.UserID = identity.UID
	}
	return cmd, nil
}

func decodeJSONBody(r *http.Request, dst any) error {
	defer r.Body.Close()
	decoder := json.NewDecoder(io.LimitReader(r.Body, maxOrderRequestBody))
	if err := decoder.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body required")
		}
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

// parseNumber accepts JSON numbers and numeric strings. Anything else is treated as missing.
func parseNumber(raw json.RawMessage) *decimal.Decimal {
	raw = bytes.TrimSpace(raw)
	if isAbsent(raw) {
		return nil
	}
	text := string(raw)
	if raw[0] == '"' {
		if err := json.Unmarshal(raw, &text); err != nil {
			return nil
		}
	}
	value, err := decimal.NewFromString(strings.TrimSpace(text))
	if err != nil {
		return nil
	}
	return &value
}

func isAbsent(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) == 0 || bytes.Equal(raw, []byte("null"))
}

func writeServiceUnavailable(ctx context.Context, w http.ResponseWriter) {
	httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
}

func writeOrderError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrInvalidCart):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_cart", "Order items are required with valid name, price, and quantity", http.StatusBadRequest))
	case errors.Is(err, services.ErrAmountMismatch):
		httpx.WriteError(ctx, w, httpx.NewError("amount_mismatch", "Order amount mismatch. Please refresh your cart and try again.", http.StatusBadRequest))
	case errors.Is(err, services.ErrInvalidAddress):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_address", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrInvalidPaymentMethod):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_payment_method", "Invalid payment method", http.StatusBadRequest))
	case errors.Is(err, services.ErrInvalidStatus):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_status", "Invalid order status", http.StatusBadRequest))
	case errors.Is(err, services.ErrInvalidPaymentStatus):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_payment_status", "Invalid payment status", http.StatusBadRequest))
	case errors.Is(err, services.ErrStatusUpdateEmpty):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "At least one field (status/paymentStatus) is required", http.StatusBadRequest))
	case errors.Is(err, services.ErrStatusTransition):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_transition", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrOrderNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "Order not found", http.StatusNotFound))
	case errors.Is(err, services.ErrUserNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("user_not_found", "User not found", http.StatusNotFound))
	case errors.Is(err, services.ErrPaymentGateway):
		httpx.WriteError(ctx, w, httpx.NewError("payment_gateway_error", "Unable to start payment. Please try again.", http.StatusBadGateway))
	case errors.Is(err, services.ErrOrderStoreUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("order_store_unavailable", "order store unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("order_error", "failed to process order request", http.StatusInternalServerError))
	}
}

type orderItemPayload struct {
	Product  *string     `json:"product,omitempty"`
	Name     string      `json:"name"`
	Image    string      `json:"image"`
	Price    json.Number `json:"price"`
	Quantity int         `json:"quantity"`
}

type addressPayload struct {
	FullName      string `json:"fullName"`
	Phone         string `json:"phone"`
	StreetAddress string `json:"streetAddress"`
	City          string `json:"city"`
	State         string `json:"state"`
	Pincode       string `json:"pincode"`
}

type orderCustomerPayload struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone"`
}

type orderPayload struct {
	ID                    string               `json:"_id"`
	OrderNumber           string               `json:"orderNumber"`
	User                  *string              `json:"user"`
	Items                 []orderItemPayload   `json:"items"`
	Amount                json.Number          `json:"amount"`
	Status                string               `json:"status"`
	PaymentMethod         string               `json:"paymentMethod"`
	PaymentStatus         string               `json:"paymentStatus"`
	PaidAt                *string              `json:"paidAt"`
	StripeSessionID       string               `json:"stripeSessionId,omitempty"`
	StripePaymentIntentID string               `json:"stripePaymentIntentId,omitempty"`
	Address               addressPayload       `json:"address"`
	Customer              orderCustomerPayload `json:"customer"`
	CreatedAt             string               `json:"createdAt"`
	UpdatedAt             string               `json:"updatedAt"`
}

type recentOrderPayload struct {
	ID            string               `json:"_id"`
	OrderNumber   string               `json:"orderNumber"`
	Amount        json.Number          `json:"amount"`
	Status        string               `json:"status"`
	PaymentStatus string               `json:"paymentStatus"`
	CreatedAt     string               `json:"createdAt"`
	Customer      orderCustomerPayload `json:"customer"`
}

func buildOrderPayloads(orders []domain.Order) []orderPayload {
	out := make([]orderPayload, 0, len(orders))
	for _, order := range orders {
		out = append(out, buildOrderPayload(order))
	}
	return out
}

func buildOrderPayload(order domain.Order) orderPayload {
	items := make([]orderItemPayload, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, orderItemPayload{
			Product:  item.ProductRef,
			Name:     item.Name,
			Image:    item.Image,
			Price:    money(item.Price),
			Quantity: item.Quantity,
		})
	}
	payload := orderPayload{
		ID:                    order.ID,
		OrderNumber:           order.OrderNumber,
		User:                  order.UserRef,
		Items:                 items,
		Amount:                money(order.Amount),
		Status:                string(order.Status),
		PaymentMethod:         string(order.PaymentMethod),
		PaymentStatus:         string(order.PaymentStatus),
		StripeSessionID:       order.GatewaySessionRef,
		StripePaymentIntentID: order.GatewayTransactionRef,
		Address: addressPayload{
			FullName:      order.Address.FullName,
			Phone:         order.Address.Phone,
			StreetAddress: order.Address.StreetAddress,
			City:          order.Address.City,
			State:         order.Address.State,
			Pincode:       order.Address.Pincode,
		},
		Customer:  customerPayload(order.Customer),
		CreatedAt: formatTime(order.CreatedAt),
		UpdatedAt: formatTime(order.UpdatedAt),
	}
	if order.PaidAt != nil {
		paidAt := formatTime(*order.PaidAt)
		payload.PaidAt = &paidAt
	}
	return payload
}

func customerPayload(c domain.Customer) orderCustomerPayload {
	return orderCustomerPayload{Name: c.Name, Email: c.Email, Phone: c.Phone}
}

// money renders amounts as JSON numbers with at most two decimals.
func money(d decimal.Decimal) json.Number {
	return json.Number(d.Round(2).String())
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func writeJSONResponse(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
