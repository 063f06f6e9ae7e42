package handlers

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/naturevibes/api/internal/payments"
	"github.com/naturevibes/api/internal/platform/httpx"
	"github.com/naturevibes/api/internal/services"
)

const (
	stripeSignatureHeader = "Stripe-Signature"
	maxWebhookBodySize    = 256 * 1024
)

// PaymentWebhookHandlers receives payment provider callbacks.
type PaymentWebhookHandlers struct {
	verifier       payments.WebhookVerifier
	reconciliation services.ReconciliationService
}

func NewPaymentWebhookHandlers(verifier payments.WebhookVerifier, reconciliation services.ReconciliationService) *PaymentWebhookHandlers {
	return &PaymentWebhookHandlers{verifier: verifier, reconciliation: reconciliation}
}

// Routes registers the webhook endpoint relative to the /api/orders mount.
func (h *PaymentWebhookHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/stripe/webhook", h.handleStripe)
}

// handleStripe verifies the raw body before anything touches the order store. Any processed
// event, including one with no matching order, is acknowledged so the provider stops retrying.
func (h *PaymentWebhookHandlers) handleStripe(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.verifier == nil || h.reconciliation == nil {
		httpx.WriteError(ctx, w, httpx.NewError("webhook_not_configured", "Stripe is not configured", http.StatusInternalServerError))
		return
	}

	signature := strings.TrimSpace(r.Header.Get(stripeSignatureHeader))
	if signature == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_signature", "Missing stripe-signature header", http.StatusBadRequest))
		return
	}

	defer r.Body.Close()
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBodySize))
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "unable to read webhook body", http.StatusBadRequest))
		return
	}

	event, err := h.verifier.VerifyWebhook(payload, signature)
	switch {
	case err == nil:
	case errors.Is(err, payments.ErrWebhookNotConfigured):
		httpx.WriteError(ctx, w, httpx.NewError("webhook_not_configured", "Missing STRIPE_WEBHOOK_SECRET", http.StatusInternalServerError))
		return
	default:
		httpx.WriteError(ctx, w, httpx.NewError("invalid_signature", "Webhook signature verification failed", http.StatusBadRequest))
		return
	}

	if _, err := h.reconciliation.HandleEvent(ctx, event); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("webhook_processing_failed", "Webhook handling failed", http.StatusInternalServerError))
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]any{"received": true})
}
