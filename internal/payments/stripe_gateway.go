package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"
	"github.com/stripe/stripe-go/v78/webhook"
)

const defaultCurrency = "inr"

// Logger receives structured gateway events.
type Logger func(ctx context.Context, event string, fields map[string]any)

type stripeSessionAPI interface {
	New(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
}

// StripeGatewayConfig configures the StripeGateway.
type StripeGatewayConfig struct {
	APIKey        string
	WebhookSecret string
	Currency      string
	Backends      *stripe.Backends
	Logger        Logger
	Sessions      stripeSessionAPI
}

// StripeGateway implements Gateway on Stripe Checkout.
type StripeGateway struct {
	sessions      stripeSessionAPI
	webhookSecret string
	currency      string
	logger        Logger
}

// NewStripeGateway builds a gateway. Either credential may be empty: checkout then fails with
// ErrGatewayNotConfigured and webhooks with ErrWebhookNotConfigured.
func NewStripeGateway(cfg StripeGatewayConfig) *StripeGateway {
	sessions := cfg.Sessions
	if sessions == nil {
		if key := strings.TrimSpace(cfg.APIKey); key != "" {
			sessions = client.New(key, cfg.Backends).CheckoutSessions
		}
	}
	currency := strings.ToLower(strings.TrimSpace(cfg.Currency))
	if currency == "" {
		currency = defaultCurrency
	}
	logger := cfg.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &StripeGateway{
		sessions:      sessions,
		webhookSecret: strings.TrimSpace(cfg.WebhookSecret),
		currency:      currency,
		logger:        logger,
	}
}

// CheckoutEnabled reports whether API credentials are present.
func (g *StripeGateway) CheckoutEnabled() bool {
	return g != nil && g.sessions != nil
}

// CreateCheckoutSession creates a hosted payment-mode session with one line item per order item.
func (g *StripeGateway) CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (CheckoutSession, error) {
	if !g.CheckoutEnabled() {
		return CheckoutSession{}, ErrGatewayNotConfigured
	}
	if len(req.Items) == 0 {
		return CheckoutSession{}, errors.New("stripe: checkout requires at least one item")
	}

	params := &stripe.CheckoutSessionParams{
		Mode:               stripe.String(string(stripe.CheckoutSessionModePayment)),
		PaymentMethodTypes: stripe.StringSlice([]string{"card"}),
		SuccessURL:         stripe.String(req.SuccessURL),
		CancelURL:          stripe.String(req.CancelURL),
		Metadata: map[string]string{
			"orderId":     req.OrderID,
			"orderNumber": req.OrderNumber,
		},
	}
	params.Context = ctx
	if email := strings.TrimSpace(req.CustomerEmail); email != "" {
		params.CustomerEmail = stripe.String(email)
	}
	if locale := strings.TrimSpace(req.Locale); locale != "" {
		params.Locale = stripe.String(locale)
	}

	for _, item := range req.Items {
		product := &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
			Name: stripe.String(item.Name),
		}
		if isWebURL(item.Image) {
			product.Images = stripe.StringSlice([]string{item.Image})
		}
		params.LineItems = append(params.LineItems, &stripe.CheckoutSessionLineItemParams{
			Quantity: stripe.Int64(int64(item.Quantity)),
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:    stripe.String(g.currency),
				UnitAmount:  stripe.Int64(MinorUnits(item.Price)),
				ProductData: product,
			},
		})
	}

	session, err := g.sessions.New(params)
	if err != nil {
		g.logger(ctx, "payments.stripe.session.failed", map[string]any{
			"orderId": req.OrderID,
			"error":   err.Error(),
		})
		return CheckoutSession{}, fmt.Errorf("stripe: create checkout session: %w", err)
	}

	g.logger(ctx, "payments.stripe.session.created", map[string]any{
		"orderId":   req.OrderID,
		"sessionId": session.ID,
		"currency":  g.currency,
	})
	return CheckoutSession{ID: session.ID, RedirectURL: session.URL}, nil
}

// VerifyWebhook authenticates the Stripe-Signature header and decodes checkout session events.
// Events of other object types are returned with only ID and Type set.
func (g *StripeGateway) VerifyWebhook(payload []byte, signatureHeader string) (WebhookEvent, error) {
	if g == nil || g.webhookSecret == "" {
		return WebhookEvent{}, ErrWebhookNotConfigured
	}
	if strings.TrimSpace(signatureHeader) == "" {
		return WebhookEvent{}, fmt.Errorf("%w: missing signature header", ErrWebhookSignature)
	}

	event, err := webhook.ConstructEventWithOptions(payload, signatureHeader, g.webhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		return WebhookEvent{}, fmt.Errorf("%w: %v", ErrWebhookSignature, err)
	}

	out := WebhookEvent{ID: event.ID, Type: string(event.Type)}
	if !strings.HasPrefix(out.Type, "checkout.session.") || event.Data == nil {
		return out, nil
	}

	var session stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
		return WebhookEvent{}, fmt.Errorf("%w: decode checkout session: %v", ErrWebhookSignature, err)
	}
	out.SessionID = session.ID
	out.PaymentStatus = string(session.PaymentStatus)
	out.OrderID = session.Metadata["orderId"]
	out.OrderNumber = session.Metadata["orderNumber"]
	if session.PaymentIntent != nil {
		out.PaymentIntentID = session.PaymentIntent.ID
	}
	if session.CustomerDetails != nil {
		out.CustomerEmail = session.CustomerDetails.Email
	}
	return out, nil
}

// MinorUnits converts a major-unit price into the provider's integer minor units.
func MinorUnits(price decimal.Decimal) int64 {
	return price.Shift(2).Round(0).IntPart()
}

func isWebURL(value string) bool {
	lower := strings.ToLower(strings.TrimSpace(value))
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")
}
