package payments

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v78"

	domain "github.com/naturevibes/api/internal/domain"
)

type fakeSessions struct {
	params  *stripe.CheckoutSessionParams
	session *stripe.CheckoutSession
	err     error
}

func (f *fakeSessions) New(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error) {
	f.params = params
	if f.err != nil {
		return nil, f.err
	}
	return f.session, nil
}

func TestCreateCheckoutSessionBuildsLineItems(t *testing.T) {
	sessions := &fakeSessions{session: &stripe.CheckoutSession{ID: "cs_test_1", URL: "https://checkout.stripe.com/c/cs_test_1"}}
	gateway := NewStripeGateway(StripeGatewayConfig{Currency: "INR", Sessions: sessions})

	got, err := gateway.CreateCheckoutSession(context.Background(), CheckoutRequest{
		OrderID:     "01HORDER",
		OrderNumber: "NV-1700000000000-1234",
		Items: []domain.OrderItem{
			{Name: "Monstera", Price: decimal.RequireFromString("499.995"), Quantity: 2, Image: "https://cdn.example.com/m.jpg"},
			{Name: "Pot", Price: decimal.RequireFromString("120"), Quantity: 1, Image: "data:image/png;base64,AAA"},
		},
		CustomerEmail: "buyer@example.com",
		SuccessURL:    "https://shop.example.com/success?orderId=01HORDER&session_id={CHECKOUT_SESSION_ID}",
		CancelURL:     "https://shop.example.com/checkout?payment=cancelled&orderId=01HORDER",
		Locale:        "en",
	})
	if err != nil {
		t.Fatalf("CreateCheckoutSession: %v", err)
	}
	if got.ID != "cs_test_1" || got.RedirectURL != "https://checkout.stripe.com/c/cs_test_1" {
		t.Fatalf("unexpected session %+v", got)
	}

	p := sessions.params
	if p == nil {
		t.Fatal("expected params to be sent")
	}
	if stripe.StringValue(p.Mode) != "payment" {
		t.Fatalf("expected payment mode, got %q", stripe.StringValue(p.Mode))
	}
	if len(p.PaymentMethodTypes) != 1 || stripe.StringValue(p.PaymentMethodTypes[0]) != "card" {
		t.Fatalf("expected card payment method type")
	}
	if p.Metadata["orderId"] != "01HORDER" || p.Metadata["orderNumber"] != "NV-1700000000000-1234" {
		t.Fatalf("unexpected metadata %v", p.Metadata)
	}
	if stripe.StringValue(p.CustomerEmail) != "buyer@example.com" {
		t.Fatalf("expected customer email")
	}
	if len(p.LineItems) != 2 {
		t.Fatalf("expected 2 line items, got %d", len(p.LineItems))
	}
	first := p.LineItems[0]
	if stripe.StringValue(first.PriceData.Currency) != "inr" {
		t.Fatalf("expected lower-case currency, got %q", stripe.StringValue(first.PriceData.Currency))
	}
	if stripe.Int64Value(first.PriceData.UnitAmount) != 50000 {
		t.Fatalf("expected 50000 minor units, got %d", stripe.Int64Value(first.PriceData.UnitAmount))
	}
	if stripe.Int64Value(first.Quantity) != 2 {
		t.Fatalf("expected quantity 2")
	}
	if len(first.PriceData.ProductData.Images) != 1 {
		t.Fatalf("expected http image to be forwarded")
	}
	if len(p.LineItems[1].PriceData.ProductData.Images) != 0 {
		t.Fatalf("expected non-http image to be dropped")
	}
}

func TestCreateCheckoutSessionOmitsEmptyEmail(t *testing.T) {
	sessions := &fakeSessions{session: &stripe.CheckoutSession{ID: "cs_1"}}
	gateway := NewStripeGateway(StripeGatewayConfig{Sessions: sessions})

	_, err := gateway.CreateCheckoutSession(context.Background(), CheckoutRequest{
		OrderID: "o1",
		Items:   []domain.OrderItem{{Name: "Fern", Price: decimal.NewFromInt(10), Quantity: 1}},
	})
	if err != nil {
		t.Fatalf("CreateCheckoutSession: %v", err)
	}
	if sessions.params.CustomerEmail != nil {
		t.Fatalf("expected no customer email")
	}
	if stripe.StringValue(sessions.params.LineItems[0].PriceData.Currency) != defaultCurrency {
		t.Fatalf("expected default currency")
	}
}

func TestCreateCheckoutSessionErrors(t *testing.T) {
	unconfigured := NewStripeGateway(StripeGatewayConfig{})
	if _, err := unconfigured.CreateCheckoutSession(context.Background(), CheckoutRequest{}); !errors.Is(err, ErrGatewayNotConfigured) {
		t.Fatalf("expected ErrGatewayNotConfigured, got %v", err)
	}

	upstream := errors.New("card_declined")
	gateway := NewStripeGateway(StripeGatewayConfig{Sessions: &fakeSessions{err: upstream}})
	_, err := gateway.CreateCheckoutSession(context.Background(), CheckoutRequest{
		Items: []domain.OrderItem{{Name: "Fern", Price: decimal.NewFromInt(10), Quantity: 1}},
	})
	if !errors.Is(err, upstream) {
		t.Fatalf("expected upstream error to be wrapped, got %v", err)
	}
}

const testWebhookSecret = "whsec_test_secret"

func signPayload(payload []byte, secret string, ts time.Time) string {
	stamp := strconv.FormatInt(ts.Unix(), 10)
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(stamp))
	mac.Write([]byte("."))
	mac.Write(payload)
	return fmt.Sprintf("t=%s,v1=%s", stamp, hex.EncodeToString(mac.Sum(nil)))
}

func TestVerifyWebhookDecodesCheckoutSession(t *testing.T) {
	gateway := NewStripeGateway(StripeGatewayConfig{WebhookSecret: testWebhookSecret})
	payload := []byte(`{
		"id": "evt_1",
		"object": "event",
		"type": "checkout.session.completed",
		"data": {"object": {
			"id": "cs_test_1",
			"object": "checkout.session",
			"payment_status": "paid",
			"payment_intent": "pi_123",
			"metadata": {"orderId": "01HORDER", "orderNumber": "NV-1-1000"}
		}}
	}`)

	event, err := gateway.VerifyWebhook(payload, signPayload(payload, testWebhookSecret, time.Now()))
	if err != nil {
		t.Fatalf("VerifyWebhook: %v", err)
	}
	if event.Type != EventCheckoutCompleted {
		t.Fatalf("unexpected type %q", event.Type)
	}
	if event.SessionID != "cs_test_1" || event.PaymentIntentID != "pi_123" {
		t.Fatalf("unexpected refs %+v", event)
	}
	if event.OrderID != "01HORDER" || event.OrderNumber != "NV-1-1000" {
		t.Fatalf("unexpected metadata %+v", event)
	}
}

func TestVerifyWebhookIgnoresOtherObjects(t *testing.T) {
	gateway := NewStripeGateway(StripeGatewayConfig{WebhookSecret: testWebhookSecret})
	payload := []byte(`{"id":"evt_2","object":"event","type":"payment_intent.created","data":{"object":{"id":"pi_1","object":"payment_intent"}}}`)

	event, err := gateway.VerifyWebhook(payload, signPayload(payload, testWebhookSecret, time.Now()))
	if err != nil {
		t.Fatalf("VerifyWebhook: %v", err)
	}
	if event.Type != "payment_intent.created" || event.SessionID != "" {
		t.Fatalf("unexpected event %+v", event)
	}
}

func TestVerifyWebhookFailsClosed(t *testing.T) {
	payload := []byte(`{"id":"evt_1","object":"event","type":"checkout.session.completed","data":{"object":{}}}`)

	if _, err := NewStripeGateway(StripeGatewayConfig{}).VerifyWebhook(payload, "t=1,v1=00"); !errors.Is(err, ErrWebhookNotConfigured) {
		t.Fatalf("expected ErrWebhookNotConfigured, got %v", err)
	}

	gateway := NewStripeGateway(StripeGatewayConfig{WebhookSecret: testWebhookSecret})
	cases := map[string]string{
		"missing header": "",
		"wrong secret":   signPayload(payload, "whsec_other", time.Now()),
		"stale":          signPayload(payload, testWebhookSecret, time.Now().Add(-time.Hour)),
		"garbage":        "not-a-signature",
	}
	for name, header := range cases {
		if _, err := gateway.VerifyWebhook(payload, header); !errors.Is(err, ErrWebhookSignature) {
			t.Fatalf("%s: expected ErrWebhookSignature, got %v", name, err)
		}
	}
}

func TestMinorUnits(t *testing.T) {
	cases := map[string]int64{"0.01": 1, "10": 1000, "19.999": 2000, "249.5": 24950, "0.005": 1}
	for in, want := range cases {
		if got := MinorUnits(decimal.RequireFromString(in)); got != want {
			t.Fatalf("MinorUnits(%s) = %d, want %d", in, got, want)
		}
	}
}

func TestCheckoutLocale(t *testing.T) {
	cases := map[string]string{
		"":                        "auto",
		"fr-FR,fr;q=0.9,en;q=0.8": "fr",
		"pt-BR":                   "pt-BR",
		"xx-unknown":              "auto",
		"en-US,en;q=0.9":          "en",
	}
	for header, want := range cases {
		if got := CheckoutLocale(header); got != want {
			t.Fatalf("CheckoutLocale(%q) = %q, want %q", header, got, want)
		}
	}
}
