package payments

import (
	"context"
	"errors"
	"strings"

	"golang.org/x/text/language"

	domain "github.com/naturevibes/api/internal/domain"
)

var (
	// ErrWebhookSignature is returned when a webhook payload cannot be authenticated or parsed.
	ErrWebhookSignature = errors.New("payments: invalid webhook signature")
	// ErrWebhookNotConfigured is returned when no webhook signing secret is available.
	ErrWebhookNotConfigured = errors.New("payments: webhook secret not configured")
	// ErrGatewayNotConfigured is returned when checkout is attempted without API credentials.
	ErrGatewayNotConfigured = errors.New("payments: gateway not configured")
)

// Event kinds the reconciliation flow reacts to.
const (
	EventCheckoutCompleted          = "checkout.session.completed"
	EventCheckoutExpired            = "checkout.session.expired"
	EventCheckoutAsyncPaymentFailed = "checkout.session.async_payment_failed"
)

// CheckoutRequest carries the order snapshot a hosted checkout session is built from.
type CheckoutRequest struct {
	OrderID       string
	OrderNumber   string
	Items         []domain.OrderItem
	CustomerEmail string
	SuccessURL    string
	CancelURL     string
	Locale        string
}

// CheckoutSession is the provider session the buyer is redirected to.
type CheckoutSession struct {
	ID          string
	RedirectURL string
}

// WebhookEvent is a verified provider callback reduced to the fields reconciliation needs.
type WebhookEvent struct {
	ID              string
	Type            string
	SessionID       string
	PaymentIntentID string
	OrderID         string
	OrderNumber     string
	PaymentStatus   string
	CustomerEmail   string
}

// WebhookVerifier authenticates raw webhook payloads.
type WebhookVerifier interface {
	VerifyWebhook(payload []byte, signatureHeader string) (WebhookEvent, error)
}

// Gateway is the payment provider used for hosted checkout. Calls are never retried internally.
type Gateway interface {
	WebhookVerifier
	CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (CheckoutSession, error)
}

// checkoutLocales lists the hosted checkout locales offered to buyers.
var checkoutLocales = []string{
	"en", "en-GB", "de", "es", "fr", "it", "ja", "nl", "pt", "pt-BR", "zh", "sv", "da", "fi", "nb", "pl",
}

var checkoutLocaleMatcher = language.NewMatcher(func() []language.Tag {
	tags := make([]language.Tag, 0, len(checkoutLocales))
	for _, l := range checkoutLocales {
		tags = append(tags, language.MustParse(l))
	}
	return tags
}())

// CheckoutLocale picks a hosted checkout locale from an Accept-Language header. "auto" lets the
// provider detect the browser language.
func CheckoutLocale(acceptLanguage string) string {
	acceptLanguage = strings.TrimSpace(acceptLanguage)
	if acceptLanguage == "" {
		return "auto"
	}
	desired, _, err := language.ParseAcceptLanguage(acceptLanguage)
	if err != nil || len(desired) == 0 {
		return "auto"
	}
	_, index, confidence := checkoutLocaleMatcher.Match(desired...)
	if confidence == language.No || index < 0 || index >= len(checkoutLocales) {
		return "auto"
	}
	return checkoutLocales[index]
}
