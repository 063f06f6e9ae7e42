package services

import (
	"context"
	"errors"
	"strings"
	"time"

	domain "github.com/naturevibes/api/internal/domain"
	"github.com/naturevibes/api/internal/payments"
	"github.com/naturevibes/api/internal/repositories"
)

// ReconciliationOutcome describes what a webhook event did. Every outcome is an acknowledgement.
type ReconciliationOutcome string

const (
	OutcomeIgnored       ReconciliationOutcome = "ignored"
	OutcomeOrderNotFound ReconciliationOutcome = "order_not_found"
	OutcomePaid          ReconciliationOutcome = "paid"
	OutcomeFailed        ReconciliationOutcome = "failed"
	OutcomeUnchanged     ReconciliationOutcome = "unchanged"
)

// ReconciliationServiceDeps bundles collaborators required to construct the reconciliation service.
type ReconciliationServiceDeps struct {
	Orders repositories.OrderRepository
	Events OrderEventPublisher
	Clock  func() time.Time
	Logger Logger
}

type reconciliationService struct {
	orders repositories.OrderRepository
	events eventEmitter
	clock  func() time.Time
	logger Logger
}

var _ ReconciliationService = (*reconciliationService)(nil)

func NewReconciliationService(deps ReconciliationServiceDeps) (ReconciliationService, error) {
	if deps.Orders == nil {
		return nil, errors.New("reconciliation service: order repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = noopLogger
	}
	return &reconciliationService{
		orders: deps.Orders,
		events: eventEmitter{publisher: deps.Events, logger: logger},
		clock:  func() time.Time { return clock().UTC() },
		logger: logger,
	}, nil
}

// HandleEvent applies one verified event as a single conditional write. It only returns an
// error when the order store cannot be reached, so the provider retries later.
func (s *reconciliationService) HandleEvent(ctx context.Context, event payments.WebhookEvent) (ReconciliationOutcome, error) {
	locator := repositories.OrderLocator{
		OrderID:    strings.TrimSpace(event.OrderID),
		SessionRef: strings.TrimSpace(event.SessionID),
	}

	switch event.Type {
	case payments.EventCheckoutCompleted:
		if locator.OrderID == "" && locator.SessionRef == "" {
			return s.done(ctx, event, OutcomeOrderNotFound, nil)
		}
		return s.settle(ctx, event, locator)
	case payments.EventCheckoutExpired, payments.EventCheckoutAsyncPaymentFailed:
		if locator.OrderID == "" && locator.SessionRef == "" {
			return s.done(ctx, event, OutcomeOrderNotFound, nil)
		}
		return s.fail(ctx, event, locator)
	default:
		return s.done(ctx, event, OutcomeIgnored, nil)
	}
}

func (s *reconciliationService) settle(ctx context.Context, event payments.WebhookEvent, locator repositories.OrderLocator) (ReconciliationOutcome, error) {
	now := s.clock()
	settlement := repositories.PaymentSettlement{
		SessionRef:     locator.SessionRef,
		TransactionRef: strings.TrimSpace(event.PaymentIntentID),
		Method:         domain.PaymentMethodStripe,
		PaidAt:         now,
	}
	order, changed, err := s.orders.MarkPaid(ctx, locator, settlement)
	if bySession, ok := sessionFallback(locator, err); ok {
		order, changed, err = s.orders.MarkPaid(ctx, bySession, settlement)
	}
	if outcome, handled, err := s.classify(err); handled {
		return s.done(ctx, event, outcome, err)
	}
	if !changed {
		return s.done(ctx, event, OutcomeUnchanged, nil, "orderId", order.ID)
	}
	s.events.emit(ctx, OrderEventPaid, order, now)
	return s.done(ctx, event, OutcomePaid, nil, "orderId", order.ID)
}

func (s *reconciliationService) fail(ctx context.Context, event payments.WebhookEvent, locator repositories.OrderLocator) (ReconciliationOutcome, error) {
	now := s.clock()
	order, changed, err := s.orders.MarkPaymentFailed(ctx, locator, now)
	if bySession, ok := sessionFallback(locator, err); ok {
		order, changed, err = s.orders.MarkPaymentFailed(ctx, bySession, now)
	}
	if outcome, handled, err := s.classify(err); handled {
		return s.done(ctx, event, outcome, err)
	}
	if !changed {
		return s.done(ctx, event, OutcomeUnchanged, nil, "orderId", order.ID)
	}
	s.events.emit(ctx, OrderEventPaymentFailed, order, now)
	return s.done(ctx, event, OutcomeFailed, nil, "orderId", order.ID)
}

// sessionFallback retries by checkout session when the metadata order id matched nothing.
func sessionFallback(locator repositories.OrderLocator, err error) (repositories.OrderLocator, bool) {
	if !isRepoNotFound(err) || locator.OrderID == "" || locator.SessionRef == "" {
		return repositories.OrderLocator{}, false
	}
	return repositories.OrderLocator{SessionRef: locator.SessionRef}, true
}

// classify turns repository errors into outcomes. Unknown orders are acknowledged; only an
// unreachable store is surfaced.
func (s *reconciliationService) classify(err error) (ReconciliationOutcome, bool, error) {
	switch {
	case err == nil:
		return "", false, nil
	case isRepoNotFound(err):
		return OutcomeOrderNotFound, true, nil
	case isRepoConflict(err):
		return OutcomeUnchanged, true, nil
	default:
		return "", true, storeError("reconcile payment", err)
	}
}

func (s *reconciliationService) done(ctx context.Context, event payments.WebhookEvent, outcome ReconciliationOutcome, err error, kv ...string) (ReconciliationOutcome, error) {
	fields := map[string]any{
		"eventId":   event.ID,
		"eventType": event.Type,
		"sessionId": event.SessionID,
		"outcome":   string(outcome),
	}
	for i := 0; i+1 < len(kv); i += 2 {
		fields[kv[i]] = kv[i+1]
	}
	if err != nil {
		fields["error"] = err.Error()
		s.logger(ctx, "reconciliation.event.failed", fields)
		return outcome, err
	}
	s.logger(ctx, "reconciliation.event.handled", fields)
	return outcome, nil
}
