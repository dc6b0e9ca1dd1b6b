package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// Service is the public surface of the billing engine: webhook
// reconciliation plus the thin outbound paths (checkout, cancellation,
// catalog) and the read-only queries.
type Service interface {
	// HandleWebhook verifies, classifies and reconciles one provider
	// event. A nil return means the event was fully processed or is a
	// deliberate no-op (replay, unknown type); the transport layer maps
	// errors to retry/no-retry statuses.
	HandleWebhook(ctx context.Context, payload []byte, signature string) error

	// CreateCheckoutSession starts a hosted checkout for an owner.
	CreateCheckoutSession(ctx context.Context, params CheckoutParams) (*CheckoutSession, error)

	// CancelSubscription cancels at the provider and reconciles the local
	// records immediately, without waiting for the deletion webhook.
	CancelSubscription(ctx context.Context, subscriptionID string) error

	// ListPlans returns the provider's purchasable catalog.
	ListPlans(ctx context.Context) ([]Plan, error)

	// GetSubscriptionList returns the owner's subscription summary.
	GetSubscriptionList(ctx context.Context, owner OwnerRef) (*SubscriptionList, error)

	// ListHistory returns the owner's billing history, newest first.
	ListHistory(ctx context.Context, owner OwnerRef, limit int64) ([]HistoryItem, error)
}

type service struct {
	provider Provider
	store    Store
	guard    IdempotencyGuard
	rec      *Reconciler
	log      *slog.Logger
}

// NewService creates the billing service. Panics if provider or store is
// nil to fail fast during initialization; the guard defaults to NoopGuard
// so the durable marker alone enforces idempotency.
func NewService(provider Provider, store Store, opts ...ServiceOption) Service {
	if provider == nil {
		panic("billing: Provider is required")
	}
	if store == nil {
		panic("billing: Store is required")
	}

	s := &service{
		provider: provider,
		store:    store,
		guard:    NoopGuard{},
		rec:      NewReconciler(),
		log:      slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *service) HandleWebhook(ctx context.Context, payload []byte, signature string) error {
	ev, err := s.provider.ParseWebhook(payload, signature)
	if err != nil {
		return err
	}

	if ev.Type == EventUnknown {
		s.log.DebugContext(ctx, "ignoring unhandled event type",
			slog.String("event_id", ev.ID), slog.String("provider_type", ev.ProviderType))
		return nil
	}

	// Fast-path replay check. Guard failures only cost a redundant
	// reconciliation, never correctness, so they are logged and ignored.
	if seen, err := s.guard.Seen(ctx, ev.ID); err != nil {
		s.log.WarnContext(ctx, "idempotency guard unavailable", slog.Any("error", err))
	} else if seen {
		s.log.InfoContext(ctx, "dropping replayed event", slog.String("event_id", ev.ID))
		return nil
	}

	if err := s.reconcile(ctx, ev); err != nil {
		if errors.Is(err, ErrEventAlreadyProcessed) {
			s.log.InfoContext(ctx, "event already processed",
				slog.String("event_id", ev.ID))
			_ = s.guard.Mark(ctx, ev.ID)
			return nil
		}
		return err
	}

	// Marked only after the durable commit so a crash in between is safe:
	// redelivery hits the processed-event record instead.
	if err := s.guard.Mark(ctx, ev.ID); err != nil {
		s.log.WarnContext(ctx, "failed to mark event in guard", slog.Any("error", err))
	}

	s.log.InfoContext(ctx, "event reconciled",
		slog.String("event_id", ev.ID),
		slog.String("type", string(ev.Type)),
		slog.String("subscription_id", ev.SubscriptionID))
	return nil
}

// reconcile dispatches one verified, non-replayed event to its handler.
func (s *service) reconcile(ctx context.Context, ev *Event) error {
	switch ev.Type {
	case EventCheckoutCompleted:
		return s.reconcileCheckout(ctx, ev)
	case EventSubscriptionCreated, EventSubscriptionUpdated:
		return s.reconcileSubscription(ctx, ev, false)
	case EventSubscriptionCanceled:
		return s.reconcileSubscription(ctx, ev, true)
	case EventInvoicePaid:
		return s.reconcileInvoice(ctx, ev, false)
	case EventInvoicePaymentFailed:
		return s.reconcileInvoice(ctx, ev, true)
	case EventPaymentMethodCaptured:
		return s.reconcilePaymentMethod(ctx, ev)
	default:
		return nil
	}
}

func (s *service) reconcileCheckout(ctx context.Context, ev *Event) error {
	if ev.SubscriptionID == "" {
		return fmt.Errorf("%w: checkout session without subscription id", ErrMalformedEvent)
	}

	owner, err := s.resolveOwner(ctx, ev)
	if err != nil {
		return err
	}

	sub, err := s.provider.GetSubscription(ctx, ev.SubscriptionID)
	if err != nil {
		return err
	}

	var inv *ProviderInvoice
	if ev.Checkout != nil && ev.Checkout.InvoiceID != "" {
		if inv, err = s.provider.GetInvoice(ctx, ev.Checkout.InvoiceID); err != nil {
			return err
		}
	}

	return s.store.ApplyReconciliation(ctx, s.rec.Checkout(ev, owner, sub, inv))
}

func (s *service) reconcileSubscription(ctx context.Context, ev *Event, canceled bool) error {
	if ev.SubscriptionID == "" {
		return fmt.Errorf("%w: %s event without subscription id", ErrMalformedEvent, ev.ProviderType)
	}

	owner, err := s.resolveOwner(ctx, ev)
	if err != nil {
		return err
	}

	sub, err := s.provider.GetSubscription(ctx, ev.SubscriptionID)
	if err != nil {
		return err
	}

	if canceled {
		return s.store.ApplyReconciliation(ctx, s.rec.SubscriptionCanceled(ev, owner, sub))
	}
	return s.store.ApplyReconciliation(ctx, s.rec.SubscriptionChanged(ev, owner, sub))
}

func (s *service) reconcileInvoice(ctx context.Context, ev *Event, failed bool) error {
	// Invoices that are not tied to a subscription (one-off charges) are
	// none of the engine's business.
	if ev.SubscriptionID == "" {
		s.log.DebugContext(ctx, "ignoring invoice without subscription",
			slog.String("event_id", ev.ID), slog.String("invoice_id", ev.InvoiceID))
		return nil
	}

	owner, err := s.resolveOwner(ctx, ev)
	if err != nil {
		return err
	}

	sub, err := s.provider.GetSubscription(ctx, ev.SubscriptionID)
	if err != nil {
		return err
	}

	var inv *ProviderInvoice
	if ev.InvoiceID != "" {
		if inv, err = s.provider.GetInvoice(ctx, ev.InvoiceID); err != nil {
			return err
		}
	}

	if failed {
		return s.store.ApplyReconciliation(ctx, s.rec.InvoiceFailed(ev, owner, sub, inv))
	}
	return s.store.ApplyReconciliation(ctx, s.rec.InvoicePaid(ev, owner, sub, inv))
}

// reconcilePaymentMethod refreshes the owner's card summary. It is not a
// billing state change, so it bypasses the transactional path.
func (s *service) reconcilePaymentMethod(ctx context.Context, ev *Event) error {
	if ev.PaymentMethodID == "" || ev.CustomerID == "" {
		return nil
	}

	owner, err := s.store.ResolveOwnerByCustomer(ctx, ev.CustomerID)
	if err != nil {
		if errors.Is(err, ErrOwnerNotFound) {
			// No subscription references this customer yet; the card will
			// be captured with the next subscription event instead.
			return nil
		}
		return err
	}

	card, err := s.provider.GetPaymentMethod(ctx, ev.PaymentMethodID)
	if err != nil {
		return err
	}
	return s.store.UpdateCard(ctx, owner, *card)
}

// resolveOwner prefers the forward metadata stamped on the checkout
// session and falls back to the reverse index for bare lifecycle events.
func (s *service) resolveOwner(ctx context.Context, ev *Event) (OwnerRef, error) {
	if ev.Owner.Valid() {
		return ev.Owner, nil
	}
	if ev.SubscriptionID == "" {
		return OwnerRef{}, fmt.Errorf("%w: no owner metadata and no subscription id", ErrMalformedEvent)
	}
	return s.store.ResolveOwner(ctx, ev.SubscriptionID)
}

func (s *service) CreateCheckoutSession(ctx context.Context, params CheckoutParams) (*CheckoutSession, error) {
	if !params.Owner.Valid() {
		return nil, ErrInvalidOwner
	}
	if params.PriceID == "" {
		return nil, ErrMissingPriceID
	}
	return s.provider.CreateCheckoutSession(ctx, params)
}

func (s *service) CancelSubscription(ctx context.Context, subscriptionID string) error {
	owner, err := s.store.ResolveOwner(ctx, subscriptionID)
	if err != nil {
		return err
	}

	if err := s.provider.CancelSubscription(ctx, subscriptionID); err != nil {
		return err
	}

	// Reconcile immediately so the caller observes the cancellation; the
	// deletion webhook that follows re-derives the same state and lands on
	// its own event id.
	sub, err := s.provider.GetSubscription(ctx, subscriptionID)
	if err != nil {
		return err
	}

	ev := &Event{
		ID:             "local_cancel_" + s.rec.newID(),
		Type:           EventSubscriptionCanceled,
		ProviderType:   "local.cancellation",
		SubscriptionID: subscriptionID,
	}
	return s.store.ApplyReconciliation(ctx, s.rec.SubscriptionCanceled(ev, owner, sub))
}

func (s *service) ListPlans(ctx context.Context) ([]Plan, error) {
	return s.provider.ListPlans(ctx)
}

func (s *service) GetSubscriptionList(ctx context.Context, owner OwnerRef) (*SubscriptionList, error) {
	if !owner.Valid() {
		return nil, ErrInvalidOwner
	}
	return s.store.GetSubscriptionList(ctx, owner)
}

func (s *service) ListHistory(ctx context.Context, owner OwnerRef, limit int64) ([]HistoryItem, error) {
	if !owner.Valid() {
		return nil, ErrInvalidOwner
	}
	if limit <= 0 {
		limit = 10
	}
	return s.store.ListHistory(ctx, owner, limit)
}
