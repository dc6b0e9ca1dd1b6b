package billing

import (
	"context"
	"time"
)

// EventType is the normalized billing event category. The provider
// implementation maps its own event names onto these.
type EventType string

const (
	EventCheckoutCompleted     EventType = "checkout_completed"
	EventSubscriptionCreated   EventType = "subscription_created"
	EventSubscriptionUpdated   EventType = "subscription_updated"
	EventSubscriptionCanceled  EventType = "subscription_canceled"
	EventInvoicePaid           EventType = "invoice_paid"
	EventInvoicePaymentFailed  EventType = "invoice_payment_failed"
	EventPaymentMethodCaptured EventType = "payment_method_captured"

	// EventUnknown marks provider events the engine does not care about.
	// They are acknowledged without side effects so the provider stops
	// redelivering them.
	EventUnknown EventType = "unknown"
)

// Event is a verified, normalized webhook event. Only fields relevant to
// the event's category are populated; handlers re-fetch authoritative
// state rather than trusting the payload alone.
type Event struct {
	ID             string
	Type           EventType
	ProviderType   string // original provider event name
	SubscriptionID string
	InvoiceID      string
	CustomerID     string

	// Owner carries forward-resolution metadata when the originating
	// checkout session set it. Zero value means backward resolution.
	Owner OwnerRef

	// Checkout holds session amounts for checkout-completed events; the
	// session total is authoritative for the discounted first charge.
	Checkout *CheckoutDetail

	PaymentMethodID string
	OccurredAt      time.Time
}

// CheckoutDetail carries the monetary outcome of a completed checkout
// session.
type CheckoutDetail struct {
	SessionID      string
	AmountSubtotal int64
	AmountTotal    int64
	Currency       string
	InvoiceID      string
	TaxAmount      int64
	Discount       string
}

// ProviderSubscription is the authoritative current state of one
// subscription, re-fetched from the provider at processing time.
type ProviderSubscription struct {
	ID                 string
	Status             SubscriptionStatus
	CustomerID         string
	PriceID            string
	Name               string
	AmountSubtotal     int64
	Currency           string
	CurrentPeriodStart time.Time
	CurrentPeriodEnd   time.Time
	Discount           string
	Card               *CardSummary
}

// ProviderInvoice is the authoritative state of one invoice.
type ProviderInvoice struct {
	ID             string
	SubscriptionID string
	PaymentStatus  PaymentStatus
	Subtotal       int64
	Total          int64
	Currency       string
	HostedURL      string
	PaidAt         *time.Time
	TaxRate        float64
	TaxAmount      int64
}

// Plan is one purchasable catalog entry, assembled from the provider's
// product and price listings.
type Plan struct {
	Name        string `json:"name"`
	PriceID     string `json:"price_id"`
	Description string `json:"description,omitempty"`
	UnitAmount  int64  `json:"unit_amount"`
	Currency    string `json:"currency"`
	Interval    string `json:"interval,omitempty"`
}

// CheckoutParams describes a checkout session to create.
type CheckoutParams struct {
	Owner      OwnerRef
	PriceID    string
	PromoCode  string
	Email      string
	SuccessURL string
	CancelURL  string
}

// CheckoutSession is a hosted checkout the owner is redirected to.
type CheckoutSession struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// Provider abstracts the payment provider. Implementations must verify
// webhook authenticity before returning an Event and should surface
// transient upstream failures as ErrProviderUnavailable so callers can
// signal redelivery.
type Provider interface {
	// ParseWebhook verifies the payload signature and normalizes the event.
	ParseWebhook(payload []byte, signature string) (*Event, error)

	// GetSubscription fetches the authoritative subscription state.
	GetSubscription(ctx context.Context, id string) (*ProviderSubscription, error)

	// GetInvoice fetches the authoritative invoice state.
	GetInvoice(ctx context.Context, id string) (*ProviderInvoice, error)

	// GetPaymentMethod fetches a card summary for a payment method id.
	GetPaymentMethod(ctx context.Context, id string) (*CardSummary, error)

	// CreateCheckoutSession creates a hosted checkout session that carries
	// the owner metadata used for forward resolution.
	CreateCheckoutSession(ctx context.Context, params CheckoutParams) (*CheckoutSession, error)

	// CancelSubscription cancels a subscription at the provider.
	CancelSubscription(ctx context.Context, id string) error

	// ListPlans returns the purchasable catalog.
	ListPlans(ctx context.Context) ([]Plan, error)
}
