package billing

import "errors"

var (
	// ErrUnauthenticated indicates a missing, malformed or forged webhook
	// signature. The event is rejected before any other processing.
	ErrUnauthenticated = errors.New("webhook signature verification failed")

	// ErrMalformedEvent indicates a verified event that misses fields
	// required for its category. Redelivery would fail identically, so the
	// transport layer acknowledges it with a client error.
	ErrMalformedEvent = errors.New("malformed billing event")

	// ErrOwnerNotFound indicates backward resolution found no owner for a
	// subscription id. Retryable: a later redelivery may succeed once the
	// owning record exists.
	ErrOwnerNotFound = errors.New("subscription owner not found")

	// ErrProviderUnavailable indicates a transient failure calling the
	// payment provider for authoritative detail. Retryable.
	ErrProviderUnavailable = errors.New("payment provider unavailable")

	// ErrStoreConflict indicates the reconciliation transaction kept
	// aborting on concurrent modification after internal retries.
	ErrStoreConflict = errors.New("store transaction conflict")

	// ErrEventAlreadyProcessed indicates the durable idempotency record for
	// an event id already exists; the event is a replay and produced no
	// new side effects.
	ErrEventAlreadyProcessed = errors.New("event already processed")

	ErrSubscriptionNotFound = errors.New("subscription not found")
	ErrListNotFound         = errors.New("subscription list not found")
	ErrInvalidOwner         = errors.New("invalid subscription owner reference")
	ErrInvalidPromoCode     = errors.New("invalid or inactive promo code")
	ErrNoCheckoutURL        = errors.New("no checkout URL returned from provider")
	ErrMissingPriceID       = errors.New("price ID is required")
	ErrMissingAPIKey        = errors.New("provider API key is required")
	ErrMissingWebhookSecret = errors.New("provider webhook secret is required")
)
