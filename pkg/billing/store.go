package billing

import (
	"context"
	"time"
)

// ReconciliationEffect is the full set of durable changes one event
// produces. The store must commit all of it atomically together with the
// processed-event marker: no partial snapshot, no orphan history item, no
// stale entitlement flag.
type ReconciliationEffect struct {
	EventID    string
	Owner      OwnerRef
	Snapshot   Snapshot
	History    HistoryItem
	Entitled   bool
	CustomerID string
	Card       *CardSummary
}

// Store persists owners, subscription lists, billing history and the
// durable idempotency markers.
type Store interface {
	// ApplyReconciliation commits the effect as one transaction. Returns
	// ErrEventAlreadyProcessed when a marker for the event id already
	// exists, and ErrStoreConflict when concurrent modification kept the
	// transaction from committing.
	ApplyReconciliation(ctx context.Context, eff ReconciliationEffect) error

	// ResolveOwner maps a subscription id back to its owner (backward
	// resolution). Returns ErrOwnerNotFound on a miss.
	ResolveOwner(ctx context.Context, subscriptionID string) (OwnerRef, error)

	// ResolveOwnerByCustomer maps a provider customer id to the owner whose
	// list carries it. Returns ErrOwnerNotFound on a miss.
	ResolveOwnerByCustomer(ctx context.Context, customerID string) (OwnerRef, error)

	// UpdateCard refreshes the owner's last-known card summary.
	UpdateCard(ctx context.Context, owner OwnerRef, card CardSummary) error

	// GetSubscriptionList returns the owner's list, ErrListNotFound if the
	// owner never had a billing event.
	GetSubscriptionList(ctx context.Context, owner OwnerRef) (*SubscriptionList, error)

	// ListHistory returns the owner's billing history, newest first.
	ListHistory(ctx context.Context, owner OwnerRef, limit int64) ([]HistoryItem, error)

	// RevokeLapsedEntitlements clears the entitlement flag of owners whose
	// snapshots are all out of their grace window at the given time.
	// Returns the number of owners revoked.
	RevokeLapsedEntitlements(ctx context.Context, now time.Time) (int64, error)
}
