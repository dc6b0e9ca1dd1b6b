// Package billing reconciles a payment provider's subscription lifecycle
// with the internal entitlement ledger.
//
// The provider delivers webhook events at-least-once and out of order. The
// engine converges regardless: every event is verified, deduplicated,
// resolved to its owning entity and then reconciled against state
// re-fetched from the provider at processing time, so a stale event simply
// re-derives current truth instead of applying outdated payload data.
//
// # Pipeline
//
//	verified event -> resolve owner -> classify -> handle -> commit atomically
//
//   - Provider.ParseWebhook rejects forged payloads before anything else
//     runs; no side effects, no idempotency record.
//   - IdempotencyGuard drops replays on the fast path. Correctness does
//     not depend on it: the Store writes a durable processed-event marker
//     inside the reconciliation transaction, and a duplicate marker aborts
//     the replay as a clean no-op.
//   - Owner resolution is forward (metadata stamped at checkout) or
//     backward (a reverse index from subscription id to owner, maintained
//     transactionally).
//   - Reconciler handlers are pure: they derive the new snapshot, the
//     immutable history item and the entitlement flag from provider truth.
//   - Store.ApplyReconciliation commits all three together with the
//     reverse-index entry and the processed-event marker in one
//     transaction.
//
// # Entitlement
//
// An owner keeps feature access while a subscription is active. A
// canceled, past-due or unpaid subscription keeps access until its paid
// period ends (the grace period). The Sweeper revokes lapsed grace windows
// on a schedule, since no provider event fires at period end.
//
// Monetary amounts are integer minor units throughout. Provider epoch
// timestamps are converted to UTC time.Time at the provider boundary.
package billing
