// Package mongostore implements billing.Store on MongoDB.
//
// One document per owner holds the subscription list; billing history is
// append-only in its own collection; a reverse-index collection maps
// subscription ids back to owners; processed webhook event ids live in a
// dedicated collection whose _id uniqueness is the durable idempotency
// barrier. ApplyReconciliation commits all of it in a single multi-document
// transaction, so concurrent events for the same owner serialize on the
// store instead of racing on read-modify-write.
package mongostore
