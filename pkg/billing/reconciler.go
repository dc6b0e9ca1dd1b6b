package billing

import (
	"time"

	"github.com/google/uuid"
)

// Reconciler derives the durable effect of one verified event from the
// authoritative provider state. All methods are pure with respect to
// storage: they compute, the Store commits.
type Reconciler struct {
	now   func() time.Time
	newID func() string
}

// NewReconciler returns a reconciler with a real clock and uuid ids.
func NewReconciler() *Reconciler {
	return &Reconciler{
		now:   func() time.Time { return time.Now().UTC() },
		newID: uuid.NewString,
	}
}

// Checkout handles a completed checkout session. The session's amounts are
// authoritative for the first charge (they include the discount), while
// status and billing period come from the re-fetched subscription. A
// session for a subscription id already in the owner's list is an
// update-in-place, which the store guarantees by keying items on
// subscription id.
func (r *Reconciler) Checkout(ev *Event, owner OwnerRef, sub *ProviderSubscription, inv *ProviderInvoice) ReconciliationEffect {
	now := r.now()
	snap := r.snapshot(sub, now)
	if ev.Checkout != nil {
		if ev.Checkout.AmountSubtotal > 0 {
			snap.AmountSubtotal = ev.Checkout.AmountSubtotal
		}
		if ev.Checkout.AmountTotal > 0 {
			snap.AmountTotal = ev.Checkout.AmountTotal
		}
		if ev.Checkout.Currency != "" {
			snap.Currency = ev.Checkout.Currency
		}
	}

	hist := r.history(owner, snap, now)
	hist.Discount = firstNonEmpty(sub.Discount, checkoutDiscount(ev))
	if ev.Checkout != nil {
		hist.TaxAmount = ev.Checkout.TaxAmount
	}
	applyInvoice(&hist, inv)

	return r.effect(ev, owner, sub, snap, hist, now)
}

// SubscriptionChanged handles subscription created/updated events. Both
// derive the same way: the re-fetched state wins regardless of the
// relative order events arrived in.
func (r *Reconciler) SubscriptionChanged(ev *Event, owner OwnerRef, sub *ProviderSubscription) ReconciliationEffect {
	now := r.now()
	snap := r.snapshot(sub, now)
	hist := r.history(owner, snap, now)
	hist.Discount = sub.Discount
	return r.effect(ev, owner, sub, snap, hist, now)
}

// SubscriptionCanceled handles subscription deletion. The snapshot status
// is forced to canceled even if the provider still reports something else
// for the fetched record; entitlement survives until the paid period ends.
func (r *Reconciler) SubscriptionCanceled(ev *Event, owner OwnerRef, sub *ProviderSubscription) ReconciliationEffect {
	now := r.now()
	snap := r.snapshot(sub, now)
	snap.Status = StatusCanceled
	hist := r.history(owner, snap, now)
	hist.Discount = sub.Discount
	return r.effect(ev, owner, sub, snap, hist, now)
}

// InvoicePaid handles a successful invoice payment.
func (r *Reconciler) InvoicePaid(ev *Event, owner OwnerRef, sub *ProviderSubscription, inv *ProviderInvoice) ReconciliationEffect {
	now := r.now()
	snap := r.snapshot(sub, now)
	hist := r.history(owner, snap, now)
	hist.Discount = sub.Discount
	hist.PaymentStatus = PaymentPaid
	applyInvoice(&hist, inv)
	return r.effect(ev, owner, sub, snap, hist, now)
}

// InvoiceFailed handles a failed invoice payment. The history item is
// recorded as unpaid; the snapshot reflects whatever degraded status the
// provider reports (typically past_due), and the grace-period rule in
// Entitled decides whether access survives.
func (r *Reconciler) InvoiceFailed(ev *Event, owner OwnerRef, sub *ProviderSubscription, inv *ProviderInvoice) ReconciliationEffect {
	now := r.now()
	snap := r.snapshot(sub, now)
	hist := r.history(owner, snap, now)
	hist.Discount = sub.Discount
	applyInvoice(&hist, inv)
	hist.PaymentStatus = PaymentUnpaid
	hist.PaidAt = nil
	return r.effect(ev, owner, sub, snap, hist, now)
}

func (r *Reconciler) snapshot(sub *ProviderSubscription, now time.Time) Snapshot {
	return Snapshot{
		SubscriptionID:     sub.ID,
		Name:               sub.Name,
		PriceID:            sub.PriceID,
		Status:             sub.Status,
		AmountSubtotal:     sub.AmountSubtotal,
		AmountTotal:        sub.AmountSubtotal,
		Currency:           sub.Currency,
		CurrentPeriodStart: sub.CurrentPeriodStart,
		CurrentPeriodEnd:   sub.CurrentPeriodEnd,
		CustomerID:         sub.CustomerID,
		UpdatedAt:          now,
	}
}

func (r *Reconciler) history(owner OwnerRef, snap Snapshot, now time.Time) HistoryItem {
	return HistoryItem{
		ID:             r.newID(),
		Owner:          owner,
		SubscriptionID: snap.SubscriptionID,
		Name:           snap.Name,
		PriceID:        snap.PriceID,
		Status:         snap.Status,
		AmountSubtotal: snap.AmountSubtotal,
		AmountTotal:    snap.AmountTotal,
		Currency:       snap.Currency,
		PeriodStart:    snap.CurrentPeriodStart,
		PeriodEnd:      snap.CurrentPeriodEnd,
		PaymentStatus:  PaymentUnpaid,
		CreatedAt:      now,
	}
}

func (r *Reconciler) effect(ev *Event, owner OwnerRef, sub *ProviderSubscription, snap Snapshot, hist HistoryItem, now time.Time) ReconciliationEffect {
	return ReconciliationEffect{
		EventID:    ev.ID,
		Owner:      owner,
		Snapshot:   snap,
		History:    hist,
		Entitled:   Entitled(snap.Status, snap.CurrentPeriodEnd, now),
		CustomerID: sub.CustomerID,
		Card:       sub.Card,
	}
}

// applyInvoice folds authoritative invoice detail into a history item.
// A nil invoice leaves the optional fields at their defaults rather than
// failing: invoice detail is not guaranteed for every event category.
func applyInvoice(hist *HistoryItem, inv *ProviderInvoice) {
	if inv == nil {
		return
	}
	hist.InvoiceID = inv.ID
	hist.InvoiceURL = inv.HostedURL
	hist.PaymentStatus = inv.PaymentStatus
	hist.PaidAt = inv.PaidAt
	hist.TaxRate = inv.TaxRate
	if inv.TaxAmount > 0 {
		hist.TaxAmount = inv.TaxAmount
	}
	if inv.Subtotal > 0 {
		hist.AmountSubtotal = inv.Subtotal
	}
	if inv.Total > 0 {
		hist.AmountTotal = inv.Total
	}
}

func checkoutDiscount(ev *Event) string {
	if ev.Checkout == nil {
		return ""
	}
	return ev.Checkout.Discount
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
