package billing

import (
	"fmt"
	"time"
)

// OwnerType discriminates the two kinds of entities that can hold a
// subscription entitlement.
type OwnerType string

const (
	OwnerTypeUser     OwnerType = "user"
	OwnerTypeLocation OwnerType = "location"
)

// OwnerRef identifies the entity a subscription belongs to. For
// location-owned subscriptions PayerID carries the user who pays; for
// user-owned subscriptions the owner pays for themselves.
type OwnerRef struct {
	Type    OwnerType `json:"type"`
	ID      string    `json:"id"`
	PayerID string    `json:"payer_id,omitempty"`
}

// Valid reports whether the reference carries enough information to be
// used as a document key.
func (o OwnerRef) Valid() bool {
	if o.ID == "" {
		return false
	}
	return o.Type == OwnerTypeUser || o.Type == OwnerTypeLocation
}

// Payer returns the paying user id, falling back to the owner id for
// user-owned subscriptions.
func (o OwnerRef) Payer() string {
	if o.PayerID != "" {
		return o.PayerID
	}
	return o.ID
}

func (o OwnerRef) String() string {
	return fmt.Sprintf("%s:%s", o.Type, o.ID)
}

// SubscriptionStatus mirrors the provider's subscription lifecycle states
// the engine cares about.
type SubscriptionStatus string

const (
	StatusActive            SubscriptionStatus = "active"
	StatusCanceled          SubscriptionStatus = "canceled"
	StatusUnpaid            SubscriptionStatus = "unpaid"
	StatusPaused            SubscriptionStatus = "paused"
	StatusIncompleteExpired SubscriptionStatus = "incomplete_expired"
	StatusPastDue           SubscriptionStatus = "past_due"
)

// PaymentStatus describes the settlement state of a single invoice.
type PaymentStatus string

const (
	PaymentPaid          PaymentStatus = "paid"
	PaymentUnpaid        PaymentStatus = "unpaid"
	PaymentPartiallyPaid PaymentStatus = "partially_paid"
)

// Snapshot is the latest known state of one provider subscription. It is
// mutated in place by every reconciliation event for its subscription id
// and never deleted.
type Snapshot struct {
	SubscriptionID     string             `json:"subscription_id"`
	Name               string             `json:"name"`
	PriceID            string             `json:"price_id"`
	Status             SubscriptionStatus `json:"status"`
	AmountSubtotal     int64              `json:"amount_subtotal"` // minor units
	AmountTotal        int64              `json:"amount_total"`    // minor units, after discount
	Currency           string             `json:"currency"`
	CurrentPeriodStart time.Time          `json:"current_period_start"`
	CurrentPeriodEnd   time.Time          `json:"current_period_end"`
	CustomerID         string             `json:"customer_id"`
	UpdatedAt          time.Time          `json:"updated_at"`
}

// CardSummary is the last-known payment card attached to an owner's
// subscriptions. Display data only, never the full PAN.
type CardSummary struct {
	ID         string `json:"id"`
	HolderName string `json:"holder_name,omitempty"`
	Brand      string `json:"brand"`
	Last4      string `json:"last4"`
	Expiry     string `json:"expiry"` // MM/YY
}

// SubscriptionList is the per-owner container of subscription snapshots.
// Exactly one exists per owner, created lazily on the first event.
type SubscriptionList struct {
	Owner     OwnerRef     `json:"owner"`
	Items     []Snapshot   `json:"items"`
	Card      *CardSummary `json:"card,omitempty"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
}

// Item returns the snapshot for the given subscription id, or nil.
func (l *SubscriptionList) Item(subscriptionID string) *Snapshot {
	for i := range l.Items {
		if l.Items[i].SubscriptionID == subscriptionID {
			return &l.Items[i]
		}
	}
	return nil
}

// HistoryItem is an immutable record of one billing event affecting a
// subscription. Append-only: one new item per processed event.
type HistoryItem struct {
	ID             string             `json:"id"`
	Owner          OwnerRef           `json:"owner"`
	SubscriptionID string             `json:"subscription_id"`
	Name           string             `json:"name"`
	PriceID        string             `json:"price_id"`
	Status         SubscriptionStatus `json:"status"`
	AmountSubtotal int64              `json:"amount_subtotal"`
	AmountTotal    int64              `json:"amount_total"`
	Currency       string             `json:"currency"`
	Discount       string             `json:"discount,omitempty"`
	PeriodStart    time.Time          `json:"period_start"`
	PeriodEnd      time.Time          `json:"period_end"`
	InvoiceID      string             `json:"invoice_id,omitempty"`
	InvoiceURL     string             `json:"invoice_url,omitempty"`
	PaymentStatus  PaymentStatus      `json:"payment_status"`
	PaidAt         *time.Time         `json:"paid_at,omitempty"`
	TaxRate        float64            `json:"tax_rate"`
	TaxAmount      int64              `json:"tax_amount"`
	CreatedAt      time.Time          `json:"created_at"`
}

// Entitled reports whether an owner keeps feature access for a snapshot in
// the given status. Active subscriptions are always entitled; canceled,
// past-due and unpaid ones keep access until the already-paid period ends
// (grace period). Everything else is revoked immediately.
func Entitled(status SubscriptionStatus, periodEnd time.Time, now time.Time) bool {
	switch status {
	case StatusActive:
		return true
	case StatusCanceled, StatusPastDue, StatusUnpaid:
		return now.Before(periodEnd)
	default:
		return false
	}
}
