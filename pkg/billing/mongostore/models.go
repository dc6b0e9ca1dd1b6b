package mongostore

import (
	"time"

	"github.com/lumispace/billing/pkg/billing"
)

// Collection names. Owners live in the identity subsystem's collections;
// the engine only flips their entitlement flag.
const (
	collUsers           = "users"
	collLocations       = "locations"
	collLists           = "subscription_lists"
	collHistory         = "subscription_history"
	collOwnerIndex      = "subscription_owners"
	collProcessedEvents = "processed_events"
)

// entitlementField is the owner feature flag the engine maintains.
const entitlementField = "insight_access"

type snapshotDoc struct {
	SubscriptionID     string    `bson:"subscription_id"`
	Name               string    `bson:"name,omitempty"`
	PriceID            string    `bson:"price_id,omitempty"`
	Status             string    `bson:"status"`
	AmountSubtotal     int64     `bson:"amount_subtotal"`
	AmountTotal        int64     `bson:"amount_total"`
	Currency           string    `bson:"currency,omitempty"`
	CurrentPeriodStart time.Time `bson:"current_period_start,omitempty"`
	CurrentPeriodEnd   time.Time `bson:"current_period_end,omitempty"`
	CustomerID         string    `bson:"customer_id,omitempty"`
	UpdatedAt          time.Time `bson:"updated_at"`
}

type cardDoc struct {
	ID         string `bson:"id,omitempty"`
	HolderName string `bson:"holder_name,omitempty"`
	Brand      string `bson:"brand,omitempty"`
	Last4      string `bson:"last4,omitempty"`
	Expiry     string `bson:"expiry,omitempty"`
}

type subscriptionListDoc struct {
	ID        string        `bson:"_id"` // "<owner type>:<owner id>"
	OwnerType string        `bson:"owner_type"`
	OwnerID   string        `bson:"owner_id"`
	PayerID   string        `bson:"payer_id,omitempty"`
	Items     []snapshotDoc `bson:"items"`
	Card      *cardDoc      `bson:"card,omitempty"`
	CreatedAt time.Time     `bson:"created_at"`
	UpdatedAt time.Time     `bson:"updated_at"`
}

type historyItemDoc struct {
	ID             string     `bson:"_id"`
	OwnerType      string     `bson:"owner_type"`
	OwnerID        string     `bson:"owner_id"`
	PayerID        string     `bson:"payer_id,omitempty"`
	SubscriptionID string     `bson:"subscription_id"`
	Name           string     `bson:"name,omitempty"`
	PriceID        string     `bson:"price_id,omitempty"`
	Status         string     `bson:"status"`
	AmountSubtotal int64      `bson:"amount_subtotal"`
	AmountTotal    int64      `bson:"amount_total"`
	Currency       string     `bson:"currency,omitempty"`
	Discount       string     `bson:"discount,omitempty"`
	PeriodStart    time.Time  `bson:"period_start,omitempty"`
	PeriodEnd      time.Time  `bson:"period_end,omitempty"`
	InvoiceID      string     `bson:"invoice_id,omitempty"`
	InvoiceURL     string     `bson:"invoice_url,omitempty"`
	PaymentStatus  string     `bson:"payment_status"`
	PaidAt         *time.Time `bson:"paid_at,omitempty"`
	TaxRate        float64    `bson:"tax_rate,omitempty"`
	TaxAmount      int64      `bson:"tax_amount,omitempty"`
	CreatedAt      time.Time  `bson:"created_at"`
}

// ownerIndexDoc is the maintained reverse index: subscription id to owner.
type ownerIndexDoc struct {
	ID         string    `bson:"_id"` // subscription id
	OwnerType  string    `bson:"owner_type"`
	OwnerID    string    `bson:"owner_id"`
	PayerID    string    `bson:"payer_id,omitempty"`
	CustomerID string    `bson:"customer_id,omitempty"`
	UpdatedAt  time.Time `bson:"updated_at"`
}

// processedEventDoc is the durable idempotency marker. The _id unique
// constraint is what prevents an event id from producing two effects.
type processedEventDoc struct {
	ID          string    `bson:"_id"` // provider event id
	ProcessedAt time.Time `bson:"processed_at"`
}

func listKey(owner billing.OwnerRef) string {
	return string(owner.Type) + ":" + owner.ID
}

func toSnapshotDoc(s billing.Snapshot) snapshotDoc {
	return snapshotDoc{
		SubscriptionID:     s.SubscriptionID,
		Name:               s.Name,
		PriceID:            s.PriceID,
		Status:             string(s.Status),
		AmountSubtotal:     s.AmountSubtotal,
		AmountTotal:        s.AmountTotal,
		Currency:           s.Currency,
		CurrentPeriodStart: s.CurrentPeriodStart,
		CurrentPeriodEnd:   s.CurrentPeriodEnd,
		CustomerID:         s.CustomerID,
		UpdatedAt:          s.UpdatedAt,
	}
}

func fromSnapshotDoc(d snapshotDoc) billing.Snapshot {
	return billing.Snapshot{
		SubscriptionID:     d.SubscriptionID,
		Name:               d.Name,
		PriceID:            d.PriceID,
		Status:             billing.SubscriptionStatus(d.Status),
		AmountSubtotal:     d.AmountSubtotal,
		AmountTotal:        d.AmountTotal,
		Currency:           d.Currency,
		CurrentPeriodStart: d.CurrentPeriodStart,
		CurrentPeriodEnd:   d.CurrentPeriodEnd,
		CustomerID:         d.CustomerID,
		UpdatedAt:          d.UpdatedAt,
	}
}

func toCardDoc(c *billing.CardSummary) *cardDoc {
	if c == nil {
		return nil
	}
	return &cardDoc{ID: c.ID, HolderName: c.HolderName, Brand: c.Brand, Last4: c.Last4, Expiry: c.Expiry}
}

func fromCardDoc(d *cardDoc) *billing.CardSummary {
	if d == nil {
		return nil
	}
	return &billing.CardSummary{ID: d.ID, HolderName: d.HolderName, Brand: d.Brand, Last4: d.Last4, Expiry: d.Expiry}
}

func toHistoryDoc(h billing.HistoryItem) historyItemDoc {
	return historyItemDoc{
		ID:             h.ID,
		OwnerType:      string(h.Owner.Type),
		OwnerID:        h.Owner.ID,
		PayerID:        h.Owner.PayerID,
		SubscriptionID: h.SubscriptionID,
		Name:           h.Name,
		PriceID:        h.PriceID,
		Status:         string(h.Status),
		AmountSubtotal: h.AmountSubtotal,
		AmountTotal:    h.AmountTotal,
		Currency:       h.Currency,
		Discount:       h.Discount,
		PeriodStart:    h.PeriodStart,
		PeriodEnd:      h.PeriodEnd,
		InvoiceID:      h.InvoiceID,
		InvoiceURL:     h.InvoiceURL,
		PaymentStatus:  string(h.PaymentStatus),
		PaidAt:         h.PaidAt,
		TaxRate:        h.TaxRate,
		TaxAmount:      h.TaxAmount,
		CreatedAt:      h.CreatedAt,
	}
}

func fromHistoryDoc(d historyItemDoc) billing.HistoryItem {
	return billing.HistoryItem{
		ID: d.ID,
		Owner: billing.OwnerRef{
			Type:    billing.OwnerType(d.OwnerType),
			ID:      d.OwnerID,
			PayerID: d.PayerID,
		},
		SubscriptionID: d.SubscriptionID,
		Name:           d.Name,
		PriceID:        d.PriceID,
		Status:         billing.SubscriptionStatus(d.Status),
		AmountSubtotal: d.AmountSubtotal,
		AmountTotal:    d.AmountTotal,
		Currency:       d.Currency,
		Discount:       d.Discount,
		PeriodStart:    d.PeriodStart,
		PeriodEnd:      d.PeriodEnd,
		InvoiceID:      d.InvoiceID,
		InvoiceURL:     d.InvoiceURL,
		PaymentStatus:  billing.PaymentStatus(d.PaymentStatus),
		PaidAt:         d.PaidAt,
		TaxRate:        d.TaxRate,
		TaxAmount:      d.TaxAmount,
		CreatedAt:      d.CreatedAt,
	}
}

func fromOwnerIndexDoc(d ownerIndexDoc) billing.OwnerRef {
	return billing.OwnerRef{
		Type:    billing.OwnerType(d.OwnerType),
		ID:      d.OwnerID,
		PayerID: d.PayerID,
	}
}
