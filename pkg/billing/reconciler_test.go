package billing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)

func testReconciler() *Reconciler {
	return &Reconciler{
		now:   func() time.Time { return testNow },
		newID: func() string { return "hist_1" },
	}
}

func testProviderSub() *ProviderSubscription {
	return &ProviderSubscription{
		ID:                 "sub_1",
		Status:             StatusActive,
		CustomerID:         "cus_1",
		PriceID:            "price_1",
		Name:               "Insights Monthly",
		AmountSubtotal:     1500,
		Currency:           "usd",
		CurrentPeriodStart: testNow.AddDate(0, -1, 0),
		CurrentPeriodEnd:   testNow.AddDate(0, 1, 0),
	}
}

func TestReconcilerCheckout(t *testing.T) {
	t.Parallel()

	t.Run("session amounts win over price-derived ones", func(t *testing.T) {
		t.Parallel()

		ev := &Event{
			ID:             "evt_1",
			Type:           EventCheckoutCompleted,
			SubscriptionID: "sub_1",
			Checkout: &CheckoutDetail{
				SessionID:      "cs_1",
				AmountSubtotal: 1500,
				AmountTotal:    1200, // discounted first charge
				Currency:       "eur",
				TaxAmount:      200,
				Discount:       "LAUNCH20",
			},
		}
		owner := OwnerRef{Type: OwnerTypeUser, ID: "u1"}

		eff := testReconciler().Checkout(ev, owner, testProviderSub(), nil)

		assert.Equal(t, "evt_1", eff.EventID)
		assert.Equal(t, owner, eff.Owner)
		assert.Equal(t, int64(1500), eff.Snapshot.AmountSubtotal)
		assert.Equal(t, int64(1200), eff.Snapshot.AmountTotal)
		assert.Equal(t, "eur", eff.Snapshot.Currency)
		assert.Equal(t, StatusActive, eff.Snapshot.Status)
		assert.True(t, eff.Entitled)

		assert.Equal(t, "hist_1", eff.History.ID)
		assert.Equal(t, "LAUNCH20", eff.History.Discount)
		assert.Equal(t, int64(200), eff.History.TaxAmount)
		assert.Equal(t, PaymentUnpaid, eff.History.PaymentStatus, "no invoice detail fetched")
	})

	t.Run("invoice detail overrides history payment state", func(t *testing.T) {
		t.Parallel()

		paidAt := testNow.Add(-time.Minute)
		ev := &Event{
			ID:             "evt_2",
			Type:           EventCheckoutCompleted,
			SubscriptionID: "sub_1",
			Checkout:       &CheckoutDetail{SessionID: "cs_2", InvoiceID: "in_1"},
		}
		inv := &ProviderInvoice{
			ID:            "in_1",
			PaymentStatus: PaymentPaid,
			Subtotal:      1500,
			Total:         1200,
			HostedURL:     "https://invoice.example/in_1",
			PaidAt:        &paidAt,
			TaxRate:       21,
			TaxAmount:     210,
		}
		owner := OwnerRef{Type: OwnerTypeLocation, ID: "loc1", PayerID: "u1"}

		eff := testReconciler().Checkout(ev, owner, testProviderSub(), inv)

		assert.Equal(t, "in_1", eff.History.InvoiceID)
		assert.Equal(t, "https://invoice.example/in_1", eff.History.InvoiceURL)
		assert.Equal(t, PaymentPaid, eff.History.PaymentStatus)
		require.NotNil(t, eff.History.PaidAt)
		assert.Equal(t, paidAt, *eff.History.PaidAt)
		assert.Equal(t, float64(21), eff.History.TaxRate)
		assert.Equal(t, int64(210), eff.History.TaxAmount)
		assert.Equal(t, int64(1200), eff.History.AmountTotal)
	})

	t.Run("subscription discount wins over session metadata", func(t *testing.T) {
		t.Parallel()

		ev := &Event{
			ID:             "evt_3",
			SubscriptionID: "sub_1",
			Checkout:       &CheckoutDetail{Discount: "SESSION10"},
		}
		sub := testProviderSub()
		sub.Discount = "SUB20"

		eff := testReconciler().Checkout(ev, OwnerRef{Type: OwnerTypeUser, ID: "u1"}, sub, nil)
		assert.Equal(t, "SUB20", eff.History.Discount)
	})
}

func TestReconcilerSubscriptionChanged(t *testing.T) {
	t.Parallel()

	ev := &Event{ID: "evt_4", Type: EventSubscriptionUpdated, SubscriptionID: "sub_1"}
	sub := testProviderSub()
	sub.Status = StatusPastDue
	sub.Card = &CardSummary{Brand: "visa", Last4: "4242"}
	owner := OwnerRef{Type: OwnerTypeUser, ID: "u1"}

	eff := testReconciler().SubscriptionChanged(ev, owner, sub)

	assert.Equal(t, StatusPastDue, eff.Snapshot.Status)
	assert.True(t, eff.Entitled, "past_due keeps access until the paid period ends")
	assert.Equal(t, "cus_1", eff.CustomerID)
	require.NotNil(t, eff.Card)
	assert.Equal(t, "4242", eff.Card.Last4)
	assert.Equal(t, testNow, eff.Snapshot.UpdatedAt)
}

func TestReconcilerSubscriptionCanceled(t *testing.T) {
	t.Parallel()

	ev := &Event{ID: "evt_5", Type: EventSubscriptionCanceled, SubscriptionID: "sub_1"}
	owner := OwnerRef{Type: OwnerTypeUser, ID: "u1"}

	t.Run("status forced to canceled, grace period holds", func(t *testing.T) {
		t.Parallel()

		sub := testProviderSub()
		sub.Status = StatusActive // stale provider read

		eff := testReconciler().SubscriptionCanceled(ev, owner, sub)

		assert.Equal(t, StatusCanceled, eff.Snapshot.Status)
		assert.Equal(t, StatusCanceled, eff.History.Status)
		assert.True(t, eff.Entitled)
	})

	t.Run("entitlement drops once the paid period lapsed", func(t *testing.T) {
		t.Parallel()

		sub := testProviderSub()
		sub.CurrentPeriodEnd = testNow.Add(-time.Hour)

		eff := testReconciler().SubscriptionCanceled(ev, owner, sub)
		assert.False(t, eff.Entitled)
	})
}

func TestReconcilerInvoicePaid(t *testing.T) {
	t.Parallel()

	ev := &Event{ID: "evt_6", Type: EventInvoicePaid, SubscriptionID: "sub_1", InvoiceID: "in_2"}
	owner := OwnerRef{Type: OwnerTypeUser, ID: "u1"}

	t.Run("defaults to paid without invoice detail", func(t *testing.T) {
		t.Parallel()

		eff := testReconciler().InvoicePaid(ev, owner, testProviderSub(), nil)
		assert.Equal(t, PaymentPaid, eff.History.PaymentStatus)
	})

	t.Run("partial payment reported by the invoice survives", func(t *testing.T) {
		t.Parallel()

		inv := &ProviderInvoice{ID: "in_2", PaymentStatus: PaymentPartiallyPaid}
		eff := testReconciler().InvoicePaid(ev, owner, testProviderSub(), inv)
		assert.Equal(t, PaymentPartiallyPaid, eff.History.PaymentStatus)
	})
}

func TestReconcilerInvoiceFailed(t *testing.T) {
	t.Parallel()

	ev := &Event{ID: "evt_7", Type: EventInvoicePaymentFailed, SubscriptionID: "sub_1", InvoiceID: "in_3"}
	owner := OwnerRef{Type: OwnerTypeUser, ID: "u1"}

	paidAt := testNow
	inv := &ProviderInvoice{
		ID:            "in_3",
		PaymentStatus: PaymentPaid, // contradictory provider read
		PaidAt:        &paidAt,
		HostedURL:     "https://invoice.example/in_3",
	}
	sub := testProviderSub()
	sub.Status = StatusPastDue

	eff := testReconciler().InvoiceFailed(ev, owner, sub, inv)

	assert.Equal(t, PaymentUnpaid, eff.History.PaymentStatus, "failure event wins over fetched invoice state")
	assert.Nil(t, eff.History.PaidAt)
	assert.Equal(t, "https://invoice.example/in_3", eff.History.InvoiceURL)
	assert.Equal(t, StatusPastDue, eff.Snapshot.Status)
}

func TestApplyInvoiceNil(t *testing.T) {
	t.Parallel()

	hist := HistoryItem{PaymentStatus: PaymentUnpaid, AmountTotal: 100}
	applyInvoice(&hist, nil)
	assert.Equal(t, PaymentUnpaid, hist.PaymentStatus)
	assert.Equal(t, int64(100), hist.AmountTotal)
}
