package mongostore

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/lumispace/billing/pkg/billing"
)

func TestListKey(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "user:u1", listKey(billing.OwnerRef{Type: billing.OwnerTypeUser, ID: "u1"}))
	assert.Equal(t, "location:loc1", listKey(billing.OwnerRef{Type: billing.OwnerTypeLocation, ID: "loc1", PayerID: "u1"}),
		"payer never leaks into the key")
}

func TestUpsertItem(t *testing.T) {
	t.Parallel()

	t.Run("appends unknown subscription", func(t *testing.T) {
		t.Parallel()

		list := &subscriptionListDoc{Items: []snapshotDoc{{SubscriptionID: "sub_1"}}}
		upsertItem(list, snapshotDoc{SubscriptionID: "sub_2", Status: "active"})

		assert.Len(t, list.Items, 2)
		assert.Equal(t, "sub_2", list.Items[1].SubscriptionID)
	})

	t.Run("replaces matching subscription in place", func(t *testing.T) {
		t.Parallel()

		list := &subscriptionListDoc{Items: []snapshotDoc{
			{SubscriptionID: "sub_1", Status: "active", AmountTotal: 1000},
			{SubscriptionID: "sub_2", Status: "active"},
		}}
		upsertItem(list, snapshotDoc{SubscriptionID: "sub_1", Status: "canceled", AmountTotal: 1200})

		assert.Len(t, list.Items, 2, "replay of a known subscription never grows the list")
		assert.Equal(t, "canceled", list.Items[0].Status)
		assert.Equal(t, int64(1200), list.Items[0].AmountTotal)
	})

	t.Run("first item on empty list", func(t *testing.T) {
		t.Parallel()

		list := &subscriptionListDoc{}
		upsertItem(list, snapshotDoc{SubscriptionID: "sub_1"})
		assert.Len(t, list.Items, 1)
	})
}

func TestHistoryDocOwnerRoundTrip(t *testing.T) {
	t.Parallel()

	item := billing.HistoryItem{
		ID:             "hist_1",
		Owner:          billing.OwnerRef{Type: billing.OwnerTypeLocation, ID: "loc1", PayerID: "u1"},
		SubscriptionID: "sub_1",
		Status:         billing.StatusCanceled,
		PaymentStatus:  billing.PaymentPaid,
	}

	got := fromHistoryDoc(toHistoryDoc(item))
	assert.Equal(t, item.Owner, got.Owner, "owner is flattened into doc fields and must survive")
	assert.Equal(t, item.Status, got.Status)
	assert.Equal(t, item.PaymentStatus, got.PaymentStatus)
}

func TestIsTransient(t *testing.T) {
	t.Parallel()

	assert.False(t, isTransient(errors.New("plain failure")))
	assert.False(t, isTransient(nil))
}

func TestOwnerCollRejectsUnknownType(t *testing.T) {
	t.Parallel()

	s := &Store{}
	_, err := s.ownerColl(billing.OwnerType("team"))
	assert.ErrorIs(t, err, billing.ErrInvalidOwner)
}
