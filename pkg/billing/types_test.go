package billing_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/lumispace/billing/pkg/billing"
)

func TestEntitled(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)
	before := now.Add(-time.Hour)
	after := now.Add(time.Hour)

	tests := []struct {
		name      string
		status    billing.SubscriptionStatus
		periodEnd time.Time
		want      bool
	}{
		{"active within period", billing.StatusActive, after, true},
		{"active past period", billing.StatusActive, before, true},
		{"canceled within grace", billing.StatusCanceled, after, true},
		{"canceled past grace", billing.StatusCanceled, before, false},
		{"canceled exactly at period end", billing.StatusCanceled, now, false},
		{"past_due within grace", billing.StatusPastDue, after, true},
		{"past_due past grace", billing.StatusPastDue, before, false},
		{"unpaid within grace", billing.StatusUnpaid, after, true},
		{"unpaid past grace", billing.StatusUnpaid, before, false},
		{"paused within period", billing.StatusPaused, after, false},
		{"incomplete_expired within period", billing.StatusIncompleteExpired, after, false},
		{"unrecognized status", billing.SubscriptionStatus("trial_over"), after, false},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, billing.Entitled(tt.status, tt.periodEnd, now))
		})
	}
}

func TestOwnerRefValid(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		owner billing.OwnerRef
		want  bool
	}{
		{"user owner", billing.OwnerRef{Type: billing.OwnerTypeUser, ID: "u1"}, true},
		{"location owner", billing.OwnerRef{Type: billing.OwnerTypeLocation, ID: "loc1"}, true},
		{"missing id", billing.OwnerRef{Type: billing.OwnerTypeUser}, false},
		{"missing type", billing.OwnerRef{ID: "u1"}, false},
		{"unknown type", billing.OwnerRef{Type: "team", ID: "t1"}, false},
		{"zero value", billing.OwnerRef{}, false},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, tt.owner.Valid())
		})
	}
}

func TestOwnerRefPayer(t *testing.T) {
	t.Parallel()

	location := billing.OwnerRef{Type: billing.OwnerTypeLocation, ID: "loc1", PayerID: "u42"}
	assert.Equal(t, "u42", location.Payer())

	user := billing.OwnerRef{Type: billing.OwnerTypeUser, ID: "u1"}
	assert.Equal(t, "u1", user.Payer(), "user owners pay for themselves")
}

func TestOwnerRefString(t *testing.T) {
	t.Parallel()

	owner := billing.OwnerRef{Type: billing.OwnerTypeLocation, ID: "loc1"}
	assert.Equal(t, "location:loc1", owner.String())
}

func TestSubscriptionListItem(t *testing.T) {
	t.Parallel()

	list := &billing.SubscriptionList{
		Items: []billing.Snapshot{
			{SubscriptionID: "sub_1", Status: billing.StatusActive},
			{SubscriptionID: "sub_2", Status: billing.StatusCanceled},
		},
	}

	item := list.Item("sub_2")
	if assert.NotNil(t, item) {
		assert.Equal(t, billing.StatusCanceled, item.Status)
	}

	assert.Nil(t, list.Item("sub_missing"))

	// The returned pointer aliases the list so callers can mutate in place.
	item.Status = billing.StatusActive
	assert.Equal(t, billing.StatusActive, list.Items[1].Status)
}
