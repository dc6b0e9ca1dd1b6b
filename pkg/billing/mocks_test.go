package billing

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"
)

// mockProvider is a mock implementation of Provider.
type mockProvider struct {
	mock.Mock
}

func (m *mockProvider) ParseWebhook(payload []byte, signature string) (*Event, error) {
	args := m.Called(payload, signature)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Event), args.Error(1)
}

func (m *mockProvider) GetSubscription(ctx context.Context, id string) (*ProviderSubscription, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*ProviderSubscription), args.Error(1)
}

func (m *mockProvider) GetInvoice(ctx context.Context, id string) (*ProviderInvoice, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*ProviderInvoice), args.Error(1)
}

func (m *mockProvider) GetPaymentMethod(ctx context.Context, id string) (*CardSummary, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*CardSummary), args.Error(1)
}

func (m *mockProvider) CreateCheckoutSession(ctx context.Context, params CheckoutParams) (*CheckoutSession, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*CheckoutSession), args.Error(1)
}

func (m *mockProvider) CancelSubscription(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *mockProvider) ListPlans(ctx context.Context) ([]Plan, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]Plan), args.Error(1)
}

// mockStore is a mock implementation of Store.
type mockStore struct {
	mock.Mock
}

func (m *mockStore) ApplyReconciliation(ctx context.Context, eff ReconciliationEffect) error {
	args := m.Called(ctx, eff)
	return args.Error(0)
}

func (m *mockStore) ResolveOwner(ctx context.Context, subscriptionID string) (OwnerRef, error) {
	args := m.Called(ctx, subscriptionID)
	return args.Get(0).(OwnerRef), args.Error(1)
}

func (m *mockStore) ResolveOwnerByCustomer(ctx context.Context, customerID string) (OwnerRef, error) {
	args := m.Called(ctx, customerID)
	return args.Get(0).(OwnerRef), args.Error(1)
}

func (m *mockStore) UpdateCard(ctx context.Context, owner OwnerRef, card CardSummary) error {
	args := m.Called(ctx, owner, card)
	return args.Error(0)
}

func (m *mockStore) GetSubscriptionList(ctx context.Context, owner OwnerRef) (*SubscriptionList, error) {
	args := m.Called(ctx, owner)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*SubscriptionList), args.Error(1)
}

func (m *mockStore) ListHistory(ctx context.Context, owner OwnerRef, limit int64) ([]HistoryItem, error) {
	args := m.Called(ctx, owner, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]HistoryItem), args.Error(1)
}

func (m *mockStore) RevokeLapsedEntitlements(ctx context.Context, now time.Time) (int64, error) {
	args := m.Called(ctx, now)
	return args.Get(0).(int64), args.Error(1)
}

// mockGuard is a mock implementation of IdempotencyGuard.
type mockGuard struct {
	mock.Mock
}

func (m *mockGuard) Seen(ctx context.Context, eventID string) (bool, error) {
	args := m.Called(ctx, eventID)
	return args.Bool(0), args.Error(1)
}

func (m *mockGuard) Mark(ctx context.Context, eventID string) error {
	args := m.Called(ctx, eventID)
	return args.Error(0)
}
