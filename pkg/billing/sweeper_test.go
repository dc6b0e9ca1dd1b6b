package billing

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestNewSweeperPanicsWithoutStore(t *testing.T) {
	t.Parallel()
	assert.Panics(t, func() { NewSweeper(nil, time.Hour, nil) })
}

func TestSweeperRunsImmediately(t *testing.T) {
	t.Parallel()

	store := &mockStore{}
	store.On("RevokeLapsedEntitlements", mock.Anything, mock.Anything).Return(int64(3), nil)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	sweeper := NewSweeper(store, time.Hour, nil)
	err := sweeper.Run(ctx)

	require.ErrorIs(t, err, context.DeadlineExceeded)
	store.AssertNumberOfCalls(t, "RevokeLapsedEntitlements", 1)
}

func TestSweeperSurvivesStoreErrors(t *testing.T) {
	t.Parallel()

	store := &mockStore{}
	store.On("RevokeLapsedEntitlements", mock.Anything, mock.Anything).
		Return(int64(0), errors.New("connection reset"))

	ctx, cancel := context.WithTimeout(context.Background(), 40*time.Millisecond)
	defer cancel()

	sweeper := NewSweeper(store, 10*time.Millisecond, nil)
	err := sweeper.Run(ctx)

	require.ErrorIs(t, err, context.DeadlineExceeded)
	// Errors are logged, not fatal: the ticker keeps firing.
	assert.GreaterOrEqual(t, len(store.Calls), 2)
}
