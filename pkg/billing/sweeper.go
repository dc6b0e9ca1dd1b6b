package billing

import (
	"context"
	"log/slog"
	"time"
)

// Sweeper periodically revokes entitlements whose grace window elapsed.
// No provider event fires at period end, so cancellation and non-payment
// leave the flag on until this sweep (or a later event) turns it off.
type Sweeper struct {
	store    Store
	interval time.Duration
	log      *slog.Logger
}

// NewSweeper creates a sweeper. A non-positive interval defaults to one hour.
func NewSweeper(store Store, interval time.Duration, log *slog.Logger) *Sweeper {
	if store == nil {
		panic("billing: Store is required")
	}
	if interval <= 0 {
		interval = time.Hour
	}
	if log == nil {
		log = slog.Default()
	}
	return &Sweeper{store: store, interval: interval, log: log}
}

// Run sweeps on the configured interval until the context is canceled.
// One sweep runs immediately on start so a restarted process does not wait
// a full interval to catch up.
func (s *Sweeper) Run(ctx context.Context) error {
	s.sweep(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	revoked, err := s.store.RevokeLapsedEntitlements(ctx, time.Now().UTC())
	if err != nil {
		s.log.ErrorContext(ctx, "entitlement sweep failed", slog.Any("error", err))
		return
	}
	if revoked > 0 {
		s.log.InfoContext(ctx, "revoked lapsed entitlements", slog.Int64("owners", revoked))
	}
}
