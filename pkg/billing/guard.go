package billing

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// IdempotencyGuard is the fast-path replay filter. It is an optimization
// to skip redundant provider calls on redelivery, not the correctness
// mechanism: the durable processed-event marker written inside the
// reconciliation transaction is what prevents double effects.
type IdempotencyGuard interface {
	// Seen reports whether the event id was already marked.
	Seen(ctx context.Context, eventID string) (bool, error)

	// Mark records the event id after a successful commit.
	Mark(ctx context.Context, eventID string) error
}

const guardKeyPrefix = "billing:event:"

// RedisGuard tracks processed event ids in Redis with a TTL, so the
// fast path works across horizontally scaled workers.
type RedisGuard struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisGuard creates a guard. A non-positive ttl defaults to 72 hours,
// comfortably past the provider's redelivery window.
func NewRedisGuard(client *redis.Client, ttl time.Duration) *RedisGuard {
	if ttl <= 0 {
		ttl = 72 * time.Hour
	}
	return &RedisGuard{client: client, ttl: ttl}
}

func (g *RedisGuard) Seen(ctx context.Context, eventID string) (bool, error) {
	n, err := g.client.Exists(ctx, guardKeyPrefix+eventID).Result()
	if err != nil {
		return false, fmt.Errorf("idempotency guard lookup: %w", err)
	}
	return n > 0, nil
}

func (g *RedisGuard) Mark(ctx context.Context, eventID string) error {
	if err := g.client.Set(ctx, guardKeyPrefix+eventID, 1, g.ttl).Err(); err != nil {
		return fmt.Errorf("idempotency guard mark: %w", err)
	}
	return nil
}

// NoopGuard disables the fast path; every event falls through to the
// durable marker check inside the transaction.
type NoopGuard struct{}

func (NoopGuard) Seen(context.Context, string) (bool, error) { return false, nil }
func (NoopGuard) Mark(context.Context, string) error         { return nil }
