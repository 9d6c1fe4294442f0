package expiry

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// SetNXer is the subset of *redis.Client the guard needs.
type SetNXer interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
}

// RedisGuard remembers sent reminders in Redis so that several sweeper
// instances send one reminder per request window.
type RedisGuard struct {
	client SetNXer
	ttl    time.Duration
}

func NewRedisGuard(client SetNXer, ttl time.Duration) *RedisGuard {
	if ttl <= 0 {
		ttl = 2 * DefaultReminderHorizon
	}
	return &RedisGuard{client: client, ttl: ttl}
}

func (g *RedisGuard) FirstReminder(ctx context.Context, requestID string, windowEnd time.Time) (bool, error) {
	key := fmt.Sprintf("reminder:%s:%d", requestID, windowEnd.Unix())
	ok, err := g.client.SetNX(ctx, key, 1, g.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("expiry: claim reminder: %w", err)
	}
	return ok, nil
}
