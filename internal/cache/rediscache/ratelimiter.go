package rediscache

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// RateLimiter is a fixed-window counter per key. The poller keys it by
// carrier so one portal never sees a burst from all workers at once.
type RateLimiter struct {
	c      *redis.Client
	limit  int64
	window time.Duration
}

func NewRateLimiter(c *redis.Client, limit int64, window time.Duration) *RateLimiter {
	return &RateLimiter{c: c, limit: limit, window: window}
}

// Allow делает INCR по ключу и ставит TTL только при создании окна.
// Возвращает (allowed, currentCount).
func (rl *RateLimiter) Allow(ctx context.Context, key string) (bool, int64, error) {
	key = "rl:" + key
	pipe := rl.c.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.ExpireNX(ctx, key, rl.window)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, 0, errors.Wrap(err, "redis ratelimit")
	}
	n := incr.Val()
	return n <= rl.limit, n, nil
}
