package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const rateLimitPrefix = "turns:"

// RateLimiter counts turns per key in fixed one-minute windows
type RateLimiter struct {
	client         *Client
	turnsPerMinute int
	burst          int
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(client *Client, turnsPerMinute, burst int) *RateLimiter {
	return &RateLimiter{
		client:         client,
		turnsPerMinute: turnsPerMinute,
		burst:          burst,
	}
}

// Allow checks if a turn should be allowed for key.
// Returns (allowed, remaining, resetTime, error)
func (r *RateLimiter) Allow(ctx context.Context, key string) (bool, int, time.Time, error) {
	now := time.Now()
	windowStart := now.Truncate(time.Minute)
	windowEnd := windowStart.Add(time.Minute)
	fullKey := fmt.Sprintf("%s%s:%d", rateLimitPrefix, key, windowStart.Unix())

	pipe := r.client.rdb.Pipeline()
	incrCmd := pipe.Incr(ctx, fullKey)
	pipe.ExpireNX(ctx, fullKey, time.Minute)

	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return false, 0, time.Time{}, fmt.Errorf("failed to execute rate limit check: %w", err)
	}

	count := incrCmd.Val()
	limit := int64(r.turnsPerMinute + r.burst)
	remaining := max(int(limit-count), 0)

	return count <= limit, remaining, windowEnd, nil
}

// Reset clears the current window's counter for key
func (r *RateLimiter) Reset(ctx context.Context, key string) error {
	windowStart := time.Now().Truncate(time.Minute)
	fullKey := fmt.Sprintf("%s%s:%d", rateLimitPrefix, key, windowStart.Unix())
	return r.client.rdb.Del(ctx, fullKey).Err()
}
