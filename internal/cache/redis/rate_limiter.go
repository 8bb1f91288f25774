package redis

import (
	"context"
	_ "embed"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/quantavo/poolpilot/internal/domain"
)

//go:embed scripts/sliding_window.lua
var slidingWindowLua string

const waitPollInterval = 50 * time.Millisecond

// RateLimiter implements domain.RateLimiter using a sliding window backed by
// Redis sorted sets and an atomic Lua script. The order service uses it to
// cap order placements per wallet.
type RateLimiter struct {
	rdb           *redis.Client
	slidingWindow *redis.Script
}

// NewRateLimiter creates a RateLimiter backed by the given Client.
func NewRateLimiter(c *Client) *RateLimiter {
	return &RateLimiter{
		rdb:           c.Underlying(),
		slidingWindow: redis.NewScript(slidingWindowLua),
	}
}

func rateLimitKey(key string) string {
	return "ratelimit:" + key
}

// Allow checks whether a request for the given key is permitted under the
// sliding window. It returns true if the request is allowed (and counted),
// false when the limit has been reached.
func (rl *RateLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	now := time.Now().UnixMicro()

	result, err := rl.slidingWindow.Run(
		ctx,
		rl.rdb,
		[]string{rateLimitKey(key)},
		now,
		window.Microseconds(),
		limit,
	).Int64Slice()
	if err != nil {
		return false, fmt.Errorf("redis: rate limit allow %s: %w", key, err)
	}
	if len(result) < 2 {
		return false, fmt.Errorf("redis: rate limit allow %s: unexpected result length %d", key, len(result))
	}

	return result[0] == 1, nil
}

// Wait blocks until a request for the given key is allowed under the given
// limit, polling at a fixed interval. It returns an error when the context is
// cancelled first.
func (rl *RateLimiter) Wait(ctx context.Context, key string, limit int, window time.Duration) error {
	for {
		allowed, err := rl.Allow(ctx, key, limit, window)
		if err != nil {
			return err
		}
		if allowed {
			return nil
		}

		timer := time.NewTimer(waitPollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("redis: rate limit wait %s: %w", key, ctx.Err())
		case <-timer.C:
		}
	}
}

var _ domain.RateLimiter = (*RateLimiter)(nil)
