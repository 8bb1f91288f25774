package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/quantavo/poolpilot/internal/domain"
)

// PriceCache implements domain.PriceCache using Redis hashes. Each pool token
// pair is stored as a hash at key "price:{poolID}:{token}" with fields
// "price" and "ts" (Unix nanosecond timestamp). Entries expire so a dead
// price feed surfaces as a cache miss instead of a stale quote.
type PriceCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewPriceCache creates a PriceCache with the given staleness TTL. A zero TTL
// keeps entries forever.
func NewPriceCache(c *Client, ttl time.Duration) *PriceCache {
	return &PriceCache{rdb: c.Underlying(), ttl: ttl}
}

func priceKey(poolID, token string) string {
	return "price:" + poolID + ":" + token
}

// SetPrice stores the latest price and timestamp for a pool token.
func (pc *PriceCache) SetPrice(ctx context.Context, poolID, token string, price float64, ts time.Time) error {
	key := priceKey(poolID, token)
	fields := map[string]interface{}{
		"price": strconv.FormatFloat(price, 'f', -1, 64),
		"ts":    strconv.FormatInt(ts.UnixNano(), 10),
	}

	pipe := pc.rdb.Pipeline()
	pipe.HSet(ctx, key, fields)
	if pc.ttl > 0 {
		pipe.Expire(ctx, key, pc.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set price %s/%s: %w", poolID, token, err)
	}
	return nil
}

// GetPrice retrieves the latest price and timestamp for a pool token.
// It returns domain.ErrNotFound when no price has been cached.
func (pc *PriceCache) GetPrice(ctx context.Context, poolID, token string) (float64, time.Time, error) {
	vals, err := pc.rdb.HGetAll(ctx, priceKey(poolID, token)).Result()
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("redis: get price %s/%s: %w", poolID, token, err)
	}
	if len(vals) == 0 {
		return 0, time.Time{}, domain.ErrNotFound
	}

	priceStr, ok := vals["price"]
	if !ok {
		return 0, time.Time{}, domain.ErrNotFound
	}
	price, err := strconv.ParseFloat(priceStr, 64)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("redis: parse price %s/%s: %w", poolID, token, err)
	}

	tsStr, ok := vals["ts"]
	if !ok {
		return 0, time.Time{}, domain.ErrNotFound
	}
	tsNano, err := strconv.ParseInt(tsStr, 10, 64)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("redis: parse ts %s/%s: %w", poolID, token, err)
	}

	return price, time.Unix(0, tsNano), nil
}

var _ domain.PriceCache = (*PriceCache)(nil)
