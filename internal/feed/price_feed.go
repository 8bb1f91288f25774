// Package feed keeps the price cache warm from the DEX streaming endpoint.
package feed

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/quantavo/poolpilot/internal/domain"
	"github.com/quantavo/poolpilot/internal/platform/dex"
)

// PoolLister reports the pools the engine currently cares about.
type PoolLister interface {
	List() []domain.StrategyInstance
}

// PriceFeed bridges the DEX WebSocket stream into the price cache and keeps
// the stream's pool subscriptions in sync with the live instances.
type PriceFeed struct {
	ws     *dex.WSClient
	cache  domain.PriceCache
	pools  PoolLister
	logger *slog.Logger

	// syncInterval controls how often subscriptions are reconciled.
	syncInterval time.Duration

	subscribed map[string]struct{}
}

// NewPriceFeed creates a PriceFeed.
func NewPriceFeed(ws *dex.WSClient, cache domain.PriceCache, pools PoolLister, logger *slog.Logger) *PriceFeed {
	return &PriceFeed{
		ws:           ws,
		cache:        cache,
		pools:        pools,
		logger:       logger.With(slog.String("component", "price_feed")),
		syncInterval: 30 * time.Second,
		subscribed:   make(map[string]struct{}),
	}
}

// Run connects the stream, registers the cache handler, and reconciles pool
// subscriptions until the context is cancelled.
func (f *PriceFeed) Run(ctx context.Context) error {
	f.ws.OnPriceUpdate(func(u dex.PriceUpdate) {
		// Cache writes are best effort; the oracle falls back to REST.
		cacheCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := f.cache.SetPrice(cacheCtx, u.PoolID, u.Token, u.Price, u.At); err != nil {
			f.logger.Debug("cache price update failed",
				slog.String("pool", u.PoolID),
				slog.String("token", u.Token),
				slog.String("error", err.Error()),
			)
		}
	})

	if err := f.ws.Connect(ctx); err != nil {
		return err
	}
	defer f.ws.Close()

	f.logger.Info("price feed started")
	defer f.logger.Info("price feed stopped")

	f.syncSubscriptions(ctx)

	ticker := time.NewTicker(f.syncInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			f.syncSubscriptions(ctx)
		}
	}
}

// syncSubscriptions subscribes pools of live instances and unsubscribes pools
// no instance uses any more.
func (f *PriceFeed) syncSubscriptions(ctx context.Context) {
	want := make(map[string]struct{})
	for _, inst := range f.pools.List() {
		if inst.IsActive && inst.Config.PoolID != "" {
			want[inst.Config.PoolID] = struct{}{}
		}
	}

	var add, drop []string
	for id := range want {
		if _, ok := f.subscribed[id]; !ok {
			add = append(add, id)
		}
	}
	for id := range f.subscribed {
		if _, ok := want[id]; !ok {
			drop = append(drop, id)
		}
	}
	sort.Strings(add)
	sort.Strings(drop)

	if len(add) > 0 {
		if err := f.ws.Subscribe(ctx, add); err != nil {
			f.logger.Warn("subscribe pools failed", slog.String("error", err.Error()))
		} else {
			for _, id := range add {
				f.subscribed[id] = struct{}{}
			}
			f.logger.Info("pools subscribed", slog.Int("count", len(add)))
		}
	}
	if len(drop) > 0 {
		if err := f.ws.Unsubscribe(ctx, drop); err != nil {
			f.logger.Warn("unsubscribe pools failed", slog.String("error", err.Error()))
		} else {
			for _, id := range drop {
				delete(f.subscribed, id)
			}
			f.logger.Info("pools unsubscribed", slog.Int("count", len(drop)))
		}
	}
}
