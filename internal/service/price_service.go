package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/quantavo/poolpilot/internal/domain"
)

// PriceService is a cache-first price oracle. It serves prices from the cache
// while they are fresh, falls back to the REST source otherwise, and writes
// fetched prices back so concurrent ticks share one upstream call's result.
type PriceService struct {
	source domain.PriceOracle
	cache  domain.PriceCache
	maxAge time.Duration
	logger *slog.Logger
}

// NewPriceService creates a PriceService. cache may be nil, in which case
// every lookup goes to the source.
func NewPriceService(source domain.PriceOracle, cache domain.PriceCache, maxAge time.Duration, logger *slog.Logger) *PriceService {
	return &PriceService{
		source: source,
		cache:  cache,
		maxAge: maxAge,
		logger: logger.With(slog.String("component", "price_service")),
	}
}

// GetPrice returns the current price for a pool token, preferring a fresh
// cached value. It propagates domain.ErrPriceUnavailable from the source.
func (s *PriceService) GetPrice(ctx context.Context, poolID, baseToken string) (float64, error) {
	if s.cache != nil {
		price, ts, err := s.cache.GetPrice(ctx, poolID, baseToken)
		if err == nil && time.Since(ts) <= s.maxAge {
			return price, nil
		}
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			s.logger.DebugContext(ctx, "price cache lookup failed",
				slog.String("pool", poolID),
				slog.String("error", err.Error()),
			)
		}
	}

	price, err := s.source.GetPrice(ctx, poolID, baseToken)
	if err != nil {
		return 0, fmt.Errorf("price_service: %w", err)
	}

	if s.cache != nil {
		if err := s.cache.SetPrice(ctx, poolID, baseToken, price, time.Now()); err != nil {
			s.logger.DebugContext(ctx, "price cache write failed",
				slog.String("pool", poolID),
				slog.String("error", err.Error()),
			)
		}
	}
	return price, nil
}

var _ domain.PriceOracle = (*PriceService)(nil)
