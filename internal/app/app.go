// Package app provides the top-level application lifecycle. It wires together
// all dependencies (stores, caches, blob storage, clients, services, the
// strategy engine, and notifications), starts the runtime goroutines, and
// tears everything down on shutdown.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/quantavo/poolpilot/internal/config"
	"github.com/quantavo/poolpilot/internal/feed"
	"github.com/quantavo/poolpilot/internal/platform/dex"
	"github.com/quantavo/poolpilot/internal/platform/orderexec"
	"github.com/quantavo/poolpilot/internal/service"
	"github.com/quantavo/poolpilot/internal/strategy"
)

// App is the root application object. It owns the configuration, logger, and
// a list of cleanup functions that are called in reverse order on shutdown.
type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	closers []func()
}

// New creates a new App from the given configuration and logger.
func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "app")),
	}
}

// Run wires all dependencies, recovers persisted strategy instances, starts
// the engine and supporting goroutines, and blocks until the context is
// cancelled or a subsystem fails.
func (a *App) Run(ctx context.Context) error {
	a.logger.InfoContext(ctx, "starting application",
		slog.String("log_level", a.cfg.LogLevel),
		slog.Duration("tick_interval", a.cfg.Engine.TickInterval.Duration),
	)

	deps, cleanup, err := Wire(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)

	// Collaborator clients.
	dexClient := dex.NewClient(a.cfg.Dex.BaseURL, a.cfg.Dex.ApiKey)
	execClient := orderexec.NewClient(a.cfg.Orderer.BaseURL, a.cfg.Orderer.ApiKey)

	// Services. The price service serves quotes cache-first; the order
	// service adds rate limiting, dedup, and auditing in front of the
	// execution venue.
	priceSvc := service.NewPriceService(dexClient, deps.PriceCache, a.cfg.Dex.PriceMaxAge.Duration, a.logger)
	orderSvc := service.NewOrderService(
		execClient,
		deps.RateLimiter,
		deps.AuditStore,
		a.logger,
		a.cfg.Orderer.RateLimit,
		a.cfg.Orderer.RateWindow.Duration,
		a.cfg.Orderer.DedupTTL.Duration,
	)
	orderSvc.WithNotifier(deps.Notifier)

	// Strategy engine with one evaluator per kind.
	collab := strategy.Collaborators{Oracle: priceSvc, Orders: orderSvc}
	reg := strategy.NewRegistry()
	reg.Register(strategy.NewPriceTarget(collab, a.logger))
	reg.Register(strategy.NewACA(collab, a.logger, time.Now))
	reg.Register(strategy.NewGrid(collab, a.logger))
	reg.Register(strategy.NewStopLossTakeProfit(collab, a.logger))

	engine := strategy.NewEngine(reg, deps.StrategyStore, deps.AuditStore, a.logger, a.cfg.Engine.TickInterval.Duration)
	engine.WithNotifier(deps.Notifier)
	if deps.Archiver != nil {
		engine.WithArchiver(deps.Archiver)
	}
	if a.cfg.Engine.ClusterLocks {
		engine.WithLocks(deps.LockManager, a.cfg.Engine.LockTTL.Duration)
	}

	if err := engine.Load(ctx); err != nil {
		return fmt.Errorf("app: load strategy instances: %w", err)
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return engine.Run(ctx)
	})

	g.Go(func() error {
		orderSvc.RunDedupCleanup(ctx, a.cfg.Orderer.DedupTTL.Duration)
		return nil
	})

	// WebSocket price feed keeps the cache warm for pools with active
	// instances, so most ticks never hit the HTTP API.
	if a.cfg.Dex.StreamEnabled {
		wsClient := dex.NewWSClient(a.cfg.Dex.WsURL)
		priceFeed := feed.NewPriceFeed(wsClient, deps.PriceCache, engine, a.logger)
		g.Go(func() error {
			return priceFeed.Run(ctx)
		})
	}

	return g.Wait()
}

// Close tears down all resources in reverse registration order. It is safe to
// call multiple times; subsequent calls are no-ops.
func (a *App) Close() {
	a.logger.Info("shutting down application")
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
