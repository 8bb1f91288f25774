package strategy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/quantavo/poolpilot/internal/domain"
)

// PriceTarget holds at most one outstanding order per instance: it places an
// order at the configured target price and trigger direction, then watches it
// to completion. With execute-once the instance deactivates after the first
// terminal order; otherwise a completed or failed order clears the tracked id
// and a fresh cycle begins on the next tick.
type PriceTarget struct {
	deps   Collaborators
	logger *slog.Logger
}

// NewPriceTarget creates the price-target evaluator.
func NewPriceTarget(deps Collaborators, logger *slog.Logger) *PriceTarget {
	return &PriceTarget{
		deps:   deps,
		logger: logger.With(slog.String("strategy", string(domain.KindPriceTarget))),
	}
}

// Kind returns the strategy kind this evaluator serves.
func (pt *PriceTarget) Kind() domain.StrategyKind { return domain.KindPriceTarget }

// Tick advances one price-target instance.
func (pt *PriceTarget) Tick(ctx context.Context, inst *domain.StrategyInstance) error {
	if !inst.IsActive {
		return nil
	}
	cfg := inst.Config.PriceTarget
	if inst.State.PriceTarget == nil {
		inst.State.PriceTarget = &domain.PriceTargetState{}
	}
	st := inst.State.PriceTarget

	price, err := pt.deps.Oracle.GetPrice(ctx, inst.Config.PoolID, inst.Config.BaseToken)
	if err != nil {
		if errors.Is(err, domain.ErrPriceUnavailable) {
			pt.logger.WarnContext(ctx, "price unavailable, skipping tick",
				slog.String("instance", inst.ID),
				slog.String("pool", inst.Config.PoolID),
			)
			return nil
		}
		return fmt.Errorf("price_target: get price: %w", err)
	}

	if st.OrderID != "" {
		order, err := pt.deps.Orders.GetOrder(ctx, st.OrderID)
		if err != nil {
			return fmt.Errorf("price_target: get order %s: %w", st.OrderID, err)
		}

		switch order.Status {
		case domain.OrderStatusCompleted:
			pt.logger.InfoContext(ctx, "target order completed",
				slog.String("instance", inst.ID),
				slog.String("order_id", order.ID),
				slog.Float64("executed_price", order.ExecutedPrice),
			)
			if inst.Config.ExecuteOnce {
				inst.Deactivate("target order completed")
			} else {
				st.OrderID = ""
			}
		case domain.OrderStatusFailed:
			pt.logger.WarnContext(ctx, "target order failed",
				slog.String("instance", inst.ID),
				slog.String("order_id", order.ID),
				slog.String("error", order.ErrorMessage),
			)
			st.OrderID = ""
			if inst.Config.ExecuteOnce {
				inst.Deactivate("target order failed: " + order.ErrorMessage)
			}
		}
		// pending/executing: nothing to do.
		return nil
	}

	handle, err := pt.deps.Orders.CreateOrder(ctx, domain.OrderRequest{
		InstanceID:    inst.ID,
		WalletAddress: inst.Config.WalletAddress,
		TradingPair:   inst.Config.TradingPair,
		BaseToken:     inst.Config.BaseToken,
		QuoteToken:    inst.Config.QuoteToken,
		TargetPrice:   cfg.TargetPrice,
		TriggerAbove:  cfg.TriggerType == domain.TriggerAbove,
		IsBuy:         cfg.Side == domain.SideBuy,
		Amount:        cfg.OrderAmount,
		PoolID:        inst.Config.PoolID,
	})
	if err != nil {
		return fmt.Errorf("price_target: create order: %w", err)
	}
	st.OrderID = handle.ID

	pt.logger.InfoContext(ctx, "target order placed",
		slog.String("instance", inst.ID),
		slog.String("order_id", handle.ID),
		slog.Float64("target_price", cfg.TargetPrice),
		slog.Float64("current_price", price),
		slog.String("side", string(cfg.Side)),
	)
	return nil
}

var _ Evaluator = (*PriceTarget)(nil)
