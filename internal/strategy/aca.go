package strategy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/quantavo/poolpilot/internal/domain"
)

// acaSlippage is the tolerance applied to the buy target price so the order
// fills promptly at the current market.
const acaSlippage = 1.01

// ACA buys a fixed quote-token amount of the base token on a fixed cadence.
// The cadence is enforced from the stored last-buy timestamp, not from the
// scheduler interval, so instances keep their rhythm across restarts.
type ACA struct {
	deps   Collaborators
	logger *slog.Logger
	now    func() time.Time
}

// NewACA creates the accumulation evaluator. now is injectable for tests; nil
// defaults to time.Now.
func NewACA(deps Collaborators, logger *slog.Logger, now func() time.Time) *ACA {
	if now == nil {
		now = time.Now
	}
	return &ACA{
		deps:   deps,
		logger: logger.With(slog.String("strategy", string(domain.KindACA))),
		now:    now,
	}
}

// Kind returns the strategy kind this evaluator serves.
func (a *ACA) Kind() domain.StrategyKind { return domain.KindACA }

// Tick advances one accumulation instance: wait out the interval, then buy.
func (a *ACA) Tick(ctx context.Context, inst *domain.StrategyInstance) error {
	if !inst.IsActive {
		return nil
	}
	cfg := inst.Config.ACA
	if inst.State.ACA == nil {
		inst.State.ACA = &domain.ACAState{}
	}
	st := inst.State.ACA
	now := a.now()

	if st.LastBuyTime != nil {
		elapsed := now.Sub(*st.LastBuyTime)
		if elapsed < cfg.Interval() {
			a.logger.DebugContext(ctx, "interval not elapsed",
				slog.String("instance", inst.ID),
				slog.Duration("remaining", cfg.Interval()-elapsed),
			)
			return nil
		}
	}

	if cfg.TotalRuns > 0 && st.RunsExecuted >= cfg.TotalRuns {
		inst.Deactivate("run limit reached")
		a.logger.InfoContext(ctx, "run limit reached, deactivating",
			slog.String("instance", inst.ID),
			slog.Int("runs", st.RunsExecuted),
		)
		return nil
	}

	price, err := a.deps.Oracle.GetPrice(ctx, inst.Config.PoolID, inst.Config.BaseToken)
	if err != nil {
		if errors.Is(err, domain.ErrPriceUnavailable) {
			a.logger.WarnContext(ctx, "price unavailable, skipping tick",
				slog.String("instance", inst.ID),
				slog.String("pool", inst.Config.PoolID),
			)
			return nil
		}
		return fmt.Errorf("aca: get price: %w", err)
	}

	tokenAmount := cfg.InvestmentAmount / price

	handle, err := a.deps.Orders.CreateOrder(ctx, domain.OrderRequest{
		InstanceID:    inst.ID,
		WalletAddress: inst.Config.WalletAddress,
		TradingPair:   inst.Config.TradingPair,
		BaseToken:     inst.Config.BaseToken,
		QuoteToken:    inst.Config.QuoteToken,
		TargetPrice:   price * acaSlippage,
		TriggerAbove:  false,
		IsBuy:         true,
		Amount:        tokenAmount,
		PoolID:        inst.Config.PoolID,
	})
	if err != nil {
		return fmt.Errorf("aca: create buy order: %w", err)
	}

	st.RunsExecuted++
	t := now
	st.LastBuyTime = &t

	a.logger.InfoContext(ctx, "accumulation buy placed",
		slog.String("instance", inst.ID),
		slog.String("order_id", handle.ID),
		slog.Float64("price", price),
		slog.Float64("amount", tokenAmount),
		slog.Int("runs_executed", st.RunsExecuted),
	)

	if inst.Config.ExecuteOnce {
		inst.Deactivate("execute-once buy placed")
	} else if cfg.TotalRuns > 0 && st.RunsExecuted >= cfg.TotalRuns {
		inst.Deactivate("run limit reached")
	}
	return nil
}

var _ Evaluator = (*ACA)(nil)
