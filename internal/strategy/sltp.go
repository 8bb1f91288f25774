package strategy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/quantavo/poolpilot/internal/domain"
)

// StopLossTakeProfit runs the position cycle
// NoPosition -> BuyPending -> HasPosition -> SellPending -> NoPosition.
// It enters with a market-ish buy, then exits either with a take-profit limit
// sell above the entry or an immediate stop-loss sell at the current price.
type StopLossTakeProfit struct {
	deps   Collaborators
	logger *slog.Logger
}

// NewStopLossTakeProfit creates the stop-loss/take-profit evaluator.
func NewStopLossTakeProfit(deps Collaborators, logger *slog.Logger) *StopLossTakeProfit {
	return &StopLossTakeProfit{
		deps:   deps,
		logger: logger.With(slog.String("strategy", string(domain.KindStopLossTakeProfit))),
	}
}

// Kind returns the strategy kind this evaluator serves.
func (s *StopLossTakeProfit) Kind() domain.StrategyKind { return domain.KindStopLossTakeProfit }

// Tick advances one instance through its position state machine.
func (s *StopLossTakeProfit) Tick(ctx context.Context, inst *domain.StrategyInstance) error {
	if !inst.IsActive {
		return nil
	}
	if inst.State.Position == nil {
		inst.State.Position = &domain.PositionState{}
	}
	st := inst.State.Position

	price, err := s.deps.Oracle.GetPrice(ctx, inst.Config.PoolID, inst.Config.BaseToken)
	if err != nil {
		if errors.Is(err, domain.ErrPriceUnavailable) {
			s.logger.WarnContext(ctx, "price unavailable, skipping tick",
				slog.String("instance", inst.ID),
				slog.String("pool", inst.Config.PoolID),
			)
			return nil
		}
		return fmt.Errorf("sltp: get price: %w", err)
	}

	switch {
	case st.BuyOrderID != "":
		return s.tickBuyPending(ctx, inst)
	case st.SellOrderID != "":
		return s.tickSellPending(ctx, inst)
	case st.HasPosition:
		return s.tickHasPosition(ctx, inst, price)
	default:
		return s.enterPosition(ctx, inst, price)
	}
}

// enterPosition places the entry buy and moves to BuyPending.
func (s *StopLossTakeProfit) enterPosition(ctx context.Context, inst *domain.StrategyInstance, price float64) error {
	cfg := inst.Config.SLTP
	st := inst.State.Position

	handle, err := s.deps.Orders.CreateOrder(ctx, domain.OrderRequest{
		InstanceID:    inst.ID,
		WalletAddress: inst.Config.WalletAddress,
		TradingPair:   inst.Config.TradingPair,
		BaseToken:     inst.Config.BaseToken,
		QuoteToken:    inst.Config.QuoteToken,
		TargetPrice:   price,
		TriggerAbove:  false,
		IsBuy:         true,
		Amount:        cfg.Amount,
		PoolID:        inst.Config.PoolID,
	})
	if err != nil {
		return fmt.Errorf("sltp: create entry buy: %w", err)
	}
	st.BuyOrderID = handle.ID

	s.logger.InfoContext(ctx, "entry buy placed",
		slog.String("instance", inst.ID),
		slog.String("order_id", handle.ID),
		slog.Float64("price", price),
		slog.Float64("amount", cfg.Amount),
	)
	return nil
}

// tickBuyPending polls the entry order.
func (s *StopLossTakeProfit) tickBuyPending(ctx context.Context, inst *domain.StrategyInstance) error {
	st := inst.State.Position

	order, err := s.deps.Orders.GetOrder(ctx, st.BuyOrderID)
	if err != nil {
		return fmt.Errorf("sltp: get entry order %s: %w", st.BuyOrderID, err)
	}

	switch order.Status {
	case domain.OrderStatusCompleted:
		st.EntryPrice = order.ExecutedPrice
		st.BaseAmount = order.Amount
		st.HasPosition = true
		st.BuyOrderID = ""
		s.logger.InfoContext(ctx, "position opened",
			slog.String("instance", inst.ID),
			slog.Float64("entry_price", st.EntryPrice),
			slog.Float64("base_amount", st.BaseAmount),
		)
	case domain.OrderStatusFailed:
		s.logger.WarnContext(ctx, "entry buy failed",
			slog.String("instance", inst.ID),
			slog.String("order_id", st.BuyOrderID),
			slog.String("error", order.ErrorMessage),
		)
		st.BuyOrderID = ""
		if inst.Config.ExecuteOnce {
			inst.Deactivate("entry buy failed: " + order.ErrorMessage)
		}
	}
	return nil
}

// tickHasPosition checks the exit thresholds against the current price.
func (s *StopLossTakeProfit) tickHasPosition(ctx context.Context, inst *domain.StrategyInstance, price float64) error {
	cfg := inst.Config.SLTP
	st := inst.State.Position

	pct := (price - st.EntryPrice) / st.EntryPrice * 100

	switch {
	case pct >= cfg.TakeProfitPercent:
		target := st.EntryPrice * (1 + cfg.TakeProfitPercent/100)
		return s.placeExit(ctx, inst, target, true, "take-profit", pct)
	case pct <= -cfg.StopLossPercent:
		return s.placeExit(ctx, inst, price, false, "stop-loss", pct)
	}

	s.logger.DebugContext(ctx, "holding position",
		slog.String("instance", inst.ID),
		slog.Float64("price", price),
		slog.Float64("entry_price", st.EntryPrice),
		slog.Float64("pnl_pct", pct),
	)
	return nil
}

// placeExit creates the sell that closes the position and moves to
// SellPending. Take-profit sells are limit orders triggered above the target;
// stop-loss sells fire immediately at the current price.
func (s *StopLossTakeProfit) placeExit(ctx context.Context, inst *domain.StrategyInstance, target float64, triggerAbove bool, kind string, pct float64) error {
	st := inst.State.Position

	handle, err := s.deps.Orders.CreateOrder(ctx, domain.OrderRequest{
		InstanceID:    inst.ID,
		WalletAddress: inst.Config.WalletAddress,
		TradingPair:   inst.Config.TradingPair,
		BaseToken:     inst.Config.BaseToken,
		QuoteToken:    inst.Config.QuoteToken,
		TargetPrice:   target,
		TriggerAbove:  triggerAbove,
		IsBuy:         false,
		Amount:        st.BaseAmount,
		PoolID:        inst.Config.PoolID,
	})
	if err != nil {
		return fmt.Errorf("sltp: create %s sell: %w", kind, err)
	}
	st.SellOrderID = handle.ID

	s.logger.InfoContext(ctx, "exit sell placed",
		slog.String("instance", inst.ID),
		slog.String("order_id", handle.ID),
		slog.String("exit", kind),
		slog.Float64("target_price", target),
		slog.Float64("pnl_pct", pct),
	)
	return nil
}

// tickSellPending polls the exit order.
func (s *StopLossTakeProfit) tickSellPending(ctx context.Context, inst *domain.StrategyInstance) error {
	st := inst.State.Position

	order, err := s.deps.Orders.GetOrder(ctx, st.SellOrderID)
	if err != nil {
		return fmt.Errorf("sltp: get exit order %s: %w", st.SellOrderID, err)
	}

	switch order.Status {
	case domain.OrderStatusCompleted:
		s.logger.InfoContext(ctx, "position closed",
			slog.String("instance", inst.ID),
			slog.Float64("entry_price", st.EntryPrice),
			slog.Float64("exit_price", order.ExecutedPrice),
		)
		st.HasPosition = false
		st.EntryPrice = 0
		st.BaseAmount = 0
		st.SellOrderID = ""
		if inst.Config.ExecuteOnce {
			inst.Deactivate("position cycle completed")
		}
	case domain.OrderStatusFailed:
		s.logger.WarnContext(ctx, "exit sell failed",
			slog.String("instance", inst.ID),
			slog.String("order_id", st.SellOrderID),
			slog.String("error", order.ErrorMessage),
		)
		st.SellOrderID = ""
		if inst.Config.ExecuteOnce {
			inst.Deactivate("exit sell failed: " + order.ErrorMessage)
		}
	}
	return nil
}

var _ Evaluator = (*StopLossTakeProfit)(nil)
