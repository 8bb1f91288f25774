package strategy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/quantavo/poolpilot/internal/domain"
	"github.com/quantavo/poolpilot/internal/grid"
)

// Grid places and re-places limit orders across evenly spaced price rungs,
// harvesting profit on each completed buy/sell round trip. Orders chain along
// the fixed rungs: a filled buy at rung N re-arms a sell at rung N+1, a
// filled sell at rung N re-arms a buy at rung N-1. Profit is keyed to the
// completing rung's price, not the original buy price.
type Grid struct {
	deps   Collaborators
	logger *slog.Logger
}

// NewGrid creates the grid evaluator.
func NewGrid(deps Collaborators, logger *slog.Logger) *Grid {
	return &Grid{
		deps:   deps,
		logger: logger.With(slog.String("strategy", string(domain.KindGrid))),
	}
}

// Kind returns the strategy kind this evaluator serves.
func (g *Grid) Kind() domain.StrategyKind { return domain.KindGrid }

// Tick advances one grid instance.
func (g *Grid) Tick(ctx context.Context, inst *domain.StrategyInstance) error {
	if !inst.IsActive {
		return nil
	}
	cfg := inst.Config.Grid

	ladder, err := grid.Build(cfg.LowerPrice, cfg.UpperPrice, cfg.Levels)
	if err != nil {
		return fmt.Errorf("grid: build ladder: %w", err)
	}

	if inst.State.Grid == nil {
		inst.State.Grid = &domain.GridState{
			GridPrices: ladder.Floats(),
			Slots:      make([]domain.GridSlot, cfg.Levels),
		}
	}
	st := inst.State.Grid

	price, err := g.deps.Oracle.GetPrice(ctx, inst.Config.PoolID, inst.Config.BaseToken)
	if err != nil {
		if errors.Is(err, domain.ErrPriceUnavailable) {
			g.logger.WarnContext(ctx, "price unavailable, skipping tick",
				slog.String("instance", inst.ID),
				slog.String("pool", inst.Config.PoolID),
			)
			return nil
		}
		return fmt.Errorf("grid: get price: %w", err)
	}

	level, ok := ladder.LevelFor(price)
	if !ok {
		g.logger.DebugContext(ctx, "price outside grid bounds, skipping tick",
			slog.String("instance", inst.ID),
			slog.Float64("price", price),
			slog.Float64("lower", cfg.LowerPrice),
			slog.Float64("upper", cfg.UpperPrice),
		)
		return nil
	}

	if !st.InitialOrdersPlaced {
		g.placeInitialOrders(ctx, inst, ladder, level)
		st.InitialOrdersPlaced = true
		st.LastProcessedPrice = &price
		return nil
	}

	g.manageBuySide(ctx, inst, ladder, level)
	if inst.IsActive {
		g.manageSellSide(ctx, inst, ladder, level)
	}
	st.LastProcessedPrice = &price
	return nil
}

// placeInitialOrders seeds the grid on the first tick: buys below the current
// level, sells above it. The current level itself stays empty.
func (g *Grid) placeInitialOrders(ctx context.Context, inst *domain.StrategyInstance, ladder grid.Ladder, level int) {
	st := inst.State.Grid
	placed := 0
	for i := 0; i < level; i++ {
		if id := g.placeOrder(ctx, inst, ladder, i, true); id != "" {
			st.Slots[i].BuyOrderID = id
			placed++
		}
	}
	for i := level + 1; i < ladder.Levels(); i++ {
		if id := g.placeOrder(ctx, inst, ladder, i, false); id != "" {
			st.Slots[i].SellOrderID = id
			placed++
		}
	}
	g.logger.InfoContext(ctx, "initial grid orders placed",
		slog.String("instance", inst.ID),
		slog.Int("current_level", level),
		slog.Int("orders", placed),
	)
}

// manageBuySide ensures every rung below the current level carries a buy
// order, and chains a sell one rung up when a buy completes.
func (g *Grid) manageBuySide(ctx context.Context, inst *domain.StrategyInstance, ladder grid.Ladder, level int) {
	st := inst.State.Grid
	for i := 0; i < level; i++ {
		slot := &st.Slots[i]
		if slot.BuyOrderID == "" {
			slot.BuyOrderID = g.placeOrder(ctx, inst, ladder, i, true)
			continue
		}

		order, err := g.deps.Orders.GetOrder(ctx, slot.BuyOrderID)
		if err != nil {
			g.logger.WarnContext(ctx, "poll buy order failed",
				slog.String("instance", inst.ID),
				slog.String("order_id", slot.BuyOrderID),
				slog.String("error", err.Error()),
			)
			continue
		}

		switch order.Status {
		case domain.OrderStatusCompleted:
			g.logger.InfoContext(ctx, "grid buy filled",
				slog.String("instance", inst.ID),
				slog.Int("level", i),
				slog.Float64("executed_price", order.ExecutedPrice),
			)
			slot.BuyOrderID = ""
			if up := i + 1; up < ladder.Levels() && st.Slots[up].SellOrderID == "" {
				st.Slots[up].SellOrderID = g.placeOrder(ctx, inst, ladder, up, false)
			}
		case domain.OrderStatusFailed:
			g.logger.WarnContext(ctx, "grid buy failed",
				slog.String("instance", inst.ID),
				slog.Int("level", i),
				slog.String("error", order.ErrorMessage),
			)
			slot.BuyOrderID = ""
		}
	}
}

// manageSellSide ensures every rung above the current level carries a sell
// order, accrues profit on fills, and chains a buy one rung down.
func (g *Grid) manageSellSide(ctx context.Context, inst *domain.StrategyInstance, ladder grid.Ladder, level int) {
	cfg := inst.Config.Grid
	st := inst.State.Grid
	for i := level + 1; i < ladder.Levels(); i++ {
		slot := &st.Slots[i]
		if slot.SellOrderID == "" {
			slot.SellOrderID = g.placeOrder(ctx, inst, ladder, i, false)
			continue
		}

		order, err := g.deps.Orders.GetOrder(ctx, slot.SellOrderID)
		if err != nil {
			g.logger.WarnContext(ctx, "poll sell order failed",
				slog.String("instance", inst.ID),
				slog.String("order_id", slot.SellOrderID),
				slog.String("error", err.Error()),
			)
			continue
		}

		switch order.Status {
		case domain.OrderStatusCompleted:
			profit := ladder.RungProfit(cfg.InvestmentPerGrid, i)
			st.TotalProfit = decimal.NewFromFloat(st.TotalProfit).Add(profit).InexactFloat64()
			st.ProfitPerGrid = profit.InexactFloat64()
			slot.SellOrderID = ""

			g.logger.InfoContext(ctx, "grid sell filled",
				slog.String("instance", inst.ID),
				slog.Int("level", i),
				slog.Float64("profit", st.ProfitPerGrid),
				slog.Float64("total_profit", st.TotalProfit),
			)

			if down := i - 1; down >= 0 && st.Slots[down].BuyOrderID == "" {
				st.Slots[down].BuyOrderID = g.placeOrder(ctx, inst, ladder, down, true)
			}
			if inst.Config.ExecuteOnce {
				inst.Deactivate("grid round trip completed")
				return
			}
		case domain.OrderStatusFailed:
			g.logger.WarnContext(ctx, "grid sell failed",
				slog.String("instance", inst.ID),
				slog.Int("level", i),
				slog.String("error", order.ErrorMessage),
			)
			slot.SellOrderID = ""
		}
	}
}

// placeOrder requests a limit order at the rung price. The amount is sized so
// each rung commits the same quote-token investment. Returns the order id, or
// "" on failure; a failed placement is retried next tick.
func (g *Grid) placeOrder(ctx context.Context, inst *domain.StrategyInstance, ladder grid.Ladder, level int, isBuy bool) string {
	cfg := inst.Config.Grid
	rung := ladder.PriceAt(level).InexactFloat64()
	amount := cfg.InvestmentPerGrid / rung

	handle, err := g.deps.Orders.CreateOrder(ctx, domain.OrderRequest{
		InstanceID:    inst.ID,
		Slot:          level,
		WalletAddress: inst.Config.WalletAddress,
		TradingPair:   inst.Config.TradingPair,
		BaseToken:     inst.Config.BaseToken,
		QuoteToken:    inst.Config.QuoteToken,
		TargetPrice:   rung,
		TriggerAbove:  !isBuy,
		IsBuy:         isBuy,
		Amount:        amount,
		PoolID:        inst.Config.PoolID,
	})
	if err != nil {
		g.logger.WarnContext(ctx, "place grid order failed",
			slog.String("instance", inst.ID),
			slog.Int("level", level),
			slog.Bool("is_buy", isBuy),
			slog.String("error", err.Error()),
		)
		return ""
	}

	g.logger.DebugContext(ctx, "grid order placed",
		slog.String("instance", inst.ID),
		slog.String("order_id", handle.ID),
		slog.Int("level", level),
		slog.Bool("is_buy", isBuy),
		slog.Float64("price", rung),
	)
	return handle.ID
}

var _ Evaluator = (*Grid)(nil)
