// Package domain defines the core entities of the strategy execution engine
// and the interfaces of its external collaborators. It has no dependencies on
// concrete adapters so the evaluator and scheduler logic stays testable.
package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// StrategyKind identifies one of the supported strategy state machines.
type StrategyKind string

const (
	KindPriceTarget        StrategyKind = "price_target"
	KindACA                StrategyKind = "aca"
	KindGrid               StrategyKind = "grid"
	KindStopLossTakeProfit StrategyKind = "stop_loss_take_profit"
)

// Valid reports whether k is a known strategy kind.
func (k StrategyKind) Valid() bool {
	switch k {
	case KindPriceTarget, KindACA, KindGrid, KindStopLossTakeProfit:
		return true
	}
	return false
}

// TriggerType controls the direction a price-target order fires in.
type TriggerType string

const (
	TriggerAbove TriggerType = "above"
	TriggerBelow TriggerType = "below"
)

// Side is the order side requested by an evaluator.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// PriceTargetConfig configures a single-target order strategy.
type PriceTargetConfig struct {
	TargetPrice float64     `json:"target_price"`
	TriggerType TriggerType `json:"trigger_type"`
	Side        Side        `json:"side"`
	OrderAmount float64     `json:"order_amount"`
}

// Validate checks the config at creation time. Failures are fatal; the
// instance never activates.
func (c PriceTargetConfig) Validate() error {
	if c.TargetPrice <= 0 {
		return fmt.Errorf("%w: target_price must be positive", ErrInvalidConfig)
	}
	if c.OrderAmount <= 0 {
		return fmt.Errorf("%w: order_amount must be positive", ErrInvalidConfig)
	}
	if c.Side != SideBuy && c.Side != SideSell {
		return fmt.Errorf("%w: side must be buy or sell", ErrInvalidConfig)
	}
	if c.TriggerType != TriggerAbove && c.TriggerType != TriggerBelow {
		return fmt.Errorf("%w: trigger_type must be above or below", ErrInvalidConfig)
	}
	return nil
}

// ACAConfig configures interval-based accumulation: a fixed quote-token spend
// converted to a base-token buy on a fixed cadence.
type ACAConfig struct {
	InvestmentAmount float64 `json:"investment_amount"`
	IntervalMinutes  int     `json:"interval_minutes"`
	// TotalRuns caps the number of buys. Zero means unlimited.
	TotalRuns int `json:"total_runs,omitempty"`
}

// Interval returns the configured cadence as a duration.
func (c ACAConfig) Interval() time.Duration {
	return time.Duration(c.IntervalMinutes) * time.Minute
}

func (c ACAConfig) Validate() error {
	if c.InvestmentAmount <= 0 {
		return fmt.Errorf("%w: investment_amount must be positive", ErrInvalidConfig)
	}
	if c.IntervalMinutes <= 0 {
		return fmt.Errorf("%w: interval_minutes must be positive", ErrInvalidConfig)
	}
	if c.TotalRuns < 0 {
		return fmt.Errorf("%w: total_runs cannot be negative", ErrInvalidConfig)
	}
	return nil
}

// GridConfig configures a fixed-rung grid between two price bounds.
type GridConfig struct {
	LowerPrice        float64 `json:"lower_price"`
	UpperPrice        float64 `json:"upper_price"`
	Levels            int     `json:"levels"`
	InvestmentPerGrid float64 `json:"investment_per_grid"`
}

// Spacing returns the arithmetic distance between adjacent rungs.
func (c GridConfig) Spacing() float64 {
	return (c.UpperPrice - c.LowerPrice) / float64(c.Levels-1)
}

func (c GridConfig) Validate() error {
	if c.LowerPrice <= 0 || c.UpperPrice <= 0 {
		return fmt.Errorf("%w: grid price bounds must be positive", ErrInvalidConfig)
	}
	if c.LowerPrice >= c.UpperPrice {
		return fmt.Errorf("%w: lower_price must be below upper_price", ErrInvalidConfig)
	}
	if c.Levels < 2 {
		return fmt.Errorf("%w: levels must be at least 2", ErrInvalidConfig)
	}
	if c.InvestmentPerGrid <= 0 {
		return fmt.Errorf("%w: investment_per_grid must be positive", ErrInvalidConfig)
	}
	return nil
}

// TooDense reports whether the rung spacing is below 0.1% of the lower bound.
// This is a warning, not a validation failure: such a grid is legal but the
// per-rung profit is unlikely to cover fees.
func (c GridConfig) TooDense() bool {
	return c.Spacing() < c.LowerPrice*0.001
}

// SLTPConfig configures the stop-loss / take-profit position cycle.
type SLTPConfig struct {
	Amount            float64 `json:"amount"`
	StopLossPercent   float64 `json:"stop_loss_percent"`
	TakeProfitPercent float64 `json:"take_profit_percent"`
}

func (c SLTPConfig) Validate() error {
	if c.Amount <= 0 {
		return fmt.Errorf("%w: amount must be positive", ErrInvalidConfig)
	}
	if c.StopLossPercent < 0 || c.StopLossPercent > 1000 {
		return fmt.Errorf("%w: stop_loss_percent must be in [0, 1000]", ErrInvalidConfig)
	}
	if c.TakeProfitPercent < 0 || c.TakeProfitPercent > 10000 {
		return fmt.Errorf("%w: take_profit_percent must be in [0, 10000]", ErrInvalidConfig)
	}
	return nil
}

// InstanceConfig is the immutable part of a strategy instance. Exactly one of
// the per-kind config pointers is set, matching StrategyInstance.Kind.
type InstanceConfig struct {
	TradingPair   string `json:"trading_pair"`
	BaseToken     string `json:"base_token"`
	QuoteToken    string `json:"quote_token"`
	PoolID        string `json:"pool_id"`
	WalletAddress string `json:"wallet_address"`
	ExecuteOnce   bool   `json:"execute_once"`

	PriceTarget *PriceTargetConfig `json:"price_target,omitempty"`
	ACA         *ACAConfig         `json:"aca,omitempty"`
	Grid        *GridConfig        `json:"grid,omitempty"`
	SLTP        *SLTPConfig        `json:"sltp,omitempty"`
}

// PriceTargetState tracks the at-most-one outstanding order of a price-target
// instance.
type PriceTargetState struct {
	OrderID string `json:"order_id,omitempty"`
}

// ACAState tracks accumulation progress.
type ACAState struct {
	RunsExecuted int        `json:"runs_executed"`
	LastBuyTime  *time.Time `json:"last_buy_time,omitempty"`
}

// GridSlot holds the open order ids for one rung. A rung never holds two
// orders of the same side at once.
type GridSlot struct {
	BuyOrderID  string `json:"buy_order_id,omitempty"`
	SellOrderID string `json:"sell_order_id,omitempty"`
}

// GridState is the mutable runtime state of a grid instance. GridPrices is
// strictly increasing and evenly spaced; Slots is indexed by rung.
type GridState struct {
	GridPrices          []float64  `json:"grid_prices"`
	Slots               []GridSlot `json:"slots"`
	InitialOrdersPlaced bool       `json:"initial_orders_placed"`
	ProfitPerGrid       float64    `json:"profit_per_grid"`
	TotalProfit         float64    `json:"total_profit"`
	LastProcessedPrice  *float64   `json:"last_processed_price,omitempty"`
}

// OpenOrderCount returns the number of live order ids across all rungs.
func (g *GridState) OpenOrderCount() int {
	n := 0
	for _, s := range g.Slots {
		if s.BuyOrderID != "" {
			n++
		}
		if s.SellOrderID != "" {
			n++
		}
	}
	return n
}

// PositionState is the mutable runtime state of a stop-loss/take-profit
// instance. Invariant: HasPosition == (EntryPrice set and BaseAmount > 0),
// and HasPosition is never true while BuyOrderID is set.
type PositionState struct {
	HasPosition bool    `json:"has_position"`
	EntryPrice  float64 `json:"entry_price,omitempty"`
	BaseAmount  float64 `json:"base_amount,omitempty"`
	BuyOrderID  string  `json:"buy_order_id,omitempty"`
	SellOrderID string  `json:"sell_order_id,omitempty"`
}

// InstanceState bundles the per-kind mutable runtime state. Only the field
// matching the instance kind is set.
type InstanceState struct {
	PriceTarget *PriceTargetState `json:"price_target,omitempty"`
	ACA         *ACAState         `json:"aca,omitempty"`
	Grid        *GridState        `json:"grid,omitempty"`
	Position    *PositionState    `json:"position,omitempty"`
}

// Clone returns a deep copy of the state, safe to hand across goroutines.
func (s InstanceState) Clone() InstanceState {
	out := InstanceState{}
	if s.PriceTarget != nil {
		v := *s.PriceTarget
		out.PriceTarget = &v
	}
	if s.ACA != nil {
		v := *s.ACA
		if s.ACA.LastBuyTime != nil {
			t := *s.ACA.LastBuyTime
			v.LastBuyTime = &t
		}
		out.ACA = &v
	}
	if s.Grid != nil {
		v := *s.Grid
		v.GridPrices = append([]float64(nil), s.Grid.GridPrices...)
		v.Slots = append([]GridSlot(nil), s.Grid.Slots...)
		if s.Grid.LastProcessedPrice != nil {
			p := *s.Grid.LastProcessedPrice
			v.LastProcessedPrice = &p
		}
		out.Grid = &v
	}
	if s.Position != nil {
		v := *s.Position
		out.Position = &v
	}
	return out
}

// StrategyInstance is one addressable strategy: an immutable config plus a
// mutable runtime state, ticked by the scheduler until it self-deactivates or
// is stopped externally. Each instance's state is owned by its own tick; the
// engine guarantees at most one in-flight tick per id.
type StrategyInstance struct {
	ID         string         `json:"id"`
	Kind       StrategyKind   `json:"kind"`
	Config     InstanceConfig `json:"config"`
	IsActive   bool           `json:"is_active"`
	StopReason string         `json:"stop_reason,omitempty"`
	State      InstanceState  `json:"state"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

// Deactivate flags the instance inactive with a recorded reason. Takes effect
// on the next scheduling decision; an in-flight tick runs to completion.
func (si *StrategyInstance) Deactivate(reason string) {
	si.IsActive = false
	si.StopReason = reason
}

// Clone returns a deep copy of the instance.
func (si StrategyInstance) Clone() StrategyInstance {
	out := si
	out.State = si.State.Clone()
	if si.Config.PriceTarget != nil {
		v := *si.Config.PriceTarget
		out.Config.PriceTarget = &v
	}
	if si.Config.ACA != nil {
		v := *si.Config.ACA
		out.Config.ACA = &v
	}
	if si.Config.Grid != nil {
		v := *si.Config.Grid
		out.Config.Grid = &v
	}
	if si.Config.SLTP != nil {
		v := *si.Config.SLTP
		out.Config.SLTP = &v
	}
	return out
}

// Validate checks the instance at creation time: common fields, wallet
// address format, and the kind-specific config. Runtime state is not
// validated here; it starts zeroed.
func (si StrategyInstance) Validate() error {
	if !si.Kind.Valid() {
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidConfig, si.Kind)
	}
	if strings.TrimSpace(si.Config.PoolID) == "" {
		return fmt.Errorf("%w: pool_id is required", ErrInvalidConfig)
	}
	if strings.TrimSpace(si.Config.BaseToken) == "" || strings.TrimSpace(si.Config.QuoteToken) == "" {
		return fmt.Errorf("%w: base_token and quote_token are required", ErrInvalidConfig)
	}
	if !common.IsHexAddress(si.Config.WalletAddress) {
		return fmt.Errorf("%w: wallet_address %q is not a valid address", ErrInvalidConfig, si.Config.WalletAddress)
	}

	switch si.Kind {
	case KindPriceTarget:
		if si.Config.PriceTarget == nil {
			return fmt.Errorf("%w: price_target config is required", ErrInvalidConfig)
		}
		return si.Config.PriceTarget.Validate()
	case KindACA:
		if si.Config.ACA == nil {
			return fmt.Errorf("%w: aca config is required", ErrInvalidConfig)
		}
		return si.Config.ACA.Validate()
	case KindGrid:
		if si.Config.Grid == nil {
			return fmt.Errorf("%w: grid config is required", ErrInvalidConfig)
		}
		return si.Config.Grid.Validate()
	case KindStopLossTakeProfit:
		if si.Config.SLTP == nil {
			return fmt.Errorf("%w: sltp config is required", ErrInvalidConfig)
		}
		return si.Config.SLTP.Validate()
	}
	return nil
}

// OpenOrderCount returns how many order ids the instance currently tracks.
func (si StrategyInstance) OpenOrderCount() int {
	switch {
	case si.State.PriceTarget != nil:
		if si.State.PriceTarget.OrderID != "" {
			return 1
		}
	case si.State.Grid != nil:
		return si.State.Grid.OpenOrderCount()
	case si.State.Position != nil:
		n := 0
		if si.State.Position.BuyOrderID != "" {
			n++
		}
		if si.State.Position.SellOrderID != "" {
			n++
		}
		return n
	}
	return 0
}
