// Package grid builds the fixed price ladder used by grid strategies. All
// rung arithmetic is done on decimals so repeated chained computations do not
// drift; callers convert to float64 only at collaborator boundaries.
package grid

import (
	"errors"

	"github.com/shopspring/decimal"
)

// Ladder is an evenly spaced, strictly increasing set of price rungs between
// a lower and an upper bound.
type Ladder struct {
	Prices  []decimal.Decimal
	Spacing decimal.Decimal
}

// Build constructs an arithmetic ladder with the given number of levels.
// Prices[i] = lower + i*spacing with spacing = (upper-lower)/(levels-1), so
// Prices[0] == lower and Prices[levels-1] == upper.
func Build(lower, upper float64, levels int) (Ladder, error) {
	if levels < 2 {
		return Ladder{}, errors.New("levels must be >= 2")
	}
	lo := decimal.NewFromFloat(lower)
	hi := decimal.NewFromFloat(upper)
	if lo.Cmp(decimal.Zero) <= 0 || hi.Cmp(lo) <= 0 {
		return Ladder{}, errors.New("invalid price range")
	}

	spacing := hi.Sub(lo).Div(decimal.NewFromInt(int64(levels - 1)))
	prices := make([]decimal.Decimal, levels)
	for i := 0; i < levels; i++ {
		prices[i] = lo.Add(spacing.Mul(decimal.NewFromInt(int64(i))))
	}
	// Pin the top rung to the exact upper bound.
	prices[levels-1] = hi

	return Ladder{Prices: prices, Spacing: spacing}, nil
}

// Levels returns the number of rungs.
func (l Ladder) Levels() int {
	return len(l.Prices)
}

// PriceAt returns the rung price at index, or zero when out of range.
func (l Ladder) PriceAt(index int) decimal.Decimal {
	if index < 0 || index >= len(l.Prices) {
		return decimal.Zero
	}
	return l.Prices[index]
}

// LevelFor locates the rung i such that Prices[i] <= price < Prices[i+1]
// (half-open), returning the last index when price equals the upper bound.
// The second return is false when price lies outside [lower, upper].
func (l Ladder) LevelFor(price float64) (int, bool) {
	p := decimal.NewFromFloat(price)
	n := len(l.Prices)
	if n == 0 || p.Cmp(l.Prices[0]) < 0 || p.Cmp(l.Prices[n-1]) > 0 {
		return 0, false
	}
	if p.Cmp(l.Prices[n-1]) == 0 {
		return n - 1, true
	}
	for i := n - 2; i >= 0; i-- {
		if p.Cmp(l.Prices[i]) >= 0 {
			return i, true
		}
	}
	return 0, true
}

// Floats returns the ladder as float64 values for persistence and display.
func (l Ladder) Floats() []float64 {
	out := make([]float64, len(l.Prices))
	for i, p := range l.Prices {
		out[i] = p.InexactFloat64()
	}
	return out
}

// RungProfit computes the profit harvested when a sell at the rung price
// completes: spacing * (investment / rungPrice).
func (l Ladder) RungProfit(investment float64, level int) decimal.Decimal {
	p := l.PriceAt(level)
	if p.Cmp(decimal.Zero) <= 0 {
		return decimal.Zero
	}
	return l.Spacing.Mul(decimal.NewFromFloat(investment).Div(p))
}
