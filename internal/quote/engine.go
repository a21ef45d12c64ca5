// Package quote computes two-sided market-maker quotes around the mid price
// with optional inventory skew and tick-size rounding.
package quote

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/perpdex/perpflow/internal/domain"
)

// SpreadType selects how the target spread is derived.
type SpreadType string

const (
	SpreadTypeFixed      SpreadType = "fixed"
	SpreadTypePercentage SpreadType = "percentage"
)

// Config holds the quoting parameters.
type Config struct {
	SpreadType SpreadType
	// TargetSpread is the absolute spread used in fixed mode.
	TargetSpread decimal.Decimal
	// SpreadRatio scales the observed market spread in percentage mode.
	SpreadRatio decimal.Decimal
	// MinSpread floors the spread in either mode.
	MinSpread decimal.Decimal

	InventorySkewEnabled bool
	// InventorySkewFactor in [0,1] scales how hard quotes lean against
	// inventory.
	InventorySkewFactor decimal.Decimal
	MaxPosition         decimal.Decimal

	TickSize decimal.Decimal
}

// Validate rejects malformed quoting parameters eagerly.
func (c Config) Validate() error {
	switch c.SpreadType {
	case SpreadTypeFixed, SpreadTypePercentage:
	default:
		return fmt.Errorf("quote: unsupported spread_type %q", c.SpreadType)
	}
	if c.TickSize.Sign() <= 0 {
		return fmt.Errorf("quote: tick_size must be positive, got %s", c.TickSize)
	}
	if c.MinSpread.Sign() < 0 {
		return fmt.Errorf("quote: min_spread cannot be negative, got %s", c.MinSpread)
	}
	if c.InventorySkewEnabled && c.MaxPosition.Sign() <= 0 {
		return fmt.Errorf("quote: max_position must be positive when inventory skew is enabled")
	}
	return nil
}

// Engine computes maker quotes. It is stateless; position is passed per call.
type Engine struct {
	cfg Config
}

// NewEngine creates a quote Engine. The config must already be validated.
func NewEngine(cfg Config) *Engine {
	return &Engine{cfg: cfg}
}

// Quote returns bid and ask prices for the given book and signed inventory.
// The spread is the fixed target or the market spread scaled by the ratio,
// floored at the minimum. A long position shifts the ask down by the skew
// amount and the bid down by half of it, biasing fills toward flattening the
// inventory; a short position mirrors the shift upward. Prices are rounded to
// the tick size (half up) and the bid is forced one tick under the ask if
// rounding crossed them.
func (e *Engine) Quote(snap domain.OrderbookSnapshot, position decimal.Decimal) (bid, ask decimal.Decimal) {
	mid := snap.MidPrice()
	marketSpread := snap.Spread()

	spread := e.cfg.TargetSpread
	if e.cfg.SpreadType == SpreadTypePercentage {
		spread = marketSpread.Mul(e.cfg.SpreadRatio)
	}
	if spread.LessThan(e.cfg.MinSpread) {
		spread = e.cfg.MinSpread
	}

	half := spread.Div(decimal.NewFromInt(2))
	bid = mid.Sub(half)
	ask = mid.Add(half)

	if e.cfg.InventorySkewEnabled && e.cfg.MaxPosition.Sign() > 0 {
		skewFactor := position.Div(e.cfg.MaxPosition)
		skewAmount := spread.Mul(skewFactor).Mul(e.cfg.InventorySkewFactor)

		switch {
		case skewFactor.Sign() > 0: // long: encourage selling
			ask = ask.Sub(skewAmount)
			bid = bid.Sub(skewAmount.Div(decimal.NewFromInt(2)))
		case skewFactor.Sign() < 0: // short: encourage buying
			lift := skewAmount.Abs()
			bid = bid.Add(lift)
			ask = ask.Add(lift.Div(decimal.NewFromInt(2)))
		}
	}

	bid = roundToTick(bid, e.cfg.TickSize)
	ask = roundToTick(ask, e.cfg.TickSize)

	if bid.GreaterThanOrEqual(ask) {
		bid = ask.Sub(e.cfg.TickSize)
	}
	return bid, ask
}

// roundToTick rounds price to the nearest multiple of tick, half up.
func roundToTick(price, tick decimal.Decimal) decimal.Decimal {
	return price.Div(tick).Round(0).Mul(tick)
}
