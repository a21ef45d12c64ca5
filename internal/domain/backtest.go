package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// CloseReason tags why a position was forcibly closed.
type CloseReason string

const (
	CloseReasonStopLoss   CloseReason = "STOP_LOSS"
	CloseReasonTakeProfit CloseReason = "TAKE_PROFIT"
	CloseReasonEndOfData  CloseReason = "END_OF_DATA"
)

// TradeRecord is one simulated fill, appended by the backtest ledger and
// never mutated. PnL is nil for pure opens and populated for closes.
type TradeRecord struct {
	Timestamp   time.Time
	Direction   OrderSide
	Price       decimal.Decimal
	Size        decimal.Decimal
	Fee         decimal.Decimal
	PnL         *decimal.Decimal
	CloseReason CloseReason // empty for signal-driven fills
}

// Value returns price*size for the fill.
func (r TradeRecord) Value() decimal.Decimal {
	return r.Price.Mul(r.Size)
}

// IsClose reports whether this fill realized PnL.
func (r TradeRecord) IsClose() bool { return r.PnL != nil }

// RealizedPnL returns the realized PnL, or zero for a pure open.
func (r TradeRecord) RealizedPnL() decimal.Decimal {
	if r.PnL == nil {
		return decimal.Zero
	}
	return *r.PnL
}

// EquityPoint is one sample of the equity curve, appended per processed tick.
type EquityPoint struct {
	Timestamp     time.Time
	Equity        decimal.Decimal
	Cash          decimal.Decimal
	Position      decimal.Decimal
	PositionValue decimal.Decimal
}
