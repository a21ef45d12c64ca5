package domain

import "github.com/shopspring/decimal"

// Position is signed inventory: positive size is long, negative is short.
// The average entry price is a size-weighted blend over same-direction adds
// and resets to the fill price when the position flips sign.
type Position struct {
	Size          decimal.Decimal
	AvgEntryPrice decimal.Decimal
	RealizedPnL   decimal.Decimal
}

// IsLong reports whether the position is net long.
func (p Position) IsLong() bool { return p.Size.Sign() > 0 }

// IsShort reports whether the position is net short.
func (p Position) IsShort() bool { return p.Size.Sign() < 0 }

// IsFlat reports whether there is no open position.
func (p Position) IsFlat() bool { return p.Size.Sign() == 0 }

// AbsSize returns the unsigned position size.
func (p Position) AbsSize() decimal.Decimal { return p.Size.Abs() }

// UnrealizedPnL marks the open position to the given price.
func (p Position) UnrealizedPnL(mark decimal.Decimal) decimal.Decimal {
	if p.IsFlat() {
		return decimal.Zero
	}
	if p.IsLong() {
		return mark.Sub(p.AvgEntryPrice).Mul(p.Size)
	}
	return p.AvgEntryPrice.Sub(mark).Mul(p.Size.Abs())
}

// PriceChangePct returns the signed fractional move of mark relative to the
// average entry price. Zero when flat or entry price is unset.
func (p Position) PriceChangePct(mark decimal.Decimal) decimal.Decimal {
	if p.IsFlat() || p.AvgEntryPrice.Sign() <= 0 {
		return decimal.Zero
	}
	return mark.Sub(p.AvgEntryPrice).Div(p.AvgEntryPrice)
}
