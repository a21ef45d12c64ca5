package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// TradingSignal is a directional trading intent produced by the signal
// engine. Produced fresh each evaluation cycle and never mutated.
type TradingSignal struct {
	ID        string // UUID for dedup
	Direction OrderSide
	Strength  float64 // [0,1]
	Price     decimal.Decimal
	Size      decimal.Decimal
	Reason    string
	Timestamp time.Time
	ExpiresAt time.Time
}

// Valid reports whether the signal strength clears the given floor.
func (s TradingSignal) Valid(minStrength float64) bool {
	return s.Strength >= minStrength
}

// Expired reports whether the signal is past its expiry at the given time.
func (s TradingSignal) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && now.After(s.ExpiresAt)
}
