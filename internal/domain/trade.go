package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// TradePrint is a single executed trade observed on the tape.
type TradePrint struct {
	ID        string
	Price     decimal.Decimal
	Size      decimal.Decimal
	Side      OrderSide
	Timestamp time.Time
}

// Value returns the dollar value of the print (price*size).
func (t TradePrint) Value() decimal.Decimal {
	return t.Price.Mul(t.Size)
}
