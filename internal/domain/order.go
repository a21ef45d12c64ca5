package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderSide indicates whether this is a buy or sell.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// Opposite returns the other side.
func (s OrderSide) Opposite() OrderSide {
	if s == OrderSideBuy {
		return OrderSideSell
	}
	return OrderSideBuy
}

// OrderResult wraps the exchange response after order submission.
type OrderResult struct {
	Success     bool
	OrderID     string
	Message     string
	ShouldRetry bool
	FilledPrice decimal.Decimal
	Fee         decimal.Decimal
}

// MakerOrder is a resting quote owned by the market-maker strategy. Outcomes
// from the execution layer are applied back here before the next quoting
// cycle so quotes are never duplicated or orphaned.
type MakerOrder struct {
	OrderID   string
	Side      OrderSide
	Price     decimal.Decimal
	Size      decimal.Decimal
	Timestamp time.Time
}
