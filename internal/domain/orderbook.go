package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side marks which half of the book a level belongs to.
type Side string

const (
	SideBid Side = "bid"
	SideAsk Side = "ask"
)

// PriceLevel is a single price+size entry in an orderbook. A level with zero
// size is logically absent.
type PriceLevel struct {
	Price decimal.Decimal
	Size  decimal.Decimal
	Side  Side
}

// Notional returns price*size, the dollar value resting at this level.
func (l PriceLevel) Notional() decimal.Decimal {
	return l.Price.Mul(l.Size)
}

// OrderbookSnapshot is an immutable snapshot of bids (descending price) and
// asks (ascending price) for a contract at a point in time.
type OrderbookSnapshot struct {
	Bids      []PriceLevel
	Asks      []PriceLevel
	BestBid   decimal.Decimal
	BestAsk   decimal.Decimal
	Timestamp time.Time
}

// MidPrice returns (best_bid+best_ask)/2.
func (s OrderbookSnapshot) MidPrice() decimal.Decimal {
	return s.BestBid.Add(s.BestAsk).Div(decimal.NewFromInt(2))
}

// Spread returns best_ask - best_bid.
func (s OrderbookSnapshot) Spread() decimal.Decimal {
	return s.BestAsk.Sub(s.BestBid)
}

// SpreadPct returns the spread as a percentage of the mid price, or zero for
// a degenerate book.
func (s OrderbookSnapshot) SpreadPct() decimal.Decimal {
	mid := s.MidPrice()
	if mid.Sign() <= 0 {
		return decimal.Zero
	}
	return s.Spread().Div(mid).Mul(decimal.NewFromInt(100))
}

// Crossed reports whether best_bid exceeds best_ask while both sides are
// populated. Callers reject crossed books before analysis.
func (s OrderbookSnapshot) Crossed() bool {
	return len(s.Bids) > 0 && len(s.Asks) > 0 && s.BestBid.GreaterThan(s.BestAsk)
}
