// Package orderbook analyzes depth snapshots: volume imbalance, weighted
// imbalance, support/resistance, liquidity near the touch, and large resting
// orders.
package orderbook

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/perpdex/perpflow/internal/domain"
)

// maxSnapshots bounds the retained snapshot history; the oldest snapshot is
// evicted first.
const maxSnapshots = 100

// defaultWeightedLevels is how many levels per side the weighted imbalance
// considers when the caller does not override it.
const defaultWeightedLevels = 5

// Analyzer ingests orderbook snapshots and computes depth metrics. All metric
// computations are pure functions of a snapshot; the only state is the
// bounded snapshot history.
type Analyzer struct {
	depth int

	mu        sync.RWMutex
	snapshots []domain.OrderbookSnapshot
	current   *domain.OrderbookSnapshot
}

// Metrics bundles the analyzer's per-snapshot indicators.
type Metrics struct {
	BestBid           decimal.Decimal
	BestAsk           decimal.Decimal
	MidPrice          decimal.Decimal
	Spread            decimal.Decimal
	SpreadPct         decimal.Decimal
	Imbalance         float64
	WeightedImbalance float64
	Support           decimal.Decimal
	Resistance        decimal.Decimal
	BidLiquidity      decimal.Decimal
	AskLiquidity      decimal.Decimal
	Timestamp         time.Time
}

// NewAnalyzer creates an Analyzer that truncates incoming books to depth
// levels per side.
func NewAnalyzer(depth int) *Analyzer {
	if depth <= 0 {
		depth = 20
	}
	return &Analyzer{depth: depth}
}

// Update ingests raw level lists (bids descending, asks ascending, already
// sorted by the feed), truncates them to the configured depth, and stores the
// resulting snapshot in the bounded history.
func (a *Analyzer) Update(bids, asks []domain.PriceLevel, ts time.Time) domain.OrderbookSnapshot {
	if len(bids) > a.depth {
		bids = bids[:a.depth]
	}
	if len(asks) > a.depth {
		asks = asks[:a.depth]
	}

	bidLevels := make([]domain.PriceLevel, len(bids))
	for i, l := range bids {
		bidLevels[i] = domain.PriceLevel{Price: l.Price, Size: l.Size, Side: domain.SideBid}
	}
	askLevels := make([]domain.PriceLevel, len(asks))
	for i, l := range asks {
		askLevels[i] = domain.PriceLevel{Price: l.Price, Size: l.Size, Side: domain.SideAsk}
	}

	var bestBid, bestAsk decimal.Decimal
	if len(bidLevels) > 0 {
		bestBid = bidLevels[0].Price
	}
	if len(askLevels) > 0 {
		bestAsk = askLevels[0].Price
	}

	snap := domain.OrderbookSnapshot{
		Bids:      bidLevels,
		Asks:      askLevels,
		BestBid:   bestBid,
		BestAsk:   bestAsk,
		Timestamp: ts,
	}

	a.mu.Lock()
	a.current = &snap
	a.snapshots = append(a.snapshots, snap)
	if overflow := len(a.snapshots) - maxSnapshots; overflow > 0 {
		a.snapshots = append([]domain.OrderbookSnapshot(nil), a.snapshots[overflow:]...)
	}
	a.mu.Unlock()

	return snap
}

// Current returns the most recent snapshot, or false when none has been
// ingested yet.
func (a *Analyzer) Current() (domain.OrderbookSnapshot, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.current == nil {
		return domain.OrderbookSnapshot{}, false
	}
	return *a.current, true
}

// History returns a copy of the retained snapshot history, oldest first.
func (a *Analyzer) History() []domain.OrderbookSnapshot {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]domain.OrderbookSnapshot, len(a.snapshots))
	copy(out, a.snapshots)
	return out
}

// Imbalance returns (bid_volume - ask_volume) / (bid_volume + ask_volume) in
// [-1,1]. Positive values mean bids dominate. Returns 0 for an empty side or
// zero total volume; degenerate books never produce an error.
func (a *Analyzer) Imbalance(snap domain.OrderbookSnapshot) float64 {
	if len(snap.Bids) == 0 || len(snap.Asks) == 0 {
		return 0
	}
	bidVol := decimal.Zero
	for _, l := range snap.Bids {
		bidVol = bidVol.Add(l.Size)
	}
	askVol := decimal.Zero
	for _, l := range snap.Asks {
		askVol = askVol.Add(l.Size)
	}
	total := bidVol.Add(askVol)
	if total.Sign() == 0 {
		return 0
	}
	imb, _ := bidVol.Sub(askVol).Div(total).Float64()
	return imb
}

// WeightedImbalance is the imbalance with level i (0-indexed) weighted by
// 1/(i+1), so liquidity near the touch matters more than deep liquidity. At
// most levels per side are considered; levels <= 0 uses the default of 5.
func (a *Analyzer) WeightedImbalance(snap domain.OrderbookSnapshot, levels int) float64 {
	if len(snap.Bids) == 0 || len(snap.Asks) == 0 {
		return 0
	}
	if levels <= 0 {
		levels = defaultWeightedLevels
	}

	weighted := func(side []domain.PriceLevel) decimal.Decimal {
		sum := decimal.Zero
		for i, l := range side {
			if i >= levels {
				break
			}
			weight := decimal.NewFromInt(1).Div(decimal.NewFromInt(int64(i + 1)))
			sum = sum.Add(l.Size.Mul(weight))
		}
		return sum
	}

	bidWeighted := weighted(snap.Bids)
	askWeighted := weighted(snap.Asks)
	total := bidWeighted.Add(askWeighted)
	if total.Sign() == 0 {
		return 0
	}
	imb, _ := bidWeighted.Sub(askWeighted).Div(total).Float64()
	return imb
}

// SupportResistance returns the price of the single largest-size bid level
// (support) and largest-size ask level (resistance). Ties keep the first
// level encountered, which is closest to the touch since levels are sorted.
func (a *Analyzer) SupportResistance(snap domain.OrderbookSnapshot) (support, resistance decimal.Decimal) {
	maxBid := decimal.Zero
	for _, l := range snap.Bids {
		if l.Size.GreaterThan(maxBid) {
			maxBid = l.Size
			support = l.Price
		}
	}
	maxAsk := decimal.Zero
	for _, l := range snap.Asks {
		if l.Size.GreaterThan(maxAsk) {
			maxAsk = l.Size
			resistance = l.Price
		}
	}
	return support, resistance
}

// Liquidity sums the size resting within +/- priceRangePct percent of the mid
// price on each side.
func (a *Analyzer) Liquidity(snap domain.OrderbookSnapshot, priceRangePct float64) (bidLiquidity, askLiquidity decimal.Decimal) {
	mid := snap.MidPrice()
	if mid.Sign() <= 0 {
		return decimal.Zero, decimal.Zero
	}
	priceRange := mid.Mul(decimal.NewFromFloat(priceRangePct / 100))

	bidFloor := mid.Sub(priceRange)
	bidLiquidity = decimal.Zero
	for _, l := range snap.Bids {
		if l.Price.GreaterThanOrEqual(bidFloor) {
			bidLiquidity = bidLiquidity.Add(l.Size)
		}
	}

	askCeil := mid.Add(priceRange)
	askLiquidity = decimal.Zero
	for _, l := range snap.Asks {
		if l.Price.LessThanOrEqual(askCeil) {
			askLiquidity = askLiquidity.Add(l.Size)
		}
	}
	return bidLiquidity, askLiquidity
}

// LargeOrders partitions levels whose notional value (price*size) is at
// least threshold.
func (a *Analyzer) LargeOrders(snap domain.OrderbookSnapshot, threshold decimal.Decimal) (largeBids, largeAsks []domain.PriceLevel) {
	for _, l := range snap.Bids {
		if l.Notional().GreaterThanOrEqual(threshold) {
			largeBids = append(largeBids, l)
		}
	}
	for _, l := range snap.Asks {
		if l.Notional().GreaterThanOrEqual(threshold) {
			largeAsks = append(largeAsks, l)
		}
	}
	return largeBids, largeAsks
}

// Metrics computes the full indicator bundle for a snapshot.
func (a *Analyzer) Metrics(snap domain.OrderbookSnapshot) Metrics {
	support, resistance := a.SupportResistance(snap)
	bidLiq, askLiq := a.Liquidity(snap, 0.5)
	return Metrics{
		BestBid:           snap.BestBid,
		BestAsk:           snap.BestAsk,
		MidPrice:          snap.MidPrice(),
		Spread:            snap.Spread(),
		SpreadPct:         snap.SpreadPct(),
		Imbalance:         a.Imbalance(snap),
		WeightedImbalance: a.WeightedImbalance(snap, defaultWeightedLevels),
		Support:           support,
		Resistance:        resistance,
		BidLiquidity:      bidLiq,
		AskLiquidity:      askLiq,
		Timestamp:         snap.Timestamp,
	}
}
