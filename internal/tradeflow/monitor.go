// Package tradeflow monitors the tape: buy/sell volume imbalance, short-term
// momentum, and large-trade accounting over a sliding time window.
package tradeflow

import (
	"math"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/perpdex/perpflow/internal/domain"
)

// recentTradeCount is how many of the newest prints the aggressive-flow
// detectors look at.
const recentTradeCount = 10

// minTradesForAggression is the minimum number of recent prints required
// before aggressive flow can be detected at all.
const minTradesForAggression = 5

// Monitor maintains a time-bounded window of trade prints plus a parallel
// sub-window of prints whose value clears the large-order threshold. Expired
// entries are evicted lazily on every insert; no timer goroutine is needed.
type Monitor struct {
	window         time.Duration
	largeThreshold decimal.Decimal

	mu          sync.RWMutex
	trades      []domain.TradePrint
	largeTrades []domain.TradePrint
}

// Metrics bundles the monitor's aggregate indicators.
type Metrics struct {
	TotalTrades       int
	LargeTradesCount  int
	LargeTradesValue  decimal.Decimal
	BuyVolume         decimal.Decimal
	SellVolume        decimal.Decimal
	TotalVolume       decimal.Decimal
	BuyValue          decimal.Decimal
	SellValue         decimal.Decimal
	TotalValue        decimal.Decimal
	BuySellRatio      float64
	Imbalance         float64
	Momentum          float64
	AggressiveBuying  bool
	AggressiveSelling bool
}

// NewMonitor creates a Monitor with the given sliding window and large-order
// notional threshold.
func NewMonitor(window time.Duration, largeThreshold decimal.Decimal) *Monitor {
	return &Monitor{
		window:         window,
		largeThreshold: largeThreshold,
	}
}

// AddTrade records a print, classifies it as large when its value clears the
// threshold, and evicts entries older than now-window from both collections.
func (m *Monitor) AddTrade(price, size decimal.Decimal, side domain.OrderSide, id string, ts time.Time) domain.TradePrint {
	trade := domain.TradePrint{
		ID:        id,
		Price:     price,
		Size:      size,
		Side:      side,
		Timestamp: ts,
	}

	m.mu.Lock()
	m.trades = append(m.trades, trade)
	if trade.Value().GreaterThanOrEqual(m.largeThreshold) {
		m.largeTrades = append(m.largeTrades, trade)
	}
	m.evictLocked(ts)
	m.mu.Unlock()

	return trade
}

// evictLocked drops prints older than the window cutoff. Caller holds m.mu.
func (m *Monitor) evictLocked(now time.Time) {
	cutoff := now.Add(-m.window)

	i := 0
	for i < len(m.trades) && m.trades[i].Timestamp.Before(cutoff) {
		i++
	}
	if i > 0 {
		m.trades = m.trades[i:]
	}

	j := 0
	for j < len(m.largeTrades) && m.largeTrades[j].Timestamp.Before(cutoff) {
		j++
	}
	if j > 0 {
		m.largeTrades = m.largeTrades[j:]
	}
}

// TradeCount returns the number of prints currently in the window.
func (m *Monitor) TradeCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.trades)
}

// BuySellImbalance returns (buy_volume - sell_volume) / total_volume in
// [-1,1]. Returns 0 for an empty window or zero volume.
func (m *Monitor) BuySellImbalance() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if len(m.trades) == 0 {
		return 0
	}
	buyVol, sellVol := m.volumesLocked()
	total := buyVol.Add(sellVol)
	if total.Sign() == 0 {
		return 0
	}
	imb, _ := buyVol.Sub(sellVol).Div(total).Float64()
	return imb
}

// BuySellRatio returns buy_volume/sell_volume. With no sell volume it
// returns +Inf when buys exist, else 1.
func (m *Monitor) BuySellRatio() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if len(m.trades) == 0 {
		return 1
	}
	buyVol, sellVol := m.volumesLocked()
	if sellVol.Sign() == 0 {
		if buyVol.Sign() > 0 {
			return math.Inf(1)
		}
		return 1
	}
	ratio, _ := buyVol.Div(sellVol).Float64()
	return ratio
}

// volumesLocked sums buy and sell sizes. Caller holds m.mu.
func (m *Monitor) volumesLocked() (buyVol, sellVol decimal.Decimal) {
	buyVol, sellVol = decimal.Zero, decimal.Zero
	for _, t := range m.trades {
		if t.Side == domain.OrderSideBuy {
			buyVol = buyVol.Add(t.Size)
		} else {
			sellVol = sellVol.Add(t.Size)
		}
	}
	return buyVol, sellVol
}

// Momentum returns the fractional price change between the first and last
// print within the lookback, relative to the first. Returns 0 with fewer
// than two qualifying prints.
func (m *Monitor) Momentum(lookback time.Duration, now time.Time) float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	cutoff := now.Add(-lookback)
	var recent []domain.TradePrint
	for _, t := range m.trades {
		if !t.Timestamp.Before(cutoff) {
			recent = append(recent, t)
		}
	}
	if len(recent) < 2 {
		return 0
	}

	first := recent[0].Price
	last := recent[len(recent)-1].Price
	if first.Sign() == 0 {
		return 0
	}
	momentum, _ := last.Sub(first).Div(first).Float64()
	return momentum
}

// AggressiveBuying reports whether at least threshold of the most recent 10
// prints were buys. Requires at least 5 recent prints.
func (m *Monitor) AggressiveBuying(threshold float64) bool {
	return m.aggressiveSide(domain.OrderSideBuy, threshold)
}

// AggressiveSelling reports whether at least threshold of the most recent 10
// prints were sells. Requires at least 5 recent prints.
func (m *Monitor) AggressiveSelling(threshold float64) bool {
	return m.aggressiveSide(domain.OrderSideSell, threshold)
}

func (m *Monitor) aggressiveSide(side domain.OrderSide, threshold float64) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	recent := m.trades
	if len(recent) > recentTradeCount {
		recent = recent[len(recent)-recentTradeCount:]
	}
	if len(recent) < minTradesForAggression {
		return false
	}

	count := 0
	for _, t := range recent {
		if t.Side == side {
			count++
		}
	}
	return float64(count)/float64(len(recent)) >= threshold
}

// LargeTradesCount returns the number of large prints in the window.
func (m *Monitor) LargeTradesCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.largeTrades)
}

// LargeTradesValue returns the summed value of large prints in the window.
func (m *Monitor) LargeTradesValue() decimal.Decimal {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sum := decimal.Zero
	for _, t := range m.largeTrades {
		sum = sum.Add(t.Value())
	}
	return sum
}

// Metrics computes the aggregate indicator bundle at the given reference
// time (used for the momentum lookback).
func (m *Monitor) Metrics(now time.Time) Metrics {
	m.mu.RLock()
	buyVol, sellVol := m.volumesLocked()
	buyVal, sellVal := decimal.Zero, decimal.Zero
	for _, t := range m.trades {
		if t.Side == domain.OrderSideBuy {
			buyVal = buyVal.Add(t.Value())
		} else {
			sellVal = sellVal.Add(t.Value())
		}
	}
	total := len(m.trades)
	m.mu.RUnlock()

	return Metrics{
		TotalTrades:       total,
		LargeTradesCount:  m.LargeTradesCount(),
		LargeTradesValue:  m.LargeTradesValue(),
		BuyVolume:         buyVol,
		SellVolume:        sellVol,
		TotalVolume:       buyVol.Add(sellVol),
		BuyValue:          buyVal,
		SellValue:         sellVal,
		TotalValue:        buyVal.Add(sellVal),
		BuySellRatio:      m.BuySellRatio(),
		Imbalance:         m.BuySellImbalance(),
		Momentum:          m.Momentum(10*time.Second, now),
		AggressiveBuying:  m.AggressiveBuying(0.7),
		AggressiveSelling: m.AggressiveSelling(0.7),
	}
}
