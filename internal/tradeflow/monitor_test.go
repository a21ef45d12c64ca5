package tradeflow

import (
	"math"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/perpdex/perpflow/internal/domain"
)

func dec(v float64) decimal.Decimal { return decimal.NewFromFloat(v) }

func TestMonitor_BuySellImbalance(t *testing.T) {
	m := NewMonitor(60*time.Second, dec(50000))
	now := time.Now()

	m.AddTrade(dec(100), dec(6), domain.OrderSideBuy, "", now)
	m.AddTrade(dec(100), dec(4), domain.OrderSideSell, "", now)

	// (6-4)/10
	assert.InDelta(t, 0.2, m.BuySellImbalance(), 1e-9)
}

func TestMonitor_BuySellImbalance_Empty(t *testing.T) {
	m := NewMonitor(60*time.Second, dec(50000))
	assert.Zero(t, m.BuySellImbalance())
}

func TestMonitor_BuySellRatio(t *testing.T) {
	m := NewMonitor(60*time.Second, dec(50000))
	now := time.Now()

	assert.Equal(t, 1.0, m.BuySellRatio(), "empty window defaults to 1")

	m.AddTrade(dec(100), dec(5), domain.OrderSideBuy, "", now)
	assert.True(t, math.IsInf(m.BuySellRatio(), 1), "no sell volume")

	m.AddTrade(dec(100), dec(2), domain.OrderSideSell, "", now)
	assert.InDelta(t, 2.5, m.BuySellRatio(), 1e-9)
}

func TestMonitor_WindowEviction(t *testing.T) {
	m := NewMonitor(60*time.Second, dec(50000))
	start := time.Now()

	m.AddTrade(dec(100), dec(1), domain.OrderSideBuy, "old", start)
	m.AddTrade(dec(100), dec(1), domain.OrderSideSell, "new", start.Add(61*time.Second))

	assert.Equal(t, 1, m.TradeCount(), "expired print evicted on insert")
	assert.InDelta(t, -1.0, m.BuySellImbalance(), 1e-9)
}

func TestMonitor_LargeTrades(t *testing.T) {
	m := NewMonitor(60*time.Second, dec(50000))
	now := time.Now()

	m.AddTrade(dec(1000), dec(100), domain.OrderSideBuy, "", now) // 100000
	m.AddTrade(dec(1000), dec(10), domain.OrderSideSell, "", now) // 10000

	assert.Equal(t, 1, m.LargeTradesCount())
	assert.True(t, m.LargeTradesValue().Equal(dec(100000)))
}

func TestMonitor_Momentum(t *testing.T) {
	m := NewMonitor(60*time.Second, dec(50000))
	now := time.Now()

	m.AddTrade(dec(100), dec(1), domain.OrderSideBuy, "", now.Add(-5*time.Second))
	m.AddTrade(dec(102), dec(1), domain.OrderSideBuy, "", now)

	// (102-100)/100
	assert.InDelta(t, 0.02, m.Momentum(10*time.Second, now), 1e-9)
}

func TestMonitor_Momentum_TooFewTrades(t *testing.T) {
	m := NewMonitor(60*time.Second, dec(50000))
	now := time.Now()

	m.AddTrade(dec(100), dec(1), domain.OrderSideBuy, "", now)
	assert.Zero(t, m.Momentum(10*time.Second, now))

	// A second print outside the lookback does not count.
	m2 := NewMonitor(60*time.Second, dec(50000))
	m2.AddTrade(dec(100), dec(1), domain.OrderSideBuy, "", now.Add(-30*time.Second))
	m2.AddTrade(dec(105), dec(1), domain.OrderSideBuy, "", now)
	assert.Zero(t, m2.Momentum(10*time.Second, now))
}

func TestMonitor_AggressiveBuying(t *testing.T) {
	m := NewMonitor(60*time.Second, dec(50000))
	now := time.Now()

	// Fewer than 5 prints: never aggressive.
	for i := 0; i < 4; i++ {
		m.AddTrade(dec(100), dec(1), domain.OrderSideBuy, "", now)
	}
	assert.False(t, m.AggressiveBuying(0.7))

	m.AddTrade(dec(100), dec(1), domain.OrderSideBuy, "", now)
	assert.True(t, m.AggressiveBuying(0.7), "5/5 buys")
	assert.False(t, m.AggressiveSelling(0.7))
}

func TestMonitor_AggressiveSelling_RecentTenOnly(t *testing.T) {
	m := NewMonitor(60*time.Second, dec(50000))
	now := time.Now()

	// 10 buys followed by 8 sells: of the 10 most recent, 8 are sells.
	for i := 0; i < 10; i++ {
		m.AddTrade(dec(100), dec(1), domain.OrderSideBuy, "", now)
	}
	for i := 0; i < 8; i++ {
		m.AddTrade(dec(100), dec(1), domain.OrderSideSell, "", now)
	}

	assert.True(t, m.AggressiveSelling(0.7))
	assert.False(t, m.AggressiveBuying(0.7))
}

func TestMonitor_Metrics(t *testing.T) {
	m := NewMonitor(60*time.Second, dec(1000))
	now := time.Now()

	m.AddTrade(dec(100), dec(20), domain.OrderSideBuy, "", now.Add(-2*time.Second)) // value 2000, large
	m.AddTrade(dec(101), dec(1), domain.OrderSideSell, "", now)

	got := m.Metrics(now)
	assert.Equal(t, 2, got.TotalTrades)
	assert.Equal(t, 1, got.LargeTradesCount)
	assert.True(t, got.BuyVolume.Equal(dec(20)))
	assert.True(t, got.SellVolume.Equal(dec(1)))
	assert.True(t, got.TotalValue.Equal(dec(2101)))
	assert.InDelta(t, 0.01, got.Momentum, 1e-9)
}
