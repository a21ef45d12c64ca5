package orderbook

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/perpdex/perpflow/internal/domain"
)

func level(price, size float64) domain.PriceLevel {
	return domain.PriceLevel{
		Price: decimal.NewFromFloat(price),
		Size:  decimal.NewFromFloat(size),
	}
}

func TestAnalyzer_Imbalance(t *testing.T) {
	a := NewAnalyzer(20)
	snap := a.Update(
		[]domain.PriceLevel{level(100, 10)},
		[]domain.PriceLevel{level(101, 5)},
		time.Now(),
	)

	// (10-5)/15
	assert.InDelta(t, 0.3333, a.Imbalance(snap), 0.001)
}

func TestAnalyzer_Imbalance_EmptySide(t *testing.T) {
	a := NewAnalyzer(20)

	noBids := a.Update(nil, []domain.PriceLevel{level(101, 5)}, time.Now())
	assert.Zero(t, a.Imbalance(noBids))
	assert.Zero(t, a.WeightedImbalance(noBids, 5))

	noAsks := a.Update([]domain.PriceLevel{level(100, 5)}, nil, time.Now())
	assert.Zero(t, a.Imbalance(noAsks))
	assert.Zero(t, a.WeightedImbalance(noAsks, 5))
}

func TestAnalyzer_Imbalance_BalancedBook(t *testing.T) {
	a := NewAnalyzer(20)
	snap := a.Update(
		[]domain.PriceLevel{level(100, 3), level(99, 7)},
		[]domain.PriceLevel{level(101, 6), level(102, 4)},
		time.Now(),
	)
	assert.Zero(t, a.Imbalance(snap))
}

func TestAnalyzer_Imbalance_ZeroVolume(t *testing.T) {
	a := NewAnalyzer(20)
	snap := a.Update(
		[]domain.PriceLevel{level(100, 0)},
		[]domain.PriceLevel{level(101, 0)},
		time.Now(),
	)
	assert.Zero(t, a.Imbalance(snap))
}

func TestAnalyzer_WeightedImbalance_NearTouchDominates(t *testing.T) {
	a := NewAnalyzer(20)
	// Equal total volume, but bid size concentrated at the touch: the
	// weighted imbalance must be positive while the plain one is zero.
	snap := a.Update(
		[]domain.PriceLevel{level(100, 10), level(99, 0)},
		[]domain.PriceLevel{level(101, 0), level(102, 10)},
		time.Now(),
	)

	assert.Zero(t, a.Imbalance(snap))
	// bids: 10*1 = 10, asks: 0*1 + 10*0.5 = 5 -> (10-5)/15
	assert.InDelta(t, 0.3333, a.WeightedImbalance(snap, 5), 0.001)
}

func TestAnalyzer_DepthTruncation(t *testing.T) {
	a := NewAnalyzer(2)
	snap := a.Update(
		[]domain.PriceLevel{level(100, 1), level(99, 1), level(98, 100)},
		[]domain.PriceLevel{level(101, 1), level(102, 1), level(103, 100)},
		time.Now(),
	)

	require.Len(t, snap.Bids, 2)
	require.Len(t, snap.Asks, 2)
	assert.True(t, snap.BestBid.Equal(decimal.NewFromInt(100)))
	assert.True(t, snap.BestAsk.Equal(decimal.NewFromInt(101)))
}

func TestAnalyzer_HistoryBounded(t *testing.T) {
	a := NewAnalyzer(5)
	for i := 0; i < maxSnapshots+20; i++ {
		a.Update(
			[]domain.PriceLevel{level(100+float64(i), 1)},
			[]domain.PriceLevel{level(101+float64(i), 1)},
			time.Now(),
		)
	}
	hist := a.History()
	require.Len(t, hist, maxSnapshots)
	// Oldest evicted first: the first retained snapshot is number 20.
	assert.True(t, hist[0].BestBid.Equal(decimal.NewFromInt(120)))
}

func TestAnalyzer_SupportResistance(t *testing.T) {
	a := NewAnalyzer(20)
	snap := a.Update(
		[]domain.PriceLevel{level(100, 2), level(99, 8), level(98, 3)},
		[]domain.PriceLevel{level(101, 5), level(102, 9), level(103, 1)},
		time.Now(),
	)

	support, resistance := a.SupportResistance(snap)
	assert.True(t, support.Equal(decimal.NewFromInt(99)), "support = %s", support)
	assert.True(t, resistance.Equal(decimal.NewFromInt(102)), "resistance = %s", resistance)
}

func TestAnalyzer_SupportResistance_TieKeepsFirst(t *testing.T) {
	a := NewAnalyzer(20)
	snap := a.Update(
		[]domain.PriceLevel{level(100, 5), level(99, 5)},
		[]domain.PriceLevel{level(101, 5), level(102, 5)},
		time.Now(),
	)

	support, resistance := a.SupportResistance(snap)
	assert.True(t, support.Equal(decimal.NewFromInt(100)))
	assert.True(t, resistance.Equal(decimal.NewFromInt(101)))
}

func TestAnalyzer_Liquidity(t *testing.T) {
	a := NewAnalyzer(20)
	// mid = 100.5, 0.5% range = 0.5025
	snap := a.Update(
		[]domain.PriceLevel{level(100, 4), level(99.5, 6)},
		[]domain.PriceLevel{level(101, 3), level(105, 50)},
		time.Now(),
	)

	bidLiq, askLiq := a.Liquidity(snap, 0.5)
	assert.True(t, bidLiq.Equal(decimal.NewFromInt(4)), "bid liquidity = %s", bidLiq)
	assert.True(t, askLiq.Equal(decimal.NewFromInt(3)), "ask liquidity = %s", askLiq)
}

func TestAnalyzer_LargeOrders(t *testing.T) {
	a := NewAnalyzer(20)
	snap := a.Update(
		[]domain.PriceLevel{level(100, 600), level(99, 1)},   // 60000, 99
		[]domain.PriceLevel{level(101, 495.05), level(102, 2)}, // 50000.05, 204
		time.Now(),
	)

	largeBids, largeAsks := a.LargeOrders(snap, decimal.NewFromInt(50000))
	require.Len(t, largeBids, 1)
	require.Len(t, largeAsks, 1)
	assert.True(t, largeBids[0].Price.Equal(decimal.NewFromInt(100)))
	assert.True(t, largeAsks[0].Price.Equal(decimal.NewFromInt(101)))
}

func TestAnalyzer_Metrics(t *testing.T) {
	a := NewAnalyzer(20)
	snap := a.Update(
		[]domain.PriceLevel{level(100, 10)},
		[]domain.PriceLevel{level(101, 5)},
		time.Now(),
	)

	m := a.Metrics(snap)
	assert.True(t, m.MidPrice.Equal(decimal.NewFromFloat(100.5)))
	assert.True(t, m.Spread.Equal(decimal.NewFromInt(1)))
	assert.InDelta(t, 0.3333, m.Imbalance, 0.001)
}
