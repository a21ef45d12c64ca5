package strategy

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/perpdex/perpflow/internal/domain"
	"github.com/perpdex/perpflow/internal/orderbook"
	"github.com/perpdex/perpflow/internal/quote"
	"github.com/perpdex/perpflow/internal/tradeflow"
)

func newMarketMaker(cfg Config) *MarketMaker {
	book := orderbook.NewAnalyzer(20)
	flow := tradeflow.NewMonitor(60*time.Second, dec(50000))
	quoter := quote.NewEngine(quote.Config{
		SpreadType:   quote.SpreadTypeFixed,
		TargetSpread: dec(1),
		MinSpread:    dec(0.5),
		TickSize:     dec(0.1),
	})
	return NewMarketMaker(cfg, quoter, book, flow, dec(0.001), testLogger())
}

func balancedSnap(ts time.Time, bid, ask float64) domain.OrderbookSnapshot {
	return domain.OrderbookSnapshot{
		Bids:      []domain.PriceLevel{{Price: dec(bid), Size: dec(50), Side: domain.SideBid}},
		Asks:      []domain.PriceLevel{{Price: dec(ask), Size: dec(50), Side: domain.SideAsk}},
		BestBid:   dec(bid),
		BestAsk:   dec(ask),
		Timestamp: ts,
	}
}

func TestMarketMaker_InitialQuote(t *testing.T) {
	s := newMarketMaker(defaultConfig())
	ctx := context.Background()
	now := time.Now()

	_, err := s.OnBookUpdate(ctx, balancedSnap(now, 99.5, 100.5))
	require.NoError(t, err)

	sigs, err := s.OnTick(ctx, now)
	require.NoError(t, err)
	require.Len(t, sigs, 2, "two-sided quote")

	assert.Equal(t, domain.OrderSideBuy, sigs[0].Direction)
	assert.Equal(t, domain.OrderSideSell, sigs[1].Direction)
	assert.True(t, sigs[0].Price.LessThan(sigs[1].Price))
	assert.True(t, sigs[0].Price.Equal(dec(99.5)))
	assert.True(t, sigs[1].Price.Equal(dec(100.5)))
}

func TestMarketMaker_RequoteThreshold(t *testing.T) {
	s := newMarketMaker(defaultConfig())
	ctx := context.Background()
	now := time.Now()

	_, err := s.OnBookUpdate(ctx, balancedSnap(now, 99.5, 100.5))
	require.NoError(t, err)
	sigs, err := s.OnTick(ctx, now)
	require.NoError(t, err)
	require.Len(t, sigs, 2)
	s.ApplyQuoteResult(domain.OrderSideBuy, sigs[0].Price, sigs[0].Size, domain.OrderResult{Success: true, OrderID: "b1"})
	s.ApplyQuoteResult(domain.OrderSideSell, sigs[1].Price, sigs[1].Size, domain.OrderResult{Success: true, OrderID: "a1"})

	// A 0.05% move stays under the 0.1% threshold: no requote.
	_, err = s.OnBookUpdate(ctx, balancedSnap(now, 99.55, 100.55))
	require.NoError(t, err)
	sigs, err = s.OnTick(ctx, now.Add(time.Second))
	require.NoError(t, err)
	assert.Empty(t, sigs)

	// A 1% move forces a requote.
	_, err = s.OnBookUpdate(ctx, balancedSnap(now, 100.5, 101.5))
	require.NoError(t, err)
	sigs, err = s.OnTick(ctx, now.Add(2*time.Second))
	require.NoError(t, err)
	assert.Len(t, sigs, 2)
}

func TestMarketMaker_SkipsCrossedBook(t *testing.T) {
	s := newMarketMaker(defaultConfig())
	ctx := context.Background()
	now := time.Now()

	_, err := s.OnBookUpdate(ctx, balancedSnap(now, 101, 100))
	require.NoError(t, err)
	sigs, err := s.OnTick(ctx, now)
	require.NoError(t, err)
	assert.Empty(t, sigs)
}

func TestMarketMaker_InventoryCapOneSided(t *testing.T) {
	cfg := defaultConfig()
	cfg.MaxPosition = dec(0.1)
	s := newMarketMaker(cfg)
	ctx := context.Background()
	now := time.Now()

	// At the long cap only the sell side may quote.
	s.ApplyFill(domain.OrderSideBuy, dec(100), dec(0.1))

	_, err := s.OnBookUpdate(ctx, balancedSnap(now, 99.5, 100.5))
	require.NoError(t, err)
	sigs, err := s.OnTick(ctx, now)
	require.NoError(t, err)
	require.Len(t, sigs, 1)
	assert.Equal(t, domain.OrderSideSell, sigs[0].Direction)
}

func TestMarketMaker_FillClearsQuoteAndTracksInventory(t *testing.T) {
	s := newMarketMaker(defaultConfig())

	s.ApplyQuoteResult(domain.OrderSideBuy, dec(99.5), dec(0.1), domain.OrderResult{Success: true, OrderID: "b1"})
	bid, ask := s.ActiveQuotes()
	require.NotNil(t, bid)
	assert.Nil(t, ask)

	s.ApplyFill(domain.OrderSideBuy, dec(99.5), dec(0.1))
	bid, _ = s.ActiveQuotes()
	assert.Nil(t, bid, "filled quote cleared")

	st := s.Status()
	assert.True(t, st.Position.Equal(dec(0.1)))
	assert.True(t, st.AvgEntryPrice.Equal(dec(99.5)))
}
