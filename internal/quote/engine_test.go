package quote

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/perpdex/perpflow/internal/domain"
)

func dec(v float64) decimal.Decimal { return decimal.NewFromFloat(v) }

func snapshot(bestBid, bestAsk float64) domain.OrderbookSnapshot {
	return domain.OrderbookSnapshot{
		Bids:      []domain.PriceLevel{{Price: dec(bestBid), Size: dec(1), Side: domain.SideBid}},
		Asks:      []domain.PriceLevel{{Price: dec(bestAsk), Size: dec(1), Side: domain.SideAsk}},
		BestBid:   dec(bestBid),
		BestAsk:   dec(bestAsk),
		Timestamp: time.Now(),
	}
}

func fixedConfig() Config {
	return Config{
		SpreadType:   SpreadTypeFixed,
		TargetSpread: dec(1),
		MinSpread:    dec(0.5),
		TickSize:     dec(0.1),
	}
}

func TestQuote_FixedSpread(t *testing.T) {
	e := NewEngine(fixedConfig())

	bid, ask := e.Quote(snapshot(99.5, 100.5), decimal.Zero)

	assert.True(t, bid.Equal(dec(99.5)), "bid %s", bid)
	assert.True(t, ask.Equal(dec(100.5)), "ask %s", ask)
}

func TestQuote_PercentageSpread(t *testing.T) {
	cfg := fixedConfig()
	cfg.SpreadType = SpreadTypePercentage
	cfg.SpreadRatio = dec(2)
	e := NewEngine(cfg)

	// Market spread 1, ratio 2: quoted spread 2 around mid 100.
	bid, ask := e.Quote(snapshot(99.5, 100.5), decimal.Zero)

	assert.True(t, bid.Equal(dec(99)), "bid %s", bid)
	assert.True(t, ask.Equal(dec(101)), "ask %s", ask)
}

func TestQuote_MinSpreadFloor(t *testing.T) {
	cfg := fixedConfig()
	cfg.TargetSpread = dec(0.1)
	cfg.MinSpread = dec(2)
	e := NewEngine(cfg)

	bid, ask := e.Quote(snapshot(99.9, 100.1), decimal.Zero)

	assert.True(t, ask.Sub(bid).Equal(dec(2)), "spread floored at min, got %s", ask.Sub(bid))
}

func TestQuote_InventorySkew_Long(t *testing.T) {
	cfg := fixedConfig()
	cfg.InventorySkewEnabled = true
	cfg.InventorySkewFactor = dec(0.5)
	cfg.MaxPosition = dec(10)
	e := NewEngine(cfg)

	// Position 5/10, skew = 1 * 0.5 * 0.5 = 0.25. Long lowers both quotes,
	// the ask by the full amount.
	bid, ask := e.Quote(snapshot(99.5, 100.5), dec(5))

	assert.True(t, ask.Equal(dec(100.3)), "ask 100.5-0.25 rounded to 100.3, got %s", ask)
	assert.True(t, bid.Equal(dec(99.4)), "bid 99.5-0.125 rounded to 99.4, got %s", bid)
}

func TestQuote_InventorySkew_ShortMirrors(t *testing.T) {
	cfg := fixedConfig()
	cfg.InventorySkewEnabled = true
	cfg.InventorySkewFactor = dec(0.5)
	cfg.MaxPosition = dec(10)
	e := NewEngine(cfg)

	bid, ask := e.Quote(snapshot(99.5, 100.5), dec(-5))

	// Skew magnitude 0.25. Short raises both quotes, the bid by the full
	// amount.
	assert.True(t, bid.Equal(dec(99.8)), "bid 99.5+0.25 rounds to 99.8, got %s", bid)
	assert.True(t, ask.Equal(dec(100.6)), "ask 100.5+0.125 rounds to 100.6, got %s", ask)
}

func TestQuote_TickRoundingHalfUp(t *testing.T) {
	cfg := fixedConfig()
	cfg.TickSize = dec(1)
	cfg.TargetSpread = dec(3)
	e := NewEngine(cfg)

	// Mid 100.5, half spread 1.5: raw bid 99, raw ask 102.
	bid, ask := e.Quote(snapshot(100, 101), decimal.Zero)
	assert.True(t, bid.Equal(dec(99)), "bid %s", bid)
	assert.True(t, ask.Equal(dec(102)), "ask %s", ask)
}

func TestQuote_CrossedGuard(t *testing.T) {
	cfg := fixedConfig()
	cfg.TickSize = dec(1)
	cfg.TargetSpread = dec(0)
	cfg.MinSpread = dec(0)
	e := NewEngine(cfg)

	// Zero spread collapses both quotes onto the mid; the guard must force
	// bid one tick under ask.
	bid, ask := e.Quote(snapshot(99.5, 100.5), decimal.Zero)
	require.True(t, bid.LessThan(ask))
	assert.True(t, ask.Sub(bid).Equal(dec(1)))
}

func TestConfig_Validate(t *testing.T) {
	assert.NoError(t, fixedConfig().Validate())

	bad := fixedConfig()
	bad.SpreadType = "adaptive"
	assert.Error(t, bad.Validate())

	bad = fixedConfig()
	bad.TickSize = decimal.Zero
	assert.Error(t, bad.Validate())

	bad = fixedConfig()
	bad.InventorySkewEnabled = true
	assert.Error(t, bad.Validate(), "skew without max_position")
}
