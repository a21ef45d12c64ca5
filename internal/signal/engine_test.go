package signal

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/perpdex/perpflow/internal/domain"
	"github.com/perpdex/perpflow/internal/orderbook"
	"github.com/perpdex/perpflow/internal/tradeflow"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestEngine(t *testing.T, cfg Config) (*Engine, *orderbook.Analyzer, *tradeflow.Monitor) {
	t.Helper()
	book := orderbook.NewAnalyzer(20)
	flow := tradeflow.NewMonitor(60*time.Second, decimal.NewFromInt(50000))
	e, err := NewEngine(cfg, book, flow, testLogger())
	require.NoError(t, err)
	return e, book, flow
}

func TestNewEngine_RejectsBadConfig(t *testing.T) {
	book := orderbook.NewAnalyzer(20)
	flow := tradeflow.NewMonitor(60*time.Second, decimal.NewFromInt(50000))

	_, err := NewEngine(Config{ImbalanceThreshold: 0.3, StrengthThreshold: 0.5}, book, flow, testLogger())
	require.Error(t, err, "confirmation_ticks of zero must be rejected")

	_, err = NewEngine(Config{ImbalanceThreshold: 1.2, StrengthThreshold: 0.5, ConfirmationTicks: 3}, book, flow, testLogger())
	require.Error(t, err)

	_, err = NewEngine(Config{ImbalanceThreshold: 0.3, StrengthThreshold: -0.1, ConfirmationTicks: 3}, book, flow, testLogger())
	require.Error(t, err)
}

func level(price, size float64) domain.PriceLevel {
	return domain.PriceLevel{
		Price: decimal.NewFromFloat(price),
		Size:  decimal.NewFromFloat(size),
	}
}

func TestGenerate_NoSnapshot(t *testing.T) {
	e, _, _ := newTestEngine(t, Config{ImbalanceThreshold: 0.3, StrengthThreshold: 0.3, ConfirmationTicks: 3})
	assert.Nil(t, e.Generate(time.Now()))
}

func TestGenerate_BuyFromBookImbalance(t *testing.T) {
	e, book, _ := newTestEngine(t, Config{ImbalanceThreshold: 0.3, StrengthThreshold: 0.3, ConfirmationTicks: 3})

	// Imbalance = (90-10)/100 = 0.8; both plain and weighted clear the gate.
	book.Update(
		[]domain.PriceLevel{level(100, 90)},
		[]domain.PriceLevel{level(101, 10)},
		time.Now(),
	)

	sig := e.Generate(time.Now())
	require.NotNil(t, sig)
	assert.Equal(t, domain.OrderSideBuy, sig.Direction)
	// 0.8*0.4 + 0.8*0.3 = 0.56
	assert.InDelta(t, 0.56, sig.Strength, 0.01)
	assert.True(t, sig.Price.Equal(decimal.NewFromInt(101)), "buy references best ask")
	assert.NotEmpty(t, sig.Reason)
}

func TestGenerate_SellReferencesBestBid(t *testing.T) {
	e, book, _ := newTestEngine(t, Config{ImbalanceThreshold: 0.3, StrengthThreshold: 0.3, ConfirmationTicks: 3})

	book.Update(
		[]domain.PriceLevel{level(100, 10)},
		[]domain.PriceLevel{level(101, 90)},
		time.Now(),
	)

	sig := e.Generate(time.Now())
	require.NotNil(t, sig)
	assert.Equal(t, domain.OrderSideSell, sig.Direction)
	assert.True(t, sig.Price.Equal(decimal.NewFromInt(100)))
}

func TestGenerate_BelowStrengthThreshold(t *testing.T) {
	e, book, _ := newTestEngine(t, Config{ImbalanceThreshold: 0.3, StrengthThreshold: 0.7, ConfirmationTicks: 3})

	// Imbalance 0.4: strength 0.4*0.4 + 0.4*0.3 = 0.28 < 0.7.
	book.Update(
		[]domain.PriceLevel{level(100, 70)},
		[]domain.PriceLevel{level(101, 30)},
		time.Now(),
	)

	assert.Nil(t, e.Generate(time.Now()))
}

func TestGenerate_FirstRuleWinsDirection(t *testing.T) {
	e, book, flow := newTestEngine(t, Config{ImbalanceThreshold: 0.3, StrengthThreshold: 0.1, ConfirmationTicks: 3})
	now := time.Now()

	// Book strongly bid-heavy fixes direction buy.
	book.Update(
		[]domain.PriceLevel{level(100, 90)},
		[]domain.PriceLevel{level(101, 10)},
		now,
	)
	// Tape strongly sell-dominant: contradicting rule must be a silent no-op.
	for i := 0; i < 10; i++ {
		flow.AddTrade(decimal.NewFromInt(100), decimal.NewFromInt(5), domain.OrderSideSell, "", now)
	}

	sig := e.Generate(now)
	require.NotNil(t, sig)
	assert.Equal(t, domain.OrderSideBuy, sig.Direction)
	// Only rules 1+2 contribute: 0.8*0.4 + 0.8*0.3.
	assert.InDelta(t, 0.56, sig.Strength, 0.01)
}

func TestGenerate_MomentumContributionCapped(t *testing.T) {
	e, book, flow := newTestEngine(t, Config{ImbalanceThreshold: 0.3, StrengthThreshold: 0.1, ConfirmationTicks: 3})
	now := time.Now()

	book.Update(
		[]domain.PriceLevel{level(100, 50)},
		[]domain.PriceLevel{level(101, 50)},
		now,
	)
	// 10% move inside the lookback: 0.1*100 = 10, capped to 0.1.
	flow.AddTrade(decimal.NewFromInt(100), decimal.NewFromInt(1), domain.OrderSideBuy, "", now.Add(-5*time.Second))
	flow.AddTrade(decimal.NewFromInt(110), decimal.NewFromInt(1), domain.OrderSideBuy, "", now)

	sig := e.Generate(now)
	require.NotNil(t, sig)
	assert.Equal(t, domain.OrderSideBuy, sig.Direction)
	// Tape imbalance rule fires too (+1.0*0.2), momentum adds capped 0.1.
	assert.InDelta(t, 0.3, sig.Strength, 0.01)
}

func TestGenerate_StrengthClampedToOne(t *testing.T) {
	e, book, flow := newTestEngine(t, Config{ImbalanceThreshold: 0.1, StrengthThreshold: 0.1, ConfirmationTicks: 3})
	now := time.Now()

	book.Update(
		[]domain.PriceLevel{level(100, 100)},
		[]domain.PriceLevel{level(101, 0.0001)},
		now,
	)
	for i := 0; i < 10; i++ {
		flow.AddTrade(decimal.NewFromInt(100).Add(decimal.NewFromInt(int64(i))), decimal.NewFromInt(10), domain.OrderSideBuy, "", now.Add(time.Duration(i-9)*time.Second))
	}

	sig := e.Generate(now)
	require.NotNil(t, sig)
	assert.LessOrEqual(t, sig.Strength, 1.0)
}

func makeSignal(dir domain.OrderSide, strength float64) domain.TradingSignal {
	return domain.TradingSignal{
		ID:        uuid.New().String(),
		Direction: dir,
		Strength:  strength,
		Price:     decimal.NewFromInt(100),
		Timestamp: time.Now(),
	}
}

func TestConfirm_RequiresFullBuffer(t *testing.T) {
	e, _, _ := newTestEngine(t, Config{ImbalanceThreshold: 0.3, StrengthThreshold: 0.5, ConfirmationTicks: 3})

	assert.False(t, e.Confirm(makeSignal(domain.OrderSideBuy, 1)))
	assert.False(t, e.Confirm(makeSignal(domain.OrderSideBuy, 1)))
	assert.True(t, e.Confirm(makeSignal(domain.OrderSideBuy, 1)))
}

func TestConfirm_MixedDirectionsRejected(t *testing.T) {
	e, _, _ := newTestEngine(t, Config{ImbalanceThreshold: 0.3, StrengthThreshold: 0.5, ConfirmationTicks: 3})

	e.Confirm(makeSignal(domain.OrderSideBuy, 1))
	e.Confirm(makeSignal(domain.OrderSideSell, 1))
	assert.False(t, e.Confirm(makeSignal(domain.OrderSideBuy, 1)))
}

func TestConfirm_AverageStrengthGate(t *testing.T) {
	e, _, _ := newTestEngine(t, Config{ImbalanceThreshold: 0.3, StrengthThreshold: 0.7, ConfirmationTicks: 2})

	e.Confirm(makeSignal(domain.OrderSideBuy, 0.6))
	assert.False(t, e.Confirm(makeSignal(domain.OrderSideBuy, 0.6)), "avg 0.6 < 0.7")

	e.Reset()
	e.Confirm(makeSignal(domain.OrderSideBuy, 0.6))
	assert.True(t, e.Confirm(makeSignal(domain.OrderSideBuy, 0.9)), "avg 0.75 >= 0.7")
}

func TestConfirm_BufferBounded(t *testing.T) {
	e, _, _ := newTestEngine(t, Config{ImbalanceThreshold: 0.3, StrengthThreshold: 0.5, ConfirmationTicks: 3})

	// A long run of sells followed by enough buys: the trimmed buffer must
	// still confirm once the most recent three agree.
	for i := 0; i < 10; i++ {
		e.Confirm(makeSignal(domain.OrderSideSell, 1))
	}
	e.Confirm(makeSignal(domain.OrderSideBuy, 1))
	e.Confirm(makeSignal(domain.OrderSideBuy, 1))
	assert.True(t, e.Confirm(makeSignal(domain.OrderSideBuy, 1)))
}
