package backtest

import (
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/perpdex/perpflow/internal/domain"
	"github.com/perpdex/perpflow/internal/orderbook"
	"github.com/perpdex/perpflow/internal/signal"
	"github.com/perpdex/perpflow/internal/tradeflow"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func snap(ts time.Time, bidPrice, bidSize, askPrice, askSize float64) domain.OrderbookSnapshot {
	return domain.OrderbookSnapshot{
		Bids:      []domain.PriceLevel{{Price: dec(bidPrice), Size: dec(bidSize), Side: domain.SideBid}},
		Asks:      []domain.PriceLevel{{Price: dec(askPrice), Size: dec(askSize), Side: domain.SideAsk}},
		BestBid:   dec(bidPrice),
		BestAsk:   dec(askPrice),
		Timestamp: ts,
	}
}

func newReplayEngine(t *testing.T, cfg Config, sigCfg signal.Config) *Engine {
	t.Helper()
	book := orderbook.NewAnalyzer(20)
	flow := tradeflow.NewMonitor(60*time.Second, dec(50000))
	sig, err := signal.NewEngine(sigCfg, book, flow, testLogger())
	require.NoError(t, err)

	e, err := NewEngine(cfg, book, flow, sig, testLogger())
	require.NoError(t, err)
	return e
}

func defaultReplayConfig() Config {
	return Config{
		InitialBalance: dec(10000),
		FeeRate:        decimal.Zero,
		PositionSize:   dec(1),
	}
}

func TestEngine_NoSignalsConstantEquity(t *testing.T) {
	e := newReplayEngine(t, defaultReplayConfig(), signal.Config{
		ImbalanceThreshold: 0.3,
		StrengthThreshold:  0.3,
		ConfirmationTicks:  2,
	})

	base := time.Now()
	data := &Data{StartTime: base, EndTime: base.Add(4 * time.Second)}
	for i := 0; i < 5; i++ {
		// Perfectly balanced book never fires a rule.
		data.Snapshots = append(data.Snapshots, snap(base.Add(time.Duration(i)*time.Second), 100, 50, 101, 50))
	}

	res, err := e.Run(data)
	require.NoError(t, err)

	assert.Zero(t, res.SignalsGenerated)
	assert.Zero(t, res.SignalsExecuted)
	assert.True(t, res.FinalBalance.Equal(dec(10000)))
	require.Len(t, res.EquityCurve, 5)
	for _, p := range res.EquityCurve {
		assert.True(t, p.Equity.Equal(dec(10000)), "equity constant, got %s", p.Equity)
	}
}

func TestEngine_ConfirmedSignalExecutes(t *testing.T) {
	e := newReplayEngine(t, defaultReplayConfig(), signal.Config{
		ImbalanceThreshold: 0.3,
		StrengthThreshold:  0.3,
		ConfirmationTicks:  2,
	})

	base := time.Now()
	data := &Data{StartTime: base, EndTime: base.Add(2 * time.Second)}
	for i := 0; i < 3; i++ {
		// Bid-heavy book: imbalance 0.8, strength 0.56 every tick.
		data.Snapshots = append(data.Snapshots, snap(base.Add(time.Duration(i)*time.Second), 100, 90, 101, 10))
	}

	res, err := e.Run(data)
	require.NoError(t, err)

	assert.Equal(t, 3, res.SignalsGenerated)
	// Tick 1 only fills the buffer; ticks 2 and 3 confirm and execute.
	assert.Equal(t, 2, res.SignalsExecuted)
	require.NotEmpty(t, res.Trades)
	assert.Equal(t, domain.OrderSideBuy, res.Trades[0].Direction)
	assert.True(t, res.Trades[0].Price.Equal(dec(101)), "buys fill at best ask")

	// Open position is flattened when the data ends.
	last := res.Trades[len(res.Trades)-1]
	assert.Equal(t, domain.CloseReasonEndOfData, last.CloseReason)
}

func TestEngine_StopLossBeforeSignalEvaluation(t *testing.T) {
	cfg := defaultReplayConfig()
	cfg.StopLossPct = dec(0.01)
	e := newReplayEngine(t, cfg, signal.Config{
		ImbalanceThreshold: 0.3,
		StrengthThreshold:  0.3,
		ConfirmationTicks:  1,
	})

	base := time.Now()
	data := &Data{StartTime: base, EndTime: base.Add(time.Second)}
	// Tick 1 opens a long at ask 100.2; tick 2 marks at mid 98.9, a 1.3%
	// drop that must stop out before the tick's signal is considered.
	data.Snapshots = append(data.Snapshots,
		snap(base, 100, 90, 100.2, 10),
		snap(base.Add(time.Second), 98.8, 90, 99, 10),
	)

	res, err := e.Run(data)
	require.NoError(t, err)

	require.GreaterOrEqual(t, len(res.Trades), 2)
	assert.Equal(t, domain.OrderSideBuy, res.Trades[0].Direction)
	assert.Equal(t, domain.CloseReasonStopLoss, res.Trades[1].CloseReason)
	assert.True(t, res.Trades[1].Price.Equal(dec(98.9)), "stop fills at the mark")
	assert.Equal(t, 1, res.StopLossCloses)
}

func TestEngine_CrossedSnapshotsIgnored(t *testing.T) {
	e := newReplayEngine(t, defaultReplayConfig(), signal.Config{
		ImbalanceThreshold: 0.3,
		StrengthThreshold:  0.3,
		ConfirmationTicks:  1,
	})

	base := time.Now()
	data := &Data{StartTime: base, EndTime: base.Add(2 * time.Second)}
	for i := 0; i < 3; i++ {
		// Bid above ask: a crossed book that would otherwise fire the
		// imbalance rule every tick.
		data.Snapshots = append(data.Snapshots, snap(base.Add(time.Duration(i)*time.Second), 102, 90, 101, 10))
	}

	res, err := e.Run(data)
	require.NoError(t, err)

	assert.Zero(t, res.SignalsGenerated)
	assert.Empty(t, res.Trades)
	assert.Empty(t, res.EquityCurve, "crossed ticks are dropped entirely")
}

func TestEngine_DrawdownFromStartingEquityHasDuration(t *testing.T) {
	e := newReplayEngine(t, defaultReplayConfig(), signal.Config{
		ImbalanceThreshold: 0.3,
		StrengthThreshold:  0.3,
		ConfirmationTicks:  1,
	})

	base := time.Now()
	data := &Data{StartTime: base, EndTime: base.Add(2 * time.Second)}
	// Tick 1 buys at ask 101; marking at mid 100.5 puts equity under the
	// initial balance immediately, so the peak is never exceeded.
	data.Snapshots = append(data.Snapshots,
		snap(base, 100, 90, 101, 10),
		snap(base.Add(time.Second), 100, 50, 101, 50),
		snap(base.Add(2*time.Second), 100, 50, 101, 50),
	)

	res, err := e.Run(data)
	require.NoError(t, err)

	assert.Positive(t, res.MaxDrawdown)
	assert.Equal(t, 2*time.Second, res.MaxDrawdownDuration)
}

func TestEngine_TradePrintsFeedFlowMonitor(t *testing.T) {
	e := newReplayEngine(t, defaultReplayConfig(), signal.Config{
		ImbalanceThreshold: 0.9, // book rule stays silent
		StrengthThreshold:  0.1,
		ConfirmationTicks:  1,
	})

	base := time.Now()
	data := &Data{StartTime: base, EndTime: base.Add(time.Second)}
	data.Snapshots = append(data.Snapshots,
		snap(base, 100, 50, 101, 50),
		snap(base.Add(time.Second), 100, 50, 101, 50),
	)
	// A one-sided tape between the ticks drives the trade-imbalance rule.
	for i := 0; i < 6; i++ {
		data.Trades = append(data.Trades, domain.TradePrint{
			Price:     dec(100.5),
			Size:      dec(2),
			Side:      domain.OrderSideBuy,
			Timestamp: base.Add(500 * time.Millisecond),
		})
	}

	res, err := e.Run(data)
	require.NoError(t, err)
	assert.Positive(t, res.SignalsGenerated)
}

func TestEngine_EmptyDataset(t *testing.T) {
	e := newReplayEngine(t, defaultReplayConfig(), signal.Config{ConfirmationTicks: 1})
	_, err := e.Run(&Data{})
	assert.Error(t, err)
}

func TestConfig_Validate(t *testing.T) {
	cfg := defaultReplayConfig()
	assert.NoError(t, cfg.Validate())

	cfg.PositionSize = decimal.Zero
	assert.Error(t, cfg.Validate())

	cfg = defaultReplayConfig()
	cfg.FeeRate = dec(-0.1)
	assert.Error(t, cfg.Validate())
}

func TestLoadJSON(t *testing.T) {
	payload := `{
		"orderbooks": [
			{"timestamp": 1700000000.0, "bids": [[100, 10], [99, 5]], "asks": [[101, 5]]},
			{"timestamp": 1700000001.0, "bids": [[100, 8]], "asks": [[101, 6]]}
		],
		"trades": [
			{"timestamp": 1700000000.5, "price": 100.5, "size": 0.1, "side": "buy", "trade_id": "t1"}
		]
	}`

	data, err := LoadJSON(strings.NewReader(payload))
	require.NoError(t, err)

	assert.Equal(t, 2, data.Len())
	assert.True(t, data.Snapshots[0].BestBid.Equal(dec(100)))
	assert.True(t, data.Snapshots[0].BestAsk.Equal(dec(101)))
	assert.Equal(t, int64(1700000000), data.StartTime.Unix())

	in := data.TradesInRange(data.StartTime, data.EndTime)
	require.Len(t, in, 1)
	assert.Equal(t, "t1", in[0].ID)
}

func TestLoadJSON_NoSnapshots(t *testing.T) {
	_, err := LoadJSON(strings.NewReader(`{"orderbooks": [], "trades": []}`))
	assert.Error(t, err)
}

func TestLoadCSV(t *testing.T) {
	books := "timestamp,bid_price,bid_size,ask_price,ask_size\n1700000000,100,10,101,5\n1700000001,100.5,8,101.5,6\n"
	trades := "timestamp,price,size,side\n1700000000.5,100.5,0.1,sell\n"

	data, err := LoadCSV(strings.NewReader(books), strings.NewReader(trades))
	require.NoError(t, err)

	assert.Equal(t, 2, data.Len())
	require.Len(t, data.Trades, 1)
	assert.Equal(t, domain.OrderSideSell, data.Trades[0].Side)
}
