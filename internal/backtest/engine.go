package backtest

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/perpdex/perpflow/internal/domain"
	"github.com/perpdex/perpflow/internal/orderbook"
	"github.com/perpdex/perpflow/internal/signal"
	"github.com/perpdex/perpflow/internal/tradeflow"
)

// Config holds the replay parameters.
type Config struct {
	InitialBalance decimal.Decimal
	FeeRate        decimal.Decimal
	PositionSize   decimal.Decimal
	StopLossPct    decimal.Decimal
	TakeProfitPct  decimal.Decimal
}

// Validate rejects malformed replay parameters eagerly.
func (c Config) Validate() error {
	if c.InitialBalance.Sign() <= 0 {
		return fmt.Errorf("backtest: initial_balance must be positive, got %s", c.InitialBalance)
	}
	if c.PositionSize.Sign() <= 0 {
		return fmt.Errorf("backtest: position_size must be positive, got %s", c.PositionSize)
	}
	if c.FeeRate.Sign() < 0 {
		return fmt.Errorf("backtest: fee_rate cannot be negative, got %s", c.FeeRate)
	}
	if c.StopLossPct.Sign() < 0 || c.TakeProfitPct.Sign() < 0 {
		return fmt.Errorf("backtest: stop/take thresholds cannot be negative")
	}
	return nil
}

// Result is the full outcome of one replay.
type Result struct {
	Trades      []domain.TradeRecord
	EquityCurve []domain.EquityPoint
	Metrics     PerformanceMetrics

	SignalsGenerated int
	SignalsExecuted  int

	InitialBalance decimal.Decimal
	FinalBalance   decimal.Decimal
	FinalEquity    decimal.Decimal
	TotalFees      decimal.Decimal

	StopLossCloses   int
	TakeProfitCloses int

	MaxDrawdown         float64
	MaxDrawdownDuration time.Duration

	StartTime time.Time
	EndTime   time.Time
}

// TotalReturn returns (final_equity - initial) / initial.
func (r Result) TotalReturn() decimal.Decimal {
	if r.InitialBalance.Sign() <= 0 {
		return decimal.Zero
	}
	return r.FinalEquity.Sub(r.InitialBalance).Div(r.InitialBalance)
}

// Engine replays a historical dataset through the decision logic against a
// ledger. Single-threaded and deterministic: identical data and config
// always produce identical results.
type Engine struct {
	cfg    Config
	book   *orderbook.Analyzer
	flow   *tradeflow.Monitor
	sig    *signal.Engine
	ledger *Ledger
	logger *slog.Logger

	executed int
	equity   []domain.EquityPoint

	peakEquity decimal.Decimal
	inDrawdown bool
	ddStart    time.Time
	maxDD      float64
	maxDDSpan  time.Duration
}

// NewEngine creates a replay engine. The analyzers and signal engine must be
// freshly constructed; replaying reuses their live-path logic unchanged.
func NewEngine(cfg Config, book *orderbook.Analyzer, flow *tradeflow.Monitor, sig *signal.Engine, logger *slog.Logger) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Engine{
		cfg:        cfg,
		book:       book,
		flow:       flow,
		sig:        sig,
		ledger:     NewLedger(cfg.InitialBalance, cfg.FeeRate),
		logger:     logger.With(slog.String("component", "backtest_engine")),
		peakEquity: cfg.InitialBalance,
	}, nil
}

// Run replays the dataset tick by tick. Per snapshot: merge trade prints,
// update the book analyzer, check stops at the mark, evaluate the signal
// engine, execute confirmed signals, then sample the equity curve. Any open
// position is force-closed at the final mark.
func (e *Engine) Run(data *Data) (*Result, error) {
	if data == nil || data.Len() == 0 {
		return nil, fmt.Errorf("backtest: empty dataset")
	}

	prev := data.StartTime.Add(-time.Second)
	var lastMark decimal.Decimal

	for _, snap := range data.Snapshots {
		now := snap.Timestamp

		for _, t := range data.TradesInRange(prev.Add(time.Nanosecond), now) {
			e.flow.AddTrade(t.Price, t.Size, t.Side, t.ID, t.Timestamp)
		}
		prev = now

		if snap.Crossed() {
			e.logger.Debug("crossed snapshot ignored", slog.Time("ts", now))
			continue
		}

		e.book.Update(snap.Bids, snap.Asks, now)
		cur, ok := e.book.Current()
		if !ok {
			continue
		}

		mark := cur.MidPrice()
		if mark.Sign() <= 0 {
			continue
		}
		lastMark = mark

		// Stops run before any new signal is considered this tick.
		if reason, closed := e.ledger.CheckStops(mark, e.cfg.StopLossPct, e.cfg.TakeProfitPct, now); closed {
			e.logger.Debug("position force-closed",
				slog.String("reason", string(reason)),
				slog.String("mark", mark.String()),
			)
		}

		if sig, confirmed := e.sig.Evaluate(now); sig != nil && confirmed {
			err := e.ledger.Execute(sig.Direction, sig.Price, e.cfg.PositionSize, now)
			switch {
			case err == nil:
				e.executed++
			case errors.Is(err, domain.ErrInsufficientFunds):
				e.logger.Debug("buy refused, insufficient cash", slog.String("price", sig.Price.String()))
			default:
				return nil, err
			}
		}

		e.sample(mark, now)
	}

	end := data.EndTime
	if !e.ledger.Position().IsFlat() && lastMark.Sign() > 0 {
		e.ledger.ForceClose(lastMark, domain.CloseReasonEndOfData, end)
		e.sample(lastMark, end)
	}

	metrics := CalculateMetrics(e.ledger.Trades(), e.cfg.InitialBalance)

	res := &Result{
		Trades:              e.ledger.Trades(),
		EquityCurve:         e.equity,
		Metrics:             metrics,
		SignalsGenerated:    e.sig.Generated(),
		SignalsExecuted:     e.executed,
		InitialBalance:      e.cfg.InitialBalance,
		FinalBalance:        e.ledger.Cash(),
		TotalFees:           e.ledger.TotalFees(),
		StopLossCloses:      e.ledger.StopLossCloses(),
		TakeProfitCloses:    e.ledger.TakeProfitCloses(),
		MaxDrawdown:         e.maxDD,
		MaxDrawdownDuration: e.maxDDSpan,
		StartTime:           data.StartTime,
		EndTime:             data.EndTime,
	}
	res.FinalEquity = e.ledger.Equity(lastMark)
	if lastMark.Sign() == 0 {
		res.FinalEquity = e.ledger.Cash()
	}

	e.logger.Info("replay finished",
		slog.Int("snapshots", data.Len()),
		slog.Int("signals_generated", res.SignalsGenerated),
		slog.Int("signals_executed", res.SignalsExecuted),
		slog.String("final_equity", res.FinalEquity.String()),
	)
	return res, nil
}

func (e *Engine) sample(mark decimal.Decimal, now time.Time) {
	eq := e.ledger.Equity(mark)
	e.equity = append(e.equity, domain.EquityPoint{
		Timestamp:     now,
		Equity:        eq,
		Cash:          e.ledger.Cash(),
		Position:      e.ledger.Position().Size,
		PositionValue: mark.Mul(e.ledger.Position().Size),
	})

	if eq.GreaterThan(e.peakEquity) {
		e.peakEquity = eq
		e.inDrawdown = false
		return
	}
	if e.peakEquity.Sign() <= 0 {
		return
	}
	if !e.inDrawdown {
		e.inDrawdown = true
		e.ddStart = now
	}
	dd, _ := e.peakEquity.Sub(eq).Div(e.peakEquity).Float64()
	if dd > e.maxDD {
		e.maxDD = dd
	}
	if span := now.Sub(e.ddStart); span > e.maxDDSpan {
		e.maxDDSpan = span
	}
}
