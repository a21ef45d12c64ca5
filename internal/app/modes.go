package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/perpdex/perpflow/internal/backtest"
	"github.com/perpdex/perpflow/internal/domain"
	"github.com/perpdex/perpflow/internal/executor"
	"github.com/perpdex/perpflow/internal/feed"
	"github.com/perpdex/perpflow/internal/orderbook"
	"github.com/perpdex/perpflow/internal/platform/edgex"
	"github.com/perpdex/perpflow/internal/quote"
	"github.com/perpdex/perpflow/internal/signal"
	"github.com/perpdex/perpflow/internal/strategy"
	"github.com/perpdex/perpflow/internal/tradeflow"
)

// signalChannel is the Redis Pub/Sub channel live mode publishes emitted
// signals on.
const signalChannel = "signals"

// statusInterval is how often live mode refreshes the status cache.
const statusInterval = 10 * time.Second

// analyzers bundles the shared market-state analyzers.
type analyzers struct {
	book *orderbook.Analyzer
	flow *tradeflow.Monitor
	sig  *signal.Engine
}

func (a *App) newAnalyzers() (analyzers, error) {
	book := orderbook.NewAnalyzer(a.cfg.Strategy.OrderbookDepth)
	flow := tradeflow.NewMonitor(
		a.cfg.Strategy.TradeFlowWindow.Duration,
		decimal.NewFromFloat(a.cfg.Strategy.LargeOrderThreshold),
	)
	sig, err := signal.NewEngine(signal.Config{
		ImbalanceThreshold: a.cfg.Strategy.ImbalanceThreshold,
		StrengthThreshold:  a.cfg.Strategy.SignalStrengthThreshold,
		ConfirmationTicks:  a.cfg.Strategy.ConfirmationTicks,
	}, book, flow, a.logger)
	if err != nil {
		return analyzers{}, fmt.Errorf("app: signal engine: %w", err)
	}
	return analyzers{book: book, flow: flow, sig: sig}, nil
}

func (a *App) strategyConfig() strategy.Config {
	return strategy.Config{
		Ticker:             a.cfg.Exchange.Ticker,
		PositionSize:       decimal.NewFromFloat(a.cfg.Strategy.PositionSize),
		MaxPosition:        decimal.NewFromFloat(a.cfg.Strategy.MaxPosition),
		StopLossPct:        decimal.NewFromFloat(a.cfg.Strategy.StopLossPct),
		TakeProfitPct:      decimal.NewFromFloat(a.cfg.Strategy.TakeProfitPct),
		MaxDailyLoss:       decimal.NewFromFloat(a.cfg.Strategy.MaxDailyLoss),
		MaxOrdersPerMinute: a.cfg.Strategy.MaxOrdersPerMinute,
		SignalTTL:          5 * a.cfg.Strategy.UpdateInterval.Duration,
	}
}

// buildStrategy constructs the configured strategy variant around the shared
// analyzers.
func (a *App) buildStrategy(an analyzers) (strategy.Strategy, error) {
	cfg := a.strategyConfig()

	switch a.cfg.Strategy.Name {
	case "orderflow":
		return strategy.NewOrderFlow(cfg, an.book, an.flow, an.sig, a.logger), nil
	case "market_maker":
		spreadType := quote.SpreadTypeFixed
		if a.cfg.MarketMaker.SpreadType == "percentage" {
			spreadType = quote.SpreadTypePercentage
		}
		qcfg := quote.Config{
			SpreadType:           spreadType,
			TargetSpread:         decimal.NewFromFloat(a.cfg.MarketMaker.TargetSpread),
			SpreadRatio:          decimal.NewFromFloat(a.cfg.MarketMaker.SpreadRatio),
			MinSpread:            decimal.NewFromFloat(a.cfg.MarketMaker.MinSpread),
			InventorySkewEnabled: a.cfg.MarketMaker.InventorySkewEnabled,
			InventorySkewFactor:  decimal.NewFromFloat(a.cfg.MarketMaker.InventorySkewFactor),
			MaxPosition:          cfg.MaxPosition,
			TickSize:             decimal.NewFromFloat(a.cfg.Exchange.TickSize),
		}
		if err := qcfg.Validate(); err != nil {
			return nil, fmt.Errorf("app: quote config: %w", err)
		}
		quoter := quote.NewEngine(qcfg)
		threshold := decimal.NewFromFloat(a.cfg.MarketMaker.PriceUpdateThreshold)
		return strategy.NewMarketMaker(cfg, quoter, an.book, an.flow, threshold, a.logger), nil
	default:
		return nil, fmt.Errorf("app: unknown strategy %q", a.cfg.Strategy.Name)
	}
}

// LiveMode runs the full trading loop: market feed, strategy engine,
// executor with the exchange REST client, plus status publishing.
func (a *App) LiveMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting live mode")

	an, err := a.newAnalyzers()
	if err != nil {
		return err
	}
	strat, err := a.buildStrategy(an)
	if err != nil {
		return err
	}

	reg := strategy.NewRegistry()
	reg.Register(strat.Name(), strat)

	// The strategy engine writes into strategyCh; a pump forwards each
	// signal to the executor and mirrors it onto the Redis bus.
	strategyCh := make(chan domain.TradingSignal, 32)
	executorCh := make(chan domain.TradingSignal, 32)

	engine := strategy.NewEngine(reg, strategyCh, a.cfg.Strategy.UpdateInterval.Duration, a.logger)
	if err := engine.SetActive(strat.Name()); err != nil {
		return err
	}

	placer := edgex.NewClient(a.cfg.Exchange.RestURL, a.cfg.Exchange.APIKey, a.cfg.Exchange.Ticker)
	exec := executor.NewExecutor(executorCh, placer, nil, strat, a.logger)

	marketFeed := feed.NewMarketFeed(
		a.cfg.Exchange.WsURL,
		a.cfg.Exchange.Ticker,
		a.cfg.Exchange.ReconnectDelay.Duration,
		a.cfg.Exchange.MaxReconnects,
		engine.HandleBookUpdate,
		engine.HandleTrade,
		a.logger,
	)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return engine.Run(ctx) })
	g.Go(func() error { return exec.Run(ctx) })
	g.Go(func() error { return marketFeed.Run(ctx) })
	g.Go(func() error { return a.pumpSignals(ctx, deps, strategyCh, executorCh) })
	g.Go(func() error { return a.publishStatus(ctx, deps, strat) })

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// pumpSignals forwards strategy signals to the executor and mirrors them to
// the signal bus for external consumers.
func (a *App) pumpSignals(ctx context.Context, deps *Dependencies, in <-chan domain.TradingSignal, out chan<- domain.TradingSignal) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case sig := <-in:
			select {
			case out <- sig:
			case <-ctx.Done():
				return ctx.Err()
			}
			if deps.SignalBus != nil {
				if payload, err := json.Marshal(signalEvent(sig)); err == nil {
					if err := deps.SignalBus.Publish(ctx, signalChannel, payload); err != nil {
						a.logger.Debug("signal publish failed", slog.String("error", err.Error()))
					}
				}
			}
		}
	}
}

// signalEvent is the JSON wire form of a published signal.
func signalEvent(sig domain.TradingSignal) map[string]any {
	return map[string]any{
		"id":        sig.ID,
		"direction": string(sig.Direction),
		"strength":  sig.Strength,
		"price":     sig.Price.String(),
		"size":      sig.Size.String(),
		"reason":    sig.Reason,
		"timestamp": sig.Timestamp.UTC().Format(time.RFC3339Nano),
	}
}

// publishStatus refreshes the status cache on a fixed interval.
func (a *App) publishStatus(ctx context.Context, deps *Dependencies, strat strategy.Strategy) error {
	if deps.StatusCache == nil {
		return nil
	}

	ticker := time.NewTicker(statusInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			status := strat.Status()
			status.UpdatedAt = time.Now().UTC()
			if err := deps.StatusCache.SetStatus(ctx, status); err != nil {
				a.logger.Warn("status cache update failed", slog.String("error", err.Error()))
			}
		}
	}
}

// BacktestMode loads the historical dataset, replays it through the decision
// logic, prints the report, and optionally persists and exports the run.
func (a *App) BacktestMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting backtest mode")

	data, err := a.loadDataset(ctx, deps)
	if err != nil {
		return err
	}
	a.logger.Info("dataset loaded",
		slog.Int("snapshots", data.Len()),
		slog.Int("trades", len(data.Trades)),
		slog.Time("start", data.StartTime),
		slog.Time("end", data.EndTime),
	)

	an, err := a.newAnalyzers()
	if err != nil {
		return err
	}
	engine, err := backtest.NewEngine(backtest.Config{
		InitialBalance: decimal.NewFromFloat(a.cfg.Backtest.InitialBalance),
		FeeRate:        decimal.NewFromFloat(a.cfg.Backtest.FeeRate),
		PositionSize:   decimal.NewFromFloat(a.cfg.Strategy.PositionSize),
		StopLossPct:    decimal.NewFromFloat(a.cfg.Strategy.StopLossPct),
		TakeProfitPct:  decimal.NewFromFloat(a.cfg.Strategy.TakeProfitPct),
	}, an.book, an.flow, an.sig, a.logger)
	if err != nil {
		return err
	}

	res, err := engine.Run(data)
	if err != nil {
		return err
	}

	fmt.Println(backtest.RenderReport(res))
	a.logger.Info(backtest.Summary(res))

	if a.cfg.Backtest.PersistResults {
		if err := a.persistRun(ctx, deps, res); err != nil {
			return err
		}
	}
	return nil
}

// loadDataset opens the configured dataset, preferring a local file over an
// object-storage key.
func (a *App) loadDataset(ctx context.Context, deps *Dependencies) (*backtest.Data, error) {
	if path := a.cfg.Backtest.DataFile; path != "" {
		return backtest.LoadJSONFile(expandPath(path))
	}

	if key := a.cfg.Backtest.DataKey; key != "" {
		if deps.BlobReader == nil {
			return nil, fmt.Errorf("app: backtest data_key set but object storage is not configured")
		}
		body, err := deps.BlobReader.Get(ctx, key)
		if err != nil {
			return nil, err
		}
		defer body.Close()
		return backtest.LoadJSON(body)
	}

	return nil, fmt.Errorf("app: no backtest dataset configured")
}

// persistRun writes the run header and fills to the store and exports the
// raw records to object storage.
func (a *App) persistRun(ctx context.Context, deps *Dependencies, res *backtest.Result) error {
	run := domain.BacktestRun{
		ID:             uuid.NewString(),
		Strategy:       a.cfg.Strategy.Name,
		StartedAt:      res.StartTime,
		FinishedAt:     res.EndTime,
		InitialBalance: res.InitialBalance,
		FinalBalance:   res.FinalEquity,
		TotalTrades:    res.Metrics.TotalTrades,
		WinRate:        res.Metrics.WinRate,
		MaxDrawdown:    res.MaxDrawdown,
		TotalFees:      res.TotalFees,
	}

	if deps.BacktestStore != nil {
		if err := deps.BacktestStore.CreateRun(ctx, run); err != nil {
			return err
		}
		if err := deps.BacktestStore.AppendTrades(ctx, run.ID, res.Trades); err != nil {
			return err
		}
		a.logger.Info("backtest run persisted", slog.String("run_id", run.ID))
	}

	if deps.Exporter != nil {
		prefix, err := deps.Exporter.ExportRun(ctx, run, res.Trades)
		if err != nil {
			a.logger.Warn("backtest export failed", slog.String("error", err.Error()))
			return nil
		}
		a.logger.Info("backtest run exported", slog.String("prefix", prefix))
	}
	return nil
}

// MonitorMode watches the market feed without trading: it keeps the
// analyzers warm and periodically logs and publishes book statistics.
func (a *App) MonitorMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting monitor mode")

	an, err := a.newAnalyzers()
	if err != nil {
		return err
	}

	marketFeed := feed.NewMarketFeed(
		a.cfg.Exchange.WsURL,
		a.cfg.Exchange.Ticker,
		a.cfg.Exchange.ReconnectDelay.Duration,
		a.cfg.Exchange.MaxReconnects,
		func(snap domain.OrderbookSnapshot) {
			an.book.Update(snap.Bids, snap.Asks, snap.Timestamp)
		},
		func(tp domain.TradePrint) {
			an.flow.AddTrade(tp.Price, tp.Size, tp.Side, tp.ID, tp.Timestamp)
		},
		a.logger,
	)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return marketFeed.Run(ctx) })
	g.Go(func() error { return a.monitorLoop(ctx, deps, an) })

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// monitorLoop logs market statistics on the update interval and mirrors them
// to the signal bus when Redis is available.
func (a *App) monitorLoop(ctx context.Context, deps *Dependencies, an analyzers) error {
	ticker := time.NewTicker(a.cfg.Strategy.UpdateInterval.Duration)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			snap, ok := an.book.Current()
			if !ok {
				continue
			}
			imbalance := an.book.Imbalance(snap)
			buyRatio := an.flow.BuySellRatio()

			a.logger.Info("market snapshot",
				slog.String("mid", snap.MidPrice().String()),
				slog.String("spread", snap.Spread().String()),
				slog.Float64("imbalance", imbalance),
				slog.Float64("buy_ratio", buyRatio),
			)

			if deps.SignalBus != nil {
				payload, err := json.Marshal(map[string]any{
					"ticker":    a.cfg.Exchange.Ticker,
					"mid":       snap.MidPrice().String(),
					"spread":    snap.Spread().String(),
					"imbalance": imbalance,
					"buy_ratio": buyRatio,
					"timestamp": now.UTC().Format(time.RFC3339),
				})
				if err == nil {
					if err := deps.SignalBus.Publish(ctx, "monitor.stats", payload); err != nil {
						a.logger.Debug("monitor publish failed", slog.String("error", err.Error()))
					}
				}
			}
		}
	}
}

// expandPath resolves a leading ~ in dataset paths.
func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return home + path[1:]
		}
	}
	return path
}
