package strategy

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/perpdex/perpflow/internal/domain"
)

// Engine owns the active strategy and serializes all events into it: book
// snapshots and trade prints from the feed, plus the periodic tick that runs
// decision logic. Emitted signals are forwarded to the signal channel
// consumed by the executor layer, so the strategy state is only ever touched
// from the engine's loop.
type Engine struct {
	registry *Registry
	signalCh chan<- domain.TradingSignal
	interval time.Duration
	logger   *slog.Logger

	bookCh  chan domain.OrderbookSnapshot
	tradeCh chan domain.TradePrint

	mu     sync.Mutex
	active Strategy

	recentSignals []domain.TradingSignal
	recentLimit   int
}

// NewEngine creates an Engine. The signalCh is the output channel where
// emitted signals are sent to the executor; interval is the tick period of
// the decision loop.
func NewEngine(registry *Registry, signalCh chan<- domain.TradingSignal, interval time.Duration, logger *slog.Logger) *Engine {
	return &Engine{
		registry:    registry,
		signalCh:    signalCh,
		interval:    interval,
		logger:      logger.With(slog.String("component", "strategy_engine")),
		bookCh:      make(chan domain.OrderbookSnapshot, 64),
		tradeCh:     make(chan domain.TradePrint, 256),
		recentLimit: 500,
	}
}

// SetActive switches the active strategy to the one registered under name.
// It returns an error if the name is not found in the registry.
func (e *Engine) SetActive(name string) error {
	s, err := e.registry.Get(name)
	if err != nil {
		return fmt.Errorf("set active strategy: %w", err)
	}
	e.mu.Lock()
	e.active = s
	e.mu.Unlock()
	e.logger.Info("active strategy changed", slog.String("strategy", name))
	return nil
}

// ActiveName returns the current active strategy name, or empty.
func (e *Engine) ActiveName() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.active == nil {
		return ""
	}
	return e.active.Name()
}

// Active returns the active strategy.
func (e *Engine) Active() Strategy {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.active
}

// ListNames returns the names of all registered strategies in sorted order.
func (e *Engine) ListNames() []string {
	return e.registry.List()
}

// HandleBookUpdate queues an orderbook snapshot for the engine loop. Full
// buffers drop the update; the next snapshot supersedes it anyway.
func (e *Engine) HandleBookUpdate(snap domain.OrderbookSnapshot) {
	select {
	case e.bookCh <- snap:
	default:
	}
}

// HandleTrade queues a trade print for the engine loop.
func (e *Engine) HandleTrade(print domain.TradePrint) {
	select {
	case e.tradeCh <- print:
	default:
		e.logger.Warn("trade channel full, print dropped", slog.String("trade_id", print.ID))
	}
}

// RecentSignals returns up to limit most recent emitted signals, newest
// first.
func (e *Engine) RecentSignals(limit int) []domain.TradingSignal {
	if limit <= 0 {
		limit = 20
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	n := len(e.recentSignals)
	if limit > n {
		limit = n
	}
	out := make([]domain.TradingSignal, 0, limit)
	for i := n - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, e.recentSignals[i])
	}
	return out
}

// Run drives the active strategy until the context is cancelled. Events and
// ticks are processed strictly sequentially.
func (e *Engine) Run(ctx context.Context) error {
	strat := e.Active()
	if strat == nil {
		return fmt.Errorf("strategy engine: no active strategy set")
	}
	if err := strat.Init(ctx); err != nil {
		return fmt.Errorf("strategy %s init: %w", strat.Name(), err)
	}
	defer func() { _ = strat.Close() }()

	e.logger.Info("strategy engine started", slog.String("strategy", strat.Name()))
	defer e.logger.Info("strategy engine stopped")

	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case snap := <-e.bookCh:
			signals, err := strat.OnBookUpdate(ctx, snap)
			if err != nil {
				e.logger.Warn("OnBookUpdate error", slog.String("error", err.Error()))
				continue
			}
			e.emit(ctx, signals)

		case print := <-e.tradeCh:
			signals, err := strat.OnTrade(ctx, print)
			if err != nil {
				e.logger.Warn("OnTrade error", slog.String("error", err.Error()))
				continue
			}
			e.emit(ctx, signals)

		case now := <-ticker.C:
			signals, err := strat.OnTick(ctx, now.UTC())
			if err != nil {
				e.logger.Warn("OnTick error", slog.String("error", err.Error()))
				continue
			}
			e.emit(ctx, signals)
		}
	}
}

// emit sends each signal to the signal channel. It respects context
// cancellation.
func (e *Engine) emit(ctx context.Context, signals []domain.TradingSignal) {
	for i := range signals {
		select {
		case <-ctx.Done():
			e.logger.Warn("context cancelled while emitting signals",
				slog.Int("remaining", len(signals)-i),
			)
			return
		case e.signalCh <- signals[i]:
			e.rememberSignal(signals[i])
			e.logger.Debug("signal emitted",
				slog.String("signal_id", signals[i].ID),
				slog.String("direction", string(signals[i].Direction)),
				slog.Float64("strength", signals[i].Strength),
			)
		}
	}
}

func (e *Engine) rememberSignal(sig domain.TradingSignal) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.recentSignals = append(e.recentSignals, sig)
	if overflow := len(e.recentSignals) - e.recentLimit; overflow > 0 {
		e.recentSignals = append([]domain.TradingSignal(nil), e.recentSignals[overflow:]...)
	}
}
