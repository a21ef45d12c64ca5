// Package executor consumes trading signals and turns them into exchange
// orders, guarding the path with deduplication, expiry, and pre-trade risk
// checks.
package executor

import (
	"context"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/perpdex/perpflow/internal/domain"
)

// OrderPlacer is the interface through which the executor submits orders to
// the exchange adapter.
type OrderPlacer interface {
	PlaceOrder(ctx context.Context, sig domain.TradingSignal) (domain.OrderResult, error)
}

// OrderCanceller is optional. When implemented, the executor cancels the
// previous resting order on the same side before placing a requote.
type OrderCanceller interface {
	CancelOrder(ctx context.Context, orderID string) error
}

// RiskChecker validates whether a trade signal passes pre-trade risk
// controls.
type RiskChecker interface {
	PreTradeCheck(ctx context.Context, sig domain.TradingSignal) error
}

// FillApplier receives confirmed fills so position bookkeeping only advances
// after the exchange acknowledged the order.
type FillApplier interface {
	ApplyFill(side domain.OrderSide, price, size decimal.Decimal)
}

// QuoteApplier is optionally implemented by strategies that track resting
// quotes (the market maker). Placement outcomes are applied back so the
// strategy knows which quotes are live.
type QuoteApplier interface {
	ApplyQuoteResult(side domain.OrderSide, price, size decimal.Decimal, result domain.OrderResult)
}

// Executor reads trading signals from a channel, applies deduplication,
// expiry, and risk checks, then places orders through the OrderPlacer. The
// outcome of every placement is applied back before the next signal is
// processed, so resting-order state never runs ahead of the exchange.
type Executor struct {
	signalCh <-chan domain.TradingSignal
	orders   OrderPlacer
	risk     RiskChecker
	fills    FillApplier
	dedup    *Dedup
	logger   *slog.Logger

	cleanupInterval time.Duration

	// lastOrderID tracks the previous resting order per side for requotes.
	lastOrderID map[domain.OrderSide]string
}

// NewExecutor creates an Executor that reads signals from signalCh,
// validates them through risk, and places orders via orders. fills may be
// nil when no position bookkeeping is needed.
func NewExecutor(
	signalCh <-chan domain.TradingSignal,
	orders OrderPlacer,
	risk RiskChecker,
	fills FillApplier,
	logger *slog.Logger,
) *Executor {
	return &Executor{
		signalCh:        signalCh,
		orders:          orders,
		risk:            risk,
		fills:           fills,
		dedup:           NewDedup(2 * time.Minute),
		logger:          logger.With(slog.String("component", "executor")),
		cleanupInterval: 30 * time.Second,
		lastOrderID:     make(map[domain.OrderSide]string),
	}
}

// Run starts the executor's main loop. It processes signals until the
// context is cancelled, at which point it drains any remaining signals in
// the channel and returns.
func (e *Executor) Run(ctx context.Context) error {
	e.logger.Info("executor started")
	defer e.logger.Info("executor stopped")

	cleanupTicker := time.NewTicker(e.cleanupInterval)
	defer cleanupTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.drain()
			return ctx.Err()

		case sig, ok := <-e.signalCh:
			if !ok {
				return nil
			}
			e.process(ctx, sig)

		case <-cleanupTicker.C:
			e.dedup.Cleanup()
		}
	}
}

// process handles a single trading signal through the full validation and
// execution pipeline.
func (e *Executor) process(ctx context.Context, sig domain.TradingSignal) {
	log := e.logger.With(
		slog.String("signal_id", sig.ID),
		slog.String("direction", string(sig.Direction)),
		slog.String("price", sig.Price.String()),
	)

	// 1. Deduplication.
	if e.dedup.IsDuplicate(sig.ID) {
		log.Debug("signal deduplicated, skipping")
		return
	}

	// 2. Expiry check.
	if sig.Expired(time.Now().UTC()) {
		log.Warn("signal expired, skipping", slog.Time("expires_at", sig.ExpiresAt))
		return
	}

	// 3. Pre-trade risk check.
	if e.risk != nil {
		if err := e.risk.PreTradeCheck(ctx, sig); err != nil {
			log.Warn("risk check failed, skipping", slog.String("error", err.Error()))
			return
		}
	}

	// 4. Requote: cancel the previous resting order on this side first.
	if prev := e.lastOrderID[sig.Direction]; prev != "" {
		if canceller, ok := e.orders.(OrderCanceller); ok {
			if err := canceller.CancelOrder(ctx, prev); err != nil {
				log.Warn("cancel previous order failed",
					slog.String("order_id", prev),
					slog.String("error", err.Error()),
				)
			} else {
				delete(e.lastOrderID, sig.Direction)
			}
		}
	}

	result, err := e.orders.PlaceOrder(ctx, sig)
	if err != nil {
		log.Error("order placement failed", slog.String("error", err.Error()))
		return
	}

	if !result.Success {
		log.Warn("order rejected",
			slog.String("order_id", result.OrderID),
			slog.String("message", result.Message),
			slog.Bool("should_retry", result.ShouldRetry),
		)
		if result.ShouldRetry {
			e.retryOrder(ctx, sig, log)
		}
		return
	}

	e.applyResult(sig, result)
	log.Info("order placed", slog.String("order_id", result.OrderID))
}

// applyResult folds a successful placement back into local state: the
// resting-order map and, when the fill price is known, the position
// bookkeeping.
func (e *Executor) applyResult(sig domain.TradingSignal, result domain.OrderResult) {
	e.lastOrderID[sig.Direction] = result.OrderID

	if e.fills == nil {
		return
	}

	if quoter, ok := e.fills.(QuoteApplier); ok {
		quoter.ApplyQuoteResult(sig.Direction, sig.Price, sig.Size, result)
	}

	// An immediate fill price means the order executed rather than rested.
	if result.FilledPrice.Sign() > 0 {
		e.fills.ApplyFill(sig.Direction, result.FilledPrice, sig.Size)
	} else if _, resting := e.fills.(QuoteApplier); !resting {
		e.fills.ApplyFill(sig.Direction, sig.Price, sig.Size)
	}
}

// retryOrder makes a single retry attempt for a rejected order after a short
// pause, respecting expiry.
func (e *Executor) retryOrder(ctx context.Context, sig domain.TradingSignal, log *slog.Logger) {
	if sig.Expired(time.Now().UTC()) {
		log.Warn("signal expired during retry, giving up")
		return
	}

	select {
	case <-ctx.Done():
		return
	case <-time.After(500 * time.Millisecond):
	}

	result, err := e.orders.PlaceOrder(ctx, sig)
	if err != nil {
		log.Error("retry order placement failed", slog.String("error", err.Error()))
		return
	}

	if result.Success {
		e.applyResult(sig, result)
		log.Info("retry order placed", slog.String("order_id", result.OrderID))
	} else {
		log.Warn("retry order also rejected", slog.String("message", result.Message))
	}
}

// drain processes any signals already buffered in the channel after context
// cancellation. This ensures in-flight signals are not silently dropped.
func (e *Executor) drain() {
	for {
		select {
		case sig, ok := <-e.signalCh:
			if !ok {
				return
			}
			e.logger.Warn("draining signal after shutdown", slog.String("signal_id", sig.ID))
			drainCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			e.process(drainCtx, sig)
			cancel()
		default:
			return
		}
	}
}

// SetDedupTTL replaces the dedup instance with a new one using the given
// TTL. Must be called before Run.
func (e *Executor) SetDedupTTL(ttl time.Duration) {
	e.dedup = NewDedup(ttl)
}

// SetCleanupInterval changes how often the dedup map is garbage-collected.
// Must be called before Run.
func (e *Executor) SetCleanupInterval(d time.Duration) {
	e.cleanupInterval = d
}
