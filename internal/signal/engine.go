// Package signal fuses orderbook and trade-flow metrics into directional
// trading signals and applies multi-tick confirmation before any signal may
// trigger execution.
package signal

import (
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/perpdex/perpflow/internal/domain"
	"github.com/perpdex/perpflow/internal/orderbook"
	"github.com/perpdex/perpflow/internal/tradeflow"
)

// Contribution weights and gates of the four fusion rules. Rules are applied
// in a fixed order; the first rule to fix a direction wins and later rules
// whose sign disagrees are skipped rather than flipping it.
const (
	bookImbalanceWeight     = 0.4
	weightedImbalanceWeight = 0.3
	tradeImbalanceWeight    = 0.2
	tradeImbalanceGate      = 0.3
	momentumGate            = 0.001
	momentumScale           = 100
	momentumCap             = 0.1
)

// momentumLookback is the tape window the momentum rule considers.
const momentumLookback = 10 * time.Second

// Config holds the signal engine thresholds.
type Config struct {
	ImbalanceThreshold float64
	StrengthThreshold  float64
	ConfirmationTicks  int
}

// Validate rejects malformed thresholds eagerly. Zero thresholds are allowed
// and disable the respective gate.
func (c Config) Validate() error {
	if c.ImbalanceThreshold < 0 || c.ImbalanceThreshold >= 1 {
		return fmt.Errorf("signal: imbalance_threshold must be in [0,1), got %g", c.ImbalanceThreshold)
	}
	if c.StrengthThreshold < 0 || c.StrengthThreshold > 1 {
		return fmt.Errorf("signal: strength_threshold must be in [0,1], got %g", c.StrengthThreshold)
	}
	if c.ConfirmationTicks < 1 {
		return fmt.Errorf("signal: confirmation_ticks must be >= 1, got %d", c.ConfirmationTicks)
	}
	return nil
}

// Engine generates signals from the analyzers and confirms them against a
// bounded buffer of recent signals. Generation is stateless per call;
// confirmation owns the buffer.
type Engine struct {
	cfg    Config
	book   *orderbook.Analyzer
	flow   *tradeflow.Monitor
	logger *slog.Logger

	buffer    []domain.TradingSignal
	generated int
}

// NewEngine creates a signal Engine reading from the given analyzers.
func NewEngine(cfg Config, book *orderbook.Analyzer, flow *tradeflow.Monitor, logger *slog.Logger) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Engine{
		cfg:    cfg,
		book:   book,
		flow:   flow,
		logger: logger.With(slog.String("component", "signal_engine")),
	}, nil
}

// Generated returns how many signals this engine has produced.
func (e *Engine) Generated() int { return e.generated }

// Generate evaluates the current market state and returns a signal, or nil
// when no rule fires or the accumulated strength stays below the threshold.
func (e *Engine) Generate(now time.Time) *domain.TradingSignal {
	snap, ok := e.book.Current()
	if !ok {
		return nil
	}

	imbalance := e.book.Imbalance(snap)
	weightedImbalance := e.book.WeightedImbalance(snap, 0)
	tradeImbalance := e.flow.BuySellImbalance()
	momentum := e.flow.Momentum(momentumLookback, now)

	var direction domain.OrderSide
	strength := 0.0
	var reasons []string

	// Rule 1: orderbook imbalance fixes the direction outright.
	if math.Abs(imbalance) > e.cfg.ImbalanceThreshold {
		if imbalance > 0 {
			direction = domain.OrderSideBuy
			reasons = append(reasons, fmt.Sprintf("book bid-heavy (imbalance %.2f)", imbalance))
		} else {
			direction = domain.OrderSideSell
			reasons = append(reasons, fmt.Sprintf("book ask-heavy (imbalance %.2f)", imbalance))
		}
		strength += math.Abs(imbalance) * bookImbalanceWeight
	}

	// Rule 2: weighted imbalance, skipped when it contradicts rule 1.
	if math.Abs(weightedImbalance) > e.cfg.ImbalanceThreshold {
		if weightedImbalance > 0 && direction != domain.OrderSideSell {
			direction = domain.OrderSideBuy
			strength += math.Abs(weightedImbalance) * weightedImbalanceWeight
			reasons = append(reasons, fmt.Sprintf("weighted imbalance favors buys (%.2f)", weightedImbalance))
		} else if weightedImbalance < 0 && direction != domain.OrderSideBuy {
			direction = domain.OrderSideSell
			strength += math.Abs(weightedImbalance) * weightedImbalanceWeight
			reasons = append(reasons, fmt.Sprintf("weighted imbalance favors sells (%.2f)", weightedImbalance))
		}
	}

	// Rule 3: trade-flow imbalance.
	if math.Abs(tradeImbalance) > tradeImbalanceGate {
		if tradeImbalance > 0 && direction != domain.OrderSideSell {
			direction = domain.OrderSideBuy
			strength += math.Abs(tradeImbalance) * tradeImbalanceWeight
			reasons = append(reasons, fmt.Sprintf("tape buy-dominant (%.2f)", tradeImbalance))
		} else if tradeImbalance < 0 && direction != domain.OrderSideBuy {
			direction = domain.OrderSideSell
			strength += math.Abs(tradeImbalance) * tradeImbalanceWeight
			reasons = append(reasons, fmt.Sprintf("tape sell-dominant (%.2f)", tradeImbalance))
		}
	}

	// Rule 4: short-term momentum, contribution capped.
	if math.Abs(momentum) > momentumGate {
		if momentum > 0 && direction != domain.OrderSideSell {
			direction = domain.OrderSideBuy
			strength += math.Min(math.Abs(momentum)*momentumScale, momentumCap)
			reasons = append(reasons, fmt.Sprintf("upward momentum (%.3f%%)", momentum*100))
		} else if momentum < 0 && direction != domain.OrderSideBuy {
			direction = domain.OrderSideSell
			strength += math.Min(math.Abs(momentum)*momentumScale, momentumCap)
			reasons = append(reasons, fmt.Sprintf("downward momentum (%.3f%%)", momentum*100))
		}
	}

	if direction == "" || strength < e.cfg.StrengthThreshold {
		return nil
	}
	if strength > 1 {
		strength = 1
	}

	price := snap.BestAsk
	if direction == domain.OrderSideSell {
		price = snap.BestBid
	}

	sig := &domain.TradingSignal{
		ID:        uuid.New().String(),
		Direction: direction,
		Strength:  strength,
		Price:     price,
		Reason:    strings.Join(reasons, "; "),
		Timestamp: now,
	}
	e.generated++

	e.logger.Debug("signal generated",
		slog.String("direction", string(direction)),
		slog.Float64("strength", strength),
		slog.String("reason", sig.Reason),
	)
	return sig
}

// Confirm appends the signal to the confirmation buffer and reports whether
// the most recent ConfirmationTicks signals share one direction with average
// strength at or above the threshold. The buffer is trimmed to twice the
// confirmation length, oldest dropped first.
func (e *Engine) Confirm(sig domain.TradingSignal) bool {
	e.buffer = append(e.buffer, sig)

	limit := e.cfg.ConfirmationTicks * 2
	if len(e.buffer) > limit {
		e.buffer = append([]domain.TradingSignal(nil), e.buffer[len(e.buffer)-limit:]...)
	}

	if len(e.buffer) < e.cfg.ConfirmationTicks {
		return false
	}

	recent := e.buffer[len(e.buffer)-e.cfg.ConfirmationTicks:]
	dir := recent[0].Direction
	sum := 0.0
	for _, s := range recent {
		if s.Direction != dir {
			return false
		}
		sum += s.Strength
	}
	avg := sum / float64(len(recent))
	return avg >= e.cfg.StrengthThreshold
}

// Evaluate generates a signal for the current state and, when one is
// produced, runs it through confirmation. confirmed is only meaningful when
// sig is non-nil.
func (e *Engine) Evaluate(now time.Time) (sig *domain.TradingSignal, confirmed bool) {
	sig = e.Generate(now)
	if sig == nil {
		return nil, false
	}
	return sig, e.Confirm(*sig)
}

// Reset clears the confirmation buffer.
func (e *Engine) Reset() {
	e.buffer = nil
}
