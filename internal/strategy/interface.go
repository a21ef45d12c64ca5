package strategy

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/perpdex/perpflow/internal/domain"
)

// Strategy defines the contract for trading strategies. Event handlers return
// the signals the event produced; the engine forwards them to the executor.
type Strategy interface {
	Name() string
	Init(ctx context.Context) error
	OnBookUpdate(ctx context.Context, snap domain.OrderbookSnapshot) ([]domain.TradingSignal, error)
	OnTrade(ctx context.Context, print domain.TradePrint) ([]domain.TradingSignal, error)
	// OnTick fires on the configured update interval and is where decision
	// logic runs; book and trade events only feed the analyzers.
	OnTick(ctx context.Context, now time.Time) ([]domain.TradingSignal, error)
	// ApplyFill folds a confirmed execution back into the strategy's
	// position bookkeeping. Internal state must not advance before the fill
	// is confirmed.
	ApplyFill(side domain.OrderSide, price, size decimal.Decimal)
	Status() domain.StrategyStatus
	Close() error
}

// Config holds the strategy parameters shared by both strategy variants.
type Config struct {
	Ticker string

	PositionSize decimal.Decimal
	MaxPosition  decimal.Decimal

	StopLossPct   decimal.Decimal
	TakeProfitPct decimal.Decimal

	MaxDailyLoss       decimal.Decimal
	MaxOrdersPerMinute int

	SignalTTL time.Duration
}
