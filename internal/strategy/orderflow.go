package strategy

import (
	"context"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/perpdex/perpflow/internal/domain"
	"github.com/perpdex/perpflow/internal/orderbook"
	"github.com/perpdex/perpflow/internal/signal"
	"github.com/perpdex/perpflow/internal/tradeflow"
)

// OrderFlow trades directionally on confirmed order-flow signals. Book and
// tape events feed the analyzers; decisions happen on the tick.
type OrderFlow struct {
	cfg    Config
	book   *orderbook.Analyzer
	flow   *tradeflow.Monitor
	engine *signal.Engine
	risk   *riskState
	logger *slog.Logger

	position  domain.Position
	emitted   int
	lastEntry decimal.Decimal
	updatedAt time.Time
}

var _ Strategy = (*OrderFlow)(nil)

// NewOrderFlow creates the order-flow strategy around shared analyzers and a
// signal engine.
func NewOrderFlow(cfg Config, book *orderbook.Analyzer, flow *tradeflow.Monitor, engine *signal.Engine, logger *slog.Logger) *OrderFlow {
	return &OrderFlow{
		cfg:    cfg,
		book:   book,
		flow:   flow,
		engine: engine,
		risk:   newRiskState(cfg),
		logger: logger.With(slog.String("component", "orderflow_strategy")),
	}
}

func (s *OrderFlow) Name() string { return "orderflow" }

func (s *OrderFlow) Init(ctx context.Context) error {
	s.logger.Info("orderflow strategy initialized", slog.String("ticker", s.cfg.Ticker))
	return nil
}

func (s *OrderFlow) OnBookUpdate(ctx context.Context, snap domain.OrderbookSnapshot) ([]domain.TradingSignal, error) {
	if snap.Crossed() {
		return nil, nil
	}
	s.book.Update(snap.Bids, snap.Asks, snap.Timestamp)
	return nil, nil
}

func (s *OrderFlow) OnTrade(ctx context.Context, print domain.TradePrint) ([]domain.TradingSignal, error) {
	s.flow.AddTrade(print.Price, print.Size, print.Side, print.ID, print.Timestamp)
	return nil, nil
}

// OnTick evaluates the signal engine and emits at most one order intent,
// subject to the risk limits. Exit handling for open positions lives with
// the execution layer; the strategy itself only proposes entries.
func (s *OrderFlow) OnTick(ctx context.Context, now time.Time) ([]domain.TradingSignal, error) {
	s.updatedAt = now

	sig, confirmed := s.engine.Evaluate(now)
	if sig == nil || !confirmed {
		return nil, nil
	}

	if !s.risk.allowOrder(now) {
		s.logger.Debug("signal suppressed by risk limits", slog.String("direction", string(sig.Direction)))
		return nil, nil
	}

	delta := s.cfg.PositionSize
	if sig.Direction == domain.OrderSideSell {
		delta = delta.Neg()
	}
	if !s.risk.allowPosition(s.position.Size, delta) {
		s.logger.Debug("signal suppressed, position cap reached",
			slog.String("position", s.position.Size.String()),
		)
		return nil, nil
	}

	out := *sig
	out.Size = s.cfg.PositionSize
	if s.cfg.SignalTTL > 0 {
		out.ExpiresAt = now.Add(s.cfg.SignalTTL)
	}

	s.risk.recordOrder(now)
	s.emitted++
	s.logger.Info("orderflow signal emitted",
		slog.String("direction", string(out.Direction)),
		slog.Float64("strength", out.Strength),
		slog.String("price", out.Price.String()),
	)
	return []domain.TradingSignal{out}, nil
}

// ApplyFill updates position bookkeeping once the execution layer confirms a
// fill. Same-direction adds blend the entry; opposite fills realize PnL into
// the daily total.
func (s *OrderFlow) ApplyFill(side domain.OrderSide, price, size decimal.Decimal) {
	now := time.Now().UTC()
	signed := size
	if side == domain.OrderSideSell {
		signed = signed.Neg()
	}

	closing := s.position.Size.Sign() != 0 && s.position.Size.Sign() != signed.Sign()
	if closing {
		closed := decimal.Min(size, s.position.AbsSize())
		var pnl decimal.Decimal
		if s.position.IsLong() {
			pnl = price.Sub(s.position.AvgEntryPrice).Mul(closed)
		} else {
			pnl = s.position.AvgEntryPrice.Sub(price).Mul(closed)
		}
		s.position.RealizedPnL = s.position.RealizedPnL.Add(pnl)
		s.risk.recordPnL(pnl, now)
	}

	prev := s.position.Size
	s.position.Size = s.position.Size.Add(signed)
	switch {
	case s.position.IsFlat():
		s.position.AvgEntryPrice = decimal.Zero
	case prev.Sign() == 0 || prev.Sign() != s.position.Size.Sign():
		s.position.AvgEntryPrice = price
	case !closing:
		total := s.position.AvgEntryPrice.Mul(prev.Abs()).Add(price.Mul(size))
		s.position.AvgEntryPrice = total.Div(prev.Abs().Add(size))
	}
	s.lastEntry = s.position.AvgEntryPrice
}

func (s *OrderFlow) Status() domain.StrategyStatus {
	return domain.StrategyStatus{
		Strategy:         s.Name(),
		Running:          true,
		Position:         s.position.Size,
		AvgEntryPrice:    s.position.AvgEntryPrice,
		SignalsGenerated: s.engine.Generated(),
		OrdersToday:      s.risk.ordersToday,
		DailyPnL:         s.risk.dailyPnL,
		UpdatedAt:        s.updatedAt,
	}
}

func (s *OrderFlow) Close() error {
	s.logger.Info("orderflow strategy closed",
		slog.Int("signals_emitted", s.emitted),
		slog.String("realized_pnl", s.position.RealizedPnL.String()),
	)
	return nil
}
