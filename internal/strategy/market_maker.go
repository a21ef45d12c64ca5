package strategy

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/perpdex/perpflow/internal/domain"
	"github.com/perpdex/perpflow/internal/orderbook"
	"github.com/perpdex/perpflow/internal/quote"
	"github.com/perpdex/perpflow/internal/tradeflow"
)

// MarketMaker keeps a two-sided quote around the mid price and requotes when
// the market moves past the configured threshold. Resting quotes are tracked
// as MakerOrders and only replaced after the execution layer reports the
// outcome of the previous cycle.
type MarketMaker struct {
	cfg    Config
	quoter *quote.Engine
	book   *orderbook.Analyzer
	flow   *tradeflow.Monitor
	risk   *riskState
	logger *slog.Logger

	// priceUpdateThreshold is the fractional mid move that forces a requote.
	priceUpdateThreshold decimal.Decimal

	position   domain.Position
	activeBid  *domain.MakerOrder
	activeAsk  *domain.MakerOrder
	lastQuoted decimal.Decimal
	emitted    int
	updatedAt  time.Time
}

var _ Strategy = (*MarketMaker)(nil)

// NewMarketMaker creates the market-maker strategy.
func NewMarketMaker(cfg Config, quoter *quote.Engine, book *orderbook.Analyzer, flow *tradeflow.Monitor, priceUpdateThreshold decimal.Decimal, logger *slog.Logger) *MarketMaker {
	return &MarketMaker{
		cfg:                  cfg,
		quoter:               quoter,
		book:                 book,
		flow:                 flow,
		risk:                 newRiskState(cfg),
		priceUpdateThreshold: priceUpdateThreshold,
		logger:               logger.With(slog.String("component", "market_maker_strategy")),
	}
}

func (s *MarketMaker) Name() string { return "market_maker" }

func (s *MarketMaker) Init(ctx context.Context) error {
	s.logger.Info("market maker initialized", slog.String("ticker", s.cfg.Ticker))
	return nil
}

func (s *MarketMaker) OnBookUpdate(ctx context.Context, snap domain.OrderbookSnapshot) ([]domain.TradingSignal, error) {
	s.book.Update(snap.Bids, snap.Asks, snap.Timestamp)
	return nil, nil
}

func (s *MarketMaker) OnTrade(ctx context.Context, print domain.TradePrint) ([]domain.TradingSignal, error) {
	s.flow.AddTrade(print.Price, print.Size, print.Side, print.ID, print.Timestamp)
	return nil, nil
}

// OnTick requotes when there are no resting quotes yet or the mid has moved
// past the update threshold since the last quote cycle.
func (s *MarketMaker) OnTick(ctx context.Context, now time.Time) ([]domain.TradingSignal, error) {
	s.updatedAt = now

	snap, ok := s.book.Current()
	if !ok || snap.Crossed() {
		return nil, nil
	}
	mid := snap.MidPrice()
	if mid.Sign() <= 0 {
		return nil, nil
	}

	if !s.needsRequote(mid) {
		return nil, nil
	}
	if !s.risk.allowOrder(now) {
		return nil, nil
	}

	bid, ask := s.quoter.Quote(snap, s.position.Size)

	var out []domain.TradingSignal
	if s.risk.allowPosition(s.position.Size, s.cfg.PositionSize) {
		out = append(out, s.quoteSignal(domain.OrderSideBuy, bid, now))
	}
	if s.risk.allowPosition(s.position.Size, s.cfg.PositionSize.Neg()) {
		out = append(out, s.quoteSignal(domain.OrderSideSell, ask, now))
	}
	if len(out) == 0 {
		return nil, nil
	}

	s.lastQuoted = mid
	s.risk.recordOrder(now)
	s.emitted += len(out)
	s.logger.Debug("requoting",
		slog.String("bid", bid.String()),
		slog.String("ask", ask.String()),
		slog.String("mid", mid.String()),
	)
	return out, nil
}

func (s *MarketMaker) needsRequote(mid decimal.Decimal) bool {
	if s.activeBid == nil && s.activeAsk == nil {
		return true
	}
	if s.lastQuoted.Sign() <= 0 {
		return true
	}
	move := mid.Sub(s.lastQuoted).Abs().Div(s.lastQuoted)
	return move.GreaterThanOrEqual(s.priceUpdateThreshold)
}

func (s *MarketMaker) quoteSignal(side domain.OrderSide, price decimal.Decimal, now time.Time) domain.TradingSignal {
	sig := domain.TradingSignal{
		ID:        uuid.New().String(),
		Direction: side,
		Strength:  1,
		Price:     price,
		Size:      s.cfg.PositionSize,
		Reason:    "maker quote",
		Timestamp: now,
	}
	if s.cfg.SignalTTL > 0 {
		sig.ExpiresAt = now.Add(s.cfg.SignalTTL)
	}
	return sig
}

// ActiveQuotes returns the resting bid and ask, either of which may be nil.
func (s *MarketMaker) ActiveQuotes() (bid, ask *domain.MakerOrder) {
	return s.activeBid, s.activeAsk
}

// ApplyQuoteResult records the outcome of a quote placement so the next
// cycle replaces rather than duplicates the resting order.
func (s *MarketMaker) ApplyQuoteResult(side domain.OrderSide, price, size decimal.Decimal, res domain.OrderResult) {
	if !res.Success {
		return
	}
	order := &domain.MakerOrder{
		OrderID:   res.OrderID,
		Side:      side,
		Price:     price,
		Size:      size,
		Timestamp: time.Now().UTC(),
	}
	if side == domain.OrderSideBuy {
		s.activeBid = order
	} else {
		s.activeAsk = order
	}
}

// ApplyFill folds a maker fill into inventory and clears the filled quote.
func (s *MarketMaker) ApplyFill(side domain.OrderSide, price, size decimal.Decimal) {
	now := time.Now().UTC()
	signed := size
	if side == domain.OrderSideSell {
		signed = signed.Neg()
	}

	if s.position.Size.Sign() != 0 && s.position.Size.Sign() != signed.Sign() {
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
	case prev.Sign() == signed.Sign():
		total := s.position.AvgEntryPrice.Mul(prev.Abs()).Add(price.Mul(size))
		s.position.AvgEntryPrice = total.Div(prev.Abs().Add(size))
	}

	if side == domain.OrderSideBuy {
		s.activeBid = nil
	} else {
		s.activeAsk = nil
	}
}

func (s *MarketMaker) Status() domain.StrategyStatus {
	st := domain.StrategyStatus{
		Strategy:      s.Name(),
		Running:       true,
		Position:      s.position.Size,
		AvgEntryPrice: s.position.AvgEntryPrice,
		OrdersToday:   s.risk.ordersToday,
		DailyPnL:      s.risk.dailyPnL,
		UpdatedAt:     s.updatedAt,
	}
	if s.activeBid != nil {
		st.ActiveBidPrice = s.activeBid.Price
		st.ActiveOrders++
	}
	if s.activeAsk != nil {
		st.ActiveAskPrice = s.activeAsk.Price
		st.ActiveOrders++
	}
	st.SignalsGenerated = s.emitted
	return st
}

func (s *MarketMaker) Close() error {
	s.logger.Info("market maker closed",
		slog.Int("quotes_emitted", s.emitted),
		slog.String("realized_pnl", s.position.RealizedPnL.String()),
	)
	return nil
}
