package backtest

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/perpdex/perpflow/internal/domain"
)

// Ledger is the in-memory account the replay executes against: cash, a
// signed position, and the append-only fill history. All amounts are exact
// decimals.
type Ledger struct {
	cash     decimal.Decimal
	position domain.Position
	feeRate  decimal.Decimal

	trades    []domain.TradeRecord
	totalFees decimal.Decimal

	winning int
	losing  int

	stopLossCloses   int
	takeProfitCloses int
}

// NewLedger creates a ledger funded with the initial balance.
func NewLedger(initialBalance, feeRate decimal.Decimal) *Ledger {
	return &Ledger{
		cash:    initialBalance,
		feeRate: feeRate,
	}
}

// Cash returns available cash.
func (l *Ledger) Cash() decimal.Decimal { return l.cash }

// Position returns the current position state.
func (l *Ledger) Position() domain.Position { return l.position }

// Trades returns the fill history. The slice is owned by the ledger.
func (l *Ledger) Trades() []domain.TradeRecord { return l.trades }

// TotalFees returns the cumulative fees paid.
func (l *Ledger) TotalFees() decimal.Decimal { return l.totalFees }

// WinningTrades returns the count of closes with positive realized PnL.
func (l *Ledger) WinningTrades() int { return l.winning }

// LosingTrades returns the count of closes with negative realized PnL.
// Break-even closes count as neither.
func (l *Ledger) LosingTrades() int { return l.losing }

// StopLossCloses returns how many closes were stop-loss triggered.
func (l *Ledger) StopLossCloses() int { return l.stopLossCloses }

// TakeProfitCloses returns how many closes were take-profit triggered.
func (l *Ledger) TakeProfitCloses() int { return l.takeProfitCloses }

// Equity marks the account to the given price: cash plus signed position
// value.
func (l *Ledger) Equity(mark decimal.Decimal) decimal.Decimal {
	return l.cash.Add(mark.Mul(l.position.Size))
}

// Execute applies one simulated fill. A buy whose cost exceeds available
// cash is refused with ErrInsufficientFunds and leaves the ledger unchanged.
// Opposite-direction fills close the open position first, realizing PnL net
// of the fill fee, and any remaining size opens a position in the new
// direction at the fill price.
func (l *Ledger) Execute(direction domain.OrderSide, price, size decimal.Decimal, ts time.Time) error {
	if size.Sign() <= 0 {
		return fmt.Errorf("backtest: fill size must be positive, got %s: %w", size, domain.ErrInvalidOrder)
	}
	fee := price.Mul(size).Mul(l.feeRate)

	switch direction {
	case domain.OrderSideBuy:
		cost := price.Mul(size).Add(fee)
		if cost.GreaterThan(l.cash) {
			return fmt.Errorf("backtest: buy cost %s exceeds cash %s: %w", cost, l.cash, domain.ErrInsufficientFunds)
		}
		l.cash = l.cash.Sub(cost)
		l.totalFees = l.totalFees.Add(fee)

		var pnl *decimal.Decimal
		if l.position.IsShort() {
			closed := decimal.Min(size, l.position.AbsSize())
			realized := l.position.AvgEntryPrice.Sub(price).Mul(closed).Sub(fee)
			l.settle(realized)
			pnl = &realized

			l.position.Size = l.position.Size.Add(closed)
			if l.position.IsFlat() {
				l.position.AvgEntryPrice = decimal.Zero
			}
			if remaining := size.Sub(closed); remaining.Sign() > 0 {
				l.open(price, remaining)
			}
		} else {
			l.open(price, size)
		}
		l.record(domain.OrderSideBuy, price, size, fee, pnl, "", ts)

	case domain.OrderSideSell:
		l.cash = l.cash.Add(price.Mul(size).Sub(fee))
		l.totalFees = l.totalFees.Add(fee)

		var pnl *decimal.Decimal
		if l.position.IsLong() {
			closed := decimal.Min(size, l.position.Size)
			realized := price.Sub(l.position.AvgEntryPrice).Mul(closed).Sub(fee)
			l.settle(realized)
			pnl = &realized

			l.position.Size = l.position.Size.Sub(closed)
			if l.position.IsFlat() {
				l.position.AvgEntryPrice = decimal.Zero
			}
			if remaining := size.Sub(closed); remaining.Sign() > 0 {
				l.open(price, remaining.Neg())
			}
		} else {
			l.open(price, size.Neg())
		}
		l.record(domain.OrderSideSell, price, size, fee, pnl, "", ts)

	default:
		return fmt.Errorf("backtest: unknown direction %q: %w", direction, domain.ErrInvalidOrder)
	}
	return nil
}

// ForceClose flattens the open position at the given price, tagging the fill
// with the close reason. It is a no-op when flat.
func (l *Ledger) ForceClose(price decimal.Decimal, reason domain.CloseReason, ts time.Time) {
	if l.position.IsFlat() {
		return
	}

	size := l.position.AbsSize()
	fee := price.Mul(size).Mul(l.feeRate)
	l.totalFees = l.totalFees.Add(fee)

	var realized decimal.Decimal
	direction := domain.OrderSideSell
	if l.position.IsLong() {
		l.cash = l.cash.Add(price.Mul(size).Sub(fee))
		realized = price.Sub(l.position.AvgEntryPrice).Mul(size).Sub(fee)
	} else {
		direction = domain.OrderSideBuy
		l.cash = l.cash.Sub(price.Mul(size).Add(fee))
		realized = l.position.AvgEntryPrice.Sub(price).Mul(size).Sub(fee)
	}
	l.settle(realized)

	switch reason {
	case domain.CloseReasonStopLoss:
		l.stopLossCloses++
	case domain.CloseReasonTakeProfit:
		l.takeProfitCloses++
	}

	l.position = domain.Position{RealizedPnL: l.position.RealizedPnL}
	l.record(direction, price, size, fee, &realized, reason, ts)
}

// CheckStops compares the mark against the configured stop-loss and
// take-profit thresholds and force-closes on a breach. Thresholds with zero
// or negative values are disabled. Returns the close reason when a close
// happened.
func (l *Ledger) CheckStops(mark, stopLossPct, takeProfitPct decimal.Decimal, ts time.Time) (domain.CloseReason, bool) {
	if l.position.IsFlat() || l.position.AvgEntryPrice.Sign() <= 0 {
		return "", false
	}

	change := l.position.PriceChangePct(mark)

	if l.position.IsLong() {
		if takeProfitPct.Sign() > 0 && change.GreaterThanOrEqual(takeProfitPct) {
			l.ForceClose(mark, domain.CloseReasonTakeProfit, ts)
			return domain.CloseReasonTakeProfit, true
		}
		if stopLossPct.Sign() > 0 && change.LessThanOrEqual(stopLossPct.Neg()) {
			l.ForceClose(mark, domain.CloseReasonStopLoss, ts)
			return domain.CloseReasonStopLoss, true
		}
		return "", false
	}

	// Short: profit when the mark falls, loss when it rises.
	if takeProfitPct.Sign() > 0 && change.LessThanOrEqual(takeProfitPct.Neg()) {
		l.ForceClose(mark, domain.CloseReasonTakeProfit, ts)
		return domain.CloseReasonTakeProfit, true
	}
	if stopLossPct.Sign() > 0 && change.GreaterThanOrEqual(stopLossPct) {
		l.ForceClose(mark, domain.CloseReasonStopLoss, ts)
		return domain.CloseReasonStopLoss, true
	}
	return "", false
}

// open adds signed size at the fill price, blending the average entry as a
// size-weighted mean on same-direction adds.
func (l *Ledger) open(price, signedSize decimal.Decimal) {
	if l.position.IsFlat() {
		l.position.AvgEntryPrice = price
		l.position.Size = l.position.Size.Add(signedSize)
		return
	}
	prevAbs := l.position.AbsSize()
	addAbs := signedSize.Abs()
	total := l.position.AvgEntryPrice.Mul(prevAbs).Add(price.Mul(addAbs))
	l.position.AvgEntryPrice = total.Div(prevAbs.Add(addAbs))
	l.position.Size = l.position.Size.Add(signedSize)
}

func (l *Ledger) settle(pnl decimal.Decimal) {
	l.position.RealizedPnL = l.position.RealizedPnL.Add(pnl)
	switch pnl.Sign() {
	case 1:
		l.winning++
	case -1:
		l.losing++
	}
}

func (l *Ledger) record(direction domain.OrderSide, price, size, fee decimal.Decimal, pnl *decimal.Decimal, reason domain.CloseReason, ts time.Time) {
	l.trades = append(l.trades, domain.TradeRecord{
		Timestamp:   ts,
		Direction:   direction,
		Price:       price,
		Size:        size,
		Fee:         fee,
		PnL:         pnl,
		CloseReason: reason,
	})
}
