package backtest

import (
	"math"
	"time"

	"github.com/shopspring/decimal"

	"github.com/perpdex/perpflow/internal/domain"
)

// annualization scales trade-level return statistics as if they were daily
// returns.
const annualization = 252

// PerformanceMetrics are aggregate risk/return statistics over a finished
// trade sequence. Sharpe and Sortino are nil when undefined (fewer than two
// trades, zero variance, or no downside).
type PerformanceMetrics struct {
	TotalTrades   int
	WinningTrades int
	LosingTrades  int
	WinRate       float64

	TotalPnL     decimal.Decimal
	TotalReturn  float64
	AverageWin   decimal.Decimal
	AverageLoss  decimal.Decimal
	ProfitFactor float64

	MaxDrawdown         float64
	MaxDrawdownDuration time.Duration
	SharpeRatio         *float64
	SortinoRatio        *float64

	AverageHoldingTime    time.Duration
	MaxConsecutiveWins    int
	MaxConsecutiveLosses  int
}

// CalculateMetrics computes performance statistics from the fill history.
// Fills with nil PnL (pure opens) count toward the trade total but are
// neither wins nor losses.
func CalculateMetrics(trades []domain.TradeRecord, initialBalance decimal.Decimal) PerformanceMetrics {
	if len(trades) == 0 {
		return PerformanceMetrics{}
	}

	m := PerformanceMetrics{TotalTrades: len(trades)}

	sumWins, sumLosses := decimal.Zero, decimal.Zero
	for _, t := range trades {
		pnl := t.RealizedPnL()
		m.TotalPnL = m.TotalPnL.Add(pnl)
		switch pnl.Sign() {
		case 1:
			m.WinningTrades++
			sumWins = sumWins.Add(pnl)
		case -1:
			m.LosingTrades++
			sumLosses = sumLosses.Add(pnl.Abs())
		}
	}
	m.WinRate = float64(m.WinningTrades) / float64(m.TotalTrades)

	if initialBalance.Sign() > 0 {
		m.TotalReturn, _ = m.TotalPnL.Div(initialBalance).Float64()
	}
	if m.WinningTrades > 0 {
		m.AverageWin = sumWins.Div(decimal.NewFromInt(int64(m.WinningTrades)))
	}
	if m.LosingTrades > 0 {
		m.AverageLoss = sumLosses.Div(decimal.NewFromInt(int64(m.LosingTrades)))
	}
	switch {
	case sumLosses.Sign() > 0:
		m.ProfitFactor, _ = sumWins.Div(sumLosses).Float64()
	case sumWins.Sign() > 0:
		m.ProfitFactor = math.Inf(1)
	}

	m.MaxDrawdown, m.MaxDrawdownDuration = drawdownFromTrades(trades, initialBalance)

	returns := perTradeReturns(trades, initialBalance)
	m.SharpeRatio = sharpeRatio(returns)
	m.SortinoRatio = sortinoRatio(returns)

	if len(trades) >= 2 {
		var total time.Duration
		for i := 1; i < len(trades); i++ {
			total += trades[i].Timestamp.Sub(trades[i-1].Timestamp)
		}
		m.AverageHoldingTime = total / time.Duration(len(trades)-1)
	}

	m.MaxConsecutiveWins, m.MaxConsecutiveLosses = streaks(trades)
	return m
}

// drawdownFromTrades walks the equity curve reconstructed from cumulative
// PnL, tracking the deepest peak-to-trough fraction and how long the curve
// stayed below the peak that preceded it.
func drawdownFromTrades(trades []domain.TradeRecord, initialBalance decimal.Decimal) (float64, time.Duration) {
	peak := initialBalance
	running := initialBalance

	var maxDD float64
	var maxSpan time.Duration
	var peakTime time.Time
	inDrawdown := false

	for i, t := range trades {
		running = running.Add(t.RealizedPnL())

		if running.GreaterThan(peak) {
			peak = running
			inDrawdown = false
			continue
		}
		if peak.Sign() <= 0 {
			continue
		}
		if !inDrawdown {
			inDrawdown = true
			peakTime = trades[i].Timestamp
		}
		dd, _ := peak.Sub(running).Div(peak).Float64()
		if dd > maxDD {
			maxDD = dd
		}
		if span := trades[i].Timestamp.Sub(peakTime); span > maxSpan {
			maxSpan = span
		}
	}
	return maxDD, maxSpan
}

// perTradeReturns divides each realized PnL by the balance running into the
// trade.
func perTradeReturns(trades []domain.TradeRecord, initialBalance decimal.Decimal) []float64 {
	returns := make([]float64, 0, len(trades))
	running := initialBalance

	for _, t := range trades {
		pnl := t.RealizedPnL()
		if running.Sign() > 0 {
			r, _ := pnl.Div(running).Float64()
			returns = append(returns, r)
			running = running.Add(pnl)
		} else {
			returns = append(returns, 0)
		}
	}
	return returns
}

func sharpeRatio(returns []float64) *float64 {
	if len(returns) < 2 {
		return nil
	}
	mean := meanOf(returns)

	variance := 0.0
	for _, r := range returns {
		variance += (r - mean) * (r - mean)
	}
	variance /= float64(len(returns) - 1)
	std := math.Sqrt(variance)
	if std == 0 {
		return nil
	}

	sharpe := (mean * annualization) / (std * math.Sqrt(annualization))
	return &sharpe
}

func sortinoRatio(returns []float64) *float64 {
	if len(returns) < 2 {
		return nil
	}
	mean := meanOf(returns)

	var downside []float64
	for _, r := range returns {
		if r < 0 {
			downside = append(downside, r)
		}
	}
	if len(downside) == 0 {
		return nil
	}

	variance := 0.0
	for _, r := range downside {
		variance += r * r
	}
	variance /= float64(len(downside))
	std := math.Sqrt(variance)
	if std == 0 {
		return nil
	}

	sortino := (mean * annualization) / (std * math.Sqrt(annualization))
	return &sortino
}

func meanOf(xs []float64) float64 {
	sum := 0.0
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

// streaks scans the longest consecutive win and loss runs. A zero-PnL trade
// (or a pure open) breaks both runs.
func streaks(trades []domain.TradeRecord) (maxWins, maxLosses int) {
	curWins, curLosses := 0, 0
	for _, t := range trades {
		switch t.RealizedPnL().Sign() {
		case 1:
			curWins++
			curLosses = 0
			if curWins > maxWins {
				maxWins = curWins
			}
		case -1:
			curLosses++
			curWins = 0
			if curLosses > maxLosses {
				maxLosses = curLosses
			}
		default:
			curWins, curLosses = 0, 0
		}
	}
	return maxWins, maxLosses
}
