package backtest

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
)

const reportWidth = 80

// RenderReport formats a human-readable summary of a backtest result.
func RenderReport(res *Result) string {
	var b strings.Builder
	rule := strings.Repeat("=", reportWidth)
	section := strings.Repeat("-", reportWidth)

	fmt.Fprintln(&b, rule)
	fmt.Fprintln(&b, "Backtest Report")
	fmt.Fprintf(&b, "Generated: %s\n", time.Now().UTC().Format("2006-01-02 15:04:05"))
	fmt.Fprintf(&b, "Period:    %s - %s\n",
		res.StartTime.Format("2006-01-02 15:04:05"),
		res.EndTime.Format("2006-01-02 15:04:05"),
	)
	fmt.Fprintln(&b, rule)

	m := res.Metrics

	fmt.Fprintln(&b, "Capital")
	fmt.Fprintln(&b, section)
	fmt.Fprintf(&b, "Initial balance:  $%s\n", res.InitialBalance.StringFixed(2))
	fmt.Fprintf(&b, "Final balance:    $%s\n", res.FinalBalance.StringFixed(2))
	fmt.Fprintf(&b, "Final equity:     $%s\n", res.FinalEquity.StringFixed(2))
	fmt.Fprintf(&b, "Total PnL:        $%s\n", m.TotalPnL.StringFixed(2))
	fmt.Fprintf(&b, "Total return:     %.2f%%\n", m.TotalReturn*100)
	fmt.Fprintf(&b, "Total fees:       $%s\n", res.TotalFees.StringFixed(2))
	fmt.Fprintln(&b)

	fmt.Fprintln(&b, "Trades")
	fmt.Fprintln(&b, section)
	fmt.Fprintf(&b, "Total trades:     %d\n", m.TotalTrades)
	fmt.Fprintf(&b, "Winning trades:   %d\n", m.WinningTrades)
	fmt.Fprintf(&b, "Losing trades:    %d\n", m.LosingTrades)
	fmt.Fprintf(&b, "Win rate:         %.2f%%\n", m.WinRate*100)
	fmt.Fprintf(&b, "Average win:      $%s\n", m.AverageWin.StringFixed(2))
	fmt.Fprintf(&b, "Average loss:     $%s\n", m.AverageLoss.StringFixed(2))
	fmt.Fprintf(&b, "Profit factor:    %.2f\n", m.ProfitFactor)
	fmt.Fprintf(&b, "Stop-loss exits:  %d\n", res.StopLossCloses)
	fmt.Fprintf(&b, "Take-profit exits: %d\n", res.TakeProfitCloses)
	fmt.Fprintln(&b)

	fmt.Fprintln(&b, "Risk")
	fmt.Fprintln(&b, section)
	fmt.Fprintf(&b, "Max drawdown:     %.2f%%\n", m.MaxDrawdown*100)
	fmt.Fprintf(&b, "Drawdown length:  %.2f hours\n", m.MaxDrawdownDuration.Hours())
	if m.SharpeRatio != nil {
		fmt.Fprintf(&b, "Sharpe ratio:     %.2f\n", *m.SharpeRatio)
	}
	if m.SortinoRatio != nil {
		fmt.Fprintf(&b, "Sortino ratio:    %.2f\n", *m.SortinoRatio)
	}
	fmt.Fprintln(&b)

	fmt.Fprintln(&b, "Timing")
	fmt.Fprintln(&b, section)
	fmt.Fprintf(&b, "Avg holding time: %.2f minutes\n", m.AverageHoldingTime.Minutes())
	fmt.Fprintf(&b, "Max consecutive wins:   %d\n", m.MaxConsecutiveWins)
	fmt.Fprintf(&b, "Max consecutive losses: %d\n", m.MaxConsecutiveLosses)
	fmt.Fprintln(&b)

	fmt.Fprintln(&b, "Signals")
	fmt.Fprintln(&b, section)
	fmt.Fprintf(&b, "Signals generated: %d\n", res.SignalsGenerated)
	fmt.Fprintf(&b, "Signals executed:  %d\n", res.SignalsExecuted)
	if res.SignalsGenerated > 0 {
		rate := float64(res.SignalsExecuted) / float64(res.SignalsGenerated) * 100
		fmt.Fprintf(&b, "Execution rate:    %.2f%%\n", rate)
	}
	fmt.Fprintln(&b)

	if len(res.Trades) > 0 {
		fmt.Fprintln(&b, "Recent trades (last 10)")
		fmt.Fprintln(&b, section)
		fmt.Fprintf(&b, "%-20s %-8s %-12s %-12s %-12s\n", "time", "side", "price", "size", "pnl")
		start := 0
		if len(res.Trades) > 10 {
			start = len(res.Trades) - 10
		}
		for _, t := range res.Trades[start:] {
			fmt.Fprintf(&b, "%-20s %-8s %-12s %-12s %-12s\n",
				t.Timestamp.Format("2006-01-02 15:04:05"),
				string(t.Direction),
				"$"+t.Price.StringFixed(2),
				t.Size.StringFixed(4),
				"$"+t.RealizedPnL().StringFixed(2),
			)
		}
		if hidden := len(res.Trades) - 10; hidden > 0 {
			fmt.Fprintf(&b, "... %d earlier trades\n", hidden)
		}
		fmt.Fprintln(&b)
	}

	fmt.Fprintln(&b, rule)
	return b.String()
}

// Summary returns a one-line digest suitable for logging.
func Summary(res *Result) string {
	m := res.Metrics
	return fmt.Sprintf(
		"backtest summary: return=%.2f%% win_rate=%.2f%% max_drawdown=%.2f%% trades=%d profit_factor=%.2f",
		m.TotalReturn*100, m.WinRate*100, m.MaxDrawdown*100, m.TotalTrades, m.ProfitFactor,
	)
}

// WriteTradesCSV writes the trade log as CSV with one row per fill.
func WriteTradesCSV(w io.Writer, res *Result) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"timestamp", "datetime", "direction", "price", "size", "value", "pnl", "close_reason"}); err != nil {
		return fmt.Errorf("backtest: write trades csv header: %w", err)
	}

	for i, t := range res.Trades {
		row := []string{
			strconv.FormatInt(t.Timestamp.Unix(), 10),
			t.Timestamp.Format("2006-01-02 15:04:05"),
			string(t.Direction),
			t.Price.String(),
			t.Size.String(),
			t.Value().String(),
			t.RealizedPnL().String(),
			string(t.CloseReason),
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("backtest: write trades csv row %d: %w", i, err)
		}
	}

	cw.Flush()
	return cw.Error()
}

// WriteEquityCSV writes the equity curve as CSV, one row per sampled tick.
func WriteEquityCSV(w io.Writer, res *Result) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"timestamp", "equity", "cash", "position"}); err != nil {
		return fmt.Errorf("backtest: write equity csv header: %w", err)
	}

	for i, p := range res.EquityCurve {
		row := []string{
			strconv.FormatInt(p.Timestamp.Unix(), 10),
			p.Equity.String(),
			p.Cash.String(),
			p.Position.String(),
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("backtest: write equity csv row %d: %w", i, err)
		}
	}

	cw.Flush()
	return cw.Error()
}
