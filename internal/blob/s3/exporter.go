package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/perpdex/perpflow/internal/domain"
)

// ResultExporter uploads completed backtest runs to object storage so they
// can be inspected outside the database: a run.json header plus a
// trades.jsonl file with one fill per line.
type ResultExporter struct {
	writer *Writer
}

// NewResultExporter creates a ResultExporter using the given Writer.
func NewResultExporter(w *Writer) *ResultExporter {
	return &ResultExporter{writer: w}
}

// runHeader is the JSON wire form of a run header. Decimals are serialized
// as strings.
type runHeader struct {
	ID             string    `json:"id"`
	Strategy       string    `json:"strategy"`
	StartedAt      time.Time `json:"started_at"`
	FinishedAt     time.Time `json:"finished_at"`
	InitialBalance string    `json:"initial_balance"`
	FinalBalance   string    `json:"final_balance"`
	TotalTrades    int       `json:"total_trades"`
	WinRate        float64   `json:"win_rate"`
	MaxDrawdown    float64   `json:"max_drawdown"`
	TotalFees      string    `json:"total_fees"`
}

// tradeLine is one JSONL record in trades.jsonl.
type tradeLine struct {
	Timestamp   time.Time `json:"timestamp"`
	Direction   string    `json:"direction"`
	Price       string    `json:"price"`
	Size        string    `json:"size"`
	Fee         string    `json:"fee"`
	PnL         *string   `json:"pnl,omitempty"`
	CloseReason string    `json:"close_reason,omitempty"`
}

// ExportRun uploads the run header and trade records under
// backtests/{runID}/ and returns the key prefix.
func (e *ResultExporter) ExportRun(ctx context.Context, run domain.BacktestRun, trades []domain.TradeRecord) (string, error) {
	prefix := fmt.Sprintf("backtests/%s", run.ID)

	header := runHeader{
		ID:             run.ID,
		Strategy:       run.Strategy,
		StartedAt:      run.StartedAt,
		FinishedAt:     run.FinishedAt,
		InitialBalance: run.InitialBalance.String(),
		FinalBalance:   run.FinalBalance.String(),
		TotalTrades:    run.TotalTrades,
		WinRate:        run.WinRate,
		MaxDrawdown:    run.MaxDrawdown,
		TotalFees:      run.TotalFees.String(),
	}
	headerBuf, err := json.MarshalIndent(header, "", "  ")
	if err != nil {
		return "", fmt.Errorf("s3blob: export run marshal header: %w", err)
	}
	if err := e.writer.Put(ctx, prefix+"/run.json", bytes.NewReader(headerBuf), "application/json"); err != nil {
		return "", fmt.Errorf("s3blob: export run upload header: %w", err)
	}

	lines := make([]tradeLine, 0, len(trades))
	for _, t := range trades {
		line := tradeLine{
			Timestamp:   t.Timestamp,
			Direction:   string(t.Direction),
			Price:       t.Price.String(),
			Size:        t.Size.String(),
			Fee:         t.Fee.String(),
			CloseReason: string(t.CloseReason),
		}
		if t.PnL != nil {
			pnl := t.PnL.String()
			line.PnL = &pnl
		}
		lines = append(lines, line)
	}

	buf, err := marshalJSONL(lines)
	if err != nil {
		return "", fmt.Errorf("s3blob: export run marshal trades: %w", err)
	}
	if err := e.writer.Put(ctx, prefix+"/trades.jsonl", bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return "", fmt.Errorf("s3blob: export run upload trades: %w", err)
	}

	return prefix, nil
}

// marshalJSONL serialises a slice of values as newline-delimited JSON.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}
