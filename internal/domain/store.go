package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// BacktestRun is the persisted header of a completed backtest.
type BacktestRun struct {
	ID             string
	Strategy       string
	StartedAt      time.Time
	FinishedAt     time.Time
	InitialBalance decimal.Decimal
	FinalBalance   decimal.Decimal
	TotalTrades    int
	WinRate        float64
	MaxDrawdown    float64
	TotalFees      decimal.Decimal
}

// BacktestStore persists completed backtest runs and their trade records.
type BacktestStore interface {
	CreateRun(ctx context.Context, run BacktestRun) error
	AppendTrades(ctx context.Context, runID string, trades []TradeRecord) error
	GetRun(ctx context.Context, id string) (BacktestRun, error)
}
