package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/perpdex/perpflow/internal/domain"
)

// BacktestStore implements domain.BacktestStore using PostgreSQL.
type BacktestStore struct {
	pool *pgxpool.Pool
}

// NewBacktestStore creates a BacktestStore backed by the given connection pool.
func NewBacktestStore(pool *pgxpool.Pool) *BacktestStore {
	return &BacktestStore{pool: pool}
}

// CreateRun inserts the header row for a completed backtest.
func (s *BacktestStore) CreateRun(ctx context.Context, run domain.BacktestRun) error {
	const query = `
		INSERT INTO backtest_runs (
			id, strategy, started_at, finished_at,
			initial_balance, final_balance,
			total_trades, win_rate, max_drawdown, total_fees
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	_, err := s.pool.Exec(ctx, query,
		run.ID, run.Strategy, run.StartedAt, run.FinishedAt,
		run.InitialBalance, run.FinalBalance,
		run.TotalTrades, run.WinRate, run.MaxDrawdown, run.TotalFees,
	)
	if err != nil {
		return fmt.Errorf("postgres: create backtest run %s: %w", run.ID, err)
	}
	return nil
}

// AppendTrades inserts the trade records for a run using a pgx Batch. The
// sequence number preserves fill order within the run.
func (s *BacktestStore) AppendTrades(ctx context.Context, runID string, trades []domain.TradeRecord) error {
	if len(trades) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	const query = `
		INSERT INTO backtest_trades (
			run_id, seq, timestamp, direction, price, size, fee, pnl, close_reason
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (run_id, seq) DO NOTHING`

	for i, t := range trades {
		batch.Queue(query,
			runID, i, t.Timestamp, string(t.Direction),
			t.Price, t.Size, t.Fee, t.PnL, string(t.CloseReason),
		)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for i := range trades {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("postgres: append backtest trade %d: %w", i, err)
		}
	}
	return nil
}

// GetRun retrieves a backtest run header by ID. It returns domain.ErrNotFound
// when no run exists.
func (s *BacktestStore) GetRun(ctx context.Context, id string) (domain.BacktestRun, error) {
	const query = `
		SELECT id, strategy, started_at, finished_at,
			initial_balance, final_balance,
			total_trades, win_rate, max_drawdown, total_fees
		FROM backtest_runs WHERE id = $1`

	var run domain.BacktestRun
	err := s.pool.QueryRow(ctx, query, id).Scan(
		&run.ID, &run.Strategy, &run.StartedAt, &run.FinishedAt,
		&run.InitialBalance, &run.FinalBalance,
		&run.TotalTrades, &run.WinRate, &run.MaxDrawdown, &run.TotalFees,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.BacktestRun{}, domain.ErrNotFound
		}
		return domain.BacktestRun{}, fmt.Errorf("postgres: get backtest run %s: %w", id, err)
	}
	return run, nil
}

// Compile-time interface check.
var _ domain.BacktestStore = (*BacktestStore)(nil)
