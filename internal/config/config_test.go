package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsValidateForBacktest(t *testing.T) {
	cfg := Defaults()
	cfg.Backtest.DataFile = "data/sample.json"
	assert.NoError(t, cfg.Validate())
}

func TestValidate_RejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown mode", func(c *Config) { c.Mode = "paper" }},
		{"unknown log level", func(c *Config) { c.LogLevel = "trace" }},
		{"unknown strategy", func(c *Config) { c.Strategy.Name = "momentum" }},
		{"zero tick size", func(c *Config) { c.Exchange.TickSize = 0 }},
		{"imbalance threshold out of range", func(c *Config) { c.Strategy.ImbalanceThreshold = 1.5 }},
		{"zero confirmation ticks", func(c *Config) { c.Strategy.ConfirmationTicks = 0 }},
		{"position size above max", func(c *Config) { c.Strategy.PositionSize = 5; c.Strategy.MaxPosition = 1 }},
		{"negative stop loss", func(c *Config) { c.Strategy.StopLossPct = -0.01 }},
		{"missing backtest data source", func(c *Config) { c.Backtest.DataFile = ""; c.Backtest.DataKey = "" }},
		{"zero initial balance", func(c *Config) { c.Backtest.InitialBalance = 0 }},
		{"empty redis addr", func(c *Config) { c.Redis.Addr = "" }},
		{"pool min above max", func(c *Config) { c.Postgres.PoolMinConns = 20 }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Defaults()
			cfg.Backtest.DataFile = "data/sample.json"
			tc.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestValidate_MarketMakerSpreadType(t *testing.T) {
	cfg := Defaults()
	cfg.Backtest.DataFile = "data/sample.json"
	cfg.Strategy.Name = "market_maker"
	cfg.MarketMaker.SpreadType = "adaptive"
	assert.Error(t, cfg.Validate())

	cfg.MarketMaker.SpreadType = "fixed"
	cfg.MarketMaker.TargetSpread = 0.5
	assert.NoError(t, cfg.Validate())
}

func TestLoad_MergesFileOverDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	content := `
mode = "backtest"
log_level = "debug"

[strategy]
imbalance_threshold = 0.4
trade_flow_window = "30s"

[backtest]
data_file = "data/eth.json"
initial_balance = 25000.0
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 0.4, cfg.Strategy.ImbalanceThreshold)
	assert.Equal(t, 30*time.Second, cfg.Strategy.TradeFlowWindow.Duration)
	assert.Equal(t, 25000.0, cfg.Backtest.InitialBalance)
	// Untouched fields keep their defaults.
	assert.Equal(t, 3, cfg.Strategy.ConfirmationTicks)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)

	require.NoError(t, cfg.Validate())
}

func TestLoad_EnvOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("mode = \"backtest\"\n"), 0o644))

	t.Setenv("PERPFLOW_STRATEGY_POSITION_SIZE", "0.5")
	t.Setenv("PERPFLOW_REDIS_ADDR", "redis.internal:6380")
	t.Setenv("PERPFLOW_BACKTEST_PERSIST_RESULTS", "true")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 0.5, cfg.Strategy.PositionSize)
	assert.Equal(t, "redis.internal:6380", cfg.Redis.Addr)
	assert.True(t, cfg.Backtest.PersistResults)
}
