// Package config defines the top-level configuration for perpflow and
// provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by PERPFLOW_* environment variables.
type Config struct {
	Exchange    ExchangeConfig    `toml:"exchange"`
	Strategy    StrategyConfig    `toml:"strategy"`
	MarketMaker MarketMakerConfig `toml:"market_maker"`
	Backtest    BacktestConfig    `toml:"backtest"`
	Postgres    PostgresConfig    `toml:"postgres"`
	Redis       RedisConfig       `toml:"redis"`
	S3          S3Config          `toml:"s3"`
	Mode        string            `toml:"mode"`
	LogLevel    string            `toml:"log_level"`
}

// ExchangeConfig holds exchange connectivity and instrument parameters.
type ExchangeConfig struct {
	Name     string  `toml:"name"`
	WsURL    string  `toml:"ws_url"`
	RestURL  string  `toml:"rest_url"`
	APIKey   string  `toml:"api_key"`
	Ticker   string  `toml:"ticker"`
	TickSize float64 `toml:"tick_size"`
	// ReconnectDelay is the initial backoff after a dropped connection.
	ReconnectDelay duration `toml:"reconnect_delay"`
	MaxReconnects  int      `toml:"max_reconnects"`
}

// StrategyConfig holds the order-flow strategy parameters shared by the live
// loop and the backtester.
type StrategyConfig struct {
	Name string `toml:"name"`

	OrderbookDepth          int     `toml:"orderbook_depth"`
	ImbalanceThreshold      float64 `toml:"imbalance_threshold"`
	SignalStrengthThreshold float64 `toml:"signal_strength_threshold"`
	ConfirmationTicks       int     `toml:"confirmation_ticks"`

	TradeFlowWindow     duration `toml:"trade_flow_window"`
	LargeOrderThreshold float64  `toml:"large_order_threshold"`

	PositionSize float64 `toml:"position_size"`
	MaxPosition  float64 `toml:"max_position"`

	StopLossPct   float64 `toml:"stop_loss_pct"`
	TakeProfitPct float64 `toml:"take_profit_pct"`

	MaxDailyLoss       float64  `toml:"max_daily_loss"`
	MaxOrdersPerMinute int      `toml:"max_orders_per_minute"`
	UpdateInterval     duration `toml:"update_interval"`
}

// MarketMakerConfig holds the quoting parameters of the market-maker variant.
type MarketMakerConfig struct {
	SpreadType   string  `toml:"spread_type"` // "fixed" or "percentage"
	TargetSpread float64 `toml:"target_spread"`
	SpreadRatio  float64 `toml:"spread_ratio"`
	MinSpread    float64 `toml:"min_spread"`

	InventorySkewEnabled bool    `toml:"inventory_skew_enabled"`
	InventorySkewFactor  float64 `toml:"inventory_skew_factor"`

	// PriceUpdateThreshold is the fractional mid-price move that triggers a
	// requote.
	PriceUpdateThreshold float64 `toml:"price_update_threshold"`
}

// BacktestConfig holds replay parameters and dataset locations.
type BacktestConfig struct {
	DataFile       string  `toml:"data_file"`
	DataKey        string  `toml:"data_key"` // S3 object key, used when data_file is empty
	InitialBalance float64 `toml:"initial_balance"`
	FeeRate        float64 `toml:"fee_rate"`
	// PersistResults writes the run and its fills to Postgres when set.
	PersistResults bool `toml:"persist_results"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN          string `toml:"dsn"`
	Host         string `toml:"host"`
	Port         int    `toml:"port"`
	Database     string `toml:"database"`
	User         string `toml:"user"`
	Password     string `toml:"password"`
	SSLMode      string `toml:"ssl_mode"`
	PoolMaxConns int    `toml:"pool_max_conns"`
	PoolMinConns int    `toml:"pool_min_conns"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters for historical
// datasets.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Exchange: ExchangeConfig{
			Name:           "edgex",
			WsURL:          "wss://quote.edgex.exchange/api/v1/public/ws",
			RestURL:        "https://pro.edgex.exchange",
			Ticker:         "ETHUSD",
			TickSize:       0.1,
			ReconnectDelay: duration{time.Second},
			MaxReconnects:  10,
		},
		Strategy: StrategyConfig{
			Name:                    "orderflow",
			OrderbookDepth:          20,
			ImbalanceThreshold:      0.3,
			SignalStrengthThreshold: 0.7,
			ConfirmationTicks:       3,
			TradeFlowWindow:         duration{60 * time.Second},
			LargeOrderThreshold:     50000,
			PositionSize:            0.1,
			MaxPosition:             1.0,
			StopLossPct:             0.02,
			TakeProfitPct:           0.01,
			MaxDailyLoss:            100,
			MaxOrdersPerMinute:      10,
			UpdateInterval:          duration{time.Second},
		},
		MarketMaker: MarketMakerConfig{
			SpreadType:           "percentage",
			TargetSpread:         0.5,
			SpreadRatio:          0.8,
			MinSpread:            0.1,
			InventorySkewEnabled: true,
			InventorySkewFactor:  0.5,
			PriceUpdateThreshold: 0.001,
		},
		Backtest: BacktestConfig{
			InitialBalance: 10000,
			FeeRate:        0.0005,
			PersistResults: false,
		},
		Postgres: PostgresConfig{
			Host:         "localhost",
			Port:         5432,
			Database:     "perpflow",
			User:         "postgres",
			SSLMode:      "disable",
			PoolMaxConns: 10,
			PoolMinConns: 2,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
			TLSEnabled: false,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "perpflow-data",
			UseSSL:         false,
			ForcePathStyle: true,
		},
		Mode:     "backtest",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"live":     true,
	"backtest": true,
	"monitor":  true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// validStrategies enumerates the accepted values for Strategy.Name.
var validStrategies = map[string]bool{
	"orderflow":    true,
	"market_maker": true,
}

// validSpreadTypes enumerates the accepted values for MarketMaker.SpreadType.
var validSpreadTypes = map[string]bool{
	"fixed":      true,
	"percentage": true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: live, backtest, monitor)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Exchange
	if c.Mode == "live" || c.Mode == "monitor" {
		if c.Exchange.WsURL == "" {
			errs = append(errs, "exchange: ws_url must not be empty for mode "+c.Mode)
		}
		if c.Exchange.Ticker == "" {
			errs = append(errs, "exchange: ticker must not be empty")
		}
	}
	if c.Mode == "live" && c.Exchange.RestURL == "" {
		errs = append(errs, "exchange: rest_url must not be empty for mode live")
	}
	if c.Exchange.TickSize <= 0 {
		errs = append(errs, fmt.Sprintf("exchange: tick_size must be > 0, got %g", c.Exchange.TickSize))
	}

	// Strategy
	if !validStrategies[c.Strategy.Name] {
		errs = append(errs, fmt.Sprintf("strategy: unknown name %q (valid: orderflow, market_maker)", c.Strategy.Name))
	}
	if c.Strategy.OrderbookDepth < 1 {
		errs = append(errs, "strategy: orderbook_depth must be >= 1")
	}
	if c.Strategy.ImbalanceThreshold <= 0 || c.Strategy.ImbalanceThreshold >= 1 {
		errs = append(errs, fmt.Sprintf("strategy: imbalance_threshold must be in (0,1), got %g", c.Strategy.ImbalanceThreshold))
	}
	if c.Strategy.SignalStrengthThreshold <= 0 || c.Strategy.SignalStrengthThreshold > 1 {
		errs = append(errs, fmt.Sprintf("strategy: signal_strength_threshold must be in (0,1], got %g", c.Strategy.SignalStrengthThreshold))
	}
	if c.Strategy.ConfirmationTicks < 1 {
		errs = append(errs, "strategy: confirmation_ticks must be >= 1")
	}
	if c.Strategy.TradeFlowWindow.Duration <= 0 {
		errs = append(errs, "strategy: trade_flow_window must be positive")
	}
	if c.Strategy.PositionSize <= 0 {
		errs = append(errs, fmt.Sprintf("strategy: position_size must be > 0, got %g", c.Strategy.PositionSize))
	}
	if c.Strategy.MaxPosition < c.Strategy.PositionSize {
		errs = append(errs, "strategy: max_position must be >= position_size")
	}
	if c.Strategy.StopLossPct < 0 || c.Strategy.TakeProfitPct < 0 {
		errs = append(errs, "strategy: stop_loss_pct and take_profit_pct must not be negative")
	}
	if c.Strategy.MaxOrdersPerMinute < 1 {
		errs = append(errs, "strategy: max_orders_per_minute must be >= 1")
	}
	if c.Strategy.UpdateInterval.Duration <= 0 {
		errs = append(errs, "strategy: update_interval must be positive")
	}

	// Market maker
	if c.Strategy.Name == "market_maker" {
		if !validSpreadTypes[c.MarketMaker.SpreadType] {
			errs = append(errs, fmt.Sprintf("market_maker: spread_type must be fixed or percentage, got %q", c.MarketMaker.SpreadType))
		}
		if c.MarketMaker.SpreadType == "fixed" && c.MarketMaker.TargetSpread <= 0 {
			errs = append(errs, "market_maker: target_spread must be > 0 for fixed spread")
		}
		if c.MarketMaker.SpreadType == "percentage" && c.MarketMaker.SpreadRatio <= 0 {
			errs = append(errs, "market_maker: spread_ratio must be > 0 for percentage spread")
		}
		if c.MarketMaker.MinSpread < 0 {
			errs = append(errs, "market_maker: min_spread must not be negative")
		}
		if c.MarketMaker.InventorySkewEnabled && (c.MarketMaker.InventorySkewFactor < 0 || c.MarketMaker.InventorySkewFactor > 1) {
			errs = append(errs, fmt.Sprintf("market_maker: inventory_skew_factor must be in [0,1], got %g", c.MarketMaker.InventorySkewFactor))
		}
	}

	// Backtest
	if c.Mode == "backtest" {
		if c.Backtest.DataFile == "" && c.Backtest.DataKey == "" {
			errs = append(errs, "backtest: either data_file or data_key must be set")
		}
		if c.Backtest.InitialBalance <= 0 {
			errs = append(errs, fmt.Sprintf("backtest: initial_balance must be > 0, got %g", c.Backtest.InitialBalance))
		}
		if c.Backtest.FeeRate < 0 {
			errs = append(errs, "backtest: fee_rate must not be negative")
		}
	}

	// Postgres
	if strings.TrimSpace(c.Postgres.DSN) == "" {
		if c.Postgres.Host == "" {
			errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
		}
		if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
			errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
		}
		if c.Postgres.Database == "" {
			errs = append(errs, "postgres: database must not be empty")
		}
	}
	if c.Postgres.PoolMaxConns < 1 {
		errs = append(errs, "postgres: pool_max_conns must be >= 1")
	}
	if c.Postgres.PoolMinConns < 0 || c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
		errs = append(errs, "postgres: pool_min_conns must be in [0, pool_max_conns]")
	}

	// Redis
	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	// S3
	if c.Backtest.DataKey != "" {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty when backtest.data_key is set")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when backtest.data_key is set")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
