package config

import (
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies PERPFLOW_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known PERPFLOW_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Exchange ──
	setStr(&cfg.Exchange.Name, "PERPFLOW_EXCHANGE_NAME")
	setStr(&cfg.Exchange.WsURL, "PERPFLOW_EXCHANGE_WS_URL")
	setStr(&cfg.Exchange.RestURL, "PERPFLOW_EXCHANGE_REST_URL")
	setStr(&cfg.Exchange.APIKey, "PERPFLOW_EXCHANGE_API_KEY")
	setStr(&cfg.Exchange.Ticker, "PERPFLOW_EXCHANGE_TICKER")
	setFloat64(&cfg.Exchange.TickSize, "PERPFLOW_EXCHANGE_TICK_SIZE")
	setDuration(&cfg.Exchange.ReconnectDelay, "PERPFLOW_EXCHANGE_RECONNECT_DELAY")
	setInt(&cfg.Exchange.MaxReconnects, "PERPFLOW_EXCHANGE_MAX_RECONNECTS")

	// ── Strategy ──
	setStr(&cfg.Strategy.Name, "PERPFLOW_STRATEGY_NAME")
	setInt(&cfg.Strategy.OrderbookDepth, "PERPFLOW_STRATEGY_ORDERBOOK_DEPTH")
	setFloat64(&cfg.Strategy.ImbalanceThreshold, "PERPFLOW_STRATEGY_IMBALANCE_THRESHOLD")
	setFloat64(&cfg.Strategy.SignalStrengthThreshold, "PERPFLOW_STRATEGY_SIGNAL_STRENGTH_THRESHOLD")
	setInt(&cfg.Strategy.ConfirmationTicks, "PERPFLOW_STRATEGY_CONFIRMATION_TICKS")
	setDuration(&cfg.Strategy.TradeFlowWindow, "PERPFLOW_STRATEGY_TRADE_FLOW_WINDOW")
	setFloat64(&cfg.Strategy.LargeOrderThreshold, "PERPFLOW_STRATEGY_LARGE_ORDER_THRESHOLD")
	setFloat64(&cfg.Strategy.PositionSize, "PERPFLOW_STRATEGY_POSITION_SIZE")
	setFloat64(&cfg.Strategy.MaxPosition, "PERPFLOW_STRATEGY_MAX_POSITION")
	setFloat64(&cfg.Strategy.StopLossPct, "PERPFLOW_STRATEGY_STOP_LOSS_PCT")
	setFloat64(&cfg.Strategy.TakeProfitPct, "PERPFLOW_STRATEGY_TAKE_PROFIT_PCT")
	setFloat64(&cfg.Strategy.MaxDailyLoss, "PERPFLOW_STRATEGY_MAX_DAILY_LOSS")
	setInt(&cfg.Strategy.MaxOrdersPerMinute, "PERPFLOW_STRATEGY_MAX_ORDERS_PER_MINUTE")
	setDuration(&cfg.Strategy.UpdateInterval, "PERPFLOW_STRATEGY_UPDATE_INTERVAL")

	// ── Market maker ──
	setStr(&cfg.MarketMaker.SpreadType, "PERPFLOW_MARKET_MAKER_SPREAD_TYPE")
	setFloat64(&cfg.MarketMaker.TargetSpread, "PERPFLOW_MARKET_MAKER_TARGET_SPREAD")
	setFloat64(&cfg.MarketMaker.SpreadRatio, "PERPFLOW_MARKET_MAKER_SPREAD_RATIO")
	setFloat64(&cfg.MarketMaker.MinSpread, "PERPFLOW_MARKET_MAKER_MIN_SPREAD")
	setBool(&cfg.MarketMaker.InventorySkewEnabled, "PERPFLOW_MARKET_MAKER_INVENTORY_SKEW_ENABLED")
	setFloat64(&cfg.MarketMaker.InventorySkewFactor, "PERPFLOW_MARKET_MAKER_INVENTORY_SKEW_FACTOR")
	setFloat64(&cfg.MarketMaker.PriceUpdateThreshold, "PERPFLOW_MARKET_MAKER_PRICE_UPDATE_THRESHOLD")

	// ── Backtest ──
	setStr(&cfg.Backtest.DataFile, "PERPFLOW_BACKTEST_DATA_FILE")
	setStr(&cfg.Backtest.DataKey, "PERPFLOW_BACKTEST_DATA_KEY")
	setFloat64(&cfg.Backtest.InitialBalance, "PERPFLOW_BACKTEST_INITIAL_BALANCE")
	setFloat64(&cfg.Backtest.FeeRate, "PERPFLOW_BACKTEST_FEE_RATE")
	setBool(&cfg.Backtest.PersistResults, "PERPFLOW_BACKTEST_PERSIST_RESULTS")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "PERPFLOW_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "PERPFLOW_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "PERPFLOW_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "PERPFLOW_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "PERPFLOW_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "PERPFLOW_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "PERPFLOW_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "PERPFLOW_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "PERPFLOW_POSTGRES_POOL_MIN_CONNS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "PERPFLOW_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "PERPFLOW_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "PERPFLOW_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "PERPFLOW_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "PERPFLOW_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "PERPFLOW_REDIS_TLS_ENABLED")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "PERPFLOW_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "PERPFLOW_S3_REGION")
	setStr(&cfg.S3.Bucket, "PERPFLOW_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "PERPFLOW_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "PERPFLOW_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "PERPFLOW_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "PERPFLOW_S3_FORCE_PATH_STYLE")

	// ── Top-level ──
	setStr(&cfg.Mode, "PERPFLOW_MODE")
	setStr(&cfg.LogLevel, "PERPFLOW_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}
