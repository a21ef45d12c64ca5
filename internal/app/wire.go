package app

import (
	"context"
	"fmt"

	s3blob "github.com/perpdex/perpflow/internal/blob/s3"
	"github.com/perpdex/perpflow/internal/cache/redis"
	"github.com/perpdex/perpflow/internal/config"
	"github.com/perpdex/perpflow/internal/domain"
	"github.com/perpdex/perpflow/internal/store/postgres"
)

// Dependencies bundles the infrastructure dependencies the application modes
// need. It is constructed by Wire and torn down by the returned cleanup
// function. Fields stay nil when the configured mode does not need them.
type Dependencies struct {
	BacktestStore domain.BacktestStore

	StatusCache domain.StatusCache
	SignalBus   domain.SignalBus

	BlobReader domain.BlobReader
	Exporter   *s3blob.ResultExporter
}

// needsPostgres returns true when the run must persist results.
func needsPostgres(cfg *config.Config) bool {
	return cfg.Mode == "backtest" && cfg.Backtest.PersistResults
}

// needsRedis returns true for the long-running modes that publish or consume
// shared state.
func needsRedis(cfg *config.Config) bool {
	return cfg.Mode == "live" || cfg.Mode == "monitor"
}

// needsS3 returns true when the dataset lives in object storage or results
// should be exported there.
func needsS3(cfg *config.Config) bool {
	if cfg.Mode != "backtest" {
		return false
	}
	return cfg.Backtest.DataKey != "" || cfg.Backtest.PersistResults
}

// Wire constructs the concrete dependency implementations for the configured
// mode and returns them together with a cleanup function to be called on
// shutdown.
func Wire(ctx context.Context, cfg *config.Config) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	if needsPostgres(cfg) {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		if err := pgClient.RunMigrations(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
		}

		deps.BacktestStore = postgres.NewBacktestStore(pgClient.Pool())
	}

	if needsRedis(cfg) {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.StatusCache = redis.NewStatusCache(redisClient)
		deps.SignalBus = redis.NewSignalBus(redisClient)
	}

	if needsS3(cfg) {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		closers = append(closers, func() { _ = s3Client.Close() })

		deps.BlobReader = s3blob.NewReader(s3Client)
		if cfg.Backtest.PersistResults {
			deps.Exporter = s3blob.NewResultExporter(s3blob.NewWriter(s3Client))
		}
	}

	return deps, cleanup, nil
}
