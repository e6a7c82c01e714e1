// Package backend opens the configured db.Store implementation.
package backend

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/zephyr-analytics/zephscan/pkg/db"
	"github.com/zephyr-analytics/zephscan/pkg/db/clickhouse"
	"github.com/zephyr-analytics/zephscan/pkg/db/csv"
	"github.com/zephyr-analytics/zephscan/pkg/db/postgres"
	"github.com/zephyr-analytics/zephscan/pkg/redis"
)

const (
	CSV      = "csv"
	Redis    = "redis"
	Postgres = "postgres"
)

type Config struct {
	Backend           string `yaml:"backend"`
	DataDir           string `yaml:"data_dir"`
	ClickHouseEnabled bool   `yaml:"clickhouse_enabled"`
	ClickHouseDB      string `yaml:"clickhouse_db"`
}

func (c Config) Validate() error {
	switch c.Backend {
	case CSV:
		if c.DataDir == "" {
			return fmt.Errorf("data dir is required for the csv backend")
		}
	case Redis, Postgres:
	default:
		return fmt.Errorf("unknown store backend %q", c.Backend)
	}
	return nil
}

// Handle is an opened store plus the Redis connection behind it, when there is one.
type Handle struct {
	db.Store
	Redis *redis.Client
}

// Open opens the configured backend for component ("scanner" or "query", which selects the
// connection pool sizes) and, when enabled, mirrors it into ClickHouse.
func Open(ctx context.Context, cfg Config, component string, logger *zap.Logger) (*Handle, error) {
	h, err := openPrimary(ctx, cfg, component, logger)
	if err != nil {
		return nil, err
	}
	if !cfg.ClickHouseEnabled {
		return h, nil
	}

	chClient, err := clickhouse.New(ctx, logger, cfg.ClickHouseDB, clickhouse.GetPoolConfigForComponent(component))
	if err != nil {
		_ = h.Close()
		return nil, fmt.Errorf("clickhouse mirror: %w", err)
	}
	sink, err := clickhouse.NewSink(ctx, chClient)
	if err != nil {
		_ = chClient.Close()
		_ = h.Close()
		return nil, fmt.Errorf("clickhouse mirror: %w", err)
	}
	logger.Info("Mirroring committed rows to ClickHouse", zap.String("database", chClient.Database))
	h.Store = db.WithSink(h.Store, sink, logger)
	return h, nil
}

func openPrimary(ctx context.Context, cfg Config, component string, logger *zap.Logger) (*Handle, error) {
	switch cfg.Backend {
	case CSV:
		s, err := csv.Open(cfg.DataDir, logger)
		if err != nil {
			return nil, err
		}
		return &Handle{Store: s}, nil
	case Redis:
		c, err := redis.NewClient(ctx, logger)
		if err != nil {
			return nil, err
		}
		return &Handle{Store: redis.NewStore(c), Redis: c}, nil
	case Postgres:
		c, err := postgres.New(ctx, logger, postgres.GetPoolConfigForComponent(component))
		if err != nil {
			return nil, err
		}
		s, err := postgres.NewStore(ctx, c)
		if err != nil {
			c.Close()
			return nil, err
		}
		return &Handle{Store: s}, nil
	}
	return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
}
