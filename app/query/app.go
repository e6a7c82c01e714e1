package query

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/zephyr-analytics/zephscan/app/query/types"
	"github.com/zephyr-analytics/zephscan/pkg/db/backend"
	"github.com/zephyr-analytics/zephscan/pkg/logging"
	"github.com/zephyr-analytics/zephscan/pkg/metrics"
	"github.com/zephyr-analytics/zephscan/pkg/utils"
)

// Initialize initializes the application.
func Initialize(ctx context.Context) *types.App {
	logger, err := logging.New()
	if err != nil {
		// nothing else to do here, we'll just log to stderr'
		panic(err)
	}

	cfg := backend.Config{
		Backend: utils.Env("STORE_BACKEND", backend.CSV),
		DataDir: utils.Env("DATA_DIR", "./csvs"),
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal("Invalid store configuration", zap.Error(err))
	}

	store, err := backend.Open(ctx, cfg, "query", logger)
	if err != nil {
		logger.Fatal("Unable to open store", zap.String("backend", cfg.Backend), zap.Error(err))
	}
	if store.Redis != nil {
		logger.Info("Redis backend: cache invalidated on reserve stats commits")
	}

	ttl := utils.EnvDuration("QUERY_CACHE_TTL", 30*time.Second)
	return types.NewApp(store, store.Redis, metrics.New(), ttl, logger)
}
