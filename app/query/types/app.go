package types

import (
	"context"
	"net/http"
	"time"

	"github.com/puzpuzpuz/xsync/v4"
	"go.uber.org/zap"

	"github.com/zephyr-analytics/zephscan/pkg/db"
	"github.com/zephyr-analytics/zephscan/pkg/metrics"
	"github.com/zephyr-analytics/zephscan/pkg/redis"
)

type cacheEntry struct {
	value any
	at    time.Time
}

type App struct {
	Store db.Store
	// Redis is set when the store is Redis backed; its reserve stats notifications clear Cache.
	Redis   *redis.Client
	Metrics *metrics.Metrics

	// Cache holds computed responses keyed by route and range, for at most CacheTTL.
	Cache    *xsync.Map[string, cacheEntry]
	CacheTTL time.Duration

	// Zap Logger
	Logger *zap.Logger
	// Server represents the HTTP server instance used to handle incoming client requests and manage HTTP routes.
	Server *http.Server

	now func() time.Time
}

// NewApp builds an App over store with an empty response cache.
func NewApp(store db.Store, rc *redis.Client, m *metrics.Metrics, ttl time.Duration, logger *zap.Logger) *App {
	return &App{
		Store:    store,
		Redis:    rc,
		Metrics:  m,
		Cache:    xsync.NewMap[string, cacheEntry](),
		CacheTTL: ttl,
		Logger:   logger,
		now:      time.Now,
	}
}

// Cached returns the value stored under key while it is younger than CacheTTL, otherwise
// it calls load and stores the result. Errors are not cached.
func (a *App) Cached(key string, load func() (any, error)) (any, error) {
	now := a.now()
	if e, ok := a.Cache.Load(key); ok && now.Sub(e.at) < a.CacheTTL {
		return e.value, nil
	}
	v, err := load()
	if err != nil {
		return nil, err
	}
	a.Cache.Store(key, cacheEntry{value: v, at: now})
	return v, nil
}

// Invalidate drops every cached response.
func (a *App) Invalidate() {
	a.Cache.Clear()
}

// WatchInvalidations clears the cache whenever the scanner commits reserve stats, until ctx
// is canceled. Without Redis it returns immediately and entries simply expire.
func (a *App) WatchInvalidations(ctx context.Context) {
	if a.Redis == nil {
		return
	}
	pubsub := a.Redis.Subscribe(ctx, redis.ReserveStatsChannel)
	defer func() { _ = pubsub.Close() }()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			a.Invalidate()
			a.Logger.Debug("Reserve stats committed, cache cleared", zap.String("height", msg.Payload))
		}
	}
}

// Start starts the application.
func (a *App) Start(ctx context.Context) {
	go a.WatchInvalidations(ctx)
	go func() { _ = a.Server.ListenAndServe() }()
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = a.Server.Shutdown(shutdownCtx)

	if err := a.Store.Close(); err != nil {
		a.Logger.Error("Failed to close store", zap.Error(err))
	}

	time.Sleep(200 * time.Millisecond)
	a.Logger.Info("さようなら!")
}
