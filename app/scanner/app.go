package scanner

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/zephyr-analytics/zephscan/pkg/db"
	"github.com/zephyr-analytics/zephscan/pkg/db/backend"
	"github.com/zephyr-analytics/zephscan/pkg/indexer/workflow"
	"github.com/zephyr-analytics/zephscan/pkg/logging"
	"github.com/zephyr-analytics/zephscan/pkg/metrics"
	"github.com/zephyr-analytics/zephscan/pkg/rpc"
)

// runTimeout bounds one scheduled catch-up; committed chunks survive a timeout.
const runTimeout = 30 * time.Minute

// App wires the store, node client and workflow of one scanner process.
type App struct {
	Config Config

	Store    db.Store
	Node     rpc.Client
	Workflow *workflow.Workflow
	Metrics  *metrics.Metrics

	// Cron triggers incremental runs in daemon mode, according to CronSpec.
	Cron     *cron.Cron
	CronSpec string

	Logger *zap.Logger

	// Server exposes /metrics and /healthz in daemon mode.
	Server *http.Server
}

// Initialize opens the store and builds the workflow for cfg.
func Initialize(ctx context.Context, cfg Config) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger, err := logging.Build(cfg.Logging.Level, cfg.Logging.Encoding)
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}

	m := metrics.New()
	store, err := backend.Open(ctx, cfg.Store, "scanner", logger)
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.Store.Backend, err)
	}

	node := rpc.NewHTTPFactory(rpc.FactoryOpts{
		Timeout:         cfg.Node.Timeout,
		RPS:             cfg.Node.RPS,
		Burst:           cfg.Node.Burst,
		BreakerFailures: cfg.Node.BreakerFailures,
		BreakerCooldown: cfg.Node.BreakerCooldown,
		Metrics:         m,
	}).NewClient(cfg.Node.URLs)

	wf, err := workflow.New(cfg.WorkflowConfig(), store, node, logger, m)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	logger.Info("Scanner initialized",
		zap.String("backend", cfg.Store.Backend),
		zap.Strings("nodes", cfg.Node.URLs),
		zap.Uint64("start_height", cfg.Scan.StartHeight),
		zap.Uint64("end_height", cfg.Scan.EndHeight),
		zap.String("resume_mode", cfg.Scan.ResumeMode),
		zap.String("skip_policy", cfg.Scan.SkipPolicy),
	)

	return &App{
		Config:   cfg,
		Store:    store,
		Node:     node,
		Workflow: wf,
		Metrics:  m,
		CronSpec: cfg.Daemon.CronSpec,
		Logger:   logger,
	}, nil
}

// Close releases the worker pool and the store.
func (a *App) Close() {
	a.Workflow.Close()
	if err := a.Store.Close(); err != nil {
		a.Logger.Error("Failed to close store", zap.Error(err))
	}
	_ = a.Logger.Sync()
}

// RunOnce executes every stage and then reconciles against the node. Reconciliation
// failures are logged only; nodes without get_reserve_info still scan.
func (a *App) RunOnce(ctx context.Context) error {
	results, err := a.Workflow.Run(ctx)
	for _, res := range results {
		if res.Empty() {
			a.Logger.Debug("Stage up to date", zap.String("stage", res.Stage))
		}
	}
	if err != nil {
		return err
	}
	if _, err := a.Workflow.Reconcile(ctx); err != nil {
		a.Logger.Warn("Reserve reconciliation failed", zap.Error(err))
	}
	return nil
}

// SetupServer sets up the metrics and health HTTP server.
func (a *App) SetupServer() {
	r := mux.NewRouter()
	r.Handle("/metrics", a.Metrics.Handler()).Methods("GET")
	r.Handle("/healthz", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(200) })).Methods("GET")

	a.Server = &http.Server{Addr: a.Config.Daemon.MetricsAddr, Handler: r}
}

// SetupScheduler sets up the cron scheduler. A tick that fires while the previous run is
// still going is skipped.
func (a *App) SetupScheduler(ctx context.Context, logger cron.Logger, cronSpec string) error {
	// Seconds field, optional
	a.Cron = cron.New(cron.WithSeconds(), cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)))

	_, err := a.Cron.AddFunc(cronSpec, func() {
		rctx, cancel := context.WithTimeout(ctx, runTimeout)
		defer cancel()
		if err := a.RunOnce(rctx); err != nil {
			a.Logger.Error("[scanner] run failed", zap.Error(err))
		}
	})
	return err
}

// StartCron starts the cron scheduler.
func (a *App) StartCron() {
	a.Cron.Start()
	a.Logger.Info("[scanner] Cron started", zap.String("cronSpec", a.CronSpec))
}

// StopCron stops the cron scheduler and waits for a running job.
func (a *App) StopCron() {
	if a.Cron != nil {
		<-a.Cron.Stop().Done()
	}
}

// Start runs the daemon until ctx is canceled: one catch-up run right away, then every tick.
func (a *App) Start(ctx context.Context) error {
	if err := a.SetupScheduler(ctx, cronLogger{a.Logger.Sugar()}, a.CronSpec); err != nil {
		return fmt.Errorf("invalid cron spec %q: %w", a.CronSpec, err)
	}
	a.SetupServer()

	go func() {
		if err := a.Server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.Logger.Error("Metrics server stopped", zap.Error(err))
		}
	}()

	if err := a.RunOnce(ctx); err != nil {
		if errors.Is(err, workflow.ErrCorruptState) {
			return err
		}
		a.Logger.Error("[scanner] initial run failed", zap.Error(err))
	}
	a.StartCron()
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	a.StopCron()
	_ = a.Server.Shutdown(shutdownCtx)
	time.Sleep(200 * time.Millisecond)
	a.Logger.Info("さようなら!")
	return nil
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct {
	s *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.s.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.s.Errorw(msg, append(keysAndValues, "error", err)...)
}
