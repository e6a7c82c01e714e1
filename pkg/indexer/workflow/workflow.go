// Package workflow drives the scanner stages over a Store: pricing records, transactions and
// block rewards, then the reserve ledger. Every stage resumes from its committed progress.
package workflow

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/zephyr-analytics/zephscan/pkg/db"
	"github.com/zephyr-analytics/zephscan/pkg/indexer/activity"
	"github.com/zephyr-analytics/zephscan/pkg/indexer/classify"
	"github.com/zephyr-analytics/zephscan/pkg/indexer/ledger"
	"github.com/zephyr-analytics/zephscan/pkg/indexer/prefetch"
	"github.com/zephyr-analytics/zephscan/pkg/metrics"
	"github.com/zephyr-analytics/zephscan/pkg/rpc"
)

// ErrCorruptState is returned before any processing when persisted state cannot be resumed from.
var ErrCorruptState = errors.New("corrupt scanner state")

// ResumeMode selects between continuing from persisted progress and starting over.
type ResumeMode string

const (
	ModeResume ResumeMode = "resume"
	ModeFresh  ResumeMode = "fresh"
)

// ParseResumeMode validates a configured mode; empty selects ModeResume.
func ParseResumeMode(s string) (ResumeMode, error) {
	switch m := ResumeMode(s); m {
	case "":
		return ModeResume, nil
	case ModeResume, ModeFresh:
		return m, nil
	}
	return "", fmt.Errorf("unknown resume mode %q", s)
}

type Config struct {
	// StartHeight is the first height of every series on a fresh run.
	StartHeight uint64
	// EndHeight caps all stages; zero follows the chain tip.
	EndHeight          uint64
	ActivationHeight   uint64
	ChunkSize          int
	Concurrency        int
	PricingCacheSize   int
	Policy             ledger.SkipPolicy
	RequireBlockReward bool
	Mode               ResumeMode
}

// DefaultConfig mirrors the scanner defaults.
func DefaultConfig() Config {
	return Config{
		StartHeight:        classify.DefaultActivationHeight,
		ActivationHeight:   classify.DefaultActivationHeight,
		ChunkSize:          prefetch.DefaultChunkSize,
		Concurrency:        prefetch.DefaultConcurrency,
		PricingCacheSize:   classify.DefaultCacheSize,
		Policy:             ledger.SkipGap,
		RequireBlockReward: true,
		Mode:               ModeResume,
	}
}

// Workflow owns the shared resources of one scanner process. Stages must not run concurrently.
type Workflow struct {
	cfg        Config
	store      db.Store
	node       rpc.Client
	logger     *zap.Logger
	metrics    *metrics.Metrics
	lookup     *classify.CachedLookup
	activities *activity.Context
	window     *prefetch.Window
	// stages already reset in fresh mode, so repeated runs continue instead of starting over
	reset map[string]bool
}

// New wires a Workflow. Close releases the fetch workers but not the store.
func New(cfg Config, store db.Store, node rpc.Client, logger *zap.Logger, m *metrics.Metrics) (*Workflow, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Mode == "" {
		cfg.Mode = ModeResume
	}
	if cfg.Policy == "" {
		cfg.Policy = ledger.SkipGap
	}

	lookup, err := classify.NewCachedLookup(store, cfg.PricingCacheSize)
	if err != nil {
		return nil, fmt.Errorf("pricing cache: %w", err)
	}
	classifier := &classify.Classifier{Pricing: lookup, ActivationHeight: cfg.ActivationHeight}

	window := prefetch.NewWindow(prefetch.Options{
		ChunkSize:   cfg.ChunkSize,
		Concurrency: cfg.Concurrency,
		Logger:      logger,
	})

	return &Workflow{
		cfg:     cfg,
		store:   store,
		node:    node,
		logger:  logger,
		metrics: m,
		lookup:  lookup,
		activities: &activity.Context{
			Logger:     logger.With(zap.String("component", "activity")),
			RPC:        node,
			Classifier: classifier,
			Metrics:    m,
		},
		window: window,
		reset:  map[string]bool{},
	}, nil
}

func (w *Workflow) Close() {
	w.window.Stop()
}

// chainTip is the highest height every stage may reach: one below the node's height,
// capped by the configured end height.
func (w *Workflow) chainTip(ctx context.Context) (uint64, error) {
	h, err := w.node.ChainHeight(ctx)
	if err != nil {
		return 0, fmt.Errorf("chain height: %w", err)
	}
	if h == 0 {
		return 0, fmt.Errorf("%w: node reports height 0", rpc.ErrMalformed)
	}
	w.metrics.SetChainHeight(h)
	tip := h - 1
	if w.cfg.EndHeight > 0 && w.cfg.EndHeight < tip {
		tip = w.cfg.EndHeight
	}
	return tip, nil
}

// resume resolves the first height a stage processes. Rows above the committed progress are
// leftovers of an interrupted chunk and are dropped. In fresh mode the stage's series are
// emptied the first time the stage runs.
func (w *Workflow) resume(ctx context.Context, stage, key string, series ...db.Series) (uint64, error) {
	if w.cfg.Mode == ModeFresh && !w.reset[stage] {
		for _, s := range series {
			if err := w.store.Reset(ctx, s); err != nil {
				return 0, fmt.Errorf("reset %s: %w", s, err)
			}
		}
		w.reset[stage] = true
		w.logger.Info("Starting fresh", zap.String("stage", stage), zap.Uint64("start_height", w.cfg.StartHeight))
		return w.cfg.StartHeight, nil
	}

	last, ok, err := w.store.Progress(ctx, key)
	if err != nil {
		if errors.Is(err, db.ErrCorrupt) {
			return 0, fmt.Errorf("%w: %s progress: %v", ErrCorruptState, stage, err)
		}
		return 0, fmt.Errorf("%s progress: %w", stage, err)
	}
	if !ok {
		for _, s := range series {
			if err := w.store.Reset(ctx, s); err != nil {
				return 0, fmt.Errorf("reset %s: %w", s, err)
			}
		}
		return w.cfg.StartHeight, nil
	}
	if last+1 < w.cfg.StartHeight {
		return 0, fmt.Errorf("%w: %s progress %d is below start height %d, rerun fresh",
			ErrCorruptState, stage, last, w.cfg.StartHeight)
	}
	for _, s := range series {
		if err := w.store.Rewind(ctx, s, last); err != nil {
			return 0, fmt.Errorf("rewind %s to %d: %w", s, last, err)
		}
	}
	return last + 1, nil
}

// committed returns the progress of an upstream stage, false when it never ran.
func (w *Workflow) committed(ctx context.Context, key string) (uint64, bool, error) {
	h, ok, err := w.store.Progress(ctx, key)
	if err != nil && errors.Is(err, db.ErrCorrupt) {
		return 0, false, fmt.Errorf("%w: %v", ErrCorruptState, err)
	}
	return h, ok, err
}

func chunkEnd(first, to uint64, size int) uint64 {
	step := uint64(size)
	if to-first >= step {
		return first + step - 1
	}
	return to
}
