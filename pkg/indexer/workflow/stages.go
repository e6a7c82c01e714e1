package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/zephyr-analytics/zephscan/pkg/db"
	"github.com/zephyr-analytics/zephscan/pkg/db/models/indexer"
	"github.com/zephyr-analytics/zephscan/pkg/indexer/ledger"
	"github.com/zephyr-analytics/zephscan/pkg/indexer/prefetch"
	"github.com/zephyr-analytics/zephscan/pkg/indexer/reconcile"
	"github.com/zephyr-analytics/zephscan/pkg/indexer/types"
)

func (w *Workflow) begin(stage string) (string, *zap.Logger) {
	runID := uuid.NewString()
	return runID, w.logger.With(zap.String("stage", stage), zap.String("run_id", runID))
}

func (w *Workflow) finish(logger *zap.Logger, res *types.StageResult, start time.Time, tally *prefetch.Tally) {
	elapsed := time.Since(start)
	res.DurationMs = float64(elapsed.Microseconds()) / 1000.0
	if tally != nil {
		res.Skipped = tally.Snapshot()
	}
	if res.Skipped == nil {
		res.Skipped = map[string]int{}
	}
	w.metrics.ObserveStage(res.Stage, elapsed.Seconds())
	logger.Info("Stage complete",
		zap.Uint64("from", res.From),
		zap.Uint64("to", res.To),
		zap.Int("processed", res.Processed),
		zap.Any("skipped", res.Skipped),
		zap.Float64("duration_ms", res.DurationMs),
	)
}

// ScanPricing persists one pricing record per height up to the chain tip. Heights whose
// oracle snapshot cannot be read get the sentinel record.
func (w *Workflow) ScanPricing(ctx context.Context) (types.StageResult, error) {
	start := time.Now()
	runID, logger := w.begin(types.StagePricing)
	res := types.StageResult{Stage: types.StagePricing, RunID: runID}

	from, err := w.resume(ctx, types.StagePricing, db.ProgressPricing, db.SeriesPricing)
	if err != nil {
		return res, err
	}
	if from > w.cfg.StartHeight {
		if _, err := w.store.PricingRecord(ctx, from-1); err != nil {
			if errors.Is(err, db.ErrNotFound) {
				return res, fmt.Errorf("%w: pricing progress %d has no record", ErrCorruptState, from-1)
			}
			return res, err
		}
	}
	to, err := w.chainTip(ctx)
	if err != nil {
		return res, err
	}
	res.From, res.To = from, to
	if to < from {
		logger.Info("Pricing records up to date", zap.Uint64("height", from-1))
		w.finish(logger, &res, start, nil)
		return res, nil
	}
	logger.Info("Scanning pricing records", zap.Uint64("from", from), zap.Uint64("to", to))

	tally := prefetch.NewTally()
	err = prefetch.Run(ctx, w.window, from, to,
		func(ctx context.Context, h uint64) (types.PricingOutput, error) {
			return w.activities.FetchPricing(ctx, types.HeightInput{Height: h})
		},
		func(ctx context.Context, first, last uint64, outs []types.PricingOutput) error {
			recs := make([]*indexer.PricingRecord, len(outs))
			sentinels := 0
			for i, o := range outs {
				recs[i] = o.Record
				if o.Reason != "" {
					sentinels++
					tally.Add(o.Reason, 1)
					w.metrics.Skipped(types.StagePricing, o.Reason)
				}
			}
			if err := w.store.AppendPricingRecords(ctx, recs); err != nil {
				return fmt.Errorf("append pricing records %d-%d: %w", first, last, err)
			}
			if err := w.store.SetProgress(ctx, db.ProgressPricing, last); err != nil {
				return err
			}
			w.lookup.Prime(recs)
			res.Processed += len(recs)
			w.metrics.Processed(types.StagePricing, len(recs))
			w.metrics.SetStageHeight(types.StagePricing, last)
			logger.Info("Pricing chunk committed",
				zap.Uint64("from", first),
				zap.Uint64("to", last),
				zap.Int("records", len(recs)),
				zap.Int("sentinels", sentinels),
			)
			return nil
		})
	w.finish(logger, &res, start, tally)
	return res, err
}

// ScanTransactions classifies every transaction up to the last committed pricing height,
// persisting conversions and one block reward per block.
func (w *Workflow) ScanTransactions(ctx context.Context) (types.StageResult, error) {
	start := time.Now()
	runID, logger := w.begin(types.StageTransactions)
	res := types.StageResult{Stage: types.StageTransactions, RunID: runID}

	from, err := w.resume(ctx, types.StageTransactions, db.ProgressTxs, db.SeriesTransactions, db.SeriesBlockRewards)
	if err != nil {
		return res, err
	}
	to, err := w.chainTip(ctx)
	if err != nil {
		return res, err
	}
	pricing, ok, err := w.committed(ctx, db.ProgressPricing)
	if err != nil {
		return res, err
	}
	if !ok {
		logger.Warn("No pricing records yet, run the pricing stage first")
		res.From, res.To = from, from-1
		w.finish(logger, &res, start, nil)
		return res, nil
	}
	if pricing < to {
		to = pricing
	}
	res.From, res.To = from, to
	if to < from {
		logger.Info("Transactions up to date", zap.Uint64("height", from-1))
		w.finish(logger, &res, start, nil)
		return res, nil
	}
	logger.Info("Scanning transactions", zap.Uint64("from", from), zap.Uint64("to", to))

	tally := prefetch.NewTally()
	err = prefetch.Run(ctx, w.window, from, to,
		func(ctx context.Context, h uint64) (types.BlockOutput, error) {
			return w.activities.ClassifyBlock(ctx, types.HeightInput{Height: h})
		},
		func(ctx context.Context, first, last uint64, outs []types.BlockOutput) error {
			var (
				conversions []*indexer.Transaction
				rewards     []*indexer.BlockReward
			)
			for _, o := range outs {
				if !o.Available {
					tally.Add(types.ReasonBlockUnavailable, 1)
					w.metrics.Skipped(types.StageTransactions, types.ReasonBlockUnavailable)
					continue
				}
				if o.Reward != nil {
					rewards = append(rewards, o.Reward)
				}
				conversions = append(conversions, o.Conversions...)
				for _, s := range o.Skips {
					tally.Add(s.Reason, 1)
					w.metrics.Skipped(types.StageTransactions, s.Reason)
				}
			}
			if len(conversions) > 0 {
				if err := w.store.AppendTransactions(ctx, conversions); err != nil {
					return fmt.Errorf("append transactions %d-%d: %w", first, last, err)
				}
			}
			if len(rewards) > 0 {
				if err := w.store.AppendBlockRewards(ctx, rewards); err != nil {
					return fmt.Errorf("append block rewards %d-%d: %w", first, last, err)
				}
			}
			if err := w.store.SetProgress(ctx, db.ProgressTxs, last); err != nil {
				return err
			}
			res.Processed += len(outs)
			w.metrics.Processed(types.StageTransactions, len(outs))
			w.metrics.SetStageHeight(types.StageTransactions, last)
			logger.Info("Transaction chunk committed",
				zap.Uint64("from", first),
				zap.Uint64("to", last),
				zap.Int("conversions", len(conversions)),
				zap.Int("block_rewards", len(rewards)),
			)
			return nil
		})
	w.finish(logger, &res, start, tally)
	return res, err
}

// BuildReserveStats folds the persisted series into the reserve ledger, up to the lower of
// the pricing and transaction progress. The fold is strictly sequential.
func (w *Workflow) BuildReserveStats(ctx context.Context) (types.StageResult, error) {
	start := time.Now()
	runID, logger := w.begin(types.StageReserve)
	res := types.StageResult{Stage: types.StageReserve, RunID: runID}

	from, err := w.resume(ctx, types.StageReserve, db.ProgressReserve, db.SeriesReserveStats)
	if err != nil {
		return res, err
	}
	acc, err := w.accumulator(ctx, from, logger)
	if err != nil {
		return res, err
	}

	pricing, pok, err := w.committed(ctx, db.ProgressPricing)
	if err != nil {
		return res, err
	}
	txs, tok, err := w.committed(ctx, db.ProgressTxs)
	if err != nil {
		return res, err
	}
	to := min(pricing, txs)
	res.From, res.To = from, to
	if !pok || !tok || to < from {
		res.To = from - 1
		logger.Info("Reserve stats up to date", zap.Uint64("height", from-1))
		w.finish(logger, &res, start, nil)
		return res, nil
	}
	logger.Info("Building reserve stats", zap.Uint64("from", from), zap.Uint64("to", to))

	tally := prefetch.NewTally()
	err = w.fold(ctx, acc, from, to, &res, tally, logger)
	w.finish(logger, &res, start, tally)
	return res, err
}

func (w *Workflow) fold(ctx context.Context, acc *ledger.Accumulator, from, to uint64, res *types.StageResult, tally *prefetch.Tally, logger *zap.Logger) error {
	for first := from; ; {
		last := chunkEnd(first, to, w.window.ChunkSize())

		prs, err := w.store.PricingRecords(ctx, first, last)
		if err != nil {
			return err
		}
		rewards, err := w.store.BlockRewards(ctx, first, last)
		if err != nil {
			return err
		}
		conversions, err := w.store.Transactions(ctx, first, last)
		if err != nil {
			return err
		}

		recs, skips, err := acc.Fold(ledger.Assemble(first, last, prs, rewards, conversions))
		if err != nil {
			return err
		}
		for range skips {
			tally.Add(types.ReasonMissingReference, 1)
			w.metrics.Skipped(types.StageReserve, types.ReasonMissingReference)
		}
		if len(recs) > 0 {
			if err := w.store.AppendReserveStats(ctx, recs); err != nil {
				return fmt.Errorf("append reserve stats %d-%d: %w", first, last, err)
			}
			w.metrics.SetReserveRatio(recs[len(recs)-1].ReserveRatio.InexactFloat64())
		}
		if err := w.store.SetProgress(ctx, db.ProgressReserve, last); err != nil {
			return err
		}
		res.Processed += len(recs)
		w.metrics.Processed(types.StageReserve, len(recs))
		w.metrics.SetStageHeight(types.StageReserve, last)
		logger.Info("Reserve stats chunk committed",
			zap.Uint64("from", first),
			zap.Uint64("to", last),
			zap.Int("records", len(recs)),
			zap.Int("skipped", len(skips)),
		)

		if last == to {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		first = last + 1
	}
}

// accumulator rebuilds the ledger state for a stage starting at from.
func (w *Workflow) accumulator(ctx context.Context, from uint64, logger *zap.Logger) (*ledger.Accumulator, error) {
	opts := ledger.Options{
		Policy:             w.cfg.Policy,
		RequireBlockReward: w.cfg.RequireBlockReward,
		Logger:             logger,
		Metrics:            w.metrics,
	}
	if from <= w.cfg.StartHeight {
		return ledger.New(opts), nil
	}
	last, err := w.store.LastReserveStats(ctx)
	switch {
	case errors.Is(err, db.ErrNotFound):
		// every height so far was skipped, so the state never moved
		return ledger.New(opts), nil
	case err != nil:
		if errors.Is(err, db.ErrCorrupt) {
			return nil, fmt.Errorf("%w: %v", ErrCorruptState, err)
		}
		return nil, err
	case last.Block >= from:
		return nil, fmt.Errorf("%w: reserve stats at %d beyond progress %d", ErrCorruptState, last.Block, from-1)
	}
	logger.Info("Resuming ledger", zap.Uint64("height", last.Block), zap.String("reserve", last.Reserve.String()))
	return ledger.Resume(opts, last), nil
}

// Run executes pricing, transaction and reserve stages in order, stopping at the first error.
func (w *Workflow) Run(ctx context.Context) ([]types.StageResult, error) {
	stages := []func(context.Context) (types.StageResult, error){
		w.ScanPricing,
		w.ScanTransactions,
		w.BuildReserveStats,
	}
	results := make([]types.StageResult, 0, len(stages))
	for _, stage := range stages {
		res, err := stage(ctx)
		results = append(results, res)
		if err != nil {
			return results, fmt.Errorf("%s stage: %w", res.Stage, err)
		}
	}
	return results, nil
}

// Reconcile compares the node's current reserve info with the ledger and persists the report.
func (w *Workflow) Reconcile(ctx context.Context) (*indexer.ReserveMismatch, error) {
	_, logger := w.begin(types.StageReconcile)
	r := &reconcile.Reconciler{Store: w.store, Node: w.node, Logger: logger}
	return r.Check(ctx)
}
