package reporter

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/zephyr-analytics/zephscan/pkg/db"
)

type Context struct {
	Logger *zap.Logger
	Store  db.Store
}

// ComputeTxStats summarises the persisted conversions and rewards in [from, to].
func (c *Context) ComputeTxStats(ctx context.Context, from, to uint64) (Summary, error) {
	start := time.Now()

	txs, err := c.Store.Transactions(ctx, from, to)
	if err != nil {
		return Summary{}, err
	}
	rewards, err := c.Store.BlockRewards(ctx, from, to)
	if err != nil {
		return Summary{}, err
	}
	s := Summarize(txs, rewards)

	if c.Logger != nil {
		c.Logger.Debug("Computed tx stats",
			zap.Uint64("from", s.FirstBlock),
			zap.Uint64("to", s.LastBlock),
			zap.Int("conversions", s.TotalConversions),
			zap.Float64("duration_ms", float64(time.Since(start).Microseconds())/1000.0),
		)
	}
	return s, nil
}

// ComputeWindows aggregates the persisted reserve stats in [from, to] into windows of scale.
func (c *Context) ComputeWindows(ctx context.Context, scale Scale, from, to uint64) ([]Window, error) {
	start := time.Now()

	stats, err := c.Store.ReserveStats(ctx, from, to)
	if err != nil {
		return nil, err
	}
	pricing, err := c.Store.PricingRecords(ctx, from, to)
	if err != nil {
		return nil, err
	}
	txs, err := c.Store.Transactions(ctx, from, to)
	if err != nil {
		return nil, err
	}
	windows := Aggregate(scale, stats, pricing, txs)

	if c.Logger != nil {
		c.Logger.Debug("Computed windows",
			zap.String("scale", string(scale)),
			zap.Int("stats", len(stats)),
			zap.Int("windows", len(windows)),
			zap.Float64("duration_ms", float64(time.Since(start).Microseconds())/1000.0),
		)
	}
	return windows, nil
}
