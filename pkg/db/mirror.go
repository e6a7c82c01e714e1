package db

import (
	"context"

	"github.com/zephyr-analytics/zephscan/pkg/db/models/indexer"
	"go.uber.org/zap"
)

// Sink receives a copy of every committed row for analytics. It is never read back.
type Sink interface {
	MirrorPricingRecords(ctx context.Context, recs []*indexer.PricingRecord) error
	MirrorTransactions(ctx context.Context, txs []*indexer.Transaction) error
	MirrorBlockRewards(ctx context.Context, rewards []*indexer.BlockReward) error
	MirrorReserveStats(ctx context.Context, recs []*indexer.ReserveStatsRecord) error
	MirrorMismatch(ctx context.Context, m *indexer.ReserveMismatch) error
	Close() error
}

// mirrored forwards appends to a Sink after the primary Store committed them. Sink
// failures are logged and dropped; the primary Store stays the source of truth.
type mirrored struct {
	Store
	sink   Sink
	logger *zap.Logger
}

// WithSink wraps store so every successful append is mirrored to sink.
func WithSink(store Store, sink Sink, logger *zap.Logger) Store {
	if sink == nil {
		return store
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &mirrored{Store: store, sink: sink, logger: logger}
}

func (m *mirrored) warn(series Series, rows int, err error) {
	if err != nil {
		m.logger.Warn("Mirror write failed",
			zap.String("series", string(series)),
			zap.Int("rows", rows),
			zap.Error(err))
	}
}

func (m *mirrored) AppendPricingRecords(ctx context.Context, recs []*indexer.PricingRecord) error {
	if err := m.Store.AppendPricingRecords(ctx, recs); err != nil {
		return err
	}
	if len(recs) > 0 {
		m.warn(SeriesPricing, len(recs), m.sink.MirrorPricingRecords(ctx, recs))
	}
	return nil
}

func (m *mirrored) AppendTransactions(ctx context.Context, txs []*indexer.Transaction) error {
	if err := m.Store.AppendTransactions(ctx, txs); err != nil {
		return err
	}
	if len(txs) > 0 {
		m.warn(SeriesTransactions, len(txs), m.sink.MirrorTransactions(ctx, txs))
	}
	return nil
}

func (m *mirrored) AppendBlockRewards(ctx context.Context, rewards []*indexer.BlockReward) error {
	if err := m.Store.AppendBlockRewards(ctx, rewards); err != nil {
		return err
	}
	if len(rewards) > 0 {
		m.warn(SeriesBlockRewards, len(rewards), m.sink.MirrorBlockRewards(ctx, rewards))
	}
	return nil
}

func (m *mirrored) AppendReserveStats(ctx context.Context, recs []*indexer.ReserveStatsRecord) error {
	if err := m.Store.AppendReserveStats(ctx, recs); err != nil {
		return err
	}
	if len(recs) > 0 {
		m.warn(SeriesReserveStats, len(recs), m.sink.MirrorReserveStats(ctx, recs))
	}
	return nil
}

func (m *mirrored) SaveMismatch(ctx context.Context, rec *indexer.ReserveMismatch) error {
	if err := m.Store.SaveMismatch(ctx, rec); err != nil {
		return err
	}
	m.warn(SeriesMismatches, 1, m.sink.MirrorMismatch(ctx, rec))
	return nil
}

func (m *mirrored) Close() error {
	if err := m.sink.Close(); err != nil {
		m.logger.Warn("Closing mirror failed", zap.Error(err))
	}
	return m.Store.Close()
}
