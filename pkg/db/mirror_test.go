package db_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zephyr-analytics/zephscan/pkg/db"
	"github.com/zephyr-analytics/zephscan/pkg/db/csv"
	"github.com/zephyr-analytics/zephscan/pkg/db/models/indexer"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type recordingSink struct {
	pricing []uint64
	stats   []uint64
	fail    error
	closed  bool
}

func (s *recordingSink) MirrorPricingRecords(_ context.Context, recs []*indexer.PricingRecord) error {
	for _, r := range recs {
		s.pricing = append(s.pricing, r.Block)
	}
	return s.fail
}

func (s *recordingSink) MirrorTransactions(context.Context, []*indexer.Transaction) error {
	return s.fail
}

func (s *recordingSink) MirrorBlockRewards(context.Context, []*indexer.BlockReward) error {
	return s.fail
}

func (s *recordingSink) MirrorReserveStats(_ context.Context, recs []*indexer.ReserveStatsRecord) error {
	for _, r := range recs {
		s.stats = append(s.stats, r.Block)
	}
	return s.fail
}

func (s *recordingSink) MirrorMismatch(context.Context, *indexer.ReserveMismatch) error {
	return s.fail
}

func (s *recordingSink) Close() error {
	s.closed = true
	return nil
}

func TestWithSinkMirrorsCommittedRows(t *testing.T) {
	ctx := context.Background()
	primary, err := csv.Open(t.TempDir(), nil)
	require.NoError(t, err)
	sink := &recordingSink{}
	store := db.WithSink(primary, sink, nil)

	require.NoError(t, store.AppendPricingRecords(ctx, []*indexer.PricingRecord{{Block: 1}, {Block: 2}}))
	require.NoError(t, store.AppendReserveStats(ctx, []*indexer.ReserveStatsRecord{{Block: 2}}))
	assert.Equal(t, []uint64{1, 2}, sink.pricing)
	assert.Equal(t, []uint64{2}, sink.stats)

	// rejected by the primary store, so never mirrored
	assert.Error(t, store.AppendPricingRecords(ctx, []*indexer.PricingRecord{{Block: 9}}))
	assert.Equal(t, []uint64{1, 2}, sink.pricing)

	require.NoError(t, store.Close())
	assert.True(t, sink.closed)
}

func TestWithSinkFailuresAreLogged(t *testing.T) {
	ctx := context.Background()
	primary, err := csv.Open(t.TempDir(), nil)
	require.NoError(t, err)
	core, logs := observer.New(zap.WarnLevel)
	store := db.WithSink(primary, &recordingSink{fail: errors.New("clickhouse down")}, zap.New(core))

	require.NoError(t, store.AppendPricingRecords(ctx, []*indexer.PricingRecord{{Block: 1}}))
	require.NoError(t, store.SaveMismatch(ctx, &indexer.ReserveMismatch{Block: 1}))

	got, err := store.PricingRecord(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), got.Block)
	assert.Equal(t, 2, logs.FilterMessage("Mirror write failed").Len())
}

func TestWithSinkNilReturnsStore(t *testing.T) {
	primary, err := csv.Open(t.TempDir(), nil)
	require.NoError(t, err)
	assert.Same(t, primary, db.WithSink(primary, nil, nil))
}
