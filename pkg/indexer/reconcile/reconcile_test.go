package reconcile

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/zephyr-analytics/zephscan/pkg/db/csv"
	"github.com/zephyr-analytics/zephscan/pkg/db/models/indexer"
	"github.com/zephyr-analytics/zephscan/pkg/rpc"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func ledgerAt(block uint64) *indexer.ReserveStatsRecord {
	return &indexer.ReserveStatsRecord{
		Block:        block,
		Reserve:      d("1000.5"),
		ZephUSDCirc:  d("250"),
		ZephRSVCirc:  d("40.000000000001"),
		ReserveRatio: d("6.0030"),
	}
}

func nodeInfo(height uint64) *rpc.ReserveInfo {
	return &rpc.ReserveInfo{
		Height:       height,
		ZephReserve:  "1000500000000000",
		NumStables:   "250000000000000",
		NumReserves:  "40000000000001",
		ReserveRatio: "6.00305",
	}
}

func TestCompareMatch(t *testing.T) {
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	m, err := Compare(ledgerAt(99), nodeInfo(100), DefaultRatioTolerance, at)
	require.NoError(t, err)

	assert.Equal(t, uint64(99), m.Block)
	assert.Equal(t, uint64(100), m.NodeHeight)
	assert.True(t, m.ReserveDiff.IsZero())
	assert.True(t, m.StableDiff.IsZero())
	assert.True(t, m.SharesDiff.IsZero())
	assert.Equal(t, "-0.00005", m.RatioDiff.String())
	assert.False(t, m.Mismatch)
	assert.False(t, m.MissingLedgerData)
	assert.Equal(t, at, m.CheckedAt)
}

func TestCompareMismatch(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*rpc.ReserveInfo)
	}{
		{"reserve off by one atom", func(i *rpc.ReserveInfo) { i.ZephReserve = "1000500000000001" }},
		{"stable circulation", func(i *rpc.ReserveInfo) { i.NumStables = "249000000000000" }},
		{"share circulation", func(i *rpc.ReserveInfo) { i.NumReserves = "40000000000000" }},
		{"ratio beyond tolerance", func(i *rpc.ReserveInfo) { i.ReserveRatio = "6.1" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			info := nodeInfo(100)
			tt.mutate(info)
			m, err := Compare(ledgerAt(99), info, DefaultRatioTolerance, time.Now())
			require.NoError(t, err)
			assert.True(t, m.Mismatch)
		})
	}
}

func TestCompareAtomDiffSign(t *testing.T) {
	info := nodeInfo(100)
	info.ZephReserve = "1000000000000000"
	m, err := Compare(ledgerAt(99), info, DefaultRatioTolerance, time.Now())
	require.NoError(t, err)
	assert.Equal(t, "500000000000", m.ReserveDiff.String())
}

func TestCompareMissingLedger(t *testing.T) {
	m, err := Compare(nil, nodeInfo(100), DefaultRatioTolerance, time.Now())
	require.NoError(t, err)
	assert.True(t, m.MissingLedgerData)
	assert.True(t, m.Mismatch)
	assert.Equal(t, "1000.5", m.NodeReserve.String())
}

func TestCompareMalformed(t *testing.T) {
	info := nodeInfo(100)
	info.NumStables = "12x"
	_, err := Compare(ledgerAt(99), info, DefaultRatioTolerance, time.Now())
	require.ErrorIs(t, err, rpc.ErrMalformed)

	_, err = Compare(ledgerAt(99), &rpc.ReserveInfo{}, DefaultRatioTolerance, time.Now())
	require.ErrorIs(t, err, rpc.ErrMalformed)
}

type staticNode struct{ info *rpc.ReserveInfo }

func (s staticNode) ReserveInfo(context.Context) (*rpc.ReserveInfo, error) { return s.info, nil }

func TestReconcilerPersistsReport(t *testing.T) {
	ctx := context.Background()
	store, err := csv.Open(t.TempDir(), nil)
	require.NoError(t, err)
	require.NoError(t, store.AppendReserveStats(ctx, []*indexer.ReserveStatsRecord{ledgerAt(99)}))

	fixed := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	r := &Reconciler{
		Store:  store,
		Node:   staticNode{nodeInfo(100)},
		Logger: zaptest.NewLogger(t),
		Now:    func() time.Time { return fixed },
	}
	m, err := r.Check(ctx)
	require.NoError(t, err)
	assert.False(t, m.Mismatch)

	saved, err := store.Mismatches(ctx, 0, 1000)
	require.NoError(t, err)
	require.Len(t, saved, 1)
	assert.Equal(t, uint64(99), saved[0].Block)
	assert.True(t, saved[0].CheckedAt.Equal(fixed))

	r.Node = staticNode{nodeInfo(500)}
	m, err = r.Check(ctx)
	require.NoError(t, err)
	assert.True(t, m.MissingLedgerData)
}
