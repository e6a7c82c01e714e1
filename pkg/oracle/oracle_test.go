package oracle

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zephyr-analytics/zephscan/pkg/rpc"
)

func TestFromAtoms(t *testing.T) {
	assert.True(t, decimal.RequireFromString("1.5").Equal(FromAtoms(1_500_000_000_000)))
	assert.True(t, decimal.RequireFromString("0.000000000001").Equal(FromAtoms(1)))
	assert.True(t, FromAtoms(0).IsZero())
	// the largest atomic amount survives without float rounding
	assert.Equal(t, "18446744.073709551615", FromAtoms(^uint64(0)).String())
}

func TestParseAndToAtoms(t *testing.T) {
	d, err := ParseAtoms("1234000000000000")
	require.NoError(t, err)
	assert.Equal(t, "1234", d.String())
	assert.Equal(t, "1234000000000000", ToAtoms(d).String())

	_, err = ParseAtoms("12x")
	assert.Error(t, err)

	z, err := ParseAtoms("")
	require.NoError(t, err)
	assert.True(t, z.IsZero())
}

func TestFromHeader(t *testing.T) {
	rec, ok := FromHeader(89301, rpc.BlockHeader{PricingRecord: &rpc.RawPricingRecord{
		Spot: 1_500_000_000_000, MovingAverage: 1_400_000_000_000,
		Reserve: 700_000_000_000, ReserveMA: 650_000_000_000,
		Stable: 660_000_000_000, StableMA: 670_000_000_000,
		Timestamp: 1700000000,
	}})
	require.True(t, ok)
	assert.Equal(t, uint64(89301), rec.Block)
	assert.Equal(t, uint64(1700000000), rec.Timestamp)
	assert.Equal(t, "1.5", rec.Spot.String())
	assert.Equal(t, "1.4", rec.MovingAverage.String())
	assert.Equal(t, "0.65", rec.ReserveMA.String())
	assert.Equal(t, "0.67", rec.StableMA.String())
	assert.False(t, rec.IsSentinel())

	_, ok = FromHeader(1, rpc.BlockHeader{})
	assert.False(t, ok)
}

type stubSource struct {
	blk *rpc.Block
	err error
}

func (s stubSource) Block(context.Context, uint64) (*rpc.Block, error) { return s.blk, s.err }

func TestReaderAt(t *testing.T) {
	t.Run("unavailable height yields sentinel", func(t *testing.T) {
		r := &Reader{Source: stubSource{err: rpc.ErrUnavailable}}
		rec, err := r.At(context.Background(), 7)
		require.ErrorIs(t, err, rpc.ErrUnavailable)
		assert.True(t, rec.IsSentinel())
		assert.Equal(t, uint64(7), rec.Block)
	})

	t.Run("header without record", func(t *testing.T) {
		r := &Reader{Source: stubSource{blk: &rpc.Block{}}}
		rec, err := r.At(context.Background(), 8)
		require.True(t, errors.Is(err, ErrNoPricingRecord))
		assert.True(t, rec.IsSentinel())
	})

	t.Run("record present", func(t *testing.T) {
		r := &Reader{Source: stubSource{blk: &rpc.Block{Header: rpc.BlockHeader{PricingRecord: &rpc.RawPricingRecord{Spot: 2_000_000_000_000}}}}}
		rec, err := r.At(context.Background(), 9)
		require.NoError(t, err)
		assert.Equal(t, "2", rec.Spot.String())
	})
}
