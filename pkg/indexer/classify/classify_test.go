package classify

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zephyr-analytics/zephscan/pkg/db"
	"github.com/zephyr-analytics/zephscan/pkg/db/models/indexer"
	"github.com/zephyr-analytics/zephscan/pkg/rpc"
)

const atom = uint64(1_000_000_000_000)

type mapLookup struct {
	recs  map[uint64]*indexer.PricingRecord
	calls int
	err   error
}

func (m *mapLookup) PricingRecord(_ context.Context, h uint64) (*indexer.PricingRecord, error) {
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	pr, ok := m.recs[h]
	if !ok {
		return nil, db.ErrNotFound
	}
	return pr, nil
}

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func pricing() *mapLookup {
	return &mapLookup{recs: map[uint64]*indexer.PricingRecord{
		100: {
			Block: 100, Spot: d("1.50"), MovingAverage: d("1.40"),
			Reserve: d("0.70"), ReserveMA: d("0.65"), Stable: d("0.66"), StableMA: d("0.67"),
		},
	}}
}

func convTx(in string, outs []string, burnt, minted uint64) *rpc.DecodedTx {
	tx := &rpc.DecodedTx{
		Hash:                "tx",
		Vin:                 []rpc.TxInput{{Key: &rpc.TxInputKey{AssetType: in}}},
		AmountBurnt:         burnt,
		AmountMinted:        minted,
		PricingRecordHeight: 100,
		RctSignatures:       rpc.RctSignatures{TxnFee: 30_000_000},
	}
	for _, o := range outs {
		tx.Vout = append(tx.Vout, rpc.TxOutput{Target: rpc.TxTarget{TaggedKey: &rpc.TaggedKey{AssetType: o}}})
	}
	return tx
}

func TestClassifyConversions(t *testing.T) {
	tests := []struct {
		name     string
		in       string
		outs     []string
		wantType indexer.ConversionType
		wantRate string
		feeAsset indexer.Asset
		fee      string
	}{
		{"mint stable", "ZEPH", []string{"ZEPHUSD", "ZEPH"}, indexer.MintStable, "1.5", indexer.AssetZephUSD, "2"},
		{"redeem stable", "ZEPHUSD", []string{"ZEPH", "ZEPHUSD"}, indexer.RedeemStable, "1.4", indexer.AssetZeph, "2"},
		{"mint reserve", "ZEPH", []string{"ZEPHRSV", "ZEPH"}, indexer.MintReserve, "0.7", indexer.AssetNone, "0"},
		{"redeem reserve", "ZEPHRSV", []string{"ZEPH"}, indexer.RedeemReserve, "0.65", indexer.AssetZeph, "2"},
	}

	c := New(pricing())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := c.Classify(context.Background(), 150, 1700000000, convTx(tt.in, tt.outs, 50*atom, 98*atom))
			require.Equal(t, KindConversion, res.Kind)
			require.NotNil(t, res.Conversion)
			tx := res.Conversion

			assert.Equal(t, tt.wantType, tx.ConversionType)
			assert.True(t, d(tt.wantRate).Equal(tx.ConversionRate), "rate %s", tx.ConversionRate)
			assert.Equal(t, tt.feeAsset, tx.ConversionFeeAsset)
			assert.True(t, d(tt.fee).Equal(tx.ConversionFeeAmount), "fee %s", tx.ConversionFeeAmount)

			from, to := tt.wantType.Pair()
			assert.Equal(t, from, tx.FromAsset)
			assert.Equal(t, to, tx.ToAsset)
			assert.True(t, d("50").Equal(tx.FromAmount))
			assert.True(t, d("98").Equal(tx.ToAmount))
			assert.Equal(t, from, tx.TxFeeAsset)
			assert.True(t, d("0.00003").Equal(tx.TxFeeAmount))
			assert.Equal(t, uint64(150), tx.Block)
			assert.Equal(t, uint64(1700000000), tx.Timestamp)
		})
	}
}

func TestMintStableUsesHigherOfSpotAndMA(t *testing.T) {
	lookup := &mapLookup{recs: map[uint64]*indexer.PricingRecord{
		100: {Block: 100, Spot: d("1.2"), MovingAverage: d("1.9")},
	}}
	res := New(lookup).Classify(context.Background(), 101, 0, convTx("ZEPH", []string{"ZEPHUSD"}, atom, atom))
	require.Equal(t, KindConversion, res.Kind)
	assert.True(t, d("1.9").Equal(res.Conversion.ConversionRate))
}

func TestClassifyBlockReward(t *testing.T) {
	c := New(pricing())
	tx := &rpc.DecodedTx{
		Hash: "coinbase",
		Vin:  []rpc.TxInput{{Gen: &rpc.TxInputGen{Height: 89400}}},
		Vout: []rpc.TxOutput{{Amount: 76 * atom}, {Amount: 5 * atom}},
	}

	res := c.Classify(context.Background(), 89400, 0, tx)
	require.Equal(t, KindBlockReward, res.Kind)
	require.NotNil(t, res.Reward)
	assert.True(t, d("76").Equal(res.Reward.MinerReward))
	assert.True(t, d("5").Equal(res.Reward.GovernanceReward))
	assert.Equal(t, "20.2666666666666667", res.Reward.ReserveReward.StringFixed(16))

	res = c.Classify(context.Background(), 89299, 0, tx)
	require.Equal(t, KindBlockReward, res.Kind)
	assert.True(t, res.Reward.ReserveReward.IsZero())
}

func TestClassifyFailSoft(t *testing.T) {
	tests := []struct {
		name   string
		lookup *mapLookup
		tx     *rpc.DecodedTx
		reason Reason
		err    error
	}{
		{"nil body", pricing(), nil, ReasonMalformed, ErrMalformedTx},
		{"plain transfer", pricing(), &rpc.DecodedTx{Vout: []rpc.TxOutput{{Amount: 0}}}, ReasonTransfer, nil},
		{"no outputs", pricing(), &rpc.DecodedTx{}, ReasonTransfer, nil},
		{"unknown pairing", pricing(), convTx("ZEPHUSD", []string{"ZEPHRSV"}, atom, atom), ReasonAmbiguous, ErrAmbiguous},
		{"missing input key", pricing(), &rpc.DecodedTx{AmountBurnt: 1, AmountMinted: 1, Vin: []rpc.TxInput{{}}}, ReasonMalformed, ErrMalformedTx},
		{"untagged outputs", pricing(), &rpc.DecodedTx{AmountBurnt: 1, AmountMinted: 1, Vin: []rpc.TxInput{{Key: &rpc.TxInputKey{AssetType: "ZEPH"}}}, Vout: []rpc.TxOutput{{}}}, ReasonMalformed, ErrMalformedTx},
		{"missing pricing record", &mapLookup{recs: map[uint64]*indexer.PricingRecord{}}, convTx("ZEPH", []string{"ZEPHUSD"}, atom, atom), ReasonMissingPricing, ErrMissingPricing},
		{"lookup failure", &mapLookup{err: errors.New("redis down")}, convTx("ZEPH", []string{"ZEPHUSD"}, atom, atom), ReasonLookupFailed, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := New(tt.lookup).Classify(context.Background(), 200, 0, tt.tx)
			assert.Equal(t, KindNone, res.Kind)
			assert.Equal(t, tt.reason, res.Reason)
			assert.Nil(t, res.Conversion)
			assert.Nil(t, res.Reward)
			if tt.err != nil {
				assert.ErrorIs(t, res.Err, tt.err)
			}
		})
	}
}

func TestCachedLookup(t *testing.T) {
	inner := pricing()
	cached, err := NewCachedLookup(inner, 2)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		pr, err := cached.PricingRecord(context.Background(), 100)
		require.NoError(t, err)
		assert.Equal(t, uint64(100), pr.Block)
	}
	assert.Equal(t, 1, inner.calls)

	_, err = cached.PricingRecord(context.Background(), 5)
	assert.ErrorIs(t, err, db.ErrNotFound)
	_, _ = cached.PricingRecord(context.Background(), 5)
	assert.Equal(t, 3, inner.calls, "misses are not cached")

	cached.Prime([]*indexer.PricingRecord{{Block: 7}})
	_, err = cached.PricingRecord(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, 3, inner.calls)
	assert.Equal(t, 2, cached.Len())
}
