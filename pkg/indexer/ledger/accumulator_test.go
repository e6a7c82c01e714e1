package ledger

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zephyr-analytics/zephscan/pkg/db/models/indexer"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func price(h uint64, spot, ma string) *indexer.PricingRecord {
	return &indexer.PricingRecord{Block: h, Spot: d(spot), MovingAverage: d(ma)}
}

func reward(h uint64, reserve string) *indexer.BlockReward {
	return &indexer.BlockReward{Block: h, ReserveReward: d(reserve)}
}

func conv(h uint64, ct indexer.ConversionType, from, to string) *indexer.Transaction {
	return &indexer.Transaction{Block: h, ConversionType: ct, FromAmount: d(from), ToAmount: d(to)}
}

func TestApplySignConventions(t *testing.T) {
	s := ZeroState()
	s = s.Apply(conv(1, indexer.MintStable, "100", "150"))
	assert.True(t, d("100").Equal(s.ReservePool))
	assert.True(t, d("150").Equal(s.StableCirc))

	s = s.Apply(conv(1, indexer.MintReserve, "40", "60"))
	assert.True(t, d("140").Equal(s.ReservePool))
	assert.True(t, d("60").Equal(s.ReserveShareCirc))

	s = s.Apply(conv(1, indexer.RedeemStable, "30", "20"))
	assert.True(t, d("120").Equal(s.ReservePool))
	assert.True(t, d("120").Equal(s.StableCirc))

	s = s.Apply(conv(1, indexer.RedeemReserve, "10", "15"))
	assert.True(t, d("105").Equal(s.ReservePool))
	assert.True(t, d("50").Equal(s.ReserveShareCirc))

	unchanged := s.Apply(conv(1, indexer.ConversionNone, "999", "999"))
	assert.True(t, s.Equal(unchanged))
}

func TestDerive(t *testing.T) {
	s := State{ReservePool: d("1000"), StableCirc: d("500"), ReserveShareCirc: d("10")}
	rec := Derive(7, s, price(7, "2", "1.5"))

	assert.Equal(t, uint64(7), rec.Block)
	assert.True(t, d("2000").Equal(rec.Assets))
	assert.True(t, d("1500").Equal(rec.AssetsMA))
	assert.True(t, rec.Liabilities.Equal(s.StableCirc))
	assert.True(t, d("1500").Equal(rec.Equity))
	assert.True(t, d("1000").Equal(rec.EquityMA))
	assert.True(t, d("4").Equal(rec.ReserveRatio))
	assert.True(t, d("3").Equal(rec.ReserveRatioMA))
	assert.True(t, d("400").Equal(rec.ReserveRatioPct))
	assert.True(t, d("300").Equal(rec.ReserveRatioMAPct))
	assert.True(t, d("1000").Equal(rec.Reserve))
	assert.True(t, d("10").Equal(rec.ZephRSVCirc))
}

func TestDeriveZeroLiabilities(t *testing.T) {
	for _, stable := range []string{"0", "-5"} {
		rec := Derive(1, State{ReservePool: d("50"), StableCirc: d(stable), ReserveShareCirc: d("0")}, price(1, "2", "2"))
		assert.True(t, rec.ReserveRatio.IsZero())
		assert.True(t, rec.ReserveRatioMA.IsZero())
		assert.True(t, rec.ReserveRatioPct.IsZero())
		assert.True(t, rec.ReserveRatioMAPct.IsZero())
		assert.True(t, d("100").Equal(rec.Assets))
	}
}

func TestStepCreditsReserveReward(t *testing.T) {
	acc := New(Options{RequireBlockReward: true})
	miner := d("76")
	reserveReward := miner.Mul(d("0.2")).Div(d("0.75"))

	rec, err := acc.Step(BlockInput{Height: 89300, Reward: &indexer.BlockReward{Block: 89300, MinerReward: miner, ReserveReward: reserveReward}, Pricing: price(89300, "1", "1")})
	require.NoError(t, err)
	assert.Equal(t, "20.2667", rec.Reserve.StringFixed(4))
	assert.True(t, acc.State().ReservePool.Equal(reserveReward))

	// an empty block afterwards credits nothing further
	rec, err = acc.Step(BlockInput{Height: 89301, Reward: reward(89301, "0"), Pricing: price(89301, "1", "1")})
	require.NoError(t, err)
	assert.True(t, rec.Reserve.Equal(reserveReward))
}

func TestStepMissingReferenceLeavesStateUnchanged(t *testing.T) {
	acc := New(Options{RequireBlockReward: true})
	_, err := acc.Step(BlockInput{Height: 1, Reward: reward(1, "5"), Pricing: price(1, "1", "1")})
	require.NoError(t, err)
	before := acc.State()

	rec, err := acc.Step(BlockInput{Height: 2, Reward: reward(2, "5"), Conversions: []*indexer.Transaction{conv(2, indexer.MintStable, "10", "10")}})
	require.ErrorIs(t, err, ErrMissingReference)
	assert.Nil(t, rec)
	assert.True(t, before.Equal(acc.State()))

	rec, err = acc.Step(BlockInput{Height: 3, Pricing: price(3, "1", "1")})
	require.ErrorIs(t, err, ErrMissingReference)
	assert.Nil(t, rec)
	assert.True(t, before.Equal(acc.State()))

	last, ok := acc.LastHeight()
	assert.True(t, ok)
	assert.Equal(t, uint64(3), last)
}

func TestStepOptionalReward(t *testing.T) {
	acc := New(Options{RequireBlockReward: false})
	rec, err := acc.Step(BlockInput{Height: 1, Pricing: price(1, "1", "1"), Conversions: []*indexer.Transaction{conv(1, indexer.MintReserve, "3", "4")}})
	require.NoError(t, err)
	assert.True(t, d("3").Equal(rec.Reserve))
}

func TestCarryForwardPolicy(t *testing.T) {
	acc := New(Options{Policy: SkipCarryForward, RequireBlockReward: true})

	rec, err := acc.Step(BlockInput{Height: 5, Reward: reward(5, "1")})
	require.Nil(t, rec)
	require.ErrorIs(t, err, ErrMissingReference, "nothing to carry before the first record")

	first, err := acc.Step(BlockInput{Height: 6, Reward: reward(6, "1"), Pricing: price(6, "2", "2")})
	require.NoError(t, err)

	carried, err := acc.Step(BlockInput{Height: 7, Reward: reward(7, "1")})
	require.ErrorIs(t, err, ErrMissingReference)
	require.NotNil(t, carried)
	assert.Equal(t, uint64(7), carried.Block)
	assert.True(t, first.Reserve.Equal(carried.Reserve))
	assert.True(t, first.ReserveRatio.Equal(carried.ReserveRatio))
	assert.Equal(t, uint64(6), first.Block, "previous record is not mutated")

	// a height priced but without a reward keeps the state and takes its own price
	priced, err := acc.Step(BlockInput{Height: 8, Pricing: price(8, "3", "2.5")})
	require.ErrorIs(t, err, ErrMissingReference)
	require.NotNil(t, priced)
	assert.Equal(t, uint64(8), priced.Block)
	assert.True(t, d("3").Equal(priced.Spot))
	assert.True(t, d("2.5").Equal(priced.MovingAverage))
	assert.True(t, first.Reserve.Equal(priced.Reserve))
	assert.True(t, first.Reserve.Mul(d("3")).Equal(priced.Assets))
	assert.True(t, first.Reserve.Equal(acc.State().ReservePool), "skipped heights do not move the state")
}

func TestStepOutOfOrder(t *testing.T) {
	acc := New(Options{})
	_, err := acc.Step(BlockInput{Height: 10, Pricing: price(10, "1", "1")})
	require.NoError(t, err)
	_, err = acc.Step(BlockInput{Height: 10, Pricing: price(10, "1", "1")})
	assert.ErrorIs(t, err, ErrOutOfOrder)
}

func TestNegativeReserveIsFlagged(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	acc := New(Options{Logger: zap.New(core)})

	rec, err := acc.Step(BlockInput{Height: 1, Pricing: price(1, "1", "1"), Conversions: []*indexer.Transaction{conv(1, indexer.RedeemStable, "5", "8")}})
	require.NoError(t, err)
	assert.True(t, d("-8").Equal(rec.Reserve), "no clamping")
	assert.Equal(t, 1, logs.FilterMessage("reserve pool below zero").Len())
}

// history builds a deterministic series of mixed blocks.
func history(from, to uint64) []BlockInput {
	var pricing []*indexer.PricingRecord
	var rewards []*indexer.BlockReward
	var txs []*indexer.Transaction
	for h := from; h <= to; h++ {
		if h%7 != 0 {
			pricing = append(pricing, price(h, decimal.NewFromInt(int64(h%5+1)).String(), "1.25"))
		}
		rewards = append(rewards, &indexer.BlockReward{Block: h, ReserveReward: d("76").Mul(d("0.2")).Div(d("0.75"))})
		switch h % 4 {
		case 0:
			txs = append(txs, conv(h, indexer.MintStable, "12.345678901234", "20.5"))
		case 1:
			txs = append(txs, conv(h, indexer.MintReserve, "3.3", "2.2"), conv(h, indexer.RedeemStable, "1.1", "0.5"))
		case 2:
			txs = append(txs, conv(h, indexer.RedeemReserve, "0.7", "0.9"))
		}
	}
	return Assemble(from, to, pricing, rewards, txs)
}

func TestResumeMatchesSinglePass(t *testing.T) {
	opts := Options{RequireBlockReward: true}

	full := New(opts)
	fullRecs, _, err := full.Fold(history(100, 160))
	require.NoError(t, err)

	first := New(opts)
	firstRecs, skips, err := first.Fold(history(100, 130))
	require.NoError(t, err)
	require.NotEmpty(t, skips, "heights without pricing are skipped")

	// persist the last row through its decimal string form, as a store would
	last := firstRecs[len(firstRecs)-1]
	persisted := *last
	persisted.Reserve = d(last.Reserve.String())
	persisted.ZephUSDCirc = d(last.ZephUSDCirc.String())
	persisted.ZephRSVCirc = d(last.ZephRSVCirc.String())

	resumed := Resume(opts, &persisted)
	restRecs, _, err := resumed.Fold(history(persisted.Block+1, 160))
	require.NoError(t, err)

	assert.True(t, full.State().Equal(resumed.State()))
	combined := append(firstRecs, restRecs...)
	require.Len(t, combined, len(fullRecs))
	for i := range fullRecs {
		assert.Equal(t, fullRecs[i].Block, combined[i].Block)
		assert.True(t, fullRecs[i].ReserveRatio.Equal(combined[i].ReserveRatio), "height %d", fullRecs[i].Block)
		assert.True(t, fullRecs[i].Liabilities.Equal(combined[i].ZephUSDCirc))
	}
}

func TestAssemble(t *testing.T) {
	inputs := Assemble(10, 12,
		[]*indexer.PricingRecord{price(10, "1", "1"), price(12, "1", "1"), price(99, "1", "1")},
		[]*indexer.BlockReward{reward(11, "1")},
		[]*indexer.Transaction{
			conv(12, indexer.MintStable, "1", "1"),
			{Block: 12, ConversionType: indexer.ConversionNone},
			conv(12, indexer.RedeemStable, "2", "2"),
		})

	require.Len(t, inputs, 3)
	assert.NotNil(t, inputs[0].Pricing)
	assert.Nil(t, inputs[1].Pricing)
	assert.NotNil(t, inputs[1].Reward)
	require.Len(t, inputs[2].Conversions, 2)
	assert.Equal(t, indexer.MintStable, inputs[2].Conversions[0].ConversionType)
	assert.Equal(t, indexer.RedeemStable, inputs[2].Conversions[1].ConversionType)
	assert.Nil(t, Assemble(5, 4, nil, nil, nil))
}

func TestParseSkipPolicy(t *testing.T) {
	p, err := ParseSkipPolicy("")
	require.NoError(t, err)
	assert.Equal(t, SkipGap, p)
	p, err = ParseSkipPolicy("carry_forward")
	require.NoError(t, err)
	assert.Equal(t, SkipCarryForward, p)
	_, err = ParseSkipPolicy("retry")
	assert.Error(t, err)
}
