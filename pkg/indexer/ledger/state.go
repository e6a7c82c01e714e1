// Package ledger reconstructs the protocol's reserve balances block by block.
package ledger

import (
	"github.com/shopspring/decimal"
	"github.com/zephyr-analytics/zephscan/pkg/db/models/indexer"
)

// RatioPrecision is the number of decimal places kept when dividing by liabilities.
const RatioPrecision int32 = 16

var hundred = decimal.NewFromInt(100)

// State is the running reserve accounting. It is a value: transitions return a new State
// so a failed height can never leave a half-applied balance behind.
type State struct {
	ReservePool      decimal.Decimal
	StableCirc       decimal.Decimal
	ReserveShareCirc decimal.Decimal
}

// ZeroState is the balance at the activation height.
func ZeroState() State {
	return State{ReservePool: decimal.Zero, StableCirc: decimal.Zero, ReserveShareCirc: decimal.Zero}
}

// StateFromRecord rebuilds the balances persisted alongside a reserve stats row.
func StateFromRecord(rec *indexer.ReserveStatsRecord) State {
	return State{ReservePool: rec.Reserve, StableCirc: rec.ZephUSDCirc, ReserveShareCirc: rec.ZephRSVCirc}
}

// Equal compares balances by value.
func (s State) Equal(o State) bool {
	return s.ReservePool.Equal(o.ReservePool) &&
		s.StableCirc.Equal(o.StableCirc) &&
		s.ReserveShareCirc.Equal(o.ReserveShareCirc)
}

// Credit adds a block's reserve reward to the pool.
func (s State) Credit(reward *indexer.BlockReward) State {
	if reward == nil {
		return s
	}
	s.ReservePool = s.ReservePool.Add(reward.ReserveReward)
	return s
}

// Apply books one conversion. Mints grow circulation and pull the burnt ZEPH into the pool;
// redeems shrink circulation and pay the minted ZEPH out of it.
func (s State) Apply(tx *indexer.Transaction) State {
	switch tx.ConversionType {
	case indexer.MintStable:
		s.StableCirc = s.StableCirc.Add(tx.ToAmount)
		s.ReservePool = s.ReservePool.Add(tx.FromAmount)
	case indexer.MintReserve:
		s.ReserveShareCirc = s.ReserveShareCirc.Add(tx.ToAmount)
		s.ReservePool = s.ReservePool.Add(tx.FromAmount)
	case indexer.RedeemStable:
		s.StableCirc = s.StableCirc.Sub(tx.FromAmount)
		s.ReservePool = s.ReservePool.Sub(tx.ToAmount)
	case indexer.RedeemReserve:
		s.ReserveShareCirc = s.ReserveShareCirc.Sub(tx.FromAmount)
		s.ReservePool = s.ReservePool.Sub(tx.ToAmount)
	}
	return s
}

// Derive values the balances at height against the block's oracle snapshot.
// With no stable liabilities every ratio field is zero.
func Derive(height uint64, s State, pr *indexer.PricingRecord) *indexer.ReserveStatsRecord {
	assets := s.ReservePool.Mul(pr.Spot)
	assetsMA := s.ReservePool.Mul(pr.MovingAverage)
	liabilities := s.StableCirc

	rec := &indexer.ReserveStatsRecord{
		Block:             height,
		Spot:              pr.Spot,
		MovingAverage:     pr.MovingAverage,
		Reserve:           s.ReservePool,
		ZephUSDCirc:       s.StableCirc,
		ZephRSVCirc:       s.ReserveShareCirc,
		Assets:            assets,
		AssetsMA:          assetsMA,
		Liabilities:       liabilities,
		Equity:            assets.Sub(liabilities),
		EquityMA:          assetsMA.Sub(liabilities),
		ReserveRatio:      decimal.Zero,
		ReserveRatioMA:    decimal.Zero,
		ReserveRatioPct:   decimal.Zero,
		ReserveRatioMAPct: decimal.Zero,
	}
	if liabilities.IsPositive() {
		rec.ReserveRatio = assets.DivRound(liabilities, RatioPrecision)
		rec.ReserveRatioMA = assetsMA.DivRound(liabilities, RatioPrecision)
		rec.ReserveRatioPct = rec.ReserveRatio.Mul(hundred)
		rec.ReserveRatioMAPct = rec.ReserveRatioMA.Mul(hundred)
	}
	return rec
}
