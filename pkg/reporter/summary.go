// Package reporter aggregates the conversion and reward series into summary statistics.
package reporter

import (
	"slices"

	"github.com/shopspring/decimal"

	"github.com/zephyr-analytics/zephscan/pkg/db/models/indexer"
)

const divPrecision int32 = 16

var two = decimal.NewFromInt(2)

// RateStats describes the conversion rates seen for one conversion type.
type RateStats struct {
	Count  int             `json:"count"`
	Min    decimal.Decimal `json:"min"`
	Max    decimal.Decimal `json:"max"`
	Median decimal.Decimal `json:"median"`
	Mean   decimal.Decimal `json:"mean"`
}

// AssetFlow is the volume moved through conversions for one asset. For ZEPH, Minted is what
// entered the reserve and Net is the reserve's conversion balance; for the other assets Net
// is the circulation created by conversions.
type AssetFlow struct {
	Minted   decimal.Decimal `json:"minted"`
	Redeemed decimal.Decimal `json:"redeemed"`
	Net      decimal.Decimal `json:"net"`
}

type RewardTotals struct {
	Blocks     int             `json:"blocks"`
	Miner      decimal.Decimal `json:"miner"`
	Governance decimal.Decimal `json:"governance"`
	Reserve    decimal.Decimal `json:"reserve"`
}

// Summary is the txstats report over a span of blocks.
type Summary struct {
	FirstBlock             uint64                               `json:"first_block"`
	LastBlock              uint64                               `json:"last_block"`
	TotalConversions       int                                  `json:"total_conversions"`
	ByType                 map[indexer.ConversionType]int       `json:"by_type"`
	AvgConversionsPerBlock decimal.Decimal                      `json:"avg_conversions_per_block"`
	Rates                  map[indexer.ConversionType]RateStats `json:"rates"`
	Fees                   map[indexer.Asset]decimal.Decimal    `json:"fees"`
	Flows                  map[indexer.Asset]AssetFlow          `json:"flows"`
	Rewards                RewardTotals                         `json:"rewards"`
}

// Summarize computes the report. The block span covers every height present in either input,
// and the per-block average is taken over that span.
func Summarize(txs []*indexer.Transaction, rewards []*indexer.BlockReward) Summary {
	s := Summary{
		ByType:                 map[indexer.ConversionType]int{},
		Rates:                  map[indexer.ConversionType]RateStats{},
		Fees:                   map[indexer.Asset]decimal.Decimal{},
		Flows:                  map[indexer.Asset]AssetFlow{},
		AvgConversionsPerBlock: decimal.Zero,
		Rewards: RewardTotals{
			Miner:      decimal.Zero,
			Governance: decimal.Zero,
			Reserve:    decimal.Zero,
		},
	}
	for _, a := range indexer.Assets {
		s.Fees[a] = decimal.Zero
		s.Flows[a] = AssetFlow{Minted: decimal.Zero, Redeemed: decimal.Zero, Net: decimal.Zero}
	}

	seen := false
	span := func(b uint64) {
		if !seen || b < s.FirstBlock {
			s.FirstBlock = b
		}
		if !seen || b > s.LastBlock {
			s.LastBlock = b
		}
		seen = true
	}

	rates := map[indexer.ConversionType][]decimal.Decimal{}
	for _, tx := range txs {
		if tx.ConversionType == indexer.ConversionNone {
			continue
		}
		span(tx.Block)
		s.TotalConversions++
		s.ByType[tx.ConversionType]++
		rates[tx.ConversionType] = append(rates[tx.ConversionType], tx.ConversionRate)

		if fee, ok := s.Fees[tx.ConversionFeeAsset]; ok {
			s.Fees[tx.ConversionFeeAsset] = fee.Add(tx.ConversionFeeAmount)
		}

		// ZEPH flows into the reserve when it is the source and out when it is the destination.
		if tx.FromAsset == indexer.AssetZeph {
			s.addFlow(indexer.AssetZeph, tx.FromAmount, decimal.Zero)
		} else {
			s.addFlow(tx.FromAsset, decimal.Zero, tx.FromAmount)
		}
		if tx.ToAsset == indexer.AssetZeph {
			s.addFlow(indexer.AssetZeph, decimal.Zero, tx.ToAmount)
		} else {
			s.addFlow(tx.ToAsset, tx.ToAmount, decimal.Zero)
		}
	}

	for ct, rs := range rates {
		s.Rates[ct] = rateStats(rs)
	}

	for _, r := range rewards {
		span(r.Block)
		s.Rewards.Blocks++
		s.Rewards.Miner = s.Rewards.Miner.Add(r.MinerReward)
		s.Rewards.Governance = s.Rewards.Governance.Add(r.GovernanceReward)
		s.Rewards.Reserve = s.Rewards.Reserve.Add(r.ReserveReward)
	}

	if seen {
		blocks := decimal.NewFromInt(int64(s.LastBlock - s.FirstBlock + 1))
		s.AvgConversionsPerBlock = decimal.NewFromInt(int64(s.TotalConversions)).DivRound(blocks, divPrecision)
	}
	return s
}

func (s *Summary) addFlow(a indexer.Asset, minted, redeemed decimal.Decimal) {
	f, ok := s.Flows[a]
	if !ok {
		return
	}
	f.Minted = f.Minted.Add(minted)
	f.Redeemed = f.Redeemed.Add(redeemed)
	f.Net = f.Minted.Sub(f.Redeemed)
	s.Flows[a] = f
}

func rateStats(rs []decimal.Decimal) RateStats {
	sorted := slices.Clone(rs)
	slices.SortFunc(sorted, func(a, b decimal.Decimal) int { return a.Cmp(b) })

	n := len(sorted)
	sum := decimal.Zero
	for _, r := range sorted {
		sum = sum.Add(r)
	}
	median := sorted[n/2]
	if n%2 == 0 {
		median = sorted[n/2-1].Add(sorted[n/2]).DivRound(two, divPrecision)
	}
	return RateStats{
		Count:  n,
		Min:    sorted[0],
		Max:    sorted[n-1],
		Median: median,
		Mean:   sum.DivRound(decimal.NewFromInt(int64(n)), divPrecision),
	}
}
