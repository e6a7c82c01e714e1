// Package interpolate bridges oracle outages in a pricing series.
package interpolate

import (
	"github.com/shopspring/decimal"
	"github.com/zephyr-analytics/zephscan/pkg/db/models/indexer"
)

const precision int32 = 16

// Gap is a maximal run of consecutive sentinel heights.
type Gap struct {
	Start        uint64 `json:"start"`
	End          uint64 `json:"end"`
	Interpolated bool   `json:"interpolated"`
}

// Len is the number of heights in the run.
func (g Gap) Len() uint64 {
	return g.End - g.Start + 1
}

// Detect finds sentinel runs in a height-ordered series. A break in height continuity
// also ends a run.
func Detect(records []*indexer.PricingRecord) []Gap {
	var gaps []Gap
	for i := 0; i < len(records); i++ {
		if !records[i].IsSentinel() {
			continue
		}
		j := i
		for j+1 < len(records) && records[j+1].IsSentinel() && records[j+1].Block == records[j].Block+1 {
			j++
		}
		gaps = append(gaps, Gap{Start: records[i].Block, End: records[j].Block})
		i = j
	}
	return gaps
}

// Fill linearly interpolates the moving-average fields across every run longer than one
// height that has a good record directly on both sides. Instantaneous prices stay zero.
// Single-height runs and runs touching either end of the series are left as they are.
// Every detected run is returned, flagged with whether it was filled.
func Fill(records []*indexer.PricingRecord) []Gap {
	gaps := Detect(records)
	if len(gaps) == 0 {
		return gaps
	}
	index := make(map[uint64]int, len(records))
	for i, r := range records {
		index[r.Block] = i
	}

	for gi := range gaps {
		g := &gaps[gi]
		if g.Len() < 2 || g.Start == 0 {
			continue
		}
		li, lok := index[g.Start-1]
		ri, rok := index[g.End+1]
		if !lok || !rok {
			continue
		}
		left, right := records[li], records[ri]
		span := decimal.NewFromInt(int64(g.End + 1 - (g.Start - 1)))

		for h := g.Start; h <= g.End; h++ {
			rec := records[index[h]]
			pos := decimal.NewFromInt(int64(h - (g.Start - 1)))
			rec.MovingAverage = lerp(left.MovingAverage, right.MovingAverage, pos, span)
			rec.ReserveMA = lerp(left.ReserveMA, right.ReserveMA, pos, span)
			rec.StableMA = lerp(left.StableMA, right.StableMA, pos, span)
		}
		g.Interpolated = true
	}
	return gaps
}

func lerp(left, right, pos, span decimal.Decimal) decimal.Decimal {
	return left.Add(right.Sub(left).Mul(pos).DivRound(span, precision))
}
