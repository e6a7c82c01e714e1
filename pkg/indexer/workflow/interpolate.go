package workflow

import (
	"context"

	"github.com/zephyr-analytics/zephscan/pkg/db"
	"github.com/zephyr-analytics/zephscan/pkg/db/models/indexer"
	"github.com/zephyr-analytics/zephscan/pkg/indexer/interpolate"
)

// edgeStep is the first read size when looking past a window edge for a good record.
const edgeStep = 64

// InterpolateResult is the pricing series with outage runs bridged.
type InterpolateResult struct {
	Records []*indexer.PricingRecord `json:"records"`
	Gaps    []interpolate.Gap        `json:"gaps"`
}

// Interpolate reads the pricing series in [from, to] and fills sentinel runs on copies;
// the persisted series is never modified.
func (w *Workflow) Interpolate(ctx context.Context, from, to uint64) (InterpolateResult, error) {
	return InterpolateSeries(ctx, w.store, from, to)
}

// InterpolateSeries is Interpolate over any pricing source. A run crossing either window
// edge is bridged with the nearest good record outside the window, and the result is
// clipped back to [from, to].
func InterpolateSeries(ctx context.Context, store db.Store, from, to uint64) (InterpolateResult, error) {
	stored, err := store.PricingRecords(ctx, from, to)
	if err != nil {
		return InterpolateResult{}, err
	}
	if n := len(stored); n > 0 {
		if stored[0].IsSentinel() && from > 0 {
			before, err := reachBack(ctx, store, from)
			if err != nil {
				return InterpolateResult{}, err
			}
			stored = append(before, stored...)
		}
		if stored[len(stored)-1].IsSentinel() && to < db.MaxHeight {
			after, err := reachForward(ctx, store, to)
			if err != nil {
				return InterpolateResult{}, err
			}
			stored = append(stored, after...)
		}
	}

	recs := make([]*indexer.PricingRecord, len(stored))
	for i, r := range stored {
		cp := *r
		recs[i] = &cp
	}
	gaps := interpolate.Fill(recs)

	res := InterpolateResult{Records: make([]*indexer.PricingRecord, 0, len(recs))}
	for _, r := range recs {
		if r.Block >= from && r.Block <= to {
			res.Records = append(res.Records, r)
		}
	}
	for _, g := range gaps {
		if g.End < from || g.Start > to {
			continue
		}
		g.Start, g.End = max(g.Start, from), min(g.End, to)
		res.Gaps = append(res.Gaps, g)
	}
	return res, nil
}

// reachBack returns the records below from up to and including the nearest good one. It
// stops early at the start of the series.
func reachBack(ctx context.Context, store db.Store, from uint64) ([]*indexer.PricingRecord, error) {
	var ext []*indexer.PricingRecord
	for hi, step := from, uint64(edgeStep); hi > 0; step *= 2 {
		lo := hi - min(step, hi)
		recs, err := store.PricingRecords(ctx, lo, hi-1)
		if err != nil {
			return nil, err
		}
		for i := len(recs) - 1; i >= 0; i-- {
			if !recs[i].IsSentinel() {
				return append(recs[i:], ext...), nil
			}
		}
		if len(recs) == 0 {
			break
		}
		ext = append(recs, ext...)
		hi = lo
	}
	return ext, nil
}

// reachForward returns the records above to up to and including the nearest good one. It
// stops early at the end of the series.
func reachForward(ctx context.Context, store db.Store, to uint64) ([]*indexer.PricingRecord, error) {
	var ext []*indexer.PricingRecord
	for lo, step := to+1, uint64(edgeStep); ; step *= 2 {
		hi := db.MaxHeight
		if db.MaxHeight-lo >= step {
			hi = lo + step - 1
		}
		recs, err := store.PricingRecords(ctx, lo, hi)
		if err != nil {
			return nil, err
		}
		for i, r := range recs {
			if !r.IsSentinel() {
				return append(ext, recs[:i+1]...), nil
			}
		}
		ext = append(ext, recs...)
		if len(recs) == 0 || hi == db.MaxHeight {
			return ext, nil
		}
		lo = hi + 1
	}
}
