package reporter

import (
	"cmp"
	"fmt"
	"slices"

	"github.com/shopspring/decimal"

	"github.com/zephyr-analytics/zephscan/pkg/db/models/indexer"
)

// Scale is the width of an aggregation window.
type Scale string

const (
	ScaleHour Scale = "hour"
	ScaleDay  Scale = "day"
)

// ParseScale accepts hour, hourly, day and daily.
func ParseScale(s string) (Scale, error) {
	switch s {
	case "hour", "hourly":
		return ScaleHour, nil
	case "day", "daily":
		return ScaleDay, nil
	}
	return "", fmt.Errorf("unknown scale %q (want hour or day)", s)
}

// Seconds is the window width.
func (s Scale) Seconds() uint64 {
	if s == ScaleDay {
		return 86400
	}
	return 3600
}

// OHLC is the open, high, low and close of one value over a window, in block order.
type OHLC struct {
	Open  decimal.Decimal `json:"open"`
	High  decimal.Decimal `json:"high"`
	Low   decimal.Decimal `json:"low"`
	Close decimal.Decimal `json:"close"`
}

func newOHLC(v decimal.Decimal) OHLC {
	return OHLC{Open: v, High: v, Low: v, Close: v}
}

func (o *OHLC) add(v decimal.Decimal) {
	if v.GreaterThan(o.High) {
		o.High = v
	}
	if v.LessThan(o.Low) {
		o.Low = v
	}
	o.Close = v
}

type ConversionTotals struct {
	Count  int             `json:"count"`
	Volume decimal.Decimal `json:"volume"`
}

// Window aggregates the reserve stats whose block timestamps fall in [Start, End).
// Pending is set on the newest window, since the input may end before the window does.
type Window struct {
	Start      uint64 `json:"window_start"`
	End        uint64 `json:"window_end"`
	Pending    bool   `json:"pending"`
	FirstBlock uint64 `json:"first_block"`
	LastBlock  uint64 `json:"last_block"`
	Blocks     int    `json:"blocks"`

	Spot           OHLC `json:"spot"`
	MovingAverage  OHLC `json:"moving_average"`
	Reserve        OHLC `json:"reserve"`
	ZephUSDCirc    OHLC `json:"zephusd_circ"`
	ZephRSVCirc    OHLC `json:"zephrsv_circ"`
	Assets         OHLC `json:"assets"`
	AssetsMA       OHLC `json:"assets_ma"`
	Liabilities    OHLC `json:"liabilities"`
	Equity         OHLC `json:"equity"`
	EquityMA       OHLC `json:"equity_ma"`
	ReserveRatio   OHLC `json:"reserve_ratio"`
	ReserveRatioMA OHLC `json:"reserve_ratio_ma"`

	// Conversions is keyed by type; Volume sums the source amounts.
	Conversions map[indexer.ConversionType]ConversionTotals `json:"conversions"`
}

func series(r *indexer.ReserveStatsRecord) [12]decimal.Decimal {
	return [12]decimal.Decimal{
		r.Spot, r.MovingAverage, r.Reserve, r.ZephUSDCirc, r.ZephRSVCirc, r.Assets,
		r.AssetsMA, r.Liabilities, r.Equity, r.EquityMA, r.ReserveRatio, r.ReserveRatioMA,
	}
}

func (w *Window) fields() [12]*OHLC {
	return [12]*OHLC{
		&w.Spot, &w.MovingAverage, &w.Reserve, &w.ZephUSDCirc, &w.ZephRSVCirc, &w.Assets,
		&w.AssetsMA, &w.Liabilities, &w.Equity, &w.EquityMA, &w.ReserveRatio, &w.ReserveRatioMA,
	}
}

func (w *Window) add(r *indexer.ReserveStatsRecord) {
	vals := series(r)
	for i, f := range w.fields() {
		if w.Blocks == 0 {
			*f = newOHLC(vals[i])
		} else {
			f.add(vals[i])
		}
	}
	if w.Blocks == 0 || r.Block < w.FirstBlock {
		w.FirstBlock = r.Block
	}
	if r.Block > w.LastBlock {
		w.LastBlock = r.Block
	}
	w.Blocks++
}

// Aggregate buckets stats into scale-aligned windows by the oracle timestamp of each block's
// pricing record. Heights without a timestamped pricing record (outage sentinels) are left
// out, and windows without any block are not emitted. Conversions are counted in the window
// of their block, or of their own timestamp when the block has none.
func Aggregate(scale Scale, stats []*indexer.ReserveStatsRecord, pricing []*indexer.PricingRecord, txs []*indexer.Transaction) []Window {
	width := scale.Seconds()
	stamps := make(map[uint64]uint64, len(pricing))
	for _, p := range pricing {
		if p.Timestamp != 0 {
			stamps[p.Block] = p.Timestamp
		}
	}

	ordered := slices.Clone(stats)
	slices.SortFunc(ordered, func(a, b *indexer.ReserveStatsRecord) int { return cmp.Compare(a.Block, b.Block) })

	byStart := map[uint64]*Window{}
	for _, r := range ordered {
		ts, ok := stamps[r.Block]
		if !ok {
			continue
		}
		start := ts - ts%width
		w, ok := byStart[start]
		if !ok {
			w = &Window{Start: start, End: start + width, Conversions: map[indexer.ConversionType]ConversionTotals{}}
			byStart[start] = w
		}
		w.add(r)
	}

	for _, tx := range txs {
		if tx.ConversionType == indexer.ConversionNone {
			continue
		}
		ts, ok := stamps[tx.Block]
		if !ok {
			ts = tx.Timestamp
		}
		w, ok := byStart[ts-ts%width]
		if !ok {
			continue
		}
		c := w.Conversions[tx.ConversionType]
		c.Count++
		c.Volume = c.Volume.Add(tx.FromAmount)
		w.Conversions[tx.ConversionType] = c
	}

	out := make([]Window, 0, len(byStart))
	for _, w := range byStart {
		out = append(out, *w)
	}
	slices.SortFunc(out, func(a, b Window) int { return cmp.Compare(a.Start, b.Start) })
	if n := len(out); n > 0 {
		out[n-1].Pending = true
	}
	return out
}
