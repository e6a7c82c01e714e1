package controller

import (
	"context"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/zephyr-analytics/zephscan/pkg/db"
	"github.com/zephyr-analytics/zephscan/pkg/db/models/indexer"
	"github.com/zephyr-analytics/zephscan/pkg/indexer/interpolate"
	"github.com/zephyr-analytics/zephscan/pkg/indexer/types"
	"github.com/zephyr-analytics/zephscan/pkg/indexer/workflow"
)

type seriesResponse[T any] struct {
	Data  []*T              `json:"data"`
	Count int               `json:"count"`
	Gaps  []interpolate.Gap `json:"gaps,omitempty"`

	// Next is the cursor of the following page, absent on the last one.
	Next *uint64 `json:"next,omitempty"`
}

func newSeries[T any](rows []*T) seriesResponse[T] {
	if rows == nil {
		rows = []*T{}
	}
	return seriesResponse[T]{Data: rows, Count: len(rows)}
}

// page is the span of heights one request reads.
type page struct {
	From, To uint64

	// empty is set when the page lies past the committed data.
	empty bool

	// more is set when heights remain after To. bounded is set when the end of the range is
	// known, from the request or from the series progress.
	more, bounded bool
}

// next returns the cursor of the following page. On an open range over a series without
// progress, an empty page ends the walk.
func (p page) next(rows int) *uint64 {
	if !p.more || (!p.bounded && rows == 0) {
		return nil
	}
	n := p.To + 1
	return &n
}

func (c *Controller) page(w http.ResponseWriter, r *http.Request, series db.Series) (page, bool) {
	spec, err := parsePageSpec(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return page{}, false
	}
	to, known, err := c.committedTo(r.Context(), series, spec.To)
	if err != nil {
		c.App.Logger.Error("Progress lookup failed", zap.String("path", r.URL.Path), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "query failed")
		return page{}, false
	}
	if spec.From > to {
		return page{empty: true}, true
	}
	end := spec.end(to)
	return page{
		From:    spec.From,
		To:      end,
		more:    end < to,
		bounded: known || spec.To != db.MaxHeight,
	}, true
}

// serveSeries answers one page of a from/to range query against a persisted series.
func serveSeries[T any](c *Controller, w http.ResponseWriter, r *http.Request, series db.Series, query func(ctx context.Context, from, to uint64) ([]*T, error)) {
	p, ok := c.page(w, r, series)
	if !ok {
		return
	}
	var rows []*T
	if !p.empty {
		var err error
		rows, err = query(r.Context(), p.From, p.To)
		if err != nil {
			c.App.Logger.Error("Series query failed", zap.String("path", r.URL.Path), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "query failed")
			return
		}
	}
	out := newSeries(rows)
	out.Next = p.next(len(rows))
	writeJSON(w, http.StatusOK, out)
}

// HandlePricingRecords returns pricing records; interpolate=true bridges oracle outages on
// the returned copies and lists the detected gaps.
func (c *Controller) HandlePricingRecords(w http.ResponseWriter, r *http.Request) {
	fill, err := parseBool(r, "interpolate")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !fill {
		serveSeries(c, w, r, db.SeriesPricing, c.App.Store.PricingRecords)
		return
	}

	p, ok := c.page(w, r, db.SeriesPricing)
	if !ok {
		return
	}
	var res workflow.InterpolateResult
	if !p.empty {
		res, err = workflow.InterpolateSeries(r.Context(), c.App.Store, p.From, p.To)
		if err != nil {
			c.App.Logger.Error("Interpolation failed", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "query failed")
			return
		}
	}
	out := newSeries(res.Records)
	out.Gaps = res.Gaps
	out.Next = p.next(len(res.Records))
	writeJSON(w, http.StatusOK, out)
}

func (c *Controller) HandleTransactions(w http.ResponseWriter, r *http.Request) {
	serveSeries(c, w, r, db.SeriesTransactions, c.App.Store.Transactions)
}

func (c *Controller) HandleBlockRewards(w http.ResponseWriter, r *http.Request) {
	serveSeries(c, w, r, db.SeriesBlockRewards, c.App.Store.BlockRewards)
}

// HandleReserveStats returns reserve stats records, or OHLC windows when scale is given.
func (c *Controller) HandleReserveStats(w http.ResponseWriter, r *http.Request) {
	if scale := r.URL.Query().Get("scale"); scale != "" {
		c.serveWindows(w, r, scale)
		return
	}
	serveSeries(c, w, r, db.SeriesReserveStats, c.App.Store.ReserveStats)
}

// HandleLatestReserveStats returns the last committed reserve stats record.
func (c *Controller) HandleLatestReserveStats(w http.ResponseWriter, r *http.Request) {
	v, err := c.App.Cached("reserve-stats:latest", func() (any, error) {
		return c.App.Store.LastReserveStats(r.Context())
	})
	if errors.Is(err, db.ErrNotFound) {
		writeError(w, http.StatusNotFound, "no reserve stats yet")
		return
	}
	if err != nil {
		c.App.Logger.Error("Latest reserve stats failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}

	rec := v.(*indexer.ReserveStatsRecord)
	c.App.Metrics.SetStageHeight(types.StageReserve, rec.Block)
	c.App.Metrics.SetReserveRatio(rec.ReserveRatio.InexactFloat64())
	writeJSON(w, http.StatusOK, rec)
}
