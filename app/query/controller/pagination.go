package controller

import (
	"context"
	"net/http"
	"strconv"

	"github.com/zephyr-analytics/zephscan/pkg/db"
)

// A page covers at most limit consecutive heights. Every series but transactions has at
// most one row per height.
const (
	defaultLimit = 500
	maxLimit     = 5000
)

type pageSpec struct {
	rangeSpec
	Limit uint64
}

// parsePageSpec reads the range plus limit and cursor. cursor is the first height of the
// page, as returned in next by the previous one.
func parsePageSpec(r *http.Request) (pageSpec, error) {
	rs, err := parseRange(r)
	if err != nil {
		return pageSpec{}, err
	}
	qs := r.URL.Query()
	spec := pageSpec{rangeSpec: rs, Limit: defaultLimit}

	if v := qs.Get("limit"); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil || n == 0 {
			return pageSpec{}, errInvalidLimit
		}
		spec.Limit = min(n, maxLimit)
	}
	if v := qs.Get("cursor"); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil || n < spec.From || n > spec.To {
			return pageSpec{}, errInvalidCursor
		}
		spec.From = n
	}
	return spec, nil
}

// end is the last height of the page starting at From, capped at to.
func (p pageSpec) end(to uint64) uint64 {
	if to-p.From < p.Limit {
		return to
	}
	return p.From + p.Limit - 1
}

// committedTo caps to at the committed height of series. known reports whether the series
// has progress at all.
func (c *Controller) committedTo(ctx context.Context, series db.Series, to uint64) (capped uint64, known bool, err error) {
	h, ok, err := c.App.Store.Progress(ctx, db.ProgressKeyFor(series))
	if err != nil {
		return 0, false, err
	}
	if ok && h < to {
		return h, true, nil
	}
	return to, ok, nil
}

var (
	errInvalidLimit  = &parseError{msg: "invalid limit"}
	errInvalidCursor = &parseError{msg: "invalid cursor, must lie within from and to"}
)
