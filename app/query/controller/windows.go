package controller

import (
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/zephyr-analytics/zephscan/pkg/db"
	"github.com/zephyr-analytics/zephscan/pkg/reporter"
)

type windowsResponse struct {
	Scale reporter.Scale    `json:"scale"`
	Data  []reporter.Window `json:"data"`
	Count int               `json:"count"`

	// Next is the cursor of the following page, absent on the last one.
	Next *uint64 `json:"next,omitempty"`
}

// serveWindows answers /reserve-stats?scale=hour|day with OHLC windows over one page of
// heights. When more heights follow, the newest window is held back for the next page so
// no window is split across pages, unless it is the only one.
func (c *Controller) serveWindows(w http.ResponseWriter, r *http.Request, raw string) {
	scale, err := reporter.ParseScale(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	p, ok := c.page(w, r, db.SeriesReserveStats)
	if !ok {
		return
	}

	windows := []reporter.Window{}
	if !p.empty {
		key := fmt.Sprintf("windows:%s:%d:%d", scale, p.From, p.To)
		v, err := c.App.Cached(key, func() (any, error) {
			rc := &reporter.Context{Logger: c.App.Logger, Store: c.App.Store}
			return rc.ComputeWindows(r.Context(), scale, p.From, p.To)
		})
		if err != nil {
			c.App.Logger.Error("Window aggregation failed", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "query failed")
			return
		}
		windows = v.([]reporter.Window)
	}

	out := windowsResponse{Scale: scale, Data: windows, Count: len(windows)}
	out.Next = p.next(len(windows))
	if n := len(windows); p.more && n > 1 && windows[n-1].FirstBlock > p.From {
		held := windows[n-1].FirstBlock
		out.Data = windows[:n-1]
		out.Count = n - 1
		out.Next = &held
	}
	writeJSON(w, http.StatusOK, out)
}
