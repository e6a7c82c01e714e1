package controller

import (
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/zephyr-analytics/zephscan/pkg/reporter"
)

// HandleStats returns the conversion and reward summary of a height range.
func (c *Controller) HandleStats(w http.ResponseWriter, r *http.Request) {
	spec, err := parseRange(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	key := fmt.Sprintf("stats:%d:%d", spec.From, spec.To)
	v, err := c.App.Cached(key, func() (any, error) {
		rc := &reporter.Context{Logger: c.App.Logger, Store: c.App.Store}
		return rc.ComputeTxStats(r.Context(), spec.From, spec.To)
	})
	if err != nil {
		c.App.Logger.Error("Tx stats failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}
	writeJSON(w, http.StatusOK, v)
}
