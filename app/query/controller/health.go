package controller

import (
	"net/http"

	"github.com/zephyr-analytics/zephscan/pkg/db"
)

func (c *Controller) HandleHealth(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if c.App.Redis != nil {
		if err := c.App.Redis.Health(ctx); err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"status": "errored", "error": "redis connection error"})
			return
		}
	}

	height, ok, err := c.App.Store.Progress(ctx, db.ProgressReserve)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"status": "errored", "error": "store error"})
		return
	}

	out := map[string]any{"status": "ok"}
	if ok {
		out["reserve_height"] = height
	}
	writeJSON(w, http.StatusOK, out)
}
