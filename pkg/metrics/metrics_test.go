package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.Processed("pricing", 3)
		m.Skipped("pricing", "unavailable")
		m.RPC("get_block", nil)
		m.SetChainHeight(10)
		m.SetStageHeight("reserve", 9)
		m.SetReserveRatio(4.2)
		m.NegativeReserveSeen()
		m.ObserveStage("txs", 1)
	})
	assert.Nil(t, m.Registry())
}

func TestCountersAndHandler(t *testing.T) {
	m := New()
	m.Processed("pricing", 3)
	m.Skipped("reserve", "missing_reward")
	m.RPC("get_block", nil)
	m.RPC("get_block", errors.New("down"))
	m.SetStageHeight("reserve", 89310)

	assert.Equal(t, 3.0, testutil.ToFloat64(m.HeightsProcessed.WithLabelValues("pricing")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.HeightsSkipped.WithLabelValues("reserve", "missing_reward")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RPCRequests.WithLabelValues("get_block", "error")))
	assert.Equal(t, 89310.0, testutil.ToFloat64(m.StageHeight.WithLabelValues("reserve")))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "zephscan_heights_processed_total"))
}
