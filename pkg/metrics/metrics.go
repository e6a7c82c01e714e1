// Package metrics exposes Prometheus collectors for the scanner stages.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "zephscan"

// Metrics holds every collector on a private registry. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	HeightsProcessed *prometheus.CounterVec
	HeightsSkipped   *prometheus.CounterVec
	RPCRequests      *prometheus.CounterVec
	NegativeReserve  prometheus.Counter

	ChainHeight  prometheus.Gauge
	StageHeight  *prometheus.GaugeVec
	ReserveRatio prometheus.Gauge

	StageDuration *prometheus.HistogramVec

	registry *prometheus.Registry
}

// New registers all collectors on a fresh registry.
func New() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}

	m.HeightsProcessed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "heights_processed_total",
		Help:      "Heights committed per stage",
	}, []string{"stage"})

	m.HeightsSkipped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "heights_skipped_total",
		Help:      "Heights or transactions skipped per stage and reason",
	}, []string{"stage", "reason"})

	m.RPCRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "rpc_requests_total",
		Help:      "Node RPC calls by method and result",
	}, []string{"method", "result"})

	m.NegativeReserve = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "negative_reserve_heights_total",
		Help:      "Heights whose reconstructed reserve pool went below zero",
	})

	m.ChainHeight = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "chain_height",
		Help:      "Last chain height reported by the node",
	})

	m.StageHeight = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "stage_height",
		Help:      "Last height committed per stage",
	}, []string{"stage"})

	m.ReserveRatio = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "reserve_ratio",
		Help:      "Reserve ratio at the last committed height",
	})

	m.StageDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "stage_duration_seconds",
		Help:      "Wall time of one stage run",
		Buckets:   prometheus.ExponentialBuckets(0.5, 2, 12),
	}, []string{"stage"})

	m.registry.MustRegister(
		m.HeightsProcessed,
		m.HeightsSkipped,
		m.RPCRequests,
		m.NegativeReserve,
		m.ChainHeight,
		m.StageHeight,
		m.ReserveRatio,
		m.StageDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) Processed(stage string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.HeightsProcessed.WithLabelValues(stage).Add(float64(n))
}

func (m *Metrics) Skipped(stage, reason string) {
	if m == nil {
		return
	}
	m.HeightsSkipped.WithLabelValues(stage, reason).Inc()
}

func (m *Metrics) RPC(method string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.RPCRequests.WithLabelValues(method, result).Inc()
}

func (m *Metrics) SetChainHeight(h uint64) {
	if m == nil {
		return
	}
	m.ChainHeight.Set(float64(h))
}

func (m *Metrics) SetStageHeight(stage string, h uint64) {
	if m == nil {
		return
	}
	m.StageHeight.WithLabelValues(stage).Set(float64(h))
}

func (m *Metrics) SetReserveRatio(v float64) {
	if m == nil {
		return
	}
	m.ReserveRatio.Set(v)
}

func (m *Metrics) NegativeReserveSeen() {
	if m == nil {
		return
	}
	m.NegativeReserve.Inc()
}

func (m *Metrics) ObserveStage(stage string, seconds float64) {
	if m == nil {
		return
	}
	m.StageDuration.WithLabelValues(stage).Observe(seconds)
}
