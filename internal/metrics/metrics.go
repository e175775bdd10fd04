// Package metrics exposes the gateway's Prometheus metrics (spec §6). The
// collector itself holds no business logic — the Forwarder and the
// ingress layer call into it at the points spec §6 names.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles the four counters/histograms spec §6 requires. A zero
// Metrics value is not usable; always construct with New.
type Metrics struct {
	registry *prometheus.Registry

	RequestsTotal    *prometheus.CounterVec
	ErrorsTotal      *prometheus.CounterVec
	FallbackTotal    *prometheus.CounterVec
	UpstreamLatency  *prometheus.HistogramVec
}

// New registers and returns a fresh metric set on its own registry, so
// multiple Apex instances in one process (as in tests) never collide on
// the default global registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry: reg,
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "apex_requests_total",
			Help: "Total requests routed, labeled by router, model, and outcome.",
		}, []string{"router", "model", "status"}),
		ErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "apex_errors_total",
			Help: "Total requests that ended in an error response, labeled by error code.",
		}, []string{"router", "code"}),
		FallbackTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "apex_fallback_total",
			Help: "Total times the Forwarder failed over from one channel to the next.",
		}, []string{"router", "from_channel", "to_channel"}),
		UpstreamLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "apex_upstream_latency_ms",
			Help:    "Upstream provider response latency in milliseconds, up to first response byte.",
			Buckets: []float64{25, 50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000},
		}, []string{"router", "channel"}),
	}

	reg.MustRegister(m.RequestsTotal, m.ErrorsTotal, m.FallbackTotal, m.UpstreamLatency)
	return m
}

// Handler returns the /metrics HTTP handler for this Metrics' registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
