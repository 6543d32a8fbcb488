package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ProxyMetrics holds metrics for request handling and session affinity.
type ProxyMetrics struct {
	// RequestsTotal counts proxied requests by route and outcome status.
	// Labels: route, status (e.g. "200", "502", "no_route", "no_upstream")
	RequestsTotal *prometheus.CounterVec

	// AffinityTotal counts backend selections by affinity outcome.
	// Labels: result (hinted, fallback, none)
	AffinityTotal *prometheus.CounterVec

	// CookiesIssuedTotal counts session cookies written to responses.
	CookiesIssuedTotal prometheus.Counter

	// RequestDuration observes end-to-end proxy latency per route.
	RequestDuration *prometheus.HistogramVec
}

// Affinity outcome label values.
const (
	AffinityHinted   = "hinted"
	AffinityFallback = "fallback"
	AffinityNone     = "none"
)

// NewProxyMetrics creates and registers proxy metrics with the default
// registry.
func NewProxyMetrics() *ProxyMetrics {
	return &ProxyMetrics{
		RequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "lodestar",
				Subsystem: "proxy",
				Name:      "requests_total",
				Help:      "Total number of proxied requests, broken down by route and status.",
			},
			[]string{"route", "status"},
		),
		AffinityTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "lodestar",
				Subsystem: "proxy",
				Name:      "affinity_total",
				Help:      "Backend selections by session affinity outcome.",
			},
			[]string{"result"},
		),
		CookiesIssuedTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: "lodestar",
				Subsystem: "proxy",
				Name:      "session_cookies_issued_total",
				Help:      "Total number of session cookies written to responses.",
			},
		),
		RequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "lodestar",
				Subsystem: "proxy",
				Name:      "request_duration_seconds",
				Help:      "End-to-end request latency through the proxy.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"route"},
		),
	}
}

// NewProxyMetricsWithRegistry creates proxy metrics registered with a custom
// registry. Useful for testing to avoid conflicts with the default registry.
func NewProxyMetricsWithRegistry(reg prometheus.Registerer) *ProxyMetrics {
	m := &ProxyMetrics{
		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "lodestar",
				Subsystem: "proxy",
				Name:      "requests_total",
				Help:      "Total number of proxied requests, broken down by route and status.",
			},
			[]string{"route", "status"},
		),
		AffinityTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "lodestar",
				Subsystem: "proxy",
				Name:      "affinity_total",
				Help:      "Backend selections by session affinity outcome.",
			},
			[]string{"result"},
		),
		CookiesIssuedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "lodestar",
				Subsystem: "proxy",
				Name:      "session_cookies_issued_total",
				Help:      "Total number of session cookies written to responses.",
			},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "lodestar",
				Subsystem: "proxy",
				Name:      "request_duration_seconds",
				Help:      "End-to-end request latency through the proxy.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"route"},
		),
	}
	reg.MustRegister(m.RequestsTotal, m.AffinityTotal, m.CookiesIssuedTotal, m.RequestDuration)
	return m
}
