package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// UpstreamMetrics holds metrics for upstream cluster membership and health.
type UpstreamMetrics struct {
	// HealthyBackends tracks the number of healthy backends per cluster.
	HealthyBackends *prometheus.GaugeVec

	// HealthChecksTotal counts health probe results.
	// Labels: cluster, result (healthy, unhealthy)
	HealthChecksTotal *prometheus.CounterVec

	// UpstreamErrorsTotal counts upstream round-trip failures per cluster.
	UpstreamErrorsTotal *prometheus.CounterVec
}

// NewUpstreamMetrics creates and registers upstream metrics with the default
// registry.
func NewUpstreamMetrics() *UpstreamMetrics {
	return &UpstreamMetrics{
		HealthyBackends: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "lodestar",
				Subsystem: "upstream",
				Name:      "healthy_backends",
				Help:      "Number of backends currently considered healthy, per cluster.",
			},
			[]string{"cluster"},
		),
		HealthChecksTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "lodestar",
				Subsystem: "upstream",
				Name:      "health_checks_total",
				Help:      "Health probe results, broken down by cluster and result.",
			},
			[]string{"cluster", "result"},
		),
		UpstreamErrorsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "lodestar",
				Subsystem: "upstream",
				Name:      "errors_total",
				Help:      "Upstream round-trip failures, per cluster.",
			},
			[]string{"cluster"},
		),
	}
}

// NewUpstreamMetricsWithRegistry creates upstream metrics registered with a
// custom registry. Useful for testing to avoid conflicts with the default
// registry.
func NewUpstreamMetricsWithRegistry(reg prometheus.Registerer) *UpstreamMetrics {
	m := &UpstreamMetrics{
		HealthyBackends: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "lodestar",
				Subsystem: "upstream",
				Name:      "healthy_backends",
				Help:      "Number of backends currently considered healthy, per cluster.",
			},
			[]string{"cluster"},
		),
		HealthChecksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "lodestar",
				Subsystem: "upstream",
				Name:      "health_checks_total",
				Help:      "Health probe results, broken down by cluster and result.",
			},
			[]string{"cluster", "result"},
		),
		UpstreamErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "lodestar",
				Subsystem: "upstream",
				Name:      "errors_total",
				Help:      "Upstream round-trip failures, per cluster.",
			},
			[]string{"cluster"},
		),
	}
	reg.MustRegister(m.HealthyBackends, m.HealthChecksTotal, m.UpstreamErrorsTotal)
	return m
}
