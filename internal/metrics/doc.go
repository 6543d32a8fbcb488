// Package metrics defines the Prometheus metrics exported by lodestar and
// the HTTP server that exposes them.
//
// Metrics are grouped per concern: proxy request handling and session
// affinity outcomes in proxy.go, upstream cluster health in upstream.go.
// Every group has a promauto constructor for the default registry and a
// WithRegistry variant for tests.
package metrics
