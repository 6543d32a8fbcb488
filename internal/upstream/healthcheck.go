package upstream

import (
	"context"
	"net"
	"time"

	"github.com/lodestar-proxy/lodestar/internal/logging"
	"github.com/lodestar-proxy/lodestar/internal/metrics"
)

// DefaultCheckInterval is how often backends are probed when the interval is
// not configured.
const DefaultCheckInterval = 5 * time.Second

// DefaultCheckTimeout bounds a single probe.
const DefaultCheckTimeout = 2 * time.Second

// Checker periodically probes every backend of every cluster with a TCP dial
// and records health transitions.
type Checker struct {
	set      *Set
	interval time.Duration
	timeout  time.Duration
	logger   *logging.Logger
	metrics  *metrics.UpstreamMetrics

	// dial is swappable for tests.
	dial func(ctx context.Context, addr string) error
}

// CheckerOptions configures a Checker.
type CheckerOptions struct {
	Set      *Set
	Interval time.Duration
	Timeout  time.Duration
	Logger   *logging.Logger
	Metrics  *metrics.UpstreamMetrics
}

// NewChecker creates a health checker for the given cluster set.
func NewChecker(opts CheckerOptions) *Checker {
	c := &Checker{
		set:      opts.Set,
		interval: opts.Interval,
		timeout:  opts.Timeout,
		logger:   opts.Logger,
		metrics:  opts.Metrics,
	}
	if c.interval <= 0 {
		c.interval = DefaultCheckInterval
	}
	if c.timeout <= 0 {
		c.timeout = DefaultCheckTimeout
	}
	if c.logger == nil {
		c.logger = logging.Global()
	}
	c.logger = c.logger.WithComponent("healthcheck")
	c.dial = func(ctx context.Context, addr string) error {
		d := net.Dialer{}
		conn, err := d.DialContext(ctx, "tcp", addr)
		if err != nil {
			return err
		}
		return conn.Close()
	}
	return c
}

// Run probes all backends on a fixed interval until ctx is cancelled. An
// initial sweep runs immediately so readiness does not wait a full interval.
func (c *Checker) Run(ctx context.Context) {
	c.Sweep(ctx)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Sweep(ctx)
		}
	}
}

// Sweep probes every backend of every cluster once.
func (c *Checker) Sweep(ctx context.Context) {
	for _, cluster := range c.set.All() {
		for _, b := range cluster.Members() {
			c.probe(ctx, cluster, b.Address)
		}
		if c.metrics != nil {
			c.metrics.HealthyBackends.WithLabelValues(cluster.Name()).Set(float64(len(cluster.Healthy())))
		}
	}
}

func (c *Checker) probe(ctx context.Context, cluster *Cluster, addr string) {
	probeCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	err := c.dial(probeCtx, addr)
	healthy := err == nil

	if c.metrics != nil {
		result := "healthy"
		if !healthy {
			result = "unhealthy"
		}
		c.metrics.HealthChecksTotal.WithLabelValues(cluster.Name(), result).Inc()
	}

	if cluster.SetHealth(addr, healthy) {
		fields := map[string]any{"cluster": cluster.Name(), "backend": addr}
		if healthy {
			c.logger.Infof("backend recovered", fields)
		} else {
			if err != nil {
				fields["error"] = err.Error()
			}
			c.logger.Warnf("backend marked unhealthy", fields)
		}
	}
}

// Name implements the readiness check interface for the cluster set.
func (s *Set) Name() string { return "upstream" }

// CheckReady reports ready when every cluster has at least one healthy
// member.
func (s *Set) CheckReady(ctx context.Context) error {
	for _, c := range s.ordered {
		if len(c.Healthy()) == 0 {
			return &NoHealthyBackendsError{Cluster: c.name}
		}
	}
	return nil
}

// NoHealthyBackendsError reports a cluster whose members are all unhealthy.
type NoHealthyBackendsError struct {
	Cluster string
}

func (e *NoHealthyBackendsError) Error() string {
	return "no healthy backends in cluster " + e.Cluster
}
