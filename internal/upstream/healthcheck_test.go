package upstream

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/lodestar-proxy/lodestar/internal/metrics"
)

// fakeDialer fails dials to addresses in its down set.
type fakeDialer struct {
	mu   sync.Mutex
	down map[string]bool
}

func (d *fakeDialer) setDown(addr string, down bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.down == nil {
		d.down = map[string]bool{}
	}
	d.down[addr] = down
}

func (d *fakeDialer) dial(_ context.Context, addr string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.down[addr] {
		return errors.New("connection refused")
	}
	return nil
}

func newTestChecker(t *testing.T, set *Set, reg prometheus.Registerer) (*Checker, *fakeDialer) {
	t.Helper()
	var m *metrics.UpstreamMetrics
	if reg != nil {
		m = metrics.NewUpstreamMetricsWithRegistry(reg)
	}
	c := NewChecker(CheckerOptions{Set: set, Metrics: m})
	d := &fakeDialer{}
	c.dial = d.dial
	return c, d
}

func TestSweepTransitionsHealth(t *testing.T) {
	cluster := mustCluster(t, "web", fourBackends())
	set, err := NewSet([]*Cluster{cluster})
	if err != nil {
		t.Fatalf("NewSet: %v", err)
	}

	reg := prometheus.NewRegistry()
	checker, dialer := newTestChecker(t, set, reg)

	dialer.setDown("127.0.0.1:50002", true)
	checker.Sweep(context.Background())

	healthy := cluster.Healthy()
	if len(healthy) != 3 {
		t.Fatalf("healthy = %v, want 3 members", healthy)
	}
	for _, addr := range healthy {
		if addr == "127.0.0.1:50002" {
			t.Fatal("down backend still healthy after sweep")
		}
	}

	dialer.setDown("127.0.0.1:50002", false)
	checker.Sweep(context.Background())
	if len(cluster.Healthy()) != 4 {
		t.Fatal("recovered backend not restored")
	}

	gauge, err := testutilGauge(reg)
	if err != nil {
		t.Fatalf("reading gauge: %v", err)
	}
	if gauge != 4 {
		t.Errorf("healthy_backends gauge = %v, want 4", gauge)
	}
}

func testutilGauge(g prometheus.Gatherer) (float64, error) {
	families, err := g.Gather()
	if err != nil {
		return 0, err
	}
	for _, mf := range families {
		if mf.GetName() == "lodestar_upstream_healthy_backends" {
			return mf.GetMetric()[0].GetGauge().GetValue(), nil
		}
	}
	return 0, errors.New("gauge not found")
}

func TestCheckerCountsProbes(t *testing.T) {
	cluster := mustCluster(t, "web", fourBackends())
	set, err := NewSet([]*Cluster{cluster})
	if err != nil {
		t.Fatalf("NewSet: %v", err)
	}

	reg := prometheus.NewRegistry()
	checker, dialer := newTestChecker(t, set, reg)
	dialer.setDown("127.0.0.1:50000", true)

	checker.Sweep(context.Background())

	if got := testutil.ToFloat64(checker.metrics.HealthChecksTotal.WithLabelValues("web", "unhealthy")); got != 1 {
		t.Errorf("unhealthy probes = %v, want 1", got)
	}
	if got := testutil.ToFloat64(checker.metrics.HealthChecksTotal.WithLabelValues("web", "healthy")); got != 3 {
		t.Errorf("healthy probes = %v, want 3", got)
	}
}

func TestSetReadiness(t *testing.T) {
	cluster := mustCluster(t, "web", fourBackends())
	set, err := NewSet([]*Cluster{cluster})
	if err != nil {
		t.Fatalf("NewSet: %v", err)
	}

	if err := set.CheckReady(context.Background()); err != nil {
		t.Errorf("expected ready, got %v", err)
	}

	for _, b := range cluster.Members() {
		cluster.SetHealth(b.Address, false)
	}
	err = set.CheckReady(context.Background())
	if err == nil {
		t.Fatal("expected readiness failure")
	}
	var nhb *NoHealthyBackendsError
	if !errors.As(err, &nhb) || nhb.Cluster != "web" {
		t.Errorf("unexpected error: %v", err)
	}
}
