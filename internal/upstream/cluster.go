// Package upstream tracks cluster membership and selects backends for
// proxied requests.
//
// The health view of a cluster is mutated concurrently by health checking
// while requests read it. Selection reads an immutable snapshot swapped in
// atomically on every health transition, so picking a backend never blocks
// and tolerates a view that is microseconds stale.
package upstream

import (
	"fmt"
	"net"
	"sort"
	"sync"
	"sync/atomic"
)

// Backend is one upstream endpoint.
type Backend struct {
	// Address is the endpoint's host:port.
	Address string
}

// OverrideHint is a request-scoped preferred-backend signal. It is written
// once by the session filter, read once during backend selection, and never
// retained beyond the request. A hint naming a backend that is unknown or
// unhealthy is silently ignored; that is an ordinary fallback, not an error.
type OverrideHint struct {
	Address string
}

// snapshot is an immutable view of the healthy members of a cluster.
type snapshot struct {
	members []Backend
	index   map[string]int
}

// Cluster is a named set of backends with a concurrently updated health view.
type Cluster struct {
	name string
	next atomic.Uint64

	mu      sync.Mutex // serializes health transitions
	health  map[string]bool
	members []Backend
	healthy atomic.Pointer[snapshot]
}

// NewCluster creates a cluster whose backends all start healthy. Backend
// addresses must be well-formed host:port strings; duplicates are rejected.
func NewCluster(name string, backends []Backend) (*Cluster, error) {
	if name == "" {
		return nil, fmt.Errorf("upstream: cluster name must not be empty")
	}
	if len(backends) == 0 {
		return nil, fmt.Errorf("upstream: cluster %q has no backends", name)
	}

	c := &Cluster{
		name:    name,
		health:  make(map[string]bool, len(backends)),
		members: make([]Backend, 0, len(backends)),
	}
	for _, b := range backends {
		if _, _, err := net.SplitHostPort(b.Address); err != nil {
			return nil, fmt.Errorf("upstream: cluster %q: bad backend address %q: %w", name, b.Address, err)
		}
		if _, dup := c.health[b.Address]; dup {
			return nil, fmt.Errorf("upstream: cluster %q: duplicate backend %q", name, b.Address)
		}
		c.health[b.Address] = true
		c.members = append(c.members, b)
	}
	c.rebuild()
	return c, nil
}

// Name returns the cluster's name.
func (c *Cluster) Name() string { return c.name }

// Pick selects a backend for one request. A hint naming a currently healthy
// member is honored directly, bypassing the default algorithm; otherwise
// selection falls back to round-robin over the healthy set. ok is false only
// when no member is healthy.
func (c *Cluster) Pick(hint *OverrideHint) (Backend, bool) {
	snap := c.healthy.Load()
	if snap == nil || len(snap.members) == 0 {
		return Backend{}, false
	}
	if hint != nil {
		if i, ok := snap.index[hint.Address]; ok {
			return snap.members[i], true
		}
	}
	n := c.next.Add(1) - 1
	return snap.members[int(n%uint64(len(snap.members)))], true
}

// SetHealth records a health transition for the given backend. Addresses not
// in the cluster are ignored. Reports whether the state changed.
func (c *Cluster) SetHealth(addr string, healthy bool) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	cur, ok := c.health[addr]
	if !ok || cur == healthy {
		return false
	}
	c.health[addr] = healthy
	c.rebuild()
	return true
}

// rebuild swaps in a fresh healthy-member snapshot. Callers hold c.mu, except
// during construction.
func (c *Cluster) rebuild() {
	snap := &snapshot{index: make(map[string]int)}
	for _, b := range c.members {
		if c.health[b.Address] {
			snap.index[b.Address] = len(snap.members)
			snap.members = append(snap.members, b)
		}
	}
	c.healthy.Store(snap)
}

// Healthy returns the addresses of the currently healthy members, sorted.
func (c *Cluster) Healthy() []string {
	snap := c.healthy.Load()
	out := make([]string, 0, len(snap.members))
	for _, b := range snap.members {
		out = append(out, b.Address)
	}
	sort.Strings(out)
	return out
}

// Members returns every configured backend, healthy or not.
func (c *Cluster) Members() []Backend {
	out := make([]Backend, len(c.members))
	copy(out, c.members)
	return out
}

// Set is an immutable collection of clusters keyed by name.
type Set struct {
	clusters map[string]*Cluster
	ordered  []*Cluster
}

// NewSet builds a cluster set. Cluster names must be unique.
func NewSet(clusters []*Cluster) (*Set, error) {
	s := &Set{clusters: make(map[string]*Cluster, len(clusters))}
	for _, c := range clusters {
		if _, dup := s.clusters[c.name]; dup {
			return nil, fmt.Errorf("upstream: duplicate cluster %q", c.name)
		}
		s.clusters[c.name] = c
		s.ordered = append(s.ordered, c)
	}
	return s, nil
}

// Get returns the named cluster, or nil.
func (s *Set) Get(name string) *Cluster {
	return s.clusters[name]
}

// All returns the clusters in declaration order.
func (s *Set) All() []*Cluster {
	return s.ordered
}
