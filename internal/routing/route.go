package routing

import (
	"fmt"
	"net"
	"strings"

	"github.com/lodestar-proxy/lodestar/internal/session"
)

// RouteSpec describes one route as declared in configuration.
type RouteSpec struct {
	// Name identifies the route in logs and metrics.
	Name string

	// Host is the virtual-host domain this route belongs to. "*" (or empty)
	// places the route in the catch-all virtual host.
	Host string

	// Prefix is the path prefix the route matches. Must start with "/".
	Prefix string

	// Cluster names the upstream cluster requests are forwarded to.
	Cluster string

	// Session is the per-route session affinity policy.
	Session SessionPolicy
}

// Route is a compiled route. Immutable after the table is built and safe for
// concurrent use by any number of in-flight requests.
type Route struct {
	name    string
	prefix  string
	cluster string
	policy  SessionPolicy

	// overrideFactory is compiled from the policy's override configuration
	// at table-build time. Nil unless the policy is PolicyOverride.
	overrideFactory session.Factory
}

// Name returns the route's configured name.
func (r *Route) Name() string { return r.name }

// Cluster returns the name of the upstream cluster the route forwards to.
func (r *Route) Cluster() string { return r.cluster }

// Policy returns the route's session affinity policy.
func (r *Route) Policy() SessionPolicy { return r.policy }

// EffectiveSession resolves the session factory in force for this route
// against the listener-level factory. The second return is false when the
// route disables session logic; callers must then skip both token extraction
// and token emission. A nil factory with active=true means the listener has
// no session configuration either, which also amounts to inactive.
func (r *Route) EffectiveSession(listener session.Factory) (session.Factory, bool) {
	switch r.policy.kind {
	case PolicyDisabled:
		return nil, false
	case PolicyOverride:
		return r.overrideFactory, true
	default:
		return listener, true
	}
}

type virtualHost struct {
	domain string
	routes []*Route
}

// Table matches requests to routes. Built once from configuration and
// read-only afterwards; concurrent lookups need no synchronization.
type Table struct {
	hosts    map[string]*virtualHost
	wildcard *virtualHost
}

// NewTable compiles route specs into a matchable table. Override session
// configurations are compiled here; any error is a configuration error and
// must abort startup.
func NewTable(specs []RouteSpec) (*Table, error) {
	t := &Table{hosts: make(map[string]*virtualHost)}

	for i := range specs {
		spec := &specs[i]
		if spec.Prefix == "" || !strings.HasPrefix(spec.Prefix, "/") {
			return nil, fmt.Errorf("route %q: prefix must start with %q", spec.Name, "/")
		}
		if spec.Cluster == "" {
			return nil, fmt.Errorf("route %q: cluster must not be empty", spec.Name)
		}

		route := &Route{
			name:    spec.Name,
			prefix:  spec.Prefix,
			cluster: spec.Cluster,
			policy:  spec.Session,
		}
		if spec.Session.Kind() == PolicyOverride {
			factory, err := session.NewFactory(spec.Session.OverrideConfig())
			if err != nil {
				return nil, fmt.Errorf("route %q: %w", spec.Name, err)
			}
			route.overrideFactory = factory
		}

		domain := spec.Host
		if domain == "" {
			domain = "*"
		}
		if domain == "*" {
			if t.wildcard == nil {
				t.wildcard = &virtualHost{domain: "*"}
			}
			t.wildcard.routes = append(t.wildcard.routes, route)
			continue
		}
		vh, ok := t.hosts[domain]
		if !ok {
			vh = &virtualHost{domain: domain}
			t.hosts[domain] = vh
		}
		vh.routes = append(vh.routes, route)
	}

	return t, nil
}

// Match returns the route for the given request host and path, or nil when
// nothing matches.
func (t *Table) Match(host, path string) *Route {
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}

	if vh, ok := t.hosts[host]; ok {
		if r := vh.match(path); r != nil {
			return r
		}
	}
	if t.wildcard != nil {
		return t.wildcard.match(path)
	}
	return nil
}

// Routes returns every compiled route, used for startup validation of
// cluster references.
func (t *Table) Routes() []*Route {
	var out []*Route
	for _, vh := range t.hosts {
		out = append(out, vh.routes...)
	}
	if t.wildcard != nil {
		out = append(out, t.wildcard.routes...)
	}
	return out
}

// First matching prefix wins, in declaration order.
func (vh *virtualHost) match(path string) *Route {
	for _, r := range vh.routes {
		if strings.HasPrefix(path, r.prefix) {
			return r
		}
	}
	return nil
}
