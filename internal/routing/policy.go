package routing

import (
	"github.com/lodestar-proxy/lodestar/internal/session"
)

// PolicyKind distinguishes the three per-route session policy variants.
type PolicyKind int

const (
	// PolicyInherit applies the listener-level session configuration.
	PolicyInherit PolicyKind = iota

	// PolicyDisabled turns session affinity off for the route entirely.
	PolicyDisabled

	// PolicyOverride replaces the listener-level configuration wholesale.
	PolicyOverride
)

func (k PolicyKind) String() string {
	switch k {
	case PolicyInherit:
		return "inherit"
	case PolicyDisabled:
		return "disabled"
	case PolicyOverride:
		return "override"
	default:
		return "unknown"
	}
}

// SessionPolicy is the per-route session affinity policy. The zero value is
// the inherit policy.
type SessionPolicy struct {
	kind     PolicyKind
	override session.Config
}

// InheritSession returns the policy that defers to the listener configuration.
func InheritSession() SessionPolicy {
	return SessionPolicy{kind: PolicyInherit}
}

// DisableSession returns the policy that disables session logic for a route.
func DisableSession() SessionPolicy {
	return SessionPolicy{kind: PolicyDisabled}
}

// OverrideSession returns the policy that replaces the listener configuration
// with cfg for requests on this route.
func OverrideSession(cfg session.Config) SessionPolicy {
	return SessionPolicy{kind: PolicyOverride, override: cfg}
}

// Kind returns which variant this policy is.
func (p SessionPolicy) Kind() PolicyKind {
	return p.kind
}

// OverrideConfig returns the override configuration. Only meaningful when
// Kind is PolicyOverride.
func (p SessionPolicy) OverrideConfig() session.Config {
	return p.override
}
