// Package filter implements the stateful-session filter that gives clients
// sticky upstream assignments through an opaque, client-held token.
//
// The filter runs in two phases around one proxied exchange. The request
// phase resolves the route's session policy and extracts a preferred-backend
// hint from the client's token; the response phase compares the backend that
// actually served the request against that hint and refreshes the client's
// token when they differ. The filter itself holds no state; everything
// per-request lives in the Exchange, which is discarded when the request
// completes.
package filter

import (
	"net/http"

	"github.com/lodestar-proxy/lodestar/internal/routing"
	"github.com/lodestar-proxy/lodestar/internal/session"
	"github.com/lodestar-proxy/lodestar/internal/upstream"
)

// StatefulSession applies session affinity around proxied exchanges. Safe
// for concurrent use; one instance serves all requests.
type StatefulSession struct {
	// listener is the listener-level session factory. Nil when the
	// listener has no session configuration, in which case only routes
	// with an override run session logic.
	listener session.Factory
}

// New creates the filter with the given listener-level factory.
func New(listener session.Factory) *StatefulSession {
	return &StatefulSession{listener: listener}
}

// Exchange carries the filter's request-scoped state across the two phases.
// The zero value is an inactive exchange.
type Exchange struct {
	active bool
	state  session.State
	hint   *upstream.OverrideHint
}

// OnRequest runs the request phase for a request matched to route. A nil
// route behaves like an inherit policy. The returned Exchange is never nil.
func (f *StatefulSession) OnRequest(req *http.Request, route *routing.Route) *Exchange {
	factory := f.listener
	active := true
	if route != nil {
		factory, active = route.EffectiveSession(f.listener)
	}
	if !active || factory == nil {
		return &Exchange{}
	}

	ex := &Exchange{active: true, state: factory.NewState(req)}
	if addr, ok := ex.state.Upstream(); ok {
		ex.hint = &upstream.OverrideHint{Address: addr}
	}
	return ex
}

// Active reports whether session logic runs for this exchange. False when
// the route disabled it or no configuration applies.
func (ex *Exchange) Active() bool {
	return ex.active
}

// Hint returns the preferred-backend hint extracted from the request, or nil.
// The hint is read-only to the consumer and never outlives the request.
func (ex *Exchange) Hint() *upstream.OverrideHint {
	return ex.hint
}

// OnResponse runs the response phase: given the backend that actually served
// the request, it writes a refreshed token to the response headers when the
// client's token is missing, malformed, or points at a different backend.
// Reports whether a token was written. A no-op for inactive exchanges and
// when no backend was reached.
func (ex *Exchange) OnResponse(selected string, header http.Header) bool {
	if !ex.active || selected == "" {
		return false
	}
	return ex.state.OnUpdate(selected, header)
}
