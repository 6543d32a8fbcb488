// Package routing implements virtual-host route matching and per-route
// session policy resolution.
//
// Route Matching
//
// Inbound requests are matched against virtual hosts by the request's Host
// header (the port, if any, is ignored). Within a virtual host, routes are
// tried in declaration order and the first route whose path prefix matches
// wins. A virtual host with the domain "*" catches requests that match no
// other domain.
//
// Session Policy
//
// Every route carries a session affinity policy with exactly three states:
//
//   - inherit:  the listener-level session configuration applies
//   - disabled: no session logic runs for requests on this route
//   - override: a route-specific configuration wholly replaces the
//     listener-level one (no field-by-field merging)
//
// Policies are resolved once per request and are immutable afterwards.
// Override configurations are validated and compiled when the route table is
// built, so a malformed override is fatal at load time and can never surface
// as a per-request error.
package routing
