// Package session implements client-held session state for upstream affinity.
//
// A session token is an opaque value held by the client (today, in a cookie)
// that encodes the address of the upstream backend that served an earlier
// request. Token handling is total: arbitrary client input decodes to "no
// session", never to an error that disturbs request processing.
package session

import (
	"encoding/base64"
	"fmt"
	"net"
	"net/http"
)

// EncodeAddress renders an upstream address ("host:port") as an opaque token.
// Deterministic: the same address always yields the same token.
func EncodeAddress(addr string) string {
	return base64.StdEncoding.EncodeToString([]byte(addr))
}

// DecodeAddress reverses EncodeAddress. It returns ok=false for anything that
// is not a well-formed token: invalid base64, text that does not parse as
// host:port, a host that is empty or carries whitespace or control bytes, or
// a non-numeric or out-of-range port. It never panics, whatever bytes the
// client sends.
func DecodeAddress(token string) (string, bool) {
	raw, err := base64.StdEncoding.DecodeString(token)
	if err != nil {
		return "", false
	}
	addr := string(raw)
	host, port, err := net.SplitHostPort(addr)
	if err != nil || !validHost(host) {
		return "", false
	}
	if !validPort(port) {
		return "", false
	}
	return addr, true
}

// validHost accepts printable ASCII with no whitespace. Addresses come from
// our own configuration; anything looser only appears in forged tokens.
func validHost(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] <= ' ' || s[i] >= 0x7f {
			return false
		}
	}
	return true
}

func validPort(s string) bool {
	if s == "" || len(s) > 5 {
		return false
	}
	n := 0
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
		n = n*10 + int(c-'0')
	}
	return n <= 65535
}

// A State tracks the session of one request. States are created per request
// by a Factory and must never be shared across requests.
type State interface {
	// Upstream returns the backend address the client's token points at,
	// if the request carried a valid token.
	Upstream() (string, bool)

	// OnUpdate observes the backend that actually served the request. When
	// the client's token is missing, malformed, or points elsewhere, a
	// refreshed token is written to the response headers. It reports
	// whether a token was written.
	OnUpdate(upstream string, header http.Header) bool
}

// A Factory builds per-request session state from an inbound request.
type Factory interface {
	NewState(req *http.Request) State
}

// FactoryBuilder constructs a Factory from codec-specific configuration.
// Builders run at configuration load; an error here is fatal to startup.
type FactoryBuilder func(cfg Config) (Factory, error)

// Config selects a session codec by name and carries its settings.
type Config struct {
	Codec  string
	Cookie *CookieConfig
}

var builders = map[string]FactoryBuilder{}

// RegisterCodec makes a codec available under the given name. Codecs register
// from init; the map is read-only afterwards.
func RegisterCodec(name string, b FactoryBuilder) {
	builders[name] = b
}

// Registered reports whether a codec with the given name exists.
func Registered(name string) bool {
	_, ok := builders[name]
	return ok
}

// NewFactory builds the Factory selected by cfg.Codec.
func NewFactory(cfg Config) (Factory, error) {
	b, ok := builders[cfg.Codec]
	if !ok {
		return nil, fmt.Errorf("session: unknown codec %q", cfg.Codec)
	}
	return b(cfg)
}
