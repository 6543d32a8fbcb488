package session

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// CodecCookie is the registered name of the cookie-based session codec.
const CodecCookie = "cookie"

func init() {
	RegisterCodec(CodecCookie, newCookieFactory)
}

// CookieConfig describes the cookie the session filter reads and writes.
type CookieConfig struct {
	// Name of the cookie. Required.
	Name string

	// Path attribute for emitted cookies. Omitted from Set-Cookie when empty.
	Path string

	// TTL becomes the Max-Age attribute, truncated to whole seconds. Zero
	// omits Max-Age, making the cookie live for the browser session.
	TTL time.Duration

	// Secure controls the Secure attribute. Nil means on. Kept as a knob
	// because some deployments terminate TLS upstream of the proxy and
	// still want the attribute off for plaintext test traffic.
	Secure *bool
}

func (c *CookieConfig) secure() bool {
	return c.Secure == nil || *c.Secure
}

type cookieFactory struct {
	cfg CookieConfig
}

func newCookieFactory(cfg Config) (Factory, error) {
	if cfg.Cookie == nil {
		return nil, errors.New("session: cookie codec requires cookie settings")
	}
	if cfg.Cookie.Name == "" {
		return nil, errors.New("session: cookie name must not be empty")
	}
	if cfg.Cookie.TTL < 0 {
		return nil, errors.New("session: cookie ttl must not be negative")
	}
	return &cookieFactory{cfg: *cfg.Cookie}, nil
}

// NewState reads the configured cookie from the request. net/http returns the
// first cookie when the client sent duplicates under the same name, and it
// strips surrounding double quotes from the value, so tokens emitted quoted
// by OnUpdate read back cleanly.
func (f *cookieFactory) NewState(req *http.Request) State {
	st := &cookieState{cfg: f.cfg}
	if c, err := req.Cookie(f.cfg.Name); err == nil {
		if addr, ok := DecodeAddress(c.Value); ok {
			st.upstream = addr
		}
	}
	return st
}

type cookieState struct {
	cfg      CookieConfig
	upstream string
}

func (s *cookieState) Upstream() (string, bool) {
	return s.upstream, s.upstream != ""
}

func (s *cookieState) OnUpdate(upstream string, header http.Header) bool {
	if upstream == s.upstream {
		// The token the client already holds is correct.
		return false
	}
	header.Add("Set-Cookie", s.setCookieValue(EncodeAddress(upstream)))
	return true
}

// setCookieValue renders the Set-Cookie header value by hand. The token is
// emitted quoted to match the form existing clients hold, and http.Cookie
// does not quote values.
func (s *cookieState) setCookieValue(token string) string {
	var b strings.Builder
	b.WriteString(s.cfg.Name)
	b.WriteString(`="`)
	b.WriteString(token)
	b.WriteString(`"`)
	if s.cfg.Path != "" {
		b.WriteString("; Path=")
		b.WriteString(s.cfg.Path)
	}
	if s.cfg.TTL > 0 {
		// Max-Age=0 would tell the client to drop the cookie immediately,
		// so an unset TTL yields a session cookie instead.
		b.WriteString("; Max-Age=")
		b.WriteString(strconv.FormatInt(int64(s.cfg.TTL/time.Second), 10))
	}
	b.WriteString("; HttpOnly")
	if s.cfg.secure() {
		b.WriteString("; Secure")
	}
	return b.String()
}
