package session

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func newCookieTestFactory(t *testing.T, cfg CookieConfig) Factory {
	t.Helper()
	f, err := NewFactory(Config{Codec: CodecCookie, Cookie: &cfg})
	if err != nil {
		t.Fatalf("NewFactory: %v", err)
	}
	return f
}

func requestWithCookieHeader(value string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "http://stateful.session.test/test", nil)
	if value != "" {
		req.Header.Set("Cookie", value)
	}
	return req
}

func TestCookieFactoryValidation(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"missing cookie settings", Config{Codec: CodecCookie}},
		{"empty name", Config{Codec: CodecCookie, Cookie: &CookieConfig{}}},
		{"negative ttl", Config{Codec: CodecCookie, Cookie: &CookieConfig{Name: "s", TTL: -time.Second}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewFactory(tt.cfg); err == nil {
				t.Error("expected configuration error")
			}
		})
	}
}

func TestCookieStateUpstream(t *testing.T) {
	f := newCookieTestFactory(t, CookieConfig{Name: "global-session-cookie", TTL: 120 * time.Second})
	token := EncodeAddress("127.0.0.1:50001")

	tests := []struct {
		name     string
		cookie   string
		wantAddr string
		wantOK   bool
	}{
		{"no cookie header", "", "", false},
		{"plain value", "global-session-cookie=" + token, "127.0.0.1:50001", true},
		{"quoted value", `global-session-cookie="` + token + `"`, "127.0.0.1:50001", true},
		{"wrong name", "other-cookie=" + token, "", false},
		{"malformed token", "global-session-cookie=%%%garbage%%%", "", false},
		{"valid base64, not an address", "global-session-cookie=aGVsbG8=", "", false},
		{
			"first of duplicates wins",
			"global-session-cookie=" + token + "; global-session-cookie=" + EncodeAddress("127.0.0.1:50002"),
			"127.0.0.1:50001", true,
		},
		{
			"matching cookie after unrelated ones",
			"theme=dark; global-session-cookie=" + token,
			"127.0.0.1:50001", true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := f.NewState(requestWithCookieHeader(tt.cookie))
			addr, ok := st.Upstream()
			if ok != tt.wantOK || addr != tt.wantAddr {
				t.Errorf("Upstream() = (%q, %v), want (%q, %v)", addr, ok, tt.wantAddr, tt.wantOK)
			}
		})
	}
}

func TestCookieStateOnUpdate(t *testing.T) {
	cfg := CookieConfig{Name: "global-session-cookie", Path: "/path", TTL: 120 * time.Second}
	f := newCookieTestFactory(t, cfg)
	token := EncodeAddress("127.0.0.1:50001")

	t.Run("fresh session issues cookie", func(t *testing.T) {
		st := f.NewState(requestWithCookieHeader(""))
		header := http.Header{}
		if !st.OnUpdate("127.0.0.1:50003", header) {
			t.Fatal("expected a token to be written")
		}
		want := `global-session-cookie="` + EncodeAddress("127.0.0.1:50003") + `"; Path=/path; Max-Age=120; HttpOnly; Secure`
		if got := header.Get("Set-Cookie"); got != want {
			t.Errorf("Set-Cookie = %q, want %q", got, want)
		}
		if n := len(header.Values("Set-Cookie")); n != 1 {
			t.Errorf("Set-Cookie emitted %d times, want 1", n)
		}
	})

	t.Run("matching upstream emits nothing", func(t *testing.T) {
		st := f.NewState(requestWithCookieHeader("global-session-cookie=" + token))
		header := http.Header{}
		if st.OnUpdate("127.0.0.1:50001", header) {
			t.Fatal("token should not have been refreshed")
		}
		if len(header.Values("Set-Cookie")) != 0 {
			t.Error("unexpected Set-Cookie header")
		}
	})

	t.Run("differing upstream refreshes token", func(t *testing.T) {
		st := f.NewState(requestWithCookieHeader("global-session-cookie=" + token))
		header := http.Header{}
		if !st.OnUpdate("127.0.0.1:50002", header) {
			t.Fatal("expected a refreshed token")
		}
		want := `global-session-cookie="` + EncodeAddress("127.0.0.1:50002") + `"; Path=/path; Max-Age=120; HttpOnly; Secure`
		if got := header.Get("Set-Cookie"); got != want {
			t.Errorf("Set-Cookie = %q, want %q", got, want)
		}
	})
}

func TestCookieStateSetCookieAttributes(t *testing.T) {
	off := false

	t.Run("path omitted when unconfigured", func(t *testing.T) {
		f := newCookieTestFactory(t, CookieConfig{Name: "s", TTL: 30 * time.Second})
		header := http.Header{}
		f.NewState(requestWithCookieHeader("")).OnUpdate("127.0.0.1:50000", header)
		want := `s="` + EncodeAddress("127.0.0.1:50000") + `"; Max-Age=30; HttpOnly; Secure`
		if got := header.Get("Set-Cookie"); got != want {
			t.Errorf("Set-Cookie = %q, want %q", got, want)
		}
	})

	t.Run("secure can be disabled", func(t *testing.T) {
		f := newCookieTestFactory(t, CookieConfig{Name: "s", TTL: 30 * time.Second, Secure: &off})
		header := http.Header{}
		f.NewState(requestWithCookieHeader("")).OnUpdate("127.0.0.1:50000", header)
		want := `s="` + EncodeAddress("127.0.0.1:50000") + `"; Max-Age=30; HttpOnly`
		if got := header.Get("Set-Cookie"); got != want {
			t.Errorf("Set-Cookie = %q, want %q", got, want)
		}
	})

	t.Run("zero ttl yields a session cookie", func(t *testing.T) {
		f := newCookieTestFactory(t, CookieConfig{Name: "s"})
		header := http.Header{}
		f.NewState(requestWithCookieHeader("")).OnUpdate("127.0.0.1:50000", header)
		want := `s="` + EncodeAddress("127.0.0.1:50000") + `"; HttpOnly; Secure`
		if got := header.Get("Set-Cookie"); got != want {
			t.Errorf("Set-Cookie = %q, want %q", got, want)
		}
		if strings.Contains(header.Get("Set-Cookie"), "Max-Age") {
			t.Error("zero TTL must not emit Max-Age")
		}
	})
}
