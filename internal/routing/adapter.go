package routing

import (
	"time"

	"github.com/lodestar-proxy/lodestar/internal/config"
	"github.com/lodestar-proxy/lodestar/internal/session"
)

// SessionFromConfig converts the configuration schema's session state into
// the session package's configuration type.
func SessionFromConfig(sc config.SessionStateConfig) session.Config {
	out := session.Config{Codec: sc.Codec}
	if sc.Cookie != nil {
		out.Cookie = &session.CookieConfig{
			Name:   sc.Cookie.Name,
			Path:   sc.Cookie.Path,
			TTL:    time.Duration(sc.Cookie.TTLSeconds) * time.Second,
			Secure: sc.Cookie.Secure,
		}
	}
	return out
}

// SpecsFromConfig converts configured routes into route specs ready for
// NewTable. The configuration is assumed validated.
func SpecsFromConfig(cfg *config.Config) []RouteSpec {
	specs := make([]RouteSpec, 0, len(cfg.Routes))
	for _, r := range cfg.Routes {
		spec := RouteSpec{
			Name:    r.Name,
			Host:    r.Host,
			Prefix:  r.Prefix,
			Cluster: r.Cluster,
		}
		switch {
		case r.Session == nil:
			spec.Session = InheritSession()
		case r.Session.Disabled:
			spec.Session = DisableSession()
		default:
			spec.Session = OverrideSession(SessionFromConfig(r.Session.StatefulSession.SessionState))
		}
		specs = append(specs, spec)
	}
	return specs
}
