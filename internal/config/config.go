// Package config provides configuration loading and validation for lodestar.
// Supports YAML files with environment variable overrides.
//
// Validation is deliberately strict and runs once at startup: a malformed
// configuration aborts the process before any request can reach the data
// plane, so configuration errors never surface as per-request failures.
package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/lodestar-proxy/lodestar/internal/session"
)

// Config holds all configuration for a lodestar proxy.
type Config struct {
	Listener      ListenerConfig      `yaml:"listener"`
	SessionState  *SessionStateConfig `yaml:"sessionState"`
	Clusters      []ClusterConfig     `yaml:"clusters"`
	Routes        []RouteConfig       `yaml:"routes"`
	HealthCheck   HealthCheckConfig   `yaml:"healthCheck"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ListenerConfig configures the data-plane listener.
type ListenerConfig struct {
	Addr        string `yaml:"addr" env:"LODESTAR_LISTEN_ADDR"`
	Compression bool   `yaml:"compression" env:"LODESTAR_COMPRESSION"`
}

// SessionStateConfig selects the session codec and its settings. The same
// shape appears at the listener level and inside per-route overrides.
type SessionStateConfig struct {
	Codec  string        `yaml:"codec"`
	Cookie *CookieConfig `yaml:"cookie"`
}

// CookieConfig configures the cookie codec.
type CookieConfig struct {
	Name       string `yaml:"name"`
	Path       string `yaml:"path"`
	TTLSeconds int64  `yaml:"ttlSeconds"`
	Secure     *bool  `yaml:"secure"`
}

// ClusterConfig declares one upstream cluster.
type ClusterConfig struct {
	Name     string   `yaml:"name"`
	Backends []string `yaml:"backends"`
}

// RouteConfig declares one route of a virtual host.
type RouteConfig struct {
	Name    string              `yaml:"name"`
	Host    string              `yaml:"host"`
	Prefix  string              `yaml:"prefix"`
	Cluster string              `yaml:"cluster"`
	Session *RouteSessionConfig `yaml:"session"`
}

// RouteSessionConfig is the per-route session policy: either disabled, or a
// full replacement of the listener-level session state. Exactly one may be
// set; omitting both inherits the listener configuration.
type RouteSessionConfig struct {
	Disabled        bool                   `yaml:"disabled"`
	StatefulSession *StatefulSessionConfig `yaml:"statefulSession"`
}

// StatefulSessionConfig wraps the replacement session state of an override.
type StatefulSessionConfig struct {
	SessionState SessionStateConfig `yaml:"sessionState"`
}

// HealthCheckConfig configures upstream health probing.
type HealthCheckConfig struct {
	IntervalMs int64 `yaml:"intervalMs" env:"LODESTAR_HEALTH_INTERVAL_MS"`
	TimeoutMs  int64 `yaml:"timeoutMs" env:"LODESTAR_HEALTH_TIMEOUT_MS"`
}

// ObservabilityConfig configures metrics, health endpoints and logging.
type ObservabilityConfig struct {
	MetricsAddr    string `yaml:"metricsAddr" env:"LODESTAR_METRICS_ADDR"`
	HealthAddr     string `yaml:"healthAddr" env:"LODESTAR_HEALTH_ADDR"`
	GRPCHealthAddr string `yaml:"grpcHealthAddr" env:"LODESTAR_GRPC_HEALTH_ADDR"`
	LogLevel       string `yaml:"logLevel" env:"LODESTAR_LOG_LEVEL"`
	LogFormat      string `yaml:"logFormat" env:"LODESTAR_LOG_FORMAT"`
}

// Default returns a Config with sensible defaults. Clusters and routes have
// no defaults; they must come from the configuration file.
func Default() *Config {
	return &Config{
		Listener: ListenerConfig{
			Addr: ":8080",
		},
		HealthCheck: HealthCheckConfig{
			IntervalMs: 5000,
			TimeoutMs:  2000,
		},
		Observability: ObservabilityConfig{
			MetricsAddr: ":9090",
			HealthAddr:  ":9901",
			LogLevel:    "info",
			LogFormat:   "json",
		},
	}
}

// Load builds configuration from defaults and environment overrides. When
// LODESTAR_CONFIG is set it names the configuration file to load first.
func Load() (*Config, error) {
	if path := os.Getenv("LODESTAR_CONFIG"); path != "" {
		return LoadFromPath(path)
	}
	cfg := Default()
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromPath loads configuration from a YAML file, applying defaults
// first and environment overrides after. Unknown YAML fields are an error.
func LoadFromPath(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}
	cfg := Default()
	dec := yaml.NewDecoder(strings.NewReader(string(data)))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	setStr := func(dst *string, key string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	setInt := func(dst *int64, key string) {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.ParseInt(v, 10, 64); err == nil {
				*dst = n
			}
		}
	}

	setStr(&c.Listener.Addr, "LODESTAR_LISTEN_ADDR")
	if v := os.Getenv("LODESTAR_COMPRESSION"); v != "" {
		c.Listener.Compression = v == "true" || v == "1"
	}
	setInt(&c.HealthCheck.IntervalMs, "LODESTAR_HEALTH_INTERVAL_MS")
	setInt(&c.HealthCheck.TimeoutMs, "LODESTAR_HEALTH_TIMEOUT_MS")
	setStr(&c.Observability.MetricsAddr, "LODESTAR_METRICS_ADDR")
	setStr(&c.Observability.HealthAddr, "LODESTAR_HEALTH_ADDR")
	setStr(&c.Observability.GRPCHealthAddr, "LODESTAR_GRPC_HEALTH_ADDR")
	setStr(&c.Observability.LogLevel, "LODESTAR_LOG_LEVEL")
	setStr(&c.Observability.LogFormat, "LODESTAR_LOG_FORMAT")
}

// Validate checks the whole configuration. Any error is fatal to startup.
func (c *Config) Validate() error {
	if c.Listener.Addr == "" {
		return fmt.Errorf("config: listener.addr must not be empty")
	}

	if c.SessionState != nil {
		if err := c.SessionState.validate("sessionState"); err != nil {
			return err
		}
	}

	if len(c.Clusters) == 0 {
		return fmt.Errorf("config: at least one cluster is required")
	}
	clusterNames := map[string]bool{}
	for _, cl := range c.Clusters {
		if cl.Name == "" {
			return fmt.Errorf("config: cluster name must not be empty")
		}
		if clusterNames[cl.Name] {
			return fmt.Errorf("config: duplicate cluster %q", cl.Name)
		}
		clusterNames[cl.Name] = true
		if len(cl.Backends) == 0 {
			return fmt.Errorf("config: cluster %q has no backends", cl.Name)
		}
		for _, b := range cl.Backends {
			if _, _, err := net.SplitHostPort(b); err != nil {
				return fmt.Errorf("config: cluster %q: bad backend address %q", cl.Name, b)
			}
		}
	}

	if len(c.Routes) == 0 {
		return fmt.Errorf("config: at least one route is required")
	}
	for _, r := range c.Routes {
		if r.Name == "" {
			return fmt.Errorf("config: route name must not be empty")
		}
		if !strings.HasPrefix(r.Prefix, "/") {
			return fmt.Errorf("config: route %q: prefix must start with %q", r.Name, "/")
		}
		if !clusterNames[r.Cluster] {
			return fmt.Errorf("config: route %q references unknown cluster %q", r.Name, r.Cluster)
		}
		if r.Session != nil {
			if r.Session.Disabled && r.Session.StatefulSession != nil {
				return fmt.Errorf("config: route %q: session cannot be both disabled and overridden", r.Name)
			}
			if !r.Session.Disabled && r.Session.StatefulSession == nil {
				return fmt.Errorf("config: route %q: session must set disabled or statefulSession", r.Name)
			}
			if r.Session.StatefulSession != nil {
				field := fmt.Sprintf("route %q session", r.Name)
				if err := r.Session.StatefulSession.SessionState.validate(field); err != nil {
					return err
				}
			}
		}
	}

	if c.HealthCheck.IntervalMs < 0 || c.HealthCheck.TimeoutMs < 0 {
		return fmt.Errorf("config: health check interval and timeout must not be negative")
	}
	return nil
}

func (s *SessionStateConfig) validate(field string) error {
	if !session.Registered(s.Codec) {
		return fmt.Errorf("config: %s: unknown session codec %q", field, s.Codec)
	}
	if s.Codec == session.CodecCookie {
		if s.Cookie == nil {
			return fmt.Errorf("config: %s: cookie codec requires cookie settings", field)
		}
		if s.Cookie.Name == "" {
			return fmt.Errorf("config: %s: cookie name must not be empty", field)
		}
		if s.Cookie.TTLSeconds < 0 {
			return fmt.Errorf("config: %s: cookie ttlSeconds must not be negative", field)
		}
	}
	return nil
}
