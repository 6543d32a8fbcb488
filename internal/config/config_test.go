package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validYAML = `
listener:
  addr: ":8080"
sessionState:
  codec: cookie
  cookie:
    name: global-session-cookie
    path: /path
    ttlSeconds: 120
clusters:
  - name: cluster_0
    backends:
      - 127.0.0.1:50000
      - 127.0.0.1:50001
routes:
  - name: default
    host: stateful.session.test
    prefix: /
    cluster: cluster_0
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "lodestar.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadFromPath(t *testing.T) {
	cfg, err := LoadFromPath(writeConfig(t, validYAML))
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Listener.Addr)
	require.NotNil(t, cfg.SessionState)
	assert.Equal(t, "cookie", cfg.SessionState.Codec)
	assert.Equal(t, "global-session-cookie", cfg.SessionState.Cookie.Name)
	assert.Equal(t, int64(120), cfg.SessionState.Cookie.TTLSeconds)
	require.Len(t, cfg.Clusters, 1)
	require.Len(t, cfg.Routes, 1)

	// Defaults survive when the file does not mention them.
	assert.Equal(t, ":9090", cfg.Observability.MetricsAddr)
	assert.Equal(t, int64(5000), cfg.HealthCheck.IntervalMs)
}

func TestLoadAppliesEnvOverrides(t *testing.T) {
	t.Setenv("LODESTAR_LISTEN_ADDR", ":18080")
	t.Setenv("LODESTAR_LOG_LEVEL", "debug")
	t.Setenv("LODESTAR_HEALTH_INTERVAL_MS", "250")

	cfg, err := LoadFromPath(writeConfig(t, validYAML))
	require.NoError(t, err)
	assert.Equal(t, ":18080", cfg.Listener.Addr)
	assert.Equal(t, "debug", cfg.Observability.LogLevel)
	assert.Equal(t, int64(250), cfg.HealthCheck.IntervalMs)
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	_, err := LoadFromPath(writeConfig(t, validYAML+"\nbogusKey: true\n"))
	require.Error(t, err)
}

func TestValidateRejectsMalformedConfig(t *testing.T) {
	base := func() *Config {
		cfg, err := LoadFromPath(writeConfig(t, validYAML))
		require.NoError(t, err)
		return cfg
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty listener addr", func(c *Config) { c.Listener.Addr = "" }},
		{"unknown codec", func(c *Config) { c.SessionState.Codec = "header" }},
		{"missing cookie settings", func(c *Config) { c.SessionState.Cookie = nil }},
		{"empty cookie name", func(c *Config) { c.SessionState.Cookie.Name = "" }},
		{"negative ttl", func(c *Config) { c.SessionState.Cookie.TTLSeconds = -1 }},
		{"no clusters", func(c *Config) { c.Clusters = nil }},
		{"duplicate clusters", func(c *Config) { c.Clusters = append(c.Clusters, c.Clusters[0]) }},
		{"cluster without backends", func(c *Config) { c.Clusters[0].Backends = nil }},
		{"bad backend address", func(c *Config) { c.Clusters[0].Backends = []string{"nonsense"} }},
		{"no routes", func(c *Config) { c.Routes = nil }},
		{"route without name", func(c *Config) { c.Routes[0].Name = "" }},
		{"relative prefix", func(c *Config) { c.Routes[0].Prefix = "api" }},
		{"unknown cluster ref", func(c *Config) { c.Routes[0].Cluster = "missing" }},
		{"negative health interval", func(c *Config) { c.HealthCheck.IntervalMs = -1 }},
		{
			"session both disabled and overridden",
			func(c *Config) {
				c.Routes[0].Session = &RouteSessionConfig{
					Disabled:        true,
					StatefulSession: &StatefulSessionConfig{},
				}
			},
		},
		{
			"session neither disabled nor overridden",
			func(c *Config) { c.Routes[0].Session = &RouteSessionConfig{} },
		},
		{
			"override with unknown codec",
			func(c *Config) {
				c.Routes[0].Session = &RouteSessionConfig{
					StatefulSession: &StatefulSessionConfig{
						SessionState: SessionStateConfig{Codec: "header"},
					},
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestPerRouteSessionSchema(t *testing.T) {
	yaml := validYAML + `
  - name: nosession
    host: stateful.session.test
    prefix: /nosession
    cluster: cluster_0
    session:
      disabled: true
  - name: override
    host: stateful.session.test
    prefix: /override
    cluster: cluster_0
    session:
      statefulSession:
        sessionState:
          codec: cookie
          cookie:
            name: route-session-cookie
            path: /path
            ttlSeconds: 120
`
	cfg, err := LoadFromPath(writeConfig(t, yaml))
	require.NoError(t, err)
	require.Len(t, cfg.Routes, 3)

	assert.True(t, cfg.Routes[1].Session.Disabled)
	require.NotNil(t, cfg.Routes[2].Session.StatefulSession)
	assert.Equal(t, "route-session-cookie", cfg.Routes[2].Session.StatefulSession.SessionState.Cookie.Name)
}
