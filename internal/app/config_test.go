package app

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig(t.TempDir())
	require.NoError(t, err)

	require.Equal(t, 8000, cfg.Server.Port)
	require.Equal(t, "info", cfg.Server.LogLevel)
	require.Equal(t, "sqlite", cfg.Database.Driver)
	require.False(t, cfg.Events.Enabled)
	require.Equal(t, "nats://127.0.0.1:4222", cfg.Events.URL)
	require.Equal(t, 2*time.Second, cfg.Peers.Timeout)
	require.Equal(t, 1000, cfg.Peers.CacheSize)
	require.True(t, cfg.Maintenance.Enabled)
	require.Equal(t, "@hourly", cfg.Maintenance.Schedule)
	require.True(t, cfg.Audit.Enabled)
}

func TestLoadConfigFromFile(t *testing.T) {
	dir := t.TempDir()
	contents := []byte(`
server:
  port: 9100
  log_level: debug
events:
  enabled: true
  url: nats://broker:4222
peers:
  account_service_url: http://accounts:8000
  timeout: 5s
`)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), contents, 0o600))

	cfg, err := LoadConfig(dir)
	require.NoError(t, err)
	require.Equal(t, 9100, cfg.Server.Port)
	require.Equal(t, "debug", cfg.Server.LogLevel)
	require.True(t, cfg.Events.Enabled)
	require.Equal(t, "nats://broker:4222", cfg.Events.URL)
	require.Equal(t, "http://accounts:8000", cfg.Peers.AccountServiceURL)
	require.Equal(t, 5*time.Second, cfg.Peers.Timeout)
	// Untouched keys keep their defaults.
	require.Equal(t, "http://127.0.0.1:8002", cfg.Peers.OrganizationServiceURL)
}

func TestLoadConfigEnvOverride(t *testing.T) {
	t.Setenv("AUTHCORE_SERVER_PORT", "9200")
	t.Setenv("AUTHCORE_EVENTS_ENABLED", "true")

	cfg, err := LoadConfig(t.TempDir())
	require.NoError(t, err)
	require.Equal(t, 9200, cfg.Server.Port)
	require.True(t, cfg.Events.Enabled)
}

func TestDatabaseOptionsMapping(t *testing.T) {
	cfg := &Config{}
	cfg.Database.Driver = "postgres"
	cfg.Database.Postgres = DBAuthConfig{
		Host:     "db.internal",
		Port:     5432,
		Database: "authcore",
		Username: "svc",
		Password: "secret",
	}

	opts := cfg.DatabaseOptions()
	require.Equal(t, "postgres", opts.Driver)
	require.Equal(t, "db.internal", opts.Host)
	require.Equal(t, 5432, opts.Port)
	require.Equal(t, "authcore", opts.Name)
	require.Equal(t, "svc", opts.User)
}
