package platform

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadConfig(t *testing.T) {
	path := writeConfig(t, `
server:
  name: edgar-connector
  address: ":9090"
session:
  default_lifetime: 2h
  inactivity_timeout: 15m
  cleanup_interval: 30s
  max_sessions_per_client: 5
  capabilities:
    - search
    - fetch
queue:
  capacity: 128
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "edgar-connector", cfg.Server.Name)
	assert.Equal(t, ":9090", cfg.Server.Address)
	assert.Equal(t, 2*time.Hour, cfg.Session.DefaultLifetime)
	assert.Equal(t, 15*time.Minute, cfg.Session.InactivityTimeout)
	assert.Equal(t, 30*time.Second, cfg.Session.CleanupInterval)
	assert.Equal(t, 5, cfg.Session.MaxSessionsPerClient)
	assert.Equal(t, []string{"search", "fetch"}, cfg.Session.Capabilities)
	assert.Equal(t, 128, cfg.Queue.Capacity)
	require.NoError(t, cfg.Validate())
}

func TestLoadConfig_Defaults(t *testing.T) {
	path := writeConfig(t, `server: {}`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, defaultServerName, cfg.Server.Name)
	assert.Equal(t, defaultServerAddress, cfg.Server.Address)
	assert.Equal(t, defaultLifetime, cfg.Session.DefaultLifetime)
	assert.Equal(t, defaultInactivity, cfg.Session.InactivityTimeout)
	assert.Equal(t, defaultCleanupInterval, cfg.Session.CleanupInterval)
	assert.Equal(t, defaultQueueCapacity, cfg.Queue.Capacity)
	require.NoError(t, cfg.Validate())
}

func TestLoadConfig_EnvExpansion(t *testing.T) {
	t.Setenv("CONNECTOR_SIGNING_KEY", "super-secret")

	path := writeConfig(t, `
auth:
  jwt:
    enabled: true
    issuer: https://connector.example.com
    signing_key: ${CONNECTOR_SIGNING_KEY}
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "super-secret", cfg.Auth.JWT.SigningKey)
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestLoadConfig_BadYAML(t *testing.T) {
	path := writeConfig(t, "server: [not a map")
	_, err := LoadConfig(path)
	assert.Error(t, err)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "defaults are valid",
			mutate: func(*Config) {},
		},
		{
			name:    "negative lifetime",
			mutate:  func(c *Config) { c.Session.DefaultLifetime = -time.Second },
			wantErr: "default_lifetime",
		},
		{
			name:    "zero cleanup interval",
			mutate:  func(c *Config) { c.Session.CleanupInterval = 0 },
			wantErr: "cleanup_interval",
		},
		{
			name:    "zero queue capacity",
			mutate:  func(c *Config) { c.Queue.Capacity = 0 },
			wantErr: "queue.capacity",
		},
		{
			name: "jwt enabled without issuer",
			mutate: func(c *Config) {
				c.Auth.JWT.Enabled = true
				c.Auth.JWT.SigningKey = "k"
			},
			wantErr: "auth.jwt.issuer",
		},
		{
			name: "jwt enabled without key",
			mutate: func(c *Config) {
				c.Auth.JWT.Enabled = true
				c.Auth.JWT.Issuer = "https://x"
			},
			wantErr: "auth.jwt.signing_key",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
