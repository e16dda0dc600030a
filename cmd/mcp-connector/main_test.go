package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetupLogging_AcceptsKnownLevels(t *testing.T) {
	for _, level := range []string{"debug", "info", "warn", "error", "bogus"} {
		t.Run(level, func(t *testing.T) {
			assert.NotPanics(t, func() { setupLogging(level) })
		})
	}
}

func TestLoadConfig_DefaultsWithoutPath(t *testing.T) {
	cfg, err := loadConfig(serverOptions{})
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Server.Address)
}

func TestLoadConfig_AddressOverride(t *testing.T) {
	cfg, err := loadConfig(serverOptions{address: ":9999"})
	require.NoError(t, err)
	assert.Equal(t, ":9999", cfg.Server.Address)
}

func TestLoadConfig_FromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  address: \":7070\"\n"), 0o600))

	cfg, err := loadConfig(serverOptions{configPath: path})
	require.NoError(t, err)
	assert.Equal(t, ":7070", cfg.Server.Address)
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := loadConfig(serverOptions{configPath: filepath.Join(t.TempDir(), "absent.yaml")})
	assert.Error(t, err)
}
