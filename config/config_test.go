package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, "local", cfg.Env)
	assert.Equal(t, ".data", cfg.DataDir)
	assert.Equal(t, 3*time.Second, cfg.StreamTimeout())
	assert.Equal(t, time.Duration(0), cfg.SendInterval())
	assert.Equal(t, 90.0, cfg.Thresholds.ReceptionPercent)
	assert.Equal(t, 50.0, cfg.Thresholds.OrderPercent)
	assert.Equal(t, 4, cfg.Workers.Count)
	assert.NoError(t, cfg.Validate())
}

func TestLoadEmptyPathReturnsDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	raw := `
env: staging
streamTimeoutMs: 10000
thresholds:
  receptionPercent: 99
workers:
  count: 8
`
	require.NoError(t, os.WriteFile(path, []byte(raw), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "staging", cfg.Env)
	assert.Equal(t, 10*time.Second, cfg.StreamTimeout())
	assert.Equal(t, 99.0, cfg.Thresholds.ReceptionPercent)
	assert.Equal(t, 8, cfg.Workers.Count)

	// Untouched fields keep their defaults.
	assert.Equal(t, ".data", cfg.DataDir)
	assert.Equal(t, 50.0, cfg.Thresholds.OrderPercent)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestLoadRejectsInvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("env: [unclosed"), 0o600))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero timeout", func(c *Config) { c.StreamTimeoutMS = 0 }},
		{"negative send interval", func(c *Config) { c.SendIntervalMS = -1 }},
		{"zero workers", func(c *Config) { c.Workers.Count = 0 }},
		{"reception over 100", func(c *Config) { c.Thresholds.ReceptionPercent = 101 }},
		{"negative order", func(c *Config) { c.Thresholds.OrderPercent = -1 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
