package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "server:\n  port: 9090\n"))
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, "live", cfg.Provider.Mode)
	assert.Equal(t, 60*time.Second, cfg.Provider.Timeout)
	assert.Equal(t, "memory", cfg.Cache.Store)
	assert.True(t, cfg.Cache.SingleFlight)
	assert.Equal(t, time.Hour, cfg.Cache.SerpTTL)
	assert.Equal(t, 64, cfg.Scan.MaxFanOut)
	assert.Equal(t, 90*time.Second, cfg.Scan.DrainTimeout)
	assert.Equal(t, "inline", cfg.Dispatch.Mode)
	assert.False(t, cfg.Storage.Enabled)

	for _, class := range RequiredClasses {
		require.Contains(t, cfg.Scheduler.Classes, class)
	}
	keywords := cfg.Scheduler.Classes[ClassKeywords]
	assert.Equal(t, 1, keywords.MaxConcurrent)
	assert.Equal(t, 12, keywords.Reservoir)
	assert.Equal(t, time.Minute, keywords.RefreshInterval)
}

func TestLoad_FileOverridesClass(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
scheduler:
  classes:
    maps:
      max_concurrent: 4
      reservoir: 100
      refresh_interval: 30s
scan:
  max_fan_out: 8
provider:
  timeout: 15s
`))
	require.NoError(t, err)
	assert.Equal(t, 15*time.Second, cfg.Provider.Timeout)

	maps := cfg.Scheduler.Classes[ClassMaps]
	assert.Equal(t, 4, maps.MaxConcurrent)
	assert.Equal(t, 100, maps.Reservoir)
	assert.Equal(t, 30*time.Second, maps.RefreshInterval)
	// untouched keys keep their defaults
	assert.Equal(t, 3, maps.MaxAttempts)
	assert.Equal(t, 8, cfg.Scan.MaxFanOut)
}

func TestLoad_EnvSecrets(t *testing.T) {
	t.Setenv("PROVIDER_LOGIN", "user@example.com")
	t.Setenv("PROVIDER_PASSWORD", "secret")
	t.Setenv("DISPATCH_MODE", "amqp")
	t.Setenv("AMQP_URL", "amqp://rabbit:5672/")

	cfg, err := Load(writeConfig(t, ""))
	require.NoError(t, err)
	assert.Equal(t, "user@example.com", cfg.Provider.Login)
	assert.Equal(t, "secret", cfg.Provider.Password)
	assert.Equal(t, "amqp", cfg.Dispatch.Mode)
	assert.Equal(t, "amqp://rabbit:5672/", cfg.Dispatch.AMQPURL)
}

func TestLoad_Rejects(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"unknown driver", "database:\n  driver: mysql\n"},
		{"postgres without dsn", "database:\n  driver: postgres\n"},
		{"unknown provider mode", "provider:\n  mode: batch\n"},
		{"unknown dispatch mode", "dispatch:\n  mode: kafka\n"},
		{"zero fan out", "scan:\n  max_fan_out: 0\n"},
		{"zero concurrency", "scheduler:\n  classes:\n    general:\n      max_concurrent: 0\n"},
		{"reservoir without window", "scheduler:\n  classes:\n    general:\n      refresh_interval: 0s\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			assert.Error(t, err)
		})
	}
}

func TestClassConfig_Validate(t *testing.T) {
	for class, cc := range DefaultClasses() {
		assert.NoError(t, cc.Validate(), class)
	}

	cc := DefaultClasses()[ClassGeneral]
	cc.Multiplier = 0.5
	assert.Error(t, cc.Validate())

	cc = DefaultClasses()[ClassGeneral]
	cc.Reservoir = 0
	cc.RefreshInterval = 0
	assert.NoError(t, cc.Validate())
}
