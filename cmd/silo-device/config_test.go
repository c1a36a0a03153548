package main

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testConfig = `
log:
  level: DEBUG
http:
  port: 9090
  api_key: local-secret
hub:
  scope_id: 0ne00ABCDEF
  device_id: dev1
  sas_key: c2VjcmV0LWRldmljZS1rZXk=
  keep_alive: 30s
dps:
  poll_attempts: 3
agent:
  telemetry_interval: 1s
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "application.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadConfig(t *testing.T) {
	cfg, err := loadConfig(viper.New(), writeConfig(t, testConfig))
	require.NoError(t, err)

	assert.Equal(t, "DEBUG", cfg.Log.Level)
	assert.True(t, cfg.Http.Enabled)
	assert.Equal(t, uint(9090), cfg.Http.Port)
	assert.Equal(t, "0ne00ABCDEF", cfg.Hub.ScopeID)
	assert.Equal(t, "dev1", cfg.Hub.DeviceID)
	assert.Equal(t, 8883, cfg.Hub.Port)
	assert.Equal(t, 30*time.Second, cfg.Hub.KeepAlive)
	assert.Equal(t, "global.azure-devices-provisioning.net", cfg.Dps.Endpoint)
	assert.Equal(t, 443, cfg.Dps.Port)
	assert.Equal(t, 3, cfg.Dps.PollAttempts)
	assert.Equal(t, 2*time.Hour, cfg.Auth.TokenValidity)
	assert.Equal(t, time.Second, cfg.Agent.TelemetryInterval)
	assert.Equal(t, 5*time.Second, cfg.Agent.ReconnectDelay)
	assert.Equal(t, "1.1", cfg.Agent.FirmwareVersion)
	assert.NoError(t, cfg.Validate())
}

func TestLoadConfigEnvOverride(t *testing.T) {
	t.Setenv("HUB_DEVICE_ID", "dev-from-env")
	cfg, err := loadConfig(viper.New(), writeConfig(t, testConfig))
	require.NoError(t, err)
	assert.Equal(t, "dev-from-env", cfg.Hub.DeviceID)
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := loadConfig(viper.New(), filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestValidateRequiresHubCredentials(t *testing.T) {
	cfg, err := loadConfig(viper.New(), writeConfig(t, "log:\n  level: INFO\n"))
	require.NoError(t, err)

	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "hub.scope_id")
	assert.Contains(t, err.Error(), "hub.device_id")
	assert.Contains(t, err.Error(), "hub.sas_key")
}

func TestRedacted(t *testing.T) {
	cfg, err := loadConfig(viper.New(), writeConfig(t, testConfig))
	require.NoError(t, err)

	r := cfg.Redacted()
	assert.Equal(t, redacted, r.Hub.SASKey)
	assert.Equal(t, redacted, r.Http.APIKey)
	assert.Equal(t, "dev1", r.Hub.DeviceID)
	assert.Equal(t, "c2VjcmV0LWRldmljZS1rZXk=", cfg.Hub.SASKey)
}

func TestParseLogLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, parseLogLevel("debug"))
	assert.Equal(t, slog.LevelWarn, parseLogLevel("WARNING"))
	assert.Equal(t, slog.LevelError, parseLogLevel("ERROR"))
	assert.Equal(t, slog.LevelInfo, parseLogLevel("verbose"))
}
