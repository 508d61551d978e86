package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/fittrack/backend/internal/errors"
)

func env(vars map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := vars[k]
		return v, ok
	}
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(nil)
	require.NoError(t, err)

	assert.Equal(t, "./data", cfg.DataDir)
	assert.Equal(t, 3, cfg.Sync.MaxRetries)
	assert.Equal(t, 15*time.Minute, cfg.SyncInterval())
	assert.Equal(t, time.Hour, cfg.CleanupInterval())
	assert.Equal(t, 5*time.Minute, cfg.SyncTimeout())
	assert.Equal(t, 30*time.Second, cfg.RemoteTimeout())
	assert.Equal(t, 30*time.Second, cfg.ProbeInterval())
	assert.Equal(t, 5*time.Second, cfg.ProbeTimeout())
	assert.Equal(t, 3, cfg.Sync.RetryAttempts)
	assert.Equal(t, 30*time.Second, cfg.RetryBackoff())
	assert.Equal(t, "127.0.0.1:8090", cfg.Status.ListenAddress)
	assert.False(t, cfg.RemoteEnabled())
	assert.NoError(t, cfg.Validate())

	empty, err := Load(strings.NewReader(""))
	require.NoError(t, err)
	assert.Equal(t, cfg, empty)
}

func TestLoad_ValidConfig(t *testing.T) {
	yamlContent := `
data_dir: /var/lib/fittrack
remote:
  url: https://project.example.co
  api_key: anon
sync:
  max_retries: 5
  interval: 10m
  park_permanent_failures: true
status:
  enabled: false
`
	cfg, err := Load(strings.NewReader(yamlContent))
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/fittrack", cfg.DataDir)
	assert.Equal(t, "anon", cfg.Remote.APIKey)
	assert.Equal(t, 5, cfg.Sync.MaxRetries)
	assert.Equal(t, 10*time.Minute, cfg.SyncInterval())
	assert.True(t, cfg.Sync.ParkPermanentFailures)
	assert.False(t, cfg.Status.Enabled)
	assert.True(t, cfg.RemoteEnabled())
	assert.Equal(t, "https://project.example.co/rest/v1/", cfg.ProbeURL())

	// Not overridden
	assert.Equal(t, "1h", cfg.Sync.CleanupInterval)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_InvalidYAML(t *testing.T) {
	_, err := Load(strings.NewReader("sync: [unclosed"))
	assert.Error(t, err)
}

func TestParseDuration(t *testing.T) {
	assert.Equal(t, time.Minute, ParseDuration("", time.Minute))
	assert.Equal(t, time.Minute, ParseDuration("0", time.Minute))
	assert.Equal(t, time.Minute, ParseDuration("bogus", time.Minute))
	assert.Equal(t, time.Minute, ParseDuration("-5s", time.Minute))
	assert.Equal(t, 90*time.Second, ParseDuration("90s", time.Minute))
}

func TestApplyEnv(t *testing.T) {
	cfg := Default()
	err := cfg.ApplyEnv(env(map[string]string{
		EnvDataDir:     "/tmp/ft",
		EnvRemoteURL:   "https://remote.example",
		EnvAPIKey:      "key",
		EnvUserID:      "user-1",
		EnvAccessToken: "jwt",
		EnvLogLevel:    "debug",
		EnvMaxRetries:  "7",
	}))
	require.NoError(t, err)

	assert.Equal(t, "/tmp/ft", cfg.DataDir)
	assert.Equal(t, "https://remote.example", cfg.Remote.URL)
	assert.Equal(t, "key", cfg.Remote.APIKey)
	assert.Equal(t, "user-1", cfg.Auth.UserID)
	assert.Equal(t, "jwt", cfg.Auth.AccessToken)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, 7, cfg.Sync.MaxRetries)

	err = cfg.ApplyEnv(env(map[string]string{EnvMaxRetries: "lots"}))
	assert.True(t, apperrors.Is(err, apperrors.ErrConfig))
}

func TestApplyEnv_EmptyValuesIgnored(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.ApplyEnv(env(map[string]string{EnvDataDir: ""})))
	assert.Equal(t, "./data", cfg.DataDir)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"empty data dir", func(c *Config) { c.DataDir = " " }, "data_dir"},
		{"bad level", func(c *Config) { c.Logging.Level = "loud" }, "log level"},
		{"zero retries", func(c *Config) { c.Sync.MaxRetries = 0 }, "max_retries"},
		{"bad interval", func(c *Config) { c.Sync.Interval = "soon" }, "sync.interval"},
		{"negative retry attempts", func(c *Config) { c.Sync.RetryAttempts = -1 }, "retry_attempts"},
		{"bad retry backoff", func(c *Config) { c.Sync.RetryBackoff = "later" }, "sync.retry_backoff"},
		{"negative timeout", func(c *Config) { c.Remote.Timeout = "-1s" }, "remote.timeout"},
		{"relative url", func(c *Config) { c.Remote.URL = "example.com" }, "remote.url"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.True(t, apperrors.Is(err, apperrors.ErrConfig))
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoadConfig_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fittrack.yaml")
	require.NoError(t, os.WriteFile(path, []byte("data_dir: /srv/ft\n"), 0o600))
	t.Setenv(EnvUserID, "env-user")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "/srv/ft", cfg.DataDir)
	assert.Equal(t, "env-user", cfg.Auth.UserID)
}

func TestLoadConfig_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Sync.MaxRetries)
}

func TestLoadConfig_Invalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("sync:\n  max_retries: -1\n"), 0o600))

	_, err := LoadConfig(path)
	assert.True(t, apperrors.Is(err, apperrors.ErrConfig))
}
