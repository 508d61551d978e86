// Package config loads FitTrack configuration from YAML with environment
// overrides.
package config

import (
	"fmt"
	"io"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	apperrors "github.com/fittrack/backend/internal/errors"
	"github.com/fittrack/backend/internal/logging"
)

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// RemoteConfig holds the remote row store connection.
type RemoteConfig struct {
	URL     string `yaml:"url"`
	APIKey  string `yaml:"api_key"`
	Timeout string `yaml:"timeout"`
}

// AuthConfig holds the signed-in identity. An empty user id means local-only use.
type AuthConfig struct {
	UserID      string `yaml:"user_id"`
	AccessToken string `yaml:"access_token"`
}

// SyncConfig holds sync engine and scheduler settings.
type SyncConfig struct {
	MaxRetries            int    `yaml:"max_retries"`
	Interval              string `yaml:"interval"`
	CleanupInterval       string `yaml:"cleanup_interval"`
	Timeout               string `yaml:"timeout"`
	ParkPermanentFailures bool   `yaml:"park_permanent_failures"`
	// RetryAttempts re-runs an unsuccessful periodic pass this many times
	// with doubling backoff before waiting for the next interval. 0 disables.
	RetryAttempts int    `yaml:"retry_attempts"`
	RetryBackoff  string `yaml:"retry_backoff"`
}

// ConnectivityConfig holds reachability probe settings. An empty probe URL
// probes the remote URL.
type ConnectivityConfig struct {
	ProbeURL string `yaml:"probe_url"`
	Interval string `yaml:"interval"`
	Timeout  string `yaml:"timeout"`
}

// StatusConfig holds the status feed server settings.
type StatusConfig struct {
	Enabled       bool   `yaml:"enabled"`
	ListenAddress string `yaml:"listen_address"`
}

// Config is the top-level configuration.
type Config struct {
	DataDir      string             `yaml:"data_dir"`
	Logging      LoggingConfig      `yaml:"logging"`
	Remote       RemoteConfig       `yaml:"remote"`
	Auth         AuthConfig         `yaml:"auth"`
	Sync         SyncConfig         `yaml:"sync"`
	Connectivity ConnectivityConfig `yaml:"connectivity"`
	Status       StatusConfig       `yaml:"status"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		DataDir: "./data",
		Logging: LoggingConfig{
			Level: "info",
		},
		Remote: RemoteConfig{
			Timeout: "30s",
		},
		Sync: SyncConfig{
			MaxRetries:      3,
			Interval:        "15m",
			CleanupInterval: "1h",
			Timeout:         "5m",
			RetryAttempts:   3,
			RetryBackoff:    "30s",
		},
		Connectivity: ConnectivityConfig{
			Interval: "30s",
			Timeout:  "5s",
		},
		Status: StatusConfig{
			Enabled:       true,
			ListenAddress: "127.0.0.1:8090",
		},
	}
}

// ParseDuration parses a duration string. Returns the default duration if the
// string is empty or invalid. Logs a warning if the string is invalid but not empty.
func ParseDuration(durationStr string, defaultDuration time.Duration) time.Duration {
	if durationStr == "" || durationStr == "0" {
		return defaultDuration
	}
	d, err := time.ParseDuration(durationStr)
	if err != nil || d <= 0 {
		logging.Warn("Invalid duration format, using default", map[string]interface{}{
			"input":   durationStr,
			"default": defaultDuration.String(),
		})
		return defaultDuration
	}
	return d
}

// Load reads configuration from an io.Reader on top of the defaults.
// A nil or empty reader yields the defaults.
func Load(r io.Reader) (*Config, error) {
	cfg := Default()
	if r == nil {
		return cfg, nil
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read config data: %w", err)
	}
	if len(data) == 0 {
		return cfg, nil
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config yaml: %w", err)
	}
	return cfg, nil
}

// LoadConfig reads configuration from a YAML file by path, applies
// environment overrides and validates the result. A missing file yields
// the defaults.
func LoadConfig(path string) (*Config, error) {
	var cfg *Config
	var err error

	if path == "" {
		cfg, err = Load(nil)
	} else {
		file, openErr := os.Open(path)
		switch {
		case os.IsNotExist(openErr):
			cfg, err = Load(nil)
		case openErr != nil:
			return nil, fmt.Errorf("failed to open config file %s: %w", path, openErr)
		default:
			defer file.Close()
			cfg, err = Load(file)
		}
	}
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrConfig, "invalid configuration", err)
	}

	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Environment variables that override file settings.
const (
	EnvDataDir     = "FITTRACK_DATA_DIR"
	EnvRemoteURL   = "FITTRACK_REMOTE_URL"
	EnvAPIKey      = "FITTRACK_API_KEY"
	EnvUserID      = "FITTRACK_USER_ID"
	EnvAccessToken = "FITTRACK_ACCESS_TOKEN"
	EnvLogLevel    = "FITTRACK_LOG_LEVEL"
	EnvMaxRetries  = "FITTRACK_MAX_RETRIES"
)

// ApplyEnv overrides settings from the environment.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	set := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	set(EnvDataDir, &c.DataDir)
	set(EnvRemoteURL, &c.Remote.URL)
	set(EnvAPIKey, &c.Remote.APIKey)
	set(EnvUserID, &c.Auth.UserID)
	set(EnvAccessToken, &c.Auth.AccessToken)
	set(EnvLogLevel, &c.Logging.Level)

	if v, ok := lookup(EnvMaxRetries); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return apperrors.Wrap(apperrors.ErrConfig, EnvMaxRetries+" must be an integer", err)
		}
		c.Sync.MaxRetries = n
	}
	return nil
}

// Validate checks the configuration for values the engine cannot run with.
func (c *Config) Validate() error {
	var problems []string

	if strings.TrimSpace(c.DataDir) == "" {
		problems = append(problems, "data_dir is required")
	}
	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		problems = append(problems, err.Error())
	}
	if c.Sync.MaxRetries <= 0 {
		problems = append(problems, "sync.max_retries must be positive")
	}
	if c.Sync.RetryAttempts < 0 {
		problems = append(problems, "sync.retry_attempts must not be negative")
	}
	for name, v := range map[string]string{
		"sync.interval":         c.Sync.Interval,
		"sync.cleanup_interval": c.Sync.CleanupInterval,
		"sync.timeout":          c.Sync.Timeout,
		"sync.retry_backoff":    c.Sync.RetryBackoff,
		"remote.timeout":        c.Remote.Timeout,
		"connectivity.interval": c.Connectivity.Interval,
		"connectivity.timeout":  c.Connectivity.Timeout,
	} {
		if v == "" {
			continue
		}
		if d, err := time.ParseDuration(v); err != nil || d <= 0 {
			problems = append(problems, fmt.Sprintf("%s must be a positive duration, got %q", name, v))
		}
	}
	for name, v := range map[string]string{
		"remote.url":             c.Remote.URL,
		"connectivity.probe_url": c.Connectivity.ProbeURL,
	} {
		if v == "" {
			continue
		}
		if u, err := url.Parse(v); err != nil || u.Scheme == "" || u.Host == "" {
			problems = append(problems, fmt.Sprintf("%s is not an absolute url: %q", name, v))
		}
	}

	if len(problems) > 0 {
		return apperrors.New(apperrors.ErrConfig, strings.Join(problems, "; "))
	}
	return nil
}

// RemoteEnabled reports whether a remote store is configured.
func (c *Config) RemoteEnabled() bool {
	return c.Remote.URL != ""
}

// ProbeURL returns the URL used for reachability checks.
func (c *Config) ProbeURL() string {
	if c.Connectivity.ProbeURL != "" {
		return c.Connectivity.ProbeURL
	}
	if c.Remote.URL == "" {
		return ""
	}
	return strings.TrimRight(c.Remote.URL, "/") + "/rest/v1/"
}

// SyncInterval returns the periodic sync interval.
func (c *Config) SyncInterval() time.Duration {
	return ParseDuration(c.Sync.Interval, 15*time.Minute)
}

// CleanupInterval returns how often synced deletions are purged.
func (c *Config) CleanupInterval() time.Duration {
	return ParseDuration(c.Sync.CleanupInterval, time.Hour)
}

// SyncTimeout bounds one scheduled pass.
func (c *Config) SyncTimeout() time.Duration {
	return ParseDuration(c.Sync.Timeout, 5*time.Minute)
}

// RetryBackoff is the delay before the first re-run of an unsuccessful
// periodic pass.
func (c *Config) RetryBackoff() time.Duration {
	return ParseDuration(c.Sync.RetryBackoff, 30*time.Second)
}

// RemoteTimeout bounds one remote request.
func (c *Config) RemoteTimeout() time.Duration {
	return ParseDuration(c.Remote.Timeout, 30*time.Second)
}

// ProbeInterval returns the reachability probe interval.
func (c *Config) ProbeInterval() time.Duration {
	return ParseDuration(c.Connectivity.Interval, 30*time.Second)
}

// ProbeTimeout bounds one reachability probe.
func (c *Config) ProbeTimeout() time.Duration {
	return ParseDuration(c.Connectivity.Timeout, 5*time.Second)
}
