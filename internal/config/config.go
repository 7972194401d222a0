package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
)

// Config holds all application configuration.
type Config struct {
	// Server directory
	DirectoryURL     string        `koanf:"directory_url"`
	DirectoryTimeout time.Duration `koanf:"directory_timeout"`
	RefreshInterval  time.Duration `koanf:"refresh_interval"`

	// Prober
	ProbeInterval time.Duration `koanf:"probe_interval"`
	ProbeTimeout  time.Duration `koanf:"probe_timeout"`
	ProbeWindow   int           `koanf:"probe_window"`

	// Synchronizer
	SyncStatusBuffer int           `koanf:"sync_status_buffer"`
	ShutdownTimeout  time.Duration `koanf:"shutdown_timeout"`

	// Storage
	DataDir string `koanf:"data_dir"`

	// Operational
	StatusAddr     string `koanf:"status_addr"`
	MetricsEnabled bool   `koanf:"metrics_enabled"`
	DryRun         bool   `koanf:"dry_run"`
	LogLevel       string `koanf:"log_level"`
	LogFormat      string `koanf:"log_format"`
}

// defaults sets sensible default values.
func defaults() map[string]interface{} {
	return map[string]interface{}{
		"directory_url":      "https://raw.githubusercontent.com/SteamDatabase/SteamTracking/master/Random/NetworkDatagramConfig.json",
		"directory_timeout":  "30s",
		"refresh_interval":   "0s",
		"probe_interval":     "2s",
		"probe_timeout":      "1s",
		"probe_window":       20,
		"sync_status_buffer": 16,
		"shutdown_timeout":   "10s",
		"data_dir":           "./data",
		"status_addr":        "127.0.0.1:8642",
		"metrics_enabled":    true,
		"dry_run":            false,
		"log_level":          "info",
		"log_format":         "text",
	}
}

// Load reads configuration from a .env file (if present) and the environment.
func Load() (*Config, error) {
	// Optional .env, ignored when missing.
	_ = godotenv.Load()

	// Use "." as delimiter so env vars with "_" in their names are treated
	// as flat keys. E.g. PROBE_INTERVAL → "probe_interval" maps straight
	// onto the koanf struct tag without nesting.
	k := koanf.New(".")

	if err := k.Load(&rawProvider{data: defaults()}, nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if err := k.Load(env.Provider("RELAYCTL_", ".", func(s string) string {
		return strings.ToLower(strings.TrimPrefix(s, "RELAYCTL_"))
	}), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	cfg := &Config{}
	if err := k.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks required fields and semantic constraints.
func (c *Config) Validate() error {
	if c.DirectoryURL == "" {
		return fmt.Errorf("RELAYCTL_DIRECTORY_URL is required")
	}
	u, err := url.Parse(c.DirectoryURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("RELAYCTL_DIRECTORY_URL must be an http(s) URL; got %q", c.DirectoryURL)
	}

	if c.ProbeInterval < 100*time.Millisecond {
		return fmt.Errorf("RELAYCTL_PROBE_INTERVAL must be >= 100ms; got %s", c.ProbeInterval)
	}
	if c.ProbeTimeout <= 0 {
		return fmt.Errorf("RELAYCTL_PROBE_TIMEOUT must be > 0; got %s", c.ProbeTimeout)
	}
	if c.ProbeTimeout > c.ProbeInterval {
		return fmt.Errorf("RELAYCTL_PROBE_TIMEOUT (%s) must not exceed RELAYCTL_PROBE_INTERVAL (%s)",
			c.ProbeTimeout, c.ProbeInterval)
	}
	if c.ProbeWindow < 1 || c.ProbeWindow > 1000 {
		return fmt.Errorf("RELAYCTL_PROBE_WINDOW must be 1–1000; got %d", c.ProbeWindow)
	}

	if c.SyncStatusBuffer < 1 {
		return fmt.Errorf("RELAYCTL_SYNC_STATUS_BUFFER must be >= 1; got %d", c.SyncStatusBuffer)
	}
	if c.ShutdownTimeout <= 0 {
		return fmt.Errorf("RELAYCTL_SHUTDOWN_TIMEOUT must be > 0; got %s", c.ShutdownTimeout)
	}

	if c.DataDir == "" {
		return fmt.Errorf("RELAYCTL_DATA_DIR is required")
	}

	validLogLevels := map[string]bool{
		"trace": true, "debug": true, "info": true,
		"warn": true, "error": true, "fatal": true, "panic": true,
	}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("RELAYCTL_LOG_LEVEL must be one of trace,debug,info,warn,error,fatal,panic; got %q", c.LogLevel)
	}

	if c.LogFormat != "json" && c.LogFormat != "text" {
		return fmt.Errorf("RELAYCTL_LOG_FORMAT must be json or text; got %q", c.LogFormat)
	}

	return nil
}

// rawProvider implements koanf.Provider for a map[string]interface{}.
type rawProvider struct {
	data map[string]interface{}
}

// Read returns the config map directly (no Parser needed).
func (r *rawProvider) Read() (map[string]interface{}, error) {
	return r.data, nil
}

// ReadBytes is not used by rawProvider; koanf calls Read() when no Parser is given.
func (r *rawProvider) ReadBytes() ([]byte, error) {
	return nil, fmt.Errorf("rawProvider does not support ReadBytes")
}
