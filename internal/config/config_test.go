package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ProbeInterval != 2*time.Second {
		t.Errorf("ProbeInterval = %s, want 2s", cfg.ProbeInterval)
	}
	if cfg.ProbeTimeout != time.Second {
		t.Errorf("ProbeTimeout = %s, want 1s", cfg.ProbeTimeout)
	}
	if cfg.ProbeWindow != 20 {
		t.Errorf("ProbeWindow = %d, want 20", cfg.ProbeWindow)
	}
	if !cfg.MetricsEnabled {
		t.Error("MetricsEnabled should default to true")
	}
	if cfg.DryRun {
		t.Error("DryRun should default to false")
	}
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("RELAYCTL_PROBE_INTERVAL", "5s")
	t.Setenv("RELAYCTL_LOG_LEVEL", "debug")
	t.Setenv("RELAYCTL_DRY_RUN", "true")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ProbeInterval != 5*time.Second {
		t.Errorf("ProbeInterval = %s, want 5s", cfg.ProbeInterval)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want debug", cfg.LogLevel)
	}
	if !cfg.DryRun {
		t.Error("DryRun should be true")
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	base := func() *Config {
		return &Config{
			DirectoryURL:     "https://example.com/config.json",
			DirectoryTimeout: 30 * time.Second,
			ProbeInterval:    2 * time.Second,
			ProbeTimeout:     time.Second,
			ProbeWindow:      20,
			SyncStatusBuffer: 16,
			ShutdownTimeout:  10 * time.Second,
			DataDir:          "./data",
			StatusAddr:       "127.0.0.1:8642",
			LogLevel:         "info",
			LogFormat:        "text",
		}
	}

	cases := []struct {
		name    string
		mutate  func(*Config)
		wantSub string
	}{
		{"empty url", func(c *Config) { c.DirectoryURL = "" }, "DIRECTORY_URL"},
		{"bad scheme", func(c *Config) { c.DirectoryURL = "ftp://x" }, "http(s)"},
		{"tiny interval", func(c *Config) { c.ProbeInterval = time.Millisecond }, "PROBE_INTERVAL"},
		{"zero timeout", func(c *Config) { c.ProbeTimeout = 0 }, "PROBE_TIMEOUT"},
		{"timeout over interval", func(c *Config) { c.ProbeTimeout = 3 * time.Second }, "PROBE_TIMEOUT"},
		{"zero window", func(c *Config) { c.ProbeWindow = 0 }, "PROBE_WINDOW"},
		{"huge window", func(c *Config) { c.ProbeWindow = 5000 }, "PROBE_WINDOW"},
		{"zero status buffer", func(c *Config) { c.SyncStatusBuffer = 0 }, "SYNC_STATUS_BUFFER"},
		{"zero shutdown timeout", func(c *Config) { c.ShutdownTimeout = 0 }, "SHUTDOWN_TIMEOUT"},
		{"empty data dir", func(c *Config) { c.DataDir = "" }, "DATA_DIR"},
		{"bad level", func(c *Config) { c.LogLevel = "loud" }, "LOG_LEVEL"},
		{"bad format", func(c *Config) { c.LogFormat = "xml" }, "LOG_FORMAT"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := base()
			tc.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("Validate: expected error, got nil")
			}
			if !strings.Contains(err.Error(), tc.wantSub) {
				t.Errorf("error %q does not mention %q", err, tc.wantSub)
			}
		})
	}
}

func TestValidateAcceptsDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate on defaults: %v", err)
	}
}
