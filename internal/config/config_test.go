package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "calsync.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config failed: %v", err)
	}
	return path
}

const validYAML = `
tracker:
  base_url: https://tracker.example.com
  api_token: tok_123
  workspace: acme
calendar:
  base_url: https://dav.example.com
  username: bot
  password: hunter2
sync:
  interval: 10m
`

func TestLoadParsesYAMLAndFillsDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, validYAML))
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Tracker.Workspace != "acme" {
		t.Fatalf("unexpected workspace %q", cfg.Tracker.Workspace)
	}
	if cfg.Sync.Interval != 10*time.Minute {
		t.Fatalf("unexpected interval %s", cfg.Sync.Interval)
	}
	if cfg.Calendar.Prefix != "Tracker" {
		t.Fatalf("expected default prefix, got %q", cfg.Calendar.Prefix)
	}
	if cfg.Calendar.HomeSet != "calendars" {
		t.Fatalf("expected default home set, got %q", cfg.Calendar.HomeSet)
	}
	if cfg.Sync.Lookback != 24*time.Hour {
		t.Fatalf("expected default lookback, got %s", cfg.Sync.Lookback)
	}
	if cfg.Server.Addr != ":8080" {
		t.Fatalf("expected default addr, got %q", cfg.Server.Addr)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	t.Setenv("CALSYNC_TRACKER_TOKEN", "tok_env")
	t.Setenv("CALSYNC_SYNC_INTERVAL", "15m")
	cfg, err := Load(writeConfig(t, validYAML))
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Tracker.APIToken != "tok_env" {
		t.Fatalf("expected env token to win, got %q", cfg.Tracker.APIToken)
	}
	if cfg.Sync.Interval != 15*time.Minute {
		t.Fatalf("expected env interval to win, got %s", cfg.Sync.Interval)
	}
}

func TestLoadMissingFileUsesEnvOnly(t *testing.T) {
	t.Setenv("CALSYNC_TRACKER_URL", "https://tracker.example.com")
	t.Setenv("CALSYNC_TRACKER_TOKEN", "tok_env")
	t.Setenv("CALSYNC_TRACKER_WORKSPACE", "acme")
	t.Setenv("CALSYNC_CALDAV_URL", "https://dav.example.com")
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Tracker.BaseURL != "https://tracker.example.com" {
		t.Fatalf("unexpected base url %q", cfg.Tracker.BaseURL)
	}
}

func TestValidateRejectsBadConfigs(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing tracker url", func(c *Config) { c.Tracker.BaseURL = "" }},
		{"bad scheme", func(c *Config) { c.Calendar.BaseURL = "ftp://dav.example.com" }},
		{"missing token", func(c *Config) { c.Tracker.APIToken = "" }},
		{"missing workspace", func(c *Config) { c.Tracker.Workspace = "" }},
		{"short webhook secret", func(c *Config) { c.Webhook.Secret = "too-short" }},
		{"interval too small", func(c *Config) { c.Sync.Interval = 5 * time.Second }},
	}
	for _, tc := range cases {
		cfg, err := Load(writeConfig(t, validYAML))
		if err != nil {
			t.Fatalf("%s: base load failed: %v", tc.name, err)
		}
		tc.mutate(cfg)
		if err := cfg.Validate(); err == nil {
			t.Fatalf("%s: expected validation error", tc.name)
		}
	}
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	if _, err := Load(writeConfig(t, "tracker: [")); err == nil {
		t.Fatalf("expected parse error")
	}
}
