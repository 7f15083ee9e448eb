// Package config loads service configuration from a YAML file with
// environment overrides.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type TrackerConfig struct {
	BaseURL   string `yaml:"base_url"`
	APIToken  string `yaml:"api_token"`
	Workspace string `yaml:"workspace"`
}

type CalendarConfig struct {
	BaseURL  string `yaml:"base_url"`
	HomeSet  string `yaml:"home_set"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Prefix   string `yaml:"prefix"`
}

type WebhookConfig struct {
	Secret string `yaml:"secret"`
}

type SyncConfig struct {
	Interval         time.Duration `yaml:"interval"`
	Lookback         time.Duration `yaml:"lookback"`
	CleanupInterval  time.Duration `yaml:"cleanup_interval"`
	CleanupRetention time.Duration `yaml:"cleanup_retention"`
	WatermarkDSN     string        `yaml:"watermark_dsn"`
	RetryAttempts    int           `yaml:"retry_attempts"`
}

type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	AdminToken      string        `yaml:"admin_token"`
	RateLimitMax    int           `yaml:"rate_limit_max"`
	RateLimitWindow time.Duration `yaml:"rate_limit_window"`
}

type Config struct {
	Tracker  TrackerConfig  `yaml:"tracker"`
	Calendar CalendarConfig `yaml:"calendar"`
	Webhook  WebhookConfig  `yaml:"webhook"`
	Sync     SyncConfig     `yaml:"sync"`
	Server   ServerConfig   `yaml:"server"`
}

// Load reads path, applies environment overrides, fills defaults, and
// validates. A missing file is fine; env alone can carry a full config.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("read config %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	cfg.applyEnv()
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	stringEnv("CALSYNC_TRACKER_URL", &c.Tracker.BaseURL)
	stringEnv("CALSYNC_TRACKER_TOKEN", &c.Tracker.APIToken)
	stringEnv("CALSYNC_TRACKER_WORKSPACE", &c.Tracker.Workspace)
	stringEnv("CALSYNC_CALDAV_URL", &c.Calendar.BaseURL)
	stringEnv("CALSYNC_CALDAV_HOME_SET", &c.Calendar.HomeSet)
	stringEnv("CALSYNC_CALDAV_USERNAME", &c.Calendar.Username)
	stringEnv("CALSYNC_CALDAV_PASSWORD", &c.Calendar.Password)
	stringEnv("CALSYNC_CALENDAR_PREFIX", &c.Calendar.Prefix)
	stringEnv("CALSYNC_WEBHOOK_SECRET", &c.Webhook.Secret)
	stringEnv("CALSYNC_WATERMARK_DSN", &c.Sync.WatermarkDSN)
	stringEnv("CALSYNC_LISTEN_ADDR", &c.Server.Addr)
	stringEnv("CALSYNC_ADMIN_TOKEN", &c.Server.AdminToken)
	durationEnv("CALSYNC_SYNC_INTERVAL", &c.Sync.Interval)
	durationEnv("CALSYNC_SYNC_LOOKBACK", &c.Sync.Lookback)
	intEnv("CALSYNC_RETRY_ATTEMPTS", &c.Sync.RetryAttempts)
	intEnv("CALSYNC_RATE_LIMIT_MAX", &c.Server.RateLimitMax)
}

// Normalize fills defaults for everything optional.
func (c *Config) Normalize() {
	if c.Calendar.Prefix == "" {
		c.Calendar.Prefix = "Tracker"
	}
	if c.Calendar.HomeSet == "" {
		c.Calendar.HomeSet = "calendars"
	}
	if c.Sync.Interval <= 0 {
		c.Sync.Interval = 5 * time.Minute
	}
	if c.Sync.Lookback <= 0 {
		c.Sync.Lookback = 24 * time.Hour
	}
	if c.Sync.CleanupInterval <= 0 {
		c.Sync.CleanupInterval = time.Hour
	}
	if c.Sync.CleanupRetention <= 0 {
		c.Sync.CleanupRetention = 30 * 24 * time.Hour
	}
	if c.Sync.RetryAttempts <= 0 {
		c.Sync.RetryAttempts = 3
	}
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Server.RateLimitWindow <= 0 {
		c.Server.RateLimitWindow = time.Minute
	}
}

// Validate rejects configurations that cannot work.
func (c *Config) Validate() error {
	if err := requireHTTPURL("tracker.base_url", c.Tracker.BaseURL); err != nil {
		return err
	}
	if err := requireHTTPURL("calendar.base_url", c.Calendar.BaseURL); err != nil {
		return err
	}
	if c.Tracker.APIToken == "" {
		return fmt.Errorf("config: tracker.api_token is required")
	}
	if c.Tracker.Workspace == "" {
		return fmt.Errorf("config: tracker.workspace is required")
	}
	if c.Webhook.Secret != "" && len(c.Webhook.Secret) < 32 {
		return fmt.Errorf("config: webhook.secret must be at least 32 characters")
	}
	if c.Sync.Interval < time.Minute {
		return fmt.Errorf("config: sync.interval must be at least 1m")
	}
	return nil
}

func requireHTTPURL(field, raw string) error {
	if raw == "" {
		return fmt.Errorf("config: %s is required", field)
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("config: %s: %w", field, err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("config: %s must be an http or https URL", field)
	}
	return nil
}

func stringEnv(name string, dst *string) {
	if value := os.Getenv(name); value != "" {
		*dst = value
	}
}

func intEnv(name string, dst *int) {
	if value := os.Getenv(name); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			*dst = parsed
		}
	}
}

func durationEnv(name string, dst *time.Duration) {
	if value := os.Getenv(name); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			*dst = parsed
		}
	}
}
