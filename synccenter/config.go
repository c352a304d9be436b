package synccenter

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the full sync-center configuration.
type Config struct {
	Listen          string         `yaml:"listen"`
	DBPath          string         `yaml:"db_path"`
	TemplateBaseURL string         `yaml:"template_base_url"`
	SubmitBaseURL   string         `yaml:"submit_base_url"`
	CacheTTLSeconds int            `yaml:"cache_ttl_seconds"`
	WatchIntervalMs int            `yaml:"watch_interval_ms"`
	Conflict        ConflictConfig `yaml:"conflict"`
	Submit          SubmitConfig   `yaml:"submit"`
}

// ConflictConfig tunes the stale-draft scan.
type ConflictConfig struct {
	MaxScan         int   `yaml:"max_scan"`
	BaselineVersion int64 `yaml:"baseline_version"`
}

// SubmitConfig tunes draft submission retries.
type SubmitConfig struct {
	MaxRetries int `yaml:"max_retries"` // -1 disables retries
	BackoffMs  int `yaml:"backoff_ms"`
}

// DefaultConfig returns sane defaults.
func DefaultConfig() *Config {
	return &Config{
		Listen:          ":8086",
		DBPath:          "drafts.db",
		CacheTTLSeconds: 300,
		WatchIntervalMs: 1000,
		Conflict: ConflictConfig{
			MaxScan:         25,
			BaselineVersion: 1,
		},
		Submit: SubmitConfig{
			MaxRetries: 2,
			BackoffMs:  500,
		},
	}
}

// LoadConfig reads and parses a YAML config file. Returns DefaultConfig merged with the file.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, cfg.Validate()
}

// Validate checks that required fields are present and values are sane.
func (c *Config) Validate() error {
	if c.DBPath == "" {
		return fmt.Errorf("db_path is required")
	}
	if c.TemplateBaseURL == "" {
		return fmt.Errorf("template_base_url is required")
	}
	if c.SubmitBaseURL == "" {
		return fmt.Errorf("submit_base_url is required")
	}
	if c.CacheTTLSeconds < 0 {
		return fmt.Errorf("cache_ttl_seconds must be >= 0")
	}
	if c.WatchIntervalMs <= 0 {
		return fmt.Errorf("watch_interval_ms must be > 0")
	}
	if c.Conflict.MaxScan <= 0 {
		return fmt.Errorf("conflict.max_scan must be > 0")
	}
	if c.Conflict.BaselineVersion <= 0 {
		return fmt.Errorf("conflict.baseline_version must be > 0")
	}
	return nil
}

// CacheTTL returns the template cache TTL as a duration.
func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.CacheTTLSeconds) * time.Second
}

// WatchInterval returns the cross-process poll interval as a duration.
func (c *Config) WatchInterval() time.Duration {
	return time.Duration(c.WatchIntervalMs) * time.Millisecond
}

// Backoff returns the initial submission retry backoff as a duration.
func (c *SubmitConfig) Backoff() time.Duration {
	return time.Duration(c.BackoffMs) * time.Millisecond
}
