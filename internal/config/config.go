// Package config provides the configuration structure for the narration service.
package config

import (
	"fmt"

	"github.com/book-expert/configurator"
	"github.com/book-expert/logger"
)

// NATSConfig holds the configuration for NATS.
type NATSConfig struct {
	URL                    string `toml:"url"`
	NarrationSubject       string `toml:"narration_subject"`
	AudioObjectStoreBucket string `toml:"audio_object_store_bucket"`
}

// ProviderConfig holds the configuration for the external speech provider.
type ProviderConfig struct {
	BaseURL           string `toml:"base_url"`
	APIKey            string `toml:"api_key"`
	ModelID           string `toml:"model_id"`
	TimeoutSeconds    int    `toml:"timeout_seconds"`
	RequestsPerMinute int    `toml:"requests_per_minute"`
}

// CacheConfig holds the configuration for the audio artifact cache.
// Backend selects the artifact store: "filesystem" or "nats".
// IndexPath, when non-empty, enables the SQLite index journal so cache
// metadata survives process restarts.
type CacheConfig struct {
	Backend   string `toml:"backend"`
	Dir       string `toml:"dir"`
	MaxSizeMB int64  `toml:"max_size_mb"`
	TTLDays   int    `toml:"ttl_days"`
	IndexPath string `toml:"index_path"`
}

// SchedulerConfig holds the configuration for the generation scheduler.
type SchedulerConfig struct {
	Workers                 int `toml:"workers"`
	MaxAttempts             int `toml:"max_attempts"`
	RetryBaseDelayMS        int `toml:"retry_base_delay_ms"`
	AttemptTimeoutSeconds   int `toml:"attempt_timeout_seconds"`
	JobRetentionMinutes     int `toml:"job_retention_minutes"`
	AbandonedTimeoutMinutes int `toml:"abandoned_timeout_minutes"`
}

// NarrationConfig holds the configuration for the generation facade.
type NarrationConfig struct {
	MaxContentLength     int `toml:"max_content_length"`
	CleanupIntervalHours int `toml:"cleanup_interval_hours"`
}

// PathsConfig holds the configuration for file paths.
type PathsConfig struct {
	BaseLogsDir string `toml:"base_logs_dir"`
}

// Config is the root configuration structure.
type Config struct {
	NATS      NATSConfig      `toml:"nats"`
	Provider  ProviderConfig  `toml:"provider"`
	Cache     CacheConfig     `toml:"cache"`
	Scheduler SchedulerConfig `toml:"scheduler"`
	Narration NarrationConfig `toml:"narration"`
	Paths     PathsConfig     `toml:"paths"`
}

// Load loads the configuration for the narration service.
func Load(log *logger.Logger) (*Config, error) {
	var cfg Config

	err := configurator.Load(&cfg, log)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration from configurator: %w", err)
	}

	cfg.ApplyDefaults()

	return &cfg, nil
}

// ApplyDefaults fills zero-valued tunables with their documented defaults.
func (c *Config) ApplyDefaults() {
	if c.Cache.MaxSizeMB <= 0 {
		c.Cache.MaxSizeMB = 500
	}

	if c.Cache.TTLDays <= 0 {
		c.Cache.TTLDays = 7
	}

	if c.Scheduler.Workers <= 0 {
		c.Scheduler.Workers = 3
	}

	if c.Scheduler.MaxAttempts <= 0 {
		c.Scheduler.MaxAttempts = 3
	}

	if c.Scheduler.RetryBaseDelayMS <= 0 {
		c.Scheduler.RetryBaseDelayMS = 2000
	}

	if c.Scheduler.AttemptTimeoutSeconds <= 0 {
		c.Scheduler.AttemptTimeoutSeconds = 30
	}

	if c.Scheduler.JobRetentionMinutes <= 0 {
		c.Scheduler.JobRetentionMinutes = 15
	}

	if c.Scheduler.AbandonedTimeoutMinutes <= 0 {
		c.Scheduler.AbandonedTimeoutMinutes = 60
	}

	if c.Narration.MaxContentLength <= 0 {
		c.Narration.MaxContentLength = 10000
	}

	if c.Narration.CleanupIntervalHours <= 0 {
		c.Narration.CleanupIntervalHours = 6
	}

	if c.Provider.TimeoutSeconds <= 0 {
		c.Provider.TimeoutSeconds = 9
	}

	if c.Provider.RequestsPerMinute <= 0 {
		c.Provider.RequestsPerMinute = 60
	}
}
