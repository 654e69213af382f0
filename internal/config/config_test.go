// Package config_test tests the configuration loading for the narration service.
package config_test

import (
	"testing"

	"github.com/pelletier/go-toml/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grimfeed/narration-service/internal/config"
)

func TestConfigUnmarshal(t *testing.T) {
	t.Parallel()

	tomlData := `
[nats]
url = "nats://127.0.0.1:4222"
narration_subject = "narration.requested"
audio_object_store_bucket = "NARRATION_AUDIO"

[provider]
base_url = "https://api.elevenlabs.io"
api_key = "test-key"
model_id = "eleven_turbo_v2_5"
timeout_seconds = 9
requests_per_minute = 60

[cache]
backend = "filesystem"
dir = "./cache/narration"
max_size_mb = 500
ttl_days = 7
index_path = "./cache/narration/index.db"

[scheduler]
workers = 3
max_attempts = 3
retry_base_delay_ms = 2000
attempt_timeout_seconds = 30
job_retention_minutes = 15
abandoned_timeout_minutes = 60

[narration]
max_content_length = 10000
cleanup_interval_hours = 6

[paths]
base_logs_dir = "/var/log/narration"
`

	var cfg config.Config

	err := toml.Unmarshal([]byte(tomlData), &cfg)
	require.NoError(t, err)

	assert.Equal(t, "nats://127.0.0.1:4222", cfg.NATS.URL)
	assert.Equal(t, "narration.requested", cfg.NATS.NarrationSubject)
	assert.Equal(t, "NARRATION_AUDIO", cfg.NATS.AudioObjectStoreBucket)
	assert.Equal(t, "https://api.elevenlabs.io", cfg.Provider.BaseURL)
	assert.Equal(t, "test-key", cfg.Provider.APIKey)
	assert.Equal(t, "eleven_turbo_v2_5", cfg.Provider.ModelID)
	assert.Equal(t, 9, cfg.Provider.TimeoutSeconds)
	assert.Equal(t, "filesystem", cfg.Cache.Backend)
	assert.Equal(t, int64(500), cfg.Cache.MaxSizeMB)
	assert.Equal(t, 7, cfg.Cache.TTLDays)
	assert.Equal(t, "./cache/narration/index.db", cfg.Cache.IndexPath)
	assert.Equal(t, 3, cfg.Scheduler.Workers)
	assert.Equal(t, 3, cfg.Scheduler.MaxAttempts)
	assert.Equal(t, 2000, cfg.Scheduler.RetryBaseDelayMS)
	assert.Equal(t, 10000, cfg.Narration.MaxContentLength)
	assert.Equal(t, "/var/log/narration", cfg.Paths.BaseLogsDir)
}

func TestApplyDefaults(t *testing.T) {
	t.Parallel()

	var cfg config.Config

	cfg.ApplyDefaults()

	assert.Equal(t, int64(500), cfg.Cache.MaxSizeMB)
	assert.Equal(t, 7, cfg.Cache.TTLDays)
	assert.Equal(t, 3, cfg.Scheduler.Workers)
	assert.Equal(t, 3, cfg.Scheduler.MaxAttempts)
	assert.Equal(t, 2000, cfg.Scheduler.RetryBaseDelayMS)
	assert.Equal(t, 30, cfg.Scheduler.AttemptTimeoutSeconds)
	assert.Equal(t, 15, cfg.Scheduler.JobRetentionMinutes)
	assert.Equal(t, 60, cfg.Scheduler.AbandonedTimeoutMinutes)
	assert.Equal(t, 10000, cfg.Narration.MaxContentLength)
	assert.Equal(t, 6, cfg.Narration.CleanupIntervalHours)
	assert.Equal(t, 9, cfg.Provider.TimeoutSeconds)
	assert.Equal(t, 60, cfg.Provider.RequestsPerMinute)
}

func TestApplyDefaultsKeepsExplicitValues(t *testing.T) {
	t.Parallel()

	var cfg config.Config

	cfg.Scheduler.Workers = 8
	cfg.Cache.MaxSizeMB = 50

	cfg.ApplyDefaults()

	assert.Equal(t, 8, cfg.Scheduler.Workers)
	assert.Equal(t, int64(50), cfg.Cache.MaxSizeMB)
}
