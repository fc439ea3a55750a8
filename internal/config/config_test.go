package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{
		"PORT", "ENV", "LOG_LEVEL", "CLINIC_TIMEZONE", "KAFKA_BROKERS", "API_KEYS",
		"TRACE_SAMPLE_RATE", "JOURNAL_ENABLED", "JOURNAL_BUFFER", "PROJECTOR_WORKERS",
		"OUTBOX_POLL_INTERVAL", "OUTBOX_BATCH_SIZE", "OUTBOX_MAX_RETRIES",
	} {
		t.Setenv(key, "")
	}

	cfg := Load()
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "development", cfg.Env)
	assert.True(t, cfg.IsDevelopment())
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "America/Argentina/Buenos_Aires", cfg.ClinicTimezone)
	assert.Equal(t, []string{"localhost:9092"}, cfg.KafkaBrokers)
	assert.Empty(t, cfg.APIKeys)
	assert.Equal(t, 1.0, cfg.TraceSampleRate)
	assert.True(t, cfg.JournalEnabled)
	assert.Equal(t, 1024, cfg.JournalBuffer)
	assert.Equal(t, 4, cfg.ProjectorWorkers)
	assert.Equal(t, 100*time.Millisecond, cfg.OutboxPollInterval)
	assert.Equal(t, 100, cfg.OutboxBatchSize)
	assert.Equal(t, 5, cfg.OutboxMaxRetries)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("ENV", "production")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("CLINIC_TIMEZONE", "UTC")
	t.Setenv("DATABASE_URL", "postgres://user@host/db")
	t.Setenv("KAFKA_BROKERS", "rp-0:9092, rp-1:9092,,")
	t.Setenv("API_KEYS", "k1:frontdesk, k2 ,:orphan")
	t.Setenv("TRACE_SAMPLE_RATE", "0.25")
	t.Setenv("JOURNAL_ENABLED", "false")
	t.Setenv("JOURNAL_BUFFER", "64")
	t.Setenv("PROJECTOR_WORKERS", "16")
	t.Setenv("OUTBOX_POLL_INTERVAL", "2s")
	t.Setenv("OUTBOX_BATCH_SIZE", "10")
	t.Setenv("OUTBOX_MAX_RETRIES", "3")

	cfg := Load()
	assert.Equal(t, "9090", cfg.Port)
	assert.False(t, cfg.IsDevelopment())
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "postgres://user@host/db", cfg.DatabaseURL)
	assert.Equal(t, []string{"rp-0:9092", "rp-1:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, map[string]string{"k1": "frontdesk", "k2": "default"}, cfg.APIKeys)
	assert.Equal(t, 0.25, cfg.TraceSampleRate)
	assert.False(t, cfg.JournalEnabled)
	assert.Equal(t, 64, cfg.JournalBuffer)
	assert.Equal(t, 16, cfg.ProjectorWorkers)
	assert.Equal(t, 2*time.Second, cfg.OutboxPollInterval)
	assert.Equal(t, 10, cfg.OutboxBatchSize)
	assert.Equal(t, 3, cfg.OutboxMaxRetries)

	loc, err := cfg.Location()
	require.NoError(t, err)
	assert.Equal(t, time.UTC, loc)
}

func TestLoadIgnoresMalformedNumbers(t *testing.T) {
	t.Setenv("JOURNAL_BUFFER", "lots")
	t.Setenv("OUTBOX_POLL_INTERVAL", "soon")
	t.Setenv("TRACE_SAMPLE_RATE", "half")

	cfg := Load()
	assert.Equal(t, 1024, cfg.JournalBuffer)
	assert.Equal(t, 100*time.Millisecond, cfg.OutboxPollInterval)
	assert.Equal(t, 1.0, cfg.TraceSampleRate)
}
