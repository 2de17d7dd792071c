package config

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, BackendRedis, cfg.QueueBackend)
	assert.Equal(t, "localhost:6379", cfg.RedisAddr)
	assert.Equal(t, 3, cfg.MaxAttempts)
	assert.Equal(t, 60*time.Second, cfg.PauseCooldown)
	assert.Equal(t, 10*time.Minute, cfg.MaxCooldown)
	assert.Equal(t, 15*time.Minute, cfg.StallMaxAge)
	assert.Equal(t, slog.LevelInfo, cfg.SlogLevel())
}

func TestLoad_FromEnvironment(t *testing.T) {
	t.Setenv("QUEUE_BACKEND", "memory")
	t.Setenv("MAX_ATTEMPTS", "5")
	t.Setenv("PAUSE_COOLDOWN", "30s")
	t.Setenv("TELEGRAM_RATE", "1.5")
	t.Setenv("LOG_LEVEL", "DEBUG")
	t.Setenv("TRUSTED_PROXIES", "10.0.0.0/8,127.0.0.1")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, BackendMemory, cfg.QueueBackend)
	assert.Equal(t, 5, cfg.MaxAttempts)
	assert.Equal(t, 30*time.Second, cfg.PauseCooldown)
	assert.InDelta(t, 1.5, cfg.TelegramRate, 1e-9)
	assert.Equal(t, slog.LevelDebug, cfg.SlogLevel())
	assert.Equal(t, []string{"10.0.0.0/8", "127.0.0.1"}, cfg.TrustedProxies)
}

func TestLoad_Invalid(t *testing.T) {
	tests := map[string]map[string]string{
		"unknown backend":          {"QUEUE_BACKEND": "kafka"},
		"zero attempts":            {"MAX_ATTEMPTS": "0"},
		"stall shorter than pause": {"STALL_MAX_AGE": "5m"},
		"bad duration":             {"PAUSE_COOLDOWN": "soon"},
	}
	for name, env := range tests {
		t.Run(name, func(t *testing.T) {
			for k, v := range env {
				t.Setenv(k, v)
			}
			_, err := Load()
			assert.Error(t, err)
		})
	}
}
