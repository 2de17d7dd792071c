// Package config parses all feedrelay configuration from environment
// variables using caarlos0/env/v11. Call Load once at startup.
package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Backend values for QUEUE_BACKEND.
const (
	BackendRedis  = "redis"
	BackendMemory = "memory"
)

// Config holds every setting read from the environment.
type Config struct {
	// Queue
	QueueBackend  string `env:"QUEUE_BACKEND"  envDefault:"redis"`
	RedisAddr     string `env:"REDIS_ADDR"     envDefault:"localhost:6379"`
	QueueStream   string `env:"QUEUE_STREAM"   envDefault:"feedrelay:jobs"`
	QueueGroup    string `env:"QUEUE_GROUP"    envDefault:"feedrelay:workers"`
	EventsChannel string `env:"EVENTS_CHANNEL" envDefault:"feedrelay:events"`

	// Telegram
	TelegramToken  string  `env:"TELEGRAM_TOKEN"`
	TelegramAPIURL string  `env:"TELEGRAM_API_URL" envDefault:"https://api.telegram.org"`
	TelegramRate   float64 `env:"TELEGRAM_RATE"    envDefault:"25"`

	// Dispatcher
	MaxAttempts   int           `env:"MAX_ATTEMPTS"   envDefault:"3"`
	PauseCooldown time.Duration `env:"PAUSE_COOLDOWN" envDefault:"60s"`
	MaxCooldown   time.Duration `env:"MAX_COOLDOWN"   envDefault:"10m"`
	StallInterval time.Duration `env:"STALL_INTERVAL" envDefault:"1m"`
	StallMaxAge   time.Duration `env:"STALL_MAX_AGE"  envDefault:"15m"`

	// HTTP
	HTTPAddr    string  `env:"HTTP_ADDR"    envDefault:":8080"`
	MetricsAddr string  `env:"METRICS_ADDR" envDefault:":9090"`
	SubmitRate  float64 `env:"SUBMIT_RATE"  envDefault:"0.5"`
	SubmitBurst int     `env:"SUBMIT_BURST" envDefault:"5"`
	// TrustedProxies are CIDRs whose X-Forwarded-For header identifies the client.
	TrustedProxies []string `env:"TRUSTED_PROXIES" envSeparator:","`

	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
}

// Load parses the environment and validates the result.
func Load() (Config, error) {
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints env tags cannot express.
func (c Config) Validate() error {
	switch c.QueueBackend {
	case BackendRedis, BackendMemory:
	default:
		return fmt.Errorf("config: QUEUE_BACKEND must be %q or %q, got %q", BackendRedis, BackendMemory, c.QueueBackend)
	}
	if c.MaxAttempts < 1 {
		return fmt.Errorf("config: MAX_ATTEMPTS must be >= 1")
	}
	if c.PauseCooldown <= 0 || c.MaxCooldown <= 0 {
		return fmt.Errorf("config: PAUSE_COOLDOWN and MAX_COOLDOWN must be positive")
	}
	// The rate-limited job stays unacknowledged for the whole pause; a shorter
	// stall deadline would reclaim it and deliver it twice.
	if c.StallMaxAge <= max(c.PauseCooldown, c.MaxCooldown) {
		return fmt.Errorf("config: STALL_MAX_AGE (%s) must exceed the longest pause (%s)", c.StallMaxAge, max(c.PauseCooldown, c.MaxCooldown))
	}
	if c.StallInterval <= 0 {
		return fmt.Errorf("config: STALL_INTERVAL must be positive")
	}
	return nil
}

// SlogLevel maps LOG_LEVEL to a slog.Level, defaulting to Info.
func (c Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}
