package dispatcher

import (
	"log/slog"
	"time"
)

// Defaults applied by New.
const (
	DefaultMaxAttempts = 3
	DefaultCooldown    = 60 * time.Second
	DefaultMaxCooldown = 10 * time.Minute

	// errorBackoff is how long Run waits after a queue error before polling again.
	errorBackoff = 1 * time.Second
)

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithMaxAttempts sets how many times a job may fail transiently before it is marked failed.
func WithMaxAttempts(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.maxAttempts = n
		}
	}
}

// WithCooldown sets the pause length used when the sender gives no retry-after hint.
func WithCooldown(c time.Duration) Option {
	return func(d *Dispatcher) {
		if c > 0 {
			d.cooldown = c
		}
	}
}

// WithMaxCooldown caps the pause length taken from a retry-after hint.
func WithMaxCooldown(c time.Duration) Option {
	return func(d *Dispatcher) {
		if c > 0 {
			d.maxCooldown = c
		}
	}
}

// WithLogger replaces slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) {
		if l != nil {
			d.log = l
		}
	}
}

// WithTimer replaces time.After for the cooldown wait. Used by tests.
func WithTimer(after func(time.Duration) <-chan time.Time) Option {
	return func(d *Dispatcher) {
		if after != nil {
			d.after = after
		}
	}
}
