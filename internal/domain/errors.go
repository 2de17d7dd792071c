package domain

import (
	"errors"
	"fmt"
	"time"
)

// ErrRetriesExhausted marks a job that failed on every allowed attempt.
var ErrRetriesExhausted = errors.New("retries exhausted")

// RateLimitError is returned by a Sender when the platform asks the caller to slow down.
// RetryAfter is zero when the platform gave no hint.
type RateLimitError struct {
	RetryAfter  time.Duration
	Description string
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("rate limited (retry after %s): %s", e.RetryAfter, e.Description)
	}
	return "rate limited: " + e.Description
}

// PermanentError is a rejection that will not succeed on retry (bad chat, bot blocked, ...).
type PermanentError struct {
	Code int
	Err  error
}

func (e *PermanentError) Error() string {
	return fmt.Sprintf("permanent send error (code %d): %v", e.Code, e.Err)
}

func (e *PermanentError) Unwrap() error { return e.Err }

// AsRateLimit reports whether err carries a rate-limit signal.
func AsRateLimit(err error) (*RateLimitError, bool) {
	var rl *RateLimitError
	if errors.As(err, &rl) {
		return rl, true
	}
	return nil, false
}

// IsPermanent reports whether err is a PermanentError.
func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}
