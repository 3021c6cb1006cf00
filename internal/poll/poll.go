// Package poll provides the bounded-retry readiness primitives used
// throughout the driver: a generic "wait until this predicate yields a
// value" loop and TCP reachability checks built on top of it.
//
// Every wait in the orchestration harness goes through this package so that
// every wait has an explicit bound (attempts x interval). A hung test
// harness is worse than a failed one, so there are deliberately no
// unbounded waits and no cancellation mechanism beyond budget expiry.
package poll

import (
	"errors"
	"fmt"
	"time"
)

// ErrTimeout is returned when a condition never held within the attempt
// budget. Callers wrap it with context-specific sentinels via %w.
var ErrTimeout = errors.New("poll: condition not met within budget")

// Default budget: 120 attempts at 500ms is the standard 60 second window
// every readiness check in the harness gets unless a caller overrides it.
const (
	DefaultAttempts = 120
	DefaultInterval = 500 * time.Millisecond
)

// Option overrides part of the default poll budget.
type Option func(*config)

type config struct {
	attempts int
	interval time.Duration
	label    string
}

// WithAttempts sets the maximum number of predicate evaluations.
func WithAttempts(n int) Option {
	return func(c *config) { c.attempts = n }
}

// WithInterval sets the pause between predicate evaluations.
func WithInterval(d time.Duration) Option {
	return func(c *config) { c.interval = d }
}

// WithLabel names the condition in the timeout error message.
func WithLabel(label string) Option {
	return func(c *config) { c.label = label }
}

// Await evaluates cond until it reports ok, sleeping between attempts.
// The predicate runs synchronously on the calling goroutine: polling
// suspends the caller and nothing else.
//
// Returns the predicate's value on success, or an error wrapping ErrTimeout
// after the attempt budget is exhausted.
func Await[T any](cond func() (T, bool), opts ...Option) (T, error) {
	cfg := config{
		attempts: DefaultAttempts,
		interval: DefaultInterval,
		label:    "condition",
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	for i := 0; i < cfg.attempts; i++ {
		if v, ok := cond(); ok {
			return v, nil
		}
		// No sleep after the final attempt; the caller gets the
		// timeout as soon as the budget is spent.
		if i < cfg.attempts-1 {
			time.Sleep(cfg.interval)
		}
	}

	var zero T
	return zero, fmt.Errorf("%s after %d attempts at %v: %w",
		cfg.label, cfg.attempts, cfg.interval, ErrTimeout)
}
