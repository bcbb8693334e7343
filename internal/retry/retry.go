// Package retry implements the backoff policy applied to each protocol
// request: exponential delay growth with a hard cap, a bounded attempt
// budget, and status-code based retry classification.
package retry

import (
	"context"
	"math"
	"time"
)

// Config holds the retry parameters for a single upload session.
// A Config is built once at session start and never mutated afterwards.
type Config struct {
	// MaxRetries is the number of retry attempts after the first try.
	// 0 means a single attempt with no retries.
	MaxRetries int
	// InitialDelay is the base delay for exponential backoff.
	InitialDelay time.Duration
	// MaxDelay caps the computed backoff delay.
	MaxDelay time.Duration
	// BackoffMultiplier is the per-attempt growth factor (>= 1).
	BackoffMultiplier float64
	// RetryableStatuses lists the HTTP status codes that trigger a retry.
	// Transport-level failures (no response at all) always retry while
	// attempts remain, regardless of this list.
	RetryableStatuses []int
}

// DefaultConfig returns the retry parameters used when the caller
// supplies none.
func DefaultConfig() Config {
	return Config{
		MaxRetries:        3,
		InitialDelay:      1 * time.Second,
		MaxDelay:          30 * time.Second,
		BackoffMultiplier: 2,
		RetryableStatuses: []int{408, 429, 500, 502, 503, 504},
	}
}

// Normalized returns a copy of c with out-of-range fields clamped or
// filled from DefaultConfig. Negative MaxRetries becomes 0, a zero
// multiplier becomes the default, and MaxDelay is raised to at least
// InitialDelay.
func (c Config) Normalized() Config {
	def := DefaultConfig()
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.InitialDelay <= 0 {
		c.InitialDelay = def.InitialDelay
	}
	if c.BackoffMultiplier < 1 {
		c.BackoffMultiplier = def.BackoffMultiplier
	}
	if c.MaxDelay < c.InitialDelay {
		c.MaxDelay = c.InitialDelay
	}
	if c.RetryableStatuses == nil {
		c.RetryableStatuses = append([]int(nil), def.RetryableStatuses...)
	}
	return c
}

// Retryable reports whether the given HTTP status is in the configured
// retryable set.
func (c Config) Retryable(status int) bool {
	for _, s := range c.RetryableStatuses {
		if s == status {
			return true
		}
	}
	return false
}

// Decision is the outcome of evaluating one failed attempt.
type Decision struct {
	Retry bool
	Delay time.Duration
}

// Decide evaluates a failed attempt (0-indexed) against the policy.
//
// A transport failure is signalled by status == 0 with a non-nil err.
// Any status outside RetryableStatuses stops immediately; otherwise the
// attempt budget decides. The returned delay for attempt k is
// min(InitialDelay * BackoffMultiplier^k, MaxDelay).
func (c Config) Decide(attempt int, status int, err error) Decision {
	transport := status == 0 && err != nil
	if !transport && !c.Retryable(status) {
		return Decision{}
	}
	if attempt >= c.MaxRetries {
		return Decision{}
	}
	return Decision{Retry: true, Delay: c.Backoff(attempt)}
}

// Backoff returns the delay before retrying the given 0-indexed attempt.
func (c Config) Backoff(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	d := float64(c.InitialDelay) * math.Pow(c.BackoffMultiplier, float64(attempt))
	if d > float64(c.MaxDelay) || math.IsInf(d, 1) {
		return c.MaxDelay
	}
	return time.Duration(d)
}

// Wait sleeps for the given delay, returning early with ctx.Err() if the
// context is cancelled first. Cancellation during a backoff wait must
// win over the pending retry.
func Wait(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
