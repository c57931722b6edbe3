// Package retry repeats hub requests with exponential backoff.
package retry

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"
)

// Config is a backoff policy.
type Config struct {
	MaxAttempts int           // attempts in total; 0 retries until ctx ends
	InitialWait time.Duration // wait after the first failure
	MaxWait     time.Duration // cap on a single wait
	Multiplier  float64       // growth per attempt; <= 0 means constant
	Jitter      float64       // +/- fraction applied to each wait

	// Notify, if set, is called before each wait.
	Notify func(attempt int, err error, wait time.Duration)
}

// DefaultConfig is the policy for ordinary gateway queries.
func DefaultConfig() Config {
	return Config{
		MaxAttempts: 3,
		InitialWait: 100 * time.Millisecond,
		MaxWait:     10 * time.Second,
		Multiplier:  2.0,
		Jitter:      0.1,
	}
}

type transient struct{ err error }

func (t transient) Error() string { return t.err.Error() }
func (t transient) Unwrap() error { return t.err }

// Retryable marks err as transient. Do only retries marked errors.
func Retryable(err error) error {
	if err == nil {
		return nil
	}
	return transient{err}
}

// IsRetryable reports whether err was marked with Retryable.
func IsRetryable(err error) bool {
	return errors.As(err, new(transient))
}

// Backoff returns the wait after the given failed attempt (1-based).
func (c Config) Backoff(attempt int) time.Duration {
	mult := c.Multiplier
	if mult <= 0 {
		mult = 1
	}
	wait := float64(c.InitialWait) * math.Pow(mult, float64(attempt-1))
	if c.MaxWait > 0 && wait > float64(c.MaxWait) {
		wait = float64(c.MaxWait)
	}
	if c.Jitter > 0 {
		wait += wait * c.Jitter * (rand.Float64()*2 - 1)
	}
	return time.Duration(wait)
}

// Do calls fn until it succeeds, fails permanently, runs out of attempts or
// ctx ends. fn receives the 1-based attempt number. When attempts run out
// the last error is returned as is, still marked retryable.
func Do(ctx context.Context, c Config, fn func(attempt int) error) error {
	for attempt := 1; ; attempt++ {
		err := fn(attempt)
		if err == nil || !IsRetryable(err) {
			return err
		}
		if c.MaxAttempts > 0 && attempt >= c.MaxAttempts {
			return err
		}

		wait := c.Backoff(attempt)
		if c.Notify != nil {
			c.Notify(attempt, err, wait)
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}
