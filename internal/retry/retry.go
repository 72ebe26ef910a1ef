// Package retry runs operations with bounded exponential backoff.
package retry

import (
	"context"
	"errors"
	"math/rand"
	"time"
)

// Config bounds a retried operation.
type Config struct {
	// MaxAttempts counts the first try. Zero or negative means one attempt.
	MaxAttempts int
	// InitialDelay is the sleep after the first failure.
	InitialDelay time.Duration
	// MaxDelay caps the backoff growth.
	MaxDelay time.Duration
	// Factor multiplies the delay after each failure.
	Factor float64
	// Jitter randomizes each sleep within [0.5, 1.5] of the computed delay.
	Jitter bool
}

// DefaultConfig retries twice after the first failure with jittered backoff.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:  3,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     10 * time.Second,
		Factor:       2.0,
		Jitter:       true,
	}
}

// Exponential builds a jittered exponential config.
func Exponential(maxAttempts int, initial, max time.Duration) Config {
	return Config{
		MaxAttempts:  maxAttempts,
		InitialDelay: initial,
		MaxDelay:     max,
		Factor:       2.0,
		Jitter:       true,
	}
}

// Result reports how a retried operation ended.
type Result struct {
	Attempts int
	Err      error
	Duration time.Duration
}

// Do runs op until it succeeds, returns a permanent error, the attempt
// budget is spent, or ctx is cancelled.
func Do(ctx context.Context, cfg Config, op func() error) Result {
	start := time.Now()
	var res Result

	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	if cfg.InitialDelay <= 0 {
		cfg.InitialDelay = 100 * time.Millisecond
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = 10 * time.Second
	}
	if cfg.Factor <= 0 {
		cfg.Factor = 2.0
	}

	delay := cfg.InitialDelay
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		res.Attempts = attempt

		if ctx.Err() != nil {
			res.Err = ctx.Err()
			res.Duration = time.Since(start)
			return res
		}

		err := op()
		if err == nil {
			res.Err = nil
			res.Duration = time.Since(start)
			return res
		}
		res.Err = err

		if IsPermanent(err) || attempt >= cfg.MaxAttempts {
			break
		}

		sleep := delay
		if cfg.Jitter {
			sleep = time.Duration(float64(delay) * (0.5 + rand.Float64())) // #nosec G404 -- jitter only
		}
		select {
		case <-ctx.Done():
			res.Err = ctx.Err()
			res.Duration = time.Since(start)
			return res
		case <-time.After(sleep):
		}

		delay = time.Duration(float64(delay) * cfg.Factor)
		if delay > cfg.MaxDelay {
			delay = cfg.MaxDelay
		}
	}

	res.Duration = time.Since(start)
	return res
}

// DoWithValue is Do for operations that return a value.
func DoWithValue[T any](ctx context.Context, cfg Config, op func() (T, error)) (T, Result) {
	var value T
	res := Do(ctx, cfg, func() error {
		var err error
		value, err = op()
		return err
	})
	return value, res
}

// PermanentError marks an error that must not be retried.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent wraps err so Do stops immediately.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// IsPermanent reports whether err was wrapped with Permanent.
func IsPermanent(err error) bool {
	var p *PermanentError
	return errors.As(err, &p)
}
