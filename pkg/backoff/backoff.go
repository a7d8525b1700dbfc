// Package backoff provides exponential backoff calculation and a bounded
// retry loop built on it.
package backoff

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"time"
)

// Config for exponential backoff. Zero values use defaults.
type Config struct {
	Initial time.Duration // default: 100ms
	Max     time.Duration // default: 5s
	Jitter  float64       // fraction of each delay randomised, 0 to 1 (default: none)
}

// Exponential calculates exponential backoff for a given attempt.
// Attempt 1 returns initial, attempt 2 returns initial*2, etc.
// With Jitter set, the result is drawn from [d*(1-Jitter), d].
func Exponential(attempt int, cfg *Config) time.Duration {
	initial := 100 * time.Millisecond
	maxBackoff := 5 * time.Second
	jitter := 0.0
	if cfg != nil {
		if cfg.Initial > 0 {
			initial = cfg.Initial
		}
		if cfg.Max > 0 {
			maxBackoff = cfg.Max
		}
		jitter = math.Min(math.Max(cfg.Jitter, 0), 1)
	}

	d := float64(initial)
	if attempt > 1 {
		d = math.Min(d*math.Pow(2.0, float64(attempt-1)), float64(maxBackoff))
	}
	if jitter > 0 {
		d -= d * jitter * rand.Float64()
	}
	return time.Duration(d)
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying. Retry returns it unwrapped.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// Retry calls fn until it succeeds, returns a Permanent error, ctx ends or
// maxRetries retries have been spent. onRetry, when set, is called before
// each wait with the upcoming attempt number and the previous error.
func Retry(ctx context.Context, maxRetries int, cfg *Config, onRetry func(attempt int, err error), fn func(context.Context) error) error {
	var lastErr error
	for attempt := range maxRetries + 1 {
		if attempt > 0 {
			if onRetry != nil {
				onRetry(attempt, lastErr)
			}
			timer := time.NewTimer(Exponential(attempt, cfg))
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		var p *permanentError
		if errors.As(lastErr, &p) {
			return p.err
		}
	}
	return lastErr
}
