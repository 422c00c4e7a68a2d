// Package retry runs an operation under a bounded exponential backoff
// policy. Attempts are strictly sequential and waits never decrease.
package retry

import (
	"context"
	"fmt"
	"math"
	"time"
)

// Policy controls the backoff between attempts.
type Policy struct {
	// Initial is the wait before the first retry. Default: 1s.
	Initial time.Duration

	// Multiplier scales the wait after each retry. Default: 2.0.
	Multiplier float64

	// Max caps a single wait. Default: 30s.
	Max time.Duration

	// Classify overrides the default Retryable check.
	Classify func(err error) bool

	// OnRetry is called before each wait with the 1-based number of the
	// attempt that just failed.
	OnRetry func(attempt int, err error, wait time.Duration)

	// Sleep waits for d or until ctx is done. Tests replace it to avoid
	// real delays.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Default returns the fetch policy: 1s, 2s, 4s ... capped at 30s.
func Default() Policy {
	return Policy{
		Initial:    time.Second,
		Multiplier: 2.0,
		Max:        30 * time.Second,
	}
}

func (p Policy) withDefaults() Policy {
	if p.Initial <= 0 {
		p.Initial = time.Second
	}
	if p.Multiplier < 1 {
		p.Multiplier = 2.0
	}
	if p.Max <= 0 {
		p.Max = 30 * time.Second
	}
	if p.Max < p.Initial {
		p.Max = p.Initial
	}
	if p.Classify == nil {
		p.Classify = Retryable
	}
	if p.Sleep == nil {
		p.Sleep = sleep
	}
	return p
}

// Backoff returns the wait after the n-th failed attempt (0-based).
func (p Policy) Backoff(n int) time.Duration {
	p = p.withDefaults()
	d := float64(p.Initial) * math.Pow(p.Multiplier, float64(n))
	if d > float64(p.Max) || math.IsInf(d, 1) {
		return p.Max
	}
	return time.Duration(d)
}

// FinalFailure is returned when an operation did not succeed within its
// attempt budget or failed permanently.
type FinalFailure struct {
	Err      error
	Attempts int
}

func (f *FinalFailure) Error() string {
	return fmt.Sprintf("failed after %d attempt(s): %v", f.Attempts, f.Err)
}

func (f *FinalFailure) Unwrap() error { return f.Err }

// Execute calls fn up to maxRetries+1 times. The attempt number passed to fn
// is 1-based. Retrying stops early on a non-retryable error or when ctx is
// done. Any failure is reported as a *FinalFailure.
func Execute[T any](ctx context.Context, p Policy, maxRetries int, fn func(ctx context.Context, attempt int) (T, error)) (T, error) {
	p = p.withDefaults()
	if maxRetries < 0 {
		maxRetries = 0
	}

	var zero T
	var lastErr error
	attempts := 0
	for n := 0; n <= maxRetries; n++ {
		if err := ctx.Err(); err != nil {
			if lastErr == nil {
				lastErr = err
			}
			break
		}

		attempts++
		val, err := fn(ctx, attempts)
		if err == nil {
			return val, nil
		}
		lastErr = err

		// Caller gave up.
		if ctx.Err() != nil {
			break
		}
		if !p.Classify(err) {
			break
		}
		if n == maxRetries {
			break
		}

		wait := p.Backoff(n)
		if p.OnRetry != nil {
			p.OnRetry(attempts, err, wait)
		}
		if err := p.Sleep(ctx, wait); err != nil {
			break
		}
	}

	return zero, &FinalFailure{Err: lastErr, Attempts: attempts}
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
