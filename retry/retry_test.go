package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// instant records waits instead of sleeping.
func instant(waits *[]time.Duration) func(context.Context, time.Duration) error {
	return func(ctx context.Context, d time.Duration) error {
		*waits = append(*waits, d)
		return ctx.Err()
	}
}

type permErr struct{}

func (permErr) Error() string   { return "gone" }
func (permErr) Permanent() bool { return true }

func TestExecute_SuccessFirstAttempt(t *testing.T) {
	var waits []time.Duration
	p := Default()
	p.Sleep = instant(&waits)

	calls := 0
	v, err := Execute(context.Background(), p, 3, func(_ context.Context, attempt int) (string, error) {
		calls++
		assert.Equal(t, 1, attempt)
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", v)
	assert.Equal(t, 1, calls)
	assert.Empty(t, waits)
}

func TestExecute_TransientFailuresExhaustBudget(t *testing.T) {
	for _, n := range []int{0, 1, 3, 5} {
		var waits []time.Duration
		p := Default()
		p.Sleep = instant(&waits)

		calls := 0
		_, err := Execute(context.Background(), p, n, func(context.Context, int) (int, error) {
			calls++
			return 0, errors.New("503")
		})

		var ff *FinalFailure
		require.ErrorAs(t, err, &ff)
		assert.Equal(t, n+1, calls, "maxRetries=%d", n)
		assert.Equal(t, n+1, ff.Attempts)
		assert.Len(t, waits, n)
	}
}

func TestExecute_SucceedsAfterRetries(t *testing.T) {
	var waits []time.Duration
	p := Default()
	p.Sleep = instant(&waits)

	calls := 0
	v, err := Execute(context.Background(), p, 3, func(context.Context, int) (int, error) {
		calls++
		if calls < 3 {
			return 0, errors.New("flaky")
		}
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, v)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, waits)
}

func TestExecute_PermanentStopsImmediately(t *testing.T) {
	var waits []time.Duration
	p := Default()
	p.Sleep = instant(&waits)

	calls := 0
	_, err := Execute(context.Background(), p, 5, func(context.Context, int) (int, error) {
		calls++
		return 0, permErr{}
	})

	var ff *FinalFailure
	require.ErrorAs(t, err, &ff)
	assert.Equal(t, 1, calls)
	assert.Equal(t, 1, ff.Attempts)
	assert.ErrorIs(t, err, permErr{})
	assert.Empty(t, waits)
}

func TestExecute_WrappedPermanent(t *testing.T) {
	p := Default()
	p.Sleep = func(context.Context, time.Duration) error { return nil }

	calls := 0
	_, err := Execute(context.Background(), p, 3, func(context.Context, int) (int, error) {
		calls++
		return 0, Permanent(errors.New("404"))
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestExecute_CallerCancellationStopsRetrying(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := Default()
	p.Sleep = func(ctx context.Context, _ time.Duration) error { return ctx.Err() }

	calls := 0
	_, err := Execute(ctx, p, 5, func(context.Context, int) (int, error) {
		calls++
		cancel()
		return 0, errors.New("timeout")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestExecute_NegativeRetriesMeansOneAttempt(t *testing.T) {
	calls := 0
	_, err := Execute(context.Background(), Default(), -2, func(context.Context, int) (int, error) {
		calls++
		return 0, errors.New("x")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestBackoff_NonDecreasingAndCapped(t *testing.T) {
	p := Default()
	prev := time.Duration(0)
	for n := 0; n < 40; n++ {
		d := p.Backoff(n)
		assert.GreaterOrEqual(t, d, prev)
		assert.LessOrEqual(t, d, 30*time.Second)
		prev = d
	}
	assert.Equal(t, time.Second, p.Backoff(0))
	assert.Equal(t, 16*time.Second, p.Backoff(4))
	assert.Equal(t, 30*time.Second, p.Backoff(5))
}

func TestOnRetry_ReportsAttemptAndWait(t *testing.T) {
	type call struct {
		attempt int
		wait    time.Duration
	}
	var got []call
	p := Policy{Initial: time.Second, Multiplier: 5, Max: 30 * time.Second}
	p.Sleep = func(context.Context, time.Duration) error { return nil }
	p.OnRetry = func(attempt int, _ error, wait time.Duration) {
		got = append(got, call{attempt, wait})
	}

	_, _ = Execute(context.Background(), p, 3, func(context.Context, int) (int, error) {
		return 0, errors.New("x")
	})
	assert.Equal(t, []call{{1, time.Second}, {2, 5 * time.Second}, {3, 25 * time.Second}}, got)
}

func TestRetryable(t *testing.T) {
	assert.False(t, Retryable(nil))
	assert.False(t, Retryable(context.Canceled))
	assert.True(t, Retryable(context.DeadlineExceeded))
	assert.True(t, Retryable(errors.New("unknown")))
	assert.False(t, Retryable(permErr{}))
}

func TestStatusRetryable(t *testing.T) {
	assert.True(t, StatusRetryable(500))
	assert.True(t, StatusRetryable(503))
	assert.True(t, StatusRetryable(408))
	assert.True(t, StatusRetryable(429))
	assert.False(t, StatusRetryable(400))
	assert.False(t, StatusRetryable(404))
	assert.False(t, StatusRetryable(410))
}
