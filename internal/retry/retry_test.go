package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var errBoom = errors.New("boom")

func TestDoInvokesExactlyMaxAttempts(t *testing.T) {
	t.Parallel()

	policy := Policy{
		MaxAttempts: 3,
		InitialWait: time.Millisecond,
		Retryable:   func(error) bool { return true },
	}
	calls := 0
	err := policy.Do(context.Background(), func(context.Context) error {
		calls++
		return errBoom
	})
	require.Equal(t, 3, calls, "maxAttempts=3 must invoke the operation exactly 3 times")
	require.ErrorIs(t, err, errBoom)
	require.Equal(t, errBoom, err, "the final error must propagate unchanged, not wrapped")
}

func TestDoNonRetryableFailsImmediately(t *testing.T) {
	t.Parallel()

	policy := Policy{
		MaxAttempts: 5,
		InitialWait: time.Millisecond,
		Retryable:   func(error) bool { return false },
	}
	calls := 0
	err := policy.Do(context.Background(), func(context.Context) error {
		calls++
		return errBoom
	})
	require.Equal(t, 1, calls)
	require.Equal(t, errBoom, err)
}

func TestDoSucceedsAfterRetries(t *testing.T) {
	t.Parallel()

	var observed []int
	policy := Policy{
		MaxAttempts: 4,
		InitialWait: time.Millisecond,
		Retryable:   func(error) bool { return true },
		OnRetry:     func(attempt int, _ error) { observed = append(observed, attempt) },
	}
	calls := 0
	err := policy.Do(context.Background(), func(context.Context) error {
		calls++
		if calls < 3 {
			return errBoom
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 3, calls)
	require.Equal(t, []int{1, 2}, observed)
}

func TestDoHonorsContextDuringBackoff(t *testing.T) {
	t.Parallel()

	policy := Policy{
		MaxAttempts: 3,
		InitialWait: 5 * time.Second,
		Retryable:   func(error) bool { return true },
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	calls := 0
	start := time.Now()
	err := policy.Do(ctx, func(context.Context) error {
		calls++
		return errBoom
	})
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Equal(t, 1, calls)
	require.Less(t, time.Since(start), 2*time.Second)
}

func TestDoZeroAttemptsRunsOnce(t *testing.T) {
	t.Parallel()

	calls := 0
	err := Policy{}.Do(context.Background(), func(context.Context) error {
		calls++
		return errBoom
	})
	require.Equal(t, 1, calls)
	require.Equal(t, errBoom, err)
}

func TestBackoffDoublesAndCaps(t *testing.T) {
	t.Parallel()

	policy := Policy{InitialWait: 100 * time.Millisecond, MaxWait: 300 * time.Millisecond}
	require.Equal(t, 100*time.Millisecond, policy.backoff(0))
	require.Equal(t, 200*time.Millisecond, policy.backoff(1))
	require.Equal(t, 300*time.Millisecond, policy.backoff(2), "backoff is capped at MaxWait")
	require.Equal(t, 300*time.Millisecond, policy.backoff(6))
}

func TestBackoffJitterStaysInBand(t *testing.T) {
	t.Parallel()

	policy := Policy{InitialWait: 100 * time.Millisecond, MaxWait: 10 * time.Second, Jitter: true}
	for i := 0; i < 50; i++ {
		got := policy.backoff(2) // base wait 400ms, jitter adds up to 20%
		require.GreaterOrEqual(t, got, 400*time.Millisecond)
		require.LessOrEqual(t, got, 480*time.Millisecond)
	}
}
