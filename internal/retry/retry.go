// Package retry wraps fallible operations with bounded
// exponential-backoff-and-jitter retries.
package retry

import (
	"context"
	"crypto/rand"
	"math"
	"math/big"
	"time"
)

// Policy configures bounded exponential backoff. Failure classification is
// injected, not hardcoded, so the same policy serves fetch and non-fetch
// operations.
type Policy struct {
	// MaxAttempts is the total invocation budget, first try included.
	// Values below one behave as one.
	MaxAttempts int
	// InitialWait seeds the backoff; the wait before retry n is
	// InitialWait * 2^(n-1), capped at MaxWait when MaxWait is positive.
	InitialWait time.Duration
	MaxWait     time.Duration
	// Jitter adds a uniform draw from [0, 0.2*wait] to each backoff.
	Jitter bool
	// Retryable reports whether an error's category is worth retrying.
	// Non-retryable errors propagate immediately without consuming the
	// attempt budget. A nil predicate retries every error.
	Retryable func(error) bool
	// OnRetry, when set, observes each scheduled retry; attempt is the
	// 1-based number of the invocation that just failed.
	OnRetry func(attempt int, err error)
}

// Do runs op until it succeeds, fails a non-retryable way, or exhausts the
// attempt budget. The error from the final invocation is returned unchanged
// so callers can distinguish and classify it; cancellation during a backoff
// wait returns the context's error instead.
func (p Policy) Do(ctx context.Context, op func(context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	for attempt := 0; ; attempt++ {
		err := op(ctx)
		if err == nil {
			return nil
		}
		if attempt >= attempts-1 {
			return err
		}
		if p.Retryable != nil && !p.Retryable(err) {
			return err
		}
		if p.OnRetry != nil {
			p.OnRetry(attempt+1, err)
		}
		if waitErr := wait(ctx, p.backoff(attempt)); waitErr != nil {
			return waitErr
		}
	}
}

// backoff returns the wait before the retry following the given 0-based
// failed attempt index.
func (p Policy) backoff(attempt int) time.Duration {
	delay := float64(p.InitialWait) * math.Pow(2, float64(attempt))
	if p.MaxWait > 0 && delay > float64(p.MaxWait) {
		delay = float64(p.MaxWait)
	}
	d := time.Duration(delay)
	if p.Jitter {
		d += randomJitter(d / 5)
	}
	return d
}

// randomJitter returns a uniform duration in [0, limit), falling back to the
// midpoint if the random source fails.
func randomJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(limit)))
	if err != nil {
		return limit / 2
	}
	return time.Duration(n.Int64())
}

func wait(ctx context.Context, delay time.Duration) error {
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
