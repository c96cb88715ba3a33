// Package ratelimit enforces a jittered minimum spacing between outbound
// requests.
//
// Fixed spacing is trivially fingerprinted by remote rate limiters, so each
// release is separated from the previous one by a fresh random delay drawn
// from a bounded band around the configured budget. The limiter only spaces
// release moments in time; bounding how many callers run at once is the
// orchestrator's job.
package ratelimit

import (
	"context"
	"crypto/rand"
	"math/big"
	"sync"
	"time"

	"github.com/quarrydata/marketplace-crawler/internal/crawl"
)

// Limiter spaces request releases by a randomized per-call delay.
type Limiter struct {
	base  time.Duration
	clock crawl.Clock

	mu   sync.Mutex
	last time.Time
}

// New builds a Limiter from a requests-per-second budget. Rates at or below
// zero fall back to one request per second.
func New(requestsPerSecond float64, clock crawl.Clock) *Limiter {
	if requestsPerSecond <= 0 {
		requestsPerSecond = 1
	}
	return &Limiter{
		base:  time.Duration(float64(time.Second) / requestsPerSecond),
		clock: clock,
	}
}

// Acquire blocks until the caller may proceed or the context is canceled.
//
// Each call draws a delay uniformly from [0.5*base, 2*base], measures it
// against the previous release time, and waits out any remainder. The mutex
// is held across the wait so callers are released strictly one at a time,
// and the recorded release time is the moment the caller proceeds, not the
// moment it asked. Consecutive releases are therefore never closer than the
// lower jitter bound.
func (l *Limiter) Acquire(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	delay := l.drawDelay()
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.last.IsZero() {
		remaining := delay - l.clock.Now().Sub(l.last)
		if remaining > 0 {
			if err := wait(ctx, remaining); err != nil {
				return err
			}
		}
	}
	l.last = l.clock.Now()
	return nil
}

// Base reports the configured base interval (1/requestsPerSecond).
func (l *Limiter) Base() time.Duration {
	return l.base
}

func (l *Limiter) drawDelay() time.Duration {
	floor := l.base / 2
	return floor + randomJitter(2*l.base-floor)
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
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
