package ratelimit

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter spaces download starts process-wide. Any two consecutive grants are
// at least minInterval apart.
type Limiter struct {
	mu          sync.Mutex
	minInterval time.Duration
	maxJitter   time.Duration
	last        time.Time
	next        time.Time
}

func New(minInterval, maxJitter time.Duration) *Limiter {
	return &Limiter{ //nolint:exhaustruct
		minInterval: minInterval,
		maxJitter:   maxJitter,
	}
}

// Wait blocks until a slot is available, records the grant and returns it.
func (l *Limiter) Wait(ctx context.Context) (time.Time, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if wait := time.Until(l.next); !l.next.IsZero() && wait > 0 {
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return time.Time{}, context.Cause(ctx)
		case <-timer.C:
		}
	}

	granted := time.Now()
	if granted.Before(l.next) {
		granted = l.next
	}
	l.last = granted
	l.next = granted.Add(l.minInterval + jitter(l.maxJitter))

	return granted, nil
}

// Last returns the most recent grant, zero if none was granted yet.
func (l *Limiter) Last() time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.last
}

func jitter(upTo time.Duration) time.Duration {
	if upTo <= 0 {
		return 0
	}

	return rand.N(upTo) //nolint:gosec
}

// NewSearchLimiter throttles provider search calls, which are cheap compared
// to downloads but still subject to provider quotas.
func NewSearchLimiter() *rate.Limiter {
	return rate.NewLimiter(rate.Every(time.Millisecond*100), 5)
}
