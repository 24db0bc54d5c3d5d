package fetch

import (
	"context"
	"sync"
	"time"
)

// Limiter gates outbound calls to an external service.
type Limiter interface {
	// Acquire blocks until the caller may issue a request, or until the
	// context is cancelled.
	Acquire(ctx context.Context) error
}

// IntervalLimiter enforces a minimum spacing between consecutive calls.
// One instance is shared by every caller that talks to the same service,
// so ordering is global across goroutines.
type IntervalLimiter struct {
	mu       sync.Mutex
	interval time.Duration
	next     time.Time
}

// NewIntervalLimiter returns a limiter that allows callsPerSecond requests
// per second. Values <= 0 fall back to one request per second.
func NewIntervalLimiter(callsPerSecond float64) *IntervalLimiter {
	if callsPerSecond <= 0 {
		callsPerSecond = 1.0
	}
	return &IntervalLimiter{
		interval: time.Duration(float64(time.Second) / callsPerSecond),
	}
}

// Acquire reserves the next available slot and sleeps until it arrives.
// Reservation happens under the lock, so concurrent callers queue up in
// acquisition order and each slot is handed out exactly once.
func (l *IntervalLimiter) Acquire(ctx context.Context) error {
	l.mu.Lock()
	now := time.Now()
	var wait time.Duration
	if now.Before(l.next) {
		wait = l.next.Sub(now)
		l.next = l.next.Add(l.interval)
	} else {
		l.next = now.Add(l.interval)
	}
	l.mu.Unlock()

	if wait <= 0 {
		return nil
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Interval returns the configured spacing between calls.
func (l *IntervalLimiter) Interval() time.Duration {
	return l.interval
}

// NopLimiter never blocks. Used in tests and for services without a rate cap.
type NopLimiter struct{}

func (NopLimiter) Acquire(ctx context.Context) error {
	return ctx.Err()
}
