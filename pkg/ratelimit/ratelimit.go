// Package ratelimit spaces provider calls, source fetches and status polls.
package ratelimit

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"
	"time"
)

// ErrStopped is returned by Wait once the limiter is stopped.
var ErrStopped = errors.New("ratelimit: limiter stopped")

// Limiter hands out release times spaced by interval, each spread by up to
// +/- jitter*interval. It is safe for concurrent use; concurrent callers are
// released one slot apart in arrival order.
type Limiter struct {
	interval time.Duration
	jitter   float64 // 0.0 to 1.0
	rand     func() float64

	mu      sync.Mutex
	next    time.Time
	stopped bool
	done    chan struct{}
}

// NewLimiter allows rps operations per second with the given jitter factor.
// The first operation is released immediately. If rps is <= 0, the limiter
// does not block.
func NewLimiter(rps float64, jitter float64) *Limiter {
	if rps <= 0 {
		return newLimiter(0, jitter)
	}
	return newLimiter(time.Duration(float64(time.Second)/rps), jitter)
}

// NewEvery releases one operation per interval, the first one interval from
// now. This is the form used for status polling, where the first attempt
// has already happened. If interval is <= 0, the limiter does not block.
func NewEvery(interval time.Duration, jitter float64) *Limiter {
	l := newLimiter(interval, jitter)
	if l.interval > 0 {
		l.next = time.Now().Add(l.spread())
	}
	return l
}

func newLimiter(interval time.Duration, jitter float64) *Limiter {
	if jitter < 0 {
		jitter = 0
	} else if jitter > 1 {
		jitter = 1
	}
	if interval < 0 {
		interval = 0
	}
	return &Limiter{
		interval: interval,
		jitter:   jitter,
		rand:     rand.Float64,
		done:     make(chan struct{}),
	}
}

// Interval reports the base spacing between operations, zero when unlimited.
func (l *Limiter) Interval() time.Duration {
	return l.interval
}

// spread returns the interval moved by a random share of the jitter.
func (l *Limiter) spread() time.Duration {
	if l.jitter == 0 {
		return l.interval
	}
	factor := 1 + l.jitter*(l.rand()*2-1)
	return time.Duration(float64(l.interval) * factor)
}

// reserve books the next release slot.
func (l *Limiter) reserve() (time.Time, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.stopped {
		return time.Time{}, ErrStopped
	}
	now := time.Now()
	if l.next.Before(now) {
		l.next = now
	}
	at := l.next
	l.next = at.Add(l.spread())
	return at, nil
}

// Wait blocks until the caller's slot comes up, the limiter is stopped or
// ctx is done.
func (l *Limiter) Wait(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if l.interval == 0 {
		return nil
	}

	at, err := l.reserve()
	if err != nil {
		return err
	}
	delay := time.Until(at)
	if delay <= 0 {
		return nil
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-l.done:
		return ErrStopped
	}
}

// Stop releases pending waiters with ErrStopped. Later Waits on a paced
// limiter fail the same way.
func (l *Limiter) Stop() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.stopped {
		l.stopped = true
		close(l.done)
	}
}
