package gateway

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// ErrBudgetExhausted is returned when a request cannot acquire a rate
// limit slot before the wait ceiling. The call was never sent.
var ErrBudgetExhausted = errors.New("request budget exhausted")

const (
	// Venue allows 500 requests in any rolling 60 second window. The
	// margin keeps bursts from other consumers of the same key safe.
	defaultWindowLimit = 500
	defaultWindow      = time.Minute

	// retrySlack pads the computed wait so the oldest call has actually
	// left the window when we wake.
	retrySlack = 100 * time.Millisecond

	// maxWait bounds how long a single acquire may block.
	maxWait = 10 * time.Second
)

// slidingLimiter enforces an at-most-N-calls-in-any-rolling-window
// budget. A token bucket cannot express this: a bucket allows a full
// burst immediately after refill, which can put more than N calls
// inside one venue-side window. The limiter keeps the timestamps of the
// last N calls and admits a new one only when the oldest has aged out.
type slidingLimiter struct {
	mu    sync.Mutex
	limit int
	win   time.Duration
	calls []time.Time

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

func newSlidingLimiter(limit int, window time.Duration) *slidingLimiter {
	return &slidingLimiter{
		limit: limit,
		win:   window,
		now:   time.Now,
		sleep: sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// acquire blocks until a slot is free, the wait ceiling passes, or the
// context is done. On success the slot is consumed.
func (l *slidingLimiter) acquire(ctx context.Context) error {
	deadline := l.now().Add(maxWait)

	for {
		wait, ok := l.tryAcquire()
		if ok {
			return nil
		}

		wait += retrySlack
		if l.now().Add(wait).After(deadline) {
			return errors.Wrapf(ErrBudgetExhausted, "window full, next slot in %s", wait)
		}
		if err := l.sleep(ctx, wait); err != nil {
			return err
		}
	}
}

// tryAcquire consumes a slot if one is free, otherwise reports how long
// until the oldest call leaves the window.
func (l *slidingLimiter) tryAcquire() (time.Duration, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	cutoff := now.Add(-l.win)

	kept := l.calls[:0]
	for _, t := range l.calls {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	l.calls = kept

	if len(l.calls) < l.limit {
		l.calls = append(l.calls, now)
		return 0, true
	}

	return l.calls[0].Sub(cutoff), false
}

// inFlight reports how many calls currently occupy the window.
func (l *slidingLimiter) inFlight() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.now().Add(-l.win)
	n := 0
	for _, t := range l.calls {
		if t.After(cutoff) {
			n++
		}
	}
	return n
}
