// Package ratelimit bounds the call rate against the remote object store.
package ratelimit

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// Op selects which quota bucket a call draws from.
type Op string

// Operation kinds. Remote APIs commonly quota reads and writes
// separately; when only one ceiling is configured both kinds share it.
const (
	OpRead  Op = "read"
	OpWrite Op = "write"
)

// Limiter is the single shared throttling point for all concurrent
// remote calls. Acquire blocks until a permit frees; calls are never
// dropped or failed on limit exhaustion. Waiters are served in the
// order their reservations were made, which keeps fairness FIFO-ish
// across concurrent callers.
type Limiter struct {
	read  *rate.Limiter
	write *rate.Limiter
}

// New creates a limiter allowing readCalls (and writeCalls) per window.
// A writeCalls of zero or less means writes share the read bucket.
func New(readCalls, writeCalls int, window time.Duration) *Limiter {
	l := &Limiter{read: newBucket(readCalls, window)}
	if writeCalls > 0 {
		l.write = newBucket(writeCalls, window)
	} else {
		l.write = l.read
	}
	return l
}

// newBucket spreads calls evenly across the window (burst of one), so
// no window of the configured length sees more than the ceiling.
func newBucket(calls int, window time.Duration) *rate.Limiter {
	if calls <= 0 || window <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Limit(float64(calls)/window.Seconds()), 1)
}

// Acquire blocks until a permit for the given operation kind is
// available, or until ctx is done.
func (l *Limiter) Acquire(ctx context.Context, op Op) error {
	if op == OpWrite {
		return l.write.Wait(ctx)
	}
	return l.read.Wait(ctx)
}
