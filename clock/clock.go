// Package clock provides the time capability used by the item store.
//
// Simulated latency is expressed as waits on a [Clock] rather than direct
// calls to time.Sleep, so callers can substitute a deterministic [Manual]
// clock in tests and step time forward explicitly.
//
// The package also provides [Sequence], a monotonic logical clock used to
// stamp store events with a strictly increasing sequence number.
package clock

import (
	"context"
	"sync/atomic"
	"time"
)

// Clock is the source of wall time and timers for the store.
//
// Implementations must be safe for concurrent use.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// After returns a channel that receives the current time once d has
	// elapsed. A non-positive d fires immediately.
	After(d time.Duration) <-chan time.Time
}

// Real returns a [Clock] backed by the time package.
func Real() Clock {
	return realClock{}
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) After(d time.Duration) <-chan time.Time {
	return time.After(d)
}

// Sleep blocks until d has elapsed on c or ctx is done, whichever happens
// first. It returns ctx.Err() when the context ends the wait.
func Sleep(ctx context.Context, c Clock, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case <-c.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Sequence is a monotonic logical clock.
//
// Every call to [Sequence.Next] returns a unique, strictly increasing value.
// Safe for concurrent use.
type Sequence struct {
	seq atomic.Int64
}

// NewSequence creates a sequence starting at 0. The first Next returns 1.
func NewSequence() *Sequence {
	return &Sequence{}
}

// Next increments the sequence and returns the new value.
func (s *Sequence) Next() int64 {
	return s.seq.Add(1)
}

// Current returns the last value handed out without incrementing.
func (s *Sequence) Current() int64 {
	return s.seq.Load()
}
