package clock

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Manual is a deterministic [Clock] whose time only moves when told to.
//
// Timers created with [Manual.After] fire when [Manual.Advance] or
// [Manual.Set] moves the clock to or past their deadline. Tests use
// [Manual.BlockUntil] to wait for the code under test to arm its timers
// before advancing.
//
// Thread-safety: all methods are safe for concurrent use.
type Manual struct {
	mu      sync.Mutex
	now     time.Time
	waiters []*waiter
	changed chan struct{}
}

type waiter struct {
	deadline time.Time
	ch       chan time.Time
}

// NewManual creates a manual clock set to start.
func NewManual(start time.Time) *Manual {
	return &Manual{
		now:     start,
		changed: make(chan struct{}),
	}
}

// Now returns the clock's current time.
func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// After returns a channel that fires once the clock reaches now+d.
func (m *Manual) After(d time.Duration) <-chan time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()

	ch := make(chan time.Time, 1)
	if d <= 0 {
		ch <- m.now
		return ch
	}

	m.waiters = append(m.waiters, &waiter{deadline: m.now.Add(d), ch: ch})
	m.notifyLocked()
	return ch
}

// Advance moves the clock forward by d and fires every due timer.
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.setLocked(m.now.Add(d))
}

// Set moves the clock to t. Moving backwards fires nothing.
func (m *Manual) Set(t time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.setLocked(t)
}

// Waiters returns the number of timers that have not fired yet.
func (m *Manual) Waiters() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.waiters)
}

// BlockUntil waits until at least n timers are pending or ctx is done.
func (m *Manual) BlockUntil(ctx context.Context, n int) error {
	for {
		m.mu.Lock()
		if len(m.waiters) >= n {
			m.mu.Unlock()
			return nil
		}
		changed := m.changed
		m.mu.Unlock()

		select {
		case <-changed:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (m *Manual) setLocked(t time.Time) {
	m.now = t

	// fire in deadline order so observers see timers expire chronologically
	sort.SliceStable(m.waiters, func(i, j int) bool {
		return m.waiters[i].deadline.Before(m.waiters[j].deadline)
	})

	remaining := m.waiters[:0]
	for _, w := range m.waiters {
		if !w.deadline.After(t) {
			w.ch <- t
			continue
		}
		remaining = append(remaining, w)
	}
	m.waiters = remaining
	m.notifyLocked()
}

// notifyLocked wakes BlockUntil callers. Must hold m.mu.
func (m *Manual) notifyLocked() {
	close(m.changed)
	m.changed = make(chan struct{})
}
