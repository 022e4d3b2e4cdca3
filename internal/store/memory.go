package store

import (
	"sync"
)

// subscriberBuffer is the per-subscriber channel capacity.
const subscriberBuffer = 100

// MemoryStore is an in-memory implementation of [Store].
//
// MemoryStore holds the authoritative [State] and applies actions through
// [Reduce] under a single lock, so concurrent operations never interleave a
// partial write. Each applied action publishes one snapshot to subscribers.
//
// Subscribers receive snapshots via buffered channels (buffer size 100).
// Sends are non-blocking; if a subscriber's buffer is full, the snapshot is
// dropped for that subscriber to prevent blocking the entire store. Because
// every snapshot is complete, a dropped snapshot is superseded by the next.
type MemoryStore struct {
	mu          sync.RWMutex
	state       State
	subscribers map[chan State]struct{}
	subMu       sync.RWMutex
}

// NewMemoryStore creates a new [Store] holding an empty list.
//
// The store is immediately ready for use. No cleanup is required when done.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		state:       State{Items: []Item{}},
		subscribers: make(map[chan State]struct{}),
	}
}

// Snapshot returns a copy of the current state.
func (m *MemoryStore) Snapshot() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.Clone()
}

// Apply reduces a into the current state and notifies all subscribers.
//
// When [Reduce] rejects the action the state is unchanged, no snapshot is
// published, and the current state is returned alongside the error.
func (m *MemoryStore) Apply(a Action) (State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	next, err := Reduce(m.state, a)
	if err != nil {
		return m.state.Clone(), err
	}
	m.state = next

	// publish under the state lock so subscribers observe versions in order
	m.notifySubscribers(next)
	return next.Clone(), nil
}

// Subscribe creates a new subscription and returns a channel for receiving
// snapshots.
//
// The returned channel has a buffer of 100 snapshots. If the buffer fills
// (slow consumer), new snapshots are dropped for this subscriber.
//
// Caller must call [MemoryStore.Unsubscribe] when done to prevent resource leaks.
func (m *MemoryStore) Subscribe() <-chan State {
	ch := make(chan State, subscriberBuffer)

	m.subMu.Lock()
	m.subscribers[ch] = struct{}{}
	m.subMu.Unlock()

	return ch
}

// Unsubscribe removes a subscription and closes its channel.
//
// After calling Unsubscribe, the channel will be closed and no further
// snapshots will be sent. Safe to call multiple times or with an unknown channel.
func (m *MemoryStore) Unsubscribe(ch <-chan State) {
	m.subMu.Lock()
	defer m.subMu.Unlock()

	// find and delete the channel (need to convert to the right type)
	for subCh := range m.subscribers {
		if subCh == ch {
			delete(m.subscribers, subCh)
			close(subCh)
			break
		}
	}
}

// notifySubscribers sends a copy of s to all active subscribers.
//
// This is non-blocking: if a subscriber's channel buffer is full, the snapshot
// is dropped for that subscriber rather than blocking the apply path.
func (m *MemoryStore) notifySubscribers(s State) {
	m.subMu.RLock()
	defer m.subMu.RUnlock()

	for ch := range m.subscribers {
		select {
		case ch <- s.Clone():
		default:
			// subscriber is slow, drop the snapshot
		}
	}
}
