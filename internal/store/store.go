package store

import (
	"errors"
	"time"
)

var (
	// ErrDuplicateID is returned when a mutation would give two items the same ID.
	ErrDuplicateID = errors.New("duplicate item id")

	// ErrInvalidItem is returned for items or IDs that fail validation.
	ErrInvalidItem = errors.New("invalid item")

	// ErrSimulatedFailure is the cause of every injected operation failure.
	ErrSimulatedFailure = errors.New("simulated failure")
)

// Item is the sole domain record held by the store.
//
// Identity is ID; the other fields are replaced wholesale by an update.
type Item struct {
	// ID uniquely identifies the item within the list.
	ID string `json:"id"`

	// Title is the item's display title.
	Title string `json:"title"`

	// Description is free-form text.
	Description string `json:"description"`

	// Timestamp is the creation time in unix milliseconds.
	Timestamp int64 `json:"timestamp"`
}

// Op names a store operation.
type Op string

const (
	OpLoad    Op = "load"
	OpRefresh Op = "refresh"
	OpAdd     Op = "add"
	OpRemove  Op = "remove"
	OpUpdate  Op = "update"
)

// String returns the operation name.
func (o Op) String() string {
	return string(o)
}

// Phase is a step of the per-operation state machine:
// started, then exactly one of succeeded, failed, cancelled or rejected.
type Phase string

const (
	PhaseStarted   Phase = "started"
	PhaseSucceeded Phase = "succeeded"
	PhaseFailed    Phase = "failed"
	PhaseCancelled Phase = "cancelled"
	PhaseRejected  Phase = "rejected"
)

// Terminal reports whether p ends an operation.
func (p Phase) Terminal() bool {
	return p != PhaseStarted
}

// State is a snapshot of the store.
//
// State values handed out by [MemoryStore] are copies; mutating one does not
// affect the store or other subscribers.
type State struct {
	// Items is the ordered item list. IDs are unique.
	Items []Item `json:"items"`

	// IsLoading is set while a load, add, remove or update is in progress.
	IsLoading bool `json:"is_loading"`

	// IsRefreshing is set while a refresh is in progress.
	IsRefreshing bool `json:"is_refreshing"`

	// Error is the message of the last simulated failure.
	// nil once a new operation starts or the error is dismissed.
	Error *string `json:"error"`

	// Version increments on every state transition.
	Version int64 `json:"version"`

	// in-flight counts behind IsLoading/IsRefreshing
	loading    int
	refreshing int
}

// Clone returns a deep copy of s.
func (s State) Clone() State {
	cp := s
	if s.Items != nil {
		cp.Items = copyItems(s.Items)
	}
	if s.Error != nil {
		msg := *s.Error
		cp.Error = &msg
	}
	return cp
}

// copyItems returns a non-nil copy of items.
func copyItems(items []Item) []Item {
	cp := make([]Item, len(items))
	copy(cp, items)
	return cp
}

// ErrorMessage returns the current error message, or "" when there is none.
func (s State) ErrorMessage() string {
	if s.Error == nil {
		return ""
	}
	return *s.Error
}

// Find returns the item with the given ID.
func (s State) Find(id string) (Item, bool) {
	for _, it := range s.Items {
		if it.ID == id {
			return it, true
		}
	}
	return Item{}, false
}

// Event describes one transition of an operation's state machine.
type Event struct {
	// Seq is a strictly increasing logical timestamp.
	Seq int64 `json:"seq"`

	// JobID identifies the operation run that produced the event.
	JobID string `json:"job_id"`

	Op    Op    `json:"op"`
	Phase Phase `json:"phase"`

	// ItemID is set for add, remove and update.
	ItemID string `json:"item_id,omitempty"`

	// Error carries the failure message for failed, cancelled and rejected phases.
	Error string `json:"error,omitempty"`

	// At is the wall time of the transition, taken from the store's clock.
	At time.Time `json:"at"`
}

// Store defines the interface for holding state and publishing snapshots.
//
// Store implementations must be safe for concurrent access. Every applied
// action produces exactly one new snapshot, delivered to subscribers in the
// order the actions were applied.
type Store interface {
	// Snapshot returns a copy of the current state.
	Snapshot() State

	// Apply reduces the action into the current state and publishes the result.
	// On error the state is left unchanged and nothing is published.
	Apply(a Action) (State, error)

	// Subscribe returns a channel receiving state snapshots.
	// The channel is buffered; slow consumers may miss snapshots.
	// Caller must call Unsubscribe when done to prevent resource leaks.
	Subscribe() <-chan State

	// Unsubscribe removes a subscription and closes the channel.
	// Safe to call with a channel that was already unsubscribed.
	Unsubscribe(ch <-chan State)
}
