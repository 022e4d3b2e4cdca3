package itemstore

import (
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/jpalmerr/itemstore/clock"
	"github.com/jpalmerr/itemstore/internal/store"
)

// Item is the sole domain record: an id/title/description/timestamp tuple.
//
// Identity is ID. Timestamp is in unix milliseconds.
type Item = store.Item

// State is a snapshot of the store: the item list plus progress flags and
// the last failure message. See [Store.State].
type State = store.State

// Event describes one transition of an operation's state machine.
// Events are delivered to callbacks registered with [WithEventCallback].
type Event = store.Event

// Op names a store operation.
type Op = store.Op

// Phase is a step of an operation: started, then succeeded, failed,
// cancelled or rejected.
type Phase = store.Phase

const (
	OpLoad    = store.OpLoad
	OpRefresh = store.OpRefresh
	OpAdd     = store.OpAdd
	OpRemove  = store.OpRemove
	OpUpdate  = store.OpUpdate
)

const (
	PhaseStarted   = store.PhaseStarted
	PhaseSucceeded = store.PhaseSucceeded
	PhaseFailed    = store.PhaseFailed
	PhaseCancelled = store.PhaseCancelled
	PhaseRejected  = store.PhaseRejected
)

// IDStrategy selects how a [Generator] assigns IDs.
type IDStrategy string

const (
	// IDCounter assigns "item_1", "item_2", ... from a running counter.
	IDCounter IDStrategy = "counter"

	// IDUUID assigns random UUIDs.
	IDUUID IDStrategy = "uuid"
)

// Valid reports whether s is a known strategy.
func (s IDStrategy) Valid() bool {
	return s == IDCounter || s == IDUUID
}

// Generator produces synthetic items.
//
// [Generator.Batch] returns the fixed list installed by load and refresh.
// [Generator.Next] returns a fresh item from a running counter that starts
// after the batch, so generated items never collide with batch items.
//
// Generator is safe for concurrent use.
type Generator struct {
	size    int
	ids     IDStrategy
	clock   clock.Clock
	counter atomic.Int64
}

// NewGenerator creates a generator with the given batch size and ID strategy.
// A nil clock uses [clock.Real].
func NewGenerator(size int, ids IDStrategy, c clock.Clock) *Generator {
	if c == nil {
		c = clock.Real()
	}
	g := &Generator{size: size, ids: ids, clock: c}
	g.counter.Store(int64(size))
	return g
}

// Size returns the batch size.
func (g *Generator) Size() int {
	return g.size
}

// Batch returns items 1..size titled "Item 1".."Item size".
//
// With [IDCounter] the IDs are deterministic: "item_1".."item_size".
func (g *Generator) Batch() []Item {
	now := g.clock.Now().UnixMilli()
	items := make([]Item, g.size)
	for i := range items {
		items[i] = g.build(int64(i+1), now)
	}
	return items
}

// Next returns a new item numbered after every item handed out so far.
func (g *Generator) Next() Item {
	n := g.counter.Add(1)
	return g.build(n, g.clock.Now().UnixMilli())
}

func (g *Generator) build(n, timestamp int64) Item {
	id := fmt.Sprintf("item_%d", n)
	if g.ids == IDUUID {
		id = uuid.NewString()
	}
	return Item{
		ID:          id,
		Title:       fmt.Sprintf("Item %d", n),
		Description: fmt.Sprintf("Description for item %d", n),
		Timestamp:   timestamp,
	}
}
