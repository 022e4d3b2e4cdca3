package itemstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/jpalmerr/itemstore/clock"
	"github.com/jpalmerr/itemstore/fault"
	"github.com/jpalmerr/itemstore/internal/queue"
	"github.com/jpalmerr/itemstore/internal/store"
)

const (
	defaultBatchSize   = 5
	defaultFailureRate = 0.2
	defaultWorkers     = 1
	defaultQueueSize   = 64
)

// Store is an in-memory item list with asynchronous, fault-injected operations.
//
// Every operation ([Store.Load], [Store.Refresh], [Store.Add],
// [Store.AddNext], [Store.Remove], [Store.Update]) is queued on a
// dispatcher, waits its simulated latency, asks the fault injector whether
// to fail, and then either commits its change or records an error message
// in [State.Error]. A failed operation leaves the list untouched and is not
// retried; callers re-invoke the operation to retry.
//
// The typical lifecycle is:
//
//	st, err := itemstore.New(itemstore.WithFailureRate(0.2))
//	if err != nil {
//	    slog.Error("failed to create store", "error", err)
//	    os.Exit(1)
//	}
//
//	st.Start(ctx)
//	defer st.Stop()
//
//	if err := st.Load(ctx); err != nil {
//	    // st.State().Error carries the same message
//	}
//
// Store is safe for concurrent use.
type Store struct {
	state          *store.MemoryStore
	dispatcher     *queue.Dispatcher
	gen            *Generator
	clock          clock.Clock
	faults         fault.Injector
	latencies      Latencies
	workers        int
	logger         *slog.Logger
	seq            *clock.Sequence
	eventCallbacks []func(Event)

	mu      sync.Mutex
	started bool
	stopped bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New creates a new [Store] with the given options.
//
// Defaults:
//   - Latencies: [DefaultLatencies]
//   - Failure rate: 0.2 on every operation
//   - Batch size: 5, IDs from [IDCounter]
//   - Workers: 1
//
// Returns an error if any option is invalid or the seed list holds
// duplicate IDs.
func New(opts ...Option) (*Store, error) {
	cfg := &storeConfig{
		latencies: DefaultLatencies(),
		batchSize: defaultBatchSize,
		ids:       IDCounter,
		workers:   defaultWorkers,
		queueSize: defaultQueueSize,
	}

	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}

	if cfg.clock == nil {
		cfg.clock = clock.Real()
	}
	if cfg.faults == nil {
		cfg.faults = fault.Rate(defaultFailureRate, 0)
	}

	// default to slog.Default() if no logger provided
	logger := cfg.logger
	if logger == nil {
		logger = slog.Default()
	}

	state := store.NewMemoryStore()
	if len(cfg.seed) > 0 {
		seeded := make([]Item, len(cfg.seed))
		now := cfg.clock.Now().UnixMilli()
		for i, it := range cfg.seed {
			if it.Timestamp == 0 {
				it.Timestamp = now
			}
			seeded[i] = it
		}
		if _, err := state.Apply(store.Seeded{Items: seeded}); err != nil {
			return nil, fmt.Errorf("invalid seed: %w", err)
		}
	}

	return &Store{
		state:          state,
		dispatcher:     queue.NewDispatcher(cfg.workers, cfg.queueSize, logger),
		gen:            NewGenerator(cfg.batchSize, cfg.ids, cfg.clock),
		clock:          cfg.clock,
		faults:         cfg.faults,
		latencies:      cfg.latencies,
		workers:        cfg.workers,
		logger:         logger,
		seq:            clock.NewSequence(),
		eventCallbacks: cfg.eventCallbacks,
	}, nil
}

// Start launches the operation workers.
//
// Start is non-blocking and idempotent. The store runs until [Store.Stop]
// is called or ctx is cancelled; either one stops accepting operations and
// completes queued ones with [ErrStopped].
func (s *Store) Start(ctx context.Context) {
	s.mu.Lock()
	if s.started || s.stopped {
		s.mu.Unlock()
		return
	}
	s.started = true
	if ctx == nil {
		ctx = context.Background()
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	// the dispatcher and the outcome consumer start under mu so a
	// concurrent Stop never waits on wg before Add
	s.dispatcher.Start(runCtx)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for o := range s.dispatcher.Results() {
			s.logOutcome(o)
		}
	}()
	s.mu.Unlock()

	s.logger.Info("item store starting",
		"workers", s.workers,
		"batch_size", s.gen.Size(),
		"load_latency", s.latencies.Load.String(),
	)

	// stop on context cancellation
	go func() {
		<-runCtx.Done()
		s.Stop()
	}()
}

// Stop halts the workers and waits for the running operation to finish.
//
// Operations still queued return [ErrStopped]; later calls return
// [ErrStopped] immediately. Stop is idempotent and safe to call before Start.
func (s *Store) Stop() {
	s.mu.Lock()
	first := !s.stopped
	s.stopped = true
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Unlock()

	s.dispatcher.Stop() // closes results channel
	s.wg.Wait()         // wait for all outcomes to be logged

	if first {
		s.logger.Info("item store stopped")
	}
}

// Load replaces the list with a freshly generated batch.
//
// Sets IsLoading while in progress. Returns an [*OperationError] on a
// simulated failure, in which case the list is unchanged.
func (s *Store) Load(ctx context.Context) error {
	return s.run(ctx, OpLoad, "", func() store.Action {
		return store.Replaced{Op: OpLoad, Items: s.gen.Batch()}
	})
}

// Refresh is Load with its own latency that sets IsRefreshing instead of
// IsLoading.
func (s *Store) Refresh(ctx context.Context) error {
	return s.run(ctx, OpRefresh, "", func() store.Action {
		return store.Replaced{Op: OpRefresh, Items: s.gen.Batch()}
	})
}

// Add appends item to the list.
//
// A zero Timestamp is set from the store's clock. Returns an error wrapping
// [ErrInvalidItem] for an empty ID and [ErrDuplicateID] when the ID is
// already present; neither costs any latency.
func (s *Store) Add(ctx context.Context, item Item) error {
	if item.ID == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidItem)
	}
	if _, exists := s.state.Snapshot().Find(item.ID); exists {
		return fmt.Errorf("%w: %q", ErrDuplicateID, item.ID)
	}
	if item.Timestamp == 0 {
		item.Timestamp = s.clock.Now().UnixMilli()
	}

	return s.run(ctx, OpAdd, item.ID, func() store.Action {
		return store.Added{Item: item}
	})
}

// AddNext generates a new item and adds it.
//
// The generated item is returned even when the add fails, so callers can
// report what was attempted. Every call generates a distinct item.
func (s *Store) AddNext(ctx context.Context) (Item, error) {
	current := s.state.Snapshot()

	item := s.gen.Next()
	for {
		if _, taken := current.Find(item.ID); !taken {
			break
		}
		item = s.gen.Next()
	}

	return item, s.Add(ctx, item)
}

// Remove deletes the item with the given ID. Removing an absent ID succeeds
// without changing the list.
func (s *Store) Remove(ctx context.Context, id string) error {
	if id == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidItem)
	}
	return s.run(ctx, OpRemove, id, func() store.Action {
		return store.Removed{ID: id}
	})
}

// Update replaces the item with the same ID. Updating an absent ID succeeds
// without changing the list.
func (s *Store) Update(ctx context.Context, item Item) error {
	if item.ID == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidItem)
	}
	return s.run(ctx, OpUpdate, item.ID, func() store.Action {
		return store.Updated{Item: item}
	})
}

// DismissError clears [State.Error] without running an operation.
func (s *Store) DismissError() {
	_, _ = s.state.Apply(store.DismissError{})
}

// State returns a snapshot of the current state.
func (s *Store) State() State {
	return s.state.Snapshot()
}

// Items returns a copy of the current item list.
func (s *Store) Items() []Item {
	return s.state.Snapshot().Items
}

// Subscribe returns a channel receiving a [State] snapshot after every
// transition. The channel is buffered (100); a slow reader misses
// snapshots rather than blocking the store.
//
// Caller must call [Store.Unsubscribe] when done.
func (s *Store) Subscribe() <-chan State {
	return s.state.Subscribe()
}

// Unsubscribe removes a subscription and closes its channel.
func (s *Store) Unsubscribe(ch <-chan State) {
	s.state.Unsubscribe(ch)
}

// Latencies returns the configured operation latencies.
func (s *Store) Latencies() Latencies {
	return s.latencies
}

// Workers returns the number of operations that may run at once.
func (s *Store) Workers() int {
	return s.workers
}

// run submits an operation and waits for it.
//
// If ctx ends while the operation is queued, it is skipped; if it ends
// during the simulated latency, the operation is cancelled. Either way
// the caller gets ctx.Err() and the list is unchanged.
func (s *Store) run(ctx context.Context, op Op, itemID string, commit func() store.Action) error {
	jobID := uuid.NewString()

	done, err := s.dispatcher.Submit(ctx, queue.Job{
		ID: jobID,
		Op: string(op),
		Run: func(jobCtx context.Context) error {
			return s.execute(jobCtx, jobID, op, itemID, commit)
		},
	})
	if err != nil {
		return err
	}

	select {
	case o := <-done:
		return o.Err
	case <-ctx.Done():
		// abandon the wait; the worker still reports the outcome
		return ctx.Err()
	}
}

// execute drives one operation through started → terminal.
func (s *Store) execute(ctx context.Context, jobID string, op Op, itemID string, commit func() store.Action) error {
	s.transition(jobID, op, itemID, store.Started{Op: op}, PhaseStarted, "")

	if err := clock.Sleep(ctx, s.clock, s.latencies.For(op)); err != nil {
		s.transition(jobID, op, itemID, store.Cancelled{Op: op}, PhaseCancelled, err.Error())
		return err
	}

	if s.faults.ShouldFail(string(op)) {
		msg := failureMessages[op]
		s.transition(jobID, op, itemID, store.Failed{Op: op, Message: msg}, PhaseFailed, msg)
		return &OperationError{Op: op, Message: msg}
	}

	if _, err := s.state.Apply(commit()); err != nil {
		// another worker committed the same id first
		s.transition(jobID, op, itemID, store.Rejected{Op: op}, PhaseRejected, err.Error())
		return err
	}
	s.emit(Event{JobID: jobID, Op: op, Phase: PhaseSucceeded, ItemID: itemID})
	return nil
}

// transition applies a bookkeeping action and emits the matching event.
func (s *Store) transition(jobID string, op Op, itemID string, a store.Action, phase Phase, msg string) {
	if _, err := s.state.Apply(a); err != nil {
		s.logger.Error("state transition rejected", "op", op, "phase", phase, "error", err)
	}
	s.emit(Event{JobID: jobID, Op: op, Phase: phase, ItemID: itemID, Error: msg})
}

// emit stamps ev and invokes the event callbacks.
func (s *Store) emit(ev Event) {
	if len(s.eventCallbacks) == 0 {
		return
	}
	ev.Seq = s.seq.Next()
	ev.At = s.clock.Now()
	for _, cb := range s.eventCallbacks {
		invokeCallbackSafe(cb, ev, s.logger)
	}
}

// logOutcome logs a finished operation (DEBUG level for success to reduce noise).
func (s *Store) logOutcome(o queue.Outcome) {
	logAttrs := []any{
		"op", o.Op,
		"job_id", o.JobID,
		"latency_ms", o.Latency.Milliseconds(),
	}

	switch {
	case o.Err == nil:
		s.logger.Debug("operation completed", logAttrs...)
	case errors.Is(o.Err, ErrSimulatedFailure):
		s.logger.Warn("operation failed", append(logAttrs, "error", o.Err.Error())...)
	case o.Skipped || errors.Is(o.Err, context.Canceled) || errors.Is(o.Err, context.DeadlineExceeded):
		s.logger.Info("operation cancelled", append(logAttrs, "error", o.Err.Error())...)
	default:
		s.logger.Warn("operation completed with error", append(logAttrs, "error", o.Err.Error())...)
	}
}

// invokeCallbackSafe calls an event callback with panic recovery.
// Panics are logged but do not propagate.
func invokeCallbackSafe(cb func(Event), ev Event, logger *slog.Logger) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("event callback panicked",
				"panic", r,
				"op", ev.Op,
				"phase", ev.Phase,
			)
		}
	}()
	cb(ev)
}
