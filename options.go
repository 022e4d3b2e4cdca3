package itemstore

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jpalmerr/itemstore/clock"
	"github.com/jpalmerr/itemstore/fault"
)

// Latencies holds the simulated latency of each operation.
type Latencies struct {
	Load    time.Duration
	Refresh time.Duration
	Add     time.Duration
	Remove  time.Duration
	Update  time.Duration
}

// DefaultLatencies returns the latencies used when none are configured:
// 2s for load, 1.5s for refresh and 500ms for add, remove and update.
func DefaultLatencies() Latencies {
	return Latencies{
		Load:    2 * time.Second,
		Refresh: 1500 * time.Millisecond,
		Add:     500 * time.Millisecond,
		Remove:  500 * time.Millisecond,
		Update:  500 * time.Millisecond,
	}
}

// For returns the latency configured for op. Unknown ops have no latency.
func (l Latencies) For(op Op) time.Duration {
	switch op {
	case OpLoad:
		return l.Load
	case OpRefresh:
		return l.Refresh
	case OpAdd:
		return l.Add
	case OpRemove:
		return l.Remove
	case OpUpdate:
		return l.Update
	}
	return 0
}

func (l *Latencies) set(op Op, d time.Duration) error {
	switch op {
	case OpLoad:
		l.Load = d
	case OpRefresh:
		l.Refresh = d
	case OpAdd:
		l.Add = d
	case OpRemove:
		l.Remove = d
	case OpUpdate:
		l.Update = d
	default:
		return fmt.Errorf("unknown operation %q", op)
	}
	return nil
}

func (l Latencies) validate() error {
	for _, op := range []Op{OpLoad, OpRefresh, OpAdd, OpRemove, OpUpdate} {
		if l.For(op) < 0 {
			return fmt.Errorf("%s latency cannot be negative, got %s", op, l.For(op))
		}
	}
	return nil
}

// storeConfig holds mutable state during Store construction.
type storeConfig struct {
	latencies      Latencies
	clock          clock.Clock
	faults         fault.Injector
	batchSize      int
	ids            IDStrategy
	workers        int
	queueSize      int
	logger         *slog.Logger
	eventCallbacks []func(Event)
	seed           []Item
}

// Option is a function that configures a [Store] instance during construction.
//
// Option implements the functional options pattern, allowing optional
// configuration to be passed to [New] in a type-safe, extensible way.
// Options return an error if validation fails.
type Option func(*storeConfig) error

// WithLatency sets the simulated latency of a single operation.
//
// Example:
//
//	st, err := itemstore.New(
//	    itemstore.WithLatency(itemstore.OpLoad, 3*time.Second),
//	)
//
// Returns an error if d is negative or op is unknown.
func WithLatency(op Op, d time.Duration) Option {
	return func(cfg *storeConfig) error {
		if d < 0 {
			return fmt.Errorf("%s latency cannot be negative, got %s", op, d)
		}
		return cfg.latencies.set(op, d)
	}
}

// WithLatencies replaces every operation's latency at once.
//
// Returns an error if any latency is negative.
func WithLatencies(l Latencies) Option {
	return func(cfg *storeConfig) error {
		if err := l.validate(); err != nil {
			return err
		}
		cfg.latencies = l
		return nil
	}
}

// WithNoLatency makes every operation complete without a simulated delay.
func WithNoLatency() Option {
	return func(cfg *storeConfig) error {
		cfg.latencies = Latencies{}
		return nil
	}
}

// WithClock sets the clock used for latency waits and timestamps.
//
// Tests pass a [clock.Manual] to control time explicitly. Defaults to
// [clock.Real].
//
// Returns an error if c is nil.
func WithClock(c clock.Clock) Option {
	return func(cfg *storeConfig) error {
		if c == nil {
			return errors.New("clock cannot be nil")
		}
		cfg.clock = c
		return nil
	}
}

// WithFaultInjector sets the injector deciding which operations fail.
//
// Example:
//
//	st, err := itemstore.New(
//	    itemstore.WithFaultInjector(fault.Never()),
//	)
//
// Returns an error if f is nil.
func WithFaultInjector(f fault.Injector) Option {
	return func(cfg *storeConfig) error {
		if f == nil {
			return errors.New("fault injector cannot be nil")
		}
		cfg.faults = f
		return nil
	}
}

// WithFailureRate makes every operation fail with probability p.
//
// Defaults to 0.2. Equivalent to WithFaultInjector(fault.Rate(p, 0)).
//
// Returns an error if p is outside [0, 1].
func WithFailureRate(p float64) Option {
	return func(cfg *storeConfig) error {
		if p < 0 || p > 1 {
			return fmt.Errorf("failure rate must be between 0 and 1, got %v", p)
		}
		cfg.faults = fault.Rate(p, 0)
		return nil
	}
}

// WithBatchSize sets how many items load and refresh install. Defaults to 5.
//
// Returns an error if n is negative.
func WithBatchSize(n int) Option {
	return func(cfg *storeConfig) error {
		if n < 0 {
			return fmt.Errorf("batch size cannot be negative, got %d", n)
		}
		cfg.batchSize = n
		return nil
	}
}

// WithIDStrategy selects counter or UUID IDs for generated items.
// Defaults to [IDCounter].
//
// Returns an error for an unknown strategy.
func WithIDStrategy(s IDStrategy) Option {
	return func(cfg *storeConfig) error {
		if !s.Valid() {
			return fmt.Errorf("unknown id strategy %q", s)
		}
		cfg.ids = s
		return nil
	}
}

// WithWorkers sets how many operations may run at once. Defaults to 1,
// which runs operations strictly one after another.
//
// With more than one worker operations overlap and complete in the order
// their latency elapses. Every commit is still atomic.
//
// Returns an error if n is zero or negative.
func WithWorkers(n int) Option {
	return func(cfg *storeConfig) error {
		if n <= 0 {
			return errors.New("workers must be positive")
		}
		cfg.workers = n
		return nil
	}
}

// WithQueueSize sets how many submitted operations may wait for a worker
// before callers block. Defaults to 64.
//
// Returns an error if n is zero or negative.
func WithQueueSize(n int) Option {
	return func(cfg *storeConfig) error {
		if n <= 0 {
			return errors.New("queue size must be positive")
		}
		cfg.queueSize = n
		return nil
	}
}

// WithLogger sets a custom [slog.Logger] for the Store.
//
// If not specified, [slog.Default] is used.
//
// Returns an error if the logger is nil.
func WithLogger(logger *slog.Logger) Option {
	return func(cfg *storeConfig) error {
		if logger == nil {
			return errors.New("logger cannot be nil")
		}
		cfg.logger = logger
		return nil
	}
}

// WithEventCallback registers a function to be called on every operation
// transition (started, then succeeded, failed, cancelled or rejected).
//
// Multiple callbacks may be registered; they execute in registration order.
//
// IMPORTANT: Callbacks must be non-blocking. They are invoked synchronously
// from the worker running the operation, so a slow callback delays the
// operation queue. Panics within callbacks are recovered and logged.
//
// Example:
//
//	st, err := itemstore.New(
//	    itemstore.WithEventCallback(func(ev itemstore.Event) {
//	        if ev.Phase == itemstore.PhaseFailed {
//	            log.Printf("%s failed: %s", ev.Op, ev.Error)
//	        }
//	    }),
//	)
//
// Nil callbacks are silently ignored.
func WithEventCallback(cb func(Event)) Option {
	return func(cfg *storeConfig) error {
		if cb == nil {
			return nil // no-op for nil callback (safe to call)
		}
		cfg.eventCallbacks = append(cfg.eventCallbacks, cb)
		return nil
	}
}

// WithSeed installs an initial item list without running a load.
// A zero Timestamp is set from the store's clock when [New] runs.
//
// Returns an error if any item has an empty ID. Duplicate IDs are
// reported by [New].
func WithSeed(items ...Item) Option {
	return func(cfg *storeConfig) error {
		for i, it := range items {
			if it.ID == "" {
				return fmt.Errorf("seed[%d]: %w: id is required", i, ErrInvalidItem)
			}
		}
		cfg.seed = append(cfg.seed, items...)
		return nil
	}
}
