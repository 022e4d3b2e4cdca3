package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrNotStarted is returned by Submit before Start has been called.
	ErrNotStarted = errors.New("dispatcher not started")

	// ErrStopped is returned by Submit once Stop has been called.
	ErrStopped = errors.New("dispatcher stopped")
)

// Job is a unit of work executed by a [Dispatcher].
type Job struct {
	// ID identifies the run. Assigned by Submit when empty.
	ID string

	// Op is the operation name, used for logging.
	Op string

	// Run performs the work. ctx is the submitter's context, additionally
	// cancelled when the dispatcher stops; Run must honour its cancellation.
	Run func(ctx context.Context) error
}

// Outcome holds the result of a finished [Job].
type Outcome struct {
	// JobID is the ID of the job that produced this outcome.
	JobID string

	// Op is the job's operation name.
	Op string

	// Err is the error returned by the job, or a panic wrapped as an error.
	Err error

	// Skipped is true when the job's context ended before a worker picked it up.
	Skipped bool

	// Latency is the time the job spent running.
	Latency time.Duration

	// FinishedAt is the wall time the job completed.
	FinishedAt time.Time
}

type task struct {
	ctx  context.Context
	job  Job
	done chan Outcome
}

// Dispatcher executes jobs on a fixed pool of workers.
//
// With a single worker (the default) jobs run strictly one after another in
// submission order, giving one logical stream of execution. Every finished
// job produces an [Outcome] on the channel returned by [Dispatcher.Results]
// and on the per-job channel returned by [Dispatcher.Submit].
//
// All lifecycle methods (Start, Stop) are safe for concurrent use.
type Dispatcher struct {
	workers int
	tasks   chan task
	results chan Outcome
	logger  *slog.Logger
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	mu        sync.Mutex
	started   bool
	stopped   bool
	closeOnce sync.Once

	// submitMu orders enqueues against the final drain in Stop
	submitMu sync.RWMutex
}

// NewDispatcher creates a new [Dispatcher].
//
// Parameters:
//   - workers: Number of concurrent workers; values below 1 mean 1
//   - buffer: Capacity of the job queue and the results channel
//   - logger: Logger for dispatcher events (panic recovery, etc.)
//
// The dispatcher must be started with [Dispatcher.Start] and stopped with
// [Dispatcher.Stop]. Results are available via [Dispatcher.Results].
func NewDispatcher(workers, buffer int, logger *slog.Logger) *Dispatcher {
	if workers < 1 {
		workers = 1
	}
	if buffer < 0 {
		buffer = 0
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		workers: workers,
		tasks:   make(chan task, buffer),
		results: make(chan Outcome, buffer),
		logger:  logger,
	}
}

// Results returns a receive-only channel that emits [Outcome] values.
//
// The channel is closed when the dispatcher stops. Consumers should read from
// this channel until it is closed; a full results channel is skipped rather
// than allowed to stall the workers.
func (d *Dispatcher) Results() <-chan Outcome {
	return d.results
}

// Start launches the worker goroutines.
//
// Start is non-blocking and idempotent. If ctx is nil, context.Background()
// is used. Cancelling ctx has the same effect as calling [Dispatcher.Stop]
// except that Stop also waits for the workers. If Stop was called before
// Start, Start is a no-op.
func (d *Dispatcher) Start(ctx context.Context) {
	d.mu.Lock()
	if d.started || d.stopped {
		d.mu.Unlock()
		return
	}
	d.started = true

	if ctx == nil {
		ctx = context.Background()
	}
	d.ctx, d.cancel = context.WithCancel(ctx)
	runCtx := d.ctx // capture under lock to avoid race
	d.wg.Add(d.workers)
	d.mu.Unlock()

	for i := 0; i < d.workers; i++ {
		go func() {
			defer d.wg.Done()
			for {
				// a stopped dispatcher leaves queued tasks to the drain
				if runCtx.Err() != nil {
					return
				}
				select {
				case <-runCtx.Done():
					return
				case t := <-d.tasks:
					d.execute(runCtx, t)
				}
			}
		}()
	}
}

// Stop halts the dispatcher and waits for all workers to exit.
//
// Jobs already running finish; queued jobs that no worker picked up are
// completed with [ErrStopped]. The results channel is closed. Stop is
// idempotent and safe to call before Start.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if !d.stopped {
		d.stopped = true
		if d.cancel != nil {
			d.cancel()
		}
	}
	d.mu.Unlock()

	d.wg.Wait()

	// complete anything left in the queue so no submitter waits forever
	d.submitMu.Lock()
	d.drain()
	d.submitMu.Unlock()

	d.closeOnce.Do(func() { close(d.results) })
}

// Submit enqueues job and returns a channel that receives its [Outcome].
//
// Submit blocks while the queue is full, until ctx is done or the dispatcher
// stops. The returned channel is buffered and receives exactly one value.
func (d *Dispatcher) Submit(ctx context.Context, job Job) (<-chan Outcome, error) {
	if job.Run == nil {
		return nil, errors.New("job has no Run function")
	}
	if job.ID == "" {
		job.ID = uuid.NewString()
	}

	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return nil, ErrStopped
	}
	if !d.started {
		d.mu.Unlock()
		return nil, ErrNotStarted
	}
	runCtx := d.ctx
	d.mu.Unlock()

	// hold the read lock while enqueueing so Stop cannot drain concurrently
	d.submitMu.RLock()
	defer d.submitMu.RUnlock()

	if runCtx.Err() != nil {
		return nil, ErrStopped
	}

	t := task{ctx: ctx, job: job, done: make(chan Outcome, 1)}
	select {
	case d.tasks <- t:
		return t.done, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-runCtx.Done():
		return nil, ErrStopped
	}
}

// execute runs a task and reports its outcome.
func (d *Dispatcher) execute(runCtx context.Context, t task) {
	// select may hand out a ready task after Stop; treat it like a drained one
	if runCtx.Err() != nil {
		d.report(t, Outcome{JobID: t.job.ID, Op: t.job.Op, Err: ErrStopped, Skipped: true, FinishedAt: time.Now()})
		return
	}
	if err := t.ctx.Err(); err != nil {
		d.report(t, Outcome{JobID: t.job.ID, Op: t.job.Op, Err: err, Skipped: true, FinishedAt: time.Now()})
		return
	}

	// the job sees both the submitter's cancellation and dispatcher shutdown
	jobCtx, cancel := context.WithCancel(t.ctx)
	stop := context.AfterFunc(runCtx, cancel)
	defer func() {
		stop()
		cancel()
	}()

	start := time.Now()
	err := d.safeRun(jobCtx, t)
	if err != nil && errors.Is(err, context.Canceled) && t.ctx.Err() == nil && runCtx.Err() != nil {
		err = ErrStopped
	}

	d.report(t, Outcome{
		JobID:      t.job.ID,
		Op:         t.job.Op,
		Err:        err,
		Latency:    time.Since(start),
		FinishedAt: time.Now(),
	})
}

// safeRun calls the job with panic recovery.
// If the job panics, it logs the full stack trace with a correlation ID
// and returns an error containing the ID.
func (d *Dispatcher) safeRun(ctx context.Context, t task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			correlationID := uuid.NewString()
			stack := debug.Stack()

			// log full context server-side for debugging
			d.logger.Error("job panic",
				"correlation_id", correlationID,
				"job_id", t.job.ID,
				"op", t.job.Op,
				"panic", fmt.Sprintf("%v", r),
				"stack", string(stack),
			)

			err = fmt.Errorf("job panic (correlation_id: %s)", correlationID)
		}
	}()
	return t.job.Run(ctx)
}

// report delivers an outcome to the submitter and the results channel.
func (d *Dispatcher) report(t task, o Outcome) {
	t.done <- o

	select {
	case d.results <- o:
	default:
		d.logger.Warn("results channel full, outcome dropped", "job_id", o.JobID, "op", o.Op)
	}
}

// drain completes queued tasks with ErrStopped.
func (d *Dispatcher) drain() {
	for {
		select {
		case t := <-d.tasks:
			d.report(t, Outcome{JobID: t.job.ID, Op: t.job.Op, Err: ErrStopped, Skipped: true, FinishedAt: time.Now()})
		default:
			return
		}
	}
}
