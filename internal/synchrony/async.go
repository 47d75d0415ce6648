package synchrony

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/dshills/messagebus/internal/dispatch"
	"github.com/dshills/messagebus/internal/publication"
)

// Backend selects the queue implementation of the async engine.
type Backend int

const (
	// RingBuffer preallocates job slots and claims them with
	// compare-and-swap. It does not allocate per publication.
	RingBuffer Backend = iota

	// Queue uses a buffered channel.
	Queue
)

// String implements fmt.Stringer.
func (b Backend) String() string {
	switch b {
	case RingBuffer:
		return "ring_buffer"
	case Queue:
		return "queue"
	default:
		return fmt.Sprintf("Backend(%d)", int(b))
	}
}

// Defaults for the async engine.
const (
	DefaultCapacity      = 1024
	DefaultShutdownGrace = 10 * time.Second
)

// Async delivers publications on a fixed pool of worker goroutines fed by
// a bounded queue. Publishers block while the queue is full.
type Async struct {
	// Configuration
	backend  Backend
	workers  int
	capacity int
	grace    time.Duration
	logger   zerolog.Logger

	// State
	queue    jobQueue
	group    errgroup.Group
	shutdown atomic.Bool
	pending  atomic.Int64

	// Stats
	enqueued  atomic.Uint64
	processed atomic.Uint64
	dropped   atomic.Uint64
}

// AsyncOption configures an Async engine.
type AsyncOption func(*Async)

// WithBackend sets the queue implementation.
func WithBackend(b Backend) AsyncOption {
	return func(a *Async) {
		a.backend = b
	}
}

// WithWorkers sets the worker count. It is rounded up to a power of two
// with a minimum of 2.
func WithWorkers(n int) AsyncOption {
	return func(a *Async) {
		if n > 0 {
			a.workers = RoundWorkers(n)
		}
	}
}

// WithCapacity sets the queue capacity, which must be a power of two.
func WithCapacity(c int) AsyncOption {
	return func(a *Async) {
		a.capacity = c
	}
}

// WithShutdownGrace bounds how long Shutdown waits for pending
// publications and for workers.
func WithShutdownGrace(d time.Duration) AsyncOption {
	return func(a *Async) {
		if d > 0 {
			a.grace = d
		}
	}
}

// WithLogger sets the engine logger.
func WithLogger(l zerolog.Logger) AsyncOption {
	return func(a *Async) {
		a.logger = l
	}
}

// NewAsync creates the engine and starts its workers.
func NewAsync(opts ...AsyncOption) (*Async, error) {
	a := &Async{
		backend:  RingBuffer,
		workers:  DefaultWorkers(),
		capacity: DefaultCapacity,
		grace:    DefaultShutdownGrace,
		logger:   zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(a)
	}
	if !ValidCapacity(a.capacity) {
		return nil, fmt.Errorf("%w: %d", ErrInvalidCapacity, a.capacity)
	}

	switch a.backend {
	case Queue:
		a.queue = newChanQueue(a.capacity)
	default:
		a.backend = RingBuffer
		a.queue = newRingQueue(a.capacity)
	}

	for i := 0; i < a.workers; i++ {
		id := i
		a.group.Go(func() error {
			a.work(id)
			return nil
		})
	}

	a.logger.Debug().
		Str("backend", a.backend.String()).
		Int("workers", a.workers).
		Int("capacity", a.capacity).
		Msg("async engine started")
	return a, nil
}

// Publish enqueues args for delivery through d, blocking while the queue
// is full. An interrupted enqueue is reported to d and its cause returned.
func (a *Async) Publish(ctx context.Context, d Deliverer, r dispatch.Resolved, args publication.Args) error {
	// Counting before the shutdown check lets Shutdown wait for this call.
	a.pending.Add(1)
	if a.shutdown.Load() {
		a.pending.Add(-1)
		return ErrShutdown
	}

	if err := a.queue.put(ctx, job{d: d, resolved: r, args: args}); err != nil {
		a.pending.Add(-1)
		d.Report(publication.NewError(publication.MsgEnqueue, err, args))
		return err
	}
	a.enqueued.Add(1)
	return nil
}

// HasPendingMessages reports whether accepted publications have not
// finished executing. The answer may be stale by the time it is used.
func (a *Async) HasPendingMessages() bool {
	return a.pending.Load() > 0
}

// work runs until the queue is halted.
func (a *Async) work(id int) {
	a.logger.Debug().Int("worker", id).Msg("async worker started")
	defer a.logger.Debug().Int("worker", id).Msg("async worker stopped")

	var j job
	for a.queue.take(&j) {
		a.run(&j)
		j = job{}
	}
}

func (a *Async) run(j *job) {
	defer func() {
		if r := recover(); r != nil {
			j.d.Report(publication.NewError(publication.MsgDequeue,
				&publication.PanicError{Value: r, Stack: debug.Stack()}, j.args))
		}
		a.processed.Add(1)
		a.pending.Add(-1)
	}()
	j.d.Deliver(j.resolved, j.args)
}

// Shutdown rejects new publications, waits up to the grace period for
// pending ones, then stops the workers. Jobs still queued afterwards are
// reported to their deliverer as dropped. Calling Shutdown again returns immediately.
func (a *Async) Shutdown() error {
	if !a.shutdown.CompareAndSwap(false, true) {
		return nil
	}
	return a.stop()
}

func (a *Async) stop() error {
	var err error

	deadline := time.Now().Add(a.grace)
	for a.pending.Load() > 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if n := a.pending.Load(); n > 0 {
		a.logger.Warn().Int64("pending", n).Dur("grace", a.grace).Msg("shutdown grace exceeded, halting workers")
		err = fmt.Errorf("%w: %d messages pending", ErrShutdownTimeout, n)
	}

	a.queue.halt()

	done := make(chan struct{})
	go func() {
		_ = a.group.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(a.grace):
		a.logger.Warn().Msg("async workers did not stop within grace period")
		err = fmt.Errorf("%w: workers still running", ErrShutdownTimeout)
	}

	var j job
	for a.queue.tryTake(&j) {
		a.pending.Add(-1)
		a.dropped.Add(1)
		j.d.Report(publication.NewError(publication.MsgDroppedShutdown, ErrShutdown, j.args))
		j = job{}
	}

	a.logger.Debug().Uint64("processed", a.processed.Load()).Msg("async engine stopped")
	return err
}

// AsyncStats holds async engine counters.
type AsyncStats struct {
	Backend   Backend
	Workers   int
	Capacity  int
	Queued    int
	Pending   int64
	Enqueued  uint64
	Processed uint64
	Dropped   uint64
}

// Stats returns a snapshot of the engine counters.
func (a *Async) Stats() AsyncStats {
	return AsyncStats{
		Backend:   a.backend,
		Workers:   a.workers,
		Capacity:  a.capacity,
		Queued:    a.queue.len(),
		Pending:   a.pending.Load(),
		Enqueued:  a.enqueued.Load(),
		Processed: a.processed.Load(),
		Dropped:   a.dropped.Load(),
	}
}
