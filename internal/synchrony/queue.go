package synchrony

import (
	"context"
	"sync"

	"github.com/dshills/messagebus/internal/dispatch"
	"github.com/dshills/messagebus/internal/publication"
)

// job is one accepted publication. Producers hand it to the queue by
// value; a pointer would escape through the jobQueue interface.
type job struct {
	d        Deliverer
	resolved dispatch.Resolved
	args     publication.Args
}

// jobQueue is a bounded multi-producer multi-consumer queue.
type jobQueue interface {
	// put copies j into the queue, blocking while the queue is full. It
	// fails with ErrShutdown once halted or with the context error.
	put(ctx context.Context, j job) error

	// take blocks until a job is available and returns false once halted.
	take(j *job) bool

	// tryTake removes a job without blocking.
	tryTake(j *job) bool

	len() int
	halt()
}

// chanQueue is a jobQueue backed by a buffered channel.
type chanQueue struct {
	ch   chan job
	done chan struct{}
	once sync.Once
}

func newChanQueue(capacity int) *chanQueue {
	return &chanQueue{
		ch:   make(chan job, capacity),
		done: make(chan struct{}),
	}
}

func (q *chanQueue) put(ctx context.Context, j job) error {
	select {
	case <-q.done:
		return ErrShutdown
	default:
	}

	select {
	case q.ch <- j:
		return nil
	case <-q.done:
		return ErrShutdown
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *chanQueue) take(j *job) bool {
	select {
	case v := <-q.ch:
		*j = v
		return true
	case <-q.done:
		return false
	}
}

func (q *chanQueue) tryTake(j *job) bool {
	select {
	case v := <-q.ch:
		*j = v
		return true
	default:
		return false
	}
}

func (q *chanQueue) len() int {
	return len(q.ch)
}

func (q *chanQueue) halt() {
	q.once.Do(func() {
		close(q.done)
	})
}
