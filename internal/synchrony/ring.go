package synchrony

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"
)

// spinLimit is the number of yields before a blocked producer or consumer
// parks on the condition variable.
const spinLimit = 64

type ringSlot struct {
	seq atomic.Uint64
	j   job
}

// ringQueue is a jobQueue over preallocated slots. Producers and
// consumers claim positions with compare-and-swap; each slot's sequence
// number tells whether it is free for the producer at position p
// (seq == p) or filled for the consumer at position p (seq == p+1).
// Blocked callers spin briefly, then park on a shared condition.
//
// The sequence encoding needs at least two slots, so a capacity of one
// gets two slots and limit bounds the occupancy instead.
type ringQueue struct {
	mask  uint64
	limit uint64
	slots []ringSlot

	_    [56]byte
	head atomic.Uint64
	_    [56]byte
	tail atomic.Uint64
	_    [56]byte

	halted  atomic.Bool
	waiters atomic.Int32
	mu      sync.Mutex
	changed *sync.Cond
}

func newRingQueue(capacity int) *ringQueue {
	size := max(capacity, 2)
	q := &ringQueue{
		mask:  uint64(size - 1),
		limit: uint64(capacity),
		slots: make([]ringSlot, size),
	}
	for i := range q.slots {
		q.slots[i].seq.Store(uint64(i))
	}
	q.changed = sync.NewCond(&q.mu)
	return q
}

func (q *ringQueue) tryPut(j *job) bool {
	pos := q.head.Load()
	for {
		if q.full(pos) {
			return false
		}
		s := &q.slots[pos&q.mask]
		seq := s.seq.Load()
		switch dif := int64(seq - pos); {
		case dif == 0:
			if q.head.CompareAndSwap(pos, pos+1) {
				s.j = *j
				s.seq.Store(pos + 1)
				return true
			}
			pos = q.head.Load()
		case dif < 0:
			return false
		default:
			pos = q.head.Load()
		}
	}
}

func (q *ringQueue) tryTake(j *job) bool {
	pos := q.tail.Load()
	for {
		s := &q.slots[pos&q.mask]
		seq := s.seq.Load()
		switch dif := int64(seq - (pos + 1)); {
		case dif == 0:
			if q.tail.CompareAndSwap(pos, pos+1) {
				*j = s.j
				s.j = job{}
				s.seq.Store(pos + q.mask + 1)
				q.wake()
				return true
			}
			pos = q.tail.Load()
		case dif < 0:
			return false
		default:
			pos = q.tail.Load()
		}
	}
}

func (q *ringQueue) put(ctx context.Context, j job) error {
	var stop func() bool
	defer func() {
		if stop != nil {
			stop()
		}
	}()

	for spins := 0; ; spins++ {
		if q.halted.Load() {
			return ErrShutdown
		}
		if q.tryPut(&j) {
			q.wake()
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if spins < spinLimit {
			runtime.Gosched()
			continue
		}
		if stop == nil && ctx.Done() != nil {
			stop = context.AfterFunc(ctx, q.broadcast)
		}
		q.park(func() bool { return q.hasRoom() || ctx.Err() != nil })
	}
}

func (q *ringQueue) take(j *job) bool {
	for spins := 0; ; spins++ {
		if q.halted.Load() {
			return false
		}
		if q.tryTake(j) {
			return true
		}
		if spins < spinLimit {
			runtime.Gosched()
			continue
		}
		q.park(q.hasJob)
	}
}

// park waits until ready reports true or the queue is halted.
func (q *ringQueue) park(ready func() bool) {
	q.mu.Lock()
	q.waiters.Add(1)
	for !ready() && !q.halted.Load() {
		q.changed.Wait()
	}
	q.waiters.Add(-1)
	q.mu.Unlock()
}

// wake releases parked callers after a slot changed state.
func (q *ringQueue) wake() {
	if q.waiters.Load() > 0 {
		q.broadcast()
	}
}

func (q *ringQueue) broadcast() {
	q.mu.Lock()
	q.changed.Broadcast()
	q.mu.Unlock()
}

// full reports whether claiming position pos would exceed the limit.
// A stale pos behind tail is never full; the slot check rejects it.
func (q *ringQueue) full(pos uint64) bool {
	return int64(pos-q.tail.Load()) >= int64(q.limit)
}

func (q *ringQueue) hasRoom() bool {
	pos := q.head.Load()
	return !q.full(pos) && q.slots[pos&q.mask].seq.Load() == pos
}

func (q *ringQueue) hasJob() bool {
	pos := q.tail.Load()
	return q.slots[pos&q.mask].seq.Load() == pos+1
}

func (q *ringQueue) len() int {
	tail := q.tail.Load()
	return int(q.head.Load() - tail)
}

func (q *ringQueue) halt() {
	q.halted.Store(true)
	q.broadcast()
}
