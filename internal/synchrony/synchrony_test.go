package synchrony

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"golang.org/x/sync/errgroup"

	"github.com/dshills/messagebus/internal/dispatch"
	"github.com/dshills/messagebus/internal/publication"
)

type counter struct {
	n       atomic.Int64
	gate    chan struct{}
	started chan struct{}
	log     errorLog
}

func (c *counter) Report(err *publication.PublicationError) {
	c.log.HandleError(err)
}

func (c *counter) Deliver(_ dispatch.Resolved, args publication.Args) {
	if c.started != nil {
		c.started <- struct{}{}
	}
	if c.gate != nil {
		<-c.gate
	}
	if args.At(0) == "panic" {
		panic("deliver failed")
	}
	c.n.Add(1)
}

type errorLog struct {
	mu   sync.Mutex
	errs []*publication.PublicationError
}

func (l *errorLog) HandleError(err *publication.PublicationError) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.errs = append(l.errs, err)
}

func (l *errorLog) messages() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, len(l.errs))
	for i, e := range l.errs {
		out[i] = e.Message
	}
	return out
}

func mustArgs(t *testing.T, msgs ...any) publication.Args {
	t.Helper()
	a, err := publication.NewArgs(msgs...)
	require.NoError(t, err)
	return a
}

var backends = []Backend{RingBuffer, Queue}

func TestRoundWorkers(t *testing.T) {
	tests := []struct {
		in, want int
	}{
		{0, 2}, {1, 2}, {2, 2}, {3, 4}, {4, 4}, {5, 8}, {8, 8}, {9, 16},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, RoundWorkers(tt.in), "RoundWorkers(%d)", tt.in)
	}
	assert.GreaterOrEqual(t, DefaultWorkers(), 2)
}

func TestValidCapacity(t *testing.T) {
	assert.True(t, ValidCapacity(1))
	assert.True(t, ValidCapacity(1024))
	assert.False(t, ValidCapacity(0))
	assert.False(t, ValidCapacity(-4))
	assert.False(t, ValidCapacity(1000))
}

func TestSync_Publish(t *testing.T) {
	s := NewSync()
	c := &counter{}
	require.NoError(t, s.Publish(context.Background(), c, dispatch.Resolved{}, mustArgs(t, 1)))
	assert.Equal(t, int64(1), c.n.Load())
	assert.False(t, s.HasPendingMessages())
	assert.NoError(t, s.Shutdown())
}

func TestNewAsync_InvalidCapacity(t *testing.T) {
	_, err := NewAsync(WithCapacity(100))
	assert.ErrorIs(t, err, ErrInvalidCapacity)
}

func TestAsync_DeliversAll(t *testing.T) {
	for _, backend := range backends {
		t.Run(backend.String(), func(t *testing.T) {
			defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

			a, err := NewAsync(WithBackend(backend), WithWorkers(3), WithCapacity(16))
			require.NoError(t, err)
			st := a.Stats()
			assert.Equal(t, 4, st.Workers)
			assert.Equal(t, backend, st.Backend)

			c := &counter{}
			var g errgroup.Group
			for p := 0; p < 4; p++ {
				g.Go(func() error {
					for i := 0; i < 250; i++ {
						if err := a.Publish(context.Background(), c, dispatch.Resolved{}, mustArgs(t, i)); err != nil {
							return err
						}
					}
					return nil
				})
			}
			require.NoError(t, g.Wait())

			require.Eventually(t, func() bool { return !a.HasPendingMessages() }, 5*time.Second, time.Millisecond)
			assert.Equal(t, int64(1000), c.n.Load())
			require.NoError(t, a.Shutdown())

			st = a.Stats()
			assert.Equal(t, uint64(1000), st.Enqueued)
			assert.Equal(t, uint64(1000), st.Processed)
			assert.Zero(t, st.Dropped)
		})
	}
}

func TestAsync_Backpressure(t *testing.T) {
	for _, backend := range backends {
		t.Run(backend.String(), func(t *testing.T) {
			defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

			c := &counter{gate: make(chan struct{}), started: make(chan struct{}, 2)}
			a, err := NewAsync(WithBackend(backend), WithWorkers(2), WithCapacity(2))
			require.NoError(t, err)

			for i := 0; i < 2; i++ {
				require.NoError(t, a.Publish(context.Background(), c, dispatch.Resolved{}, mustArgs(t, i)))
			}
			<-c.started
			<-c.started
			for i := 0; i < 2; i++ {
				require.NoError(t, a.Publish(context.Background(), c, dispatch.Resolved{}, mustArgs(t, i)))
			}
			assert.True(t, a.HasPendingMessages())

			returned := make(chan error, 1)
			go func() {
				returned <- a.Publish(context.Background(), c, dispatch.Resolved{}, mustArgs(t, "blocked"))
			}()

			select {
			case <-returned:
				t.Fatal("publish returned while queue was full")
			case <-time.After(50 * time.Millisecond):
			}

			close(c.gate)
			go func() {
				for range c.started {
				}
			}()
			select {
			case err := <-returned:
				require.NoError(t, err)
			case <-time.After(5 * time.Second):
				t.Fatal("publish stayed blocked after the queue drained")
			}

			require.Eventually(t, func() bool { return !a.HasPendingMessages() }, 5*time.Second, time.Millisecond)
			assert.Equal(t, int64(5), c.n.Load())
			require.NoError(t, a.Shutdown())
			close(c.started)
		})
	}
}

func TestAsync_EnqueueInterrupted(t *testing.T) {
	for _, backend := range backends {
		t.Run(backend.String(), func(t *testing.T) {
			c := &counter{gate: make(chan struct{}), started: make(chan struct{}, 2)}
			a, err := NewAsync(WithBackend(backend), WithWorkers(2), WithCapacity(1))
			require.NoError(t, err)
			defer func() {
				close(c.gate)
				require.NoError(t, a.Shutdown())
			}()

			// Both workers hold a job behind the gate and the single slot
			// is filled, so the next publish can only end by its deadline.
			for i := 0; i < 2; i++ {
				require.NoError(t, a.Publish(context.Background(), c, dispatch.Resolved{}, mustArgs(t, i)))
			}
			<-c.started
			<-c.started
			require.NoError(t, a.Publish(context.Background(), c, dispatch.Resolved{}, mustArgs(t, "queued")))

			ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
			defer cancel()
			err = a.Publish(ctx, c, dispatch.Resolved{}, mustArgs(t, "blocked"))
			assert.ErrorIs(t, err, context.DeadlineExceeded)
			assert.Equal(t, []string{publication.MsgEnqueue}, c.log.messages())
			assert.Equal(t, 1, a.Stats().Queued)
		})
	}
}

func TestAsync_CapacityOne(t *testing.T) {
	for _, backend := range backends {
		t.Run(backend.String(), func(t *testing.T) {
			defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

			c := &counter{}
			a, err := NewAsync(WithBackend(backend), WithWorkers(2), WithCapacity(1))
			require.NoError(t, err)

			for i := 0; i < 64; i++ {
				require.NoError(t, a.Publish(context.Background(), c, dispatch.Resolved{}, mustArgs(t, i)))
			}
			require.Eventually(t, func() bool { return !a.HasPendingMessages() }, 5*time.Second, time.Millisecond)
			assert.Equal(t, int64(64), c.n.Load())
			require.NoError(t, a.Shutdown())
		})
	}
}

func TestRingQueue_CapacityOne(t *testing.T) {
	q := newRingQueue(1)
	args := mustArgs(t, "a")

	require.True(t, q.tryPut(&job{args: args}))
	assert.False(t, q.tryPut(&job{args: mustArgs(t, "b")}))
	assert.False(t, q.hasRoom())
	assert.Equal(t, 1, q.len())

	var j job
	require.True(t, q.tryTake(&j))
	assert.Equal(t, "a", j.args.At(0))
	assert.False(t, q.tryTake(&j))

	for i := 0; i < 5; i++ {
		require.True(t, q.tryPut(&job{args: mustArgs(t, i)}))
		require.True(t, q.tryTake(&j))
		assert.Equal(t, i, j.args.At(0))
	}
	assert.True(t, q.hasRoom())
	assert.Zero(t, q.len())
}

func TestAsync_RingPublishDoesNotAllocate(t *testing.T) {
	a, err := NewAsync(WithBackend(RingBuffer), WithWorkers(2), WithCapacity(1024))
	require.NoError(t, err)
	defer func() { require.NoError(t, a.Shutdown()) }()

	c := &counter{}
	args := mustArgs(t, 1)
	ctx := context.Background()
	allocs := testing.AllocsPerRun(1000, func() {
		_ = a.Publish(ctx, c, dispatch.Resolved{}, args)
	})
	assert.Zero(t, allocs)
}

func TestAsync_Shutdown(t *testing.T) {
	for _, backend := range backends {
		t.Run(backend.String(), func(t *testing.T) {
			defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

			c := &counter{}
			a, err := NewAsync(WithBackend(backend), WithWorkers(2), WithCapacity(64))
			require.NoError(t, err)
			for i := 0; i < 50; i++ {
				require.NoError(t, a.Publish(context.Background(), c, dispatch.Resolved{}, mustArgs(t, i)))
			}

			require.NoError(t, a.Shutdown())
			assert.Equal(t, int64(50), c.n.Load())
			assert.False(t, a.HasPendingMessages())

			err = a.Publish(context.Background(), c, dispatch.Resolved{}, mustArgs(t, "late"))
			assert.ErrorIs(t, err, ErrShutdown)
			assert.NoError(t, a.Shutdown())
		})
	}
}

func TestAsync_ShutdownGraceExceeded(t *testing.T) {
	for _, backend := range backends {
		t.Run(backend.String(), func(t *testing.T) {
			defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

			c := &counter{gate: make(chan struct{}), started: make(chan struct{}, 2)}
			a, err := NewAsync(WithBackend(backend), WithWorkers(2), WithCapacity(4),
				WithShutdownGrace(50*time.Millisecond))
			require.NoError(t, err)

			for i := 0; i < 2; i++ {
				require.NoError(t, a.Publish(context.Background(), c, dispatch.Resolved{}, mustArgs(t, i)))
			}
			<-c.started
			<-c.started
			require.NoError(t, a.Publish(context.Background(), c, dispatch.Resolved{}, mustArgs(t, "queued")))

			err = a.Shutdown()
			assert.ErrorIs(t, err, ErrShutdownTimeout)
			assert.Contains(t, c.log.messages(), publication.MsgDroppedShutdown)
			assert.Equal(t, uint64(1), a.Stats().Dropped)

			close(c.gate)
		})
	}
}

func TestAsync_DeliverPanicReported(t *testing.T) {
	c := &counter{}
	a, err := NewAsync(WithWorkers(2), WithCapacity(8))
	require.NoError(t, err)

	require.NoError(t, a.Publish(context.Background(), c, dispatch.Resolved{}, mustArgs(t, "panic")))
	require.NoError(t, a.Publish(context.Background(), c, dispatch.Resolved{}, mustArgs(t, "ok")))
	require.NoError(t, a.Shutdown())

	assert.Equal(t, []string{publication.MsgDequeue}, c.log.messages())
	assert.Equal(t, int64(1), c.n.Load())

	var pe *publication.PanicError
	require.True(t, errors.As(c.log.errs[0].Cause, &pe))
	assert.Equal(t, "deliver failed", pe.Value)
}

func TestBackend_String(t *testing.T) {
	assert.Equal(t, "ring_buffer", RingBuffer.String())
	assert.Equal(t, "queue", Queue.String())
	assert.Equal(t, "Backend(5)", Backend(5).String())
}

func BenchmarkAsync_Publish(b *testing.B) {
	for _, backend := range backends {
		b.Run(backend.String(), func(b *testing.B) {
			a, err := NewAsync(WithBackend(backend), WithWorkers(4), WithCapacity(1024))
			if err != nil {
				b.Fatal(err)
			}
			defer a.Shutdown()

			c := &counter{}
			args, _ := publication.NewArgs(1)
			ctx := context.Background()
			b.ReportAllocs()
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				_ = a.Publish(ctx, c, dispatch.Resolved{}, args)
			}
		})
	}
}
