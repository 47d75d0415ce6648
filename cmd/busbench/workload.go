package main

import (
	"context"
	"errors"
	"math"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/dshills/messagebus"
)

// Sample is the supertype of every published message.
type Sample struct {
	Publisher int
}

// Tick is the published message.
type Tick struct {
	Sample
	Seq int
}

type tickCounter struct {
	n atomic.Uint64
}

func (c *tickCounter) HandleTick(*Tick) { c.n.Add(1) }

type sampleCounter struct {
	n atomic.Uint64
}

func (c *sampleCounter) HandleSample(*Sample) { c.n.Add(1) }

// workload describes one benchmark run.
type workload struct {
	publishers int
	messages   int // per publisher
	rate       float64
	async      bool
	listeners  int // per listener kind
}

// result summarises a run.
type result struct {
	Published uint64
	Received  uint64
	Elapsed   time.Duration
	Stats     messagebus.Stats
}

// Throughput returns published messages per second.
func (r result) Throughput() float64 {
	if r.Elapsed <= 0 {
		return 0
	}
	return float64(r.Published) / r.Elapsed.Seconds()
}

// runWorkload subscribes the counting listeners and publishes from
// w.publishers goroutines until each has sent w.messages or ctx is done.
// Async runs wait for the bus to drain before returning.
func runWorkload(ctx context.Context, bus *messagebus.Bus, w workload, logger zerolog.Logger) (result, error) {
	var (
		ticks   = make([]*tickCounter, w.listeners)
		samples = make([]*sampleCounter, w.listeners)
	)
	for i := range w.listeners {
		ticks[i] = &tickCounter{}
		samples[i] = &sampleCounter{}
		if err := bus.Subscribe(ticks[i]); err != nil {
			return result{}, err
		}
		if err := bus.Subscribe(samples[i]); err != nil {
			return result{}, err
		}
	}

	limit := rate.Inf
	burst := 0
	if w.rate > 0 {
		limit = rate.Limit(w.rate)
		burst = max(1, int(math.Ceil(w.rate/100)))
	}
	limiter := rate.NewLimiter(limit, burst)

	logger.Info().
		Int("publishers", w.publishers).
		Int("messages", w.messages).
		Float64("rate", w.rate).
		Bool("async", w.async).
		Msg("workload started")

	var published atomic.Uint64
	start := time.Now()

	g, gctx := errgroup.WithContext(ctx)
	for p := range w.publishers {
		g.Go(func() error {
			for i := range w.messages {
				if err := limiter.Wait(gctx); err != nil {
					return err
				}
				msg := &Tick{Sample: Sample{Publisher: p}, Seq: i}
				var err error
				if w.async {
					err = bus.PublishAsyncContext(gctx, msg)
				} else {
					err = bus.Publish(msg)
				}
				if err != nil {
					return err
				}
				published.Add(1)
			}
			return nil
		})
	}
	err := g.Wait()

	if w.async {
		drain(ctx, bus)
	}

	res := result{
		Published: published.Load(),
		Elapsed:   time.Since(start),
		Stats:     bus.Stats(),
	}
	for i := range w.listeners {
		res.Received += ticks[i].n.Load() + samples[i].n.Load()
	}

	logger.Info().
		Uint64("published", res.Published).
		Uint64("received", res.Received).
		Dur("elapsed", res.Elapsed).
		Msg("workload finished")

	if errors.Is(err, context.Canceled) {
		err = nil
	}
	return res, err
}

// drain polls until the bus has no pending async work or ctx is done.
func drain(ctx context.Context, bus *messagebus.Bus) {
	ticker := time.NewTicker(time.Millisecond)
	defer ticker.Stop()
	for bus.HasPendingMessages() {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
