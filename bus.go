package messagebus

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/dshills/messagebus/internal/dispatch"
	"github.com/dshills/messagebus/internal/handler"
	"github.com/dshills/messagebus/internal/log"
	"github.com/dshills/messagebus/internal/metrics"
	"github.com/dshills/messagebus/internal/publication"
	"github.com/dshills/messagebus/internal/subscription"
	"github.com/dshills/messagebus/internal/synchrony"
)

// Bus delivers messages to the handlers of subscribed listeners.
//
// A Bus is safe for concurrent use. It must not be used after Shutdown.
type Bus struct {
	id     string
	config busConfig
	logger zerolog.Logger

	registry   *subscription.Registry
	errs       *publication.Chain
	dispatcher *dispatch.Dispatcher
	metrics    *metrics.Collector

	// Delivery engines. async may be shared with clones; only the bus
	// that created it shuts it down.
	direct    *synchrony.Sync
	async     *synchrony.Async
	ownsAsync bool

	shutdown atomic.Bool
}

// New creates a bus with the given options.
func New(opts ...Option) (*Bus, error) {
	config := defaultBusConfig()
	for _, opt := range opts {
		opt(&config)
	}
	if err := config.validate(); err != nil {
		return nil, err
	}

	async, err := synchrony.NewAsync(
		synchrony.WithBackend(config.asyncBackend),
		synchrony.WithWorkers(config.workers),
		synchrony.WithCapacity(config.queueCapacity),
		synchrony.WithShutdownGrace(config.shutdownGrace),
		synchrony.WithLogger(baseLogger(config)),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	b, err := newBus(config, async, true)
	if err != nil {
		_ = async.Shutdown()
		return nil, err
	}
	return b, nil
}

// newBus assembles a bus around an existing async engine.
func newBus(config busConfig, async *synchrony.Async, ownsAsync bool) (*Bus, error) {
	b := &Bus{
		id:        uuid.NewString(),
		config:    config,
		direct:    synchrony.NewSync(),
		async:     async,
		ownsAsync: ownsAsync,
	}
	b.logger = baseLogger(config).With().Str("bus_id", b.id).Logger()

	collector, err := metrics.New(config.registerer, b.id, metrics.Gauges{
		Pending:   func() float64 { return float64(b.async.Stats().Pending) },
		Dead:      func() float64 { return float64(b.dispatcher.Stats().Dead) },
		Unhandled: func() float64 { return float64(b.dispatcher.Stats().Unhandled) },
		Cancelled: func() float64 { return float64(b.dispatcher.Stats().Cancelled) },
	})
	if err != nil {
		return nil, fmt.Errorf("register metrics: %w", err)
	}
	b.metrics = collector

	b.errs = publication.NewChain(publication.LogHandler(b.logger), func(*publication.PublicationError) {
		b.metrics.IncErrors()
	})
	for _, h := range config.errorHandlers {
		b.errs.Add(h)
	}

	b.registry = subscription.NewRegistry(
		subscription.WithMode(config.subscriptionMode),
		subscription.WithLogger(b.logger),
	)
	exec := handler.NewExecutor(handler.WithObserver(func(_ *handler.Descriptor, elapsed time.Duration, _ error) {
		b.metrics.ObserveHandler(elapsed)
	}))
	b.dispatcher = dispatch.New(config.dispatchMode, b.registry, exec, b.errs)

	b.logger.Debug().
		Stringer("dispatch_mode", config.dispatchMode).
		Stringer("subscription_mode", config.subscriptionMode).
		Bool("shared_async", !ownsAsync).
		Msg("message bus created")
	return b, nil
}

func baseLogger(config busConfig) zerolog.Logger {
	if config.logger != nil {
		return *config.logger
	}
	return log.WithComponent("messagebus")
}

// ID returns the bus identifier used in logs and metric labels.
func (b *Bus) ID() string {
	return b.id
}

// Subscribe registers every handler of listener. Subscribing the same
// listener twice has no effect. A nil listener is ignored.
func (b *Bus) Subscribe(listener any) error {
	if b.shutdown.Load() {
		return ErrShutdown
	}
	if err := b.registry.Subscribe(listener); err != nil {
		return err
	}
	if listener != nil {
		b.metrics.IncSubscribes()
	}
	return nil
}

// Unsubscribe removes listener from every subscription it belongs to.
// Unknown listeners are ignored.
func (b *Bus) Unsubscribe(listener any) error {
	if b.shutdown.Load() {
		return ErrShutdown
	}
	return b.registry.Unsubscribe(listener)
}

// Publish delivers one to three messages to all matching handlers on the
// calling goroutine and returns after the last handler ran. Handler
// failures go to the error handlers and are never returned.
func (b *Bus) Publish(msgs ...any) error {
	args, err := b.accept(msgs)
	if err != nil {
		return err
	}
	b.metrics.IncPublished(metrics.ModeSync)
	return b.direct.Publish(context.Background(), b.dispatcher, b.dispatcher.Resolve(args.Signature()), args)
}

// PublishAsync queues one to three messages for delivery on a worker
// goroutine. It blocks while the queue is full.
func (b *Bus) PublishAsync(msgs ...any) error {
	return b.PublishAsyncContext(context.Background(), msgs...)
}

// PublishAsyncContext is like PublishAsync but gives up waiting for queue
// space when ctx is done, returning the context error.
func (b *Bus) PublishAsyncContext(ctx context.Context, msgs ...any) error {
	args, err := b.accept(msgs)
	if err != nil {
		return err
	}
	// Subscriptions are resolved on the publishing goroutine.
	r := b.dispatcher.Resolve(args.Signature())
	if err := b.async.Publish(ctx, b.dispatcher, r, args); err != nil {
		return err
	}
	b.metrics.IncPublished(metrics.ModeAsync)
	return nil
}

func (b *Bus) accept(msgs []any) (publication.Args, error) {
	if b.shutdown.Load() {
		return publication.Args{}, ErrShutdown
	}
	return publication.NewArgs(msgs...)
}

// AddErrorHandler registers h to receive publication failures. Once a
// handler is registered the default logging handler is no longer used.
func (b *Bus) AddErrorHandler(h ErrorHandler) {
	b.errs.Add(h)
}

// HasPendingMessages reports whether asynchronous publications are still
// queued or running. The answer is a hint that may be stale by the time
// it is returned.
func (b *Bus) HasPendingMessages() bool {
	return b.async.HasPendingMessages()
}

// Shutdown stops accepting publications, drains the async engine within
// the shutdown grace period and clears all subscriptions. A clone leaves
// the shared engine running. Calling Shutdown again returns nil.
func (b *Bus) Shutdown() error {
	if !b.shutdown.CompareAndSwap(false, true) {
		return nil
	}

	var err error
	if b.ownsAsync {
		err = b.async.Shutdown()
	}
	b.registry.Clear()
	b.metrics.Unregister()

	b.logger.Debug().Err(err).Msg("message bus shut down")
	return err
}

// CloneWithSharedExecutor returns a bus with its own subscriptions, error
// handlers and metrics that delivers asynchronous publications through
// this bus's worker pool.
func (b *Bus) CloneWithSharedExecutor() (*Bus, error) {
	if b.shutdown.Load() {
		return nil, ErrShutdown
	}
	config := b.config
	config.errorHandlers = nil
	return newBus(config, b.async, false)
}

// Stats is a snapshot of bus activity.
type Stats struct {
	ID string

	PublishedSync  uint64
	PublishedAsync uint64

	// Delivery outcomes.
	Delivered uint64
	Dead      uint64
	Unhandled uint64
	Cancelled uint64

	Errors       uint64
	HandlerCalls uint64
	Subscribes   uint64

	// Async engine, shared with clones.
	Pending int64
	Queued  int
	Dropped uint64

	ListenerTypes int
	Subscriptions int
	Listeners     int
}

// Stats returns the current counters.
func (b *Bus) Stats() Stats {
	counts := b.metrics.Counts()
	ds := b.dispatcher.Stats()
	as := b.async.Stats()
	rs := b.registry.Stats()

	return Stats{
		ID:             b.id,
		PublishedSync:  counts.PublishedSync,
		PublishedAsync: counts.PublishedAsync,
		Delivered:      ds.Delivered,
		Dead:           ds.Dead,
		Unhandled:      ds.Unhandled,
		Cancelled:      ds.Cancelled,
		Errors:         counts.Errors,
		HandlerCalls:   counts.HandlerCalls,
		Subscribes:     counts.Subscribes,
		Pending:        as.Pending,
		Queued:         as.Queued,
		Dropped:        as.Dropped,
		ListenerTypes:  rs.ListenerTypes,
		Subscriptions:  rs.Subscriptions,
		Listeners:      rs.Listeners,
	}
}
