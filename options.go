package messagebus

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/dshills/messagebus/internal/dispatch"
	"github.com/dshills/messagebus/internal/subscription"
	"github.com/dshills/messagebus/internal/synchrony"
)

// DispatchMode selects which subscriptions a publication is matched
// against.
type DispatchMode = dispatch.Mode

const (
	// Exact delivers only to handlers declared for the exact message types.
	Exact = dispatch.Exact

	// ExactWithSuperTypes also delivers to subtype-accepting handlers
	// declared for embedded struct types, implemented interfaces and, for
	// slices, slices of those.
	ExactWithSuperTypes = dispatch.ExactWithSuperTypes
)

// SubscriptionMode selects how the bus references listeners.
type SubscriptionMode = subscription.Mode

const (
	// StrongReferences keeps listeners alive until unsubscribed.
	StrongReferences = subscription.Strong

	// WeakReferences lets subscribed listeners be garbage collected.
	WeakReferences = subscription.Weak
)

// AsyncBackend selects the queue behind PublishAsync.
type AsyncBackend = synchrony.Backend

const (
	// RingBuffer uses preallocated slots and does not allocate per
	// publication.
	RingBuffer = synchrony.RingBuffer

	// Queue uses a buffered channel.
	Queue = synchrony.Queue
)

// Option configures a Bus.
type Option func(*busConfig)

// busConfig contains configuration for the message bus.
type busConfig struct {
	dispatchMode     DispatchMode
	subscriptionMode SubscriptionMode
	asyncBackend     AsyncBackend

	// workers is the number of async worker goroutines; 0 picks the
	// default.
	workers int

	// queueCapacity is the async queue size; a power of two.
	queueCapacity int

	// shutdownGrace bounds how long Shutdown waits for async work.
	shutdownGrace time.Duration

	logger        *zerolog.Logger
	registerer    prometheus.Registerer
	errorHandlers []ErrorHandler
}

// defaultBusConfig returns the configuration used by New without options.
func defaultBusConfig() busConfig {
	return busConfig{
		dispatchMode:     ExactWithSuperTypes,
		subscriptionMode: StrongReferences,
		asyncBackend:     RingBuffer,
		queueCapacity:    synchrony.DefaultCapacity,
		shutdownGrace:    synchrony.DefaultShutdownGrace,
	}
}

// WithDispatchMode sets the dispatch mode. The default is
// ExactWithSuperTypes.
func WithDispatchMode(m DispatchMode) Option {
	return func(c *busConfig) {
		c.dispatchMode = m
	}
}

// WithSubscriptionMode sets how listeners are referenced. The default is
// StrongReferences.
func WithSubscriptionMode(m SubscriptionMode) Option {
	return func(c *busConfig) {
		c.subscriptionMode = m
	}
}

// WithAsyncBackend sets the async queue implementation. The default is
// RingBuffer.
func WithAsyncBackend(b AsyncBackend) Option {
	return func(c *busConfig) {
		c.asyncBackend = b
	}
}

// WithWorkers sets the number of async worker goroutines. It is rounded
// up to a power of two, minimum 2. The default is half the usable CPUs.
func WithWorkers(n int) Option {
	return func(c *busConfig) {
		if n > 0 {
			c.workers = n
		}
	}
}

// WithQueueCapacity sets the async queue capacity. It must be a power of
// two. The default is 1024.
func WithQueueCapacity(n int) Option {
	return func(c *busConfig) {
		c.queueCapacity = n
	}
}

// WithShutdownGrace bounds how long Shutdown waits for pending async
// publications. The default is 10 seconds.
func WithShutdownGrace(d time.Duration) Option {
	return func(c *busConfig) {
		if d > 0 {
			c.shutdownGrace = d
		}
	}
}

// WithLogger sets the bus logger.
func WithLogger(l zerolog.Logger) Option {
	return func(c *busConfig) {
		c.logger = &l
	}
}

// WithMetricsRegisterer registers the bus metrics with r.
func WithMetricsRegisterer(r prometheus.Registerer) Option {
	return func(c *busConfig) {
		c.registerer = r
	}
}

// WithErrorHandler registers h at construction time. It may be repeated.
func WithErrorHandler(h ErrorHandler) Option {
	return func(c *busConfig) {
		if h != nil {
			c.errorHandlers = append(c.errorHandlers, h)
		}
	}
}

func (c busConfig) validate() error {
	switch c.dispatchMode {
	case Exact, ExactWithSuperTypes:
	default:
		return fmt.Errorf("%w: dispatch mode %v", ErrInvalidConfig, c.dispatchMode)
	}
	switch c.subscriptionMode {
	case StrongReferences, WeakReferences:
	default:
		return fmt.Errorf("%w: subscription mode %v", ErrInvalidConfig, c.subscriptionMode)
	}
	switch c.asyncBackend {
	case RingBuffer, Queue:
	default:
		return fmt.Errorf("%w: async backend %v", ErrInvalidConfig, c.asyncBackend)
	}
	if !synchrony.ValidCapacity(c.queueCapacity) {
		return fmt.Errorf("%w: queue capacity %d is not a power of two", ErrInvalidConfig, c.queueCapacity)
	}
	return nil
}
