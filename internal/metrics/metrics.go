// Package metrics exposes per-bus prometheus collectors.
package metrics

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// Publish modes used as label values.
const (
	ModeSync  = "sync"
	ModeAsync = "async"
)

// Gauges supplies values owned by other components. Nil funcs report zero.
type Gauges struct {
	Pending   func() float64
	Dead      func() float64
	Unhandled func() float64
	Cancelled func() float64
}

// Collector counts bus activity. Counters work whether or not the
// collector is registered.
type Collector struct {
	published       *prometheus.CounterVec
	publishedSync   prometheus.Counter
	publishedAsync  prometheus.Counter
	errors          prometheus.Counter
	subscribes      prometheus.Counter
	handlerDuration prometheus.Histogram

	reg        prometheus.Registerer
	collectors []prometheus.Collector
}

// New creates the collectors for one bus and registers them with reg when
// reg is non-nil.
func New(reg prometheus.Registerer, busID string, g Gauges) (*Collector, error) {
	labels := prometheus.Labels{"bus_id": busID}

	c := &Collector{reg: reg}
	c.published = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "messagebus_published_total",
		Help:        "Total number of accepted publications by mode",
		ConstLabels: labels,
	}, []string{"mode"})
	c.publishedSync = c.published.WithLabelValues(ModeSync)
	c.publishedAsync = c.published.WithLabelValues(ModeAsync)

	c.errors = prometheus.NewCounter(prometheus.CounterOpts{
		Name:        "messagebus_publication_errors_total",
		Help:        "Total number of publication errors reported to error handlers",
		ConstLabels: labels,
	})
	c.subscribes = prometheus.NewCounter(prometheus.CounterOpts{
		Name:        "messagebus_subscribe_total",
		Help:        "Total number of Subscribe calls",
		ConstLabels: labels,
	})
	c.handlerDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:        "messagebus_handler_duration_seconds",
		Help:        "Message handler execution time",
		ConstLabels: labels,
		Buckets:     prometheus.ExponentialBuckets(1e-6, 4, 10),
	})

	c.collectors = []prometheus.Collector{
		c.published,
		c.errors,
		c.subscribes,
		c.handlerDuration,
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name:        "messagebus_dead_messages_total",
			Help:        "Total number of publications delivered as DeadMessage",
			ConstLabels: labels,
		}, orZero(g.Dead)),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name:        "messagebus_unhandled_total",
			Help:        "Total number of publications discarded without any handler",
			ConstLabels: labels,
		}, orZero(g.Unhandled)),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name:        "messagebus_cancellations_total",
			Help:        "Total number of publications cancelled by a handler",
			ConstLabels: labels,
		}, orZero(g.Cancelled)),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name:        "messagebus_pending_messages",
			Help:        "Async publications accepted but not yet executed",
			ConstLabels: labels,
		}, orZero(g.Pending)),
	}

	if reg != nil {
		for i, col := range c.collectors {
			if err := reg.Register(col); err != nil {
				for _, done := range c.collectors[:i] {
					reg.Unregister(done)
				}
				return nil, err
			}
		}
	}
	return c, nil
}

func orZero(f func() float64) func() float64 {
	if f == nil {
		return func() float64 { return 0 }
	}
	return f
}

// IncPublished counts one accepted publication.
func (c *Collector) IncPublished(mode string) {
	if mode == ModeAsync {
		c.publishedAsync.Inc()
		return
	}
	c.publishedSync.Inc()
}

// IncErrors counts one reported publication error.
func (c *Collector) IncErrors() {
	c.errors.Inc()
}

// IncSubscribes counts one Subscribe call.
func (c *Collector) IncSubscribes() {
	c.subscribes.Inc()
}

// ObserveHandler records a handler execution time.
func (c *Collector) ObserveHandler(elapsed time.Duration) {
	c.handlerDuration.Observe(elapsed.Seconds())
}

// Unregister removes the collectors from the registerer they were
// registered with.
func (c *Collector) Unregister() {
	if c.reg == nil {
		return
	}
	for _, col := range c.collectors {
		c.reg.Unregister(col)
	}
}

// Counts is a snapshot of the directly counted values.
type Counts struct {
	PublishedSync  uint64
	PublishedAsync uint64
	Errors         uint64
	Subscribes     uint64
	HandlerCalls   uint64
}

// Counts reads the current counter values.
func (c *Collector) Counts() Counts {
	return Counts{
		PublishedSync:  uint64(counterValue(c.publishedSync)),
		PublishedAsync: uint64(counterValue(c.publishedAsync)),
		Errors:         uint64(counterValue(c.errors)),
		Subscribes:     uint64(counterValue(c.subscribes)),
		HandlerCalls:   histogramCount(c.handlerDuration),
	}
}

func counterValue(m prometheus.Metric) float64 {
	var out dto.Metric
	if err := m.Write(&out); err != nil {
		return 0
	}
	return out.GetCounter().GetValue()
}

func histogramCount(m prometheus.Metric) uint64 {
	var out dto.Metric
	if err := m.Write(&out); err != nil {
		return 0
	}
	return out.GetHistogram().GetSampleCount()
}

// IsAlreadyRegistered reports whether err comes from registering a bus ID
// twice with the same registerer.
func IsAlreadyRegistered(err error) bool {
	var are prometheus.AlreadyRegisteredError
	return errors.As(err, &are)
}
