package synchrony

import (
	"context"
	"math/bits"
	"runtime"

	"github.com/dshills/messagebus/internal/dispatch"
	"github.com/dshills/messagebus/internal/publication"
)

// Deliverer fans a resolved publication out to its subscriptions and
// receives failures that happen around delivery.
type Deliverer interface {
	Deliver(r dispatch.Resolved, args publication.Args)
	Report(err *publication.PublicationError)
}

// Synchrony decides on which goroutine a resolved publication is
// delivered.
type Synchrony interface {
	// Publish delivers or schedules delivery of args through d.
	Publish(ctx context.Context, d Deliverer, r dispatch.Resolved, args publication.Args) error

	// HasPendingMessages reports whether accepted publications have not
	// finished executing yet.
	HasPendingMessages() bool

	// Shutdown stops accepting publications and releases resources.
	Shutdown() error
}

// Sync delivers on the publisher's goroutine.
type Sync struct{}

// NewSync returns the synchronous engine.
func NewSync() *Sync {
	return &Sync{}
}

// Publish delivers args before returning.
func (s *Sync) Publish(_ context.Context, d Deliverer, r dispatch.Resolved, args publication.Args) error {
	d.Deliver(r, args)
	return nil
}

// HasPendingMessages always reports false.
func (s *Sync) HasPendingMessages() bool {
	return false
}

// Shutdown is a no-op.
func (s *Sync) Shutdown() error {
	return nil
}

// DefaultWorkers returns half the usable CPUs, rounded by RoundWorkers.
func DefaultWorkers() int {
	return RoundWorkers(runtime.GOMAXPROCS(0) / 2)
}

// RoundWorkers rounds n up to a power of two, with a minimum of 2.
func RoundWorkers(n int) int {
	if n <= 2 {
		return 2
	}
	return 1 << bits.Len(uint(n-1))
}

// ValidCapacity reports whether c is a positive power of two.
func ValidCapacity(c int) bool {
	return c > 0 && c&(c-1) == 0
}
