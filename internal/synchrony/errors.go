package synchrony

import "errors"

var (
	// ErrShutdown is returned when publishing to an engine that is shut
	// down or shutting down.
	ErrShutdown = errors.New("message bus is shut down")

	// ErrInvalidCapacity is returned for queue capacities that are not a
	// positive power of two.
	ErrInvalidCapacity = errors.New("queue capacity must be a positive power of two")

	// ErrShutdownTimeout is returned when pending messages or workers did
	// not finish within the shutdown grace period.
	ErrShutdownTimeout = errors.New("shutdown grace period exceeded")
)
