package messagebus

import (
	"errors"

	"github.com/dshills/messagebus/internal/publication"
	"github.com/dshills/messagebus/internal/subscription"
	"github.com/dshills/messagebus/internal/synchrony"
)

// Sentinel errors for the message bus.
var (
	// ErrShutdown is returned when publishing or subscribing after Shutdown.
	ErrShutdown = synchrony.ErrShutdown

	// ErrShutdownTimeout is returned by Shutdown when async work did not
	// finish within the grace period.
	ErrShutdownTimeout = synchrony.ErrShutdownTimeout

	// ErrInvalidArity is returned when a publication carries no message or
	// more than three.
	ErrInvalidArity = publication.ErrInvalidArity

	// ErrNilMessage is returned when a published message is nil.
	ErrNilMessage = publication.ErrNilMessage

	// ErrInvalidListener is returned when a listener is not a pointer.
	ErrInvalidListener = subscription.ErrInvalidListener

	// ErrInvalidConfig is returned by New for unusable options.
	ErrInvalidConfig = errors.New("invalid message bus configuration")

	// ErrCancel stops delivery of the current publication when returned
	// by a handler.
	ErrCancel = publication.ErrCancel
)

// PublicationError describes a failure during delivery. Handlers receive
// it through ErrorHandler; it is never returned by Publish.
type PublicationError = publication.PublicationError

// PanicError is the cause of a PublicationError for a panicking handler.
type PanicError = publication.PanicError

// ErrorHandler receives publication failures.
type ErrorHandler = publication.ErrorHandler

// ErrorHandlerFunc adapts a function to ErrorHandler.
type ErrorHandlerFunc = publication.ErrorHandlerFunc

// Cancel stops delivery of the current publication to the remaining
// listeners. It may only be called from inside a handler and does not
// return.
func Cancel() {
	publication.Cancel()
}
