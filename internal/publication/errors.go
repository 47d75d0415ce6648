package publication

import (
	"fmt"
	"strings"
)

// Error messages used when reporting publication failures.
const (
	MsgInvocation      = "error during invocation of message handler"
	MsgConversion      = "message could not be converted to handler parameter type"
	MsgEnqueue         = "interrupted during enqueue of async message"
	MsgDequeue         = "error during dequeue of async message"
	MsgDroppedShutdown = "async message dropped during shutdown"
)

// PublicationError describes a failure that happened while delivering a
// publication. It is handed to the registered error handlers and is never
// returned to the publisher.
type PublicationError struct {
	// Message is a short human readable description.
	Message string

	// Cause is the underlying error, if any.
	Cause error

	// Messages are the published messages involved.
	Messages []any

	// Listener is the listener instance whose handler failed, if any.
	Listener any

	// Handler names the failing handler, if any.
	Handler string
}

// NewError creates a publication error for the given messages.
func NewError(message string, cause error, args Args) *PublicationError {
	return &PublicationError{
		Message:  message,
		Cause:    cause,
		Messages: args.Slice(),
	}
}

// Error implements the error interface.
func (e *PublicationError) Error() string {
	var b strings.Builder
	b.WriteString(e.Message)
	if e.Handler != "" {
		b.WriteString(" [")
		b.WriteString(e.Handler)
		b.WriteByte(']')
	}
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

// Unwrap returns the underlying cause.
func (e *PublicationError) Unwrap() error {
	return e.Cause
}

// PanicError wraps a value recovered from a panicking handler.
type PanicError struct {
	// Value is the value passed to panic().
	Value any

	// Stack is the stack trace captured at recovery.
	Stack []byte
}

// Error implements the error interface.
func (e *PanicError) Error() string {
	return fmt.Sprintf("handler panic: %v", e.Value)
}

// Unwrap returns the panic value when it is an error.
func (e *PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}
