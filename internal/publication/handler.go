package publication

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

// ErrorHandler receives publication failures.
type ErrorHandler interface {
	HandleError(err *PublicationError)
}

// ErrorHandlerFunc adapts a function to ErrorHandler.
type ErrorHandlerFunc func(err *PublicationError)

// HandleError calls f(err).
func (f ErrorHandlerFunc) HandleError(err *PublicationError) {
	f(err)
}

// Chain fans a publication error out to every registered handler. When no
// handler is registered the fallback receives it instead.
type Chain struct {
	mu       sync.Mutex
	handlers atomic.Pointer[[]ErrorHandler]
	fallback ErrorHandler
	observe  func(*PublicationError)
}

// NewChain creates a chain with the given fallback. observe, if non-nil,
// sees every error before it is dispatched.
func NewChain(fallback ErrorHandler, observe func(*PublicationError)) *Chain {
	c := &Chain{fallback: fallback, observe: observe}
	empty := []ErrorHandler{}
	c.handlers.Store(&empty)
	return c
}

// Add registers h. Nil handlers are ignored.
func (c *Chain) Add(h ErrorHandler) {
	if h == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	cur := *c.handlers.Load()
	next := make([]ErrorHandler, len(cur), len(cur)+1)
	copy(next, cur)
	next = append(next, h)
	c.handlers.Store(&next)
}

// Len returns the number of registered handlers.
func (c *Chain) Len() int {
	return len(*c.handlers.Load())
}

// HandleError implements ErrorHandler.
func (c *Chain) HandleError(err *PublicationError) {
	if err == nil {
		return
	}
	if c.observe != nil {
		c.observe(err)
	}

	handlers := *c.handlers.Load()
	if len(handlers) == 0 {
		if c.fallback != nil {
			safeHandle(c.fallback, err)
		}
		return
	}
	for _, h := range handlers {
		safeHandle(h, err)
	}
}

// safeHandle keeps a failing error handler from unwinding into the
// publisher or a worker.
func safeHandle(h ErrorHandler, err *PublicationError) {
	defer func() {
		_ = recover()
	}()
	h.HandleError(err)
}

// LogHandler returns an ErrorHandler that writes every error to logger.
func LogHandler(logger zerolog.Logger) ErrorHandler {
	return ErrorHandlerFunc(func(err *PublicationError) {
		ev := logger.Error().
			Str("handler", err.Handler).
			Int("messages", len(err.Messages))
		if err.Cause != nil {
			ev = ev.Err(err.Cause)
		}
		var pe *PanicError
		if errors.As(err.Cause, &pe) {
			ev = ev.Bytes("stack", pe.Stack)
		}
		if len(err.Messages) > 0 {
			ev = ev.Type("message_type", err.Messages[0])
		}
		ev.Msg(err.Message)
	})
}
