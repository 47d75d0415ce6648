package handler

import (
	"runtime/debug"
	"time"

	"github.com/dshills/messagebus/internal/publication"
)

// Observer is notified after every handler invocation.
type Observer func(d *Descriptor, elapsed time.Duration, err error)

// Executor runs handlers with panic recovery and timing.
type Executor struct {
	observer Observer
}

// NewExecutor creates a new executor with the given options.
func NewExecutor(opts ...ExecutorOption) *Executor {
	e := &Executor{}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithObserver sets the invocation observer.
func WithObserver(o Observer) ExecutorOption {
	return func(e *Executor) {
		e.observer = o
	}
}

// Execute invokes d on listener. A panic is recovered and returned as a
// *publication.PanicError; a Cancel() unwinding is returned as
// publication.ErrCancel.
func (e *Executor) Execute(d *Descriptor, listener any, args publication.Args) (err error) {
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			if publication.IsCancelSignal(r) {
				err = publication.ErrCancel
			} else {
				err = &publication.PanicError{Value: r, Stack: debug.Stack()}
			}
		}
		if e.observer != nil {
			e.notify(d, time.Since(start), err)
		}
	}()

	return d.invoke(listener, args)
}

// notify protects the caller from a failing observer.
func (e *Executor) notify(d *Descriptor, elapsed time.Duration, err error) {
	defer func() {
		_ = recover()
	}()
	e.observer(d, elapsed, err)
}
