package subscription

import (
	"errors"

	"github.com/dshills/messagebus/internal/handler"
	"github.com/dshills/messagebus/internal/publication"
	"github.com/dshills/messagebus/internal/typeinfo"
)

// Subscription binds one handler descriptor of a listener type to the
// listener instances currently subscribed.
//
// The entry list is an immutable slice swapped atomically. Mutations
// happen under the registry lock; publishers load the slice once and
// never block.
type Subscription struct {
	desc    *handler.Descriptor
	mode    Mode
	entries atomicEntries
}

// New creates an empty subscription for desc.
func New(desc *handler.Descriptor, mode Mode) *Subscription {
	s := &Subscription{desc: desc, mode: mode}
	s.entries.store(nil)
	return s
}

// Descriptor returns the handler descriptor.
func (s *Subscription) Descriptor() *handler.Descriptor {
	return s.desc
}

// Signature returns the declared message types.
func (s *Subscription) Signature() typeinfo.Signature {
	return s.desc.Signature
}

// Subscribe adds listener unless it is already present and reports
// whether it was added. Callers must hold the registry lock.
func (s *Subscription) Subscribe(listener any) bool {
	cur := s.entries.load()
	for _, e := range cur {
		if e.is(listener) {
			return false
		}
	}
	next := make([]*entry, 0, len(cur)+1)
	next = append(next, newEntry(listener, s.mode, s.desc.Serialized))
	for _, e := range cur {
		if e.target() != nil {
			next = append(next, e)
		}
	}
	s.entries.store(next)
	return true
}

// Unsubscribe removes listener and reports whether it was present.
// Callers must hold the registry lock.
func (s *Subscription) Unsubscribe(listener any) bool {
	cur := s.entries.load()
	next := make([]*entry, 0, len(cur))
	found := false
	for _, e := range cur {
		t := e.target()
		if t == nil {
			continue
		}
		if t == listener {
			found = true
			continue
		}
		next = append(next, e)
	}
	if found || len(next) != len(cur) {
		s.entries.store(next)
	}
	return found
}

// Contains reports whether listener is subscribed.
func (s *Subscription) Contains(listener any) bool {
	for _, e := range s.entries.load() {
		if e.is(listener) {
			return true
		}
	}
	return false
}

// Len returns the number of live listeners.
func (s *Subscription) Len() int {
	n := 0
	for _, e := range s.entries.load() {
		if e.target() != nil {
			n++
		}
	}
	return n
}

// Clear removes every listener.
func (s *Subscription) Clear() {
	s.entries.store(nil)
}

// Publish delivers args to every live listener. It reports whether at
// least one live listener existed and whether a handler cancelled the
// publication, in which case the remaining listeners were skipped.
// Handler failures go to errs.
func (s *Subscription) Publish(exec *handler.Executor, errs publication.ErrorHandler, args publication.Args) (delivered, cancelled bool) {
	snap := s.entries.snapshot()
	dead := false

	for _, e := range *snap {
		listener := e.target()
		if listener == nil {
			dead = true
			continue
		}
		delivered = true

		if err := s.invoke(exec, e, listener, args); err != nil {
			if publication.IsCancel(err) {
				cancelled = true
				break
			}
			errs.HandleError(s.failure(err, listener, args))
		}
	}

	if dead {
		s.prune(snap)
	}
	return delivered, cancelled
}

func (s *Subscription) invoke(exec *handler.Executor, e *entry, listener any, args publication.Args) error {
	if e.serial != nil {
		e.serial.lock()
		defer e.serial.unlock()
	}
	return exec.Execute(s.desc, listener, args)
}

func (s *Subscription) failure(err error, listener any, args publication.Args) *publication.PublicationError {
	msg := publication.MsgInvocation
	if errors.Is(err, typeinfo.ErrNotConvertible) || errors.Is(err, typeinfo.ErrNilEmbedded) {
		msg = publication.MsgConversion
	}
	pe := publication.NewError(msg, err, args)
	pe.Listener = listener
	pe.Handler = s.desc.Name
	return pe
}

// prune drops collected entries. Losing the race against a concurrent
// mutation leaves them for the next traversal.
func (s *Subscription) prune(snap *[]*entry) {
	next := make([]*entry, 0, len(*snap))
	for _, e := range *snap {
		if e.target() != nil {
			next = append(next, e)
		}
	}
	s.entries.compareAndSwap(snap, next)
}
