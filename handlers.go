package messagebus

import (
	"github.com/dshills/messagebus/internal/handler"
	"github.com/dshills/messagebus/internal/publication"
)

// Handler describes one message handler of a listener type.
type Handler = *handler.Descriptor

// HandlerOption configures a Handler.
type HandlerOption = handler.Option

// HandlerProvider is implemented by listeners that list their handlers
// explicitly. MessageHandlers is called once per listener type.
//
//	func (s *Store) MessageHandlers() []messagebus.Handler {
//	    return []messagebus.Handler{
//	        messagebus.Handle((*Store).onOrder),
//	        messagebus.Handle2((*Store).onTransfer, messagebus.Serialized()),
//	    }
//	}
type HandlerProvider = handler.Provider

// HandlerOptioner is implemented by listeners whose handlers are
// discovered from Handle* methods and need non-default options. Keys are
// method names.
type HandlerOptioner = handler.Optioner

// DeadMessage wraps a publication that reached no live listener. Declare a
// handler for *DeadMessage to receive them.
type DeadMessage = publication.DeadMessage

// Handle describes a handler for one message of type M.
func Handle[L, M any](fn func(L, M) error, opts ...HandlerOption) Handler {
	return handler.Func1(fn, opts...)
}

// Handle2 describes a handler for a pair of messages.
func Handle2[L, M1, M2 any](fn func(L, M1, M2) error, opts ...HandlerOption) Handler {
	return handler.Func2(fn, opts...)
}

// Handle3 describes a handler for three messages.
func Handle3[L, M1, M2, M3 any](fn func(L, M1, M2, M3) error, opts ...HandlerOption) Handler {
	return handler.Func3(fn, opts...)
}

// RejectSubtypes limits a handler to messages of exactly its declared
// types.
func RejectSubtypes() HandlerOption {
	return handler.RejectSubtypes()
}

// Serialized prevents concurrent invocations of a handler on the same
// listener instance. The guard is reentrant: a serialized handler that
// publishes synchronously to itself runs nested on the same goroutine.
// Handing the message to another goroutine and waiting for it still
// deadlocks.
func Serialized() HandlerOption {
	return handler.Serialized()
}

// Disabled excludes a handler from subscription.
func Disabled() HandlerOption {
	return handler.Disabled()
}
