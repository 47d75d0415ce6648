// Package messagebus provides an in-process publish/subscribe message bus
// with type-based routing.
//
// Listeners are ordinary structs. Their handlers are found either by
// convention, as exported methods whose names start with "Handle", or
// explicitly through a MessageHandlers method. A handler takes one to three
// messages and returns nothing or an error.
//
// # Architecture
//
//	                 ┌────────────────────────────────────────┐
//	                 │                  Bus                   │
//	                 │  - Publish / PublishAsync              │
//	                 │  - Subscribe / Unsubscribe             │
//	                 └────────────────────────────────────────┘
//	                                   │
//	          ┌────────────────────────┼────────────────────────┐
//	          ▼                        ▼                        ▼
//	┌──────────────────┐     ┌──────────────────┐     ┌──────────────────┐
//	│     Registry     │     │    Dispatcher    │     │   Async engine   │
//	│  - Subscriptions │     │  - Exact match   │     │  - Ring buffer   │
//	│  - Super cache   │     │  - Supertypes    │     │  - Worker pool   │
//	└──────────────────┘     │  - Dead messages │     └──────────────────┘
//	                         └──────────────────┘
//
// # Routing
//
// A publication is matched by the exact types of its messages. With
// ExactWithSuperTypes, the default, it also reaches handlers declared for
// supertypes:
//
//   - structs embedded in the message type, at any depth
//   - interfaces the message type implements, including any
//   - []S for a []T message when S is a supertype of T
//
// Handlers created with RejectSubtypes only see exact matches. A
// publication that reaches no live listener is wrapped in a *DeadMessage
// and delivered to DeadMessage handlers, if any.
//
// # Delivery
//
// Publish runs every matched handler on the calling goroutine. PublishAsync
// hands the publication to a bounded queue served by a worker pool and
// blocks only while the queue is full. HasPendingMessages reports whether
// async work remains.
//
// Handler errors and panics never reach the publisher. They are wrapped in
// a PublicationError and passed to the registered ErrorHandlers, or logged
// when there are none. A handler stops the remaining delivery of a
// publication by returning ErrCancel or calling Cancel.
//
// # Example
//
//	type Audit struct{ seen []string }
//
//	func (a *Audit) HandleOrder(o *Order) { a.seen = append(a.seen, o.ID) }
//
//	bus, _ := messagebus.New()
//	defer bus.Shutdown()
//
//	bus.Subscribe(&Audit{})
//	bus.Publish(&Order{ID: "42"})
//
// # Thread Safety
//
// All Bus methods are safe for concurrent use. Handlers may run
// concurrently for different publications; use Serialized to prevent
// concurrent calls of a handler on the same listener.
package messagebus
