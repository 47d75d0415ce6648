package subscription

import (
	"fmt"
	"reflect"
	"unsafe"
	"weak"
)

// Mode selects how subscriptions reference listener instances.
type Mode int

const (
	// Strong keeps listeners reachable until they are unsubscribed.
	Strong Mode = iota

	// Weak lets listeners be collected while subscribed. Collected
	// listeners are skipped and pruned lazily.
	Weak
)

// String implements fmt.Stringer.
func (m Mode) String() string {
	switch m {
	case Strong:
		return "strong"
	case Weak:
		return "weak"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// entry links one listener instance into a subscription.
type entry struct {
	strong any

	// weak entries hold a weak pointer to the listener's pointee and
	// rebuild the listener from it on every publication.
	weak  weak.Pointer[byte]
	ltype reflect.Type

	// serial guards invocations when the handler requires it.
	serial *guard
}

func newEntry(listener any, mode Mode, serialized bool) *entry {
	e := &entry{}
	if serialized {
		e.serial = &guard{}
	}

	v := reflect.ValueOf(listener)
	if mode == Weak && v.Kind() == reflect.Pointer && v.Type().Elem().Size() > 0 {
		e.weak = weak.Make((*byte)(v.UnsafePointer()))
		e.ltype = v.Type()
		return e
	}
	e.strong = listener
	return e
}

// target returns the listener, or nil if a weakly held listener was
// collected.
func (e *entry) target() any {
	if e.ltype == nil {
		return e.strong
	}
	p := e.weak.Value()
	if p == nil {
		return nil
	}
	return reflect.NewAt(e.ltype.Elem(), unsafe.Pointer(p)).Interface()
}

// is reports whether the entry refers to listener. Collected entries
// never match, so a recycled address cannot alias a dead listener.
func (e *entry) is(listener any) bool {
	t := e.target()
	return t != nil && t == listener
}
