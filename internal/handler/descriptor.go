package handler

import (
	"fmt"
	"reflect"
	"runtime"
	"strings"

	"github.com/dshills/messagebus/internal/publication"
	"github.com/dshills/messagebus/internal/typeinfo"
)

// Invoker calls a handler on listener with the published messages.
type Invoker func(listener any, args publication.Args) error

// Descriptor is the static description of one message handler of a
// listener type. Descriptors are shared by every instance of the type.
type Descriptor struct {
	// Name identifies the handler in errors and logs.
	Name string

	// ListenerType is the receiver type the handler is declared on.
	ListenerType reflect.Type

	// Signature is the declared parameter types.
	Signature typeinfo.Signature

	// AcceptsSubtypes allows delivery of messages whose types are
	// subtypes of the declared types.
	AcceptsSubtypes bool

	// Serialized makes invocations on the same listener instance
	// mutually exclusive.
	Serialized bool

	// Enabled descriptors are subscribed; disabled ones are dropped.
	Enabled bool

	invoke Invoker
}

// New creates a descriptor with default flags: accepts subtypes,
// concurrent, enabled.
func New(name string, listenerType reflect.Type, sig typeinfo.Signature, invoke Invoker, opts ...Option) *Descriptor {
	d := &Descriptor{
		Name:            name,
		ListenerType:    listenerType,
		Signature:       sig,
		AcceptsSubtypes: true,
		Enabled:         true,
		invoke:          invoke,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Invoke calls the handler without panic recovery.
func (d *Descriptor) Invoke(listener any, args publication.Args) error {
	return d.invoke(listener, args)
}

// String implements fmt.Stringer.
func (d *Descriptor) String() string {
	return d.Name + d.Signature.String()
}

// Option configures a Descriptor.
type Option func(*Descriptor)

// RejectSubtypes restricts delivery to messages of exactly the declared
// types.
func RejectSubtypes() Option {
	return func(d *Descriptor) {
		d.AcceptsSubtypes = false
	}
}

// Serialized makes invocations of the handler on one listener instance
// mutually exclusive.
func Serialized() Option {
	return func(d *Descriptor) {
		d.Serialized = true
	}
}

// Disabled excludes the handler from subscription.
func Disabled() Option {
	return func(d *Descriptor) {
		d.Enabled = false
	}
}

// Func1 describes a one-message handler. fn is typically a method
// expression such as (*Listener).OnOrder.
func Func1[L, M any](fn func(L, M) error, opts ...Option) *Descriptor {
	sig := typeinfo.NewSignature(reflect.TypeFor[M]())
	return New(funcName(fn), reflect.TypeFor[L](), sig, func(listener any, args publication.Args) error {
		l, err := receiver[L](listener)
		if err != nil {
			return err
		}
		m, err := as[M](args.At(0))
		if err != nil {
			return err
		}
		return fn(l, m)
	}, opts...)
}

// Func2 describes a two-message handler.
func Func2[L, M1, M2 any](fn func(L, M1, M2) error, opts ...Option) *Descriptor {
	sig := typeinfo.NewSignature(reflect.TypeFor[M1](), reflect.TypeFor[M2]())
	return New(funcName(fn), reflect.TypeFor[L](), sig, func(listener any, args publication.Args) error {
		l, err := receiver[L](listener)
		if err != nil {
			return err
		}
		m1, err := as[M1](args.At(0))
		if err != nil {
			return err
		}
		m2, err := as[M2](args.At(1))
		if err != nil {
			return err
		}
		return fn(l, m1, m2)
	}, opts...)
}

// Func3 describes a three-message handler.
func Func3[L, M1, M2, M3 any](fn func(L, M1, M2, M3) error, opts ...Option) *Descriptor {
	sig := typeinfo.NewSignature(reflect.TypeFor[M1](), reflect.TypeFor[M2](), reflect.TypeFor[M3]())
	return New(funcName(fn), reflect.TypeFor[L](), sig, func(listener any, args publication.Args) error {
		l, err := receiver[L](listener)
		if err != nil {
			return err
		}
		m1, err := as[M1](args.At(0))
		if err != nil {
			return err
		}
		m2, err := as[M2](args.At(1))
		if err != nil {
			return err
		}
		m3, err := as[M3](args.At(2))
		if err != nil {
			return err
		}
		return fn(l, m1, m2, m3)
	}, opts...)
}

func receiver[L any](listener any) (L, error) {
	l, ok := listener.(L)
	if !ok {
		var zero L
		return zero, fmt.Errorf("listener %T is not a %s", listener, reflect.TypeFor[L]())
	}
	return l, nil
}

// as asserts v to M, falling back to supertype conversion.
func as[M any](v any) (M, error) {
	if m, ok := v.(M); ok {
		return m, nil
	}
	var zero M
	c, err := typeinfo.Convert(v, reflect.TypeFor[M]())
	if err != nil {
		return zero, err
	}
	m, ok := c.(M)
	if !ok {
		return zero, fmt.Errorf("%w: %T to %s", typeinfo.ErrNotConvertible, v, reflect.TypeFor[M]())
	}
	return m, nil
}

func funcName(fn any) string {
	f := runtime.FuncForPC(reflect.ValueOf(fn).Pointer())
	if f == nil {
		return "handler"
	}
	name := f.Name()
	if i := strings.LastIndexByte(name, '/'); i >= 0 {
		name = name[i+1:]
	}
	return strings.TrimSuffix(name, "-fm")
}
