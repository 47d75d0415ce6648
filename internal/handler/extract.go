package handler

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/dshills/messagebus/internal/publication"
	"github.com/dshills/messagebus/internal/typeinfo"
)

// MethodPrefix marks exported methods discovered as handlers by reflection.
const MethodPrefix = "Handle"

// ErrListenerMismatch is returned when a provided descriptor is declared
// on a receiver type the listener cannot be used as.
var ErrListenerMismatch = errors.New("handler declared on a different listener type")

// Provider is implemented by listeners that describe their handlers
// explicitly instead of relying on method discovery.
type Provider interface {
	MessageHandlers() []*Descriptor
}

// Optioner is implemented by listeners that configure discovered handler
// methods. Keys are method names. Because methods are promoted through
// embedding, an embedding type that overrides a handler method keeps the
// options of the embedded type unless it declares its own HandlerOptions.
type Optioner interface {
	HandlerOptions() map[string][]Option
}

var errorType = reflect.TypeFor[error]()

// reservedMethods are exported methods carrying the prefix that are part
// of the listener contract rather than handlers.
var reservedMethods = map[string]bool{
	"HandlerOptions": true,
}

// Extractor returns the enabled handler descriptors of a listener type and
// caches them per type.
type Extractor struct {
	cache sync.Map // reflect.Type -> []*Descriptor
}

// NewExtractor creates an empty extractor.
func NewExtractor() *Extractor {
	return &Extractor{}
}

// Descriptors returns the enabled descriptors for listener's type. The
// result is shared and must not be modified.
func (x *Extractor) Descriptors(listener any) ([]*Descriptor, error) {
	lt := reflect.TypeOf(listener)
	if v, ok := x.cache.Load(lt); ok {
		return v.([]*Descriptor), nil
	}

	var (
		all []*Descriptor
		err error
	)
	if p, ok := listener.(Provider); ok {
		all, err = provided(lt, p)
	} else {
		all, err = discover(lt, listener)
	}
	if err != nil {
		return nil, err
	}

	enabled := make([]*Descriptor, 0, len(all))
	for _, d := range all {
		if d != nil && d.Enabled {
			enabled = append(enabled, d)
		}
	}

	v, _ := x.cache.LoadOrStore(lt, enabled)
	return v.([]*Descriptor), nil
}

func provided(lt reflect.Type, p Provider) ([]*Descriptor, error) {
	descs := p.MessageHandlers()
	for _, d := range descs {
		if d == nil {
			continue
		}
		if d.ListenerType != nil && !lt.AssignableTo(d.ListenerType) {
			return nil, fmt.Errorf("%w: %s declared on %s, listener is %s",
				ErrListenerMismatch, d.Name, d.ListenerType, lt)
		}
		if d.Signature.IsZero() || d.invoke == nil {
			return nil, fmt.Errorf("handler %q of %s is incomplete", d.Name, lt)
		}
	}
	return descs, nil
}

func discover(lt reflect.Type, listener any) ([]*Descriptor, error) {
	var options map[string][]Option
	if o, ok := listener.(Optioner); ok {
		options = o.HandlerOptions()
	}

	var out []*Descriptor
	for i := 0; i < lt.NumMethod(); i++ {
		m := lt.Method(i)
		if !strings.HasPrefix(m.Name, MethodPrefix) || reservedMethods[m.Name] {
			continue
		}
		params, ok := handlerParams(m.Type)
		if !ok {
			continue
		}
		name := lt.String() + "." + m.Name
		d := New(name, lt, typeinfo.NewSignature(params...), methodInvoker(m.Func, params), options[m.Name]...)
		out = append(out, d)
	}
	return out, nil
}

// handlerParams returns the message parameter types of a method type whose
// first input is the receiver, or false if it is not a handler shape.
func handlerParams(ft reflect.Type) ([]reflect.Type, bool) {
	n := ft.NumIn() - 1
	if n < 1 || n > typeinfo.MaxArity || ft.IsVariadic() {
		return nil, false
	}
	switch ft.NumOut() {
	case 0:
	case 1:
		if ft.Out(0) != errorType {
			return nil, false
		}
	default:
		return nil, false
	}
	params := make([]reflect.Type, n)
	for i := range params {
		params[i] = ft.In(i + 1)
	}
	return params, true
}

func methodInvoker(fn reflect.Value, params []reflect.Type) Invoker {
	returnsError := fn.Type().NumOut() == 1
	return func(listener any, args publication.Args) error {
		var in [typeinfo.MaxArity + 1]reflect.Value
		in[0] = reflect.ValueOf(listener)
		for i, pt := range params {
			v, err := typeinfo.ConvertValue(reflect.ValueOf(args.At(i)), pt)
			if err != nil {
				return err
			}
			in[i+1] = v
		}
		out := fn.Call(in[:len(params)+1])
		if returnsError && !out[0].IsNil() {
			return out[0].Interface().(error)
		}
		return nil
	}
}
