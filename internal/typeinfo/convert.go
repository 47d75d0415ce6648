package typeinfo

import (
	"errors"
	"fmt"
	"reflect"
	"sync"
)

// ErrNotConvertible is returned when a message cannot be delivered as the
// requested type.
var ErrNotConvertible = errors.New("message not convertible to handler type")

// ErrNilEmbedded is returned when the path to an embedded ancestor goes
// through a nil pointer.
var ErrNilEmbedded = errors.New("nil embedded pointer")

type converter func(reflect.Value) (reflect.Value, error)

type convKey struct {
	src, dst reflect.Type
}

var converters sync.Map // convKey -> converter (nil when not convertible)

// Convert returns msg as a value of type target. Interface targets keep the
// dynamic value, embedded struct targets extract the embedded field and
// slice targets are rebuilt element by element.
func Convert(msg any, target reflect.Type) (any, error) {
	if msg == nil {
		return nil, fmt.Errorf("%w: nil message", ErrNotConvertible)
	}
	src := reflect.TypeOf(msg)
	if src == target {
		return msg, nil
	}

	conv := converterFor(src, target)
	if conv == nil {
		return nil, fmt.Errorf("%w: %s to %s", ErrNotConvertible, src, target)
	}
	v, err := conv(reflect.ValueOf(msg))
	if err != nil {
		return nil, fmt.Errorf("convert %s to %s: %w", src, target, err)
	}
	return v.Interface(), nil
}

// ConvertValue is Convert for reflect values.
func ConvertValue(v reflect.Value, target reflect.Type) (reflect.Value, error) {
	if v.Type() == target {
		return v, nil
	}
	conv := converterFor(v.Type(), target)
	if conv == nil {
		return reflect.Value{}, fmt.Errorf("%w: %s to %s", ErrNotConvertible, v.Type(), target)
	}
	return conv(v)
}

func converterFor(src, dst reflect.Type) converter {
	key := convKey{src: src, dst: dst}
	if v, ok := converters.Load(key); ok {
		return v.(converter)
	}
	conv := buildConverter(src, dst)
	converters.Store(key, conv)
	return conv
}

func buildConverter(src, dst reflect.Type) converter {
	if src.AssignableTo(dst) {
		return func(v reflect.Value) (reflect.Value, error) {
			if dst.Kind() == reflect.Interface {
				out := reflect.New(dst).Elem()
				out.Set(v)
				return out, nil
			}
			return v, nil
		}
	}

	if src.Kind() == reflect.Slice && dst.Kind() == reflect.Slice {
		elem := buildConverter(src.Elem(), dst.Elem())
		if elem == nil {
			return nil
		}
		return func(v reflect.Value) (reflect.Value, error) {
			if v.IsNil() {
				return reflect.Zero(dst), nil
			}
			n := v.Len()
			out := reflect.MakeSlice(dst, n, n)
			for i := 0; i < n; i++ {
				e, err := elem(v.Index(i))
				if err != nil {
					return reflect.Value{}, fmt.Errorf("element %d: %w", i, err)
				}
				out.Index(i).Set(e)
			}
			return out, nil
		}
	}

	for _, a := range embeddedAncestors(src) {
		if a.typ != dst {
			continue
		}
		path := a.path
		return func(v reflect.Value) (reflect.Value, error) {
			cur := v
			for _, idx := range path {
				if cur.Kind() == reflect.Pointer {
					if cur.IsNil() {
						return reflect.Value{}, ErrNilEmbedded
					}
					cur = cur.Elem()
				}
				cur = cur.Field(idx)
			}
			if dst.Kind() == reflect.Pointer && cur.Kind() != reflect.Pointer {
				cur = cur.Addr()
			}
			return cur, nil
		}
	}
	return nil
}
