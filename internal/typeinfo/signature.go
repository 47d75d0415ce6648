package typeinfo

import (
	"reflect"
	"strings"
)

// MaxArity is the largest number of messages carried by one publication.
const MaxArity = 3

// Signature is the ordered tuple of 1 to MaxArity types that a handler
// declares or that a publication carries. Signatures are comparable and
// are used directly as map keys.
type Signature struct {
	n     int
	types [MaxArity]reflect.Type
}

// NewSignature builds a signature from the given types.
// It panics if the arity is outside 1..MaxArity.
func NewSignature(types ...reflect.Type) Signature {
	if len(types) == 0 || len(types) > MaxArity {
		panic("typeinfo: signature arity out of range")
	}
	var s Signature
	s.n = copy(s.types[:], types)
	return s
}

// Len returns the number of types in the signature.
func (s Signature) Len() int {
	return s.n
}

// At returns the type at position i.
func (s Signature) At(i int) reflect.Type {
	return s.types[i]
}

// Types returns the signature types as a new slice.
func (s Signature) Types() []reflect.Type {
	out := make([]reflect.Type, s.n)
	copy(out, s.types[:s.n])
	return out
}

// IsZero reports whether the signature is the zero value.
func (s Signature) IsZero() bool {
	return s.n == 0
}

// String renders the signature as "(A, B)".
func (s Signature) String() string {
	var b strings.Builder
	b.WriteByte('(')
	for i := 0; i < s.n; i++ {
		if i > 0 {
			b.WriteString(", ")
		}
		if s.types[i] == nil {
			b.WriteString("<nil>")
			continue
		}
		b.WriteString(s.types[i].String())
	}
	b.WriteByte(')')
	return b.String()
}
