package publication

import (
	"errors"
	"fmt"
	"reflect"

	"github.com/dshills/messagebus/internal/typeinfo"
)

var (
	// ErrInvalidArity is returned when a publication carries no messages or
	// more than typeinfo.MaxArity messages.
	ErrInvalidArity = errors.New("publication must carry 1 to 3 messages")

	// ErrNilMessage is returned when one of the published messages is nil.
	ErrNilMessage = errors.New("message cannot be nil")
)

// Args is the tuple of messages carried by one publication. It is a
// value type so that queued jobs can hold it without allocating.
type Args struct {
	n    int
	msgs [typeinfo.MaxArity]any
}

// NewArgs validates and packs msgs. The slice is not retained.
func NewArgs(msgs ...any) (Args, error) {
	var a Args
	if len(msgs) == 0 || len(msgs) > typeinfo.MaxArity {
		return a, fmt.Errorf("%w: got %d", ErrInvalidArity, len(msgs))
	}
	for i, m := range msgs {
		if m == nil {
			return a, fmt.Errorf("%w: position %d", ErrNilMessage, i)
		}
		a.msgs[i] = m
	}
	a.n = len(msgs)
	return a, nil
}

// Len returns the number of messages.
func (a Args) Len() int {
	return a.n
}

// At returns the message at position i.
func (a Args) At(i int) any {
	return a.msgs[i]
}

// Slice returns the messages as a new slice.
func (a Args) Slice() []any {
	out := make([]any, a.n)
	copy(out, a.msgs[:a.n])
	return out
}

// Signature returns the concrete types of the messages.
func (a Args) Signature() typeinfo.Signature {
	var types [typeinfo.MaxArity]reflect.Type
	for i := 0; i < a.n; i++ {
		types[i] = reflect.TypeOf(a.msgs[i])
	}
	return typeinfo.NewSignature(types[:a.n]...)
}
