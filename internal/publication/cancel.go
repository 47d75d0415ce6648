package publication

import "errors"

// ErrCancel stops delivery of the current publication to the remaining
// listeners when returned (or wrapped) by a handler.
var ErrCancel = errors.New("publication cancelled")

type cancelSignal struct{}

// Cancel stops delivery of the current publication. It must be called
// from the handler's own goroutine and does not return.
func Cancel() {
	panic(cancelSignal{})
}

// IsCancelSignal reports whether a recovered panic value came from Cancel.
func IsCancelSignal(r any) bool {
	_, ok := r.(cancelSignal)
	return ok
}

// IsCancel reports whether err requests cancellation.
func IsCancel(err error) bool {
	return errors.Is(err, ErrCancel)
}
