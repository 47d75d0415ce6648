package subscription

import (
	"errors"
	"fmt"
	"reflect"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/dshills/messagebus/internal/handler"
	"github.com/dshills/messagebus/internal/typeinfo"
)

// ErrInvalidListener is returned for listeners that are not non-nil
// pointers.
var ErrInvalidListener = errors.New("listener must be a non-nil pointer")

type index = map[typeinfo.Signature][]*Subscription

// Registry indexes subscriptions by listener type and by message
// signature.
//
// Subscribe and Unsubscribe are serialized by one mutex. The exact index
// and the supertype match cache are immutable maps swapped atomically, so
// publishers resolve subscriptions without locking.
type Registry struct {
	mu           sync.Mutex
	byListener   map[reflect.Type][]*Subscription
	nonListeners map[reflect.Type]struct{}

	exact atomic.Pointer[index]
	super atomic.Pointer[index]

	mode      Mode
	extractor *handler.Extractor
	hierarchy *typeinfo.Hierarchy
	logger    zerolog.Logger
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithMode sets how listeners are referenced.
func WithMode(m Mode) RegistryOption {
	return func(r *Registry) {
		r.mode = m
	}
}

// WithLogger sets the registry logger.
func WithLogger(l zerolog.Logger) RegistryOption {
	return func(r *Registry) {
		r.logger = l
	}
}

// WithExtractor sets the descriptor extractor.
func WithExtractor(x *handler.Extractor) RegistryOption {
	return func(r *Registry) {
		if x != nil {
			r.extractor = x
		}
	}
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		byListener:   make(map[reflect.Type][]*Subscription),
		nonListeners: make(map[reflect.Type]struct{}),
		mode:         Strong,
		extractor:    handler.NewExtractor(),
		hierarchy:    typeinfo.NewHierarchy(),
		logger:       zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.exact.Store(&index{})
	r.super.Store(&index{})
	return r
}

// Mode returns the listener reference mode.
func (r *Registry) Mode() Mode {
	return r.mode
}

// Subscribe registers every enabled handler of listener. Subscribing the
// same instance twice has no effect. A nil listener is ignored.
func (r *Registry) Subscribe(listener any) error {
	lt, ok, err := listenerType(listener)
	if !ok || err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, skip := r.nonListeners[lt]; skip {
		return nil
	}

	if subs, known := r.byListener[lt]; known {
		if len(subs) == 0 {
			panic(fmt.Sprintf("messagebus: listener type %s indexed without subscriptions", lt))
		}
		for _, s := range subs {
			s.Subscribe(listener)
		}
		return nil
	}

	descs, err := r.extractor.Descriptors(listener)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", lt, err)
	}
	if len(descs) == 0 {
		r.nonListeners[lt] = struct{}{}
		return nil
	}

	cur := *r.exact.Load()
	next := make(index, len(cur)+len(descs))
	for sig, subs := range cur {
		next[sig] = subs
	}

	subs := make([]*Subscription, 0, len(descs))
	invalidate := false
	for _, d := range descs {
		s := New(d, r.mode)
		s.Subscribe(listener)
		subs = append(subs, s)

		existing := next[d.Signature]
		next[d.Signature] = append(existing[:len(existing):len(existing)], s)

		if d.AcceptsSubtypes {
			invalidate = true
			for i := 0; i < d.Signature.Len(); i++ {
				r.hierarchy.Observe(d.Signature.At(i))
			}
		}
	}
	r.byListener[lt] = subs

	r.exact.Store(&next)
	if invalidate {
		r.super.Store(&index{})
	}

	r.logger.Debug().
		Str("listener", lt.String()).
		Int("handlers", len(subs)).
		Msg("listener type registered")
	return nil
}

// Unsubscribe removes listener from every subscription of its type.
// Unknown or nil listeners are ignored. Subscriptions stay indexed so a
// later Subscribe of the same type is cheap.
func (r *Registry) Unsubscribe(listener any) error {
	lt, ok, err := listenerType(listener)
	if !ok || err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, s := range r.byListener[lt] {
		s.Unsubscribe(listener)
	}
	return nil
}

// Exact returns the subscriptions declared for exactly sig. The result
// must not be modified.
func (r *Registry) Exact(sig typeinfo.Signature) []*Subscription {
	return (*r.exact.Load())[sig]
}

// Super returns the subtype-accepting subscriptions declared for a proper
// supertype tuple of sig. Results are cached until the next subscription
// of a subtype-accepting handler.
func (r *Registry) Super(sig typeinfo.Signature) []*Subscription {
	// The cache must be loaded before the exact index: a result computed
	// from an older index is then only installed into an older cache.
	cache := r.super.Load()
	if subs, ok := (*cache)[sig]; ok {
		return subs
	}

	subs := r.matchSuper(sig, *r.exact.Load())

	next := make(index, len(*cache)+1)
	for k, v := range *cache {
		next[k] = v
	}
	next[sig] = subs
	r.super.CompareAndSwap(cache, &next)
	return subs
}

// matchSuper walks the cartesian product of each position's
// ancestors-or-self, skipping the all-exact tuple.
func (r *Registry) matchSuper(sig typeinfo.Signature, exact index) []*Subscription {
	n := sig.Len()
	var candidates [typeinfo.MaxArity][]reflect.Type
	for i := 0; i < n; i++ {
		candidates[i] = r.hierarchy.AncestorsOrSelf(sig.At(i))
	}

	var (
		out  []*Subscription
		idx  [typeinfo.MaxArity]int
		tup  [typeinfo.MaxArity]reflect.Type
		done bool
	)
	for !done {
		allExact := true
		for i := 0; i < n; i++ {
			tup[i] = candidates[i][idx[i]]
			if idx[i] != 0 {
				allExact = false
			}
		}
		if !allExact {
			for _, s := range exact[typeinfo.NewSignature(tup[:n]...)] {
				if s.desc.AcceptsSubtypes {
					out = append(out, s)
				}
			}
		}

		done = true
		for i := n - 1; i >= 0; i-- {
			idx[i]++
			if idx[i] < len(candidates[i]) {
				done = false
				break
			}
			idx[i] = 0
		}
	}
	return out
}

// Clear removes every listener and forgets all indexed types.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, subs := range r.byListener {
		for _, s := range subs {
			s.Clear()
		}
	}
	r.byListener = make(map[reflect.Type][]*Subscription)
	r.nonListeners = make(map[reflect.Type]struct{})
	r.exact.Store(&index{})
	r.super.Store(&index{})
}

// Stats describes the registry contents.
type Stats struct {
	ListenerTypes int
	Subscriptions int
	Listeners     int
}

// Stats returns a snapshot of the registry contents.
func (r *Registry) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()

	var st Stats
	st.ListenerTypes = len(r.byListener)
	for _, subs := range r.byListener {
		st.Subscriptions += len(subs)
		if len(subs) > 0 {
			st.Listeners += subs[0].Len()
		}
	}
	return st
}

// listenerType validates listener. ok is false for nil listeners, which
// are ignored.
func listenerType(listener any) (reflect.Type, bool, error) {
	if listener == nil {
		return nil, false, nil
	}
	v := reflect.ValueOf(listener)
	if v.Kind() != reflect.Pointer {
		return nil, false, fmt.Errorf("%w: got %T", ErrInvalidListener, listener)
	}
	if v.IsNil() {
		return nil, false, nil
	}
	return v.Type(), true, nil
}
