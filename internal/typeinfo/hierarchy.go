package typeinfo

import (
	"reflect"
	"sync"
	"sync/atomic"
)

// ancestor is a supertype reachable through struct embedding, with the
// field index path that leads to it from the message value.
type ancestor struct {
	typ  reflect.Type
	path []int
}

// superList is a memoized supertype list, valid for the first known
// interfaces of the hierarchy.
type superList struct {
	known int
	types []reflect.Type
}

// Hierarchy answers "which types can stand in for T" for message types.
//
// Embedding-derived ancestors depend only on T and are computed once per
// type. Interface ancestors depend on the set of interface types the
// hierarchy has been told about through Observe. That set only grows, and
// a memoized list is recomputed only after it grew.
type Hierarchy struct {
	mu         sync.Mutex
	interfaces atomic.Pointer[[]reflect.Type]
	supers     sync.Map // reflect.Type -> *superList
}

// embeddedCache holds embedding-derived ancestors per type. Type layouts
// never change, so entries live for the life of the process.
var embeddedCache sync.Map // reflect.Type -> []ancestor

// NewHierarchy creates an empty hierarchy cache.
func NewHierarchy() *Hierarchy {
	h := &Hierarchy{}
	empty := []reflect.Type{}
	h.interfaces.Store(&empty)
	return h
}

// Observe records a handler parameter type so that message types
// implementing it are reported as its subtypes. Non-interface types are
// ignored, except slices whose element types are observed recursively.
func (h *Hierarchy) Observe(t reflect.Type) {
	for t != nil && t.Kind() == reflect.Slice {
		t = t.Elem()
	}
	if t == nil || t.Kind() != reflect.Interface {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	cur := *h.interfaces.Load()
	for _, known := range cur {
		if known == t {
			return
		}
	}
	next := make([]reflect.Type, len(cur), len(cur)+1)
	copy(next, cur)
	next = append(next, t)
	h.interfaces.Store(&next)
}

// Supertypes returns every known type that a message of type t can be
// delivered as, excluding t itself. The returned slice must not be
// modified.
func (h *Hierarchy) Supertypes(t reflect.Type) []reflect.Type {
	ifaces := *h.interfaces.Load()

	if v, ok := h.supers.Load(t); ok {
		if sl := v.(*superList); sl.known >= len(ifaces) {
			return sl.types
		}
	}

	types := h.compute(t, ifaces)
	h.supers.Store(t, &superList{known: len(ifaces), types: types})
	return types
}

func (h *Hierarchy) compute(t reflect.Type, ifaces []reflect.Type) []reflect.Type {
	var types []reflect.Type
	if t.Kind() == reflect.Slice {
		for _, s := range h.compute(t.Elem(), ifaces) {
			types = appendUnique(types, reflect.SliceOf(s))
		}
	} else {
		for _, a := range embeddedAncestors(t) {
			types = appendUnique(types, a.typ)
		}
	}
	for _, iface := range ifaces {
		if iface != t && t.Implements(iface) {
			types = appendUnique(types, iface)
		}
	}
	return types
}

// AncestorsOrSelf returns t followed by its supertypes.
func (h *Hierarchy) AncestorsOrSelf(t reflect.Type) []reflect.Type {
	supers := h.Supertypes(t)
	out := make([]reflect.Type, 0, len(supers)+1)
	out = append(out, t)
	return append(out, supers...)
}

// embeddedAncestors returns the struct types embedded in t, transitively.
// For a pointer to a struct the ancestors are pointers into the embedded
// fields so that a handler observes the embedded value in place.
func embeddedAncestors(t reflect.Type) []ancestor {
	if v, ok := embeddedCache.Load(t); ok {
		return v.([]ancestor)
	}

	var out []ancestor
	switch {
	case t.Kind() == reflect.Struct:
		out = walkEmbedded(t, nil, false, out, 0)
	case t.Kind() == reflect.Pointer && t.Elem().Kind() == reflect.Struct:
		out = walkEmbedded(t.Elem(), nil, true, out, 0)
	}

	v, _ := embeddedCache.LoadOrStore(t, out)
	return v.([]ancestor)
}

// maxEmbedDepth bounds the walk through recursive pointer embeddings.
const maxEmbedDepth = 16

func walkEmbedded(st reflect.Type, prefix []int, addressable bool, out []ancestor, depth int) []ancestor {
	if depth >= maxEmbedDepth {
		return out
	}
	for i := 0; i < st.NumField(); i++ {
		f := st.Field(i)
		if !f.Anonymous || !f.IsExported() {
			continue
		}
		path := make([]int, len(prefix)+1)
		copy(path, prefix)
		path[len(prefix)] = i

		ft := f.Type
		switch {
		case ft.Kind() == reflect.Struct:
			at := ft
			if addressable {
				at = reflect.PointerTo(ft)
			}
			out = appendAncestor(out, ancestor{typ: at, path: path})
			out = walkEmbedded(ft, path, addressable, out, depth+1)
		case ft.Kind() == reflect.Pointer && ft.Elem().Kind() == reflect.Struct:
			out = appendAncestor(out, ancestor{typ: ft, path: path})
			out = walkEmbedded(ft.Elem(), path, true, out, depth+1)
		}
	}
	return out
}

func appendAncestor(out []ancestor, a ancestor) []ancestor {
	for _, existing := range out {
		if existing.typ == a.typ {
			return out
		}
	}
	return append(out, a)
}

func appendUnique(types []reflect.Type, t reflect.Type) []reflect.Type {
	for _, existing := range types {
		if existing == t {
			return types
		}
	}
	return append(types, t)
}
