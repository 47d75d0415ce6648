package subscription

import "sync/atomic"

// atomicEntries holds the current entry slice of a subscription.
type atomicEntries struct {
	p atomic.Pointer[[]*entry]
}

func (a *atomicEntries) snapshot() *[]*entry {
	return a.p.Load()
}

func (a *atomicEntries) load() []*entry {
	return *a.p.Load()
}

func (a *atomicEntries) store(entries []*entry) {
	a.p.Store(&entries)
}

func (a *atomicEntries) compareAndSwap(old *[]*entry, entries []*entry) bool {
	return a.p.CompareAndSwap(old, &entries)
}
