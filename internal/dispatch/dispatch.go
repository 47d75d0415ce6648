package dispatch

import (
	"fmt"
	"reflect"
	"sync/atomic"

	"github.com/dshills/messagebus/internal/handler"
	"github.com/dshills/messagebus/internal/publication"
	"github.com/dshills/messagebus/internal/subscription"
	"github.com/dshills/messagebus/internal/typeinfo"
)

// Mode selects which subscriptions a publication is matched against.
type Mode int

const (
	// Exact matches only subscriptions declared for the exact message
	// types.
	Exact Mode = iota

	// ExactWithSuperTypes additionally matches subtype-accepting
	// subscriptions declared for supertypes of the message types.
	ExactWithSuperTypes
)

// String implements fmt.Stringer.
func (m Mode) String() string {
	switch m {
	case Exact:
		return "exact"
	case ExactWithSuperTypes:
		return "exact_with_super_types"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

var deadSignature = typeinfo.NewSignature(reflect.TypeFor[*publication.DeadMessage]())

// Resolved is the set of subscriptions matched for one publication. Both
// slices are shared registry snapshots and must not be modified.
type Resolved struct {
	Exact []*subscription.Subscription
	Super []*subscription.Subscription
}

// Len returns the number of matched subscriptions.
func (r Resolved) Len() int {
	return len(r.Exact) + len(r.Super)
}

// Stats holds dispatcher counters.
type Stats struct {
	// Delivered counts publications handed to Deliver.
	Delivered uint64

	// Dead counts publications rewrapped as DeadMessage.
	Dead uint64

	// Unhandled counts publications discarded because neither a
	// subscription nor a DeadMessage handler existed.
	Unhandled uint64

	// Cancelled counts publications stopped by a handler.
	Cancelled uint64
}

// Dispatcher resolves subscriptions for a publication and fans the
// publication out to them.
type Dispatcher struct {
	mode     Mode
	registry *subscription.Registry
	exec     *handler.Executor
	errs     publication.ErrorHandler

	delivered atomic.Uint64
	dead      atomic.Uint64
	unhandled atomic.Uint64
	cancelled atomic.Uint64
}

// New creates a dispatcher over registry. Handler failures go to errs.
func New(mode Mode, registry *subscription.Registry, exec *handler.Executor, errs publication.ErrorHandler) *Dispatcher {
	if exec == nil {
		exec = handler.NewExecutor()
	}
	return &Dispatcher{
		mode:     mode,
		registry: registry,
		exec:     exec,
		errs:     errs,
	}
}

// Mode returns the dispatch mode.
func (d *Dispatcher) Mode() Mode {
	return d.mode
}

// Resolve returns the subscriptions matching sig.
func (d *Dispatcher) Resolve(sig typeinfo.Signature) Resolved {
	r := Resolved{Exact: d.registry.Exact(sig)}
	if d.mode == ExactWithSuperTypes {
		r.Super = d.registry.Super(sig)
	}
	return r
}

// Deliver publishes args to the resolved subscriptions, exact ones first.
// When no live listener received the publication it is rewrapped as a
// DeadMessage and delivered to the exact DeadMessage subscriptions.
func (d *Dispatcher) Deliver(r Resolved, args publication.Args) {
	d.delivered.Add(1)

	handled := false
	for _, subs := range [2][]*subscription.Subscription{r.Exact, r.Super} {
		for _, s := range subs {
			ok, cancelled := s.Publish(d.exec, d.errs, args)
			handled = handled || ok
			if cancelled {
				d.cancelled.Add(1)
				return
			}
		}
	}
	if handled {
		return
	}

	deadSubs := d.registry.Exact(deadSignature)
	if len(deadSubs) == 0 {
		d.unhandled.Add(1)
		return
	}

	deadArgs, err := publication.NewArgs(publication.NewDeadMessage(args))
	if err != nil {
		panic(err)
	}
	d.dead.Add(1)
	for _, s := range deadSubs {
		if _, cancelled := s.Publish(d.exec, d.errs, deadArgs); cancelled {
			d.cancelled.Add(1)
			return
		}
	}
}

// Report hands err to the dispatcher's error handler.
func (d *Dispatcher) Report(err *publication.PublicationError) {
	d.errs.HandleError(err)
}

// Publish resolves and delivers args on the calling goroutine.
func (d *Dispatcher) Publish(args publication.Args) {
	d.Deliver(d.Resolve(args.Signature()), args)
}

// Stats returns a snapshot of the dispatcher counters.
func (d *Dispatcher) Stats() Stats {
	return Stats{
		Delivered: d.delivered.Load(),
		Dead:      d.dead.Load(),
		Unhandled: d.unhandled.Load(),
		Cancelled: d.cancelled.Load(),
	}
}
