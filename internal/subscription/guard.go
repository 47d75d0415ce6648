package subscription

import (
	"bytes"
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"
)

// guard serializes invocations of one listener's handler. It is
// reentrant for the goroutine holding it, so a handler that publishes
// synchronously to itself runs nested instead of blocking on its own
// lock. Other goroutines wait.
type guard struct {
	mu    sync.Mutex
	owner atomic.Uint64
	depth int
}

func (g *guard) lock() {
	id := goroutineID()
	if id != 0 && g.owner.Load() == id {
		g.depth++
		return
	}
	g.mu.Lock()
	g.owner.Store(id)
	g.depth = 1
}

func (g *guard) unlock() {
	g.depth--
	if g.depth == 0 {
		g.owner.Store(0)
		g.mu.Unlock()
	}
}

var goroutinePrefix = []byte("goroutine ")

// goroutineID parses the id from the current goroutine's stack header,
// "goroutine 18 [running]:". It returns 0 if the header is malformed,
// which disables reentrancy for the caller.
func goroutineID() uint64 {
	var buf [64]byte
	b := buf[:runtime.Stack(buf[:], false)]
	b = bytes.TrimPrefix(b, goroutinePrefix)
	if i := bytes.IndexByte(b, ' '); i > 0 {
		b = b[:i]
	}
	id, err := strconv.ParseUint(string(b), 10, 64)
	if err != nil {
		return 0
	}
	return id
}
