// Package synchrony decides where resolved publications are delivered.
//
// # Engines
//
// Two engines implement Synchrony:
//
//   - Sync: delivers on the publisher's goroutine before Publish returns.
//
//   - Async: delivers on a fixed pool of worker goroutines fed by a bounded
//     queue. The worker count is a power of two, at least 2. When the
//     queue is full the publisher blocks until a slot frees up or its
//     context is done.
//
// # Backends
//
// Async has two queue backends. RingBuffer preallocates its slots and
// claims them with compare-and-swap, so steady-state publishing does not
// allocate. Queue is a buffered channel.
//
// # Shutdown
//
// Shutdown stops accepting publications, waits up to the grace period for
// accepted ones to finish, then halts the workers. Publications still
// queued at that point are reported to the error handler as dropped.
//
// # Usage
//
//	engine, err := synchrony.NewAsync(
//	    synchrony.WithWorkers(4),
//	    synchrony.WithCapacity(1024),
//	)
//	if err != nil {
//	    return err
//	}
//	defer engine.Shutdown()
//	err = engine.Publish(ctx, dispatcher, dispatcher.Resolve(sig), args)
package synchrony
