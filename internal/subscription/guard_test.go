package subscription

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGoroutineID(t *testing.T) {
	id := goroutineID()
	require.NotZero(t, id)
	assert.Equal(t, id, goroutineID())

	other := make(chan uint64)
	go func() { other <- goroutineID() }()
	assert.NotEqual(t, id, <-other)
}

func TestGuard_ReentrantOnSameGoroutine(t *testing.T) {
	var g guard
	g.lock()
	g.lock()
	assert.Equal(t, 2, g.depth)

	acquired := make(chan struct{})
	go func() {
		g.lock()
		close(acquired)
		g.unlock()
	}()

	g.unlock()
	select {
	case <-acquired:
		t.Fatal("guard released while still held")
	case <-time.After(20 * time.Millisecond):
	}

	g.unlock()
	select {
	case <-acquired:
	case <-time.After(5 * time.Second):
		t.Fatal("guard not released")
	}
}
