package pipeline

import (
	"sync"
	"sync/atomic"
)

// Guard admits at most one run at a time. A failed TryAcquire never
// waits.
type Guard struct {
	busy atomic.Bool
}

// TryAcquire takes the guard if it is free. The returned release func is
// safe to call more than once; only the first call frees the guard.
func (g *Guard) TryAcquire() (release func(), ok bool) {
	if !g.busy.CompareAndSwap(false, true) {
		return nil, false
	}
	var once sync.Once
	return func() {
		once.Do(func() { g.busy.Store(false) })
	}, true
}

// Busy reports whether a run currently holds the guard.
func (g *Guard) Busy() bool {
	return g.busy.Load()
}
