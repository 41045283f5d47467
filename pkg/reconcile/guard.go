package reconcile

import "sync/atomic"

// RunGuard lets at most one run of a reconciler proceed at a time. It is per instance.
type RunGuard struct {
	running atomic.Bool
}

// TryAcquire takes the guard and reports whether it was free.
func (g *RunGuard) TryAcquire() bool {
	return g.running.CompareAndSwap(false, true)
}

// Release frees the guard. It must follow every successful TryAcquire.
func (g *RunGuard) Release() {
	g.running.Store(false)
}

// Running reports whether the guard is held.
func (g *RunGuard) Running() bool {
	return g.running.Load()
}
