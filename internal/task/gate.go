package task

import (
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// Gate is a counting permit pool capping how many work items execute at once.
type Gate struct {
	sem       *semaphore.Weighted
	capacity  int64
	available atomic.Int64
}

// NewGate creates a gate with capacity permits. A non-positive capacity is
// treated as 1.
func NewGate(capacity int) *Gate {
	if capacity <= 0 {
		capacity = 1
	}
	g := &Gate{
		sem:      semaphore.NewWeighted(int64(capacity)),
		capacity: int64(capacity),
	}
	g.available.Store(int64(capacity))
	return g
}

// TryAcquire takes a permit if one is free and reports whether it did.
func (g *Gate) TryAcquire() bool {
	if !g.sem.TryAcquire(1) {
		return false
	}
	g.available.Add(-1)
	return true
}

// Release returns a permit. It must be called exactly once per successful
// TryAcquire; releasing a permit that was never taken panics.
func (g *Gate) Release() {
	g.sem.Release(1)
	g.available.Add(1)
}

// Available returns the number of free permits. The value is exact only
// while no permit is changing hands.
func (g *Gate) Available() int64 {
	return g.available.Load()
}

// Capacity returns the total number of permits
func (g *Gate) Capacity() int64 {
	return g.capacity
}
