package ermis

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

// gate serializes connection establishment. Waiters are served in FIFO
// order.
type gate struct {
	sem *semaphore.Weighted
}

func newGate() *gate {
	return &gate{sem: semaphore.NewWeighted(1)}
}

// acquire blocks until the gate is free or ctx is done. The returned
// release func must run on every exit path; calls after the first are
// no-ops.
func (g *gate) acquire(ctx context.Context) (release func(), err error) {
	if err := g.sem.Acquire(ctx, 1); err != nil {
		return nil, transportError("acquire gate", err)
	}
	var once sync.Once
	return func() {
		once.Do(func() { g.sem.Release(1) })
	}, nil
}
