package builder

import (
	"context"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// gate bounds the number of capture+solve pipelines in flight. A zero limit
// leaves it unbounded. Each successful Acquire hands back a release func
// that is safe to call more than once.
type gate struct {
	sem      *semaphore.Weighted
	held     atomic.Int64
	peak     atomic.Int64
	disposed atomic.Bool

	onChange  func(inFlight int)
	onDispose func()
}

func newGate(limit int, onChange func(int), onDispose func()) *gate {
	g := &gate{onChange: onChange, onDispose: onDispose}
	if limit > 0 {
		g.sem = semaphore.NewWeighted(int64(limit))
	}
	return g
}

// Acquire blocks until a permit is free or ctx is done.
func (g *gate) Acquire(ctx context.Context) (func(), error) {
	if g.disposed.Load() {
		return nil, ErrGateDisposed
	}
	if g.sem != nil {
		if err := g.sem.Acquire(ctx, 1); err != nil {
			return nil, err
		}
	} else if err := ctx.Err(); err != nil {
		return nil, err
	}
	if g.disposed.Load() {
		if g.sem != nil {
			g.sem.Release(1)
		}
		return nil, ErrGateDisposed
	}

	n := g.held.Add(1)
	for {
		peak := g.peak.Load()
		if n <= peak || g.peak.CompareAndSwap(peak, n) {
			break
		}
	}
	g.notify(n)

	var once sync.Once
	return func() {
		once.Do(func() {
			n := g.held.Add(-1)
			if g.sem != nil {
				g.sem.Release(1)
			}
			g.notify(n)
		})
	}, nil
}

func (g *gate) notify(n int64) {
	if g.onChange != nil {
		g.onChange(int(n))
	}
}

// InFlight returns the number of permits currently held.
func (g *gate) InFlight() int { return int(g.held.Load()) }

// Peak returns the highest InFlight value observed.
func (g *gate) Peak() int { return int(g.peak.Load()) }

// Dispose closes the gate to new acquisitions. It reports whether this call
// performed the disposal.
func (g *gate) Dispose() bool {
	if g == nil || !g.disposed.CompareAndSwap(false, true) {
		return false
	}
	if g.onDispose != nil {
		g.onDispose()
	}
	return true
}
