package builder

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestGateBoundsConcurrency(t *testing.T) {
	g := newGate(3, nil, nil)
	var cur, peak atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := g.Acquire(context.Background())
			if err != nil {
				t.Errorf("Acquire: %v", err)
				return
			}
			defer release()
			n := cur.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			cur.Add(-1)
		}()
	}
	wg.Wait()

	if peak.Load() > 3 {
		t.Fatalf("expected at most 3 holders, saw %d", peak.Load())
	}
	if g.Peak() > 3 || g.Peak() == 0 {
		t.Fatalf("expected gate peak in [1,3], got %d", g.Peak())
	}
	if g.InFlight() != 0 {
		t.Fatalf("expected no permits held, got %d", g.InFlight())
	}
}

func TestGateReleaseIsIdempotent(t *testing.T) {
	var changes []int
	g := newGate(1, func(n int) { changes = append(changes, n) }, nil)

	release, err := g.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	release()
	release()

	if g.InFlight() != 0 {
		t.Fatalf("expected 0 in flight, got %d", g.InFlight())
	}
	if len(changes) != 2 || changes[0] != 1 || changes[1] != 0 {
		t.Fatalf("expected in-flight changes [1 0], got %v", changes)
	}
	second, err := g.Acquire(context.Background())
	if err != nil {
		t.Fatalf("expected permit to be reusable: %v", err)
	}
	second()
}

func TestGateAcquireHonoursContext(t *testing.T) {
	g := newGate(1, nil, nil)
	release, err := g.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := g.Acquire(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestGateDispose(t *testing.T) {
	disposals := 0
	g := newGate(2, nil, func() { disposals++ })

	if !g.Dispose() {
		t.Fatalf("expected first Dispose to report true")
	}
	if g.Dispose() {
		t.Fatalf("expected second Dispose to report false")
	}
	if disposals != 1 {
		t.Fatalf("expected one disposal callback, got %d", disposals)
	}
	if _, err := g.Acquire(context.Background()); !errors.Is(err, ErrGateDisposed) {
		t.Fatalf("expected ErrGateDisposed, got %v", err)
	}

	var nilGate *gate
	if nilGate.Dispose() {
		t.Fatalf("expected nil gate Dispose to be a no-op")
	}
}

func TestUnboundedGate(t *testing.T) {
	g := newGate(0, nil, nil)
	var releases []func()
	for i := 0; i < 50; i++ {
		release, err := g.Acquire(context.Background())
		if err != nil {
			t.Fatalf("Acquire %d: %v", i, err)
		}
		releases = append(releases, release)
	}
	if g.InFlight() != 50 {
		t.Fatalf("expected 50 in flight, got %d", g.InFlight())
	}
	for _, release := range releases {
		release()
	}
	if g.InFlight() != 0 {
		t.Fatalf("expected 0 in flight, got %d", g.InFlight())
	}
}
