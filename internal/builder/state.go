package builder

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/signalsfoundry/skymodel/internal/dome"
	"github.com/signalsfoundry/skymodel/model"
)

// handle indexes a point in the build arena.
type handle int

// buildState owns every point of one Build call. The control loop and the
// solve goroutines only touch points through its methods.
type buildState struct {
	mu     sync.RWMutex
	points []model.SkyPoint
	// regular is the number of caller-supplied points; sync points are
	// appended after them.
	regular    int
	separation model.Separation

	failed    atomic.Int64
	processed atomic.Int64

	onState  func(int, model.SkyPoint)
	onFinish func(model.PointState)
}

func newBuildState(points []model.SkyPoint) *buildState {
	cp := make([]model.SkyPoint, len(points))
	copy(cp, points)
	return &buildState{points: cp, regular: len(cp)}
}

func (s *buildState) get(h handle) model.SkyPoint {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.points[h]
}

func (s *buildState) gets(hs []handle) []model.SkyPoint {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.SkyPoint, len(hs))
	for i, h := range hs {
		out[i] = s.points[h]
	}
	return out
}

// snapshot copies the whole arena.
func (s *buildState) snapshot() []model.SkyPoint {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.SkyPoint, len(s.points))
	copy(out, s.points)
	return out
}

func (s *buildState) eligible() []handle {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []handle
	for i := 0; i < s.regular; i++ {
		if s.points[i].State.IsEligibleForBuild() {
			out = append(out, handle(i))
		}
	}
	return out
}

func (s *buildState) add(p model.SkyPoint) handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.points = append(s.points, p)
	return handle(len(s.points) - 1)
}

// update applies fn to the stored point and fires the state listener when
// the state changed.
func (s *buildState) update(h handle, fn func(p *model.SkyPoint)) model.SkyPoint {
	s.mu.Lock()
	p := &s.points[h]
	before := p.State
	fn(p)
	after := *p
	s.mu.Unlock()

	if after.State != before {
		s.notify(h, after)
	}
	return after
}

func (s *buildState) transition(h handle, to model.PointState) model.SkyPoint {
	return s.update(h, func(p *model.SkyPoint) { p.State = to })
}

// fail moves h to the given failure state and counts it. A point is
// counted at most once per iteration.
func (s *buildState) fail(h handle, state model.PointState) bool {
	s.mu.Lock()
	p := &s.points[h]
	if p.State == model.PointFailed || p.State == model.PointFailedRMS {
		s.mu.Unlock()
		return false
	}
	p.State = state
	after := *p
	s.mu.Unlock()

	s.failed.Add(1)
	s.notify(h, after)
	return true
}

func (s *buildState) notify(h handle, p model.SkyPoint) {
	if s.onState != nil {
		s.onState(int(h), p)
	}
	switch p.State {
	case model.PointAddedToModel, model.PointFailed, model.PointFailedRMS:
		s.processed.Add(1)
		if s.onFinish != nil {
			s.onFinish(p.State)
		}
	}
}

// beginIteration prepares the arena for a new pass: counters are cleared,
// failed sync points are dropped and failed regular points are re-armed.
func (s *buildState) beginIteration() []handle {
	s.failed.Store(0)
	s.processed.Store(0)

	s.mu.Lock()
	kept := s.points[:s.regular]
	for _, p := range s.points[s.regular:] {
		if p.State == model.PointAddedToModel {
			kept = append(kept, p)
		}
	}
	s.points = kept

	var rearmed []handle
	for i := 0; i < s.regular; i++ {
		p := &s.points[i]
		if p.State == model.PointFailed || p.State == model.PointFailedRMS || p.State.IsInFlight() {
			p.ResetForBuild()
			rearmed = append(rearmed, handle(i))
		}
	}
	s.mu.Unlock()

	for _, h := range rearmed {
		s.notify(h, s.get(h))
	}
	return rearmed
}

// resetAll returns every valid point to Generated and drops all sync points.
// Points whose state changed are reported to the listener.
func (s *buildState) resetAll() {
	s.mu.Lock()
	s.points = s.points[:s.regular]
	var changed []handle
	for i := range s.points {
		before := s.points[i].State
		s.points[i].ResetForBuild()
		if s.points[i].State != before {
			changed = append(changed, handle(i))
		}
	}
	s.separation = model.Separation{}
	s.mu.Unlock()

	for _, h := range changed {
		s.notify(h, s.get(h))
	}
}

// added returns the handles of points already in the model.
func (s *buildState) added() []handle {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []handle
	for i, p := range s.points {
		if p.State == model.PointAddedToModel {
			out = append(out, handle(i))
		}
	}
	return out
}

// resolveInFlight fails points a cancelled iteration left mid-pipeline.
func (s *buildState) resolveInFlight() int {
	s.mu.RLock()
	var stuck []handle
	for i, p := range s.points {
		if p.State.IsInFlight() {
			stuck = append(stuck, handle(i))
		}
	}
	s.mu.RUnlock()

	n := 0
	for _, h := range stuck {
		if s.fail(h, model.PointFailed) {
			n++
		}
	}
	return n
}

func (s *buildState) failedCount() int    { return int(s.failed.Load()) }
func (s *buildState) processedCount() int { return int(s.processed.Load()) }

func (s *buildState) syncSeparation() model.Separation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.separation
}

func (s *buildState) setSyncSeparation(sep model.Separation) {
	s.mu.Lock()
	s.separation = sep
	s.mu.Unlock()
}

// refreshDome updates the dome windows of every Generated point.
func (s *buildState) refreshDome(ctx context.Context, cache *dome.WindowCache) {
	if !cache.Enabled() {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cache.Refresh(ctx, s.points, s.separation)
}

func (s *buildState) count(state model.PointState) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, p := range s.points {
		if p.State == state {
			n++
		}
	}
	return n
}
