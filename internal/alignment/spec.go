// Package alignment collects solved points into a pointing model and
// serialises the result for the mount: a POX pointing log for all-sky
// models, or a JSON pointing list for sidereal-path models.
package alignment

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/signalsfoundry/skymodel/internal/logging"
	"github.com/signalsfoundry/skymodel/model"
)

var (
	// ErrNotStarted indicates Add was called before Start.
	ErrNotStarted = errors.New("alignment spec not started")
	// ErrNoSolution indicates a point without finite solved coordinates.
	ErrNoSolution = errors.New("point has no plate solution")
)

// Spec is an in-memory alignment spec. It is safe for concurrent use.
type Spec struct {
	mu      sync.Mutex
	log     logging.Logger
	started bool
	points  []model.SkyPoint
}

// NewSpec returns an empty, unstarted spec.
func NewSpec(log logging.Logger) *Spec {
	if log == nil {
		log = logging.Noop()
	}
	return &Spec{log: log}
}

// Start discards any collected points and begins a new spec.
func (s *Spec) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.started = true
	s.points = nil
	s.log.Debug(ctx, "alignment spec started")
	return nil
}

// Add registers a solved point and returns its 1-based index.
func (s *Spec) Add(ctx context.Context, p model.SkyPoint) (int, error) {
	if !p.HasSolution() {
		return 0, fmt.Errorf("%w: %s", ErrNoSolution, p)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return 0, ErrNotStarted
	}
	s.points = append(s.points, p)
	index := len(s.points)
	s.points[index-1].ModelIndex = index
	return index, nil
}

// Delete drops the spec entirely.
func (s *Spec) Delete(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.started = false
	s.points = nil
	s.log.Debug(ctx, "alignment spec deleted")
	return nil
}

// Points returns a copy of the registered points in registration order.
func (s *Spec) Points() []model.SkyPoint {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.SkyPoint, len(s.points))
	copy(out, s.points)
	return out
}

// RMS returns the root mean square of the per-point residuals in
// arcseconds, ignoring points without a residual.
func RMS(points []model.SkyPoint) float64 {
	var sum float64
	n := 0
	for _, p := range points {
		if math.IsNaN(p.RMSError) || math.IsInf(p.RMSError, 0) {
			continue
		}
		sum += p.RMSError * p.RMSError
		n++
	}
	if n == 0 {
		return math.NaN()
	}
	return math.Sqrt(sum / float64(n))
}
