package builder

import (
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/signalsfoundry/skymodel/internal/logging"
	"github.com/signalsfoundry/skymodel/model"
	"github.com/signalsfoundry/skymodel/timectrl"
)

// MetricsRecorder receives build telemetry. observability.BuildCollector
// implements it; a nil recorder disables metrics.
type MetricsRecorder interface {
	IterationStarted(attempt int)
	PointFinished(state model.PointState)
	SetFailedPoints(n int)
	SetInFlight(n int)
	ObserveSolve(d time.Duration)
	DomeSlewStarted()
	GateDisposed()
	SetDomeCacheHitRatio(ratio float64)
}

type noopMetrics struct{}

func (noopMetrics) IterationStarted(int)           {}
func (noopMetrics) PointFinished(model.PointState) {}
func (noopMetrics) SetFailedPoints(int)            {}
func (noopMetrics) SetInFlight(int)                {}
func (noopMetrics) ObserveSolve(time.Duration)     {}
func (noopMetrics) DomeSlewStarted()               {}
func (noopMetrics) GateDisposed()                  {}
func (noopMetrics) SetDomeCacheHitRatio(float64)   {}

// Progress is a best-effort status snapshot emitted about once a second.
// Done is set on the final notification of a build.
type Progress struct {
	Attempt     int
	MaxAttempts int
	Processed   int
	Total       int
	Elapsed     time.Duration
	Remaining   time.Duration
	Done        bool
}

// Option customises ModelBuilder construction.
type Option func(*ModelBuilder)

// WithLogger sets the base logger. Every build derives a child annotated
// with its build_id.
func WithLogger(l logging.Logger) Option {
	return func(b *ModelBuilder) {
		if l != nil {
			b.log = l
		}
	}
}

// WithMetrics installs a metrics recorder.
func WithMetrics(m MetricsRecorder) Option {
	return func(b *ModelBuilder) {
		if m != nil {
			b.metrics = m
		}
	}
}

// WithClock overrides the wall clock used for coordinate transforms and
// progress reporting.
func WithClock(c timectrl.Clock) Option {
	return func(b *ModelBuilder) { b.clock = timectrl.OrSystem(c) }
}

// WithTracer overrides the tracer used for build, iteration and point spans.
func WithTracer(t trace.Tracer) Option {
	return func(b *ModelBuilder) {
		if t != nil {
			b.tracer = t
		}
	}
}

// WithNextPointListener registers fn for "next point" events. fn receives
// a copy of the point about to be processed, or nil when none remain.
func WithNextPointListener(fn func(*model.SkyPoint)) Option {
	return func(b *ModelBuilder) { b.onNext = fn }
}

// WithPointStateListener registers fn for every point state transition.
// index is the point's position in the build arena.
func WithPointStateListener(fn func(index int, p model.SkyPoint)) Option {
	return func(b *ModelBuilder) { b.onState = fn }
}

// WithProgressListener registers fn for progress snapshots.
func WithProgressListener(fn func(Progress)) Option {
	return func(b *ModelBuilder) { b.onProgress = fn }
}

// WithProgressInterval changes the progress period (default one second).
func WithProgressInterval(d time.Duration) Option {
	return func(b *ModelBuilder) {
		if d > 0 {
			b.progressInterval = d
		}
	}
}
