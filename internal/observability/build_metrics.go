package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/signalsfoundry/skymodel/model"
)

// BuildCollector exposes model-build Prometheus metrics. It satisfies the
// builder's MetricsRecorder interface.
type BuildCollector struct {
	gatherer prometheus.Gatherer

	PointsFinished    *prometheus.CounterVec
	FailedPointsGauge prometheus.Gauge
	InFlightSolves    prometheus.Gauge
	SolveDuration     prometheus.Histogram
	BuildAttempts     prometheus.Counter
	DomeSlews         prometheus.Counter
	GateDisposals     prometheus.Counter
	DomeCacheRatio    prometheus.Gauge
}

// NewBuildCollector registers build metrics against the provided registerer.
func NewBuildCollector(reg prometheus.Registerer) (*BuildCollector, error) {
	reg = registererOrDefault(reg)

	finished, err := register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "modelbuilder_points_finished_total",
		Help: "Points that reached a terminal build state, labeled by state.",
	}, []string{"state"}))
	if err != nil {
		return nil, err
	}

	failed, err := register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "modelbuilder_failed_points",
		Help: "Failed points counted by the most recent build iteration.",
	}))
	if err != nil {
		return nil, err
	}

	inFlight, err := register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "modelbuilder_inflight_solves",
		Help: "Capture and solve pipelines currently holding a concurrency permit.",
	}))
	if err != nil {
		return nil, err
	}

	solve, err := register(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "modelbuilder_solve_duration_seconds",
		Help:    "Duration of plate solves performed during a build.",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 20, 30, 60},
	}))
	if err != nil {
		return nil, err
	}

	attempts, err := register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "modelbuilder_build_attempts_total",
		Help: "Build iterations started.",
	}))
	if err != nil {
		return nil, err
	}

	domeSlews, err := register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "modelbuilder_dome_slews_total",
		Help: "Dome pre-slews issued by the builder.",
	}))
	if err != nil {
		return nil, err
	}

	disposals, err := register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "modelbuilder_gate_disposals_total",
		Help: "Concurrency gates disposed at build teardown.",
	}))
	if err != nil {
		return nil, err
	}

	cacheRatio, err := register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "modelbuilder_dome_window_cache_hit_ratio",
		Help: "Hit ratio for the dome window cache.",
	}))
	if err != nil {
		return nil, err
	}

	return &BuildCollector{
		gatherer:          gathererFor(reg),
		PointsFinished:    finished,
		FailedPointsGauge: failed,
		InFlightSolves:    inFlight,
		SolveDuration:     solve,
		BuildAttempts:     attempts,
		DomeSlews:         domeSlews,
		GateDisposals:     disposals,
		DomeCacheRatio:    cacheRatio,
	}, nil
}

// Gatherer returns the Prometheus gatherer associated with the collector.
func (c *BuildCollector) Gatherer() prometheus.Gatherer {
	if c == nil {
		return nil
	}
	return c.gatherer
}

// Handler exposes a ready-to-use /metrics handler.
func (c *BuildCollector) Handler() http.Handler {
	return metricsHandler(c.Gatherer())
}

// IterationStarted increments the attempts counter.
func (c *BuildCollector) IterationStarted(int) {
	if c == nil || c.BuildAttempts == nil {
		return
	}
	c.BuildAttempts.Inc()
}

// PointFinished counts a point reaching a terminal state.
func (c *BuildCollector) PointFinished(state model.PointState) {
	if c == nil || c.PointsFinished == nil {
		return
	}
	c.PointsFinished.WithLabelValues(state.String()).Inc()
}

// SetFailedPoints updates the failed points gauge.
func (c *BuildCollector) SetFailedPoints(n int) {
	if c == nil || c.FailedPointsGauge == nil {
		return
	}
	c.FailedPointsGauge.Set(float64(n))
}

// SetInFlight updates the in-flight pipeline gauge.
func (c *BuildCollector) SetInFlight(n int) {
	if c == nil || c.InFlightSolves == nil {
		return
	}
	c.InFlightSolves.Set(float64(n))
}

// ObserveSolve records a plate solve duration.
func (c *BuildCollector) ObserveSolve(d time.Duration) {
	if c == nil || c.SolveDuration == nil {
		return
	}
	c.SolveDuration.Observe(d.Seconds())
}

// DomeSlewStarted increments the dome slew counter.
func (c *BuildCollector) DomeSlewStarted() {
	if c == nil || c.DomeSlews == nil {
		return
	}
	c.DomeSlews.Inc()
}

// GateDisposed increments the gate disposal counter.
func (c *BuildCollector) GateDisposed() {
	if c == nil || c.GateDisposals == nil {
		return
	}
	c.GateDisposals.Inc()
}

// SetDomeCacheHitRatio sets the dome window cache hit ratio.
func (c *BuildCollector) SetDomeCacheHitRatio(ratio float64) {
	if c == nil || c.DomeCacheRatio == nil {
		return
	}
	if ratio < 0 {
		ratio = 0
	}
	if ratio > 1 {
		ratio = 1
	}
	c.DomeCacheRatio.Set(ratio)
}
