// Package pointgen generates candidate sky points for a pointing model:
// golden-spiral all-sky sets, declination-ring auto grids and sidereal
// paths that follow a single target.
package pointgen

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"

	"github.com/signalsfoundry/skymodel/core"
	"github.com/signalsfoundry/skymodel/internal/equipment"
	"github.com/signalsfoundry/skymodel/internal/logging"
	"github.com/signalsfoundry/skymodel/model"
	"github.com/signalsfoundry/skymodel/timectrl"
)

// MaxPoints is the largest model the mount firmware accepts.
const MaxPoints = 1000

// MinPoints is the smallest point count that yields a usable model.
const MinPoints = 3

var (
	// ErrInvalidArgument indicates a generator input was out of range.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrTooManyPoints indicates a grid whose estimated size exceeds MaxPoints.
	ErrTooManyPoints = errors.New("too many points")
)

// Option customises Generator construction.
type Option func(*Generator)

// WithWeather supplies a weather station used for refraction when
// projecting sidereal-path targets.
func WithWeather(w equipment.Weather) Option {
	return func(g *Generator) { g.weather = w }
}

// WithAxisLimits supplies the mount's time-to-limit report, which bounds
// sidereal paths.
func WithAxisLimits(r equipment.AxisLimitReporter) Option {
	return func(g *Generator) { g.limits = r }
}

// WithClock overrides the wall clock.
func WithClock(c timectrl.Clock) Option {
	return func(g *Generator) { g.clock = c }
}

// WithDualSideOverlap duplicates auto-grid points within the given hour
// angle of the meridian so they are measured on both sides of the pier.
func WithDualSideOverlap(hours float64) Option {
	return func(g *Generator) { g.dualSideOverlapHours = math.Max(0, hours) }
}

// WithDecJitter enables Gaussian declination jitter (degrees) on sidereal
// paths. The default is zero.
func WithDecJitter(sigma float64, seed uint64) Option {
	return func(g *Generator) {
		g.decJitterSigma = math.Max(0, sigma)
		g.rng = rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	}
}

// Generator produces point sets for one site and set of bounds.
type Generator struct {
	site   model.Site
	bounds model.GeneratorBounds
	log    logging.Logger

	weather equipment.Weather
	limits  equipment.AxisLimitReporter
	clock   timectrl.Clock

	dualSideOverlapHours float64
	decJitterSigma       float64
	rng                  *rand.Rand
}

// New constructs a Generator.
func New(site model.Site, bounds model.GeneratorBounds, log logging.Logger, opts ...Option) *Generator {
	if log == nil {
		log = logging.Noop()
	}
	g := &Generator{
		site:   site,
		bounds: bounds,
		log:    log,
	}
	for _, opt := range opts {
		opt(g)
	}
	g.clock = timectrl.OrSystem(g.clock)
	if g.rng == nil {
		g.rng = rand.New(rand.NewPCG(1, 2))
	}
	return g
}

// Bounds returns the configured generator bounds.
func (g *Generator) Bounds() model.GeneratorBounds { return g.bounds }

// DeterminePointState classifies a candidate point. It is pure: the result
// depends only on its inputs and the generator's bounds.
func (g *Generator) DeterminePointState(altitude, azimuth, horizonAltitude float64, applyAzimuthBounds bool) model.PointState {
	return DeterminePointState(g.bounds, altitude, azimuth, horizonAltitude, applyAzimuthBounds)
}

// DeterminePointState is the bounds-explicit form of
// Generator.DeterminePointState. Azimuth bounds are half-open, [min, max);
// a window with min > max wraps through north.
func DeterminePointState(b model.GeneratorBounds, altitude, azimuth, horizonAltitude float64, applyAzimuthBounds bool) model.PointState {
	if altitude < b.MinAltitude || altitude > b.MaxAltitude {
		return model.PointOutsideAltitudeBounds
	}
	if applyAzimuthBounds && !azimuthWithinBounds(b, azimuth) {
		return model.PointOutsideAzimuthBounds
	}
	if altitude < horizonAltitude {
		return model.PointBelowHorizon
	}
	return model.PointGenerated
}

func azimuthWithinBounds(b model.GeneratorBounds, azimuth float64) bool {
	if b.MinAzimuth <= b.MaxAzimuth {
		return azimuth >= b.MinAzimuth && azimuth < b.MaxAzimuth
	}
	return azimuth >= b.MinAzimuth || azimuth < b.MaxAzimuth
}

func (g *Generator) atmosphere(ctx context.Context) core.Atmosphere {
	if g.weather == nil {
		return core.Atmosphere{}
	}
	info := g.weather.Info(ctx)
	if !info.Connected {
		return core.Atmosphere{}
	}
	humidity := 0.0
	if !math.IsNaN(info.Humidity) {
		humidity = info.Humidity / 100
	}
	return core.Atmosphere{
		PressureHPa:  info.Pressure,
		TemperatureC: info.Temperature,
		Humidity:     humidity,
		Wavelength:   0.55,
	}
}

// CountByState tallies a point set, mostly for logging and the CLI.
func CountByState(points []model.SkyPoint) map[model.PointState]int {
	counts := make(map[model.PointState]int)
	for _, p := range points {
		counts[p.State]++
	}
	return counts
}
