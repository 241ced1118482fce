package pointgen

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/signalsfoundry/skymodel/core"
	"github.com/signalsfoundry/skymodel/internal/horizon"
	"github.com/signalsfoundry/skymodel/internal/logging"
	"github.com/signalsfoundry/skymodel/model"
)

const (
	maxSiderealSpan     = 24 * time.Hour
	minSiderealRADelta  = time.Second
	axisLimitSafety     = 2 * time.Minute
	horizonSearchStep   = time.Minute
	minSiderealSegments = 2
)

// GenerateSiderealPath samples the apparent position of a single target
// between start and end, spaced roughly raDelta apart (RA hours expressed as
// a duration). The path is shortened to stay clear of the mount's axis limit
// and starts at the first minute the target clears the horizon.
func (g *Generator) GenerateSiderealPath(ctx context.Context, target model.Coordinates, raDelta time.Duration, start, end time.Time, hz horizon.Model) ([]model.SkyPoint, error) {
	if end.Before(start) {
		return nil, fmt.Errorf("%w: end time %s comes before start time %s",
			ErrInvalidArgument, end.Format(time.RFC3339), start.Format(time.RFC3339))
	}
	if end.Sub(start) > maxSiderealSpan {
		return nil, fmt.Errorf("%w: end time %s is more than 24h after start time %s",
			ErrInvalidArgument, end.Format(time.RFC3339), start.Format(time.RFC3339))
	}
	if raDelta <= minSiderealRADelta {
		return nil, fmt.Errorf("%w: RA delta %s must exceed one second of time", ErrInvalidArgument, raDelta)
	}
	hz = horizon.OrFlat(hz)
	atm := g.atmosphere(ctx)

	if g.limits != nil {
		if ttl, ok := g.limits.TimeToLimit(); ok {
			limitEnd := g.clock.Now().Add(ttl - axisLimitSafety)
			if limitEnd.Before(end) {
				g.log.Info(ctx, "sidereal path shortened by axis limit",
					logging.Duration("time_to_limit", ttl),
					logging.String("end", limitEnd.UTC().Format(time.RFC3339)),
				)
				end = limitEnd
			}
		}
	}

	for start.Before(end) {
		alt, az := core.CelestialToTopocentric(target, g.site, start, atm)
		if alt >= hz.AltitudeAt(az) {
			break
		}
		start = start.Add(horizonSearchStep)
	}

	span := end.Sub(start)
	if span <= 0 {
		g.log.Warn(ctx, "sidereal path is empty",
			logging.Float("ra", target.RA),
			logging.Float("dec", target.Dec),
		)
		return []model.SkyPoint{}, nil
	}

	segments := max(minSiderealSegments, int(span/raDelta))
	step := span / time.Duration(segments)

	points := make([]model.SkyPoint, 0, segments+1)
	valid := 0
	for i := 0; i <= segments; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		at := start.Add(step * time.Duration(i))

		sample := target
		if jitter := g.decJitter(); jitter != 0 {
			sample.Dec = math.Max(-90, math.Min(90, sample.Dec+jitter))
		}

		alt, az := core.CelestialToTopocentric(sample, g.site, at, atm)
		az = core.NormalizeDegrees(az)
		state := g.DeterminePointState(alt, az, hz.AltitudeAt(az), true)
		if state == model.PointGenerated {
			valid++
		}
		points = append(points, model.NewSkyPoint(alt, az, state))
	}

	g.log.Info(ctx, "generated sidereal path",
		logging.Int("total", len(points)),
		logging.Int("generated", valid),
		logging.Duration("step", step),
	)
	return points, nil
}

// decJitter draws a declination offset clamped to ±3σ.
func (g *Generator) decJitter() float64 {
	if g.decJitterSigma == 0 {
		return 0
	}
	limit := 3 * g.decJitterSigma
	return math.Max(-limit, math.Min(limit, g.rng.NormFloat64()*g.decJitterSigma))
}
