package pointgen

import (
	"context"
	"fmt"
	"math"

	"github.com/signalsfoundry/skymodel/core"
	"github.com/signalsfoundry/skymodel/internal/horizon"
	"github.com/signalsfoundry/skymodel/internal/logging"
	"github.com/signalsfoundry/skymodel/model"
)

// spiralEpsilon optimises the average nearest-neighbour distance of the
// offset Fibonacci lattice.
const spiralEpsilon = 0.36

var goldenRatio = (1 + math.Sqrt(5)) / 2

const (
	// spiralStallLimit is how many larger candidate totals in a row may fail
	// to add a usable point before the search settles for its best set.
	spiralStallLimit = 8
	// spiralCandidateCap bounds the candidate total regardless of yield.
	spiralCandidateCap = MaxPoints * MaxPoints
)

// GenerateGoldenSpiral distributes count usable points over the visible
// hemisphere. Points rejected by the bounds or horizon are kept in the
// result with their ineligible state; the candidate total is adjusted until
// exactly count points are Generated. When the horizon and bounds leave too
// little sky, the search stops once more candidates no longer help and the
// best set found is returned with a warning.
func (g *Generator) GenerateGoldenSpiral(ctx context.Context, count int, hz horizon.Model) ([]model.SkyPoint, error) {
	if count > MaxPoints {
		return nil, fmt.Errorf("%w: mounts do not support more than %d points", ErrInvalidArgument, MaxPoints)
	}
	if count < MinPoints {
		return nil, fmt.Errorf("%w: at least %d points required for a viable model", ErrInvalidArgument, MinPoints)
	}
	hz = horizon.OrFlat(hz)

	minViable := 0
	maxViable := math.MaxInt
	current := count

	// best is the short candidate set with the most usable points. It is
	// returned once growing the total stops adding usable points.
	var best []model.SkyPoint
	bestValid, stalled := -1, 0
	giveUp := func(points []model.SkyPoint, valid int) ([]model.SkyPoint, error) {
		g.log.Warn(ctx, "golden spiral could not reach requested point count",
			logging.Int("requested", count),
			logging.Int("generated", valid),
			logging.Int("candidates", len(points)),
		)
		return points, nil
	}

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		points, valid := g.spiralCandidates(current, hz)
		switch {
		case valid == count:
			return points, nil
		case valid < count:
			if valid > bestValid {
				best, bestValid, stalled = points, valid, 0
			} else {
				stalled++
			}
			if stalled >= spiralStallLimit || current >= spiralCandidateCap {
				return giveUp(best, bestValid)
			}
			// Short after excluding obstructed points: remember this total
			// and try a larger one.
			minViable = current
			next := min(maxViable, current+(count-valid), spiralCandidateCap)
			if next == current {
				return giveUp(best, bestValid)
			}
			current = next
		default:
			maxViable = current - 1
			next := max(minViable+1, current-(valid-count))
			if next == current {
				current = next - 1
			} else {
				current = next
			}
		}
	}
}

func (g *Generator) spiralCandidates(n int, hz horizon.Model) ([]model.SkyPoint, int) {
	points := make([]model.SkyPoint, 0, n)
	valid := 0
	for i := 0; i < n; i++ {
		azimuth := core.NormalizeDegrees(core.Degrees(2 * math.Pi * float64(i) / goldenRatio))
		// 2n in the denominator restricts the lattice to the upper half of
		// the sphere; theta runs from the zenith.
		inverseAltitude := core.Degrees(math.Acos(1 - 2*(float64(i)+spiralEpsilon)/(float64(2*n)-1+2*spiralEpsilon)))
		altitude := 90 - core.EuclideanMod(inverseAltitude, 180)
		if altitude < 0 || math.IsNaN(altitude) {
			continue
		}
		altitude = math.Max(0.1, math.Min(89.9, altitude))

		state := g.DeterminePointState(altitude, azimuth, hz.AltitudeAt(azimuth), true)
		if state == model.PointGenerated {
			valid++
		}
		points = append(points, model.NewSkyPoint(altitude, azimuth, state))
	}
	return points, valid
}
