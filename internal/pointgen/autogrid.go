package pointgen

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/signalsfoundry/skymodel/core"
	"github.com/signalsfoundry/skymodel/internal/horizon"
	"github.com/signalsfoundry/skymodel/internal/logging"
	"github.com/signalsfoundry/skymodel/model"
)

const (
	// Each ring is rotated by this much relative to the previous one so
	// samples don't line up into meridians.
	ringPhaseStepDegrees = 12.0
	// Ring sample counts scale with sin(polar distance)^ringDensityExponent,
	// slightly denser toward the pole than an equal-area grid.
	ringDensityExponent = 0.82
	// hemisphereSquareDegrees is the area of a hemisphere in deg².
	hemisphereSquareDegrees = 20626.48

	minGridSpacing    = 0.5
	maxGridSpacing    = 90.0
	coarseSpacingStep = 0.25
	fineSpacingStep   = 0.05
	fineSpacingWindow = 2.0
	stabilityDelta    = 0.5

	// dualSideAzimuthOffset separates the two pier-side copies of an overlap
	// point so they remain distinct in azimuth ordering.
	dualSideAzimuthOffset = 0.05
)

type gridSample struct {
	altitude  float64
	azimuth   float64
	hourAngle float64 // degrees, [-180, 180)
	ring      int
	sequence  int
	ringCount int
}

// forEachGridSample walks every above-horizon sample of an auto grid in ring
// order. Returning false from fn stops the walk.
func (g *Generator) forEachGridSample(raSpacing, decSpacing float64, fn func(gridSample) bool) {
	lat := core.Radians(g.site.Latitude)
	hemisphere := 1.0
	if g.site.Latitude < 0 {
		hemisphere = -1
	}
	base := int(math.Max(1, math.Round(360/raSpacing)))
	rings := int(math.Floor(180/decSpacing + 1e-9))

	for ring := 0; ring <= rings; ring++ {
		polar := float64(ring) * decSpacing
		dec := core.Radians(hemisphere * (90 - polar))

		n := 1
		if s := math.Sin(core.Radians(polar)); s > 1e-9 {
			n = int(math.Max(1, math.Round(float64(base)*math.Pow(s, ringDensityExponent))))
		}
		step := 360 / float64(n)
		phase := ringPhaseStepDegrees * float64(ring)
		if ring%2 == 1 {
			phase += step / 2
		}

		for j := 0; j < n; j++ {
			haDeg := core.NormalizeDegrees(phase + float64(j)*step)
			H := core.Radians(haDeg)

			sinAlt := math.Sin(dec)*math.Sin(lat) + math.Cos(dec)*math.Cos(lat)*math.Cos(H)
			alt := core.Degrees(math.Asin(math.Max(-1, math.Min(1, sinAlt))))
			if alt < 0 {
				continue
			}
			// Azimuth measured from south toward east, then mirrored onto
			// the north-based east-positive convention.
			raw := core.Degrees(math.Atan2(
				-math.Sin(H)*math.Cos(dec),
				math.Cos(H)*math.Sin(lat)*math.Cos(dec)-math.Sin(dec)*math.Cos(lat),
			))
			az := core.NormalizeDegrees(540 - raw)

			sample := gridSample{
				altitude:  alt,
				azimuth:   az,
				hourAngle: core.EuclideanMod(haDeg+180, 360) - 180,
				ring:      ring,
				sequence:  j,
				ringCount: n,
			}
			if !fn(sample) {
				return
			}
		}
	}
}

func (g *Generator) isOverlapSample(s gridSample) bool {
	return g.dualSideOverlapHours > 0 && math.Abs(s.hourAngle) <= g.dualSideOverlapHours*15
}

// estimateGridTotal counts the points GenerateAutoGrid would allocate,
// stopping early once limit is exceeded.
func (g *Generator) estimateGridTotal(raSpacing, decSpacing float64, limit int) int {
	total := 0
	g.forEachGridSample(raSpacing, decSpacing, func(s gridSample) bool {
		total++
		if g.isOverlapSample(s) {
			total++
		}
		return total <= limit
	})
	return total
}

// EstimateGeneratedAutoGridCount returns how many Generated points an auto
// grid with the given spacing would yield, without allocating it.
func (g *Generator) EstimateGeneratedAutoGridCount(raSpacing, decSpacing float64, hz horizon.Model) int {
	return g.estimateGenerated(raSpacing, decSpacing, horizon.OrFlat(hz), math.MaxInt)
}

func (g *Generator) estimateGenerated(raSpacing, decSpacing float64, hz horizon.Model, limit int) int {
	count := 0
	generated := func(alt, az float64) bool {
		return g.DeterminePointState(alt, az, hz.AltitudeAt(az), false) == model.PointGenerated
	}
	g.forEachGridSample(raSpacing, decSpacing, func(s gridSample) bool {
		if generated(s.altitude, s.azimuth) {
			count++
		}
		// The overlap copy sits at its own azimuth and is classified there.
		if g.isOverlapSample(s) && generated(s.altitude, overlapAzimuth(s)) {
			count++
		}
		return count <= limit
	})
	return count
}

func overlapAzimuth(s gridSample) float64 {
	return core.NormalizeDegrees(s.azimuth + dualSideAzimuthOffset)
}

func validateSpacing(raSpacing, decSpacing float64) error {
	if !(raSpacing > 0 && raSpacing <= 360) {
		return fmt.Errorf("%w: RA spacing %.3f must be within (0, 360]", ErrInvalidArgument, raSpacing)
	}
	if !(decSpacing > 0 && decSpacing <= 90) {
		return fmt.Errorf("%w: Dec spacing %.3f must be within (0, 90]", ErrInvalidArgument, decSpacing)
	}
	return nil
}

// GenerateAutoGrid lays concentric declination rings over the sky and
// returns every sample above the mathematical horizon, classified against
// the altitude bounds and horizon. Azimuth bounds are not applied.
func (g *Generator) GenerateAutoGrid(ctx context.Context, raSpacing, decSpacing float64, hz horizon.Model) ([]model.SkyPoint, error) {
	if err := validateSpacing(raSpacing, decSpacing); err != nil {
		return nil, err
	}
	total := g.estimateGridTotal(raSpacing, decSpacing, MaxPoints)
	if total > MaxPoints {
		return nil, fmt.Errorf("%w: RA spacing %.2f° and Dec spacing %.2f° produce more than %d points",
			ErrTooManyPoints, raSpacing, decSpacing, MaxPoints)
	}
	hz = horizon.OrFlat(hz)

	points := make([]model.SkyPoint, 0, total)
	g.forEachGridSample(raSpacing, decSpacing, func(s gridSample) bool {
		state := g.DeterminePointState(s.altitude, s.azimuth, hz.AltitudeAt(s.azimuth), false)
		p := model.NewSkyPoint(s.altitude, s.azimuth, state)
		p.BandIndex = s.ring
		p.BandSequence = s.sequence
		p.BandPointCount = s.ringCount

		if !g.isOverlapSample(s) {
			points = append(points, p)
			return true
		}

		side := model.PierWest
		if s.hourAngle >= 0 {
			side = model.PierEast
		}
		p.DesiredPierSide = side
		points = append(points, p)

		dup := p
		dup.Azimuth = overlapAzimuth(s)
		dup.State = g.DeterminePointState(dup.Altitude, dup.Azimuth, hz.AltitudeAt(dup.Azimuth), false)
		dup.DesiredPierSide = side.Opposite()
		dup.IsDualSideOverlapPoint = true
		points = append(points, dup)
		return true
	})

	assignRingOrder(points)
	assignRadialBands(points, decSpacing)

	counts := CountByState(points)
	g.log.Info(ctx, "generated auto grid",
		logging.Float("ra_spacing", raSpacing),
		logging.Float("dec_spacing", decSpacing),
		logging.Int("total", len(points)),
		logging.Int("generated", counts[model.PointGenerated]),
	)
	return points, nil
}

// assignRingOrder ranks the points of each ring clockwise from due east.
func assignRingOrder(points []model.SkyPoint) {
	rings := make(map[int][]int)
	for i, p := range points {
		rings[p.BandIndex] = append(rings[p.BandIndex], i)
	}
	for _, idx := range rings {
		sort.SliceStable(idx, func(a, b int) bool {
			return core.ClockwiseDistance(90, points[idx[a]].Azimuth) < core.ClockwiseDistance(90, points[idx[b]].Azimuth)
		})
		for rank, i := range idx {
			points[i].BandEastToWestOrder = rank
		}
	}
}

// assignRadialBands groups points into altitude bands of width
// max(1, decSpacing) measured from the zenith and ranks each band
// counter-clockwise from due east.
func assignRadialBands(points []model.SkyPoint, decSpacing float64) {
	width := math.Max(1, decSpacing)
	bands := make(map[int][]int)
	for i := range points {
		band := int(math.Floor((90-points[i].Altitude)/width + 1e-9))
		points[i].RadialBandIndex = band
		bands[band] = append(bands[band], i)
	}
	for _, idx := range bands {
		sort.SliceStable(idx, func(a, b int) bool {
			return core.CounterClockwiseDistance(90, points[idx[a]].Azimuth) < core.CounterClockwiseDistance(90, points[idx[b]].Azimuth)
		})
		for rank, i := range idx {
			points[i].RadialBandEastToWestOrder = rank
		}
	}
}

type spacingCandidate struct {
	spacing   float64
	count     int
	diff      int
	penalty   int
	overshoot bool
}

// GenerateAutoGridByPointCount searches for the uniform spacing whose grid
// yields close to desired Generated points and generates it.
//
// Candidates come from a coarse sweep over the full spacing range plus a
// fine sweep around the equal-area estimate. Small spacing changes make the
// count jump because ring and sample counts are rounded, so among the
// candidates near the best achievable difference the one whose count is
// least sensitive to ±0.5° perturbations wins.
func (g *Generator) GenerateAutoGridByPointCount(ctx context.Context, desired int, hz horizon.Model) ([]model.SkyPoint, float64, error) {
	if desired < MinPoints || desired > MaxPoints {
		return nil, 0, fmt.Errorf("%w: desired point count %d must be within [%d, %d]", ErrInvalidArgument, desired, MinPoints, MaxPoints)
	}
	hz = horizon.OrFlat(hz)

	candidates, err := g.spacingCandidates(ctx, desired, hz)
	if err != nil {
		return nil, 0, err
	}
	if len(candidates) == 0 {
		return nil, 0, fmt.Errorf("%w: no spacing yields a grid within %d points", ErrTooManyPoints, MaxPoints)
	}
	best := selectSpacing(candidates, desired)

	g.log.Info(ctx, "selected auto grid spacing",
		logging.Int("desired", desired),
		logging.Float("spacing", best.spacing),
		logging.Int("estimated", best.count),
		logging.Int("stability_penalty", best.penalty),
	)
	points, err := g.GenerateAutoGrid(ctx, best.spacing, best.spacing, hz)
	if err != nil {
		return nil, 0, err
	}
	return points, best.spacing, nil
}

func (g *Generator) spacingCandidates(ctx context.Context, desired int, hz horizon.Model) ([]spacingCandidate, error) {
	initial := math.Sqrt(hemisphereSquareDegrees / float64(desired))

	seen := make(map[int64]bool)
	var spacings []float64
	add := func(s float64) {
		if s < minGridSpacing-1e-9 || s > maxGridSpacing+1e-9 {
			return
		}
		key := int64(math.Round(s * 1e4))
		if seen[key] {
			return
		}
		seen[key] = true
		spacings = append(spacings, float64(key)/1e4)
	}
	for i := 0; ; i++ {
		s := minGridSpacing + float64(i)*coarseSpacingStep
		if s > maxGridSpacing+1e-9 {
			break
		}
		add(s)
	}
	steps := int(math.Round(2 * fineSpacingWindow / fineSpacingStep))
	for i := 0; i <= steps; i++ {
		add(initial - fineSpacingWindow + float64(i)*fineSpacingStep)
	}

	limit := 2 * MaxPoints
	candidates := make([]spacingCandidate, 0, len(spacings))
	for _, s := range spacings {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if g.estimateGridTotal(s, s, MaxPoints) > MaxPoints {
			continue
		}
		count := g.estimateGenerated(s, s, hz, limit)
		penalty := 0
		for _, d := range [][2]float64{{stabilityDelta, 0}, {-stabilityDelta, 0}, {0, stabilityDelta}, {0, -stabilityDelta}} {
			ra, dec := s+d[0], s+d[1]
			if ra < minGridSpacing || dec < minGridSpacing || dec > maxGridSpacing {
				continue
			}
			penalty += absInt(g.estimateGenerated(ra, dec, hz, limit) - count)
		}
		candidates = append(candidates, spacingCandidate{
			spacing:   s,
			count:     count,
			diff:      absInt(count - desired),
			penalty:   penalty,
			overshoot: count > desired,
		})
	}
	return candidates, nil
}

// selectSpacing picks the spacing to generate with. Candidates whose count
// is more than 2% of desired (at least one point) further from it than the
// closest candidate are discarded first; only then are the rest ranked by
// stability penalty, difference, non-overshoot and spacing. Ranking by
// penalty over the whole list would let a stable spacing far from the
// requested count win, so the tolerance filter is deliberate.
func selectSpacing(candidates []spacingCandidate, desired int) spacingCandidate {
	bestDiff := math.MaxInt
	for _, c := range candidates {
		bestDiff = min(bestDiff, c.diff)
	}
	tolerance := max(1, int(math.Round(0.02*float64(desired))))

	var best *spacingCandidate
	for i := range candidates {
		c := &candidates[i]
		if c.diff > bestDiff+tolerance {
			continue
		}
		if best == nil || betterSpacing(*c, *best) {
			best = c
		}
	}
	return *best
}

func betterSpacing(a, b spacingCandidate) bool {
	if a.penalty != b.penalty {
		return a.penalty < b.penalty
	}
	if a.diff != b.diff {
		return a.diff < b.diff
	}
	if a.overshoot != b.overshoot {
		return !a.overshoot
	}
	return a.spacing < b.spacing
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
