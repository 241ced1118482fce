package builder

import (
	"cmp"
	"math"
	"slices"

	"github.com/signalsfoundry/skymodel/core"
	"github.com/signalsfoundry/skymodel/model"
)

// pointComparator orders points for traversal. With dome movement
// minimisation the leading edge of each dome window drives the order,
// otherwise plain azimuth does. westToEast flips the direction.
func pointComparator(useDome bool, opts model.BuildOptions, reversed bool) func(a, b model.SkyPoint) int {
	westToEast := opts.WestToEastSorting != reversed
	if useDome && opts.MinimizeDomeMovement {
		if !westToEast {
			return func(a, b model.SkyPoint) int {
				return cmp.Compare(nanAs(a.MinDomeAzimuth, math.Inf(-1)), nanAs(b.MinDomeAzimuth, math.Inf(-1)))
			}
		}
		return func(a, b model.SkyPoint) int {
			return cmp.Compare(nanAs(b.MaxDomeAzimuth, math.Inf(1)), nanAs(a.MaxDomeAzimuth, math.Inf(1)))
		}
	}
	if !westToEast {
		return func(a, b model.SkyPoint) int { return cmp.Compare(a.Azimuth, b.Azimuth) }
	}
	return func(a, b model.SkyPoint) int { return cmp.Compare(b.Azimuth, a.Azimuth) }
}

func nanAs(v, fallback float64) float64 {
	if math.IsNaN(v) {
		return fallback
	}
	return v
}

func usesBandPath(opts model.BuildOptions) bool {
	return opts.GenerationType == model.GenerationAutoGrid && opts.PathOrdering == model.PathOrderingBandPath
}

// orderIndices returns the positions of points in traversal order, before
// sync points are interleaved.
func orderIndices(points []model.SkyPoint, opts model.BuildOptions, less func(a, b model.SkyPoint) int) []int {
	idx := make([]int, len(points))
	for i := range idx {
		idx[i] = i
	}
	switch {
	case opts.GenerationType == model.GenerationSiderealPath:
		return idx
	case usesBandPath(opts):
		return bandPathOrder(points)
	default:
		slices.SortStableFunc(idx, func(a, b int) int { return less(points[a], points[b]) })
		return idx
	}
}

// syncSlot is a position in the traversal. source is the index into the
// ordered input for regular points and -1 for sync points, which carry
// their own coordinates.
type syncSlot struct {
	source int
	sync   model.SkyPoint
}

// interleaveSync inserts a sync point before any point whose azimuth is at
// least SyncEveryHA (or more than half a turn) away from the point that
// triggered the previous sync. East sync positions serve the eastern half
// of the sky, west positions the rest.
func interleaveSync(ordered []model.SkyPoint, opts model.BuildOptions) []syncSlot {
	out := make([]syncSlot, 0, len(ordered)+len(ordered)/4)
	if !opts.UseSync {
		for i := range ordered {
			out = append(out, syncSlot{source: i})
		}
		return out
	}

	var last *model.SkyPoint
	for i := range ordered {
		p := &ordered[i]
		insert := last == nil
		if !insert {
			d := math.Abs(last.Azimuth - p.Azimuth)
			insert = d >= opts.SyncEveryHA || d > 180
		}
		if insert {
			out = append(out, syncSlot{source: -1, sync: syncPointFor(p.Azimuth, opts)})
			last = p
		}
		out = append(out, syncSlot{source: i})
	}
	return out
}

func syncPointFor(azimuth float64, opts model.BuildOptions) model.SkyPoint {
	alt, az := opts.SyncWestAltitude, opts.SyncWestAzimuth
	if azimuth < 180 {
		alt, az = opts.SyncEastAltitude, opts.SyncEastAzimuth
	}
	p := model.NewSkyPoint(alt, core.NormalizeDegrees(az), model.PointGenerated)
	p.IsSyncPoint = true
	return p
}

// referenceFor returns the fixed position slewed to before a sync point.
func referenceFor(sync model.SkyPoint, opts model.BuildOptions) (alt, az float64) {
	if sync.Azimuth < 180 {
		return opts.RefEastAltitude, opts.RefEastAzimuth
	}
	return opts.RefWestAltitude, opts.RefWestAzimuth
}

// bandPathOrder walks auto-grid rings from the horizon upwards. Each ring
// is split into pier-side passes that start from the far east.
func bandPathOrder(points []model.SkyPoint) []int {
	if len(points) == 0 {
		return nil
	}

	var bands [][]int
	withMeta := true
	for _, p := range points {
		if p.BandIndex < 0 {
			withMeta = false
			break
		}
	}
	if withMeta {
		byBand := map[int][]int{}
		var keys []int
		for i, p := range points {
			if _, ok := byBand[p.BandIndex]; !ok {
				keys = append(keys, p.BandIndex)
			}
			byBand[p.BandIndex] = append(byBand[p.BandIndex], i)
		}
		slices.SortFunc(keys, func(a, b int) int { return cmp.Compare(b, a) })
		for _, k := range keys {
			bands = append(bands, byBand[k])
		}
	} else {
		bands = bandsByAltitude(points)
	}

	out := make([]int, 0, len(points))
	for _, band := range bands {
		out = append(out, sidePasses(points, band)...)
	}
	return out
}

// bandsByAltitude groups points without ring metadata into zenith-distance
// bands, lowest band first.
func bandsByAltitude(points []model.SkyPoint) [][]int {
	width := math.Max(1, estimateBandWidth(points))
	groups := map[int][]int{}
	var keys []int
	for i, p := range points {
		k := int(math.Floor((90-p.Altitude)/width + 1e-9))
		if _, ok := groups[k]; !ok {
			keys = append(keys, k)
		}
		groups[k] = append(groups[k], i)
	}

	type stats struct {
		key       int
		max, mean float64
	}
	all := make([]stats, 0, len(keys))
	for _, k := range keys {
		st := stats{key: k, max: math.Inf(-1)}
		for _, i := range groups[k] {
			z := 90 - points[i].Altitude
			st.max = math.Max(st.max, z)
			st.mean += z
		}
		st.mean /= float64(len(groups[k]))
		all = append(all, st)
	}
	slices.SortStableFunc(all, func(a, b stats) int {
		if c := cmp.Compare(b.max, a.max); c != 0 {
			return c
		}
		return cmp.Compare(b.mean, a.mean)
	})

	out := make([][]int, len(all))
	for i, st := range all {
		out[i] = groups[st.key]
	}
	return out
}

// estimateBandWidth is the median altitude step between distinct rings,
// clamped to [1, 30] degrees.
func estimateBandWidth(points []model.SkyPoint) float64 {
	alts := make([]float64, len(points))
	for i, p := range points {
		alts[i] = p.Altitude
	}
	slices.Sort(alts)
	var deltas []float64
	for i := 1; i < len(alts); i++ {
		if d := alts[i] - alts[i-1]; d > 0.15 {
			deltas = append(deltas, d)
		}
	}
	if len(deltas) == 0 {
		return 5
	}
	slices.Sort(deltas)
	return math.Max(1, math.Min(30, deltas[len(deltas)/2]))
}

func orderingPierSide(p model.SkyPoint) model.PierSide {
	if p.DesiredPierSide != model.PierUnknown {
		return p.DesiredPierSide
	}
	if p.ExpectedPierSide != model.PierUnknown {
		return p.ExpectedPierSide
	}
	if p.Azimuth <= 180 {
		return model.PierEast
	}
	return model.PierWest
}

func sidePasses(points []model.SkyPoint, band []int) []int {
	if len(band) <= 1 {
		return band
	}
	var east, west, unknown []int
	for _, i := range band {
		switch orderingPierSide(points[i]) {
		case model.PierEast:
			east = append(east, i)
		case model.PierWest:
			west = append(west, i)
		default:
			unknown = append(unknown, i)
		}
	}
	out := make([]int, 0, len(band))
	out = append(out, fromFarEast(points, east)...)
	out = append(out, fromFarEast(points, west)...)
	out = append(out, fromFarEast(points, unknown)...)
	return out
}

// fromFarEast orders one pass of a ring. When ring sequence numbers are
// known the pass starts after the largest sequence gap and runs in the
// direction that begins nearest due east and ends nearest due west.
func fromFarEast(points []model.SkyPoint, pass []int) []int {
	if len(pass) <= 1 {
		return pass
	}

	haveSeqCount, haveOrder, haveSeq := true, true, true
	total := 0
	for _, i := range pass {
		p := points[i]
		if p.BandSequence < 0 || p.BandPointCount <= 0 {
			haveSeqCount = false
		}
		if p.BandEastToWestOrder < 0 {
			haveOrder = false
		}
		if p.BandSequence < 0 {
			haveSeq = false
		}
		total = max(total, p.BandPointCount)
	}

	bySeq := func() []int {
		s := slices.Clone(pass)
		slices.SortStableFunc(s, func(a, b int) int { return cmp.Compare(points[a].BandSequence, points[b].BandSequence) })
		return s
	}

	if haveSeqCount && total > 1 {
		seq := bySeq()
		n := len(seq)
		bestGap, bestAt := math.MinInt, 0
		for k := 0; k < n; k++ {
			cur := points[seq[k]].BandSequence
			next := points[seq[(k+1)%n]].BandSequence
			gap := (next - cur + total) % total
			if gap == 0 {
				gap = total
			}
			if gap > bestGap {
				bestGap, bestAt = gap, k
			}
		}
		start := (bestAt + 1) % n
		forward := make([]int, n)
		for k := range forward {
			forward[k] = seq[(start+k)%n]
		}
		reverse := slices.Clone(forward)
		slices.Reverse(reverse)
		if passScore(points, forward) <= passScore(points, reverse) {
			return forward
		}
		return reverse
	}

	if haveOrder {
		s := slices.Clone(pass)
		slices.SortStableFunc(s, func(a, b int) int {
			if c := cmp.Compare(points[a].BandEastToWestOrder, points[b].BandEastToWestOrder); c != 0 {
				return c
			}
			return cmp.Compare(points[b].Altitude, points[a].Altitude)
		})
		return s
	}

	if haveSeq {
		seq := bySeq()
		n := len(seq)
		start := 0
		for k := 1; k < n; k++ {
			if closerToEast(points[seq[k]].Azimuth, points[seq[start]].Azimuth) {
				start = k
			}
		}
		here := points[seq[start]].Azimuth
		fwd := core.ClockwiseDistance(here, points[seq[(start+1)%n]].Azimuth)
		back := core.ClockwiseDistance(here, points[seq[(start-1+n)%n]].Azimuth)
		out := make([]int, n)
		for k := range out {
			if fwd <= back {
				out[k] = seq[(start+k)%n]
			} else {
				out[k] = seq[(start-k+n)%n]
			}
		}
		return out
	}

	start := pass[0]
	for _, i := range pass[1:] {
		if closerToEast(points[i].Azimuth, points[start].Azimuth) {
			start = i
		}
	}
	startAz := points[start].Azimuth
	s := slices.Clone(pass)
	slices.SortStableFunc(s, func(a, b int) int {
		if c := cmp.Compare(core.ClockwiseDistance(startAz, points[a].Azimuth), core.ClockwiseDistance(startAz, points[b].Azimuth)); c != 0 {
			return c
		}
		return cmp.Compare(points[b].Altitude, points[a].Altitude)
	})
	return s
}

func passScore(points []model.SkyPoint, pass []int) float64 {
	first := points[pass[0]].Azimuth
	last := points[pass[len(pass)-1]].Azimuth
	return 2*core.CircularDistance(first, 90) + core.CircularDistance(last, 270)
}

// closerToEast reports whether azimuth a is a better "far east" start than
// b: nearer to 90°, ties broken by the shorter clockwise travel from 90°.
func closerToEast(a, b float64) bool {
	da, db := core.CircularDistance(a, 90), core.CircularDistance(b, 90)
	if da != db {
		return da < db
	}
	return core.ClockwiseDistance(90, a) < core.ClockwiseDistance(90, b)
}
