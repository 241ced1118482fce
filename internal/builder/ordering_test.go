package builder

import (
	"math"
	"slices"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/signalsfoundry/skymodel/model"
)

func azimuths(points []model.SkyPoint, order []int) []float64 {
	out := make([]float64, len(order))
	for i, idx := range order {
		out[i] = points[idx].Azimuth
	}
	return out
}

func TestAzimuthComparator(t *testing.T) {
	points := []model.SkyPoint{
		model.NewSkyPoint(30, 200, model.PointGenerated),
		model.NewSkyPoint(30, 15, model.PointGenerated),
		model.NewSkyPoint(30, 310, model.PointGenerated),
	}
	opts := testOptions()

	tests := []struct {
		name       string
		westToEast bool
		reversed   bool
		want       []float64
	}{
		{name: "east to west", want: []float64{15, 200, 310}},
		{name: "west to east", westToEast: true, want: []float64{310, 200, 15}},
		{name: "reversed east to west", reversed: true, want: []float64{310, 200, 15}},
		{name: "reversed west to east", westToEast: true, reversed: true, want: []float64{15, 200, 310}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := opts
			o.WestToEastSorting = tt.westToEast
			order := orderIndices(points, o, pointComparator(false, o, tt.reversed))
			if diff := cmp.Diff(tt.want, azimuths(points, order)); diff != "" {
				t.Fatalf("order mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestDomeComparatorTreatsMissingWindowsAsLeading(t *testing.T) {
	withWindow := func(az, lo, hi float64) model.SkyPoint {
		p := model.NewSkyPoint(40, az, model.PointGenerated)
		p.MinDomeAzimuth, p.MaxDomeAzimuth = lo, hi
		return p
	}
	points := []model.SkyPoint{
		withWindow(100, 90, 110),
		model.NewSkyPoint(40, 250, model.PointGenerated),
		withWindow(20, 10, 30),
	}
	opts := testOptions()
	opts.MinimizeDomeMovement = true

	order := orderIndices(points, opts, pointComparator(true, opts, false))
	if diff := cmp.Diff([]int{1, 2, 0}, order); diff != "" {
		t.Fatalf("east to west mismatch (-want +got):\n%s", diff)
	}

	opts.WestToEastSorting = true
	order = orderIndices(points, opts, pointComparator(true, opts, false))
	if diff := cmp.Diff([]int{1, 0, 2}, order); diff != "" {
		t.Fatalf("west to east mismatch (-want +got):\n%s", diff)
	}
}

func TestSiderealPathKeepsGeneratedOrder(t *testing.T) {
	points := testPoints(5)
	slices.Reverse(points)
	opts := testOptions()
	opts.GenerationType = model.GenerationSiderealPath

	order := orderIndices(points, opts, pointComparator(false, opts, true))
	if diff := cmp.Diff([]int{0, 1, 2, 3, 4}, order); diff != "" {
		t.Fatalf("order mismatch (-want +got):\n%s", diff)
	}
}

func TestInterleaveSyncAcrossNorth(t *testing.T) {
	ordered := []model.SkyPoint{
		model.NewSkyPoint(40, 350, model.PointGenerated),
		model.NewSkyPoint(40, 355, model.PointGenerated),
		model.NewSkyPoint(40, 5, model.PointGenerated),
	}
	opts := testOptions()
	opts.UseSync = true

	slots := interleaveSync(ordered, opts)
	var got []float64
	for _, s := range slots {
		if s.source < 0 {
			got = append(got, s.sync.Azimuth)
			continue
		}
		got = append(got, ordered[s.source].Azimuth)
	}
	want := []float64{270, 350, 355, 90, 5}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("sync interleave mismatch (-want +got):\n%s", diff)
	}
}

func TestInterleaveSyncDisabled(t *testing.T) {
	slots := interleaveSync(testPoints(3), testOptions())
	if len(slots) != 3 {
		t.Fatalf("expected 3 slots, got %d", len(slots))
	}
	for i, s := range slots {
		if s.source != i {
			t.Fatalf("slot %d: expected source %d, got %d", i, i, s.source)
		}
	}
}

func TestBandPathWithoutMetadata(t *testing.T) {
	points := []model.SkyPoint{
		model.NewSkyPoint(20, 60, model.PointGenerated),
		model.NewSkyPoint(20, 100, model.PointGenerated),
		model.NewSkyPoint(20, 250, model.PointGenerated),
		model.NewSkyPoint(20, 300, model.PointGenerated),
		model.NewSkyPoint(50, 80, model.PointGenerated),
		model.NewSkyPoint(50, 200, model.PointGenerated),
	}
	got := bandPathOrder(points)
	if diff := cmp.Diff([]int{1, 0, 3, 2, 4, 5}, got); diff != "" {
		t.Fatalf("band path mismatch (-want +got):\n%s", diff)
	}
}

func TestBandPathStartsAfterLargestSequenceGap(t *testing.T) {
	var points []model.SkyPoint
	for _, seq := range []int{0, 1, 4, 5, 6, 7} {
		p := model.NewSkyPoint(35, float64(seq)*45, model.PointGenerated)
		p.BandIndex = 0
		p.BandSequence = seq
		p.BandPointCount = 8
		p.ExpectedPierSide = model.PierEast
		points = append(points, p)
	}

	got := bandPathOrder(points)
	if diff := cmp.Diff([]int{1, 0, 5, 4, 3, 2}, got); diff != "" {
		t.Fatalf("band path mismatch (-want +got):\n%s", diff)
	}
}

func TestBandPathVisitsHigherBandIndexFirst(t *testing.T) {
	mk := func(alt, az float64, band, order int) model.SkyPoint {
		p := model.NewSkyPoint(alt, az, model.PointGenerated)
		p.BandIndex = band
		p.BandEastToWestOrder = order
		p.ExpectedPierSide = model.PierWest
		return p
	}
	points := []model.SkyPoint{
		mk(70, 200, 0, 1),
		mk(70, 190, 0, 0),
		mk(30, 260, 1, 1),
		mk(30, 230, 1, 0),
	}
	got := bandPathOrder(points)
	if diff := cmp.Diff([]int{3, 2, 1, 0}, got); diff != "" {
		t.Fatalf("band path mismatch (-want +got):\n%s", diff)
	}
}

func TestEstimateBandWidth(t *testing.T) {
	tests := []struct {
		name string
		alts []float64
		want float64
	}{
		{name: "single ring", alts: []float64{30, 30, 30}, want: 5},
		{name: "median gap", alts: []float64{10, 20, 30, 45}, want: 10},
		{name: "clamped", alts: []float64{5, 80}, want: 30},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			points := make([]model.SkyPoint, len(tt.alts))
			for i, a := range tt.alts {
				points[i] = model.NewSkyPoint(a, 0, model.PointGenerated)
			}
			if got := estimateBandWidth(points); math.Abs(got-tt.want) > 1e-9 {
				t.Fatalf("expected %.1f, got %.1f", tt.want, got)
			}
		})
	}
}
