package builder

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/signalsfoundry/skymodel/internal/equipment"
	"github.com/signalsfoundry/skymodel/model"
)

var testEpoch = time.Date(2025, time.March, 1, 22, 0, 0, 0, time.UTC)

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time                         { return c.now }
func (c fixedClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

type fakeTelescope struct {
	mu        sync.Mutex
	connected bool
	parked    bool
	coords    model.Coordinates
	slews     int
	failSlew  map[int]bool
	unparkErr error
	parks     int
}

func (t *fakeTelescope) Info(context.Context) equipment.TelescopeInfo {
	t.mu.Lock()
	defer t.mu.Unlock()
	return equipment.TelescopeInfo{
		Connected:   t.connected,
		AtPark:      t.parked,
		Coordinates: t.coords,
		SideOfPier:  model.PierEast,
	}
}

func (t *fakeTelescope) Unpark(context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.unparkErr != nil {
		return t.unparkErr
	}
	t.parked = false
	return nil
}

func (t *fakeTelescope) Park(context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.parked = true
	t.parks++
	return nil
}

func (t *fakeTelescope) SlewToCoordinates(ctx context.Context, target model.Coordinates) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.slews++
	if t.failSlew[t.slews] {
		return false, nil
	}
	t.coords = target
	return true, nil
}

func (t *fakeTelescope) isParked() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.parked
}

type fakeFilterWheel struct {
	mu       sync.Mutex
	selected string
}

func (f *fakeFilterWheel) Info(context.Context) equipment.FilterWheelInfo {
	f.mu.Lock()
	defer f.mu.Unlock()
	return equipment.FilterWheelInfo{Connected: true, SelectedFilter: f.selected}
}

func (f *fakeFilterWheel) ChangeFilter(_ context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.selected = name
	return nil
}

func (f *fakeFilterWheel) current() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.selected
}

type fakeCamera struct {
	connected bool
	wheel     *fakeFilterWheel
	captures  atomic.Int64
	failNth   map[int64]bool
}

func (c *fakeCamera) Info(context.Context) equipment.CameraInfo {
	return equipment.CameraInfo{Connected: c.connected, CanSubSample: true, XSize: 4000, YSize: 3000}
}

func (c *fakeCamera) Capture(ctx context.Context, spec equipment.CaptureSpec) (*equipment.Exposure, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	n := c.captures.Add(1)
	if c.wheel != nil && spec.Filter != "" {
		_ = c.wheel.ChangeFilter(ctx, spec.Filter)
	}
	if c.failNth[n] {
		return nil, errors.New("camera timeout")
	}
	return &equipment.Exposure{Start: testEpoch, Duration: time.Duration(spec.ExposureTime * float64(time.Second))}, nil
}

// fakeSolver echoes the hint back so every solve lands on the mount
// position. It tracks how many solves run at once.
type fakeSolver struct {
	delay     time.Duration
	decOffset float64
	fail      func() bool
	entered chan struct{}
	block   chan struct{}

	cur   atomic.Int64
	peak  atomic.Int64
	calls atomic.Int64
}

func (s *fakeSolver) Solve(ctx context.Context, _ *equipment.Exposure, params equipment.SolveParams) (equipment.SolveResult, error) {
	n := s.cur.Add(1)
	defer s.cur.Add(-1)
	s.calls.Add(1)
	for {
		p := s.peak.Load()
		if n <= p || s.peak.CompareAndSwap(p, n) {
			break
		}
	}
	if s.entered != nil {
		select {
		case s.entered <- struct{}{}:
		default:
		}
	}
	if s.block != nil {
		select {
		case <-s.block:
		case <-ctx.Done():
			return equipment.SolveResult{}, ctx.Err()
		}
	}
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	if s.fail != nil && s.fail() {
		return equipment.SolveResult{Success: false}, nil
	}
	solved := params.Hint
	solved.Dec += s.decOffset
	return equipment.SolveResult{Success: true, Coordinates: solved}, nil
}

type fakeDome struct {
	mu        sync.Mutex
	azimuth   float64
	following bool
	syncSlew  bool
	slews     int
}

func (d *fakeDome) Info(context.Context) equipment.DomeInfo {
	d.mu.Lock()
	defer d.mu.Unlock()
	return equipment.DomeInfo{Connected: true, CanSetAzimuth: true, Azimuth: d.azimuth, FollowingScope: d.following}
}

func (d *fakeDome) SlewToAzimuth(_ context.Context, az float64) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.azimuth = az
	d.slews++
	return true, nil
}

func (d *fakeDome) EnableFollowing(context.Context) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.following = true
	return true, nil
}

func (d *fakeDome) DisableFollowing(context.Context) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.following = false
	return true, nil
}

func (d *fakeDome) SyncSlewEnabled() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.syncSlew
}

func (d *fakeDome) SetSyncSlew(enabled bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.syncSlew = enabled
}

type recordingMetrics struct {
	mu           sync.Mutex
	iterations   int
	finished     map[model.PointState]int
	failedSeq    []int
	peakInFlight int
	disposals    int
	domeSlews    int
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{finished: map[model.PointState]int{}}
}

func (m *recordingMetrics) IterationStarted(int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.iterations++
}

func (m *recordingMetrics) PointFinished(s model.PointState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.finished[s]++
}

func (m *recordingMetrics) SetFailedPoints(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failedSeq = append(m.failedSeq, n)
}

func (m *recordingMetrics) SetInFlight(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n > m.peakInFlight {
		m.peakInFlight = n
	}
}

func (m *recordingMetrics) ObserveSolve(time.Duration) {}

func (m *recordingMetrics) DomeSlewStarted() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.domeSlews++
}

func (m *recordingMetrics) GateDisposed() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.disposals++
}

func (m *recordingMetrics) SetDomeCacheHitRatio(float64) {}

type rig struct {
	telescope *fakeTelescope
	camera    *fakeCamera
	solver    *fakeSolver
	wheel     *fakeFilterWheel
	metrics   *recordingMetrics
	eq        Equipment
}

func newRig() *rig {
	wheel := &fakeFilterWheel{selected: "L"}
	r := &rig{
		telescope: &fakeTelescope{connected: true},
		camera:    &fakeCamera{connected: true, wheel: wheel},
		solver:    &fakeSolver{},
		wheel:     wheel,
		metrics:   newRecordingMetrics(),
	}
	r.eq = Equipment{
		Telescope:   r.telescope,
		Camera:      r.camera,
		Solver:      r.solver,
		FilterWheel: wheel,
	}
	return r
}

func (r *rig) builder(opts ...Option) *ModelBuilder {
	base := []Option{WithClock(fixedClock{now: testEpoch}), WithMetrics(r.metrics)}
	return New(r.eq, testProfile(), append(base, opts...)...)
}

func testProfile() Profile {
	return Profile{
		Site: model.Site{Latitude: 48, Longitude: 11},
		PlateSolve: model.PlateSolveSettings{
			ExposureTime: 2,
			Filter:       "R",
			Binning:      1,
			SearchRadius: 30,
		},
		Dome: model.DomeSettings{RadiusMM: 2500, AzimuthToleranceDegrees: 10},
	}
}

func testOptions() model.BuildOptions {
	o := model.DefaultBuildOptions()
	o.MaxConcurrency = 3
	o.AlternateDirectionsBetweenIterations = false
	o.MinimizeMeridianFlips = false
	return o
}

// testPoints returns n visible points with strictly increasing azimuth.
func testPoints(n int) []model.SkyPoint {
	points := make([]model.SkyPoint, n)
	step := 340.0 / float64(n)
	for i := range points {
		points[i] = model.NewSkyPoint(30+float64(i%5)*8, 10+float64(i)*step, model.PointGenerated)
	}
	return points
}

func countState(points []model.SkyPoint, s model.PointState) int {
	n := 0
	for _, p := range points {
		if p.State == s {
			n++
		}
	}
	return n
}
