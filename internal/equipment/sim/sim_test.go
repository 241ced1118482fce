package sim

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/signalsfoundry/skymodel/core"
	"github.com/signalsfoundry/skymodel/internal/alignment"
	"github.com/signalsfoundry/skymodel/internal/builder"
	"github.com/signalsfoundry/skymodel/internal/dome"
	"github.com/signalsfoundry/skymodel/internal/equipment"
	"github.com/signalsfoundry/skymodel/model"
	"github.com/signalsfoundry/skymodel/timectrl"
)

var (
	testSite  = model.Site{Latitude: 48, Longitude: 11}
	testStart = time.Date(2025, time.March, 1, 22, 0, 0, 0, time.UTC)
)

func newTestObservatory(mutate func(*Config)) (*Observatory, *timectrl.TimeController) {
	clock := timectrl.NewTimeController(testStart)
	cfg := DefaultConfig(testSite)
	cfg.PointingErrorArcsec = 0
	if mutate != nil {
		mutate(&cfg)
	}
	return New(cfg, clock, nil), clock
}

func TestSlewAdvancesClock(t *testing.T) {
	obs, clock := newTestObservatory(func(c *Config) { c.StartParked = false })
	ctx := context.Background()
	tel := obs.Telescope

	from := tel.Info(ctx).Coordinates
	target := model.Coordinates{RA: from.RA, Dec: from.Dec - 60, Epoch: model.EpochJNow}
	ok, err := tel.SlewToCoordinates(ctx, target)
	if err != nil || !ok {
		t.Fatalf("slew failed: ok=%v err=%v", ok, err)
	}
	if elapsed := clock.Now().Sub(testStart); elapsed < 9*time.Second || elapsed > 11*time.Second {
		t.Fatalf("expected ~10s of simulated slew, got %s", elapsed)
	}
	got := tel.Info(ctx).Coordinates
	if math.Abs(got.RA-target.RA) > 1e-9 || math.Abs(got.Dec-target.Dec) > 1e-9 {
		t.Fatalf("expected mount at %+v, got %+v", target, got)
	}
}

func TestParkedTelescopeRefusesSlew(t *testing.T) {
	obs, _ := newTestObservatory(nil)
	ctx := context.Background()

	ok, err := obs.Telescope.SlewToCoordinates(ctx, model.Coordinates{RA: 3, Dec: 20, Epoch: model.EpochJNow})
	if err != nil || ok {
		t.Fatalf("expected refused slew, got ok=%v err=%v", ok, err)
	}
	if err := obs.Telescope.Unpark(ctx); err != nil {
		t.Fatalf("Unpark: %v", err)
	}
	if obs.Telescope.Info(ctx).AtPark {
		t.Fatalf("expected mount to be unparked")
	}

	obs.Telescope.SetConnected(false)
	if _, err := obs.Telescope.SlewToCoordinates(ctx, model.Coordinates{RA: 3, Dec: 20}); !errors.Is(err, ErrDisconnected) {
		t.Fatalf("expected ErrDisconnected, got %v", err)
	}
}

func TestForcedPierSideAppliesOnce(t *testing.T) {
	obs, clock := newTestObservatory(func(c *Config) {
		c.StartParked = false
		c.SlewRate = 0
	})
	ctx := context.Background()
	tel := obs.Telescope

	lst := core.LocalSiderealTime(clock.Now(), testSite.Longitude)
	east := model.Coordinates{RA: core.NormalizeHours(lst - 2), Dec: 30, Epoch: model.EpochJNow}

	if !tel.ForceNextPierSide(model.PierWest) {
		t.Fatalf("expected forced side to be accepted")
	}
	if tel.ForceNextPierSide(model.PierUnknown) {
		t.Fatalf("expected unknown side to be refused")
	}
	if ok, _ := tel.SlewToCoordinates(ctx, east); !ok {
		t.Fatalf("slew failed")
	}
	if side := tel.Info(ctx).SideOfPier; side != model.PierWest {
		t.Fatalf("expected forced west side, got %s", side)
	}
	if ok, _ := tel.SlewToCoordinates(ctx, east); !ok {
		t.Fatalf("slew failed")
	}
	if side := tel.Info(ctx).SideOfPier; side != model.PierEast {
		t.Fatalf("expected natural east side, got %s", side)
	}
}

func TestTimeToLimit(t *testing.T) {
	obs, clock := newTestObservatory(func(c *Config) { c.SlewRate = 0 })
	ctx := context.Background()
	tel := obs.Telescope

	if _, ok := tel.TimeToLimit(); ok {
		t.Fatalf("expected no limit while parked")
	}
	_ = tel.Unpark(ctx)
	lst := core.LocalSiderealTime(clock.Now(), testSite.Longitude)
	target := model.Coordinates{RA: core.NormalizeHours(lst + 1), Dec: 10, Epoch: model.EpochJNow}
	if ok, _ := tel.SlewToCoordinates(ctx, target); !ok {
		t.Fatalf("slew failed")
	}

	ttl, ok := tel.TimeToLimit()
	if !ok {
		t.Fatalf("expected a limit once unparked")
	}
	want := time.Duration(1.5 / siderealRatio * float64(time.Hour))
	if diff := ttl - want; diff < -time.Minute || diff > time.Minute {
		t.Fatalf("expected ~%s to the limit, got %s", want, ttl)
	}
}

func solvedPoints(n int) []model.SkyPoint {
	points := make([]model.SkyPoint, n)
	for i := range points {
		p := model.NewSkyPoint(40, float64(i*30), model.PointAddedToModel)
		p.MountReportedRA, p.MountReportedDec = float64(i), 20
		p.PlateSolvedRA, p.PlateSolvedDec = float64(i)+0.001, 20.01
		p.CaptureTime = testStart.Add(time.Duration(i) * time.Minute)
		points[i] = p
	}
	return points
}

func TestSendPathModel(t *testing.T) {
	obs, _ := newTestObservatory(nil)
	ctx := context.Background()
	tel := obs.Telescope

	points := solvedPoints(5)
	points[4].State = model.PointFailed
	points[4].PlateSolvedRA = math.NaN()
	payload, err := alignment.PathPayload(points)
	if err != nil {
		t.Fatalf("PathPayload: %v", err)
	}
	if !tel.SendPathModel(ctx, payload) {
		t.Fatalf("expected path model to be accepted")
	}
	pm, ok := tel.LastPathModel()
	if !ok || pm.Pointings != 5 || pm.Solved != 4 {
		t.Fatalf("unexpected path model %+v ok=%v", pm, ok)
	}

	few, _ := alignment.PathPayload(solvedPoints(2))
	for name, bad := range map[string][]byte{
		"invalid json":   []byte(`[{"Solved":`),
		"not a list":     []byte(`{"Solved":true}`),
		"too few solved": few,
	} {
		if tel.SendPathModel(ctx, bad) {
			t.Fatalf("%s: expected path model to be rejected", name)
		}
	}
	if pm, _ := tel.LastPathModel(); pm.Pointings != 5 {
		t.Fatalf("rejected payloads replaced the accepted model: %+v", pm)
	}
}

func TestCaptureAndSolve(t *testing.T) {
	obs, _ := newTestObservatory(func(c *Config) { c.StartParked = false })
	ctx := context.Background()

	exp, err := obs.Camera.Capture(ctx, equipment.CaptureSpec{ExposureTime: 4, Filter: "R"})
	if err != nil {
		t.Fatalf("Capture: %v", err)
	}
	if got := obs.FilterWheel.Info(ctx).SelectedFilter; got != "R" {
		t.Fatalf("expected filter R, got %q", got)
	}
	if exp.Duration != 4*time.Second {
		t.Fatalf("expected 4s exposure, got %s", exp.Duration)
	}

	res, err := obs.Solver.Solve(ctx, exp, equipment.SolveParams{})
	if err != nil || !res.Success {
		t.Fatalf("Solve failed: %+v err=%v", res, err)
	}
	frame := exp.Image.(Frame)
	truth := core.ToJ2000(frame.Center, frame.At)
	if sep := core.AngularSeparation(truth.RA, truth.Dec, res.Coordinates.RA, res.Coordinates.Dec) * 3600; sep > 1e-6 {
		t.Fatalf("expected exact solve without pointing error, off by %.3f arcsec", sep)
	}

	if _, err := obs.Solver.Solve(ctx, &equipment.Exposure{Image: "jpeg"}, equipment.SolveParams{}); !errors.Is(err, ErrNotSimulated) {
		t.Fatalf("expected ErrNotSimulated, got %v", err)
	}
}

func TestPointingErrorIsApplied(t *testing.T) {
	obs, _ := newTestObservatory(func(c *Config) {
		c.StartParked = false
		c.PointingErrorArcsec = 30
	})
	ctx := context.Background()

	if ok, _ := obs.Telescope.SlewToCoordinates(ctx, model.Coordinates{RA: 5, Dec: 30, Epoch: model.EpochJNow}); !ok {
		t.Fatalf("slew failed")
	}
	exp, err := obs.Camera.Capture(ctx, equipment.CaptureSpec{ExposureTime: 1})
	if err != nil {
		t.Fatalf("Capture: %v", err)
	}
	res, err := obs.Solver.Solve(ctx, exp, equipment.SolveParams{})
	if err != nil || !res.Success {
		t.Fatalf("Solve failed: %+v err=%v", res, err)
	}
	frame := exp.Image.(Frame)
	truth := core.ToJ2000(frame.Center, frame.At)
	sep := core.AngularSeparation(truth.RA, truth.Dec, res.Coordinates.RA, res.Coordinates.Dec) * 3600
	if sep == 0 || sep > 300 {
		t.Fatalf("expected a small non-zero pointing error, got %.3f arcsec", sep)
	}
}

func TestFailureRates(t *testing.T) {
	obs, _ := newTestObservatory(func(c *Config) {
		c.StartParked = false
		c.SlewFailureRate = 1
		c.CaptureFailureRate = 1
	})
	ctx := context.Background()

	if ok, err := obs.Telescope.SlewToCoordinates(ctx, model.Coordinates{RA: 1, Dec: 10}); ok || err != nil {
		t.Fatalf("expected simulated slew failure, got ok=%v err=%v", ok, err)
	}
	if _, err := obs.Camera.Capture(ctx, equipment.CaptureSpec{ExposureTime: 1}); !errors.Is(err, ErrCaptureFailed) {
		t.Fatalf("expected ErrCaptureFailed, got %v", err)
	}
}

func TestDomeSlew(t *testing.T) {
	obs, clock := newTestObservatory(nil)
	ctx := context.Background()

	ok, err := obs.Dome.SlewToAzimuth(ctx, 350)
	if err != nil || !ok {
		t.Fatalf("dome slew failed: ok=%v err=%v", ok, err)
	}
	if az := obs.Dome.Info(ctx).Azimuth; az != 350 {
		t.Fatalf("expected dome at 350, got %.1f", az)
	}
	if elapsed := clock.Now().Sub(testStart); elapsed != 2500*time.Millisecond {
		t.Fatalf("expected the short way round (10 deg at 4 deg/s), took %s", elapsed)
	}
}

func buildPoints() []model.SkyPoint {
	var points []model.SkyPoint
	for i := 0; i < 8; i++ {
		points = append(points, model.NewSkyPoint(35+float64(i%3)*10, 20+float64(i)*40, model.PointGenerated))
	}
	return points
}

func simEquipment(obs *Observatory) builder.Equipment {
	return builder.Equipment{
		Telescope:    obs.Telescope,
		Camera:       obs.Camera,
		Solver:       obs.Solver,
		Dome:         obs.Dome,
		DomeGeometry: dome.SimpleGeometry{},
		Weather:      obs.Weather,
		FilterWheel:  obs.FilterWheel,
		Guider:       obs.Guider,
	}
}

func TestBuildAgainstSimulator(t *testing.T) {
	obs, clock := newTestObservatory(func(c *Config) { c.PointingErrorArcsec = 20 })
	ctx := context.Background()

	profile := builder.Profile{
		Site:       testSite,
		PlateSolve: model.PlateSolveSettings{ExposureTime: 2, Filter: "R", Binning: 1},
		Dome:       model.DomeSettings{RadiusMM: 2500, AzimuthToleranceDegrees: 8},
	}
	b := builder.New(simEquipment(obs), profile, builder.WithClock(clock))

	opts := model.DefaultBuildOptions()
	opts.DisableRefractionCorrection = true
	res, err := b.Build(ctx, buildPoints(), opts, nil)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if res.FailedPoints != 0 || res.Model == nil || res.Model.PointCount != 8 {
		t.Fatalf("unexpected result: failed=%d model=%+v", res.FailedPoints, res.Model)
	}
	if res.Model.RMSError <= 0 {
		t.Fatalf("expected a non-zero model RMS with pointing error")
	}
	if !obs.Telescope.Info(ctx).AtPark {
		t.Fatalf("expected mount re-parked")
	}
	if !obs.Telescope.RefractionCorrectionEnabled() {
		t.Fatalf("expected refraction correction restored")
	}
	if !obs.Guider.Info(ctx).Guiding {
		t.Fatalf("expected guiding restarted")
	}
	if di := obs.Dome.Info(ctx); !di.FollowingScope {
		t.Fatalf("expected dome following restored")
	}
	if obs.Dome.Slews() == 0 {
		t.Fatalf("expected the dome to move during the build")
	}
	if got := obs.FilterWheel.Info(ctx).SelectedFilter; got != "L" {
		t.Fatalf("expected filter L restored, got %q", got)
	}
	if !clock.Now().After(testStart) {
		t.Fatalf("expected simulated time to advance")
	}
}

func TestBuildWithFailingSolver(t *testing.T) {
	obs, clock := newTestObservatory(func(c *Config) { c.SolveFailureRate = 1 })
	profile := builder.Profile{
		Site:       testSite,
		PlateSolve: model.PlateSolveSettings{ExposureTime: 1, Binning: 1},
	}
	b := builder.New(simEquipment(obs), profile, builder.WithClock(clock))

	opts := model.DefaultBuildOptions()
	opts.NumRetries = 1
	res, err := b.Build(context.Background(), buildPoints(), opts, nil)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if res.Attempts != 2 || res.FailedPoints != 8 {
		t.Fatalf("expected 2 attempts with 8 failures, got %d/%d", res.Attempts, res.FailedPoints)
	}
	if res.Model != nil {
		t.Fatalf("expected no committed model")
	}
}
