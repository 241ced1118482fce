package builder

import (
	"context"
	"errors"
	"math"
	"slices"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/signalsfoundry/skymodel/core"
	"github.com/signalsfoundry/skymodel/internal/dome"
	"github.com/signalsfoundry/skymodel/internal/equipment"
	"github.com/signalsfoundry/skymodel/internal/logging"
	"github.com/signalsfoundry/skymodel/model"
)

// traversal builds this iteration's visiting order. Sync points are added
// to the arena as they are interleaved. ModelIndex carries the traversal
// position until a point is registered with the alignment spec.
func (r *run) traversal() []handle {
	eligible := r.state.eligible()
	points := r.state.gets(eligible)
	less := pointComparator(r.useDome, r.opts, r.reversed)
	order := orderIndices(points, r.opts, less)

	ordered := make([]model.SkyPoint, len(order))
	for i, idx := range order {
		ordered[i] = points[idx]
	}

	slots := interleaveSync(ordered, r.opts)
	out := make([]handle, 0, len(slots))
	for i, s := range slots {
		var h handle
		if s.source < 0 {
			sp := s.sync
			sp.ModelIndex = i
			h = r.state.add(sp)
		} else {
			h = eligible[order[s.source]]
			r.state.update(h, func(p *model.SkyPoint) { p.ModelIndex = i })
		}
		out = append(out, h)
	}
	return out
}

// processPoints runs the sequential slew/capture loop for one iteration.
// Solves are dispatched to goroutines tracked by r.pending.
func (r *run) processPoints(ctx context.Context) error {
	r.state.refreshDome(ctx, r.domeCache)
	order := r.traversal()
	r.state.refreshDome(ctx, r.domeCache)
	if len(order) == 0 {
		r.emitNext(nil)
		r.log.Info(ctx, "no points to process")
		return nil
	}
	next, ok := order[0], true
	first := r.state.get(next)
	r.emitNext(&first)

	if r.useDome {
		r.slewDomeIfNecessary(ctx, order)
	}
	if r.opts.GenerationType == model.GenerationSiderealPath {
		r.preSlewSiderealPath(ctx, order)
	}

	for ok {
		if err := ctx.Err(); err != nil {
			return err
		}
		if r.stopRequested() {
			return context.Canceled
		}
		r.processPoint(ctx, next)

		r.state.refreshDome(ctx, r.domeCache)
		r.b.metrics.SetDomeCacheHitRatio(r.domeCache.Stats().HitRatio())

		next, ok = r.selectNext(ctx, order, next)
		if ok {
			p := r.state.get(next)
			r.emitNext(&p)
		} else {
			r.emitNext(nil)
			r.log.Info(ctx, "no points remaining")
		}
	}
	return nil
}

// preSlewSiderealPath visits the end of the path and comes back so the mount
// settles its pier side before the first capture. A dome that follows the
// scope is detached for the round trip.
func (r *run) preSlewSiderealPath(ctx context.Context, order []handle) {
	last := order[len(order)-1]
	first := order[0]

	following := false
	if d := r.eq.Dome; d != nil && !r.useDome && d.Info(ctx).FollowingScope {
		if ok, err := d.DisableFollowing(ctx); err == nil && ok {
			following = true
			r.log.Info(ctx, "dome following disabled for sidereal path pre-slew")
		}
	}
	if !r.slewToPoint(ctx, last) {
		r.log.Warn(ctx, "pre-slew to end of sidereal path failed")
	}
	if !r.slewToPoint(ctx, first) {
		r.log.Warn(ctx, "pre-slew to start of sidereal path failed")
	}
	if following {
		if ok, err := r.eq.Dome.EnableFollowing(ctx); err != nil || !ok {
			r.log.Warn(ctx, "failed to re-enable dome following", logging.Err(err))
		}
	}
}

func (r *run) processPoint(ctx context.Context, h handle) {
	p := r.state.transition(h, model.PointUpNext)
	ctx, span := r.b.tracer.Start(ctx, "modelbuilder.Point", trace.WithAttributes(
		attribute.Int("index", int(h)),
		attribute.Float64("altitude", p.Altitude),
		attribute.Float64("azimuth", p.Azimuth),
		attribute.Bool("sync", p.IsSyncPoint),
	))
	defer span.End()
	log := r.log.With(logging.Float("alt", p.Altitude), logging.Float("az", p.Azimuth))

	if p.IsSyncPoint {
		alt, az := referenceFor(p, r.opts)
		if !r.slewToAltAz(ctx, alt, az, model.PierUnknown) {
			log.Warn(ctx, "slew to sync reference failed; continuing")
		}
	}

	if !r.slewToPoint(ctx, h) {
		log.Warn(ctx, "slew failed")
		r.state.fail(h, model.PointFailed)
		return
	}

	release, err := r.gate.Acquire(ctx)
	if err != nil {
		log.Warn(ctx, "concurrency gate unavailable", logging.Err(err))
		r.state.fail(h, model.PointFailed)
		return
	}

	if r.useDome {
		r.checkDome(ctx, h, log)
	}

	exposure, err := r.capture(ctx, h)
	if err != nil {
		release()
		log.Warn(ctx, "capture failed", logging.Err(err))
		r.state.fail(h, model.PointFailed)
		return
	}

	r.pending.Add(1)
	go r.solveAndComplete(h, exposure, release)
}

// checkDome waits for any pending dome slew, then reports anything that
// will likely spoil the exposure. None of the checks block the capture.
func (r *run) checkDome(ctx context.Context, h handle, log logging.Logger) {
	r.awaitDomeSlew(ctx)

	p := r.state.get(h)
	info := r.eq.Telescope.Info(ctx)
	if r.opts.GenerationType != model.GenerationSiderealPath && p.ExpectedPierSide != model.PierUnknown && info.SideOfPier != p.ExpectedPierSide {
		log.Warn(ctx, "mount pier side differs from dome expectation; point will likely fail",
			logging.String("mount", info.SideOfPier.String()),
			logging.String("expected", p.ExpectedPierSide.String()),
		)
	}
	di := r.eq.Dome.Info(ctx)
	if di.Slewing {
		log.Warn(ctx, "dome still slewing after its slew completed")
	}
	if !dome.IsVisible(p, di.Azimuth) {
		log.Warn(ctx, "dome does not frame the point",
			logging.Float("dome_az", di.Azimuth),
			logging.Float("min_dome_az", p.MinDomeAzimuth),
			logging.Float("max_dome_az", p.MaxDomeAzimuth),
		)
	}
}

func (r *run) slewToPoint(ctx context.Context, h handle) bool {
	p := r.state.get(h)
	target := r.slewTarget(p.Altitude, p.Azimuth)
	if side, ok := r.forcePierSide(ctx, p.DesiredPierSide, target); ok && p.DesiredPierSide == model.PierUnknown {
		r.state.update(h, func(sp *model.SkyPoint) { sp.DesiredPierSide = side })
	}
	return r.slew(ctx, target)
}

func (r *run) slewToAltAz(ctx context.Context, alt, az float64, side model.PierSide) bool {
	target := r.slewTarget(alt, az)
	r.forcePierSide(ctx, side, target)
	return r.slew(ctx, target)
}

func (r *run) slewTarget(alt, az float64) model.Coordinates {
	now := r.b.clock.Now()
	return core.TopocentricToCelestial(alt, az, r.b.profile.Site, now, r.atmosphere).Add(r.state.syncSeparation())
}

func (r *run) slew(ctx context.Context, target model.Coordinates) bool {
	ok, err := r.eq.Telescope.SlewToCoordinates(ctx, target)
	if err != nil {
		r.log.Debug(ctx, "slew error", logging.Err(err))
		return false
	}
	return ok
}

// forcePierSide asks the mount to use a specific side for the next slew.
// The first refusal disables forcing for the rest of the build.
func (r *run) forcePierSide(ctx context.Context, desired model.PierSide, target model.Coordinates) (model.PierSide, bool) {
	if !r.forceSide {
		return model.PierUnknown, false
	}
	forcer := r.eq.Telescope.(equipment.PierSideForcer)
	side := desired
	if side == model.PierUnknown {
		lst := core.LocalSiderealTime(r.b.clock.Now(), r.b.profile.Site.Longitude)
		side = core.ExpectedPierSide(target.RA, lst)
	}
	if !forcer.ForceNextPierSide(side) {
		r.forceSide = false
		r.log.Warn(ctx, "mount refused forced pier side; disabling for this build")
		return model.PierUnknown, false
	}
	return side, true
}

// capture records the mount position and takes the plate-solve exposure.
func (r *run) capture(ctx context.Context, h handle) (*equipment.Exposure, error) {
	info := r.eq.Telescope.Info(ctx)
	at := info.UTCTime
	if at.IsZero() {
		at = r.b.clock.Now()
	}
	mount := core.ToJ2000(info.Coordinates, at)
	r.state.update(h, func(p *model.SkyPoint) {
		p.State = model.PointExposing
		p.MountReportedRA = mount.RA
		p.MountReportedDec = mount.Dec
		p.MountReportedLST = info.SiderealTime
		p.MountReportedPierSide = info.SideOfPier
	})

	ps := r.b.profile.PlateSolve
	exposure, err := r.eq.Camera.Capture(ctx, equipment.CaptureSpec{
		ExposureTime: ps.ExposureTime,
		Filter:       ps.Filter,
		Binning:      ps.Binning,
		Subframe:     r.subframe,
	})
	if err != nil {
		return nil, err
	}
	if exposure == nil {
		return nil, errors.New("camera returned no exposure")
	}
	r.state.update(h, func(p *model.SkyPoint) {
		p.CaptureTime = exposure.Start.Add(exposure.Duration / 2)
	})

	if pv := r.eq.Previewer; pv != nil {
		cp := *exposure
		go pv.Prepare(context.WithoutCancel(ctx), cp)
	}
	return exposure, nil
}

// solveAndComplete runs detached from the control loop. It always releases
// the gate permit it was handed.
func (r *run) solveAndComplete(h handle, exposure *equipment.Exposure, release func()) {
	defer r.pending.Done()
	defer release()

	ctx := r.work
	p := r.state.transition(h, model.PointProcessing)
	ps := r.b.profile.PlateSolve
	hint := model.Coordinates{RA: p.MountReportedRA, Dec: p.MountReportedDec, Epoch: model.EpochJ2000}

	start := r.b.clock.Now()
	res, err := r.eq.Solver.Solve(ctx, exposure, equipment.SolveParams{
		Hint:         hint,
		Binning:      ps.Binning,
		SearchRadius: ps.SearchRadius,
		FocalLength:  ps.FocalLength,
		PixelSize:    ps.PixelSize,
		DownSample:   ps.DownSample,
		MaxObjects:   ps.MaxObjects,
		Regions:      ps.Regions,
		AllowBlind:   r.opts.AllowBlindSolves,
	})
	r.b.metrics.ObserveSolve(r.b.clock.Now().Sub(start))
	if err != nil || !res.Success {
		r.log.Warn(ctx, "plate solve failed", logging.String("point", p.String()), logging.Err(err))
		r.state.fail(h, model.PointFailed)
		return
	}

	solved := core.ToJ2000(res.Coordinates, p.CaptureTime)
	rms := core.AngularSeparation(p.MountReportedRA, p.MountReportedDec, solved.RA, solved.Dec) * 3600
	p = r.state.update(h, func(sp *model.SkyPoint) {
		sp.PlateSolvedRA = solved.RA
		sp.PlateSolvedDec = solved.Dec
		sp.RMSError = rms
	})

	if p.IsSyncPoint {
		r.state.setSyncSeparation(model.Separation{
			RA:  core.SignedHours(solved.RA - p.MountReportedRA),
			Dec: solved.Dec - p.MountReportedDec,
		})
	}

	if r.opts.RMSLimitEnabled() && rms > r.opts.MaxPointRMS {
		r.log.Warn(ctx, "point residual above limit",
			logging.String("point", p.String()),
			logging.Float("rms_arcsec", rms),
			logging.Float("limit_arcsec", r.opts.MaxPointRMS),
		)
		r.state.fail(h, model.PointFailedRMS)
		return
	}

	r.register(ctx, h)
}

// register adds the solved point to the alignment spec.
func (r *run) register(ctx context.Context, h handle) bool {
	idx, err := r.eq.Alignment.Add(ctx, r.state.get(h))
	if err != nil {
		r.log.Warn(ctx, "alignment spec rejected point", logging.Err(err))
		r.state.fail(h, model.PointFailed)
		return false
	}
	r.state.update(h, func(p *model.SkyPoint) {
		p.ModelIndex = idx
		p.State = model.PointAddedToModel
	})
	return true
}

// selectNext picks the next point to process from the traversal. It prefers
// the current pier side when meridian flips are minimised and, with a
// dome, a point the dome already frames.
func (r *run) selectNext(ctx context.Context, order []handle, current handle) (handle, bool) {
	points := r.state.gets(order)
	cur := r.state.get(current)

	var eligible []int
	for i, p := range points {
		if p.State.IsEligibleForBuild() {
			eligible = append(eligible, i)
		}
	}
	if len(eligible) == 0 {
		return 0, false
	}

	if r.opts.MinimizeMeridianFlips && !usesBandPath(r.opts) {
		var same []int
		for _, i := range eligible {
			if points[i].ExpectedPierSide == cur.ExpectedPierSide {
				same = append(same, i)
			}
		}
		if len(same) > 0 {
			eligible = same
		} else {
			r.log.Info(ctx, "no points left on this side of the pier; allowing flip",
				logging.String("side", cur.ExpectedPierSide.String()))
		}
	}

	if !r.useDome {
		return order[eligible[0]], true
	}

	domeAz := r.eq.Dome.Info(ctx).Azimuth
	for _, i := range eligible {
		if dome.IsVisible(points[i], domeAz) {
			return order[i], true
		}
	}
	candidates := make([]handle, len(eligible))
	for k, i := range eligible {
		candidates[k] = order[i]
	}
	r.log.Debug(ctx, "next point needs a dome slew", logging.Float("dome_az", domeAz))
	r.slewDomeIfNecessary(ctx, candidates)
	return candidates[0], true
}

// slewDomeIfNecessary starts an asynchronous dome slew towards the first
// candidate, in comparator order, that has a finite dome window.
func (r *run) slewDomeIfNecessary(ctx context.Context, candidates []handle) {
	r.awaitDomeSlew(ctx)
	if r.domeSlew != nil {
		return
	}

	points := r.state.gets(candidates)
	var withWindow []model.SkyPoint
	for _, p := range points {
		if p.State.IsEligibleForBuild() && !math.IsNaN(p.MinDomeAzimuth) {
			withWindow = append(withWindow, p)
		}
	}
	if len(withWindow) == 0 {
		r.log.Debug(ctx, "no dome slew needed")
		return
	}
	slices.SortStableFunc(withWindow, pointComparator(r.useDome, r.opts, r.reversed))
	target := withWindow[0]

	az := target.DomeAzimuth
	if r.opts.MinimizeDomeMovement {
		if r.opts.WestToEastSorting {
			az = target.MinDomeAzimuth
		} else {
			az = target.MaxDomeAzimuth
		}
	}
	az = core.NormalizeDegrees(az)

	ds := &domeSlew{azimuth: az, done: make(chan struct{})}
	r.domeSlew = ds
	r.b.metrics.DomeSlewStarted()
	r.log.Info(ctx, "slewing dome", logging.Float("azimuth", az), logging.String("point", target.String()))

	work := r.work
	go func() {
		defer close(ds.done)
		if ok, err := r.eq.Dome.SlewToAzimuth(work, az); err != nil || !ok {
			r.log.Warn(work, "dome slew failed", logging.Float("azimuth", az), logging.Err(err))
		}
	}()
}

func (r *run) awaitDomeSlew(ctx context.Context) {
	ds := r.domeSlew
	if ds == nil {
		return
	}
	select {
	case <-ds.done:
		r.domeSlew = nil
	case <-ctx.Done():
	}
}
