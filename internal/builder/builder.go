// Package builder runs pointing-model builds. It walks generated sky points
// in a dome- and pier-aware order, slews and captures one point at a time,
// plate-solves concurrently behind a bounded gate and retries failures.
package builder

import (
	"context"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/signalsfoundry/skymodel/core"
	"github.com/signalsfoundry/skymodel/internal/alignment"
	"github.com/signalsfoundry/skymodel/internal/dome"
	"github.com/signalsfoundry/skymodel/internal/equipment"
	"github.com/signalsfoundry/skymodel/internal/logging"
	"github.com/signalsfoundry/skymodel/model"
	"github.com/signalsfoundry/skymodel/timectrl"
)

const tracerName = "github.com/signalsfoundry/skymodel/internal/builder"

// Equipment bundles the devices and services a build drives. Telescope,
// Camera and Solver are required; everything else is optional.
type Equipment struct {
	Telescope    equipment.Telescope
	Camera       equipment.Camera
	Solver       equipment.PlateSolver
	Dome         equipment.Dome
	DomeGeometry equipment.DomeGeometry
	Weather      equipment.Weather
	FilterWheel  equipment.FilterWheel
	Guider       equipment.Guider
	Previewer    equipment.Previewer
	// Alignment defaults to an in-memory alignment.Spec.
	Alignment equipment.AlignmentSpec
	// Artifacts receives the committed points of every successful
	// iteration. Sidereal-path builds send them to the mount instead when
	// it implements equipment.PathModelSender.
	Artifacts equipment.ArtifactWriter
}

// Profile is the observatory configuration a build runs against.
type Profile struct {
	Site       model.Site
	PlateSolve model.PlateSolveSettings
	Dome       model.DomeSettings
}

// ModelBuilder orchestrates builds. One ModelBuilder runs at most one build
// at a time.
type ModelBuilder struct {
	eq      Equipment
	profile Profile

	log              logging.Logger
	metrics          MetricsRecorder
	clock            timectrl.Clock
	tracer           trace.Tracer
	onNext           func(*model.SkyPoint)
	onState          func(int, model.SkyPoint)
	onProgress       func(Progress)
	progressInterval time.Duration

	running atomic.Bool
}

// New returns a ModelBuilder for the given equipment and profile.
func New(eq Equipment, profile Profile, opts ...Option) *ModelBuilder {
	b := &ModelBuilder{
		eq:               eq,
		profile:          profile,
		log:              logging.Noop(),
		metrics:          noopMetrics{},
		clock:            timectrl.System(),
		tracer:           otel.Tracer(tracerName),
		progressInterval: time.Second,
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.eq.Alignment == nil {
		b.eq.Alignment = alignment.NewSpec(b.log)
	}
	return b
}

// Running reports whether a build is in progress.
func (b *ModelBuilder) Running() bool { return b.running.Load() }

// Build runs a full model build over points and returns the final point
// snapshots plus the committed model, if any. Cancelling ctx abandons the
// build without committing; closing stop lets in-flight work drain and
// commits what succeeded. Point-level failures never surface as errors.
func (b *ModelBuilder) Build(ctx context.Context, points []model.SkyPoint, opts model.BuildOptions, stop <-chan struct{}) (*model.BuildResult, error) {
	if !b.running.CompareAndSwap(false, true) {
		return nil, ErrBuildInProgress
	}
	defer b.running.Store(false)

	ctx, log := logging.WithBuildLogger(ctx, b.log)
	ctx, span := b.tracer.Start(ctx, "modelbuilder.Build", trace.WithAttributes(
		attribute.String("build_id", logging.BuildIDFromContext(ctx)),
		attribute.Int("points", len(points)),
		attribute.String("generation", opts.GenerationType.String()),
	))
	defer span.End()

	if err := b.checkPreconditions(ctx, points, opts); err != nil {
		log.Warn(ctx, "build rejected", logging.Err(err))
		span.RecordError(err)
		return nil, err
	}

	r := newRun(ctx, b, log, points, opts, stop)
	defer r.teardown()

	if err := r.setup(); err != nil {
		log.Error(ctx, "build setup failed", logging.Err(err))
		span.RecordError(err)
		return nil, err
	}

	res, err := r.execute()
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	span.SetAttributes(
		attribute.Int("attempts", res.Attempts),
		attribute.Int("failed_points", res.FailedPoints),
		attribute.Bool("stopped", res.Stopped),
	)
	return res, nil
}

func (b *ModelBuilder) checkPreconditions(ctx context.Context, points []model.SkyPoint, opts model.BuildOptions) error {
	if opts.MaxConcurrency < 0 || opts.NumRetries < 0 || opts.MaxFailedPoints < 0 {
		return fmt.Errorf("%w: concurrency, retries and failure budget must be non-negative", ErrInvalidArgument)
	}
	if b.eq.Telescope == nil || !b.eq.Telescope.Info(ctx).Connected {
		return fmt.Errorf("%w: telescope", ErrNotConnected)
	}
	if b.eq.Camera == nil || !b.eq.Camera.Info(ctx).Connected {
		return fmt.Errorf("%w: camera", ErrNotConnected)
	}
	if b.eq.Solver == nil {
		return fmt.Errorf("%w: plate solver", ErrNotConnected)
	}
	return ValidatePoints(points)
}

// ValidatePoints checks that every azimuth lies in [0,360) and that every
// Generated point has an altitude in [0,90].
func ValidatePoints(points []model.SkyPoint) error {
	for i, p := range points {
		if math.IsNaN(p.Azimuth) || p.Azimuth < 0 || p.Azimuth >= 360 {
			return fmt.Errorf("%w: point %d azimuth %.3f outside [0,360)", ErrValidation, i, p.Azimuth)
		}
		if p.State == model.PointGenerated && (math.IsNaN(p.Altitude) || p.Altitude < 0 || p.Altitude > 90) {
			return fmt.Errorf("%w: point %d altitude %.3f outside [0,90]", ErrValidation, i, p.Altitude)
		}
	}
	return nil
}

// PreviewOrder returns copies of the eligible points in the order the next
// build would visit them, including interleaved sync points. Dome windows
// are not computed, so the azimuth comparator applies.
func (b *ModelBuilder) PreviewOrder(ctx context.Context, points []model.SkyPoint, opts model.BuildOptions) []model.SkyPoint {
	useDome := false
	if b.eq.Dome != nil && !opts.DomeControlExternal {
		info := b.eq.Dome.Info(ctx)
		useDome = info.Connected && info.CanSetAzimuth
	}
	var eligible []model.SkyPoint
	for _, p := range points {
		if p.State.IsEligibleForBuild() {
			eligible = append(eligible, p)
		}
	}
	order := orderIndices(eligible, opts, pointComparator(useDome, opts, false))
	ordered := make([]model.SkyPoint, len(order))
	for i, idx := range order {
		ordered[i] = eligible[idx]
	}
	slots := interleaveSync(ordered, opts)
	out := make([]model.SkyPoint, len(slots))
	for i, s := range slots {
		if s.source < 0 {
			out[i] = s.sync
		} else {
			out[i] = ordered[s.source]
		}
		out[i].ModelIndex = i
	}
	return out
}

// run is the state of a single Build call.
type run struct {
	b    *ModelBuilder
	eq   Equipment
	log  logging.Logger
	opts model.BuildOptions

	// ctx is the caller's hard-cancel context; work is cancelled at
	// teardown so detached goroutines cannot outlive the build.
	ctx        context.Context
	work       context.Context
	cancelWork context.CancelFunc
	stop       <-chan struct{}

	state     *buildState
	gate      *gate
	domeCache *dome.WindowCache
	pending   sync.WaitGroup

	useDome    bool
	reversed   bool
	forceSide  bool
	atmosphere core.Atmosphere
	subframe   *equipment.Rect
	attempt    atomic.Int64
	started    time.Time

	domeSlew *domeSlew

	// restore bookkeeping
	startedParked     bool
	startCoordinates  model.Coordinates
	haveStartPosition bool
	oldFilter         string
	domeWasFollowing  bool
	domeSyncSlew      bool
	refractionOff     bool
	guiderStopped     bool

	progressDone chan struct{}
	progressWG   sync.WaitGroup
}

type domeSlew struct {
	azimuth float64
	done    chan struct{}
}

func newRun(ctx context.Context, b *ModelBuilder, log logging.Logger, points []model.SkyPoint, opts model.BuildOptions, stop <-chan struct{}) *run {
	work, cancel := context.WithCancel(ctx)
	r := &run{
		b:          b,
		eq:         b.eq,
		log:        log,
		opts:       opts,
		ctx:        ctx,
		work:       work,
		cancelWork: cancel,
		stop:       stop,
		state:      newBuildState(points),
		gate:       newGate(opts.MaxConcurrency, b.metrics.SetInFlight, b.metrics.GateDisposed),
		started:    b.clock.Now(),
	}
	r.state.onState = b.onState
	r.state.onFinish = b.metrics.PointFinished
	return r
}

func (r *run) stopRequested() bool {
	if r.stop == nil {
		return false
	}
	select {
	case <-r.stop:
		return true
	default:
		return false
	}
}

// loopContext is cancelled by either the hard cancel or the soft stop.
func (r *run) loopContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(r.work)
	if r.stop == nil {
		return ctx, cancel
	}
	go func() {
		select {
		case <-r.stop:
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}

func (r *run) setup() error {
	ctx := r.ctx
	tel := r.eq.Telescope

	info := tel.Info(ctx)
	if info.AtPark {
		r.startedParked = true
		r.log.Info(ctx, "unparking mount for model build")
		if err := tel.Unpark(ctx); err != nil {
			return fmt.Errorf("%w: %v", ErrUnpark, err)
		}
		info = tel.Info(ctx)
	}
	r.startCoordinates = info.Coordinates
	r.haveStartPosition = true

	if fw := r.eq.FilterWheel; fw != nil {
		if fi := fw.Info(ctx); fi.Connected {
			r.oldFilter = fi.SelectedFilter
		}
	}

	if d := r.eq.Dome; d != nil && r.eq.DomeGeometry != nil && !r.opts.DomeControlExternal {
		di := d.Info(ctx)
		r.useDome = di.Connected && di.CanSetAzimuth
		if r.useDome {
			if di.FollowingScope {
				if ok, err := d.DisableFollowing(ctx); err != nil || !ok {
					r.log.Warn(ctx, "failed to disable dome following", logging.Err(err))
				} else {
					r.domeWasFollowing = true
				}
			}
			if d.SyncSlewEnabled() {
				d.SetSyncSlew(false)
				r.domeSyncSlew = true
			}
		}
	}

	rc, hasRefraction := tel.(equipment.RefractionController)
	if hasRefraction && r.opts.DisableRefractionCorrection && rc.RefractionCorrectionEnabled() {
		if rc.SetRefractionCorrection(false) {
			r.refractionOff = true
			r.log.Info(ctx, "mount refraction correction disabled for build")
		} else {
			r.log.Warn(ctx, "failed to disable mount refraction correction")
		}
	}

	if g := r.eq.Guider; g != nil {
		if gi := g.Info(ctx); gi.Connected {
			if ok, err := g.StopGuiding(ctx); err != nil || !ok {
				r.log.Warn(ctx, "failed to stop guiding", logging.Err(err))
			} else {
				r.guiderStopped = true
			}
		}
	}

	r.atmosphere = r.atmosphereSnapshot(ctx, rc, hasRefraction)
	r.subframe = subframeFor(r.eq.Camera.Info(ctx), r.b.profile.PlateSolve, r.opts.PlateSolveSubframePercentage)
	_, r.forceSide = tel.(equipment.PierSideForcer)

	r.domeCache = dome.NewWindowCache(r.eq.DomeGeometry, dome.Config{
		Site:           r.b.profile.Site,
		Settings:       r.b.profile.Dome,
		ShutterWidthMM: r.opts.DomeShutterWidthMM,
	}, r.useDome, r.b.clock, r.log)

	r.startProgress()

	r.log.Info(ctx, "model build starting",
		logging.Int("points", len(r.state.eligible())),
		logging.Int("max_concurrency", r.opts.MaxConcurrency),
		logging.Int("retries", r.opts.NumRetries),
		logging.Bool("use_dome", r.useDome),
		logging.Bool("use_sync", r.opts.UseSync),
	)
	return nil
}

// atmosphereSnapshot mirrors what the mount itself applies: refraction only
// when its own correction is on, with humidity from the weather station.
func (r *run) atmosphereSnapshot(ctx context.Context, rc equipment.RefractionController, ok bool) core.Atmosphere {
	var atm core.Atmosphere
	if ok && rc.RefractionCorrectionEnabled() {
		atm.PressureHPa = rc.Pressure()
		atm.TemperatureC = rc.Temperature()
		atm.Wavelength = 0.55
	}
	if w := r.eq.Weather; w != nil {
		if wi := w.Info(ctx); wi.Connected && !math.IsNaN(wi.Humidity) {
			atm.Humidity = wi.Humidity / 100
		}
	}
	return atm
}

// subframeFor returns the centred plate-solve subframe in binned pixels, or
// nil for full frame.
func subframeFor(cam equipment.CameraInfo, ps model.PlateSolveSettings, pct float64) *equipment.Rect {
	if pct <= 0 || pct >= 0.99 || !cam.CanSubSample {
		return nil
	}
	bin := ps.Binning
	if bin < 1 {
		bin = 1
	}
	fullW := float64(cam.XSize) / float64(bin)
	fullH := float64(cam.YSize) / float64(bin)
	return &equipment.Rect{
		X:      (1 - pct) / 2 * fullW,
		Y:      (1 - pct) / 2 * fullH,
		Width:  pct * fullW,
		Height: pct * fullH,
	}
}

// teardown restores every piece of equipment state touched by setup. It
// runs for every outcome, including cancellation.
func (r *run) teardown() {
	ctx := context.WithoutCancel(r.ctx)
	r.emitNext(nil)

	r.cancelWork()
	r.pending.Wait()
	if r.domeSlew != nil {
		<-r.domeSlew.done
		r.domeSlew = nil
	}

	tel := r.eq.Telescope
	if r.startedParked {
		if err := tel.Park(ctx); err != nil {
			r.log.Error(ctx, "failed to re-park mount", logging.Err(err))
		}
	} else if r.haveStartPosition {
		if ok, err := tel.SlewToCoordinates(ctx, r.startCoordinates); err != nil || !ok {
			r.log.Warn(ctx, "failed to restore start position", logging.Err(err))
		}
	}

	if fw := r.eq.FilterWheel; fw != nil && r.oldFilter != "" {
		if err := fw.ChangeFilter(ctx, r.oldFilter); err != nil {
			r.log.Warn(ctx, "failed to restore filter", logging.String("filter", r.oldFilter), logging.Err(err))
		}
	}

	if d := r.eq.Dome; d != nil {
		if r.domeWasFollowing {
			if ok, err := d.EnableFollowing(ctx); err != nil || !ok {
				r.log.Warn(ctx, "failed to re-enable dome following", logging.Err(err))
			}
		}
		if r.domeSyncSlew {
			d.SetSyncSlew(true)
		}
	}

	if r.refractionOff {
		if rc, ok := tel.(equipment.RefractionController); ok && !rc.SetRefractionCorrection(true) {
			r.log.Warn(ctx, "failed to re-enable mount refraction correction")
		}
	}

	if r.guiderStopped {
		if ok, err := r.eq.Guider.StartGuiding(ctx); err != nil || !ok {
			r.log.Warn(ctx, "failed to restart guiding", logging.Err(err))
		}
	}

	r.stopProgress()
	r.gate.Dispose()
	r.log.Info(ctx, "model build finished", logging.Duration("elapsed", r.b.clock.Now().Sub(r.started)))
}

func (r *run) emitNext(p *model.SkyPoint) {
	if r.b.onNext == nil {
		return
	}
	if p == nil {
		r.b.onNext(nil)
		return
	}
	cp := *p
	r.b.onNext(&cp)
}
