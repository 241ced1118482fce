package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/signalsfoundry/skymodel/internal/alignment"
	"github.com/signalsfoundry/skymodel/internal/builder"
	"github.com/signalsfoundry/skymodel/internal/config"
	"github.com/signalsfoundry/skymodel/internal/dome"
	"github.com/signalsfoundry/skymodel/internal/equipment/sim"
	"github.com/signalsfoundry/skymodel/internal/logging"
	"github.com/signalsfoundry/skymodel/internal/observability"
	"github.com/signalsfoundry/skymodel/internal/pointgen"
	"github.com/signalsfoundry/skymodel/model"
	"github.com/signalsfoundry/skymodel/timectrl"
)

// buildConfig is the resolved set of build command flags.
type buildConfig struct {
	Generator   string
	Points      int
	RASpacing   float64
	DecSpacing  float64
	Target      model.Coordinates
	PathLength  time.Duration
	RADelta     time.Duration
	Start       time.Time
	Accelerated bool
	MetricsAddr string
	GRPCAddr    string
	Tracing     observability.TracingConfig

	SlewFailureRate    *float64
	CaptureFailureRate *float64
	SolveFailureRate   *float64
}

func (a *app) newBuildCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "build",
		Short: "Generate points and build a pointing model on the simulated observatory.",
		Long: `build generates a point set from the profile and runs a model build against
simulated equipment. The first interrupt stops after the in-flight points and
commits what was gathered; a second interrupt aborts without committing.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := a.buildConfig()
			if err != nil {
				return err
			}
			p, err := a.loadProfile()
			if err != nil {
				return err
			}
			log := a.logger()

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()
			stop := make(chan struct{})
			sigs := make(chan os.Signal, 2)
			signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
			defer signal.Stop(sigs)
			go handleInterrupts(ctx, sigs, stop, cancel, log)

			return runBuild(ctx, cfg, p, log, stop, a.stdout)
		},
	}
	f := cmd.Flags()
	f.String("generator", "spiral", "point generator: spiral, autogrid or sidereal")
	f.Int("points", 20, "points for spiral, or the auto-grid target count")
	f.Float64("ra-spacing", 15, "auto-grid RA spacing in degrees when --points is 0")
	f.Float64("dec-spacing", 15, "auto-grid Dec spacing in degrees when --points is 0")
	f.Bool("accelerated", true, "run the simulator on simulated time instead of the wall clock")
	f.String("metrics-addr", ":9090", "HTTP address for Prometheus /metrics (empty disables)")
	f.String("grpc-addr", "", "TCP address for the gRPC health service (empty disables)")
	f.String("tracing-exporter", observability.ExporterNone, "span exporter: none, stdout or otlp")
	f.String("tracing-endpoint", "", "OTLP gRPC collector address (default localhost:4317)")
	f.Float64("tracing-sample-ratio", 1, "fraction of builds to trace")
	f.Float64("slew-failure-rate", 0, "override the simulated slew failure probability")
	f.Float64("capture-failure-rate", 0, "override the simulated capture failure probability")
	f.Float64("solve-failure-rate", 0, "override the simulated solve failure probability")
	addSiderealFlags(cmd)
	return cmd
}

func (a *app) buildConfig() (buildConfig, error) {
	start, err := a.startTime()
	if err != nil {
		return buildConfig{}, err
	}
	cfg := buildConfig{
		Generator:  a.v.GetString("generator"),
		Points:     a.v.GetInt("points"),
		RASpacing:  a.v.GetFloat64("ra-spacing"),
		DecSpacing: a.v.GetFloat64("dec-spacing"),
		Target: model.Coordinates{
			RA:    a.v.GetFloat64("ra"),
			Dec:   a.v.GetFloat64("dec"),
			Epoch: model.EpochJ2000,
		},
		PathLength:  a.v.GetDuration("minutes"),
		RADelta:     a.v.GetDuration("ra-delta"),
		Start:       start,
		Accelerated: a.v.GetBool("accelerated"),
		MetricsAddr: a.v.GetString("metrics-addr"),
		GRPCAddr:    a.v.GetString("grpc-addr"),
		Tracing: observability.TracingConfig{
			Exporter:    a.v.GetString("tracing-exporter"),
			Endpoint:    a.v.GetString("tracing-endpoint"),
			SampleRatio: a.v.GetFloat64("tracing-sample-ratio"),
			Output:      a.stderr,
		},
	}
	for key, dst := range map[string]**float64{
		"slew-failure-rate":    &cfg.SlewFailureRate,
		"capture-failure-rate": &cfg.CaptureFailureRate,
		"solve-failure-rate":   &cfg.SolveFailureRate,
	} {
		if a.v.IsSet(key) {
			v := a.v.GetFloat64(key)
			*dst = &v
		}
	}
	return cfg, nil
}

// handleInterrupts turns the first signal into a soft stop and the second
// into a hard cancel.
func handleInterrupts(ctx context.Context, sigs <-chan os.Signal, stop chan<- struct{}, cancel context.CancelFunc, log logging.Logger) {
	select {
	case <-ctx.Done():
		return
	case <-sigs:
	}
	log.Warn(ctx, "interrupt received, finishing in-flight points; interrupt again to abort")
	close(stop)

	select {
	case <-ctx.Done():
		return
	case <-sigs:
	}
	log.Warn(ctx, "second interrupt received, aborting build")
	cancel()
}

func runBuild(ctx context.Context, cfg buildConfig, p *config.Profile, log logging.Logger, stop <-chan struct{}, out io.Writer) error {
	var clock timectrl.Clock = timectrl.System()
	if cfg.Accelerated {
		clock = timectrl.NewTimeController(cfg.Start)
	}

	simCfg := p.SimConfig()
	if cfg.SlewFailureRate != nil {
		simCfg.SlewFailureRate = *cfg.SlewFailureRate
	}
	if cfg.CaptureFailureRate != nil {
		simCfg.CaptureFailureRate = *cfg.CaptureFailureRate
	}
	if cfg.SolveFailureRate != nil {
		simCfg.SolveFailureRate = *cfg.SolveFailureRate
	}
	obs := sim.New(simCfg, clock, log)

	reg := prometheus.NewRegistry()
	collector, err := observability.NewBuildCollector(reg)
	if err != nil {
		return fmt.Errorf("initialise build metrics: %w", err)
	}
	rpcCollector, err := observability.NewRPCCollector(reg)
	if err != nil {
		return fmt.Errorf("initialise rpc metrics: %w", err)
	}

	tracing, err := observability.SetupTracing(ctx, cfg.Tracing, log)
	if err != nil {
		return fmt.Errorf("initialise tracing: %w", err)
	}
	defer tracing.Close()

	metricsSrv := serveMetrics(cfg.MetricsAddr, collector, log)
	var healthSrv *healthEndpoint
	if cfg.GRPCAddr != "" {
		if healthSrv, err = serveHealth(cfg.GRPCAddr, rpcCollector, log); err != nil {
			return err
		}
		healthSrv.SetBuilding(true)
	}
	defer func() {
		if healthSrv != nil {
			healthSrv.Stop()
		}
		if metricsSrv != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = metricsSrv.Shutdown(shutdownCtx)
		}
	}()

	points, opts, err := generateForBuild(ctx, cfg, p, obs, clock, log)
	if err != nil {
		return err
	}

	eq := builder.Equipment{
		Telescope:    obs.Telescope,
		Camera:       obs.Camera,
		Solver:       obs.Solver,
		Dome:         obs.Dome,
		DomeGeometry: dome.SimpleGeometry{},
		Weather:      obs.Weather,
		FilterWheel:  obs.FilterWheel,
		Guider:       obs.Guider,
		Artifacts: &alignment.FileWriter{
			Dir: p.ArtifactDir(),
			Options: alignment.POXOptions{
				ExposureTime: p.PlateSolve.ExposureTime,
				LegacyDDM:    opts.IsLegacyDDM,
			},
			Clock: clock,
			Log:   log,
		},
	}
	b := builder.New(eq, builder.Profile{Site: p.Site, PlateSolve: p.PlateSolve, Dome: p.Dome},
		builder.WithLogger(log),
		builder.WithMetrics(collector),
		builder.WithClock(clock),
		builder.WithTracer(tracing.Tracer()),
		builder.WithProgressListener(func(pr builder.Progress) {
			log.Info(ctx, "build progress",
				logging.Int("attempt", pr.Attempt),
				logging.Int("processed", pr.Processed),
				logging.Int("total", pr.Total),
				logging.Duration("remaining", pr.Remaining),
			)
		}),
	)

	res, err := b.Build(ctx, points, opts, stop)
	if healthSrv != nil {
		healthSrv.SetBuilding(false)
	}
	if err != nil {
		return fmt.Errorf("build failed: %w", err)
	}
	printResult(out, res, obs)
	return nil
}

// generateForBuild produces the points and the matching build options.
func generateForBuild(ctx context.Context, cfg buildConfig, p *config.Profile, obs *sim.Observatory, clock timectrl.Clock, log logging.Logger) ([]model.SkyPoint, model.BuildOptions, error) {
	hz, err := loadHorizon(p)
	if err != nil {
		return nil, model.BuildOptions{}, err
	}
	gen := pointgen.New(p.Site, p.Bounds, log,
		pointgen.WithWeather(obs.Weather),
		pointgen.WithAxisLimits(obs.Telescope),
		pointgen.WithClock(clock),
	)

	opts := p.Options
	var points []model.SkyPoint
	switch cfg.Generator {
	case "spiral", "":
		opts.GenerationType = model.GenerationGoldenSpiral
		points, err = gen.GenerateGoldenSpiral(ctx, cfg.Points, hz)
	case "autogrid":
		opts.GenerationType = model.GenerationAutoGrid
		if cfg.Points > 0 {
			points, _, err = gen.GenerateAutoGridByPointCount(ctx, cfg.Points, hz)
		} else {
			points, err = gen.GenerateAutoGrid(ctx, cfg.RASpacing, cfg.DecSpacing, hz)
		}
	case "sidereal":
		opts.GenerationType = model.GenerationSiderealPath
		start := clock.Now()
		points, err = gen.GenerateSiderealPath(ctx, cfg.Target, cfg.RADelta, start, start.Add(cfg.PathLength), hz)
	default:
		return nil, opts, fmt.Errorf("unknown generator %q", cfg.Generator)
	}
	if err != nil {
		return nil, opts, fmt.Errorf("generate %s points: %w", cfg.Generator, err)
	}
	log.Info(ctx, "points generated",
		logging.String("generator", opts.GenerationType.String()),
		logging.Int("points", len(points)),
	)
	return points, opts, nil
}

func printResult(w io.Writer, res *model.BuildResult, obs *sim.Observatory) {
	status := "completed"
	if res.Stopped {
		status = "stopped"
	}
	fmt.Fprintf(w, "build %s after %d attempt(s), %d failed point(s)\n", status, res.Attempts, res.FailedPoints)
	if res.Model == nil {
		fmt.Fprintln(w, "no model committed")
		return
	}
	fmt.Fprintf(w, "model: %d points, RMS %.2f arcsec\n", res.Model.PointCount, res.Model.RMSError)
	if res.Model.ArtifactPath != "" {
		fmt.Fprintf(w, "pointing log: %s\n", res.Model.ArtifactPath)
	}
	if pm, ok := obs.Telescope.LastPathModel(); ok {
		fmt.Fprintf(w, "path model: %d pointings, %d solved\n", pm.Pointings, pm.Solved)
	}
}
