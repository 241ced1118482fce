package main

import (
	"context"
	"fmt"
	"io"
	"maps"
	"slices"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/signalsfoundry/skymodel/internal/config"
	"github.com/signalsfoundry/skymodel/internal/horizon"
	"github.com/signalsfoundry/skymodel/internal/logging"
	"github.com/signalsfoundry/skymodel/internal/pointgen"
	"github.com/signalsfoundry/skymodel/model"
	"github.com/signalsfoundry/skymodel/timectrl"
)

func (a *app) newGenerateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate a point set and print it.",
	}
	cmd.AddCommand(a.newSpiralCmd(), a.newAutoGridCmd(), a.newSiderealCmd())
	return cmd
}

// generation is everything a generate subcommand needs from the profile.
type generation struct {
	profile *config.Profile
	gen     *pointgen.Generator
	hz      horizon.Model
	log     logging.Logger
}

func (a *app) prepareGeneration(opts ...pointgen.Option) (*generation, error) {
	p, err := a.loadProfile()
	if err != nil {
		return nil, err
	}
	hz, err := loadHorizon(p)
	if err != nil {
		return nil, err
	}
	log := a.logger()
	return &generation{
		profile: p,
		gen:     pointgen.New(p.Site, p.Bounds, log, opts...),
		hz:      hz,
		log:     log,
	}, nil
}

func (a *app) newSpiralCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "spiral",
		Short: "Golden-spiral points spread evenly over the visible sky.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			g, err := a.prepareGeneration()
			if err != nil {
				return err
			}
			points, err := g.gen.GenerateGoldenSpiral(cmd.Context(), a.v.GetInt("points"), g.hz)
			if err != nil {
				return err
			}
			return printPoints(a.stdout, points)
		},
	}
	cmd.Flags().Int("points", 20, "number of points to place")
	return cmd
}

func (a *app) newAutoGridCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "autogrid",
		Short: "Equatorial grid points laid out along declination rings.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			g, err := a.prepareGeneration()
			if err != nil {
				return err
			}
			points, err := generateAutoGrid(cmd.Context(), a, g)
			if err != nil {
				return err
			}
			return printPoints(a.stdout, points)
		},
	}
	f := cmd.Flags()
	f.Float64("ra-spacing", 15, "RA spacing in degrees")
	f.Float64("dec-spacing", 15, "Dec spacing in degrees")
	f.Int("points", 0, "search spacings for about this many points instead")
	return cmd
}

func generateAutoGrid(ctx context.Context, a *app, g *generation) ([]model.SkyPoint, error) {
	if n := a.v.GetInt("points"); n > 0 {
		points, spacing, err := g.gen.GenerateAutoGridByPointCount(ctx, n, g.hz)
		if err != nil {
			return nil, err
		}
		g.log.Info(ctx, "auto-grid spacing selected", logging.Float("spacing", spacing), logging.Int("points", len(points)))
		return points, nil
	}
	return g.gen.GenerateAutoGrid(ctx, a.v.GetFloat64("ra-spacing"), a.v.GetFloat64("dec-spacing"), g.hz)
}

func (a *app) newSiderealCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sidereal",
		Short: "Points that follow one target across the sky.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			start, err := a.startTime()
			if err != nil {
				return err
			}
			g, err := a.prepareGeneration(pointgen.WithClock(fixedClock{start}))
			if err != nil {
				return err
			}
			points, err := generateSidereal(cmd.Context(), a, g, start)
			if err != nil {
				return err
			}
			return printPoints(a.stdout, points)
		},
	}
	addSiderealFlags(cmd)
	return cmd
}

func addSiderealFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.Float64("ra", 0, "target right ascension in hours (J2000)")
	f.Float64("dec", 0, "target declination in degrees (J2000)")
	f.Duration("minutes", time.Hour, "how long the path follows the target")
	f.Duration("ra-delta", 5*time.Minute, "sidereal time between path points")
	f.String("start", "", "path start time, RFC 3339 (default now)")
}

func generateSidereal(ctx context.Context, a *app, g *generation, start time.Time) ([]model.SkyPoint, error) {
	target := model.Coordinates{
		RA:    a.v.GetFloat64("ra"),
		Dec:   a.v.GetFloat64("dec"),
		Epoch: model.EpochJ2000,
	}
	end := start.Add(a.v.GetDuration("minutes"))
	return g.gen.GenerateSiderealPath(ctx, target, a.v.GetDuration("ra-delta"), start, end, g.hz)
}

func (a *app) startTime() (time.Time, error) {
	raw := a.v.GetString("start")
	if raw == "" {
		return time.Now().UTC(), nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid --start %q: %w", raw, err)
	}
	return t.UTC(), nil
}

// fixedClock pins generation to the requested start time.
type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time                         { return c.t }
func (c fixedClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

var _ timectrl.Clock = fixedClock{}

func printPoints(w io.Writer, points []model.SkyPoint) error {
	counts := pointgen.CountByState(points)
	parts := make([]string, 0, len(counts))
	for _, state := range slices.Sorted(maps.Keys(counts)) {
		parts = append(parts, fmt.Sprintf("%d %s", counts[state], state))
	}
	fmt.Fprintf(w, "%d points: %s\n", len(points), strings.Join(parts, ", "))

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "#\tALT\tAZ\tSTATE\tBAND")
	for i, p := range points {
		band := "-"
		if p.BandIndex >= 0 {
			band = fmt.Sprintf("%d/%d", p.BandIndex, p.BandSequence)
		}
		fmt.Fprintf(tw, "%d\t%.2f\t%.2f\t%s\t%s\n", i+1, p.Altitude, p.Azimuth, p.State, band)
	}
	return tw.Flush()
}
