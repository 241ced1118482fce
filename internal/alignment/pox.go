package alignment

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"

	"github.com/signalsfoundry/skymodel/internal/logging"
	"github.com/signalsfoundry/skymodel/model"
	"github.com/signalsfoundry/skymodel/timectrl"
)

const poxSeparator = "**************************"

// POXOptions control how a pointing log is labelled.
type POXOptions struct {
	// ExposureTime is written verbatim for every point, in seconds.
	ExposureTime float64
	// LegacyDDM drops the sync/no-correction suffix from point labels.
	LegacyDDM bool
}

// Exportable returns the points that belong in a pointing log: those added
// to the model with finite solved coordinates.
func Exportable(points []model.SkyPoint) []model.SkyPoint {
	out := make([]model.SkyPoint, 0, len(points))
	for _, p := range points {
		if p.State == model.PointAddedToModel && p.HasSolution() {
			out = append(out, p)
		}
	}
	return out
}

// WritePOX writes the pointing log for points to w and returns the number of
// points written. Mount-reported coordinates are expected in J2000; sync
// points record the solved position in both the mount and solved slots.
func WritePOX(w io.Writer, points []model.SkyPoint, opts POXOptions) (int, error) {
	exported := Exportable(points)
	bw := bufio.NewWriter(w)

	fmt.Fprintln(bw, len(exported))
	for i, p := range exported {
		n := i + 1
		switch {
		case opts.LegacyDDM:
			fmt.Fprintf(bw, "\"Number %d\"\n", n)
		case p.IsSyncPoint:
			fmt.Fprintf(bw, "\"Number %d sync point\"\n", n)
		default:
			fmt.Fprintf(bw, "\"Number %d no pointing correction\"\n", n)
		}

		t := p.CaptureTime
		fmt.Fprintf(bw, "\"'%s'\"\n", t.Format("2006-01-02T15:04:05.00"))
		fmt.Fprintf(bw, "\"%s\"\n", t.Format("04:05.00"))
		fmt.Fprintf(bw, "\"%s\"\n", formatNumber(opts.ExposureTime))

		solvedRA := formatNumber(p.PlateSolvedRA)
		solvedDec := formatNumber(p.PlateSolvedDec)
		mountRA, mountDec := formatNumber(p.MountReportedRA), formatNumber(p.MountReportedDec)
		if p.IsSyncPoint {
			mountRA, mountDec = solvedRA, solvedDec
		}
		fmt.Fprintln(bw, mountRA)
		fmt.Fprintln(bw, solvedRA)
		fmt.Fprintln(bw, mountDec)
		fmt.Fprintln(bw, solvedDec)

		if p.MountReportedPierSide == model.PierEast {
			fmt.Fprintln(bw, "\"1\"")
		} else {
			fmt.Fprintln(bw, "\"-1\"")
		}
		fmt.Fprintln(bw, poxSeparator)
	}
	if err := bw.Flush(); err != nil {
		return 0, fmt.Errorf("write pointing log: %w", err)
	}
	return len(exported), nil
}

func formatNumber(v float64) string {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return "0"
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// FileWriter writes pointing logs into a directory, one timestamped file per
// committed model.
type FileWriter struct {
	Dir     string
	Options POXOptions
	Clock   timectrl.Clock
	Log     logging.Logger
}

// WriteArtifact creates Dir if needed and writes the pointing log. It
// returns the path written and the number of points exported.
func (f *FileWriter) WriteArtifact(ctx context.Context, points []model.SkyPoint) (string, int, error) {
	log := f.Log
	if log == nil {
		log = logging.Noop()
	}
	if err := os.MkdirAll(f.Dir, 0o755); err != nil {
		return "", 0, fmt.Errorf("create artifact directory: %w", err)
	}
	now := timectrl.OrSystem(f.Clock).Now()
	path := filepath.Join(f.Dir, now.Format("skymodel-2006-01-02-15-04-05")+".pox")

	file, err := os.Create(path)
	if err != nil {
		return "", 0, fmt.Errorf("create pointing log: %w", err)
	}
	n, err := WritePOX(file, points, f.Options)
	if cerr := file.Close(); err == nil && cerr != nil {
		err = fmt.Errorf("close pointing log: %w", cerr)
	}
	if err != nil {
		return "", 0, err
	}
	log.Info(ctx, "pointing log written",
		logging.String("path", path),
		logging.Int("points", n),
	)
	return path, n, nil
}
