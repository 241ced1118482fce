// Package horizon models the local obstruction profile: the minimum visible
// altitude at each azimuth.
package horizon

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/signalsfoundry/skymodel/core"
)

// ErrEmptyHorizon is returned when a horizon file has no usable points.
var ErrEmptyHorizon = errors.New("horizon: no points")

// Model returns the minimum visible altitude (degrees) at an azimuth.
type Model interface {
	AltitudeAt(azimuth float64) float64
}

// Flat is a constant-altitude horizon.
type Flat float64

// AltitudeAt implements Model.
func (f Flat) AltitudeAt(float64) float64 { return float64(f) }

// OrFlat returns m, or a flat horizon at 0° when m is nil.
func OrFlat(m Model) Model {
	if m == nil {
		return Flat(0)
	}
	return m
}

// Point is one azimuth/altitude sample of a custom horizon.
type Point struct {
	Azimuth  float64
	Altitude float64
}

// Custom is a piecewise-linear horizon that wraps through north.
type Custom struct {
	points []Point
}

// NewCustom builds a horizon from samples. Azimuths are normalised and
// sorted; duplicates keep the last altitude.
func NewCustom(points []Point) (*Custom, error) {
	if len(points) == 0 {
		return nil, ErrEmptyHorizon
	}
	byAz := make(map[float64]float64, len(points))
	for _, p := range points {
		byAz[core.NormalizeDegrees(p.Azimuth)] = p.Altitude
	}
	sorted := make([]Point, 0, len(byAz))
	for az, alt := range byAz {
		sorted = append(sorted, Point{Azimuth: az, Altitude: alt})
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Azimuth < sorted[j].Azimuth })
	return &Custom{points: sorted}, nil
}

// Points returns a copy of the normalised samples.
func (c *Custom) Points() []Point {
	return append([]Point(nil), c.points...)
}

// AltitudeAt implements Model by interpolating between the neighbouring
// samples, wrapping from the last sample back to the first.
func (c *Custom) AltitudeAt(azimuth float64) float64 {
	n := len(c.points)
	if n == 1 {
		return c.points[0].Altitude
	}
	az := core.NormalizeDegrees(azimuth)
	idx := sort.Search(n, func(i int) bool { return c.points[i].Azimuth >= az })

	var lo, hi Point
	switch {
	case idx < n && c.points[idx].Azimuth == az:
		return c.points[idx].Altitude
	case idx == 0 || idx == n:
		lo, hi = c.points[n-1], c.points[0]
	default:
		lo, hi = c.points[idx-1], c.points[idx]
	}

	span := core.ClockwiseDistance(lo.Azimuth, hi.Azimuth)
	if span == 0 {
		return lo.Altitude
	}
	frac := core.ClockwiseDistance(lo.Azimuth, az) / span
	return lo.Altitude + frac*(hi.Altitude-lo.Altitude)
}

// Load parses a horizon description: one "azimuth altitude" pair per line,
// whitespace or comma separated. Blank lines and lines starting with '#' or
// "//" are ignored.
func Load(r io.Reader) (*Custom, error) {
	var points []Point
	scanner := bufio.NewScanner(r)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") || strings.HasPrefix(text, "//") {
			continue
		}
		fields := strings.FieldsFunc(text, func(r rune) bool { return r == ' ' || r == '\t' || r == ',' })
		if len(fields) < 2 {
			return nil, fmt.Errorf("horizon line %d: expected azimuth and altitude, got %q", line, text)
		}
		az, err := strconv.ParseFloat(fields[0], 64)
		if err != nil {
			return nil, fmt.Errorf("horizon line %d: azimuth: %w", line, err)
		}
		alt, err := strconv.ParseFloat(fields[1], 64)
		if err != nil {
			return nil, fmt.Errorf("horizon line %d: altitude: %w", line, err)
		}
		points = append(points, Point{Azimuth: az, Altitude: alt})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read horizon: %w", err)
	}
	return NewCustom(points)
}

// LoadFile reads a horizon file from disk.
func LoadFile(path string) (*Custom, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open horizon %s: %w", path, err)
	}
	defer f.Close()
	return Load(f)
}
