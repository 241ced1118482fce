package core

import "math"

const (
	degToRad = math.Pi / 180.0
	radToDeg = 180.0 / math.Pi

	// ArcsecPerDegree converts degrees to arcseconds.
	ArcsecPerDegree = 3600.0
)

// Radians converts degrees to radians.
func Radians(deg float64) float64 { return deg * degToRad }

// Degrees converts radians to degrees.
func Degrees(rad float64) float64 { return rad * radToDeg }

// EuclideanMod returns x mod m in [0, m) for positive m.
func EuclideanMod(x, m float64) float64 {
	r := math.Mod(x, m)
	if r < 0 {
		r += m
	}
	// math.Mod(-tiny, m)+m can round up to m itself.
	if r >= m {
		r = 0
	}
	return r
}

// NormalizeDegrees wraps an angle into [0, 360).
func NormalizeDegrees(deg float64) float64 { return EuclideanMod(deg, 360) }

// NormalizeHours wraps an hour angle or right ascension into [0, 24).
func NormalizeHours(h float64) float64 { return EuclideanMod(h, 24) }

// SignedHours wraps an hour value into [-12, 12).
func SignedHours(h float64) float64 {
	return EuclideanMod(h+12, 24) - 12
}

// CircularDistance is the shortest angular distance between two azimuths.
func CircularDistance(a, b float64) float64 {
	d := math.Mod(math.Abs(a-b), 360)
	if d <= 180 {
		return d
	}
	return 360 - d
}

// ClockwiseDistance is the azimuth travel from -> to moving through
// increasing azimuth (east, south, west).
func ClockwiseDistance(from, to float64) float64 {
	return EuclideanMod(to-from, 360)
}

// CounterClockwiseDistance is the azimuth travel from -> to moving through
// decreasing azimuth.
func CounterClockwiseDistance(from, to float64) float64 {
	return EuclideanMod(from-to, 360)
}

// AzimuthInWindow reports whether az lies inside [min, max], where the
// window may wrap through north (min > max after normalisation).
func AzimuthInWindow(az, min, max float64) bool {
	az = NormalizeDegrees(az)
	min = NormalizeDegrees(min)
	max = NormalizeDegrees(max)
	if max < min {
		return az >= min || az <= max
	}
	return az >= min && az <= max
}

func clampUnit(v float64) float64 {
	if v > 1 {
		return 1
	}
	if v < -1 {
		return -1
	}
	return v
}
