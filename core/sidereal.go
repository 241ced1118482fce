package core

import (
	"time"

	satellite "github.com/joshuaferrara/go-satellite"
)

// J2000 is the reference instant of the J2000.0 epoch.
var J2000 = time.Date(2000, time.January, 1, 12, 0, 0, 0, time.UTC)

// JulianDate returns the Julian date of t, including sub-second precision.
func JulianDate(t time.Time) float64 {
	t = t.UTC()
	year, month, day := t.Date()
	hour, min, sec := t.Clock()
	jd := satellite.JDay(year, int(month), day, hour, min, sec)
	return jd + float64(t.Nanosecond())/(86400.0*1e9)
}

// GreenwichSiderealTime returns the Greenwich mean sidereal time at t in
// hours.
func GreenwichSiderealTime(t time.Time) float64 {
	gmst := satellite.ThetaG_JD(JulianDate(t))
	return NormalizeHours(Degrees(gmst) / 15.0)
}

// LocalSiderealTime returns the local mean sidereal time at t for the given
// east-positive longitude, in hours.
func LocalSiderealTime(t time.Time, longitudeDeg float64) float64 {
	return NormalizeHours(GreenwichSiderealTime(t) + longitudeDeg/15.0)
}

// HourAngle returns LST - RA wrapped into [-12, 12).
func HourAngle(raHours, lstHours float64) float64 {
	return SignedHours(lstHours - raHours)
}
