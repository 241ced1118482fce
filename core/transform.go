package core

import (
	"math"
	"time"

	"github.com/signalsfoundry/skymodel/model"
)

// Atmosphere is the environmental snapshot used for refraction. A zero
// pressure disables refraction entirely. The optical model only depends on
// pressure and temperature.
type Atmosphere struct {
	PressureHPa  float64
	TemperatureC float64
	Humidity     float64 // relative, 0..1
	Wavelength   float64 // microns
}

// Enabled reports whether refraction should be applied.
func (a Atmosphere) Enabled() bool { return a.PressureHPa > 0 }

func (a Atmosphere) scale() float64 {
	return (a.PressureHPa / 1010.0) * (283.0 / (273.0 + a.TemperatureC))
}

// RefractionFromTrue returns the refraction in degrees to add to a true
// (geometric) altitude to obtain the apparent altitude.
func RefractionFromTrue(trueAlt float64, atm Atmosphere) float64 {
	if !atm.Enabled() || trueAlt < -1 {
		return 0
	}
	r := 1.02 / math.Tan(Radians(trueAlt+10.3/(trueAlt+5.11)))
	return math.Max(0, r*atm.scale()/60.0)
}

// RefractionFromApparent returns the refraction in degrees to subtract from
// an apparent altitude to obtain the true altitude.
func RefractionFromApparent(apparentAlt float64, atm Atmosphere) float64 {
	if !atm.Enabled() || apparentAlt < -1 {
		return 0
	}
	r := 1.0 / math.Tan(Radians(apparentAlt+7.31/(apparentAlt+4.4)))
	return math.Max(0, r*atm.scale()/60.0)
}

// HorizontalToEquatorial converts a true altitude/azimuth (azimuth from
// north through east) to hour angle (hours) and declination (degrees).
func HorizontalToEquatorial(alt, az, latitude float64) (haHours, dec float64) {
	h := Radians(alt)
	a := Radians(az)
	phi := Radians(latitude)

	sinDec := math.Sin(h)*math.Sin(phi) + math.Cos(h)*math.Cos(phi)*math.Cos(a)
	dec = Degrees(math.Asin(clampUnit(sinDec)))

	y := -math.Sin(a) * math.Cos(h)
	x := math.Sin(h)*math.Cos(phi) - math.Cos(h)*math.Sin(phi)*math.Cos(a)
	haHours = SignedHours(Degrees(math.Atan2(y, x)) / 15.0)
	return haHours, dec
}

// EquatorialToHorizontal converts hour angle (hours) and declination
// (degrees) to true altitude and azimuth in degrees.
func EquatorialToHorizontal(haHours, dec, latitude float64) (alt, az float64) {
	H := Radians(haHours * 15.0)
	d := Radians(dec)
	phi := Radians(latitude)

	sinAlt := math.Sin(phi)*math.Sin(d) + math.Cos(phi)*math.Cos(d)*math.Cos(H)
	alt = Degrees(math.Asin(clampUnit(sinAlt)))

	y := -math.Cos(d) * math.Sin(H)
	x := math.Sin(d)*math.Cos(phi) - math.Cos(d)*math.Sin(phi)*math.Cos(H)
	az = NormalizeDegrees(Degrees(math.Atan2(y, x)))
	return alt, az
}

// TopocentricToCelestial converts an observed (apparent) alt/az at time t to
// JNow equatorial coordinates.
func TopocentricToCelestial(alt, az float64, site model.Site, t time.Time, atm Atmosphere) model.Coordinates {
	trueAlt := alt - RefractionFromApparent(alt, atm)
	ha, dec := HorizontalToEquatorial(trueAlt, az, site.Latitude)
	lst := LocalSiderealTime(t, site.Longitude)
	return model.Coordinates{
		RA:    NormalizeHours(lst - ha),
		Dec:   dec,
		Epoch: model.EpochJNow,
	}
}

// CelestialToTopocentric converts equatorial coordinates to the apparent
// alt/az at time t. J2000 input is precessed to the date first.
func CelestialToTopocentric(c model.Coordinates, site model.Site, t time.Time, atm Atmosphere) (alt, az float64) {
	c = ToJNow(c, t)
	lst := LocalSiderealTime(t, site.Longitude)
	alt, az = EquatorialToHorizontal(HourAngle(c.RA, lst), c.Dec, site.Latitude)
	return alt + RefractionFromTrue(alt, atm), az
}

// ExpectedPierSide returns the pier side a German equatorial mount uses for
// a target at the given right ascension. Targets west of the meridian are
// taken with the tube on the east side of the pier.
func ExpectedPierSide(raHours, lstHours float64) model.PierSide {
	if HourAngle(raHours, lstHours) >= 0 {
		return model.PierEast
	}
	return model.PierWest
}

// AngularSeparation returns the great-circle distance between two
// equatorial positions in degrees.
func AngularSeparation(ra1Hours, dec1, ra2Hours, dec2 float64) float64 {
	a1, d1 := Radians(ra1Hours*15), Radians(dec1)
	a2, d2 := Radians(ra2Hours*15), Radians(dec2)
	// haversine form stays accurate for the sub-arcsecond residuals we care
	// about.
	sd := math.Sin((d2 - d1) / 2)
	sa := math.Sin((a2 - a1) / 2)
	h := sd*sd + math.Cos(d1)*math.Cos(d2)*sa*sa
	return Degrees(2 * math.Asin(math.Sqrt(clampUnit(h))))
}
