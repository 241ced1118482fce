package core

import (
	"math"
	"time"

	"github.com/signalsfoundry/skymodel/model"
)

type mat3 [3][3]float64

func (m mat3) mul(o mat3) mat3 {
	var r mat3
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			for k := 0; k < 3; k++ {
				r[i][j] += m[i][k] * o[k][j]
			}
		}
	}
	return r
}

func (m mat3) apply(v [3]float64) [3]float64 {
	return [3]float64{
		m[0][0]*v[0] + m[0][1]*v[1] + m[0][2]*v[2],
		m[1][0]*v[0] + m[1][1]*v[1] + m[1][2]*v[2],
		m[2][0]*v[0] + m[2][1]*v[1] + m[2][2]*v[2],
	}
}

func (m mat3) transpose() mat3 {
	var r mat3
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			r[i][j] = m[j][i]
		}
	}
	return r
}

func rotZ(a float64) mat3 {
	c, s := math.Cos(a), math.Sin(a)
	return mat3{{c, s, 0}, {-s, c, 0}, {0, 0, 1}}
}

func rotY(a float64) mat3 {
	c, s := math.Cos(a), math.Sin(a)
	return mat3{{c, 0, -s}, {0, 1, 0}, {s, 0, c}}
}

// precessionMatrix is the IAU 1976 rotation from J2000 to the mean equator
// and equinox of t.
func precessionMatrix(t time.Time) mat3 {
	T := (JulianDate(t) - 2451545.0) / 36525.0
	arcsec := Radians(1.0 / ArcsecPerDegree)
	zeta := (2306.2181*T + 0.30188*T*T + 0.017998*T*T*T) * arcsec
	z := (2306.2181*T + 1.09468*T*T + 0.018203*T*T*T) * arcsec
	theta := (2004.3109*T - 0.42665*T*T - 0.041833*T*T*T) * arcsec
	return rotZ(-z).mul(rotY(theta)).mul(rotZ(-zeta))
}

func toVector(raHours, dec float64) [3]float64 {
	a, d := Radians(raHours*15), Radians(dec)
	return [3]float64{math.Cos(d) * math.Cos(a), math.Cos(d) * math.Sin(a), math.Sin(d)}
}

func fromVector(v [3]float64) (raHours, dec float64) {
	ra := NormalizeHours(Degrees(math.Atan2(v[1], v[0])) / 15.0)
	return ra, Degrees(math.Asin(clampUnit(v[2])))
}

// ToJ2000 precesses JNow coordinates observed at t back to J2000. J2000
// input is returned unchanged.
func ToJ2000(c model.Coordinates, t time.Time) model.Coordinates {
	if c.Epoch == model.EpochJ2000 {
		return c
	}
	ra, dec := fromVector(precessionMatrix(t).transpose().apply(toVector(c.RA, c.Dec)))
	return model.Coordinates{RA: ra, Dec: dec, Epoch: model.EpochJ2000}
}

// ToJNow precesses J2000 coordinates to the mean equinox of t. JNow input
// is returned unchanged.
func ToJNow(c model.Coordinates, t time.Time) model.Coordinates {
	if c.Epoch == model.EpochJNow {
		return c
	}
	ra, dec := fromVector(precessionMatrix(t).apply(toVector(c.RA, c.Dec)))
	return model.Coordinates{RA: ra, Dec: dec, Epoch: model.EpochJNow}
}
