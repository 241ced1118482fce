// Package dome computes the dome azimuth windows through which each sky
// point is visible, and caches them between refreshes.
package dome

import (
	"math"

	"github.com/signalsfoundry/skymodel/core"
	"github.com/signalsfoundry/skymodel/model"
)

// SimpleGeometry models a mount centred in a hemispherical dome, so the dome
// points where the telescope points regardless of pier side.
type SimpleGeometry struct{}

// TargetDomeCoordinates implements equipment.DomeGeometry.
func (SimpleGeometry) TargetDomeCoordinates(target model.Coordinates, lst float64, site model.Site, _ model.PierSide) (alt, az float64) {
	return core.EquatorialToHorizontal(core.HourAngle(target.RA, lst), target.Dec, site.Latitude)
}

// AzimuthRange implements equipment.DomeGeometry. The shutter slot is a
// vertical strip, so the horizontal half-angle it subtends widens with
// altitude until the zenith is visible from any azimuth. The returned
// bounds are not normalised; max-min may reach 360.
func (SimpleGeometry) AzimuthRange(alt, az, radiusMM, shutterWidthMM float64) (min, max float64) {
	if radiusMM <= 0 || shutterWidthMM <= 0 {
		return az, az
	}
	ringRadius := radiusMM * math.Cos(core.Radians(alt))
	half := 180.0
	if ratio := shutterWidthMM / 2 / ringRadius; ringRadius > 0 && ratio < 1 {
		half = core.Degrees(math.Asin(ratio))
	}
	return az - half, az + half
}
