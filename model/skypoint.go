package model

import (
	"fmt"
	"math"
	"time"
)

// PointState tracks where a sky point is in the build pipeline.
type PointState int

const (
	PointGenerated PointState = iota
	PointUpNext
	PointExposing
	PointProcessing
	PointAddedToModel
	PointFailed
	PointFailedRMS
	PointOutsideAltitudeBounds
	PointOutsideAzimuthBounds
	PointBelowHorizon
)

var pointStateNames = [...]string{
	PointGenerated:             "Generated",
	PointUpNext:                "Next",
	PointExposing:              "Exposing Image",
	PointProcessing:            "Processing",
	PointAddedToModel:          "Added to Model",
	PointFailed:                "Failed",
	PointFailedRMS:             "High RMS",
	PointOutsideAltitudeBounds: "Outside Altitude Bounds",
	PointOutsideAzimuthBounds:  "Outside Azimuth Bounds",
	PointBelowHorizon:          "Below Horizon",
}

func (s PointState) String() string {
	if s < 0 || int(s) >= len(pointStateNames) {
		return fmt.Sprintf("PointState(%d)", int(s))
	}
	return pointStateNames[s]
}

// IsEligibleForBuild reports whether a point in this state should be visited
// by the next point-processing loop.
func (s PointState) IsEligibleForBuild() bool {
	return s == PointGenerated
}

// IsPermanentlyIneligible reports whether the state was assigned at
// generation time and can never be re-entered into a build.
func (s PointState) IsPermanentlyIneligible() bool {
	switch s {
	case PointOutsideAltitudeBounds, PointOutsideAzimuthBounds, PointBelowHorizon:
		return true
	default:
		return false
	}
}

// IsInFlight reports whether the point is somewhere between selection and a
// terminal build outcome.
func (s PointState) IsInFlight() bool {
	switch s {
	case PointUpNext, PointExposing, PointProcessing:
		return true
	default:
		return false
	}
}

// PierSide is the side of the pier the telescope tube sits on.
type PierSide int

const (
	PierUnknown PierSide = iota
	PierEast
	PierWest
)

func (p PierSide) String() string {
	switch p {
	case PierEast:
		return "East"
	case PierWest:
		return "West"
	default:
		return "Unknown"
	}
}

// Opposite returns the other pier side; unknown stays unknown.
func (p PierSide) Opposite() PierSide {
	switch p {
	case PierEast:
		return PierWest
	case PierWest:
		return PierEast
	default:
		return PierUnknown
	}
}

// SkyPoint is a single target position on the sky, in local horizontal
// coordinates, together with everything the build learns about it.
type SkyPoint struct {
	Altitude float64 // degrees
	Azimuth  float64 // degrees, [0,360)
	State    PointState

	// ModelIndex is the 1-based position in the alignment spec once the
	// point has been registered, or the traversal index while building.
	ModelIndex int

	// Auto-grid metadata. All values are -1 when the point was not produced
	// by the auto-grid generator.
	BandIndex                 int
	BandSequence              int
	BandPointCount            int
	BandEastToWestOrder       int
	RadialBandIndex           int
	RadialBandEastToWestOrder int

	// Dome window. NaN means the point is unconstrained by the dome.
	MinDomeAzimuth float64
	MaxDomeAzimuth float64
	DomeAzimuth    float64
	DomeAltitude   float64

	ExpectedPierSide PierSide
	DesiredPierSide  PierSide

	MountReportedRA       float64 // hours, J2000
	MountReportedDec      float64 // degrees, J2000
	MountReportedLST      float64 // hours
	MountReportedPierSide PierSide

	PlateSolvedRA  float64 // hours, J2000
	PlateSolvedDec float64 // degrees, J2000

	// RMSError is the residual between mount-reported and solved position in
	// arcseconds.
	RMSError    float64
	CaptureTime time.Time

	IsSyncPoint            bool
	IsDualSideOverlapPoint bool
}

// NewSkyPoint returns a point with every optional field in its unset state.
func NewSkyPoint(altitude, azimuth float64, state PointState) SkyPoint {
	return SkyPoint{
		Altitude:                  altitude,
		Azimuth:                   azimuth,
		State:                     state,
		ModelIndex:                -1,
		BandIndex:                 -1,
		BandSequence:              -1,
		BandPointCount:            -1,
		BandEastToWestOrder:       -1,
		RadialBandIndex:           -1,
		RadialBandEastToWestOrder: -1,
		MinDomeAzimuth:            math.NaN(),
		MaxDomeAzimuth:            math.NaN(),
		DomeAzimuth:               math.NaN(),
		DomeAltitude:              math.NaN(),
		MountReportedRA:           math.NaN(),
		MountReportedDec:          math.NaN(),
		MountReportedLST:          math.NaN(),
		PlateSolvedRA:             math.NaN(),
		PlateSolvedDec:            math.NaN(),
		RMSError:                  math.NaN(),
	}
}

// HasDomeWindow reports whether the dome geometry constrains this point.
func (p SkyPoint) HasDomeWindow() bool {
	return !math.IsNaN(p.MinDomeAzimuth) && !math.IsNaN(p.MaxDomeAzimuth)
}

// HasSolution reports whether finite plate-solved coordinates are recorded.
func (p SkyPoint) HasSolution() bool {
	return isFinite(p.PlateSolvedRA) && isFinite(p.PlateSolvedDec)
}

// ResetForBuild clears everything a previous build recorded on the point
// while leaving the generated geometry and auto-grid metadata intact.
// Permanently ineligible points keep their state.
func (p *SkyPoint) ResetForBuild() {
	if !p.State.IsPermanentlyIneligible() {
		p.State = PointGenerated
	}
	p.ModelIndex = -1
	p.MinDomeAzimuth = math.NaN()
	p.MaxDomeAzimuth = math.NaN()
	p.DomeAzimuth = math.NaN()
	p.DomeAltitude = math.NaN()
	p.ExpectedPierSide = PierUnknown
	p.MountReportedRA = math.NaN()
	p.MountReportedDec = math.NaN()
	p.MountReportedLST = math.NaN()
	p.MountReportedPierSide = PierUnknown
	p.PlateSolvedRA = math.NaN()
	p.PlateSolvedDec = math.NaN()
	p.RMSError = math.NaN()
	p.CaptureTime = time.Time{}
}

func (p SkyPoint) String() string {
	prefix := ""
	if p.IsSyncPoint {
		prefix = "sync "
	}
	return fmt.Sprintf("%spoint Alt=%.3f Az=%.3f state=%s", prefix, p.Altitude, p.Azimuth, p.State)
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
