package model

import "math"

// GenerationType identifies which generator produced a point set. It
// changes how the builder orders and commits the points.
type GenerationType int

const (
	GenerationGoldenSpiral GenerationType = iota
	GenerationAutoGrid
	GenerationSiderealPath
)

func (g GenerationType) String() string {
	switch g {
	case GenerationAutoGrid:
		return "autogrid"
	case GenerationSiderealPath:
		return "sidereal"
	default:
		return "spiral"
	}
}

// PathOrdering selects how auto-grid points are traversed.
type PathOrdering int

const (
	// PathOrderingAzimuth uses the regular azimuth / dome-window comparator.
	PathOrderingAzimuth PathOrdering = iota
	// PathOrderingBandPath walks each declination ring in pier-side passes,
	// starting from the far east of the ring.
	PathOrderingBandPath
)

// BuildOptions is the immutable configuration snapshot for a single build.
// It is passed by value so no layer can mutate it mid-build.
type BuildOptions struct {
	// MaxConcurrency bounds the in-flight capture+solve pipelines; 0 means
	// unbounded.
	MaxConcurrency int
	NumRetries     int
	// MaxPointRMS in arcseconds. Zero or +Inf disables the check.
	MaxPointRMS float64
	// MaxFailedPoints is the per-iteration failure budget; 0 disables it.
	MaxFailedPoints int

	DomeShutterWidthMM  float64
	DomeControlExternal bool

	WestToEastSorting                    bool
	AlternateDirectionsBetweenIterations bool
	MinimizeDomeMovement                 bool
	MinimizeMeridianFlips                bool

	AllowBlindSolves             bool
	PlateSolveSubframePercentage float64
	DisableRefractionCorrection  bool
	IsLegacyDDM                  bool

	UseSync          bool
	SyncEveryHA      float64 // degrees of azimuth between sync points
	SyncEastAltitude float64
	SyncEastAzimuth  float64
	SyncWestAltitude float64
	SyncWestAzimuth  float64
	RefEastAltitude  float64
	RefEastAzimuth   float64
	RefWestAltitude  float64
	RefWestAzimuth   float64

	GenerationType GenerationType
	PathOrdering   PathOrdering
}

// DefaultBuildOptions mirrors the defaults presented to users.
func DefaultBuildOptions() BuildOptions {
	return BuildOptions{
		MaxConcurrency:                       3,
		MaxPointRMS:                          math.Inf(1),
		MinimizeDomeMovement:                 true,
		MinimizeMeridianFlips:                true,
		AlternateDirectionsBetweenIterations: true,
		PlateSolveSubframePercentage:         1.0,
		SyncEveryHA:                          30,
		SyncEastAltitude:                     65,
		SyncEastAzimuth:                      90,
		SyncWestAltitude:                     65,
		SyncWestAzimuth:                      270,
		RefEastAltitude:                      65,
		RefEastAzimuth:                       90,
		RefWestAltitude:                      65,
		RefWestAzimuth:                       270,
	}
}

// RMSLimitEnabled reports whether MaxPointRMS should classify points.
func (o BuildOptions) RMSLimitEnabled() bool {
	return o.MaxPointRMS > 0 && !math.IsInf(o.MaxPointRMS, 1) && !math.IsNaN(o.MaxPointRMS)
}

// Site is the observer location.
type Site struct {
	Latitude  float64 // degrees, north positive
	Longitude float64 // degrees, east positive
	Elevation float64 // metres
}

// GeneratorBounds limits where generated points may land.
type GeneratorBounds struct {
	MinAltitude float64
	MaxAltitude float64
	MinAzimuth  float64
	MaxAzimuth  float64
}

// DefaultGeneratorBounds accepts the whole visible hemisphere.
func DefaultGeneratorBounds() GeneratorBounds {
	return GeneratorBounds{MinAltitude: 0, MaxAltitude: 90, MinAzimuth: 0, MaxAzimuth: 360}
}

// PlateSolveSettings describes the capture and solve parameters used for
// every point.
type PlateSolveSettings struct {
	ExposureTime   float64 // seconds
	Filter         string
	Binning        int
	SearchRadius   float64 // degrees
	FocalLength    float64 // mm
	PixelSize      float64 // microns
	DownSample     int
	MaxObjects     int
	Regions        int
	BlindSolveOnly bool
}

// DomeSettings describes the dome as configured in the profile.
type DomeSettings struct {
	RadiusMM                float64
	AzimuthToleranceDegrees float64
}

// Epoch of an equatorial coordinate pair.
type Epoch int

const (
	EpochJ2000 Epoch = iota
	EpochJNow
)

func (e Epoch) String() string {
	if e == EpochJNow {
		return "JNOW"
	}
	return "J2000"
}

// Coordinates is an equatorial position.
type Coordinates struct {
	RA    float64 // hours
	Dec   float64 // degrees
	Epoch Epoch
}

// Separation is an RA/Dec offset applied on top of computed coordinates.
type Separation struct {
	RA  float64 // hours
	Dec float64 // degrees
}

// Add applies the separation, wrapping RA into [0,24) and clamping Dec.
func (c Coordinates) Add(s Separation) Coordinates {
	ra := math.Mod(c.RA+s.RA, 24)
	if ra < 0 {
		ra += 24
	}
	dec := math.Max(-90, math.Min(90, c.Dec+s.Dec))
	return Coordinates{RA: ra, Dec: dec, Epoch: c.Epoch}
}

// AlignmentModel summarises a committed alignment.
type AlignmentModel struct {
	PointCount   int
	RMSError     float64 // arcseconds
	ArtifactPath string
}

// BuildResult is returned by a finished build.
type BuildResult struct {
	// Model is nil when the final iteration did not produce enough points to
	// commit.
	Model        *AlignmentModel
	Points       []SkyPoint
	Attempts     int
	FailedPoints int
	Stopped      bool
}
