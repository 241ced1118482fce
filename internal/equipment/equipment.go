// Package equipment declares the hardware and service collaborators the
// model builder drives. Implementations live elsewhere: the simulator in
// equipment/sim, real drivers in whatever host embeds the builder.
package equipment

import (
	"context"
	"time"

	"github.com/signalsfoundry/skymodel/model"
)

// TelescopeInfo is a snapshot of mount state.
type TelescopeInfo struct {
	Connected    bool
	AtPark       bool
	Slewing      bool
	Coordinates  model.Coordinates
	SiderealTime float64 // hours
	SideOfPier   model.PierSide
	UTCTime      time.Time
}

// Telescope is the mount.
type Telescope interface {
	Info(ctx context.Context) TelescopeInfo
	Unpark(ctx context.Context) error
	Park(ctx context.Context) error
	// SlewToCoordinates reports false when the mount refused or failed the
	// slew without an infrastructure error.
	SlewToCoordinates(ctx context.Context, target model.Coordinates) (bool, error)
}

// RefractionController is implemented by mounts that apply their own
// refraction correction.
type RefractionController interface {
	RefractionCorrectionEnabled() bool
	SetRefractionCorrection(enabled bool) bool
	Pressure() float64    // hPa
	Temperature() float64 // °C
}

// PierSideForcer is implemented by mounts that can be told which side of
// the pier to use for the next slew.
type PierSideForcer interface {
	ForceNextPierSide(side model.PierSide) bool
}

// AxisLimitReporter is implemented by mounts that know how long they can
// keep tracking before hitting an axis limit.
type AxisLimitReporter interface {
	TimeToLimit() (time.Duration, bool)
}

// PathModelSender is implemented by mounts that accept a tracking path
// model built from sidereal-path pointings.
type PathModelSender interface {
	SendPathModel(ctx context.Context, payload []byte) bool
}

// CameraInfo is a snapshot of camera state.
type CameraInfo struct {
	Connected    bool
	CanSubSample bool
	XSize        int
	YSize        int
	PixelSize    float64
}

// Rect is a subframe in binned pixels.
type Rect struct {
	X, Y, Width, Height float64
}

// CaptureSpec describes a single plate-solve exposure.
type CaptureSpec struct {
	ExposureTime float64
	Filter       string
	Binning      int
	Subframe     *Rect
}

// Exposure is the opaque result of a capture. Image is owned by the camera
// implementation; the builder only forwards it to the solver and previewer.
type Exposure struct {
	Start    time.Time
	Duration time.Duration
	Image    any
}

// Camera captures exposures.
type Camera interface {
	Info(ctx context.Context) CameraInfo
	Capture(ctx context.Context, spec CaptureSpec) (*Exposure, error)
}

// Previewer receives a copy of every exposure for display. It must not
// block; failures are invisible to the build.
type Previewer interface {
	Prepare(ctx context.Context, exposure Exposure)
}

// DomeInfo is a snapshot of dome state.
type DomeInfo struct {
	Connected      bool
	CanSetAzimuth  bool
	Slewing        bool
	Azimuth        float64
	FollowingScope bool
}

// Dome is the observatory dome.
type Dome interface {
	Info(ctx context.Context) DomeInfo
	SlewToAzimuth(ctx context.Context, azimuth float64) (bool, error)
	EnableFollowing(ctx context.Context) (bool, error)
	DisableFollowing(ctx context.Context) (bool, error)
	// SyncSlewEnabled and SetSyncSlew expose the "slew dome when the mount
	// slews" setting.
	SyncSlewEnabled() bool
	SetSyncSlew(enabled bool)
}

// DomeGeometry maps a pointing to the dome position that frames it.
type DomeGeometry interface {
	// TargetDomeCoordinates returns the dome altitude/azimuth needed to see
	// target when the mount is on sideOfPier.
	TargetDomeCoordinates(target model.Coordinates, lst float64, site model.Site, sideOfPier model.PierSide) (alt, az float64)
	// AzimuthRange returns the dome azimuth window through which a target
	// at (alt, az) is visible given the shutter width.
	AzimuthRange(alt, az, radiusMM, shutterWidthMM float64) (min, max float64)
}

// SolveParams are forwarded to the plate solver.
type SolveParams struct {
	Hint         model.Coordinates
	Binning      int
	SearchRadius float64
	FocalLength  float64
	PixelSize    float64
	DownSample   int
	MaxObjects   int
	Regions      int
	AllowBlind   bool
}

// SolveResult is the outcome of a plate solve.
type SolveResult struct {
	Success     bool
	Coordinates model.Coordinates
}

// PlateSolver solves exposures.
type PlateSolver interface {
	Solve(ctx context.Context, exposure *Exposure, params SolveParams) (SolveResult, error)
}

// WeatherInfo is a snapshot of the weather station.
type WeatherInfo struct {
	Connected   bool
	Temperature float64
	Pressure    float64
	Humidity    float64 // percent; NaN when unknown
}

// Weather reports ambient conditions.
type Weather interface {
	Info(ctx context.Context) WeatherInfo
}

// FilterWheelInfo is a snapshot of the filter wheel.
type FilterWheelInfo struct {
	Connected      bool
	SelectedFilter string
}

// FilterWheel selects filters.
type FilterWheel interface {
	Info(ctx context.Context) FilterWheelInfo
	ChangeFilter(ctx context.Context, name string) error
}

// GuiderInfo is a snapshot of the autoguider.
type GuiderInfo struct {
	Connected bool
	Guiding   bool
}

// Guider is stopped for the duration of a build.
type Guider interface {
	Info(ctx context.Context) GuiderInfo
	StopGuiding(ctx context.Context) (bool, error)
	StartGuiding(ctx context.Context) (bool, error)
}

// AlignmentSpec collects solved points for the mount's pointing model.
type AlignmentSpec interface {
	Start(ctx context.Context) error
	// Add registers a solved point and returns its 1-based model index.
	Add(ctx context.Context, point model.SkyPoint) (int, error)
	Delete(ctx context.Context) error
	Points() []model.SkyPoint
}

// ArtifactWriter persists a committed model, typically as a pointing log.
// It returns where the artifact went and how many points it holds.
type ArtifactWriter interface {
	WriteArtifact(ctx context.Context, points []model.SkyPoint) (string, int, error)
}
