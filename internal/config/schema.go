package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/mitchellh/go-homedir"

	"github.com/signalsfoundry/skymodel/model"
)

// The hcl* types mirror the file layout. Optional attributes are pointers so
// an absent attribute keeps the default instead of zeroing it.

type hclProfile struct {
	Site         hclSite        `hcl:"site,block"`
	PlateSolve   *hclPlateSolve `hcl:"plate_solve,block"`
	Dome         *hclDome       `hcl:"dome,block"`
	Generator    *hclGenerator  `hcl:"generator,block"`
	Build        *hclBuild      `hcl:"build,block"`
	Simulator    *hclSimulator  `hcl:"simulator,block"`
	ArtifactsDir *string        `hcl:"artifacts_dir,optional"`
}

type hclSite struct {
	Latitude  float64  `hcl:"latitude"`
	Longitude float64  `hcl:"longitude"`
	Elevation *float64 `hcl:"elevation,optional"`
}

type hclPlateSolve struct {
	ExposureTime   *float64 `hcl:"exposure_time,optional"`
	Filter         *string  `hcl:"filter,optional"`
	Binning        *int     `hcl:"binning,optional"`
	SearchRadius   *float64 `hcl:"search_radius,optional"`
	FocalLength    *float64 `hcl:"focal_length,optional"`
	PixelSize      *float64 `hcl:"pixel_size,optional"`
	DownSample     *int     `hcl:"down_sample,optional"`
	MaxObjects     *int     `hcl:"max_objects,optional"`
	Regions        *int     `hcl:"regions,optional"`
	BlindSolveOnly *bool    `hcl:"blind_solve_only,optional"`
}

type hclDome struct {
	RadiusMM         *float64 `hcl:"radius_mm,optional"`
	AzimuthTolerance *float64 `hcl:"azimuth_tolerance,optional"`
	ShutterWidthMM   *float64 `hcl:"shutter_width_mm,optional"`
	ExternalControl  *bool    `hcl:"external_control,optional"`
}

type hclGenerator struct {
	MinAltitude *float64 `hcl:"min_altitude,optional"`
	MaxAltitude *float64 `hcl:"max_altitude,optional"`
	MinAzimuth  *float64 `hcl:"min_azimuth,optional"`
	MaxAzimuth  *float64 `hcl:"max_azimuth,optional"`
	HorizonFile *string  `hcl:"horizon_file,optional"`
}

type hclBuild struct {
	MaxConcurrency        *int     `hcl:"max_concurrency,optional"`
	NumRetries            *int     `hcl:"num_retries,optional"`
	MaxPointRMS           *float64 `hcl:"max_point_rms,optional"`
	MaxFailedPoints       *int     `hcl:"max_failed_points,optional"`
	WestToEast            *bool    `hcl:"west_to_east,optional"`
	AlternateDirections   *bool    `hcl:"alternate_directions,optional"`
	MinimizeDomeMovement  *bool    `hcl:"minimize_dome_movement,optional"`
	MinimizeMeridianFlips *bool    `hcl:"minimize_meridian_flips,optional"`
	AllowBlindSolves      *bool    `hcl:"allow_blind_solves,optional"`
	SubframePercentage    *float64 `hcl:"subframe_percentage,optional"`
	DisableRefraction     *bool    `hcl:"disable_refraction_correction,optional"`
	LegacyDDM             *bool    `hcl:"legacy_ddm,optional"`
	PathOrdering          *string  `hcl:"path_ordering,optional"`
	Sync                  *hclSync `hcl:"sync,block"`
}

// A sync block turns sync points on unless enabled = false.
type hclSync struct {
	Enabled         *bool    `hcl:"enabled,optional"`
	Every           *float64 `hcl:"every,optional"`
	EastAltitude    *float64 `hcl:"east_altitude,optional"`
	EastAzimuth     *float64 `hcl:"east_azimuth,optional"`
	WestAltitude    *float64 `hcl:"west_altitude,optional"`
	WestAzimuth     *float64 `hcl:"west_azimuth,optional"`
	RefEastAltitude *float64 `hcl:"ref_east_altitude,optional"`
	RefEastAzimuth  *float64 `hcl:"ref_east_azimuth,optional"`
	RefWestAltitude *float64 `hcl:"ref_west_altitude,optional"`
	RefWestAzimuth  *float64 `hcl:"ref_west_azimuth,optional"`
}

type hclSimulator struct {
	SlewFailureRate    *float64 `hcl:"slew_failure_rate,optional"`
	CaptureFailureRate *float64 `hcl:"capture_failure_rate,optional"`
	SolveFailureRate   *float64 `hcl:"solve_failure_rate,optional"`
	PointingError      *float64 `hcl:"pointing_error,optional"`
	SlewRate           *float64 `hcl:"slew_rate,optional"`
	DomeSlewRate       *float64 `hcl:"dome_slew_rate,optional"`
	SolveTime          *float64 `hcl:"solve_time,optional"`
	MeridianLimit      *float64 `hcl:"meridian_limit,optional"`
	Seed               *int64   `hcl:"seed,optional"`
}

func decode(body hcl.Body, baseDir string) (*Profile, error) {
	var raw hclProfile
	if diags := gohcl.DecodeBody(body, nil, &raw); diags.HasErrors() {
		return nil, fmt.Errorf("%w: decode: %w", ErrInvalidProfile, diags)
	}

	p := Default(model.Site{Latitude: raw.Site.Latitude, Longitude: raw.Site.Longitude})
	set(&p.Site.Elevation, raw.Site.Elevation)

	if ps := raw.PlateSolve; ps != nil {
		set(&p.PlateSolve.ExposureTime, ps.ExposureTime)
		set(&p.PlateSolve.Filter, ps.Filter)
		set(&p.PlateSolve.Binning, ps.Binning)
		set(&p.PlateSolve.SearchRadius, ps.SearchRadius)
		set(&p.PlateSolve.FocalLength, ps.FocalLength)
		set(&p.PlateSolve.PixelSize, ps.PixelSize)
		set(&p.PlateSolve.DownSample, ps.DownSample)
		set(&p.PlateSolve.MaxObjects, ps.MaxObjects)
		set(&p.PlateSolve.Regions, ps.Regions)
		set(&p.PlateSolve.BlindSolveOnly, ps.BlindSolveOnly)
	}

	if d := raw.Dome; d != nil {
		set(&p.Dome.RadiusMM, d.RadiusMM)
		set(&p.Dome.AzimuthToleranceDegrees, d.AzimuthTolerance)
		set(&p.Options.DomeShutterWidthMM, d.ShutterWidthMM)
		set(&p.Options.DomeControlExternal, d.ExternalControl)
	}

	if g := raw.Generator; g != nil {
		set(&p.Bounds.MinAltitude, g.MinAltitude)
		set(&p.Bounds.MaxAltitude, g.MaxAltitude)
		set(&p.Bounds.MinAzimuth, g.MinAzimuth)
		set(&p.Bounds.MaxAzimuth, g.MaxAzimuth)
		if g.HorizonFile != nil {
			path, err := resolvePath(*g.HorizonFile, baseDir)
			if err != nil {
				return nil, err
			}
			p.HorizonFile = path
		}
	}

	if b := raw.Build; b != nil {
		if err := applyBuild(&p.Options, b); err != nil {
			return nil, err
		}
	}

	if s := raw.Simulator; s != nil {
		set(&p.Simulator.SlewFailureRate, s.SlewFailureRate)
		set(&p.Simulator.CaptureFailureRate, s.CaptureFailureRate)
		set(&p.Simulator.SolveFailureRate, s.SolveFailureRate)
		set(&p.Simulator.PointingErrorArcsec, s.PointingError)
		set(&p.Simulator.SlewRate, s.SlewRate)
		set(&p.Simulator.DomeSlewRate, s.DomeSlewRate)
		set(&p.Simulator.SolveSeconds, s.SolveTime)
		set(&p.Simulator.MeridianLimitHours, s.MeridianLimit)
		if s.Seed != nil {
			if *s.Seed < 0 {
				return nil, fmt.Errorf("%w: simulator.seed must be >= 0", ErrInvalidProfile)
			}
			p.Simulator.Seed = uint64(*s.Seed)
		}
	}

	if raw.ArtifactsDir != nil {
		path, err := resolvePath(*raw.ArtifactsDir, baseDir)
		if err != nil {
			return nil, err
		}
		p.ArtifactsDir = path
	}

	if err := validateProfile(&p); err != nil {
		return nil, err
	}
	return &p, nil
}

func applyBuild(o *model.BuildOptions, b *hclBuild) error {
	set(&o.MaxConcurrency, b.MaxConcurrency)
	set(&o.NumRetries, b.NumRetries)
	set(&o.MaxPointRMS, b.MaxPointRMS)
	set(&o.MaxFailedPoints, b.MaxFailedPoints)
	set(&o.WestToEastSorting, b.WestToEast)
	set(&o.AlternateDirectionsBetweenIterations, b.AlternateDirections)
	set(&o.MinimizeDomeMovement, b.MinimizeDomeMovement)
	set(&o.MinimizeMeridianFlips, b.MinimizeMeridianFlips)
	set(&o.AllowBlindSolves, b.AllowBlindSolves)
	set(&o.PlateSolveSubframePercentage, b.SubframePercentage)
	set(&o.DisableRefractionCorrection, b.DisableRefraction)
	set(&o.IsLegacyDDM, b.LegacyDDM)

	if b.PathOrdering != nil {
		ordering, err := ParsePathOrdering(*b.PathOrdering)
		if err != nil {
			return err
		}
		o.PathOrdering = ordering
	}

	if s := b.Sync; s != nil {
		o.UseSync = true
		set(&o.UseSync, s.Enabled)
		set(&o.SyncEveryHA, s.Every)
		set(&o.SyncEastAltitude, s.EastAltitude)
		set(&o.SyncEastAzimuth, s.EastAzimuth)
		set(&o.SyncWestAltitude, s.WestAltitude)
		set(&o.SyncWestAzimuth, s.WestAzimuth)
		set(&o.RefEastAltitude, s.RefEastAltitude)
		set(&o.RefEastAzimuth, s.RefEastAzimuth)
		set(&o.RefWestAltitude, s.RefWestAltitude)
		set(&o.RefWestAzimuth, s.RefWestAzimuth)
	}
	return nil
}

// ParsePathOrdering maps "azimuth" and "band" to a model.PathOrdering.
func ParsePathOrdering(s string) (model.PathOrdering, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "azimuth":
		return model.PathOrderingAzimuth, nil
	case "band", "band_path", "bandpath":
		return model.PathOrderingBandPath, nil
	default:
		return 0, fmt.Errorf("%w: unknown path_ordering %q", ErrInvalidProfile, s)
	}
}

func set[T any](dst *T, src *T) {
	if src != nil {
		*dst = *src
	}
}

func resolvePath(path, baseDir string) (string, error) {
	expanded, err := homedir.Expand(path)
	if err != nil {
		return "", fmt.Errorf("%w: %q: %w", ErrInvalidProfile, path, err)
	}
	if expanded != "" && baseDir != "" && !filepath.IsAbs(expanded) {
		expanded = filepath.Join(baseDir, expanded)
	}
	return expanded, nil
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
