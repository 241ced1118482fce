// Package config loads observatory profiles.
//
// A profile is an HCL file describing the site, the plate-solve and dome
// settings, the generator bounds, the build options and the simulator used
// by the modelbuilder CLI. Every attribute except the site coordinates is
// optional; missing values fall back to the defaults shown to users.
//
//	site {
//	  latitude  = 48.1
//	  longitude = 11.6
//	}
//
//	plate_solve {
//	  exposure_time = 2
//	  filter        = "L"
//	}
//
//	build {
//	  max_concurrency = 3
//	  num_retries     = 2
//	}
package config

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/mitchellh/go-homedir"

	"github.com/signalsfoundry/skymodel/internal/equipment/sim"
	"github.com/signalsfoundry/skymodel/model"
)

// DefaultPath is where the CLI looks for a profile when none is given.
const DefaultPath = "~/.skymodel/profile.hcl"

// ErrInvalidProfile wraps every decode or validation failure.
var ErrInvalidProfile = errors.New("invalid profile")

// Profile is a fully resolved observatory profile.
type Profile struct {
	Site        model.Site
	PlateSolve  model.PlateSolveSettings
	Dome        model.DomeSettings
	Bounds      model.GeneratorBounds
	HorizonFile string
	Options     model.BuildOptions
	Simulator   SimulatorSettings
	// ArtifactsDir receives pointing-log files. Empty means the working
	// directory.
	ArtifactsDir string
}

// SimulatorSettings tunes the simulated observatory.
type SimulatorSettings struct {
	SlewFailureRate     float64 `validate:"gte=0,lte=1" label:"simulator.slew_failure_rate"`
	CaptureFailureRate  float64 `validate:"gte=0,lte=1" label:"simulator.capture_failure_rate"`
	SolveFailureRate    float64 `validate:"gte=0,lte=1" label:"simulator.solve_failure_rate"`
	PointingErrorArcsec float64 `validate:"gte=0" label:"simulator.pointing_error"`
	SlewRate            float64 `validate:"gte=0" label:"simulator.slew_rate"`
	DomeSlewRate        float64 `validate:"gte=0" label:"simulator.dome_slew_rate"`
	SolveSeconds        float64 `validate:"gte=0" label:"simulator.solve_time"`
	MeridianLimitHours  float64 `validate:"gte=-12,lte=12" label:"simulator.meridian_limit"`
	Seed                uint64
}

// Default returns the profile used for a site when the file says nothing
// else.
func Default(site model.Site) Profile {
	sc := sim.DefaultConfig(site)
	return Profile{
		Site: site,
		PlateSolve: model.PlateSolveSettings{
			ExposureTime: 2,
			Filter:       "L",
			Binning:      1,
			SearchRadius: 30,
		},
		Bounds:  model.DefaultGeneratorBounds(),
		Options: model.DefaultBuildOptions(),
		Simulator: SimulatorSettings{
			PointingErrorArcsec: sc.PointingErrorArcsec,
			SlewRate:            sc.SlewRate,
			DomeSlewRate:        sc.DomeSlewRate,
			SolveSeconds:        sc.SolveTime.Seconds(),
			MeridianLimitHours:  sc.MeridianLimitHours,
			Seed:                sc.Seed,
		},
	}
}

// Load reads, decodes and validates the profile at path. A leading "~" is
// expanded to the user's home directory.
func Load(path string) (*Profile, error) {
	expanded, err := homedir.Expand(path)
	if err != nil {
		return nil, fmt.Errorf("resolve profile path %q: %w", path, err)
	}
	parser := hclparse.NewParser()
	file, diags := parser.ParseHCLFile(expanded)
	if diags.HasErrors() {
		return nil, fmt.Errorf("%w: parse %s: %w", ErrInvalidProfile, expanded, diags)
	}
	return decode(file.Body, filepath.Dir(expanded))
}

// Parse decodes a profile held in memory. filename is only used in
// diagnostics; relative paths in the profile resolve against the working
// directory.
func Parse(src []byte, filename string) (*Profile, error) {
	parser := hclparse.NewParser()
	file, diags := parser.ParseHCL(src, filename)
	if diags.HasErrors() {
		return nil, fmt.Errorf("%w: parse %s: %w", ErrInvalidProfile, filename, diags)
	}
	return decode(file.Body, "")
}

// SimConfig converts the simulator settings into a sim.Config for the
// profile's site.
func (p *Profile) SimConfig() sim.Config {
	cfg := sim.DefaultConfig(p.Site)
	s := p.Simulator
	cfg.SlewFailureRate = s.SlewFailureRate
	cfg.CaptureFailureRate = s.CaptureFailureRate
	cfg.SolveFailureRate = s.SolveFailureRate
	cfg.PointingErrorArcsec = s.PointingErrorArcsec
	cfg.SlewRate = s.SlewRate
	cfg.DomeSlewRate = s.DomeSlewRate
	cfg.SolveTime = seconds(s.SolveSeconds)
	cfg.MeridianLimitHours = s.MeridianLimitHours
	cfg.Seed = s.Seed
	return cfg
}

// ArtifactDir resolves ArtifactsDir, defaulting to the working directory.
func (p *Profile) ArtifactDir() string {
	if p.ArtifactsDir == "" {
		return "."
	}
	return p.ArtifactsDir
}

// Validate checks p against the same rules Load applies. Call it after
// changing a loaded profile.
func (p *Profile) Validate() error {
	return validateProfile(p)
}
