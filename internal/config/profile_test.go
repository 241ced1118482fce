package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/mitchellh/go-homedir"

	"github.com/signalsfoundry/skymodel/model"
)

func TestLoadProfile(t *testing.T) {
	p, err := Load(filepath.Join("testdata", "profile.hcl"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	wantSite := model.Site{Latitude: 48.13, Longitude: 11.58, Elevation: 520}
	if p.Site != wantSite {
		t.Fatalf("site = %+v, want %+v", p.Site, wantSite)
	}
	if p.PlateSolve.ExposureTime != 4 || p.PlateSolve.Filter != "R" || p.PlateSolve.Binning != 2 {
		t.Fatalf("plate solve = %+v", p.PlateSolve)
	}
	if p.Dome.RadiusMM != 2500 || p.Dome.AzimuthToleranceDegrees != 5 {
		t.Fatalf("dome = %+v", p.Dome)
	}
	if p.Options.DomeShutterWidthMM != 900 {
		t.Fatalf("shutter width = %v, want 900", p.Options.DomeShutterWidthMM)
	}

	wantBounds := model.GeneratorBounds{MinAltitude: 20, MaxAltitude: 85, MinAzimuth: 0, MaxAzimuth: 360}
	if p.Bounds != wantBounds {
		t.Fatalf("bounds = %+v, want %+v", p.Bounds, wantBounds)
	}
	if want := filepath.Join("testdata", "horizon.hrz"); p.HorizonFile != want {
		t.Fatalf("horizon file = %q, want %q", p.HorizonFile, want)
	}
	if want := filepath.Join("testdata", "models"); p.ArtifactDir() != want {
		t.Fatalf("artifact dir = %q, want %q", p.ArtifactDir(), want)
	}

	o := p.Options
	if o.MaxConcurrency != 2 || o.NumRetries != 3 || o.MaxPointRMS != 12.5 {
		t.Fatalf("build limits = %d/%d/%v", o.MaxConcurrency, o.NumRetries, o.MaxPointRMS)
	}
	if o.PathOrdering != model.PathOrderingBandPath || !o.WestToEastSorting {
		t.Fatalf("ordering = %v west-to-east=%v", o.PathOrdering, o.WestToEastSorting)
	}
	if !o.UseSync || o.SyncEveryHA != 45 || o.SyncEastAzimuth != 90 {
		t.Fatalf("sync = %v every %v east az %v", o.UseSync, o.SyncEveryHA, o.SyncEastAzimuth)
	}
	// untouched attributes keep their defaults
	if !o.MinimizeDomeMovement || !o.AlternateDirectionsBetweenIterations || o.PlateSolveSubframePercentage != 1 {
		t.Fatalf("defaults lost: %+v", o)
	}

	sc := p.SimConfig()
	if sc.Site != wantSite {
		t.Fatalf("sim site = %+v", sc.Site)
	}
	if sc.SlewFailureRate != 0.1 || sc.SolveTime != 500*time.Millisecond || sc.Seed != 42 {
		t.Fatalf("sim config = %+v", sc)
	}
	if sc.PointingErrorArcsec != 30 || !sc.StartParked {
		t.Fatalf("sim defaults lost: %+v", sc)
	}
}

func TestParseMinimalProfileUsesDefaults(t *testing.T) {
	src := []byte(`
site {
  latitude  = -33.9
  longitude = 18.4
}
`)
	p, err := Parse(src, "minimal.hcl")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	want := Default(model.Site{Latitude: -33.9, Longitude: 18.4})
	if diff := cmp.Diff(want, *p); diff != "" {
		t.Fatalf("profile mismatch (-want +got):\n%s", diff)
	}
	if p.ArtifactDir() != "." {
		t.Fatalf("artifact dir = %q, want .", p.ArtifactDir())
	}
}

func TestSyncBlockCanBeDisabled(t *testing.T) {
	src := []byte(`
site {
  latitude  = 10
  longitude = 10
}
build {
  sync {
    enabled = false
    every   = 0
  }
}
`)
	p, err := Parse(src, "sync.hcl")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if p.Options.UseSync {
		t.Fatalf("sync should be disabled")
	}
}

func TestParseRejectsInvalidProfiles(t *testing.T) {
	const site = "site {\n  latitude = 48\n  longitude = 11\n}\n"
	tests := []struct {
		name    string
		src     string
		wantMsg string
	}{
		{name: "missing site", src: `build { num_retries = 1 }`},
		{name: "missing latitude", src: "site {\n  longitude = 11\n}\n"},
		{name: "latitude out of range", src: "site {\n  latitude = 95\n  longitude = 11\n}\n", wantMsg: "site.latitude must be <= 90"},
		{name: "zero exposure", src: site + "plate_solve {\n  exposure_time = 0\n}\n", wantMsg: "plate_solve.exposure_time must be > 0"},
		{name: "inverted altitude bounds", src: site + "generator {\n  min_altitude = 60\n  max_altitude = 30\n}\n", wantMsg: "generator.max_altitude"},
		{name: "subframe above one", src: site + "build {\n  subframe_percentage = 1.5\n}\n", wantMsg: "build.subframe_percentage must be <= 1"},
		{name: "negative retries", src: site + "build {\n  num_retries = -1\n}\n", wantMsg: "build.num_retries must be >= 0"},
		{name: "unknown ordering", src: site + "build {\n  path_ordering = \"zigzag\"\n}\n", wantMsg: "zigzag"},
		{name: "sync every zero", src: site + "build {\n  sync {\n    every = 0\n  }\n}\n", wantMsg: "build.sync.every must be > 0"},
		{name: "failure rate above one", src: site + "simulator {\n  slew_failure_rate = 2\n}\n", wantMsg: "simulator.slew_failure_rate"},
		{name: "negative seed", src: site + "simulator {\n  seed = -1\n}\n", wantMsg: "simulator.seed"},
		{name: "unknown attribute", src: site + "dome {\n  diameter = 3\n}\n"},
		{name: "syntax error", src: "site {"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.src), "bad.hcl")
			if !errors.Is(err, ErrInvalidProfile) {
				t.Fatalf("expected ErrInvalidProfile, got %v", err)
			}
			if tt.wantMsg != "" && !strings.Contains(err.Error(), tt.wantMsg) {
				t.Fatalf("error %q does not mention %q", err, tt.wantMsg)
			}
		})
	}
}

func TestLoadExpandsHomeDirectory(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	homedir.DisableCache = true
	t.Cleanup(func() { homedir.DisableCache = false })

	dir := filepath.Join(home, ".skymodel")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	src := "site {\n  latitude = 1\n  longitude = 2\n}\nartifacts_dir = \"~/models\"\ngenerator {\n  horizon_file = \"local.hrz\"\n}\n"
	if err := os.WriteFile(filepath.Join(dir, "profile.hcl"), []byte(src), 0o644); err != nil {
		t.Fatalf("write profile: %v", err)
	}

	p, err := Load(DefaultPath)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if want := filepath.Join(home, "models"); p.ArtifactsDir != want {
		t.Fatalf("artifacts dir = %q, want %q", p.ArtifactsDir, want)
	}
	if want := filepath.Join(dir, "local.hrz"); p.HorizonFile != want {
		t.Fatalf("horizon file = %q, want %q", p.HorizonFile, want)
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.hcl"))
	if !errors.Is(err, ErrInvalidProfile) {
		t.Fatalf("expected ErrInvalidProfile, got %v", err)
	}
}

func TestParsePathOrdering(t *testing.T) {
	for in, want := range map[string]model.PathOrdering{
		"":          model.PathOrderingAzimuth,
		"azimuth":   model.PathOrderingAzimuth,
		"Band":      model.PathOrderingBandPath,
		"band_path": model.PathOrderingBandPath,
	} {
		got, err := ParsePathOrdering(in)
		if err != nil || got != want {
			t.Fatalf("ParsePathOrdering(%q) = %v, %v; want %v", in, got, err, want)
		}
	}
}
