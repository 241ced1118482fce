package config

import (
	"errors"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/signalsfoundry/skymodel/model"
)

var profileValidator = sync.OnceValue(newValidator)

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())

	// report the profile attribute path rather than the Go field name
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		if label := fld.Tag.Get("label"); label != "" {
			return label
		}
		return fld.Name
	})

	v.RegisterStructValidation(validateSite, model.Site{})
	v.RegisterStructValidation(validatePlateSolve, model.PlateSolveSettings{})
	v.RegisterStructValidation(validateDome, model.DomeSettings{})
	v.RegisterStructValidation(validateBounds, model.GeneratorBounds{})
	v.RegisterStructValidation(validateOptions, model.BuildOptions{})
	return v
}

func validateProfile(p *Profile) error {
	err := profileValidator().Struct(p)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %w", ErrInvalidProfile, err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, describe(fe))
	}
	return fmt.Errorf("%w: %s", ErrInvalidProfile, strings.Join(msgs, "; "))
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "gte":
		return fmt.Sprintf("%s must be >= %s", fe.Field(), fe.Param())
	case "lte":
		return fmt.Sprintf("%s must be <= %s", fe.Field(), fe.Param())
	case "gt":
		return fmt.Sprintf("%s must be > %s", fe.Field(), fe.Param())
	case "gtefield":
		return fmt.Sprintf("%s must not be below %s", fe.Field(), fe.Param())
	case "number":
		return fmt.Sprintf("%s must be a number", fe.Field())
	default:
		return fmt.Sprintf("%s is invalid (%s)", fe.Field(), fe.Tag())
	}
}

func validateSite(sl validator.StructLevel) {
	s := sl.Current().Interface().(model.Site)
	within(sl, s.Latitude, "site.latitude", -90, 90)
	within(sl, s.Longitude, "site.longitude", -180, 180)
}

func validatePlateSolve(sl validator.StructLevel) {
	ps := sl.Current().Interface().(model.PlateSolveSettings)
	above(sl, ps.ExposureTime, "plate_solve.exposure_time", 0)
	within(sl, float64(ps.Binning), "plate_solve.binning", 1, 16)
	within(sl, ps.SearchRadius, "plate_solve.search_radius", 0, 180)
	atLeast(sl, ps.FocalLength, "plate_solve.focal_length", 0)
	atLeast(sl, ps.PixelSize, "plate_solve.pixel_size", 0)
	atLeast(sl, float64(ps.DownSample), "plate_solve.down_sample", 0)
	atLeast(sl, float64(ps.MaxObjects), "plate_solve.max_objects", 0)
	atLeast(sl, float64(ps.Regions), "plate_solve.regions", 0)
}

func validateDome(sl validator.StructLevel) {
	d := sl.Current().Interface().(model.DomeSettings)
	atLeast(sl, d.RadiusMM, "dome.radius_mm", 0)
	within(sl, d.AzimuthToleranceDegrees, "dome.azimuth_tolerance", 0, 180)
}

func validateBounds(sl validator.StructLevel) {
	b := sl.Current().Interface().(model.GeneratorBounds)
	within(sl, b.MinAltitude, "generator.min_altitude", 0, 90)
	within(sl, b.MaxAltitude, "generator.max_altitude", 0, 90)
	within(sl, b.MinAzimuth, "generator.min_azimuth", 0, 360)
	within(sl, b.MaxAzimuth, "generator.max_azimuth", 0, 360)
	if b.MaxAltitude < b.MinAltitude {
		sl.ReportError(b.MaxAltitude, "generator.max_altitude", "MaxAltitude", "gtefield", "generator.min_altitude")
	}
}

func validateOptions(sl validator.StructLevel) {
	o := sl.Current().Interface().(model.BuildOptions)
	atLeast(sl, float64(o.MaxConcurrency), "build.max_concurrency", 0)
	atLeast(sl, float64(o.NumRetries), "build.num_retries", 0)
	atLeast(sl, float64(o.MaxFailedPoints), "build.max_failed_points", 0)
	atLeast(sl, o.MaxPointRMS, "build.max_point_rms", 0)
	atLeast(sl, o.DomeShutterWidthMM, "dome.shutter_width_mm", 0)
	above(sl, o.PlateSolveSubframePercentage, "build.subframe_percentage", 0)
	atMost(sl, o.PlateSolveSubframePercentage, "build.subframe_percentage", 1)
	if !o.UseSync {
		return
	}
	above(sl, o.SyncEveryHA, "build.sync.every", 0)
	atMost(sl, o.SyncEveryHA, "build.sync.every", 180)
	for _, alt := range []struct {
		v    float64
		name string
	}{
		{o.SyncEastAltitude, "build.sync.east_altitude"},
		{o.SyncWestAltitude, "build.sync.west_altitude"},
		{o.RefEastAltitude, "build.sync.ref_east_altitude"},
		{o.RefWestAltitude, "build.sync.ref_west_altitude"},
	} {
		within(sl, alt.v, alt.name, 0, 90)
	}
	for _, az := range []struct {
		v    float64
		name string
	}{
		{o.SyncEastAzimuth, "build.sync.east_azimuth"},
		{o.SyncWestAzimuth, "build.sync.west_azimuth"},
		{o.RefEastAzimuth, "build.sync.ref_east_azimuth"},
		{o.RefWestAzimuth, "build.sync.ref_west_azimuth"},
	} {
		within(sl, az.v, az.name, 0, 360)
	}
}

func within(sl validator.StructLevel, v float64, name string, lo, hi float64) {
	switch {
	case math.IsNaN(v):
		sl.ReportError(v, name, name, "number", "")
	case v < lo:
		sl.ReportError(v, name, name, "gte", param(lo))
	case v > hi:
		sl.ReportError(v, name, name, "lte", param(hi))
	}
}

func atLeast(sl validator.StructLevel, v float64, name string, lo float64) {
	switch {
	case math.IsNaN(v):
		sl.ReportError(v, name, name, "number", "")
	case v < lo:
		sl.ReportError(v, name, name, "gte", param(lo))
	}
}

func atMost(sl validator.StructLevel, v float64, name string, hi float64) {
	if v > hi {
		sl.ReportError(v, name, name, "lte", param(hi))
	}
}

func above(sl validator.StructLevel, v float64, name string, lo float64) {
	if !math.IsNaN(v) && v <= lo {
		sl.ReportError(v, name, name, "gt", param(lo))
	}
}

func param(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
