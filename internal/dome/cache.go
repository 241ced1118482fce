package dome

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/signalsfoundry/skymodel/core"
	"github.com/signalsfoundry/skymodel/internal/equipment"
	"github.com/signalsfoundry/skymodel/internal/logging"
	"github.com/signalsfoundry/skymodel/model"
	"github.com/signalsfoundry/skymodel/timectrl"
)

// DefaultMaxAge is how long a computed window is reused before sidereal
// drift forces a recomputation.
const DefaultMaxAge = 15 * time.Second

// Window is the dome position that frames a single point.
type Window struct {
	Min      float64
	Max      float64
	Azimuth  float64
	Altitude float64
	PierSide model.PierSide

	computedAt time.Time
	separation model.Separation
}

// Stats counts cache activity since construction.
type Stats struct {
	Hits      uint64
	Misses    uint64
	Refreshes uint64
}

// HitRatio returns hits/(hits+misses), or 0 before the first lookup.
func (s Stats) HitRatio() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

// Config describes the dome a cache computes windows for.
type Config struct {
	Site     model.Site
	Settings model.DomeSettings
	// ShutterWidthMM selects shutter geometry when positive; otherwise the
	// window is the dome azimuth ± Settings.AzimuthToleranceDegrees.
	ShutterWidthMM float64
	MaxAge         time.Duration
}

// WindowCache holds per-point dome windows keyed by point position. A
// disabled cache is a no-op and leaves every point unconstrained.
type WindowCache struct {
	mu       sync.Mutex
	geometry equipment.DomeGeometry
	cfg      Config
	clock    timectrl.Clock
	log      logging.Logger
	enabled  bool

	windows map[int]Window
	stats   Stats
}

// NewWindowCache constructs a cache. Passing enabled=false, or a nil
// geometry, yields a cache that never constrains points.
func NewWindowCache(geometry equipment.DomeGeometry, cfg Config, enabled bool, clock timectrl.Clock, log logging.Logger) *WindowCache {
	if log == nil {
		log = logging.Noop()
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = DefaultMaxAge
	}
	return &WindowCache{
		geometry: geometry,
		cfg:      cfg,
		clock:    timectrl.OrSystem(clock),
		log:      log,
		enabled:  enabled && geometry != nil,
		windows:  make(map[int]Window),
	}
}

// Enabled reports whether the cache constrains points.
func (c *WindowCache) Enabled() bool {
	if c == nil {
		return false
	}
	return c.enabled
}

// Reset drops every cached window so the next Refresh recomputes them all.
func (c *WindowCache) Reset() {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.windows = make(map[int]Window)
}

// Stats returns a snapshot of the cache counters.
func (c *WindowCache) Stats() Stats {
	if c == nil {
		return Stats{}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

// Refresh brings the window, dome position and expected pier side of every
// Generated point up to date. Windows computed within MaxAge under the same
// sync separation are reused. Points in any other state are left alone.
func (c *WindowCache) Refresh(ctx context.Context, points []model.SkyPoint, sep model.Separation) {
	if !c.Enabled() {
		return
	}
	now := c.clock.Now()
	lst := core.LocalSiderealTime(now, c.cfg.Site.Longitude)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.stats.Refreshes++
	computed := 0
	for i := range points {
		p := &points[i]
		if p.State != model.PointGenerated {
			continue
		}
		w, ok := c.windows[i]
		if ok && w.separation == sep && now.Sub(w.computedAt) < c.cfg.MaxAge {
			c.stats.Hits++
		} else {
			c.stats.Misses++
			w = c.compute(*p, now, lst, sep)
			c.windows[i] = w
			computed++
		}
		p.MinDomeAzimuth = w.Min
		p.MaxDomeAzimuth = w.Max
		p.DomeAzimuth = w.Azimuth
		p.DomeAltitude = w.Altitude
		p.ExpectedPierSide = w.PierSide
	}
	if computed > 0 {
		c.log.Debug(ctx, "dome windows refreshed",
			logging.Int("computed", computed),
			logging.Float("lst", lst),
		)
	}
}

func (c *WindowCache) compute(p model.SkyPoint, now time.Time, lst float64, sep model.Separation) Window {
	// Refraction is deliberately left out: the dome has to frame the
	// physical direction the tube points in.
	target := core.TopocentricToCelestial(p.Altitude, p.Azimuth, c.cfg.Site, now, core.Atmosphere{}).Add(sep)
	side := core.ExpectedPierSide(target.RA, lst)
	alt, az := c.geometry.TargetDomeCoordinates(target, lst, c.cfg.Site, side)

	var lo, hi float64
	if c.cfg.ShutterWidthMM > 0 {
		lo, hi = c.geometry.AzimuthRange(alt, az, c.cfg.Settings.RadiusMM, c.cfg.ShutterWidthMM)
	} else {
		tol := c.cfg.Settings.AzimuthToleranceDegrees
		lo, hi = az-tol, az+tol
	}
	return Window{
		Min:        lo,
		Max:        hi,
		Azimuth:    az,
		Altitude:   alt,
		PierSide:   side,
		computedAt: now,
		separation: sep,
	}
}

// IsVisible reports whether a dome at domeAzimuth frames p. Points without a
// window are always visible.
func IsVisible(p model.SkyPoint, domeAzimuth float64) bool {
	if !p.HasDomeWindow() || math.IsNaN(domeAzimuth) {
		return true
	}
	if p.MaxDomeAzimuth-p.MinDomeAzimuth >= 360 {
		return true
	}
	return core.AzimuthInWindow(domeAzimuth, p.MinDomeAzimuth, p.MaxDomeAzimuth)
}
