package sim

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/signalsfoundry/skymodel/core"
	"github.com/signalsfoundry/skymodel/internal/equipment"
	"github.com/signalsfoundry/skymodel/internal/logging"
	"github.com/signalsfoundry/skymodel/timectrl"
)

// Dome is a simulated rotating dome.
type Dome struct {
	cfg   Config
	clock timectrl.Clock
	log   logging.Logger

	mu        sync.Mutex
	azimuth   float64
	slewing   bool
	following bool
	syncSlew  bool
	slews     int
}

var _ equipment.Dome = (*Dome)(nil)

func (d *Dome) Info(context.Context) equipment.DomeInfo {
	d.mu.Lock()
	defer d.mu.Unlock()
	return equipment.DomeInfo{
		Connected:      true,
		CanSetAzimuth:  true,
		Slewing:        d.slewing,
		Azimuth:        d.azimuth,
		FollowingScope: d.following,
	}
}

// SlewToAzimuth rotates the shorter way round at the configured rate.
func (d *Dome) SlewToAzimuth(ctx context.Context, azimuth float64) (bool, error) {
	azimuth = core.NormalizeDegrees(azimuth)
	d.mu.Lock()
	from := d.azimuth
	d.slewing = true
	d.slews++
	d.mu.Unlock()

	var dur time.Duration
	if d.cfg.DomeSlewRate > 0 {
		dist := core.CircularDistance(from, azimuth)
		dur = time.Duration(dist / d.cfg.DomeSlewRate * float64(time.Second))
	}
	err := timectrl.Sleep(ctx, d.clock, dur)

	d.mu.Lock()
	defer d.mu.Unlock()
	d.slewing = false
	if err != nil {
		return false, err
	}
	d.azimuth = azimuth
	d.log.Debug(ctx, "dome slew complete", logging.Float("azimuth", azimuth))
	return true, nil
}

func (d *Dome) EnableFollowing(context.Context) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.following = true
	return true, nil
}

func (d *Dome) DisableFollowing(context.Context) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.following = false
	return true, nil
}

func (d *Dome) SyncSlewEnabled() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.syncSlew
}

func (d *Dome) SetSyncSlew(enabled bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.syncSlew = enabled
}

// Slews returns how many slews were commanded.
func (d *Dome) Slews() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.slews
}

// Weather is a fixed weather station reading. Humidity is in percent.
type Weather struct {
	Temperature float64
	Pressure    float64
	Humidity    float64
}

var _ equipment.Weather = (*Weather)(nil)

func (w *Weather) Info(context.Context) equipment.WeatherInfo {
	h := w.Humidity
	if h < 0 {
		h = math.NaN()
	}
	return equipment.WeatherInfo{Connected: true, Temperature: w.Temperature, Pressure: w.Pressure, Humidity: h}
}

// Guider is a simulated autoguider.
type Guider struct {
	mu      sync.Mutex
	guiding bool
}

var _ equipment.Guider = (*Guider)(nil)

func (g *Guider) Info(context.Context) equipment.GuiderInfo {
	g.mu.Lock()
	defer g.mu.Unlock()
	return equipment.GuiderInfo{Connected: true, Guiding: g.guiding}
}

func (g *Guider) StopGuiding(context.Context) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.guiding = false
	return true, nil
}

func (g *Guider) StartGuiding(context.Context) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.guiding = true
	return true, nil
}
