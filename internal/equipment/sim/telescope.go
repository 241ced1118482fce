package sim

import (
	"context"
	"errors"
	"math"
	"sync"
	"time"

	"github.com/tidwall/gjson"

	"github.com/signalsfoundry/skymodel/core"
	"github.com/signalsfoundry/skymodel/internal/equipment"
	"github.com/signalsfoundry/skymodel/internal/logging"
	"github.com/signalsfoundry/skymodel/model"
	"github.com/signalsfoundry/skymodel/timectrl"
)

// ErrDisconnected is returned by devices that were disconnected.
var ErrDisconnected = errors.New("device disconnected")

// siderealRatio converts sidereal time to solar time.
const siderealRatio = 1.00273790935

// PathModel summarises the last sidereal path model the mount accepted.
type PathModel struct {
	Pointings int
	Solved    int
}

// Telescope is a simulated German equatorial mount.
type Telescope struct {
	cfg   Config
	clock timectrl.Clock
	log   logging.Logger
	dice  *dice

	mu         sync.Mutex
	connected  bool
	parked     bool
	slewing    bool
	coords     model.Coordinates // JNow
	side       model.PierSide
	forced     model.PierSide
	refraction bool
	pressure   float64
	temp       float64
	pathModel  *PathModel
}

var (
	_ equipment.Telescope            = (*Telescope)(nil)
	_ equipment.RefractionController = (*Telescope)(nil)
	_ equipment.PierSideForcer       = (*Telescope)(nil)
	_ equipment.AxisLimitReporter    = (*Telescope)(nil)
	_ equipment.PathModelSender      = (*Telescope)(nil)
)

// parkPosition points at the celestial pole.
func (t *Telescope) parkPosition() model.Coordinates {
	lst := core.LocalSiderealTime(t.clock.Now(), t.cfg.Site.Longitude)
	dec := 90.0
	if t.cfg.Site.Latitude < 0 {
		dec = -90
	}
	return model.Coordinates{RA: lst, Dec: dec, Epoch: model.EpochJNow}
}

func (t *Telescope) Info(context.Context) equipment.TelescopeInfo {
	now := t.clock.Now()
	lst := core.LocalSiderealTime(now, t.cfg.Site.Longitude)
	t.mu.Lock()
	defer t.mu.Unlock()
	return equipment.TelescopeInfo{
		Connected:    t.connected,
		AtPark:       t.parked,
		Slewing:      t.slewing,
		Coordinates:  t.coords,
		SiderealTime: lst,
		SideOfPier:   t.side,
		UTCTime:      now.UTC(),
	}
}

// SetConnected simulates a cable pull.
func (t *Telescope) SetConnected(connected bool) {
	t.mu.Lock()
	t.connected = connected
	t.mu.Unlock()
}

func (t *Telescope) Unpark(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.connected {
		return ErrDisconnected
	}
	t.parked = false
	t.log.Debug(ctx, "unparked")
	return nil
}

func (t *Telescope) Park(ctx context.Context) error {
	t.mu.Lock()
	if !t.connected {
		t.mu.Unlock()
		return ErrDisconnected
	}
	from := t.coords
	t.mu.Unlock()

	target := t.parkPosition()
	if err := t.move(ctx, from, target); err != nil {
		return err
	}
	t.mu.Lock()
	t.parked = true
	t.side = model.PierUnknown
	t.mu.Unlock()
	t.log.Debug(ctx, "parked")
	return nil
}

// SlewToCoordinates moves to target at the configured slew rate. A parked
// or disconnected mount refuses the slew.
func (t *Telescope) SlewToCoordinates(ctx context.Context, target model.Coordinates) (bool, error) {
	t.mu.Lock()
	if !t.connected {
		t.mu.Unlock()
		return false, ErrDisconnected
	}
	if t.parked {
		t.mu.Unlock()
		t.log.Warn(ctx, "slew refused while parked")
		return false, nil
	}
	from := t.coords
	forced := t.forced
	t.forced = model.PierUnknown
	t.mu.Unlock()

	target = core.ToJNow(target, t.clock.Now())
	if err := t.move(ctx, from, target); err != nil {
		return false, err
	}
	if t.dice.roll(t.cfg.SlewFailureRate) {
		t.log.Warn(ctx, "simulated slew failure",
			logging.Float("ra", target.RA),
			logging.Float("dec", target.Dec),
		)
		return false, nil
	}

	side := forced
	if side == model.PierUnknown {
		side = core.ExpectedPierSide(target.RA, core.LocalSiderealTime(t.clock.Now(), t.cfg.Site.Longitude))
	}
	t.mu.Lock()
	t.side = side
	t.mu.Unlock()
	return true, nil
}

func (t *Telescope) move(ctx context.Context, from, to model.Coordinates) error {
	t.mu.Lock()
	t.slewing = true
	t.mu.Unlock()

	var d time.Duration
	if t.cfg.SlewRate > 0 {
		dist := core.AngularSeparation(from.RA, from.Dec, to.RA, to.Dec)
		d = time.Duration(dist / t.cfg.SlewRate * float64(time.Second))
	}
	err := timectrl.Sleep(ctx, t.clock, d)

	t.mu.Lock()
	defer t.mu.Unlock()
	t.slewing = false
	if err != nil {
		return err
	}
	t.coords = to
	return nil
}

func (t *Telescope) RefractionCorrectionEnabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.refraction
}

func (t *Telescope) SetRefractionCorrection(enabled bool) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.refraction = enabled
	return true
}

func (t *Telescope) Pressure() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pressure
}

func (t *Telescope) Temperature() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.temp
}

// ForceNextPierSide applies to the next slew only.
func (t *Telescope) ForceNextPierSide(side model.PierSide) bool {
	if side != model.PierEast && side != model.PierWest {
		return false
	}
	t.mu.Lock()
	t.forced = side
	t.mu.Unlock()
	return true
}

// TimeToLimit reports how long the mount can track before its hour angle
// passes the meridian limit.
func (t *Telescope) TimeToLimit() (time.Duration, bool) {
	t.mu.Lock()
	parked, ra := t.parked, t.coords.RA
	t.mu.Unlock()
	if parked {
		return 0, false
	}
	ha := core.HourAngle(ra, core.LocalSiderealTime(t.clock.Now(), t.cfg.Site.Longitude))
	hours := math.Max(0, t.cfg.MeridianLimitHours-ha)
	return time.Duration(hours / siderealRatio * float64(time.Hour)), true
}

// SendPathModel accepts a JSON array of path pointings. The mount needs at
// least three solved pointings to fit a path.
func (t *Telescope) SendPathModel(ctx context.Context, payload []byte) bool {
	if !gjson.ValidBytes(payload) {
		t.log.Warn(ctx, "path model is not valid JSON")
		return false
	}
	doc := gjson.ParseBytes(payload)
	if !doc.IsArray() {
		t.log.Warn(ctx, "path model is not a list of pointings")
		return false
	}

	pm := &PathModel{}
	doc.ForEach(func(_, v gjson.Result) bool {
		pm.Pointings++
		ra, dec := v.Get("PlateRa"), v.Get("PlateDe")
		if v.Get("Solved").Bool() && ra.Type == gjson.Number && dec.Type == gjson.Number {
			pm.Solved++
		}
		return true
	})
	if pm.Solved < 3 {
		t.log.Warn(ctx, "path model rejected", logging.Int("solved", pm.Solved))
		return false
	}

	t.mu.Lock()
	t.pathModel = pm
	t.mu.Unlock()
	t.log.Info(ctx, "path model loaded",
		logging.Int("pointings", pm.Pointings),
		logging.Int("solved", pm.Solved),
	)
	return true
}

// LastPathModel returns the most recently accepted path model, if any.
func (t *Telescope) LastPathModel() (PathModel, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.pathModel == nil {
		return PathModel{}, false
	}
	return *t.pathModel, true
}
