// Package sim provides simulated equipment so model builds can run end to
// end without hardware. Every device shares one clock: when it is a
// *timectrl.TimeController, slews and exposures advance it instead of
// sleeping, which replays a night's sidereal drift in seconds.
package sim

import (
	"math/rand/v2"
	"sync"
	"time"

	"github.com/signalsfoundry/skymodel/internal/logging"
	"github.com/signalsfoundry/skymodel/model"
	"github.com/signalsfoundry/skymodel/timectrl"
)

// Config tunes the simulated observatory.
type Config struct {
	Site model.Site

	// Failure probabilities in [0,1].
	SlewFailureRate    float64
	CaptureFailureRate float64
	SolveFailureRate   float64

	// PointingErrorArcsec is the standard deviation of the offset between
	// where the mount claims to point and where the solver finds it.
	PointingErrorArcsec float64

	SlewRate     float64 // degrees per second
	DomeSlewRate float64 // degrees per second
	SolveTime    time.Duration

	// MeridianLimitHours is how far past the meridian the mount may track.
	MeridianLimitHours float64

	StartParked bool
	Filter      string
	Seed        uint64
}

// DefaultConfig returns a well-behaved observatory at the given site.
func DefaultConfig(site model.Site) Config {
	return Config{
		Site:                site,
		PointingErrorArcsec: 30,
		SlewRate:            6,
		DomeSlewRate:        4,
		SolveTime:           2 * time.Second,
		MeridianLimitHours:  0.5,
		StartParked:         true,
		Filter:              "L",
		Seed:                1,
	}
}

// Observatory bundles one of each simulated device.
type Observatory struct {
	Telescope   *Telescope
	Camera      *Camera
	Solver      *Solver
	Dome        *Dome
	FilterWheel *FilterWheel
	Weather     *Weather
	Guider      *Guider
}

// New wires a complete simulated observatory.
func New(cfg Config, clock timectrl.Clock, log logging.Logger) *Observatory {
	clock = timectrl.OrSystem(clock)
	if log == nil {
		log = logging.Noop()
	}
	dice := newDice(cfg.Seed)

	tel := &Telescope{
		cfg:        cfg,
		clock:      clock,
		log:        log.With(logging.String("device", "telescope")),
		dice:       dice,
		connected:  true,
		parked:     cfg.StartParked,
		refraction: true,
		pressure:   1010,
		temp:       10,
	}
	tel.coords = tel.parkPosition()

	wheel := &FilterWheel{selected: cfg.Filter}
	return &Observatory{
		Telescope:   tel,
		Camera:      &Camera{cfg: cfg, clock: clock, dice: dice, telescope: tel, wheel: wheel},
		Solver:      &Solver{cfg: cfg, clock: clock, dice: dice},
		Dome:        &Dome{cfg: cfg, clock: clock, log: log.With(logging.String("device", "dome")), following: true},
		FilterWheel: wheel,
		Weather:     &Weather{Temperature: 10, Pressure: 1010, Humidity: 65},
		Guider:      &Guider{guiding: true},
	}
}

// dice is a seeded random source shared by the devices.
type dice struct {
	mu  sync.Mutex
	rng *rand.Rand
}

func newDice(seed uint64) *dice {
	return &dice{rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

// roll reports true with probability p.
func (d *dice) roll(p float64) bool {
	if p <= 0 {
		return false
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.rng.Float64() < p
}

func (d *dice) normal(stddev float64) float64 {
	if stddev <= 0 {
		return 0
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.rng.NormFloat64() * stddev
}
