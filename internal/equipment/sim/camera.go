package sim

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/signalsfoundry/skymodel/internal/equipment"
	"github.com/signalsfoundry/skymodel/model"
	"github.com/signalsfoundry/skymodel/timectrl"
)

// ErrCaptureFailed is returned for simulated capture failures.
var ErrCaptureFailed = errors.New("simulated capture failure")

// Frame is the image payload of a simulated exposure: where the tube really
// pointed at mid-exposure.
type Frame struct {
	Center model.Coordinates // JNow
	At     time.Time
	Filter string
}

// Camera exposes frames centred on the simulated mount's position.
type Camera struct {
	cfg       Config
	clock     timectrl.Clock
	dice      *dice
	telescope *Telescope
	wheel     *FilterWheel
}

var _ equipment.Camera = (*Camera)(nil)

func (c *Camera) Info(context.Context) equipment.CameraInfo {
	return equipment.CameraInfo{
		Connected:    true,
		CanSubSample: true,
		XSize:        4144,
		YSize:        2822,
		PixelSize:    4.63,
	}
}

// Capture selects the requested filter, then exposes for spec.ExposureTime.
func (c *Camera) Capture(ctx context.Context, spec equipment.CaptureSpec) (*equipment.Exposure, error) {
	if spec.Filter != "" && c.wheel != nil {
		if err := c.wheel.ChangeFilter(ctx, spec.Filter); err != nil {
			return nil, err
		}
	}
	start := c.clock.Now()
	dur := time.Duration(spec.ExposureTime * float64(time.Second))
	center := c.telescope.Info(ctx).Coordinates
	if err := timectrl.Sleep(ctx, c.clock, dur); err != nil {
		return nil, err
	}
	if c.dice.roll(c.cfg.CaptureFailureRate) {
		return nil, ErrCaptureFailed
	}
	return &equipment.Exposure{
		Start:    start,
		Duration: dur,
		Image:    Frame{Center: center, At: start.Add(dur / 2), Filter: spec.Filter},
	}, nil
}

// FilterWheel is a simulated filter wheel with any filter name available.
type FilterWheel struct {
	mu       sync.Mutex
	selected string
}

var _ equipment.FilterWheel = (*FilterWheel)(nil)

func (f *FilterWheel) Info(context.Context) equipment.FilterWheelInfo {
	f.mu.Lock()
	defer f.mu.Unlock()
	return equipment.FilterWheelInfo{Connected: true, SelectedFilter: f.selected}
}

func (f *FilterWheel) ChangeFilter(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	f.selected = name
	f.mu.Unlock()
	return nil
}
