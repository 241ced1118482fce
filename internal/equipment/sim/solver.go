package sim

import (
	"context"
	"errors"
	"math"

	"github.com/signalsfoundry/skymodel/core"
	"github.com/signalsfoundry/skymodel/internal/equipment"
	"github.com/signalsfoundry/skymodel/model"
	"github.com/signalsfoundry/skymodel/timectrl"
)

// ErrNotSimulated is returned when the solver receives an exposure it did
// not produce.
var ErrNotSimulated = errors.New("exposure was not produced by the simulator")

// Solver "solves" simulated frames: the true centre plus a random pointing
// error, in J2000.
type Solver struct {
	cfg   Config
	clock timectrl.Clock
	dice  *dice
}

var _ equipment.PlateSolver = (*Solver)(nil)

func (s *Solver) Solve(ctx context.Context, exposure *equipment.Exposure, params equipment.SolveParams) (equipment.SolveResult, error) {
	if exposure == nil {
		return equipment.SolveResult{}, ErrNotSimulated
	}
	frame, ok := exposure.Image.(Frame)
	if !ok {
		return equipment.SolveResult{}, ErrNotSimulated
	}
	if err := timectrl.Sleep(ctx, s.clock, s.cfg.SolveTime); err != nil {
		return equipment.SolveResult{}, err
	}

	rate := s.cfg.SolveFailureRate
	if params.AllowBlind {
		rate /= 2
	}
	if s.dice.roll(rate) {
		return equipment.SolveResult{Success: false}, nil
	}

	truth := core.ToJ2000(frame.Center, frame.At)
	errDeg := s.cfg.PointingErrorArcsec / 3600
	dDec := s.dice.normal(errDeg)
	dRA := s.dice.normal(errDeg) / 15
	if c := math.Cos(core.Radians(truth.Dec)); c > 1e-6 {
		dRA /= c
	}
	solved := truth.Add(model.Separation{RA: dRA, Dec: dDec})
	return equipment.SolveResult{Success: true, Coordinates: solved}, nil
}
