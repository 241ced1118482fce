package alignment

import (
	"encoding/json"
	"math"

	"github.com/signalsfoundry/skymodel/model"
)

// PathPointing is one entry of a sidereal-path model upload. Solved
// coordinates are null for points whose solve failed.
type PathPointing struct {
	UTCDate     string   `json:"UTCDate"`
	PierSide    int      `json:"PierSide"`
	TelescopeRa float64  `json:"TelescopeRa"`
	TelescopeDe float64  `json:"TelescopeDe"`
	PlateRa     *float64 `json:"PlateRa"`
	PlateDe     *float64 `json:"PlateDe"`
	Solved      bool     `json:"Solved"`
}

// PathPointings converts the measured points of a sidereal path. Both added
// and failed points are sent so the mount sees the whole track.
func PathPointings(points []model.SkyPoint) []PathPointing {
	out := make([]PathPointing, 0, len(points))
	for _, p := range points {
		if p.State != model.PointAddedToModel && p.State != model.PointFailed {
			continue
		}
		side := -1
		if p.MountReportedPierSide == model.PierEast {
			side = 1
		}
		out = append(out, PathPointing{
			UTCDate:     p.CaptureTime.UTC().Format("2006-01-02T15:04:05.00Z"),
			PierSide:    side,
			TelescopeRa: finiteOrZero(p.MountReportedRA),
			TelescopeDe: finiteOrZero(p.MountReportedDec),
			PlateRa:     finiteOrNil(p.PlateSolvedRA),
			PlateDe:     finiteOrNil(p.PlateSolvedDec),
			Solved:      p.State == model.PointAddedToModel,
		})
	}
	return out
}

// PathPayload marshals PathPointings for PathModelSender.
func PathPayload(points []model.SkyPoint) ([]byte, error) {
	return json.Marshal(PathPointings(points))
}

func finiteOrZero(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

func finiteOrNil(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}
