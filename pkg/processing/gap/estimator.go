package gap

import (
	"cmp"
	"math"
	"slices"

	"github.com/mpapenbr/iracelog-gap-engine/pkg/model"
	"github.com/mpapenbr/iracelog-gap-engine/pkg/processing/checkpoint"
)

// HistoryLookup provides the checkpoint history of a car (nil if unknown)
type HistoryLookup interface {
	Get(id model.EntityID) *checkpoint.History
}

// CarProgress is derived once per tick for every valid car
type CarProgress struct {
	model.CarSample
	ID            model.EntityID
	TotalProgress float64
}

// Started reports whether the car has begun its first lap
func (c CarProgress) Started() bool {
	return c.CompletedLaps > 0 || c.Lap == 1
}

// Estimator computes positions and gaps of a tick. It holds no state.
type Estimator struct {
	params Params
	interp Interpolator
}

func NewEstimator(p Params) *Estimator {
	return &Estimator{params: p, interp: NewInterpolator(p.CheckpointInterval)}
}

// SortedProgress returns the valid cars of the snapshot ordered by
// total progress (desc), raw position (asc) and id (asc)
func SortedProgress(s *model.Snapshot) []CarProgress {
	ret := make([]CarProgress, 0, len(s.Cars))
	for id, sample := range s.Cars {
		if !sample.Valid() {
			continue
		}
		ret = append(ret, CarProgress{
			CarSample:     sample,
			ID:            id,
			TotalProgress: sample.TotalProgress(),
		})
	}
	slices.SortFunc(ret, func(a, b CarProgress) int {
		if c := cmp.Compare(b.TotalProgress, a.TotalProgress); c != 0 {
			return c
		}
		if c := cmp.Compare(a.RawPosition, b.RawPosition); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return ret
}

//nolint:whitespace // can't make both editor and linter happy
func (e *Estimator) Estimate(
	s *model.Snapshot, histories HistoryLookup, sessionID string,
) *model.PositionReport {
	ret := model.NewPositionReport(sessionID, s.SessionTime)
	cars := SortedProgress(s)
	if len(cars) == 0 {
		return ret
	}
	leader := cars[0]
	for i, car := range cars {
		ret.Order = append(ret.Order, car.ID)
		if car.Started() {
			ret.Positions[car.ID] = i + 1
		} else {
			ret.Positions[car.ID] = e.params.NotStartedPosition
		}
		if i == 0 {
			ret.GapToLeader[car.ID] = 0
			ret.GapToCarAhead[car.ID] = 0
			continue
		}
		h := histories.Get(car.ID)
		ret.GapToLeader[car.ID] = e.gap(car, leader, h, s.SessionTime)
		ret.GapToCarAhead[car.ID] = e.gap(car, cars[i-1], h, s.SessionTime)
	}
	return ret
}

// gap estimates how long car needs to reach the current progress of ref
//
//nolint:whitespace // can't make both editor and linter happy
func (e *Estimator) gap(
	car, ref CarProgress, h *checkpoint.History, now float64,
) float64 {
	delta := ref.TotalProgress - car.TotalProgress
	if delta <= 0 {
		return 0
	}
	if delta < 1 {
		return e.interp.TimeBetween(h, car.TotalProgress, car.TotalProgress+delta, now)
	}
	fullLaps := math.Floor(delta)
	partial := delta - fullLaps
	lapTime := e.params.DefaultLapTime
	if h != nil {
		if lt, ok := h.LastLapTime(); ok {
			lapTime = lt
		}
	}
	ret := fullLaps*lapTime +
		e.interp.TimeBetween(h, car.TotalProgress, car.TotalProgress+partial, now)
	return math.Max(0, ret)
}
