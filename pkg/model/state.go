package model

import "math"

// EntityID identifies a car by its telemetry slot (CarIdx)
type EntityID int

// CarSample holds the raw per-car values of one telemetry tick
type CarSample struct {
	Lap                int     `json:"lap"`
	CompletedLaps      int     `json:"completedLaps"`
	FractionalProgress float64 `json:"fractionalProgress"` // 0..1 within current lap
	RawPosition        int     `json:"rawPosition"`        // only used as tie-break
}

// TotalProgress is completed laps plus position within the current lap
func (c CarSample) TotalProgress() float64 {
	return float64(c.CompletedLaps) + c.FractionalProgress
}

// Valid reports whether the sample can take part in a tick.
// NaN, infinite or negative progress is treated like missing data.
// Exactly 1 is accepted (car on the line before the lap counter increments).
func (c CarSample) Valid() bool {
	p := c.FractionalProgress
	if math.IsNaN(p) || math.IsInf(p, 0) {
		return false
	}
	return p >= 0 && p <= 1
}

// Snapshot is the input of one tick
type Snapshot struct {
	SessionTime float64                `json:"sessionTime"`
	Cars        map[EntityID]CarSample `json:"cars"`
}

func NewSnapshot(sessionTime float64) *Snapshot {
	return &Snapshot{SessionTime: sessionTime, Cars: make(map[EntityID]CarSample)}
}

// Slots returns the number of slots needed to address every car of the snapshot
func (s *Snapshot) Slots() int {
	ret := 0
	for id := range s.Cars {
		if int(id)+1 > ret {
			ret = int(id) + 1
		}
	}
	return ret
}
