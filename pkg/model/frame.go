package model

import (
	"errors"
	"fmt"
	"math"

	"github.com/ohler55/ojg/jp"
	"github.com/ohler55/ojg/oj"
)

// input keys of a telemetry frame
const (
	KeyCarIdxLap          = "CarIdxLap"
	KeyCarIdxLapCompleted = "CarIdxLapCompleted"
	KeyCarIdxLapDistPct   = "CarIdxLapDistPct"
	KeySessionTime        = "SessionTime"
)

var ErrInvalidFrame = errors.New("invalid telemetry frame")

var (
	lapPath         = jp.C(KeyCarIdxLap)
	lapDonePath     = jp.C(KeyCarIdxLapCompleted)
	distPctPath     = jp.C(KeyCarIdxLapDistPct)
	rawPositionPath = jp.C(KeyCarIdxPosition)
	sessionTimePath = jp.C(KeySessionTime)
)

// Frame is a raw telemetry object as delivered by the telemetry relay.
// Only the CarIdx arrays and SessionTime are interpreted, everything else
// is passed through when the frame is enriched with computed values.
type Frame struct {
	raw map[string]any
}

// ParseFrame decodes a JSON telemetry frame
func ParseFrame(data []byte) (*Frame, error) {
	v, err := oj.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidFrame, err)
	}
	raw, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: expected object, got %T", ErrInvalidFrame, v)
	}
	return &Frame{raw: raw}, nil
}

func NewFrame(raw map[string]any) *Frame {
	return &Frame{raw: raw}
}

func (f *Frame) Raw() map[string]any {
	return f.raw
}

// Slots returns the length of the progress array
func (f *Frame) Slots() int {
	arr, _ := distPctPath.First(f.raw).([]any)
	return len(arr)
}

// Snapshot extracts the per car samples of the frame.
// Slots with missing or non-numeric lap, completed laps or progress values
// are skipped. A missing raw position is treated as 0.
func (f *Frame) Snapshot() (*Snapshot, error) {
	sessionTime, ok := toFloat(sessionTimePath.First(f.raw))
	if !ok {
		return nil, fmt.Errorf("%w: missing %s", ErrInvalidFrame, KeySessionTime)
	}
	ret := NewSnapshot(sessionTime)

	laps, _ := lapPath.First(f.raw).([]any)
	lapsDone, _ := lapDonePath.First(f.raw).([]any)
	dist, _ := distPctPath.First(f.raw).([]any)
	rawPos, _ := rawPositionPath.First(f.raw).([]any)

	for i := range dist {
		pct, ok := toFloat(dist[i])
		if !ok {
			continue
		}
		lap, ok := intAt(laps, i)
		if !ok {
			continue
		}
		lc, ok := intAt(lapsDone, i)
		if !ok {
			continue
		}
		pos, _ := intAt(rawPos, i)
		sample := CarSample{
			Lap:                lap,
			CompletedLaps:      lc,
			FractionalProgress: pct,
			RawPosition:        pos,
		}
		if !sample.Valid() {
			continue
		}
		ret.Cars[EntityID(i)] = sample
	}
	return ret, nil
}

// Enrich returns a copy of the raw frame where the position and gap arrays
// are replaced by the values of the report.
func (f *Frame) Enrich(r *PositionReport) map[string]any {
	ret := make(map[string]any, len(f.raw)+3)
	for k, v := range f.raw {
		ret[k] = v
	}
	pos, ahead, leader := r.wireArrays(f.Slots())
	ret[KeyCarIdxPosition] = pos
	ret[KeyCarIdxF2Time] = ahead
	ret[KeyCarIdxGapToLeader] = leader
	return ret
}

// JSON encodes a generic frame (as returned by Enrich)
func JSON(data map[string]any) []byte {
	return []byte(oj.JSON(data))
}

func intAt(arr []any, i int) (int, bool) {
	if i >= len(arr) {
		return 0, false
	}
	switch v := arr[i].(type) {
	case int64:
		return int(v), true
	case int:
		return v, true
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return 0, false
		}
		return int(v), true
	}
	return 0, false
}

func toFloat(v any) (float64, bool) {
	switch val := v.(type) {
	case float64:
		if math.IsNaN(val) || math.IsInf(val, 0) {
			return 0, false
		}
		return val, true
	case int64:
		return float64(val), true
	case int:
		return float64(val), true
	}
	return 0, false
}
