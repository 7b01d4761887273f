package gap

import (
	"math"

	"github.com/mpapenbr/iracelog-gap-engine/pkg/processing/checkpoint"
)

// Interpolator estimates the time a car needs to cover a progress delta
// using only the checkpoints of that car.
type Interpolator struct {
	interval float64
}

func NewInterpolator(interval float64) Interpolator {
	return Interpolator{interval: interval}
}

// FindCheckpointBefore returns the newest checkpoint with progress <= target.
// If there is none the oldest checkpoint is returned.
// ok is false only for an empty history.
//
//nolint:whitespace // can't make both editor and linter happy
func FindCheckpointBefore(
	h *checkpoint.History, target float64,
) (ret checkpoint.Checkpoint, ok bool) {
	if h == nil || h.Len() == 0 {
		return checkpoint.Checkpoint{}, false
	}
	for i := h.Len() - 1; i >= 0; i-- {
		if c := h.At(i); c.TotalProgress <= target {
			return c, true
		}
	}
	return h.Oldest()
}

// TimeBetween estimates the seconds needed to get from start to end.
// Returns 0 if the history has less than 2 checkpoints.
//
//nolint:whitespace // can't make both editor and linter happy
func (i Interpolator) TimeBetween(
	h *checkpoint.History, start, end, now float64,
) float64 {
	if h == nil || h.Len() < 2 {
		return 0
	}
	startCp, _ := FindCheckpointBefore(h, start)
	endCp, _ := FindCheckpointBefore(h, end)

	if dp := endCp.TotalProgress - startCp.TotalProgress; dp != 0 {
		timePerUnit := (endCp.Timestamp - startCp.Timestamp) / dp
		return math.Max(0, (end-start)*timePerUnit)
	}

	// both resolved to the same checkpoint: extrapolate from the newest one.
	// low confidence, the pace since the last checkpoint is assumed
	last, _ := h.Last()
	timeSinceLast := now - last.Timestamp
	progressSinceLast := math.Abs(end - last.TotalProgress)
	return math.Max(0, timeSinceLast*(progressSinceLast/i.interval))
}
