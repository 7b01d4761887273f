package checkpoint

import "math"

// Checkpoint is a recorded observation of one car
type Checkpoint struct {
	TotalProgress float64  `json:"totalProgress"`
	Timestamp     float64  `json:"timestamp"`         // session time in seconds
	LapTime       *float64 `json:"lapTime,omitempty"` // only set when a lap was completed
}

// History is a bounded ring buffer of checkpoints, ordered oldest to newest.
// The zero value is not usable, use NewHistory.
type History struct {
	buf   []Checkpoint
	start int
	size  int
}

func NewHistory(capacity int) *History {
	if capacity < 1 {
		capacity = 1
	}
	return &History{buf: make([]Checkpoint, capacity)}
}

func (h *History) Len() int {
	return h.size
}

func (h *History) Cap() int {
	return len(h.buf)
}

// At returns the i-th checkpoint, 0 is the oldest one
func (h *History) At(i int) Checkpoint {
	if i < 0 || i >= h.size {
		panic("checkpoint: index out of range")
	}
	return h.buf[(h.start+i)%len(h.buf)]
}

func (h *History) Last() (Checkpoint, bool) {
	if h.size == 0 {
		return Checkpoint{}, false
	}
	return h.At(h.size - 1), true
}

func (h *History) Oldest() (Checkpoint, bool) {
	if h.size == 0 {
		return Checkpoint{}, false
	}
	return h.At(0), true
}

// Push appends c, evicting the oldest checkpoint when the buffer is full
func (h *History) Push(c Checkpoint) {
	if h.size < len(h.buf) {
		h.buf[(h.start+h.size)%len(h.buf)] = c
		h.size++
		return
	}
	h.buf[h.start] = c
	h.start = (h.start + 1) % len(h.buf)
}

func (h *History) Clear() {
	h.start = 0
	h.size = 0
}

// Checkpoints returns a copy of the history, oldest first
func (h *History) Checkpoints() []Checkpoint {
	ret := make([]Checkpoint, h.size)
	for i := range ret {
		ret[i] = h.At(i)
	}
	return ret
}

// LastLapTime returns the most recent recorded lap time
func (h *History) LastLapTime() (float64, bool) {
	for i := h.size - 1; i >= 0; i-- {
		if c := h.At(i); c.LapTime != nil {
			return *c.LapTime, true
		}
	}
	return 0, false
}

// UpdateResult describes what Update did to a history
type UpdateResult struct {
	Appended      bool
	Discontinuity bool
	Checkpoint    Checkpoint // the appended checkpoint, if any
}

// Update records a new sample.
// A checkpoint is appended only when the sample enters a new checkpoint index
// (floor(progress/interval)). A sample with less progress than the newest
// checkpoint replaces the whole history.
func (h *History) Update(totalProgress, timestamp, interval float64) UpdateResult {
	last, ok := h.Last()
	if ok && totalProgress < last.TotalProgress {
		h.Clear()
		c := Checkpoint{TotalProgress: totalProgress, Timestamp: timestamp}
		h.Push(c)
		return UpdateResult{Appended: true, Discontinuity: true, Checkpoint: c}
	}
	if ok && Index(totalProgress, interval) == Index(last.TotalProgress, interval) {
		return UpdateResult{}
	}
	c := Checkpoint{TotalProgress: totalProgress, Timestamp: timestamp}
	if ok && math.Floor(totalProgress) > math.Floor(last.TotalProgress) {
		lapTime := timestamp - last.Timestamp
		c.LapTime = &lapTime
	}
	h.Push(c)
	return UpdateResult{Appended: true, Checkpoint: c}
}

// Index computes the checkpoint index of a progress value
func Index(totalProgress, interval float64) int {
	return int(math.Floor(totalProgress / interval))
}
