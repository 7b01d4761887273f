//nolint:thelper,whitespace,lll,funlen // ok for tests
package checkpoint

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mpapenbr/iracelog-gap-engine/pkg/model"
)

func ptr(f float64) *float64 { return &f }

func historyOf(capacity int, cps ...Checkpoint) *History {
	h := NewHistory(capacity)
	for _, c := range cps {
		h.Push(c)
	}
	return h
}

func TestHistory_Update(t *testing.T) {
	type sample struct {
		p, t float64
	}
	tests := []struct {
		name    string
		initial []Checkpoint
		samples []sample
		want    []Checkpoint
	}{
		{
			name:    "first sample creates history",
			samples: []sample{{0.01, 1}},
			want:    []Checkpoint{{TotalProgress: 0.01, Timestamp: 1}},
		},
		{
			name:    "checkpoint cadence",
			samples: []sample{{0.01, 1}, {0.05, 2}, {0.09, 3}, {0.11, 4}, {0.15, 5}},
			want: []Checkpoint{
				{TotalProgress: 0.01, Timestamp: 1},
				{TotalProgress: 0.11, Timestamp: 4},
			},
		},
		{
			name:    "discontinuity resets history",
			initial: []Checkpoint{{TotalProgress: 0.5, Timestamp: 10}},
			samples: []sample{{0.2, 11}},
			want:    []Checkpoint{{TotalProgress: 0.2, Timestamp: 11}},
		},
		{
			name:    "lap time capture",
			initial: []Checkpoint{{TotalProgress: 0.95, Timestamp: 100}},
			samples: []sample{{1.05, 110}},
			want: []Checkpoint{
				{TotalProgress: 0.95, Timestamp: 100},
				{TotalProgress: 1.05, Timestamp: 110, LapTime: ptr(10)},
			},
		},
		{
			name:    "new index without lap crossing has no lap time",
			initial: []Checkpoint{{TotalProgress: 1.05, Timestamp: 100}},
			samples: []sample{{1.25, 104}},
			want: []Checkpoint{
				{TotalProgress: 1.05, Timestamp: 100},
				{TotalProgress: 1.25, Timestamp: 104},
			},
		},
		{
			name:    "same progress is not a discontinuity",
			initial: []Checkpoint{{TotalProgress: 0.5, Timestamp: 10}},
			samples: []sample{{0.5, 11}},
			want:    []Checkpoint{{TotalProgress: 0.5, Timestamp: 10}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := historyOf(DefaultMaxCheckpoints, tt.initial...)
			for _, s := range tt.samples {
				h.Update(s.p, s.t, DefaultInterval)
			}
			if diff := cmp.Diff(tt.want, h.Checkpoints()); diff != "" {
				t.Errorf("Update() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestHistory_UpdateResult(t *testing.T) {
	h := historyOf(5, Checkpoint{TotalProgress: 0.95, Timestamp: 100})

	res := h.Update(0.97, 101, DefaultInterval)
	assert.False(t, res.Appended)

	res = h.Update(1.02, 110, DefaultInterval)
	assert.True(t, res.Appended)
	assert.False(t, res.Discontinuity)
	require.NotNil(t, res.Checkpoint.LapTime)
	assert.InDelta(t, 10.0, *res.Checkpoint.LapTime, 1e-9)

	res = h.Update(0.1, 111, DefaultInterval)
	assert.True(t, res.Discontinuity)
	assert.Equal(t, 1, h.Len())
}

func TestHistory_bound(t *testing.T) {
	h := NewHistory(DefaultMaxCheckpoints)
	for i := 0; i < 100; i++ {
		h.Update(float64(i)*0.1+0.05, float64(i), DefaultInterval)
		assert.LessOrEqual(t, h.Len(), DefaultMaxCheckpoints)
	}
	assert.Equal(t, DefaultMaxCheckpoints, h.Len())
	oldest, _ := h.Oldest()
	last, _ := h.Last()
	assert.InDelta(t, 80.0, oldest.Timestamp, 1e-9)
	assert.InDelta(t, 99.0, last.Timestamp, 1e-9)
	// ordering is preserved across the wrap
	cps := h.Checkpoints()
	for i := 1; i < len(cps); i++ {
		assert.Greater(t, cps[i].TotalProgress, cps[i-1].TotalProgress)
	}
}

func TestHistory_LastLapTime(t *testing.T) {
	h := historyOf(10,
		Checkpoint{TotalProgress: 0.9, Timestamp: 1},
		Checkpoint{TotalProgress: 1.0, Timestamp: 2, LapTime: ptr(88)},
		Checkpoint{TotalProgress: 1.9, Timestamp: 3},
		Checkpoint{TotalProgress: 2.0, Timestamp: 4, LapTime: ptr(91)},
		Checkpoint{TotalProgress: 2.1, Timestamp: 5},
	)
	lt, ok := h.LastLapTime()
	assert.True(t, ok)
	assert.InDelta(t, 91.0, lt, 1e-9)

	_, ok = historyOf(3, Checkpoint{TotalProgress: 0.1}).LastLapTime()
	assert.False(t, ok)
}

func TestHistory_At_panics(t *testing.T) {
	h := NewHistory(2)
	assert.Panics(t, func() { h.At(0) })
}

func TestStore(t *testing.T) {
	s := NewStore(WithCapacity(3), WithInterval(0.25))
	assert.InDelta(t, 0.25, s.Interval(), 0)
	assert.Nil(t, s.Get(1))

	s.Update(2, 0.1, 1)
	s.Update(1, 0.1, 1)
	s.Update(1, 0.3, 2)
	s.Update(1, 0.6, 3)
	s.Update(1, 0.8, 4)

	assert.Equal(t, []model.EntityID{1, 2}, s.IDs())
	assert.Equal(t, 3, s.Get(1).Len())
	assert.Equal(t, 3, s.Get(1).Cap())
	first, _ := s.Get(1).Oldest()
	assert.InDelta(t, 0.3, first.TotalProgress, 1e-9)

	s.Remove(2)
	assert.Equal(t, 1, s.Len())
	s.Reset()
	assert.Equal(t, 0, s.Len())
}
