//nolint:thelper,whitespace,lll,funlen,gocritic // ok for tests
package gap

import (
	"math/rand/v2"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/mpapenbr/iracelog-gap-engine/pkg/model"
	"github.com/mpapenbr/iracelog-gap-engine/pkg/processing/checkpoint"
)

type (
	scenarioCheckpoint struct {
		P  float64  `yaml:"p"`
		T  float64  `yaml:"t"`
		LT *float64 `yaml:"lt"`
	}
	scenarioCar struct {
		Lap int     `yaml:"lap"`
		LC  int     `yaml:"lc"`
		Pct float64 `yaml:"pct"`
		Pos int     `yaml:"pos"`
	}
	scenarioWant struct {
		Order         []model.EntityID           `yaml:"order"`
		Positions     map[model.EntityID]int     `yaml:"positions"`
		GapToCarAhead map[model.EntityID]float64 `yaml:"gapToCarAhead"`
		GapToLeader   map[model.EntityID]float64 `yaml:"gapToLeader"`
	}
	scenario struct {
		Name        string                                  `yaml:"name"`
		SessionTime float64                                 `yaml:"sessionTime"`
		Tolerance   float64                                 `yaml:"tolerance"`
		Histories   map[model.EntityID][]scenarioCheckpoint `yaml:"histories"`
		Cars        map[model.EntityID]scenarioCar          `yaml:"cars"`
		Want        scenarioWant                            `yaml:"want"`
	}
	mapLookup map[model.EntityID]*checkpoint.History
)

func (m mapLookup) Get(id model.EntityID) *checkpoint.History {
	return m[id]
}

func loadScenarios(t *testing.T) []scenario {
	data, err := os.ReadFile("testdata/scenarios.yaml")
	require.NoError(t, err)
	var ret []scenario
	require.NoError(t, yaml.Unmarshal(data, &ret))
	return ret
}

func (s *scenario) snapshot() *model.Snapshot {
	ret := model.NewSnapshot(s.SessionTime)
	for id, c := range s.Cars {
		ret.Cars[id] = model.CarSample{
			Lap:                c.Lap,
			CompletedLaps:      c.LC,
			FractionalProgress: c.Pct,
			RawPosition:        c.Pos,
		}
	}
	return ret
}

func (s *scenario) lookup() mapLookup {
	ret := mapLookup{}
	for id, cps := range s.Histories {
		h := checkpoint.NewHistory(checkpoint.DefaultMaxCheckpoints)
		for _, c := range cps {
			h.Push(checkpoint.Checkpoint{TotalProgress: c.P, Timestamp: c.T, LapTime: c.LT})
		}
		ret[id] = h
	}
	return ret
}

func TestEstimator_Scenarios(t *testing.T) {
	e := NewEstimator(DefaultParams())
	for _, sc := range loadScenarios(t) {
		t.Run(sc.Name, func(t *testing.T) {
			got := e.Estimate(sc.snapshot(), sc.lookup(), "test")
			assert.Equal(t, "test", got.SessionID)
			assert.Equal(t, sc.Want.Order, got.Order)
			assert.Equal(t, sc.Want.Positions, got.Positions)
			// gaps are approximations
			require.Len(t, got.GapToCarAhead, len(sc.Want.GapToCarAhead))
			for id, want := range sc.Want.GapToCarAhead {
				assert.InDelta(t, want, got.GapToCarAhead[id], sc.Tolerance+1e-9, "gapToCarAhead car %d", id)
			}
			require.Len(t, got.GapToLeader, len(sc.Want.GapToLeader))
			for id, want := range sc.Want.GapToLeader {
				assert.InDelta(t, want, got.GapToLeader[id], sc.Tolerance+1e-9, "gapToLeader car %d", id)
			}
		})
	}
}

func TestEstimator_empty(t *testing.T) {
	e := NewEstimator(DefaultParams())
	got := e.Estimate(model.NewSnapshot(1), mapLookup{}, "")
	assert.Empty(t, got.Order)
	assert.Empty(t, got.Positions)
}

func TestFindCheckpointBefore(t *testing.T) {
	h := checkpoint.NewHistory(5)
	_, ok := FindCheckpointBefore(h, 1)
	assert.False(t, ok)

	for _, p := range []float64{1.0, 1.1, 1.2} {
		h.Push(checkpoint.Checkpoint{TotalProgress: p, Timestamp: p * 100})
	}
	tests := []struct {
		name   string
		target float64
		want   float64
	}{
		{"exact match", 1.1, 1.1},
		{"between", 1.15, 1.1},
		{"beyond newest", 5, 1.2},
		{"before oldest returns oldest", 0.5, 1.0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := FindCheckpointBefore(h, tt.target)
			assert.True(t, ok)
			assert.InDelta(t, tt.want, got.TotalProgress, 1e-9)
		})
	}
}

func TestInterpolator_TimeBetween(t *testing.T) {
	mk := func(cps ...checkpoint.Checkpoint) *checkpoint.History {
		h := checkpoint.NewHistory(10)
		for _, c := range cps {
			h.Push(c)
		}
		return h
	}
	steady := mk(
		checkpoint.Checkpoint{TotalProgress: 0.0, Timestamp: 0},
		checkpoint.Checkpoint{TotalProgress: 0.1, Timestamp: 20},
		checkpoint.Checkpoint{TotalProgress: 0.2, Timestamp: 40},
		checkpoint.Checkpoint{TotalProgress: 0.3, Timestamp: 60},
	)
	interp := NewInterpolator(0.1)
	tests := []struct {
		name       string
		h          *checkpoint.History
		start, end float64
		now        float64
		want       float64
	}{
		{name: "nil history", h: nil, start: 0, end: 1, now: 10, want: 0},
		{name: "single checkpoint", h: mk(checkpoint.Checkpoint{TotalProgress: 0.1, Timestamp: 1}), start: 0.1, end: 0.5, now: 10, want: 0},
		{name: "interpolation inside history", h: steady, start: 0.05, end: 0.25, now: 70, want: 40},
		{name: "extrapolation beyond newest", h: steady, start: 0.3, end: 0.4, now: 70, want: 10},
		{name: "extrapolation with stale checkpoint", h: steady, start: 0.35, end: 0.5, now: 80, want: 40},
		{name: "start equals end", h: steady, start: 0.3, end: 0.3, now: 80, want: 0},
		{name: "clock behind newest checkpoint", h: steady, start: 0.3, end: 0.4, now: 50, want: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := interp.TimeBetween(tt.h, tt.start, tt.end, tt.now)
			assert.InDelta(t, tt.want, got, 1e-6)
		})
	}
}

func TestParams_Validate(t *testing.T) {
	assert.NoError(t, DefaultParams().Validate())

	p := DefaultParams()
	p.CheckpointInterval = 0
	assert.Error(t, p.Validate())

	p = DefaultParams()
	p.MaxCheckpoints = 1
	assert.Error(t, p.Validate())

	p = DefaultParams()
	p.DefaultLapTime = -5
	assert.Error(t, p.Validate())

	s := DefaultParams().NewStore()
	assert.InDelta(t, 0.1, s.Interval(), 0)
}

// feeds random ticks through store and estimator and checks the report invariants
func TestEstimator_Properties(t *testing.T) {
	params := DefaultParams()
	e := NewEstimator(params)
	store := params.NewStore()
	rng := rand.New(rand.NewPCG(1, 2))

	const numCars = 12
	progress := make([]float64, numCars)
	speed := make([]float64, numCars)
	for i := range speed {
		// between 0.9 and 1.1 laps per 90 seconds
		speed[i] = (0.9 + rng.Float64()*0.2) / 90
	}
	now := 0.0
	for tick := 0; tick < 3000; tick++ {
		now += 0.1 + rng.Float64()*0.1
		snap := model.NewSnapshot(now)
		for i := range progress {
			if rng.IntN(50) == 0 {
				continue // missing sample
			}
			progress[i] += speed[i] * 0.15
			lc := int(progress[i])
			snap.Cars[model.EntityID(i)] = model.CarSample{
				Lap:                lc + 1,
				CompletedLaps:      lc,
				FractionalProgress: progress[i] - float64(lc),
				RawPosition:        i + 1,
			}
			store.Update(model.EntityID(i), progress[i], now)
		}
		r := e.Estimate(snap, store, "prop")

		for i, id := range r.Order {
			pos := r.Positions[id]
			assert.Equal(t, i+1, pos, "positions follow sorted order")
			assert.GreaterOrEqual(t, r.GapToLeader[id], 0.0)
			assert.GreaterOrEqual(t, r.GapToCarAhead[id], 0.0)
			if pos == 1 {
				assert.Zero(t, r.GapToLeader[id])
				assert.Zero(t, r.GapToCarAhead[id])
			}
			if i > 0 {
				prev := snap.Cars[r.Order[i-1]].TotalProgress()
				assert.GreaterOrEqual(t, prev, snap.Cars[id].TotalProgress())
			}
		}
		for _, id := range store.IDs() {
			assert.LessOrEqual(t, store.Get(id).Len(), params.MaxCheckpoints)
		}
	}
}
