//nolint:lll // ok for tests
package model

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFrame_Snapshot(t *testing.T) {
	data := `{
		"CarIdxLap":          [1, 3, null, 2, 0, 4],
		"CarIdxLapCompleted": [0, 2, 1, 1, 0, "x"],
		"CarIdxLapDistPct":   [0.5, 0.25, 0.1, -1, 0.9, 0.3],
		"CarIdxPosition":     [3, 1, 0, 0, 0],
		"SessionTime":        123.5,
		"Speed":              42
	}`
	f, err := ParseFrame([]byte(data))
	require.NoError(t, err)
	assert.Equal(t, 6, f.Slots())

	s, err := f.Snapshot()
	require.NoError(t, err)
	assert.InDelta(t, 123.5, s.SessionTime, 1e-9)
	assert.Equal(t, map[EntityID]CarSample{
		0: {Lap: 1, CompletedLaps: 0, FractionalProgress: 0.5, RawPosition: 3},
		1: {Lap: 3, CompletedLaps: 2, FractionalProgress: 0.25, RawPosition: 1},
		4: {Lap: 0, CompletedLaps: 0, FractionalProgress: 0.9, RawPosition: 0},
	}, s.Cars)
	assert.InDelta(t, 2.25, s.Cars[1].TotalProgress(), 1e-9)
}

func TestParseFrame_errors(t *testing.T) {
	_, err := ParseFrame([]byte(`[1,2]`))
	assert.ErrorIs(t, err, ErrInvalidFrame)

	_, err = ParseFrame([]byte(`{"CarIdxLap":`))
	assert.ErrorIs(t, err, ErrInvalidFrame)

	f, err := ParseFrame([]byte(`{"SessionTime": "soon"}`))
	require.NoError(t, err)
	_, err = f.Snapshot()
	assert.ErrorIs(t, err, ErrInvalidFrame)
}

func TestFrame_Enrich(t *testing.T) {
	f, err := ParseFrame([]byte(`{"CarIdxLapDistPct":[0.5,0.4,0.1],"CarIdxPosition":[2,1,3],"SessionTime":10,"Gear":3}`))
	require.NoError(t, err)
	r := NewPositionReport("s1", 10)
	r.Positions[0] = 1
	r.Positions[1] = 2
	r.GapToCarAhead[1] = 1.5
	r.GapToLeader[1] = 1.5

	enriched := f.Enrich(r)
	assert.Equal(t, []any{int64(1), int64(2), nil}, enriched[KeyCarIdxPosition])
	assert.Equal(t, []any{0.0, 1.5, nil}, enriched[KeyCarIdxF2Time])
	assert.Equal(t, int64(3), enriched["Gear"])
	// original frame untouched
	assert.Equal(t, []any{int64(2), int64(1), int64(3)}, f.Raw()[KeyCarIdxPosition])

	out := map[string]any{}
	require.NoError(t, json.Unmarshal(JSON(enriched), &out))
	assert.Equal(t, []any{1.0, 2.0, nil}, out[KeyCarIdxPosition])
}

func TestPositionReport_Frame(t *testing.T) {
	r := NewPositionReport("s1", 10)
	r.Order = []EntityID{3, 1}
	r.Positions[3] = 1
	r.Positions[1] = 2
	r.GapToCarAhead[1] = 4
	r.GapToLeader[1] = 4

	rf := r.Frame(2)
	require.Len(t, rf.CarIdxPosition, 4)
	assert.Nil(t, rf.CarIdxPosition[0])
	assert.Equal(t, 1, *rf.CarIdxPosition[3])
	assert.InDelta(t, 4.0, *rf.CarIdxF2Time[1], 1e-9)

	st, err := r.Struct(0)
	require.NoError(t, err)
	assert.Equal(t, "s1", st.Fields["SessionId"].GetStringValue())
	assert.Len(t, st.Fields[KeyCarIdxGapToLeader].GetListValue().GetValues(), 4)
	assert.InDelta(t, 3, st.Fields["Order"].GetListValue().GetValues()[0].GetNumberValue(), 0)
}

func TestCarSample_Valid(t *testing.T) {
	tests := []struct {
		name string
		pct  float64
		want bool
	}{
		{"start", 0, true},
		{"mid", 0.5, true},
		{"line", 1, true},
		{"not in world", -1, false},
		{"beyond", 1.01, false},
		{"nan", math.NaN(), false},
		{"inf", math.Inf(1), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CarSample{FractionalProgress: tt.pct}.Valid())
		})
	}
}
