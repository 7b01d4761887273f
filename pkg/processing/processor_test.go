//nolint:thelper,whitespace,lll,funlen // ok for tests
package processing

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/mpapenbr/iracelog-gap-engine/pkg/model"
	"github.com/mpapenbr/iracelog-gap-engine/pkg/processing/gap"
	"github.com/mpapenbr/iracelog-gap-engine/testsupport/failmeter"
)

const (
	carA model.EntityID = 0
	carB model.EntityID = 1
)

func sample(completed int, pct float64) model.CarSample {
	return model.CarSample{Lap: completed + 1, CompletedLaps: completed, FractionalProgress: pct}
}

func snap(sessionTime float64, cars map[model.EntityID]model.CarSample) *model.Snapshot {
	ret := model.NewSnapshot(sessionTime)
	for k, v := range cars {
		ret.Cars[k] = v
	}
	return ret
}

func counterIDs() func() string {
	i := 0
	return func() string {
		i++
		return fmt.Sprintf("s%d", i)
	}
}

// car A at 2.30 and car B at 2.10, both need 20s per checkpoint interval
func TestProcessor_endToEnd(t *testing.T) {
	p := NewProcessor(WithSessionIDFunc(counterIDs()))
	assert.Nil(t, p.Latest())

	ctx := context.Background()
	p.Process(ctx, snap(60, map[model.EntityID]model.CarSample{carA: sample(2, 0.2), carB: sample(2, 0.0)}))
	p.Process(ctx, snap(80, map[model.EntityID]model.CarSample{carA: sample(2, 0.3), carB: sample(2, 0.1)}))
	got := p.Process(ctx, snap(100, map[model.EntityID]model.CarSample{carA: sample(2, 0.3), carB: sample(2, 0.1)}))

	assert.Equal(t, "s1", got.SessionID)
	assert.Equal(t, []model.EntityID{carA, carB}, got.Order)
	assert.Equal(t, map[model.EntityID]int{carA: 1, carB: 2}, got.Positions)
	assert.Zero(t, got.GapToLeader[carA])
	assert.Zero(t, got.GapToCarAhead[carA])
	assert.InDelta(t, 40.0, got.GapToLeader[carB], 0.01)
	assert.InDelta(t, 40.0, got.GapToCarAhead[carB], 0.01)

	latest := p.Latest()
	require.NotNil(t, latest)
	assert.Equal(t, got, latest)
	// reports are copies
	latest.Positions[carA] = 42
	assert.Equal(t, 1, p.Latest().Positions[carA])

	cps, ok := p.History(carB)
	require.True(t, ok)
	assert.Len(t, cps, 2)
	_, ok = p.History(5)
	assert.False(t, ok)
}

func TestProcessor_lapListener(t *testing.T) {
	var events []model.LapEvent
	p := NewProcessor(
		WithSessionIDFunc(counterIDs()),
		WithLapListener(LapListenerFunc(func(ev model.LapEvent) {
			events = append(events, ev)
		})))
	ctx := context.Background()
	p.Process(ctx, snap(10, map[model.EntityID]model.CarSample{3: sample(0, 0.95)}))
	p.Process(ctx, snap(100, map[model.EntityID]model.CarSample{3: sample(1, 0.02)}))
	p.Process(ctx, snap(101, map[model.EntityID]model.CarSample{3: sample(1, 0.03)}))

	require.Len(t, events, 1)
	assert.Equal(t, "s1", events[0].SessionID)
	assert.Equal(t, model.EntityID(3), events[0].CarIdx)
	assert.Equal(t, 1, events[0].LapNo)
	assert.InDelta(t, 90.0, events[0].LapTime, 1e-9)
	assert.InDelta(t, 100.0, events[0].SessionTime, 1e-9)
}

func TestProcessor_sessionRestart(t *testing.T) {
	p := NewProcessor(WithSessionIDFunc(counterIDs()))
	ctx := context.Background()
	p.Process(ctx, snap(100, map[model.EntityID]model.CarSample{carA: sample(0, 0.1)}))
	p.Process(ctx, snap(120, map[model.EntityID]model.CarSample{carA: sample(0, 0.2)}))
	cps, _ := p.History(carA)
	assert.Len(t, cps, 2)
	assert.Equal(t, "s1", p.SessionID())

	got := p.Process(ctx, snap(5, map[model.EntityID]model.CarSample{carA: sample(0, 0.5)}))
	assert.Equal(t, "s2", got.SessionID)
	cps, _ = p.History(carA)
	require.Len(t, cps, 1)
	assert.InDelta(t, 5.0, cps[0].Timestamp, 1e-9)
}

func TestProcessor_invalidSamplesAreIgnored(t *testing.T) {
	p := NewProcessor()
	got := p.Process(context.Background(), snap(1, map[model.EntityID]model.CarSample{
		carA: sample(0, 0.5),
		carB: sample(0, -1),
	}))
	assert.Equal(t, []model.EntityID{carA}, got.Order)
	_, ok := p.History(carB)
	assert.False(t, ok)
}

func TestProcessor_ResetAndRemove(t *testing.T) {
	p := NewProcessor()
	ctx := context.Background()
	p.Process(ctx, snap(1, map[model.EntityID]model.CarSample{carA: sample(0, 0.5), carB: sample(0, 0.4)}))

	assert.True(t, p.Remove(carB))
	assert.False(t, p.Remove(carB))
	_, ok := p.History(carB)
	assert.False(t, ok)
	_, ok = p.History(carA)
	assert.True(t, ok)

	p.Reset(ctx)
	assert.Nil(t, p.Latest())
	_, ok = p.History(carA)
	assert.False(t, ok)
}

func TestProcessor_UpdateParams(t *testing.T) {
	p := NewProcessor()
	ctx := context.Background()
	p.Process(ctx, snap(1, map[model.EntityID]model.CarSample{carA: sample(0, 0.5)}))

	invalid := gap.DefaultParams()
	invalid.CheckpointInterval = -1
	require.Error(t, p.UpdateParams(ctx, invalid))
	assert.NotNil(t, p.Latest())

	params := gap.DefaultParams()
	params.CheckpointInterval = 0.05
	require.NoError(t, p.UpdateParams(ctx, params))
	assert.Nil(t, p.Latest())
	assert.InDelta(t, 0.05, p.Params().CheckpointInterval, 0)

	p.Process(ctx, snap(2, map[model.EntityID]model.CarSample{carA: sample(0, 0.51)}))
	p.Process(ctx, snap(3, map[model.EntityID]model.CarSample{carA: sample(0, 0.56)}))
	cps, _ := p.History(carA)
	assert.Len(t, cps, 2, "finer interval creates more checkpoints")
}

func TestProcessor_concurrentAccess(t *testing.T) {
	p := NewProcessor()
	ctx := context.Background()
	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				p.Process(ctx, snap(float64(i), map[model.EntityID]model.CarSample{
					model.EntityID(w): sample(0, float64(i)/1000),
				}))
				p.Latest()
			}
		}()
	}
	wg.Wait()
	assert.NotNil(t, p.Latest())
}

func TestProcessor_metrics(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	p := NewProcessor(WithMeterProvider(
		sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))))
	ctx := context.Background()
	p.Process(ctx, snap(10, map[model.EntityID]model.CarSample{carA: sample(0, 0.95), carB: sample(0, 0.5)}))
	p.Process(ctx, snap(20, map[model.EntityID]model.CarSample{carA: sample(1, 0.05), carB: sample(0, 0.4)}))
	p.Reset(ctx)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))
	values := map[string]int64{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			switch d := m.Data.(type) {
			case metricdata.Sum[int64]:
				values[m.Name] = d.DataPoints[0].Value
			case metricdata.Gauge[int64]:
				values[m.Name] = d.DataPoints[0].Value
			}
		}
	}
	assert.Equal(t, int64(2), values["igap.processor.ticks"])
	assert.Equal(t, int64(1), values["igap.processor.laps"])
	assert.Equal(t, int64(1), values["igap.processor.discontinuities"])
	assert.Equal(t, int64(1), values["igap.processor.resets"])
	assert.Contains(t, values, "igap.processor.entities")
}

func TestProcessor_metricRegistrationFails(t *testing.T) {
	p := NewProcessor(WithMeterProvider(failmeter.MeterProvider{}))
	ctx := context.Background()
	r := p.Process(ctx, snap(10, map[model.EntityID]model.CarSample{carA: sample(0, 0.5), carB: sample(0, 0.4)}))
	assert.Equal(t, []model.EntityID{carA, carB}, r.Order)
	p.Reset(ctx)
	assert.Nil(t, p.Latest())
}
