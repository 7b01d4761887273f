package processing

import (
	"context"
	"math"
	"sync"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"

	"github.com/mpapenbr/iracelog-gap-engine/log"
	"github.com/mpapenbr/iracelog-gap-engine/pkg/model"
	"github.com/mpapenbr/iracelog-gap-engine/pkg/processing/checkpoint"
	"github.com/mpapenbr/iracelog-gap-engine/pkg/processing/gap"
)

// LapListener gets notified about every lap time recorded by the processor.
// It is called while the processor lock is held and must not block.
type LapListener interface {
	OnLap(ev model.LapEvent)
}

type LapListenerFunc func(ev model.LapEvent)

func (f LapListenerFunc) OnLap(ev model.LapEvent) {
	f(ev)
}

// Processor is responsible for processing incoming snapshots.
// It owns the checkpoint store and serializes all access to it.
type Processor struct {
	mu              sync.Mutex
	params          gap.Params
	store           *checkpoint.Store
	estimator       *gap.Estimator
	lapListener     LapListener
	logger          *log.Logger
	sessionIDFunc   func() string
	sessionID       string
	lastSessionTime float64
	ticks           int
	latest          *model.PositionReport
	meters          metric.MeterProvider
	metrics         *processorMetrics
}

type ProcessorOption func(proc *Processor)

func WithParams(p gap.Params) ProcessorOption {
	return func(proc *Processor) {
		proc.params = p
	}
}

func WithLapListener(l LapListener) ProcessorOption {
	return func(proc *Processor) {
		proc.lapListener = l
	}
}

func WithLogger(l *log.Logger) ProcessorOption {
	return func(proc *Processor) {
		proc.logger = l
	}
}

// WithMeterProvider sets the provider for the processor metrics (default: global)
func WithMeterProvider(mp metric.MeterProvider) ProcessorOption {
	return func(proc *Processor) {
		proc.meters = mp
	}
}

// WithSessionIDFunc sets the generator for session ids (default: random uuid)
func WithSessionIDFunc(f func() string) ProcessorOption {
	return func(proc *Processor) {
		proc.sessionIDFunc = f
	}
}

func NewProcessor(opts ...ProcessorOption) *Processor {
	ret := &Processor{
		params:        gap.DefaultParams(),
		logger:        log.Default().Named("processing"),
		sessionIDFunc: uuid.NewString,
		meters:        otel.GetMeterProvider(),
	}
	for _, opt := range opts {
		opt(ret)
	}
	ret.store = ret.params.NewStore()
	ret.estimator = gap.NewEstimator(ret.params)
	ret.sessionID = ret.sessionIDFunc()
	ret.metrics = newProcessorMetrics(ret)
	return ret
}

// Process runs one tick. The returned report is owned by the caller.
//
//nolint:whitespace // can't make both editor and linter happy
func (p *Processor) Process(
	ctx context.Context, s *model.Snapshot,
) *model.PositionReport {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.ticks > 0 && s.SessionTime < p.lastSessionTime {
		p.logger.Info("session time went backwards, starting new session",
			log.Float64("last", p.lastSessionTime),
			log.Float64("current", s.SessionTime))
		p.resetLocked(ctx)
		p.sessionID = p.sessionIDFunc()
	}
	p.ticks++
	p.lastSessionTime = s.SessionTime
	p.metrics.ticks.Add(ctx, 1)

	for id, sample := range s.Cars {
		if !sample.Valid() {
			continue
		}
		res := p.store.Update(id, sample.TotalProgress(), s.SessionTime)
		if res.Discontinuity {
			p.metrics.discontinuities.Add(ctx, 1)
			p.logger.Debug("discontinuity",
				log.Int("carIdx", int(id)),
				log.Float64("progress", res.Checkpoint.TotalProgress))
		}
		if res.Checkpoint.LapTime != nil {
			p.metrics.laps.Add(ctx, 1)
			p.notifyLap(id, res.Checkpoint)
		}
	}
	p.latest = p.estimator.Estimate(s, p.store, p.sessionID)
	return copyReport(p.latest)
}

func (p *Processor) notifyLap(id model.EntityID, c checkpoint.Checkpoint) {
	if p.lapListener == nil {
		return
	}
	p.lapListener.OnLap(model.LapEvent{
		SessionID:   p.sessionID,
		CarIdx:      id,
		LapNo:       int(math.Floor(c.TotalProgress)),
		LapTime:     *c.LapTime,
		SessionTime: c.Timestamp,
	})
}

// Reset drops all histories, e.g. on session change
func (p *Processor) Reset(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.resetLocked(ctx)
}

func (p *Processor) resetLocked(ctx context.Context) {
	p.store.Reset()
	p.latest = nil
	p.metrics.resets.Add(ctx, 1)
}

// Remove drops the history of an entity which left the session.
// It returns false if there was no history for id.
func (p *Processor) Remove(id model.EntityID) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.store.Get(id) == nil {
		return false
	}
	p.store.Remove(id)
	return true
}

// UpdateParams replaces the engine params.
// Existing histories are dropped since they were built with the old params.
func (p *Processor) UpdateParams(ctx context.Context, params gap.Params) error {
	if err := params.Validate(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.params = params
	p.store = params.NewStore()
	p.estimator = gap.NewEstimator(params)
	p.latest = nil
	p.metrics.resets.Add(ctx, 1)
	p.logger.Info("engine params updated",
		log.Float64("interval", params.CheckpointInterval),
		log.Int("maxCheckpoints", params.MaxCheckpoints),
		log.Float64("defaultLapTime", params.DefaultLapTime))
	return nil
}

func (p *Processor) Params() gap.Params {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.params
}

func (p *Processor) SessionID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sessionID
}

// Latest returns a copy of the most recent report, nil if there is none
func (p *Processor) Latest() *model.PositionReport {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.latest == nil {
		return nil
	}
	return copyReport(p.latest)
}

// History returns the checkpoints of id, ok is false for unknown entities
//
//nolint:whitespace // can't make both editor and linter happy
func (p *Processor) History(
	id model.EntityID,
) (ret []checkpoint.Checkpoint, ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	h := p.store.Get(id)
	if h == nil {
		return nil, false
	}
	return h.Checkpoints(), true
}

func (p *Processor) trackedEntities() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.store.Len()
}

func copyReport(r *model.PositionReport) *model.PositionReport {
	ret := model.NewPositionReport(r.SessionID, r.SessionTime)
	ret.Order = append(ret.Order, r.Order...)
	for k, v := range r.Positions {
		ret.Positions[k] = v
	}
	for k, v := range r.GapToCarAhead {
		ret.GapToCarAhead[k] = v
	}
	for k, v := range r.GapToLeader {
		ret.GapToLeader[k] = v
	}
	return ret
}

type processorMetrics struct {
	ticks           metric.Int64Counter
	resets          metric.Int64Counter
	discontinuities metric.Int64Counter
	laps            metric.Int64Counter
}

func newProcessorMetrics(p *Processor) *processorMetrics {
	meter := p.meters.Meter("igap.processor")
	counter := func(name, desc string) metric.Int64Counter {
		c, err := meter.Int64Counter(name,
			metric.WithDescription(desc),
			metric.WithUnit("{count}"))
		if err != nil || c == nil {
			p.logger.Error("failed to register metric",
				log.String("metric", name), log.ErrorField(err))
			return noop.Int64Counter{}
		}
		return c
	}
	ret := &processorMetrics{
		ticks:           counter("igap.processor.ticks", "Number of processed ticks"),
		resets:          counter("igap.processor.resets", "Number of store resets"),
		discontinuities: counter("igap.processor.discontinuities",
			"Number of history discontinuities"),
		laps:            counter("igap.processor.laps", "Number of recorded lap times"),
	}
	if _, err := meter.Int64ObservableGauge("igap.processor.entities",
		metric.WithDescription("Number of tracked entities"),
		metric.WithUnit("{count}"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(int64(p.trackedEntities()))
			return nil
		})); err != nil {
		p.logger.Error("failed to register metric",
			log.String("metric", "igap.processor.entities"), log.ErrorField(err))
	}
	return ret
}
