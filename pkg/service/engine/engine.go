package engine

import (
	"context"
	"sync/atomic"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"

	"github.com/mpapenbr/iracelog-gap-engine/log"
	"github.com/mpapenbr/iracelog-gap-engine/pkg/model"
	"github.com/mpapenbr/iracelog-gap-engine/pkg/processing"
	"github.com/mpapenbr/iracelog-gap-engine/pkg/utils/broadcast"
)

// ReportSink receives every computed report, e.g. to publish it via NATS.
// Implementations must not block for long, they are called on the ingest path.
type ReportSink interface {
	Publish(ctx context.Context, r *model.PositionReport, slots int)
}

// Engine handles incoming telemetry frames.
// Each frame is converted into a snapshot, processed and the enriched frame
// is distributed to all subscribers.
type Engine struct {
	proc      *processing.Processor
	sinks     []ReportSink
	out       chan []byte
	bcst      broadcast.BroadcastServer[[]byte]
	l         *log.Logger
	tracer    trace.Tracer
	numFrames metric.Int64Counter
	meters    metric.MeterProvider
	dropped   atomic.Int64
}

type Option func(*Engine)

func WithSink(s ReportSink) Option {
	return func(e *Engine) {
		e.sinks = append(e.sinks, s)
	}
}

// WithOutputBuffer sets the number of enriched frames which may be queued
// for the broadcast server before frames are dropped.
func WithOutputBuffer(size int) Option {
	return func(e *Engine) {
		e.out = make(chan []byte, size)
	}
}

// WithMeterProvider sets the provider for the engine metrics (default: global)
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(e *Engine) {
		e.meters = mp
	}
}

func New(proc *processing.Processor, opts ...Option) *Engine {
	ret := &Engine{
		proc:   proc,
		out:    make(chan []byte, 16),
		l:      log.Default().Named("engine"),
		tracer: otel.Tracer("igap.engine"),
		meters: otel.GetMeterProvider(),
	}
	for _, opt := range opts {
		opt(ret)
	}
	ret.bcst = broadcast.NewBroadcastServer("frames", ret.out,
		broadcast.WithListenerBuffer[[]byte](8))
	var err error
	if ret.numFrames, err = ret.meters.Meter("igap.engine").Int64Counter(
		"igap.engine.frames",
		metric.WithDescription("Number of handled frames"),
		metric.WithUnit("{count}")); err != nil || ret.numFrames == nil {
		ret.l.Error("failed to register metric", log.ErrorField(err))
		ret.numFrames = noop.Int64Counter{}
	}
	return ret
}

func (e *Engine) Processor() *processing.Processor {
	return e.proc
}

// HandleFrame processes a single frame and returns the computed report.
// An error is only returned if the frame could not be interpreted at all.
//
//nolint:whitespace // can't make both editor and linter happy
func (e *Engine) HandleFrame(
	ctx context.Context, f *model.Frame,
) (*model.PositionReport, error) {
	ctx, span := e.tracer.Start(ctx, "HandleFrame")
	defer span.End()

	s, err := f.Snapshot()
	if err != nil {
		e.numFrames.Add(ctx, 1, metric.WithAttributes(attribute.Bool("valid", false)))
		span.RecordError(err)
		return nil, err
	}
	e.numFrames.Add(ctx, 1, metric.WithAttributes(attribute.Bool("valid", true)))
	r := e.proc.Process(ctx, s)
	span.SetAttributes(attribute.Int("cars", len(r.Order)))

	select {
	case e.out <- model.JSON(f.Enrich(r)):
	default:
		if n := e.dropped.Add(1); n%100 == 1 {
			e.l.Warn("output buffer full, dropping frames", log.Int64("dropped", n))
		}
	}
	slots := max(f.Slots(), s.Slots())
	for _, sink := range e.sinks {
		sink.Publish(ctx, r, slots)
	}
	return r, nil
}

// HandleRaw parses and processes a JSON encoded frame
//
//nolint:whitespace // can't make both editor and linter happy
func (e *Engine) HandleRaw(
	ctx context.Context, data []byte,
) (*model.PositionReport, error) {
	f, err := model.ParseFrame(data)
	if err != nil {
		return nil, err
	}
	return e.HandleFrame(ctx, f)
}

// Subscribe returns a channel of enriched frames (JSON encoded)
func (e *Engine) Subscribe() <-chan []byte {
	return e.bcst.Subscribe()
}

func (e *Engine) Unsubscribe(ch <-chan []byte) {
	e.bcst.CancelSubscription(ch)
}

// Listeners returns the number of current subscribers
func (e *Engine) Listeners() int {
	stats, _ := broadcast.StatsOf(e.bcst)
	return stats.Listeners
}

// Dropped returns the number of enriched frames not handed to the broadcast server
func (e *Engine) Dropped() int64 {
	return e.dropped.Load()
}

func (e *Engine) Close() {
	e.bcst.Close()
}
