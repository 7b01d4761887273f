package broadcast

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/mpapenbr/iracelog-gap-engine/log"
)

//nolint:lll // url
// see https://betterprogramming.pub/how-to-broadcast-messages-in-go-using-channels-b68f42bdf32e

type BroadcastServer[T any] interface {
	Subscribe() <-chan T
	CancelSubscription(<-chan T)
	Close()
}

type broadcastServer[T any] struct {
	name           string
	source         <-chan T
	listeners      []chan T
	addListener    chan chan T
	removeListener chan (<-chan T)
	ctx            context.Context
	cancel         context.CancelFunc
	sendTimeout    time.Duration
	bufferSize     int
	l              *log.Logger
	// only modified by the serve goroutine
	numRcv  int64
	numSnd  int64
	numSkip int64
	stats   chan chan Stats
}

// Stats holds the counters of a broadcast server
type Stats struct {
	Received  int64
	Sent      int64
	Skipped   int64
	Listeners int
}

type Option[T any] func(*broadcastServer[T])

// WithSendTimeout sets how long a slow listener may block a message.
// After that the message is skipped for this listener.
func WithSendTimeout[T any](d time.Duration) Option[T] {
	return func(b *broadcastServer[T]) {
		b.sendTimeout = d
	}
}

// WithListenerBuffer sets the channel size of new subscriptions
func WithListenerBuffer[T any](size int) Option[T] {
	return func(b *broadcastServer[T]) {
		b.bufferSize = size
	}
}

//nolint:whitespace // can't make both editor and linter happy
func NewBroadcastServer[T any](
	name string,
	source <-chan T,
	opts ...Option[T],
) BroadcastServer[T] {
	ctx, cancel := context.WithCancel(context.Background())
	b := &broadcastServer[T]{
		name:           name,
		source:         source,
		addListener:    make(chan chan T),
		removeListener: make(chan (<-chan T)),
		stats:          make(chan chan Stats),
		ctx:            ctx,
		cancel:         cancel,
		sendTimeout:    50 * time.Millisecond,
		l:              log.Default().Named("broadcast").With(log.String("name", name)),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.setupMetrics()
	go b.serve()
	return b
}

// Subscribe returns a new listener channel.
// The channel is closed when the server is closed.
func (b *broadcastServer[T]) Subscribe() <-chan T {
	ch := make(chan T, b.bufferSize)
	select {
	case b.addListener <- ch:
	case <-b.ctx.Done():
		close(ch)
	}
	return ch
}

func (b *broadcastServer[T]) CancelSubscription(ch <-chan T) {
	select {
	case b.removeListener <- ch:
	case <-b.ctx.Done():
	}
}

func (b *broadcastServer[T]) Close() {
	b.cancel()
}

// Stats returns the current counters. Returns zero values after Close.
func (b *broadcastServer[T]) Stats() Stats {
	if b.ctx.Err() != nil {
		return Stats{}
	}
	ch := make(chan Stats, 1)
	select {
	case b.stats <- ch:
		return <-ch
	case <-b.ctx.Done():
		return Stats{}
	}
}

// StatsOf returns the counters of s if it provides them
func StatsOf[T any](s BroadcastServer[T]) (Stats, bool) {
	if b, ok := s.(*broadcastServer[T]); ok {
		return b.Stats(), true
	}
	return Stats{}, false
}

func (b *broadcastServer[T]) setupMetrics() {
	meter := otel.GetMeterProvider().Meter("igap.broadcast")
	register := func(metricName, desc string, valueProvider func(Stats) int64) {
		if _, err := meter.Int64ObservableGauge(
			metricName,
			metric.WithDescription(desc),
			metric.WithUnit("{count}"),
			metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
				if b.ctx.Err() != nil {
					return nil
				}
				o.Observe(valueProvider(b.Stats()),
					metric.WithAttributes(attribute.String("name", b.name)))
				return nil
			})); err != nil {
			b.l.Error("failed to register metric",
				log.String("metric", metricName),
				log.ErrorField(err))
		}
	}
	register("igap.broadcast.rcv", "Number of received messages",
		func(s Stats) int64 { return s.Received })
	register("igap.broadcast.snd", "Number of sent messages",
		func(s Stats) int64 { return s.Sent })
	register("igap.broadcast.skip", "Number of skipped messages",
		func(s Stats) int64 { return s.Skipped })
	register("igap.broadcast.listener", "Number of listeners",
		func(s Stats) int64 { return int64(s.Listeners) })
}

//nolint:cyclop // by design
func (b *broadcastServer[T]) serve() {
	defer func() {
		b.cancel()
		b.l.Info("closing broadcast server",
			log.Int64("rcv", b.numRcv),
			log.Int64("snd", b.numSnd),
			log.Int64("skip", b.numSkip))
		for _, listener := range b.listeners {
			close(listener)
		}
	}()
	for {
		select {
		case <-b.ctx.Done():
			return
		case ch := <-b.addListener:
			b.listeners = append(b.listeners, ch)
		case ch := <-b.removeListener:
			for i, listener := range b.listeners {
				if listener == ch {
					b.listeners = append(b.listeners[:i], b.listeners[i+1:]...)
					close(listener)
					b.l.Debug("removed listener", log.Int("len", len(b.listeners)))
					break
				}
			}
		case reply := <-b.stats:
			reply <- Stats{
				Received:  b.numRcv,
				Sent:      b.numSnd,
				Skipped:   b.numSkip,
				Listeners: len(b.listeners),
			}
		case msg, ok := <-b.source:
			if !ok {
				return
			}
			b.numRcv++
			b.dispatch(msg)
		}
	}
}

func (b *broadcastServer[T]) dispatch(msg T) {
	for _, listener := range b.listeners {
		select {
		case listener <- msg:
			b.numSnd++
			continue
		default:
		}
		timer := time.NewTimer(b.sendTimeout)
		select {
		case listener <- msg:
			b.numSnd++
		case <-timer.C:
			b.numSkip++
		}
		timer.Stop()
	}
}
