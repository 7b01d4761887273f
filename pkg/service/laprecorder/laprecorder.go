// Package laprecorder persists recorded laps without blocking the tick.
package laprecorder

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mpapenbr/iracelog-gap-engine/log"
	"github.com/mpapenbr/iracelog-gap-engine/pkg/model"
	"github.com/mpapenbr/iracelog-gap-engine/pkg/processing"
	"github.com/mpapenbr/iracelog-gap-engine/pkg/repository/lap"
)

// Store persists a single lap
type Store interface {
	Store(ctx context.Context, ev *model.LapEvent) error
}

type StoreFunc func(ctx context.Context, ev *model.LapEvent) error

func (f StoreFunc) Store(ctx context.Context, ev *model.LapEvent) error {
	return f(ctx, ev)
}

// NewPoolStore stores laps in the lap table of the given database
func NewPoolStore(pool *pgxpool.Pool) Store {
	return StoreFunc(func(ctx context.Context, ev *model.LapEvent) error {
		return pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
			_, err := lap.Create(ctx, tx, ev)
			return err
		})
	})
}

type Recorder struct {
	store        Store
	queue        chan model.LapEvent
	storeTimeout time.Duration
	wg           sync.WaitGroup
	mu           sync.RWMutex
	closed       bool
	dropped      atomic.Int64
	stored       atomic.Int64
	failed       atomic.Int64
	l            *log.Logger
}

var _ processing.LapListener = (*Recorder)(nil)

type Option func(*Recorder)

// WithBufferSize sets the number of laps which may wait for persistence
func WithBufferSize(n int) Option {
	return func(r *Recorder) {
		r.queue = make(chan model.LapEvent, n)
	}
}

func WithStoreTimeout(d time.Duration) Option {
	return func(r *Recorder) {
		r.storeTimeout = d
	}
}

func WithLogger(l *log.Logger) Option {
	return func(r *Recorder) {
		r.l = l
	}
}

// New creates a recorder and starts its worker
func New(store Store, opts ...Option) *Recorder {
	ret := &Recorder{
		store:        store,
		queue:        make(chan model.LapEvent, 64),
		storeTimeout: 5 * time.Second,
		l:            log.Default().Named("laprecorder"),
	}
	for _, opt := range opts {
		opt(ret)
	}
	ret.wg.Add(1)
	go ret.run()
	return ret
}

// OnLap queues the lap. If the buffer is full the lap is dropped.
func (r *Recorder) OnLap(ev model.LapEvent) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		r.dropped.Add(1)
		return
	}
	select {
	case r.queue <- ev:
	default:
		if n := r.dropped.Add(1); n%100 == 1 {
			r.l.Warn("lap buffer full, dropping laps", log.Int64("dropped", n))
		}
	}
}

func (r *Recorder) run() {
	defer r.wg.Done()
	for ev := range r.queue {
		ctx, cancel := context.WithTimeout(context.Background(), r.storeTimeout)
		if err := r.store.Store(ctx, &ev); err != nil {
			r.failed.Add(1)
			r.l.Error("could not store lap",
				log.Int("carIdx", int(ev.CarIdx)),
				log.Int("lapNo", ev.LapNo),
				log.ErrorField(err))
		} else {
			r.stored.Add(1)
		}
		cancel()
	}
}

// Close stops accepting laps and waits until the queued laps are stored
func (r *Recorder) Close() {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.queue)
	}
	r.mu.Unlock()
	r.wg.Wait()
	r.l.Info("lap recorder stopped",
		log.Int64("stored", r.stored.Load()),
		log.Int64("failed", r.failed.Load()),
		log.Int64("dropped", r.dropped.Load()))
}

func (r *Recorder) Dropped() int64 {
	return r.dropped.Load()
}

func (r *Recorder) Stored() int64 {
	return r.stored.Load()
}

func (r *Recorder) Failed() int64 {
	return r.failed.Load()
}
