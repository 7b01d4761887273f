// Package natsgap connects the engine to NATS.
// Frames are received on telemetry.<key>, reports are published on gaps.<key>
// and the latest report is kept in a JetStream key value bucket.
package natsgap

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/mpapenbr/iracelog-gap-engine/log"
	"github.com/mpapenbr/iracelog-gap-engine/pkg/model"
)

// Handler processes a single JSON encoded frame
type Handler func(ctx context.Context, data []byte) error

var ErrNoReport = errors.New("no report available")

type Gateway struct {
	ctx      context.Context
	conn     *nats.Conn
	kv       jetstream.KeyValue
	key      string
	bucket   string
	ttl      time.Duration
	sub      *nats.Subscription
	failures atomic.Int64
	l        *log.Logger
}

type Option func(*Gateway)

func WithContext(ctx context.Context) Option {
	return func(g *Gateway) {
		g.ctx = ctx
	}
}

func WithLogger(l *log.Logger) Option {
	return func(g *Gateway) {
		g.l = l
	}
}

// WithBucket sets the name of the key value bucket (default: igap)
func WithBucket(bucket string) Option {
	return func(g *Gateway) {
		g.bucket = bucket
	}
}

// WithTTL sets the max age of entries in the key value bucket
func WithTTL(ttl time.Duration) Option {
	return func(g *Gateway) {
		g.ttl = ttl
	}
}

func TelemetrySubject(key string) string {
	return fmt.Sprintf("telemetry.%s", key)
}

func ReportSubject(key string) string {
	return fmt.Sprintf("gaps.%s", key)
}

func LatestKey(key string) string {
	return fmt.Sprintf("latest.%s", key)
}

//nolint:whitespace // can't make both editor and linter happy
func New(
	conn *nats.Conn, key string, opts ...Option,
) (*Gateway, error) {
	ret := &Gateway{
		ctx:    context.Background(),
		conn:   conn,
		key:    key,
		bucket: "igap",
		ttl:    24 * time.Hour,
		l:      log.Default().Named("nats"),
	}
	for _, opt := range opts {
		opt(ret)
	}
	if err := ret.setupKV(); err != nil {
		return nil, fmt.Errorf("setup kv bucket %s: %w", ret.bucket, err)
	}
	return ret, nil
}

func (g *Gateway) setupKV() error {
	var js jetstream.JetStream
	var err error
	if js, err = jetstream.New(g.conn); err != nil {
		return err
	}
	g.kv, err = js.CreateOrUpdateKeyValue(g.ctx, jetstream.KeyValueConfig{
		Bucket: g.bucket,
		TTL:    g.ttl,
	})
	return err
}

// Ingest subscribes to the telemetry subject and passes each frame to h.
// Invalid frames are logged and skipped.
func (g *Gateway) Ingest(h Handler) error {
	if g.sub != nil {
		return errors.New("already subscribed")
	}
	subject := TelemetrySubject(g.key)
	sub, err := g.conn.Subscribe(subject, func(msg *nats.Msg) {
		if err := h(g.ctx, msg.Data); err != nil {
			g.l.Debug("could not handle frame",
				log.String("subject", msg.Subject),
				log.ErrorField(err))
		}
	})
	if err != nil {
		return err
	}
	g.sub = sub
	g.l.Info("Listening for frames", log.String("subject", subject))
	return nil
}

// Publish implements engine.ReportSink.
// Errors are logged only, publishing must not interrupt the ingest path.
//
//nolint:whitespace // can't make both editor and linter happy
func (g *Gateway) Publish(
	ctx context.Context, r *model.PositionReport, slots int,
) {
	data, err := encodeReport(r, slots)
	if err != nil {
		g.logFailure("could not encode report", err)
		return
	}
	if err := g.conn.Publish(ReportSubject(g.key), data); err != nil {
		g.logFailure("could not publish report", err)
		return
	}
	if _, err := g.kv.Put(ctx, LatestKey(g.key), data); err != nil {
		g.logFailure("could not store latest report", err)
	}
}

// Latest returns the latest report stored in the key value bucket
func (g *Gateway) Latest(ctx context.Context) (*structpb.Struct, error) {
	entry, err := g.kv.Get(ctx, LatestKey(g.key))
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return nil, ErrNoReport
		}
		return nil, err
	}
	return DecodeReport(entry.Value())
}

// Failures returns the number of reports which could not be published
func (g *Gateway) Failures() int64 {
	return g.failures.Load()
}

func (g *Gateway) Close() error {
	if g.sub == nil {
		return nil
	}
	err := g.sub.Unsubscribe()
	g.sub = nil
	return err
}

func (g *Gateway) logFailure(msg string, err error) {
	if n := g.failures.Add(1); n%100 == 1 {
		g.l.Warn(msg, log.Int64("failures", n), log.ErrorField(err))
	}
}

func encodeReport(r *model.PositionReport, slots int) ([]byte, error) {
	s, err := r.Struct(slots)
	if err != nil {
		return nil, err
	}
	return proto.Marshal(s)
}

func DecodeReport(data []byte) (*structpb.Struct, error) {
	var s structpb.Struct
	if err := proto.Unmarshal(data, &s); err != nil {
		return nil, err
	}
	return &s, nil
}
