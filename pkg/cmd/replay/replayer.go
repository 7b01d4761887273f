package replay

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"time"

	"github.com/mpapenbr/iracelog-gap-engine/log"
	"github.com/mpapenbr/iracelog-gap-engine/pkg/model"
	"github.com/mpapenbr/iracelog-gap-engine/pkg/service/engine"
)

const maxLineSize = 4 << 20

type Stats struct {
	Frames  int
	Invalid int
}

// Replayer feeds json lines frames into the engine and writes each report
// as a json line.
type Replayer struct {
	engine *engine.Engine
	out    io.Writer
	speed  float64
	sleep  func(ctx context.Context, d time.Duration) error
	l      *log.Logger
}

type Option func(*Replayer)

// WithSpeed sets the replay speed factor. 0 means as fast as possible.
func WithSpeed(speed float64) Option {
	return func(r *Replayer) {
		r.speed = speed
	}
}

func withSleep(f func(ctx context.Context, d time.Duration) error) Option {
	return func(r *Replayer) {
		r.sleep = f
	}
}

func NewReplayer(e *engine.Engine, out io.Writer, opts ...Option) *Replayer {
	ret := &Replayer{
		engine: e,
		out:    out,
		sleep:  sleepCtx,
		l:      log.Default().Named("replay"),
	}
	for _, opt := range opts {
		opt(ret)
	}
	return ret
}

// Replay processes all frames of in. Lines which are not valid frames are skipped.
func (r *Replayer) Replay(ctx context.Context, in io.Reader) (Stats, error) {
	stats := Stats{}
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	enc := json.NewEncoder(r.out)
	lastTime := -1.0
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return stats, nil
		}
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		f, err := model.ParseFrame(line)
		if err != nil {
			stats.Invalid++
			r.l.Debug("skipping line", log.Int("line", stats.Frames+stats.Invalid),
				log.ErrorField(err))
			continue
		}
		if s, err := f.Snapshot(); err == nil {
			if err := r.pace(ctx, lastTime, s.SessionTime); err != nil {
				return stats, nil
			}
			lastTime = s.SessionTime
		}
		report, err := r.engine.HandleFrame(ctx, f)
		if err != nil {
			stats.Invalid++
			continue
		}
		stats.Frames++
		if err := enc.Encode(report); err != nil {
			return stats, err
		}
	}
	return stats, scanner.Err()
}

// pace waits for the session time delta between two frames (scaled by speed)
func (r *Replayer) pace(ctx context.Context, last, current float64) error {
	if r.speed <= 0 || last < 0 || current <= last {
		return nil
	}
	wait := time.Duration((current - last) / r.speed * float64(time.Second))
	return r.sleep(ctx, wait)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
