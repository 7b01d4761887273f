//nolint:thelper,whitespace,lll,funlen // ok for tests
package laprecorder

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/mpapenbr/iracelog-gap-engine/pkg/model"
)

type fakeStore struct {
	mu    sync.Mutex
	laps  []model.LapEvent
	block chan struct{}
	err   error
}

func (f *fakeStore) Store(_ context.Context, ev *model.LapEvent) error {
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.laps = append(f.laps, *ev)
	return nil
}

func lapEvent(car model.EntityID, lapNo int) model.LapEvent {
	return model.LapEvent{SessionID: "s1", CarIdx: car, LapNo: lapNo, LapTime: 90}
}

func TestRecorder_storesAll(t *testing.T) {
	store := &fakeStore{}
	r := New(store)
	for i := range 10 {
		r.OnLap(lapEvent(1, i+1))
	}
	r.Close()

	assert.Len(t, store.laps, 10)
	assert.Equal(t, 10, store.laps[9].LapNo)
	assert.Equal(t, int64(10), r.Stored())
	assert.Equal(t, int64(0), r.Dropped())
}

func TestRecorder_dropsWhenFull(t *testing.T) {
	store := &fakeStore{block: make(chan struct{})}
	r := New(store, WithBufferSize(2))

	// the worker takes the first lap and blocks, two more fit into the buffer
	r.OnLap(lapEvent(1, 1))
	assert.Eventually(t, func() bool { return len(r.queue) == 0 }, time.Second, time.Millisecond)
	r.OnLap(lapEvent(1, 2))
	r.OnLap(lapEvent(1, 3))
	r.OnLap(lapEvent(1, 4))
	assert.Equal(t, int64(1), r.Dropped())

	close(store.block)
	r.Close()
	assert.Equal(t, int64(3), r.Stored())
}

func TestRecorder_failures(t *testing.T) {
	store := &fakeStore{err: errors.New("db down")}
	r := New(store)
	r.OnLap(lapEvent(1, 1))
	r.OnLap(lapEvent(2, 1))
	r.Close()
	assert.Equal(t, int64(2), r.Failed())
	assert.Equal(t, int64(0), r.Stored())
}

func TestRecorder_afterClose(t *testing.T) {
	r := New(StoreFunc(func(context.Context, *model.LapEvent) error { return nil }))
	r.Close()
	r.OnLap(lapEvent(1, 1))
	r.Close()
	assert.Equal(t, int64(1), r.Dropped())
}

func TestLookup(t *testing.T) {
	sessionID := uuid.New()
	calls := 0
	l := NewLookup(func(_ context.Context, id uuid.UUID) ([]*model.DbLap, error) {
		calls++
		if id != sessionID {
			return nil, errors.New("unknown session")
		}
		return []*model.DbLap{{ID: 1, SessionID: id, CarIdx: 2, LapNo: 1}}, nil
	}, time.Minute)

	for range 3 {
		laps, err := l.Laps(context.Background(), sessionID)
		assert.NoError(t, err)
		assert.Len(t, laps, 1)
	}
	assert.Equal(t, 1, calls)

	_, err := l.Laps(context.Background(), uuid.New())
	assert.Error(t, err)
}
