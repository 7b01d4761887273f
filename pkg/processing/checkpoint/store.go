package checkpoint

import (
	"slices"

	"github.com/samber/lo"

	"github.com/mpapenbr/iracelog-gap-engine/pkg/model"
)

const (
	DefaultInterval       = 0.10
	DefaultMaxCheckpoints = 20
)

// Store keeps one History per car.
// Not safe for concurrent use, the owner has to serialize access.
type Store struct {
	interval  float64
	capacity  int
	histories map[model.EntityID]*History
}

type StoreOption func(s *Store)

func WithInterval(interval float64) StoreOption {
	return func(s *Store) {
		s.interval = interval
	}
}

func WithCapacity(capacity int) StoreOption {
	return func(s *Store) {
		s.capacity = capacity
	}
}

func NewStore(opts ...StoreOption) *Store {
	ret := &Store{
		interval:  DefaultInterval,
		capacity:  DefaultMaxCheckpoints,
		histories: make(map[model.EntityID]*History),
	}
	for _, opt := range opts {
		opt(ret)
	}
	return ret
}

func (s *Store) Interval() float64 {
	return s.interval
}

// Update records a sample for id, creating the history on first use
//
//nolint:whitespace // can't make both editor and linter happy
func (s *Store) Update(
	id model.EntityID, totalProgress, timestamp float64,
) UpdateResult {
	h, ok := s.histories[id]
	if !ok {
		h = NewHistory(s.capacity)
		s.histories[id] = h
	}
	return h.Update(totalProgress, timestamp, s.interval)
}

// Get returns the history of id or nil if there is none
func (s *Store) Get(id model.EntityID) *History {
	return s.histories[id]
}

// Remove drops the history of a car which left the session
func (s *Store) Remove(id model.EntityID) {
	delete(s.histories, id)
}

// Reset drops all histories
func (s *Store) Reset() {
	s.histories = make(map[model.EntityID]*History)
}

func (s *Store) Len() int {
	return len(s.histories)
}

// IDs returns the tracked car ids in ascending order
func (s *Store) IDs() []model.EntityID {
	ret := lo.Keys(s.histories)
	slices.Sort(ret)
	return ret
}
