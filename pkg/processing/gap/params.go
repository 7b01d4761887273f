package gap

import (
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/mpapenbr/iracelog-gap-engine/pkg/model"
	"github.com/mpapenbr/iracelog-gap-engine/pkg/processing/checkpoint"
)

// Params configures the engine
type Params struct {
	// distance in lap units between two checkpoints
	CheckpointInterval float64 `yaml:"checkpointInterval" validate:"gt=0,lte=1"`
	// max number of checkpoints kept per car
	MaxCheckpoints int `yaml:"maxCheckpoints" validate:"gte=2,lte=1000"`
	// lap time in seconds used when a car has no recorded lap yet.
	// This is a placeholder, the engine knows nothing about the track length.
	DefaultLapTime float64 `yaml:"defaultLapTime" validate:"gt=0"`
	// position assigned to cars which did not start their first lap
	NotStartedPosition int `yaml:"notStartedPosition" validate:"gt=0"`
}

var validate = validator.New()

func DefaultParams() Params {
	return Params{
		CheckpointInterval: checkpoint.DefaultInterval,
		MaxCheckpoints:     checkpoint.DefaultMaxCheckpoints,
		DefaultLapTime:     90,
		NotStartedPosition: model.NotStarted,
	}
}

func (p Params) Validate() error {
	if err := validate.Struct(p); err != nil {
		return fmt.Errorf("invalid engine params: %w", err)
	}
	return nil
}

// NewStore creates a checkpoint store matching the params
func (p Params) NewStore() *checkpoint.Store {
	return checkpoint.NewStore(
		checkpoint.WithInterval(p.CheckpointInterval),
		checkpoint.WithCapacity(p.MaxCheckpoints))
}
