package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// LapEvent is emitted whenever a checkpoint with a lap time is recorded
type LapEvent struct {
	SessionID   string
	CarIdx      EntityID
	LapNo       int // number of completed laps after crossing the line
	LapTime     float64
	SessionTime float64
}

// DbLap describes a persisted lap
type DbLap struct {
	ID          int64
	SessionID   uuid.UUID
	CarIdx      int
	LapNo       int
	LapTime     decimal.Decimal
	SessionTime decimal.Decimal
	CreatedAt   time.Time
}
