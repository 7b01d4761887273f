package model

import (
	"google.golang.org/protobuf/types/known/structpb"
)

// NotStarted is the position assigned to cars which have not started their first lap
const NotStarted = 999

// output keys, compatible with the telemetry frame keys consumed by the overlay
const (
	KeyCarIdxPosition    = "CarIdxPosition"
	KeyCarIdxF2Time      = "CarIdxF2Time"
	KeyCarIdxGapToLeader = "CarIdxGapToLeader"
)

// PositionReport is the result of one tick
type PositionReport struct {
	SessionID     string               `json:"sessionId"`
	SessionTime   float64              `json:"sessionTime"`
	Order         []EntityID           `json:"order"`
	Positions     map[EntityID]int     `json:"positions"`
	GapToCarAhead map[EntityID]float64 `json:"gapToCarAhead"`
	GapToLeader   map[EntityID]float64 `json:"gapToLeader"`
}

func NewPositionReport(sessionID string, sessionTime float64) *PositionReport {
	return &PositionReport{
		SessionID:     sessionID,
		SessionTime:   sessionTime,
		Order:         make([]EntityID, 0),
		Positions:     make(map[EntityID]int),
		GapToCarAhead: make(map[EntityID]float64),
		GapToLeader:   make(map[EntityID]float64),
	}
}

// ReportFrame is the slot indexed wire representation of a PositionReport.
// Cars not part of the report are null.
type ReportFrame struct {
	SessionID         string     `json:"SessionId"`
	SessionTime       float64    `json:"SessionTime"`
	CarIdxPosition    []*int     `json:"CarIdxPosition"`
	CarIdxF2Time      []*float64 `json:"CarIdxF2Time"`
	CarIdxGapToLeader []*float64 `json:"CarIdxGapToLeader"`
}

// slots returns at least minSlots but enough to address every car in the report
func (r *PositionReport) slots(minSlots int) int {
	ret := minSlots
	for id := range r.Positions {
		if int(id)+1 > ret {
			ret = int(id) + 1
		}
	}
	return ret
}

func (r *PositionReport) Frame(minSlots int) *ReportFrame {
	n := r.slots(minSlots)
	ret := &ReportFrame{
		SessionID:         r.SessionID,
		SessionTime:       r.SessionTime,
		CarIdxPosition:    make([]*int, n),
		CarIdxF2Time:      make([]*float64, n),
		CarIdxGapToLeader: make([]*float64, n),
	}
	for id, pos := range r.Positions {
		if id < 0 {
			continue
		}
		p := pos
		ahead := r.GapToCarAhead[id]
		leader := r.GapToLeader[id]
		ret.CarIdxPosition[id] = &p
		ret.CarIdxF2Time[id] = &ahead
		ret.CarIdxGapToLeader[id] = &leader
	}
	return ret
}

// wireArrays returns the report arrays in a generic form (nil for missing cars)
func (r *PositionReport) wireArrays(minSlots int) (pos, ahead, leader []any) {
	n := r.slots(minSlots)
	pos = make([]any, n)
	ahead = make([]any, n)
	leader = make([]any, n)
	for id, p := range r.Positions {
		if id < 0 {
			continue
		}
		pos[id] = int64(p)
		ahead[id] = r.GapToCarAhead[id]
		leader[id] = r.GapToLeader[id]
	}
	return pos, ahead, leader
}

// Struct converts the report into a protobuf struct used for Connect and NATS payloads
func (r *PositionReport) Struct(minSlots int) (*structpb.Struct, error) {
	pos, ahead, leader := r.wireArrays(minSlots)
	order := make([]any, len(r.Order))
	for i, id := range r.Order {
		order[i] = int64(id)
	}
	return structpb.NewStruct(map[string]any{
		"SessionId":          r.SessionID,
		"SessionTime":        r.SessionTime,
		"Order":              order,
		KeyCarIdxPosition:    pos,
		KeyCarIdxF2Time:      ahead,
		KeyCarIdxGapToLeader: leader,
	})
}
