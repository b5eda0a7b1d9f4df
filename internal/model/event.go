package model

import (
	"math"
	"time"
)

// Direction is the status column of a ledger row.
type Direction string

const (
	DirectionIn  Direction = "in"
	DirectionOut Direction = "out"
)

// Valid reports whether d is one of the two ledger directions.
func (d Direction) Valid() bool {
	return d == DirectionIn || d == DirectionOut
}

// TransitionRecord is one immutable ledger row. At carries wall-clock
// time truncated to the second, which is all the ledger stores.
type TransitionRecord struct {
	At        time.Time
	Plate     Plate
	Direction Direction
}

// Event converts the record to its wire form.
func (r TransitionRecord) Event() TransitionEvent {
	return NewTransitionEvent(r.Plate, r.At)
}

// TransitionEvent is the JSON message published on the live and history
// topics.
type TransitionEvent struct {
	Plate     Plate   `json:"plate_text"`
	Timestamp float64 `json:"timestamp"`
}

// NewTransitionEvent builds an event with a float seconds-since-epoch
// timestamp.
func NewTransitionEvent(p Plate, at time.Time) TransitionEvent {
	return TransitionEvent{
		Plate:     p,
		Timestamp: float64(at.UnixNano()) / float64(time.Second),
	}
}

// Time converts the float timestamp back to a time.Time.
func (e TransitionEvent) Time() time.Time {
	sec, frac := math.Modf(e.Timestamp)
	return time.Unix(int64(sec), int64(math.Round(frac*1e9)))
}
