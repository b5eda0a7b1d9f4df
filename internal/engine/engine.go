package engine

import (
	"time"

	"github.com/crimson-sun/platewatch/internal/engine/normalize"
	"github.com/crimson-sun/platewatch/internal/engine/presence"
	"github.com/crimson-sun/platewatch/internal/model"
)

// Outcome is the result of processing one OCR reading.
type Outcome struct {
	Raw      string
	Cleaned  string
	Rejected bool
	Decision presence.Decision
}

// Transition reports whether the outcome must be recorded and published.
func (o Outcome) Transition() bool {
	return !o.Rejected && o.Decision.Kind.Transition()
}

// Engine orchestrates the normalize → track pipeline. It holds the presence
// tracker and inherits its single-goroutine confinement.
type Engine struct {
	tracker *presence.Tracker
}

// New creates an Engine around the given tracker.
func New(tracker *presence.Tracker) *Engine {
	return &Engine{tracker: tracker}
}

// Process normalizes raw OCR text and, if it is a canonical plate, feeds
// the sighting to the tracker.
func (e *Engine) Process(raw string, at time.Time) Outcome {
	out := Outcome{Raw: raw, Cleaned: normalize.Clean(raw)}

	plate, ok := normalize.Normalize(raw)
	if !ok {
		out.Rejected = true
		return out
	}
	out.Decision = e.tracker.Observe(plate, at)
	return out
}

// Sweep forwards to the tracker's stale-entry sweep.
func (e *Engine) Sweep(now time.Time) []presence.Decision {
	return e.tracker.Sweep(now)
}

// Present returns the plates currently tracked.
func (e *Engine) Present() []model.Plate {
	snap := e.tracker.Snapshot()
	plates := make([]model.Plate, len(snap))
	for i, entry := range snap {
		plates[i] = entry.Plate
	}
	return plates
}
