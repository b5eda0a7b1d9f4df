package platewatch

import (
	"sync"
	"time"

	"github.com/crimson-sun/platewatch/internal/engine"
	"github.com/crimson-sun/platewatch/internal/engine/normalize"
	"github.com/crimson-sun/platewatch/internal/engine/presence"
	"github.com/crimson-sun/platewatch/internal/model"
)

// Direction values of a Transition.
const (
	In  = string(model.DirectionIn)
	Out = string(model.DirectionOut)
)

// Transition is an arrival ("in") or departure ("out") of a plate.
type Transition struct {
	Plate     string
	Direction string
	At        time.Time
}

// Timestamp returns At as float seconds since epoch, the form published on
// the live topic.
func (t Transition) Timestamp() float64 {
	return model.NewTransitionEvent(model.Plate(t.Plate), t.At).Timestamp
}

// Normalize cleans raw OCR text into a canonical plate such as "1-ACD-234".
// It reports false when the text is not a plate.
func Normalize(text string) (string, bool) {
	p, ok := normalize.Normalize(text)
	return string(p), ok
}

// Tracker turns OCR readings into transitions.
type Tracker struct {
	mu     sync.Mutex
	engine *engine.Engine
}

// NewTracker creates a Tracker with no plates present.
func NewTracker(opts ...Option) *Tracker {
	var cfg presence.Config
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Tracker{engine: engine.New(presence.New(cfg))}
}

// Observe feeds one OCR reading taken at at. It returns the transition the
// reading causes, if any. Readings that are not plates are ignored.
func (t *Tracker) Observe(text string, at time.Time) (Transition, bool) {
	t.mu.Lock()
	out := t.engine.Process(text, at)
	t.mu.Unlock()

	if !out.Transition() {
		return Transition{}, false
	}
	return fromDecision(out.Decision)
}

// Sweep reports departures of plates that have gone quiet (refresh policy
// only) and forgets plates older than the max age.
func (t *Tracker) Sweep(now time.Time) []Transition {
	t.mu.Lock()
	decisions := t.engine.Sweep(now)
	t.mu.Unlock()

	var out []Transition
	for _, d := range decisions {
		if tr, ok := fromDecision(d); ok {
			out = append(out, tr)
		}
	}
	return out
}

// Present returns the plates currently inside, sorted.
func (t *Tracker) Present() []string {
	t.mu.Lock()
	plates := t.engine.Present()
	t.mu.Unlock()

	out := make([]string, len(plates))
	for i, p := range plates {
		out[i] = string(p)
	}
	return out
}

func fromDecision(d presence.Decision) (Transition, bool) {
	dir, ok := d.Kind.Direction()
	if !ok {
		return Transition{}, false
	}
	return Transition{Plate: string(d.Plate), Direction: string(dir), At: d.At}, true
}
