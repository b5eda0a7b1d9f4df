// Package presence decides, per canonical plate, whether a sighting is an
// arrival, a repeat inside the debounce window, or a departure.
//
// A Tracker is not safe for concurrent use. The pipeline confines it to the
// frame loop goroutine.
package presence

import (
	"sort"
	"time"

	"github.com/crimson-sun/platewatch/internal/model"
)

// DefaultDebounce is the window during which repeat sightings are ignored.
const DefaultDebounce = 30 * time.Second

// Kind is the outcome of a sighting or a sweep.
type Kind int

const (
	// Ignored means no transition: a repeat inside the window, or a
	// refreshed sighting under PolicyRefresh.
	Ignored Kind = iota
	Arrival
	Departure
	// Expired is an entry evicted by MaxAge. It is not a transition.
	Expired
)

func (k Kind) String() string {
	switch k {
	case Arrival:
		return "arrival"
	case Departure:
		return "departure"
	case Expired:
		return "expired"
	default:
		return "ignored"
	}
}

// Transition reports whether the kind must be recorded and published.
func (k Kind) Transition() bool {
	return k == Arrival || k == Departure
}

// Direction maps a transition kind to its ledger direction.
func (k Kind) Direction() (model.Direction, bool) {
	switch k {
	case Arrival:
		return model.DirectionIn, true
	case Departure:
		return model.DirectionOut, true
	}
	return "", false
}

// Policy selects how a re-sighting beyond the debounce window is read.
type Policy int

const (
	// PolicyDepartOnResight treats any re-sighting of a present plate at or
	// beyond the window as the vehicle leaving. This is the historical rule
	// and the default.
	PolicyDepartOnResight Policy = iota
	// PolicyRefresh treats such a re-sighting as the vehicle still being
	// there: lastSeenAt is refreshed. Departures come from Sweep once a
	// plate has been unseen for DepartAfter.
	PolicyRefresh
)

// ParsePolicy maps a config string to a Policy. Unknown strings default to
// PolicyDepartOnResight.
func ParsePolicy(s string) Policy {
	if s == "refresh" {
		return PolicyRefresh
	}
	return PolicyDepartOnResight
}

func (p Policy) String() string {
	if p == PolicyRefresh {
		return "refresh"
	}
	return "depart_on_resight"
}

// Config controls tracker behavior.
type Config struct {
	Debounce time.Duration // default DefaultDebounce
	Policy   Policy
	// MaxAge evicts entries unseen for longer than this on Sweep.
	// 0 disables eviction.
	MaxAge time.Duration
	// DepartAfter is the silence after which Sweep emits a departure under
	// PolicyRefresh. Defaults to twice the debounce window.
	DepartAfter time.Duration
}

// Entry is a currently present plate.
type Entry struct {
	Plate      model.Plate
	LastSeenAt time.Time
}

// Decision is the tagged result of Observe or Sweep.
type Decision struct {
	Kind  Kind
	Plate model.Plate
	At    time.Time
}

// Tracker owns the live presence set.
type Tracker struct {
	cfg     Config
	entries map[model.Plate]*Entry
}

// New creates a Tracker with the given config.
func New(cfg Config) *Tracker {
	if cfg.Debounce <= 0 {
		cfg.Debounce = DefaultDebounce
	}
	if cfg.DepartAfter <= 0 {
		cfg.DepartAfter = 2 * cfg.Debounce
	}
	return &Tracker{
		cfg:     cfg,
		entries: make(map[model.Plate]*Entry),
	}
}

// Observe applies a sighting of p at t and returns the decision.
func (t *Tracker) Observe(p model.Plate, at time.Time) Decision {
	e, present := t.entries[p]
	if !present {
		t.entries[p] = &Entry{Plate: p, LastSeenAt: at}
		return Decision{Kind: Arrival, Plate: p, At: at}
	}

	if at.Sub(e.LastSeenAt) < t.cfg.Debounce {
		return Decision{Kind: Ignored, Plate: p, At: at}
	}

	if t.cfg.Policy == PolicyRefresh {
		e.LastSeenAt = at
		return Decision{Kind: Ignored, Plate: p, At: at}
	}

	delete(t.entries, p)
	return Decision{Kind: Departure, Plate: p, At: at}
}

// Sweep removes stale entries. Under PolicyRefresh, entries unseen for
// DepartAfter yield Departure decisions; entries older than MaxAge yield
// Expired decisions. Results are sorted by plate.
func (t *Tracker) Sweep(now time.Time) []Decision {
	var out []Decision
	for p, e := range t.entries {
		idle := now.Sub(e.LastSeenAt)
		switch {
		case t.cfg.Policy == PolicyRefresh && idle >= t.cfg.DepartAfter:
			out = append(out, Decision{Kind: Departure, Plate: p, At: now})
		case t.cfg.MaxAge > 0 && idle > t.cfg.MaxAge:
			out = append(out, Decision{Kind: Expired, Plate: p, At: now})
		default:
			continue
		}
		delete(t.entries, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Plate < out[j].Plate })
	return out
}

// Present reports whether p currently has an entry.
func (t *Tracker) Present(p model.Plate) bool {
	_, ok := t.entries[p]
	return ok
}

// Len returns the number of present plates.
func (t *Tracker) Len() int {
	return len(t.entries)
}

// Snapshot returns a copy of the present entries sorted by plate.
func (t *Tracker) Snapshot() []Entry {
	out := make([]Entry, 0, len(t.entries))
	for _, e := range t.entries {
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Plate < out[j].Plate })
	return out
}
