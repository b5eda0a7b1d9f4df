package platewatch

import (
	"time"

	"github.com/crimson-sun/platewatch/internal/engine/presence"
)

// Option configures a Tracker.
type Option func(*presence.Config)

// WithDebounce sets the window during which repeat sightings of a plate
// are ignored. Default: 30s.
func WithDebounce(d time.Duration) Option {
	return func(c *presence.Config) { c.Debounce = d }
}

// WithRefresh makes a re-sighting beyond the window refresh the plate
// instead of departing it. Departures then come from Sweep after the plate
// has been unseen for after; zero means twice the debounce window.
func WithRefresh(after time.Duration) Option {
	return func(c *presence.Config) {
		c.Policy = presence.PolicyRefresh
		c.DepartAfter = after
	}
}

// WithMaxAge forgets plates unseen for longer than d on Sweep, without
// reporting a departure. Default: never.
func WithMaxAge(d time.Duration) Option {
	return func(c *presence.Config) { c.MaxAge = d }
}
