package multi

import (
	"context"
	"errors"
	"fmt"

	"github.com/crimson-sun/platewatch/internal/model"
	"github.com/crimson-sun/platewatch/internal/output"
)

// Sink is a named live destination.
type Sink struct {
	Name   string
	Output output.Output
}

// Multi fans out transition events to every sink in order. A failing sink
// does not prevent delivery to the ones after it; its error is wrapped with
// the sink name.
type Multi struct {
	sinks []Sink
}

// New creates a Multi over the given sinks. Sinks with a nil Output are
// skipped.
func New(sinks ...Sink) *Multi {
	m := &Multi{}
	for _, s := range sinks {
		if s.Output != nil {
			m.sinks = append(m.sinks, s)
		}
	}
	return m
}

// Names returns the sink names in delivery order.
func (m *Multi) Names() []string {
	names := make([]string, len(m.sinks))
	for i, s := range m.sinks {
		names[i] = s.Name
	}
	return names
}

// Write delivers the event to every sink and joins their errors.
func (m *Multi) Write(ctx context.Context, event model.TransitionEvent) error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.Output.Write(ctx, event); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.Name, err))
		}
	}
	return errors.Join(errs...)
}

// Close closes every sink, collecting errors.
func (m *Multi) Close() error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.Output.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s: close: %w", s.Name, err))
		}
	}
	return errors.Join(errs...)
}
