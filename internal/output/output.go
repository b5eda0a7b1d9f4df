package output

import (
	"context"

	"github.com/crimson-sun/platewatch/internal/model"
)

// Output defines the interface for live transition destinations.
type Output interface {
	Write(ctx context.Context, event model.TransitionEvent) error
	Close() error
}
