package stdout

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/crimson-sun/platewatch/internal/model"
)

// Output writes transition events as JSON lines, one per event, in the
// same shape as the live topic payload.
type Output struct {
	mu  sync.Mutex
	enc *json.Encoder
}

// New creates an Output writing to os.Stdout.
func New(pretty bool) *Output {
	return NewWriter(os.Stdout, pretty)
}

// NewWriter creates an Output writing to w.
func NewWriter(w io.Writer, pretty bool) *Output {
	enc := json.NewEncoder(w)
	if pretty {
		enc.SetIndent("", "  ")
	}
	return &Output{enc: enc}
}

func (o *Output) Write(_ context.Context, event model.TransitionEvent) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if err := o.enc.Encode(event); err != nil {
		return fmt.Errorf("stdout output: %w", err)
	}
	return nil
}

func (o *Output) Close() error {
	return nil
}
