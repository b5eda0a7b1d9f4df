package vision

import (
	"context"
	"errors"
)

// ErrBusy is returned when an engine is still working on an earlier call
// whose caller already gave up.
var ErrBusy = errors.New("vision: engine busy")

// Slot admits one blocking engine call at a time. A call abandoned on ctx
// keeps the slot until the engine returns, and calls arriving meanwhile
// fail fast with ErrBusy instead of queueing behind it.
type Slot struct {
	ch chan struct{}
}

// NewSlot creates a free Slot.
func NewSlot() *Slot {
	return &Slot{ch: make(chan struct{}, 1)}
}

// Hold waits for the slot and returns the function that frees it. Use it
// where the engine must not be running, such as Close.
func (s *Slot) Hold() (release func()) {
	s.ch <- struct{}{}
	return func() { <-s.ch }
}

type result[T any] struct {
	val T
	err error
}

// Run calls fn in the slot. It returns ErrBusy when the slot is taken and
// ctx.Err() when ctx ends before fn returns; fn then finishes in the
// background and frees the slot itself.
func Run[T any](ctx context.Context, s *Slot, fn func() (T, error)) (T, error) {
	var zero T
	if err := ctx.Err(); err != nil {
		return zero, err
	}
	select {
	case s.ch <- struct{}{}:
	default:
		return zero, ErrBusy
	}

	done := make(chan result[T], 1)
	go func() {
		v, err := fn()
		<-s.ch
		done <- result[T]{v, err}
	}()

	select {
	case res := <-done:
		return res.val, res.err
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}
