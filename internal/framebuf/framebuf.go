// Package framebuf hands frames from the capture goroutine to the pipeline
// through a small bounded queue. When the queue is full the oldest frame is
// dropped, so the pipeline always works on recent frames.
package framebuf

import (
	"context"
	"errors"
	"sync"

	"github.com/crimson-sun/platewatch/internal/model"
)

// DefaultCapacity is the queue size used when New is given a non-positive
// capacity.
const DefaultCapacity = 4

// ErrClosed is returned by Pop once the queue is closed and drained.
var ErrClosed = errors.New("framebuf: closed")

// Stats contains queue counters.
type Stats struct {
	Pushed  uint64
	Popped  uint64
	Dropped uint64
}

// Queue is a bounded drop-oldest FIFO of frames. It is safe for one or more
// producers and consumers.
type Queue struct {
	mu     sync.Mutex
	buf    []model.Frame
	head   int
	size   int
	closed bool
	ready  chan struct{}
	stats  Stats
}

// New creates a queue holding at most capacity frames.
func New(capacity int) *Queue {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Queue{
		buf:   make([]model.Frame, capacity),
		ready: make(chan struct{}, 1),
	}
}

// Push appends f. It never blocks; when the queue is full the oldest frame
// is discarded and Push reports true. Pushing to a closed queue is a no-op.
func (q *Queue) Push(f model.Frame) (dropped bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false
	}

	if q.size == len(q.buf) {
		q.buf[q.head] = model.Frame{}
		q.head = (q.head + 1) % len(q.buf)
		q.size--
		q.stats.Dropped++
		dropped = true
	}
	q.buf[(q.head+q.size)%len(q.buf)] = f
	q.size++
	q.stats.Pushed++
	q.signal()
	return dropped
}

// Pop removes and returns the oldest frame, waiting until one is available,
// ctx is done or the queue is closed and empty.
func (q *Queue) Pop(ctx context.Context) (model.Frame, error) {
	for {
		q.mu.Lock()
		if q.size > 0 {
			f := q.buf[q.head]
			q.buf[q.head] = model.Frame{}
			q.head = (q.head + 1) % len(q.buf)
			q.size--
			q.stats.Popped++
			if q.size > 0 {
				q.signal()
			}
			q.mu.Unlock()
			return f, nil
		}
		if q.closed {
			q.mu.Unlock()
			return model.Frame{}, ErrClosed
		}
		q.mu.Unlock()

		select {
		case <-q.ready:
		case <-ctx.Done():
			return model.Frame{}, ctx.Err()
		}
	}
}

// Ready returns a channel that receives when frames may be available. It
// lets a consumer select on the queue alongside other events; the consumer
// still calls Pop or TryPop.
func (q *Queue) Ready() <-chan struct{} {
	return q.ready
}

// TryPop returns the oldest frame without waiting.
func (q *Queue) TryPop() (model.Frame, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.size == 0 {
		return model.Frame{}, false
	}
	f := q.buf[q.head]
	q.buf[q.head] = model.Frame{}
	q.head = (q.head + 1) % len(q.buf)
	q.size--
	q.stats.Popped++
	if q.size > 0 {
		q.signal()
	}
	return f, true
}

// Close stops accepting frames. Queued frames can still be popped.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.signal()
}

// Closed reports whether Close was called.
func (q *Queue) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// Len returns the number of queued frames.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.size
}

// Stats returns a snapshot of the counters.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.stats
}

// signal wakes one waiter. Caller must hold q.mu.
func (q *Queue) signal() {
	select {
	case q.ready <- struct{}{}:
	default:
	}
}
