package dispatch

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrQueueFull is returned when a submission finds the task queue at capacity.
	ErrQueueFull = errors.New("task queue is full")
	// ErrUnknownKind is returned when no handler is registered for a task kind.
	ErrUnknownKind = errors.New("unknown task kind")
)

// Queue is the bounded multi-producer/multi-consumer task queue.
// Ordering is whatever the underlying buffered channel provides.
type Queue struct {
	ch chan *Task
}

// NewQueue creates a queue holding at most capacity items.
func NewQueue(capacity int) (*Queue, error) {
	if capacity < 1 {
		return nil, fmt.Errorf("task queue capacity must be > 0, got %d", capacity)
	}
	return &Queue{ch: make(chan *Task, capacity)}, nil
}

// TryPush enqueues t without blocking. It returns ErrQueueFull when the queue
// is at capacity.
func (q *Queue) TryPush(t *Task) error {
	select {
	case q.ch <- t:
		return nil
	default:
		return ErrQueueFull
	}
}

// PushSentinel enqueues one shutdown sentinel, blocking until there is room
// or ctx is done.
func (q *Queue) PushSentinel(ctx context.Context) error {
	select {
	case q.ch <- nil:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Pop blocks for the next item. A nil task with a nil error is a sentinel.
// A non-nil error means ctx was cancelled while waiting.
func (q *Queue) Pop(ctx context.Context) (*Task, error) {
	select {
	case t := <-q.ch:
		return t, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Len returns the number of queued items.
func (q *Queue) Len() int { return len(q.ch) }

// Cap returns the queue capacity.
func (q *Queue) Cap() int { return cap(q.ch) }
