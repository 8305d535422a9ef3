// Package dispatch implements the task pipeline: a bounded task queue with a
// registry of submitted tasks, a pool of workers, the sentinel shutdown
// protocol and a best-effort completion channel.
package dispatch

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MaxTaskID bounds randomly generated task ids: [0, MaxTaskID).
const MaxTaskID = 10_000_000

// MaxWorkerID bounds randomly generated worker ids: [0, MaxWorkerID).
const MaxWorkerID = 100_000

// Kind names a task handler. Tasks carry a Kind instead of a function
// reference so they stay serializable.
type Kind string

// Task is a unit of deferred work.
//
// A nil *Task on the queue is the shutdown sentinel.
type Task struct {
	ID          int64          `json:"id"`
	Kind        Kind           `json:"kind"`
	Args        []any          `json:"args,omitempty"`
	Kwargs      map[string]any `json:"kwargs,omitempty"`
	SubmittedAt time.Time      `json:"submitted_at"`
}

// Handler executes one task synchronously. It must not hand work off to
// another goroutine and return early: the worker treats return as completion.
type Handler func(ctx context.Context, args []any, kwargs map[string]any) (any, error)

// Handlers maps task kinds to their implementation.
type Handlers struct {
	mu       sync.RWMutex
	handlers map[Kind]Handler
}

// NewHandlers creates an empty handler table.
func NewHandlers() *Handlers {
	return &Handlers{handlers: make(map[Kind]Handler)}
}

// Register binds kind to h. Registering a kind twice is a programming error.
func (h *Handlers) Register(kind Kind, fn Handler) {
	if kind == "" || fn == nil {
		panic("dispatch: Register requires a kind and a handler")
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, exists := h.handlers[kind]; exists {
		panic(fmt.Sprintf("dispatch: handler for %q already registered", kind))
	}
	h.handlers[kind] = fn
}

// Lookup returns the handler for kind.
func (h *Handlers) Lookup(kind Kind) (Handler, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	fn, ok := h.handlers[kind]
	return fn, ok
}

// Kinds lists registered kinds in sorted order.
func (h *Handlers) Kinds() []Kind {
	h.mu.RLock()
	defer h.mu.RUnlock()
	kinds := make([]Kind, 0, len(h.handlers))
	for k := range h.handlers {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

// Result is the envelope a worker emits for every executed task.
type Result struct {
	TaskID     int64         `json:"task_id"`
	Kind       Kind          `json:"kind"`
	WorkerID   int           `json:"worker_id"`
	OK         bool          `json:"ok"`
	Payload    any           `json:"payload,omitempty"`
	Error      string        `json:"error,omitempty"`
	Duration   time.Duration `json:"duration_ns"`
	FinishedAt time.Time     `json:"finished_at"`
}

// Entry is one item on the completion channel. An entry without a Result is
// a sentinel forwarded by an exiting worker.
type Entry struct {
	Result   *Result
	WorkerID int
}

// IsSentinel reports whether the entry marks a worker exit.
func (e Entry) IsSentinel() bool {
	return e.Result == nil
}
