package dispatch

import (
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/adred-codev/blockchat/internal/shared/monitoring"
	"github.com/rs/zerolog"
)

// Config sizes the dispatcher channels.
type Config struct {
	QueueSize      int // Task queue capacity (default 100)
	CompletionSize int // Completion channel capacity (default 1000)
}

// Dispatcher owns the shared pipeline state: task queue, registry, handler
// table and completion channel. The supervisor, the workers and every
// submitter receive the same Dispatcher.
type Dispatcher struct {
	queue     *Queue
	registry  *Registry
	handlers  *Handlers
	completed *CompletionChannel
	logger    zerolog.Logger

	newID func() int64
	now   func() time.Time
}

// New creates a dispatcher. It fails when a channel cannot be sized.
func New(cfg Config, handlers *Handlers, logger zerolog.Logger) (*Dispatcher, error) {
	queue, err := NewQueue(cfg.QueueSize)
	if err != nil {
		return nil, err
	}
	completed, err := NewCompletionChannel(cfg.CompletionSize)
	if err != nil {
		return nil, err
	}
	if handlers == nil {
		handlers = NewHandlers()
	}

	monitoring.UpdateQueueMetrics(0, queue.Cap())

	return &Dispatcher{
		queue:     queue,
		registry:  NewRegistry(),
		handlers:  handlers,
		completed: completed,
		logger:    logger.With().Str("component", "dispatcher").Logger(),
		newID:     func() int64 { return rand.Int64N(MaxTaskID) },
		now:       time.Now,
	}, nil
}

// Submit enqueues a task without blocking.
//
// On success the task is registered and its id returned. When the queue is
// full a warning is logged and ErrQueueFull returned; the task is neither
// registered nor retried. Kinds without a handler are rejected with
// ErrUnknownKind.
func (d *Dispatcher) Submit(kind Kind, args []any, kwargs map[string]any) (int64, error) {
	if _, ok := d.handlers.Lookup(kind); !ok {
		monitoring.RecordSubmission(monitoring.SubmitUnknownKind)
		return 0, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}

	t := &Task{
		ID:          d.newID(),
		Kind:        kind,
		Args:        args,
		Kwargs:      kwargs,
		SubmittedAt: d.now(),
	}

	// Registered before the push so a fast worker and the collector cannot
	// retire the id before it is recorded.
	prev := d.registry.Add(t)
	if err := d.queue.TryPush(t); err != nil {
		d.registry.Revert(t, prev)
		monitoring.RecordSubmission(monitoring.SubmitQueueFull)
		d.logger.Warn().
			Int64("task_id", t.ID).
			Str("kind", string(kind)).
			Int("queue_capacity", d.queue.Cap()).
			Msg("Task queue is full, submission dropped")
		return 0, err
	}

	monitoring.RecordSubmission(monitoring.SubmitAccepted)
	monitoring.UpdateQueueMetrics(d.queue.Len(), d.queue.Cap())

	d.logger.Debug().
		Int64("task_id", t.ID).
		Str("kind", string(kind)).
		Msg("Task submitted")

	return t.ID, nil
}

// Queue returns the task queue.
func (d *Dispatcher) Queue() *Queue { return d.queue }

// Registry returns the task registry.
func (d *Dispatcher) Registry() *Registry { return d.registry }

// Handlers returns the handler table.
func (d *Dispatcher) Handlers() *Handlers { return d.handlers }

// Completed returns the completion channel.
func (d *Dispatcher) Completed() *CompletionChannel { return d.completed }
