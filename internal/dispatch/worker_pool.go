package dispatch

import (
	"context"
	"fmt"
	"math/rand/v2"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/adred-codev/blockchat/internal/shared/monitoring"
	"github.com/rs/zerolog"
)

// WorkerPool runs a fixed set of workers that pull tasks from the dispatcher
// queue and execute them one at a time.
//
// Design:
//   - Each worker blocks on the queue until it receives a task, a sentinel or
//     a cancelled context
//   - A sentinel stops exactly one worker; the worker forwards one sentinel to
//     the completion channel before exiting
//   - Handler errors and panics are logged and swallowed, the worker keeps going
//   - Every executed task emits a Result on the completion channel (best effort)
//
// Thread safety:
//
//	All methods are safe for concurrent use by multiple goroutines.
type WorkerPool struct {
	dispatcher *Dispatcher
	logger     zerolog.Logger

	wg        sync.WaitGroup
	live      atomic.Int64
	started   atomic.Bool
	done      chan struct{}
	workerIDs []int

	newWorkerID func() int
}

// NewWorkerPool creates a pool bound to d. Call Start to launch workers.
func NewWorkerPool(d *Dispatcher, logger zerolog.Logger) *WorkerPool {
	return &WorkerPool{
		dispatcher:  d,
		logger:      logger.With().Str("component", "worker_pool").Logger(),
		done:        make(chan struct{}),
		newWorkerID: func() int { return rand.IntN(MaxWorkerID) },
	}
}

// Start launches n workers. Cancelling ctx interrupts every idle worker; it
// then forwards its sentinel and exits. Start may be called only once.
// Starting zero workers is allowed: Done is closed immediately.
func (wp *WorkerPool) Start(ctx context.Context, n int) {
	if !wp.started.CompareAndSwap(false, true) {
		panic("dispatch: WorkerPool.Start called twice")
	}

	for i := 0; i < n; i++ {
		id := wp.newWorkerID()
		wp.workerIDs = append(wp.workerIDs, id)
		wp.live.Add(1)
		wp.wg.Add(1)

		wp.logger.Info().Int("worker_id", id).Msg("Starting worker")
		go wp.worker(ctx, id)
	}
	monitoring.SetWorkersLive(wp.live.Load())

	go func() {
		wp.wg.Wait()
		close(wp.done)
	}()
}

// worker is the main loop for each worker goroutine.
func (wp *WorkerPool) worker(ctx context.Context, id int) {
	defer wp.wg.Done()
	defer func() {
		monitoring.SetWorkersLive(wp.live.Add(-1))
	}()

	log := wp.logger.With().Int("worker_id", id).Logger()
	log.Info().Msg("Worker has started up")

	q := wp.dispatcher.Queue()
	for {
		task, err := q.Pop(ctx)
		if err != nil {
			log.Info().Err(err).Msg("Worker interrupted while waiting, shutting down")
			wp.forwardSentinel(log, id)
			return
		}
		monitoring.UpdateQueueMetrics(q.Len(), q.Cap())

		if task == nil {
			wp.forwardSentinel(log, id)
			log.Info().Msg("Worker has completed all tasks")
			return
		}

		wp.execute(ctx, log, id, task)
	}
}

func (wp *WorkerPool) forwardSentinel(log zerolog.Logger, id int) {
	if wp.dispatcher.Completed().ForwardSentinel(id, sentinelForwardTimeout) {
		monitoring.RecordSentinelForwarded()
		return
	}
	log.Error().
		Dur("timeout", sentinelForwardTimeout).
		Msg("Completion channel full, sentinel not forwarded")
}

// execute runs one task and publishes its result.
func (wp *WorkerPool) execute(ctx context.Context, log zerolog.Logger, workerID int, task *Task) {
	start := time.Now()
	res := &Result{
		TaskID:   task.ID,
		Kind:     task.Kind,
		WorkerID: workerID,
	}

	outcome := monitoring.TaskSucceeded
	payload, err := wp.run(ctx, task)
	switch {
	case err == nil:
		res.OK = true
		res.Payload = payload
	default:
		if _, panicked := err.(*panicError); panicked {
			outcome = monitoring.TaskPanicked
		} else {
			outcome = monitoring.TaskFailed
		}
		res.Error = err.Error()
		log.Warn().
			Int64("task_id", task.ID).
			Str("kind", string(task.Kind)).
			Str("error", err.Error()).
			Msg("Error in worker")
	}

	res.Duration = time.Since(start)
	res.FinishedAt = time.Now()
	monitoring.RecordTask(string(task.Kind), outcome, res.Duration)

	if !wp.dispatcher.Completed().Offer(res) {
		log.Debug().Int64("task_id", task.ID).Msg("Completion channel full, result dropped")
	}
}

type panicError struct {
	value any
	stack string
}

func (e *panicError) Error() string { return fmt.Sprintf("panic: %v", e.value) }

// run calls the task handler and converts panics into errors.
func (wp *WorkerPool) run(ctx context.Context, task *Task) (payload any, err error) {
	fn, ok := wp.dispatcher.Handlers().Lookup(task.Kind)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, task.Kind)
	}

	defer func() {
		if r := recover(); r != nil {
			pe := &panicError{value: r, stack: string(debug.Stack())}
			wp.logger.Error().
				Int64("task_id", task.ID).
				Interface("panic_value", r).
				Str("stack_trace", pe.stack).
				Msg("Task panic recovered - task failed but worker continues")
			payload, err = nil, pe
		}
	}()

	return fn(ctx, task.Args, task.Kwargs)
}

// Live returns the number of workers still running.
func (wp *WorkerPool) Live() int {
	return int(wp.live.Load())
}

// WorkerIDs returns the ids assigned at Start.
func (wp *WorkerPool) WorkerIDs() []int {
	return append([]int(nil), wp.workerIDs...)
}

// Done is closed once every started worker has exited.
func (wp *WorkerPool) Done() <-chan struct{} {
	return wp.done
}
