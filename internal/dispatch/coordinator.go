package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// ErrGraceExpired is returned by Coordinator.Shutdown when workers are still
// running once the grace period is over.
var ErrGraceExpired = errors.New("shutdown grace period expired")

// Coordinator stops a worker pool with the sentinel protocol.
type Coordinator struct {
	dispatcher *Dispatcher
	pool       *WorkerPool
	grace      time.Duration
	logger     zerolog.Logger
}

// NewCoordinator creates a coordinator for pool. A non-positive grace
// defaults to 2s.
func NewCoordinator(d *Dispatcher, pool *WorkerPool, grace time.Duration, logger zerolog.Logger) *Coordinator {
	if grace <= 0 {
		grace = 2 * time.Second
	}
	return &Coordinator{
		dispatcher: d,
		pool:       pool,
		grace:      grace,
		logger:     logger.With().Str("component", "coordinator").Logger(),
	}
}

// Shutdown enqueues one sentinel per live worker and waits until every
// worker has exited, the grace period elapses, or ctx is done, whichever
// comes first. Tasks queued ahead of the sentinels still run.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.grace)
	defer cancel()

	live := c.pool.Live()
	c.logger.Info().
		Int("live_workers", live).
		Int("queued_tasks", c.dispatcher.Queue().Len()).
		Dur("grace_period", c.grace).
		Msg("Stopping workers")

	sent := 0
	for i := 0; i < live; i++ {
		if err := c.dispatcher.Queue().PushSentinel(ctx); err != nil {
			c.logger.Warn().
				Int("sent", sent).
				Int("wanted", live).
				Msg("Task queue stayed full, not every sentinel was enqueued")
			break
		}
		sent++
	}

	select {
	case <-c.pool.Done():
		c.logger.Info().Int("sentinels", sent).Msg("All workers stopped")
		return nil
	case <-ctx.Done():
		remaining := c.pool.Live()
		if remaining == 0 {
			return nil
		}
		c.logger.Warn().
			Int("remaining_workers", remaining).
			Msg("Grace period expired, workers still running")
		return fmt.Errorf("%w: %d workers still running", ErrGraceExpired, remaining)
	}
}
