package dispatch

import (
	"context"
	"fmt"
	"iter"
	"sync/atomic"
	"time"

	"github.com/adred-codev/blockchat/internal/shared/monitoring"
	"github.com/rs/zerolog"
)

// sentinelForwardTimeout bounds how long an exiting worker waits for room on
// a full completion channel before giving up on its sentinel.
const sentinelForwardTimeout = 5 * time.Second

// CompletionChannel carries task results and forwarded sentinels from the
// workers to whoever polls it. Results are best effort: when the channel is
// full they are dropped and counted.
type CompletionChannel struct {
	ch      chan Entry
	dropped atomic.Int64
}

// NewCompletionChannel creates a channel holding at most capacity entries.
func NewCompletionChannel(capacity int) (*CompletionChannel, error) {
	if capacity < 1 {
		return nil, fmt.Errorf("completion channel capacity must be > 0, got %d", capacity)
	}
	return &CompletionChannel{ch: make(chan Entry, capacity)}, nil
}

// Offer pushes a result without blocking. It reports false when the result
// was dropped.
func (c *CompletionChannel) Offer(r *Result) bool {
	select {
	case c.ch <- Entry{Result: r, WorkerID: r.WorkerID}:
		return true
	default:
		c.dropped.Add(1)
		monitoring.RecordCompletionDropped()
		return false
	}
}

// ForwardSentinel pushes one sentinel for workerID. It waits up to timeout
// for room and reports whether the sentinel was delivered.
func (c *CompletionChannel) ForwardSentinel(workerID int, timeout time.Duration) bool {
	e := Entry{WorkerID: workerID}
	select {
	case c.ch <- e:
		return true
	default:
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case c.ch <- e:
		return true
	case <-timer.C:
		return false
	}
}

// Drain yields entries until the channel is empty. It never blocks and can
// be ranged over again later to pick up newer entries.
func (c *CompletionChannel) Drain() iter.Seq[Entry] {
	return func(yield func(Entry) bool) {
		for {
			select {
			case e := <-c.ch:
				if !yield(e) {
					return
				}
			default:
				return
			}
		}
	}
}

// Len returns the number of pending entries.
func (c *CompletionChannel) Len() int { return len(c.ch) }

// Cap returns the channel capacity.
func (c *CompletionChannel) Cap() int { return cap(c.ch) }

// Dropped returns how many results were discarded because the channel was full.
func (c *CompletionChannel) Dropped() int64 { return c.dropped.Load() }

// ResultSink receives every collected result.
type ResultSink interface {
	PublishResult(r *Result) error
}

// Collector polls the completion channel, retires collected tasks from the
// registry and forwards results to an optional sink.
type Collector struct {
	completed *CompletionChannel
	registry  *Registry
	sink      ResultSink
	interval  time.Duration
	ttl       time.Duration
	logger    zerolog.Logger

	collected atomic.Int64
	sentinels atomic.Int64
}

// CollectorConfig configures a Collector.
type CollectorConfig struct {
	Interval    time.Duration // Poll interval
	RegistryTTL time.Duration // Registry sweep age, zero disables
	Sink        ResultSink    // Optional
}

// NewCollector creates a collector for d.
func NewCollector(d *Dispatcher, cfg CollectorConfig, logger zerolog.Logger) *Collector {
	if cfg.Interval <= 0 {
		cfg.Interval = 500 * time.Millisecond
	}
	return &Collector{
		completed: d.Completed(),
		registry:  d.Registry(),
		sink:      cfg.Sink,
		interval:  cfg.Interval,
		ttl:       cfg.RegistryTTL,
		logger:    logger.With().Str("component", "collector").Logger(),
	}
}

// Run polls until ctx is cancelled, then drains one last time.
func (c *Collector) Run(ctx context.Context) {
	defer monitoring.RecoverPanic(c.logger, "collector", nil)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.CollectOnce()
			if removed := c.registry.Sweep(c.ttl); removed > 0 {
				c.logger.Debug().Int("removed", removed).Msg("Expired registry entries")
			}
			monitoring.SetRegistrySize(c.registry.Len())
		case <-ctx.Done():
			c.CollectOnce()
			return
		}
	}
}

// CollectOnce drains the completion channel and returns how many results
// and sentinels it saw.
func (c *Collector) CollectOnce() (results, sentinels int) {
	for e := range c.completed.Drain() {
		if e.IsSentinel() {
			sentinels++
			c.sentinels.Add(1)
			c.logger.Debug().Int("worker_id", e.WorkerID).Msg("Worker exit observed")
			continue
		}

		results++
		c.collected.Add(1)
		monitoring.RecordCompletionCollected()
		c.registry.Forget(e.Result.TaskID)

		if c.sink != nil {
			if err := c.sink.PublishResult(e.Result); err != nil {
				c.logger.Warn().
					Err(err).
					Int64("task_id", e.Result.TaskID).
					Msg("Failed to publish task result")
			}
		}
	}
	return results, sentinels
}

// Collected returns the total number of results drained.
func (c *Collector) Collected() int64 { return c.collected.Load() }

// Sentinels returns the total number of worker exit sentinels drained.
func (c *Collector) Sentinels() int64 { return c.sentinels.Load() }
