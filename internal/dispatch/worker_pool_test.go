package dispatch

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func countEntries(c *CompletionChannel) (results []*Result, sentinels int) {
	for e := range c.Drain() {
		if e.IsSentinel() {
			sentinels++
			continue
		}
		results = append(results, e.Result)
	}
	return results, sentinels
}

func waitDone(t *testing.T, wp *WorkerPool) {
	t.Helper()
	select {
	case <-wp.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("workers did not exit, %d still live", wp.Live())
	}
}

func TestWorkerPool_SentinelPerWorkerStopsAll(t *testing.T) {
	const workers = 3
	d := newTestDispatcher(t, 10, 10, nil)
	wp := NewWorkerPool(d, zerolog.Nop())
	wp.Start(context.Background(), workers)
	require.Len(t, wp.WorkerIDs(), workers)

	for i := 0; i < workers; i++ {
		require.NoError(t, d.Queue().PushSentinel(context.Background()))
	}
	waitDone(t, wp)

	results, sentinels := countEntries(d.Completed())
	assert.Empty(t, results)
	assert.Equal(t, workers, sentinels)
	assert.Zero(t, wp.Live())
}

func TestWorkerPool_FewerSentinelsLeaveWorkersRunning(t *testing.T) {
	const workers = 3
	d := newTestDispatcher(t, 10, 10, nil)
	ctx, cancel := context.WithCancel(context.Background())
	wp := NewWorkerPool(d, zerolog.Nop())
	wp.Start(ctx, workers)

	for i := 0; i < workers-1; i++ {
		require.NoError(t, d.Queue().PushSentinel(context.Background()))
	}

	require.Eventually(t, func() bool { return wp.Live() == 1 }, 2*time.Second, 5*time.Millisecond)
	select {
	case <-wp.Done():
		t.Fatal("pool drained with fewer sentinels than workers")
	case <-time.After(50 * time.Millisecond):
	}

	cancel()
	waitDone(t, wp)

	_, sentinels := countEntries(d.Completed())
	assert.Equal(t, workers, sentinels, "an interrupted worker forwards a sentinel too")
}

func TestWorkerPool_FailingTaskDoesNotStopWorker(t *testing.T) {
	var flag atomic.Bool
	d := newTestDispatcher(t, 10, 10, func(h *Handlers) {
		h.Register("fail", func(context.Context, []any, map[string]any) (any, error) {
			return nil, errors.New("boom")
		})
		h.Register("panic", func(context.Context, []any, map[string]any) (any, error) {
			panic("kaboom")
		})
		h.Register("flag", func(context.Context, []any, map[string]any) (any, error) {
			flag.Store(true)
			return "set", nil
		})
	})

	wp := NewWorkerPool(d, zerolog.Nop())
	wp.Start(context.Background(), 1)

	failID, err := d.Submit("fail", nil, nil)
	require.NoError(t, err)
	panicID, err := d.Submit("panic", nil, nil)
	require.NoError(t, err)
	flagID, err := d.Submit("flag", nil, nil)
	require.NoError(t, err)

	require.Eventually(t, flag.Load, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, d.Queue().PushSentinel(context.Background()))
	waitDone(t, wp)

	results, sentinels := countEntries(d.Completed())
	assert.Equal(t, 1, sentinels)
	require.Len(t, results, 3)

	byID := make(map[int64]*Result, len(results))
	for _, r := range results {
		byID[r.TaskID] = r
	}
	assert.False(t, byID[failID].OK)
	assert.Equal(t, "boom", byID[failID].Error)
	assert.False(t, byID[panicID].OK)
	assert.Contains(t, byID[panicID].Error, "kaboom")
	assert.True(t, byID[flagID].OK)
	assert.Equal(t, "set", byID[flagID].Payload)
	assert.Equal(t, wp.WorkerIDs()[0], byID[flagID].WorkerID)
}

func TestWorkerPool_ZeroWorkers(t *testing.T) {
	d := newTestDispatcher(t, 10, 10, nil)
	wp := NewWorkerPool(d, zerolog.Nop())
	wp.Start(context.Background(), 0)
	waitDone(t, wp)
	assert.Zero(t, wp.Live())
}

func TestCompletion_DrainEmptyYieldsNothing(t *testing.T) {
	c, err := NewCompletionChannel(4)
	require.NoError(t, err)

	n := 0
	for range c.Drain() {
		n++
	}
	assert.Zero(t, n)

	// Restartable: a later range picks up new entries.
	require.True(t, c.Offer(&Result{TaskID: 7}))
	for e := range c.Drain() {
		assert.Equal(t, int64(7), e.Result.TaskID)
		n++
	}
	assert.Equal(t, 1, n)
}

func TestCompletion_OfferDropsWhenFull(t *testing.T) {
	c, err := NewCompletionChannel(1)
	require.NoError(t, err)

	assert.True(t, c.Offer(&Result{TaskID: 1}))
	assert.False(t, c.Offer(&Result{TaskID: 2}))
	assert.Equal(t, int64(1), c.Dropped())

	assert.False(t, c.ForwardSentinel(9, 10*time.Millisecond))
}

type recordingSink struct {
	results []*Result
	err     error
}

func (s *recordingSink) PublishResult(r *Result) error {
	s.results = append(s.results, r)
	return s.err
}

func TestCollector_CollectOnceRetiresTasks(t *testing.T) {
	d := newTestDispatcher(t, 10, 10, nil)
	id, err := d.Submit(KindEcho, []any{"hi"}, nil)
	require.NoError(t, err)

	sink := &recordingSink{err: errors.New("sink unavailable")}
	col := NewCollector(d, CollectorConfig{Sink: sink}, zerolog.Nop())

	wp := NewWorkerPool(d, zerolog.Nop())
	wp.Start(context.Background(), 1)
	require.NoError(t, d.Queue().PushSentinel(context.Background()))
	waitDone(t, wp)

	results, sentinels := col.CollectOnce()
	assert.Equal(t, 1, results)
	assert.Equal(t, 1, sentinels)
	assert.Equal(t, int64(1), col.Collected())
	assert.Equal(t, int64(1), col.Sentinels())

	_, ok := d.Registry().Get(id)
	assert.False(t, ok, "collected task is evicted from the registry")
	require.Len(t, sink.results, 1)
	assert.Equal(t, []any{"hi"}, sink.results[0].Payload)

	results, sentinels = col.CollectOnce()
	assert.Zero(t, results)
	assert.Zero(t, sentinels)
}

func TestCollector_RunDrainsOnCancel(t *testing.T) {
	d := newTestDispatcher(t, 10, 10, nil)
	col := NewCollector(d, CollectorConfig{Interval: time.Hour}, zerolog.Nop())
	require.True(t, d.Completed().Offer(&Result{TaskID: 1}))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		col.Run(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("collector did not stop")
	}
	assert.Equal(t, int64(1), col.Collected())
}
