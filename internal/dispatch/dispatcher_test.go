package dispatch

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestDispatcher returns a dispatcher with deterministic task ids.
func newTestDispatcher(t *testing.T, queueSize, completionSize int, register func(*Handlers)) *Dispatcher {
	t.Helper()

	h := NewHandlers()
	RegisterBuiltins(h, "")
	if register != nil {
		register(h)
	}

	d, err := New(Config{QueueSize: queueSize, CompletionSize: completionSize}, h, zerolog.Nop())
	require.NoError(t, err)

	var next atomic.Int64
	d.newID = func() int64 { return next.Add(1) }
	return d
}

func TestNew_RejectsInvalidCapacity(t *testing.T) {
	_, err := New(Config{QueueSize: 0, CompletionSize: 10}, nil, zerolog.Nop())
	require.Error(t, err)

	_, err = New(Config{QueueSize: 10, CompletionSize: 0}, nil, zerolog.Nop())
	require.Error(t, err)
}

func TestSubmit_UpToCapacitySucceeds(t *testing.T) {
	const capacity = 100
	d := newTestDispatcher(t, capacity, 10, nil)

	ids := make([]int64, 0, capacity)
	for i := 0; i < capacity; i++ {
		id, err := d.Submit(KindEcho, []any{i}, nil)
		require.NoError(t, err)
		ids = append(ids, id)
	}

	assert.Equal(t, capacity, d.Queue().Len())
	assert.Equal(t, capacity, d.Registry().Len())
	for _, id := range ids {
		_, ok := d.Registry().Get(id)
		assert.True(t, ok, "task %d missing from registry", id)
	}
}

func TestSubmit_FullQueueIsRejectedAndNotRegistered(t *testing.T) {
	d := newTestDispatcher(t, 3, 10, nil)

	for i := 0; i < 3; i++ {
		_, err := d.Submit(KindEcho, nil, nil)
		require.NoError(t, err)
	}

	id, err := d.Submit(KindEcho, []any{"overflow"}, nil)
	require.ErrorIs(t, err, ErrQueueFull)
	assert.Zero(t, id)
	assert.Equal(t, 3, d.Registry().Len())

	_, ok := d.Registry().Get(4)
	assert.False(t, ok)
}

func TestSubmit_RejectedCollisionKeepsAcceptedTask(t *testing.T) {
	d := newTestDispatcher(t, 1, 10, nil)
	d.newID = func() int64 { return 7 }

	id, err := d.Submit(KindEcho, []any{"first"}, nil)
	require.NoError(t, err)
	require.EqualValues(t, 7, id)

	_, err = d.Submit(KindEcho, []any{"second"}, nil)
	require.ErrorIs(t, err, ErrQueueFull)

	task, ok := d.Registry().Get(7)
	require.True(t, ok)
	assert.Equal(t, []any{"first"}, task.Args)
	assert.Equal(t, 1, d.Registry().Len())
}

func TestRegistry_RevertIgnoresNewerEntry(t *testing.T) {
	r := NewRegistry()
	a := &Task{ID: 1}
	b := &Task{ID: 1}

	assert.Nil(t, r.Add(a))
	assert.Same(t, a, r.Add(b))

	// a no longer owns the id.
	r.Revert(a, nil)
	got, ok := r.Get(1)
	require.True(t, ok)
	assert.Same(t, b, got)

	r.Revert(b, a)
	got, _ = r.Get(1)
	assert.Same(t, a, got)
}

func TestSubmit_UnknownKind(t *testing.T) {
	d := newTestDispatcher(t, 3, 10, nil)

	_, err := d.Submit("does.not.exist", nil, nil)
	require.ErrorIs(t, err, ErrUnknownKind)
	assert.Zero(t, d.Queue().Len())
	assert.Zero(t, d.Registry().Len())
}

func TestSubmit_RandomIDsInRange(t *testing.T) {
	h := NewHandlers()
	RegisterBuiltins(h, "")
	d, err := New(Config{QueueSize: 50, CompletionSize: 10}, h, zerolog.Nop())
	require.NoError(t, err)

	for i := 0; i < 50; i++ {
		id, err := d.Submit(KindEcho, nil, nil)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, id, int64(0))
		assert.Less(t, id, int64(MaxTaskID))
	}
}

func TestHandlers_RegisterTwicePanics(t *testing.T) {
	h := NewHandlers()
	h.Register(KindEcho, Echo)
	assert.Panics(t, func() { h.Register(KindEcho, Echo) })
	assert.Panics(t, func() { h.Register("", Echo) })
}

func TestHandlers_KindsSorted(t *testing.T) {
	h := NewHandlers()
	RegisterBuiltins(h, t.TempDir()+"/transcript.log")
	assert.Equal(t, []Kind{KindTranscript, KindEcho, KindSleep}, h.Kinds())
}

func TestRegistry_Sweep(t *testing.T) {
	r := NewRegistry()
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return base }

	r.Add(&Task{ID: 1, SubmittedAt: base.Add(-20 * time.Minute)})
	r.Add(&Task{ID: 2, SubmittedAt: base.Add(-5 * time.Minute)})
	r.Add(&Task{ID: 3, SubmittedAt: base})

	assert.Zero(t, r.Sweep(0), "non-positive ttl disables expiry")
	assert.Equal(t, 1, r.Sweep(10*time.Minute))
	assert.Equal(t, 2, r.Len())

	_, ok := r.Get(1)
	assert.False(t, ok)

	r.Forget(2)
	r.Forget(42)
	assert.Equal(t, 1, r.Len())
}

func TestQueue_PopHonoursContext(t *testing.T) {
	q, err := NewQueue(1)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	task, err := q.Pop(ctx)
	assert.Nil(t, task)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestQueue_PushSentinelBlocksUntilRoom(t *testing.T) {
	q, err := NewQueue(1)
	require.NoError(t, err)
	require.NoError(t, q.TryPush(&Task{ID: 1}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, q.PushSentinel(ctx), context.DeadlineExceeded)

	task, err := q.Pop(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), task.ID)

	require.NoError(t, q.PushSentinel(context.Background()))
	task, err = q.Pop(context.Background())
	require.NoError(t, err)
	assert.Nil(t, task)
}
