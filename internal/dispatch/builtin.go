package dispatch

import (
	"context"
	"fmt"
	"math"
	"os"
	"sync"
	"time"
)

// Built-in task kinds.
const (
	KindEcho       Kind = "echo"
	KindSleep      Kind = "sleep"
	KindTranscript Kind = "chat.transcript"
)

// maxSleep caps the sleep kind so a bad submission cannot pin a worker.
const maxSleep = time.Minute

// RegisterBuiltins registers echo and sleep. A transcript handler is
// registered only when transcriptPath is set.
func RegisterBuiltins(h *Handlers, transcriptPath string) {
	h.Register(KindEcho, Echo)
	h.Register(KindSleep, Sleep)
	if transcriptPath != "" {
		h.Register(KindTranscript, NewTranscriptHandler(transcriptPath))
	}
}

// Echo returns its positional arguments unchanged.
func Echo(_ context.Context, args []any, _ map[string]any) (any, error) {
	return args, nil
}

// Sleep waits for kwargs["ms"] milliseconds or until ctx is done.
func Sleep(ctx context.Context, _ []any, kwargs map[string]any) (any, error) {
	ms, err := intKwarg(kwargs, "ms")
	if err != nil {
		return nil, err
	}
	if ms < 0 || ms > maxSleep.Milliseconds() {
		return nil, fmt.Errorf("sleep: ms out of range: %d", ms)
	}

	timer := time.NewTimer(time.Duration(ms) * time.Millisecond)
	defer timer.Stop()
	select {
	case <-timer.C:
		return ms, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// NewTranscriptHandler returns a handler that appends args[0] as one line to
// the file at path.
func NewTranscriptHandler(path string) Handler {
	var mu sync.Mutex
	return func(_ context.Context, args []any, _ map[string]any) (any, error) {
		if len(args) != 1 {
			return nil, fmt.Errorf("transcript: want 1 argument, got %d", len(args))
		}
		line, ok := args[0].(string)
		if !ok {
			return nil, fmt.Errorf("transcript: argument must be a string, got %T", args[0])
		}

		mu.Lock()
		defer mu.Unlock()

		f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, fmt.Errorf("transcript: open %s: %w", path, err)
		}
		n, werr := fmt.Fprintln(f, line)
		if cerr := f.Close(); werr == nil {
			werr = cerr
		}
		if werr != nil {
			return nil, fmt.Errorf("transcript: write %s: %w", path, werr)
		}
		return n, nil
	}
}

// intKwarg reads an integer kwarg. JSON decoding yields float64, local
// callers usually pass int.
func intKwarg(kwargs map[string]any, key string) (int64, error) {
	v, ok := kwargs[key]
	if !ok {
		return 0, fmt.Errorf("missing kwarg %q", key)
	}
	switch n := v.(type) {
	case int:
		return int64(n), nil
	case int64:
		return n, nil
	case float64:
		if math.IsNaN(n) || n < math.MinInt64 || n >= math.MaxInt64 {
			return 0, fmt.Errorf("kwarg %q out of range: %v", key, n)
		}
		return int64(n), nil
	default:
		return 0, fmt.Errorf("kwarg %q must be a number, got %T", key, v)
	}
}
