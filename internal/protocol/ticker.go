package protocol

import (
	"sync"
	"time"
)

// TickDuration is the length of one game tick.
const TickDuration = 50 * time.Millisecond

// Ticker runs periodic callbacks for the lifetime of one connection.
type Ticker struct {
	mu      sync.Mutex
	stop    chan struct{}
	stopped bool
	wg      sync.WaitGroup
}

// NewTicker creates a running ticker.
func NewTicker() *Ticker {
	return &Ticker{stop: make(chan struct{})}
}

// AddLoop calls fn every ticks game ticks until Stop. Adding a loop to a
// stopped ticker does nothing.
func (t *Ticker) AddLoop(ticks int, fn func()) {
	if ticks < 1 {
		ticks = 1
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped {
		return
	}

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		tk := time.NewTicker(time.Duration(ticks) * TickDuration)
		defer tk.Stop()
		for {
			select {
			case <-tk.C:
				fn()
			case <-t.stop:
				return
			}
		}
	}()
}

// Stop ends every loop and waits for running callbacks to return. It must
// not be called from inside a loop callback.
func (t *Ticker) Stop() {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return
	}
	t.stopped = true
	close(t.stop)
	t.mu.Unlock()

	t.wg.Wait()
}
