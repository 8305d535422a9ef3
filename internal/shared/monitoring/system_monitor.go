package monitoring

import (
	"context"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/process"
)

// SystemMetrics holds current process resource measurements
type SystemMetrics struct {
	CPUPercent float64   // Process CPU usage since the previous sample
	RSSBytes   uint64    // Resident set size
	MemoryMB   float64   // RSS in MB
	Goroutines int       // Current goroutine count
	Timestamp  time.Time // When these metrics were captured
}

// SystemMonitor samples process CPU and memory on an interval and exports
// them to Prometheus. /health reads the latest sample through Snapshot.
type SystemMonitor struct {
	proc   *process.Process
	logger zerolog.Logger

	mu      sync.RWMutex
	metrics SystemMetrics

	wg sync.WaitGroup
}

// NewSystemMonitor creates a monitor for the current process.
func NewSystemMonitor(logger zerolog.Logger) (*SystemMonitor, error) {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return nil, err
	}
	return &SystemMonitor{
		proc:    proc,
		logger:  logger.With().Str("component", "system_monitor").Logger(),
		metrics: SystemMetrics{Timestamp: time.Now()},
	}, nil
}

// Start begins periodic sampling until ctx is cancelled.
func (sm *SystemMonitor) Start(ctx context.Context, interval time.Duration) {
	sm.wg.Add(1)
	go func() {
		defer sm.wg.Done()
		defer RecoverPanic(sm.logger, "systemMonitor", nil)

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		sm.logger.Info().
			Dur("interval", interval).
			Msg("SystemMonitor started")

		sm.updateMetrics()

		for {
			select {
			case <-ticker.C:
				sm.updateMetrics()
			case <-ctx.Done():
				sm.logger.Info().Msg("SystemMonitor stopped")
				return
			}
		}
	}()
}

// Wait blocks until the sampling goroutine has exited.
func (sm *SystemMonitor) Wait() {
	sm.wg.Wait()
}

func (sm *SystemMonitor) updateMetrics() {
	m := SystemMetrics{
		Goroutines: runtime.NumGoroutine(),
		Timestamp:  time.Now(),
	}

	// Percent(0) reports usage since the previous call
	cpuPercent, err := sm.proc.Percent(0)
	if err != nil {
		LogError(sm.logger, err, "Failed to get process CPU usage", nil)
	} else {
		m.CPUPercent = cpuPercent
	}

	mem, err := sm.proc.MemoryInfo()
	if err != nil {
		LogError(sm.logger, err, "Failed to get process memory usage", nil)
	} else {
		m.RSSBytes = mem.RSS
		m.MemoryMB = float64(mem.RSS) / 1024 / 1024
	}

	sm.mu.Lock()
	sm.metrics = m
	sm.mu.Unlock()

	processCPUPercent.Set(m.CPUPercent)
	processRSSBytes.Set(float64(m.RSSBytes))
	goroutinesActive.Set(float64(m.Goroutines))

	sm.logger.Debug().
		Float64("cpu_percent", m.CPUPercent).
		Float64("memory_mb", m.MemoryMB).
		Int("goroutines", m.Goroutines).
		Msg("System metrics sampled")
}

// Snapshot returns the latest sample.
func (sm *SystemMonitor) Snapshot() SystemMetrics {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.metrics
}
