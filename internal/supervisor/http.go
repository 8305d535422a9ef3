package supervisor

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/adred-codev/blockchat/internal/shared/monitoring"
)

func (s *Supervisor) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/metrics", monitoring.HandleMetrics)
	mux.Handle("/chat", s.web)
	return mux
}

func (s *Supervisor) handleHealth(w http.ResponseWriter, r *http.Request) {
	// Set CORS headers
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
	w.Header().Set("Content-Type", "application/json")

	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}

	isHealthy := true
	warnings := []string{}
	errs := []string{}

	queue := s.dispatcher.Queue()
	completed := s.dispatcher.Completed()
	live := s.pool.Live()

	// Workers exit only on shutdown, so fewer live than configured means a
	// crashed worker.
	workersHealthy := live >= s.workers
	if !workersHealthy {
		isHealthy = false
		errs = append(errs, fmt.Sprintf("Worker pool below size (%d/%d)", live, s.workers))
	}
	if s.workers == 0 {
		warnings = append(warnings, "No workers configured, submitted tasks will not run")
	}

	if queue.Cap() > 0 && queue.Len() == queue.Cap() {
		warnings = append(warnings, fmt.Sprintf("Task queue full (%d/%d)", queue.Len(), queue.Cap()))
	}

	natsStatus := "disabled"
	natsHealthy := true
	if s.bridge != nil {
		natsStatus = "connected"
		if !s.bridge.IsConnected() {
			natsStatus = "disconnected"
			natsHealthy = false
			warnings = append(warnings, "NATS bridge disconnected")
		}
	}

	online := s.players.Len()
	if s.cfg.MaxPlayers > 0 && online >= s.cfg.MaxPlayers {
		warnings = append(warnings, fmt.Sprintf("Server full (%d/%d)", online, s.cfg.MaxPlayers))
	}

	status := "healthy"
	statusCode := http.StatusOK
	if !isHealthy {
		status = "unhealthy"
		statusCode = http.StatusServiceUnavailable
	} else if len(warnings) > 0 {
		status = "degraded"
	}

	checks := map[string]any{
		"workers": map[string]any{
			"live":       live,
			"configured": s.workers,
			"healthy":    workersHealthy,
		},
		"queue": map[string]any{
			"depth":    queue.Len(),
			"capacity": queue.Cap(),
		},
		"completion": map[string]any{
			"depth":     completed.Len(),
			"capacity":  completed.Cap(),
			"dropped":   completed.Dropped(),
			"collected": s.collector.Collected(),
		},
		"registry": map[string]any{
			"size": s.dispatcher.Registry().Len(),
		},
		"players": map[string]any{
			"online": online,
			"max":    s.cfg.MaxPlayers,
			"game":   s.game.Online(),
			"web":    s.web.Clients(),
		},
		"nats": map[string]any{
			"status":  natsStatus,
			"healthy": natsHealthy,
		},
	}
	if s.monitor != nil {
		m := s.monitor.Snapshot()
		checks["process"] = map[string]any{
			"cpu_percent": m.CPUPercent,
			"memory_mb":   m.MemoryMB,
			"goroutines":  m.Goroutines,
		}
	}

	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(map[string]any{
		"status":   status,
		"healthy":  isHealthy,
		"checks":   checks,
		"warnings": warnings,
		"errors":   errs,
		"uptime":   time.Since(s.startTime).Seconds(),
	})
}
