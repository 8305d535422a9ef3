// Package loadgen drives many web chat clients against a running server and
// reports what they observe.
package loadgen

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// Config describes one load run.
type Config struct {
	ChatURL      string        // ws://host:9100/chat
	HealthURL    string        // Optional, polled on every report
	Clients      int           // Target number of clients
	RampRate     int           // Clients per second during ramp-up
	MessageEvery time.Duration // Per-client chat interval, zero only listens
	Duration     time.Duration // Sustain phase length after ramp-up
	ReportEvery  time.Duration
	DialTimeout  time.Duration
	NamePrefix   string
}

// Health is the subset of /health the runner reports on.
type Health struct {
	Status  string `json:"status"`
	Healthy bool   `json:"healthy"`
	Checks  struct {
		Players struct {
			Online int `json:"online"`
		} `json:"players"`
		Workers struct {
			Live int `json:"live"`
		} `json:"workers"`
		Queue struct {
			Depth int `json:"depth"`
		} `json:"queue"`
	} `json:"checks"`
}

// Stats is a point-in-time copy of the run counters.
type Stats struct {
	Active     int64
	Created    int64
	Failed     int64
	Sent       int64
	SendErrors int64
	Received   int64
}

// Runner executes a Config.
type Runner struct {
	cfg    Config
	logger zerolog.Logger
	dialer *websocket.Dialer
	http   *http.Client

	active     atomic.Int64
	created    atomic.Int64
	failed     atomic.Int64
	sent       atomic.Int64
	sendErrors atomic.Int64
	received   atomic.Int64

	lastHealth atomic.Pointer[Health]

	mu      sync.Mutex
	clients []*client
	errs    map[string]int64

	wg sync.WaitGroup
}

// NewRunner validates cfg and fills defaults.
func NewRunner(cfg Config, logger zerolog.Logger) (*Runner, error) {
	if _, err := url.Parse(cfg.ChatURL); err != nil || cfg.ChatURL == "" {
		return nil, fmt.Errorf("invalid chat URL %q", cfg.ChatURL)
	}
	if cfg.Clients < 1 {
		return nil, fmt.Errorf("clients must be > 0, got %d", cfg.Clients)
	}
	if cfg.RampRate < 1 {
		cfg.RampRate = 10
	}
	if cfg.ReportEvery <= 0 {
		cfg.ReportEvery = 10 * time.Second
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 10 * time.Second
	}
	if cfg.NamePrefix == "" {
		cfg.NamePrefix = "load"
	}

	return &Runner{
		cfg:    cfg,
		logger: logger.With().Str("component", "loadgen").Logger(),
		dialer: &websocket.Dialer{HandshakeTimeout: cfg.DialTimeout},
		http:   &http.Client{Timeout: cfg.DialTimeout},
		errs:   make(map[string]int64),
	}, nil
}

// Run ramps up, sustains for the configured duration or until ctx ends, then
// closes every client. An unreachable health endpoint at start is an error.
func (r *Runner) Run(ctx context.Context) error {
	if r.cfg.HealthURL != "" {
		if err := r.checkHealth(ctx); err != nil {
			return fmt.Errorf("initial health check failed: %w", err)
		}
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	reportDone := make(chan struct{})
	go func() {
		defer close(reportDone)
		r.reportLoop(runCtx)
	}()

	r.logger.Info().
		Int("clients", r.cfg.Clients).
		Int("ramp_rate", r.cfg.RampRate).
		Str("url", r.cfg.ChatURL).
		Msg("Starting ramp-up")

	if err := r.rampUp(runCtx); err == nil {
		r.logger.Info().
			Int64("active", r.active.Load()).
			Dur("duration", r.cfg.Duration).
			Msg("Ramp-up complete, sustaining load")

		select {
		case <-time.After(r.cfg.Duration):
		case <-runCtx.Done():
			r.logger.Warn().Msg("Sustain phase interrupted")
		}
	}

	cancel()
	r.closeAll()
	r.wg.Wait()
	<-reportDone

	r.report()
	return nil
}

func (r *Runner) rampUp(ctx context.Context) error {
	batch := max(r.cfg.RampRate/10, 1)
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	next := 0
	for next < r.cfg.Clients {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		var wg sync.WaitGroup
		for i := 0; i < batch && next < r.cfg.Clients; i++ {
			id := next
			next++
			r.created.Add(1)

			wg.Add(1)
			go func() {
				defer wg.Done()
				if err := r.connect(ctx, id); err != nil {
					r.failed.Add(1)
					r.recordError(err)
					r.logger.Debug().Err(err).Int("client", id).Msg("Client failed to connect")
				}
			}()
		}
		wg.Wait()
	}
	return nil
}

func (r *Runner) connect(ctx context.Context, id int) error {
	name := fmt.Sprintf("%s%d", r.cfg.NamePrefix, id)

	u, err := url.Parse(r.cfg.ChatURL)
	if err != nil {
		return err
	}
	q := u.Query()
	q.Set("name", name)
	u.RawQuery = q.Encode()

	conn, resp, err := r.dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("dial failed: HTTP %d", resp.StatusCode)
		}
		return fmt.Errorf("dial failed: %w", err)
	}

	c := &client{id: id, name: name, conn: conn, runner: r}
	r.mu.Lock()
	r.clients = append(r.clients, c)
	r.mu.Unlock()
	r.active.Add(1)

	r.wg.Add(1)
	go c.readLoop()
	if r.cfg.MessageEvery > 0 {
		r.wg.Add(1)
		go c.chatLoop(ctx, r.cfg.MessageEvery)
	}
	return nil
}

func (r *Runner) closeAll() {
	r.mu.Lock()
	clients := r.clients
	r.clients = nil
	r.mu.Unlock()

	for _, c := range clients {
		c.close()
	}
}

func (r *Runner) recordError(err error) {
	var key string
	var timeout interface{ Timeout() bool }
	switch {
	case errors.Is(err, context.Canceled):
		key = "canceled"
	case errors.As(err, &timeout) && timeout.Timeout():
		key = "timeout"
	default:
		key = err.Error()
	}

	r.mu.Lock()
	r.errs[key]++
	r.mu.Unlock()
}

func (r *Runner) checkHealth(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.cfg.HealthURL, nil)
	if err != nil {
		return err
	}
	resp, err := r.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var h Health
	if err := json.NewDecoder(resp.Body).Decode(&h); err != nil {
		return fmt.Errorf("decode health: %w", err)
	}
	r.lastHealth.Store(&h)

	if !h.Healthy {
		r.logger.Warn().Str("status", h.Status).Msg("Server reports unhealthy status, continuing")
	}
	return nil
}

func (r *Runner) reportLoop(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.ReportEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if r.cfg.HealthURL != "" {
				if err := r.checkHealth(ctx); err != nil && ctx.Err() == nil {
					r.logger.Warn().Err(err).Msg("Health check failed")
				}
			}
			r.report()
		}
	}
}

func (r *Runner) report() {
	s := r.Stats()
	ev := r.logger.Info().
		Int64("active", s.Active).
		Int64("created", s.Created).
		Int64("failed", s.Failed).
		Int64("sent", s.Sent).
		Int64("send_errors", s.SendErrors).
		Int64("received", s.Received)

	if h := r.lastHealth.Load(); h != nil {
		ev = ev.Str("server_status", h.Status).
			Int("server_online", h.Checks.Players.Online).
			Int("server_workers", h.Checks.Workers.Live).
			Int("server_queue_depth", h.Checks.Queue.Depth)
	}

	r.mu.Lock()
	if len(r.errs) > 0 {
		errs := zerolog.Dict()
		for k, v := range r.errs {
			errs = errs.Int64(k, v)
		}
		ev = ev.Dict("connect_errors", errs)
	}
	r.mu.Unlock()

	ev.Msg("Load report")
}

// Stats returns the current counters.
func (r *Runner) Stats() Stats {
	return Stats{
		Active:     r.active.Load(),
		Created:    r.created.Load(),
		Failed:     r.failed.Load(),
		Sent:       r.sent.Load(),
		SendErrors: r.sendErrors.Load(),
		Received:   r.received.Load(),
	}
}

// LastHealth returns the most recent /health sample, nil before the first.
func (r *Runner) LastHealth() *Health {
	return r.lastHealth.Load()
}
