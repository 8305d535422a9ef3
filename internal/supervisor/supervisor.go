// Package supervisor wires the task pipeline, the game listener, the web
// chat bridge and the HTTP side server together and runs the shutdown
// sequence.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/adred-codev/blockchat/internal/announce"
	"github.com/adred-codev/blockchat/internal/chat"
	"github.com/adred-codev/blockchat/internal/dispatch"
	"github.com/adred-codev/blockchat/internal/protocol"
	"github.com/adred-codev/blockchat/internal/shared/limits"
	"github.com/adred-codev/blockchat/internal/shared/monitoring"
	"github.com/adred-codev/blockchat/internal/shared/types"
	"github.com/adred-codev/blockchat/internal/webchat"
	"github.com/rs/zerolog"
)

// ErrQueueInit is returned by New when the task pipeline cannot be created.
var ErrQueueInit = errors.New("task queue initialisation failed")

const (
	defaultGrace           = 2 * time.Second
	defaultMetricsInterval = 15 * time.Second
	httpShutdownTimeout    = 2 * time.Second
	workerCancelTimeout    = 2 * time.Second
	limiterSweepInterval   = time.Minute
)

// Supervisor owns every long-running component of the server.
type Supervisor struct {
	cfg     types.ServerConfig
	workers int
	logger  zerolog.Logger

	dispatcher  *dispatch.Dispatcher
	pool        *dispatch.WorkerPool
	coordinator *dispatch.Coordinator
	collector   *dispatch.Collector
	bridge      *dispatch.Bridge

	players   *protocol.Players
	room      *chat.Room
	game      *protocol.Server
	web       *webchat.Handler
	limiter   *limits.ConnectionRateLimiter
	announcer *announce.Consumer
	monitor   *monitoring.SystemMonitor

	httpServer *http.Server
	startTime  time.Time

	ready    chan struct{}
	gameAddr net.Addr
	httpAddr net.Addr
}

// New builds every component. parallelism is the CPU budget used to size the
// worker pool.
func New(cfg types.ServerConfig, parallelism int, logger zerolog.Logger) (*Supervisor, error) {
	if cfg.NetworkGrace <= 0 {
		cfg.NetworkGrace = defaultGrace
	}
	if cfg.MetricsInterval <= 0 {
		cfg.MetricsInterval = defaultMetricsInterval
	}

	handlers := dispatch.NewHandlers()
	dispatch.RegisterBuiltins(handlers, cfg.TranscriptPath)

	d, err := dispatch.New(dispatch.Config{
		QueueSize:      cfg.TaskQueueSize,
		CompletionSize: cfg.CompletionQueueSize,
	}, handlers, logger)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrQueueInit, err)
	}

	s := &Supervisor{
		cfg:        cfg,
		workers:    WorkerCount(parallelism, cfg.MaxWorkers),
		logger:     logger.With().Str("component", "supervisor").Logger(),
		dispatcher: d,
		players:    protocol.NewPlayers(),
		startTime:  time.Now(),
		ready:      make(chan struct{}),
	}

	s.pool = dispatch.NewWorkerPool(d, logger)
	s.coordinator = dispatch.NewCoordinator(d, s.pool, cfg.ShutdownGrace, logger)

	var sink dispatch.ResultSink
	if cfg.NATSURL != "" {
		s.bridge, err = dispatch.NewBridge(dispatch.BridgeConfig{
			URL:           cfg.NATSURL,
			SubjectPrefix: cfg.NATSSubjectPrefix,
		}, d, logger)
		if err != nil {
			return nil, err
		}
		sink = s.bridge
	}
	s.collector = dispatch.NewCollector(d, dispatch.CollectorConfig{
		Interval:    cfg.CollectInterval,
		RegistryTTL: cfg.RegistryTTL,
		Sink:        sink,
	}, logger)

	roomCfg := chat.Config{
		KeepAliveTicks: cfg.KeepAliveTicks,
		ChatRate:       cfg.ChatRate,
		ChatBurst:      cfg.ChatBurst,
	}
	if cfg.TranscriptPath != "" {
		roomCfg.Transcript = d
	}
	s.room = chat.NewRoom(s.players, roomCfg, logger)

	s.limiter = limits.NewConnectionRateLimiter(limits.ConnectionRateLimiterConfig{
		IPRate:      cfg.ConnIPRate,
		IPBurst:     cfg.ConnIPBurst,
		GlobalRate:  cfg.ConnGlobalRate,
		GlobalBurst: cfg.ConnGlobalBurst,
	}, logger)

	s.game = protocol.NewServer(protocol.ServerConfig{
		MOTD:       cfg.MOTD,
		MaxPlayers: cfg.MaxPlayers,
		Admission:  s.limiter,
	}, s.room, s.players, logger)
	s.web = webchat.NewHandler(s.room, logger)
	s.web.SetAdmission(s.limiter)

	if len(cfg.KafkaBrokers) > 0 {
		s.announcer, err = announce.NewConsumer(announce.ConsumerConfig{
			Brokers:       cfg.KafkaBrokers,
			ConsumerGroup: cfg.KafkaConsumerGroup,
			Topics:        []string{cfg.AnnounceTopic},
			Broadcaster:   s.room,
			Rate:          cfg.AnnounceRate,
			Burst:         cfg.AnnounceBurst,
		}, logger)
		if err != nil {
			if s.bridge != nil {
				_ = s.bridge.Close()
			}
			return nil, err
		}
	}

	if monitor, err := monitoring.NewSystemMonitor(logger); err != nil {
		s.logger.Warn().Err(err).Msg("System monitor unavailable")
	} else {
		s.monitor = monitor
	}

	return s, nil
}

// Dispatcher returns the task pipeline, for in-process submitters.
func (s *Supervisor) Dispatcher() *dispatch.Dispatcher { return s.dispatcher }

// Workers returns the configured worker count.
func (s *Supervisor) Workers() int { return s.workers }

// Ready is closed once the listeners are bound.
func (s *Supervisor) Ready() <-chan struct{} { return s.ready }

// GameAddr returns the bound game listener address. Valid after Ready.
func (s *Supervisor) GameAddr() net.Addr { return s.gameAddr }

// HTTPAddr returns the bound HTTP address, nil when disabled. Valid after Ready.
func (s *Supervisor) HTTPAddr() net.Addr { return s.httpAddr }

// Run starts every component, blocks until ctx is cancelled and then shuts
// down in order: networking, workers, collector, NATS, HTTP.
func (s *Supervisor) Run(ctx context.Context) error {
	gameLn, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.ListenAddr, err)
	}
	s.gameAddr = gameLn.Addr()

	var httpLn net.Listener
	if s.cfg.HTTPAddr != "" {
		httpLn, err = net.Listen("tcp", s.cfg.HTTPAddr)
		if err != nil {
			gameLn.Close()
			return fmt.Errorf("failed to listen on %s: %w", s.cfg.HTTPAddr, err)
		}
		s.httpAddr = httpLn.Addr()
	}

	// Components stop through the shutdown sequence below, not through the
	// caller's cancellation.
	runCtx, stopRun := context.WithCancel(context.WithoutCancel(ctx))
	defer stopRun()
	// The collector outlives runCtx so it sees the sentinels of workers
	// interrupted by stopRun.
	collectCtx, stopCollect := context.WithCancel(context.WithoutCancel(ctx))
	defer stopCollect()

	s.logger.Info().
		Int("workers", s.workers).
		Int("max_workers", s.cfg.MaxWorkers).
		Msg("Starting worker pool")
	s.pool.Start(runCtx, s.workers)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.collector.Run(collectCtx)
	}()

	if s.monitor != nil {
		s.monitor.Start(runCtx, s.cfg.MetricsInterval)
	}
	go s.limiter.Run(runCtx, limiterSweepInterval)
	if s.announcer != nil {
		s.announcer.Start(runCtx)
	}

	gameErr := make(chan error, 1)
	go func() {
		defer monitoring.RecoverPanic(s.logger, "gameListener", nil)
		gameErr <- s.game.Serve(runCtx, gameLn)
	}()

	if httpLn != nil {
		s.httpServer = &http.Server{
			Handler:           s.routes(),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			defer monitoring.RecoverPanic(s.logger, "httpServer", nil)
			if err := s.httpServer.Serve(httpLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
				s.logger.Error().Err(err).Msg("HTTP server failed")
			}
		}()
	}

	close(s.ready)
	s.logger.Info().
		Str("game_addr", s.gameAddr.String()).
		Str("http_addr", s.cfg.HTTPAddr).
		Msg("Server started")

	select {
	case <-ctx.Done():
	case err := <-gameErr:
		// The listener is not restarted; the rest keeps running until the
		// shutdown signal.
		if err != nil {
			s.logger.Error().Err(err).Msg("Game listener stopped")
		}
		<-ctx.Done()
	}

	s.logger.Info().Msg("Shutdown signal received")
	s.shutdown(stopRun, stopCollect, &wg)
	return nil
}

func (s *Supervisor) shutdown(stopRun, stopCollect context.CancelFunc, collectorWG *sync.WaitGroup) {
	if s.announcer != nil {
		s.announcer.Stop()
	}

	netCtx, cancel := context.WithTimeout(context.Background(), s.cfg.NetworkGrace)
	if err := s.game.Shutdown(netCtx); err != nil {
		s.logger.Warn().Err(err).Msg("Game listener did not stop gracefully")
	}
	if err := s.web.Shutdown(netCtx); err != nil {
		s.logger.Warn().Err(err).Msg("Web chat did not stop gracefully")
	}
	cancel()

	if err := s.coordinator.Shutdown(context.Background()); err != nil {
		s.logger.Warn().Err(err).Msg("Worker pool did not drain within the grace period")
	}

	// Interrupts the remaining workers; each forwards its sentinel while the
	// collector is still running.
	stopRun()
	select {
	case <-s.pool.Done():
	case <-time.After(workerCancelTimeout):
		s.logger.Error().
			Int("live_workers", s.pool.Live()).
			Msg("Workers still running after cancellation")
	}

	stopCollect()
	collectorWG.Wait()

	if s.bridge != nil {
		if err := s.bridge.Close(); err != nil {
			s.logger.Warn().Err(err).Msg("NATS bridge close failed")
		}
	}

	if s.httpServer != nil {
		httpCtx, cancel := context.WithTimeout(context.Background(), httpShutdownTimeout)
		if err := s.httpServer.Shutdown(httpCtx); err != nil {
			s.logger.Warn().Err(err).Msg("HTTP server shutdown failed")
		}
		cancel()
	}

	if s.monitor != nil {
		s.monitor.Wait()
	}

	s.logger.Info().
		Int64("results_collected", s.collector.Collected()).
		Int64("worker_exits", s.collector.Sentinels()).
		Int64("results_dropped", s.dispatcher.Completed().Dropped()).
		Msg("Shutdown complete")
}
