package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/adred-codev/blockchat/internal/shared/monitoring"
	"github.com/adred-codev/blockchat/internal/shared/platform"
	"github.com/adred-codev/blockchat/internal/supervisor"
	_ "go.uber.org/automaxprocs"
)

func main() {
	var (
		debug = flag.Bool("debug", false, "enable debug logging (overrides LOG_LEVEL)")
	)
	flag.Parse()

	// Create basic logger for startup
	logger := log.New(os.Stdout, "[BLOCKCHAT] ", log.LstdFlags)

	if err := platform.CheckRuntime(runtime.Version(), platform.MinGoVersion); err != nil {
		logger.Printf("Unsupported runtime: %v", err)
		os.Exit(-2)
	}

	// automaxprocs has already applied the container CPU quota
	logger.Printf("GOMAXPROCS: %d (via automaxprocs)", runtime.GOMAXPROCS(0))

	cfg, err := platform.LoadConfig(nil) // structured logger is created after
	if err != nil {
		logger.Printf("Failed to load configuration: %v", err)
		os.Exit(1)
	}

	if *debug {
		cfg.LogLevel = "debug"
		logger.Printf("Debug mode enabled via flag")
	}

	serverConfig := cfg.ServerConfig()
	if cfg.PropertiesFile != "" {
		if err := supervisor.ApplyProperties(&serverConfig, cfg.PropertiesFile); err != nil {
			logger.Printf("Failed to load properties file: %v", err)
			os.Exit(1)
		}
	}

	structLogger := monitoring.InitGlobalLogger(monitoring.LoggerConfig{
		Level:  serverConfig.LogLevel,
		Format: serverConfig.LogFormat,
	})
	cfg.LogConfig(structLogger)

	sup, err := supervisor.New(serverConfig, platform.Parallelism(structLogger), structLogger)
	if err != nil {
		structLogger.Error().Err(err).Msg("Failed to create server")
		if errors.Is(err, supervisor.ErrQueueInit) {
			os.Exit(-1)
		}
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := sup.Run(ctx); err != nil {
		structLogger.Error().Err(err).Msg("Server failed")
		stop()
		os.Exit(1)
	}
}
