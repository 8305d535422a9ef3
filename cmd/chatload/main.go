package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/adred-codev/blockchat/internal/loadgen"
	"github.com/adred-codev/blockchat/internal/shared/monitoring"
	"github.com/adred-codev/blockchat/internal/shared/types"
)

func main() {
	cfg := loadgen.Config{}

	flag.StringVar(&cfg.ChatURL, "url", getEnv("CHAT_URL", "ws://localhost:9100/chat"), "Web chat URL")
	flag.StringVar(&cfg.HealthURL, "health", getEnv("HEALTH_URL", "http://localhost:9100/health"), "Health check URL, empty disables")
	flag.IntVar(&cfg.Clients, "clients", getEnvInt("TARGET_CLIENTS", 50), "Target number of clients")
	flag.IntVar(&cfg.RampRate, "ramp-rate", getEnvInt("RAMP_RATE", 10), "Clients per second during ramp-up")
	flag.DurationVar(&cfg.MessageEvery, "message-every", time.Second, "Per-client chat interval, 0 only listens")
	flag.DurationVar(&cfg.Duration, "duration", 5*time.Minute, "Sustain duration")
	flag.DurationVar(&cfg.ReportEvery, "report-interval", 10*time.Second, "Report interval")
	flag.StringVar(&cfg.NamePrefix, "name-prefix", "load", "Display name prefix")
	pretty := flag.Bool("pretty", true, "human-readable log output")
	flag.Parse()

	format := types.LogFormatJSON
	if *pretty {
		format = types.LogFormatPretty
	}
	logger := monitoring.NewLogger(monitoring.LoggerConfig{
		Level:  types.LogLevelInfo,
		Format: format,
	})

	runner, err := loadgen.NewRunner(cfg, logger)
	if err != nil {
		logger.Error().Err(err).Msg("Invalid load configuration")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := runner.Run(ctx); err != nil {
		logger.Error().Err(err).Msg("Load run failed")
		stop()
		os.Exit(1)
	}
	logger.Info().Msg("Load run finished")
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}
