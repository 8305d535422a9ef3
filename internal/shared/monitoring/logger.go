package monitoring

import (
	"io"
	"os"
	"runtime/debug"
	"time"

	"github.com/adred-codev/blockchat/internal/shared/types"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// LoggerConfig holds logger configuration
type LoggerConfig struct {
	Level  types.LogLevel  // Minimum log level
	Format types.LogFormat // Output format
	Output io.Writer       // Defaults to os.Stdout
}

// NewLogger creates a structured logger.
//
// JSON output by default, ConsoleWriter when Format is pretty. Every entry
// carries a timestamp, the caller and service=blockchat.
//
// Example:
//
//	logger := NewLogger(LoggerConfig{
//	    Level: types.LogLevelInfo,
//	    Format: types.LogFormatJSON,
//	})
//	logger.Info().
//	    Str("component", "dispatch").
//	    Int("workers", 1).
//	    Msg("Worker pool started")
func NewLogger(config LoggerConfig) zerolog.Logger {
	var output io.Writer = os.Stdout
	if config.Output != nil {
		output = config.Output
	}

	var level zerolog.Level
	switch config.Level {
	case types.LogLevelDebug:
		level = zerolog.DebugLevel
	case types.LogLevelInfo:
		level = zerolog.InfoLevel
	case types.LogLevelWarn:
		level = zerolog.WarnLevel
	case types.LogLevelError:
		level = zerolog.ErrorLevel
	case types.LogLevelFatal:
		level = zerolog.FatalLevel
	default:
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if config.Format == types.LogFormatPretty {
		output = zerolog.ConsoleWriter{
			Out:        output,
			TimeFormat: time.RFC3339,
		}
	}

	return zerolog.New(output).
		With().
		Timestamp().
		Caller().
		Str("service", "blockchat").
		Logger()
}

// LogError logs an error with additional context fields.
func LogError(logger zerolog.Logger, err error, msg string, fields map[string]any) {
	event := logger.Error().Err(err)

	for k, v := range fields {
		event = event.Interface(k, v)
	}

	event.Msg(msg)
}

// RecoverPanic is a helper for goroutine panic recovery that logs but doesn't exit.
//
// Use it as the first defer of every long-lived goroutine:
//
//	go func() {
//	    defer monitoring.RecoverPanic(logger, "acceptLoop", nil)
//	    // ...
//	}()
func RecoverPanic(logger zerolog.Logger, goroutineName string, fields map[string]any) {
	if r := recover(); r != nil {
		event := logger.Error().
			Str("goroutine", goroutineName).
			Interface("panic_value", r).
			Str("stack_trace", string(debug.Stack()))

		for k, v := range fields {
			event = event.Interface(k, v)
		}

		event.Msg("Goroutine panic recovered")
	}
}

// InitGlobalLogger builds a logger with NewLogger and installs it as the
// zerolog global logger. Call it once at startup.
func InitGlobalLogger(config LoggerConfig) zerolog.Logger {
	logger := NewLogger(config)
	log.Logger = logger
	return logger
}
