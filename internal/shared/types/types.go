package types

import (
	"time"
)

// LogLevel represents log verbosity level
type LogLevel string

const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
	LogLevelFatal LogLevel = "fatal"
)

// LogFormat represents log output format
type LogFormat string

const (
	LogFormatJSON   LogFormat = "json"   // JSON format for Loki
	LogFormatPretty LogFormat = "pretty" // Human-readable for local dev
)

// ServerConfig contains the resolved settings the supervisor runs with.
// It is built from platform.Config after the optional properties file
// has been applied.
type ServerConfig struct {
	ListenAddr string // Game protocol listener (default 0.0.0.0:25565)
	HTTPAddr   string // Health, metrics and web chat; empty disables
	MOTD       string
	MaxPlayers int

	// Dispatch
	TaskQueueSize       int
	CompletionQueueSize int
	MaxWorkers          int           // Upper bound on parallelism, one slot is reserved for networking
	ShutdownGrace       time.Duration // Worker drain grace period
	NetworkGrace        time.Duration // Networking graceful stop before force close
	RegistryTTL         time.Duration
	CollectInterval     time.Duration
	TranscriptPath      string

	// Chat
	KeepAliveTicks int
	ChatRate       float64 // Chat messages per second per peer
	ChatBurst      int

	// Connection rate limits, shared by the game listener and web chat
	ConnIPRate      float64
	ConnIPBurst     int
	ConnGlobalRate  float64
	ConnGlobalBurst int

	// NATS bridge, disabled when URL is empty
	NATSURL           string
	NATSSubjectPrefix string

	// Kafka announcements, disabled when no broker is set
	KafkaBrokers       []string
	KafkaConsumerGroup string
	AnnounceTopic      string
	AnnounceRate       float64
	AnnounceBurst      int

	MetricsInterval time.Duration

	LogLevel  LogLevel
	LogFormat LogFormat
}
