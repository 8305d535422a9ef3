package platform

import (
	"fmt"
	"time"

	"github.com/adred-codev/blockchat/internal/shared/types"
	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

// Config holds all server configuration
// Tags:
//
//	env: Environment variable name
//	envDefault: Default value if not set
type Config struct {
	// Listeners
	ListenAddr string `env:"LISTEN_ADDR" envDefault:"0.0.0.0:25565"`
	HTTPAddr   string `env:"HTTP_ADDR" envDefault:":9100"`

	// Server list
	MOTD           string `env:"MOTD" envDefault:"Chat Room"`
	MaxPlayers     int    `env:"MAX_PLAYERS" envDefault:"20"`
	PropertiesFile string `env:"PROPERTIES_FILE"` // Optional YAML/JSON overrides for MOTD and MAX_PLAYERS

	// Dispatch
	TaskQueueSize       int           `env:"TASK_QUEUE_SIZE" envDefault:"100"`
	CompletionQueueSize int           `env:"COMPLETION_QUEUE_SIZE" envDefault:"1000"`
	MaxWorkers          int           `env:"MAX_WORKERS" envDefault:"2"`
	ShutdownGrace       time.Duration `env:"SHUTDOWN_GRACE" envDefault:"2s"`
	NetworkGrace        time.Duration `env:"NETWORK_GRACE" envDefault:"2s"`
	RegistryTTL         time.Duration `env:"REGISTRY_TTL" envDefault:"10m"`
	CollectInterval     time.Duration `env:"COLLECT_INTERVAL" envDefault:"500ms"`
	TranscriptPath      string        `env:"TRANSCRIPT_PATH"`

	// Chat
	KeepAliveTicks int     `env:"KEEPALIVE_TICKS" envDefault:"20"`
	ChatRate       float64 `env:"CHAT_RATE" envDefault:"5"`
	ChatBurst      int     `env:"CHAT_BURST" envDefault:"10"`

	// Connection rate limiting
	ConnIPRate      float64 `env:"CONN_IP_RATE" envDefault:"1"`
	ConnIPBurst     int     `env:"CONN_IP_BURST" envDefault:"10"`
	ConnGlobalRate  float64 `env:"CONN_GLOBAL_RATE" envDefault:"20"`
	ConnGlobalBurst int     `env:"CONN_GLOBAL_BURST" envDefault:"100"`

	// NATS
	NATSURL           string `env:"NATS_URL"`
	NATSSubjectPrefix string `env:"NATS_SUBJECT_PREFIX" envDefault:"blockchat"`

	// Kafka announcements
	KafkaBrokers       []string `env:"KAFKA_BROKERS" envSeparator:","`
	KafkaConsumerGroup string   `env:"KAFKA_CONSUMER_GROUP" envDefault:"blockchat"`
	AnnounceTopic      string   `env:"ANNOUNCE_TOPIC" envDefault:"blockchat.announcements"`
	AnnounceRate       float64  `env:"ANNOUNCE_RATE" envDefault:"1"`
	AnnounceBurst      int      `env:"ANNOUNCE_BURST" envDefault:"5"`

	// Monitoring
	MetricsInterval time.Duration `env:"METRICS_INTERVAL" envDefault:"15s"`

	// Logging
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`

	// Environment
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
}

// LoadConfig reads configuration from .env file and environment variables
// Priority: ENV vars > .env file > defaults
//
// Optional logger parameter for structured logging. If nil, nothing is logged.
func LoadConfig(logger *zerolog.Logger) (*Config, error) {
	// .env is optional, production sets the environment directly
	if err := godotenv.Load(); err != nil {
		if logger != nil {
			logger.Info().Msg("No .env file found (using environment variables only)")
		}
	} else if logger != nil {
		logger.Info().Msg("Loaded configuration from .env file")
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	if logger != nil {
		logger.Info().Msg("Configuration loaded and validated successfully")
	}

	return cfg, nil
}

// Validate checks configuration for errors
func (c *Config) Validate() error {
	if c.ListenAddr == "" {
		return fmt.Errorf("LISTEN_ADDR is required")
	}

	// Range checks
	if c.MaxPlayers < 0 || c.MaxPlayers > 255 {
		return fmt.Errorf("MAX_PLAYERS must be 0-255, got %d", c.MaxPlayers)
	}
	if c.TaskQueueSize < 1 {
		return fmt.Errorf("TASK_QUEUE_SIZE must be > 0, got %d", c.TaskQueueSize)
	}
	if c.CompletionQueueSize < 1 {
		return fmt.Errorf("COMPLETION_QUEUE_SIZE must be > 0, got %d", c.CompletionQueueSize)
	}
	if c.MaxWorkers < 1 {
		return fmt.Errorf("MAX_WORKERS must be > 0, got %d", c.MaxWorkers)
	}
	if c.ShutdownGrace <= 0 {
		return fmt.Errorf("SHUTDOWN_GRACE must be > 0, got %s", c.ShutdownGrace)
	}
	if c.NetworkGrace <= 0 {
		return fmt.Errorf("NETWORK_GRACE must be > 0, got %s", c.NetworkGrace)
	}
	if c.CollectInterval <= 0 {
		return fmt.Errorf("COLLECT_INTERVAL must be > 0, got %s", c.CollectInterval)
	}
	if c.KeepAliveTicks < 1 {
		return fmt.Errorf("KEEPALIVE_TICKS must be > 0, got %d", c.KeepAliveTicks)
	}
	if c.ChatRate <= 0 || c.ChatBurst < 1 {
		return fmt.Errorf("CHAT_RATE and CHAT_BURST must be > 0 (got %.1f, %d)", c.ChatRate, c.ChatBurst)
	}
	if len(c.KafkaBrokers) > 0 && (c.KafkaConsumerGroup == "" || c.AnnounceTopic == "") {
		return fmt.Errorf("KAFKA_CONSUMER_GROUP and ANNOUNCE_TOPIC are required when KAFKA_BROKERS is set")
	}
	if c.ConnIPRate <= 0 || c.ConnIPBurst < 1 || c.ConnGlobalRate <= 0 || c.ConnGlobalBurst < 1 {
		return fmt.Errorf("CONN_* rate limits must be > 0")
	}

	// Enum checks
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("LOG_LEVEL must be one of: debug, info, warn, error (got: %s)", c.LogLevel)
	}

	validLogFormats := map[string]bool{"json": true, "pretty": true}
	if !validLogFormats[c.LogFormat] {
		return fmt.Errorf("LOG_FORMAT must be one of: json, pretty (got: %s)", c.LogFormat)
	}

	return nil
}

// ServerConfig converts the environment configuration into the runtime settings.
func (c *Config) ServerConfig() types.ServerConfig {
	return types.ServerConfig{
		ListenAddr:          c.ListenAddr,
		HTTPAddr:            c.HTTPAddr,
		MOTD:                c.MOTD,
		MaxPlayers:          c.MaxPlayers,
		TaskQueueSize:       c.TaskQueueSize,
		CompletionQueueSize: c.CompletionQueueSize,
		MaxWorkers:          c.MaxWorkers,
		ShutdownGrace:       c.ShutdownGrace,
		NetworkGrace:        c.NetworkGrace,
		RegistryTTL:         c.RegistryTTL,
		CollectInterval:     c.CollectInterval,
		TranscriptPath:      c.TranscriptPath,
		KeepAliveTicks:      c.KeepAliveTicks,
		ChatRate:            c.ChatRate,
		ChatBurst:           c.ChatBurst,
		ConnIPRate:          c.ConnIPRate,
		ConnIPBurst:         c.ConnIPBurst,
		ConnGlobalRate:      c.ConnGlobalRate,
		ConnGlobalBurst:     c.ConnGlobalBurst,
		NATSURL:             c.NATSURL,
		NATSSubjectPrefix:   c.NATSSubjectPrefix,
		KafkaBrokers:        c.KafkaBrokers,
		KafkaConsumerGroup:  c.KafkaConsumerGroup,
		AnnounceTopic:       c.AnnounceTopic,
		AnnounceRate:        c.AnnounceRate,
		AnnounceBurst:       c.AnnounceBurst,
		MetricsInterval:     c.MetricsInterval,
		LogLevel:            types.LogLevel(c.LogLevel),
		LogFormat:           types.LogFormat(c.LogFormat),
	}
}

// LogConfig logs configuration using structured logging
func (c *Config) LogConfig(logger zerolog.Logger) {
	logger.Info().
		Str("environment", c.Environment).
		Str("listen_addr", c.ListenAddr).
		Str("http_addr", c.HTTPAddr).
		Str("motd", c.MOTD).
		Int("max_players", c.MaxPlayers).
		Str("properties_file", c.PropertiesFile).
		Int("task_queue_size", c.TaskQueueSize).
		Int("completion_queue_size", c.CompletionQueueSize).
		Int("max_workers", c.MaxWorkers).
		Dur("shutdown_grace", c.ShutdownGrace).
		Dur("network_grace", c.NetworkGrace).
		Dur("registry_ttl", c.RegistryTTL).
		Int("keepalive_ticks", c.KeepAliveTicks).
		Float64("chat_rate", c.ChatRate).
		Int("chat_burst", c.ChatBurst).
		Float64("conn_ip_rate", c.ConnIPRate).
		Float64("conn_global_rate", c.ConnGlobalRate).
		Bool("nats_enabled", c.NATSURL != "").
		Strs("kafka_brokers", c.KafkaBrokers).
		Str("announce_topic", c.AnnounceTopic).
		Bool("transcript_enabled", c.TranscriptPath != "").
		Dur("metrics_interval", c.MetricsInterval).
		Str("log_level", c.LogLevel).
		Str("log_format", c.LogFormat).
		Msg("Server configuration loaded")
}
