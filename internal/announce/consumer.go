// Package announce relays operator announcements from Kafka into the chat
// room.
//
// Each record value is either a JSON object {"text": "...", "from": "..."} or
// plain text. Announcements are broadcast as "§d[<from>] <text>", with
// "Server" as the default sender.
package announce

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/adred-codev/blockchat/internal/shared/monitoring"
	"github.com/rs/zerolog"
	"github.com/twmb/franz-go/pkg/kgo"
	"golang.org/x/time/rate"
)

// Record outcomes.
const (
	OutcomeBroadcast   = "broadcast"
	OutcomeEmpty       = "empty"
	OutcomeRateLimited = "rate_limited"
	OutcomeFailed      = "failed"
)

const maxAnnouncementLen = 256

// Broadcaster delivers a line to every player. *chat.Room satisfies it.
type Broadcaster interface {
	Broadcast(msg string) error
}

// ConsumerConfig holds consumer configuration.
type ConsumerConfig struct {
	Brokers       []string
	ConsumerGroup string
	Topics        []string
	Broadcaster   Broadcaster

	Rate  float64 // Announcements per second (default: 1)
	Burst int     // default: 5
}

// Consumer polls the announcement topics and broadcasts every record.
type Consumer struct {
	client  *kgo.Client
	room    Broadcaster
	limiter *rate.Limiter
	topics  []string
	logger  zerolog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup

	processed atomic.Uint64
	dropped   atomic.Uint64
}

// NewConsumer creates a consumer. The Kafka client connects lazily, so an
// unreachable broker surfaces as fetch errors once Start runs.
func NewConsumer(cfg ConsumerConfig, logger zerolog.Logger) (*Consumer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("at least one broker is required")
	}
	if cfg.ConsumerGroup == "" {
		return nil, fmt.Errorf("consumer group is required")
	}
	if len(cfg.Topics) == 0 {
		return nil, fmt.Errorf("at least one topic is required")
	}
	if cfg.Broadcaster == nil {
		return nil, fmt.Errorf("broadcaster is required")
	}
	if cfg.Rate <= 0 {
		cfg.Rate = 1
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 5
	}

	log := logger.With().Str("component", "announce").Logger()

	client, err := kgo.NewClient(
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.ConsumerGroup(cfg.ConsumerGroup),
		kgo.ConsumeTopics(cfg.Topics...),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtEnd()), // Only new announcements
		kgo.FetchMaxWait(500*time.Millisecond),
		kgo.SessionTimeout(30*time.Second),
		kgo.OnPartitionsAssigned(func(_ context.Context, _ *kgo.Client, assigned map[string][]int32) {
			log.Info().Interface("partitions", assigned).Msg("Partitions assigned")
		}),
		kgo.OnPartitionsRevoked(func(_ context.Context, _ *kgo.Client, revoked map[string][]int32) {
			log.Info().Interface("partitions", revoked).Msg("Partitions revoked")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka client: %w", err)
	}

	return &Consumer{
		client:  client,
		room:    cfg.Broadcaster,
		limiter: rate.NewLimiter(rate.Limit(cfg.Rate), cfg.Burst),
		topics:  cfg.Topics,
		logger:  log,
	}, nil
}

// Start begins consuming until Stop is called or ctx is cancelled.
func (c *Consumer) Start(ctx context.Context) {
	ctx, c.cancel = context.WithCancel(ctx)

	c.logger.Info().Strs("topics", c.topics).Msg("Starting announcement consumer")

	c.wg.Add(1)
	go c.consumeLoop(ctx)
}

// Stop ends the consume loop and closes the Kafka client.
func (c *Consumer) Stop() {
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()
	c.client.Close()

	c.logger.Info().
		Uint64("processed", c.processed.Load()).
		Uint64("dropped", c.dropped.Load()).
		Msg("Announcement consumer stopped")
}

func (c *Consumer) consumeLoop(ctx context.Context) {
	defer c.wg.Done()
	defer monitoring.RecoverPanic(c.logger, "announceConsumeLoop", map[string]any{
		"topics": c.topics,
	})

	for {
		fetches := c.client.PollFetches(ctx)
		if ctx.Err() != nil || fetches.IsClientClosed() {
			return
		}

		fetches.EachError(func(topic string, partition int32, err error) {
			c.logger.Error().
				Err(err).
				Str("topic", topic).
				Int32("partition", partition).
				Msg("Fetch error")
		})

		fetches.EachRecord(c.handleRecord)
	}
}

func (c *Consumer) handleRecord(record *kgo.Record) {
	line, ok := FormatAnnouncement(record.Value)
	if !ok {
		monitoring.RecordAnnouncement(OutcomeEmpty)
		return
	}

	if !c.limiter.Allow() {
		dropped := c.dropped.Add(1)
		monitoring.RecordAnnouncement(OutcomeRateLimited)
		if dropped%100 == 1 {
			c.logger.Warn().
				Uint64("dropped_count", dropped).
				Str("topic", record.Topic).
				Msg("Announcement rate limit exceeded, dropping")
		}
		return
	}

	if err := c.room.Broadcast(line); err != nil {
		// Delivery to the other players still happened.
		c.logger.Warn().Err(err).Msg("Announcement not delivered to every player")
		monitoring.RecordAnnouncement(OutcomeFailed)
	} else {
		monitoring.RecordAnnouncement(OutcomeBroadcast)
	}
	c.processed.Add(1)
}

type announcement struct {
	Text string `json:"text"`
	From string `json:"from"`
}

// FormatAnnouncement renders a record value as a chat line. It reports false
// for values with no text.
func FormatAnnouncement(value []byte) (string, bool) {
	var a announcement
	if err := json.Unmarshal(value, &a); err != nil {
		a = announcement{Text: string(value)}
	}

	text := strings.TrimSpace(a.Text)
	if text == "" {
		return "", false
	}
	if r := []rune(text); len(r) > maxAnnouncementLen {
		text = string(r[:maxAnnouncementLen])
	}

	from := strings.TrimSpace(a.From)
	if from == "" {
		from = "Server"
	}
	return "§d[" + from + "] " + text, true
}

// Processed returns the number of announcements broadcast.
func (c *Consumer) Processed() uint64 { return c.processed.Load() }

// Dropped returns the number of announcements dropped by the rate limit.
func (c *Consumer) Dropped() uint64 { return c.dropped.Load() }
