package dispatch

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// BridgeConfig configures the NATS bridge.
type BridgeConfig struct {
	URL           string
	SubjectPrefix string
	MaxReconnects int
	ReconnectWait time.Duration
	DrainTimeout  time.Duration
}

// SubmitRequest is the payload accepted on the submit subject.
type SubmitRequest struct {
	Kind   Kind           `json:"kind"`
	Args   []any          `json:"args,omitempty"`
	Kwargs map[string]any `json:"kwargs,omitempty"`
}

// SubmitReply answers a SubmitRequest. Exactly one of ID or Error is set.
type SubmitReply struct {
	ID    int64  `json:"id,omitempty"`
	Error string `json:"error,omitempty"`
	Code  string `json:"code,omitempty"`
}

// Reply codes.
const (
	CodeQueueFull   = "queue_full"
	CodeUnknownKind = "unknown_kind"
	CodeBadRequest  = "bad_request"
)

// SubmitSubject is the request/reply subject other processes submit on.
func SubmitSubject(prefix string) string {
	return prefix + ".tasks.submit"
}

// CompletedSubject is where results of the given kind are published.
func CompletedSubject(prefix string, kind Kind) string {
	return fmt.Sprintf("%s.tasks.completed.%s", prefix, kind)
}

// Bridge exposes a Dispatcher over NATS. Remote processes submit through it
// so the dispatcher's registry stays the only one. It also implements
// ResultSink and publishes collected results.
type Bridge struct {
	conn       *nats.Conn
	sub        *nats.Subscription
	dispatcher *Dispatcher
	prefix     string
	drainWait  time.Duration
	closed     chan struct{}
	logger     zerolog.Logger
}

// NewBridge connects to NATS and starts serving submissions for d.
func NewBridge(cfg BridgeConfig, d *Dispatcher, logger zerolog.Logger) (*Bridge, error) {
	if cfg.SubjectPrefix == "" {
		cfg.SubjectPrefix = "blockchat"
	}
	if cfg.MaxReconnects == 0 {
		cfg.MaxReconnects = 10
	}
	if cfg.ReconnectWait <= 0 {
		cfg.ReconnectWait = 2 * time.Second
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = 5 * time.Second
	}

	b := &Bridge{
		dispatcher: d,
		prefix:     cfg.SubjectPrefix,
		drainWait:  cfg.DrainTimeout,
		closed:     make(chan struct{}),
		logger:     logger.With().Str("component", "nats_bridge").Logger(),
	}

	opts := []nats.Option{
		nats.Name("blockchat-dispatch"),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DrainTimeout(cfg.DrainTimeout),
		nats.DisconnectErrHandler(b.disconnectHandler),
		nats.ReconnectHandler(b.reconnectHandler),
		nats.ErrorHandler(b.errorHandler),
		nats.ClosedHandler(func(*nats.Conn) { close(b.closed) }),
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	b.conn = conn

	subject := SubmitSubject(b.prefix)
	sub, err := conn.Subscribe(subject, b.handleSubmit)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", subject, err)
	}
	b.sub = sub

	b.logger.Info().
		Str("url", conn.ConnectedUrl()).
		Str("subject", subject).
		Msg("NATS bridge connected")

	return b, nil
}

func (b *Bridge) disconnectHandler(_ *nats.Conn, err error) {
	if err != nil {
		b.logger.Warn().Err(err).Msg("Disconnected from NATS")
		return
	}
	b.logger.Info().Msg("Disconnected from NATS")
}

func (b *Bridge) reconnectHandler(conn *nats.Conn) {
	b.logger.Info().Str("url", conn.ConnectedUrl()).Msg("Reconnected to NATS")
}

func (b *Bridge) errorHandler(_ *nats.Conn, sub *nats.Subscription, err error) {
	ev := b.logger.Error().Err(err)
	if sub != nil {
		ev = ev.Str("subject", sub.Subject)
	}
	ev.Msg("NATS error")
}

func (b *Bridge) handleSubmit(msg *nats.Msg) {
	var req SubmitRequest
	var reply SubmitReply

	if err := json.Unmarshal(msg.Data, &req); err != nil {
		reply = SubmitReply{Error: fmt.Sprintf("invalid request: %v", err), Code: CodeBadRequest}
	} else {
		id, err := b.dispatcher.Submit(req.Kind, req.Args, req.Kwargs)
		switch {
		case err == nil:
			reply = SubmitReply{ID: id}
		case errors.Is(err, ErrQueueFull):
			reply = SubmitReply{Error: err.Error(), Code: CodeQueueFull}
		case errors.Is(err, ErrUnknownKind):
			reply = SubmitReply{Error: err.Error(), Code: CodeUnknownKind}
		default:
			reply = SubmitReply{Error: err.Error()}
		}
	}

	if msg.Reply == "" {
		return
	}
	data, err := json.Marshal(reply)
	if err != nil {
		b.logger.Error().Err(err).Msg("Failed to marshal submit reply")
		return
	}
	if err := msg.Respond(data); err != nil {
		b.logger.Warn().Err(err).Msg("Failed to respond to submit request")
	}
}

// PublishResult publishes r on its completed subject.
func (b *Bridge) PublishResult(r *Result) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}
	subject := CompletedSubject(b.prefix, r.Kind)
	if err := b.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", subject, err)
	}
	return nil
}

// IsConnected reports whether the NATS connection is up.
func (b *Bridge) IsConnected() bool {
	return b.conn != nil && b.conn.IsConnected()
}

// Close drains the subscription and pending publishes, then closes the
// connection. It waits at most the configured drain timeout.
func (b *Bridge) Close() error {
	if b.conn.IsClosed() {
		return nil
	}
	if err := b.conn.Drain(); err != nil {
		b.conn.Close()
		return fmt.Errorf("failed to drain NATS connection: %w", err)
	}

	timer := time.NewTimer(b.drainWait + time.Second)
	defer timer.Stop()
	select {
	case <-b.closed:
		b.logger.Info().Msg("NATS bridge closed")
		return nil
	case <-timer.C:
		b.conn.Close()
		return errors.New("timed out draining NATS connection")
	}
}
