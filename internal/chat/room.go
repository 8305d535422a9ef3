// Package chat is the chat room players join: it announces joins and
// leaves, relays chat lines to everyone and keeps connections alive.
package chat

import (
	"errors"
	"fmt"

	"github.com/adred-codev/blockchat/internal/dispatch"
	"github.com/adred-codev/blockchat/internal/protocol"
	"github.com/adred-codev/blockchat/internal/shared/monitoring"
	"github.com/rs/zerolog"
)

// Chat message outcomes for metrics.
const (
	outcomeRelayed     = "relayed"
	outcomeRateLimited = "rate_limited"
)

// Submitter queues background work. *dispatch.Dispatcher satisfies it.
type Submitter interface {
	Submit(kind dispatch.Kind, args []any, kwargs map[string]any) (int64, error)
}

// Config configures a Room.
type Config struct {
	KeepAliveTicks int       // Keep-alive period in game ticks (default 20)
	ChatRate       float64   // Messages/sec per player (default 5, negative disables)
	ChatBurst      int       // Burst per player (default 10)
	Transcript     Submitter // Optional, receives every relayed line as a chat.transcript task
}

// Room implements protocol.Handler for a single shared chat.
type Room struct {
	base    *protocol.Base
	players *protocol.Players
	limiter *MessageLimiter
	cfg     Config
	logger  zerolog.Logger
}

// NewRoom creates a room over the given player set.
func NewRoom(players *protocol.Players, cfg Config, logger zerolog.Logger) *Room {
	if cfg.KeepAliveTicks <= 0 {
		cfg.KeepAliveTicks = 20
	}
	logger = logger.With().Str("component", "chat").Logger()
	return &Room{
		base:    protocol.NewBase(players, logger),
		players: players,
		limiter: NewMessageLimiter(cfg.ChatRate, cfg.ChatBurst),
		cfg:     cfg,
		logger:  logger,
	}
}

// Players returns the live player set.
func (r *Room) Players() *protocol.Players { return r.players }

// JoinMessage is the announcement broadcast when name joins.
func JoinMessage(name string) string { return "§e" + name + " has joined." }

// LeaveMessage is the announcement broadcast when name leaves.
func LeaveMessage(name string) string { return "§e" + name + " has left." }

// ChatLine formats a chat message from name.
func ChatLine(name, text string) string { return "<" + name + "> " + text }

// PlayerJoined spawns the player, starts its keep-alive loop and announces
// the join to everyone, the joining player included.
func (r *Room) PlayerJoined(p protocol.Peer) {
	r.base.PlayerJoined(p)

	err := p.SendPacket(protocol.PacketJoinGame,
		protocol.PackI32(0), // entity id
		protocol.PackU8(3),  // game mode: spectator
		protocol.PackI32(0), // dimension: overworld
		protocol.PackI64(0), // hashed seed
		protocol.PackU8(0),  // max players, ignored by clients
		protocol.PackString("flat"),
		protocol.PackVarInt(1),   // view distance
		protocol.PackBool(false), // reduced debug info
		protocol.PackBool(true),  // enable respawn screen
	)
	if err == nil {
		err = p.SendPacket(protocol.PacketPositionAndLook,
			protocol.PackF64(0), protocol.PackF64(255), protocol.PackF64(0),
			protocol.PackF32(0), protocol.PackF32(0),
			protocol.PackU8(0),
			protocol.PackVarInt(0),
		)
	}
	if err != nil {
		r.logger.Warn().Err(err).Str("player", p.DisplayName()).Msg("Failed to spawn player")
	}

	p.Ticker().AddLoop(r.cfg.KeepAliveTicks, func() { r.KeepAlive(p) })

	if err := r.Broadcast(JoinMessage(p.DisplayName())); err != nil {
		r.logger.Debug().Err(err).Msg("Join announcement not delivered to every player")
	}
}

// PlayerLeft removes the player and announces it to the rest.
func (r *Room) PlayerLeft(p protocol.Peer) {
	r.base.PlayerLeft(p)
	r.limiter.Forget(p)

	if err := r.Broadcast(LeaveMessage(p.DisplayName())); err != nil {
		r.logger.Debug().Err(err).Msg("Leave announcement not delivered to every player")
	}
}

// Packet relays chat messages. Other packets are ignored.
func (r *Room) Packet(p protocol.Peer, name string, buf *protocol.Buffer) error {
	if name != protocol.PacketChatMessage {
		return nil
	}
	text, err := buf.UnpackString()
	if err != nil {
		return err
	}
	r.Say(p, text)
	return nil
}

// Say broadcasts text as a chat line from p, subject to p's rate limit.
func (r *Room) Say(p protocol.Peer, text string) {
	if !r.limiter.Allow(p) {
		monitoring.RecordChatMessage(outcomeRateLimited)
		r.logger.Warn().Str("player", p.DisplayName()).Msg("Chat rate limit exceeded, message dropped")
		return
	}

	line := ChatLine(p.DisplayName(), text)
	monitoring.RecordChatMessage(outcomeRelayed)
	if err := r.Broadcast(line); err != nil {
		r.logger.Debug().Err(err).Msg("Chat line not delivered to every player")
	}

	if r.cfg.Transcript == nil {
		return
	}
	if _, err := r.cfg.Transcript.Submit(dispatch.KindTranscript, []any{line}, nil); err != nil {
		r.logger.Warn().Err(err).Msg("Transcript task not queued")
	}
}

// KeepAlivePayload encodes the keep-alive id for a protocol version:
// a VarInt up to and including version 338, a 64-bit integer after.
func KeepAlivePayload(version int32) []byte {
	if version <= protocol.KeepAliveVarIntMax {
		return protocol.PackVarInt(0)
	}
	return protocol.PackU64(0)
}

// KeepAlive sends one keep-alive packet to p.
func (r *Room) KeepAlive(p protocol.Peer) {
	if err := p.SendPacket(protocol.PacketKeepAlive, KeepAlivePayload(p.ProtocolVersion())); err != nil {
		r.logger.Debug().Err(err).Str("player", p.DisplayName()).Msg("Keep-alive failed")
		return
	}
	monitoring.RecordKeepAlive()
}

// Broadcast sends msg to every player. A failed send is logged and counted
// and does not stop delivery to the others; all failures are returned joined.
func (r *Room) Broadcast(msg string) error {
	chat := protocol.PackChat(msg)
	position := protocol.PackU8(0) // chat box

	var errs []error
	for _, p := range r.players.Snapshot() {
		if err := p.SendPacket(protocol.PacketChatMessage, chat, position); err != nil {
			monitoring.RecordBroadcastFailure()
			r.logger.Warn().
				Err(err).
				Str("player", p.DisplayName()).
				Msg("Broadcast send failed")
			errs = append(errs, fmt.Errorf("send to %s: %w", p.DisplayName(), err))
		}
	}
	return errors.Join(errs...)
}
