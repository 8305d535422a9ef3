package protocol

import (
	"github.com/adred-codev/blockchat/internal/shared/monitoring"
	"github.com/rs/zerolog"
)

// Handler receives play-state events for every connection. Calls for one
// peer are serialized; calls for different peers run concurrently.
type Handler interface {
	PlayerJoined(p Peer)
	PlayerLeft(p Peer)
	// Packet is called for every recognised serverbound packet other than
	// keep-alive responses. buf is positioned at the start of the body.
	Packet(p Peer, name string, buf *Buffer) error
}

// Base holds the default join and leave bookkeeping. Handlers embed or wrap
// it and call it before their own logic.
type Base struct {
	players *Players
	logger  zerolog.Logger
}

// NewBase creates the default handler over players.
func NewBase(players *Players, logger zerolog.Logger) *Base {
	return &Base{players: players, logger: logger}
}

// Players returns the live player set.
func (b *Base) Players() *Players { return b.players }

// PlayerJoined marks p as in game.
func (b *Base) PlayerJoined(p Peer) {
	b.players.Add(p)
	monitoring.SetPlayersOnline(b.players.Len())
	b.logger.Info().
		Str("player", p.DisplayName()).
		Str("remote_addr", p.RemoteAddr()).
		Int32("protocol", p.ProtocolVersion()).
		Msg("Player joined the game")
}

// PlayerLeft removes p from the player set.
func (b *Base) PlayerLeft(p Peer) {
	b.players.Remove(p)
	monitoring.SetPlayersOnline(b.players.Len())
	b.logger.Info().
		Str("player", p.DisplayName()).
		Msg("Player left the game")
}

// Packet ignores everything.
func (b *Base) Packet(Peer, string, *Buffer) error { return nil }
