package protocol

import (
	"slices"
	"sync"
)

// Peer is one connected player as seen by handlers.
type Peer interface {
	DisplayName() string
	ProtocolVersion() int32
	// SendPacket writes a play-state packet by name. The data parts are
	// concatenated to form the body.
	SendPacket(name string, data ...[]byte) error
	Ticker() *Ticker
	RemoteAddr() string
	Close() error
}

// Players is the live player set, in join order.
type Players struct {
	mu    sync.RWMutex
	peers []Peer
}

// NewPlayers creates an empty set.
func NewPlayers() *Players {
	return &Players{}
}

// Add inserts p. Adding a peer twice is a no-op.
func (ps *Players) Add(p Peer) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	if slices.Contains(ps.peers, p) {
		return
	}
	ps.peers = append(ps.peers, p)
}

// Remove deletes p if present.
func (ps *Players) Remove(p Peer) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	if i := slices.Index(ps.peers, p); i >= 0 {
		ps.peers = slices.Delete(ps.peers, i, i+1)
	}
}

// Snapshot returns a copy of the current set.
func (ps *Players) Snapshot() []Peer {
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	return slices.Clone(ps.peers)
}

// Len returns the number of players.
func (ps *Players) Len() int {
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	return len(ps.peers)
}
