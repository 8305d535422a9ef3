// Package webchat lets browsers join the chat room over WebSocket. Each
// socket becomes a protocol.Peer: it receives every chat broadcast as a text
// frame and its own text frames are relayed as chat.
package webchat

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/adred-codev/blockchat/internal/protocol"
	"github.com/gobwas/ws"
	"github.com/rs/zerolog"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 5 * time.Second

	// Time allowed to read the next frame from the peer.
	pongWait = 30 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Outgoing messages buffered per client before drops start.
	sendBufferSize = 256

	// Longest accepted chat message, in bytes.
	maxMessageSize = 1024

	maxNameLen = 16
)

// Room is the chat the sockets join. *chat.Room satisfies it.
type Room interface {
	PlayerJoined(p protocol.Peer)
	PlayerLeft(p protocol.Peer)
	Say(p protocol.Peer, text string)
}

// Handler upgrades /chat requests and runs one read and one write pump per
// socket.
type Handler struct {
	room      Room
	logger    zerolog.Logger
	admission protocol.Admission

	mu           sync.Mutex
	clients      map[*Client]struct{}
	wg           sync.WaitGroup
	shuttingDown atomic.Bool
}

// NewHandler creates a handler joining sockets to room.
func NewHandler(room Room, logger zerolog.Logger) *Handler {
	return &Handler{
		room:    room,
		logger:  logger.With().Str("component", "webchat").Logger(),
		clients: make(map[*Client]struct{}),
	}
}

// SetAdmission installs a connection rate limit. Call before serving.
func (h *Handler) SetAdmission(a protocol.Admission) {
	h.admission = a
}

// ServeHTTP handles GET /chat?name=<display name>.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("name")
	if name == "" || utf8.RuneCountInString(name) > maxNameLen {
		http.Error(w, fmt.Sprintf("name must be 1-%d characters", maxNameLen), http.StatusBadRequest)
		return
	}

	if h.shuttingDown.Load() {
		http.Error(w, "Server is shutting down", http.StatusServiceUnavailable)
		return
	}

	if h.admission != nil {
		ip, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			ip = r.RemoteAddr
		}
		if !h.admission.Allow(ip) {
			http.Error(w, "Rate limit exceeded", http.StatusTooManyRequests)
			return
		}
	}

	conn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		h.logger.Warn().
			Err(err).
			Str("remote_addr", r.RemoteAddr).
			Msg("WebSocket upgrade failed")
		return
	}

	c := newClient(conn, name)
	h.mu.Lock()
	if h.shuttingDown.Load() {
		h.mu.Unlock()
		c.Close()
		return
	}
	h.clients[c] = struct{}{}
	h.wg.Add(2)
	h.mu.Unlock()

	h.logger.Info().
		Str("player", name).
		Str("remote_addr", r.RemoteAddr).
		Msg("Web client connected")

	go h.writePump(c)
	go h.readPump(c)
}

func (h *Handler) remove(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, c)
}

// Clients returns the number of connected sockets.
func (h *Handler) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Shutdown rejects new sockets, closes the open ones and waits for their
// pumps to exit or ctx to end.
func (h *Handler) Shutdown(ctx context.Context) error {
	h.mu.Lock()
	h.shuttingDown.Store(true)
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		c.Close()
	}

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("webchat shutdown: %w", ctx.Err())
	}
}
