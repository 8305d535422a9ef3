package protocol

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/adred-codev/blockchat/internal/shared/monitoring"
	"github.com/rs/zerolog"
)

const (
	// Time allowed to write one frame to a client.
	writeWait = 5 * time.Second

	// Time allowed between two frames from a client. Clients answer the
	// server keep-alive every second, so silence this long means a dead peer.
	readWait = 30 * time.Second

	maxNameLen = 16
)

// Admission decides whether a new connection from ip is accepted.
type Admission interface {
	Allow(ip string) bool
}

// ServerConfig configures a Server.
type ServerConfig struct {
	MOTD         string
	MaxPlayers   int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	Admission    Admission // Optional connection rate limit
}

// Server accepts client connections and drives each through handshake,
// status or login, and play.
type Server struct {
	cfg     ServerConfig
	handler Handler
	players *Players
	logger  zerolog.Logger

	mu       sync.Mutex
	listener net.Listener
	conns    map[*Conn]struct{}

	wg           sync.WaitGroup
	shuttingDown atomic.Bool
}

// NewServer creates a server. players is the set the handler maintains and
// is only read here, for status responses and the player cap.
func NewServer(cfg ServerConfig, handler Handler, players *Players, logger zerolog.Logger) *Server {
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = readWait
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = writeWait
	}
	return &Server{
		cfg:     cfg,
		handler: handler,
		players: players,
		logger:  logger.With().Str("component", "protocol_server").Logger(),
		conns:   make(map[*Conn]struct{}),
	}
}

// Serve accepts connections on ln until ctx is cancelled or Shutdown is
// called. It returns nil on a requested stop and the accept error otherwise.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.mu.Lock()
	if s.shuttingDown.Load() {
		s.mu.Unlock()
		ln.Close()
		return nil
	}
	s.listener = ln
	s.mu.Unlock()

	stop := context.AfterFunc(ctx, func() { ln.Close() })
	defer stop()

	s.logger.Info().Str("addr", ln.Addr().String()).Msg("Listening for players")

	for {
		nc, err := ln.Accept()
		if err != nil {
			if s.shuttingDown.Load() || ctx.Err() != nil {
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				time.Sleep(5 * time.Millisecond)
				continue
			}
			return fmt.Errorf("accept: %w", err)
		}

		if s.cfg.Admission != nil && !s.cfg.Admission.Allow(RemoteIP(nc.RemoteAddr())) {
			nc.Close()
			continue
		}

		c := newConn(nc, s.cfg.WriteTimeout)
		if !s.track(c) {
			nc.Close()
			continue
		}
		go s.handleConn(c)
	}
}

// RemoteIP returns the host part of addr.
func RemoteIP(addr net.Addr) string {
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String()
	}
	return host
}

// track registers c and adds it to the wait group under s.mu, so Shutdown
// either sees the connection or track sees shuttingDown.
func (s *Server) track(c *Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.shuttingDown.Load() {
		return false
	}
	s.conns[c] = struct{}{}
	s.wg.Add(1)
	return true
}

func (s *Server) untrack(c *Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conns, c)
}

func (s *Server) handleConn(c *Conn) {
	defer s.wg.Done()
	defer s.untrack(c)
	defer c.Close()
	defer c.ticker.Stop()
	defer monitoring.RecoverPanic(s.logger, "protocol_conn", map[string]any{
		"remote_addr": c.RemoteAddr(),
	})

	if err := s.serve(c); err != nil {
		s.logConnError(c, err)
	}
}

func (s *Server) serve(c *Conn) error {
	next, err := s.handshake(c)
	if err != nil {
		return err
	}

	switch next {
	case StateStatus:
		c.setState(StateStatus)
		return s.serveStatus(c)
	case StateLogin:
		c.setState(StateLogin)
		ok, err := s.login(c)
		if err != nil || !ok {
			return err
		}
		c.setState(StatePlay)
		return s.play(c)
	default:
		return protoErr("handshake requested unknown state %d", next)
	}
}

func (s *Server) read(c *Conn) (int32, *Buffer, error) {
	_ = c.conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
	return c.readPacket()
}

func (s *Server) handshake(c *Conn) (State, error) {
	id, buf, err := s.read(c)
	if err != nil {
		return 0, err
	}
	if id != idHandshake {
		return 0, protoErr("expected handshake, got packet 0x%02x", id)
	}

	version, err := buf.UnpackVarInt()
	if err != nil {
		return 0, err
	}
	if _, err := buf.UnpackString(); err != nil { // server address
		return 0, err
	}
	if _, err := buf.UnpackU16(); err != nil { // server port
		return 0, err
	}
	next, err := buf.UnpackVarInt()
	if err != nil {
		return 0, err
	}

	c.version = version
	return State(next), nil
}

type statusResponse struct {
	Version struct {
		Name     string `json:"name"`
		Protocol int32  `json:"protocol"`
	} `json:"version"`
	Players struct {
		Max    int `json:"max"`
		Online int `json:"online"`
	} `json:"players"`
	Description struct {
		Text string `json:"text"`
	} `json:"description"`
}

// serveStatus answers a server-list ping: one status request and one ping.
func (s *Server) serveStatus(c *Conn) error {
	for {
		id, buf, err := s.read(c)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}

		switch id {
		case idStatusRequest:
			var resp statusResponse
			resp.Version.Name = "blockchat"
			resp.Version.Protocol = c.version
			resp.Players.Max = s.cfg.MaxPlayers
			resp.Players.Online = s.players.Len()
			resp.Description.Text = s.cfg.MOTD

			body, err := PackJSON(resp)
			if err != nil {
				return err
			}
			if err := c.writePacket(idStatusResponse, body); err != nil {
				return err
			}
		case idPing:
			payload, err := buf.UnpackI64()
			if err != nil {
				return err
			}
			return c.writePacket(idPong, PackI64(payload))
		default:
			return protoErr("unexpected status packet 0x%02x", id)
		}
	}
}

// login runs offline-mode login. It reports false when the client was
// turned away with a disconnect message.
func (s *Server) login(c *Conn) (bool, error) {
	id, buf, err := s.read(c)
	if err != nil {
		return false, err
	}
	if id != idLoginStart {
		return false, protoErr("expected login start, got packet 0x%02x", id)
	}
	name, err := buf.UnpackString()
	if err != nil {
		return false, err
	}

	switch {
	case !PlaySupported(c.version):
		return false, c.writePacket(idLoginDisconnect, PackChat("Unsupported protocol version"))
	case name == "" || len(name) > maxNameLen:
		return false, c.writePacket(idLoginDisconnect, PackChat("Invalid username"))
	case s.shuttingDown.Load():
		return false, c.writePacket(idLoginDisconnect, PackChat("Server is shutting down"))
	case s.cfg.MaxPlayers > 0 && s.players.Len() >= s.cfg.MaxPlayers:
		return false, c.writePacket(idLoginDisconnect, PackChat("Server is full"))
	}

	c.name = name
	c.id = OfflineUUID(name)
	if err := c.writePacket(idLoginSuccess, PackString(c.id.String()), PackString(name)); err != nil {
		return false, err
	}
	return true, nil
}

// play hands packets to the handler until the connection ends.
func (s *Server) play(c *Conn) error {
	s.handler.PlayerJoined(c)
	defer s.handler.PlayerLeft(c)

	for {
		id, buf, err := s.read(c)
		if err != nil {
			return err
		}
		name, ok := ServerboundName(c.version, id)
		if !ok || name == PacketKeepAlive {
			continue
		}
		if err := s.handler.Packet(c, name, buf); err != nil {
			return fmt.Errorf("handle %s: %w", name, err)
		}
	}
}

func (s *Server) logConnError(c *Conn, err error) {
	if isDisconnect(err) || s.shuttingDown.Load() {
		s.logger.Debug().
			Err(err).
			Str("remote_addr", c.RemoteAddr()).
			Str("state", c.State().String()).
			Msg("Connection closed")
		return
	}

	monitoring.RecordProtocolError(c.State().String())
	s.logger.Warn().
		Err(err).
		Str("remote_addr", c.RemoteAddr()).
		Str("player", c.DisplayName()).
		Str("state", c.State().String()).
		Msg("Connection dropped")
}

func isDisconnect(err error) bool {
	return errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE)
}

// Online returns the number of open connections, in any state.
func (s *Server) Online() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// Shutdown stops accepting, tells players the server is closing and waits
// for every connection goroutine to finish. When ctx ends first the
// remaining sockets are closed and ctx's error is returned.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.shuttingDown.Store(true)
	if s.listener != nil {
		s.listener.Close()
	}
	conns := make([]*Conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	s.logger.Info().Int("active_connections", len(conns)).Msg("Stopping protocol server")

	for _, c := range conns {
		if c.State() == StatePlay {
			_ = c.SendPacket(PacketDisconnect, PackChat("Server closed"))
		}
		if tc, ok := c.conn.(*net.TCPConn); ok {
			_ = tc.CloseRead()
		} else {
			_ = c.Close()
		}
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info().Msg("All connections closed gracefully")
		return nil
	case <-ctx.Done():
		s.mu.Lock()
		remaining := len(s.conns)
		for c := range s.conns {
			_ = c.Close()
		}
		s.mu.Unlock()
		s.logger.Warn().
			Int("remaining_connections", remaining).
			Msg("Grace period expired, force closing remaining connections")
		return fmt.Errorf("protocol server shutdown: %w", ctx.Err())
	}
}
