package webchat

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/adred-codev/blockchat/internal/chat"
	"github.com/adred-codev/blockchat/internal/protocol"
	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type wsClient struct {
	conn net.Conn
	rw   io.ReadWriter
}

func dialChat(t *testing.T, srv *httptest.Server, name string) *wsClient {
	t.Helper()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/chat?name=" + name
	conn, br, _, err := ws.Dial(context.Background(), url)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	var r io.Reader = conn
	if br != nil {
		r = io.MultiReader(br, conn)
	}
	return &wsClient{conn: conn, rw: struct {
		io.Reader
		io.Writer
	}{r, conn}}
}

func (c *wsClient) read(t *testing.T) string {
	t.Helper()
	require.NoError(t, c.conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	msg, err := wsutil.ReadServerText(c.rw)
	require.NoError(t, err)
	return string(msg)
}

func (c *wsClient) say(t *testing.T, text string) {
	t.Helper()
	require.NoError(t, wsutil.WriteClientText(c.conn, []byte(text)))
}

func newTestServer(t *testing.T) (*Handler, *chat.Room, *httptest.Server) {
	t.Helper()

	room := chat.NewRoom(protocol.NewPlayers(), chat.Config{KeepAliveTicks: 1000}, zerolog.Nop())
	h := NewHandler(room, zerolog.Nop())

	mux := http.NewServeMux()
	mux.Handle("/chat", h)
	srv := httptest.NewServer(mux)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = h.Shutdown(ctx)
		srv.Close()
	})
	return h, room, srv
}

func TestWebchat_JoinChatLeave(t *testing.T) {
	h, room, srv := newTestServer(t)

	alice := dialChat(t, srv, "alice")
	assert.Equal(t, "§ealice has joined.", alice.read(t))

	bob := dialChat(t, srv, "bob")
	assert.Equal(t, "§ebob has joined.", bob.read(t))
	assert.Equal(t, "§ebob has joined.", alice.read(t))
	assert.Equal(t, 2, room.Players().Len())

	bob.say(t, "  hello there ")
	assert.Equal(t, "<bob> hello there", alice.read(t))
	assert.Equal(t, "<bob> hello there", bob.read(t))

	require.NoError(t, bob.conn.Close())
	assert.Equal(t, "§ebob has left.", alice.read(t))
	require.Eventually(t, func() bool { return h.Clients() == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, room.Players().Len())
}

func TestWebchat_RejectsMissingName(t *testing.T) {
	_, _, srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/chat")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp2, err := http.Get(srv.URL + "/chat?name=" + strings.Repeat("x", 17))
	require.NoError(t, err)
	defer resp2.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp2.StatusCode)
}

func TestWebchat_ShutdownClosesClients(t *testing.T) {
	h, room, srv := newTestServer(t)

	c := dialChat(t, srv, "carol")
	c.read(t)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, h.Shutdown(ctx))

	assert.Zero(t, h.Clients())
	assert.Zero(t, room.Players().Len())

	resp, err := http.Get(srv.URL + "/chat?name=late")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestClient_SendPacket(t *testing.T) {
	server, peer := net.Pipe()
	defer peer.Close()
	c := newClient(server, "dave")
	t.Cleanup(c.ticker.Stop)

	// Non-chat packets have no browser rendering.
	require.NoError(t, c.SendPacket(protocol.PacketKeepAlive, protocol.PackU64(0)))
	assert.Zero(t, len(c.send))

	require.NoError(t, c.SendPacket(protocol.PacketChatMessage, protocol.PackChat("hi"), protocol.PackU8(0)))
	assert.Equal(t, []byte("hi"), <-c.send)

	for i := 0; i < sendBufferSize; i++ {
		require.NoError(t, c.SendPacket(protocol.PacketChatMessage, protocol.PackChat("x"), protocol.PackU8(0)))
	}
	assert.ErrorIs(t, c.SendPacket(protocol.PacketChatMessage, protocol.PackChat("x"), protocol.PackU8(0)), ErrSendBufferFull)
	assert.Equal(t, protocol.SupportedVersion, int(c.ProtocolVersion()))
}

type denyAll struct{}

func (denyAll) Allow(string) bool { return false }

func TestWebchat_AdmissionRejects(t *testing.T) {
	h, _, srv := newTestServer(t)
	h.SetAdmission(denyAll{})

	resp, err := http.Get(srv.URL + "/chat?name=eve")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Zero(t, h.Clients())
}
