package webchat

import (
	"bytes"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/adred-codev/blockchat/internal/protocol"
	"github.com/adred-codev/blockchat/internal/shared/monitoring"
	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

// ErrSendBufferFull is returned by SendPacket when the client is too slow.
var ErrSendBufferFull = errors.New("webchat: send buffer full")

// Client is one browser socket.
type Client struct {
	conn   net.Conn
	name   string
	send   chan []byte
	done   chan struct{}
	ticker *protocol.Ticker

	writeMu   sync.Mutex
	closeOnce sync.Once
}

func newClient(conn net.Conn, name string) *Client {
	return &Client{
		conn:   conn,
		name:   name,
		send:   make(chan []byte, sendBufferSize),
		done:   make(chan struct{}),
		ticker: protocol.NewTicker(),
	}
}

// DisplayName returns the name given in the query string.
func (c *Client) DisplayName() string { return c.name }

// ProtocolVersion reports the newest supported version so handlers pick the
// current packet encodings.
func (c *Client) ProtocolVersion() int32 { return protocol.SupportedVersion }

// Ticker returns the per-connection ticker.
func (c *Client) Ticker() *protocol.Ticker { return c.ticker }

// RemoteAddr returns the socket's remote address.
func (c *Client) RemoteAddr() string { return c.conn.RemoteAddr().String() }

// SendPacket renders chat_message packets as text frames. Every other packet
// has no browser equivalent and is ignored.
func (c *Client) SendPacket(name string, data ...[]byte) error {
	if name != protocol.PacketChatMessage {
		return nil
	}
	text, err := protocol.NewBuffer(bytes.Join(data, nil)).UnpackChat()
	if err != nil {
		return err
	}

	select {
	case <-c.done:
		return net.ErrClosed
	default:
	}

	select {
	case c.send <- []byte(text):
		return nil
	default:
		monitoring.RecordWebchatDropped()
		return ErrSendBufferFull
	}
}

// write sends one frame. Pumps and control replies share it.
func (c *Client) write(op ws.OpCode, payload []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return wsutil.WriteServerMessage(c.conn, op, payload)
}

// Write implements io.Writer for the control frame handler.
func (c *Client) Write(p []byte) (int, error) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.Write(p)
}

// Close sends a close frame and closes the socket. Safe to call repeatedly.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.write(ws.OpClose, ws.NewCloseFrameBody(ws.StatusGoingAway, ""))
		err = c.conn.Close()
	})
	return err
}
