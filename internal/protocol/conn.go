package protocol

import (
	"bufio"
	"bytes"
	"crypto/md5"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// MaxFrameSize is the largest accepted frame (VarInt length limit of 3 bytes).
const MaxFrameSize = 2 << 20

// Conn is one client connection. It implements Peer once in play state.
type Conn struct {
	conn   net.Conn
	reader *bufio.Reader

	writeMu      sync.Mutex
	writeTimeout time.Duration
	closeOnce    sync.Once

	state   atomic.Int32
	version int32
	name    string
	id      uuid.UUID
	ticker  *Ticker
}

func newConn(nc net.Conn, writeTimeout time.Duration) *Conn {
	return &Conn{
		conn:         nc,
		reader:       bufio.NewReader(nc),
		writeTimeout: writeTimeout,
		ticker:       NewTicker(),
	}
}

// State returns the current protocol state.
func (c *Conn) State() State { return State(c.state.Load()) }

func (c *Conn) setState(s State) { c.state.Store(int32(s)) }

// DisplayName returns the login name.
func (c *Conn) DisplayName() string { return c.name }

// ProtocolVersion returns the version announced in the handshake.
func (c *Conn) ProtocolVersion() int32 { return c.version }

// UUID returns the offline-mode player id.
func (c *Conn) UUID() uuid.UUID { return c.id }

// Ticker returns the per-connection ticker.
func (c *Conn) Ticker() *Ticker { return c.ticker }

// RemoteAddr returns the peer address.
func (c *Conn) RemoteAddr() string { return c.conn.RemoteAddr().String() }

// Close closes the socket. It is safe to call more than once.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		err = c.conn.Close()
	})
	return err
}

// SendPacket writes a named play packet.
func (c *Conn) SendPacket(name string, data ...[]byte) error {
	if st := c.State(); st != StatePlay {
		return fmt.Errorf("send %s: connection in %s state", name, st)
	}
	id, ok := ClientboundID(c.version, name)
	if !ok {
		return fmt.Errorf("send %s: no packet id for protocol %d", name, c.version)
	}
	return c.writePacket(id, data...)
}

func (c *Conn) writePacket(id int32, data ...[]byte) error {
	var body bytes.Buffer
	body.Write(PackVarInt(id))
	for _, d := range data {
		body.Write(d)
	}

	frame := PackVarInt(int32(body.Len()))
	frame = append(frame, body.Bytes()...)

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.writeTimeout > 0 {
		_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
	_, err := c.conn.Write(frame)
	return err
}

// readPacket reads one frame and returns its id and body.
func (c *Conn) readPacket() (int32, *Buffer, error) {
	length, err := c.readVarInt()
	if err != nil {
		return 0, nil, err
	}
	if length < 1 || length > MaxFrameSize {
		return 0, nil, protoErr("frame length %d out of range", length)
	}

	frame := make([]byte, length)
	if _, err := io.ReadFull(c.reader, frame); err != nil {
		return 0, nil, err
	}

	buf := NewBuffer(frame)
	id, err := buf.UnpackVarInt()
	if err != nil {
		return 0, nil, err
	}
	return id, buf, nil
}

func (c *Conn) readVarInt() (int32, error) {
	var v uint32
	for i := 0; i < 5; i++ {
		b, err := c.reader.ReadByte()
		if err != nil {
			if i > 0 && errors.Is(err, io.EOF) {
				return 0, io.ErrUnexpectedEOF
			}
			return 0, err
		}
		v |= uint32(b&0x7f) << (7 * i)
		if b&0x80 == 0 {
			return int32(v), nil
		}
	}
	return 0, protoErr("frame length varint too long")
}

// OfflineUUID derives the offline-mode player id for name: an MD5 based
// version 3 UUID of "OfflinePlayer:<name>".
func OfflineUUID(name string) uuid.UUID {
	sum := md5.Sum([]byte("OfflinePlayer:" + name))
	sum[6] = sum[6]&0x0f | 0x30
	sum[8] = sum[8]&0x3f | 0x80
	id, _ := uuid.FromBytes(sum[:])
	return id
}
