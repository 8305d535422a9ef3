// Package protocol is a minimal offline-mode Minecraft server connection
// layer: packet codec, framing, handshake/status/login states and a play
// state that hands packets to a Handler.
package protocol

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
)

// ErrProtocol wraps every malformed-input error raised while decoding.
var ErrProtocol = errors.New("protocol error")

// maxStringLen is the protocol's limit for String fields, in bytes.
const maxStringLen = 32767 * 4

func protoErr(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrProtocol, fmt.Sprintf(format, args...))
}

// PackVarInt encodes v as a protocol VarInt.
func PackVarInt(v int32) []byte {
	return binary.AppendUvarint(nil, uint64(uint32(v)))
}

// PackString encodes s as a VarInt length followed by UTF-8 bytes.
func PackString(s string) []byte {
	out := PackVarInt(int32(len(s)))
	return append(out, s...)
}

// PackChat encodes text as a JSON chat component string.
func PackChat(text string) []byte {
	data, _ := json.Marshal(struct {
		Text string `json:"text"`
	}{Text: text})
	return PackString(string(data))
}

// PackJSON encodes v as a JSON string field.
func PackJSON(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return PackString(string(data)), nil
}

func PackBool(v bool) []byte {
	if v {
		return []byte{1}
	}
	return []byte{0}
}

func PackU8(v uint8) []byte { return []byte{v} }
func PackU16(v uint16) []byte { return binary.BigEndian.AppendUint16(nil, v) }
func PackI32(v int32) []byte { return binary.BigEndian.AppendUint32(nil, uint32(v)) }
func PackI64(v int64) []byte { return binary.BigEndian.AppendUint64(nil, uint64(v)) }
func PackU64(v uint64) []byte { return binary.BigEndian.AppendUint64(nil, v) }

func PackF32(v float32) []byte {
	return binary.BigEndian.AppendUint32(nil, math.Float32bits(v))
}

func PackF64(v float64) []byte {
	return binary.BigEndian.AppendUint64(nil, math.Float64bits(v))
}

// Buffer reads protocol fields from a packet body.
type Buffer struct {
	data []byte
	pos  int
}

// NewBuffer wraps data for reading.
func NewBuffer(data []byte) *Buffer {
	return &Buffer{data: data}
}

// Remaining returns the number of unread bytes.
func (b *Buffer) Remaining() int { return len(b.data) - b.pos }

// Bytes returns the unread bytes without consuming them.
func (b *Buffer) Bytes() []byte { return b.data[b.pos:] }

func (b *Buffer) take(n int) ([]byte, error) {
	if n < 0 || b.Remaining() < n {
		return nil, protoErr("need %d bytes, have %d", n, b.Remaining())
	}
	out := b.data[b.pos : b.pos+n]
	b.pos += n
	return out, nil
}

// UnpackVarInt reads a VarInt of at most 5 bytes.
func (b *Buffer) UnpackVarInt() (int32, error) {
	var v uint32
	for i := 0; i < 5; i++ {
		c, err := b.take(1)
		if err != nil {
			return 0, err
		}
		v |= uint32(c[0]&0x7f) << (7 * i)
		if c[0]&0x80 == 0 {
			return int32(v), nil
		}
	}
	return 0, protoErr("varint too long")
}

// UnpackString reads a VarInt-prefixed UTF-8 string.
func (b *Buffer) UnpackString() (string, error) {
	n, err := b.UnpackVarInt()
	if err != nil {
		return "", err
	}
	if n < 0 || n > maxStringLen {
		return "", protoErr("string length %d out of range", n)
	}
	raw, err := b.take(int(n))
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func (b *Buffer) UnpackU16() (uint16, error) {
	raw, err := b.take(2)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(raw), nil
}

func (b *Buffer) UnpackI64() (int64, error) {
	raw, err := b.take(8)
	if err != nil {
		return 0, err
	}
	return int64(binary.BigEndian.Uint64(raw)), nil
}

func (b *Buffer) UnpackBool() (bool, error) {
	raw, err := b.take(1)
	if err != nil {
		return false, err
	}
	return raw[0] != 0, nil
}

// UnpackChat reads a chat component and returns its plain text. Components
// that are bare JSON strings are accepted too.
func (b *Buffer) UnpackChat() (string, error) {
	raw, err := b.UnpackString()
	if err != nil {
		return "", err
	}
	var comp struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal([]byte(raw), &comp); err == nil {
		return comp.Text, nil
	}
	var s string
	if err := json.Unmarshal([]byte(raw), &s); err == nil {
		return s, nil
	}
	return "", protoErr("invalid chat component")
}
