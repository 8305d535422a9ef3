package protocol

import (
	"crypto/md5"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVarInt(t *testing.T) {
	tests := []struct {
		value int32
		wire  []byte
	}{
		{0, []byte{0x00}},
		{1, []byte{0x01}},
		{127, []byte{0x7f}},
		{128, []byte{0x80, 0x01}},
		{255, []byte{0xff, 0x01}},
		{25565, []byte{0xdd, 0xc7, 0x01}},
		{2097151, []byte{0xff, 0xff, 0x7f}},
		{2147483647, []byte{0xff, 0xff, 0xff, 0xff, 0x07}},
		{-1, []byte{0xff, 0xff, 0xff, 0xff, 0x0f}},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.wire, PackVarInt(tt.value), "pack %d", tt.value)

		got, err := NewBuffer(tt.wire).UnpackVarInt()
		require.NoError(t, err)
		assert.Equal(t, tt.value, got)
	}
}

func TestUnpackVarInt_Malformed(t *testing.T) {
	_, err := NewBuffer([]byte{0x80, 0x80}).UnpackVarInt()
	assert.ErrorIs(t, err, ErrProtocol)

	_, err = NewBuffer([]byte{0xff, 0xff, 0xff, 0xff, 0xff, 0x01}).UnpackVarInt()
	assert.ErrorIs(t, err, ErrProtocol)
}

func TestString(t *testing.T) {
	wire := PackString("héllo")
	assert.Equal(t, byte(6), wire[0])

	buf := NewBuffer(append(wire, 0x2a))
	s, err := buf.UnpackString()
	require.NoError(t, err)
	assert.Equal(t, "héllo", s)
	assert.Equal(t, 1, buf.Remaining())

	_, err = NewBuffer([]byte{0x05, 'a'}).UnpackString()
	assert.ErrorIs(t, err, ErrProtocol)
}

func TestChat(t *testing.T) {
	wire := PackChat("§e<steve> hi \"there\"")
	got, err := NewBuffer(wire).UnpackChat()
	require.NoError(t, err)
	assert.Equal(t, "§e<steve> hi \"there\"", got)

	raw, err := NewBuffer(wire).UnpackString()
	require.NoError(t, err)
	assert.JSONEq(t, `{"text":"§e<steve> hi \"there\""}`, raw)

	got, err = NewBuffer(PackString(`"plain"`)).UnpackChat()
	require.NoError(t, err)
	assert.Equal(t, "plain", got)

	_, err = NewBuffer(PackString("not json")).UnpackChat()
	assert.ErrorIs(t, err, ErrProtocol)
}

func TestFixedWidth(t *testing.T) {
	assert.Equal(t, []byte{0, 0, 0, 0, 0, 0, 0, 0}, PackU64(0))
	assert.Equal(t, []byte{0x63, 0xdd}, PackU16(25565))
	assert.Equal(t, []byte{0xff, 0xff, 0xff, 0xfe}, PackI32(-2))
	assert.Equal(t, []byte{0x40, 0x6f, 0xe0, 0, 0, 0, 0, 0}, PackF64(255))
	assert.Equal(t, []byte{0, 0, 0, 0}, PackF32(0))
	assert.Equal(t, []byte{1}, PackBool(true))

	buf := NewBuffer(append(PackI64(-42), PackU16(7)...))
	v, err := buf.UnpackI64()
	require.NoError(t, err)
	assert.Equal(t, int64(-42), v)
	p, err := buf.UnpackU16()
	require.NoError(t, err)
	assert.Equal(t, uint16(7), p)

	_, err = buf.UnpackBool()
	assert.ErrorIs(t, err, ErrProtocol)
}

func TestOfflineUUID(t *testing.T) {
	id := OfflineUUID("Notch")
	assert.Equal(t, uuid.Version(3), id.Version())
	assert.Equal(t, uuid.RFC4122, id.Variant())
	assert.Equal(t, id, OfflineUUID("Notch"))
	assert.NotEqual(t, id, OfflineUUID("notch"))

	sum := md5.Sum([]byte("OfflinePlayer:Notch"))
	assert.Equal(t, sum[:6], id[:6])
}

func TestPacketIDFamilies(t *testing.T) {
	id, ok := ClientboundID(338, PacketKeepAlive)
	require.True(t, ok)
	assert.Equal(t, int32(0x1F), id)

	id, ok = ClientboundID(340, PacketJoinGame)
	require.True(t, ok)
	assert.Equal(t, int32(0x23), id)

	id, ok = ClientboundID(578, PacketKeepAlive)
	require.True(t, ok)
	assert.Equal(t, int32(0x21), id)

	name, ok := ServerboundName(340, 0x02)
	require.True(t, ok)
	assert.Equal(t, PacketChatMessage, name)

	name, ok = ServerboundName(578, 0x03)
	require.True(t, ok)
	assert.Equal(t, PacketChatMessage, name)

	_, ok = ClientboundID(578, "no_such_packet")
	assert.False(t, ok)
}

func TestPlaySupported(t *testing.T) {
	tests := []struct {
		version int32
		want    bool
	}{
		{335, false}, // 1.12
		{338, true},
		{340, true},
		{404, false}, // 1.13.2
		{498, false}, // 1.14.4
		{573, true},
		{578, true},
		{735, false}, // 1.16
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, PlaySupported(tt.version), "version %d", tt.version)
		_, ok := ClientboundID(tt.version, PacketChatMessage)
		assert.Equal(t, tt.want, ok, "version %d", tt.version)
	}
}
