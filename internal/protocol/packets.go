package protocol

import "fmt"

// State is a connection protocol state.
type State int

const (
	StateHandshake State = iota
	StateStatus
	StateLogin
	StatePlay
)

func (s State) String() string {
	switch s {
	case StateHandshake:
		return "handshake"
	case StateStatus:
		return "status"
	case StateLogin:
		return "login"
	case StatePlay:
		return "play"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Play packet names used by handlers.
const (
	PacketKeepAlive       = "keep_alive"
	PacketChatMessage     = "chat_message"
	PacketJoinGame        = "join_game"
	PacketPositionAndLook = "player_position_and_look"
	PacketDisconnect      = "disconnect"
)

// Handshake, status and login ids are the same for every supported version.
const (
	idHandshake       = 0x00
	idStatusRequest   = 0x00
	idStatusResponse  = 0x00
	idPing            = 0x01
	idPong            = 0x01
	idLoginStart      = 0x00
	idLoginDisconnect = 0x00
	idLoginSuccess    = 0x02
)

// KeepAliveVarIntMax is the last protocol version whose keep-alive id is a
// VarInt; later versions use a 64-bit integer.
const KeepAliveVarIntMax = 338

// Play id tables exist for 1.12.1-1.12.2 and 1.15.x only.
const (
	legacyPlayMin = 338
	legacyPlayMax = 340
	modernPlayMin = 573
	modernPlayMax = SupportedVersion
)

// SupportedVersion is the protocol version advertised in status responses.
const SupportedVersion = 578

type idTable struct {
	clientbound map[string]int32
	serverbound map[int32]string
}

var (
	playIDs112 = idTable{
		clientbound: map[string]int32{
			PacketChatMessage:     0x0F,
			PacketDisconnect:      0x1A,
			PacketKeepAlive:       0x1F,
			PacketJoinGame:        0x23,
			PacketPositionAndLook: 0x2F,
		},
		serverbound: map[int32]string{
			0x02: PacketChatMessage,
			0x0B: PacketKeepAlive,
		},
	}
	playIDs115 = idTable{
		clientbound: map[string]int32{
			PacketChatMessage:     0x0F,
			PacketDisconnect:      0x1B,
			PacketKeepAlive:       0x21,
			PacketJoinGame:        0x26,
			PacketPositionAndLook: 0x36,
		},
		serverbound: map[int32]string{
			0x03: PacketChatMessage,
			0x0F: PacketKeepAlive,
		},
	}
)

func playTable(version int32) (idTable, bool) {
	switch {
	case version >= legacyPlayMin && version <= legacyPlayMax:
		return playIDs112, true
	case version >= modernPlayMin && version <= modernPlayMax:
		return playIDs115, true
	default:
		return idTable{}, false
	}
}

// PlaySupported reports whether clients speaking version can enter the play
// state.
func PlaySupported(version int32) bool {
	_, ok := playTable(version)
	return ok
}

// ClientboundID returns the play-state id of the named packet for version.
func ClientboundID(version int32, name string) (int32, bool) {
	t, ok := playTable(version)
	if !ok {
		return 0, false
	}
	id, ok := t.clientbound[name]
	return id, ok
}

// ServerboundName returns the name of a play-state packet id for version.
func ServerboundName(version int32, id int32) (string, bool) {
	t, ok := playTable(version)
	if !ok {
		return "", false
	}
	name, ok := t.serverbound[id]
	return name, ok
}
