package chat

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/adred-codev/blockchat/internal/dispatch"
	"github.com/adred-codev/blockchat/internal/protocol"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sentPacket struct {
	name string
	data []byte
}

// fakePeer records packets instead of writing them to a socket.
type fakePeer struct {
	name    string
	version int32
	ticker  *protocol.Ticker
	failing bool

	mu   sync.Mutex
	sent []sentPacket
}

func newFakePeer(t *testing.T, name string, version int32) *fakePeer {
	p := &fakePeer{name: name, version: version, ticker: protocol.NewTicker()}
	t.Cleanup(p.ticker.Stop)
	return p
}

func (p *fakePeer) DisplayName() string { return p.name }
func (p *fakePeer) ProtocolVersion() int32 { return p.version }
func (p *fakePeer) Ticker() *protocol.Ticker { return p.ticker }
func (p *fakePeer) RemoteAddr() string { return "fake:" + p.name }
func (p *fakePeer) Close() error { return nil }

func (p *fakePeer) SendPacket(name string, data ...[]byte) error {
	if p.failing {
		return errors.New("broken pipe")
	}
	var body []byte
	for _, d := range data {
		body = append(body, d...)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sent = append(p.sent, sentPacket{name: name, data: body})
	return nil
}

func (p *fakePeer) packets(name string) []sentPacket {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []sentPacket
	for _, s := range p.sent {
		if s.name == name {
			out = append(out, s)
		}
	}
	return out
}

// chats decodes every chat_message the peer received.
func (p *fakePeer) chats(t *testing.T) []string {
	t.Helper()
	var out []string
	for _, s := range p.packets(protocol.PacketChatMessage) {
		buf := protocol.NewBuffer(s.data)
		text, err := buf.UnpackChat()
		require.NoError(t, err)
		require.Equal(t, []byte{0}, buf.Bytes(), "chat position byte")
		out = append(out, text)
	}
	return out
}

func newTestRoom(cfg Config) *Room {
	return NewRoom(protocol.NewPlayers(), cfg, zerolog.Nop())
}

func TestRoom_JoinAnnouncementReachesEveryone(t *testing.T) {
	room := newTestRoom(Config{KeepAliveTicks: 1000})
	alice := newFakePeer(t, "alice", 578)
	bob := newFakePeer(t, "bob", 578)

	room.PlayerJoined(alice)
	room.PlayerJoined(bob)

	assert.Equal(t, []string{"§ealice has joined.", "§ebob has joined."}, alice.chats(t))
	assert.Equal(t, []string{"§ebob has joined."}, bob.chats(t), "the joining player sees its own announcement")
	assert.Equal(t, 2, room.Players().Len())
}

func TestRoom_JoinSpawnsPlayer(t *testing.T) {
	room := newTestRoom(Config{KeepAliveTicks: 1000})
	p := newFakePeer(t, "steve", 578)
	room.PlayerJoined(p)

	joins := p.packets(protocol.PacketJoinGame)
	require.Len(t, joins, 1)
	assert.Equal(t, []byte{0, 0, 0, 0, 3, 0, 0, 0, 0}, joins[0].data[:9])
	assert.Contains(t, string(joins[0].data), "flat")
	assert.Equal(t, []byte{1, 0, 1}, joins[0].data[len(joins[0].data)-3:])

	positions := p.packets(protocol.PacketPositionAndLook)
	require.Len(t, positions, 1)
	want := append(protocol.PackF64(0), protocol.PackF64(255)...)
	want = append(want, protocol.PackF64(0)...)
	want = append(want, protocol.PackF32(0)...)
	want = append(want, protocol.PackF32(0)...)
	want = append(want, 0, 0)
	assert.Equal(t, want, positions[0].data)
}

func TestRoom_ChatFanOut(t *testing.T) {
	room := newTestRoom(Config{KeepAliveTicks: 1000})
	peers := []*fakePeer{
		newFakePeer(t, "x", 578),
		newFakePeer(t, "y", 578),
		newFakePeer(t, "z", 340),
	}
	for _, p := range peers {
		room.Players().Add(p)
	}

	require.NoError(t, room.Packet(peers[0], protocol.PacketChatMessage, protocol.NewBuffer(protocol.PackString("text"))))

	for _, p := range peers {
		assert.Equal(t, []string{"<x> text"}, p.chats(t), "peer %s", p.name)
	}
}

func TestRoom_LeaveAnnouncement(t *testing.T) {
	room := newTestRoom(Config{KeepAliveTicks: 1000})
	alice := newFakePeer(t, "alice", 578)
	bob := newFakePeer(t, "bob", 578)
	room.Players().Add(alice)
	room.Players().Add(bob)

	room.PlayerLeft(bob)

	assert.Equal(t, []string{"§ebob has left."}, alice.chats(t))
	assert.Empty(t, bob.chats(t))
	assert.Equal(t, 1, room.Players().Len())
}

func TestRoom_BroadcastIsolatesFailures(t *testing.T) {
	room := newTestRoom(Config{})
	a := newFakePeer(t, "a", 578)
	dead := newFakePeer(t, "dead", 578)
	dead.failing = true
	c := newFakePeer(t, "c", 578)
	for _, p := range []*fakePeer{a, dead, c} {
		room.Players().Add(p)
	}

	err := room.Broadcast("hello")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dead")

	assert.Equal(t, []string{"hello"}, a.chats(t))
	assert.Equal(t, []string{"hello"}, c.chats(t))
}

func TestKeepAlivePayload(t *testing.T) {
	assert.Equal(t, []byte{0x00}, KeepAlivePayload(338))
	assert.Equal(t, []byte{0, 0, 0, 0, 0, 0, 0, 0}, KeepAlivePayload(339))
	assert.NotEqual(t, KeepAlivePayload(338), KeepAlivePayload(339))
	assert.Equal(t, KeepAlivePayload(47), KeepAlivePayload(338))
	assert.Equal(t, KeepAlivePayload(578), KeepAlivePayload(339))
}

func TestRoom_KeepAliveLoop(t *testing.T) {
	room := newTestRoom(Config{KeepAliveTicks: 1})
	old := newFakePeer(t, "old", 338)
	room.PlayerJoined(old)

	require.Eventually(t, func() bool {
		return len(old.packets(protocol.PacketKeepAlive)) >= 2
	}, 2*time.Second, 10*time.Millisecond)

	old.ticker.Stop()
	for _, ka := range old.packets(protocol.PacketKeepAlive) {
		assert.Equal(t, []byte{0x00}, ka.data)
	}
}

func TestRoom_RateLimit(t *testing.T) {
	room := newTestRoom(Config{ChatRate: 0.001, ChatBurst: 2})
	p := newFakePeer(t, "spam", 578)
	room.Players().Add(p)

	for i := 0; i < 5; i++ {
		room.Say(p, "hi")
	}
	assert.Len(t, p.chats(t), 2)

	room.PlayerLeft(p)
	assert.Zero(t, room.limiter.Tracked())
}

type fakeSubmitter struct {
	mu    sync.Mutex
	lines []any
	err   error
}

func (s *fakeSubmitter) Submit(kind dispatch.Kind, args []any, _ map[string]any) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if kind != dispatch.KindTranscript {
		return 0, dispatch.ErrUnknownKind
	}
	s.lines = append(s.lines, args...)
	return int64(len(s.lines)), s.err
}

func TestRoom_TranscriptSubmission(t *testing.T) {
	sub := &fakeSubmitter{}
	room := newTestRoom(Config{Transcript: sub})
	p := newFakePeer(t, "bob", 578)
	room.Players().Add(p)

	room.Say(p, "one")
	sub.err = dispatch.ErrQueueFull
	room.Say(p, "two")

	assert.Equal(t, []any{"<bob> one", "<bob> two"}, sub.lines)
	assert.Equal(t, []string{"<bob> one", "<bob> two"}, p.chats(t), "a full task queue never blocks chat")
}
