package app

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/petervdpas/goopchat/internal/backend"
	"github.com/petervdpas/goopchat/internal/call"
	"github.com/petervdpas/goopchat/internal/channel"
	"github.com/petervdpas/goopchat/internal/config"
	"github.com/petervdpas/goopchat/internal/drawing"
	"github.com/petervdpas/goopchat/internal/feed"
	"github.com/petervdpas/goopchat/internal/game"
	"github.com/petervdpas/goopchat/internal/notify"
	"github.com/petervdpas/goopchat/internal/proto"
	"github.com/petervdpas/goopchat/internal/relay"
	"github.com/petervdpas/goopchat/internal/session"
)

// ── fakes ────────────────────────────────────────────────────────────────────

type syncBuffer struct {
	mu sync.Mutex
	b  bytes.Buffer
}

func (s *syncBuffer) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.Write(p)
}

func (s *syncBuffer) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.String()
}

type fakeBackend struct {
	mu      sync.Mutex
	history map[string][]proto.Message
	sent    []backend.Outgoing
	fetched []string
}

func (f *fakeBackend) Messages(_ context.Context, peer string) ([]proto.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetched = append(f.fetched, peer)
	return append([]proto.Message(nil), f.history[peer]...), nil
}

func (f *fakeBackend) Send(_ context.Context, peer string, m backend.Outgoing) (proto.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, m)
	return proto.Message{ID: "m1", ReceiverID: peer, Text: m.Text, IsInvisible: m.IsInvisible}, nil
}

func (f *fakeBackend) MarkRead(context.Context, string) error { return nil }

func (f *fakeBackend) Users(context.Context) ([]backend.User, error) {
	return []backend.User{{ID: "bob", FullName: "Bob"}}, nil
}

func (f *fakeBackend) SearchUsers(_ context.Context, q string) ([]backend.User, error) {
	return []backend.User{{ID: q, FullName: strings.ToUpper(q)}}, nil
}

func (f *fakeBackend) RegisterPush(context.Context, backend.PushSubscription) error { return nil }

func (f *fakeBackend) fetchedPeers() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.fetched...)
}

type noMedia struct{}

func (noMedia) Acquire(context.Context, call.Kind) (call.LocalMedia, error) { return noTracks{}, nil }

type noTracks struct{}

func (noTracks) Tracks() []webrtc.TrackLocal { return nil }
func (noTracks) Stop()                       {}

type noPeers struct{}

func (noPeers) NewPeer(context.Context, call.Kind, call.LocalMedia) (call.Peer, error) {
	return &stubPeer{}, nil
}

type stubPeer struct{}

func (*stubPeer) Offer(context.Context) (json.RawMessage, error) {
	return json.RawMessage(`{"type":"offer","sdp":"x"}`), nil
}
func (*stubPeer) Answer(context.Context, json.RawMessage) (json.RawMessage, error) {
	return json.RawMessage(`{"type":"answer","sdp":"x"}`), nil
}
func (*stubPeer) Accept(json.RawMessage) error          { return nil }
func (*stubPeer) SetEnabled(call.Kind, bool) error      { return nil }
func (*stubPeer) OnRemoteTrack(func(call.RemoteTrack)) {}
func (*stubPeer) Close() error                          { return nil }

func testConfig(user string) config.Config {
	cfg := config.Default()
	cfg.Identity.UserID = user
	cfg.Identity.Name = strings.ToUpper(user[:1]) + user[1:]
	cfg.Storage.DBPath = ""
	cfg.Log.Level = ""
	return cfg
}

type fixture struct {
	c   *Client
	ch  *channel.Memory
	api *fakeBackend
	out *syncBuffer
}

func login(t *testing.T, deps Deps) *fixture {
	t.Helper()
	fx := &fixture{ch: channel.NewMemory(), api: &fakeBackend{}, out: &syncBuffer{}}
	if deps.Channel == nil {
		deps.Channel = fx.ch
	}
	deps.Backend = fx.api
	deps.Media = noMedia{}
	deps.Peers = noPeers{}
	deps.Out = fx.out
	c, err := Login(context.Background(), testConfig("alice"), deps)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Logout() })
	fx.c = c
	return fx
}

// ── tests ────────────────────────────────────────────────────────────────────

func TestLoginIsProcessWide(t *testing.T) {
	fx := login(t, Deps{})

	_, err := Login(context.Background(), testConfig("bob"), Deps{Channel: channel.NewMemory(), Backend: &fakeBackend{}, Peers: noPeers{}})
	assert.ErrorIs(t, err, ErrAlreadyLoggedIn)

	cur, ok := Current()
	require.True(t, ok)
	assert.Same(t, fx.c, cur)
	id, name, ok := RuntimeSelf()
	assert.True(t, ok)
	assert.Equal(t, "alice", id)
	assert.Equal(t, "Alice", name)

	require.NoError(t, fx.c.Logout())
	require.NoError(t, fx.c.Logout())
	_, ok = Current()
	assert.False(t, ok)

	again, err := Login(context.Background(), testConfig("bob"), Deps{Channel: channel.NewMemory(), Backend: &fakeBackend{}, Peers: noPeers{}, Out: &syncBuffer{}})
	require.NoError(t, err)
	require.NoError(t, again.Logout())
}

func TestLoginNeedsIdentity(t *testing.T) {
	cfg := testConfig("alice")
	cfg.Identity.UserID = ""
	_, err := Login(context.Background(), cfg, Deps{Channel: channel.NewMemory(), Backend: &fakeBackend{}, Peers: noPeers{}})
	require.Error(t, err)

	_, ok := Current()
	assert.False(t, ok, "a failed login frees the slot")
	fx := login(t, Deps{})
	assert.Equal(t, "alice", fx.c.SelfID())
}

func TestDispatchRoutesEvents(t *testing.T) {
	ringer := notify.NewRinger(&syncBuffer{}, 5*time.Millisecond)
	fx := login(t, Deps{Ringer: ringer})
	c := fx.c

	require.NoError(t, fx.ch.Deliver(proto.EventOnlineUsers, []string{"alice", "bob"}))
	require.Eventually(t, func() bool { return c.Presence.IsOnline("bob") }, time.Second, 5*time.Millisecond)

	// A game invite opens the game and follows the inviter.
	require.NoError(t, fx.ch.Deliver(proto.EventGameInvite, proto.GameInvite{From: "bob", SenderName: "Bob", Size: 3}))
	require.Eventually(t, func() bool { return c.Feed.Selected() == "bob" }, time.Second, 5*time.Millisecond)
	kind, peer := c.Activity.Active()
	assert.Equal(t, session.TicTacToe, kind)
	assert.Equal(t, "bob", peer)
	assert.Equal(t, game.O, c.Activity.TicTacToe().Me())
	assert.Contains(t, fx.api.fetchedPeers(), "bob")

	require.NoError(t, fx.ch.Deliver(proto.EventNewMessage, proto.Message{ID: "1", SenderID: "carol", Text: "hi"}))
	require.Eventually(t, func() bool { return c.Feed.Unread("carol") == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, fx.ch.Deliver(proto.EventCallUser, proto.CallUser{From: "bob", Name: "Bob", CallType: "audio", Signal: json.RawMessage(`{}`)}))
	require.Eventually(t, func() bool { return c.Calls.Phase() == call.Ringing }, time.Second, 5*time.Millisecond)
	assert.True(t, ringer.Ringing())
	require.Eventually(t, func() bool { return strings.Contains(fx.out.String(), "incoming audio call from bob") }, time.Second, 5*time.Millisecond)

	// Logout hangs up and tells the caller.
	require.NoError(t, c.Logout())
	assert.False(t, ringer.Ringing())
	end := fx.ch.Last(proto.EventEndCall)
	require.NotNil(t, end)
	var p proto.EndCall
	require.NoError(t, end.Decode(&p))
	assert.Equal(t, "bob", p.To)
	assert.Equal(t, proto.ReasonNormal, p.Reason)
	_, open := c.Activity.Active()
	assert.Empty(t, open)
	assert.Empty(t, c.Feed.Selected())
}

func TestBadFrameDoesNotStopDispatch(t *testing.T) {
	fx := login(t, Deps{})
	fx.ch.Dispatch(&proto.Frame{Event: proto.EventWhiteboardDraw})
	fx.ch.Dispatch(&proto.Frame{Event: proto.EventOnlineUsers, Data: json.RawMessage(`{"not":"a list"}`)})
	require.NoError(t, fx.ch.Deliver(proto.EventOnlineUsers, []string{"dave"}))
	require.Eventually(t, func() bool { return fx.c.Presence.IsOnline("dave") }, time.Second, 5*time.Millisecond)
}

func TestExecCommands(t *testing.T) {
	fx := login(t, Deps{})
	c := fx.c
	ctx := context.Background()

	_, err := c.Exec(ctx, "/msg hello")
	assert.ErrorIs(t, err, feed.ErrNoConversation)

	_, err = c.Exec(ctx, "/select bob")
	require.NoError(t, err)
	assert.Equal(t, "bob", c.Feed.Selected())

	_, err = c.Exec(ctx, "hello there")
	require.NoError(t, err)
	require.NotEmpty(t, fx.ch.Sent(proto.EventTyping))
	tl := c.Feed.Timeline()
	require.Len(t, tl, 1)
	assert.Equal(t, "hello there", tl[0].Text)
	fx.api.mu.Lock()
	assert.NotEqual(t, "hello there", fx.api.sent[0].Text, "bodies leave encrypted")
	fx.api.mu.Unlock()

	_, err = c.Exec(ctx, "/msg")
	assert.ErrorIs(t, err, feed.ErrEmptyMessage)

	out, err := c.Exec(ctx, "/ttt bob")
	require.NoError(t, err)
	assert.Contains(t, out, "your turn (X)")
	assert.NotNil(t, fx.ch.Last(proto.EventGameInvite))

	out, err = c.Exec(ctx, "/move 4")
	require.NoError(t, err)
	assert.Contains(t, out, "  X")
	_, err = c.Exec(ctx, "/move 0")
	assert.ErrorIs(t, err, game.ErrNotYourTurn)
	_, err = c.Exec(ctx, "/move x")
	assert.Error(t, err)

	_, err = c.Exec(ctx, "/wb bob")
	require.NoError(t, err)
	assert.Nil(t, c.Activity.TicTacToe())
	_, err = c.Exec(ctx, "/pen #ff0000 8")
	require.NoError(t, err)
	_, err = c.Exec(ctx, "/draw 0 0 10 10")
	require.NoError(t, err)
	require.Len(t, fx.ch.Sent(proto.EventWhiteboardDraw), 1)
	var st proto.Stroke
	require.NoError(t, fx.ch.Last(proto.EventWhiteboardDraw).Decode(&st))
	assert.Equal(t, 10.0, st.CurrentX)
	assert.Equal(t, "#ff0000", st.Color)
	assert.Equal(t, 8.0, st.Width)
	out, err = c.Exec(ctx, "/eraser")
	require.NoError(t, err)
	assert.Equal(t, "eraser: true", out)
	_, err = c.Exec(ctx, "/draw 10 10 20 20")
	require.NoError(t, err)
	require.NoError(t, fx.ch.Last(proto.EventWhiteboardDraw).Decode(&st))
	assert.Equal(t, drawing.Background, st.Color)
	_, err = c.Exec(ctx, "/eraser")
	require.NoError(t, err)
	_, err = c.Exec(ctx, "/clear")
	require.NoError(t, err)
	assert.NotNil(t, fx.ch.Last(proto.EventWhiteboardClear))

	_, err = c.Exec(ctx, "/pic bob")
	require.NoError(t, err)
	out, err = c.Exec(ctx, "/word Book")
	require.NoError(t, err)
	assert.Equal(t, "drawing: Book", out)
	_, err = c.Exec(ctx, "/guess book")
	assert.ErrorIs(t, err, game.ErrNotGuesser)

	out, err = c.Exec(ctx, "/search zed")
	require.NoError(t, err)
	assert.Equal(t, "zed ZED", out)
	out, err = c.Exec(ctx, "/recent")
	require.NoError(t, err)
	assert.Contains(t, out, "bob Bob")

	_, err = c.Exec(ctx, "/answer")
	assert.ErrorIs(t, err, call.ErrNoCall)
	_, err = c.Exec(ctx, "/bogus")
	assert.Error(t, err)
	_, err = c.Exec(ctx, "/quit")
	assert.ErrorIs(t, err, ErrQuit)
}

func TestUnreadListing(t *testing.T) {
	fx := login(t, Deps{})
	for _, from := range []string{"carol", "bob", "carol"} {
		require.NoError(t, fx.ch.Deliver(proto.EventNewMessage, proto.Message{SenderID: from, Text: "x"}))
	}
	require.Eventually(t, func() bool { return fx.c.Feed.Unread("carol") == 2 }, time.Second, 5*time.Millisecond)
	out, err := fx.c.Exec(context.Background(), "/unread")
	require.NoError(t, err)
	assert.Equal(t, "bob: 1\ncarol: 2", out)
}

func TestReconfigureMutesNotifications(t *testing.T) {
	bell := &syncBuffer{}
	fx := login(t, Deps{Notifier: notify.New(bell, false, true)})

	require.NoError(t, fx.ch.Deliver(proto.EventNewMessage, proto.Message{SenderID: "carol", Text: "x"}))
	require.Eventually(t, func() bool { return bell.String() == "\a" }, time.Second, 5*time.Millisecond)

	cfg := testConfig("alice")
	cfg.Notify.Muted = true
	fx.c.reconfigure(cfg)

	require.NoError(t, fx.ch.Deliver(proto.EventNewMessage, proto.Message{SenderID: "carol", Text: "y"}))
	require.Eventually(t, func() bool { return fx.c.Feed.Unread("carol") == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, "\a", bell.String())
}

func TestRunReadsCommands(t *testing.T) {
	fx := login(t, Deps{})
	in := strings.NewReader("/help\n/select bob\n/nope\n/quit\n/select carol\n")
	require.NoError(t, fx.c.Run(context.Background(), in))
	assert.Equal(t, "bob", fx.c.Feed.Selected(), "nothing runs after /quit")
	assert.Contains(t, fx.out.String(), "/select <user>")
	assert.Contains(t, fx.out.String(), "! unknown command /nope")
}

func TestLoginOverRelay(t *testing.T) {
	srv := relay.New(relay.Options{})
	ts := httptest.NewServer(srv.Routes())
	t.Cleanup(func() {
		srv.Close()
		ts.Close()
	})
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/socket"

	cfg := testConfig("alice")
	cfg.Relay.URL = url
	out := &syncBuffer{}
	c, err := Login(context.Background(), cfg, Deps{Backend: &fakeBackend{}, Media: noMedia{}, Peers: noPeers{}, Out: out})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Logout() })

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	bob, err := channel.Dial(ctx, channel.Options{URL: url, UserID: "bob"})
	require.NoError(t, err)
	defer bob.Close()

	require.Eventually(t, func() bool { return c.Presence.IsOnline("bob") }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, bob.Emit(proto.EventWhiteboardOpen, proto.Open{To: "alice"}))
	require.Eventually(t, func() bool {
		kind, peer := c.Activity.Active()
		return kind == session.Whiteboard && peer == "bob"
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, "bob", c.Feed.Selected())

	require.NoError(t, srv.Push("alice", proto.EventNewMessage, proto.Message{ID: "9", SenderID: "carol", Text: "hey"}))
	require.Eventually(t, func() bool { return c.Feed.Unread("carol") == 1 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, c.Logout())
	require.Eventually(t, func() bool { return len(srv.Online()) == 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestNormalizeRelayAddr(t *testing.T) {
	tests := []struct {
		in, listen, url string
	}{
		{"", "0.0.0.0:8788", "ws://127.0.0.1:8788/socket"},
		{":9000", "0.0.0.0:9000", "ws://127.0.0.1:9000/socket"},
		{"10.0.0.5:9000", "10.0.0.5:9000", "ws://10.0.0.5:9000/socket"},
	}
	for _, tt := range tests {
		listen, url := NormalizeRelayAddr(tt.in)
		assert.Equal(t, tt.listen, listen)
		assert.Equal(t, tt.url, url)
	}
}
