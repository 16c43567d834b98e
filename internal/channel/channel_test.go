package channel

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/petervdpas/goopchat/internal/proto"
)

func recv(t *testing.T, s *Subscription) *proto.Frame {
	t.Helper()
	select {
	case f, ok := <-s.C():
		require.True(t, ok, "subscription closed")
		return f
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for frame")
		return nil
	}
}

func TestSubscriptionFiltersEvents(t *testing.T) {
	m := NewMemory()
	typing := m.Subscribe(proto.EventDisplayTyping)
	all := m.Subscribe()
	defer typing.Close()
	defer all.Close()

	go func() {
		_ = m.Deliver(proto.EventNewMessage, proto.Message{ID: "m1"})
		_ = m.Deliver(proto.EventDisplayTyping, proto.TypingNotice{SenderID: "bob"})
	}()

	assert.Equal(t, proto.EventNewMessage, recv(t, all).Event)
	assert.Equal(t, proto.EventDisplayTyping, recv(t, all).Event)

	f := recv(t, typing)
	require.Equal(t, proto.EventDisplayTyping, f.Event)
	var n proto.TypingNotice
	require.NoError(t, f.Decode(&n))
	assert.Equal(t, "bob", n.SenderID)
}

func TestSubscriptionCloseIsIdempotent(t *testing.T) {
	m := NewMemory()
	s := m.Subscribe()
	s.Close()
	s.Close()

	_, ok := <-s.C()
	assert.False(t, ok)

	// A closed subscriber must not block dispatch.
	done := make(chan struct{})
	go func() {
		_ = m.Deliver(proto.EventHideTyping, proto.TypingNotice{SenderID: "x"})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("dispatch blocked on closed subscription")
	}
}

func TestCloseUnblocksPendingDispatch(t *testing.T) {
	m := NewMemory()
	s := m.Subscribe()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 200; i++ {
			_ = m.Deliver(proto.EventNewMessage, proto.Message{ID: "m"})
		}
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	s.Close()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("dispatch still blocked after Close")
	}
}

func TestMemoryEmitAfterClose(t *testing.T) {
	m := NewMemory()
	require.NoError(t, m.Emit(proto.EventTyping, proto.Typing{SenderID: "a", ReceiverID: "b"}))
	require.NoError(t, m.Close())

	err := m.Emit(proto.EventTyping, proto.Typing{SenderID: "a", ReceiverID: "b"})
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Len(t, m.Sent(proto.EventTyping), 1)

	s := m.Subscribe()
	_, ok := <-s.C()
	assert.False(t, ok, "subscriptions after close are born closed")
}

func TestMemorySentAndLast(t *testing.T) {
	m := NewMemory()
	var hooked []string
	m.OnEmit(func(f *proto.Frame) { hooked = append(hooked, f.Event) })

	require.NoError(t, m.Emit(proto.EventGameMove, proto.GameMove{To: "b", Index: 1, Symbol: "X"}))
	require.NoError(t, m.Emit(proto.EventGameMove, proto.GameMove{To: "b", Index: 4, Symbol: "X"}))
	require.NoError(t, m.Emit(proto.EventGameReset, proto.Open{To: "b"}))

	assert.Len(t, m.Sent(), 3)
	assert.Len(t, m.Sent(proto.EventGameMove), 2)
	assert.Equal(t, []string{proto.EventGameMove, proto.EventGameMove, proto.EventGameReset}, hooked)

	var mv proto.GameMove
	require.NoError(t, m.Last(proto.EventGameMove).Decode(&mv))
	assert.Equal(t, 4, mv.Index)
	assert.Nil(t, m.Last(proto.EventEndCall))

	m.Reset()
	assert.Empty(t, m.Sent())
}
