package notify

import (
	"bytes"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

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

func TestNotifierHonoursMute(t *testing.T) {
	var buf bytes.Buffer
	n := New(&buf, false, true)
	n.Message("bob", "bob")
	assert.Equal(t, bell, buf.String())

	n.Configure(true, true)
	n.Message("bob", "bob")
	assert.Equal(t, bell, buf.String())

	n.Configure(false, false)
	n.Message("bob", "bob")
	assert.Equal(t, bell, buf.String())

	var zero Notifier
	zero.Message("x", "y")
}

func TestRingerIsIdempotent(t *testing.T) {
	out := &syncBuffer{}
	r := NewRinger(out, 5*time.Millisecond)
	r.Stop()
	assert.False(t, r.Ringing())

	r.Start()
	r.Start()
	assert.True(t, r.Ringing())
	require.Eventually(t, func() bool { return strings.Count(out.String(), bell) >= 3 }, time.Second, time.Millisecond)

	r.Stop()
	r.Stop()
	assert.False(t, r.Ringing())
	n := len(out.String())
	time.Sleep(20 * time.Millisecond)
	assert.Len(t, out.String(), n, "silent after stop")
}
