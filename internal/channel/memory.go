package channel

import (
	"sync"

	"github.com/petervdpas/goopchat/internal/proto"
)

// Memory is an in-process Channel. Emitted frames are recorded; inbound
// frames are injected with Deliver.
type Memory struct {
	Mux

	mu     sync.Mutex
	sent   []*proto.Frame
	closed bool
	hook   func(*proto.Frame)
}

func NewMemory() *Memory { return &Memory{} }

// OnEmit installs a hook called synchronously for every emitted frame.
func (m *Memory) OnEmit(fn func(*proto.Frame)) {
	m.mu.Lock()
	m.hook = fn
	m.mu.Unlock()
}

func (m *Memory) Emit(event string, payload any) error {
	f, err := proto.NewFrame(event, payload)
	if err != nil {
		return err
	}
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrUnavailable
	}
	m.sent = append(m.sent, f)
	hook := m.hook
	m.mu.Unlock()

	if hook != nil {
		hook(f)
	}
	return nil
}

// Deliver dispatches an inbound event to subscribers.
func (m *Memory) Deliver(event string, payload any) error {
	f, err := proto.NewFrame(event, payload)
	if err != nil {
		return err
	}
	m.Dispatch(f)
	return nil
}

// Sent returns emitted frames, filtered to events when given.
func (m *Memory) Sent(events ...string) []*proto.Frame {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(events) == 0 {
		return append([]*proto.Frame(nil), m.sent...)
	}
	want := make(map[string]bool, len(events))
	for _, e := range events {
		want[e] = true
	}
	var out []*proto.Frame
	for _, f := range m.sent {
		if want[f.Event] {
			out = append(out, f)
		}
	}
	return out
}

// Last returns the most recent frame for event, or nil.
func (m *Memory) Last(event string) *proto.Frame {
	frames := m.Sent(event)
	if len(frames) == 0 {
		return nil
	}
	return frames[len(frames)-1]
}

// Reset forgets recorded frames.
func (m *Memory) Reset() {
	m.mu.Lock()
	m.sent = nil
	m.mu.Unlock()
}

func (m *Memory) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	m.Mux.Close()
	return nil
}
