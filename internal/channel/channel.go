// Package channel is the client side of the persistent event connection to
// the relay. One Channel exists per logged-in user; reconnecting is left to
// the transport.
package channel

import (
	"errors"
	"sync"

	logging "github.com/ipfs/go-log/v2"

	"github.com/petervdpas/goopchat/internal/proto"
)

var log = logging.Logger("channel")

// ErrUnavailable is returned when an event is emitted without a live channel.
var ErrUnavailable = errors.New("channel unavailable")

// Emitter is the only surface most components need from the channel.
type Emitter interface {
	Emit(event string, payload any) error
}

// Channel is a bidirectional named-event stream.
type Channel interface {
	Emitter
	Subscribe(events ...string) *Subscription
	Close() error
}

// Subscription is a scoped listener. Close releases it and is safe to call
// more than once; frames are never delivered after Close returns.
type Subscription struct {
	mux    *Mux
	events map[string]struct{}
	ch     chan *proto.Frame
	done   chan struct{}
	once   sync.Once
}

// C returns the delivery channel. It is closed when the subscription or the
// channel it belongs to is closed.
func (s *Subscription) C() <-chan *proto.Frame { return s.ch }

// Close releases the subscription.
func (s *Subscription) Close() {
	s.once.Do(func() {
		close(s.done)
		s.mux.remove(s)
	})
}

func (s *Subscription) wants(event string) bool {
	if len(s.events) == 0 {
		return true
	}
	_, ok := s.events[event]
	return ok
}

// Mux fans inbound frames out to subscriptions in arrival order.
type Mux struct {
	mu     sync.RWMutex
	subs   map[*Subscription]struct{}
	closed bool
}

// Subscribe registers a listener for the named events, or for every event
// when none are given.
func (m *Mux) Subscribe(events ...string) *Subscription {
	s := &Subscription{
		mux:    m,
		events: make(map[string]struct{}, len(events)),
		ch:     make(chan *proto.Frame, 64),
		done:   make(chan struct{}),
	}
	for _, e := range events {
		s.events[e] = struct{}{}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		close(s.ch)
		s.once.Do(func() { close(s.done) })
		return s
	}
	if m.subs == nil {
		m.subs = make(map[*Subscription]struct{})
	}
	m.subs[s] = struct{}{}
	return s
}

// Dispatch delivers f to every interested subscription. It blocks until each
// one has accepted the frame or has been closed, so ordering is preserved and
// nothing is silently dropped.
func (m *Mux) Dispatch(f *proto.Frame) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for s := range m.subs {
		if !s.wants(f.Event) {
			continue
		}
		select {
		case s.ch <- f:
		case <-s.done:
		}
	}
}

// Close closes every subscription; later subscriptions are born closed.
func (m *Mux) Close() {
	m.mu.RLock()
	subs := make([]*Subscription, 0, len(m.subs))
	for s := range m.subs {
		subs = append(subs, s)
	}
	m.mu.RUnlock()

	for _, s := range subs {
		s.Close()
	}

	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
}

func (m *Mux) remove(s *Subscription) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.subs[s]; ok {
		delete(m.subs, s)
		close(s.ch)
	}
}
