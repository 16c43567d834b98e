// Package call runs at most one peer media call at a time: the phase machine,
// busy and duplicate rules for incoming calls, and scoped acquisition and
// release of local media. Media transport is behind the Peer and MediaSource
// interfaces; pion.go provides the WebRTC implementation.
package call

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	logging "github.com/ipfs/go-log/v2"

	"github.com/petervdpas/goopchat/internal/proto"
)

var log = logging.Logger("call")

type Options struct {
	SelfID   string
	SelfName string

	Media  MediaSource
	Peers  PeerFactory
	Ringer Ringer

	// RingTimeout ends Dialing and Ringing calls with reason no-answer.
	// Zero disables it.
	RingTimeout time.Duration
}

// Manager owns the current call and reacts to signaling events.
type Manager struct {
	em   Emitter
	opts Options

	mu  sync.Mutex
	cur *Session
	gen uint64

	lmu       sync.Mutex
	listeners []chan Event
}

func New(em Emitter, opts Options) *Manager {
	if opts.Ringer == nil {
		opts.Ringer = nopRinger{}
	}
	return &Manager{em: em, opts: opts}
}

// Phase returns the current phase, Idle when there is no call.
func (m *Manager) Phase() Phase {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cur == nil {
		return Idle
	}
	return m.cur.phase
}

// Current returns a view of the call in progress.
func (m *Manager) Current() (Snapshot, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cur == nil {
		return Snapshot{}, false
	}
	return m.cur.snapshot(), true
}

// ── Outgoing ─────────────────────────────────────────────────────────────────

// StartOutgoing places a call to peerID. It is rejected with ErrBusy before
// anything is sent when a call is already in progress.
func (m *Manager) StartOutgoing(ctx context.Context, peerID string, kind Kind) error {
	if peerID == "" || peerID == m.opts.SelfID {
		return fmt.Errorf("start call: invalid peer %q", peerID)
	}

	m.mu.Lock()
	if m.cur != nil {
		m.mu.Unlock()
		return ErrBusy
	}
	m.gen++
	s := newSession(m.gen, Initiator, peerID, "", kind, Dialing)
	m.cur = s
	m.mu.Unlock()

	log.Infof("dialing [%s] %s", peerID, kind)
	m.notify(s.event(EventDialing))

	media, err := m.opts.Media.Acquire(ctx, kind)
	if err != nil {
		return m.abort(s, ReasonFor(err), fmt.Errorf("acquire media: %w", err))
	}
	if !m.attachMedia(s, media) {
		return ErrSuperseded
	}

	pc, err := m.opts.Peers.NewPeer(ctx, kind, media)
	if err != nil {
		return m.abort(s, proto.ReasonNormal, fmt.Errorf("create peer: %w", err))
	}
	if !m.attachPeer(s, pc) {
		return ErrSuperseded
	}

	offer, err := pc.Offer(ctx)
	if err != nil {
		return m.abort(s, proto.ReasonNormal, &SignalingError{Event: proto.EventCallUser, Err: err})
	}
	if m.superseded(s) {
		return ErrSuperseded
	}

	if err := m.em.Emit(proto.EventCallUser, proto.CallUser{
		To:       peerID,
		Signal:   offer,
		From:     m.opts.SelfID,
		Name:     m.opts.SelfName,
		CallType: string(kind),
	}); err != nil {
		// Without a channel there is nobody to tell.
		m.teardown(s, proto.ReasonNormal, false)
		return fmt.Errorf("send call-user: %w", err)
	}
	m.armTimer(s)
	return nil
}

// OnCallAccepted applies the callee's answer.
func (m *Manager) OnCallAccepted(p proto.CallAccepted) error {
	m.mu.Lock()
	s := m.cur
	if s == nil || s.ending || s.role != Initiator || s.phase != Dialing ||
		(p.From != "" && p.From != s.peer) || s.pc == nil {
		m.mu.Unlock()
		log.Debugf("ignoring call-accepted from [%s]", p.From)
		return nil
	}
	pc := s.pc
	m.mu.Unlock()

	if len(p.Signal) == 0 {
		err := &SignalingError{Event: proto.EventCallAccepted, Err: errors.New("empty signal")}
		m.abortActive(s, err)
		return err
	}
	if err := pc.Accept(p.Signal); err != nil {
		serr := &SignalingError{Event: proto.EventCallAccepted, Err: err}
		m.abortActive(s, serr)
		return serr
	}

	m.mu.Lock()
	if m.cur != s || s.ending {
		m.mu.Unlock()
		return nil
	}
	s.phase = Active
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	m.mu.Unlock()

	log.Infof("call active [%s]", s.peer)
	m.notify(s.event(EventActive))
	return nil
}

// ── Incoming ─────────────────────────────────────────────────────────────────

// OnCallUser handles an incoming call-user event.
//
// Only an Idle manager starts ringing. A repeat from the peer we are already
// ringing for, or already answering, is a retransmission and is ignored. Anything else is answered
// with a busy end-call and leaves the current call untouched.
func (m *Manager) OnCallUser(p proto.CallUser) {
	if p.From == "" || p.From == m.opts.SelfID {
		log.Debugf("ignoring call-user without sender")
		return
	}

	m.mu.Lock()
	if cur := m.cur; cur != nil {
		dup := (cur.phase == Ringing || cur.phase == Accepted) && cur.peer == p.From
		m.mu.Unlock()
		if dup {
			log.Debugf("duplicate call-user from [%s]", p.From)
			return
		}
		log.Infof("busy: rejecting call from [%s]", p.From)
		if err := m.em.Emit(proto.EventEndCall, proto.EndCall{To: p.From, Reason: proto.ReasonBusy}); err != nil {
			log.Warnf("send busy to [%s]: %v", p.From, err)
		}
		m.notify(Event{Type: EventMissed, Peer: p.From, PeerName: p.Name, Kind: ParseKind(p.CallType), Reason: proto.ReasonBusy})
		return
	}
	m.gen++
	s := newSession(m.gen, Receiver, p.From, p.Name, ParseKind(p.CallType), Ringing)
	s.signal = p.Signal
	m.cur = s
	m.mu.Unlock()

	log.Infof("incoming %s call from [%s]", s.kind, s.peer)
	m.opts.Ringer.Start()
	m.armTimer(s)
	m.notify(s.event(EventIncoming))
}

// Answer accepts the ringing call: acquire media, answer the buffered offer,
// send answer-call. Any failure ends the call with reason declined.
func (m *Manager) Answer(ctx context.Context) error {
	m.mu.Lock()
	s := m.cur
	if s == nil {
		m.mu.Unlock()
		return ErrNoCall
	}
	if s.role != Receiver || s.phase != Ringing || s.ending {
		m.mu.Unlock()
		return fmt.Errorf("answer in %s: %w", s.phase, ErrInvalidPhase)
	}
	s.phase = Accepted
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	offer := s.signal
	m.mu.Unlock()

	m.opts.Ringer.Stop()
	m.notify(s.event(EventAccepted))

	media, err := m.opts.Media.Acquire(ctx, s.kind)
	if err != nil {
		return m.abort(s, proto.ReasonDeclined, fmt.Errorf("acquire media: %w", err))
	}
	if !m.attachMedia(s, media) {
		return ErrSuperseded
	}

	pc, err := m.opts.Peers.NewPeer(ctx, s.kind, media)
	if err != nil {
		return m.abort(s, proto.ReasonDeclined, fmt.Errorf("create peer: %w", err))
	}
	if !m.attachPeer(s, pc) {
		return ErrSuperseded
	}

	if len(offer) == 0 {
		return m.abort(s, proto.ReasonDeclined, &SignalingError{Event: proto.EventCallUser, Err: errors.New("empty signal")})
	}
	answer, err := pc.Answer(ctx, offer)
	if err != nil {
		return m.abort(s, proto.ReasonDeclined, &SignalingError{Event: proto.EventAnswerCall, Err: err})
	}
	if m.superseded(s) {
		return ErrSuperseded
	}

	if err := m.em.Emit(proto.EventAnswerCall, proto.AnswerCall{Signal: answer, To: s.peer}); err != nil {
		m.teardown(s, proto.ReasonNormal, false)
		return fmt.Errorf("send answer-call: %w", err)
	}

	m.mu.Lock()
	if m.cur != s || s.ending {
		m.mu.Unlock()
		return ErrSuperseded
	}
	s.phase = Active
	m.mu.Unlock()

	log.Infof("call active [%s]", s.peer)
	m.notify(s.event(EventActive))
	return nil
}

// Decline rejects the ringing call.
func (m *Manager) Decline() error {
	m.mu.Lock()
	s := m.cur
	if s == nil {
		m.mu.Unlock()
		return ErrNoCall
	}
	if s.role != Receiver || s.phase != Ringing {
		m.mu.Unlock()
		return fmt.Errorf("decline in %s: %w", s.phase, ErrInvalidPhase)
	}
	m.mu.Unlock()
	return m.teardown(s, proto.ReasonDeclined, true)
}

// ── Teardown ─────────────────────────────────────────────────────────────────

// End hangs up from any phase.
func (m *Manager) End(reason string) error {
	if reason == "" {
		reason = proto.ReasonNormal
	}
	m.mu.Lock()
	s := m.cur
	m.mu.Unlock()
	if s == nil {
		return ErrNoCall
	}
	return m.teardown(s, reason, true)
}

// OnRemoteEnd handles end-call from the peer of the current call. End-calls
// from anyone else are ignored.
func (m *Manager) OnRemoteEnd(p proto.EndCall) {
	m.mu.Lock()
	s := m.cur
	match := s != nil && p.From != "" && p.From == s.peer
	m.mu.Unlock()
	if !match {
		log.Debugf("ignoring end-call from [%s]", p.From)
		return
	}
	reason := p.Reason
	if reason == "" {
		reason = proto.ReasonNormal
	}
	log.Infof("remote ended [%s]: %s", p.From, reason)
	m.teardown(s, reason, false)
}

// Close ends any call and releases subscribers.
func (m *Manager) Close() error {
	err := m.End(proto.ReasonNormal)
	if errors.Is(err, ErrNoCall) {
		err = nil
	}

	m.lmu.Lock()
	for _, ch := range m.listeners {
		close(ch)
	}
	m.listeners = nil
	m.lmu.Unlock()
	return err
}

// teardown releases local media, tells the peer, then returns to Idle, in
// that order. Every step runs even if an earlier one fails.
func (m *Manager) teardown(s *Session, reason string, tellPeer bool) (err error) {
	m.mu.Lock()
	if m.cur != s || s.ending {
		m.mu.Unlock()
		return nil
	}
	s.ending = true
	pc, media := s.detach()
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		if m.cur == s {
			m.cur = nil
		}
		m.mu.Unlock()
		m.opts.Ringer.Stop()

		evt := s.event(EventEnded)
		evt.Reason = reason
		m.notify(evt)
		log.Infof("call ended [%s]: %s", s.peer, reason)
	}()
	defer func() {
		if !tellPeer {
			return
		}
		if eerr := m.em.Emit(proto.EventEndCall, proto.EndCall{To: s.peer, Reason: reason}); eerr != nil {
			err = errors.Join(err, fmt.Errorf("send end-call: %w", eerr))
		}
	}()
	return release(pc, media)
}

// abort ends s after a failed step and returns cause, joined with any
// teardown error. A superseded session is left alone.
func (m *Manager) abort(s *Session, reason string, cause error) error {
	if m.superseded(s) {
		return errors.Join(ErrSuperseded, cause)
	}
	log.Warnf("call [%s] failed: %v", s.peer, cause)
	evt := s.event(EventError)
	evt.Err = cause
	m.notify(evt)
	if err := m.teardown(s, reason, true); err != nil {
		return errors.Join(cause, err)
	}
	return cause
}

func (m *Manager) abortActive(s *Session, cause error) {
	_ = m.abort(s, proto.ReasonNormal, cause)
}

// ReasonFor picks the end-call reason for a local failure.
func ReasonFor(err error) string {
	var me *MediaError
	if errors.As(err, &me) && me.Reason == MediaDeviceBusy {
		return proto.ReasonBusy
	}
	return proto.ReasonNormal
}

// ── helpers ──────────────────────────────────────────────────────────────────

func (m *Manager) superseded(s *Session) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cur != s || s.ending
}

// attachMedia stores media on s, or stops it when s has already ended.
func (m *Manager) attachMedia(s *Session, media LocalMedia) bool {
	m.mu.Lock()
	if m.cur != s || s.ending {
		m.mu.Unlock()
		if media != nil {
			media.Stop()
		}
		log.Debugf("call [%s] superseded during media acquisition", s.peer)
		return false
	}
	s.media = media
	m.mu.Unlock()
	return true
}

func (m *Manager) attachPeer(s *Session, pc Peer) bool {
	pc.OnRemoteTrack(func(rt RemoteTrack) {
		evt := s.event(EventRemoteTrack)
		evt.Track = &rt
		m.notify(evt)
	})

	m.mu.Lock()
	if m.cur != s || s.ending {
		m.mu.Unlock()
		_ = pc.Close()
		return false
	}
	s.pc = pc
	m.mu.Unlock()
	return true
}

func (m *Manager) armTimer(s *Session) {
	if m.opts.RingTimeout <= 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cur != s || s.ending {
		return
	}
	gen := s.gen
	s.timer = time.AfterFunc(m.opts.RingTimeout, func() {
		m.mu.Lock()
		live := m.cur == s && s.gen == gen && (s.phase == Dialing || s.phase == Ringing)
		m.mu.Unlock()
		if live {
			log.Infof("no answer [%s]", s.peer)
			m.teardown(s, proto.ReasonNoAnswer, true)
		}
	})
}

// ── Media toggles ────────────────────────────────────────────────────────────

// ToggleAudio flips the local microphone. Returns the new muted state.
func (m *Manager) ToggleAudio() (bool, error) {
	return m.toggle(Audio)
}

// ToggleVideo flips the local camera. Returns the new disabled state.
func (m *Manager) ToggleVideo() (bool, error) {
	return m.toggle(Video)
}

func (m *Manager) toggle(kind Kind) (bool, error) {
	m.mu.Lock()
	s := m.cur
	if s == nil || s.pc == nil {
		m.mu.Unlock()
		return false, ErrNoCall
	}
	var on bool
	if kind == Audio {
		s.audioOn = !s.audioOn
		on = s.audioOn
	} else {
		if s.kind != Video {
			m.mu.Unlock()
			return true, fmt.Errorf("toggle video on audio call: %w", ErrInvalidPhase)
		}
		s.videoOn = !s.videoOn
		on = s.videoOn
	}
	pc := s.pc
	m.mu.Unlock()

	log.Debugf("call [%s] %s enabled=%v", s.peer, kind, on)
	return !on, pc.SetEnabled(kind, on)
}

// ── Subscribers ──────────────────────────────────────────────────────────────

// Subscribe returns a channel of call events and a cancel func.
func (m *Manager) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, 32)
	m.lmu.Lock()
	m.listeners = append(m.listeners, ch)
	m.lmu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			m.lmu.Lock()
			defer m.lmu.Unlock()
			for i, l := range m.listeners {
				if l == ch {
					close(l)
					m.listeners = append(m.listeners[:i], m.listeners[i+1:]...)
					return
				}
			}
		})
	}
	return ch, cancel
}

func (m *Manager) notify(evt Event) {
	m.lmu.Lock()
	defer m.lmu.Unlock()
	for _, ch := range m.listeners {
		select {
		case ch <- evt:
		default:
		}
	}
}
