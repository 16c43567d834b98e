package call

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Session is the single call in progress. All fields are guarded by the
// owning Manager's mutex.
type Session struct {
	gen      uint64
	role     Role
	peer     string
	peerName string
	kind     Kind
	phase    Phase

	// Caller's offer, buffered on the receiver until Answer.
	signal json.RawMessage

	media LocalMedia
	pc    Peer
	timer *time.Timer

	audioOn bool
	videoOn bool
	ending  bool
}

func newSession(gen uint64, role Role, peer, peerName string, kind Kind, phase Phase) *Session {
	return &Session{
		gen:      gen,
		role:     role,
		peer:     peer,
		peerName: peerName,
		kind:     kind,
		phase:    phase,
		audioOn:  true,
		videoOn:  kind == Video,
	}
}

func (s *Session) snapshot() Snapshot {
	return Snapshot{
		Role:          s.role,
		Peer:          s.peer,
		PeerName:      s.peerName,
		Kind:          s.kind,
		Phase:         s.phase,
		AudioMuted:    !s.audioOn,
		VideoDisabled: !s.videoOn,
	}
}

func (s *Session) event(t EventType) Event {
	return Event{Type: t, Peer: s.peer, PeerName: s.peerName, Kind: s.kind}
}

// detach hands the held resources to the caller; must hold the manager lock.
func (s *Session) detach() (Peer, LocalMedia) {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	pc, media := s.pc, s.media
	s.pc, s.media = nil, nil
	return pc, media
}

// release closes the peer session and stops every local track. Both steps
// run even if closing the peer fails or panics.
func release(pc Peer, media LocalMedia) (err error) {
	defer func() {
		if media != nil {
			media.Stop()
		}
	}()
	if pc != nil {
		if cerr := pc.Close(); cerr != nil {
			err = errors.Join(err, fmt.Errorf("close peer: %w", cerr))
		}
	}
	return err
}
