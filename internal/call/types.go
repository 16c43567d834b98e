package call

import (
	"context"
	"encoding/json"

	"github.com/pion/webrtc/v4"

	"github.com/petervdpas/goopchat/internal/proto"
)

// Kind is the media kind of a call.
type Kind string

const (
	Audio Kind = proto.CallTypeAudio
	Video Kind = proto.CallTypeVideo
)

// ParseKind maps a callType value to a Kind; anything unknown is a video call.
func ParseKind(s string) Kind {
	if s == string(Audio) {
		return Audio
	}
	return Video
}

// Phase is the call state.
//
//	Idle ─► Dialing ─────────────────────► Active ─► Idle
//	Idle ─► Ringing ─► Accepted ─────────► Active ─► Idle
//	        Ringing ─► Idle (decline, timeout)
//	any ──────────────► Idle (end)
type Phase int

const (
	Idle Phase = iota
	Dialing
	Ringing
	Accepted
	Active
)

func (p Phase) String() string {
	switch p {
	case Idle:
		return "idle"
	case Dialing:
		return "dialing"
	case Ringing:
		return "ringing"
	case Accepted:
		return "accepted"
	case Active:
		return "active"
	}
	return "unknown"
}

type Role int

const (
	Initiator Role = iota
	Receiver
)

func (r Role) String() string {
	if r == Initiator {
		return "initiator"
	}
	return "receiver"
}

// Emitter is the only surface the call package needs from the channel.
type Emitter interface {
	Emit(event string, payload any) error
}

// MediaSource acquires local tracks. Audio requests must never open a camera.
type MediaSource interface {
	Acquire(ctx context.Context, kind Kind) (LocalMedia, error)
}

// LocalMedia is a set of held local tracks. Stop releases every track.
type LocalMedia interface {
	Tracks() []webrtc.TrackLocal
	Stop()
}

// PeerFactory builds a peer media session around acquired local media.
type PeerFactory interface {
	NewPeer(ctx context.Context, kind Kind, media LocalMedia) (Peer, error)
}

// Peer is one side of a direct media session. Signals are opaque
// session-description blobs.
type Peer interface {
	// Offer creates the initiator's local description.
	Offer(ctx context.Context) (json.RawMessage, error)
	// Answer applies the caller's offer and returns the local answer.
	Answer(ctx context.Context, offer json.RawMessage) (json.RawMessage, error)
	// Accept applies the callee's answer on the initiator side.
	Accept(answer json.RawMessage) error
	SetEnabled(kind Kind, enabled bool) error
	OnRemoteTrack(fn func(RemoteTrack))
	Close() error
}

// RemoteTrack is a media track received from the peer.
type RemoteTrack struct {
	Kind  Kind
	ID    string
	Codec string
	Track *webrtc.TrackRemote
}

// Ringer plays the incoming-call tone.
type Ringer interface {
	Start()
	Stop()
}

type nopRinger struct{}

func (nopRinger) Start() {}
func (nopRinger) Stop()  {}

// EventType names a call lifecycle notification.
type EventType string

const (
	EventDialing     EventType = "dialing"
	EventIncoming    EventType = "incoming"
	EventAccepted    EventType = "accepted"
	EventActive      EventType = "active"
	EventEnded       EventType = "ended"
	EventMissed      EventType = "missed" // rejected as busy while in another call
	EventRemoteTrack EventType = "remote-track"
	EventError       EventType = "error"
)

// Event is delivered to Manager subscribers.
type Event struct {
	Type     EventType
	Peer     string
	PeerName string
	Kind     Kind
	Reason   string
	Track    *RemoteTrack
	Err      error
}

// Snapshot is a read-only view of the current call.
type Snapshot struct {
	Role          Role
	Peer          string
	PeerName      string
	Kind          Kind
	Phase         Phase
	AudioMuted    bool
	VideoDisabled bool
}
