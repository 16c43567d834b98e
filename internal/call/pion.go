package call

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"
)

// PionFactory builds WebRTC peer sessions. Signals are complete (non-trickle)
// session descriptions: ICE gathering finishes before a description is sent.
type PionFactory struct {
	api    *webrtc.API
	config webrtc.Configuration
}

// NewPionFactory creates a factory using iceServers (STUN/TURN urls).
func NewPionFactory(iceServers []string) (*PionFactory, error) {
	api, err := newAPI()
	if err != nil {
		return nil, fmt.Errorf("webrtc api: %w", err)
	}
	cfg := webrtc.Configuration{}
	if len(iceServers) > 0 {
		cfg.ICEServers = []webrtc.ICEServer{{URLs: iceServers}}
	}
	return &PionFactory{api: api, config: cfg}, nil
}

func (f *PionFactory) NewPeer(_ context.Context, kind Kind, media LocalMedia) (Peer, error) {
	pc, err := f.api.NewPeerConnection(f.config)
	if err != nil {
		return nil, err
	}
	p := &pionPeer{
		pc:      pc,
		senders: make(map[Kind]*webrtc.RTPSender),
		tracks:  make(map[Kind]webrtc.TrackLocal),
	}

	if media != nil {
		for _, t := range media.Tracks() {
			k := kindOf(t.Kind())
			if k == Video && kind == Audio {
				continue
			}
			sender, err := pc.AddTrack(t)
			if err != nil {
				_ = pc.Close()
				return nil, fmt.Errorf("add %s track: %w", k, err)
			}
			p.senders[k] = sender
			p.tracks[k] = t
		}
	}
	// Receive what we do not send so the description has every m-line.
	wanted := []Kind{Audio}
	if kind == Video {
		wanted = append(wanted, Video)
	}
	for _, k := range wanted {
		if _, ok := p.senders[k]; ok {
			continue
		}
		if _, err := pc.AddTransceiverFromKind(codecType(k), webrtc.RTPTransceiverInit{
			Direction: webrtc.RTPTransceiverDirectionRecvonly,
		}); err != nil {
			_ = pc.Close()
			return nil, fmt.Errorf("add %s transceiver: %w", k, err)
		}
	}

	pc.OnTrack(func(tr *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		rt := RemoteTrack{
			Kind:  kindOf(tr.Kind()),
			ID:    tr.ID(),
			Codec: tr.Codec().MimeType,
			Track: tr,
		}
		log.Infof("remote %s track %s (%s)", rt.Kind, rt.ID, rt.Codec)
		p.mu.Lock()
		fn := p.onTrack
		p.mu.Unlock()
		if fn != nil {
			fn(rt)
		}
	})
	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		log.Debugf("peer connection state: %s", s)
	})
	return p, nil
}

type pionPeer struct {
	pc *webrtc.PeerConnection

	mu      sync.Mutex
	senders map[Kind]*webrtc.RTPSender
	tracks  map[Kind]webrtc.TrackLocal
	onTrack func(RemoteTrack)
}

func (p *pionPeer) Offer(ctx context.Context) (json.RawMessage, error) {
	offer, err := p.pc.CreateOffer(nil)
	if err != nil {
		return nil, fmt.Errorf("create offer: %w", err)
	}
	return p.setLocal(ctx, offer)
}

func (p *pionPeer) Answer(ctx context.Context, raw json.RawMessage) (json.RawMessage, error) {
	offer, err := decodeDescription(raw, webrtc.SDPTypeOffer)
	if err != nil {
		return nil, err
	}
	if err := p.pc.SetRemoteDescription(offer); err != nil {
		return nil, fmt.Errorf("set remote offer: %w", err)
	}
	answer, err := p.pc.CreateAnswer(nil)
	if err != nil {
		return nil, fmt.Errorf("create answer: %w", err)
	}
	return p.setLocal(ctx, answer)
}

func (p *pionPeer) Accept(raw json.RawMessage) error {
	answer, err := decodeDescription(raw, webrtc.SDPTypeAnswer)
	if err != nil {
		return err
	}
	if err := p.pc.SetRemoteDescription(answer); err != nil {
		return fmt.Errorf("set remote answer: %w", err)
	}
	return nil
}

// SetEnabled stops or resumes sending a local track without renegotiating.
func (p *pionPeer) SetEnabled(kind Kind, enabled bool) error {
	p.mu.Lock()
	sender, track := p.senders[kind], p.tracks[kind]
	p.mu.Unlock()
	if sender == nil {
		return nil
	}
	if !enabled {
		track = nil
	}
	return sender.ReplaceTrack(track)
}

func (p *pionPeer) OnRemoteTrack(fn func(RemoteTrack)) {
	p.mu.Lock()
	p.onTrack = fn
	p.mu.Unlock()
}

func (p *pionPeer) Close() error { return p.pc.Close() }

// setLocal applies desc and waits for ICE gathering to complete.
func (p *pionPeer) setLocal(ctx context.Context, desc webrtc.SessionDescription) (json.RawMessage, error) {
	gathered := webrtc.GatheringCompletePromise(p.pc)
	if err := p.pc.SetLocalDescription(desc); err != nil {
		return nil, fmt.Errorf("set local %s: %w", desc.Type, err)
	}
	select {
	case <-gathered:
	case <-ctx.Done():
		return nil, fmt.Errorf("ice gathering: %w", ctx.Err())
	}
	b, err := json.Marshal(p.pc.LocalDescription())
	if err != nil {
		return nil, err
	}
	return b, nil
}

func decodeDescription(raw json.RawMessage, want webrtc.SDPType) (webrtc.SessionDescription, error) {
	var sd webrtc.SessionDescription
	if err := json.Unmarshal(raw, &sd); err != nil {
		return sd, fmt.Errorf("decode %s: %w", want, err)
	}
	if sd.Type != want {
		return sd, fmt.Errorf("expected %s, got %s", want, sd.Type)
	}
	if sd.SDP == "" {
		return sd, fmt.Errorf("empty %s sdp", want)
	}
	return sd, nil
}

func kindOf(t webrtc.RTPCodecType) Kind {
	if t == webrtc.RTPCodecTypeAudio {
		return Audio
	}
	return Video
}

func codecType(k Kind) webrtc.RTPCodecType {
	if k == Audio {
		return webrtc.RTPCodecTypeAudio
	}
	return webrtc.RTPCodecTypeVideo
}
