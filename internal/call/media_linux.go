//go:build linux

package call

import (
	"context"
	"errors"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/pion/interceptor"
	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/codec/opus"
	"github.com/pion/mediadevices/pkg/codec/vpx"
	_ "github.com/pion/mediadevices/pkg/driver/camera"
	_ "github.com/pion/mediadevices/pkg/driver/microphone"
	"github.com/pion/mediadevices/pkg/frame"
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/pion/webrtc/v4"
)

var (
	selectorOnce sync.Once
	selector     *mediadevices.CodecSelector
	selectorErr  error
)

func codecSelector() (*mediadevices.CodecSelector, error) {
	selectorOnce.Do(func() {
		vpxParams, err := vpx.NewVP8Params()
		if err != nil {
			selectorErr = err
			return
		}
		vpxParams.BitRate = 1_500_000

		opusParams, err := opus.NewParams()
		if err != nil {
			selectorErr = err
			return
		}
		selector = mediadevices.NewCodecSelector(
			mediadevices.WithVideoEncoders(&vpxParams),
			mediadevices.WithAudioEncoders(&opusParams),
		)
	})
	return selector, selectorErr
}

// newAPI registers the capture codecs and default interceptors.
func newAPI() (*webrtc.API, error) {
	cs, err := codecSelector()
	if err != nil {
		return nil, err
	}
	mediaEngine := &webrtc.MediaEngine{}
	cs.Populate(mediaEngine)

	registry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, registry); err != nil {
		return nil, err
	}

	// Short relay outages must not drop the call.
	se := webrtc.SettingEngine{}
	se.SetICETimeouts(30*time.Second, 120*time.Second, 2*time.Second)

	return webrtc.NewAPI(
		webrtc.WithMediaEngine(mediaEngine),
		webrtc.WithInterceptorRegistry(registry),
		webrtc.WithSettingEngine(se),
	), nil
}

// DeviceSource captures the local camera and microphone.
type DeviceSource struct {
	// ReceiveOnly turns a total capture failure into an empty track set so
	// the call can still receive remote media.
	ReceiveOnly bool
}

type deviceMedia struct {
	tracks []mediadevices.Track
	once   sync.Once
}

func (d *deviceMedia) Tracks() []webrtc.TrackLocal {
	out := make([]webrtc.TrackLocal, 0, len(d.tracks))
	for _, t := range d.tracks {
		out = append(out, t)
	}
	return out
}

func (d *deviceMedia) Stop() {
	d.once.Do(func() {
		for _, t := range d.tracks {
			_ = t.Close()
		}
	})
}

// Acquire opens local tracks for kind. Video calls fall back to video-only
// and then audio-only; audio calls never request a camera.
func (s DeviceSource) Acquire(ctx context.Context, kind Kind) (LocalMedia, error) {
	cs, err := codecSelector()
	if err != nil {
		return nil, &MediaError{Reason: MediaUnsupported, Err: err}
	}

	if len(mediadevices.EnumerateDevices()) == 0 {
		log.Warnf("no media devices found")
	}

	type attempt struct {
		video bool
		audio bool
		label string
	}
	attempts := []attempt{{false, true, "audio-only"}}
	if kind == Video {
		attempts = []attempt{
			{true, true, "video+audio"},
			{true, false, "video-only"},
			{false, true, "audio-only"},
		}
	}

	var lastErr error
	for _, a := range attempts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		constraints := mediadevices.MediaStreamConstraints{Codec: cs}
		if a.video {
			constraints.Video = func(c *mediadevices.MediaTrackConstraints) {
				// MJPEG nodes produce frames that poison the VP8 encoder.
				c.FrameFormat = prop.FrameFormatOneOf{
					frame.FormatYUYV,
					frame.FormatI420,
					frame.FormatI444,
					frame.FormatRGBA,
				}
				c.Width = prop.IntRanged{Max: 640}
				c.Height = prop.IntRanged{Max: 480}
			}
		}
		if a.audio {
			constraints.Audio = func(*mediadevices.MediaTrackConstraints) {}
		}

		stream, err := mediadevices.GetUserMedia(constraints)
		if err != nil {
			log.Debugf("GetUserMedia (%s) failed: %v", a.label, err)
			lastErr = err
			continue
		}
		tracks := stream.GetTracks()
		for _, t := range tracks {
			t.OnEnded(func(err error) {
				if err != nil {
					log.Warnf("local track ended: %v", err)
				}
			})
		}
		log.Infof("local media captured (%s), %d tracks", a.label, len(tracks))
		return &deviceMedia{tracks: tracks}, nil
	}

	if s.ReceiveOnly {
		log.Warnf("all capture attempts failed, proceeding receive-only")
		return &deviceMedia{}, nil
	}
	return nil, classify(lastErr)
}

// classify maps a driver error onto a MediaError reason.
func classify(err error) *MediaError {
	if err == nil {
		return &MediaError{Reason: MediaUnsupported}
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "busy"), strings.Contains(msg, "in use"):
		return &MediaError{Reason: MediaDeviceBusy, Err: err}
	case strings.Contains(msg, "permission"), strings.Contains(msg, "denied"),
		errors.Is(err, os.ErrPermission):
		return &MediaError{Reason: MediaPermissionDenied, Err: err}
	default:
		return &MediaError{Reason: MediaUnsupported, Err: err}
	}
}
