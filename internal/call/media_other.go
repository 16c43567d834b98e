//go:build !linux

package call

import (
	"context"
	"errors"

	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"
)

// newAPI uses the default codecs; there is no local capture on this platform.
func newAPI() (*webrtc.API, error) {
	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, err
	}
	registry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, registry); err != nil {
		return nil, err
	}
	return webrtc.NewAPI(
		webrtc.WithMediaEngine(mediaEngine),
		webrtc.WithInterceptorRegistry(registry),
	), nil
}

// DeviceSource reports capture as unsupported, or hands out an empty track
// set when ReceiveOnly is set.
type DeviceSource struct {
	ReceiveOnly bool
}

type noMedia struct{}

func (noMedia) Tracks() []webrtc.TrackLocal { return nil }
func (noMedia) Stop()                       {}

func (s DeviceSource) Acquire(ctx context.Context, _ Kind) (LocalMedia, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.ReceiveOnly {
		log.Infof("no local capture on this platform, receive-only")
		return noMedia{}, nil
	}
	return nil, &MediaError{Reason: MediaUnsupported, Err: errors.New("no capture drivers on this platform")}
}
