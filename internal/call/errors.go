package call

import (
	"errors"
	"fmt"
)

var (
	// ErrBusy rejects an outgoing call while another call is in progress.
	ErrBusy = errors.New("call already in progress")
	// ErrNoCall is returned by operations that need a current call.
	ErrNoCall = errors.New("no call in progress")
	// ErrInvalidPhase is returned when an operation does not fit the current phase.
	ErrInvalidPhase = errors.New("invalid call phase")
	// ErrSuperseded is returned when the call ended while the operation was
	// awaiting media or signaling.
	ErrSuperseded = errors.New("call superseded")

	ErrMediaAcquisition = errors.New("media acquisition failed")
	ErrSignaling        = errors.New("signaling failed")
)

// MediaReason classifies a media acquisition failure.
type MediaReason string

const (
	MediaPermissionDenied MediaReason = "permission-denied"
	MediaDeviceBusy       MediaReason = "device-busy"
	MediaUnsupported      MediaReason = "unsupported"
)

// MediaError reports why local tracks could not be acquired.
type MediaError struct {
	Reason MediaReason
	Err    error
}

func (e *MediaError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("media %s: %v", e.Reason, e.Err)
	}
	return "media " + string(e.Reason)
}

func (e *MediaError) Unwrap() error { return e.Err }

func (e *MediaError) Is(target error) bool { return target == ErrMediaAcquisition }

// SignalingError reports a malformed or unexpected signal payload.
type SignalingError struct {
	Event string
	Err   error
}

func (e *SignalingError) Error() string {
	return fmt.Sprintf("signaling %s: %v", e.Event, e.Err)
}

func (e *SignalingError) Unwrap() error { return e.Err }

func (e *SignalingError) Is(target error) bool { return target == ErrSignaling }
