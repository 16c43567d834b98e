package call

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media/ivfwriter"
	"github.com/pion/webrtc/v4/pkg/media/oggwriter"
)

// packetWriter is implemented by the pion ivf and ogg writers.
type packetWriter interface {
	WriteRTP(p *rtp.Packet) error
	Close() error
}

// RecordTrack writes a remote track to dir until the track ends or ctx is
// cancelled: VP8 video to <id>.ivf, Opus audio to <id>.ogg. It returns the
// file path.
func RecordTrack(ctx context.Context, rt RemoteTrack, dir string) (string, error) {
	if rt.Track == nil {
		return "", errors.New("record: no track")
	}

	var (
		w    packetWriter
		path string
		err  error
	)
	name := sanitize(rt.ID)
	switch strings.ToLower(rt.Codec) {
	case strings.ToLower(webrtc.MimeTypeVP8):
		path = filepath.Join(dir, name+".ivf")
		w, err = ivfwriter.New(path)
	case strings.ToLower(webrtc.MimeTypeOpus):
		path = filepath.Join(dir, name+".ogg")
		w, err = oggwriter.New(path, 48000, 2)
	default:
		return "", fmt.Errorf("record: unsupported codec %q", rt.Codec)
	}
	if err != nil {
		return "", fmt.Errorf("record %s: %w", rt.ID, err)
	}

	return path, pump(ctx, rt.Track, w)
}

func pump(ctx context.Context, tr *webrtc.TrackRemote, w packetWriter) (err error) {
	defer func() {
		if cerr := w.Close(); cerr != nil {
			err = errors.Join(err, cerr)
		}
	}()
	for {
		if ctx.Err() != nil {
			return nil
		}
		pkt, _, rerr := tr.ReadRTP()
		if rerr != nil {
			if errors.Is(rerr, io.EOF) {
				return nil
			}
			return fmt.Errorf("read rtp: %w", rerr)
		}
		if werr := w.WriteRTP(pkt); werr != nil {
			return fmt.Errorf("write rtp: %w", werr)
		}
	}
}

func sanitize(id string) string {
	if id == "" {
		return "track"
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		}
		return '_'
	}, id)
}
