package webrtcpeer

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/mossy-p/webrtc-mesh/internal/mesh"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
)

// ErrNoDevice is returned when a capture device is asked for on a host that
// has none.
var ErrNoDevice = errors.New("no capture device")

// opusSilence is a single 20ms Opus frame of silence.
var opusSilence = []byte{0xf8, 0xff, 0xfe}

const silenceInterval = 20 * time.Millisecond

// Headless is the capturer of a client without camera or microphone. Every
// device capture fails, so acquisition falls through to placeholder tracks.
type Headless struct {
	// StreamID groups the placeholder tracks on the remote side.
	StreamID string
}

func (h Headless) Capture(ctx context.Context, audio, video bool) (*mesh.Source, error) {
	return nil, ErrNoDevice
}

// Placeholder returns a silent audio track, fed until the source is stopped,
// and an idle video track.
func (h Headless) Placeholder(ctx context.Context) (*mesh.Source, error) {
	streamID := h.StreamID
	if streamID == "" {
		streamID = "placeholder"
	}
	audio, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}, "audio", streamID)
	if err != nil {
		return nil, err
	}
	video, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}, "video", streamID)
	if err != nil {
		return nil, err
	}

	stop := make(chan struct{})
	go feedSilence(audio, stop)
	var once sync.Once
	return &mesh.Source{
		Audio: audio,
		Video: video,
		Stop:  func() { once.Do(func() { close(stop) }) },
	}, nil
}

// ScreenSource returns an idle video track standing in for a screen capture.
func ScreenSource(streamID string) (*mesh.Source, error) {
	video, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}, "screen", streamID)
	if err != nil {
		return nil, err
	}
	return &mesh.Source{Video: video}, nil
}

func feedSilence(track *webrtc.TrackLocalStaticSample, stop <-chan struct{}) {
	ticker := time.NewTicker(silenceInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			// Unbound tracks drop samples.
			_ = track.WriteSample(media.Sample{Data: opusSilence, Duration: silenceInterval})
		}
	}
}
