package mesh

import (
	"context"
	"log/slog"
	"sync"

	"github.com/pion/webrtc/v4"
)

// MediaMode is the rung of the acquisition ladder the local media ended on.
type MediaMode int

const (
	MediaFull MediaMode = iota
	MediaAudioOnly
	MediaPlaceholder
	MediaReceiveOnly
)

func (m MediaMode) String() string {
	switch m {
	case MediaFull:
		return "full"
	case MediaAudioOnly:
		return "audio-only"
	case MediaPlaceholder:
		return "placeholder"
	case MediaReceiveOnly:
		return "receive-only"
	}
	return "unknown"
}

// ParseMediaMode accepts the String forms plus "audio" and "none".
func ParseMediaMode(s string) (MediaMode, bool) {
	switch s {
	case "full", "":
		return MediaFull, true
	case "audio", "audio-only":
		return MediaAudioOnly, true
	case "placeholder":
		return MediaPlaceholder, true
	case "none", "receive-only":
		return MediaReceiveOnly, true
	}
	return MediaFull, false
}

// Source is a set of captured tracks plus the release of the capture
// behind them.
type Source struct {
	Audio webrtc.TrackLocal
	Video webrtc.TrackLocal
	Stop  func()
}

func (s *Source) stop() {
	if s != nil && s.Stop != nil {
		s.Stop()
	}
}

// Capturer opens local capture devices.
type Capturer interface {
	Capture(ctx context.Context, audio, video bool) (*Source, error)
	// Placeholder returns synthetic tracks used when no device works.
	Placeholder(ctx context.Context) (*Source, error)
}

// LocalMedia is the single local source shared by every link. Closing a
// link never stops it; only Close does.
type LocalMedia struct {
	mu     sync.Mutex
	mode   MediaMode
	camera *Source
	screen *Source
	closed bool
}

// AcquireMedia walks the fallback ladder from start: full, audio-only,
// placeholder, receive-only. It never fails; receive-only needs no device.
func AcquireMedia(ctx context.Context, c Capturer, start MediaMode) *LocalMedia {
	if c == nil {
		return &LocalMedia{mode: MediaReceiveOnly}
	}
	for mode := start; mode < MediaReceiveOnly; mode++ {
		var (
			src *Source
			err error
		)
		switch mode {
		case MediaFull:
			src, err = c.Capture(ctx, true, true)
		case MediaAudioOnly:
			src, err = c.Capture(ctx, true, false)
		case MediaPlaceholder:
			src, err = c.Placeholder(ctx)
		}
		if err == nil && src != nil {
			slog.Info("local media acquired", "mode", mode)
			return &LocalMedia{mode: mode, camera: src}
		}
		slog.Warn("media acquisition failed, falling back", "mode", mode, "err", err)
	}
	slog.Info("joining receive-only")
	return &LocalMedia{mode: MediaReceiveOnly}
}

// NewLocalMedia wraps an already captured source.
func NewLocalMedia(mode MediaMode, camera *Source) *LocalMedia {
	return &LocalMedia{mode: mode, camera: camera}
}

func (m *LocalMedia) Mode() MediaMode {
	if m == nil {
		return MediaReceiveOnly
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mode
}

func (m *LocalMedia) AudioTrack() webrtc.TrackLocal {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.camera == nil {
		return nil
	}
	return m.camera.Audio
}

// VideoTrack is the outgoing video: the screen source while one is active,
// otherwise the camera.
func (m *LocalMedia) VideoTrack() webrtc.TrackLocal {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.screen != nil && m.screen.Video != nil {
		return m.screen.Video
	}
	if m.camera == nil {
		return nil
	}
	return m.camera.Video
}

// Sharing reports whether a screen source replaces the camera.
func (m *LocalMedia) Sharing() bool {
	if m == nil {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.screen != nil
}

// setScreen installs src and returns the screen source it displaced.
func (m *LocalMedia) setScreen(src *Source) *Source {
	m.mu.Lock()
	defer m.mu.Unlock()
	prev := m.screen
	m.screen = src
	return prev
}

func (m *LocalMedia) Close() {
	if m == nil {
		return
	}
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	screen, camera := m.screen, m.camera
	m.screen, m.camera = nil, nil
	m.mu.Unlock()

	screen.stop()
	camera.stop()
}
