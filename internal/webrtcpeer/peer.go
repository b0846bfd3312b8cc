// Package webrtcpeer implements mesh transports on top of pion/webrtc.
package webrtcpeer

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/mossy-p/webrtc-mesh/internal/ice"
	"github.com/mossy-p/webrtc-mesh/internal/logging"
	"github.com/mossy-p/webrtc-mesh/internal/mesh"
	"github.com/pion/webrtc/v4"
)

// NewAPI builds the pion API shared by every transport: default codecs and
// pion's own logs routed through the LOG_LEVEL-aware factory.
func NewAPI() (*webrtc.API, error) {
	m := &webrtc.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}
	se := webrtc.SettingEngine{
		LoggerFactory: logging.PionLoggerFactory(),
	}
	return webrtc.NewAPI(webrtc.WithMediaEngine(m), webrtc.WithSettingEngine(se)), nil
}

// Factory creates pion-backed transports.
type Factory struct {
	api *webrtc.API
}

func NewFactory() (*Factory, error) {
	api, err := NewAPI()
	if err != nil {
		return nil, err
	}
	return &Factory{api: api}, nil
}

func (f *Factory) NewTransport(cfg mesh.TransportConfig, events mesh.TransportEvents) (mesh.Transport, error) {
	pc, err := f.api.NewPeerConnection(webrtc.Configuration{
		ICEServers:         cfg.ICEServers,
		ICETransportPolicy: ice.TransportPolicy(cfg.RelayOnly),
	})
	if err != nil {
		return nil, fmt.Errorf("new peer connection: %w", err)
	}

	p := &Peer{peer: cfg.Peer, pc: pc}
	if err := p.addMedia(cfg.Audio, cfg.Video); err != nil {
		_ = pc.Close()
		return nil, err
	}

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		// nil marks the end of gathering; nothing to relay.
		if c == nil || events.OnICECandidate == nil {
			return
		}
		events.OnICECandidate(c.ToJSON())
	})
	pc.OnConnectionStateChange(func(st webrtc.PeerConnectionState) {
		if events.OnConnectionStateChange != nil {
			events.OnConnectionStateChange(st)
		}
	})
	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		slog.Debug("remote track", "peer", cfg.Peer, "kind", track.Kind(), "codec", track.Codec().MimeType)
		if events.OnTrack != nil {
			events.OnTrack(track)
		}
	})
	return p, nil
}

// Peer is one pion PeerConnection to a remote peer.
type Peer struct {
	peer string
	pc   *webrtc.PeerConnection

	mu          sync.Mutex
	videoSender *webrtc.RTPSender
}

// addMedia sends the given tracks. A missing track still gets a receive-only
// transceiver so the remote side's media is negotiated.
func (p *Peer) addMedia(audio, video webrtc.TrackLocal) error {
	if audio != nil {
		sender, err := p.pc.AddTrack(audio)
		if err != nil {
			return fmt.Errorf("add audio track: %w", err)
		}
		go drainRTCP(sender)
	} else if _, err := p.pc.AddTransceiverFromKind(webrtc.RTPCodecTypeAudio, webrtc.RTPTransceiverInit{
		Direction: webrtc.RTPTransceiverDirectionRecvonly,
	}); err != nil {
		return fmt.Errorf("add audio transceiver: %w", err)
	}

	if video != nil {
		sender, err := p.pc.AddTrack(video)
		if err != nil {
			return fmt.Errorf("add video track: %w", err)
		}
		p.videoSender = sender
		go drainRTCP(sender)
	} else if _, err := p.pc.AddTransceiverFromKind(webrtc.RTPCodecTypeVideo, webrtc.RTPTransceiverInit{
		Direction: webrtc.RTPTransceiverDirectionRecvonly,
	}); err != nil {
		return fmt.Errorf("add video transceiver: %w", err)
	}
	return nil
}

// drainRTCP reads incoming RTCP so interceptors keep running. It returns when
// the sender is stopped.
func drainRTCP(sender *webrtc.RTPSender) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := sender.Read(buf); err != nil {
			return
		}
	}
}

func (p *Peer) CreateOffer(iceRestart bool) (webrtc.SessionDescription, error) {
	offer, err := p.pc.CreateOffer(&webrtc.OfferOptions{ICERestart: iceRestart})
	if err != nil {
		return webrtc.SessionDescription{}, err
	}
	if err := p.pc.SetLocalDescription(offer); err != nil {
		return webrtc.SessionDescription{}, err
	}
	return offer, nil
}

func (p *Peer) CreateAnswer() (webrtc.SessionDescription, error) {
	answer, err := p.pc.CreateAnswer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, err
	}
	if err := p.pc.SetLocalDescription(answer); err != nil {
		return webrtc.SessionDescription{}, err
	}
	return answer, nil
}

func (p *Peer) SetRemoteDescription(sd webrtc.SessionDescription) error {
	return p.pc.SetRemoteDescription(sd)
}

func (p *Peer) Rollback() error {
	// pion parses the SDP of every local description, rollbacks included.
	sd := webrtc.SessionDescription{Type: webrtc.SDPTypeRollback}
	if pending := p.pc.PendingLocalDescription(); pending != nil {
		sd.SDP = pending.SDP
	}
	return p.pc.SetLocalDescription(sd)
}

func (p *Peer) AddICECandidate(c webrtc.ICECandidateInit) error {
	return p.pc.AddICECandidate(c)
}

func (p *Peer) SignalingState() webrtc.SignalingState {
	return p.pc.SignalingState()
}

func (p *Peer) HasRemoteDescription() bool {
	return p.pc.RemoteDescription() != nil
}

var errNoVideo = errors.New("no video track to send")

func (p *Peer) ReplaceVideo(track webrtc.TrackLocal) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.videoSender != nil {
		return p.videoSender.ReplaceTrack(track)
	}
	if track == nil {
		return errNoVideo
	}
	tr, err := p.pc.AddTransceiverFromTrack(track, webrtc.RTPTransceiverInit{
		Direction: webrtc.RTPTransceiverDirectionSendonly,
	})
	if err != nil {
		return fmt.Errorf("add video sender: %w", err)
	}
	p.videoSender = tr.Sender()
	go drainRTCP(p.videoSender)
	return nil
}

func (p *Peer) Close() error {
	return p.pc.Close()
}
