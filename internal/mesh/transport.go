package mesh

import "github.com/pion/webrtc/v4"

// TransportConfig describes one peer connection to build.
type TransportConfig struct {
	Peer       string
	ICEServers []webrtc.ICEServer
	RelayOnly  bool

	// Audio and Video are the local tracks to send. A nil track gets a
	// receive-only transceiver so the remote side can still send to us.
	Audio webrtc.TrackLocal
	Video webrtc.TrackLocal
}

// TransportEvents are invoked from the transport's own goroutines.
type TransportEvents struct {
	OnICECandidate          func(webrtc.ICECandidateInit)
	OnConnectionStateChange func(webrtc.PeerConnectionState)
	OnTrack                 func(*webrtc.TrackRemote)
}

// Transport is one direct peer connection. Its methods are called only from
// the orchestrator loop.
type Transport interface {
	// CreateOffer creates an offer and applies it as the local description.
	CreateOffer(iceRestart bool) (webrtc.SessionDescription, error)
	// CreateAnswer creates an answer and applies it as the local description.
	CreateAnswer() (webrtc.SessionDescription, error)
	SetRemoteDescription(webrtc.SessionDescription) error
	// Rollback discards a pending local offer.
	Rollback() error
	AddICECandidate(webrtc.ICECandidateInit) error
	SignalingState() webrtc.SignalingState
	HasRemoteDescription() bool
	// ReplaceVideo swaps the outgoing video track in place, or adds a
	// send-only sender when none exists.
	ReplaceVideo(track webrtc.TrackLocal) error
	Close() error
}

type TransportFactory interface {
	NewTransport(cfg TransportConfig, events TransportEvents) (Transport, error)
}
