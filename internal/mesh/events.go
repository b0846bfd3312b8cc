package mesh

import (
	"time"

	"github.com/mossy-p/webrtc-mesh/internal/models"
	"github.com/pion/webrtc/v4"
)

// event is anything the orchestrator loop handles.
type event interface{}

type signalEvent struct {
	msg models.SignalMessage
}

type rosterEvent struct {
	peers []string
	at    time.Time
}

// Transport callbacks carry the generation of the transport that raised
// them so events from a replaced transport are ignored.
type candidateEvent struct {
	peer      string
	gen       uint64
	candidate webrtc.ICECandidateInit
}

type connStateEvent struct {
	peer  string
	gen   uint64
	state webrtc.PeerConnectionState
}

type trackEvent struct {
	peer  string
	gen   uint64
	track *webrtc.TrackRemote
}

type timerEvent struct {
	key timerKey
	seq uint64
}

// swapEvent with a nil src restores the camera.
type swapEvent struct {
	src  *Source
	done chan error
}

type queryEvent struct {
	fn   func()
	done chan error
}
