package mesh

import (
	"time"

	"github.com/pion/webrtc/v4"
)

// link is the client-local state for one remote peer. Owned by the loop.
type link struct {
	peer      string
	state     State
	createdAt time.Time

	transport Transport
	gen       uint64 // bumped on every transport rebuild

	// pending holds remote candidates that arrived before any remote
	// description was applied.
	pending []webrtc.ICECandidateInit

	attempts           int // re-offers since the last fresh offer
	rebuilds           int
	relayOnly          bool
	transportConnected bool
}

// LinkStatus is a read-only view of a link.
type LinkStatus struct {
	Peer      string
	State     State
	Attempts  int
	Rebuilds  int
	RelayOnly bool
	NextRetry time.Time
}
