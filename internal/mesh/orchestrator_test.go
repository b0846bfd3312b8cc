package mesh

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/mossy-p/webrtc-mesh/internal/models"
	"github.com/pion/webrtc/v4"
)

func newTrack(t *testing.T, kind, id string) webrtc.TrackLocal {
	t.Helper()
	mime := webrtc.MimeTypeVP8
	if kind == "audio" {
		mime = webrtc.MimeTypeOpus
	}
	track, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: mime}, id, "stream-"+id)
	if err != nil {
		t.Fatalf("NewTrackLocalStaticSample: %v", err)
	}
	return track
}

type stopCounter struct{ n int }

func (s *stopCounter) source(audio, video webrtc.TrackLocal) *Source {
	return &Source{Audio: audio, Video: video, Stop: func() { s.n++ }}
}

func TestIsInitiator(t *testing.T) {
	pairs := [][2]string{{"alice", "bob"}, {"peer-1", "peer-2"}, {"a", "aa"}}
	for _, p := range pairs {
		if IsInitiator(p[0], p[1]) == IsInitiator(p[1], p[0]) {
			t.Errorf("IsInitiator(%q, %q) must differ from its reverse", p[0], p[1])
		}
	}
	if !IsInitiator("alice", "bob") {
		t.Error("alice should initiate towards bob")
	}
}

func TestRoster_InitiatorOffers(t *testing.T) {
	h := newHarness(t, "alice", nil)
	h.roster("alice", "bob")

	if got := h.linkPeers(); !reflect.DeepEqual(got, []string{"bob"}) {
		t.Fatalf("links = %v, want [bob]", got)
	}
	if n := h.sent.count(models.SignalTypeOffer, "bob"); n != 1 {
		t.Fatalf("offers to bob = %d, want 1", n)
	}
	if st := h.state("bob"); st != StateAwaitingAnswer {
		t.Fatalf("state = %s, want awaiting-answer", st)
	}
	if got := h.pendingTimers("bob"); !reflect.DeepEqual(got, []timerKind{timerReoffer}) {
		t.Fatalf("pending timers = %v, want [reoffer]", got)
	}
}

func TestRoster_NonInitiatorWaits(t *testing.T) {
	h := newHarness(t, "carol", nil)
	h.roster("alice", "carol")

	if st := h.state("alice"); st != StateIdle {
		t.Fatalf("state = %s, want idle", st)
	}
	if msgs := h.sent.take(); len(msgs) != 0 {
		t.Fatalf("non-initiator sent %d messages", len(msgs))
	}
	if got := h.pendingTimers("alice"); len(got) != 0 {
		t.Fatalf("pending timers = %v, want none", got)
	}
}

func TestReoffer_RetryLadderThenFailed(t *testing.T) {
	h := newHarness(t, "alice", nil)
	h.roster("bob")
	ft := h.factory.latest("bob")

	for i := 1; i <= 3; i++ {
		h.advance(DefaultReofferTimeout)
		if got := ft.offerCount(); got != i+1 {
			t.Fatalf("after retry %d: offers = %d, want %d", i, got, i+1)
		}
		if h.state("bob") != StateAwaitingAnswer {
			t.Fatalf("after retry %d: state = %s", i, h.state("bob"))
		}
	}

	want := []bool{false, false, true, true}
	if !reflect.DeepEqual(ft.offers, want) {
		t.Fatalf("ice restart flags = %v, want %v", ft.offers, want)
	}

	h.advance(DefaultReofferTimeout)
	if st := h.state("bob"); st != StateFailed {
		t.Fatalf("state = %s, want failed", st)
	}
	if err := h.failed["bob"]; !errors.Is(err, ErrRetriesExhausted) {
		t.Fatalf("failure hook err = %v, want ErrRetriesExhausted", err)
	}
	var le *LinkError
	if !errors.As(h.failed["bob"], &le) || le.Peer != "bob" {
		t.Fatalf("failure err = %#v, want LinkError for bob", h.failed["bob"])
	}
	if got := h.pendingTimers("bob"); len(got) != 0 {
		t.Fatalf("pending timers after failure = %v", got)
	}

	h.advance(time.Minute)
	if got := ft.offerCount(); got != 4 {
		t.Fatalf("offers after failure = %d, want 4", got)
	}
}

func TestAnswer_ConnectsAndCancelsTimers(t *testing.T) {
	h := newHarness(t, "alice", nil)
	h.roster("bob")
	ft := h.connect("bob")

	if got := h.pendingTimers("bob"); len(got) != 0 {
		t.Fatalf("pending timers = %v, want none", got)
	}
	h.advance(time.Minute)
	if got := ft.offerCount(); got != 1 {
		t.Fatalf("offers = %d, want 1", got)
	}
	if h.state("bob") != StateConnected {
		t.Fatalf("state = %s", h.state("bob"))
	}
}

func TestAnswer_StaleAndUnknownDropped(t *testing.T) {
	h := newHarness(t, "alice", nil)
	h.roster("bob")
	ft := h.connect("bob")

	h.receive("bob", models.SignalTypeAnswer, models.SessionDescriptionPayload{Type: "answer", SDP: "dup"})
	if ft.remoteSets != 1 {
		t.Fatalf("remote descriptions applied = %d, want 1", ft.remoteSets)
	}
	if h.state("bob") != StateConnected {
		t.Fatalf("state = %s, want connected", h.state("bob"))
	}

	h.receive("zed", models.SignalTypeAnswer, models.SessionDescriptionPayload{Type: "answer", SDP: "x"})
	if _, ok := h.orch.links["zed"]; ok {
		t.Fatal("answer from unknown peer must not create a link")
	}
}

func TestCandidates_BufferedUntilRemoteDescription(t *testing.T) {
	h := newHarness(t, "carol", nil)
	h.roster("alice", "carol")

	h.receive("alice", models.SignalTypeCandidate, models.CandidatePayload{Candidate: "candidate:1", SDPMid: strptr("0")})
	h.receive("alice", models.SignalTypeCandidate, models.CandidatePayload{Candidate: "bad", SDPMid: strptr("0")})
	h.receive("alice", models.SignalTypeCandidate, models.CandidatePayload{Candidate: "candidate:2", SDPMid: strptr("0")})

	ft := h.factory.latest("alice")
	if len(ft.candidates) != 0 || len(h.orch.links["alice"].pending) != 3 {
		t.Fatalf("candidates applied early: applied=%d pending=%d", len(ft.candidates), len(h.orch.links["alice"].pending))
	}

	h.receive("alice", models.SignalTypeOffer, offerPayload("offer-alice"))
	if got := len(ft.candidates); got != 2 {
		t.Fatalf("applied candidates = %d, want 2", got)
	}
	if n := h.sent.count(models.SignalTypeAnswer, "alice"); n != 1 {
		t.Fatalf("answers = %d, want 1", n)
	}
	if st := h.state("alice"); st != StateAnswering {
		t.Fatalf("state = %s, want answering", st)
	}

	h.receive("alice", models.SignalTypeCandidate, models.CandidatePayload{Candidate: "candidate:3", SDPMid: strptr("0")})
	if got := len(ft.candidates); got != 3 {
		t.Fatalf("applied candidates = %d, want 3", got)
	}

	ft.setConnection(webrtc.PeerConnectionStateConnected)
	h.drain()
	if st := h.state("alice"); st != StateConnected {
		t.Fatalf("state = %s, want connected", st)
	}
}

func TestOffer_RejectedOfferRebuildsTransport(t *testing.T) {
	h := newHarness(t, "carol", nil)
	h.roster("alice", "carol")
	first := h.factory.latest("alice")
	first.rejectNext = true

	h.receive("alice", models.SignalTypeOffer, offerPayload("offer-after-rebuild"))

	if got := h.factory.count("alice"); got != 2 {
		t.Fatalf("transports = %d, want 2", got)
	}
	if !first.isClosed() {
		t.Fatal("rejected transport should be closed")
	}
	if n := h.sent.count(models.SignalTypeAnswer, "alice"); n != 1 {
		t.Fatalf("answers = %d, want 1", n)
	}
}

func TestCandidates_UnknownPeerDropped(t *testing.T) {
	h := newHarness(t, "alice", nil)
	h.roster("bob")
	h.connect("bob")
	h.deliver(models.PostSignalRequest{From: "bob", Type: models.SignalTypeBye})

	h.receive("bob", models.SignalTypeCandidate, models.CandidatePayload{Candidate: "candidate:9", SDPMid: strptr("0")})
	h.receive("zed", models.SignalTypeCandidate, models.CandidatePayload{Candidate: "candidate:1", SDPMid: strptr("0")})

	if got := h.linkPeers(); len(got) != 0 {
		t.Fatalf("links = %v, want none", got)
	}
	if got := h.factory.count("bob"); got != 1 {
		t.Fatalf("bob transports = %d, want 1", got)
	}
}

func newMeshPair(t *testing.T) (alice, bob *harness) {
	t.Helper()
	alice = newHarness(t, "alice", NewLocalMedia(MediaFull, (&stopCounter{}).source(newTrack(t, "audio", "a-mic"), newTrack(t, "video", "a-cam"))))
	bob = newHarness(t, "bob", NewLocalMedia(MediaFull, (&stopCounter{}).source(newTrack(t, "audio", "b-mic"), newTrack(t, "video", "b-cam"))))
	alice.roster("alice", "bob")
	bob.roster("alice", "bob")
	return alice, bob
}

func TestGlare_RenegotiationConverges(t *testing.T) {
	alice, bob := newMeshPair(t)
	exchange(t, alice, bob)
	aliceT, bobT := alice.factory.latest("bob"), bob.factory.latest("alice")
	aliceT.setConnection(webrtc.PeerConnectionStateConnected)
	bobT.setConnection(webrtc.PeerConnectionStateConnected)
	alice.drain()
	bob.drain()
	if alice.state("bob") != StateConnected || bob.state("alice") != StateConnected {
		t.Fatalf("states alice=%s bob=%s, want connected", alice.state("bob"), bob.state("alice"))
	}

	// Both start sharing at the same moment, so their offers cross.
	aliceScreen := newTrack(t, "video", "a-screen")
	alice.swap(&Source{Video: aliceScreen})
	bob.swap(&Source{Video: newTrack(t, "video", "b-screen")})

	fromAlice, fromBob := alice.sent.take(), bob.sent.take()
	for _, m := range fromAlice {
		bob.deliver(m)
	}
	for _, m := range fromBob {
		alice.deliver(m)
	}

	if aliceT.rollbacks != 1 || bobT.rollbacks != 1 {
		t.Fatalf("rollbacks alice=%d bob=%d, want 1 each", aliceT.rollbacks, bobT.rollbacks)
	}
	if got := bob.pendingTimers("alice"); len(got) != 0 {
		t.Fatalf("non-initiator kept timers %v", got)
	}
	// The initiator answers, then offers again for its own change.
	if st := alice.state("bob"); st != StateAwaitingAnswer {
		t.Fatalf("initiator state = %s, want awaiting-answer", st)
	}
	if got := alice.pendingTimers("bob"); !reflect.DeepEqual(got, []timerKind{timerReoffer}) {
		t.Fatalf("initiator timers = %v, want [reoffer]", got)
	}

	exchange(t, alice, bob)

	if alice.state("bob") != StateConnected || bob.state("alice") != StateConnected {
		t.Fatalf("states alice=%s bob=%s, want connected", alice.state("bob"), bob.state("alice"))
	}
	if len(alice.pendingTimers("bob")) != 0 || len(bob.pendingTimers("alice")) != 0 {
		t.Fatal("timers left after convergence")
	}
	if got := aliceT.offerCount(); got != 3 {
		t.Fatalf("alice offers = %d, want 3", got)
	}
	if aliceT.video != aliceScreen {
		t.Fatal("alice is not sending her screen")
	}
}

func TestSwapVideo_NonInitiatorWaitsOnFreshLink(t *testing.T) {
	alice, bob := newMeshPair(t)

	screen := newTrack(t, "video", "b-screen")
	bob.swap(&Source{Video: screen})

	bobT := bob.factory.latest("alice")
	if got := bobT.offerCount(); got != 0 {
		t.Fatalf("non-initiator offered %d times on a fresh link", got)
	}
	if st := bob.state("alice"); st != StateIdle {
		t.Fatalf("state = %s, want idle", st)
	}
	if got := bob.pendingTimers("alice"); len(got) != 0 {
		t.Fatalf("pending timers = %v, want none", got)
	}
	if bobT.video != screen {
		t.Fatal("screen not installed on the fresh link")
	}

	exchange(t, alice, bob)
	if bobT.rollbacks != 0 {
		t.Fatalf("rollbacks = %d, want 0", bobT.rollbacks)
	}
	if got := bobT.answerCount(); got != 1 {
		t.Fatalf("answers = %d, want 1", got)
	}
}

func TestSwapVideo_RenegotiatesEveryLink(t *testing.T) {
	camera := &stopCounter{}
	screen := &stopCounter{}
	camVideo := newTrack(t, "video", "camera")
	media := NewLocalMedia(MediaFull, camera.source(newTrack(t, "audio", "mic"), camVideo))
	h := newHarness(t, "alice", media)

	h.roster("bob", "carol", "dave")
	peers := h.linkPeers()
	for _, p := range peers {
		h.connect(p)
	}

	screenVideo := newTrack(t, "video", "screen")
	h.swap(screen.source(nil, screenVideo))

	for _, p := range peers {
		ft := h.factory.latest(p)
		if ft.replaced != 1 || ft.video != screenVideo {
			t.Errorf("%s: replaced=%d, video is screen=%v", p, ft.replaced, ft.video == screenVideo)
		}
		if got := ft.offerCount(); got != 2 {
			t.Errorf("%s: offers = %d, want 2", p, got)
		}
		if ft.isClosed() {
			t.Errorf("%s: transport closed by swap", p)
		}
		if got := h.factory.count(p); got != 1 {
			t.Errorf("%s: transports = %d, want 1", p, got)
		}
	}
	if !media.Sharing() {
		t.Fatal("media should report sharing")
	}

	h.swap(nil)
	for _, p := range peers {
		if ft := h.factory.latest(p); ft.video != camVideo {
			t.Errorf("%s: camera not restored", p)
		}
	}
	if screen.n != 1 {
		t.Fatalf("screen stopped %d times, want 1", screen.n)
	}
	if camera.n != 0 {
		t.Fatalf("camera stopped %d times by swap", camera.n)
	}

	media.Close()
	media.Close()
	if camera.n != 1 {
		t.Fatalf("camera stopped %d times after Close, want 1", camera.n)
	}
}

func TestSwapVideo_FailedReplaceRebuildsLink(t *testing.T) {
	camera := &stopCounter{}
	screen := &stopCounter{}
	camVideo := newTrack(t, "video", "camera")
	media := NewLocalMedia(MediaFull, camera.source(newTrack(t, "audio", "mic"), camVideo))
	h := newHarness(t, "alice", media)
	h.roster("bob", "carol")
	h.connect("bob")
	h.connect("carol")

	screenVideo := newTrack(t, "video", "screen")
	h.swap(screen.source(nil, screenVideo))

	h.factory.latest("bob").failVideo = true
	h.swap(nil)

	if screen.n != 1 {
		t.Fatalf("screen stopped %d times, want 1", screen.n)
	}
	if got := h.factory.count("bob"); got != 2 {
		t.Fatalf("bob transports = %d, want 2", got)
	}
	for _, p := range []string{"bob", "carol"} {
		for i, ft := range h.factory.transports[p] {
			if !ft.isClosed() && ft.video == screenVideo {
				t.Errorf("%s transport %d still sends the stopped screen", p, i)
			}
		}
	}
	fresh := h.factory.latest("bob")
	if fresh.cfg.Video != camVideo {
		t.Fatal("rebuilt transport should carry the camera")
	}
	if fresh.offerCount() != 1 || h.state("bob") != StateAwaitingAnswer {
		t.Fatalf("rebuilt link: offers=%d state=%s", fresh.offerCount(), h.state("bob"))
	}
	if h.state("carol") != StateAwaitingAnswer || h.factory.count("carol") != 1 {
		t.Fatalf("carol: state=%s transports=%d", h.state("carol"), h.factory.count("carol"))
	}
}

func TestSwapVideo_WithoutMedia(t *testing.T) {
	h := newHarness(t, "alice", nil)
	done := make(chan error, 1)
	h.orch.handle(swapEvent{src: &Source{}, done: done})
	if err := <-done; !errors.Is(err, ErrNoMedia) {
		t.Fatalf("err = %v, want ErrNoMedia", err)
	}
}

func TestBye_ClosesOnlySender(t *testing.T) {
	h := newHarness(t, "alice", nil)
	h.roster("bob", "carol")
	bobT := h.connect("bob")
	carolT := h.connect("carol")

	h.deliver(models.PostSignalRequest{From: "bob", Type: models.SignalTypeBye})

	if _, ok := h.orch.links["bob"]; ok {
		t.Fatal("bob link still present after bye")
	}
	if !bobT.isClosed() {
		t.Fatal("bob transport not closed")
	}
	if carolT.isClosed() || h.state("carol") != StateConnected {
		t.Fatalf("carol affected by bob's bye: closed=%v state=%s", carolT.isClosed(), h.state("carol"))
	}
}

func TestRoster_PrunesDepartedPeers(t *testing.T) {
	h := newHarness(t, "alice", nil)
	h.roster("bob", "carol")
	h.connect("bob")
	h.connect("carol")

	fetched := h.clock.Now()
	h.advance(time.Second)
	// erin's offer arrives after the roster below was fetched.
	h.receive("erin", models.SignalTypeOffer, offerPayload("offer-erin"))

	h.orch.UpdateRoster([]string{"carol"}, fetched.Add(500*time.Millisecond))
	h.drain()

	if got := h.linkPeers(); !reflect.DeepEqual(got, []string{"carol", "erin"}) {
		t.Fatalf("links = %v, want [carol erin]", got)
	}
	if h.states["bob"][len(h.states["bob"])-1] != StateClosed {
		t.Fatalf("bob state history %v should end closed", h.states["bob"])
	}

	h.advance(time.Second)
	h.roster("carol")
	if got := h.linkPeers(); !reflect.DeepEqual(got, []string{"carol"}) {
		t.Fatalf("links = %v, want [carol]", got)
	}
}

func TestDegraded_GraceThenRebuild(t *testing.T) {
	h := newHarness(t, "alice", nil)
	h.roster("bob")
	old := h.connect("bob")

	old.setConnection(webrtc.PeerConnectionStateDisconnected)
	h.drain()
	if st := h.state("bob"); st != StateRecovering {
		t.Fatalf("state = %s, want recovering", st)
	}
	if got := h.pendingTimers("bob"); !reflect.DeepEqual(got, []timerKind{timerGrace}) {
		t.Fatalf("timers = %v, want [grace]", got)
	}

	h.advance(DefaultDegradedGrace)
	if got := h.factory.count("bob"); got != 2 {
		t.Fatalf("transports = %d, want 2", got)
	}
	fresh := h.factory.latest("bob")
	if !old.isClosed() {
		t.Fatal("old transport not closed")
	}
	if fresh.cfg.RelayOnly {
		t.Fatal("degraded rebuild should keep the ICE policy")
	}
	if fresh.offerCount() != 1 || h.state("bob") != StateAwaitingAnswer {
		t.Fatalf("rebuilt link: offers=%d state=%s", fresh.offerCount(), h.state("bob"))
	}

	// Late events from the replaced transport are ignored.
	old.setConnection(webrtc.PeerConnectionStateConnected)
	h.drain()
	if st := h.state("bob"); st != StateAwaitingAnswer {
		t.Fatalf("stale transport event changed state to %s", st)
	}
}

func TestDegraded_RecoversWithinGrace(t *testing.T) {
	h := newHarness(t, "alice", nil)
	h.roster("bob")
	ft := h.connect("bob")

	ft.setConnection(webrtc.PeerConnectionStateDisconnected)
	h.drain()
	h.advance(2 * time.Second)
	ft.setConnection(webrtc.PeerConnectionStateConnected)
	h.drain()

	if st := h.state("bob"); st != StateConnected {
		t.Fatalf("state = %s, want connected", st)
	}
	h.advance(time.Minute)
	if got := h.factory.count("bob"); got != 1 {
		t.Fatalf("transports = %d, want 1", got)
	}
}

func TestHardFailure_RelayOnlyRebuild(t *testing.T) {
	h := newHarness(t, "alice", nil)
	h.roster("bob")
	old := h.connect("bob")

	old.setConnection(webrtc.PeerConnectionStateFailed)
	h.drain()

	fresh := h.factory.latest("bob")
	if fresh == old {
		t.Fatal("transport not rebuilt")
	}
	if !fresh.cfg.RelayOnly {
		t.Fatal("hard failure rebuild should be relay-only")
	}
	if fresh.offerCount() != 1 {
		t.Fatalf("offers on rebuilt transport = %d, want 1", fresh.offerCount())
	}
	status := h.orch.snapshot()
	if len(status) != 1 || !status[0].RelayOnly || status[0].Rebuilds != 1 {
		t.Fatalf("snapshot = %+v", status)
	}
	if want := h.clock.Now().Add(DefaultReofferTimeout); !status[0].NextRetry.Equal(want) {
		t.Fatalf("next retry = %v, want %v", status[0].NextRetry, want)
	}
}

func TestFailed_IgnoresLateTransportEvents(t *testing.T) {
	h := newHarness(t, "alice", nil)
	h.roster("bob")
	ft := h.factory.latest("bob")
	for i := 0; i <= DefaultMaxRetries; i++ {
		h.advance(DefaultReofferTimeout)
	}
	if st := h.state("bob"); st != StateFailed {
		t.Fatalf("state = %s, want failed", st)
	}

	ft.setConnection(webrtc.PeerConnectionStateFailed)
	h.drain()
	ft.setConnection(webrtc.PeerConnectionStateDisconnected)
	h.drain()
	h.advance(time.Minute)

	if st := h.state("bob"); st != StateFailed {
		t.Fatalf("state = %s, want failed", st)
	}
	if got := h.factory.count("bob"); got != 1 {
		t.Fatalf("transports = %d, want 1", got)
	}
	if got := ft.offerCount(); got != DefaultMaxRetries+1 {
		t.Fatalf("offers = %d, want %d", got, DefaultMaxRetries+1)
	}
	if got := h.pendingTimers("bob"); len(got) != 0 {
		t.Fatalf("pending timers = %v, want none", got)
	}
}

func TestRebuild_CapMarksFailed(t *testing.T) {
	h := newHarness(t, "alice", nil)
	h.roster("bob")

	for i := 0; i <= DefaultMaxRebuilds; i++ {
		h.factory.latest("bob").setConnection(webrtc.PeerConnectionStateFailed)
		h.drain()
	}

	if got := h.factory.count("bob"); got != DefaultMaxRebuilds+1 {
		t.Fatalf("transports = %d, want %d", got, DefaultMaxRebuilds+1)
	}
	if st := h.state("bob"); st != StateFailed {
		t.Fatalf("state = %s, want failed", st)
	}
	if !errors.Is(h.failed["bob"], ErrRebuildsExhausted) {
		t.Fatalf("failure err = %v", h.failed["bob"])
	}

	// A new offer from the remote side revives the link on a fresh transport.
	h.receive("bob", models.SignalTypeOffer, offerPayload("offer-again"))
	if got := h.factory.count("bob"); got != DefaultMaxRebuilds+2 {
		t.Fatalf("transports = %d, want %d", got, DefaultMaxRebuilds+2)
	}
	if st := h.state("bob"); st != StateAnswering {
		t.Fatalf("state = %s, want answering", st)
	}
	if l := h.orch.links["bob"]; l.rebuilds != 0 || l.attempts != 0 {
		t.Fatalf("counters not reset: rebuilds=%d attempts=%d", l.rebuilds, l.attempts)
	}
}

func TestSignal_IgnoresOthersAndSelf(t *testing.T) {
	h := newHarness(t, "carol", nil)

	h.deliver(models.PostSignalRequest{From: "alice", To: "bob", Type: models.SignalTypeOffer, Payload: []byte(`{"type":"offer","sdp":"x"}`)})
	h.deliver(models.PostSignalRequest{From: "carol", Type: models.SignalTypeChat, Payload: []byte(`{"text":"echo"}`)})

	if len(h.orch.links) != 0 {
		t.Fatalf("links = %v, want none", h.linkPeers())
	}
	if len(h.chats) != 0 {
		t.Fatalf("own chat delivered: %v", h.chats)
	}
}

func TestSignal_ChatHook(t *testing.T) {
	h := newHarness(t, "carol", nil)
	h.receive("alice", models.SignalTypeChat, models.ChatPayload{Text: "hello", SenderName: "Alice"})
	h.deliver(models.PostSignalRequest{From: "alice", Type: models.SignalTypeChat, Payload: []byte(`not json`)})

	if len(h.chats) != 1 || h.chats[0].Text != "hello" {
		t.Fatalf("chats = %+v", h.chats)
	}
}

func TestRun_ShutdownClosesLinks(t *testing.T) {
	clock := newFakeClock()
	factory := newFakeFactory()
	o := New(Config{Self: "alice", Clock: clock}, Deps{Factory: factory, Sender: &recordSender{}})

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- o.Run(ctx) }()

	o.UpdateRoster([]string{"bob", "carol"}, clock.Now())
	links, err := o.Links(ctx)
	if err != nil {
		t.Fatalf("Links: %v", err)
	}
	if len(links) != 2 {
		t.Fatalf("links = %+v, want 2", links)
	}

	cancel()
	if err := <-errc; err != nil {
		t.Fatalf("Run: %v", err)
	}
	for _, p := range []string{"bob", "carol"} {
		if !factory.latest(p).isClosed() {
			t.Errorf("%s transport left open", p)
		}
	}
	if _, err := o.Links(context.Background()); !errors.Is(err, ErrClosed) {
		t.Fatalf("Links after shutdown err = %v, want ErrClosed", err)
	}
}
