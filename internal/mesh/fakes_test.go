package mesh

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/mossy-p/webrtc-mesh/internal/models"
	"github.com/pion/webrtc/v4"
)

type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

type fakeTimer struct {
	at      time.Time
	f       func()
	stopped bool
	fired   bool
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{at: c.now.Add(d), f: f}
	c.timers = append(c.timers, t)
	return &fakeTimerHandle{c: c, t: t}
}

type fakeTimerHandle struct {
	c *fakeClock
	t *fakeTimer
}

func (h *fakeTimerHandle) Stop() bool {
	h.c.mu.Lock()
	defer h.c.mu.Unlock()
	active := !h.t.stopped && !h.t.fired
	h.t.stopped = true
	return active
}

// Advance moves time forward, firing due timers in order.
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now.Add(d)
	c.mu.Unlock()
	for {
		c.mu.Lock()
		var next *fakeTimer
		for _, t := range c.timers {
			if t.stopped || t.fired || t.at.After(target) {
				continue
			}
			if next == nil || t.at.Before(next.at) {
				next = t
			}
		}
		if next == nil {
			c.now = target
			c.mu.Unlock()
			return
		}
		next.fired = true
		c.now = next.at
		c.mu.Unlock()
		next.f()
	}
}

type fakeTransport struct {
	mu sync.Mutex

	cfg    TransportConfig
	events TransportEvents

	signaling  webrtc.SignalingState
	remote     *webrtc.SessionDescription
	offers     []bool // ICE restart flag of each offer
	answers    int
	remoteSets int
	rollbacks  int
	candidates []webrtc.ICECandidateInit
	video      webrtc.TrackLocal
	replaced   int
	closed     bool
	rejectNext bool
	failVideo  bool
}

func (t *fakeTransport) CreateOffer(iceRestart bool) (webrtc.SessionDescription, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return webrtc.SessionDescription{}, errors.New("closed")
	}
	t.offers = append(t.offers, iceRestart)
	t.signaling = webrtc.SignalingStateHaveLocalOffer
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: fmt.Sprintf("offer-%s-%d", t.cfg.Peer, len(t.offers))}, nil
}

func (t *fakeTransport) CreateAnswer() (webrtc.SessionDescription, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.signaling != webrtc.SignalingStateHaveRemoteOffer {
		return webrtc.SessionDescription{}, errors.New("no remote offer")
	}
	t.answers++
	t.signaling = webrtc.SignalingStateStable
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: fmt.Sprintf("answer-%s-%d", t.cfg.Peer, t.answers)}, nil
}

func (t *fakeTransport) SetRemoteDescription(sd webrtc.SessionDescription) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.rejectNext {
		t.rejectNext = false
		return errors.New("rejected")
	}
	switch sd.Type {
	case webrtc.SDPTypeOffer:
		if t.signaling == webrtc.SignalingStateHaveLocalOffer {
			return errors.New("offer in have-local-offer")
		}
		t.signaling = webrtc.SignalingStateHaveRemoteOffer
	case webrtc.SDPTypeAnswer:
		if t.signaling != webrtc.SignalingStateHaveLocalOffer {
			return errors.New("answer without local offer")
		}
		t.signaling = webrtc.SignalingStateStable
	}
	t.remote = &sd
	t.remoteSets++
	return nil
}

func (t *fakeTransport) Rollback() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.signaling != webrtc.SignalingStateHaveLocalOffer {
		return errors.New("nothing to roll back")
	}
	t.rollbacks++
	t.signaling = webrtc.SignalingStateStable
	return nil
}

func (t *fakeTransport) AddICECandidate(c webrtc.ICECandidateInit) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.remote == nil {
		return errors.New("no remote description")
	}
	if c.Candidate == "bad" {
		return errors.New("malformed candidate")
	}
	t.candidates = append(t.candidates, c)
	return nil
}

func (t *fakeTransport) SignalingState() webrtc.SignalingState {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.signaling == webrtc.SignalingStateUnknown {
		return webrtc.SignalingStateStable
	}
	return t.signaling
}

func (t *fakeTransport) HasRemoteDescription() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.remote != nil
}

func (t *fakeTransport) ReplaceVideo(track webrtc.TrackLocal) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.failVideo {
		return errors.New("replace track failed")
	}
	t.video = track
	t.replaced++
	return nil
}

func (t *fakeTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	return nil
}

func (t *fakeTransport) setConnection(st webrtc.PeerConnectionState) {
	t.events.OnConnectionStateChange(st)
}

func (t *fakeTransport) offerCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.offers)
}

func (t *fakeTransport) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

type fakeFactory struct {
	mu         sync.Mutex
	transports map[string][]*fakeTransport
}

func newFakeFactory() *fakeFactory {
	return &fakeFactory{transports: make(map[string][]*fakeTransport)}
}

func (f *fakeFactory) NewTransport(cfg TransportConfig, events TransportEvents) (Transport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t := &fakeTransport{cfg: cfg, events: events, video: cfg.Video}
	f.transports[cfg.Peer] = append(f.transports[cfg.Peer], t)
	return t, nil
}

func (f *fakeFactory) latest(peer string) *fakeTransport {
	f.mu.Lock()
	defer f.mu.Unlock()
	ts := f.transports[peer]
	if len(ts) == 0 {
		return nil
	}
	return ts[len(ts)-1]
}

func (f *fakeFactory) count(peer string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.transports[peer])
}

type recordSender struct {
	mu   sync.Mutex
	msgs []models.PostSignalRequest
}

func (r *recordSender) Send(msg models.PostSignalRequest) {
	r.mu.Lock()
	r.msgs = append(r.msgs, msg)
	r.mu.Unlock()
}

// take returns and forgets everything sent so far.
func (r *recordSender) take() []models.PostSignalRequest {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.msgs
	r.msgs = nil
	return out
}

func (r *recordSender) count(t models.SignalType, to string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, m := range r.msgs {
		if m.Type == t && m.To == to {
			n++
		}
	}
	return n
}

// harness drives one orchestrator without its goroutine: events are handled
// on the test goroutine by drain.
type harness struct {
	t       *testing.T
	self    string
	orch    *Orchestrator
	clock   *fakeClock
	factory *fakeFactory
	sent    *recordSender
	media   *LocalMedia

	states map[string][]State
	failed map[string]error
	chats  []models.ChatPayload
	nextID int64
}

func newHarness(t *testing.T, self string, media *LocalMedia) *harness {
	t.Helper()
	h := &harness{
		t:       t,
		self:    self,
		clock:   newFakeClock(),
		factory: newFakeFactory(),
		sent:    &recordSender{},
		media:   media,
		states:  make(map[string][]State),
		failed:  make(map[string]error),
	}
	h.orch = New(Config{Self: self, Clock: h.clock}, Deps{
		Factory: h.factory,
		Media:   media,
		Sender:  h.sent,
		Hooks: Hooks{
			OnStateChange: func(peer string, st State) { h.states[peer] = append(h.states[peer], st) },
			OnPeerFailed:  func(peer string, err error) { h.failed[peer] = err },
			OnChat:        func(from string, chat models.ChatPayload) { h.chats = append(h.chats, chat) },
		},
	})
	return h
}

func (h *harness) drain() {
	for {
		select {
		case ev := <-h.orch.events:
			h.orch.handle(ev)
		default:
			return
		}
	}
}

func (h *harness) advance(d time.Duration) {
	h.clock.Advance(d)
	h.drain()
}

func (h *harness) roster(peers ...string) {
	h.orch.UpdateRoster(peers, h.clock.Now())
	h.drain()
}

func (h *harness) deliver(msg models.PostSignalRequest) {
	h.nextID++
	h.orch.HandleSignal(models.SignalMessage{ID: h.nextID, From: msg.From, To: msg.To, Type: msg.Type, Payload: msg.Payload})
	h.drain()
}

func (h *harness) receive(from string, t models.SignalType, payload any) {
	raw, err := json.Marshal(payload)
	if err != nil {
		h.t.Fatal(err)
	}
	h.deliver(models.PostSignalRequest{From: from, To: h.self, Type: t, Payload: raw})
}

func (h *harness) state(peer string) State {
	l, ok := h.orch.links[peer]
	if !ok {
		return StateClosed
	}
	return l.state
}

func (h *harness) pendingTimers(peer string) []timerKind {
	return h.orch.sched.pending(peer)
}

func (h *harness) swap(src *Source) {
	done := make(chan error, 1)
	h.orch.handle(swapEvent{src: src, done: done})
	if err := <-done; err != nil {
		h.t.Fatalf("swap: %v", err)
	}
	h.drain()
}

func (h *harness) linkPeers() []string {
	var peers []string
	for p := range h.orch.links {
		peers = append(peers, p)
	}
	sort.Strings(peers)
	return peers
}

// connect brings the link to peer to Connected as the initiator would see it.
func (h *harness) connect(peer string) *fakeTransport {
	h.t.Helper()
	ft := h.factory.latest(peer)
	h.receive(peer, models.SignalTypeAnswer, models.SessionDescriptionPayload{Type: "answer", SDP: "answer-from-" + peer})
	ft.setConnection(webrtc.PeerConnectionStateConnected)
	h.drain()
	if st := h.state(peer); st != StateConnected {
		h.t.Fatalf("link %s state = %s, want connected", peer, st)
	}
	return ft
}

// exchange relays messages between two harnesses until both go quiet.
func exchange(t *testing.T, a, b *harness) {
	t.Helper()
	for i := 0; i < 10; i++ {
		fromA, fromB := a.sent.take(), b.sent.take()
		if len(fromA)+len(fromB) == 0 {
			return
		}
		for _, m := range fromA {
			b.deliver(m)
		}
		for _, m := range fromB {
			a.deliver(m)
		}
	}
	t.Fatal("signaling did not settle")
}

func offerPayload(sdp string) models.SessionDescriptionPayload {
	return models.SessionDescriptionPayload{Type: "offer", SDP: sdp}
}

func strptr(s string) *string { return &s }

func (t *fakeTransport) remoteCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.remoteSets
}

func (t *fakeTransport) answerCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.answers
}
