// Package mesh runs the per-peer connection state machines of a full-mesh
// call: one direct transport per remote peer, negotiated over the relay.
package mesh

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/mossy-p/webrtc-mesh/internal/ice"
	"github.com/mossy-p/webrtc-mesh/internal/models"
	"github.com/pion/webrtc/v4"
)

const (
	DefaultReofferTimeout = 8 * time.Second
	DefaultDegradedGrace  = 4 * time.Second
	DefaultMaxRetries     = 3
	DefaultMaxRebuilds    = 3

	eventQueueSize = 256
)

type Config struct {
	Self string

	// ReofferTimeout is how long an offer may go unanswered before it is
	// sent again. Retries after the first carry an ICE restart.
	ReofferTimeout time.Duration
	MaxRetries     int

	// DegradedGrace is how long a disconnected transport may recover on its
	// own before it is rebuilt.
	DegradedGrace time.Duration
	MaxRebuilds   int

	// ForceRelay makes every transport relay-only from the start.
	ForceRelay bool

	Clock Clock
}

func (c Config) withDefaults() Config {
	if c.ReofferTimeout <= 0 {
		c.ReofferTimeout = DefaultReofferTimeout
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	if c.DegradedGrace <= 0 {
		c.DegradedGrace = DefaultDegradedGrace
	}
	if c.MaxRebuilds <= 0 {
		c.MaxRebuilds = DefaultMaxRebuilds
	}
	if c.Clock == nil {
		c.Clock = realClock{}
	}
	return c
}

// Hooks are called from the orchestrator loop. They must not block.
type Hooks struct {
	OnStateChange func(peer string, state State)
	// OnPeerFailed reports a link that gave up. Other links are unaffected.
	OnPeerFailed func(peer string, err error)
	OnChat       func(from string, chat models.ChatPayload)
	OnTrack      func(peer string, track *webrtc.TrackRemote)
}

// Sender delivers outgoing signals to the relay in order.
type Sender interface {
	Send(msg models.PostSignalRequest)
}

type Deps struct {
	Factory TransportFactory
	ICE     ice.Provider
	Media   *LocalMedia
	Sender  Sender
	Hooks   Hooks
}

// Orchestrator owns every link of one client. All link state is mutated on
// the goroutine running Run; everything else talks to it through events.
type Orchestrator struct {
	cfg     Config
	factory TransportFactory
	servers ice.Provider
	media   *LocalMedia
	sender  Sender
	hooks   Hooks

	events    chan event
	done      chan struct{}
	closeOnce sync.Once
	ctx       context.Context

	links   map[string]*link
	sched   *scheduler
	nextGen uint64
}

func New(cfg Config, deps Deps) *Orchestrator {
	cfg = cfg.withDefaults()
	servers := deps.ICE
	if servers == nil {
		servers = ice.Static(nil)
	}
	o := &Orchestrator{
		cfg:     cfg,
		factory: deps.Factory,
		servers: servers,
		media:   deps.Media,
		sender:  deps.Sender,
		hooks:   deps.Hooks,
		events:  make(chan event, eventQueueSize),
		done:    make(chan struct{}),
		ctx:     context.Background(),
		links:   make(map[string]*link),
	}
	o.sched = newScheduler(cfg.Clock, o.post)
	return o
}

// Run processes events until ctx is done, then closes every link.
// Local media is left running; it belongs to the caller.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.ctx = ctx
	defer o.shutdown()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-o.events:
			o.handle(ev)
		}
	}
}

func (o *Orchestrator) shutdown() {
	o.closeOnce.Do(func() { close(o.done) })
	o.sched.stopAll()
	for _, l := range o.links {
		o.closeLink(l, "shutdown")
	}
}

func (o *Orchestrator) post(ev event) {
	select {
	case o.events <- ev:
	case <-o.done:
	}
}

// HandleSignal feeds one relayed message into the loop.
func (o *Orchestrator) HandleSignal(msg models.SignalMessage) {
	o.post(signalEvent{msg: msg})
}

// UpdateRoster feeds the active roster, as fetched at time at.
func (o *Orchestrator) UpdateRoster(peers []string, at time.Time) {
	o.post(rosterEvent{peers: peers, at: at})
}

// SwapVideo replaces the outgoing video on every link with src, typically a
// screen capture, and renegotiates each link. A previously swapped-in source
// is stopped once no link sends it any more.
func (o *Orchestrator) SwapVideo(ctx context.Context, src *Source) error {
	return o.request(ctx, func(done chan error) event { return swapEvent{src: src, done: done} })
}

// RestoreCamera undoes SwapVideo.
func (o *Orchestrator) RestoreCamera(ctx context.Context) error {
	return o.request(ctx, func(done chan error) event { return swapEvent{done: done} })
}

// Links returns a snapshot of every link, in no particular order.
func (o *Orchestrator) Links(ctx context.Context) ([]LinkStatus, error) {
	var out []LinkStatus
	err := o.request(ctx, func(done chan error) event {
		return queryEvent{done: done, fn: func() { out = o.snapshot() }}
	})
	return out, err
}

func (o *Orchestrator) request(ctx context.Context, build func(chan error) event) error {
	done := make(chan error, 1)
	select {
	case o.events <- build(done):
	case <-o.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-done:
		return err
	case <-o.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (o *Orchestrator) handle(ev event) {
	switch e := ev.(type) {
	case signalEvent:
		o.onSignal(e.msg)
	case rosterEvent:
		o.onRoster(e.peers, e.at)
	case candidateEvent:
		if l := o.current(e.peer, e.gen); l != nil {
			o.send(l.peer, models.SignalTypeCandidate, models.CandidatePayload{
				Candidate:        e.candidate.Candidate,
				SDPMid:           e.candidate.SDPMid,
				SDPMLineIndex:    e.candidate.SDPMLineIndex,
				UsernameFragment: e.candidate.UsernameFragment,
			})
		}
	case connStateEvent:
		if l := o.current(e.peer, e.gen); l != nil {
			o.onConnectionState(l, e.state)
		}
	case trackEvent:
		if l := o.current(e.peer, e.gen); l != nil && o.hooks.OnTrack != nil {
			o.hooks.OnTrack(l.peer, e.track)
		}
	case timerEvent:
		if o.sched.fired(e.key, e.seq) {
			o.onTimer(e.key)
		}
	case swapEvent:
		e.done <- o.onSwap(e.src)
	case queryEvent:
		e.fn()
		e.done <- nil
	default:
		slog.Error("unknown orchestrator event", "event", ev)
	}
}

// current returns the link for peer if gen is still its transport.
func (o *Orchestrator) current(peer string, gen uint64) *link {
	l, ok := o.links[peer]
	if !ok || l.gen != gen || l.transport == nil {
		return nil
	}
	return l
}

func (o *Orchestrator) onSignal(msg models.SignalMessage) {
	if msg.From == o.cfg.Self || !msg.IsFor(o.cfg.Self) {
		return
	}

	switch msg.Type {
	case models.SignalTypeOffer, models.SignalTypeAnswer:
		var p models.SessionDescriptionPayload
		if err := msg.DecodePayload(&p); err != nil {
			slog.Warn("dropping malformed description", "from", msg.From, "err", err)
			return
		}
		sd := webrtc.SessionDescription{Type: webrtc.NewSDPType(p.Type), SDP: p.SDP}
		if msg.Type == models.SignalTypeOffer {
			o.onOffer(msg.From, sd)
		} else {
			o.onAnswer(msg.From, sd)
		}
	case models.SignalTypeCandidate:
		var p models.CandidatePayload
		if err := msg.DecodePayload(&p); err != nil {
			slog.Warn("dropping malformed candidate", "from", msg.From, "err", err)
			return
		}
		o.onCandidate(msg.From, webrtc.ICECandidateInit{
			Candidate:        p.Candidate,
			SDPMid:           p.SDPMid,
			SDPMLineIndex:    p.SDPMLineIndex,
			UsernameFragment: p.UsernameFragment,
		})
	case models.SignalTypeBye:
		if l, ok := o.links[msg.From]; ok {
			o.closeLink(l, "bye")
		}
	case models.SignalTypeChat:
		var p models.ChatPayload
		if err := msg.DecodePayload(&p); err != nil {
			slog.Warn("dropping malformed chat", "from", msg.From, "err", err)
			return
		}
		if o.hooks.OnChat != nil {
			o.hooks.OnChat(msg.From, p)
		}
	}
}

func (o *Orchestrator) onOffer(from string, sd webrtc.SessionDescription) {
	l, err := o.ensureLink(from)
	if err != nil {
		return
	}
	if l.state == StateFailed {
		// The remote side is trying again; start from a fresh transport.
		l.attempts, l.rebuilds = 0, 0
		if err := o.replaceTransport(l, l.relayOnly); err != nil {
			o.fail(l, linkError("rebuild", from, err))
			return
		}
	}

	yielded := false
	if l.transport.SignalingState() == webrtc.SignalingStateHaveLocalOffer {
		// Glare: yield our pending offer and answer theirs.
		if err := l.transport.Rollback(); err != nil {
			slog.Debug("rollback failed", "peer", from, "err", err)
		}
		if IsInitiator(o.cfg.Self, from) {
			yielded = true
		} else {
			o.sched.cancel(from, timerReoffer)
		}
	}

	o.setState(l, StateOffered)
	if err := l.transport.SetRemoteDescription(sd); err != nil {
		// Typically a peer that rebuilt its transport; ours cannot take the
		// new session, so start over on a fresh one.
		slog.Warn("remote offer rejected, rebuilding transport", "peer", from, "err", err)
		if err := o.replaceTransport(l, l.relayOnly); err != nil {
			o.fail(l, linkError("rebuild", from, err))
			return
		}
		if err := l.transport.SetRemoteDescription(sd); err != nil {
			slog.Warn("remote offer rejected", "peer", from, "err", err)
			o.setState(l, StateRecovering)
			return
		}
	}
	o.flushCandidates(l)

	o.setState(l, StateAnswering)
	answer, err := l.transport.CreateAnswer()
	if err != nil {
		slog.Warn("failed to create answer", "peer", from, "err", err)
		o.setState(l, StateRecovering)
		return
	}
	o.send(from, models.SignalTypeAnswer, models.SessionDescriptionPayload{Type: answer.Type.String(), SDP: answer.SDP})
	if l.transportConnected {
		o.markConnected(l)
		if yielded {
			// The rolled back renegotiation still has to happen.
			o.startOffer(l, false, false)
		}
	}
}

func (o *Orchestrator) onAnswer(from string, sd webrtc.SessionDescription) {
	l, ok := o.links[from]
	if !ok || l.state != StateAwaitingAnswer || l.transport.SignalingState() != webrtc.SignalingStateHaveLocalOffer {
		slog.Debug("dropping stale answer", "peer", from)
		return
	}
	if err := l.transport.SetRemoteDescription(sd); err != nil {
		slog.Debug("dropping unusable answer", "peer", from, "err", err)
		return
	}
	o.flushCandidates(l)
	if l.transportConnected {
		o.markConnected(l)
	}
}

func (o *Orchestrator) onCandidate(from string, c webrtc.ICECandidateInit) {
	// Links are created by the roster or an offer. A candidate for an unknown
	// peer trails a link that was already closed.
	l, ok := o.links[from]
	if !ok {
		slog.Debug("dropping candidate for unknown peer", "peer", from)
		return
	}
	if l.transport == nil || !l.transport.HasRemoteDescription() {
		l.pending = append(l.pending, c)
		return
	}
	o.addCandidate(l, c)
}

func (o *Orchestrator) addCandidate(l *link, c webrtc.ICECandidateInit) {
	if err := l.transport.AddICECandidate(c); err != nil {
		slog.Warn("dropping candidate", "peer", l.peer, "err", err)
	}
}

func (o *Orchestrator) flushCandidates(l *link) {
	pending := l.pending
	l.pending = nil
	for _, c := range pending {
		o.addCandidate(l, c)
	}
}

func (o *Orchestrator) onRoster(peers []string, at time.Time) {
	active := make(map[string]bool, len(peers))
	for _, p := range peers {
		if p == o.cfg.Self {
			continue
		}
		active[p] = true
		if _, ok := o.links[p]; ok {
			continue
		}
		l, err := o.ensureLink(p)
		if err != nil {
			continue
		}
		if IsInitiator(o.cfg.Self, p) {
			o.startOffer(l, false, false)
		}
	}

	for peer, l := range o.links {
		// A link created after the roster was fetched may belong to a peer
		// that joined since; keep it until a newer roster.
		if !active[peer] && l.createdAt.Before(at) {
			o.closeLink(l, "left room")
		}
	}
}

func (o *Orchestrator) onConnectionState(l *link, st webrtc.PeerConnectionState) {
	slog.Debug("transport state", "peer", l.peer, "state", st)
	if l.state == StateFailed {
		// Only a new offer from the remote side revives a failed link.
		return
	}
	switch st {
	case webrtc.PeerConnectionStateConnected:
		l.transportConnected = true
		o.sched.cancel(l.peer, timerGrace)
		if l.transport.SignalingState() == webrtc.SignalingStateStable {
			o.markConnected(l)
		}
	case webrtc.PeerConnectionStateDisconnected:
		l.transportConnected = false
		if l.state == StateConnected {
			o.setState(l, StateRecovering)
		}
		o.sched.schedule(l.peer, timerGrace, o.cfg.DegradedGrace)
	case webrtc.PeerConnectionStateFailed:
		l.transportConnected = false
		o.sched.cancel(l.peer, timerGrace)
		o.rebuild(l, true)
	}
}

func (o *Orchestrator) onTimer(key timerKey) {
	l, ok := o.links[key.peer]
	if !ok {
		return
	}
	switch key.kind {
	case timerReoffer:
		if l.state == StateConnected || l.state == StateFailed {
			return
		}
		l.attempts++
		if l.attempts > o.cfg.MaxRetries {
			o.fail(l, linkError("negotiate", l.peer, ErrRetriesExhausted))
			return
		}
		slog.Info("re-offering", "peer", l.peer, "attempt", l.attempts)
		o.startOffer(l, l.attempts >= 2, true)
	case timerGrace:
		if l.state != StateFailed && !l.transportConnected {
			slog.Info("transport still degraded, rebuilding", "peer", l.peer)
			o.rebuild(l, l.relayOnly)
		}
	}
}

func (o *Orchestrator) onSwap(src *Source) error {
	if o.media == nil {
		return ErrNoMedia
	}
	prev := o.media.setScreen(src)
	track := o.media.VideoTrack()

	var renegotiate []*link
	for _, l := range o.links {
		if l.transport == nil {
			continue
		}
		offer := o.renegotiable(l)
		if err := l.transport.ReplaceVideo(track); err != nil {
			// A fresh transport is built from the current tracks, so the
			// link stops sending prev either way.
			slog.Warn("failed to replace video, rebuilding transport", "peer", l.peer, "err", err)
			if err := o.replaceTransport(l, l.relayOnly); err != nil {
				o.fail(l, linkError("rebuild", l.peer, err))
				continue
			}
		}
		if offer {
			renegotiate = append(renegotiate, l)
		}
	}
	if prev != src {
		prev.stop()
	}

	for _, l := range renegotiate {
		o.startOffer(l, false, false)
	}
	return nil
}

// renegotiable reports whether l may send an offer outside of its first
// negotiation. A fresh link is offered on by the initiator only.
func (o *Orchestrator) renegotiable(l *link) bool {
	switch l.state {
	case StateFailed, StateOffered:
		return false
	case StateConnected, StateRecovering, StateAnswering:
		return true
	}
	return IsInitiator(o.cfg.Self, l.peer) || l.transport.HasRemoteDescription()
}

// startOffer sends a fresh offer (or a retry of one) and arms the re-offer
// timer.
func (o *Orchestrator) startOffer(l *link, iceRestart, retry bool) {
	if l.transport == nil {
		return
	}
	if !retry {
		l.attempts = 0
	}
	o.setState(l, StateOffering)
	offer, err := l.transport.CreateOffer(iceRestart)
	if err != nil {
		slog.Warn("failed to create offer", "peer", l.peer, "err", err)
		o.setState(l, StateRecovering)
	} else {
		o.send(l.peer, models.SignalTypeOffer, models.SessionDescriptionPayload{Type: offer.Type.String(), SDP: offer.SDP})
		o.setState(l, StateAwaitingAnswer)
	}
	o.sched.schedule(l.peer, timerReoffer, o.cfg.ReofferTimeout)
}

func (o *Orchestrator) rebuild(l *link, relayOnly bool) {
	if l.rebuilds >= o.cfg.MaxRebuilds {
		o.fail(l, linkError("rebuild", l.peer, ErrRebuildsExhausted))
		return
	}
	l.rebuilds++
	o.setState(l, StateRecovering)
	o.sched.cancelPeer(l.peer)
	if err := o.replaceTransport(l, relayOnly); err != nil {
		o.fail(l, linkError("rebuild", l.peer, err))
		return
	}
	slog.Info("transport rebuilt", "peer", l.peer, "relay_only", l.relayOnly, "rebuilds", l.rebuilds)
	o.startOffer(l, false, false)
}

func (o *Orchestrator) markConnected(l *link) {
	o.sched.cancelPeer(l.peer)
	l.attempts = 0
	l.rebuilds = 0
	o.setState(l, StateConnected)
}

func (o *Orchestrator) fail(l *link, err error) {
	o.sched.cancelPeer(l.peer)
	o.setState(l, StateFailed)
	slog.Warn("peer link failed", "peer", l.peer, "err", err)
	if o.hooks.OnPeerFailed != nil {
		o.hooks.OnPeerFailed(l.peer, err)
	}
}

func (o *Orchestrator) setState(l *link, st State) {
	if l.state == st {
		return
	}
	l.state = st
	if o.hooks.OnStateChange != nil {
		o.hooks.OnStateChange(l.peer, st)
	}
}

func (o *Orchestrator) ensureLink(peer string) (*link, error) {
	if l, ok := o.links[peer]; ok {
		return l, nil
	}
	l := &link{peer: peer, state: StateIdle, createdAt: o.cfg.Clock.Now()}
	if err := o.replaceTransport(l, false); err != nil {
		slog.Error("failed to create transport", "peer", peer, "err", err)
		return nil, err
	}
	o.links[peer] = l
	slog.Info("peer link created", "peer", peer, "initiator", IsInitiator(o.cfg.Self, peer))
	return l, nil
}

// replaceTransport closes the link's transport, if any, and builds a new one.
func (o *Orchestrator) replaceTransport(l *link, relayOnly bool) error {
	if l.transport != nil {
		if err := l.transport.Close(); err != nil {
			slog.Debug("closing transport", "peer", l.peer, "err", err)
		}
		l.transport = nil
	}
	servers, err := o.servers.ICEServers(o.ctx)
	if err != nil {
		return err
	}

	relayOnly = relayOnly || o.cfg.ForceRelay
	o.nextGen++
	peer, gen := l.peer, o.nextGen
	t, err := o.factory.NewTransport(TransportConfig{
		Peer:       peer,
		ICEServers: servers,
		RelayOnly:  relayOnly,
		Audio:      o.media.AudioTrack(),
		Video:      o.media.VideoTrack(),
	}, TransportEvents{
		OnICECandidate: func(c webrtc.ICECandidateInit) {
			o.post(candidateEvent{peer: peer, gen: gen, candidate: c})
		},
		OnConnectionStateChange: func(st webrtc.PeerConnectionState) {
			o.post(connStateEvent{peer: peer, gen: gen, state: st})
		},
		OnTrack: func(track *webrtc.TrackRemote) {
			o.post(trackEvent{peer: peer, gen: gen, track: track})
		},
	})
	if err != nil {
		return err
	}
	l.transport = t
	l.gen = gen
	l.relayOnly = relayOnly
	l.pending = nil
	l.transportConnected = false
	return nil
}

func (o *Orchestrator) closeLink(l *link, reason string) {
	o.sched.cancelPeer(l.peer)
	if l.transport != nil {
		if err := l.transport.Close(); err != nil {
			slog.Debug("closing transport", "peer", l.peer, "err", err)
		}
	}
	l.pending = nil
	o.setState(l, StateClosed)
	delete(o.links, l.peer)
	slog.Info("peer link closed", "peer", l.peer, "reason", reason)
}

func (o *Orchestrator) send(to string, t models.SignalType, payload any) {
	raw, err := json.Marshal(payload)
	if err != nil {
		slog.Error("failed to marshal payload", "type", t, "err", err)
		return
	}
	o.sender.Send(models.PostSignalRequest{From: o.cfg.Self, To: to, Type: t, Payload: raw})
}

func (o *Orchestrator) snapshot() []LinkStatus {
	out := make([]LinkStatus, 0, len(o.links))
	for _, l := range o.links {
		next, _ := o.sched.nextFire(l.peer, timerReoffer)
		out = append(out, LinkStatus{
			Peer:      l.peer,
			State:     l.state,
			Attempts:  l.attempts,
			Rebuilds:  l.rebuilds,
			RelayOnly: l.relayOnly,
			NextRetry: next,
		})
	}
	return out
}
