package mesh

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mossy-p/webrtc-mesh/internal/ice"
	"github.com/mossy-p/webrtc-mesh/internal/models"
	"golang.org/x/sync/errgroup"
)

const goodbyeTimeout = 2 * time.Second

// Client is the part of the relay API a session uses.
type Client interface {
	Poster
	PollClient
	HeartbeatClient
	Join(ctx context.Context, roomID, peerID string) (models.JoinResponse, error)
	Leave(ctx context.Context, roomID, peerID string) error
}

type SessionConfig struct {
	RoomID string
	PeerID string

	PollInterval     time.Duration
	PresenceInterval time.Duration
	// Media is the first rung tried on the acquisition ladder.
	Media MediaMode

	Orchestrator Config
}

type SessionDeps struct {
	Client   Client
	Factory  TransportFactory
	ICE      ice.Provider
	Capturer Capturer
	Hooks    Hooks
}

// Session is one peer's membership in a room: join, media, the orchestrator
// and the two polling loops, and an orderly goodbye.
type Session struct {
	cfg      SessionConfig
	client   Client
	capturer Capturer

	orch     *Orchestrator
	outbox   *Outbox
	poller   *Poller
	presence *Presence
	media    *LocalMedia
}

func NewSession(cfg SessionConfig, deps SessionDeps) *Session {
	cfg.Orchestrator.Self = cfg.PeerID
	outbox := NewOutbox(deps.Client, cfg.RoomID)
	orch := New(cfg.Orchestrator, Deps{
		Factory: deps.Factory,
		ICE:     deps.ICE,
		Sender:  outbox,
		Hooks:   deps.Hooks,
	})
	return &Session{
		cfg:      cfg,
		client:   deps.Client,
		capturer: deps.Capturer,
		orch:     orch,
		outbox:   outbox,
		poller:   NewPoller(deps.Client, cfg.RoomID, cfg.PeerID, cfg.PollInterval, orch),
		presence: NewPresence(deps.Client, cfg.RoomID, cfg.PeerID, cfg.PresenceInterval, orch.cfg.Clock, orch),
	}
}

func (s *Session) Orchestrator() *Orchestrator { return s.orch }

// Run joins the room and keeps the mesh going until ctx is done or the relay
// rejects our credentials. On the way out it says goodbye and leaves.
func (s *Session) Run(ctx context.Context) error {
	joined, err := s.client.Join(ctx, s.cfg.RoomID, s.cfg.PeerID)
	if err != nil {
		s.orch.shutdown()
		return fmt.Errorf("join room %s: %w", s.cfg.RoomID, err)
	}
	slog.Info("joined room", "room_id", s.cfg.RoomID, "peer_id", s.cfg.PeerID, "participants", len(joined.Participants), "cursor", joined.Cursor)

	s.media = AcquireMedia(ctx, s.capturer, s.cfg.Media)
	s.orch.media = s.media
	defer s.media.Close()

	s.poller.SetCursor(joined.Cursor)
	s.orch.UpdateRoster(joined.Participants, s.orch.cfg.Clock.Now())

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.orch.Run(gctx) })
	g.Go(func() error { return s.outbox.Run(gctx) })
	g.Go(func() error { return s.presence.Run(gctx) })
	g.Go(func() error { return s.poller.Run(gctx) })
	err = g.Wait()

	s.goodbye()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// goodbye tells the other peers to drop their links to us, then leaves
// without waiting to learn whether it worked.
func (s *Session) goodbye() {
	ctx, cancel := context.WithTimeout(context.Background(), goodbyeTimeout)
	defer cancel()
	if _, err := s.client.Post(ctx, s.cfg.RoomID, models.PostSignalRequest{From: s.cfg.PeerID, Type: models.SignalTypeBye}); err != nil {
		slog.Debug("bye not delivered", "err", err)
	}
	if err := s.client.Leave(ctx, s.cfg.RoomID, s.cfg.PeerID); err != nil {
		slog.Debug("leave not delivered", "err", err)
	}
	slog.Info("left room", "room_id", s.cfg.RoomID, "peer_id", s.cfg.PeerID)
}

// SendChat broadcasts a chat line to the room.
func (s *Session) SendChat(text, senderName, senderEmail string) error {
	raw, err := json.Marshal(models.ChatPayload{Text: text, SenderName: senderName, SenderEmail: senderEmail})
	if err != nil {
		return err
	}
	s.outbox.Send(models.PostSignalRequest{From: s.cfg.PeerID, Type: models.SignalTypeChat, Payload: raw})
	return nil
}

func (s *Session) SwapVideo(ctx context.Context, src *Source) error {
	return s.orch.SwapVideo(ctx, src)
}

func (s *Session) RestoreCamera(ctx context.Context) error {
	return s.orch.RestoreCamera(ctx)
}

func (s *Session) Links(ctx context.Context) ([]LinkStatus, error) {
	return s.orch.Links(ctx)
}

// Cursor is the id of the last room message seen.
func (s *Session) Cursor() int64 { return s.poller.Cursor() }
