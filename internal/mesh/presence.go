package mesh

import (
	"context"
	"log/slog"
	"time"

	"github.com/mossy-p/webrtc-mesh/internal/signalclient"
)

const DefaultPresenceInterval = 2 * time.Second

type HeartbeatClient interface {
	Heartbeat(ctx context.Context, roomID, peerID string) ([]string, error)
}

// Presence heartbeats on an interval and feeds the active roster to the
// orchestrator. It is the only way new peers are discovered after join.
type Presence struct {
	client   HeartbeatClient
	roomID   string
	self     string
	interval time.Duration
	clock    Clock
	orch     *Orchestrator
}

func NewPresence(client HeartbeatClient, roomID, self string, interval time.Duration, clock Clock, orch *Orchestrator) *Presence {
	if interval <= 0 {
		interval = DefaultPresenceInterval
	}
	if clock == nil {
		clock = realClock{}
	}
	return &Presence{client: client, roomID: roomID, self: self, interval: interval, clock: clock, orch: orch}
}

func (p *Presence) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		if err := p.beat(ctx); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (p *Presence) beat(ctx context.Context) error {
	at := p.clock.Now()
	roster, err := p.client.Heartbeat(ctx, p.roomID, p.self)
	if err != nil {
		if signalclient.IsAuthError(err) {
			return err
		}
		if ctx.Err() == nil {
			slog.Warn("heartbeat failed", "room_id", p.roomID, "err", err)
		}
		return nil
	}
	p.orch.UpdateRoster(roster, at)
	return nil
}
