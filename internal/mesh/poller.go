package mesh

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/mossy-p/webrtc-mesh/internal/models"
	"github.com/mossy-p/webrtc-mesh/internal/signalclient"
)

const DefaultPollInterval = time.Second

type PollClient interface {
	Poll(ctx context.Context, roomID string, since int64, excludeFrom, forPeer string) (models.PollResponse, error)
}

// Poller reads the room log after its cursor and hands each message to the
// orchestrator. The cursor only moves forward, to the lastId the relay
// returned, so no message is seen twice.
type Poller struct {
	client   PollClient
	roomID   string
	self     string
	interval time.Duration
	orch     *Orchestrator
	cursor   atomic.Int64
}

func NewPoller(client PollClient, roomID, self string, interval time.Duration, orch *Orchestrator) *Poller {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Poller{client: client, roomID: roomID, self: self, interval: interval, orch: orch}
}

func (p *Poller) SetCursor(c int64) { p.cursor.Store(c) }

func (p *Poller) Cursor() int64 { return p.cursor.Load() }

func (p *Poller) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		if err := p.pollOnce(ctx); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (p *Poller) pollOnce(ctx context.Context) error {
	res, err := p.client.Poll(ctx, p.roomID, p.Cursor(), p.self, p.self)
	if err != nil {
		if signalclient.IsAuthError(err) {
			return err
		}
		if ctx.Err() == nil {
			slog.Warn("poll failed", "room_id", p.roomID, "err", err)
		}
		return nil
	}
	for _, msg := range res.Messages {
		p.orch.HandleSignal(msg)
	}
	if res.LastID > p.Cursor() {
		p.cursor.Store(res.LastID)
	}
	return nil
}
