package mesh

import (
	"context"
	"log/slog"
	"time"

	"github.com/mossy-p/webrtc-mesh/internal/models"
	"github.com/mossy-p/webrtc-mesh/internal/signalclient"
)

const (
	outboxSize  = 512
	postTimeout = 10 * time.Second
)

// Poster appends one message to a room log.
type Poster interface {
	Post(ctx context.Context, roomID string, msg models.PostSignalRequest) (int64, error)
}

// Outbox posts outgoing signals one at a time, in the order they were sent.
// A failed post is dropped: the re-offer timers repeat whatever mattered.
type Outbox struct {
	roomID string
	poster Poster
	queue  chan models.PostSignalRequest
}

func NewOutbox(poster Poster, roomID string) *Outbox {
	return &Outbox{roomID: roomID, poster: poster, queue: make(chan models.PostSignalRequest, outboxSize)}
}

// Send never blocks the caller.
func (o *Outbox) Send(msg models.PostSignalRequest) {
	select {
	case o.queue <- msg:
	default:
		slog.Warn("outbox full, dropping signal", "type", msg.Type, "to", msg.To)
	}
}

// Run posts queued messages until ctx is done. Authorization failures end it.
func (o *Outbox) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg := <-o.queue:
			postCtx, cancel := context.WithTimeout(ctx, postTimeout)
			_, err := o.poster.Post(postCtx, o.roomID, msg)
			cancel()
			if err == nil {
				continue
			}
			if signalclient.IsAuthError(err) {
				return err
			}
			if ctx.Err() != nil {
				return nil
			}
			slog.Warn("failed to post signal", "type", msg.Type, "to", msg.To, "err", err)
		}
	}
}
