package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/mossy-p/webrtc-mesh/internal/models"
	"github.com/mossy-p/webrtc-mesh/internal/relay"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingPeriod   = 54 * time.Second
	tailInterval = 500 * time.Millisecond
	maxFrameSize = 256 * 1024
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Origin checking is handled by middleware
		return true
	},
}

// signalStream pushes a room log to one websocket client and accepts posts
// from it. It is the same log GET /signal serves, tailed server side.
type signalStream struct {
	h      *Handlers
	user   models.User
	roomID string
	filter relay.PollFilter
	cursor int64 // owned by tail

	conn   *websocket.Conn
	send   chan []byte
	ctx    context.Context
	cancel context.CancelFunc
}

// StreamSignals upgrades to a websocket carrying the room's message log
func (h *Handlers) StreamSignals(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		return
	}

	roomID := c.Param("roomId")
	since, filter, err := parsePollQuery(c)
	if err != nil {
		writeError(c, err)
		return
	}

	// Reject scope and cursor errors while we can still answer with a status.
	first, err := h.relay.Poll(c.Request.Context(), user, roomID, since, filter)
	if err != nil {
		writeError(c, err)
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		slog.Warn("failed to upgrade connection", "err", err)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &signalStream{
		h:      h,
		user:   user,
		roomID: roomID,
		filter: filter,
		cursor: since,
		conn:   conn,
		send:   make(chan []byte, 256),
		ctx:    ctx,
		cancel: cancel,
	}

	h.metrics.StreamClients.Inc()
	defer h.metrics.StreamClients.Dec()
	slog.Info("signal stream opened", "room_id", roomID, "user", user.Email, "since", since)

	go s.writePump()
	go s.tail(first)
	s.readPump()

	slog.Info("signal stream closed", "room_id", roomID, "user", user.Email)
}

func (s *signalStream) enqueue(frame models.StreamFrame) bool {
	data, err := json.Marshal(frame)
	if err != nil {
		slog.Error("failed to marshal frame", "err", err)
		return false
	}
	select {
	case s.send <- data:
		return true
	case <-s.ctx.Done():
		return false
	}
}

func (s *signalStream) deliver(res relay.PollResult) bool {
	for i := range res.Messages {
		if !s.enqueue(models.StreamFrame{Kind: models.FrameMessage, Message: &res.Messages[i]}) {
			return false
		}
	}
	s.cursor = res.LastID
	return true
}

// tail polls the log after the cursor and forwards new entries in order.
func (s *signalStream) tail(first relay.PollResult) {
	defer s.cancel()
	if !s.deliver(first) {
		return
	}

	ticker := time.NewTicker(tailInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
		}

		res, err := s.h.relay.Poll(s.ctx, s.user, s.roomID, s.cursor, s.filter)
		if err != nil {
			if s.ctx.Err() != nil {
				return
			}
			s.enqueue(models.StreamFrame{Kind: models.FrameError, Error: err.Error()})
			if errors.Is(err, relay.ErrForbidden) || errors.Is(err, relay.ErrUnauthorized) {
				return
			}
			continue
		}
		if !s.deliver(res) {
			return
		}
	}
}

func (s *signalStream) readPump() {
	defer func() {
		s.cancel()
		s.conn.Close()
	}()

	s.conn.SetReadLimit(maxFrameSize)
	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				slog.Warn("websocket error", "room_id", s.roomID, "err", err)
			}
			return
		}

		var frame models.StreamFrame
		if err := json.Unmarshal(message, &frame); err != nil || frame.Kind != models.FramePost || frame.Post == nil {
			s.enqueue(models.StreamFrame{Kind: models.FrameError, Error: "expected a post frame"})
			continue
		}

		id, err := s.h.relay.Post(s.ctx, s.user, s.roomID, relay.PostRequest{
			From:    frame.Post.From,
			To:      frame.Post.To,
			Type:    frame.Post.Type,
			Payload: frame.Post.Payload,
		})
		if err != nil {
			s.enqueue(models.StreamFrame{Kind: models.FrameError, Error: err.Error()})
			continue
		}
		s.enqueue(models.StreamFrame{Kind: models.FrameAck, ID: id})
	}
}

func (s *signalStream) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.conn.Close()
	}()

	for {
		select {
		case <-s.ctx.Done():
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			s.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return

		case message := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				slog.Warn("failed to write message", "room_id", s.roomID, "err", err)
				s.cancel()
				return
			}

		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.cancel()
				return
			}
		}
	}
}
