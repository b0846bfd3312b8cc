package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/mossy-p/webrtc-mesh/internal/models"
	"github.com/mossy-p/webrtc-mesh/internal/relay"
)

// PostSignal appends one message to the room log
func (h *Handlers) PostSignal(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		return
	}

	var req models.PostSignalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	id, err := h.relay.Post(c.Request.Context(), user, c.Param("roomId"), relay.PostRequest{
		From:    req.From,
		To:      req.To,
		Type:    req.Type,
		Payload: req.Payload,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, models.PostSignalResponse{ID: id})
}

// PollSignal returns messages after ?since, optionally filtered by
// ?excludeFrom and ?for
func (h *Handlers) PollSignal(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		return
	}

	since, filter, err := parsePollQuery(c)
	if err != nil {
		writeError(c, err)
		return
	}

	res, err := h.relay.Poll(c.Request.Context(), user, c.Param("roomId"), since, filter)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, models.PollResponse{
		Messages: res.Messages,
		LastID:   res.LastID,
	})
}

func parsePollQuery(c *gin.Context) (int64, relay.PollFilter, error) {
	var since int64
	if raw := c.Query("since"); raw != "" {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return 0, relay.PollFilter{}, relay.ErrInvalidCursor
		}
		since = n
	}
	return since, relay.PollFilter{
		ExcludeFrom: c.Query("excludeFrom"),
		Recipient:   c.Query("for"),
	}, nil
}
