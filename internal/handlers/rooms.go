package handlers

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mossy-p/webrtc-mesh/internal/models"
	"github.com/mossy-p/webrtc-mesh/internal/relay"
)

// CreateRoom creates a room in the caller's group (teachers only)
func (h *Handlers) CreateRoom(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		return
	}

	// The body is optional: without an id a short code is generated.
	var req models.CreateRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	room, err := h.relay.CreateRoom(c.Request.Context(), user, req.ID)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, models.CreateRoomResponse{RoomID: room.ID})
}

// ListRooms lists the rooms of the caller's group
func (h *Handlers) ListRooms(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		return
	}

	rooms, err := h.relay.ListRooms(c.Request.Context(), user, c.Query("groupId"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, models.RoomListResponse{Rooms: rooms})
}

// GetRoom reports whether a room exists and is visible to the caller
func (h *Handlers) GetRoom(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		return
	}

	exists, err := h.relay.RoomExists(c.Request.Context(), user, c.Param("roomId"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"exists": exists})
}

// DeleteRoom deletes a room (creator only)
func (h *Handlers) DeleteRoom(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		return
	}

	if err := h.relay.DeleteRoom(c.Request.Context(), user, c.Param("roomId")); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Room deleted"})
}

// Join adds the peer to the room, creating the room on first use
func (h *Handlers) Join(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		return
	}

	var req models.PeerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	res, err := h.relay.Join(c.Request.Context(), user, c.Param("roomId"), req.PeerID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, models.JoinResponse{
		Participants: res.Participants,
		Cursor:       res.Cursor,
	})
}

// Participants returns the active roster
func (h *Handlers) Participants(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		return
	}

	roster, err := h.relay.Roster(c.Request.Context(), user, c.Param("roomId"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, models.ParticipantsResponse{Participants: roster})
}

// Heartbeat refreshes the caller's presence and returns the active roster
func (h *Handlers) Heartbeat(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		return
	}

	var req models.PeerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	roster, err := h.relay.Heartbeat(c.Request.Context(), user, c.Param("roomId"), req.PeerID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, models.ParticipantsResponse{Participants: roster})
}

// Leave removes the peer. It answers 200 unless the caller is not allowed in
// the room: clients send it fire-and-forget while shutting down.
func (h *Handlers) Leave(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		return
	}

	var req models.PeerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		slog.Debug("leave without peer id", "room_id", c.Param("roomId"), "err", err)
		c.JSON(http.StatusOK, gin.H{"ok": true})
		return
	}

	err := h.relay.Leave(c.Request.Context(), user, c.Param("roomId"), req.PeerID)
	switch {
	case err == nil:
	case errors.Is(err, relay.ErrUnauthorized), errors.Is(err, relay.ErrForbidden):
		writeError(c, err)
		return
	default:
		slog.Warn("leave failed", "room_id", c.Param("roomId"), "peer_id", req.PeerID, "err", err)
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}
