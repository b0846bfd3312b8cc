package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// Register mounts the relay API. requireAuth guards everything except login,
// the user directory, health and metrics.
func (h *Handlers) Register(router *gin.Engine, requireAuth gin.HandlerFunc) {
	router.GET("/health", h.Health)
	router.GET("/metrics", gin.WrapH(h.metrics.Handler()))

	apiGroup := router.Group("/api")
	{
		apiGroup.POST("/auth/login", h.Login)
		apiGroup.GET("/auth/users", h.Users)
		apiGroup.GET("/turn/credentials", requireAuth, h.TURNCredentials)

		rooms := apiGroup.Group("/rooms", requireAuth)
		rooms.POST("", h.CreateRoom)
		rooms.GET("", h.ListRooms)
		rooms.GET("/:roomId", h.GetRoom)
		rooms.DELETE("/:roomId", h.DeleteRoom)
		rooms.POST("/:roomId/join", h.Join)
		rooms.POST("/:roomId/leave", h.Leave)
		rooms.GET("/:roomId/signal", h.PollSignal)
		rooms.POST("/:roomId/signal", h.PostSignal)
		rooms.GET("/:roomId/participants", h.Participants)
		rooms.POST("/:roomId/participants", h.Heartbeat)
	}

	// WebSocket signal stream
	wsGroup := router.Group("/ws", requireAuth)
	{
		wsGroup.GET("/rooms/:roomId/signal", h.StreamSignals)
	}
}

// Health reports whether the room store answers
func (h *Handlers) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()
	if err := h.relay.Ping(ctx); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
