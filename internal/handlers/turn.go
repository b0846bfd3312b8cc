package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mossy-p/webrtc-mesh/internal/ice"
)

// TURNCredentials proxies the configured TURN credential service and returns
// its answer normalised to {"iceServers": [...]}
func (h *Handlers) TURNCredentials(c *gin.Context) {
	if h.turnCredentialsURL == "" {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "TURN credentials not configured"})
		return
	}

	servers, err := ice.FetchCredentials(c.Request.Context(), h.httpClient, h.turnCredentialsURL)
	if err != nil {
		var upstream *ice.StatusError
		if errors.As(err, &upstream) {
			c.JSON(http.StatusBadGateway, gin.H{
				"error":          "TURN upstream error",
				"upstreamStatus": upstream.Status,
			})
			return
		}
		slog.Warn("TURN credential fetch failed", "err", err)
		c.JSON(http.StatusBadGateway, gin.H{"error": "TURN credentials unavailable"})
		return
	}

	c.Header("Cache-Control", "no-store")
	c.JSON(http.StatusOK, gin.H{"iceServers": servers})
}
