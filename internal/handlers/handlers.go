// Package handlers exposes the relay over HTTP with gin.
package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mossy-p/webrtc-mesh/internal/auth"
	"github.com/mossy-p/webrtc-mesh/internal/metrics"
	"github.com/mossy-p/webrtc-mesh/internal/middleware"
	"github.com/mossy-p/webrtc-mesh/internal/models"
	"github.com/mossy-p/webrtc-mesh/internal/relay"
)

// Handlers holds what the HTTP layer needs to serve the relay.
type Handlers struct {
	relay   *relay.Relay
	auth    *auth.Authenticator
	metrics *metrics.Metrics

	// turnCredentialsURL is proxied by GET /api/turn/credentials
	turnCredentialsURL string
	httpClient         *http.Client
}

type Options struct {
	TURNCredentialsURL string
	HTTPClient         *http.Client
}

func New(r *relay.Relay, a *auth.Authenticator, m *metrics.Metrics, opts Options) *Handlers {
	if m == nil {
		m = metrics.New()
	}
	client := opts.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	return &Handlers{
		relay:              r,
		auth:               a,
		metrics:            m,
		turnCredentialsURL: opts.TURNCredentialsURL,
		httpClient:         client,
	}
}

func currentUser(c *gin.Context) (models.User, bool) {
	user, ok := middleware.CurrentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
	}
	return user, ok
}

// statusFor maps relay and auth errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, relay.ErrUnauthorized), errors.Is(err, auth.ErrInvalidToken), errors.Is(err, auth.ErrUnknownUser):
		return http.StatusUnauthorized
	case errors.Is(err, relay.ErrForbidden), errors.Is(err, auth.ErrGroupMismatch):
		return http.StatusForbidden
	case errors.Is(err, relay.ErrInvalidRoomID), errors.Is(err, relay.ErrInvalidPeerID),
		errors.Is(err, relay.ErrInvalidMessage), errors.Is(err, relay.ErrInvalidCursor):
		return http.StatusBadRequest
	case errors.Is(err, relay.ErrRoomNotFound):
		return http.StatusNotFound
	case errors.Is(err, relay.ErrUnavailable):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func writeError(c *gin.Context, err error) {
	status := statusFor(err)
	msg := err.Error()
	switch status {
	case http.StatusInternalServerError:
		slog.Error("request failed", "path", c.FullPath(), "err", err)
		msg = "Internal server error"
	case http.StatusServiceUnavailable:
		slog.Warn("storage unavailable", "path", c.FullPath(), "err", err)
		msg = "Storage unavailable"
	}
	c.JSON(status, gin.H{"error": msg})
}
