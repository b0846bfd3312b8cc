package handlers

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mossy-p/webrtc-mesh/internal/auth"
	"github.com/mossy-p/webrtc-mesh/internal/models"
)

// Login checks the email against the mock directory and issues a session token
func (h *Handlers) Login(c *gin.Context) {
	var req models.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request body",
		})
		return
	}

	token, user, err := h.auth.Login(req.Email, req.GroupID)
	if err != nil {
		slog.Info("login rejected", "email", req.Email, "group", req.GroupID, "err", err)
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, models.LoginResponse{
		Token: token,
		User:  user,
	})
}

// Users lists the mock directory so a client can offer a login picker
func (h *Handlers) Users(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"users": auth.Users()})
}
