package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/mossy-p/webrtc-mesh/internal/auth"
	"github.com/mossy-p/webrtc-mesh/internal/models"
)

const (
	userKey = "user"

	// IdentityHeader names the caller alongside the bearer token.
	IdentityHeader = "X-User-Email"
)

// Auth resolves the caller from "Authorization: Bearer <token>" plus the
// identity header. When both are sent they must name the same user.
// Websocket clients may pass the token as the "token" query parameter.
// With allowEmailHeader set, a known directory email alone is accepted.
func Auth(a *auth.Authenticator, allowEmailHeader bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		email := strings.TrimSpace(c.GetHeader(IdentityHeader))

		tokenString, ok := bearerToken(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Invalid authorization header format",
			})
			return
		}

		if tokenString == "" {
			if allowEmailHeader && email != "" {
				if user, found := auth.Lookup(email); found {
					c.Set(userKey, user)
					c.Next()
					return
				}
			}
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Authorization header required",
			})
			return
		}

		user, err := a.Verify(tokenString)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Invalid token",
			})
			return
		}
		if email != "" && !strings.EqualFold(email, user.Email) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Identity header does not match token",
			})
			return
		}

		// Store the user in context for handlers
		c.Set(userKey, user)
		c.Next()
	}
}

// bearerToken extracts the token. ok is false for a malformed header.
func bearerToken(c *gin.Context) (string, bool) {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		return c.Query("token"), true
	}

	// Extract token from "Bearer <token>"
	parts := strings.Split(authHeader, " ")
	if len(parts) != 2 || parts[0] != "Bearer" || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}

// CurrentUser returns the user stored by Auth.
func CurrentUser(c *gin.Context) (models.User, bool) {
	v, exists := c.Get(userKey)
	if !exists {
		return models.User{}, false
	}
	user, ok := v.(models.User)
	return user, ok
}
