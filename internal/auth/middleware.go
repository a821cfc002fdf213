package auth

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"
)

// ContextKeyUserID is the gin context key holding the authenticated user id.
const ContextKeyUserID = "authUserID"

// Middleware extracts and verifies the actor token from the request.
// Sets authUserID in context if valid. Does not reject; pair with RequireAuth.
func Middleware(v *Verifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := c.GetHeader("X-Actor-Token")
		if token == "" {
			if bearer := c.GetHeader("Authorization"); len(bearer) > 7 && bearer[:7] == "Bearer " {
				token = bearer[7:]
			}
		}

		if token != "" {
			if userID := v.Verify(token); userID != "" {
				c.Set(ContextKeyUserID, userID)
			}
		}

		c.Next()
	}
}

// RequireAuth rejects requests without a verified actor identity.
func RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, exists := c.Get(ContextKeyUserID); !exists {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": "Actor token required. Include 'X-Actor-Token' header.",
			})
			return
		}
		c.Next()
	}
}

// RequireCronSecret guards the externally-scheduled trigger endpoints.
// An empty configured secret leaves the endpoints open (dev mode).
func RequireCronSecret(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if secret == "" {
			c.Next()
			return
		}
		got := c.GetHeader("X-Cron-Secret")
		if got == "" {
			got = c.Query("secret")
		}
		if subtle.ConstantTimeCompare([]byte(got), []byte(secret)) != 1 {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error":   "unauthorized",
				"message": "Invalid cron secret.",
			})
			return
		}
		c.Next()
	}
}
