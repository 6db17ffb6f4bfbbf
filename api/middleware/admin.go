package middleware

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"
)

// AdminTokenHeader carries the admin token when no Authorization header is sent.
const AdminTokenHeader = "X-Admin-Token"

// AdminToken guards operator endpoints with a shared token compared
// against a bcrypt hash. IPs that fail too often are rejected with 429
// before the hash is even checked.
func AdminToken(hash string, limiter *FailureLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		ip := c.ClientIP()
		if !limiter.Allow(ip) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "Too many failed attempts. Please try again later.",
			})
			return
		}

		token := adminToken(c)
		if token == "" || bcrypt.CompareHashAndPassword([]byte(hash), []byte(token)) != nil {
			limiter.RecordFailure(ip)
			slog.Warn("admin: rejected token", "ip", ip, "path", c.Request.URL.Path)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
			return
		}
		limiter.RecordSuccess(ip)
		c.Next()
	}
}

// adminToken reads a bearer token, falling back to AdminTokenHeader.
func adminToken(c *gin.Context) string {
	if auth := c.GetHeader("Authorization"); auth != "" {
		if token, ok := strings.CutPrefix(auth, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
	}
	return strings.TrimSpace(c.GetHeader(AdminTokenHeader))
}
