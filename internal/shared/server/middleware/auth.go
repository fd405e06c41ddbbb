package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"

	"meetingapp-backend/internal/shared/server/respond"
	"meetingapp-backend/internal/shared/telemetry"
)

const callerKey = "caller"

// APIKey requires "Authorization: Bearer <key>". With an empty key every
// request passes and a warning is logged once.
func APIKey(key string) gin.HandlerFunc {
	key = strings.TrimSpace(key)
	var warnOnce sync.Once

	return func(c *gin.Context) {
		if c.Request.Method == http.MethodOptions {
			c.Status(http.StatusNoContent)
			return
		}

		if key == "" {
			warnOnce.Do(func() {
				telemetry.Warn("auth.api_key_unset", map[string]any{
					"path": c.Request.URL.Path,
				})
			})
			c.Set(callerKey, "anonymous")
			c.Next()
			return
		}

		authHeader := strings.TrimSpace(c.GetHeader("Authorization"))
		if !strings.HasPrefix(authHeader, "Bearer ") {
			respond.Error(c, http.StatusUnauthorized, "unauthorized", "missing or invalid token", nil)
			return
		}
		token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer"))
		if token == "" || subtle.ConstantTimeCompare([]byte(token), []byte(key)) != 1 {
			respond.Error(c, http.StatusUnauthorized, "unauthorized", "missing or invalid token", nil)
			return
		}

		c.Set(callerKey, "api_key")
		c.Next()
	}
}

// CallerFromContext returns how the request was authenticated.
func CallerFromContext(c *gin.Context) string {
	if c == nil {
		return ""
	}
	val, _ := c.Get(callerKey)
	if caller, ok := val.(string); ok {
		return caller
	}
	return ""
}
