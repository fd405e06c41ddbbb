package middleware

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"meetingapp-backend/internal/shared/telemetry"
)

// quietPaths are polled by probes and scrapers and are not logged.
var quietPaths = map[string]struct{}{
	"/metrics":  {},
	"/api/ping": {},
}

// Logging emits one structured line per request. Server errors are logged
// at error level.
func Logging() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Method == http.MethodOptions {
			c.Next()
			return
		}
		if _, quiet := quietPaths[c.Request.URL.Path]; quiet {
			c.Next()
			return
		}

		start := time.Now()
		c.Next()
		status := c.Writer.Status()

		fields := map[string]any{
			"request_id":  RequestIDFromContext(c),
			"method":      c.Request.Method,
			"path":        c.Request.URL.Path,
			"route":       c.FullPath(),
			"status":      status,
			"duration_ms": float64(time.Since(start).Microseconds()) / 1000.0,
			"caller":      CallerFromContext(c),
			"client_ip":   c.ClientIP(),
			"user_agent":  c.Request.UserAgent(),
		}
		if v, ok := c.Get("applicationId"); ok {
			fields["application_id"] = v
		}
		if v, ok := c.Get("messageId"); ok {
			fields["message_id"] = v
		}

		if status >= http.StatusInternalServerError {
			telemetry.Error("request.complete", fields)
			return
		}
		telemetry.Info("request.complete", fields)
	}
}
