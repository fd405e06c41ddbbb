package middleware

import (
	"net/http"
	"runtime/debug"

	"github.com/gin-gonic/gin"

	"meetingapp-backend/internal/shared/server/respond"
	"meetingapp-backend/internal/shared/telemetry"
)

// Recovery turns a handler panic into a 500 error envelope. The ids set by
// the generation handlers are logged with the stack.
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			fields := map[string]any{
				"request_id": RequestIDFromContext(c),
				"error":      rec,
				"stack":      string(debug.Stack()),
				"path":       c.Request.URL.Path,
				"method":     c.Request.Method,
			}
			for _, key := range []string{"applicationId", "messageId"} {
				if v, ok := c.Get(key); ok {
					fields[key] = v
				}
			}
			telemetry.Error("http.panic", fields)
			respond.Error(c, http.StatusInternalServerError, "internal_error", "Unexpected server error", nil)
		}()
		c.Next()
	}
}
