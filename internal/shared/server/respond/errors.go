package respond

import (
	"github.com/gin-gonic/gin"

	"meetingapp-backend/internal/shared/telemetry"
)

// ErrorBody is the body of every non-2xx response.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// ErrorResponse is the {"error": {...}} envelope.
type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

// Error aborts the request with the error envelope. 5xx responses log at
// error level, everything else at warn.
func Error(c *gin.Context, status int, code, message string, details any) {
	fields := map[string]any{
		"status":  status,
		"code":    code,
		"message": message,
		"route":   c.FullPath(),
		"method":  c.Request.Method,
	}
	if id := telemetry.RequestID(c.Request.Context()); id != "" {
		fields["request_id"] = id
	}
	if caller := c.GetString("caller"); caller != "" {
		fields["caller"] = caller
	}
	if id := c.GetInt64("applicationId"); id > 0 {
		fields["application_id"] = id
	}
	log := telemetry.Warn
	if status >= 500 {
		log = telemetry.Error
	}
	log("http.error", fields)

	c.AbortWithStatusJSON(status, ErrorResponse{Error: ErrorBody{Code: code, Message: message, Details: details}})
}
