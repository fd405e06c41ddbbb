package generation

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"meetingapp-backend/internal/applications"
	"meetingapp-backend/internal/shared/server/respond"
	"meetingapp-backend/internal/shared/telemetry"
)

// Handler wires HTTP handlers to the generation service.
type Handler struct {
	Svc *Service
}

// NewHandler constructs a Handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{Svc: svc}
}

// RegisterRoutes attaches generation routes. guard protects the
// operator endpoints; the registry callback is left open.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup, guard gin.HandlerFunc) {
	rg.POST("/meeting-applications/generate", guard, h.generate)
	rg.GET("/generate-meeting-application-jobs", guard, h.listTasks)
	rg.POST("/efrsb-message/callback", h.callback)
}

type generateRequest struct {
	ApplicationID int64  `json:"meeting_application_id" binding:"required,min=1"`
	UserID        *int64 `json:"user_id" binding:"omitempty,min=1"`
}

func (h *Handler) generate(c *gin.Context) {
	var req generateRequest
	if !respond.BindJSON(c, &req) {
		return
	}
	c.Set("applicationId", req.ApplicationID)

	if err := h.Svc.StartGeneration(c.Request.Context(), req.ApplicationID, req.UserID); err != nil {
		if KindOf(err) == KindNotFound {
			respond.Error(c, http.StatusNotFound, "not_found", "meeting application not found", nil)
			return
		}
		respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to start generation", nil)
		return
	}
	respond.OK(c, gin.H{
		"success":                true,
		"message":                "Generation started",
		"meeting_application_id": req.ApplicationID,
	})
}

func (h *Handler) callback(c *gin.Context) {
	var cb Callback
	if !respond.BindJSON(c, &cb) {
		return
	}
	c.Set("messageId", cb.MessageID)
	if cb.ApplicationID != nil {
		c.Set("applicationId", *cb.ApplicationID)
	}

	if err := h.Svc.HandleCallback(c.Request.Context(), cb); err != nil {
		if errors.Is(err, ErrMessageNotFound) {
			respond.Error(c, http.StatusNotFound, "not_found", "message not found", nil)
			return
		}
		telemetry.Error("callback.failed", map[string]any{
			"message_id": cb.MessageID,
			"status":     cb.Status,
			"error":      err.Error(),
		})
		respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to process callback", nil)
		return
	}
	respond.OK(c, gin.H{"success": true, "message": "Callback processed"})
}

func (h *Handler) listTasks(c *gin.Context) {
	filter, err := parseTaskFilter(c)
	if err != nil {
		respond.Validation(c, err)
		return
	}
	tasks, total, err := h.Svc.ListTasks(c.Request.Context(), filter)
	if err != nil {
		respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to list tasks", nil)
		return
	}

	filter = filter.Normalize()
	respond.Page(c, tasks, respond.NewPageMeta(filter.Page, filter.PerPage, total))
}

func parseTaskFilter(c *gin.Context) (applications.TaskFilter, error) {
	var f applications.TaskFilter
	ints := []struct {
		key string
		min int64
		max int64
		set func(int64)
	}{
		{"page", 1, 0, func(v int64) { f.Page = int(v) }},
		{"per_page", 1, applications.MaxPerPage, func(v int64) { f.PerPage = int(v) }},
		{"meeting_application_id", 1, 0, func(v int64) { f.ApplicationID = v }},
		{"user_id", 1, 0, func(v int64) { f.UserID = v }},
	}
	for _, q := range ints {
		raw := strings.TrimSpace(c.Query(q.key))
		if raw == "" {
			continue
		}
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || v < q.min || (q.max > 0 && v > q.max) {
			return f, fmt.Errorf("%s is out of range", q.key)
		}
		q.set(v)
	}
	if raw := strings.TrimSpace(c.Query("status")); raw != "" {
		status, ok := parseTaskStatus(raw)
		if !ok {
			return f, fmt.Errorf("unknown status %q", raw)
		}
		f.Status = status
	}
	return f, nil
}

// parseTaskStatus accepts the numeric code or the name.
func parseTaskStatus(raw string) (applications.TaskStatus, bool) {
	if n, err := strconv.Atoi(raw); err == nil {
		s := applications.TaskStatus(n)
		return s, s.Valid()
	}
	for s := applications.TaskPending; s <= applications.TaskError; s++ {
		if strings.EqualFold(s.String(), raw) {
			return s, true
		}
	}
	return 0, false
}
