package generation

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"meetingapp-backend/internal/applications"
	"meetingapp-backend/internal/ledger"
	"meetingapp-backend/internal/shared/metrics"
	"meetingapp-backend/internal/shared/telemetry"
	"meetingapp-backend/internal/shared/util"
)

// Callback statuses reported by the registry service.
const (
	CallbackSuccess = "success"
	CallbackError   = "error"
)

// Callback is the registry's report on one message body request.
type Callback struct {
	MessageID     int64   `json:"message_id" binding:"required"`
	MessageUUID   string  `json:"message_uuid" binding:"required"`
	Status        string  `json:"status" binding:"required,oneof=success error"`
	Error         *string `json:"error"`
	ApplicationID *int64  `json:"meeting_application_id" binding:"omitempty,min=1"`
}

// HandleCallback resolves the pending request for the message and enqueues
// a resume when the application has nothing left pending. It returns
// ErrMessageNotFound for unknown messages.
func (s *Service) HandleCallback(ctx context.Context, cb Callback) error {
	rows, err := s.Sources.MessagesByIDs(ctx, []int64{cb.MessageID})
	if err != nil {
		return fmt.Errorf("load registry message: %w", err)
	}
	if _, ok := rows[cb.MessageID]; !ok {
		return ErrMessageNotFound
	}
	metrics.IncCallback(cb.Status)

	now := s.now()
	status, errText := ledger.StatusCompleted, ""
	if cb.Status != CallbackSuccess {
		status, errText = ledger.StatusError, textCallbackError
		if cb.Error != nil && strings.TrimSpace(*cb.Error) != "" {
			errText = util.SanitizeText(*cb.Error)
		}
		telemetry.Warn("callback.body_failed", map[string]any{
			"message_id": cb.MessageID,
			"error":      errText,
		})
	}
	n, err := s.Ledger.Resolve(ctx, cb.MessageID, status, errText, now)
	if err != nil {
		return fmt.Errorf("resolve request: %w", err)
	}
	telemetry.Info("callback.resolved", map[string]any{
		"message_id": cb.MessageID,
		"status":     status.String(),
		"entries":    n,
	})

	var applicationID int64
	if cb.ApplicationID != nil {
		applicationID = *cb.ApplicationID
	} else {
		applicationID, err = s.Ledger.ResolvedApplication(ctx, cb.MessageID)
		if errors.Is(err, ledger.ErrNotFound) {
			telemetry.Warn("callback.request_missing", map[string]any{"message_id": cb.MessageID})
			return nil
		}
		if err != nil {
			return fmt.Errorf("find application for message: %w", err)
		}
	}

	if _, err := s.Apps.Get(ctx, applicationID); err != nil {
		if errors.Is(err, applications.ErrNotFound) {
			telemetry.Error("callback.application_missing", map[string]any{
				"message_id":     cb.MessageID,
				"application_id": applicationID,
			})
			return nil
		}
		return fmt.Errorf("load application %d: %w", applicationID, err)
	}

	pending, err := s.Ledger.CountPending(ctx, applicationID)
	if err != nil {
		return fmt.Errorf("count pending requests: %w", err)
	}
	if pending > 0 {
		telemetry.Info("callback.waiting", map[string]any{
			"application_id": applicationID,
			"pending":        pending,
		})
		return nil
	}
	return s.enqueueResume(ctx, applicationID)
}
