package generation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"meetingapp-backend/internal/applications"
	"meetingapp-backend/internal/ledger"
	"meetingapp-backend/internal/queue"
	"meetingapp-backend/internal/shared/metrics"
	"meetingapp-backend/internal/shared/telemetry"
)

// minTimeoutRecheck bounds how soon a rescheduled timeout check runs.
const minTimeoutRecheck = time.Second

// CheckTimeouts expires body requests older than the registry wait window
// and mirrors the timeout onto the message references. A resume is enqueued
// once nothing is pending; otherwise the check is rescheduled for when the
// oldest pending request falls out of the window.
func (s *Service) CheckTimeouts(ctx context.Context, applicationID int64) error {
	now := s.now()
	minutes := int(s.RegistryWait.Minutes())
	text := fmt.Sprintf(textTimeout, minutes)

	expired, err := s.Ledger.ExpirePending(ctx, applicationID, now.Add(-s.RegistryWait), text, now)
	if err != nil {
		return fmt.Errorf("expire pending requests: %w", err)
	}
	if len(expired) == 0 {
		telemetry.Debug("ledger.timeout_none", map[string]any{"application_id": applicationID})
		return s.rescheduleTimeoutCheck(ctx, applicationID, now)
	}
	metrics.AddLedgerTimeouts(len(expired))

	ids := make([]int64, 0, len(expired))
	for _, e := range expired {
		ids = append(ids, e.MessageID)
	}
	telemetry.Warn("ledger.timeout", map[string]any{
		"application_id": applicationID,
		"messages":       ids,
		"minutes":        minutes,
	})

	app, err := s.Apps.Get(ctx, applicationID)
	switch {
	case errors.Is(err, applications.ErrNotFound):
		telemetry.Warn("ledger.timeout_application_missing", map[string]any{"application_id": applicationID})
		return nil
	case err != nil:
		return fmt.Errorf("load application %d: %w", applicationID, err)
	}
	for _, id := range ids {
		if ref := app.Message(id); ref != nil {
			ref.MarkError(text)
		}
	}
	if err := s.Apps.Save(ctx, app); err != nil {
		return fmt.Errorf("save application %d: %w", applicationID, err)
	}

	pending, err := s.Ledger.CountPending(ctx, applicationID)
	if err != nil {
		return fmt.Errorf("count pending requests: %w", err)
	}
	if pending > 0 {
		return s.rescheduleTimeoutCheck(ctx, applicationID, now)
	}
	return s.enqueueResume(ctx, applicationID)
}

func (s *Service) rescheduleTimeoutCheck(ctx context.Context, applicationID int64, now time.Time) error {
	oldest, err := s.Ledger.OldestPending(ctx, applicationID)
	switch {
	case errors.Is(err, ledger.ErrNotFound):
		return nil
	case err != nil:
		return fmt.Errorf("load oldest pending request: %w", err)
	}
	delay := oldest.RequestedAt.Add(s.RegistryWait).Sub(now)
	if delay < minTimeoutRecheck {
		delay = minTimeoutRecheck
	}
	check := queue.Message{Kind: queue.KindTimeoutCheck, ApplicationID: applicationID, RequestID: telemetry.RequestID(ctx)}
	if err := s.Queue.Send(ctx, check, delay); err != nil {
		return fmt.Errorf("reschedule timeout check: %w", err)
	}
	telemetry.Debug("ledger.timeout_rescheduled", map[string]any{
		"application_id": applicationID,
		"message_id":     oldest.MessageID,
		"delay_ms":       delay.Milliseconds(),
	})
	return nil
}
