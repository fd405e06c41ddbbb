// Package notify publishes generation events to the requesting user.
package notify

import (
	"context"
	"time"

	"meetingapp-backend/internal/shared/telemetry"
)

// Toast severities.
const (
	TypeSuccess = "success"
	TypeWarn    = "warn"
	TypeError   = "error"
)

// DefaultLife is how long a toast stays on screen, in milliseconds.
const DefaultLife = 6000

// StatusEvent announces an application's new status.
type StatusEvent struct {
	UserID           int64
	ApplicationID    int64
	LatestStatus     int
	LatestStatusText string
}

// Toast is a human-readable message for the user.
type Toast struct {
	UserID    int64
	Title     string
	Message   string
	Type      string
	Life      int
	CreatedAt time.Time
}

// Notifier delivers events. Delivery is best effort; callers log errors.
type Notifier interface {
	StatusUpdated(ctx context.Context, ev StatusEvent) error
	Toast(ctx context.Context, t Toast) error
}

// LogNotifier writes events to the log only.
type LogNotifier struct{}

func (LogNotifier) StatusUpdated(_ context.Context, ev StatusEvent) error {
	telemetry.Info("notify.status_updated", map[string]any{
		"user_id":        ev.UserID,
		"application_id": ev.ApplicationID,
		"status":         ev.LatestStatus,
	})
	return nil
}

func (LogNotifier) Toast(_ context.Context, t Toast) error {
	telemetry.Info("notify.toast", map[string]any{
		"user_id": t.UserID,
		"type":    t.Type,
		"title":   t.Title,
	})
	return nil
}

var _ Notifier = LogNotifier{}
