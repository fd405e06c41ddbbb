// Package ledger tracks outstanding message-body requests sent to the
// registry service so callbacks and timeouts can be reconciled.
package ledger

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound reports that no matching entry exists.
var ErrNotFound = errors.New("ledger entry not found")

// Status is the state of one body request.
type Status int

const (
	StatusPending   Status = 1
	StatusCompleted Status = 2
	StatusError     Status = 3
	StatusTimeout   Status = 4
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusCompleted:
		return "completed"
	case StatusError:
		return "error"
	case StatusTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// Failed reports whether the request ended without a body.
func (s Status) Failed() bool {
	return s == StatusError || s == StatusTimeout
}

// Entry is one request for a message body on behalf of an application.
type Entry struct {
	ID            int64
	ApplicationID int64
	MessageID     int64
	RequestedAt   time.Time
	Status        Status
	Error         string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Repo persists ledger entries. At most one pending entry exists per
// (application, message) pair.
type Repo interface {
	// Record adds a pending entry per message, skipping pairs that are already pending.
	Record(ctx context.Context, applicationID int64, messageIDs []int64, at time.Time) error
	// Discard removes every entry of the application for the given messages.
	Discard(ctx context.Context, applicationID int64, messageIDs []int64) error
	// Resolve moves every pending entry of the message, across applications, to status.
	Resolve(ctx context.Context, messageID int64, status Status, errText string, at time.Time) (int, error)
	// CompletePending marks the application's pending entries for the messages completed.
	CompletePending(ctx context.Context, applicationID int64, messageIDs []int64, at time.Time) (int, error)
	// ExpirePending marks pending entries requested at or before cutoff as timed out and returns them.
	ExpirePending(ctx context.Context, applicationID int64, cutoff time.Time, errText string, at time.Time) ([]Entry, error)
	// OldestPending returns the earliest requested pending entry, or ErrNotFound.
	OldestPending(ctx context.Context, applicationID int64) (Entry, error)
	PendingMessageIDs(ctx context.Context, applicationID int64) ([]int64, error)
	CountPending(ctx context.Context, applicationID int64) (int, error)
	// Latest returns the most recent entry for the pair.
	Latest(ctx context.Context, applicationID, messageID int64) (Entry, error)
	// ResolvedApplication finds the application of a completed or failed entry for the message.
	ResolvedApplication(ctx context.Context, messageID int64) (int64, error)
}
