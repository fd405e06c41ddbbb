package queue

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Client sends messages to a queue backend. delay postpones delivery.
type Client interface {
	Send(ctx context.Context, msg Message, delay time.Duration) error
}

// Stamp fills request id, enqueue time and version when unset.
func Stamp(msg Message, now time.Time) Message {
	if msg.RequestID == "" {
		msg.RequestID = uuid.NewString()
	}
	if msg.EnqueuedAt == "" {
		msg.EnqueuedAt = now.UTC().Format(time.RFC3339)
	}
	if msg.Version == 0 {
		msg.Version = MessageVersion
	}
	return msg
}
