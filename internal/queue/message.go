package queue

import (
	"encoding/json"
	"time"
)

// Kind names a unit of work.
type Kind string

const (
	KindGenerate     Kind = "generate"
	KindTimeoutCheck Kind = "timeout_check"
)

// MessageVersion is the current payload version.
const MessageVersion = 1

// Message is the payload of one unit of work.
type Message struct {
	Kind                  Kind   `json:"kind"`
	ApplicationID         int64  `json:"applicationId"`
	ContinueAfterCallback bool   `json:"continueAfterCallback,omitempty"`
	UserID                *int64 `json:"userId,omitempty"`
	// NotBefore delays a message beyond what the backend can hold it for.
	NotBefore  string `json:"notBefore,omitempty"`
	RequestID  string `json:"requestId"`
	EnqueuedAt string `json:"enqueuedAt"`
	Version    int    `json:"version"`
}

// Remaining returns how long until NotBefore, or zero when it has passed or is unset.
func (m Message) Remaining(now time.Time) time.Duration {
	if m.NotBefore == "" {
		return 0
	}
	at, err := time.Parse(time.RFC3339Nano, m.NotBefore)
	if err != nil {
		return 0
	}
	if d := at.Sub(now); d > 0 {
		return d
	}
	return 0
}

// EncodeMessage returns the JSON representation of a message.
func EncodeMessage(msg Message) ([]byte, error) {
	return json.Marshal(msg)
}

// DecodeMessage parses a JSON payload into a Message. A missing kind means generate.
func DecodeMessage(payload []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(payload, &msg); err != nil {
		return Message{}, err
	}
	if msg.Kind == "" {
		msg.Kind = KindGenerate
	}
	return msg, nil
}
