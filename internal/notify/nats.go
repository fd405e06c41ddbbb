package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
)

const (
	statusSubjectPrefix = "meeting.application.generate."
	toastSubjectPrefix  = "notification."

	statusEventName = "meeting.application.status.updated"
	toastEventName  = "notification.created"
)

type publisher interface {
	Publish(subject string, data []byte) error
}

// NATSNotifier publishes events on per-user subjects.
type NATSNotifier struct {
	pub  publisher
	conn *nats.Conn
	now  func() time.Time
}

// NewNATSNotifier connects to url and retries reconnects indefinitely.
func NewNATSNotifier(url, name string) (*NATSNotifier, error) {
	conn, err := nats.Connect(url,
		nats.Name(name),
		nats.Timeout(5*time.Second),
		nats.ReconnectWait(2*time.Second),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return &NATSNotifier{pub: conn, conn: conn, now: time.Now}, nil
}

type statusPayload struct {
	Event string     `json:"event"`
	Data  statusData `json:"data"`
}

type statusData struct {
	ID               int64  `json:"id"`
	LatestStatus     int    `json:"latest_status"`
	LatestStatusText string `json:"latest_status_text"`
}

type toastPayload struct {
	Event     string `json:"event"`
	UserID    int64  `json:"user_id"`
	Title     string `json:"title"`
	Message   string `json:"message"`
	Type      string `json:"type"`
	Life      int    `json:"life"`
	CreatedAt string `json:"created_at"`
}

func (n *NATSNotifier) StatusUpdated(_ context.Context, ev StatusEvent) error {
	return n.publish(statusSubjectPrefix+fmt.Sprint(ev.UserID), statusPayload{
		Event: statusEventName,
		Data: statusData{
			ID:               ev.ApplicationID,
			LatestStatus:     ev.LatestStatus,
			LatestStatusText: ev.LatestStatusText,
		},
	})
}

func (n *NATSNotifier) Toast(_ context.Context, t Toast) error {
	created := t.CreatedAt
	if created.IsZero() {
		created = n.now()
	}
	life := t.Life
	if life <= 0 {
		life = DefaultLife
	}
	return n.publish(toastSubjectPrefix+fmt.Sprint(t.UserID), toastPayload{
		Event:     toastEventName,
		UserID:    t.UserID,
		Title:     t.Title,
		Message:   t.Message,
		Type:      t.Type,
		Life:      life,
		CreatedAt: created.Format("2006-01-02 15:04:05"),
	})
}

func (n *NATSNotifier) publish(subject string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", subject, err)
	}
	if err := n.pub.Publish(subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	return nil
}

// Close flushes pending messages and closes the connection.
func (n *NATSNotifier) Close() error {
	if n.conn == nil {
		return nil
	}
	return n.conn.Drain()
}

var _ Notifier = (*NATSNotifier)(nil)
