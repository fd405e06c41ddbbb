package queue

import (
	"context"
	"errors"
	"sync"
	"time"

	"k8s.io/utils/clock"

	"meetingapp-backend/internal/shared/telemetry"
)

// Handler processes one message.
type Handler func(ctx context.Context, msg Message) error

// InlineClient runs messages in background goroutines of the current
// process. It backs dev environments without a queue.
type InlineClient struct {
	clock clock.WithDelayedExecution

	mu      sync.RWMutex
	handler Handler
	wg      sync.WaitGroup
}

// NewInlineClient returns a client; SetHandler must be called before Send.
func NewInlineClient(clk clock.WithDelayedExecution) *InlineClient {
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &InlineClient{clock: clk}
}

// SetHandler binds the dispatcher that executes messages.
func (c *InlineClient) SetHandler(h Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handler = h
}

func (c *InlineClient) Send(_ context.Context, msg Message, delay time.Duration) error {
	c.mu.RLock()
	h := c.handler
	c.mu.RUnlock()
	if h == nil {
		return errors.New("inline queue has no handler")
	}
	msg = Stamp(msg, c.clock.Now())

	c.wg.Add(1)
	run := func() {
		defer c.wg.Done()
		if err := h(telemetry.WithRequestID(context.Background(), msg.RequestID), msg); err != nil {
			telemetry.Error("queue.inline.failed", map[string]any{
				"kind":           string(msg.Kind),
				"application_id": msg.ApplicationID,
				"request_id":     msg.RequestID,
				"error":          err.Error(),
			})
		}
	}
	if delay <= 0 {
		go run()
		return nil
	}
	c.clock.AfterFunc(delay, run)
	return nil
}

// Wait blocks until every accepted message has run. Delayed messages count.
func (c *InlineClient) Wait() {
	c.wg.Wait()
}

var _ Client = (*InlineClient)(nil)
