package workerproc

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"k8s.io/utils/clock"

	"meetingapp-backend/internal/bootstrap"
	"meetingapp-backend/internal/generation"
	"meetingapp-backend/internal/queue"
	"meetingapp-backend/internal/shared/telemetry"
)

// MessageMeta captures details useful for logging and diagnostics.
type MessageMeta struct {
	BodyLen int
	BodySHA string
}

// ComputeMeta returns the body length and SHA-256 hash.
func ComputeMeta(body string) MessageMeta {
	if body == "" {
		return MessageMeta{BodyLen: 0, BodySHA: ""}
	}
	sum := sha256.Sum256([]byte(body))
	return MessageMeta{BodyLen: len(body), BodySHA: hex.EncodeToString(sum[:])}
}

// ErrEmptyBody indicates an empty queue payload.
type ErrEmptyBody struct {
	Meta MessageMeta
}

func (e ErrEmptyBody) Error() string { return "empty message body" }

// ErrDecode indicates a JSON decode failure.
type ErrDecode struct {
	Meta MessageMeta
	Err  error
}

func (e ErrDecode) Error() string {
	if e.Err == nil {
		return "decode message"
	}
	return "decode message: " + e.Err.Error()
}

func (e ErrDecode) Unwrap() error { return e.Err }

// ErrMissingApplicationID indicates a message without a usable application id.
type ErrMissingApplicationID struct {
	Meta      MessageMeta
	RequestID string
}

func (e ErrMissingApplicationID) Error() string { return "missing meeting application id" }

// ErrProcess indicates processing failed after successful parsing.
type ErrProcess struct {
	Kind          queue.Kind
	ApplicationID int64
	RequestID     string
	Err           error
}

func (e ErrProcess) Error() string {
	if e.Err == nil {
		return "process " + string(e.Kind)
	}
	return "process " + string(e.Kind) + ": " + e.Err.Error()
}

func (e ErrProcess) Unwrap() error { return e.Err }

// Terminal reports whether a redelivery would end the same way. The failure
// is already recorded on the application in that case.
func (e ErrProcess) Terminal() bool {
	return generation.KindOf(e.Err).Terminal()
}

// Unrecoverable reports errors after which the message should be removed
// from the queue instead of redelivered.
func Unrecoverable(err error) bool {
	var (
		empty   ErrEmptyBody
		decode  ErrDecode
		missing ErrMissingApplicationID
		proc    ErrProcess
	)
	switch {
	case errors.As(err, &empty), errors.As(err, &decode), errors.As(err, &missing):
		return true
	case errors.As(err, &proc):
		return proc.Terminal()
	default:
		return false
	}
}

// ParseMessage validates and decodes the queue payload.
func ParseMessage(body string) (queue.Message, MessageMeta, error) {
	meta := ComputeMeta(body)
	if strings.TrimSpace(body) == "" {
		return queue.Message{}, meta, ErrEmptyBody{Meta: meta}
	}

	msg, err := queue.DecodeMessage([]byte(body))
	if err != nil {
		return queue.Message{}, meta, ErrDecode{Meta: meta, Err: err}
	}
	switch msg.Kind {
	case queue.KindGenerate, queue.KindTimeoutCheck:
	default:
		return msg, meta, ErrDecode{Meta: meta, Err: fmt.Errorf("unknown kind %q", msg.Kind)}
	}
	if msg.ApplicationID <= 0 {
		return msg, meta, ErrMissingApplicationID{Meta: meta, RequestID: msg.RequestID}
	}
	return msg, meta, nil
}

type parsedMessageKey struct{}

// WithParsedMessage stores a decoded message in the context for reuse.
func WithParsedMessage(ctx context.Context, msg queue.Message) context.Context {
	return context.WithValue(ctx, parsedMessageKey{}, msg)
}

func parsedMessageFromContext(ctx context.Context) (queue.Message, bool) {
	if ctx == nil {
		return queue.Message{}, false
	}
	msg, ok := ctx.Value(parsedMessageKey{}).(queue.Message)
	return msg, ok
}

// Processor executes one decoded unit of work.
type Processor interface {
	Dispatch(ctx context.Context, msg queue.Message) error
}

// Runner decodes payloads and hands them to a Processor. Messages carrying a
// NotBefore in the future are sent back to Requeue with the remaining delay.
type Runner struct {
	Processor Processor
	Requeue   queue.Client
	Clock     clock.PassiveClock
}

// NewRunner builds a Runner from the wired application.
func NewRunner(app *bootstrap.App) (*Runner, error) {
	if app == nil || app.Generation == nil {
		return nil, errors.New("generation service not configured")
	}
	return &Runner{Processor: app.Generation, Requeue: app.Queue, Clock: app.Clock}, nil
}

// Handle parses, validates, and processes a message payload.
func (r *Runner) Handle(ctx context.Context, body string) error {
	if r == nil || r.Processor == nil {
		return errors.New("generation service not configured")
	}

	msg, ok := parsedMessageFromContext(ctx)
	if !ok {
		var err error
		msg, _, err = ParseMessage(body)
		if err != nil {
			return err
		}
	}
	if msg.ApplicationID <= 0 {
		return ErrMissingApplicationID{Meta: ComputeMeta(body), RequestID: msg.RequestID}
	}

	if r.Requeue != nil {
		var clk clock.PassiveClock = clock.RealClock{}
		if r.Clock != nil {
			clk = r.Clock
		}
		if wait := msg.Remaining(clk.Now()); wait > 0 {
			if err := r.Requeue.Send(ctx, msg, wait); err != nil {
				return ErrProcess{Kind: msg.Kind, ApplicationID: msg.ApplicationID, RequestID: msg.RequestID, Err: err}
			}
			telemetry.Debug("worker.deferred", map[string]any{
				"kind":           string(msg.Kind),
				"application_id": msg.ApplicationID,
				"request_id":     msg.RequestID,
				"remaining":      wait.String(),
			})
			return nil
		}
	}

	ctx = telemetry.WithRequestID(ctx, msg.RequestID)
	if err := r.Processor.Dispatch(ctx, msg); err != nil {
		return ErrProcess{Kind: msg.Kind, ApplicationID: msg.ApplicationID, RequestID: msg.RequestID, Err: err}
	}
	return nil
}
