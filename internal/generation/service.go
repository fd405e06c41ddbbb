// Package generation assembles a meeting application's composite PDF from
// stored files and registry messages, suspending while message bodies are
// fetched and resuming from the callback or the timeout check.
package generation

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"time"

	"k8s.io/utils/clock"

	"meetingapp-backend/internal/applications"
	"meetingapp-backend/internal/ledger"
	"meetingapp-backend/internal/notify"
	"meetingapp-backend/internal/queue"
	"meetingapp-backend/internal/registry"
	"meetingapp-backend/internal/shared/metrics"
	"meetingapp-backend/internal/shared/storage/object"
	"meetingapp-backend/internal/shared/telemetry"
	"meetingapp-backend/internal/shared/util"
)

const outcomeSuspended = "suspended"

// Renderer turns an HTML message body into a PDF file.
type Renderer interface {
	Render(ctx context.Context, body, out, title string) error
}

// Merger concatenates PDFs in order and reports the engine used.
type Merger interface {
	Merge(ctx context.Context, paths []string, out string) (string, error)
}

// PageCounter counts pages of a PDF file.
type PageCounter interface {
	Count(ctx context.Context, path string) (int, error)
}

// RegistryClient asks the registry service to deliver message bodies.
type RegistryClient interface {
	RequestBodies(ctx context.Context, messages []registry.Message, applicationID int64) (registry.Result, error)
}

// StorageResolver returns the provider bound to an owner's account.
type StorageResolver interface {
	For(ctx context.Context, account object.Account) (object.Provider, error)
}

// Service contains the generation workflow.
type Service struct {
	Apps     applications.Repo
	Tasks    applications.TaskRepo
	Sources  applications.SourceRepo
	Outputs  applications.OutputRepo
	Ledger   ledger.Repo
	Storage  StorageResolver
	Renderer Renderer
	Merger   Merger
	Pages    PageCounter
	Registry RegistryClient
	Notifier notify.Notifier
	Queue    queue.Client
	Locker   Locker
	Clock    clock.PassiveClock

	TempDir      string
	RegistryWait time.Duration
}

var moscow = loadMoscow()

func loadMoscow() *time.Location {
	loc, err := time.LoadLocation("Europe/Moscow")
	if err != nil {
		return time.FixedZone("MSK", 3*60*60)
	}
	return loc
}

func (s *Service) now() time.Time {
	if s.Clock == nil {
		return time.Now().UTC()
	}
	return s.Clock.Now().UTC()
}

func (s *Service) locker() Locker {
	if s.Locker == nil {
		return NoopLocker{}
	}
	return s.Locker
}

// Generate runs one pass for the application. A pass that is waiting on
// registry message bodies returns nil and leaves the run suspended until
// the callback or the timeout check enqueues a resume.
func (s *Service) Generate(ctx context.Context, applicationID int64, resume bool, userID *int64) error {
	started := s.now()
	unlock, err := s.locker().Lock(ctx, applicationID)
	if err != nil {
		return err
	}
	defer unlock()

	app, err := s.Apps.Get(ctx, applicationID)
	if err != nil {
		if errors.Is(err, applications.ErrNotFound) {
			telemetry.Warn("generation.not_found", map[string]any{"application_id": applicationID})
			return newError(KindNotFound, fmt.Sprintf("meeting application %d not found", applicationID), err)
		}
		return fmt.Errorf("load application %d: %w", applicationID, err)
	}

	r := &run{
		s:         s,
		app:       app,
		resume:    resume,
		userID:    userID,
		dir:       filepath.Join(s.TempDir, strconv.FormatInt(applicationID, 10)),
		requestID: telemetry.RequestID(ctx),
	}
	telemetry.Info("generation.started", r.fields(nil))

	outcome, err := r.execute(ctx)
	seconds := s.now().Sub(started).Seconds()
	if err != nil {
		s.fail(ctx, r, err)
		metrics.IncGenerationRun("error", seconds)
		return err
	}
	metrics.IncGenerationRun(outcome, seconds)
	telemetry.Info("generation.finished", r.fields(map[string]any{
		"outcome":     outcome,
		"duration_ms": int64(seconds * 1000),
	}))
	return nil
}

// fail records a terminal ERROR on a freshly loaded copy of the application.
func (s *Service) fail(ctx context.Context, r *run, cause error) {
	ctx = context.WithoutCancel(ctx)
	kind := KindOf(cause)
	msg := util.SanitizeText(message(cause))
	fields := r.fields(map[string]any{"kind": kind.String(), "error": util.SanitizeError(cause)})
	if kind.Expected() {
		telemetry.Warn("generation.failed", fields)
	} else {
		telemetry.Error("generation.failed", fields)
	}

	app, err := s.Apps.Get(ctx, r.app.ID)
	if err != nil {
		telemetry.Error("generation.reload_failed", r.fields(map[string]any{"error": err.Error()}))
		app = r.app
	}
	now := s.now()
	if kind == KindUploadFailed {
		app.AddStatus(applications.StatusError, now, noteUploadFailed, noteUploadSystem+msg)
	} else {
		app.AddStatus(applications.StatusError, now, noteErrorSystem+msg, util.SanitizeError(cause))
	}
	end := now
	app.EndGeneration = &end
	if err := s.Apps.Save(ctx, app); err != nil {
		telemetry.Error("generation.save_failed", r.fields(map[string]any{"error": err.Error()}))
	}
	r.app = app
	r.finishTask(ctx, applications.TaskError, msg)
	r.notify(ctx, notify.TypeError, toastError, msg)
}

// Dispatch runs one queued unit of work.
func (s *Service) Dispatch(ctx context.Context, msg queue.Message) error {
	switch msg.Kind {
	case queue.KindGenerate:
		return s.Generate(ctx, msg.ApplicationID, msg.ContinueAfterCallback, msg.UserID)
	case queue.KindTimeoutCheck:
		return s.CheckTimeouts(ctx, msg.ApplicationID)
	default:
		return fmt.Errorf("unknown job kind %q", msg.Kind)
	}
}

// StartGeneration marks the application as generating and enqueues a fresh pass.
func (s *Service) StartGeneration(ctx context.Context, applicationID int64, userID *int64) error {
	app, err := s.Apps.Get(ctx, applicationID)
	if err != nil {
		if errors.Is(err, applications.ErrNotFound) {
			return newError(KindNotFound, fmt.Sprintf("meeting application %d not found", applicationID), err)
		}
		return fmt.Errorf("load application %d: %w", applicationID, err)
	}
	now := s.now()
	app.AddStatus(applications.StatusGenerating, now, noteStarted, "")
	start := now
	app.StartGeneration = &start
	app.EndGeneration = nil
	if err := s.Apps.Save(ctx, app); err != nil {
		return fmt.Errorf("save application %d: %w", applicationID, err)
	}
	msg := queue.Message{
		Kind:          queue.KindGenerate,
		ApplicationID: applicationID,
		UserID:        userID,
		RequestID:     telemetry.RequestID(ctx),
	}
	if err := s.Queue.Send(ctx, msg, 0); err != nil {
		return fmt.Errorf("enqueue generation: %w", err)
	}
	telemetry.Info("generation.enqueued", map[string]any{"application_id": applicationID})
	return nil
}

// enqueueResume schedules a resumed pass on behalf of the latest task's user.
func (s *Service) enqueueResume(ctx context.Context, applicationID int64) error {
	var userID *int64
	task, err := s.Tasks.Latest(ctx, applicationID)
	switch {
	case err == nil:
		userID = task.UserID
	case !errors.Is(err, applications.ErrNotFound):
		return fmt.Errorf("load generation task: %w", err)
	}
	msg := queue.Message{
		Kind:                  queue.KindGenerate,
		ApplicationID:         applicationID,
		ContinueAfterCallback: true,
		UserID:                userID,
		RequestID:             telemetry.RequestID(ctx),
	}
	if err := s.Queue.Send(ctx, msg, 0); err != nil {
		return fmt.Errorf("enqueue resume: %w", err)
	}
	telemetry.Info("generation.resume_enqueued", map[string]any{"application_id": applicationID})
	return nil
}
