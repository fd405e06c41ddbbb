package generation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"meetingapp-backend/internal/applications"
)

const taskTimeLayout = "02.01.2006 15:04:05"

// ItemStats counts a run's references by outcome.
type ItemStats struct {
	Total   int
	Success int
	Error   int
}

// TaskView is a generation task with statistics from its application.
type TaskView struct {
	ID                      int64   `json:"id"`
	ApplicationID           int64   `json:"meeting_application_id"`
	UserID                  *int64  `json:"user_id"`
	Status                  int     `json:"status"`
	StatusName              string  `json:"status_name"`
	Error                   string  `json:"error,omitempty"`
	StartedAt               *string `json:"started_at"`
	FinishedAt              *string `json:"finished_at"`
	DocumentsTotal          int     `json:"documents_total"`
	DocumentsSuccess        int     `json:"documents_success"`
	DocumentsError          int     `json:"documents_error"`
	RegistryMessagesTotal   int     `json:"efrsb_messages_total"`
	RegistryMessagesSuccess int     `json:"efrsb_messages_success"`
	RegistryMessagesError   int     `json:"efrsb_messages_error"`
	CreatedAt               *string `json:"created_at"`
	UpdatedAt               *string `json:"updated_at"`
}

// ListTasks returns tasks newest first with the total matching count.
func (s *Service) ListTasks(ctx context.Context, filter applications.TaskFilter) ([]TaskView, int, error) {
	tasks, total, err := s.Tasks.List(ctx, filter)
	if err != nil {
		return nil, 0, fmt.Errorf("list tasks: %w", err)
	}
	apps := make(map[int64]*applications.Application)
	out := make([]TaskView, 0, len(tasks))
	for _, t := range tasks {
		app, ok := apps[t.ApplicationID]
		if !ok {
			loaded, err := s.Apps.Get(ctx, t.ApplicationID)
			switch {
			case err == nil:
				app = &loaded
			case !errors.Is(err, applications.ErrNotFound):
				return nil, 0, fmt.Errorf("load application %d: %w", t.ApplicationID, err)
			}
			apps[t.ApplicationID] = app
		}
		out = append(out, newTaskView(t, app))
	}
	return out, total, nil
}

func newTaskView(t applications.GenerationTask, app *applications.Application) TaskView {
	docs, msgs := Stats(app)
	return TaskView{
		ID:                      t.ID,
		ApplicationID:           t.ApplicationID,
		UserID:                  t.UserID,
		Status:                  int(t.Status),
		StatusName:              strings.ToUpper(t.Status.String()),
		Error:                   t.Error,
		StartedAt:               formatTime(t.StartedAt),
		FinishedAt:              formatTime(t.FinishedAt),
		DocumentsTotal:          docs.Total,
		DocumentsSuccess:        docs.Success,
		DocumentsError:          docs.Error,
		RegistryMessagesTotal:   msgs.Total,
		RegistryMessagesSuccess: msgs.Success,
		RegistryMessagesError:   msgs.Error,
		CreatedAt:               formatTime(&t.CreatedAt),
		UpdatedAt:               formatTime(&t.UpdatedAt),
	}
}

// Stats counts file and message references of app. A nil app counts as empty.
func Stats(app *applications.Application) (files, messages ItemStats) {
	if app == nil {
		return files, messages
	}
	for _, c := range applications.Categories {
		for _, ref := range app.Files[c] {
			files.add(ref.Status, ref.Error)
		}
	}
	for _, ref := range app.Messages {
		messages.add(ref.Status, ref.Error)
	}
	return files, messages
}

func (s *ItemStats) add(status applications.ItemStatus, errText string) {
	s.Total++
	switch {
	case status == applications.ItemGenerated:
		s.Success++
	case status == applications.ItemError || strings.TrimSpace(errText) != "":
		s.Error++
	}
}

func formatTime(t *time.Time) *string {
	if t == nil || t.IsZero() {
		return nil
	}
	out := t.In(moscow).Format(taskTimeLayout)
	return &out
}
