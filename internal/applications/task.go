package applications

import (
	"fmt"
	"time"
)

// TaskStatus is the state of one generation attempt.
type TaskStatus int

const (
	TaskPending    TaskStatus = 1
	TaskGenerating TaskStatus = 2
	TaskCompleted  TaskStatus = 3
	TaskError      TaskStatus = 4
)

func (s TaskStatus) String() string {
	switch s {
	case TaskPending:
		return "pending"
	case TaskGenerating:
		return "generating"
	case TaskCompleted:
		return "completed"
	case TaskError:
		return "error"
	default:
		return fmt.Sprintf("task_status_%d", int(s))
	}
}

// Valid reports whether s is a known task status.
func (s TaskStatus) Valid() bool {
	return s >= TaskPending && s <= TaskError
}

// GenerationTask is the audit record of one generation attempt.
type GenerationTask struct {
	ID            int64      `json:"id"`
	ApplicationID int64      `json:"meeting_application_id"`
	UserID        *int64     `json:"user_id,omitempty"`
	Status        TaskStatus `json:"status"`
	Error         string     `json:"error,omitempty"`
	StartedAt     *time.Time `json:"started_at,omitempty"`
	FinishedAt    *time.Time `json:"finished_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// TaskFilter narrows task listings. Zero values mean "any".
type TaskFilter struct {
	ApplicationID int64
	UserID        int64
	Status        TaskStatus
	Page          int
	PerPage       int
}

const (
	DefaultPerPage = 25
	MaxPerPage     = 100
)

// Normalize clamps pagination to sane bounds.
func (f TaskFilter) Normalize() TaskFilter {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.PerPage < 1 {
		f.PerPage = DefaultPerPage
	}
	if f.PerPage > MaxPerPage {
		f.PerPage = MaxPerPage
	}
	return f
}

// Offset returns the row offset for the filter's page.
func (f TaskFilter) Offset() int {
	n := f.Normalize()
	return (n.Page - 1) * n.PerPage
}
