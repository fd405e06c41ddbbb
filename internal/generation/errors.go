package generation

import (
	"errors"
	"fmt"

	"meetingapp-backend/internal/applications"
	"meetingapp-backend/internal/pdf/merge"
	"meetingapp-backend/internal/pdf/pagecount"
	"meetingapp-backend/internal/pdf/render"
	"meetingapp-backend/internal/registry"
)

// ErrLocked reports that another run holds the application.
var ErrLocked = errors.New("generation already running")

// ErrMessageNotFound reports a callback for an unknown registry message.
var ErrMessageNotFound = errors.New("registry message not found")

// Kind classifies a generation failure.
type Kind int

const (
	KindUnknown Kind = iota
	KindNotFound
	KindNoSources
	KindAllSourcesFailed
	KindNothingToMerge
	KindDownloadFailed
	KindRenderFailed
	KindMergeFailed
	KindPageCountFailed
	KindUploadFailed
	KindRegistryRequestFailed
	KindLocked
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindNoSources:
		return "no_sources"
	case KindAllSourcesFailed:
		return "all_sources_failed"
	case KindNothingToMerge:
		return "nothing_to_merge"
	case KindDownloadFailed:
		return "download_failed"
	case KindRenderFailed:
		return "render_failed"
	case KindMergeFailed:
		return "merge_failed"
	case KindPageCountFailed:
		return "page_count_failed"
	case KindUploadFailed:
		return "upload_failed"
	case KindRegistryRequestFailed:
		return "registry_request_failed"
	case KindLocked:
		return "locked"
	default:
		return "unknown"
	}
}

// Expected reports business outcomes that end a run without being faults.
func (k Kind) Expected() bool {
	return k == KindNoSources || k == KindAllSourcesFailed || k == KindNothingToMerge
}

// Terminal reports failures that a redelivery cannot fix.
func (k Kind) Terminal() bool {
	return k.Expected() || k == KindNotFound
}

// Error carries a Kind alongside a user-readable message.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil && e.Msg == "" {
		return e.Err.Error()
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

func newError(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// KindOf classifies err, looking through wrapping.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var ge *Error
	if errors.As(err, &ge) {
		return ge.Kind
	}
	switch {
	case errors.Is(err, ErrLocked):
		return KindLocked
	case errors.Is(err, applications.ErrNotFound):
		return KindNotFound
	case errors.Is(err, merge.ErrMergeFailed):
		return KindMergeFailed
	case errors.Is(err, pagecount.ErrPageCountFailed):
		return KindPageCountFailed
	case errors.Is(err, render.ErrRenderFailed):
		return KindRenderFailed
	case errors.Is(err, registry.ErrRejected), errors.Is(err, registry.ErrNotConfigured):
		return KindRegistryRequestFailed
	}
	var se *registry.StatusError
	if errors.As(err, &se) {
		return KindRegistryRequestFailed
	}
	return KindUnknown
}

// message returns the text recorded in history for err.
func message(err error) string {
	var ge *Error
	if errors.As(err, &ge) && ge.Msg != "" {
		return ge.Msg
	}
	return err.Error()
}
