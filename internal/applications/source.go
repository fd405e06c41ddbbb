package applications

import (
	"strings"
	"time"
)

// SourceFile is a stored document row referenced by StorageFileRef.
type SourceFile struct {
	ID           int64
	ArbitratorID int64
	Name         string
	Extension    string
	Path         string
	Size         int64
}

// IsPDF reports whether the file can be merged.
func (f SourceFile) IsPDF() bool {
	return strings.EqualFold(strings.TrimPrefix(strings.TrimSpace(f.Extension), "."), "pdf")
}

// RegistryMessage is a registry notice row referenced by RegistryMessageRef.
// Body is filled out of band by the registry service and may be base64.
type RegistryMessage struct {
	ID     int64
	UUID   string
	Number string
	Title  string
	Body   string
}

// HasBody reports whether the message text has been delivered.
func (m RegistryMessage) HasBody() bool {
	return strings.TrimSpace(m.Body) != ""
}

// OutputFile records an uploaded composite PDF.
type OutputFile struct {
	ID            int64          `json:"id"`
	ApplicationID int64          `json:"meeting_application_id"`
	UserID        int64          `json:"user_id"`
	WorkspaceID   int64          `json:"workspace_id"`
	ArbitratorID  int64          `json:"arbitrator_id"`
	ProcedureID   int64          `json:"procedure_id"`
	Provider      int            `json:"provider"`
	RemotePath    string         `json:"path"`
	Name          string         `json:"name"`
	Size          int64          `json:"size"`
	Mime          string         `json:"mime"`
	Meta          map[string]any `json:"meta,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
}
