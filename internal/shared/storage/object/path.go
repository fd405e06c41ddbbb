package object

import (
	"fmt"
	"strings"
	"time"

	"meetingapp-backend/internal/shared/util"
)

// PathParams identifies where an application's output is stored.
type PathParams struct {
	Root           string
	ArbitratorUUID string
	ProcedureUUID  string
	ApplicationID  int64
	CreatedAt      time.Time
	FileName       string
	Extension      string
}

// NormalizeRoot returns root with a single leading slash and no trailing one.
func NormalizeRoot(root string) string {
	trimmed := strings.Trim(strings.TrimSpace(root), "/")
	if trimmed == "" {
		return ""
	}
	return "/" + trimmed
}

// BuildPath returns
// {root}/{arbitrator}/procedures/{procedure}/meeting_applications/{YYYY_MM_DD}_{id}/{slug}.{ext}.
func BuildPath(p PathParams) string {
	ext := strings.TrimPrefix(strings.TrimSpace(p.Extension), ".")
	if ext == "" {
		ext = "pdf"
	}
	name := strings.TrimSuffix(p.FileName, "."+ext)
	return fmt.Sprintf("%s/%s/procedures/%s/meeting_applications/%s_%d/%s.%s",
		NormalizeRoot(p.Root),
		p.ArbitratorUUID,
		p.ProcedureUUID,
		p.CreatedAt.Format("2006_01_02"),
		p.ApplicationID,
		util.Slug(name),
		ext,
	)
}
