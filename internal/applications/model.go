package applications

import (
	"strings"
	"time"
)

// Category buckets storage files referenced by an application.
type Category string

const (
	CategoryInsurance       Category = "insurance"
	CategoryIncomingLetters Category = "incoming_letters"
	CategoryOutgoingLetters Category = "outgoing_letters"
	CategoryInventory       Category = "inventory"
	CategoryEstimate        Category = "estimate"
	CategoryTrade           Category = "trade"
	CategoryTradeContract   Category = "trade_contract"
)

// Categories lists storage categories in merge order.
var Categories = []Category{
	CategoryInsurance,
	CategoryIncomingLetters,
	CategoryOutgoingLetters,
	CategoryInventory,
	CategoryEstimate,
	CategoryTrade,
	CategoryTradeContract,
}

// ItemStatus is the per-run state of a source reference.
type ItemStatus string

const (
	ItemUnset      ItemStatus = ""
	ItemGenerating ItemStatus = "generating"
	ItemGenerated  ItemStatus = "generated"
	ItemError      ItemStatus = "error"
)

// StorageFileRef points at a stored document. Status, Error and Size
// belong to the current run only.
type StorageFileRef struct {
	ID     int64      `json:"id"`
	Title  string     `json:"title,omitempty"`
	Status ItemStatus `json:"status,omitempty"`
	Error  string     `json:"error,omitempty"`
	Size   int64      `json:"size,omitempty"`
}

// MarkGenerated records success and clears any error.
func (r *StorageFileRef) MarkGenerated(size int64) {
	r.Status = ItemGenerated
	r.Error = ""
	r.Size = size
}

// MarkError records a failure for the current run.
func (r *StorageFileRef) MarkError(msg string) {
	r.Status = ItemError
	r.Error = msg
}

// RegistryMessageRef points at a registry notice whose body is rendered to PDF.
type RegistryMessageRef struct {
	ID     int64      `json:"id"`
	Number string     `json:"number,omitempty"`
	Title  string     `json:"title,omitempty"`
	Status ItemStatus `json:"status,omitempty"`
	Error  string     `json:"error,omitempty"`
	Size   int64      `json:"size,omitempty"`
}

// MarkGenerated records success and clears any error.
func (r *RegistryMessageRef) MarkGenerated(size int64) {
	r.Status = ItemGenerated
	r.Error = ""
	r.Size = size
}

// MarkError records a failure for the current run.
func (r *RegistryMessageRef) MarkError(msg string) {
	r.Status = ItemError
	r.Error = msg
}

// MarkWaiting records an outstanding body request.
func (r *RegistryMessageRef) MarkWaiting() {
	r.Status = ItemGenerating
	r.Error = ""
}

// StorageFiles groups file references by category.
type StorageFiles map[Category][]StorageFileRef

// Count returns the number of references across all categories.
func (f StorageFiles) Count() int {
	n := 0
	for _, c := range Categories {
		n += len(f[c])
	}
	return n
}

// Owner identifies who the application and its output belong to.
type Owner struct {
	ArbitratorID   int64  `json:"arbitrator_id"`
	ArbitratorUUID string `json:"arbitrator_uuid"`
	ProcedureID    int64  `json:"procedure_id"`
	ProcedureUUID  string `json:"procedure_uuid"`
	WorkspaceID    int64  `json:"workspace_id"`
}

// Application is one composite PDF assembly job.
type Application struct {
	ID              int64                `json:"id"`
	LatestStatus    Status               `json:"latest_status"`
	Statuses        StatusHistory        `json:"statuses"`
	Files           StorageFiles         `json:"arbitrator_files"`
	Messages        []RegistryMessageRef `json:"efrsb_debtor_messages"`
	Meta            map[string]any       `json:"meta,omitempty"`
	StartGeneration *time.Time           `json:"start_generation,omitempty"`
	EndGeneration   *time.Time           `json:"end_generation,omitempty"`
	Owner           Owner                `json:"owner"`
	CreatedAt       time.Time            `json:"created_at"`
	UpdatedAt       time.Time            `json:"updated_at"`
}

// AddStatus appends a history entry and moves LatestStatus with it.
func (a *Application) AddStatus(status Status, at time.Time, userText, systemText string) StatusEntry {
	entry := StatusEntry{
		ID:         a.Statuses.nextID(),
		Status:     status,
		Date:       at,
		UserText:   userText,
		SystemText: systemText,
	}
	a.Statuses = append(a.Statuses, entry)
	a.LatestStatus = status
	return entry
}

// ResetRun rebuilds every reference from its identity fields, dropping
// the previous run's status, error and size.
func (a *Application) ResetRun() {
	files := make(StorageFiles, len(a.Files))
	for c, refs := range a.Files {
		fresh := make([]StorageFileRef, len(refs))
		for i, r := range refs {
			fresh[i] = StorageFileRef{ID: r.ID, Title: r.Title}
		}
		files[c] = fresh
	}
	a.Files = files

	msgs := make([]RegistryMessageRef, len(a.Messages))
	for i, m := range a.Messages {
		msgs[i] = RegistryMessageRef{ID: m.ID, Number: m.Number, Title: m.Title}
	}
	a.Messages = msgs
}

// HasSources reports whether any file or message is configured.
func (a *Application) HasSources() bool {
	return a.Files.Count() > 0 || len(a.Messages) > 0
}

// AnySucceeded reports whether any reference is marked generated.
func (a *Application) AnySucceeded() bool {
	for _, refs := range a.Files {
		for _, r := range refs {
			if r.Status == ItemGenerated {
				return true
			}
		}
	}
	for _, m := range a.Messages {
		if m.Status == ItemGenerated {
			return true
		}
	}
	return false
}

// HasErrors reports whether any reference carries an error status or text.
func (a *Application) HasErrors() bool {
	for _, refs := range a.Files {
		for _, r := range refs {
			if r.Status == ItemError || strings.TrimSpace(r.Error) != "" {
				return true
			}
		}
	}
	for _, m := range a.Messages {
		if m.Status == ItemError || strings.TrimSpace(m.Error) != "" {
			return true
		}
	}
	return false
}

// Message returns a pointer to the message reference with the given id.
func (a *Application) Message(id int64) *RegistryMessageRef {
	for i := range a.Messages {
		if a.Messages[i].ID == id {
			return &a.Messages[i]
		}
	}
	return nil
}

// Clone returns a deep copy safe to mutate independently.
func (a Application) Clone() Application {
	out := a
	out.Statuses = append(StatusHistory(nil), a.Statuses...)
	if a.Files != nil {
		out.Files = make(StorageFiles, len(a.Files))
		for c, refs := range a.Files {
			out.Files[c] = append([]StorageFileRef(nil), refs...)
		}
	}
	out.Messages = append([]RegistryMessageRef(nil), a.Messages...)
	if a.Meta != nil {
		out.Meta = make(map[string]any, len(a.Meta))
		for k, v := range a.Meta {
			out.Meta[k] = v
		}
	}
	if a.StartGeneration != nil {
		t := *a.StartGeneration
		out.StartGeneration = &t
	}
	if a.EndGeneration != nil {
		t := *a.EndGeneration
		out.EndGeneration = &t
	}
	return out
}
