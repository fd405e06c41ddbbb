package applications

import (
	"context"
	"sort"
	"sync"
	"time"

	"meetingapp-backend/internal/shared/storage/object"
)

// MemoryRepo stores applications in memory and is safe for concurrent use.
type MemoryRepo struct {
	mu   sync.RWMutex
	byID map[int64]Application
}

// NewMemoryRepo constructs a MemoryRepo.
func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{byID: make(map[int64]Application)}
}

// Get returns a copy of the application.
func (r *MemoryRepo) Get(ctx context.Context, id int64) (Application, error) {
	if err := ctx.Err(); err != nil {
		return Application{}, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	app, ok := r.byID[id]
	if !ok {
		return Application{}, ErrNotFound
	}
	return app.Clone(), nil
}

// Save upserts the application.
func (r *MemoryRepo) Save(ctx context.Context, app Application) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	app.UpdatedAt = time.Now().UTC()
	if app.CreatedAt.IsZero() {
		app.CreatedAt = app.UpdatedAt
	}
	r.byID[app.ID] = app.Clone()
	return nil
}

// MemoryTaskRepo stores generation tasks in memory.
type MemoryTaskRepo struct {
	mu     sync.RWMutex
	nextID int64
	tasks  []GenerationTask
}

// NewMemoryTaskRepo constructs a MemoryTaskRepo.
func NewMemoryTaskRepo() *MemoryTaskRepo {
	return &MemoryTaskRepo{}
}

// Create assigns an id and stores the task.
func (r *MemoryTaskRepo) Create(ctx context.Context, task GenerationTask) (GenerationTask, error) {
	if err := ctx.Err(); err != nil {
		return GenerationTask{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	task.ID = r.nextID
	now := time.Now().UTC()
	task.CreatedAt = now
	task.UpdatedAt = now
	r.tasks = append(r.tasks, task)
	return task, nil
}

// Latest returns the most recently started task for the application.
func (r *MemoryTaskRepo) Latest(ctx context.Context, applicationID int64) (GenerationTask, error) {
	if err := ctx.Err(); err != nil {
		return GenerationTask{}, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	var (
		found  bool
		latest GenerationTask
	)
	for _, t := range r.tasks {
		if t.ApplicationID != applicationID {
			continue
		}
		if !found || startedAfter(t, latest) {
			latest = t
			found = true
		}
	}
	if !found {
		return GenerationTask{}, ErrNotFound
	}
	return latest, nil
}

func startedAfter(a, b GenerationTask) bool {
	switch {
	case a.StartedAt != nil && b.StartedAt != nil && !a.StartedAt.Equal(*b.StartedAt):
		return a.StartedAt.After(*b.StartedAt)
	case a.StartedAt != nil && b.StartedAt == nil:
		return true
	case a.StartedAt == nil && b.StartedAt != nil:
		return false
	default:
		return a.ID > b.ID
	}
}

// Update replaces a stored task.
func (r *MemoryTaskRepo) Update(ctx context.Context, task GenerationTask) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.tasks {
		if r.tasks[i].ID == task.ID {
			task.CreatedAt = r.tasks[i].CreatedAt
			task.UpdatedAt = time.Now().UTC()
			r.tasks[i] = task
			return nil
		}
	}
	return ErrNotFound
}

// List returns tasks newest first with the total matching count.
func (r *MemoryTaskRepo) List(ctx context.Context, filter TaskFilter) ([]GenerationTask, int, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}
	f := filter.Normalize()
	r.mu.RLock()
	matched := make([]GenerationTask, 0, len(r.tasks))
	for _, t := range r.tasks {
		if f.ApplicationID > 0 && t.ApplicationID != f.ApplicationID {
			continue
		}
		if f.UserID > 0 && (t.UserID == nil || *t.UserID != f.UserID) {
			continue
		}
		if f.Status.Valid() && t.Status != f.Status {
			continue
		}
		matched = append(matched, t)
	}
	r.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool { return matched[i].ID > matched[j].ID })
	total := len(matched)
	offset := f.Offset()
	if offset >= total {
		return []GenerationTask{}, total, nil
	}
	end := offset + f.PerPage
	if end > total {
		end = total
	}
	return matched[offset:end], total, nil
}

// MemorySourceRepo holds referenced rows for dev and tests.
type MemorySourceRepo struct {
	mu       sync.RWMutex
	files    map[int64]SourceFile
	messages map[int64]RegistryMessage
	accounts map[int64]object.Account
}

// NewMemorySourceRepo constructs a MemorySourceRepo.
func NewMemorySourceRepo() *MemorySourceRepo {
	return &MemorySourceRepo{
		files:    make(map[int64]SourceFile),
		messages: make(map[int64]RegistryMessage),
		accounts: make(map[int64]object.Account),
	}
}

// PutFile stores a file row.
func (r *MemorySourceRepo) PutFile(f SourceFile) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.files[f.ID] = f
}

// PutMessage stores a message row.
func (r *MemorySourceRepo) PutMessage(m RegistryMessage) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages[m.ID] = m
}

// SetMessageBody delivers a message body, as the registry service would.
func (r *MemorySourceRepo) SetMessageBody(id int64, body string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m := r.messages[id]
	m.ID = id
	m.Body = body
	r.messages[id] = m
}

// PutAccount stores storage settings for an arbitrator.
func (r *MemorySourceRepo) PutAccount(a object.Account) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.accounts[a.ArbitratorID] = a
}

// FilesByIDs returns the subset of ids that exist.
func (r *MemorySourceRepo) FilesByIDs(ctx context.Context, ids []int64) (map[int64]SourceFile, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[int64]SourceFile, len(ids))
	for _, id := range ids {
		if f, ok := r.files[id]; ok {
			out[id] = f
		}
	}
	return out, nil
}

// MessagesByIDs returns the subset of ids that exist.
func (r *MemorySourceRepo) MessagesByIDs(ctx context.Context, ids []int64) (map[int64]RegistryMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[int64]RegistryMessage, len(ids))
	for _, id := range ids {
		if m, ok := r.messages[id]; ok {
			out[id] = m
		}
	}
	return out, nil
}

// StorageAccount returns the arbitrator's storage settings.
func (r *MemorySourceRepo) StorageAccount(ctx context.Context, arbitratorID int64) (object.Account, error) {
	if err := ctx.Err(); err != nil {
		return object.Account{}, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.accounts[arbitratorID]
	if !ok {
		return object.Account{}, ErrNotFound
	}
	return a, nil
}

// MemoryOutputRepo stores output file records in memory.
type MemoryOutputRepo struct {
	mu     sync.RWMutex
	nextID int64
	files  map[int64]OutputFile
}

// NewMemoryOutputRepo constructs a MemoryOutputRepo.
func NewMemoryOutputRepo() *MemoryOutputRepo {
	return &MemoryOutputRepo{files: make(map[int64]OutputFile)}
}

// ListByApplication returns records for the application ordered by id.
func (r *MemoryOutputRepo) ListByApplication(ctx context.Context, applicationID int64) ([]OutputFile, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []OutputFile
	for _, f := range r.files {
		if f.ApplicationID == applicationID {
			out = append(out, f)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Create assigns an id and stores the record.
func (r *MemoryOutputRepo) Create(ctx context.Context, file OutputFile) (OutputFile, error) {
	if err := ctx.Err(); err != nil {
		return OutputFile{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	file.ID = r.nextID
	if file.CreatedAt.IsZero() {
		file.CreatedAt = time.Now().UTC()
	}
	r.files[file.ID] = file
	return file, nil
}

// Delete removes a record; missing ids are not an error.
func (r *MemoryOutputRepo) Delete(ctx context.Context, id int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.files, id)
	return nil
}

// TotalSize sums stored sizes for an arbitrator on a provider.
func (r *MemoryOutputRepo) TotalSize(ctx context.Context, arbitratorID int64, provider int) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	var total int64
	for _, f := range r.files {
		if f.ArbitratorID == arbitratorID && f.Provider == provider {
			total += f.Size
		}
	}
	return total, nil
}

var (
	_ Repo       = (*MemoryRepo)(nil)
	_ TaskRepo   = (*MemoryTaskRepo)(nil)
	_ SourceRepo = (*MemorySourceRepo)(nil)
	_ OutputRepo = (*MemoryOutputRepo)(nil)
)
