package ledger

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryRepo keeps entries in process memory.
type MemoryRepo struct {
	mu      sync.RWMutex
	nextID  int64
	entries []Entry
}

// NewMemoryRepo constructs an empty MemoryRepo.
func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{}
}

func (r *MemoryRepo) Record(ctx context.Context, applicationID int64, messageIDs []int64, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, msgID := range messageIDs {
		if r.pendingIndex(applicationID, msgID) >= 0 {
			continue
		}
		r.nextID++
		r.entries = append(r.entries, Entry{
			ID:            r.nextID,
			ApplicationID: applicationID,
			MessageID:     msgID,
			RequestedAt:   at,
			Status:        StatusPending,
			CreatedAt:     at,
			UpdatedAt:     at,
		})
	}
	return nil
}

func (r *MemoryRepo) Discard(ctx context.Context, applicationID int64, messageIDs []int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	drop := idSet(messageIDs)
	r.mu.Lock()
	defer r.mu.Unlock()
	kept := r.entries[:0]
	for _, e := range r.entries {
		if e.ApplicationID == applicationID && drop[e.MessageID] {
			continue
		}
		kept = append(kept, e)
	}
	r.entries = kept
	return nil
}

func (r *MemoryRepo) Resolve(ctx context.Context, messageID int64, status Status, errText string, at time.Time) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for i := range r.entries {
		e := &r.entries[i]
		if e.MessageID != messageID || e.Status != StatusPending {
			continue
		}
		e.Status = status
		e.Error = errText
		e.UpdatedAt = at
		n++
	}
	return n, nil
}

func (r *MemoryRepo) CompletePending(ctx context.Context, applicationID int64, messageIDs []int64, at time.Time) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	want := idSet(messageIDs)
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for i := range r.entries {
		e := &r.entries[i]
		if e.ApplicationID != applicationID || e.Status != StatusPending || !want[e.MessageID] {
			continue
		}
		e.Status = StatusCompleted
		e.UpdatedAt = at
		n++
	}
	return n, nil
}

func (r *MemoryRepo) ExpirePending(ctx context.Context, applicationID int64, cutoff time.Time, errText string, at time.Time) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	var expired []Entry
	for i := range r.entries {
		e := &r.entries[i]
		if e.ApplicationID != applicationID || e.Status != StatusPending || e.RequestedAt.After(cutoff) {
			continue
		}
		e.Status = StatusTimeout
		e.Error = errText
		e.UpdatedAt = at
		expired = append(expired, *e)
	}
	return expired, nil
}

func (r *MemoryRepo) OldestPending(ctx context.Context, applicationID int64) (Entry, error) {
	if err := ctx.Err(); err != nil {
		return Entry{}, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	var (
		oldest Entry
		found  bool
	)
	for _, e := range r.entries {
		if e.ApplicationID != applicationID || e.Status != StatusPending {
			continue
		}
		if !found || e.RequestedAt.Before(oldest.RequestedAt) {
			oldest, found = e, true
		}
	}
	if !found {
		return Entry{}, ErrNotFound
	}
	return oldest, nil
}

func (r *MemoryRepo) PendingMessageIDs(ctx context.Context, applicationID int64) ([]int64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	var ids []int64
	for _, e := range r.entries {
		if e.ApplicationID == applicationID && e.Status == StatusPending {
			ids = append(ids, e.MessageID)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (r *MemoryRepo) CountPending(ctx context.Context, applicationID int64) (int, error) {
	ids, err := r.PendingMessageIDs(ctx, applicationID)
	return len(ids), err
}

func (r *MemoryRepo) Latest(ctx context.Context, applicationID, messageID int64) (Entry, error) {
	if err := ctx.Err(); err != nil {
		return Entry{}, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	for i := len(r.entries) - 1; i >= 0; i-- {
		e := r.entries[i]
		if e.ApplicationID == applicationID && e.MessageID == messageID {
			return e, nil
		}
	}
	return Entry{}, ErrNotFound
}

func (r *MemoryRepo) ResolvedApplication(ctx context.Context, messageID int64) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, e := range r.entries {
		if e.MessageID == messageID && (e.Status == StatusCompleted || e.Status == StatusError) {
			return e.ApplicationID, nil
		}
	}
	return 0, ErrNotFound
}

// Entries returns a snapshot of all entries in insertion order.
func (r *MemoryRepo) Entries() []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Entry, len(r.entries))
	copy(out, r.entries)
	return out
}

func (r *MemoryRepo) pendingIndex(applicationID, messageID int64) int {
	for i, e := range r.entries {
		if e.ApplicationID == applicationID && e.MessageID == messageID && e.Status == StatusPending {
			return i
		}
	}
	return -1
}

func idSet(ids []int64) map[int64]bool {
	set := make(map[int64]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return set
}

var _ Repo = (*MemoryRepo)(nil)
