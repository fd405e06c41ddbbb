package applications

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// Status is the lifecycle state of an application.
type Status int

const (
	StatusDraft              Status = 1
	StatusGenerating         Status = 2
	StatusGenerated          Status = 3
	StatusPartiallyGenerated Status = 4
	StatusError              Status = 99
)

func (s Status) String() string {
	switch s {
	case StatusDraft:
		return "DRAFT"
	case StatusGenerating:
		return "GENERATING"
	case StatusGenerated:
		return "GENERATED"
	case StatusPartiallyGenerated:
		return "PARTIALLY_GENERATED"
	case StatusError:
		return "ERROR"
	default:
		return fmt.Sprintf("STATUS_%d", int(s))
	}
}

// Text is the user-facing label.
func (s Status) Text() string {
	switch s {
	case StatusDraft:
		return "Draft"
	case StatusGenerating:
		return "Generating"
	case StatusGenerated:
		return "Generated"
	case StatusPartiallyGenerated:
		return "Partially generated"
	case StatusError:
		return "Generation error"
	default:
		return ""
	}
}

// Terminal reports whether s ends a generation run.
func (s Status) Terminal() bool {
	return s == StatusGenerated || s == StatusPartiallyGenerated || s == StatusError
}

// StatusEntry is one record of the status history.
type StatusEntry struct {
	ID         int       `json:"id"`
	Status     Status    `json:"status"`
	Date       time.Time `json:"date"`
	UserText   string    `json:"user_text,omitempty"`
	SystemText string    `json:"system_text,omitempty"`
}

// StatusHistory is the append-only, ordered status log.
type StatusHistory []StatusEntry

// Latest returns the most recently appended entry.
func (h StatusHistory) Latest() (StatusEntry, bool) {
	if len(h) == 0 {
		return StatusEntry{}, false
	}
	return h[len(h)-1], true
}

func (h StatusHistory) nextID() int {
	next := 1
	for _, e := range h {
		if e.ID >= next {
			next = e.ID + 1
		}
	}
	return next
}

// MarshalJSON always emits an array, never null.
func (h StatusHistory) MarshalJSON() ([]byte, error) {
	if h == nil {
		return []byte("[]"), nil
	}
	return json.Marshal([]StatusEntry(h))
}

// UnmarshalJSON accepts an array, an object keyed by position, or null.
// Object form is ordered by entry id.
func (h *StatusHistory) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*h = StatusHistory{}
		return nil
	}
	if data[0] == '{' {
		var keyed map[string]StatusEntry
		if err := json.Unmarshal(data, &keyed); err != nil {
			return fmt.Errorf("decode status history: %w", err)
		}
		out := make(StatusHistory, 0, len(keyed))
		for _, e := range keyed {
			out = append(out, e)
		}
		sort.SliceStable(out, func(i, j int) bool { return out[i].ID < out[j].ID })
		*h = out
		return nil
	}
	var list []StatusEntry
	if err := json.Unmarshal(data, &list); err != nil {
		return fmt.Errorf("decode status history: %w", err)
	}
	*h = StatusHistory(list)
	return nil
}
