// Package merge concatenates PDF files with a primary engine and a
// Ghostscript fallback.
package merge

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"meetingapp-backend/internal/shared/metrics"
	"meetingapp-backend/internal/shared/telemetry"
)

var (
	// ErrMergeFailed wraps every failure returned by Merger.Merge.
	ErrMergeFailed = errors.New("merge failed")
	// ErrCompression marks input the primary engine cannot decode.
	ErrCompression = errors.New("unsupported compression")
	// ErrNoInput reports an empty input list.
	ErrNoInput = errors.New("no files to merge")
	// ErrNothingProcessed reports that every input was skipped.
	ErrNothingProcessed = errors.New("no pdf file could be processed")
)

// Engine writes the concatenation of paths into out. Paths are known to exist.
type Engine interface {
	Name() string
	Merge(ctx context.Context, paths []string, out string) error
}

// IsCompressionError reports whether err signals an unsupported compression
// scheme in the source.
func IsCompressionError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrCompression) {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "compression")
}

// Merger picks an engine per call. When preferFallback is set the fallback
// engine runs alone; otherwise the primary runs first and the fallback is
// tried only on compression errors.
type Merger struct {
	primary        Engine
	fallback       Engine
	preferFallback bool
}

// New constructs a Merger. fallback may be nil.
func New(primary, fallback Engine, preferFallback bool) *Merger {
	return &Merger{primary: primary, fallback: fallback, preferFallback: preferFallback && fallback != nil}
}

// Merge writes paths in order into out and returns the engine that produced it.
func (m *Merger) Merge(ctx context.Context, paths []string, out string) (string, error) {
	if len(paths) == 0 {
		return "", fmt.Errorf("%w: %w", ErrMergeFailed, ErrNoInput)
	}
	existing := make([]string, 0, len(paths))
	for i, p := range paths {
		if _, err := os.Stat(p); err != nil {
			telemetry.Warn("merge.file_missing", map[string]any{"path": p, "index": i})
			continue
		}
		existing = append(existing, p)
	}
	if len(existing) == 0 {
		return "", fmt.Errorf("%w: %w", ErrMergeFailed, ErrNothingProcessed)
	}

	first := m.primary
	if m.preferFallback || first == nil {
		first = m.fallback
	}
	if first == nil {
		return "", fmt.Errorf("%w: no engine configured", ErrMergeFailed)
	}

	err := m.run(ctx, first, existing, out)
	if err == nil {
		return first.Name(), nil
	}
	if first != m.primary || m.fallback == nil || !IsCompressionError(err) {
		return "", fmt.Errorf("%w: %s: %w", ErrMergeFailed, first.Name(), err)
	}

	telemetry.Warn("merge.fallback", map[string]any{
		"from":  first.Name(),
		"to":    m.fallback.Name(),
		"error": err.Error(),
	})
	metrics.IncMergeFallback()
	if fbErr := m.run(ctx, m.fallback, existing, out); fbErr != nil {
		return "", fmt.Errorf("%w: %s: %v; %s: %w", ErrMergeFailed, first.Name(), err, m.fallback.Name(), fbErr)
	}
	return m.fallback.Name(), nil
}

func (m *Merger) run(ctx context.Context, e Engine, paths []string, out string) error {
	err := e.Merge(ctx, paths, out)
	if err == nil {
		err = checkOutput(out)
	}
	metrics.IncMerge(e.Name(), err == nil)
	return err
}

func checkOutput(out string) error {
	info, err := os.Stat(out)
	if err != nil {
		return fmt.Errorf("output not created: %w", err)
	}
	if info.Size() == 0 {
		return errors.New("output is empty")
	}
	return nil
}
