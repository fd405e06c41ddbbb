package merge

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"meetingapp-backend/internal/pdf/pagecount"
	"meetingapp-backend/internal/pdf/pdftest"
)

type fakeEngine struct {
	name  string
	err   error
	calls [][]string
}

func (f *fakeEngine) Name() string { return f.name }

func (f *fakeEngine) Merge(ctx context.Context, paths []string, out string) error {
	f.calls = append(f.calls, append([]string(nil), paths...))
	if f.err != nil {
		return f.err
	}
	return os.WriteFile(out, []byte("%PDF-1.7 merged"), 0o644)
}

func writeInputs(t *testing.T, names ...string) []string {
	t.Helper()
	dir := t.TempDir()
	paths := make([]string, len(names))
	for i, n := range names {
		paths[i] = filepath.Join(dir, n)
		if err := os.WriteFile(paths[i], []byte("%PDF-1.4"), 0o644); err != nil {
			t.Fatalf("write input: %v", err)
		}
	}
	return paths
}

func TestMergeFallsBackOnCompressionError(t *testing.T) {
	primary := &fakeEngine{name: "primary", err: errors.New("This PDF document probably uses a compression technique which is not supported")}
	fallback := &fakeEngine{name: "fallback"}
	m := New(primary, fallback, false)

	out := filepath.Join(t.TempDir(), "merged.pdf")
	used, err := m.Merge(context.Background(), writeInputs(t, "a.pdf", "b.pdf"), out)
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if used != "fallback" {
		t.Fatalf("expected fallback engine, got %q", used)
	}
	info, err := os.Stat(out)
	if err != nil || info.Size() == 0 {
		t.Fatalf("expected non-empty output, got %v %v", info, err)
	}
}

func TestMergeDoesNotFallBackOnOtherErrors(t *testing.T) {
	primary := &fakeEngine{name: "primary", err: errors.New("disk full")}
	fallback := &fakeEngine{name: "fallback"}
	m := New(primary, fallback, false)

	_, err := m.Merge(context.Background(), writeInputs(t, "a.pdf"), filepath.Join(t.TempDir(), "m.pdf"))
	if !errors.Is(err, ErrMergeFailed) {
		t.Fatalf("expected ErrMergeFailed, got %v", err)
	}
	if len(fallback.calls) != 0 {
		t.Fatal("fallback should not run")
	}
}

func TestMergeBothEnginesFail(t *testing.T) {
	primary := &fakeEngine{name: "primary", err: ErrCompression}
	fallback := &fakeEngine{name: "fallback", err: errors.New("gs exit 1")}
	m := New(primary, fallback, false)

	_, err := m.Merge(context.Background(), writeInputs(t, "a.pdf"), filepath.Join(t.TempDir(), "m.pdf"))
	if !errors.Is(err, ErrMergeFailed) {
		t.Fatalf("expected ErrMergeFailed, got %v", err)
	}
}

func TestMergePrefersFallbackWhenAvailable(t *testing.T) {
	primary := &fakeEngine{name: "primary"}
	fallback := &fakeEngine{name: "fallback"}
	m := New(primary, fallback, true)

	used, err := m.Merge(context.Background(), writeInputs(t, "a.pdf"), filepath.Join(t.TempDir(), "m.pdf"))
	if err != nil || used != "fallback" {
		t.Fatalf("expected fallback, got %q %v", used, err)
	}
	if len(primary.calls) != 0 {
		t.Fatal("primary should not run")
	}
}

func TestMergeSkipsMissingFiles(t *testing.T) {
	primary := &fakeEngine{name: "primary"}
	m := New(primary, nil, false)
	inputs := writeInputs(t, "a.pdf", "c.pdf")
	withMissing := []string{inputs[0], filepath.Join(t.TempDir(), "gone.pdf"), inputs[1]}

	if _, err := m.Merge(context.Background(), withMissing, filepath.Join(t.TempDir(), "m.pdf")); err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if got := primary.calls[0]; len(got) != 2 || got[0] != inputs[0] || got[1] != inputs[1] {
		t.Fatalf("unexpected engine input %v", got)
	}
}

func TestMergeRejectsEmptyAndAllMissing(t *testing.T) {
	m := New(&fakeEngine{name: "primary"}, nil, false)
	if _, err := m.Merge(context.Background(), nil, "out.pdf"); !errors.Is(err, ErrNoInput) {
		t.Fatalf("expected ErrNoInput, got %v", err)
	}
	_, err := m.Merge(context.Background(), []string{filepath.Join(t.TempDir(), "x.pdf")}, "out.pdf")
	if !errors.Is(err, ErrNothingProcessed) || !errors.Is(err, ErrMergeFailed) {
		t.Fatalf("expected ErrNothingProcessed, got %v", err)
	}
}

func TestMergeRejectsEmptyOutput(t *testing.T) {
	empty := &emptyEngine{}
	m := New(empty, nil, false)
	_, err := m.Merge(context.Background(), writeInputs(t, "a.pdf"), filepath.Join(t.TempDir(), "m.pdf"))
	if !errors.Is(err, ErrMergeFailed) {
		t.Fatalf("expected ErrMergeFailed, got %v", err)
	}
}

type emptyEngine struct{}

func (emptyEngine) Name() string { return "empty" }

func (emptyEngine) Merge(ctx context.Context, paths []string, out string) error {
	return os.WriteFile(out, nil, 0o644)
}

func TestPdfcpuEngineSkipsUnreadableAndAbortsOnCompression(t *testing.T) {
	inputs := writeInputs(t, "good.pdf", "broken.pdf")
	var written []string
	e := &PdfcpuEngine{
		open: func(path string, _ *model.Configuration) error {
			if filepath.Base(path) == "broken.pdf" {
				return errors.New("xref corrupt")
			}
			return nil
		},
		write: func(in []string, out string, _ *model.Configuration) error {
			written = in
			return os.WriteFile(out, []byte("%PDF"), 0o644)
		},
	}
	if err := e.Merge(context.Background(), inputs, filepath.Join(t.TempDir(), "m.pdf")); err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if len(written) != 1 || written[0] != inputs[0] {
		t.Fatalf("expected only readable file, got %v", written)
	}

	e.open = func(path string, _ *model.Configuration) error {
		if filepath.Base(path) == "broken.pdf" {
			return errors.New("unsupported compression filter")
		}
		return nil
	}
	err := e.Merge(context.Background(), inputs, filepath.Join(t.TempDir(), "m.pdf"))
	if !errors.Is(err, ErrCompression) {
		t.Fatalf("expected ErrCompression, got %v", err)
	}
}

func TestPdfcpuEngineMergesRealDocuments(t *testing.T) {
	dir := t.TempDir()
	inputs := []string{
		pdftest.Write(t, dir, "two.pdf", 2),
		pdftest.Write(t, dir, "three.pdf", 3),
	}
	if err := os.WriteFile(filepath.Join(dir, "junk.pdf"), []byte("not a pdf"), 0o644); err != nil {
		t.Fatalf("write junk: %v", err)
	}
	inputs = append(inputs, filepath.Join(dir, "junk.pdf"))

	e := NewPdfcpuEngine()
	before := *e.conf
	validate := e.open
	var modes []int
	e.open = func(path string, conf *model.Configuration) error {
		modes = append(modes, conf.ValidationMode)
		return validate(path, conf)
	}

	out := filepath.Join(dir, "out", "merged.pdf")
	if err := e.Merge(context.Background(), inputs, out); err != nil {
		t.Fatalf("Merge: %v", err)
	}
	for _, m := range modes {
		if m != model.ValidationRelaxed {
			t.Fatalf("inputs validated with mode %d", m)
		}
	}
	if e.conf.Cmd != before.Cmd || e.conf.ValidationMode != before.ValidationMode {
		t.Fatal("engine configuration was mutated by the merge")
	}

	n, err := pagecount.Structural(context.Background(), out)
	if err != nil || n != 5 {
		t.Fatalf("Structural = %d, %v", n, err)
	}
	if n, err := pagecount.Default(nil).Count(context.Background(), out); err != nil || n != 5 {
		t.Fatalf("Count = %d, %v", n, err)
	}
}

func TestDefaultMergerUsesPdfcpuWithoutGhostscript(t *testing.T) {
	dir := t.TempDir()
	inputs := []string{pdftest.Write(t, dir, "a.pdf", 1), pdftest.Write(t, dir, "b.pdf", 2)}
	out := filepath.Join(dir, "merged.pdf")

	used, err := Default(nil).Merge(context.Background(), inputs, out)
	if err != nil || used != "pdfcpu" {
		t.Fatalf("Merge = %q, %v", used, err)
	}
	if n, err := pagecount.Structural(context.Background(), out); err != nil || n != 3 {
		t.Fatalf("Structural = %d, %v", n, err)
	}
}
