package merge

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"meetingapp-backend/internal/pdf/gs"
	"meetingapp-backend/internal/shared/telemetry"
)

var disableConfigDir sync.Once

// PdfcpuEngine merges in process with pdfcpu. Every input is parsed first;
// unreadable inputs are skipped unless the failure is a compression error,
// which aborts the whole merge.
type PdfcpuEngine struct {
	conf *model.Configuration
	// open and write are swapped in tests.
	open  func(path string, conf *model.Configuration) error
	write func(in []string, out string, conf *model.Configuration) error
}

// NewPdfcpuEngine returns an engine with a relaxed validation configuration.
// Inputs are validated with the same configuration the merge runs under.
func NewPdfcpuEngine() *PdfcpuEngine {
	disableConfigDir.Do(api.DisableConfigDir)
	return &PdfcpuEngine{
		conf:  relaxedConfig(),
		open:  validateFile,
		write: mergeFiles,
	}
}

func mergeFiles(in []string, out string, conf *model.Configuration) error {
	return api.MergeCreateFile(in, out, false, conf)
}

func relaxedConfig() *model.Configuration {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	return conf
}

func validateFile(path string, conf *model.Configuration) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = api.ReadAndValidate(f, conf)
	return err
}

// config returns a private copy; pdfcpu mutates the configuration it is given.
func (e *PdfcpuEngine) config() *model.Configuration {
	if e.conf == nil {
		return relaxedConfig()
	}
	c := *e.conf
	return &c
}

func (e *PdfcpuEngine) Name() string { return "pdfcpu" }

func (e *PdfcpuEngine) Merge(ctx context.Context, paths []string, out string) error {
	conf := e.config()
	readable := make([]string, 0, len(paths))
	for i, p := range paths {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := e.open(p, conf); err != nil {
			if IsCompressionError(err) {
				return fmt.Errorf("%w: %s: %v", ErrCompression, filepath.Base(p), err)
			}
			telemetry.Warn("merge.file_skipped", map[string]any{"path": p, "index": i, "error": err.Error()})
			continue
		}
		readable = append(readable, p)
	}
	if len(readable) == 0 {
		return ErrNothingProcessed
	}
	if err := os.MkdirAll(filepath.Dir(out), 0o755); err != nil {
		return fmt.Errorf("mkdir: %w", err)
	}
	if err := e.write(readable, out, conf); err != nil {
		if IsCompressionError(err) {
			return fmt.Errorf("%w: %v", ErrCompression, err)
		}
		return err
	}
	telemetry.Debug("merge.pdfcpu.done", map[string]any{"out": out, "files": len(readable), "skipped": len(paths) - len(readable)})
	return nil
}

// GhostscriptEngine merges by shelling out to Ghostscript.
type GhostscriptEngine struct {
	Tool *gs.Tool
}

func (e *GhostscriptEngine) Name() string { return "ghostscript" }

func (e *GhostscriptEngine) Merge(ctx context.Context, paths []string, out string) error {
	return e.Tool.Concat(ctx, paths, out)
}

// Default wires pdfcpu first and Ghostscript as fallback. When Ghostscript is
// installed it is preferred outright.
func Default(tool *gs.Tool) *Merger {
	return New(NewPdfcpuEngine(), &GhostscriptEngine{Tool: tool}, tool.Available())
}
