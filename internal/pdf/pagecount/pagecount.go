// Package pagecount counts PDF pages with decreasing-precision fallbacks.
package pagecount

import (
	"context"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strconv"

	ledongpdf "github.com/ledongthuc/pdf"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"meetingapp-backend/internal/pdf/gs"
	"meetingapp-backend/internal/shared/metrics"
	"meetingapp-backend/internal/shared/telemetry"
)

// ErrPageCountFailed is returned when every tier failed.
var ErrPageCountFailed = errors.New("page count failed")

// Tier is one counting strategy.
type Tier struct {
	Name  string
	Count func(ctx context.Context, path string) (int, error)
}

// Counter tries its tiers in order and returns the first positive count.
type Counter struct {
	tiers []Tier
}

// New constructs a Counter over tiers.
func New(tiers ...Tier) *Counter {
	return &Counter{tiers: tiers}
}

// Default returns structural parsing, Ghostscript and a raw byte scan.
func Default(tool *gs.Tool) *Counter {
	return New(
		Tier{Name: "structure", Count: Structural},
		Tier{Name: "ghostscript", Count: tool.PageCount},
		Tier{Name: "scan", Count: func(_ context.Context, path string) (int, error) { return Scan(path) }},
	)
}

// Count returns the number of pages in path.
func (c *Counter) Count(ctx context.Context, path string) (int, error) {
	if _, err := os.Stat(path); err != nil {
		return 0, fmt.Errorf("%w: %w", ErrPageCountFailed, err)
	}
	var last error
	for _, tier := range c.tiers {
		n, err := tier.Count(ctx, path)
		if err == nil && n > 0 {
			metrics.IncPageCount(tier.Name)
			telemetry.Debug("pagecount.counted", map[string]any{"path": path, "tier": tier.Name, "pages": n})
			return n, nil
		}
		if err == nil {
			err = fmt.Errorf("%s returned %d", tier.Name, n)
		}
		telemetry.Debug("pagecount.tier_failed", map[string]any{"path": path, "tier": tier.Name, "error": err.Error()})
		last = err
	}
	if last == nil {
		last = errors.New("no strategies configured")
	}
	return 0, fmt.Errorf("%w: %w", ErrPageCountFailed, last)
}

// Structural reads the page tree with pdfcpu, then with ledongthuc/pdf.
func Structural(_ context.Context, path string) (int, error) {
	n, err := pdfcpuPageCount(path)
	if err == nil && n > 0 {
		return n, nil
	}
	alt, altErr := readerPageCount(path)
	if altErr == nil && alt > 0 {
		return alt, nil
	}
	if err == nil {
		err = altErr
	}
	return 0, err
}

func pdfcpuPageCount(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	return api.PageCount(f, conf)
}

func readerPageCount(path string) (n int, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("pdf reader: %v", r)
		}
	}()
	f, r, err := ledongpdf.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	return r.NumPage(), nil
}

var (
	countRe    = regexp.MustCompile(`/Count\s+(\d+)`)
	pageTypeRe = regexp.MustCompile(`/Type\s*/Page[^s]`)
	pageRefRe  = regexp.MustCompile(`/Page\s+\d+\s+0\s+R`)
)

// Scan looks for /Count N, then /Type /Page markers, then /Page N 0 R
// references in the raw bytes.
func Scan(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	if m := countRe.FindSubmatch(data); m != nil {
		if n, err := strconv.Atoi(string(m[1])); err == nil && n > 0 {
			return n, nil
		}
	}
	if n := len(pageTypeRe.FindAll(data, -1)); n > 0 {
		return n, nil
	}
	if n := len(pageRefRe.FindAll(data, -1)); n > 0 {
		return n, nil
	}
	return 0, errors.New("no page markers found")
}
