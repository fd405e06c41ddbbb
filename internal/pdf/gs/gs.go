// Package gs wraps the Ghostscript command line.
package gs

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// ErrNotFound reports that no Ghostscript binary could be located.
var ErrNotFound = errors.New("ghostscript not found")

// maxPageCount bounds numbers accepted from page-count output.
const maxPageCount = 100000

var candidates = []string{
	"gs",
	"gswin64c.exe",
	"gswin32c.exe",
	`C:\Program Files\gs\gs*\bin\gswin64c.exe`,
	`C:\Program Files (x86)\gs\gs*\bin\gswin32c.exe`,
	"/usr/bin/gs",
	"/usr/local/bin/gs",
}

// Runner executes a command and returns its combined output.
type Runner func(ctx context.Context, name string, args ...string) ([]byte, error)

// Exec runs the command with os/exec.
func Exec(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// Locate returns the first usable binary, preferring configured. It returns
// an empty string when nothing is found.
func Locate(configured string) string {
	list := candidates
	if configured = strings.TrimSpace(configured); configured != "" {
		list = append([]string{configured}, candidates...)
	}
	for _, c := range list {
		if strings.Contains(c, "*") {
			matches, _ := filepath.Glob(c)
			if len(matches) == 0 {
				continue
			}
			c = matches[0]
		}
		if p, err := exec.LookPath(c); err == nil {
			return p
		}
	}
	return ""
}

// Tool runs Ghostscript operations with a fixed binary.
type Tool struct {
	Bin    string
	Run    Runner
	TmpDir string
}

// New returns a Tool for bin, or nil if bin is empty.
func New(bin string) *Tool {
	if bin == "" {
		return nil
	}
	return &Tool{Bin: bin, Run: Exec}
}

// Available reports whether the tool has a binary.
func (t *Tool) Available() bool {
	return t != nil && t.Bin != ""
}

// Concat writes the inputs into out as one prepress-quality PDF.
func (t *Tool) Concat(ctx context.Context, inputs []string, out string) error {
	if !t.Available() {
		return ErrNotFound
	}
	if len(inputs) == 0 {
		return errors.New("no input files")
	}
	if err := os.MkdirAll(filepath.Dir(out), 0o755); err != nil {
		return fmt.Errorf("mkdir: %w", err)
	}
	args := []string{"-dBATCH", "-dNOPAUSE", "-q", "-sDEVICE=pdfwrite", "-dPDFSETTINGS=/prepress", "-sOutputFile=" + out}
	args = append(args, inputs...)

	output, err := t.run(ctx, args...)
	if err != nil {
		return fmt.Errorf("ghostscript concat: %w: %s", err, strings.TrimSpace(string(output)))
	}
	if _, err := os.Stat(out); err != nil {
		return fmt.Errorf("ghostscript concat: output not created: %w", err)
	}
	return nil
}

// PageCount asks Ghostscript for the number of pages in path. The result
// is read from mixed stdout/stderr; a non-zero exit still counts when a
// plausible number was printed.
func (t *Tool) PageCount(ctx context.Context, path string) (int, error) {
	if !t.Available() {
		return 0, ErrNotFound
	}
	dir := t.TmpDir
	if dir == "" {
		dir = os.TempDir()
	}
	script := filepath.Join(dir, "gs_count_"+uuid.NewString()+".ps")
	if err := os.WriteFile(script, []byte(pageCountScript(path)), 0o600); err != nil {
		return 0, fmt.Errorf("write script: %w", err)
	}
	defer os.Remove(script)

	output, runErr := t.run(ctx, "-q", "-dNODISPLAY", script)
	if n, ok := lastPageNumber(string(output)); ok {
		return n, nil
	}
	if runErr != nil {
		return 0, fmt.Errorf("ghostscript page count: %w: %s", runErr, strings.TrimSpace(string(output)))
	}
	return 0, errors.New("ghostscript page count: no number in output")
}

func (t *Tool) run(ctx context.Context, args ...string) ([]byte, error) {
	run := t.Run
	if run == nil {
		run = Exec
	}
	return run(ctx, t.Bin, args...)
}

func pageCountScript(path string) string {
	p := strings.ReplaceAll(path, `\`, "/")
	p = strings.NewReplacer("(", `\(`, ")", `\)`).Replace(p)
	return "(" + p + ") (r) file runpdfbegin pdfpagecount = quit\n"
}

var numberRe = regexp.MustCompile(`\d+`)

func lastPageNumber(output string) (int, bool) {
	nums := numberRe.FindAllString(output, -1)
	for i := len(nums) - 1; i >= 0; i-- {
		n, err := strconv.Atoi(nums[i])
		if err == nil && n > 0 && n < maxPageCount {
			return n, true
		}
	}
	return 0, false
}
