package render

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"

	"meetingapp-backend/internal/shared/telemetry"
)

// ErrRenderFailed wraps every rendering failure.
var ErrRenderFailed = errors.New("render failed")

// errStaleSession marks failures a fresh browser connection may fix.
var errStaleSession = errors.New("browser session unusable")

const defaultTimeout = 60 * time.Second

// session is one live browser connection.
type session interface {
	PrintPDF(ctx context.Context, html string) ([]byte, error)
	Close() error
}

// RodRenderer prints HTML to PDF with a lazily started headless Chrome.
// A session that fails to open a page is dropped and dialed again once.
type RodRenderer struct {
	bin     string
	timeout time.Duration
	dial    func() (session, error)

	mu      sync.Mutex
	current session
}

// NewRodRenderer returns a renderer. bin may be empty to let rod find or
// download a browser.
func NewRodRenderer(bin string, timeout time.Duration) *RodRenderer {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	r := &RodRenderer{bin: bin, timeout: timeout}
	r.dial = r.launch
	return r
}

// Render writes a PDF of body to out. body may be base64. title, when set,
// is printed above a fragment.
func (r *RodRenderer) Render(ctx context.Context, body, out, title string) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	data, err := r.print(ctx, PrepareHTML(DecodeBody(body), title))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrRenderFailed, err)
	}

	if err := os.MkdirAll(filepath.Dir(out), 0o755); err != nil {
		return fmt.Errorf("%w: mkdir: %w", ErrRenderFailed, err)
	}
	if err := os.WriteFile(out, data, 0o644); err != nil {
		return fmt.Errorf("%w: write: %w", ErrRenderFailed, err)
	}
	telemetry.Debug("render.done", map[string]any{"out": out, "size": len(data)})
	return nil
}

func (r *RodRenderer) print(ctx context.Context, html string) ([]byte, error) {
	for attempt := 0; ; attempt++ {
		s, err := r.connect()
		if err != nil {
			return nil, fmt.Errorf("start browser: %w", err)
		}
		data, err := s.PrintPDF(ctx, html)
		if err == nil {
			return data, nil
		}
		if attempt > 0 || !errors.Is(err, errStaleSession) || ctx.Err() != nil {
			return nil, err
		}
		telemetry.Warn("render.reconnect", map[string]any{"error": err.Error()})
		r.drop(s)
	}
}

func (r *RodRenderer) connect() (session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.current != nil {
		return r.current, nil
	}
	s, err := r.dial()
	if err != nil {
		return nil, err
	}
	r.current = s
	return s, nil
}

// drop closes s and forgets it unless another caller already replaced it.
func (r *RodRenderer) drop(s session) {
	r.mu.Lock()
	if r.current == s {
		r.current = nil
	}
	r.mu.Unlock()
	if err := s.Close(); err != nil {
		telemetry.Debug("render.close_failed", map[string]any{"error": err.Error()})
	}
}

// Close stops the browser if it was started.
func (r *RodRenderer) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.current == nil {
		return nil
	}
	err := r.current.Close()
	r.current = nil
	return err
}

func (r *RodRenderer) launch() (session, error) {
	l := launcher.New().Headless(true).NoSandbox(true)
	if r.bin != "" {
		l = l.Bin(r.bin)
	}
	u, err := l.Launch()
	if err != nil {
		return nil, err
	}
	b := rod.New().ControlURL(u)
	if err := b.Connect(); err != nil {
		l.Kill()
		return nil, err
	}
	return &rodSession{launcher: l, browser: b}, nil
}

type rodSession struct {
	launcher *launcher.Launcher
	browser  *rod.Browser
}

func (s *rodSession) PrintPDF(ctx context.Context, html string) ([]byte, error) {
	page, err := s.browser.Context(ctx).Page(proto.TargetCreateTarget{})
	if err != nil {
		return nil, fmt.Errorf("%w: open page: %w", errStaleSession, err)
	}
	defer page.Close()

	if err := page.SetDocumentContent(html); err != nil {
		return nil, fmt.Errorf("%w: set content: %w", errStaleSession, err)
	}
	if err := page.WaitLoad(); err != nil {
		return nil, fmt.Errorf("wait load: %w", err)
	}
	stream, err := page.PDF(&proto.PagePrintToPDF{PrintBackground: true, PreferCSSPageSize: true})
	if err != nil {
		return nil, fmt.Errorf("print: %w", err)
	}
	data, err := io.ReadAll(stream)
	if err != nil {
		return nil, fmt.Errorf("read pdf: %w", err)
	}
	return data, nil
}

func (s *rodSession) Close() error {
	err := s.browser.Close()
	s.launcher.Kill()
	return err
}
