package generation

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	clocktesting "k8s.io/utils/clock/testing"

	"meetingapp-backend/internal/applications"
	"meetingapp-backend/internal/ledger"
	"meetingapp-backend/internal/notify"
	"meetingapp-backend/internal/queue"
	"meetingapp-backend/internal/registry"
	"meetingapp-backend/internal/shared/storage/object"
	"meetingapp-backend/internal/shared/storage/object/local"
)

const (
	testArbitrator = int64(5)
	testUser       = int64(77)
)

var testStart = time.Date(2026, 1, 12, 13, 0, 0, 0, time.UTC)

// fakeRenderer writes a one-line stand-in PDF per message.
type fakeRenderer struct {
	fail map[string]bool
}

func (f *fakeRenderer) Render(_ context.Context, body, out, _ string) error {
	if f.fail[body] {
		return errors.New("chrome crashed")
	}
	return os.WriteFile(out, []byte("page:"+body+"\n"), 0o644)
}

// fakeMerger concatenates inputs so tests can inspect what was merged.
type fakeMerger struct {
	err    error
	inputs []string
}

func (f *fakeMerger) Merge(_ context.Context, paths []string, out string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	var buf bytes.Buffer
	f.inputs = nil
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return "", err
		}
		buf.Write(data)
		f.inputs = append(f.inputs, filepath.Base(p))
	}
	return "fake", os.WriteFile(out, buf.Bytes(), 0o644)
}

type fakeCounter struct {
	err error
}

func (f fakeCounter) Count(_ context.Context, path string) (int, error) {
	if f.err != nil {
		return 0, f.err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return bytes.Count(data, []byte("\n")), nil
}

type fakeRegistry struct {
	err     error
	batches [][]registry.Message
}

func (f *fakeRegistry) RequestBodies(_ context.Context, msgs []registry.Message, _ int64) (registry.Result, error) {
	f.batches = append(f.batches, msgs)
	if f.err != nil {
		return registry.Result{}, f.err
	}
	return registry.Result{Success: true}, nil
}

type sentMessage struct {
	msg   queue.Message
	delay time.Duration
}

type fakeQueue struct {
	mu   sync.Mutex
	sent []sentMessage
}

func (f *fakeQueue) Send(_ context.Context, msg queue.Message, delay time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentMessage{msg: msg, delay: delay})
	return nil
}

func (f *fakeQueue) last(t *testing.T) sentMessage {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sent) == 0 {
		t.Fatalf("expected a queued message")
	}
	return f.sent[len(f.sent)-1]
}

type fakeNotifier struct {
	events []notify.StatusEvent
	toasts []notify.Toast
}

func (f *fakeNotifier) StatusUpdated(_ context.Context, ev notify.StatusEvent) error {
	f.events = append(f.events, ev)
	return nil
}

func (f *fakeNotifier) Toast(_ context.Context, t notify.Toast) error {
	f.toasts = append(f.toasts, t)
	return nil
}

type fixture struct {
	svc      *Service
	apps     *applications.MemoryRepo
	tasks    *applications.MemoryTaskRepo
	sources  *applications.MemorySourceRepo
	outputs  *applications.MemoryOutputRepo
	ledger   *ledger.MemoryRepo
	renderer *fakeRenderer
	merger   *fakeMerger
	registry *fakeRegistry
	queue    *fakeQueue
	notifier *fakeNotifier
	clock    *clocktesting.FakeClock
	storeDir string
	tempDir  string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		apps:     applications.NewMemoryRepo(),
		tasks:    applications.NewMemoryTaskRepo(),
		sources:  applications.NewMemorySourceRepo(),
		outputs:  applications.NewMemoryOutputRepo(),
		ledger:   ledger.NewMemoryRepo(),
		renderer: &fakeRenderer{fail: map[string]bool{}},
		merger:   &fakeMerger{},
		registry: &fakeRegistry{},
		queue:    &fakeQueue{},
		notifier: &fakeNotifier{},
		clock:    clocktesting.NewFakeClock(testStart),
		storeDir: t.TempDir(),
		tempDir:  t.TempDir(),
	}
	storage := object.NewRegistry()
	storage.Register(object.TypeLocal, func(context.Context, object.Account) (object.Provider, error) {
		return local.New(f.storeDir, "/onb"), nil
	})
	f.sources.PutAccount(object.Account{ArbitratorID: testArbitrator, Type: object.TypeLocal})

	f.svc = &Service{
		Apps:         f.apps,
		Tasks:        f.tasks,
		Sources:      f.sources,
		Outputs:      f.outputs,
		Ledger:       f.ledger,
		Storage:      storage,
		Renderer:     f.renderer,
		Merger:       f.merger,
		Pages:        fakeCounter{},
		Registry:     f.registry,
		Notifier:     f.notifier,
		Queue:        f.queue,
		Clock:        f.clock,
		TempDir:      f.tempDir,
		RegistryWait: 5 * time.Minute,
	}
	return f
}

// putFile stores a PDF row and its bytes in the local provider.
func (f *fixture) putFile(t *testing.T, id int64, name string) {
	t.Helper()
	remote := filepath.Join("docs", name)
	full := filepath.Join(f.storeDir, remote)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(full, []byte("page:"+name+"\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	f.sources.PutFile(applications.SourceFile{
		ID:           id,
		ArbitratorID: testArbitrator,
		Name:         name,
		Extension:    filepath.Ext(name),
		Path:         "/" + filepath.ToSlash(remote),
	})
}

func (f *fixture) putApp(t *testing.T, app applications.Application) {
	t.Helper()
	if app.Owner.ArbitratorID == 0 {
		app.Owner = applications.Owner{
			ArbitratorID:   testArbitrator,
			ArbitratorUUID: "arb-uuid",
			ProcedureID:    9,
			ProcedureUUID:  "proc-uuid",
			WorkspaceID:    3,
		}
	}
	if app.CreatedAt.IsZero() {
		app.CreatedAt = testStart
	}
	if app.LatestStatus == 0 {
		app.AddStatus(applications.StatusDraft, testStart, "Created", "")
	}
	if err := f.apps.Save(context.Background(), app); err != nil {
		t.Fatalf("save app: %v", err)
	}
}

func (f *fixture) app(t *testing.T, id int64) applications.Application {
	t.Helper()
	app, err := f.apps.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("get app: %v", err)
	}
	return app
}

// uploaded returns the content of the single output file.
func (f *fixture) uploaded(t *testing.T, id int64) (applications.OutputFile, string) {
	t.Helper()
	outs, err := f.outputs.ListByApplication(context.Background(), id)
	if err != nil {
		t.Fatalf("list outputs: %v", err)
	}
	if len(outs) != 1 {
		t.Fatalf("expected one output, got %d", len(outs))
	}
	data, err := os.ReadFile(filepath.Join(f.storeDir, filepath.FromSlash(outs[0].RemotePath)))
	if err != nil {
		t.Fatalf("read upload: %v", err)
	}
	return outs[0], string(data)
}

func userPtr(id int64) *int64 { return &id }
