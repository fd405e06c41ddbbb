package generation

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"meetingapp-backend/internal/applications"
	"meetingapp-backend/internal/ledger"
	"meetingapp-backend/internal/notify"
	"meetingapp-backend/internal/pdf/merge"
	"meetingapp-backend/internal/queue"
	"meetingapp-backend/internal/shared/storage/object"
	"meetingapp-backend/internal/shared/telemetry"
)

func TestGenerateApplication42SuspendsThenResumes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.putFile(t, 7, "policy.pdf")
	f.sources.PutMessage(applications.RegistryMessage{ID: 101, UUID: "u-101", Body: "msg-101"})
	f.sources.PutMessage(applications.RegistryMessage{ID: 102, UUID: "u-102"})
	f.putApp(t, applications.Application{
		ID:       42,
		Files:    applications.StorageFiles{applications.CategoryInsurance: {{ID: 7, Title: "Policy"}}},
		Messages: []applications.RegistryMessageRef{{ID: 101}, {ID: 102}},
	})

	if err := f.svc.Generate(ctx, 42, false, userPtr(testUser)); err != nil {
		t.Fatalf("first pass: %v", err)
	}

	app := f.app(t, 42)
	if app.LatestStatus != applications.StatusGenerating {
		t.Fatalf("expected GENERATING while suspended, got %s", app.LatestStatus)
	}
	if got := app.Files[applications.CategoryInsurance][0].Status; got != applications.ItemGenerated {
		t.Fatalf("file 7 status = %q", got)
	}
	if got := app.Message(101).Status; got != applications.ItemGenerated {
		t.Fatalf("message 101 status = %q", got)
	}
	if got := app.Message(102).Status; got != applications.ItemGenerating {
		t.Fatalf("message 102 status = %q", got)
	}
	if len(f.registry.batches) != 1 || len(f.registry.batches[0]) != 1 || f.registry.batches[0][0].MessageUUID != "u-102" {
		t.Fatalf("unexpected registry batches %+v", f.registry.batches)
	}
	if n, _ := f.ledger.CountPending(ctx, 42); n != 1 {
		t.Fatalf("expected one pending ledger entry, got %d", n)
	}
	check := f.queue.last(t)
	if check.msg.Kind != queue.KindTimeoutCheck || check.delay != f.svc.RegistryWait {
		t.Fatalf("expected delayed timeout check, got %+v", check)
	}
	if outs, _ := f.outputs.ListByApplication(ctx, 42); len(outs) != 0 {
		t.Fatalf("expected no output while suspended")
	}
	if _, err := os.Stat(filepath.Join(f.tempDir, "42")); !os.IsNotExist(err) {
		t.Fatalf("expected temp dir removed on suspend, stat err=%v", err)
	}

	f.sources.SetMessageBody(102, "msg-102")
	if err := f.svc.HandleCallback(ctx, Callback{MessageID: 102, MessageUUID: "u-102", Status: CallbackSuccess}); err != nil {
		t.Fatalf("callback: %v", err)
	}
	resume := f.queue.last(t)
	if resume.msg.Kind != queue.KindGenerate || !resume.msg.ContinueAfterCallback || resume.msg.ApplicationID != 42 {
		t.Fatalf("expected resume message, got %+v", resume.msg)
	}
	if resume.msg.UserID == nil || *resume.msg.UserID != testUser {
		t.Fatalf("expected resume on behalf of the requesting user")
	}

	if err := f.svc.Dispatch(ctx, resume.msg); err != nil {
		t.Fatalf("resume: %v", err)
	}
	app = f.app(t, 42)
	if app.LatestStatus != applications.StatusGenerated {
		t.Fatalf("expected GENERATED, got %s", app.LatestStatus)
	}
	if app.EndGeneration == nil {
		t.Fatalf("expected end_generation to be set")
	}
	if app.Meta["pages"] != 3 {
		t.Fatalf("expected 3 pages in meta, got %v", app.Meta["pages"])
	}
	out, content := f.uploaded(t, 42)
	if content != "page:policy.pdf\npage:msg-101\npage:msg-102\n" {
		t.Fatalf("unexpected merged content %q", content)
	}
	if out.UserID != testUser || out.Provider != int(object.TypeLocal) || out.Mime != "application/pdf" {
		t.Fatalf("unexpected output record %+v", out)
	}
	if !strings.HasPrefix(out.RemotePath, "/onb/arb-uuid/procedures/proc-uuid/meeting_applications/2026_01_12_42/meeting-application-42-") {
		t.Fatalf("unexpected remote path %q", out.RemotePath)
	}

	tasks, total, _ := f.tasks.List(ctx, applications.TaskFilter{ApplicationID: 42})
	if total != 1 || tasks[0].Status != applications.TaskCompleted || tasks[0].FinishedAt == nil {
		t.Fatalf("expected one completed task, got %+v", tasks)
	}
	if len(f.notifier.toasts) != 1 || f.notifier.toasts[0].Type != notify.TypeSuccess || f.notifier.toasts[0].Title != toastGenerated {
		t.Fatalf("unexpected toasts %+v", f.notifier.toasts)
	}
	if len(f.notifier.events) != 1 || f.notifier.events[0].LatestStatus != int(applications.StatusGenerated) {
		t.Fatalf("unexpected status events %+v", f.notifier.events)
	}
}

func TestGenerateNoSources(t *testing.T) {
	f := newFixture(t)
	f.putApp(t, applications.Application{ID: 1})

	err := f.svc.Generate(context.Background(), 1, false, userPtr(testUser))
	if KindOf(err) != KindNoSources {
		t.Fatalf("expected no sources, got %v", err)
	}
	app := f.app(t, 1)
	if app.LatestStatus != applications.StatusError {
		t.Fatalf("expected ERROR, got %s", app.LatestStatus)
	}
	latest, _ := app.Statuses.Latest()
	if !strings.Contains(latest.UserText, noteNoSources) {
		t.Fatalf("expected no-sources note, got %+v", latest)
	}
	tasks, _, _ := f.tasks.List(context.Background(), applications.TaskFilter{ApplicationID: 1})
	if len(tasks) != 1 || tasks[0].Status != applications.TaskError {
		t.Fatalf("expected errored task, got %+v", tasks)
	}
	if len(f.notifier.toasts) != 1 || f.notifier.toasts[0].Type != notify.TypeError {
		t.Fatalf("expected an error toast, got %+v", f.notifier.toasts)
	}
}

func TestGenerateAllSourcesFailedIsError(t *testing.T) {
	f := newFixture(t)
	f.sources.PutFile(applications.SourceFile{ID: 8, ArbitratorID: testArbitrator, Name: "scan.docx", Extension: "docx", Path: "/docs/scan.docx"})
	f.sources.PutFile(applications.SourceFile{ID: 9, ArbitratorID: testArbitrator, Name: "gone.pdf", Extension: "pdf", Path: "/docs/gone.pdf"})
	f.sources.PutMessage(applications.RegistryMessage{ID: 101, Body: "broken"})
	f.renderer.fail["broken"] = true
	f.putApp(t, applications.Application{
		ID: 2,
		Files: applications.StorageFiles{
			applications.CategoryTrade:     {{ID: 8}, {ID: 9}},
			applications.CategoryInventory: {{ID: 404}},
		},
		Messages: []applications.RegistryMessageRef{{ID: 101}},
	})

	err := f.svc.Generate(context.Background(), 2, false, nil)
	if KindOf(err) != KindAllSourcesFailed {
		t.Fatalf("expected all sources failed, got %v", err)
	}
	app := f.app(t, 2)
	if app.LatestStatus != applications.StatusError {
		t.Fatalf("expected ERROR, never partial; got %s", app.LatestStatus)
	}
	trade := app.Files[applications.CategoryTrade]
	if trade[0].Error != textOnlyPDF {
		t.Fatalf("docx error = %q", trade[0].Error)
	}
	if !strings.HasPrefix(trade[1].Error, textDownloadError) {
		t.Fatalf("missing object error = %q", trade[1].Error)
	}
	if got := app.Files[applications.CategoryInventory][0].Error; got != textFileNotFound {
		t.Fatalf("missing row error = %q", got)
	}
	if got := app.Message(101).Error; got != textRenderFailed {
		t.Fatalf("render error = %q", got)
	}
}

func TestGeneratePartialMergesOnlySuccessfulItems(t *testing.T) {
	f := newFixture(t)
	f.putFile(t, 7, "policy.pdf")
	f.putFile(t, 11, "contract.pdf")
	f.sources.PutMessage(applications.RegistryMessage{ID: 101, Body: "msg-101"})
	f.putApp(t, applications.Application{
		ID: 3,
		Files: applications.StorageFiles{
			applications.CategoryTradeContract: {{ID: 11}},
			applications.CategoryInsurance:     {{ID: 7}, {ID: 12}},
		},
		Messages: []applications.RegistryMessageRef{{ID: 101}, {ID: 103}},
	})

	if err := f.svc.Generate(context.Background(), 3, false, userPtr(testUser)); err != nil {
		t.Fatalf("generate: %v", err)
	}
	app := f.app(t, 3)
	if app.LatestStatus != applications.StatusPartiallyGenerated {
		t.Fatalf("expected PARTIALLY_GENERATED, got %s", app.LatestStatus)
	}
	_, content := f.uploaded(t, 3)
	if content != "page:policy.pdf\npage:contract.pdf\npage:msg-101\n" {
		t.Fatalf("expected category order then messages, got %q", content)
	}
	if got := app.Message(103).Error; got != textMessageNotFound {
		t.Fatalf("unknown message error = %q", got)
	}
	if f.notifier.toasts[0].Type != notify.TypeWarn || f.notifier.toasts[0].Title != toastPartial {
		t.Fatalf("expected warn toast, got %+v", f.notifier.toasts[0])
	}
}

func TestGenerateResumeMatchesFreshRun(t *testing.T) {
	build := func(t *testing.T) *fixture {
		f := newFixture(t)
		f.putFile(t, 7, "policy.pdf")
		f.sources.PutMessage(applications.RegistryMessage{ID: 101, Body: "msg-101"})
		f.putApp(t, applications.Application{
			ID:       4,
			Files:    applications.StorageFiles{applications.CategoryEstimate: {{ID: 7}, {ID: 70}}},
			Messages: []applications.RegistryMessageRef{{ID: 101}},
		})
		return f
	}

	fresh := build(t)
	if err := fresh.svc.Generate(context.Background(), 4, false, nil); err != nil {
		t.Fatalf("fresh: %v", err)
	}
	resumed := build(t)
	if err := resumed.svc.Generate(context.Background(), 4, true, nil); err != nil {
		t.Fatalf("resumed: %v", err)
	}

	a, b := fresh.app(t, 4), resumed.app(t, 4)
	if a.LatestStatus != b.LatestStatus {
		t.Fatalf("fresh=%s resumed=%s", a.LatestStatus, b.LatestStatus)
	}
	_, ca := fresh.uploaded(t, 4)
	_, cb := resumed.uploaded(t, 4)
	if ca != cb {
		t.Fatalf("merged content differs: %q vs %q", ca, cb)
	}
	if len(resumed.registry.batches) != 0 {
		t.Fatalf("a resumed pass must not request bodies")
	}
}

func TestGenerateBatchDispatchFailure(t *testing.T) {
	tests := []struct {
		name       string
		withFile   bool
		wantStatus applications.Status
		wantKind   Kind
	}{
		{name: "only messages", wantStatus: applications.StatusError, wantKind: KindAllSourcesFailed},
		{name: "with a file", withFile: true, wantStatus: applications.StatusPartiallyGenerated},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.registry.err = errors.New("registry rejected the request")
			f.sources.PutMessage(applications.RegistryMessage{ID: 201, UUID: "u-201"})
			f.sources.PutMessage(applications.RegistryMessage{ID: 202, UUID: "u-202"})
			app := applications.Application{
				ID:       5,
				Messages: []applications.RegistryMessageRef{{ID: 201}, {ID: 202}},
			}
			if tt.withFile {
				f.putFile(t, 7, "policy.pdf")
				app.Files = applications.StorageFiles{applications.CategoryInsurance: {{ID: 7}}}
			}
			f.putApp(t, app)

			err := f.svc.Generate(context.Background(), 5, false, nil)
			if tt.wantKind != KindUnknown {
				if KindOf(err) != tt.wantKind {
					t.Fatalf("expected %s, got %v", tt.wantKind, err)
				}
			} else if err != nil {
				t.Fatalf("generate: %v", err)
			}

			got := f.app(t, 5)
			if got.LatestStatus != tt.wantStatus {
				t.Fatalf("status = %s, want %s", got.LatestStatus, tt.wantStatus)
			}
			for _, id := range []int64{201, 202} {
				if ref := got.Message(id); ref.Status != applications.ItemError || ref.Error != textRegistryDown {
					t.Fatalf("message %d = %+v", id, ref)
				}
			}
			if entries := f.ledger.Entries(); len(entries) != 0 {
				t.Fatalf("expected ledger rows discarded, got %+v", entries)
			}
			for _, s := range f.queue.sent {
				if s.msg.Kind == queue.KindTimeoutCheck {
					t.Fatalf("no timeout check for a failed batch")
				}
			}
		})
	}
}

func TestGenerateUploadFailure(t *testing.T) {
	f := newFixture(t)
	f.putFile(t, 7, "policy.pdf")
	f.putApp(t, applications.Application{
		ID:    6,
		Files: applications.StorageFiles{applications.CategoryInsurance: {{ID: 7}}},
		Owner: applications.Owner{ArbitratorID: 500},
	})
	// Files are read with the file owner's account; the output owner has none.
	err := f.svc.Generate(context.Background(), 6, false, nil)
	if KindOf(err) != KindUploadFailed {
		t.Fatalf("expected upload failure, got %v", err)
	}
	var unconfigured *object.UnconfiguredError
	if !errors.As(err, &unconfigured) {
		t.Fatalf("expected unconfigured storage cause, got %v", err)
	}
	app := f.app(t, 6)
	latest, _ := app.Statuses.Latest()
	if app.LatestStatus != applications.StatusError || latest.UserText != noteUploadFailed || !strings.HasPrefix(latest.SystemText, noteUploadSystem) {
		t.Fatalf("unexpected history entry %+v", latest)
	}
	if got := app.Files[applications.CategoryInsurance][0].Status; got != applications.ItemGenerated {
		t.Fatalf("item state from earlier phases should survive the reload, got %q", got)
	}
	if _, err := os.Stat(filepath.Join(f.tempDir, "6")); !os.IsNotExist(err) {
		t.Fatalf("expected temp dir removed on failure")
	}
}

func TestGenerateMergeFailure(t *testing.T) {
	f := newFixture(t)
	f.merger.err = merge.ErrMergeFailed
	f.putFile(t, 7, "policy.pdf")
	f.putApp(t, applications.Application{
		ID:    7,
		Files: applications.StorageFiles{applications.CategoryInsurance: {{ID: 7}}},
	})

	err := f.svc.Generate(context.Background(), 7, false, nil)
	if KindOf(err) != KindMergeFailed || KindOf(err).Expected() {
		t.Fatalf("expected unexpected merge failure, got %v", err)
	}
	if app := f.app(t, 7); app.LatestStatus != applications.StatusError {
		t.Fatalf("expected ERROR, got %s", app.LatestStatus)
	}
}

func TestGeneratePageCountFailureIsNotFatal(t *testing.T) {
	f := newFixture(t)
	f.svc.Pages = fakeCounter{err: errors.New("unreadable")}
	f.putFile(t, 7, "policy.pdf")
	f.putApp(t, applications.Application{
		ID:    8,
		Files: applications.StorageFiles{applications.CategoryInsurance: {{ID: 7}}},
	})

	if err := f.svc.Generate(context.Background(), 8, false, nil); err != nil {
		t.Fatalf("generate: %v", err)
	}
	app := f.app(t, 8)
	if app.LatestStatus != applications.StatusGenerated {
		t.Fatalf("expected GENERATED, got %s", app.LatestStatus)
	}
	if _, ok := app.Meta["pages"]; ok {
		t.Fatalf("expected no page count, got %v", app.Meta["pages"])
	}
}

func TestGenerateReplacesPreviousOutput(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.putFile(t, 7, "policy.pdf")
	f.putApp(t, applications.Application{
		ID:    9,
		Files: applications.StorageFiles{applications.CategoryInsurance: {{ID: 7}}},
	})
	old := filepath.Join(f.storeDir, "onb", "old.pdf")
	if err := os.MkdirAll(filepath.Dir(old), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(old, []byte("old"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := f.outputs.Create(ctx, applications.OutputFile{ApplicationID: 9, Provider: int(object.TypeLocal), RemotePath: "/onb/old.pdf"}); err != nil {
		t.Fatalf("create output: %v", err)
	}

	if err := f.svc.Generate(ctx, 9, false, nil); err != nil {
		t.Fatalf("generate: %v", err)
	}
	out, _ := f.uploaded(t, 9)
	if out.RemotePath == "/onb/old.pdf" || out.UserID != 1 {
		t.Fatalf("unexpected output %+v", out)
	}
	if _, err := os.Stat(old); !os.IsNotExist(err) {
		t.Fatalf("expected previous upload deleted")
	}
}

func TestGenerateNotFound(t *testing.T) {
	f := newFixture(t)
	err := f.svc.Generate(context.Background(), 999, false, nil)
	if KindOf(err) != KindNotFound || !KindOf(err).Terminal() {
		t.Fatalf("expected terminal not found, got %v", err)
	}
	if tasks, _, _ := f.tasks.List(context.Background(), applications.TaskFilter{}); len(tasks) != 0 {
		t.Fatalf("no task for a missing application")
	}
}

func TestGenerateRespectsLock(t *testing.T) {
	f := newFixture(t)
	locker := NewMemoryLocker()
	f.svc.Locker = locker
	f.putApp(t, applications.Application{ID: 10})

	unlock, err := locker.Lock(context.Background(), 10)
	if err != nil {
		t.Fatalf("lock: %v", err)
	}
	if err := f.svc.Generate(context.Background(), 10, false, nil); !errors.Is(err, ErrLocked) || KindOf(err) != KindLocked {
		t.Fatalf("expected ErrLocked, got %v", err)
	}
	unlock()
	if err := f.svc.Generate(context.Background(), 10, false, nil); KindOf(err) != KindNoSources {
		t.Fatalf("expected the pass to run after unlock, got %v", err)
	}
}

func TestGenerateCompletesDeliveredPendingRequests(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.sources.PutMessage(applications.RegistryMessage{ID: 301, UUID: "u-301", Body: "msg-301"})
	f.putApp(t, applications.Application{ID: 11, Messages: []applications.RegistryMessageRef{{ID: 301}}})
	if err := f.ledger.Record(ctx, 11, []int64{301}, testStart); err != nil {
		t.Fatalf("record: %v", err)
	}

	if err := f.svc.Generate(ctx, 11, false, nil); err != nil {
		t.Fatalf("generate: %v", err)
	}
	entry, err := f.ledger.Latest(ctx, 11, 301)
	if err != nil || entry.Status != ledger.StatusCompleted {
		t.Fatalf("expected completed entry, got %+v err=%v", entry, err)
	}
	if app := f.app(t, 11); app.LatestStatus != applications.StatusGenerated {
		t.Fatalf("expected GENERATED, got %s", app.LatestStatus)
	}
}

func TestStartGeneration(t *testing.T) {
	f := newFixture(t)
	f.putApp(t, applications.Application{ID: 12})

	ctx := telemetry.WithRequestID(context.Background(), "req-start")
	if err := f.svc.StartGeneration(ctx, 12, userPtr(testUser)); err != nil {
		t.Fatalf("start: %v", err)
	}
	app := f.app(t, 12)
	latest, _ := app.Statuses.Latest()
	if app.LatestStatus != applications.StatusGenerating || latest.UserText != noteStarted || app.StartGeneration == nil {
		t.Fatalf("unexpected app state %+v", app)
	}
	sent := f.queue.last(t)
	if sent.msg.Kind != queue.KindGenerate || sent.msg.ContinueAfterCallback || *sent.msg.UserID != testUser || sent.msg.RequestID != "req-start" {
		t.Fatalf("unexpected queued message %+v", sent.msg)
	}

	if err := f.svc.StartGeneration(context.Background(), 404, nil); KindOf(err) != KindNotFound {
		t.Fatalf("expected not found, got %v", err)
	}
}
