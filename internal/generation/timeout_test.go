package generation

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"meetingapp-backend/internal/applications"
	"meetingapp-backend/internal/ledger"
	"meetingapp-backend/internal/queue"
)

func TestCheckTimeoutsExpiresAndResumes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.putFile(t, 7, "policy.pdf")
	f.sources.PutMessage(applications.RegistryMessage{ID: 102, UUID: "u-102"})
	f.putApp(t, applications.Application{
		ID:       42,
		Files:    applications.StorageFiles{applications.CategoryInsurance: {{ID: 7}}},
		Messages: []applications.RegistryMessageRef{{ID: 102}},
	})
	if err := f.svc.Generate(ctx, 42, false, userPtr(testUser)); err != nil {
		t.Fatalf("first pass: %v", err)
	}
	sentBefore := len(f.queue.sent)

	f.clock.Step(time.Minute)
	if err := f.svc.CheckTimeouts(ctx, 42); err != nil {
		t.Fatalf("early check: %v", err)
	}
	if n, _ := f.ledger.CountPending(ctx, 42); n != 1 {
		t.Fatalf("entry expired before the window, pending=%d", n)
	}
	if len(f.queue.sent) != sentBefore+1 {
		t.Fatalf("early check should only reschedule itself, sent %d", len(f.queue.sent)-sentBefore)
	}
	if recheck := f.queue.last(t); recheck.msg.Kind != queue.KindTimeoutCheck || recheck.delay != 4*time.Minute {
		t.Fatalf("expected timeout check in 4m, got %+v after %s", recheck.msg, recheck.delay)
	}

	f.clock.Step(5 * time.Minute)
	if err := f.svc.CheckTimeouts(ctx, 42); err != nil {
		t.Fatalf("check: %v", err)
	}
	want := fmt.Sprintf(textTimeout, 5)
	entry, err := f.ledger.Latest(ctx, 42, 102)
	if err != nil || entry.Status != ledger.StatusTimeout || entry.Error != want {
		t.Fatalf("unexpected entry %+v err=%v", entry, err)
	}
	app := f.app(t, 42)
	if ref := app.Message(102); ref.Status != applications.ItemError || ref.Error != want {
		t.Fatalf("timeout not mirrored onto ref: %+v", ref)
	}
	resume := f.queue.last(t)
	if resume.msg.Kind != queue.KindGenerate || !resume.msg.ContinueAfterCallback || *resume.msg.UserID != testUser {
		t.Fatalf("expected resume, got %+v", resume.msg)
	}

	if err := f.svc.Dispatch(ctx, resume.msg); err != nil {
		t.Fatalf("resume: %v", err)
	}
	app = f.app(t, 42)
	if app.LatestStatus != applications.StatusPartiallyGenerated {
		t.Fatalf("expected PARTIALLY_GENERATED, got %s", app.LatestStatus)
	}
	if got := app.Message(102).Error; got != want {
		t.Fatalf("resumed pass should keep the ledger reason, got %q", got)
	}
}

func TestCheckTimeoutsWaitsForOtherPending(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.putApp(t, applications.Application{ID: 1, Messages: []applications.RegistryMessageRef{{ID: 1}, {ID: 2}}})
	if err := f.ledger.Record(ctx, 1, []int64{1}, testStart); err != nil {
		t.Fatalf("record: %v", err)
	}
	if err := f.ledger.Record(ctx, 1, []int64{2}, testStart.Add(4*time.Minute)); err != nil {
		t.Fatalf("record: %v", err)
	}
	f.clock.Step(6 * time.Minute)

	if err := f.svc.CheckTimeouts(ctx, 1); err != nil {
		t.Fatalf("check: %v", err)
	}
	if n, _ := f.ledger.CountPending(ctx, 1); n != 1 {
		t.Fatalf("expected the younger request to stay pending, got %d", n)
	}
	if len(f.queue.sent) != 1 {
		t.Fatalf("expected a single rescheduled check, got %d messages", len(f.queue.sent))
	}
	if recheck := f.queue.last(t); recheck.msg.Kind != queue.KindTimeoutCheck || recheck.delay != 3*time.Minute {
		t.Fatalf("must not resume while requests are pending, got %+v after %s", recheck.msg, recheck.delay)
	}
}

func TestCheckTimeoutsLongWindowWithSubSecondRequest(t *testing.T) {
	f := newFixture(t)
	f.svc.RegistryWait = 20 * time.Minute
	ctx := context.Background()
	f.putFile(t, 7, "policy.pdf")
	f.sources.PutMessage(applications.RegistryMessage{ID: 102, UUID: "u-102"})
	f.putApp(t, applications.Application{
		ID:       42,
		Files:    applications.StorageFiles{applications.CategoryInsurance: {{ID: 7}}},
		Messages: []applications.RegistryMessageRef{{ID: 102}},
	})
	f.clock.Step(400 * time.Millisecond)
	if err := f.svc.Generate(ctx, 42, false, userPtr(testUser)); err != nil {
		t.Fatalf("first pass: %v", err)
	}
	if check := f.queue.last(t); check.msg.Kind != queue.KindTimeoutCheck || check.delay != 20*time.Minute {
		t.Fatalf("expected timeout check in 20m, got %+v after %s", check.msg, check.delay)
	}

	// Whole-second delivery lands just inside the window.
	f.clock.SetTime(testStart.Add(20 * time.Minute))
	sent := len(f.queue.sent)
	if err := f.svc.CheckTimeouts(ctx, 42); err != nil {
		t.Fatalf("check: %v", err)
	}
	if n, _ := f.ledger.CountPending(ctx, 42); n != 1 {
		t.Fatalf("expired before the window, pending=%d", n)
	}
	if len(f.queue.sent) != sent+1 {
		t.Fatalf("expected the check to be rescheduled")
	}
	recheck := f.queue.last(t)
	if recheck.msg.Kind != queue.KindTimeoutCheck || recheck.delay != time.Second {
		t.Fatalf("unexpected recheck %+v after %s", recheck.msg, recheck.delay)
	}

	f.clock.Step(recheck.delay)
	if err := f.svc.Dispatch(ctx, recheck.msg); err != nil {
		t.Fatalf("recheck: %v", err)
	}
	if entry, _ := f.ledger.Latest(ctx, 42, 102); entry.Status != ledger.StatusTimeout {
		t.Fatalf("expected timeout, got %+v", entry)
	}
	if resume := f.queue.last(t); resume.msg.Kind != queue.KindGenerate || !resume.msg.ContinueAfterCallback {
		t.Fatalf("expected resume, got %+v", resume.msg)
	}
}

func TestHandleCallbackErrorRecordsReason(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.sources.PutMessage(applications.RegistryMessage{ID: 102, UUID: "u-102"})
	f.putApp(t, applications.Application{ID: 42, Messages: []applications.RegistryMessageRef{{ID: 102}}})
	if err := f.ledger.Record(ctx, 42, []int64{102}, testStart); err != nil {
		t.Fatalf("record: %v", err)
	}

	reason := "message withdrawn\nby publisher"
	appID := int64(42)
	err := f.svc.HandleCallback(ctx, Callback{MessageID: 102, MessageUUID: "u-102", Status: CallbackError, Error: &reason, ApplicationID: &appID})
	if err != nil {
		t.Fatalf("callback: %v", err)
	}
	entry, _ := f.ledger.Latest(ctx, 42, 102)
	if entry.Status != ledger.StatusError || entry.Error != "message withdrawn by publisher" {
		t.Fatalf("unexpected entry %+v", entry)
	}
	if err := f.svc.Dispatch(ctx, f.queue.last(t).msg); KindOf(err) != KindAllSourcesFailed {
		t.Fatalf("expected all sources failed, got %v", err)
	}
	app := f.app(t, 42)
	if got := app.Message(102).Error; got != "message withdrawn by publisher" {
		t.Fatalf("ref error = %q", got)
	}
}

func TestHandleCallbackDefaultsErrorText(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.sources.PutMessage(applications.RegistryMessage{ID: 5})
	f.putApp(t, applications.Application{ID: 1, Messages: []applications.RegistryMessageRef{{ID: 5}}})
	if err := f.ledger.Record(ctx, 1, []int64{5}, testStart); err != nil {
		t.Fatalf("record: %v", err)
	}
	if err := f.svc.HandleCallback(ctx, Callback{MessageID: 5, MessageUUID: "u", Status: CallbackError}); err != nil {
		t.Fatalf("callback: %v", err)
	}
	if entry, _ := f.ledger.Latest(ctx, 1, 5); entry.Error != textCallbackError {
		t.Fatalf("expected default error text, got %q", entry.Error)
	}
}

func TestHandleCallbackUnknownMessage(t *testing.T) {
	f := newFixture(t)
	err := f.svc.HandleCallback(context.Background(), Callback{MessageID: 1, MessageUUID: "u", Status: CallbackSuccess})
	if !errors.Is(err, ErrMessageNotFound) {
		t.Fatalf("expected ErrMessageNotFound, got %v", err)
	}
}

func TestHandleCallbackWithoutRequestIsNoop(t *testing.T) {
	f := newFixture(t)
	f.sources.PutMessage(applications.RegistryMessage{ID: 1})
	if err := f.svc.HandleCallback(context.Background(), Callback{MessageID: 1, MessageUUID: "u", Status: CallbackSuccess}); err != nil {
		t.Fatalf("callback: %v", err)
	}
	if len(f.queue.sent) != 0 {
		t.Fatalf("nothing to resume without a ledger entry")
	}
}
