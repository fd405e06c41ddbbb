package generation

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"meetingapp-backend/internal/applications"
	"meetingapp-backend/internal/ledger"
	"meetingapp-backend/internal/notify"
	"meetingapp-backend/internal/queue"
	"meetingapp-backend/internal/registry"
	"meetingapp-backend/internal/shared/storage/object"
	"meetingapp-backend/internal/shared/telemetry"
	"meetingapp-backend/internal/shared/util"
)

// run is the state of one generation pass.
type run struct {
	s         *Service
	app       applications.Application
	task      *applications.GenerationTask
	resume    bool
	userID    *int64
	dir       string
	requestID string

	files     []downloadedFile
	messages  []string
	providers map[int64]providerResult
}

type downloadedFile struct {
	category applications.Category
	index    int
	path     string
	size     int64
}

type providerResult struct {
	provider object.Provider
	err      error
}

func (r *run) fields(extra map[string]any) map[string]any {
	out := map[string]any{
		"application_id": r.app.ID,
		"resume":         r.resume,
	}
	if r.task != nil {
		out["task_id"] = r.task.ID
	}
	if r.requestID != "" {
		out["request_id"] = r.requestID
	}
	for k, v := range extra {
		out[k] = v
	}
	return out
}

func (r *run) execute(ctx context.Context) (string, error) {
	defer r.cleanup()

	if err := r.openTask(ctx); err != nil {
		return "", err
	}
	if err := r.reset(ctx); err != nil {
		return "", err
	}
	if err := os.MkdirAll(r.dir, 0o755); err != nil {
		return "", fmt.Errorf("create temp dir: %w", err)
	}
	if err := r.downloadFiles(ctx); err != nil {
		return "", err
	}
	if err := r.prepareMessages(ctx); err != nil {
		return "", err
	}

	pending, err := r.reconcileLedger(ctx)
	if err != nil {
		return "", err
	}
	if pending > 0 {
		if err := r.save(ctx); err != nil {
			return "", err
		}
		telemetry.Info("generation.suspended", r.fields(map[string]any{"pending": pending}))
		return outcomeSuspended, nil
	}

	if len(r.files) == 0 && len(r.messages) == 0 {
		if !r.app.HasSources() {
			return "", newError(KindNoSources, noteNoSources, nil)
		}
		if !r.app.AnySucceeded() {
			return "", newError(KindAllSourcesFailed, noteAllFailed, nil)
		}
	}

	merged, pages, err := r.merge(ctx)
	if err != nil {
		return "", err
	}
	if err := r.publish(ctx, merged); err != nil {
		return "", err
	}
	if pages > 0 {
		if r.app.Meta == nil {
			r.app.Meta = make(map[string]any)
		}
		r.app.Meta["pages"] = pages
	}
	r.cleanup()
	return r.finish(ctx)
}

func (r *run) openTask(ctx context.Context) error {
	now := r.s.now()
	if !r.resume {
		task, err := r.s.Tasks.Create(ctx, applications.GenerationTask{
			ApplicationID: r.app.ID,
			UserID:        r.userID,
			Status:        applications.TaskGenerating,
			StartedAt:     &now,
		})
		if err != nil {
			return fmt.Errorf("create generation task: %w", err)
		}
		r.task = &task
		return nil
	}

	task, err := r.s.Tasks.Latest(ctx, r.app.ID)
	if errors.Is(err, applications.ErrNotFound) {
		telemetry.Warn("generation.task_missing", r.fields(nil))
		return nil
	}
	if err != nil {
		return fmt.Errorf("load generation task: %w", err)
	}
	task.Status = applications.TaskGenerating
	task.FinishedAt = nil
	if task.StartedAt == nil {
		task.StartedAt = &now
	}
	if err := r.s.Tasks.Update(ctx, task); err != nil {
		return fmt.Errorf("update generation task: %w", err)
	}
	if r.userID == nil {
		r.userID = task.UserID
	}
	r.task = &task
	return nil
}

func (r *run) reset(ctx context.Context) error {
	now := r.s.now()
	r.app.ResetRun()
	if r.app.LatestStatus != applications.StatusGenerating {
		r.app.AddStatus(applications.StatusGenerating, now, noteStarted, "")
	}
	if r.app.StartGeneration == nil {
		start := now
		r.app.StartGeneration = &start
	}
	r.app.EndGeneration = nil
	return r.save(ctx)
}

func (r *run) save(ctx context.Context) error {
	if err := r.s.Apps.Save(ctx, r.app); err != nil {
		return fmt.Errorf("save application %d: %w", r.app.ID, err)
	}
	return nil
}

// downloadFiles fetches every PDF file reference in category order.
// Item failures are recorded on the reference and never abort the phase.
func (r *run) downloadFiles(ctx context.Context) error {
	for _, c := range applications.Categories {
		refs := r.app.Files[c]
		if len(refs) == 0 {
			continue
		}
		ids := make([]int64, 0, len(refs))
		for _, ref := range refs {
			ids = append(ids, ref.ID)
		}
		rows, err := r.s.Sources.FilesByIDs(ctx, ids)
		if err != nil {
			telemetry.Error("generation.files_lookup_failed", r.fields(map[string]any{
				"category": string(c),
				"error":    err.Error(),
			}))
			for i := range refs {
				refs[i].MarkError(textDownloadError + util.SanitizeError(err))
			}
			continue
		}

		for i := range refs {
			ref := &refs[i]
			row, ok := rows[ref.ID]
			switch {
			case !ok:
				ref.MarkError(textFileNotFound)
				continue
			case !row.IsPDF():
				ref.MarkError(textOnlyPDF)
				continue
			}
			local, size, err := r.download(ctx, row, ref.Title)
			if err != nil {
				telemetry.Warn("generation.download_failed", r.fields(map[string]any{
					"file_id": ref.ID,
					"error":   util.SanitizeError(err),
				}))
				ref.MarkError(textDownloadError + util.SanitizeError(err))
				continue
			}
			ref.MarkGenerated(size)
			r.files = append(r.files, downloadedFile{category: c, index: i, path: local, size: size})
		}
	}
	return r.save(ctx)
}

func (r *run) download(ctx context.Context, row applications.SourceFile, title string) (string, int64, error) {
	provider, err := r.provider(ctx, row.ArbitratorID)
	if err != nil {
		return "", 0, err
	}
	name := strings.TrimSpace(title)
	if name == "" {
		name = strings.TrimSuffix(row.Name, filepath.Ext(row.Name))
	}
	local := filepath.Join(r.dir, util.RandomString(8)+"_"+util.Slug(name)+".pdf")
	if err := provider.Download(ctx, row.Path, local); err != nil {
		return "", 0, err
	}
	info, err := os.Stat(local)
	if err != nil {
		return "", 0, err
	}
	return local, info.Size(), nil
}

// provider resolves and caches the storage provider of a file owner.
func (r *run) provider(ctx context.Context, arbitratorID int64) (object.Provider, error) {
	if r.providers == nil {
		r.providers = make(map[int64]providerResult)
	}
	if cached, ok := r.providers[arbitratorID]; ok {
		return cached.provider, cached.err
	}
	p, err := r.s.resolveProvider(ctx, arbitratorID)
	r.providers[arbitratorID] = providerResult{provider: p, err: err}
	return p, err
}

func (s *Service) resolveProvider(ctx context.Context, arbitratorID int64) (object.Provider, error) {
	account, err := s.Sources.StorageAccount(ctx, arbitratorID)
	if errors.Is(err, applications.ErrNotFound) {
		return nil, &object.UnconfiguredError{Reason: "no storage configured"}
	}
	if err != nil {
		return nil, fmt.Errorf("load storage account: %w", err)
	}
	return s.Storage.For(ctx, account)
}

// prepareMessages renders messages that already carry a body. On a fresh
// pass the rest are requested from the registry; on a resumed pass they
// are marked failed with the ledger's reason.
func (r *run) prepareMessages(ctx context.Context) error {
	if len(r.app.Messages) == 0 {
		return nil
	}
	ids := make([]int64, 0, len(r.app.Messages))
	for _, m := range r.app.Messages {
		ids = append(ids, m.ID)
	}
	rows, err := r.s.Sources.MessagesByIDs(ctx, ids)
	if err != nil {
		return fmt.Errorf("load registry messages: %w", err)
	}

	var missing []applications.RegistryMessage
	for i := range r.app.Messages {
		ref := &r.app.Messages[i]
		row, ok := rows[ref.ID]
		switch {
		case !ok:
			ref.MarkError(textMessageNotFound)
		case row.HasBody():
			r.render(ctx, ref, row)
		case r.resume:
			r.markUnavailable(ctx, ref)
		default:
			missing = append(missing, row)
		}
	}
	if len(missing) > 0 {
		if err := r.requestBodies(ctx, missing); err != nil {
			return err
		}
	}
	return r.save(ctx)
}

func (r *run) render(ctx context.Context, ref *applications.RegistryMessageRef, row applications.RegistryMessage) {
	out := filepath.Join(r.dir, fmt.Sprintf("message_%d_%s.pdf", ref.ID, util.RandomString(8)))
	title := ref.Title
	if title == "" {
		title = row.Title
	}
	err := r.s.Renderer.Render(ctx, row.Body, out, title)
	var info os.FileInfo
	if err == nil {
		info, err = os.Stat(out)
	}
	if err != nil {
		telemetry.Warn("generation.render_failed", r.fields(map[string]any{
			"message_id": ref.ID,
			"error":      util.SanitizeError(err),
		}))
		ref.MarkError(textRenderFailed)
		return
	}
	ref.MarkGenerated(info.Size())
	r.messages = append(r.messages, out)
}

func (r *run) markUnavailable(ctx context.Context, ref *applications.RegistryMessageRef) {
	text := textMessageUnavailable
	entry, err := r.s.Ledger.Latest(ctx, r.app.ID, ref.ID)
	switch {
	case err == nil && entry.Status.Failed() && entry.Error != "":
		text = entry.Error
	case err != nil && !errors.Is(err, ledger.ErrNotFound):
		telemetry.Warn("generation.ledger_lookup_failed", r.fields(map[string]any{
			"message_id": ref.ID,
			"error":      err.Error(),
		}))
	}
	ref.MarkError(text)
}

// requestBodies records pending ledger entries and asks the registry for
// the bodies in one batch. A failed batch is never waited on.
func (r *run) requestBodies(ctx context.Context, rows []applications.RegistryMessage) error {
	ids := make([]int64, 0, len(rows))
	batch := make([]registry.Message, 0, len(rows))
	for _, row := range rows {
		ids = append(ids, row.ID)
		batch = append(batch, registry.Message{MessageID: row.ID, MessageUUID: row.UUID})
	}
	if err := r.s.Ledger.Record(ctx, r.app.ID, ids, r.s.now()); err != nil {
		return fmt.Errorf("record registry requests: %w", err)
	}
	for _, id := range ids {
		if ref := r.app.Message(id); ref != nil {
			ref.MarkWaiting()
		}
	}

	if _, err := r.s.Registry.RequestBodies(ctx, batch, r.app.ID); err != nil {
		telemetry.Error("generation.registry_request_failed", r.fields(map[string]any{
			"kind":     KindRegistryRequestFailed.String(),
			"messages": ids,
			"error":    util.SanitizeError(err),
		}))
		for _, id := range ids {
			if ref := r.app.Message(id); ref != nil {
				ref.MarkError(textRegistryDown)
			}
		}
		if err := r.s.Ledger.Discard(ctx, r.app.ID, ids); err != nil {
			return fmt.Errorf("discard registry requests: %w", err)
		}
		return nil
	}
	telemetry.Info("generation.registry_requested", r.fields(map[string]any{"messages": ids}))

	check := queue.Message{Kind: queue.KindTimeoutCheck, ApplicationID: r.app.ID, RequestID: telemetry.RequestID(ctx)}
	if err := r.s.Queue.Send(ctx, check, r.s.RegistryWait); err != nil {
		telemetry.Error("generation.timeout_schedule_failed", r.fields(map[string]any{"error": err.Error()}))
	}
	return nil
}

// reconcileLedger completes pending entries whose body has already been
// delivered, renders those bodies, and returns what is still pending.
func (r *run) reconcileLedger(ctx context.Context) (int, error) {
	pending, err := r.s.Ledger.PendingMessageIDs(ctx, r.app.ID)
	if err != nil {
		return 0, fmt.Errorf("list pending requests: %w", err)
	}
	if len(pending) > 0 {
		rows, err := r.s.Sources.MessagesByIDs(ctx, pending)
		if err != nil {
			return 0, fmt.Errorf("load registry messages: %w", err)
		}
		var delivered []int64
		for _, id := range pending {
			row, ok := rows[id]
			if !ok || !row.HasBody() {
				continue
			}
			delivered = append(delivered, id)
			if ref := r.app.Message(id); ref != nil && ref.Status == applications.ItemGenerating {
				r.render(ctx, ref, row)
			}
		}
		if len(delivered) > 0 {
			n, err := r.s.Ledger.CompletePending(ctx, r.app.ID, delivered, r.s.now())
			if err != nil {
				return 0, fmt.Errorf("complete delivered requests: %w", err)
			}
			telemetry.Info("ledger.auto_completed", r.fields(map[string]any{"count": n}))
		}
	}
	n, err := r.s.Ledger.CountPending(ctx, r.app.ID)
	if err != nil {
		return 0, fmt.Errorf("count pending requests: %w", err)
	}
	return n, nil
}

// merge concatenates storage files in category order, then messages.
func (r *run) merge(ctx context.Context) (string, int, error) {
	paths := make([]string, 0, len(r.files)+len(r.messages))
	for _, f := range r.files {
		paths = append(paths, f.path)
	}
	paths = append(paths, r.messages...)
	if len(paths) == 0 {
		return "", 0, newError(KindNothingToMerge, noteNothingToMerge, nil)
	}

	out := filepath.Join(r.dir, "merged_"+util.RandomString(8)+".pdf")
	engine, err := r.s.Merger.Merge(ctx, paths, out)
	if err != nil {
		return "", 0, newError(KindMergeFailed, "merge failed", err)
	}
	pages, err := r.s.Pages.Count(ctx, out)
	if err != nil {
		telemetry.Warn("generation.page_count_failed", r.fields(map[string]any{
			"kind":  KindPageCountFailed.String(),
			"error": err.Error(),
		}))
		pages = 0
	}
	telemetry.Info("generation.merged", r.fields(map[string]any{
		"engine": engine,
		"inputs": len(paths),
		"pages":  pages,
	}))

	for _, f := range r.files {
		r.app.Files[f.category][f.index].MarkGenerated(f.size)
	}
	if err := r.save(ctx); err != nil {
		return "", 0, err
	}
	return out, pages, nil
}

// publish replaces previously uploaded outputs with the merged file.
func (r *run) publish(ctx context.Context, merged string) error {
	owner := r.app.Owner
	account, err := r.s.Sources.StorageAccount(ctx, owner.ArbitratorID)
	if errors.Is(err, applications.ErrNotFound) {
		err = &object.UnconfiguredError{Reason: "no storage configured"}
	}
	if err != nil {
		return newError(KindUploadFailed, util.SanitizeError(err), err)
	}
	provider, err := r.s.Storage.For(ctx, account)
	if err != nil {
		return newError(KindUploadFailed, util.SanitizeError(err), err)
	}

	r.deletePrevious(ctx, account)

	now := r.s.now()
	name := fmt.Sprintf("meeting_application_%d_%s", r.app.ID, now.In(moscow).Format("2006-01-02_15-04-05"))
	remote := object.BuildPath(object.PathParams{
		Root:           provider.Root(),
		ArbitratorUUID: owner.ArbitratorUUID,
		ProcedureUUID:  owner.ProcedureUUID,
		ApplicationID:  r.app.ID,
		CreatedAt:      r.app.CreatedAt,
		FileName:       name,
		Extension:      "pdf",
	})
	res, err := provider.Upload(ctx, merged, remote)
	if err != nil {
		return newError(KindUploadFailed, util.SanitizeError(err), err)
	}

	userID := int64(1)
	if r.userID != nil {
		userID = *r.userID
	}
	out, err := r.s.Outputs.Create(ctx, applications.OutputFile{
		ApplicationID: r.app.ID,
		UserID:        userID,
		WorkspaceID:   owner.WorkspaceID,
		ArbitratorID:  owner.ArbitratorID,
		ProcedureID:   owner.ProcedureID,
		Provider:      int(provider.Type()),
		RemotePath:    res.Path,
		Name:          path.Base(res.Path),
		Size:          res.Size,
		Mime:          "application/pdf",
		CreatedAt:     now,
	})
	if err != nil {
		return newError(KindUploadFailed, "record uploaded file", err)
	}
	telemetry.Info("generation.uploaded", r.fields(map[string]any{
		"output_id": out.ID,
		"provider":  provider.Type().String(),
		"path":      res.Path,
		"size":      res.Size,
	}))
	return nil
}

// deletePrevious removes earlier outputs. Failures are logged per file.
func (r *run) deletePrevious(ctx context.Context, account object.Account) {
	olds, err := r.s.Outputs.ListByApplication(ctx, r.app.ID)
	if err != nil {
		telemetry.Warn("generation.previous_outputs_failed", r.fields(map[string]any{"error": err.Error()}))
		return
	}
	for _, old := range olds {
		acc := account
		acc.Type = object.Type(old.Provider)
		provider, err := r.s.Storage.For(ctx, acc)
		if err == nil {
			_, err = provider.Delete(ctx, old.RemotePath)
		}
		if err != nil {
			telemetry.Warn("generation.previous_output_delete_failed", r.fields(map[string]any{
				"output_id": old.ID,
				"path":      old.RemotePath,
				"error":     util.SanitizeError(err),
			}))
			continue
		}
		if err := r.s.Outputs.Delete(ctx, old.ID); err != nil {
			telemetry.Warn("generation.previous_output_delete_failed", r.fields(map[string]any{
				"output_id": old.ID,
				"error":     err.Error(),
			}))
		}
	}
}

func (r *run) finish(ctx context.Context) (string, error) {
	status, note := applications.StatusGenerated, noteGenerated
	toastType, toastTitle := notify.TypeSuccess, toastGenerated
	if r.app.HasErrors() {
		status, note = applications.StatusPartiallyGenerated, notePartial
		toastType, toastTitle = notify.TypeWarn, toastPartial
	}
	now := r.s.now()
	r.app.AddStatus(status, now, note, "")
	end := now
	r.app.EndGeneration = &end
	if err := r.save(ctx); err != nil {
		return "", err
	}
	r.finishTask(ctx, applications.TaskCompleted, "")
	r.notify(ctx, toastType, toastTitle, note)
	return strings.ToLower(status.String()), nil
}

func (r *run) finishTask(ctx context.Context, status applications.TaskStatus, errText string) {
	if r.task == nil {
		return
	}
	now := r.s.now()
	r.task.Status = status
	r.task.Error = errText
	r.task.FinishedAt = &now
	if err := r.s.Tasks.Update(ctx, *r.task); err != nil {
		telemetry.Error("generation.task_update_failed", r.fields(map[string]any{"error": err.Error()}))
	}
}

func (r *run) notify(ctx context.Context, kind, title, msg string) {
	if r.userID == nil || r.s.Notifier == nil {
		return
	}
	ev := notify.StatusEvent{
		UserID:           *r.userID,
		ApplicationID:    r.app.ID,
		LatestStatus:     int(r.app.LatestStatus),
		LatestStatusText: r.app.LatestStatus.Text(),
	}
	if err := r.s.Notifier.StatusUpdated(ctx, ev); err != nil {
		telemetry.Warn("generation.notify_failed", r.fields(map[string]any{"error": err.Error()}))
	}
	toast := notify.Toast{
		UserID:    *r.userID,
		Title:     title,
		Message:   fmt.Sprintf("Meeting application #%d: %s", r.app.ID, msg),
		Type:      kind,
		Life:      notify.DefaultLife,
		CreatedAt: r.s.now(),
	}
	if err := r.s.Notifier.Toast(ctx, toast); err != nil {
		telemetry.Warn("generation.notify_failed", r.fields(map[string]any{"error": err.Error()}))
	}
}

// cleanup removes the temp directory, retrying once on failure.
func (r *run) cleanup() {
	if r.dir == "" {
		return
	}
	if err := os.RemoveAll(r.dir); err != nil {
		if err := os.RemoveAll(r.dir); err != nil {
			telemetry.Warn("generation.cleanup_failed", r.fields(map[string]any{
				"dir":   r.dir,
				"error": err.Error(),
			}))
		}
	}
}
