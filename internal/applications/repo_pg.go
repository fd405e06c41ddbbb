package applications

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"meetingapp-backend/internal/shared/storage/object"
)

// PGRepo implements Repo using Postgres.
type PGRepo struct {
	DB *sql.DB
}

// Get loads an application with its owner identifiers.
func (r *PGRepo) Get(ctx context.Context, id int64) (Application, error) {
	const query = `
SELECT m.id, m.latest_status, m.statuses, m.arbitrator_files, m.efrsb_debtor_messages, m.meta,
       m.start_generation, m.end_generation, m.arbitrator_id, a.uuid, m.procedure_id, p.uuid,
       m.workspace_id, m.created_at, m.updated_at
FROM meeting_applications m
JOIN arbitrators a ON a.id = m.arbitrator_id
JOIN procedures p ON p.id = m.procedure_id
WHERE m.id = $1
LIMIT 1`
	var (
		app                   Application
		statuses, files, msgs []byte
		meta                  []byte
		startGen, endGen      sql.NullTime
	)
	err := r.DB.QueryRowContext(ctx, query, id).Scan(
		&app.ID,
		&app.LatestStatus,
		&statuses,
		&files,
		&msgs,
		&meta,
		&startGen,
		&endGen,
		&app.Owner.ArbitratorID,
		&app.Owner.ArbitratorUUID,
		&app.Owner.ProcedureID,
		&app.Owner.ProcedureUUID,
		&app.Owner.WorkspaceID,
		&app.CreatedAt,
		&app.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Application{}, ErrNotFound
		}
		return Application{}, err
	}
	if err := unmarshalJSONB(statuses, &app.Statuses); err != nil {
		return Application{}, fmt.Errorf("statuses: %w", err)
	}
	if err := unmarshalJSONB(files, &app.Files); err != nil {
		return Application{}, fmt.Errorf("arbitrator_files: %w", err)
	}
	if err := unmarshalJSONB(msgs, &app.Messages); err != nil {
		return Application{}, fmt.Errorf("efrsb_debtor_messages: %w", err)
	}
	if err := unmarshalJSONB(meta, &app.Meta); err != nil {
		return Application{}, fmt.Errorf("meta: %w", err)
	}
	app.StartGeneration = timePtr(startGen)
	app.EndGeneration = timePtr(endGen)
	return app, nil
}

// Save writes the generation-owned columns of an existing application.
func (r *PGRepo) Save(ctx context.Context, app Application) error {
	const query = `
UPDATE meeting_applications
SET latest_status = $2, statuses = $3, arbitrator_files = $4, efrsb_debtor_messages = $5, meta = $6,
    start_generation = $7, end_generation = $8, updated_at = now()
WHERE id = $1`
	statuses, err := json.Marshal(app.Statuses)
	if err != nil {
		return err
	}
	files, err := marshalJSONB(app.Files)
	if err != nil {
		return err
	}
	msgs, err := marshalJSONB(app.Messages)
	if err != nil {
		return err
	}
	meta, err := marshalJSONB(app.Meta)
	if err != nil {
		return err
	}
	res, err := r.DB.ExecContext(ctx, query,
		app.ID,
		int(app.LatestStatus),
		statuses,
		files,
		msgs,
		meta,
		nullTime(app.StartGeneration),
		nullTime(app.EndGeneration),
	)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// PGTaskRepo implements TaskRepo using Postgres.
type PGTaskRepo struct {
	DB *sql.DB
}

const taskColumns = `id, meeting_application_id, user_id, status, COALESCE(error, ''), started_at, finished_at, created_at, updated_at`

// Create inserts a task and returns it with its id.
func (r *PGTaskRepo) Create(ctx context.Context, task GenerationTask) (GenerationTask, error) {
	const query = `
INSERT INTO generate_meeting_application_jobs (meeting_application_id, user_id, status, error, started_at, finished_at)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING id, created_at, updated_at`
	err := r.DB.QueryRowContext(ctx, query,
		task.ApplicationID,
		nullInt64(task.UserID),
		int(task.Status),
		nullString(task.Error),
		nullTime(task.StartedAt),
		nullTime(task.FinishedAt),
	).Scan(&task.ID, &task.CreatedAt, &task.UpdatedAt)
	if err != nil {
		return GenerationTask{}, err
	}
	return task, nil
}

// Latest returns the most recently started task for an application.
func (r *PGTaskRepo) Latest(ctx context.Context, applicationID int64) (GenerationTask, error) {
	query := `SELECT ` + taskColumns + `
FROM generate_meeting_application_jobs
WHERE meeting_application_id = $1
ORDER BY started_at DESC NULLS LAST, id DESC
LIMIT 1`
	task, err := scanTask(r.DB.QueryRowContext(ctx, query, applicationID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return GenerationTask{}, ErrNotFound
		}
		return GenerationTask{}, err
	}
	return task, nil
}

// Update writes the mutable fields of a task.
func (r *PGTaskRepo) Update(ctx context.Context, task GenerationTask) error {
	const query = `
UPDATE generate_meeting_application_jobs
SET user_id = $2, status = $3, error = $4, started_at = $5, finished_at = $6, updated_at = now()
WHERE id = $1`
	res, err := r.DB.ExecContext(ctx, query,
		task.ID,
		nullInt64(task.UserID),
		int(task.Status),
		nullString(task.Error),
		nullTime(task.StartedAt),
		nullTime(task.FinishedAt),
	)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// List returns tasks newest first with the total matching count.
func (r *PGTaskRepo) List(ctx context.Context, filter TaskFilter) ([]GenerationTask, int, error) {
	f := filter.Normalize()
	var (
		where []string
		args  []any
	)
	if f.ApplicationID > 0 {
		args = append(args, f.ApplicationID)
		where = append(where, "meeting_application_id = $"+strconv.Itoa(len(args)))
	}
	if f.UserID > 0 {
		args = append(args, f.UserID)
		where = append(where, "user_id = $"+strconv.Itoa(len(args)))
	}
	if f.Status.Valid() {
		args = append(args, int(f.Status))
		where = append(where, "status = $"+strconv.Itoa(len(args)))
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM generate_meeting_application_jobs`+clause, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	args = append(args, f.PerPage, f.Offset())
	query := `SELECT ` + taskColumns + ` FROM generate_meeting_application_jobs` + clause +
		` ORDER BY id DESC LIMIT $` + strconv.Itoa(len(args)-1) + ` OFFSET $` + strconv.Itoa(len(args))
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	tasks := []GenerationTask{}
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, 0, err
		}
		tasks = append(tasks, task)
	}
	return tasks, total, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (GenerationTask, error) {
	var (
		task              GenerationTask
		userID            sql.NullInt64
		started, finished sql.NullTime
	)
	if err := row.Scan(
		&task.ID,
		&task.ApplicationID,
		&userID,
		&task.Status,
		&task.Error,
		&started,
		&finished,
		&task.CreatedAt,
		&task.UpdatedAt,
	); err != nil {
		return GenerationTask{}, err
	}
	if userID.Valid {
		v := userID.Int64
		task.UserID = &v
	}
	task.StartedAt = timePtr(started)
	task.FinishedAt = timePtr(finished)
	return task, nil
}

// PGSourceRepo implements SourceRepo using Postgres.
type PGSourceRepo struct {
	DB *sql.DB
}

// FilesByIDs returns the subset of ids that exist.
func (r *PGSourceRepo) FilesByIDs(ctx context.Context, ids []int64) (map[int64]SourceFile, error) {
	out := make(map[int64]SourceFile, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	in, args := inClause(ids)
	rows, err := r.DB.QueryContext(ctx,
		`SELECT id, arbitrator_id, name, extension, path, size FROM arbitrator_files WHERE id IN (`+in+`)`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var f SourceFile
		if err := rows.Scan(&f.ID, &f.ArbitratorID, &f.Name, &f.Extension, &f.Path, &f.Size); err != nil {
			return nil, err
		}
		out[f.ID] = f
	}
	return out, rows.Err()
}

// MessagesByIDs returns the subset of ids that exist.
func (r *PGSourceRepo) MessagesByIDs(ctx context.Context, ids []int64) (map[int64]RegistryMessage, error) {
	out := make(map[int64]RegistryMessage, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	in, args := inClause(ids)
	rows, err := r.DB.QueryContext(ctx,
		`SELECT id, uuid, COALESCE(number, ''), COALESCE(title, ''), COALESCE(body_html, '') FROM efrsb_debtor_messages WHERE id IN (`+in+`)`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var m RegistryMessage
		if err := rows.Scan(&m.ID, &m.UUID, &m.Number, &m.Title, &m.Body); err != nil {
			return nil, err
		}
		out[m.ID] = m
	}
	return out, rows.Err()
}

// StorageAccount returns the arbitrator's storage settings.
func (r *PGSourceRepo) StorageAccount(ctx context.Context, arbitratorID int64) (object.Account, error) {
	const query = `
SELECT id, COALESCE(storage_type, 0), COALESCE(yandex_disk_token, ''), COALESCE(storage_limit, 0), subscription_ends_at
FROM arbitrators
WHERE id = $1`
	var (
		acc  object.Account
		kind int
		ends sql.NullTime
	)
	err := r.DB.QueryRowContext(ctx, query, arbitratorID).Scan(&acc.ArbitratorID, &kind, &acc.Token, &acc.LimitBytes, &ends)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return object.Account{}, ErrNotFound
		}
		return object.Account{}, err
	}
	acc.Type = object.Type(kind)
	acc.SubscriptionEndsAt = timePtr(ends)
	return acc, nil
}

// PGOutputRepo implements OutputRepo using Postgres.
type PGOutputRepo struct {
	DB *sql.DB
}

// ListByApplication returns records for the application ordered by id.
func (r *PGOutputRepo) ListByApplication(ctx context.Context, applicationID int64) ([]OutputFile, error) {
	const query = `
SELECT id, meeting_application_id, user_id, workspace_id, arbitrator_id, procedure_id, provider,
       path, name, size, mime, meta, created_at
FROM arbitrator_files_meeting_applications
WHERE meeting_application_id = $1
ORDER BY id`
	rows, err := r.DB.QueryContext(ctx, query, applicationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []OutputFile
	for rows.Next() {
		var (
			f    OutputFile
			meta []byte
		)
		if err := rows.Scan(&f.ID, &f.ApplicationID, &f.UserID, &f.WorkspaceID, &f.ArbitratorID, &f.ProcedureID,
			&f.Provider, &f.RemotePath, &f.Name, &f.Size, &f.Mime, &meta, &f.CreatedAt); err != nil {
			return nil, err
		}
		if err := unmarshalJSONB(meta, &f.Meta); err != nil {
			return nil, fmt.Errorf("meta: %w", err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// Create inserts an output file record.
func (r *PGOutputRepo) Create(ctx context.Context, file OutputFile) (OutputFile, error) {
	const query = `
INSERT INTO arbitrator_files_meeting_applications (
	meeting_application_id, user_id, workspace_id, arbitrator_id, procedure_id, provider, path, name, size, mime, meta
)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
RETURNING id, created_at`
	meta, err := marshalJSONB(file.Meta)
	if err != nil {
		return OutputFile{}, err
	}
	err = r.DB.QueryRowContext(ctx, query,
		file.ApplicationID,
		file.UserID,
		file.WorkspaceID,
		file.ArbitratorID,
		file.ProcedureID,
		file.Provider,
		file.RemotePath,
		file.Name,
		file.Size,
		file.Mime,
		meta,
	).Scan(&file.ID, &file.CreatedAt)
	if err != nil {
		return OutputFile{}, err
	}
	return file, nil
}

// Delete removes a record; missing ids are not an error.
func (r *PGOutputRepo) Delete(ctx context.Context, id int64) error {
	_, err := r.DB.ExecContext(ctx, `DELETE FROM arbitrator_files_meeting_applications WHERE id = $1`, id)
	return err
}

// TotalSize sums stored sizes for an arbitrator on a provider.
func (r *PGOutputRepo) TotalSize(ctx context.Context, arbitratorID int64, provider int) (int64, error) {
	var total int64
	err := r.DB.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(size), 0) FROM arbitrator_files_meeting_applications WHERE arbitrator_id = $1 AND provider = $2`,
		arbitratorID, provider,
	).Scan(&total)
	return total, err
}

func inClause(ids []int64) (string, []any) {
	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = "$" + strconv.Itoa(i+1)
		args[i] = id
	}
	return strings.Join(placeholders, ", "), args
}

func marshalJSONB(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	if string(data) == "null" {
		return nil, nil
	}
	return data, nil
}

func unmarshalJSONB(data []byte, dst any) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, dst)
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

func nullInt64(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

var (
	_ Repo       = (*PGRepo)(nil)
	_ TaskRepo   = (*PGTaskRepo)(nil)
	_ SourceRepo = (*PGSourceRepo)(nil)
	_ OutputRepo = (*PGOutputRepo)(nil)
)
