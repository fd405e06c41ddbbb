package applications

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
)

func newMock(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db, mock
}

func TestPGRepoGetDecodesJSONColumns(t *testing.T) {
	db, mock := newMock(t)
	repo := &PGRepo{DB: db}
	now := time.Date(2026, 1, 12, 10, 0, 0, 0, time.UTC)

	rows := sqlmock.NewRows([]string{
		"id", "latest_status", "statuses", "arbitrator_files", "efrsb_debtor_messages", "meta",
		"start_generation", "end_generation", "arbitrator_id", "uuid", "procedure_id", "uuid",
		"workspace_id", "created_at", "updated_at",
	}).AddRow(
		int64(42), int64(2),
		[]byte(`[{"id":1,"status":2,"date":"2026-01-12T10:00:00Z","user_text":"Generation started"}]`),
		[]byte(`{"insurance":[{"id":7,"title":"Policy"}]}`),
		[]byte(`[{"id":101,"number":"N-1"},{"id":102}]`),
		nil,
		now, nil,
		int64(5), "arb-uuid", int64(6), "proc-uuid", int64(1), now, now,
	)
	mock.ExpectQuery("FROM meeting_applications m").WithArgs(int64(42)).WillReturnRows(rows)

	app, err := repo.Get(context.Background(), 42)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if app.LatestStatus != StatusGenerating || len(app.Statuses) != 1 {
		t.Fatalf("unexpected status data %+v", app)
	}
	if got := app.Files[CategoryInsurance]; len(got) != 1 || got[0].ID != 7 {
		t.Fatalf("unexpected files %+v", app.Files)
	}
	if len(app.Messages) != 2 || app.Owner.ArbitratorUUID != "arb-uuid" || app.Owner.ProcedureUUID != "proc-uuid" {
		t.Fatalf("unexpected messages/owner %+v", app)
	}
	if app.StartGeneration == nil || app.EndGeneration != nil {
		t.Fatalf("unexpected generation timestamps %+v %+v", app.StartGeneration, app.EndGeneration)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("ExpectationsWereMet: %v", err)
	}
}

func TestPGRepoGetNotFound(t *testing.T) {
	db, mock := newMock(t)
	repo := &PGRepo{DB: db}
	mock.ExpectQuery("FROM meeting_applications m").WithArgs(int64(1)).WillReturnRows(sqlmock.NewRows([]string{"id"}))

	if _, err := repo.Get(context.Background(), 1); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPGRepoSave(t *testing.T) {
	db, mock := newMock(t)
	repo := &PGRepo{DB: db}
	end := time.Date(2026, 1, 12, 11, 0, 0, 0, time.UTC)
	app := Application{ID: 42, LatestStatus: StatusGenerated, EndGeneration: &end}

	mock.ExpectExec("UPDATE meeting_applications").
		WithArgs(int64(42), 3, sqlmock.AnyArg(), nil, nil, nil, nil, end).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := repo.Save(context.Background(), app); err != nil {
		t.Fatalf("Save: %v", err)
	}

	mock.ExpectExec("UPDATE meeting_applications").WillReturnResult(sqlmock.NewResult(0, 0))
	if err := repo.Save(context.Background(), Application{ID: 9}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("ExpectationsWereMet: %v", err)
	}
}

func TestPGTaskRepoCreate(t *testing.T) {
	db, mock := newMock(t)
	repo := &PGTaskRepo{DB: db}
	started := time.Date(2026, 1, 12, 10, 0, 0, 0, time.UTC)
	user := int64(3)

	mock.ExpectQuery("INSERT INTO generate_meeting_application_jobs").
		WithArgs(int64(42), int64(3), 2, nil, started, nil).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at", "updated_at"}).AddRow(int64(11), started, started))

	task, err := repo.Create(context.Background(), GenerationTask{
		ApplicationID: 42,
		UserID:        &user,
		Status:        TaskGenerating,
		StartedAt:     &started,
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if task.ID != 11 {
		t.Fatalf("expected id 11, got %d", task.ID)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("ExpectationsWereMet: %v", err)
	}
}

func TestPGTaskRepoListBuildsFilter(t *testing.T) {
	db, mock := newMock(t)
	repo := &PGTaskRepo{DB: db}
	now := time.Date(2026, 1, 12, 10, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM generate_meeting_application_jobs WHERE meeting_application_id = \$1 AND status = \$2`).
		WithArgs(int64(42), 3).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectQuery(`ORDER BY id DESC LIMIT \$3 OFFSET \$4`).
		WithArgs(int64(42), 3, 10, 10).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "meeting_application_id", "user_id", "status", "error", "started_at", "finished_at", "created_at", "updated_at",
		}).AddRow(int64(5), int64(42), nil, int64(3), "", now, now, now, now))

	tasks, total, err := repo.List(context.Background(), TaskFilter{ApplicationID: 42, Status: TaskCompleted, Page: 2, PerPage: 10})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if total != 1 || len(tasks) != 1 || tasks[0].UserID != nil || tasks[0].Status != TaskCompleted {
		t.Fatalf("unexpected result total=%d tasks=%+v", total, tasks)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("ExpectationsWereMet: %v", err)
	}
}

func TestPGSourceRepoFilesByIDs(t *testing.T) {
	db, mock := newMock(t)
	repo := &PGSourceRepo{DB: db}

	mock.ExpectQuery(`FROM arbitrator_files WHERE id IN \(\$1, \$2\)`).
		WithArgs(int64(7), int64(8)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "arbitrator_id", "name", "extension", "path", "size"}).
			AddRow(int64(7), int64(5), "policy", "pdf", "/onb/a/policy.pdf", int64(100)))

	files, err := repo.FilesByIDs(context.Background(), []int64{7, 8})
	if err != nil {
		t.Fatalf("FilesByIDs: %v", err)
	}
	if len(files) != 1 || files[7].Path != "/onb/a/policy.pdf" {
		t.Fatalf("unexpected files %+v", files)
	}

	empty, err := repo.FilesByIDs(context.Background(), nil)
	if err != nil || len(empty) != 0 {
		t.Fatalf("expected empty result without query, got %+v %v", empty, err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("ExpectationsWereMet: %v", err)
	}
}

func TestPGOutputRepoTotalSize(t *testing.T) {
	db, mock := newMock(t)
	repo := &PGOutputRepo{DB: db}

	mock.ExpectQuery("SELECT COALESCE\\(SUM\\(size\\), 0\\) FROM arbitrator_files_meeting_applications").
		WithArgs(int64(5), 2).
		WillReturnRows(sqlmock.NewRows([]string{"sum"}).AddRow(int64(1234)))

	total, err := repo.TotalSize(context.Background(), 5, 2)
	if err != nil {
		t.Fatalf("TotalSize: %v", err)
	}
	if total != 1234 {
		t.Fatalf("expected 1234, got %d", total)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("ExpectationsWereMet: %v", err)
	}
}
