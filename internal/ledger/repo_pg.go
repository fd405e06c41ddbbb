package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// PGRepo stores entries in efrsb_message_requests. A partial unique index on
// (meeting_application_id, message_id) WHERE status = 1 backs the
// single-pending rule.
type PGRepo struct {
	DB *sql.DB
}

const entryColumns = `id, meeting_application_id, message_id, requested_at, status, COALESCE(error, ''), created_at, updated_at`

func (r *PGRepo) Record(ctx context.Context, applicationID int64, messageIDs []int64, at time.Time) (err error) {
	if len(messageIDs) == 0 {
		return nil
	}
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()
	for _, msgID := range messageIDs {
		if _, err = tx.ExecContext(ctx, `
INSERT INTO efrsb_message_requests (meeting_application_id, message_id, requested_at, status, created_at, updated_at)
VALUES ($1, $2, $3, $4, $3, $3)
ON CONFLICT (meeting_application_id, message_id) WHERE status = 1 DO NOTHING`,
			applicationID, msgID, at, int(StatusPending)); err != nil {
			return fmt.Errorf("insert request %d: %w", msgID, err)
		}
	}
	return tx.Commit()
}

func (r *PGRepo) Discard(ctx context.Context, applicationID int64, messageIDs []int64) error {
	if len(messageIDs) == 0 {
		return nil
	}
	in, args := inClause(messageIDs, 2)
	_, err := r.DB.ExecContext(ctx, `
DELETE FROM efrsb_message_requests
WHERE meeting_application_id = $1 AND message_id IN (`+in+`)`,
		append([]any{applicationID}, args...)...)
	return err
}

func (r *PGRepo) Resolve(ctx context.Context, messageID int64, status Status, errText string, at time.Time) (int, error) {
	res, err := r.DB.ExecContext(ctx, `
UPDATE efrsb_message_requests
SET status = $2, error = $3, updated_at = $4
WHERE message_id = $1 AND status = $5`,
		messageID, int(status), nullString(errText), at, int(StatusPending))
	return affected(res, err)
}

func (r *PGRepo) CompletePending(ctx context.Context, applicationID int64, messageIDs []int64, at time.Time) (int, error) {
	if len(messageIDs) == 0 {
		return 0, nil
	}
	in, args := inClause(messageIDs, 5)
	res, err := r.DB.ExecContext(ctx, `
UPDATE efrsb_message_requests
SET status = $2, updated_at = $3
WHERE meeting_application_id = $1 AND status = $4 AND message_id IN (`+in+`)`,
		append([]any{applicationID, int(StatusCompleted), at, int(StatusPending)}, args...)...)
	return affected(res, err)
}

func (r *PGRepo) ExpirePending(ctx context.Context, applicationID int64, cutoff time.Time, errText string, at time.Time) ([]Entry, error) {
	rows, err := r.DB.QueryContext(ctx, `
UPDATE efrsb_message_requests
SET status = $2, error = $3, updated_at = $4
WHERE meeting_application_id = $1 AND status = $5 AND requested_at <= $6
RETURNING `+entryColumns,
		applicationID, int(StatusTimeout), errText, at, int(StatusPending), cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r *PGRepo) OldestPending(ctx context.Context, applicationID int64) (Entry, error) {
	row := r.DB.QueryRowContext(ctx, `
SELECT `+entryColumns+`
FROM efrsb_message_requests
WHERE meeting_application_id = $1 AND status = $2
ORDER BY requested_at, id
LIMIT 1`, applicationID, int(StatusPending))
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, ErrNotFound
	}
	return e, err
}

func (r *PGRepo) PendingMessageIDs(ctx context.Context, applicationID int64) ([]int64, error) {
	rows, err := r.DB.QueryContext(ctx, `
SELECT message_id FROM efrsb_message_requests
WHERE meeting_application_id = $1 AND status = $2
ORDER BY message_id`, applicationID, int(StatusPending))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *PGRepo) CountPending(ctx context.Context, applicationID int64) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `
SELECT COUNT(*) FROM efrsb_message_requests
WHERE meeting_application_id = $1 AND status = $2`, applicationID, int(StatusPending)).Scan(&n)
	return n, err
}

func (r *PGRepo) Latest(ctx context.Context, applicationID, messageID int64) (Entry, error) {
	row := r.DB.QueryRowContext(ctx, `
SELECT `+entryColumns+`
FROM efrsb_message_requests
WHERE meeting_application_id = $1 AND message_id = $2
ORDER BY requested_at DESC, id DESC
LIMIT 1`, applicationID, messageID)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, ErrNotFound
	}
	return e, err
}

func (r *PGRepo) ResolvedApplication(ctx context.Context, messageID int64) (int64, error) {
	var appID int64
	err := r.DB.QueryRowContext(ctx, `
SELECT meeting_application_id FROM efrsb_message_requests
WHERE message_id = $1 AND status IN ($2, $3)
ORDER BY updated_at DESC
LIMIT 1`, messageID, int(StatusCompleted), int(StatusError)).Scan(&appID)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	return appID, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (Entry, error) {
	var (
		e      Entry
		status int
	)
	if err := row.Scan(&e.ID, &e.ApplicationID, &e.MessageID, &e.RequestedAt, &status, &e.Error, &e.CreatedAt, &e.UpdatedAt); err != nil {
		return Entry{}, err
	}
	e.Status = Status(status)
	return e, nil
}

// inClause renders $start..$start+n-1 placeholders for ids.
func inClause(ids []int64, start int) (string, []any) {
	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = "$" + strconv.Itoa(start+i)
		args[i] = id
	}
	return strings.Join(placeholders, ", "), args
}

func affected(res sql.Result, err error) (int, error) {
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

var _ Repo = (*PGRepo)(nil)
