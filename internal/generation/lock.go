package generation

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"meetingapp-backend/internal/shared/telemetry"
)

// Locker serializes generation passes for one application.
type Locker interface {
	Lock(ctx context.Context, applicationID int64) (unlock func(), err error)
}

// NoopLocker never blocks; the ledger pending count is the only gate.
type NoopLocker struct{}

func (NoopLocker) Lock(context.Context, int64) (func(), error) {
	return func() {}, nil
}

// MemoryLocker rejects a second pass for an application held in-process.
type MemoryLocker struct {
	mu   sync.Mutex
	held map[int64]struct{}
}

// NewMemoryLocker constructs a MemoryLocker.
func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{held: make(map[int64]struct{})}
}

func (l *MemoryLocker) Lock(ctx context.Context, applicationID int64) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.held[applicationID]; ok {
		return nil, ErrLocked
	}
	l.held[applicationID] = struct{}{}
	return func() {
		l.mu.Lock()
		delete(l.held, applicationID)
		l.mu.Unlock()
	}, nil
}

// PGLocker takes a session advisory lock keyed by the application id.
// The lock lives on a dedicated connection that is released on unlock.
type PGLocker struct {
	DB *sql.DB
}

func (l *PGLocker) Lock(ctx context.Context, applicationID int64) (func(), error) {
	conn, err := l.DB.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("advisory lock connection: %w", err)
	}
	var ok bool
	if err := conn.QueryRowContext(ctx, `SELECT pg_try_advisory_lock($1)`, applicationID).Scan(&ok); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("advisory lock: %w", err)
	}
	if !ok {
		_ = conn.Close()
		return nil, ErrLocked
	}
	return func() {
		if _, err := conn.ExecContext(context.Background(), `SELECT pg_advisory_unlock($1)`, applicationID); err != nil {
			telemetry.Warn("generation.unlock_failed", map[string]any{
				"application_id": applicationID,
				"error":          err.Error(),
			})
		}
		_ = conn.Close()
	}, nil
}

var (
	_ Locker = NoopLocker{}
	_ Locker = (*MemoryLocker)(nil)
	_ Locker = (*PGLocker)(nil)
)
