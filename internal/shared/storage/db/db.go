package db

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/url"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as database/sql driver
)

// Options controls the pool and the session parameters sent on connect.
type Options struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	PingTimeout     time.Duration

	// ApplicationName shows up in pg_stat_activity next to advisory locks.
	ApplicationName string
	// StatementTimeout is applied per session; zero leaves the server default.
	StatementTimeout time.Duration
}

var openDB = sql.Open

// IsLambdaRuntime reports whether the current process is running in AWS Lambda.
func IsLambdaRuntime() bool {
	return strings.TrimSpace(os.Getenv("AWS_LAMBDA_FUNCTION_NAME")) != ""
}

// DefaultLambdaOptions keeps one invocation per container to a couple of
// connections.
func DefaultLambdaOptions() Options {
	return Options{
		MaxOpenConns:     2,
		MaxIdleConns:     1,
		ConnMaxIdleTime:  30 * time.Second,
		ConnMaxLifetime:  15 * time.Minute,
		PingTimeout:      3 * time.Second,
		ApplicationName:  "meetingapp-lambda",
		StatementTimeout: 30 * time.Second,
	}
}

// DefaultServerOptions returns defaults for the API and the SQS worker. A
// held generation lock pins one connection per running job.
func DefaultServerOptions() Options {
	return Options{
		MaxOpenConns:     12,
		MaxIdleConns:     5,
		ConnMaxIdleTime:  2 * time.Minute,
		ConnMaxLifetime:  time.Hour,
		PingTimeout:      5 * time.Second,
		ApplicationName:  "meetingapp-backend",
		StatementTimeout: 30 * time.Second,
	}
}

// DefaultMigrateOptions returns defaults for the migrations CLI.
func DefaultMigrateOptions() Options {
	return Options{
		MaxOpenConns:    1,
		MaxIdleConns:    1,
		ConnMaxIdleTime: 2 * time.Minute,
		ConnMaxLifetime: time.Hour,
		PingTimeout:     5 * time.Second,
		ApplicationName: "meetingapp-migrate",
	}
}

// OptionsFromEnv overrides defaults with DB_* env vars if present.
func OptionsFromEnv(defaults Options) Options {
	opts := defaults
	if v, ok := readEnvInt("DB_MAX_OPEN_CONNS"); ok {
		opts.MaxOpenConns = v
	}
	if v, ok := readEnvInt("DB_MAX_IDLE_CONNS"); ok {
		opts.MaxIdleConns = v
	}
	if v, ok := readEnvDuration("DB_CONN_MAX_LIFETIME"); ok {
		opts.ConnMaxLifetime = v
	}
	if v, ok := readEnvDuration("DB_CONN_MAX_IDLE_TIME"); ok {
		opts.ConnMaxIdleTime = v
	}
	if v, ok := readEnvDuration("DB_PING_TIMEOUT"); ok {
		opts.PingTimeout = v
	}
	if v, ok := readEnvDuration("DB_STATEMENT_TIMEOUT"); ok {
		opts.StatementTimeout = v
	}
	if v := strings.TrimSpace(os.Getenv("DB_APPLICATION_NAME")); v != "" {
		opts.ApplicationName = v
	}
	return opts
}

// Connect opens a pool for databaseURL and verifies connectivity.
func Connect(ctx context.Context, databaseURL string, opts Options) (*sql.DB, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, fmt.Errorf("DATABASE_URL is empty")
	}

	dsn, err := withSessionParams(databaseURL, opts)
	if err != nil {
		return nil, err
	}
	db, err := openDB("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	applyOptions(db, opts)

	pingTimeout := opts.PingTimeout
	if pingTimeout <= 0 {
		pingTimeout = 5 * time.Second
	}
	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	stats := db.Stats()
	log.Printf("db connected app=%s open=%d idle=%d max_open=%d",
		opts.ApplicationName, stats.OpenConnections, stats.Idle, stats.MaxOpenConnections)
	return db, nil
}

// withSessionParams adds application_name and statement_timeout to a URL or
// key=value DSN unless the DSN already sets them.
func withSessionParams(dsn string, opts Options) (string, error) {
	params := map[string]string{}
	if opts.ApplicationName != "" {
		params["application_name"] = opts.ApplicationName
	}
	if opts.StatementTimeout > 0 {
		params["statement_timeout"] = strconv.FormatInt(opts.StatementTimeout.Milliseconds(), 10)
	}
	if len(params) == 0 {
		return dsn, nil
	}

	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		u, err := url.Parse(dsn)
		if err != nil {
			return "", fmt.Errorf("parse DATABASE_URL: %w", err)
		}
		q := u.Query()
		for k, v := range params {
			if q.Get(k) == "" {
				q.Set(k, v)
			}
		}
		u.RawQuery = q.Encode()
		return u.String(), nil
	}

	var b strings.Builder
	b.WriteString(strings.TrimSpace(dsn))
	for _, k := range []string{"application_name", "statement_timeout"} {
		v, ok := params[k]
		if !ok || strings.Contains(dsn, k+"=") {
			continue
		}
		fmt.Fprintf(&b, " %s='%s'", k, strings.ReplaceAll(v, "'", `\'`))
	}
	return b.String(), nil
}

// lazyDB shares one pool per process. A failed connect is retried by the
// next caller.
type lazyDB struct {
	mu      sync.Mutex
	ready   *sync.Cond
	db      *sql.DB
	pending bool
}

func newLazyDB() *lazyDB {
	l := &lazyDB{}
	l.ready = sync.NewCond(&l.mu)
	return l
}

func (l *lazyDB) get(ctx context.Context, databaseURL string, opts Options) (*sql.DB, error) {
	l.mu.Lock()
	for l.pending && l.db == nil {
		l.ready.Wait()
	}
	if l.db != nil {
		db := l.db
		l.mu.Unlock()
		return db, nil
	}
	l.pending = true
	l.mu.Unlock()

	db, err := Connect(ctx, databaseURL, opts)

	l.mu.Lock()
	if err == nil {
		l.db = db
		log.Printf("db singleton cold-start init")
	}
	l.pending = false
	l.ready.Broadcast()
	l.mu.Unlock()
	return db, err
}

func (l *lazyDB) reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.db = nil
	l.pending = false
}

var singleton = newLazyDB()

// GetSingleton returns the process-wide pool, connecting on first use.
// Warm Lambda invocations reuse it.
func GetSingleton(ctx context.Context, databaseURL string, opts Options) (*sql.DB, error) {
	return singleton.get(ctx, databaseURL, opts)
}

func applyOptions(db *sql.DB, opts Options) {
	if opts.MaxOpenConns <= 0 {
		opts.MaxOpenConns = 10
	}
	if opts.MaxIdleConns <= 0 {
		opts.MaxIdleConns = 5
	}
	if opts.ConnMaxLifetime <= 0 {
		opts.ConnMaxLifetime = time.Hour
	}
	db.SetMaxOpenConns(opts.MaxOpenConns)
	db.SetMaxIdleConns(opts.MaxIdleConns)
	db.SetConnMaxLifetime(opts.ConnMaxLifetime)
	if opts.ConnMaxIdleTime > 0 {
		db.SetConnMaxIdleTime(opts.ConnMaxIdleTime)
	}
}

func readEnvInt(key string) (int, bool) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return 0, false
	}
	val, err := strconv.Atoi(raw)
	if err != nil {
		log.Printf("db env %s invalid int: %v", key, err)
		return 0, false
	}
	return val, true
}

func readEnvDuration(key string) (time.Duration, bool) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return 0, false
	}
	val, err := time.ParseDuration(raw)
	if err != nil {
		log.Printf("db env %s invalid duration: %v", key, err)
		return 0, false
	}
	return val, true
}
