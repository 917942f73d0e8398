// Package ledger keeps a local SQLite record of what issuesync has written.
//
// The ledger mirrors sync outcomes for the status command and for audit.
// It is never consulted to decide between create and update: the destination
// database remains the only source of record identity.
//
// Architecture:
//   - Database file: <state_dir>/ledger.db
//   - WAL mode: status reads run while a daemon session writes
//   - Schema: records, runs, failures tables
//
// The Ledger implements reconcile.Reporter, so it is attached to a session
// alongside the other reporters:
//
//	l, err := ledger.Open(cfg.LedgerPath(), logger)
//	if err != nil {
//	    return err
//	}
//	defer l.Close()
//	session := reconcile.NewSession(source, store, sessionCfg, logger, l)
package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
	"go.uber.org/multierr"

	"github.com/mschirtzinger/issuesync/internal/reconcile"
	"github.com/mschirtzinger/issuesync/internal/types"
)

// ErrNotFound is returned by lookups that match no row.
var ErrNotFound = errors.New("not found")

// Ledger wraps the SQLite connection.
type Ledger struct {
	conn   *sql.DB
	path   string
	logger *log.Logger

	// Failures of the running session, written with its run row.
	mu       sync.Mutex
	pending  []reconcile.ItemError
	writeErr error
}

var _ reconcile.Reporter = (*Ledger)(nil)

// Open opens or creates the ledger at path and initializes its schema.
//
// The caller MUST call Close() when done to ensure proper cleanup.
func Open(path string, logger *log.Logger) (*Ledger, error) {
	return OpenContext(context.Background(), path, logger)
}

// OpenContext opens the ledger with context support.
func OpenContext(ctx context.Context, path string, logger *log.Logger) (*Ledger, error) {
	// Ensure parent directory exists
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create ledger directory: %w", err)
	}
	if logger == nil {
		logger = log.New(os.Stderr, "[ledger] ", log.LstdFlags)
	}

	// Pragmas go in the DSN so every pooled connection gets them.
	connStr := fmt.Sprintf("file:%s?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)", path)
	conn, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger: %w", err)
	}

	if err := conn.PingContext(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping ledger: %w", err)
	}

	conn.SetMaxOpenConns(4)
	conn.SetMaxIdleConns(2)
	conn.SetConnMaxLifetime(5 * time.Minute)

	l := &Ledger{conn: conn, path: path, logger: logger}
	if err := l.initSchema(ctx); err != nil {
		_ = l.Close()
		return nil, err
	}
	return l, nil
}

// Path returns the database file path.
func (l *Ledger) Path() string {
	return l.path
}

// Close checkpoints the WAL and closes the connection.
func (l *Ledger) Close() error {
	if l.conn == nil {
		return nil
	}

	// Checkpoint WAL before closing
	if _, err := l.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		l.logger.Printf("Warning: failed to checkpoint WAL: %v", err)
	}

	if err := l.conn.Close(); err != nil {
		return fmt.Errorf("failed to close ledger: %w", err)
	}

	l.conn = nil
	return nil
}

func (l *Ledger) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS records (
		issue_url TEXT PRIMARY KEY,
		record_id TEXT NOT NULL,
		repository TEXT NOT NULL,
		number INTEGER NOT NULL,
		title TEXT NOT NULL,
		state TEXT NOT NULL,
		last_op TEXT NOT NULL,
		last_synced_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS runs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		started_at TEXT NOT NULL,
		finished_at TEXT NOT NULL,
		repositories TEXT NOT NULL,  -- JSON array
		created INTEGER NOT NULL DEFAULT 0,
		updated INTEGER NOT NULL DEFAULT 0,
		bodies INTEGER NOT NULL DEFAULT 0,
		failed INTEGER NOT NULL DEFAULT 0,
		dry_run INTEGER NOT NULL DEFAULT 0,
		error TEXT
	);

	CREATE TABLE IF NOT EXISTS failures (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id INTEGER NOT NULL,
		op TEXT NOT NULL,
		issue_url TEXT NOT NULL,
		record_id TEXT,
		error TEXT NOT NULL,
		FOREIGN KEY (run_id) REFERENCES runs(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_records_repository ON records(repository);
	CREATE INDEX IF NOT EXISTS idx_failures_run ON failures(run_id);
	`

	if _, err := l.conn.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return nil
}

// UpsertRecord records a successful write for an issue.
func (l *Ledger) UpsertRecord(ctx context.Context, rec *Record) error {
	if rec.IssueURL == "" || rec.RecordID == "" {
		return fmt.Errorf("invalid record: issue url and record id are required")
	}

	query := `
	INSERT INTO records (
		issue_url, record_id, repository, number, title, state, last_op, last_synced_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(issue_url) DO UPDATE SET
		record_id = excluded.record_id,
		repository = excluded.repository,
		number = excluded.number,
		title = excluded.title,
		state = excluded.state,
		last_op = excluded.last_op,
		last_synced_at = excluded.last_synced_at
	`

	_, err := l.conn.ExecContext(ctx, query,
		rec.IssueURL,
		rec.RecordID,
		rec.Repository,
		rec.Number,
		rec.Title,
		rec.State,
		rec.LastOp,
		rec.LastSyncedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert record %s: %w", rec.IssueURL, err)
	}
	return nil
}

// InsertRun stores a finished session and its item failures in one
// transaction, returning the run ID.
func (l *Ledger) InsertRun(ctx context.Context, run *Run, failures []reconcile.ItemError) (int64, error) {
	repos, err := json.Marshal(run.Repositories)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal repositories: %w", err)
	}

	tx, err := l.conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
	INSERT INTO runs (started_at, finished_at, repositories, created, updated, bodies, failed, dry_run, error)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.StartedAt.UTC().Format(time.RFC3339),
		run.FinishedAt.UTC().Format(time.RFC3339),
		string(repos),
		run.Created,
		run.Updated,
		run.Bodies,
		run.Failed,
		run.DryRun,
		nullString(run.Error),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert run: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read run id: %w", err)
	}

	for _, f := range failures {
		_, err := tx.ExecContext(ctx, `
		INSERT INTO failures (run_id, op, issue_url, record_id, error)
		VALUES (?, ?, ?, ?, ?)`,
			id, string(f.Op), f.IssueURL, nullString(f.RecordID), errString(f.Err))
		if err != nil {
			return 0, fmt.Errorf("failed to insert failure for %s: %w", f.IssueURL, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return id, nil
}

// RepositoryStarted is part of reconcile.Reporter.
func (l *Ledger) RepositoryStarted(string) {}

// BatchCompleted is part of reconcile.Reporter.
func (l *Ledger) BatchCompleted(reconcile.Op, int, int, int) {}

// RepositoryCompleted is part of reconcile.Reporter.
func (l *Ledger) RepositoryCompleted(*reconcile.RepositoryReport) {}

// ItemSucceeded upserts the issue's record row.
func (l *Ledger) ItemSucceeded(op reconcile.Op, issue *types.Issue, recordID string) {
	rec := &Record{
		IssueURL:     issue.URL,
		RecordID:     recordID,
		Repository:   issue.Repository,
		Number:       issue.Number,
		Title:        issue.Title,
		State:        string(issue.State),
		LastOp:       string(op),
		LastSyncedAt: time.Now(),
	}
	if err := l.UpsertRecord(context.Background(), rec); err != nil {
		l.recordWriteErr(err)
	}
}

// ItemFailed buffers the failure until the session completes.
func (l *Ledger) ItemFailed(failure *reconcile.ItemError) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.pending = append(l.pending, *failure)
}

// SessionCompleted writes the run row and the buffered failures.
func (l *Ledger) SessionCompleted(report *reconcile.SessionReport, err error) {
	l.mu.Lock()
	failures := l.pending
	l.pending = nil
	l.mu.Unlock()

	run := RunFromReport(report, err)
	if _, werr := l.InsertRun(context.Background(), run, failures); werr != nil {
		l.recordWriteErr(werr)
	}
}

// Err returns the accumulated write errors of the Reporter methods, which
// cannot return them directly.
func (l *Ledger) Err() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.writeErr
}

// TakeErr returns the accumulated write errors and clears them, for callers
// that check once per session.
func (l *Ledger) TakeErr() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	err := l.writeErr
	l.writeErr = nil
	return err
}

func (l *Ledger) recordWriteErr(err error) {
	l.logger.Printf("Warning: %v", err)
	l.mu.Lock()
	defer l.mu.Unlock()
	l.writeErr = multierr.Append(l.writeErr, err)
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
