package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mschirtzinger/issuesync/internal/reconcile"
)

// Record is the last known write for one issue.
type Record struct {
	IssueURL     string
	RecordID     string
	Repository   string
	Number       int
	Title        string
	State        string
	LastOp       string
	LastSyncedAt time.Time
}

// Run summarizes one finished session.
type Run struct {
	ID           int64
	StartedAt    time.Time
	FinishedAt   time.Time
	Repositories []string
	Created      int
	Updated      int
	Bodies       int
	Failed       int
	DryRun       bool

	// Error is the session-fatal error, if any.
	Error string
}

// Failure is one item failure of a run.
type Failure struct {
	Op       string
	IssueURL string
	RecordID string
	Error    string
}

// RunFromReport flattens a session report into a run row.
func RunFromReport(report *reconcile.SessionReport, err error) *Run {
	run := &Run{
		StartedAt:    report.StartedAt,
		FinishedAt:   report.FinishedAt,
		Repositories: []string{},
		Created:      report.Created(),
		Updated:      report.Updated(),
		Bodies:       report.BodiesSynced(),
		Failed:       report.Failed(),
		DryRun:       report.DryRun,
		Error:        errString(err),
	}
	for _, repo := range report.Repositories {
		run.Repositories = append(run.Repositories, repo.Repository)
	}
	return run
}

// RepositoryCount is the per-repository breakdown of the records table.
type RepositoryCount struct {
	Repository string
	Records    int
	Open       int
	Closed     int
}

// Stats is the summary shown by the status command.
type Stats struct {
	Records      int
	Repositories []RepositoryCount
	Runs         int

	// LastRun is nil when no session has completed yet.
	LastRun *Run
}

// GetRecord returns the record row for an issue URL, or ErrNotFound.
func (l *Ledger) GetRecord(ctx context.Context, issueURL string) (*Record, error) {
	var rec Record
	var synced string
	err := l.conn.QueryRowContext(ctx, `
	SELECT issue_url, record_id, repository, number, title, state, last_op, last_synced_at
	FROM records WHERE issue_url = ?`, issueURL).Scan(
		&rec.IssueURL, &rec.RecordID, &rec.Repository, &rec.Number,
		&rec.Title, &rec.State, &rec.LastOp, &synced,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("record %s: %w", issueURL, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get record %s: %w", issueURL, err)
	}
	rec.LastSyncedAt = parseTime(synced)
	return &rec, nil
}

// RecentRuns returns up to limit runs, newest first.
func (l *Ledger) RecentRuns(ctx context.Context, limit int) ([]*Run, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := l.conn.QueryContext(ctx, `
	SELECT id, started_at, finished_at, repositories, created, updated, bodies, failed, dry_run, error
	FROM runs ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		var run Run
		var started, finished, repos string
		var runErr sql.NullString
		if err := rows.Scan(&run.ID, &started, &finished, &repos, &run.Created, &run.Updated,
			&run.Bodies, &run.Failed, &run.DryRun, &runErr); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		run.StartedAt = parseTime(started)
		run.FinishedAt = parseTime(finished)
		run.Error = runErr.String
		if err := json.Unmarshal([]byte(repos), &run.Repositories); err != nil {
			return nil, fmt.Errorf("failed to unmarshal repositories of run %d: %w", run.ID, err)
		}
		runs = append(runs, &run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}
	return runs, nil
}

// RunFailures returns the item failures of a run in insertion order.
func (l *Ledger) RunFailures(ctx context.Context, runID int64) ([]*Failure, error) {
	rows, err := l.conn.QueryContext(ctx, `
	SELECT op, issue_url, record_id, error FROM failures WHERE run_id = ? ORDER BY id`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query failures: %w", err)
	}
	defer rows.Close()

	var failures []*Failure
	for rows.Next() {
		var f Failure
		var recordID sql.NullString
		if err := rows.Scan(&f.Op, &f.IssueURL, &recordID, &f.Error); err != nil {
			return nil, fmt.Errorf("failed to scan failure: %w", err)
		}
		f.RecordID = recordID.String
		failures = append(failures, &f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating failures: %w", err)
	}
	return failures, nil
}

// Stats returns record counts per repository and the last run.
func (l *Ledger) Stats(ctx context.Context) (*Stats, error) {
	stats := &Stats{}

	if err := l.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM runs`).Scan(&stats.Runs); err != nil {
		return nil, fmt.Errorf("failed to count runs: %w", err)
	}

	rows, err := l.conn.QueryContext(ctx, `
	SELECT repository,
		COUNT(*),
		SUM(CASE WHEN state = 'open' THEN 1 ELSE 0 END),
		SUM(CASE WHEN state = 'closed' THEN 1 ELSE 0 END)
	FROM records
	GROUP BY repository
	ORDER BY repository`)
	if err != nil {
		return nil, fmt.Errorf("failed to count records: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var rc RepositoryCount
		if err := rows.Scan(&rc.Repository, &rc.Records, &rc.Open, &rc.Closed); err != nil {
			return nil, fmt.Errorf("failed to scan repository count: %w", err)
		}
		stats.Records += rc.Records
		stats.Repositories = append(stats.Repositories, rc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating repository counts: %w", err)
	}

	runs, err := l.RecentRuns(ctx, 1)
	if err != nil {
		return nil, err
	}
	if len(runs) > 0 {
		stats.LastRun = runs[0]
	}
	return stats, nil
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
