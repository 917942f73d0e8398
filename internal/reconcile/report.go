package reconcile

import (
	"time"

	"go.uber.org/multierr"
)

// ItemResult records one successful write.
type ItemResult struct {
	IssueURL string
	RecordID string
}

// BatchReport summarizes one CreateAll or UpdateAll call.
type BatchReport struct {
	Op Op

	// BatchSizes lists the size of each batch in the order it was issued.
	BatchSizes []int

	Succeeded []ItemResult
	Failed    []ItemError

	// Aborted is set when the context ended before every batch was issued.
	Aborted error
}

// Attempted returns the number of writes that were issued.
func (r *BatchReport) Attempted() int {
	return len(r.Succeeded) + len(r.Failed)
}

// Err combines every item failure and the abort cause, or returns nil.
func (r *BatchReport) Err() error {
	if r == nil {
		return nil
	}
	var err error
	for i := range r.Failed {
		err = multierr.Append(err, &r.Failed[i])
	}
	return multierr.Append(err, r.Aborted)
}

// BodySyncReport summarizes one body sync pass.
type BodySyncReport struct {
	Updated []ItemResult

	// Skipped lists issue URLs whose record had no block to overwrite.
	Skipped []string

	Failed  []ItemError
	Aborted error
}

// Err combines every item failure and the abort cause, or returns nil.
func (r *BodySyncReport) Err() error {
	if r == nil {
		return nil
	}
	var err error
	for i := range r.Failed {
		err = multierr.Append(err, &r.Failed[i])
	}
	return multierr.Append(err, r.Aborted)
}

// RepositoryReport summarizes the work done for one requested repository.
type RepositoryReport struct {
	Repository string

	Fetched       int
	PullRequests  int // pull requests dropped by policy
	PlannedCreate int
	PlannedUpdate int

	// Invalid lists fetched entries dropped before planning.
	Invalid []ItemError

	// DuplicateURLs lists planned creates suppressed because the same issue
	// URL was already created earlier in the session.
	DuplicateURLs []string

	Create *BatchReport
	Update *BatchReport
	Bodies *BodySyncReport

	// Err is set when the repository could not be processed at all.
	Err error

	Duration time.Duration
}

// Failures returns the number of isolated item failures.
func (r *RepositoryReport) Failures() int {
	n := len(r.Invalid)
	if r.Create != nil {
		n += len(r.Create.Failed)
	}
	if r.Update != nil {
		n += len(r.Update.Failed)
	}
	if r.Bodies != nil {
		n += len(r.Bodies.Failed)
	}
	return n
}

// SessionReport summarizes a whole session.
type SessionReport struct {
	StartedAt  time.Time
	FinishedAt time.Time

	IdentityMapSize int
	DryRun          bool

	Repositories []*RepositoryReport
}

// Created returns the number of records created across all repositories.
func (r *SessionReport) Created() int {
	n := 0
	for _, repo := range r.Repositories {
		if repo.Create != nil {
			n += len(repo.Create.Succeeded)
		}
	}
	return n
}

// Updated returns the number of records whose properties were updated.
func (r *SessionReport) Updated() int {
	n := 0
	for _, repo := range r.Repositories {
		if repo.Update != nil {
			n += len(repo.Update.Succeeded)
		}
	}
	return n
}

// BodiesSynced returns the number of body blocks overwritten.
func (r *SessionReport) BodiesSynced() int {
	n := 0
	for _, repo := range r.Repositories {
		if repo.Bodies != nil {
			n += len(repo.Bodies.Updated)
		}
	}
	return n
}

// Failed returns item failures plus repositories that failed outright.
func (r *SessionReport) Failed() int {
	n := 0
	for _, repo := range r.Repositories {
		n += repo.Failures()
		if repo.Err != nil {
			n++
		}
	}
	return n
}

// HasFailures reports whether anything in the session failed.
func (r *SessionReport) HasFailures() bool {
	return r.Failed() > 0
}

// Duration returns the wall time of the session.
func (r *SessionReport) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}
