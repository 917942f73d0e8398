package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/mschirtzinger/issuesync/internal/config"
	"github.com/mschirtzinger/issuesync/internal/github"
	"github.com/mschirtzinger/issuesync/internal/notion"
	"github.com/mschirtzinger/issuesync/internal/reconcile"
	"github.com/mschirtzinger/issuesync/internal/runlock"
	"github.com/mschirtzinger/issuesync/internal/ui"
)

// newSession wires the GitHub source and Notion store for one session.
func newSession(c *config.Config, targets *config.Targets, dryRun bool, reporter reconcile.Reporter) (*reconcile.Session, error) {
	since, err := c.SinceTime(time.Now())
	if err != nil {
		return nil, err
	}
	policy, err := reconcile.ParsePullRequestPolicy(c.Sync.PullRequests)
	if err != nil {
		return nil, err
	}
	retry := c.RetryPolicy()

	source := github.NewClient(github.Config{
		BaseURL: c.GitHub.BaseURL,
		Token:   c.GitHub.Token,
		Owner:   c.GitHub.Owner,
		Since:   since,
		Timeout: c.Sync.Timeout,
		Retry:   retry,
		Logger:  newLogger("github"),
	}, nil)

	store := notion.NewClient(notion.Config{
		BaseURL:            c.Notion.BaseURL,
		Token:              c.Notion.Token,
		DatabaseID:         c.Notion.DatabaseID,
		ExtendedProperties: c.Sync.ExtendedProperties,
		Timeout:            c.Sync.Timeout,
		Retry:              retry,
		Logger:             newLogger("notion"),
	}, nil)

	return reconcile.NewSession(source, store, reconcile.SessionConfig{
		BatchSize:            c.Sync.BatchSize,
		PullRequests:         policy,
		ExtendedProperties:   c.Sync.ExtendedProperties,
		PullRequestOverrides: targets.Overrides,
		Retry:                retry,
		DryRun:               dryRun,
	}, newLogger("sync"), reporter), nil
}

// acquireLock takes the run lock, waiting up to wait when it is positive.
func acquireLock(ctx context.Context, path string, wait time.Duration) (*runlock.Lock, error) {
	if wait <= 0 {
		return runlock.Acquire(path)
	}
	ctx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()
	lock, err := runlock.AcquireContext(ctx, path, 250*time.Millisecond)
	if errors.Is(err, context.DeadlineExceeded) {
		return nil, fmt.Errorf("%w (waited %v)", runlock.ErrLocked, wait)
	}
	return lock, err
}

// printSessionReport writes a per-repository summary of a session.
func printSessionReport(w io.Writer, report *reconcile.SessionReport, err error) {
	if report == nil {
		return
	}

	header := "Sync complete"
	if report.DryRun {
		header = "Dry run complete"
	}
	switch {
	case err != nil:
		fmt.Fprintf(w, "\n%s Sync failed: %v\n", ui.RenderFail("✗"), err)
	case report.HasFailures():
		fmt.Fprintf(w, "\n%s %s with %d failures in %v\n", ui.RenderWarn("⚠"), header,
			report.Failed(), report.Duration().Round(time.Millisecond))
	default:
		fmt.Fprintf(w, "\n%s %s in %v\n", ui.RenderPass("✓"), header, report.Duration().Round(time.Millisecond))
	}

	for _, repo := range report.Repositories {
		fmt.Fprintf(w, "\n  %s\n", ui.RenderBold(repo.Repository))
		if repo.Err != nil {
			fmt.Fprintf(w, "    %s %v\n", ui.RenderFail("✗"), repo.Err)
			continue
		}

		pairs := []string{"Fetched", fmt.Sprint(repo.Fetched)}
		if repo.PullRequests > 0 {
			pairs = append(pairs, "Pull requests skipped", fmt.Sprint(repo.PullRequests))
		}
		if report.DryRun {
			pairs = append(pairs,
				"Would create", fmt.Sprint(repo.PlannedCreate),
				"Would update", fmt.Sprint(repo.PlannedUpdate))
		} else {
			pairs = append(pairs,
				"Created", fmt.Sprintf("%d/%d", succeeded(repo.Create), repo.PlannedCreate),
				"Updated", fmt.Sprintf("%d/%d", succeeded(repo.Update), repo.PlannedUpdate))
			if n := notAttempted(repo); n > 0 {
				pairs = append(pairs, "Not attempted", fmt.Sprint(n))
			}
			if repo.Bodies != nil {
				pairs = append(pairs, "Bodies", fmt.Sprint(len(repo.Bodies.Updated)))
				if n := len(repo.Bodies.Skipped); n > 0 {
					pairs = append(pairs, "Bodies skipped", fmt.Sprint(n))
				}
			}
		}
		if n := len(repo.DuplicateURLs); n > 0 {
			pairs = append(pairs, "Duplicates skipped", fmt.Sprint(n))
		}
		fmt.Fprint(w, ui.KeyValues(4, pairs...))

		for _, failure := range repoFailures(repo) {
			fmt.Fprintf(w, "    %s %v\n", ui.RenderFail("✗"), &failure)
		}
	}
	fmt.Fprintln(w)
}

func succeeded(r *reconcile.BatchReport) int {
	if r == nil {
		return 0
	}
	return len(r.Succeeded)
}

// notAttempted counts planned writes never issued because the session was
// interrupted.
func notAttempted(repo *reconcile.RepositoryReport) int {
	n := 0
	if repo.Create != nil {
		n += repo.PlannedCreate - repo.Create.Attempted()
	}
	if repo.Update != nil {
		n += repo.PlannedUpdate - repo.Update.Attempted()
	}
	return n
}

func repoFailures(repo *reconcile.RepositoryReport) []reconcile.ItemError {
	out := append([]reconcile.ItemError(nil), repo.Invalid...)
	if repo.Create != nil {
		out = append(out, repo.Create.Failed...)
	}
	if repo.Update != nil {
		out = append(out, repo.Update.Failed...)
	}
	if repo.Bodies != nil {
		out = append(out, repo.Bodies.Failed...)
	}
	return out
}
