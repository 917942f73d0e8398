// Package reconcile implements the tracker-to-destination reconciliation engine.
//
// # Overview
//
// A session keeps one destination record per tracker issue, keyed by the
// issue's URL. Each run rebuilds its view of the destination, works out what
// is new and what already exists, and writes the difference:
//
//	destination scan ──► IdentityMap (issue URL → record ID, built once)
//	                          │
//	tracker fetch ──► issues ─┴─► BuildPlan ──► ToCreate ──► Executor.CreateAll
//	                                        └─► ToUpdate ──► Executor.UpdateAll
//	                                                     └─► BodySyncer.SyncBodies
//
// # Usage
//
//	session := reconcile.NewSession(githubClient, notionClient, reconcile.SessionConfig{
//	    BatchSize:    10,
//	    PullRequests: reconcile.PullRequestsInclude,
//	}, logger, reporter)
//
//	report, err := session.Run(ctx, []string{"api", "web"})
//	if err != nil {
//	    return err // identity map could not be built
//	}
//	if report.HasFailures() {
//	    // individual writes failed; see report.Repositories[i].Create.Failed etc.
//	}
//
// # Identity
//
// The identity map is built exactly once per session, before any repository
// is processed, and is shared read-only by every repository in the session.
// Records created during the session are not written back into it. Running
// two sessions concurrently against the same destination can therefore
// create duplicates; callers serialize sessions (see package runlock).
//
// # Batching
//
// Creates and updates are issued in batches of BatchSize. Writes within a
// batch run concurrently; the next batch starts only after every write of the
// current batch has settled. Failures are best-effort: a failed write is
// reported as an ItemError and the rest of the batch proceeds.
//
// # Error Handling
//
//   - Identity map failures are fatal to the session (ErrSourceUnavailable).
//   - A repository whose issues cannot be fetched is skipped and reported.
//   - Create, update and body sync failures are isolated per issue.
//   - Timeouts match ErrRemoteTimeout in addition to their operation's error.
package reconcile
