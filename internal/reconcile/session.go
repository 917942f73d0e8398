package reconcile

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/mschirtzinger/issuesync/internal/types"
)

// SessionConfig holds the tunables of one sync session.
type SessionConfig struct {
	BatchSize          int
	BlockPageSize      int
	PullRequests       PullRequestPolicy
	ExtendedProperties bool

	// PullRequestOverrides replaces PullRequests for the named repositories.
	PullRequestOverrides map[string]PullRequestPolicy

	Retry RetryPolicy

	// DryRun plans every repository but issues no writes.
	DryRun bool
}

// Session runs one reconciliation across a list of repositories.
type Session struct {
	source   IssueSource
	store    DestinationStore
	config   SessionConfig
	logger   *log.Logger
	reporter Reporter

	executor *Executor
	bodies   *BodySyncer
}

// NewSession wires a session. A nil logger writes to stderr; a nil reporter
// discards events.
func NewSession(source IssueSource, store DestinationStore, config SessionConfig, logger *log.Logger, reporter Reporter) *Session {
	if logger == nil {
		logger = log.New(os.Stderr, "[sync] ", log.LstdFlags)
	}
	if reporter == nil {
		reporter = NopReporter{}
	}
	if config.Retry.MaxAttempts == 0 {
		config.Retry = NoRetry
	}

	return &Session{
		source:   source,
		store:    store,
		config:   config,
		logger:   logger,
		reporter: reporter,
		executor: NewExecutor(store, ExecutorConfig{
			BatchSize:          config.BatchSize,
			ExtendedProperties: config.ExtendedProperties,
			Retry:              config.Retry,
		}, logger, reporter),
		bodies: NewBodySyncer(store, config.BlockPageSize, config.Retry, logger, reporter),
	}
}

// Run builds the identity map once and then processes each repository in
// order: fetch, plan, create, update, body sync.
//
// Repositories run strictly one after another against the same map. A
// repository that cannot be fetched is recorded and skipped. The returned
// error is non-nil only when the session could not proceed at all; item
// failures are in the report.
func (s *Session) Run(ctx context.Context, repositories []string) (*SessionReport, error) {
	report := &SessionReport{
		StartedAt: time.Now(),
		DryRun:    s.config.DryRun,
	}

	err := s.run(ctx, repositories, report)
	report.FinishedAt = time.Now()
	s.reporter.SessionCompleted(report, err)

	if err != nil {
		return report, err
	}

	s.logger.Printf("Session complete in %v: %d created, %d updated, %d bodies, %d failed",
		report.Duration().Round(time.Millisecond), report.Created(), report.Updated(),
		report.BodiesSynced(), report.Failed())
	return report, nil
}

func (s *Session) run(ctx context.Context, repositories []string, report *SessionReport) error {
	s.logger.Printf("Building identity map from destination...")
	identity, err := BuildIdentityMap(ctx, s.store, s.logger)
	if err != nil {
		return fmt.Errorf("failed to build identity map: %w", err)
	}
	report.IdentityMapSize = identity.Len()

	// URLs created earlier in this session. The identity map stays as
	// scanned; this set only keeps a second create of the same URL from
	// going out before the next session's rescan.
	created := make(map[string]bool)

	for _, repository := range repositories {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("session interrupted before %s: %w", repository, err)
		}

		repoReport := s.syncRepository(ctx, repository, identity, created)
		report.Repositories = append(report.Repositories, repoReport)
		s.reporter.RepositoryCompleted(repoReport)
	}

	return nil
}

func (s *Session) syncRepository(ctx context.Context, repository string, identity *IdentityMap, created map[string]bool) *RepositoryReport {
	start := time.Now()
	rr := &RepositoryReport{Repository: repository}
	defer func() { rr.Duration = time.Since(start) }()

	s.reporter.RepositoryStarted(repository)
	s.logger.Printf("Fetching issues from %s...", repository)

	issues, err := s.source.FetchIssues(ctx, repository)
	if err != nil {
		rr.Err = fmt.Errorf("failed to fetch issues for %s: %w", repository, err)
		s.logger.Printf("ERROR: %v", rr.Err)
		return rr
	}
	rr.Fetched = len(issues)
	s.logger.Printf("Fetched %d issues from %s", len(issues), repository)

	issues = s.dropInvalid(issues, rr)

	policy := s.config.PullRequests
	if override, ok := s.config.PullRequestOverrides[repository]; ok {
		policy = override
	}
	issues, rr.PullRequests = FilterPullRequests(issues, policy)
	if rr.PullRequests > 0 {
		s.logger.Printf("Skipping %d pull requests (policy=%s)", rr.PullRequests, policy)
	}

	plan := BuildPlan(issues, identity)
	toCreate := s.dropSessionDuplicates(plan.ToCreate, created, rr)
	rr.PlannedCreate = len(toCreate)
	rr.PlannedUpdate = len(plan.ToUpdate)

	s.logger.Printf("%d new issues to create, %d issues to update", len(toCreate), len(plan.ToUpdate))

	if s.config.DryRun {
		s.logger.Printf("Dry run: no writes issued for %s", repository)
		return rr
	}

	rr.Create = s.executor.CreateAll(ctx, toCreate)
	for _, res := range rr.Create.Succeeded {
		created[res.IssueURL] = true
	}

	rr.Update = s.executor.UpdateAll(ctx, plan.ToUpdate)
	rr.Bodies = s.bodies.SyncBodies(ctx, plan.ToUpdate)

	s.logger.Printf("Repository %s synced: %d created, %d updated, %d bodies, %d failed",
		repository, len(rr.Create.Succeeded), len(rr.Update.Succeeded), len(rr.Bodies.Updated), rr.Failures())
	return rr
}

// dropInvalid removes entries that fail validation and reports each one as
// a fetch failure.
func (s *Session) dropInvalid(issues []types.Issue, rr *RepositoryReport) []types.Issue {
	out := issues[:0:0]
	for i := range issues {
		issue := &issues[i]
		if err := issue.Validate(); err != nil {
			failure := ItemError{
				Op:       OpFetch,
				IssueURL: issue.URL,
				Err:      fmt.Errorf("%w: #%d in %s: %w", ErrInvalidIssue, issue.Number, rr.Repository, err),
			}
			rr.Invalid = append(rr.Invalid, failure)
			s.logger.Printf("WARNING: %v", &failure)
			s.reporter.ItemFailed(&failure)
			continue
		}
		out = append(out, *issue)
	}
	return out
}

// dropSessionDuplicates removes creates whose URL was already created in this
// session or appears earlier in the same list.
func (s *Session) dropSessionDuplicates(toCreate []types.Issue, created map[string]bool, rr *RepositoryReport) []types.Issue {
	seen := make(map[string]bool, len(toCreate))
	out := make([]types.Issue, 0, len(toCreate))
	for _, issue := range toCreate {
		if created[issue.URL] || seen[issue.URL] {
			rr.DuplicateURLs = append(rr.DuplicateURLs, issue.URL)
			s.logger.Printf("Skipping duplicate create for %s", issue.URL)
			continue
		}
		seen[issue.URL] = true
		out = append(out, issue)
	}
	return out
}
