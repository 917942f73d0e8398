package reconcile

import (
	"fmt"
	"strings"

	"github.com/mschirtzinger/issuesync/internal/types"
)

// Plan is the partition of a fetched issue list into records to create and
// records to update.
type Plan struct {
	ToCreate []types.Issue
	ToUpdate []types.PlannedUpdate
}

// BuildPlan partitions issues against the identity map.
//
// It is a pure function: every issue lands in exactly one of the two lists,
// and both lists keep the relative order of the input.
func BuildPlan(issues []types.Issue, m *IdentityMap) Plan {
	var plan Plan
	for _, issue := range issues {
		if recordID, ok := m.Lookup(issue.URL); ok {
			plan.ToUpdate = append(plan.ToUpdate, types.PlannedUpdate{
				Issue:    issue,
				RecordID: recordID,
			})
			continue
		}
		plan.ToCreate = append(plan.ToCreate, issue)
	}
	return plan
}

// PullRequestPolicy decides whether pull requests listed by the tracker's
// issues endpoint are synced.
type PullRequestPolicy string

const (
	PullRequestsInclude PullRequestPolicy = "include"
	PullRequestsExclude PullRequestPolicy = "exclude"
)

// ParsePullRequestPolicy accepts "include" or "exclude"; "" means include.
func ParsePullRequestPolicy(s string) (PullRequestPolicy, error) {
	switch PullRequestPolicy(strings.ToLower(strings.TrimSpace(s))) {
	case "", PullRequestsInclude:
		return PullRequestsInclude, nil
	case PullRequestsExclude:
		return PullRequestsExclude, nil
	}
	return "", fmt.Errorf("invalid pull request policy %q (want include or exclude)", s)
}

// FilterPullRequests applies policy, keeping input order. It returns the
// kept issues and the number dropped.
func FilterPullRequests(issues []types.Issue, policy PullRequestPolicy) ([]types.Issue, int) {
	if policy != PullRequestsExclude {
		return issues, 0
	}
	kept := make([]types.Issue, 0, len(issues))
	for _, issue := range issues {
		if issue.IsPullRequest() {
			continue
		}
		kept = append(kept, issue)
	}
	return kept, len(issues) - len(kept)
}
