// Package types defines the records exchanged between the issue tracker,
// the reconciliation engine and the destination store.
package types

import (
	"fmt"
	"strings"
)

// IssueState is the tracker-side lifecycle state of an issue.
type IssueState string

const (
	StateOpen   IssueState = "open"
	StateClosed IssueState = "closed"
)

// IsValid reports whether s is a state the tracker can return.
func (s IssueState) IsValid() bool {
	switch s {
	case StateOpen, StateClosed:
		return true
	}
	return false
}

// Issue is a single tracker entry as fetched for one run.
// Issue values are recomputed on every run and never persisted as-is.
type Issue struct {
	// ===== Identity =====
	Number int    `json:"number"`
	URL    string `json:"url"` // html_url, the natural key across runs

	// ===== Content =====
	Title        string     `json:"title"`
	State        IssueState `json:"state"`
	CommentCount int        `json:"comment_count"`
	Body         *string    `json:"body,omitempty"`

	// ===== Classification =====
	// Repository is derived from the issue's own repository reference,
	// not from the repository name that was requested.
	Repository string   `json:"repository"`
	Status     *string  `json:"status,omitempty"` // first label name
	Labels     []string `json:"labels,omitempty"`
	Milestone  *string  `json:"milestone,omitempty"`

	// PullRequest is the pull request API URL when the entry is a pull
	// request listed through the issues endpoint; nil for plain issues.
	PullRequest *string `json:"pull_request,omitempty"`
}

// IsPullRequest reports whether the entry is a pull request.
func (i *Issue) IsPullRequest() bool {
	return i.PullRequest != nil && *i.PullRequest != ""
}

// BodyText returns the body, or "" when the tracker returned none.
func (i *Issue) BodyText() string {
	if i.Body == nil {
		return ""
	}
	return *i.Body
}

// Validate checks the fields the destination schema depends on.
func (i *Issue) Validate() error {
	if strings.TrimSpace(i.URL) == "" {
		return fmt.Errorf("url is required")
	}
	if i.Number <= 0 {
		return fmt.Errorf("number must be positive (got %d)", i.Number)
	}
	if !i.State.IsValid() {
		return fmt.Errorf("invalid state %q", i.State)
	}
	if i.CommentCount < 0 {
		return fmt.Errorf("comment count must not be negative (got %d)", i.CommentCount)
	}
	return nil
}

// DestinationRecord is the minimal projection of a destination record the
// engine needs: its opaque identifier and the issue URL it mirrors.
type DestinationRecord struct {
	RecordID string `json:"record_id"`
	IssueURL string `json:"issue_url"`
}

// PlannedUpdate is an issue that already has a destination record.
type PlannedUpdate struct {
	Issue
	RecordID string `json:"record_id"`
}

// Block is a content block of a destination record.
type Block struct {
	ID   string `json:"id"`
	Type string `json:"type,omitempty"`
}

// StringOrNone formats an optional field for log output.
func StringOrNone(s *string) string {
	if s == nil {
		return "<none>"
	}
	return *s
}

// StringPtr returns a pointer to s, or nil when s is empty.
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
