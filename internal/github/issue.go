package github

import (
	"strings"

	"github.com/mschirtzinger/issuesync/internal/types"
)

// githubIssue is the subset of the issues API payload the sync uses.
type githubIssue struct {
	Number        int     `json:"number"`
	Title         string  `json:"title"`
	State         string  `json:"state"`
	Comments      int     `json:"comments"`
	HTMLURL       string  `json:"html_url"`
	Body          *string `json:"body"`
	RepositoryURL string  `json:"repository_url"`
	Labels        []struct {
		Name string `json:"name"`
	} `json:"labels"`
	Milestone *struct {
		Title string `json:"title"`
	} `json:"milestone"`
	PullRequest *struct {
		URL string `json:"url"`
	} `json:"pull_request"`
}

// toIssue converts the payload. fallbackRepo is used only when the payload
// carries no repository reference.
func (g *githubIssue) toIssue(fallbackRepo string) types.Issue {
	issue := types.Issue{
		Number:       g.Number,
		Title:        g.Title,
		State:        types.IssueState(g.State),
		CommentCount: g.Comments,
		URL:          g.HTMLURL,
		Body:         g.Body,
		Repository:   repositoryName(g.RepositoryURL, fallbackRepo),
	}

	for _, label := range g.Labels {
		if label.Name != "" {
			issue.Labels = append(issue.Labels, label.Name)
		}
	}
	if len(issue.Labels) > 0 {
		issue.Status = types.StringPtr(issue.Labels[0])
	}
	if g.Milestone != nil {
		issue.Milestone = types.StringPtr(g.Milestone.Title)
	}
	if g.PullRequest != nil {
		issue.PullRequest = types.StringPtr(g.PullRequest.URL)
	}

	return issue
}

// repositoryName returns the last path segment of the issue's repository
// API URL, which stays correct across renames and redirects.
func repositoryName(repositoryURL, fallback string) string {
	trimmed := strings.TrimRight(repositoryURL, "/")
	if i := strings.LastIndex(trimmed, "/"); i >= 0 && i < len(trimmed)-1 {
		return trimmed[i+1:]
	}
	return fallback
}
