package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIssueState_IsValid(t *testing.T) {
	t.Parallel()
	assert.True(t, StateOpen.IsValid())
	assert.True(t, StateClosed.IsValid())
	assert.False(t, IssueState("").IsValid())
	assert.False(t, IssueState("merged").IsValid())
}

func TestIssue_Validate(t *testing.T) {
	t.Parallel()
	valid := func() Issue {
		return Issue{Number: 7, URL: "https://github.com/acme/api/issues/7", State: StateOpen, CommentCount: 1}
	}

	ok := valid()
	assert.NoError(t, ok.Validate())

	tests := map[string]struct {
		mutate func(*Issue)
		want   string
	}{
		"missing url":       {func(i *Issue) { i.URL = "  " }, "url is required"},
		"zero number":       {func(i *Issue) { i.Number = 0 }, "number must be positive"},
		"unknown state":     {func(i *Issue) { i.State = "draft" }, `invalid state "draft"`},
		"negative comments": {func(i *Issue) { i.CommentCount = -1 }, "comment count"},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			issue := valid()
			tt.mutate(&issue)
			assert.ErrorContains(t, issue.Validate(), tt.want)
		})
	}
}

func TestPropertiesFromIssue_Extended(t *testing.T) {
	t.Parallel()
	milestone, status, pr := "v2", "bug", "https://api.github.com/repos/acme/api/pulls/7"
	issue := &Issue{Number: 7, Title: "T", State: StateOpen, URL: "u", Repository: "api",
		Milestone: &milestone, Status: &status, PullRequest: &pr}

	basic := PropertiesFromIssue(issue, false)
	assert.Nil(t, basic.Milestone)
	assert.Nil(t, basic.Status)
	assert.Nil(t, basic.PullRequest)

	extended := PropertiesFromIssue(issue, true)
	assert.Equal(t, &milestone, extended.Milestone)
	assert.Equal(t, &status, extended.Status)
	assert.Equal(t, &pr, extended.PullRequest)
}
