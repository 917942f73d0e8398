package types

// Property names of the destination schema. These are the contract surface
// with the destination store and must match its column names exactly.
const (
	PropName         = "Name"
	PropIssueNumber  = "Issue Number"
	PropState        = "State"
	PropCommentCount = "Number of Comments"
	PropIssueURL     = "Issue URL"
	PropRepository   = "Repository"
	PropMilestone    = "Milestone"
	PropStatus       = "Status"
	PropPullRequest  = "Pull Request"
)

// Properties is the structured property set written to a destination record.
// Extended fields are nil unless extended properties are enabled.
type Properties struct {
	Name         string
	IssueNumber  int
	State        IssueState
	CommentCount int
	IssueURL     string
	Repository   string

	Milestone   *string
	Status      *string
	PullRequest *string
}

// PropertiesFromIssue maps an issue onto the fixed destination schema.
// The body is never part of the property set.
func PropertiesFromIssue(issue *Issue, extended bool) Properties {
	p := Properties{
		Name:         issue.Title,
		IssueNumber:  issue.Number,
		State:        issue.State,
		CommentCount: issue.CommentCount,
		IssueURL:     issue.URL,
		Repository:   issue.Repository,
	}
	if extended {
		p.Milestone = issue.Milestone
		p.Status = issue.Status
		p.PullRequest = issue.PullRequest
	}
	return p
}
