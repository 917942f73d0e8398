package reconcile

import (
	"github.com/mschirtzinger/issuesync/internal/types"
)

// Reporter observes session progress.
//
// All methods are called from the goroutine running the session, never from
// the goroutines issuing writes inside a batch, so implementations do not
// need to synchronize against each other's calls.
type Reporter interface {
	RepositoryStarted(repository string)
	BatchCompleted(op Op, batch, size, failed int)
	ItemSucceeded(op Op, issue *types.Issue, recordID string)
	ItemFailed(failure *ItemError)
	RepositoryCompleted(report *RepositoryReport)
	SessionCompleted(report *SessionReport, err error)
}

// NopReporter ignores every event.
type NopReporter struct{}

func (NopReporter) RepositoryStarted(string)               {}
func (NopReporter) BatchCompleted(Op, int, int, int)       {}
func (NopReporter) ItemSucceeded(Op, *types.Issue, string) {}
func (NopReporter) ItemFailed(*ItemError)                  {}
func (NopReporter) RepositoryCompleted(*RepositoryReport)  {}
func (NopReporter) SessionCompleted(*SessionReport, error) {}

// MultiReporter fans every event out to each reporter in order.
type MultiReporter []Reporter

// NewMultiReporter drops nil entries.
func NewMultiReporter(reporters ...Reporter) MultiReporter {
	out := make(MultiReporter, 0, len(reporters))
	for _, r := range reporters {
		if r != nil {
			out = append(out, r)
		}
	}
	return out
}

func (m MultiReporter) RepositoryStarted(repository string) {
	for _, r := range m {
		r.RepositoryStarted(repository)
	}
}

func (m MultiReporter) BatchCompleted(op Op, batch, size, failed int) {
	for _, r := range m {
		r.BatchCompleted(op, batch, size, failed)
	}
}

func (m MultiReporter) ItemSucceeded(op Op, issue *types.Issue, recordID string) {
	for _, r := range m {
		r.ItemSucceeded(op, issue, recordID)
	}
}

func (m MultiReporter) ItemFailed(failure *ItemError) {
	for _, r := range m {
		r.ItemFailed(failure)
	}
}

func (m MultiReporter) RepositoryCompleted(report *RepositoryReport) {
	for _, r := range m {
		r.RepositoryCompleted(report)
	}
}

func (m MultiReporter) SessionCompleted(report *SessionReport, err error) {
	for _, r := range m {
		r.SessionCompleted(report, err)
	}
}
