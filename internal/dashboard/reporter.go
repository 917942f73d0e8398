package dashboard

import (
	"log"
	"time"

	"github.com/mschirtzinger/issuesync/internal/reconcile"
	"github.com/mschirtzinger/issuesync/internal/types"
)

// RepositoryStartedData identifies the repository being synced
type RepositoryStartedData struct {
	Repository string `json:"repository"`
}

// BatchCompletedData describes one finished write batch
type BatchCompletedData struct {
	Op     reconcile.Op `json:"op"`
	Batch  int          `json:"batch"`
	Size   int          `json:"size"`
	Failed int          `json:"failed"`
}

// ItemFailedData carries what is needed to fix one failed write by hand
type ItemFailedData struct {
	Op       reconcile.Op `json:"op"`
	IssueURL string       `json:"issue_url"`
	RecordID string       `json:"record_id,omitempty"`
	Error    string       `json:"error"`
}

// RepositoryCompletedData summarizes one repository
type RepositoryCompletedData struct {
	Repository   string `json:"repository"`
	Fetched      int    `json:"fetched"`
	PullRequests int    `json:"pull_requests_skipped"`
	Created      int    `json:"created"`
	Updated      int    `json:"updated"`
	Bodies       int    `json:"bodies"`
	Failed       int    `json:"failed"`
	Error        string `json:"error,omitempty"`
	DurationMS   int64  `json:"duration_ms"`
}

// SessionCompletedData summarizes a whole session
type SessionCompletedData struct {
	StartedAt    time.Time `json:"started_at"`
	FinishedAt   time.Time `json:"finished_at"`
	Repositories []string  `json:"repositories"`
	Created      int       `json:"created"`
	Updated      int       `json:"updated"`
	Bodies       int       `json:"bodies"`
	Failed       int       `json:"failed"`
	DryRun       bool      `json:"dry_run,omitempty"`
	Error        string    `json:"error,omitempty"`
	DurationMS   int64     `json:"duration_ms"`
}

// Handler turns session events into dashboard messages.
type Handler struct {
	server *Server
	logger *log.Logger
}

var _ reconcile.Reporter = (*Handler)(nil)

// NewHandler creates an event handler connected to a dashboard server
func NewHandler(server *Server, logger *log.Logger) *Handler {
	if logger == nil {
		logger = log.Default()
	}
	return &Handler{server: server, logger: logger}
}

func (h *Handler) RepositoryStarted(repository string) {
	h.server.UpdateStatus(func(st *Status) {
		st.Running = true
		st.Repository = repository
	})
	h.broadcast(MessageTypeRepositoryStarted, RepositoryStartedData{Repository: repository})
}

func (h *Handler) BatchCompleted(op reconcile.Op, batch, size, failed int) {
	h.broadcast(MessageTypeBatchCompleted, BatchCompletedData{
		Op:     op,
		Batch:  batch,
		Size:   size,
		Failed: failed,
	})
}

// ItemSucceeded is not broadcast; batch messages already carry progress.
func (h *Handler) ItemSucceeded(reconcile.Op, *types.Issue, string) {}

func (h *Handler) ItemFailed(failure *reconcile.ItemError) {
	h.broadcast(MessageTypeItemFailed, ItemFailedData{
		Op:       failure.Op,
		IssueURL: failure.IssueURL,
		RecordID: failure.RecordID,
		Error:    errString(failure.Err),
	})
}

func (h *Handler) RepositoryCompleted(report *reconcile.RepositoryReport) {
	data := RepositoryCompletedData{
		Repository:   report.Repository,
		Fetched:      report.Fetched,
		PullRequests: report.PullRequests,
		Failed:       report.Failures(),
		Error:        errString(report.Err),
		DurationMS:   report.Duration.Milliseconds(),
	}
	if report.Create != nil {
		data.Created = len(report.Create.Succeeded)
	}
	if report.Update != nil {
		data.Updated = len(report.Update.Succeeded)
	}
	if report.Bodies != nil {
		data.Bodies = len(report.Bodies.Updated)
	}
	h.broadcast(MessageTypeRepositoryCompleted, data)
}

func (h *Handler) SessionCompleted(report *reconcile.SessionReport, err error) {
	data := SessionCompletedData{Error: errString(err)}
	if report != nil {
		data.StartedAt = report.StartedAt
		data.FinishedAt = report.FinishedAt
		data.Created = report.Created()
		data.Updated = report.Updated()
		data.Bodies = report.BodiesSynced()
		data.Failed = report.Failed()
		data.DryRun = report.DryRun
		data.DurationMS = report.Duration().Milliseconds()
		data.Repositories = make([]string, 0, len(report.Repositories))
		for _, repo := range report.Repositories {
			data.Repositories = append(data.Repositories, repo.Repository)
		}
	}

	h.logger.Printf("Session complete: %d created, %d updated, %d bodies, %d failed",
		data.Created, data.Updated, data.Bodies, data.Failed)

	h.server.UpdateStatus(func(st *Status) {
		st.Running = false
		st.Repository = ""
		st.Sessions++
		st.LastSession = &data
	})
	h.broadcast(MessageTypeSessionCompleted, data)
}

func (h *Handler) broadcast(typ MessageType, data any) {
	msg, err := newMessage(typ, data)
	if err != nil {
		h.logger.Printf("%v", err)
		return
	}
	h.server.Broadcast(msg)
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
