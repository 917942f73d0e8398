package reconcile

import (
	"context"
	"fmt"
	"io"
	"log"
	"strconv"
	"sync"
	"time"

	"github.com/mschirtzinger/issuesync/internal/types"
)

// fakeStore is an in-memory destination with paging, failure injection and
// concurrency accounting.
type fakeStore struct {
	mu sync.Mutex

	pageSize int
	records  []types.DestinationRecord
	props    map[string]types.Properties
	blocks   map[string][]types.Block
	texts    map[string]string
	nextID   int

	listErr      error
	createErr    map[string]error // issue URL -> error
	updateErr    map[string]error // record ID -> error
	listBlockErr map[string]error // record ID -> error
	blockErr     map[string]error // block ID -> error
	writeDelay   time.Duration

	inFlight     int
	maxInFlight  int
	completed    int
	startedAfter map[string]int // issue URL -> writes completed when the write started
	createCalls  int
	updateCalls  int
	listCalls    int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		pageSize:     100,
		props:        make(map[string]types.Properties),
		blocks:       make(map[string][]types.Block),
		texts:        make(map[string]string),
		createErr:    make(map[string]error),
		updateErr:    make(map[string]error),
		listBlockErr: make(map[string]error),
		blockErr:     make(map[string]error),
		startedAfter: make(map[string]int),
	}
}

// seed adds an existing record for url and returns its ID.
func (f *fakeStore) seed(url string, blockIDs ...string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	id := "rec-" + strconv.Itoa(f.nextID)
	f.records = append(f.records, types.DestinationRecord{RecordID: id, IssueURL: url})
	for _, b := range blockIDs {
		f.blocks[id] = append(f.blocks[id], types.Block{ID: b, Type: "paragraph"})
	}
	return id
}

func (f *fakeStore) ListDestinationRecords(_ context.Context, cursor string) (*RecordPage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls++
	if f.listErr != nil {
		return nil, f.listErr
	}

	start := 0
	if cursor != "" {
		n, err := strconv.Atoi(cursor)
		if err != nil {
			return nil, fmt.Errorf("bad cursor %q", cursor)
		}
		start = n
	}
	end := min(start+f.pageSize, len(f.records))

	page := &RecordPage{Records: append([]types.DestinationRecord(nil), f.records[start:end]...)}
	if end < len(f.records) {
		page.NextCursor = strconv.Itoa(end)
	}
	return page, nil
}

func (f *fakeStore) begin(url string) {
	f.mu.Lock()
	f.inFlight++
	f.maxInFlight = max(f.maxInFlight, f.inFlight)
	f.startedAfter[url] = f.completed
	f.mu.Unlock()

	if f.writeDelay > 0 {
		time.Sleep(f.writeDelay)
	}
}

func (f *fakeStore) end() {
	f.inFlight--
	f.completed++
}

func (f *fakeStore) CreateRecord(_ context.Context, props types.Properties, initialBody string) (string, error) {
	f.begin(props.IssueURL)

	f.mu.Lock()
	defer f.mu.Unlock()
	defer f.end()
	f.createCalls++

	if err := f.createErr[props.IssueURL]; err != nil {
		return "", err
	}

	f.nextID++
	id := "rec-" + strconv.Itoa(f.nextID)
	f.records = append(f.records, types.DestinationRecord{RecordID: id, IssueURL: props.IssueURL})
	f.props[id] = props
	blockID := id + "-body"
	f.blocks[id] = []types.Block{{ID: blockID, Type: "paragraph"}}
	f.texts[blockID] = initialBody
	return id, nil
}

func (f *fakeStore) UpdateRecordProperties(_ context.Context, recordID string, props types.Properties) error {
	f.begin(props.IssueURL)

	f.mu.Lock()
	defer f.mu.Unlock()
	defer f.end()
	f.updateCalls++

	if err := f.updateErr[recordID]; err != nil {
		return err
	}
	f.props[recordID] = props
	return nil
}

func (f *fakeStore) ListRecordBlocks(_ context.Context, recordID string, pageSize int) ([]types.Block, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.listBlockErr[recordID]; err != nil {
		return nil, err
	}
	blocks := f.blocks[recordID]
	if len(blocks) > pageSize {
		blocks = blocks[:pageSize]
	}
	return append([]types.Block(nil), blocks...), nil
}

func (f *fakeStore) UpdateBlockText(_ context.Context, blockID, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.blockErr[blockID]; err != nil {
		return err
	}
	f.texts[blockID] = text
	return nil
}

func (f *fakeStore) recordCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.records)
}

// fakeSource serves canned issues per repository.
type fakeSource struct {
	mu      sync.Mutex
	issues  map[string][]types.Issue
	errs    map[string]error
	fetched []string
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		issues: make(map[string][]types.Issue),
		errs:   make(map[string]error),
	}
}

func (s *fakeSource) FetchIssues(_ context.Context, repository string) ([]types.Issue, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fetched = append(s.fetched, repository)
	if err := s.errs[repository]; err != nil {
		return nil, err
	}
	return append([]types.Issue(nil), s.issues[repository]...), nil
}

// recordingReporter captures events for assertions.
type recordingReporter struct {
	NopReporter
	started   []string
	batches   []string
	succeeded []string
	failed    []string
	completed []string
	sessions  int
}

func (r *recordingReporter) RepositoryStarted(repository string) {
	r.started = append(r.started, repository)
}

func (r *recordingReporter) BatchCompleted(op Op, batch, size, failed int) {
	r.batches = append(r.batches, fmt.Sprintf("%s#%d:%d/%d", op, batch, size, failed))
}

func (r *recordingReporter) ItemSucceeded(op Op, issue *types.Issue, recordID string) {
	r.succeeded = append(r.succeeded, string(op)+" "+issue.URL)
}

func (r *recordingReporter) ItemFailed(failure *ItemError) {
	r.failed = append(r.failed, string(failure.Op)+" "+failure.IssueURL)
}

func (r *recordingReporter) RepositoryCompleted(report *RepositoryReport) {
	r.completed = append(r.completed, report.Repository)
}

func (r *recordingReporter) SessionCompleted(*SessionReport, error) {
	r.sessions++
}

// issue builds a test issue for repo/number.
func issue(repo string, number int) types.Issue {
	body := fmt.Sprintf("body of %s#%d", repo, number)
	return types.Issue{
		Number:       number,
		Title:        fmt.Sprintf("Issue %d", number),
		State:        types.StateOpen,
		CommentCount: number % 3,
		URL:          fmt.Sprintf("https://github.com/acme/%s/issues/%d", repo, number),
		Body:         &body,
		Repository:   repo,
	}
}

func issues(repo string, n int) []types.Issue {
	out := make([]types.Issue, n)
	for i := range out {
		out[i] = issue(repo, i+1)
	}
	return out
}

func quietLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

// timeoutErr satisfies net.Error with Timeout() == true.
type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

// transientErr is retryable through the Transient interface.
type transientErr struct{ code int }

func (e transientErr) Error() string   { return fmt.Sprintf("status %d", e.code) }
func (e transientErr) Transient() bool { return e.code == 429 || e.code == 409 || e.code >= 500 }
func (e transientErr) Ambiguous() bool { return e.code == 409 || e.code == 504 }
