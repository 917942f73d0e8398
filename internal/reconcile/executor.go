package reconcile

import (
	"context"
	"log"
	"os"

	"github.com/sourcegraph/conc/pool"

	"github.com/mschirtzinger/issuesync/internal/types"
)

// DefaultBatchSize is the number of writes issued concurrently per batch.
const DefaultBatchSize = 10

// ExecutorConfig configures the batch write executor.
type ExecutorConfig struct {
	// BatchSize bounds the number of concurrent writes (default 10).
	BatchSize int

	// ExtendedProperties also writes milestone, status and pull request.
	ExtendedProperties bool

	// Retry wraps every single write.
	Retry RetryPolicy
}

// Executor applies creates and updates in fixed-size batches.
//
// Writes inside a batch run concurrently and may complete in any order.
// Batch k+1 is not started until every write of batch k has settled. A
// failed write is recorded and does not stop the rest of its batch.
type Executor struct {
	store    RecordWriter
	config   ExecutorConfig
	logger   *log.Logger
	reporter Reporter
}

// NewExecutor creates an executor writing to store.
// A nil logger writes to stderr; a nil reporter discards events.
func NewExecutor(store RecordWriter, config ExecutorConfig, logger *log.Logger, reporter Reporter) *Executor {
	if config.BatchSize <= 0 {
		config.BatchSize = DefaultBatchSize
	}
	if logger == nil {
		logger = log.New(os.Stderr, "[sync] ", log.LstdFlags)
	}
	if reporter == nil {
		reporter = NopReporter{}
	}
	return &Executor{
		store:    store,
		config:   config,
		logger:   logger,
		reporter: reporter,
	}
}

// Chunk splits items into consecutive slices of at most size elements.
// The final slice holds the remainder.
func Chunk[T any](items []T, size int) [][]T {
	if size <= 0 {
		size = DefaultBatchSize
	}
	chunks := make([][]T, 0, (len(items)+size-1)/size)
	for start := 0; start < len(items); start += size {
		end := min(start+size, len(items))
		chunks = append(chunks, items[start:end:end])
	}
	return chunks
}

// writeResult is the outcome of one write slot in a batch.
type writeResult struct {
	recordID string
	err      error
}

// runBatch issues write for every item concurrently and waits for all of them.
// Results are indexed like batch.
func runBatch[T any](ctx context.Context, batch []T, write func(context.Context, *T) (string, error)) []writeResult {
	results := make([]writeResult, len(batch))
	p := pool.New().WithMaxGoroutines(len(batch))
	for i := range batch {
		p.Go(func() {
			id, err := write(ctx, &batch[i])
			results[i] = writeResult{recordID: id, err: err}
		})
	}
	p.Wait()
	return results
}

// CreateAll creates a destination record for every issue.
// The identity map is not updated.
func (e *Executor) CreateAll(ctx context.Context, issues []types.Issue) *BatchReport {
	report := &BatchReport{Op: OpCreate}
	batches := Chunk(issues, e.config.BatchSize)

	for n, batch := range batches {
		if err := ctx.Err(); err != nil {
			report.Aborted = err
			e.logger.Printf("Create aborted before batch %d/%d: %v", n+1, len(batches), err)
			break
		}

		results := runBatch(ctx, batch, e.createOne)

		failed := 0
		for i, res := range results {
			issue := &batch[i]
			if res.err != nil {
				failed++
				e.fail(report, ItemError{Op: OpCreate, IssueURL: issue.URL, Err: res.err})
				continue
			}
			report.Succeeded = append(report.Succeeded, ItemResult{IssueURL: issue.URL, RecordID: res.recordID})
			e.reporter.ItemSucceeded(OpCreate, issue, res.recordID)
		}
		report.BatchSizes = append(report.BatchSizes, len(batch))

		e.logger.Printf("Completed create batch %d/%d: %d issues (%d failed)", n+1, len(batches), len(batch), failed)
		e.reporter.BatchCompleted(OpCreate, n+1, len(batch), failed)
	}

	return report
}

func (e *Executor) createOne(ctx context.Context, issue *types.Issue) (string, error) {
	props := types.PropertiesFromIssue(issue, e.config.ExtendedProperties)
	var recordID string
	err := e.config.Retry.DoNonIdempotent(ctx, func() error {
		id, err := e.store.CreateRecord(ctx, props, issue.BodyText())
		if err != nil {
			return err
		}
		recordID = id
		return nil
	})
	if MayHaveApplied(err) {
		e.logger.Printf("Create for %s may have been applied; the next session will find the record", issue.URL)
	}
	return recordID, err
}

// UpdateAll overwrites the structured properties of every planned update.
// Body content is left to the body sync pass.
func (e *Executor) UpdateAll(ctx context.Context, updates []types.PlannedUpdate) *BatchReport {
	report := &BatchReport{Op: OpUpdate}
	batches := Chunk(updates, e.config.BatchSize)

	for n, batch := range batches {
		if err := ctx.Err(); err != nil {
			report.Aborted = err
			e.logger.Printf("Update aborted before batch %d/%d: %v", n+1, len(batches), err)
			break
		}

		results := runBatch(ctx, batch, e.updateOne)

		failed := 0
		for i, res := range results {
			upd := &batch[i]
			if res.err != nil {
				failed++
				e.fail(report, ItemError{Op: OpUpdate, IssueURL: upd.URL, RecordID: upd.RecordID, Err: res.err})
				continue
			}
			report.Succeeded = append(report.Succeeded, ItemResult{IssueURL: upd.URL, RecordID: upd.RecordID})
			e.reporter.ItemSucceeded(OpUpdate, &upd.Issue, upd.RecordID)
		}
		report.BatchSizes = append(report.BatchSizes, len(batch))

		e.logger.Printf("Completed update batch %d/%d: %d issues (%d failed)", n+1, len(batches), len(batch), failed)
		e.reporter.BatchCompleted(OpUpdate, n+1, len(batch), failed)
	}

	return report
}

func (e *Executor) updateOne(ctx context.Context, upd *types.PlannedUpdate) (string, error) {
	props := types.PropertiesFromIssue(&upd.Issue, e.config.ExtendedProperties)
	err := e.config.Retry.Do(ctx, func() error {
		return e.store.UpdateRecordProperties(ctx, upd.RecordID, props)
	})
	return upd.RecordID, err
}

func (e *Executor) fail(report *BatchReport, failure ItemError) {
	report.Failed = append(report.Failed, failure)
	e.logger.Printf("WARNING: %v", &failure)
	e.reporter.ItemFailed(&failure)
}
