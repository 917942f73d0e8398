package reconcile

import (
	"context"
	"log"
	"os"

	"github.com/mschirtzinger/issuesync/internal/types"
)

// DefaultBlockPageSize is how many content blocks are listed per record.
const DefaultBlockPageSize = 100

// BodySyncer refreshes the body text of records that already existed.
//
// Body content is not part of the property update path, so it gets its own
// pass. For each record the last block of the listing is overwritten with the
// issue's current body; earlier blocks are left alone and nothing is
// appended. Records are processed one at a time.
type BodySyncer struct {
	blocks   BlockStore
	pageSize int
	retry    RetryPolicy
	logger   *log.Logger
	reporter Reporter
}

// NewBodySyncer creates a body syncer. pageSize <= 0 uses DefaultBlockPageSize.
func NewBodySyncer(blocks BlockStore, pageSize int, retry RetryPolicy, logger *log.Logger, reporter Reporter) *BodySyncer {
	if pageSize <= 0 {
		pageSize = DefaultBlockPageSize
	}
	if logger == nil {
		logger = log.New(os.Stderr, "[sync] ", log.LstdFlags)
	}
	if reporter == nil {
		reporter = NopReporter{}
	}
	return &BodySyncer{
		blocks:   blocks,
		pageSize: pageSize,
		retry:    retry,
		logger:   logger,
		reporter: reporter,
	}
}

// LastBlock returns the final block of an ordered listing.
func LastBlock(blocks []types.Block) (types.Block, bool) {
	if len(blocks) == 0 {
		return types.Block{}, false
	}
	return blocks[len(blocks)-1], true
}

// SyncBodies overwrites the target block of each record with its issue body.
// A failure on one record is reported and the pass moves on.
func (b *BodySyncer) SyncBodies(ctx context.Context, updates []types.PlannedUpdate) *BodySyncReport {
	report := &BodySyncReport{}

	for i := range updates {
		upd := &updates[i]

		if err := ctx.Err(); err != nil {
			report.Aborted = err
			b.logger.Printf("Body sync aborted after %d of %d records: %v", i, len(updates), err)
			break
		}

		var blocks []types.Block
		err := b.retry.Do(ctx, func() error {
			var err error
			blocks, err = b.blocks.ListRecordBlocks(ctx, upd.RecordID, b.pageSize)
			return err
		})
		if err != nil {
			b.fail(report, ItemError{Op: OpListBlocks, IssueURL: upd.URL, RecordID: upd.RecordID, Err: err})
			continue
		}

		target, ok := LastBlock(blocks)
		if !ok {
			b.logger.Printf("No content block to overwrite for %s (record %s), skipping", upd.URL, upd.RecordID)
			report.Skipped = append(report.Skipped, upd.URL)
			continue
		}

		body := upd.BodyText()
		err = b.retry.Do(ctx, func() error {
			return b.blocks.UpdateBlockText(ctx, target.ID, body)
		})
		if err != nil {
			b.fail(report, ItemError{Op: OpUpdateBlock, IssueURL: upd.URL, RecordID: upd.RecordID, Err: err})
			continue
		}

		report.Updated = append(report.Updated, ItemResult{IssueURL: upd.URL, RecordID: upd.RecordID})
		b.reporter.ItemSucceeded(OpUpdateBlock, &upd.Issue, upd.RecordID)
	}

	b.logger.Printf("Body sync complete: %d updated, %d skipped, %d failed",
		len(report.Updated), len(report.Skipped), len(report.Failed))

	return report
}

func (b *BodySyncer) fail(report *BodySyncReport, failure ItemError) {
	report.Failed = append(report.Failed, failure)
	b.logger.Printf("WARNING: %v", &failure)
	b.reporter.ItemFailed(&failure)
}
