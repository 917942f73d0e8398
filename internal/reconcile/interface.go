package reconcile

import (
	"context"

	"github.com/mschirtzinger/issuesync/internal/types"
)

// RecordPage is one page of a destination record scan.
// An empty NextCursor ends the scan.
type RecordPage struct {
	Records    []types.DestinationRecord
	NextCursor string
}

// RecordLister pages through every record in the destination collection.
type RecordLister interface {
	ListDestinationRecords(ctx context.Context, cursor string) (*RecordPage, error)
}

// IssueSource supplies the complete issue list of one tracker repository.
//
// The returned slice is fully de-paginated. Pull requests are included and
// tagged through Issue.PullRequest.
type IssueSource interface {
	FetchIssues(ctx context.Context, repository string) ([]types.Issue, error)
}

// RecordWriter creates and updates destination records.
type RecordWriter interface {
	// CreateRecord creates a record with the given properties and a single
	// initial body block, returning the store-assigned record ID.
	CreateRecord(ctx context.Context, props types.Properties, initialBody string) (string, error)

	// UpdateRecordProperties overwrites the structured properties of a record.
	// Body content is not touched.
	UpdateRecordProperties(ctx context.Context, recordID string, props types.Properties) error
}

// BlockStore reads and writes the content blocks of a record.
type BlockStore interface {
	ListRecordBlocks(ctx context.Context, recordID string, pageSize int) ([]types.Block, error)
	UpdateBlockText(ctx context.Context, blockID, text string) error
}

// DestinationStore is everything a session needs from the destination.
type DestinationStore interface {
	RecordLister
	RecordWriter
	BlockStore
}
