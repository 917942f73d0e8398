package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/mschirtzinger/issuesync/internal/types"
)

// IdentityMap maps an issue URL to the ID of the destination record that
// mirrors it.
//
// A map is built once per session from a full scan of the destination and is
// read-only afterwards. Records created during the session are not added; the
// next session's scan picks them up.
type IdentityMap struct {
	byURL      map[string]string
	duplicates int
}

// NewIdentityMap builds a map from already-fetched records.
// When two records share an issue URL the later one wins.
func NewIdentityMap(records []types.DestinationRecord) *IdentityMap {
	m := &IdentityMap{byURL: make(map[string]string, len(records))}
	for _, rec := range records {
		m.add(rec)
	}
	return m
}

func (m *IdentityMap) add(rec types.DestinationRecord) bool {
	if rec.IssueURL == "" || rec.RecordID == "" {
		return false
	}
	if _, exists := m.byURL[rec.IssueURL]; exists {
		m.duplicates++
	}
	m.byURL[rec.IssueURL] = rec.RecordID
	return true
}

// BuildIdentityMap pages through every destination record and returns the
// resulting map. Any page failure aborts the build: a partial map would make
// existing issues look new and duplicate their records.
func BuildIdentityMap(ctx context.Context, lister RecordLister, logger *log.Logger) (*IdentityMap, error) {
	m := &IdentityMap{byURL: make(map[string]string)}

	var (
		cursor  string
		pages   int
		scanned int
		skipped int
	)
	seen := make(map[string]bool)

	for {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("identity map scan interrupted after %d pages: %w", pages, err)
		}

		page, err := lister.ListDestinationRecords(ctx, cursor)
		if err != nil {
			return nil, fmt.Errorf("failed to list destination records (page %d): %w", pages+1, asSourceUnavailable(err))
		}
		pages++

		for _, rec := range page.Records {
			scanned++
			if !m.add(rec) {
				skipped++
			}
		}

		if page.NextCursor == "" {
			break
		}
		if seen[page.NextCursor] {
			return nil, fmt.Errorf("%w: destination returned cursor %q twice", ErrSourceUnavailable, page.NextCursor)
		}
		seen[page.NextCursor] = true
		cursor = page.NextCursor
	}

	if logger != nil {
		logger.Printf("Identity map built: %d records in %d pages (%d without issue URL, %d duplicate URLs)",
			scanned, pages, skipped, m.duplicates)
	}

	return m, nil
}

func asSourceUnavailable(err error) error {
	if errors.Is(err, ErrSourceUnavailable) {
		return err
	}
	return WrapRemote(ErrSourceUnavailable, err)
}

// Lookup returns the record ID mirroring issueURL.
func (m *IdentityMap) Lookup(issueURL string) (string, bool) {
	id, ok := m.byURL[issueURL]
	return id, ok
}

// Len returns the number of distinct issue URLs in the map.
func (m *IdentityMap) Len() int {
	return len(m.byURL)
}

// Duplicates returns how many records shared an issue URL with an earlier
// record. A healthy destination has none.
func (m *IdentityMap) Duplicates() int {
	return m.duplicates
}
