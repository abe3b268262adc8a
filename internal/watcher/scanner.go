package watcher

import (
	"context"
	"fmt"
	"time"

	"github.com/Ning0612/drivewatch/internal/adapter"
	"github.com/Ning0612/drivewatch/internal/domain"
	"github.com/Ning0612/drivewatch/internal/logger"
	"github.com/Ning0612/drivewatch/internal/metrics"
)

// ScanResult is the outcome of scanning one folder against a cursor
type ScanResult struct {
	// Changed holds entries modified after the cursor, newest first
	Changed []domain.RemoteEntry

	// Newest is the latest modification among examined entries, folders
	// included. Zero when nothing was examined.
	Newest time.Time

	// Seen holds every entry of every fetched page, including the part of
	// the stopping page past the cutoff
	Seen []domain.RemoteEntry

	// NextPageToken continues the listing where the scan stopped; empty
	// when the last page was fetched
	NextPageToken string

	// Pages is the number of listing calls made
	Pages int
}

// Exhausted reports whether every child of the folder is in Seen
func (r ScanResult) Exhausted() bool {
	return r.NextPageToken == ""
}

// Scanner applies the cursor cutoff to the time-descending child listing
// of a single folder
type Scanner struct {
	lister adapter.Lister
	log    logger.Logger
}

// NewScanner creates a scanner over lister
func NewScanner(lister adapter.Lister, log logger.Logger) *Scanner {
	return &Scanner{
		lister: lister,
		log:    logger.OrNull(log),
	}
}

// Scan pulls pages of parentID until an entry at or before since is seen or
// the listing ends. Folder entries are kept only if includeFolders is set;
// skipping a folder never counts as reaching the cutoff.
func (s *Scanner) Scan(ctx context.Context, parentID string, since time.Time, includeFolders bool) (ScanResult, error) {
	var result ScanResult
	token := ""

	for {
		if err := ctx.Err(); err != nil {
			return ScanResult{}, err
		}

		page, err := s.lister.ListChildren(ctx, parentID, token)
		if err != nil {
			return ScanResult{}, err
		}
		result.Pages++
		metrics.RecordPage()
		result.Seen = append(result.Seen, page.Entries...)
		result.NextPageToken = page.NextPageToken

		if result.Pages == 1 && len(page.Entries) == 0 {
			s.log.Debug("folder is empty", "folder_id", parentID)
			result.NextPageToken = ""
			return result, nil
		}

		reachedCutoff := false
		for _, entry := range page.Entries {
			if err := entry.Validate(true); err != nil {
				return ScanResult{}, fmt.Errorf("scan %s: %w", parentID, err)
			}
			if entry.ModifiedTime.After(result.Newest) {
				result.Newest = entry.ModifiedTime
			}
			if !entry.ModifiedTime.After(since) {
				reachedCutoff = true
				break
			}
			if entry.IsFolder() && !includeFolders {
				continue
			}
			result.Changed = append(result.Changed, entry)
		}

		if reachedCutoff || page.NextPageToken == "" {
			return result, nil
		}
		token = page.NextPageToken
	}
}

// Continue lists the remaining pages of parentID starting at token and
// returns every entry. It is used to discover subfolders past the cutoff.
func (s *Scanner) Continue(ctx context.Context, parentID, token string) ([]domain.RemoteEntry, int, error) {
	var entries []domain.RemoteEntry
	pages := 0

	for token != "" {
		if err := ctx.Err(); err != nil {
			return nil, pages, err
		}

		page, err := s.lister.ListChildren(ctx, parentID, token)
		if err != nil {
			return nil, pages, err
		}
		pages++
		metrics.RecordPage()
		entries = append(entries, page.Entries...)
		token = page.NextPageToken
	}

	return entries, pages, nil
}
