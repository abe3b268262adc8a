package domain

import (
	"fmt"
	"strings"
	"time"
)

// MimeTypeFolder is the sentinel MIME type marking an entry as a folder
const MimeTypeFolder = "application/vnd.google-apps.folder"

// nativeMimePrefix marks Drive-native documents that have no raw byte content
const nativeMimePrefix = "application/vnd.google-apps."

// RemoteEntry is one node of the remote tree as observed from the listing API
type RemoteEntry struct {
	// ID is opaque and stable across polls
	ID string

	// Name is the display name, not unique among siblings
	Name string

	// ParentIDs lists containing folders in the order the source returned them
	ParentIDs []string

	ModifiedTime time.Time
	CreatedTime  time.Time

	// Size in bytes, nil for folders and native documents
	Size *int64

	MimeType string

	// MD5Checksum is reported by the store for binary content (may be empty)
	MD5Checksum string
}

// IsFolder returns true if the entry carries the folder MIME type
func (e RemoteEntry) IsFolder() bool {
	return e.MimeType == MimeTypeFolder
}

// IsNative returns true for Drive-native documents (docs, sheets, folders)
// which cannot be downloaded as raw bytes
func (e RemoteEntry) IsNative() bool {
	return strings.HasPrefix(e.MimeType, nativeMimePrefix)
}

// HasParent reports whether id is one of the entry's parents
func (e RemoteEntry) HasParent(id string) bool {
	for _, p := range e.ParentIDs {
		if p == id {
			return true
		}
	}
	return false
}

// Validate checks the fields the watcher cannot operate without.
// requireParents is set for entries that were listed under a folder.
func (e RemoteEntry) Validate(requireParents bool) error {
	if e.ID == "" {
		return fmt.Errorf("%w: id (name %q)", ErrMissingField, e.Name)
	}
	if e.ModifiedTime.IsZero() {
		return fmt.Errorf("%w: modifiedTime (id %s)", ErrMissingField, e.ID)
	}
	if requireParents && len(e.ParentIDs) == 0 {
		return fmt.Errorf("%w: parents (id %s)", ErrMissingField, e.ID)
	}
	return nil
}

// Page is one page of a paginated child listing
type Page struct {
	// Entries are ordered by ModifiedTime descending
	Entries []RemoteEntry

	// NextPageToken is empty on the last page
	NextPageToken string
}
