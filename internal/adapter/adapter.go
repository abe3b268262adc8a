package adapter

import (
	"context"
	"io"

	"github.com/Ning0612/drivewatch/internal/domain"
)

// Lister is the paginated child listing of the remote store
type Lister interface {
	// ListChildren returns one page of the children of parentID ordered by
	// modified time descending. An empty pageToken requests the first page;
	// the returned page carries an empty NextPageToken when it is the last.
	ListChildren(ctx context.Context, parentID, pageToken string) (domain.Page, error)
}

// MetadataGetter looks up a single entry by id
type MetadataGetter interface {
	// GetEntry returns domain.ErrNotFound if the id does not exist
	GetEntry(ctx context.Context, id string) (domain.RemoteEntry, error)
}

// Source is everything the watcher needs from the remote store
type Source interface {
	Lister
	MetadataGetter
}

// ContentReader reads raw file content by id
type ContentReader interface {
	// Read opens a file for reading
	// Caller is responsible for closing the reader
	// Returns domain.ErrNotFound if file doesn't exist
	// Returns domain.ErrNotFile if id is a folder or native document
	Read(ctx context.Context, fileID string) (io.ReadCloser, error)
}

// ContentWriter writes raw content at a path relative to its target root
type ContentWriter interface {
	// Write creates or overwrites the file at relPath, creating missing
	// ancestor folders. The last segment is the file name. Returns an
	// identifier of the written file.
	Write(ctx context.Context, relPath []string, r io.Reader) (string, error)
}
