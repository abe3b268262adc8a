package gdrive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"google.golang.org/api/drive/v3"

	"github.com/Ning0612/drivewatch/internal/adapter"
	"github.com/Ning0612/drivewatch/internal/domain"
	"github.com/Ning0612/drivewatch/internal/metrics"
	"github.com/Ning0612/drivewatch/internal/retry"
)

// Writer uploads content by relative path under an output folder
type Writer struct {
	client *Client
	rootID string
	cache  *idCache // joined folder path -> folder ID
}

// idCache caches folder ID lookups with thread-safe access
type idCache struct {
	mu    sync.RWMutex
	paths map[string]string
}

func newIDCache() *idCache {
	return &idCache{
		paths: make(map[string]string),
	}
}

func (c *idCache) get(path string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	id, ok := c.paths[path]
	return id, ok
}

func (c *idCache) set(path, id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.paths[path] = id
}

func (c *idCache) delete(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.paths, path)
}

// Write creates or overwrites relPath under the output folder. Missing
// ancestor folders are created; existing ones are matched by name.
func (w *Writer) Write(ctx context.Context, relPath []string, r io.Reader) (string, error) {
	dirs, name, err := splitRelPath(relPath)
	if err != nil {
		return "", err
	}

	parentID, err := w.makedirs(ctx, dirs)
	if err != nil {
		return "", err
	}

	existingID, err := w.findChild(ctx, parentID, name, false)
	if err != nil {
		return "", err
	}

	svc := w.client.service
	if existingID != "" {
		w.client.log.Debug("overwriting existing file", "path", strings.Join(relPath, "/"), "file_id", existingID)
		file, err := svc.Files.Update(existingID, &drive.File{}).
			SupportsAllDrives(true).
			Media(r).
			Fields("id").
			Context(ctx).Do()
		metrics.RemoteCalls.WithLabelValues("update", callStatus(err)).Inc()
		if err != nil {
			return "", fmt.Errorf("update %s: %w", existingID, w.client.mapError(err))
		}
		return file.Id, nil
	}

	file, err := svc.Files.Create(&drive.File{Name: name, Parents: []string{parentID}}).
		SupportsAllDrives(true).
		Media(r).
		Fields("id").
		Context(ctx).Do()
	metrics.RemoteCalls.WithLabelValues("create", callStatus(err)).Inc()
	if err != nil {
		mapped := w.client.mapError(err)
		if errors.Is(mapped, domain.ErrNotFound) {
			// A cached ancestor was removed remotely
			w.forget(dirs)
		}
		return "", fmt.Errorf("create %s: %w", name, mapped)
	}
	return file.Id, nil
}

// forget drops every cached prefix of dirs
func (w *Writer) forget(dirs []string) {
	for i := range dirs {
		w.cache.delete(strings.Join(dirs[:i+1], "/"))
	}
}

// makedirs walks dirs from the output folder, creating missing folders,
// and returns the ID of the deepest one
func (w *Writer) makedirs(ctx context.Context, dirs []string) (string, error) {
	currentID := w.rootID

	for i, dir := range dirs {
		partialPath := strings.Join(dirs[:i+1], "/")
		if id, ok := w.cache.get(partialPath); ok {
			currentID = id
			continue
		}

		id, err := w.findChild(ctx, currentID, dir, true)
		if err != nil {
			return "", err
		}
		if id == "" {
			id, err = w.createFolder(ctx, currentID, dir)
			if err != nil {
				return "", err
			}
		}

		currentID = id
		w.cache.set(partialPath, currentID)
	}

	return currentID, nil
}

// findChild returns the ID of the first child of parentID with the given
// name and kind, or "" if none exists
func (w *Writer) findChild(ctx context.Context, parentID, name string, folder bool) (string, error) {
	op := "!="
	if folder {
		op = "="
	}
	query := fmt.Sprintf("name = '%s' and '%s' in parents and mimeType %s '%s' and trashed = false",
		escapeQueryString(name), escapeQueryString(parentID), op, MimeTypeFolder)

	fileList, err := retry.DoWithResult(ctx, w.client.retry, func() (*drive.FileList, error) {
		fl, err := w.client.service.Files.List().
			Q(query).
			Spaces("drive").
			PageSize(1).
			SupportsAllDrives(true).
			IncludeItemsFromAllDrives(true).
			Fields("files(id)").
			Context(ctx).Do()
		return fl, w.client.mapError(err)
	})
	metrics.RemoteCalls.WithLabelValues("find", callStatus(err)).Inc()
	if err != nil {
		return "", fmt.Errorf("find %q in %s: %w", name, parentID, err)
	}

	if len(fileList.Files) == 0 {
		return "", nil
	}
	return fileList.Files[0].Id, nil
}

func (w *Writer) createFolder(ctx context.Context, parentID, name string) (string, error) {
	folder := &drive.File{
		Name:     name,
		MimeType: MimeTypeFolder,
		Parents:  []string{parentID},
	}
	created, err := w.client.service.Files.Create(folder).
		SupportsAllDrives(true).
		Fields("id").
		Context(ctx).Do()
	metrics.RemoteCalls.WithLabelValues("create", callStatus(err)).Inc()
	if err != nil {
		return "", fmt.Errorf("create folder %q: %w", name, w.client.mapError(err))
	}
	return created.Id, nil
}

// splitRelPath validates a relative path and splits off the file name
func splitRelPath(relPath []string) ([]string, string, error) {
	if len(relPath) == 0 {
		return nil, "", fmt.Errorf("%w: empty relative path", domain.ErrInvalidPath)
	}
	// Drive names are not path syntax; "." and ".." are ordinary names there
	for _, seg := range relPath {
		if seg == "" {
			return nil, "", fmt.Errorf("%w: blank path segment", domain.ErrInvalidPath)
		}
	}
	return relPath[:len(relPath)-1], relPath[len(relPath)-1], nil
}

// Compile-time interface check
var _ adapter.ContentWriter = (*Writer)(nil)
