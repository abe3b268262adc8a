// Package local writes mirrored Drive content into a directory tree on the
// local filesystem.
package local

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/Ning0612/drivewatch/internal/adapter"
	"github.com/Ning0612/drivewatch/internal/domain"
)

// tempSuffix marks partially written files
const tempSuffix = ".drivewatch.tmp"

// Adapter mirrors remote content below an absolute root directory
type Adapter struct {
	root string
}

// New returns an adapter rooted at root. The directory is created when
// missing.
func New(root string) (*Adapter, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(abs, 0755); err != nil {
		return nil, mapError(err)
	}
	if info, err := os.Stat(abs); err != nil {
		return nil, mapError(err)
	} else if !info.IsDir() {
		return nil, domain.ErrNotFile
	}
	return &Adapter{root: abs}, nil
}

// Root returns the absolute mirror directory
func (a *Adapter) Root() string {
	return a.root
}

var separatorReplacer = strings.NewReplacer("/", "_", `\`, "_")

// localName turns a display name into a single path element. Drive accepts
// names such as "a/b", "." and "..", which must not address another directory.
func localName(name string) string {
	switch name {
	case "", ".":
		return "_"
	case "..":
		return "__"
	}
	return separatorReplacer.Replace(name)
}

// resolvePath maps display-name segments to a path strictly below root
func (a *Adapter) resolvePath(relPath []string) (string, error) {
	if len(relPath) == 0 {
		return "", fmt.Errorf("%w: empty relative path", domain.ErrInvalidPath)
	}

	full := a.root
	for _, seg := range relPath {
		full = filepath.Join(full, localName(seg))
	}

	// Rel rejects siblings such as root2 that share a string prefix
	rel, err := filepath.Rel(a.root, full)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s escapes the mirror directory", domain.ErrInvalidPath, strings.Join(relPath, "/"))
	}
	return full, nil
}

// Write stores r at relPath, replacing any previous content atomically, and
// returns the absolute path as the file id
func (a *Adapter) Write(ctx context.Context, relPath []string, r io.Reader) (string, error) {
	target, err := a.resolvePath(relPath)
	if err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	dir := filepath.Dir(target)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", mapError(err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(target)+".*"+tempSuffix)
	if err != nil {
		return "", mapError(err)
	}
	tmpPath := tmp.Name()

	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return "", err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return "", err
	}
	if err := os.Rename(tmpPath, target); err != nil {
		os.Remove(tmpPath)
		return "", mapError(err)
	}
	return target, nil
}

// Read opens a mirrored file. fileID is a slash-separated path relative to
// root.
func (a *Adapter) Read(ctx context.Context, fileID string) (io.ReadCloser, error) {
	path, err := a.resolvePath(strings.Split(filepath.ToSlash(fileID), "/"))
	if err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, mapError(err)
	}
	if info, err := f.Stat(); err != nil {
		f.Close()
		return nil, mapError(err)
	} else if info.IsDir() {
		f.Close()
		return nil, domain.ErrNotFile
	}
	return f, nil
}

func mapError(err error) error {
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return domain.ErrNotFound
	case errors.Is(err, fs.ErrPermission):
		return domain.ErrPermissionDenied
	case errors.Is(err, fs.ErrExist):
		return domain.ErrAlreadyExists
	}
	return err
}

var (
	_ adapter.ContentWriter = (*Adapter)(nil)
	_ adapter.ContentReader = (*Adapter)(nil)
)
