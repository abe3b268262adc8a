// Package memory provides an in-memory remote tree implementing the listing,
// metadata and content collaborators with call counters for tests.
package memory

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/Ning0612/drivewatch/internal/adapter"
	"github.com/Ning0612/drivewatch/internal/domain"
)

// DefaultPageSize is used when New is called with a non-positive size
const DefaultPageSize = 100

type node struct {
	entry   domain.RemoteEntry
	content []byte
}

// Store is a thread-safe in-memory tree
type Store struct {
	mu       sync.Mutex
	nodes    map[string]*node
	pageSize int
	nextID   int
	now      func() time.Time

	listCalls map[string]int
	getCalls  map[string]int
	listErrs  map[string]error
	getErrs   map[string]error
}

// New creates an empty store serving pages of pageSize entries
func New(pageSize int) *Store {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return &Store{
		nodes:     make(map[string]*node),
		pageSize:  pageSize,
		now:       time.Now,
		listCalls: make(map[string]int),
		getCalls:  make(map[string]int),
		listErrs:  make(map[string]error),
		getErrs:   make(map[string]error),
	}
}

// SetClock overrides the time source used for written entries
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// Put inserts or replaces an entry
func (s *Store) Put(e domain.RemoteEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n, ok := s.nodes[e.ID]; ok {
		n.entry = e
		return
	}
	s.nodes[e.ID] = &node{entry: e}
}

// PutFolder inserts a folder under parentID
func (s *Store) PutFolder(id, name, parentID string, modified time.Time) {
	s.Put(domain.RemoteEntry{
		ID:           id,
		Name:         name,
		ParentIDs:    parents(parentID),
		ModifiedTime: modified,
		CreatedTime:  modified,
		MimeType:     domain.MimeTypeFolder,
	})
}

// PutFile inserts a binary file with content under parentID
func (s *Store) PutFile(id, name, parentID string, created, modified time.Time, content []byte) {
	size := int64(len(content))
	sum := md5.Sum(content)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.nodes[id] = &node{
		entry: domain.RemoteEntry{
			ID:           id,
			Name:         name,
			ParentIDs:    parents(parentID),
			ModifiedTime: modified,
			CreatedTime:  created,
			Size:         &size,
			MimeType:     "application/octet-stream",
			MD5Checksum:  hex.EncodeToString(sum[:]),
		},
		content: append([]byte(nil), content...),
	}
}

// Touch sets the modified time of an existing entry
func (s *Store) Touch(id string, modified time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n, ok := s.nodes[id]; ok {
		n.entry.ModifiedTime = modified
	}
}

// Remove deletes an entry without touching its children
func (s *Store) Remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.nodes, id)
}

// FailList makes every listing of parentID return err (nil clears it)
func (s *Store) FailList(parentID string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	setOrClear(s.listErrs, parentID, err)
}

// FailGet makes every metadata lookup of id return err (nil clears it)
func (s *Store) FailGet(id string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	setOrClear(s.getErrs, id, err)
}

// ListCalls returns how many pages of parentID were requested
func (s *Store) ListCalls(parentID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listCalls[parentID]
}

// GetCalls returns how many metadata lookups of id were made
func (s *Store) GetCalls(id string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getCalls[id]
}

// ResetCounters zeroes all call counters
func (s *Store) ResetCounters() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listCalls = make(map[string]int)
	s.getCalls = make(map[string]int)
}

// ListChildren returns children of parentID ordered by modified time
// descending (id ascending on ties). Page tokens are entry offsets.
func (s *Store) ListChildren(ctx context.Context, parentID, pageToken string) (domain.Page, error) {
	if err := ctx.Err(); err != nil {
		return domain.Page{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.listCalls[parentID]++
	if err := s.listErrs[parentID]; err != nil {
		return domain.Page{}, err
	}

	offset := 0
	if pageToken != "" {
		n, err := strconv.Atoi(pageToken)
		if err != nil || n < 0 {
			return domain.Page{}, fmt.Errorf("invalid page token %q", pageToken)
		}
		offset = n
	}

	children := make([]domain.RemoteEntry, 0)
	for _, n := range s.nodes {
		if n.entry.HasParent(parentID) {
			children = append(children, cloneEntry(n.entry))
		}
	}
	sort.Slice(children, func(i, j int) bool {
		a, b := children[i], children[j]
		if !a.ModifiedTime.Equal(b.ModifiedTime) {
			return a.ModifiedTime.After(b.ModifiedTime)
		}
		return a.ID < b.ID
	})

	if offset > len(children) {
		offset = len(children)
	}
	end := offset + s.pageSize
	if end > len(children) {
		end = len(children)
	}

	page := domain.Page{Entries: children[offset:end]}
	if end < len(children) {
		page.NextPageToken = strconv.Itoa(end)
	}
	return page, nil
}

// GetEntry returns the metadata of id
func (s *Store) GetEntry(ctx context.Context, id string) (domain.RemoteEntry, error) {
	if err := ctx.Err(); err != nil {
		return domain.RemoteEntry{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.getCalls[id]++
	if err := s.getErrs[id]; err != nil {
		return domain.RemoteEntry{}, err
	}
	n, ok := s.nodes[id]
	if !ok {
		return domain.RemoteEntry{}, domain.ErrNotFound
	}
	return cloneEntry(n.entry), nil
}

// Read returns the content of a binary file
func (s *Store) Read(ctx context.Context, fileID string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.nodes[fileID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	if n.entry.IsNative() {
		return nil, domain.ErrNotFile
	}
	return io.NopCloser(bytes.NewReader(n.content)), nil
}

// Writer returns a content writer placing files under rootID
func (s *Store) Writer(rootID string) *Writer {
	return &Writer{store: s, rootID: rootID}
}

// Writer creates files by relative path, matching folders by name
type Writer struct {
	store  *Store
	rootID string
}

// Write creates or overwrites relPath under the writer's root
func (w *Writer) Write(ctx context.Context, relPath []string, r io.Reader) (string, error) {
	if len(relPath) == 0 {
		return "", fmt.Errorf("%w: empty relative path", domain.ErrInvalidPath)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	s := w.store
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	parentID := w.rootID
	for _, dir := range relPath[:len(relPath)-1] {
		id := s.findChildLocked(parentID, dir, true)
		if id == "" {
			id = s.newIDLocked()
			s.nodes[id] = &node{entry: domain.RemoteEntry{
				ID: id, Name: dir, ParentIDs: []string{parentID},
				ModifiedTime: now, CreatedTime: now, MimeType: domain.MimeTypeFolder,
			}}
		}
		parentID = id
	}

	name := relPath[len(relPath)-1]
	size := int64(len(data))
	sum := md5.Sum(data)
	checksum := hex.EncodeToString(sum[:])

	if id := s.findChildLocked(parentID, name, false); id != "" {
		n := s.nodes[id]
		n.content = data
		n.entry.ModifiedTime = now
		n.entry.Size = &size
		n.entry.MD5Checksum = checksum
		return id, nil
	}

	id := s.newIDLocked()
	s.nodes[id] = &node{
		entry: domain.RemoteEntry{
			ID: id, Name: name, ParentIDs: []string{parentID},
			ModifiedTime: now, CreatedTime: now, Size: &size,
			MimeType: "application/octet-stream", MD5Checksum: checksum,
		},
		content: data,
	}
	return id, nil
}

// findChildLocked returns the lowest id among matching children so repeated
// writes resolve the same target
func (s *Store) findChildLocked(parentID, name string, folder bool) string {
	found := ""
	for id, n := range s.nodes {
		if n.entry.Name != name || n.entry.IsFolder() != folder || !n.entry.HasParent(parentID) {
			continue
		}
		if found == "" || id < found {
			found = id
		}
	}
	return found
}

func (s *Store) newIDLocked() string {
	for {
		s.nextID++
		id := "mem-" + strconv.Itoa(s.nextID)
		if _, taken := s.nodes[id]; !taken {
			return id
		}
	}
}

func cloneEntry(e domain.RemoteEntry) domain.RemoteEntry {
	e.ParentIDs = append([]string(nil), e.ParentIDs...)
	if e.Size != nil {
		size := *e.Size
		e.Size = &size
	}
	return e
}

func parents(parentID string) []string {
	if parentID == "" {
		return nil
	}
	return []string{parentID}
}

func setOrClear(m map[string]error, key string, err error) {
	if err == nil {
		delete(m, key)
		return
	}
	m[key] = err
}

// Compile-time interface checks
var (
	_ adapter.Source        = (*Store)(nil)
	_ adapter.ContentReader = (*Store)(nil)
	_ adapter.ContentWriter = (*Writer)(nil)
)
