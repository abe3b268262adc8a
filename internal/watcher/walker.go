package watcher

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/Ning0612/drivewatch/internal/adapter"
	"github.com/Ning0612/drivewatch/internal/domain"
	"github.com/Ning0612/drivewatch/internal/logger"
	"github.com/Ning0612/drivewatch/internal/metrics"
)

// WalkResult is the flattened outcome of one tree walk
type WalkResult struct {
	// Changed is in depth-first order: a folder's own changes newest
	// first, then each subfolder in listing order. No id appears twice.
	Changed []domain.RemoteEntry

	// Newest is the latest modification examined by any folder scan, zero
	// if the tree was empty
	Newest time.Time

	Folders int
	Pages   int
}

// Walker applies the scanner to a folder and every folder below it. Every
// reachable folder is listed on every walk regardless of its own
// modification time.
type Walker struct {
	scanner     *Scanner
	concurrency int
	log         logger.Logger
}

// NewWalker creates a walker. concurrency > 1 lists sibling subtrees in
// parallel with at most that many listing calls in flight.
func NewWalker(lister adapter.Lister, concurrency int, log logger.Logger) *Walker {
	log = logger.OrNull(log)
	if concurrency > 1 {
		lister = &limitedLister{
			Lister: lister,
			sem:    semaphore.NewWeighted(int64(concurrency)),
		}
	}
	return &Walker{
		scanner:     NewScanner(lister, log),
		concurrency: concurrency,
		log:         log,
	}
}

// limitedLister bounds concurrent listing calls. The permit is held only
// for the duration of one call so nested recursion cannot starve itself.
type limitedLister struct {
	adapter.Lister
	sem *semaphore.Weighted
}

func (l *limitedLister) ListChildren(ctx context.Context, parentID, pageToken string) (domain.Page, error) {
	if err := l.sem.Acquire(ctx, 1); err != nil {
		return domain.Page{}, err
	}
	defer l.sem.Release(1)
	return l.Lister.ListChildren(ctx, parentID, pageToken)
}

// subtree is the per-folder result before flattening
type subtree struct {
	folderID string
	changed  []domain.RemoteEntry
	newest   time.Time
	pages    int
	children []*subtree
}

// walkState tracks folders already listed during a sequential walk. Parallel
// walks list a folder once per path that reaches it; flatten keeps the first.
type walkState struct {
	mu      sync.Mutex
	visited map[string]bool
}

func (s *walkState) claim(folderID string) bool {
	if s == nil {
		return true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.visited[folderID] {
		return false
	}
	s.visited[folderID] = true
	return true
}

// ancestors are the folder ids on the path from the root, used to stop at
// cycles in the parent graph
type ancestors []string

func (a ancestors) contains(id string) bool {
	for _, p := range a {
		if p == id {
			return true
		}
	}
	return false
}

func (a ancestors) with(id string) ancestors {
	return append(a[:len(a):len(a)], id)
}

// Walk scans rootID and all descendant folders against since. With
// filesOnly set, folders are traversed and still move Newest but are left
// out of Changed. Walk has no side effects on the walker.
func (w *Walker) Walk(ctx context.Context, rootID string, since time.Time, filesOnly bool) (WalkResult, error) {
	var state *walkState
	if w.concurrency <= 1 {
		state = &walkState{visited: make(map[string]bool)}
	}

	root, err := w.visit(ctx, state, nil, rootID, since, !filesOnly)
	if err != nil {
		return WalkResult{}, err
	}

	result := WalkResult{}
	flatten(root, &result, make(map[string]bool), make(map[string]bool))
	return result, nil
}

func (w *Walker) visit(ctx context.Context, state *walkState, path ancestors, folderID string, since time.Time, includeFolders bool) (*subtree, error) {
	if path.contains(folderID) || !state.claim(folderID) {
		return nil, nil
	}
	path = path.with(folderID)
	metrics.RecordFolderVisit()

	scan, err := w.scanner.Scan(ctx, folderID, since, includeFolders)
	if err != nil {
		return nil, err
	}

	node := &subtree{
		folderID: folderID,
		changed:  scan.Changed,
		newest:   scan.Newest,
		pages:    scan.Pages,
	}

	// Subfolders past the cutoff are still traversed; the remainder of the
	// listing only feeds recursion and never moves the cursor.
	children := scan.Seen
	if !scan.Exhausted() {
		rest, pages, err := w.scanner.Continue(ctx, folderID, scan.NextPageToken)
		node.pages += pages
		if err != nil {
			return nil, err
		}
		children = append(children, rest...)
	}

	folders := subfolders(children)
	w.log.Debug("scanned folder",
		"folder_id", folderID,
		"changed", len(scan.Changed),
		"subfolders", len(folders),
		"pages", node.pages)

	node.children = make([]*subtree, len(folders))
	if w.concurrency <= 1 || len(folders) < 2 {
		for i, id := range folders {
			child, err := w.visit(ctx, state, path, id, since, includeFolders)
			if err != nil {
				return nil, err
			}
			node.children[i] = child
		}
		return node, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	for i, id := range folders {
		i, id := i, id
		g.Go(func() error {
			child, err := w.visit(gctx, state, path, id, since, includeFolders)
			if err != nil {
				return err
			}
			node.children[i] = child
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return node, nil
}

// subfolders returns the ids of folder entries in listing order
func subfolders(entries []domain.RemoteEntry) []string {
	var ids []string
	seen := make(map[string]bool)
	for _, e := range entries {
		if !e.IsFolder() || e.ID == "" || seen[e.ID] {
			continue
		}
		seen[e.ID] = true
		ids = append(ids, e.ID)
	}
	return ids
}

// flatten merges subtrees depth-first. The first occurrence of a folder or
// entry id in that order wins, whichever goroutine listed it first.
func flatten(node *subtree, result *WalkResult, folders, seen map[string]bool) {
	// A later listing of the same folder may hold changes the kept one
	// does not, so it must not move Newest either
	if node == nil || folders[node.folderID] {
		return
	}
	folders[node.folderID] = true
	result.Folders++
	result.Pages += node.pages
	if node.newest.After(result.Newest) {
		result.Newest = node.newest
	}

	for _, e := range node.changed {
		if seen[e.ID] {
			continue
		}
		seen[e.ID] = true
		result.Changed = append(result.Changed, e)
	}
	for _, child := range node.children {
		flatten(child, result, folders, seen)
	}
}
