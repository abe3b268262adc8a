// Package watcher detects files created or updated under a remote folder
// tree by polling a time-descending child listing against a cursor.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/Ning0612/drivewatch/internal/adapter"
	"github.com/Ning0612/drivewatch/internal/domain"
	"github.com/Ning0612/drivewatch/internal/logger"
	"github.com/Ning0612/drivewatch/internal/metrics"
	"github.com/Ning0612/drivewatch/internal/scheduler"
)

// DefaultInterval is the sleep between poll cycles
const DefaultInterval = 10 * time.Second

// Handler consumes emitted events. A returned error fails the cycle and
// keeps the cursor where it was, so the window is delivered again.
type Handler interface {
	Handle(ctx context.Context, event domain.ChangeEvent) error
}

// HandlerFunc adapts a function to Handler
type HandlerFunc func(ctx context.Context, event domain.ChangeEvent) error

// Handle calls f(ctx, event)
func (f HandlerFunc) Handle(ctx context.Context, event domain.ChangeEvent) error {
	return f(ctx, event)
}

// Options configures a Watcher
type Options struct {
	// RootID is the watched folder
	RootID string

	// Since seeds the cursor
	Since time.Time

	// Interval between cycles in Watch
	Interval time.Duration

	// FilesOnly leaves folders out of the emitted events
	FilesOnly bool

	// SortByTime emits each cycle ordered by (modified time, id) instead
	// of depth-first walk order
	SortByTime bool

	// Concurrency > 1 walks sibling subtrees in parallel
	Concurrency int

	// CacheSize > 0 caches parent names for the watcher's lifetime
	CacheSize int

	// StopOnError ends Watch on the first failed cycle
	StopOnError bool

	Logger logger.Logger

	// Now overrides the wall clock used for DetectedAt
	Now func() time.Time
}

// CycleResult summarizes one poll cycle
type CycleResult struct {
	ID             string
	StartedAt      time.Time
	FinishedAt     time.Time
	PreviousCursor time.Time
	Cursor         time.Time
	Events         int
	Folders        int
	Pages          int
}

// Advanced reports whether the cycle moved the cursor
func (r CycleResult) Advanced() bool {
	return r.Cursor.After(r.PreviousCursor)
}

// Watcher owns the cursor of one watched root
type Watcher struct {
	opts     Options
	source   adapter.Source
	walker   *Walker
	resolver *Resolver
	log      logger.Logger
	now      func() time.Time

	cycleMu sync.Mutex // held for the whole cycle
	// rootEntryID is the id the store reports in parents for the root,
	// which differs from RootID when RootID is an alias such as "root".
	// Guarded by cycleMu.
	rootEntryID string

	cursorMu sync.RWMutex
	cursor   time.Time
	started  atomic.Bool
}

// New creates a watcher over source
func New(source adapter.Source, opts Options) (*Watcher, error) {
	if source == nil {
		return nil, fmt.Errorf("source cannot be nil")
	}
	if opts.RootID == "" {
		return nil, fmt.Errorf("root folder id is required")
	}
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	log := logger.OrNull(opts.Logger).With("component", "watcher", "root_id", opts.RootID)

	return &Watcher{
		opts:     opts,
		source:   source,
		walker:   NewWalker(source, opts.Concurrency, log),
		resolver: NewResolver(source, opts.CacheSize, log),
		log:      log,
		now:      opts.Now,
		cursor:   opts.Since,
	}, nil
}

// RootID returns the watched folder
func (w *Watcher) RootID() string {
	return w.opts.RootID
}

// Cursor returns the last committed cursor
func (w *Watcher) Cursor() time.Time {
	w.cursorMu.RLock()
	defer w.cursorMu.RUnlock()
	return w.cursor
}

// Poll runs one cycle: walk the tree, resolve every path, hand each event
// to handler in order, then advance the cursor to the newest modification
// seen. Any failure leaves the cursor untouched. Overlapping calls return
// domain.ErrCycleInProgress.
func (w *Watcher) Poll(ctx context.Context, handler Handler) (CycleResult, error) {
	if !w.cycleMu.TryLock() {
		return CycleResult{}, domain.ErrCycleInProgress
	}
	defer w.cycleMu.Unlock()

	since := w.Cursor()
	result := CycleResult{
		ID:             uuid.NewString(),
		StartedAt:      w.now(),
		PreviousCursor: since,
		Cursor:         since,
	}
	log := w.log.With("cycle_id", result.ID)

	err := w.runCycle(ctx, handler, since, &result, log)
	result.FinishedAt = w.now()
	metrics.RecordCycle(err == nil, result.FinishedAt.Sub(result.StartedAt))
	if err != nil {
		log.Error("poll cycle failed", "error", err, "cursor", since)
		return result, err
	}

	metrics.SetCursor(w.opts.RootID, result.Cursor)
	if result.Events == 0 {
		log.Debug("no changes", "folders", result.Folders, "pages", result.Pages)
	} else {
		log.Info("poll cycle complete",
			"events", result.Events,
			"folders", result.Folders,
			"pages", result.Pages,
			"cursor", result.Cursor)
	}
	return result, nil
}

func (w *Watcher) runCycle(ctx context.Context, handler Handler, since time.Time, result *CycleResult, log logger.Logger) error {
	walk, err := w.walker.Walk(ctx, w.opts.RootID, since, w.opts.FilesOnly)
	if err != nil {
		return fmt.Errorf("walk %s: %w", w.opts.RootID, err)
	}
	result.Folders = walk.Folders
	result.Pages = walk.Pages

	entries := walk.Changed
	if w.opts.SortByTime {
		entries = sortByTime(entries)
	}

	rootEntryID, err := w.resolveRoot(ctx)
	if err != nil {
		return err
	}

	// Resolve everything first so a cancelled lookup emits nothing
	events := make([]domain.ChangeEvent, 0, len(entries))
	for _, entry := range entries {
		path, err := w.resolver.RelativePath(ctx, entry, rootEntryID)
		if err != nil {
			return fmt.Errorf("resolve path of %s: %w", entry.ID, err)
		}
		events = append(events, w.newEvent(entry, path, since))
	}

	for i, event := range events {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := handler.Handle(ctx, event); err != nil {
			return fmt.Errorf("handle event %d/%d (%s): %w", i+1, len(events), event.FileID, err)
		}
		metrics.RecordEvent(string(event.Type))
		result.Events++
		log.Debug("emitted event", "file_id", event.FileID, "path", event.Path(), "type", event.Type)
	}

	next := since
	if walk.Newest.After(next) {
		next = walk.Newest
	}
	w.cursorMu.Lock()
	w.cursor = next
	w.cursorMu.Unlock()
	result.Cursor = next
	return nil
}

// resolveRoot returns the id the root carries in its children's parents.
// The lookup is made once; until it succeeds the configured id is used.
func (w *Watcher) resolveRoot(ctx context.Context) (string, error) {
	if w.rootEntryID != "" {
		return w.rootEntryID, nil
	}

	root, err := w.source.GetEntry(ctx, w.opts.RootID)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		w.log.Warn("root lookup failed, matching parents against the configured id", "error", err)
		return w.opts.RootID, nil
	}
	if root.ID == "" {
		root.ID = w.opts.RootID
	}
	if root.ID != w.opts.RootID {
		w.log.Info("root id is an alias", "resolved_id", root.ID)
	}
	w.rootEntryID = root.ID
	return root.ID, nil
}

// newEvent classifies an entry as created when its creation falls strictly
// after the cursor the cycle started with
func (w *Watcher) newEvent(entry domain.RemoteEntry, path []string, since time.Time) domain.ChangeEvent {
	eventType := domain.EventUpdated
	if entry.CreatedTime.After(since) {
		eventType = domain.EventCreated
	}

	return domain.ChangeEvent{
		FolderID:       w.opts.RootID,
		FileID:         entry.ID,
		FileName:       entry.Name,
		RelativePath:   path,
		Type:           eventType,
		DetectedAt:     w.now(),
		FileCreatedAt:  entry.CreatedTime,
		FileModifiedAt: entry.ModifiedTime,
		Size:           entry.Size,
		MimeType:       entry.MimeType,
		MD5Checksum:    entry.MD5Checksum,
		IsFolder:       entry.IsFolder(),
	}
}

// sortByTime returns entries ordered by modified time ascending, then id
func sortByTime(entries []domain.RemoteEntry) []domain.RemoteEntry {
	sorted := append([]domain.RemoteEntry(nil), entries...)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if !a.ModifiedTime.Equal(b.ModifiedTime) {
			return a.ModifiedTime.Before(b.ModifiedTime)
		}
		return a.ID < b.ID
	})
	return sorted
}

// Watch polls every Interval until ctx is cancelled, or until a cycle fails
// when StopOnError is set. The first cycle starts immediately. Watch can be
// called once per watcher.
//
// Watch and Events are the entry points for embedding the watcher as a
// library. The cursor lives only in memory; service.WatchService drives
// Poll itself so it can commit the cursor after every cycle.
func (w *Watcher) Watch(ctx context.Context, handler Handler) error {
	if !w.started.CompareAndSwap(false, true) {
		return domain.ErrAlreadyWatching
	}

	sched, err := scheduler.NewIntervalScheduler(
		scheduler.Config{Interval: w.opts.Interval, StopOnError: w.opts.StopOnError},
		scheduler.RunnerFunc(func(ctx context.Context) error {
			_, err := w.Poll(ctx, handler)
			return err
		}),
	)
	if err != nil {
		return err
	}
	if err := sched.Start(ctx); err != nil {
		return err
	}

	w.log.Info("watching", "interval", w.opts.Interval, "cursor", w.Cursor(), "files_only", w.opts.FilesOnly)
	return sched.Wait()
}

// Events runs Watch in the background and streams its events. The event
// channel is closed when watching ends; a terminal error other than
// cancellation is sent on the error channel first.
func (w *Watcher) Events(ctx context.Context) (<-chan domain.ChangeEvent, <-chan error) {
	events := make(chan domain.ChangeEvent)
	errs := make(chan error, 1)

	go func() {
		defer close(events)
		defer close(errs)

		err := w.Watch(ctx, HandlerFunc(func(ctx context.Context, event domain.ChangeEvent) error {
			select {
			case events <- event:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		}))
		if err != nil && !errors.Is(err, context.Canceled) {
			errs <- err
		}
	}()

	return events, errs
}
