package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Ning0612/drivewatch/internal/adapter"
	"github.com/Ning0612/drivewatch/internal/config"
	"github.com/Ning0612/drivewatch/internal/lock"
	"github.com/Ning0612/drivewatch/internal/logger"
	"github.com/Ning0612/drivewatch/internal/scheduler"
	"github.com/Ning0612/drivewatch/internal/sink"
	"github.com/Ning0612/drivewatch/internal/state"
	"github.com/Ning0612/drivewatch/internal/watcher"
)

// WatchService runs the poll loop of one watched root as a long-lived
// process: it holds the per-root lock, resumes from the committed cursor,
// and commits the cursor and a history record after every cycle.
type WatchService struct {
	mu        sync.RWMutex
	config    *config.Config
	watcher   *watcher.Watcher
	sink      sink.Sink
	stateMgr  *state.Manager
	lock      *lock.FileLock
	scheduler *scheduler.IntervalScheduler
	log       logger.Logger
}

// Deps are the collaborators a WatchService is built from
type Deps struct {
	Source adapter.Source
	Sink   sink.Sink
	Logger logger.Logger

	// Now overrides the wall clock
	Now func() time.Time
}

// WatchStatus represents the current service status
type WatchStatus struct {
	Running        bool
	RootID         string
	Cursor         time.Time
	SchedulerStats *scheduler.Status
	LastCycle      *state.CycleRecord
}

// NewWatchService creates a watch service. The starting cursor is the
// committed cursor of the root when resume is enabled and one exists,
// otherwise the configured start time.
func NewWatchService(cfg *config.Config, deps Deps) (*WatchService, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if err := cfg.ValidateWatch(); err != nil {
		return nil, err
	}
	if deps.Source == nil {
		return nil, fmt.Errorf("source cannot be nil")
	}
	if deps.Sink == nil {
		deps.Sink = sink.NewMulti()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}

	rootID := cfg.Watch.FolderID
	log := logger.OrNull(deps.Logger).With("component", "service", "root_id", rootID)

	stateDir, err := cfg.StateDir()
	if err != nil {
		return nil, err
	}

	fileLock, err := lock.NewFileLock(stateDir, rootID)
	if err != nil {
		return nil, fmt.Errorf("failed to create lock: %w", err)
	}

	stateMgr, err := state.NewManager(stateDir)
	if err != nil {
		return nil, fmt.Errorf("failed to create state manager: %w", err)
	}

	since, err := startCursor(cfg, stateMgr, deps.Now(), log)
	if err != nil {
		stateMgr.Close()
		return nil, err
	}

	w, err := watcher.New(deps.Source, watcher.Options{
		RootID:      rootID,
		Since:       since,
		Interval:    cfg.Watch.Interval,
		FilesOnly:   cfg.Watch.FilesOnly,
		SortByTime:  cfg.Watch.SortByTime,
		Concurrency: cfg.Watch.Concurrency,
		CacheSize:   cfg.Resolver.CacheSize,
		StopOnError: cfg.Watch.StopOnError,
		Logger:      deps.Logger,
		Now:         deps.Now,
	})
	if err != nil {
		stateMgr.Close()
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	return &WatchService{
		config:   cfg,
		watcher:  w,
		sink:     deps.Sink,
		stateMgr: stateMgr,
		lock:     fileLock,
		log:      log,
	}, nil
}

func startCursor(cfg *config.Config, stateMgr *state.Manager, now time.Time, log logger.Logger) (time.Time, error) {
	since, err := cfg.StartTime(now)
	if err != nil {
		return time.Time{}, err
	}
	if !cfg.Watch.Resume {
		return since, nil
	}

	stored, ok, err := stateMgr.LoadCursor(cfg.Watch.FolderID)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to load cursor: %w", err)
	}
	if !ok {
		return since, nil
	}
	log.Info("resuming from committed cursor", "cursor", stored)
	return stored, nil
}

// Watcher returns the underlying watcher
func (s *WatchService) Watcher() *watcher.Watcher {
	return s.watcher
}

// RunCycle runs one poll cycle and commits its outcome
func (s *WatchService) RunCycle(ctx context.Context) error {
	result, err := s.watcher.Poll(ctx, s.sink)
	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		// Shutdown mid-cycle; nothing was committed
		return err
	}

	record := state.CycleRecord{
		ID:             result.ID,
		RootID:         s.watcher.RootID(),
		StartTime:      result.StartedAt,
		EndTime:        result.FinishedAt,
		Status:         state.StatusSuccess,
		Events:         result.Events,
		Folders:        result.Folders,
		Pages:          result.Pages,
		PreviousCursor: result.PreviousCursor,
		Cursor:         result.Cursor,
	}

	if err == nil && result.Advanced() {
		if saveErr := s.stateMgr.SaveCursor(record.RootID, result.Cursor); saveErr != nil {
			// The in-memory cursor moved on; a restart redelivers this cycle
			err = fmt.Errorf("failed to commit cursor: %w", saveErr)
		}
	}
	if err != nil {
		record.Status = state.StatusFailed
		record.Error = err.Error()
	}

	if record.ID != "" {
		if saveErr := s.stateMgr.SaveCycle(record); saveErr != nil {
			s.log.Warn("failed to record cycle", "cycle_id", record.ID, "error", saveErr)
		}
	}
	return err
}

// RunOnce runs a single committed cycle while holding the root lock
func (s *WatchService) RunOnce(ctx context.Context) (*state.CycleRecord, error) {
	s.mu.Lock()
	running := s.scheduler != nil
	s.mu.Unlock()
	if running {
		return nil, fmt.Errorf("watch service is already running")
	}

	if err := s.lock.Acquire(); err != nil {
		return nil, err
	}
	defer s.lock.Release()

	cycleErr := s.RunCycle(ctx)

	var last *state.CycleRecord
	if history, err := s.stateMgr.GetHistory(s.watcher.RootID(), 1); err == nil && len(history) > 0 {
		last = &history[0]
	}
	return last, cycleErr
}

// Start acquires the root lock and starts the poll loop in the background
func (s *WatchService) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.scheduler != nil {
		return fmt.Errorf("watch service is already running")
	}

	if err := s.lock.Acquire(); err != nil {
		return err
	}

	sched, err := scheduler.NewIntervalScheduler(scheduler.Config{
		Interval:    s.config.Watch.Interval,
		StopOnError: s.config.Watch.StopOnError,
	}, scheduler.RunnerFunc(s.RunCycle))
	if err != nil {
		s.lock.Release()
		return fmt.Errorf("failed to create scheduler: %w", err)
	}

	if err := sched.Start(ctx); err != nil {
		s.lock.Release()
		return fmt.Errorf("failed to start scheduler: %w", err)
	}
	s.scheduler = sched

	s.log.Info("watch service started",
		"interval", s.config.Watch.Interval,
		"cursor", s.watcher.Cursor(),
		"files_only", s.config.Watch.FilesOnly)
	return nil
}

// Run starts the loop and blocks until ctx is cancelled or the loop ends
// on its own. Cancellation stops gracefully after the running cycle.
func (s *WatchService) Run(ctx context.Context) error {
	// The loop gets its own context so that cancelling ctx waits for the
	// running cycle instead of aborting it
	if err := s.Start(context.WithoutCancel(ctx)); err != nil {
		return err
	}

	s.mu.RLock()
	sched := s.scheduler
	s.mu.RUnlock()

	select {
	case <-ctx.Done():
		s.log.Info("shutting down")
		return s.Stop()
	case <-sched.Done():
		err := sched.Wait()
		s.mu.Lock()
		s.scheduler = nil
		s.mu.Unlock()
		s.lock.Release()
		return err
	}
}

// Stop stops the loop after the running cycle and releases the lock
func (s *WatchService) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.scheduler == nil {
		return fmt.Errorf("watch service is not running")
	}

	if err := s.scheduler.Stop(); err != nil {
		return fmt.Errorf("failed to stop scheduler: %w", err)
	}
	s.scheduler = nil

	if err := s.lock.Release(); err != nil {
		return fmt.Errorf("failed to release lock: %w", err)
	}
	return nil
}

// Status returns the current service status
func (s *WatchService) Status() *WatchStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	status := &WatchStatus{
		Running: s.scheduler != nil,
		RootID:  s.watcher.RootID(),
		Cursor:  s.watcher.Cursor(),
	}

	if s.scheduler != nil {
		status.SchedulerStats = s.scheduler.Status()
	}

	if history, err := s.stateMgr.GetHistory(status.RootID, 1); err == nil && len(history) > 0 {
		status.LastCycle = &history[0]
	}

	return status
}

// Close stops the loop if needed and releases all resources
func (s *WatchService) Close() error {
	s.mu.Lock()
	sched := s.scheduler
	s.scheduler = nil
	s.mu.Unlock()

	var errs []error
	if sched != nil && sched.Status().Running {
		if err := sched.Stop(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := s.lock.Release(); err != nil {
		errs = append(errs, err)
	}
	if err := s.sink.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := s.stateMgr.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
