package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"
)

type loopState int

const (
	stateIdle loopState = iota
	stateRunning
	stateStopped
)

// IntervalScheduler runs cycles back to back with a fixed sleep in between.
// Cycles never overlap; the first one starts immediately. A scheduler runs
// once: after its loop exits it cannot be started again.
type IntervalScheduler struct {
	config Config
	runner Runner

	mu      sync.RWMutex
	state   loopState
	stats   Status
	exitErr error

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// NewIntervalScheduler creates a new interval-based scheduler
func NewIntervalScheduler(config Config, runner Runner) (*IntervalScheduler, error) {
	if config.Interval <= 0 {
		return nil, fmt.Errorf("interval must be positive, got %v", config.Interval)
	}
	if runner == nil {
		return nil, fmt.Errorf("cycle runner cannot be nil")
	}

	return &IntervalScheduler{
		config: config,
		runner: runner,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}, nil
}

// Start begins the scheduling loop in the background
func (s *IntervalScheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case stateRunning:
		return fmt.Errorf("scheduler is already running")
	case stateStopped:
		return fmt.Errorf("scheduler cannot be restarted after stop")
	}

	s.state = stateRunning
	s.stats.NextRunTime = time.Now()

	go s.loop(ctx)
	return nil
}

func (s *IntervalScheduler) loop(ctx context.Context) {
	err := s.cycles(ctx)

	s.mu.Lock()
	s.state = stateStopped
	s.exitErr = err
	s.mu.Unlock()
	close(s.done)
}

// cycles runs until stopped and returns the reason the loop ended
func (s *IntervalScheduler) cycles(ctx context.Context) error {
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.stop:
			return nil
		case <-timer.C:
		}

		// A stop requested while the timer fired wins over a new cycle
		select {
		case <-s.stop:
			return nil
		default:
		}

		if err := s.runOne(ctx); err != nil && s.config.StopOnError {
			return err
		}
		timer.Reset(s.config.Interval)
	}
}

// runOne runs one cycle and records its outcome
func (s *IntervalScheduler) runOne(ctx context.Context) error {
	s.mu.Lock()
	s.stats.LastRunTime = time.Now()
	s.stats.TotalRuns++
	s.mu.Unlock()

	err := s.runner.RunCycle(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.stats.FailedRuns++
		s.stats.LastError = err.Error()
	} else {
		s.stats.SuccessfulRuns++
		s.stats.LastError = ""
	}
	s.stats.NextRunTime = time.Now().Add(s.config.Interval)
	return err
}

// Stop ends the loop after the running cycle and waits for it to exit
func (s *IntervalScheduler) Stop() error {
	s.mu.RLock()
	running := s.state == stateRunning
	s.mu.RUnlock()
	if !running {
		return fmt.Errorf("scheduler is not running")
	}

	s.stopOnce.Do(func() { close(s.stop) })
	<-s.done
	return nil
}

// Wait blocks until the loop exits. It returns nil after Stop, the context
// error after cancellation, or the failed cycle's error with StopOnError.
func (s *IntervalScheduler) Wait() error {
	<-s.done

	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.exitErr
}

// Done is closed when the loop has exited
func (s *IntervalScheduler) Done() <-chan struct{} {
	return s.done
}

// Status returns a snapshot of the scheduler state
func (s *IntervalScheduler) Status() *Status {
	s.mu.RLock()
	defer s.mu.RUnlock()

	status := s.stats
	status.Running = s.state == stateRunning
	return &status
}

var _ Scheduler = (*IntervalScheduler)(nil)
