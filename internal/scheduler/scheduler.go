package scheduler

import (
	"context"
	"time"
)

// Scheduler defines the interface for poll schedulers
type Scheduler interface {
	// Start begins the scheduling loop
	Start(ctx context.Context) error

	// Stop gracefully stops the scheduler after the running cycle
	Stop() error

	// Wait blocks until the loop exits and returns why it exited
	Wait() error

	// Status returns the current scheduler status
	Status() *Status
}

// Status represents the current state of a scheduler
type Status struct {
	Running        bool
	LastRunTime    time.Time
	NextRunTime    time.Time
	TotalRuns      int
	SuccessfulRuns int
	FailedRuns     int
	LastError      string
}

// Config contains scheduler configuration
type Config struct {
	// Interval is the sleep between the end of one cycle and the start of
	// the next
	Interval time.Duration

	// StopOnError ends the loop on the first failed cycle
	StopOnError bool
}

// Runner executes one poll cycle
type Runner interface {
	RunCycle(ctx context.Context) error
}

// RunnerFunc adapts a function to Runner
type RunnerFunc func(ctx context.Context) error

// RunCycle calls f(ctx)
func (f RunnerFunc) RunCycle(ctx context.Context) error {
	return f(ctx)
}
