// Package sink delivers change events to downstream consumers.
package sink

import (
	"context"
	"errors"
	"fmt"

	"github.com/Ning0612/drivewatch/internal/domain"
	"github.com/Ning0612/drivewatch/internal/metrics"
)

// Sink consumes change events. Handle must be idempotent: a failed cycle
// redelivers every event of that cycle.
type Sink interface {
	Name() string
	Handle(ctx context.Context, event domain.ChangeEvent) error
	Close() error
}

// Multi delivers each event to every sink in order and stops at the first
// failure, which fails the poll cycle
type Multi struct {
	sinks []Sink
}

// NewMulti creates a fan-out over sinks
func NewMulti(sinks ...Sink) *Multi {
	return &Multi{sinks: sinks}
}

// Name returns the sink name
func (m *Multi) Name() string {
	return "multi"
}

// Len returns the number of sinks
func (m *Multi) Len() int {
	return len(m.sinks)
}

// Handle delivers event to every sink
func (m *Multi) Handle(ctx context.Context, event domain.ChangeEvent) error {
	for _, s := range m.sinks {
		err := s.Handle(ctx, event)
		metrics.RecordSinkDelivery(s.Name(), err)
		if err != nil {
			return fmt.Errorf("sink %s: %w", s.Name(), err)
		}
	}
	return nil
}

// Close closes every sink and joins their errors
func (m *Multi) Close() error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.Close(); err != nil {
			errs = append(errs, fmt.Errorf("sink %s: %w", s.Name(), err))
		}
	}
	return errors.Join(errs...)
}
