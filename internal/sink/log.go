package sink

import (
	"context"

	"github.com/Ning0612/drivewatch/internal/domain"
	"github.com/Ning0612/drivewatch/internal/logger"
)

// Log writes one structured record per event
type Log struct {
	log logger.Logger
}

// NewLog creates a log sink
func NewLog(log logger.Logger) *Log {
	return &Log{log: logger.OrNull(log).With("component", "sink", "sink", "log")}
}

// Name returns the sink name
func (l *Log) Name() string {
	return "log"
}

// Handle logs the event
func (l *Log) Handle(ctx context.Context, event domain.ChangeEvent) error {
	args := []any{
		"type", string(event.Type),
		"file_id", event.FileID,
		"path", event.Path(),
		"modified", event.FileModifiedAt,
		"folder", event.IsFolder,
	}
	if event.Size != nil {
		args = append(args, "size", *event.Size)
	}
	if event.MimeType != "" {
		args = append(args, "mime_type", event.MimeType)
	}
	l.log.Info("change detected", args...)
	return nil
}

// Close is a no-op
func (l *Log) Close() error {
	return nil
}
