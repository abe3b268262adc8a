package sink

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/Ning0612/drivewatch/internal/adapter"
	"github.com/Ning0612/drivewatch/internal/checksum"
	"github.com/Ning0612/drivewatch/internal/domain"
	"github.com/Ning0612/drivewatch/internal/logger"
)

// Mirror copies the content of every changed file to a target store under
// the same relative path. Folders and Drive-native documents are skipped.
type Mirror struct {
	reader adapter.ContentReader
	writer adapter.ContentWriter
	verify bool
	log    logger.Logger
}

// MirrorOptions configures a Mirror
type MirrorOptions struct {
	// VerifyChecksum compares the downloaded bytes against the MD5 the
	// store reported for the event
	VerifyChecksum bool
	Logger         logger.Logger
}

// NewMirror creates a mirror sink
func NewMirror(reader adapter.ContentReader, writer adapter.ContentWriter, opts MirrorOptions) (*Mirror, error) {
	if reader == nil || writer == nil {
		return nil, fmt.Errorf("mirror requires a content reader and writer")
	}
	return &Mirror{
		reader: reader,
		writer: writer,
		verify: opts.VerifyChecksum,
		log:    logger.OrNull(opts.Logger).With("component", "sink", "sink", "mirror"),
	}, nil
}

// Name returns the sink name
func (m *Mirror) Name() string {
	return "mirror"
}

// Handle copies the event's file content
func (m *Mirror) Handle(ctx context.Context, event domain.ChangeEvent) error {
	if event.IsFolder || event.IsNative() {
		m.log.Debug("skipping entry without raw content", "file_id", event.FileID, "mime_type", event.MimeType)
		return nil
	}

	rc, err := m.reader.Read(ctx, event.FileID)
	if err != nil {
		// Deleted or converted between detection and copy; a later
		// change will surface again through the watcher
		if errors.Is(err, domain.ErrNotFound) || errors.Is(err, domain.ErrNotFile) {
			m.log.Warn("file no longer readable, skipping", "file_id", event.FileID, "path", event.Path(), "error", err)
			return nil
		}
		return fmt.Errorf("failed to read %s: %w", event.FileID, err)
	}
	defer rc.Close()

	var (
		src      io.Reader = rc
		verifier *checksum.Verifier
	)
	if m.verify && event.MD5Checksum != "" {
		verifier, err = checksum.NewVerifier(rc, checksum.MD5, event.MD5Checksum)
		if err != nil {
			return err
		}
		src = verifier
	}

	target, err := m.writer.Write(ctx, event.RelativePath, src)
	if err != nil {
		// Retrying cannot fix the path, and failing would hold the cursor
		// on this event forever
		if errors.Is(err, domain.ErrInvalidPath) {
			m.log.Warn("path cannot be mirrored, skipping", "file_id", event.FileID, "path", event.Path(), "error", err)
			return nil
		}
		return fmt.Errorf("failed to write %s: %w", event.Path(), err)
	}

	if verifier != nil {
		if err := verifier.Verify(); err != nil {
			return fmt.Errorf("%s: %w", event.Path(), err)
		}
	}

	m.log.Info("mirrored file", "file_id", event.FileID, "path", event.Path(), "target", target)
	return nil
}

// Close is a no-op
func (m *Mirror) Close() error {
	return nil
}
