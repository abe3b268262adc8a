package service

import (
	"context"
	"fmt"

	"github.com/Ning0612/drivewatch/internal/adapter"
	"github.com/Ning0612/drivewatch/internal/adapter/gdrive"
	"github.com/Ning0612/drivewatch/internal/adapter/local"
	"github.com/Ning0612/drivewatch/internal/config"
	"github.com/Ning0612/drivewatch/internal/logger"
	"github.com/Ning0612/drivewatch/internal/sink"
)

// NewAuthenticator builds the Drive authenticator from the drive section
func NewAuthenticator(cfg *config.Config) *gdrive.Authenticator {
	tokenPath := cfg.Drive.TokenPath
	if tokenPath != "" {
		tokenPath = config.ExpandPath(tokenPath)
	}
	return gdrive.NewAuthenticator(gdrive.AuthMode(cfg.Drive.Auth), cfg.Drive.ClientID, cfg.Drive.ClientSecret, tokenPath)
}

// NewDriveClient authenticates once and returns the Drive client shared by
// the watcher and the content sinks
func NewDriveClient(ctx context.Context, cfg *config.Config, log logger.Logger) (*gdrive.Client, error) {
	httpClient, err := NewAuthenticator(cfg).HTTPClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to authenticate: %w", err)
	}

	client, err := gdrive.New(ctx, httpClient, gdrive.Options{
		PageSize: cfg.Drive.PageSize,
		Retry:    cfg.Drive.Retry,
		Logger:   log,
	})
	if err != nil {
		return nil, err
	}
	return client, nil
}

// DriveWriterFunc returns a content writer rooted at a Drive folder
type DriveWriterFunc func(folderID string) adapter.ContentWriter

// BuildSinks creates the sinks enabled in cfg. reader serves the mirror
// sink; driveWriter is used when the mirror targets a Drive folder.
func BuildSinks(cfg *config.Config, reader adapter.ContentReader, driveWriter DriveWriterFunc, log logger.Logger) (*sink.Multi, error) {
	var sinks []sink.Sink

	if cfg.Sinks.Log {
		sinks = append(sinks, sink.NewLog(log))
	}

	if m := cfg.Sinks.Mirror; m.Enabled() {
		var writer adapter.ContentWriter
		if m.LocalDir != "" {
			target, err := local.New(config.ExpandPath(m.LocalDir))
			if err != nil {
				return nil, fmt.Errorf("failed to open mirror directory: %w", err)
			}
			writer = target
		} else {
			if driveWriter == nil {
				return nil, fmt.Errorf("mirror to drive folder %s needs a drive writer", m.DriveFolderID)
			}
			writer = driveWriter(m.DriveFolderID)
		}

		mirror, err := sink.NewMirror(reader, writer, sink.MirrorOptions{
			VerifyChecksum: m.VerifyChecksum,
			Logger:         log,
		})
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, mirror)
	}

	if n := cfg.Sinks.NATS; n.Enabled() {
		pub, err := sink.NewNATS(sink.NATSOptions{
			URL:     n.URL,
			Subject: n.Subject,
			Stream:  n.Stream,
			Logger:  log,
		})
		if err != nil {
			// Close what was already opened
			sink.NewMulti(sinks...).Close()
			return nil, err
		}
		sinks = append(sinks, pub)
	}

	return sink.NewMulti(sinks...), nil
}
