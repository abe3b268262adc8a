// Package cmd provides the CLI commands for drivewatch.
package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Ning0612/drivewatch/internal/adapter"
	"github.com/Ning0612/drivewatch/internal/config"
	"github.com/Ning0612/drivewatch/internal/logger"
	"github.com/Ning0612/drivewatch/internal/service"
)

// annotationStdoutData marks commands that write content to stdout; their
// log lines go to stderr instead
const annotationStdoutData = "stdout-data"

// drive is an opened remote store
type drive struct {
	source adapter.Source
	reader adapter.ContentReader
	writer service.DriveWriterFunc
}

type openDriveFunc func(ctx context.Context, cfg *config.Config, log logger.Logger) (*drive, error)

// app carries state shared by every command of one invocation
type app struct {
	configPath string
	logLevel   string

	cfg *config.Config
	log logger.Logger

	openDrive openDriveFunc
}

// openGoogleDrive authenticates and opens the Drive API client
func openGoogleDrive(ctx context.Context, cfg *config.Config, log logger.Logger) (*drive, error) {
	client, err := service.NewDriveClient(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	return &drive{
		source: client,
		reader: client,
		writer: func(folderID string) adapter.ContentWriter { return client.Writer(folderID) },
	}, nil
}

// NewRootCmd creates the root command for the drivewatch CLI.
func NewRootCmd() *cobra.Command {
	return newRootCmd(&app{openDrive: openGoogleDrive})
}

func newRootCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "drivewatch",
		Short: "Watch a Google Drive folder tree for changes",
		Long: `drivewatch polls a Google Drive folder and every folder below it,
and reports each file or folder created or modified since the previous poll.

Change events are logged, mirrored to a local directory or another Drive
folder, and published to NATS, depending on the configured sinks.`,
		SilenceUsage:      true,
		PersistentPreRunE: a.setup,
		PersistentPostRunE: func(_ *cobra.Command, _ []string) error {
			return logger.Sync()
		},
	}

	cmd.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "Config file (default: search ., ./configs and the user config dir)")
	cmd.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "Override logging.level (debug, info, warn, error)")

	cmd.AddCommand(newWatchCmd(a))
	cmd.AddCommand(newStopCmd(a))
	cmd.AddCommand(newStatusCmd(a))
	cmd.AddCommand(newHistoryCmd(a))
	cmd.AddCommand(newAuthCmd(a))
	cmd.AddCommand(newReadCmd(a))
	cmd.AddCommand(newWriteCmd(a))

	return cmd
}

// setup loads the configuration and initializes the process-wide logger
func (a *app) setup(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	if a.logLevel != "" {
		cfg.Logging.Level = a.logLevel
	}

	logCfg := cfg.LoggerConfig()
	if cmd.Annotations[annotationStdoutData] == "true" {
		for i, o := range logCfg.Outputs {
			if o.Type == logger.OutputStdout {
				logCfg.Outputs[i].Type = logger.OutputStderr
			}
		}
	}

	if err := logger.Init(logCfg); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	a.cfg = cfg
	a.log = logger.Get()
	return nil
}

// Execute runs the root command.
func Execute() error {
	defer logger.Shutdown()
	return NewRootCmd().Execute()
}
