package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Ning0612/drivewatch/internal/config"
	"github.com/Ning0612/drivewatch/internal/daemon"
	"github.com/Ning0612/drivewatch/internal/logger"
	"github.com/Ning0612/drivewatch/internal/metrics"
	"github.com/Ning0612/drivewatch/internal/service"
	"github.com/Ning0612/drivewatch/internal/state"
)

type watchOptions struct {
	interval    time.Duration
	since       string
	lookback    time.Duration
	filesOnly   bool
	concurrency int
	noResume    bool
	pidFile     string
	once        bool
}

func newWatchCmd(a *app) *cobra.Command {
	var opts watchOptions

	cmd := &cobra.Command{
		Use:   "watch [folder-id]",
		Short: "Poll a folder tree and report changed entries",
		Long: `Poll the watched folder and all of its descendants every interval and
deliver one change event per new or modified entry to the configured sinks.

The folder id comes from the argument or watch.folder_id. Only one watcher
may run per folder; the committed cursor is resumed on restart. SIGINT and
SIGTERM stop the watcher after the running cycle.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := a.cfg
			if len(args) == 1 {
				cfg.Watch.FolderID = args[0]
			}
			applyWatchFlags(cmd, cfg, opts)
			if err := cfg.ValidateWatch(); err != nil {
				return err
			}
			return runWatch(cmd, a, cfg, opts)
		},
	}

	cmd.Flags().DurationVar(&opts.interval, "interval", 0, "Poll interval (overrides watch.interval)")
	cmd.Flags().StringVar(&opts.since, "since", "", "RFC3339 start time of the first cycle")
	cmd.Flags().DurationVar(&opts.lookback, "lookback", 0, "Start the first cycle this far in the past")
	cmd.Flags().BoolVar(&opts.filesOnly, "files-only", false, "Report files only, not folders")
	cmd.Flags().IntVar(&opts.concurrency, "concurrency", 0, "Folders listed in parallel")
	cmd.Flags().BoolVar(&opts.noResume, "no-resume", false, "Ignore the committed cursor and start fresh")
	cmd.Flags().StringVar(&opts.pidFile, "pid-file", "", "Write the process ID to this file while running")
	cmd.Flags().BoolVar(&opts.once, "once", false, "Run a single cycle and exit")

	return cmd
}

// applyWatchFlags overrides config values with explicitly set flags
func applyWatchFlags(cmd *cobra.Command, cfg *config.Config, opts watchOptions) {
	flags := cmd.Flags()
	if flags.Changed("interval") {
		cfg.Watch.Interval = opts.interval
	}
	if flags.Changed("since") {
		cfg.Watch.Since = opts.since
	}
	if flags.Changed("lookback") {
		cfg.Watch.Lookback = opts.lookback
		if !flags.Changed("since") {
			cfg.Watch.Since = ""
		}
	}
	if flags.Changed("files-only") {
		cfg.Watch.FilesOnly = opts.filesOnly
	}
	if flags.Changed("concurrency") {
		cfg.Watch.Concurrency = opts.concurrency
	}
	if opts.noResume {
		cfg.Watch.Resume = false
	}
}

func runWatch(cmd *cobra.Command, a *app, cfg *config.Config, opts watchOptions) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	d, err := a.openDrive(ctx, cfg, a.log)
	if err != nil {
		return err
	}

	sinks, err := service.BuildSinks(cfg, d.reader, d.writer, a.log)
	if err != nil {
		return err
	}

	svc, err := service.NewWatchService(cfg, service.Deps{
		Source: d.source,
		Sink:   sinks,
		Logger: a.log,
	})
	if err != nil {
		sinks.Close()
		return err
	}
	defer svc.Close()

	if opts.pidFile != "" {
		pf := daemon.NewPIDFile(config.ExpandPath(opts.pidFile))
		if err := pf.Write(); err != nil {
			return err
		}
		defer pf.Remove()
	}

	if cfg.Metrics.Addr != "" {
		shutdown := startMetricsServer(cfg.Metrics.Addr, a.log)
		defer shutdown()
	}

	out := cmd.OutOrStdout()
	if opts.once {
		record, err := svc.RunOnce(ctx)
		if record != nil {
			printCycle(out, record)
		}
		return err
	}

	fmt.Fprintf(out, "Watching %s every %s from %s (Ctrl+C to stop)\n",
		cfg.Watch.FolderID, cfg.Watch.Interval, svc.Watcher().Cursor().Format(time.RFC3339))
	if err := svc.Run(ctx); err != nil {
		return err
	}

	status := svc.Status()
	fmt.Fprintf(out, "Stopped; committed cursor %s\n", status.Cursor.Format(time.RFC3339Nano))
	return nil
}

func printCycle(w io.Writer, r *state.CycleRecord) {
	fmt.Fprintf(w, "Cycle %s %s: %d events, %d folders, %d pages, cursor %s\n",
		r.ID, r.Status, r.Events, r.Folders, r.Pages, r.Cursor.Format(time.RFC3339Nano))
	if r.Error != "" {
		fmt.Fprintf(w, "  error: %s\n", r.Error)
	}
}

// startMetricsServer serves /metrics until the returned func is called
func startMetricsServer(addr string, log logger.Logger) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Info("metrics endpoint listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics endpoint failed", "addr", addr, "error", err)
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	}
}
