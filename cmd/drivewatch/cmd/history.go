package cmd

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/Ning0612/drivewatch/internal/state"
)

func openState(a *app) (*state.Manager, error) {
	dir, err := a.cfg.StateDir()
	if err != nil {
		return nil, err
	}
	return state.NewManager(dir)
}

func formatStamp(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}

func newHistoryCmd(a *app) *cobra.Command {
	var (
		rootID string
		limit  int
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent poll cycles",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, err := openState(a)
			if err != nil {
				return err
			}
			defer mgr.Close()

			records, err := mgr.GetHistory(rootID, limit)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				if records == nil {
					records = []state.CycleRecord{}
				}
				return enc.Encode(records)
			}

			if len(records) == 0 {
				fmt.Fprintln(out, "No cycles recorded")
				return nil
			}

			tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "STARTED\tROOT\tSTATUS\tEVENTS\tFOLDERS\tPAGES\tCURSOR\tERROR")
			for _, r := range records {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%d\t%s\t%s\n",
					formatStamp(r.StartTime), r.RootID, r.Status,
					r.Events, r.Folders, r.Pages,
					r.Cursor.UTC().Format(time.RFC3339Nano), r.Error)
			}
			return tw.Flush()
		},
	}

	cmd.Flags().StringVar(&rootID, "root", "", "Only show cycles of this folder")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum number of cycles")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")

	return cmd
}

func newStatusCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show committed cursors and running watchers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, err := openState(a)
			if err != nil {
				return err
			}
			defer mgr.Close()

			checkpoints, err := mgr.Checkpoints()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(checkpoints) == 0 {
				fmt.Fprintln(out, "No folders watched yet")
				return nil
			}

			tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "ROOT\tCURSOR\tUPDATED\tWATCHER")
			for _, cp := range checkpoints {
				watcher := "stopped"
				if holder, _ := lockHolder(a.cfg, cp.RootID); holder != nil {
					watcher = fmt.Sprintf("running (PID %d)", holder.PID)
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n",
					cp.RootID, cp.Cursor.UTC().Format(time.RFC3339Nano), formatStamp(cp.UpdatedAt), watcher)
			}
			return tw.Flush()
		},
	}
}
