package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Ning0612/drivewatch/internal/config"
	"github.com/Ning0612/drivewatch/internal/daemon"
	"github.com/Ning0612/drivewatch/internal/lock"
)

func newStopCmd(a *app) *cobra.Command {
	var pidFile string

	cmd := &cobra.Command{
		Use:   "stop [folder-id]",
		Short: "Stop the watcher of a folder",
		Long: `Signal the watcher that holds the lock of a folder to stop after its
running cycle. With --pid-file the process is taken from that file instead.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()

			if pidFile != "" {
				pid, err := daemon.NewPIDFile(config.ExpandPath(pidFile)).Kill()
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "Sent stop signal to watcher (PID %d)\n", pid)
				return nil
			}

			rootID := a.cfg.Watch.FolderID
			if len(args) == 1 {
				rootID = args[0]
			}
			if rootID == "" {
				return fmt.Errorf("folder id required: pass it as an argument or set watch.folder_id")
			}

			holder, err := lockHolder(a.cfg, rootID)
			if err != nil {
				return err
			}
			if holder == nil {
				return fmt.Errorf("no watcher is running for %s", rootID)
			}
			if host, _ := os.Hostname(); holder.Hostname != "" && holder.Hostname != host {
				return fmt.Errorf("watcher for %s runs on host %s (PID %d)", rootID, holder.Hostname, holder.PID)
			}

			if err := daemon.Terminate(holder.PID); err != nil {
				return err
			}
			fmt.Fprintf(out, "Sent stop signal to watcher of %s (PID %d)\n", rootID, holder.PID)
			return nil
		},
	}

	cmd.Flags().StringVar(&pidFile, "pid-file", "", "Stop the process recorded in this PID file")

	return cmd
}

// lockHolder returns the live holder of a root's lock, or nil when the root
// is not being watched
func lockHolder(cfg *config.Config, rootID string) (*lock.LockInfo, error) {
	stateDir, err := cfg.StateDir()
	if err != nil {
		return nil, err
	}
	fl, err := lock.NewFileLock(stateDir, rootID)
	if err != nil {
		return nil, err
	}

	holder, err := fl.GetHolder()
	if err != nil {
		// Missing, stale and unreadable locks have no live holder
		return nil, nil
	}
	if !daemon.IsProcessRunning(holder.PID) {
		return nil, nil
	}
	return holder, nil
}
