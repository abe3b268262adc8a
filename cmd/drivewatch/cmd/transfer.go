package cmd

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Ning0612/drivewatch/internal/checksum"
	"github.com/Ning0612/drivewatch/internal/progress"
)

func newReadCmd(a *app) *cobra.Command {
	var (
		output       string
		showProgress bool
		noVerify     bool
	)

	cmd := &cobra.Command{
		Use:   "read <file-id>",
		Short: "Download the content of a Drive file",
		Long: `Download a binary Drive file to --output, or to stdout when no output is
given. The MD5 checksum reported by Drive is verified unless --no-verify.`,
		Args:        cobra.ExactArgs(1),
		Annotations: map[string]string{annotationStdoutData: "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			fileID := args[0]

			d, err := a.openDrive(ctx, a.cfg, a.log)
			if err != nil {
				return err
			}

			entry, err := d.source.GetEntry(ctx, fileID)
			if err != nil {
				return err
			}

			rc, err := d.reader.Read(ctx, fileID)
			if err != nil {
				return err
			}
			defer rc.Close()

			var dst io.Writer = cmd.OutOrStdout()
			if output != "" && output != "-" {
				f, err := os.Create(output)
				if err != nil {
					return fmt.Errorf("failed to create output file: %w", err)
				}
				defer f.Close()
				dst = f
			}

			var src io.Reader = rc
			var verifier *checksum.Verifier
			if !noVerify && entry.MD5Checksum != "" {
				verifier, err = checksum.NewVerifier(rc, checksum.MD5, entry.MD5Checksum)
				if err != nil {
					return err
				}
				src = verifier
			}

			var reporter progress.Reporter = progress.NullReporter{}
			if showProgress {
				reporter = progress.NewLineReporter(cmd.ErrOrStderr())
			}
			total := int64(-1)
			if entry.Size != nil {
				total = *entry.Size
			}
			reporter.Start(entry.Name, total)

			if _, err := io.Copy(dst, progress.NewReader(src, reporter)); err != nil {
				reporter.Error(err)
				return fmt.Errorf("failed to download %s: %w", fileID, err)
			}
			if verifier != nil {
				if err := verifier.Verify(); err != nil {
					reporter.Error(err)
					return err
				}
			}
			reporter.Complete()
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "Write to this file instead of stdout")
	cmd.Flags().BoolVar(&showProgress, "progress", false, "Show transfer progress on stderr")
	cmd.Flags().BoolVar(&noVerify, "no-verify", false, "Skip MD5 verification")

	return cmd
}

func newWriteCmd(a *app) *cobra.Command {
	var (
		folderID     string
		showProgress bool
	)

	cmd := &cobra.Command{
		Use:   "write <local-file> [relative-path]",
		Short: "Upload a local file into a Drive folder",
		Long: `Upload a local file below --folder, creating missing folders of the
slash-separated relative path. An existing file at that path is replaced.
The relative path defaults to the local file name.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if folderID == "" {
				folderID = a.cfg.Sinks.Mirror.DriveFolderID
			}
			if folderID == "" {
				return fmt.Errorf("--folder is required")
			}

			localPath := args[0]
			relPath := []string{filepath.Base(localPath)}
			if len(args) == 2 {
				relPath = splitRelativePath(args[1])
			}
			if len(relPath) == 0 {
				return fmt.Errorf("relative path cannot be empty")
			}

			f, err := os.Open(localPath)
			if err != nil {
				return fmt.Errorf("failed to open %s: %w", localPath, err)
			}
			defer f.Close()

			info, err := f.Stat()
			if err != nil {
				return err
			}
			if info.IsDir() {
				return fmt.Errorf("%s is a directory", localPath)
			}

			d, err := a.openDrive(ctx, a.cfg, a.log)
			if err != nil {
				return err
			}

			var reporter progress.Reporter = progress.NullReporter{}
			if showProgress {
				reporter = progress.NewLineReporter(cmd.ErrOrStderr())
			}
			reporter.Start(strings.Join(relPath, "/"), info.Size())

			id, err := d.writer(folderID).Write(ctx, relPath, progress.NewReader(f, reporter))
			if err != nil {
				reporter.Error(err)
				return err
			}
			reporter.Complete()

			fmt.Fprintf(cmd.OutOrStdout(), "%s\n", id)
			return nil
		},
	}

	cmd.Flags().StringVar(&folderID, "folder", "", "Target Drive folder id (default: sinks.mirror.drive_folder_id)")
	cmd.Flags().BoolVar(&showProgress, "progress", false, "Show transfer progress on stderr")

	return cmd
}

// splitRelativePath splits a slash-separated path, dropping empty segments
func splitRelativePath(p string) []string {
	var segs []string
	for _, s := range strings.Split(filepath.ToSlash(p), "/") {
		if s != "" && s != "." {
			segs = append(segs, s)
		}
	}
	return segs
}
