package cmd

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Ning0612/drivewatch/internal/adapter/gdrive"
	"github.com/Ning0612/drivewatch/internal/service"
)

func newAuthCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "auth",
		Short: "Authorize drivewatch to read your Drive",
		Long: `Run the OAuth consent flow for drive.auth "oauth": open the printed URL,
grant access and paste the authorization code. The token is stored at
drive.token_path and refreshed automatically afterwards.

With drive.auth "adc" credentials come from the environment and nothing
needs to be stored.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			auth := service.NewAuthenticator(a.cfg)

			if auth.Mode() != gdrive.AuthOAuth {
				fmt.Fprintln(out, "Using application default credentials; run 'gcloud auth application-default login' to set them up")
				return nil
			}

			url, _, err := auth.AuthCodeURL()
			if err != nil {
				return err
			}

			fmt.Fprintf(out, "Open this URL in your browser and grant access:\n\n  %s\n\nAuthorization code: ", url)

			code, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
			code = strings.TrimSpace(code)
			if code == "" {
				if err != nil {
					return fmt.Errorf("failed to read authorization code: %w", err)
				}
				return fmt.Errorf("authorization code cannot be empty")
			}

			if _, err := auth.Exchange(cmd.Context(), code); err != nil {
				return err
			}
			fmt.Fprintf(out, "Token saved to %s\n", auth.TokenPath())
			return nil
		},
	}
}
