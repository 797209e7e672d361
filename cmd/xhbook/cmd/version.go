package cmd

import (
	"fmt"

	"xhbook/internal/backend"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the client version and check for a newer one.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "xhbook %s\n", backend.ClientVersion)

		check, err := current.backend.CheckVersion(cmd.Context(), backend.ClientVersion)
		if err != nil {
			return fmt.Errorf("version check: %w", err)
		}
		if !check.ShouldUpdate {
			fmt.Fprintln(out, "This is the latest version.")
			return nil
		}
		fmt.Fprintf(out, "A new version is available: %s\n", check.LatestVersionUrl)
		if check.ReleaseNote != "" {
			fmt.Fprintln(out, check.ReleaseNote)
		}
		current.updateShown = true
		return nil
	},
}
