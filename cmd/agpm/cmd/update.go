package cmd

import (
	"github.com/spf13/cobra"

	"github.com/agpm-dev/agpm/pkg/agpm"
)

var updateDryRun bool

var updateCmd = &cobra.Command{
	Use:   "update",
	Short: "Re-resolve the manifest against upstream and rewrite the lockfile",
	Long: `Resolves every dependency against the current state of its source (ignoring
what the existing lockfile pinned), installs the result, and rewrites the
lockfile to match.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newClient()
		if err != nil {
			return err
		}

		result, err := client.Install(cmd.Context(), agpm.InstallOptions{Frozen: false, DryRun: updateDryRun})
		if err != nil {
			reportResult(result)
			return err
		}

		if updateDryRun {
			info("Dry run — lockfile not modified.")
		}
		reportResult(result)
		return nil
	},
}

func init() {
	updateCmd.Flags().BoolVar(&updateDryRun, "dry-run", false, "show what would change without updating the lockfile")
	rootCmd.AddCommand(updateCmd)
}
