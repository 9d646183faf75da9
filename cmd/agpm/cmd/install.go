package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/agpm-dev/agpm/pkg/agpm"
)

var installDryRun bool

var installCmd = &cobra.Command{
	Use:   "install",
	Short: "Install dependencies, enforcing the lockfile if one exists",
	Long: `Resolves the manifest and installs every resolved artifact. If a lockfile
already exists, resolution must reproduce it exactly — any drift is reported
as a stale lockfile rather than silently re-pinned. Run 'agpm update' to
intentionally change what the lockfile pins.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newClient()
		if err != nil {
			return err
		}

		frozen := false
		if _, err := os.Stat(lockfilePath); err == nil {
			frozen = true
		}

		result, err := client.Install(cmd.Context(), agpm.InstallOptions{Frozen: frozen, DryRun: installDryRun})
		if err != nil {
			reportResult(result)
			return err
		}

		if installDryRun {
			info("Dry run — no files written.")
		}
		reportResult(result)
		return nil
	},
}

func init() {
	installCmd.Flags().BoolVar(&installDryRun, "dry-run", false, "show what would change without writing files")
	rootCmd.AddCommand(installCmd)
}
