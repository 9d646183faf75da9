package cmd

import (
	"github.com/spf13/cobra"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Re-install files from the existing lockfile without re-resolving",
	Long: `Reads the lockfile as the source of truth and re-writes every installed
file from it. Does NOT modify the lockfile and does NOT re-resolve against
upstream — use 'agpm update' for that.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newClient()
		if err != nil {
			return err
		}

		result, err := client.Sync(cmd.Context())
		if err != nil {
			reportResult(result)
			return err
		}
		reportResult(result)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(syncCmd)
}
