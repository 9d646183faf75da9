package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Build-time variables set via -ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// Global flags.
var (
	manifestPath string
	privatePath  string
	lockfilePath string
	cacheDir     string
	offline      bool
	verbose      bool
	quiet        bool
)

var rootCmd = &cobra.Command{
	Use:   "agpm",
	Short: "A Git-based package manager for AI coding assistant files",
	Long: `agpm resolves and installs the agents, snippets, commands, scripts, hooks,
MCP-server configs, and skills an AI coding assistant consumes from Git
sources, pinning every resolved artifact immutably in a lockfile.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("agpm %s\n", version)
		fmt.Printf("  commit: %s\n", commit)
		fmt.Printf("  built:  %s\n", date)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&manifestPath, "manifest", "agpm.toml", "path to manifest file")
	rootCmd.PersistentFlags().StringVar(&privatePath, "private", "agpm.private.toml", "path to private overlay manifest")
	rootCmd.PersistentFlags().StringVar(&lockfilePath, "lockfile", "agpm.lock", "path to lockfile")
	rootCmd.PersistentFlags().StringVar(&cacheDir, "cache-dir", "", "git cache directory (default: OS cache dir)")
	rootCmd.PersistentFlags().BoolVar(&offline, "offline", false, "never fetch from remotes, use only what is already cached")
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "detailed output")
	rootCmd.PersistentFlags().BoolVar(&quiet, "quiet", false, "minimal output (errors only)")

	rootCmd.AddCommand(versionCmd)
}

// Execute runs the root command and returns the process exit code.
func Execute() int {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitCodeFor(err)
	}
	return 0
}
