package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

var (
	flagURL   string
	flagJSON  bool
	flagDebug bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "tfctl",
		Short: "CLI for the testflow server",
		Long:  "A command-line interface for uploading and syncing test sets, starting runs and inspecting step results.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
	}

	rootCmd.PersistentFlags().StringVar(&flagURL, "url", "", "API server URL (env: TESTFLOW_URL)")
	rootCmd.PersistentFlags().BoolVar(&flagJSON, "json", false, "Output as JSON")
	rootCmd.PersistentFlags().BoolVar(&flagDebug, "debug", false, "Enable debug output")

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("tfctl %s (commit: %s, built: %s)\n", Version, Commit, BuildDate)
		},
	}

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(newConfigCmd())
	rootCmd.AddCommand(newVersionsCmd())
	rootCmd.AddCommand(newSyncCmd())
	rootCmd.AddCommand(newRunsCmd())
	rootCmd.AddCommand(newStepResultsCmd())
	rootCmd.AddCommand(newLocatorsCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
