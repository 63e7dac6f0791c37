package main

import (
	"github.com/spf13/cobra"
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "anqueue",
	Short: "Anqueue - in-process task queue with a supervised worker pool",
	Long: `Anqueue runs a controller that dispatches tasks to a pool of
supervised worker processes, with priority scheduling, pluggable
executors, and an optional persistence adapter.`,
	Version: Version,
}

func init() {
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(serveCmd)
}
