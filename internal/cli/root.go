// Package cli implements the keyprobe commands.
package cli

import (
	"github.com/spf13/cobra"
)

var (
	configPath string
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "keyprobe",
	Short: "Validate API credentials against AI providers",
	Long: `Keyprobe validates batches of API credentials against a provider, retrying
transient failures and recording a structured log entry per credential.`,
	SilenceUsage: true,
}

// Execute runs the CLI.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to a YAML config file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log engine activity to stderr")

	// Add subcommands (alphabetical)
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(engineCmd)
	rootCmd.AddCommand(logsCmd)
	rootCmd.AddCommand(modelsCmd)
}
