package cmd

import (
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/histsweep/histsweep/internal/telemetry"
)

var (
	flagConfig  string
	flagVerbose bool
	// flagOutput is shared by the commands that read an existing export
	// tree (search, matches, messages, status); export binds its own.
	flagOutput string
)

var rootCmd = &cobra.Command{
	Use:   "histsweep",
	Short: "Bulk chat-history exporter with regex search",
	Long: `Histsweep exports chat histories for a batch of accounts into SQLite
and per-account text files, optionally running regex patterns over the
messages live during the export or offline over data exported earlier.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if flagVerbose {
			logrus.SetLevel(logrus.DebugLevel)
		}
		telemetry.SetVersion(Version)
		telemetry.Init()
		// Track command usage (skip root command itself)
		if cmd.Name() != "histsweep" {
			telemetry.TrackCommand(cmd.Name())
		}
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		telemetry.Close()
	},
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "Path to a TOML config file")
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "Enable debug logging")
}
