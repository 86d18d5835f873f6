package cmd

import (
	"fmt"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/histsweep/histsweep/internal/export"
	"github.com/histsweep/histsweep/internal/scan"
	"github.com/histsweep/histsweep/internal/store"
)

var (
	searchPatterns   string
	searchIgnoreCase bool
	searchAccount    string
	searchSession    string
)

var searchCmd = &cobra.Command{
	Use:   "search",
	Short: "Run patterns over previously exported messages",
	Long: `Search replays the messages already in the database through a pattern
set, without touching the network. Hits are printed, stored, and
appended to offline_matches.jsonl in the output directory.`,
	RunE: runSearch,
}

func init() {
	rootCmd.AddCommand(searchCmd)
	searchCmd.Flags().StringVar(&searchPatterns, "patterns", "", "Patterns file, one regex per line (required)")
	searchCmd.Flags().BoolVar(&searchIgnoreCase, "ignore-case", true, "Match patterns case-insensitively")
	searchCmd.Flags().StringVar(&flagOutput, "output", "", "Output directory holding the database (default \"exports\")")
	searchCmd.Flags().StringVar(&searchAccount, "account", "", "Only search this account's messages")
	searchCmd.Flags().StringVar(&searchSession, "session", "", "Only search this session's messages")
	_ = searchCmd.MarkFlagRequired("patterns")
}

func runSearch(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("output") {
		cfg.OutputDir = flagOutput
	}

	patterns, err := scan.LoadPatterns(searchPatterns, searchIgnoreCase)
	if err != nil {
		return err
	}
	set, err := scan.Compile(patterns)
	if err != nil {
		return fmt.Errorf("failed to compile patterns: %w", err)
	}

	st, err := store.NewSQLiteStore(filepath.Join(cfg.OutputDir, cfg.DBFile))
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer func() { _ = st.Close() }()

	matches := export.NewMatchWriter(filepath.Join(cfg.OutputDir, "offline_matches.jsonl"))
	defer func() { _ = matches.Close() }()

	filter := store.MessageFilter{Account: searchAccount, SessionID: searchSession}
	n, err := scan.Sweep(cmd.Context(), st, set, filter, func(h store.MatchHit) {
		fmt.Printf("[MATCH] pattern=%s account=%s session=%s message=%s\n",
			h.PatternID, h.Account, h.SessionID, h.MessageID)
		if err := matches.Append(h); err != nil {
			logrus.WithError(err).Error("failed to append match")
		}
	})
	if err != nil {
		return err
	}

	fmt.Printf("\n%d hit(s) across %d pattern(s)\n", n, set.Len())
	return nil
}
