package cmd

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/histsweep/histsweep/internal/store"
)

var (
	matchesPattern string
	matchesAccount string
	matchesSession string
	matchesLimit   int
)

var matchesCmd = &cobra.Command{
	Use:   "matches",
	Short: "List stored search hits",
	Long:  `List search hits recorded by live or offline searches.`,
	RunE:  runMatches,
}

func init() {
	rootCmd.AddCommand(matchesCmd)
	matchesCmd.Flags().StringVar(&matchesPattern, "pattern", "", "Only hits for this pattern")
	matchesCmd.Flags().StringVar(&matchesAccount, "account", "", "Only hits for this account")
	matchesCmd.Flags().StringVar(&matchesSession, "session", "", "Only hits in this session")
	matchesCmd.Flags().IntVar(&matchesLimit, "limit", 0, "Maximum hits to print")
	matchesCmd.Flags().StringVar(&flagOutput, "output", "", "Output directory holding the database (default \"exports\")")
}

func runMatches(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("output") {
		cfg.OutputDir = flagOutput
	}

	s, err := store.NewSQLiteStore(filepath.Join(cfg.OutputDir, cfg.DBFile))
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer func() { _ = s.Close() }()

	limit := matchesLimit
	if limit <= 0 {
		limit = store.DefaultLimit
	}
	filter := store.MatchFilter{
		PatternID: matchesPattern,
		Account:   matchesAccount,
		SessionID: matchesSession,
		Limit:     limit,
	}

	n := 0
	err = s.ForEachMatch(cmd.Context(), filter, func(h store.MatchHit) error {
		n++
		fmt.Printf("#%d pattern=%s account=%s session=%s message=%s span=%d..%d\n",
			n, h.PatternID, h.Account, h.SessionID, h.MessageID, h.Start, h.End)
		if h.Excerpt != "" {
			fmt.Printf("  %s\n", h.Excerpt)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to list matches: %w", err)
	}

	if n == 0 {
		fmt.Println("No matches.")
	}
	return nil
}
