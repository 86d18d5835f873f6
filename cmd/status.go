package cmd

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/histsweep/histsweep/internal/store"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show what the database holds",
	Long:  `Show counts of exported accounts, sessions, messages, and search hits.`,
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
	statusCmd.Flags().StringVar(&flagOutput, "output", "", "Output directory holding the database (default \"exports\")")
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("output") {
		cfg.OutputDir = flagOutput
	}
	dbPath := filepath.Join(cfg.OutputDir, cfg.DBFile)

	s, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer func() { _ = s.Close() }()

	stats, err := s.Counts(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to get stats: %w", err)
	}

	fmt.Println("Histsweep Status")
	fmt.Println("================")
	fmt.Printf("Database: %s\n\n", dbPath)
	fmt.Printf("Accounts: %d\n", stats.Accounts)
	fmt.Printf("Sessions: %d\n", stats.Sessions)
	fmt.Printf("Messages: %d\n", stats.Messages)
	fmt.Printf("Matches:  %d\n", stats.Matches)

	return nil
}
