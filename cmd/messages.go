package cmd

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/histsweep/histsweep/internal/store"
)

var (
	messagesAccount string
	messagesSession string
	messagesLimit   int
)

var messagesCmd = &cobra.Command{
	Use:   "messages",
	Short: "View exported messages",
	Long:  `View messages stored in the database, in per-session order.`,
	RunE:  runMessages,
}

func init() {
	rootCmd.AddCommand(messagesCmd)
	messagesCmd.Flags().StringVar(&messagesAccount, "account", "", "Only this account's messages")
	messagesCmd.Flags().StringVar(&messagesSession, "session", "", "Only this session's messages")
	messagesCmd.Flags().IntVar(&messagesLimit, "limit", 0, "Maximum messages to print")
	messagesCmd.Flags().StringVar(&flagOutput, "output", "", "Output directory holding the database (default \"exports\")")
}

func runMessages(cmd *cobra.Command, args []string) error {
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

	limit := messagesLimit
	if limit <= 0 {
		limit = store.DefaultLimit
	}
	filter := store.MessageFilter{
		Account:   messagesAccount,
		SessionID: messagesSession,
		Limit:     limit,
	}

	n := 0
	err = s.ForEachMessage(cmd.Context(), filter, func(m store.Message) error {
		n++
		fmt.Printf("[%s] %s/%s #%d\n", m.Role, m.Account, m.SessionID, m.Seq)
		if !m.Timestamp.IsZero() {
			fmt.Printf("  Time: %s\n", m.Timestamp.Format("2006-01-02 15:04:05"))
		}
		fmt.Printf("  %s\n\n", m.Text)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to list messages: %w", err)
	}

	if n == 0 {
		fmt.Println("No messages.")
	}
	return nil
}
