package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/histsweep/histsweep/internal/config"
	"github.com/histsweep/histsweep/internal/creds"
	"github.com/histsweep/histsweep/internal/export"
	"github.com/histsweep/histsweep/internal/pipeline"
	"github.com/histsweep/histsweep/internal/proxy"
	"github.com/histsweep/histsweep/internal/remote"
	"github.com/histsweep/histsweep/internal/retry"
	"github.com/histsweep/histsweep/internal/scan"
	"github.com/histsweep/histsweep/internal/store"
	"github.com/histsweep/histsweep/internal/telemetry"
)

var (
	exportAccounts    string
	exportPatterns    string
	exportLiveSearch  bool
	exportIgnoreCase  bool
	exportSaveDB      bool
	exportSaveFiles   bool
	exportOutput      string
	exportConcurrency int
	exportProxies     []string
	exportRateDelay   time.Duration
	exportTimeout     time.Duration
	exportMaxRetries  int
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export chat histories for a batch of accounts",
	Long: `Export authenticates every account in the accounts file, fetches its
chat sessions and messages, and writes them to SQLite and/or per-account
text files. With --live-search, patterns run over each message as it
arrives and hits land in matches.jsonl.`,
	RunE: runExport,
}

func init() {
	rootCmd.AddCommand(exportCmd)
	exportCmd.Flags().StringVar(&exportAccounts, "accounts", "", "Accounts file, one identifier:secret per line (required)")
	exportCmd.Flags().StringVar(&exportPatterns, "patterns", "", "Patterns file, one regex per line")
	exportCmd.Flags().BoolVar(&exportLiveSearch, "live-search", false, "Run patterns over messages during the export")
	exportCmd.Flags().BoolVar(&exportIgnoreCase, "ignore-case", true, "Match patterns case-insensitively")
	exportCmd.Flags().BoolVar(&exportSaveDB, "save-db", true, "Persist sessions and messages to SQLite")
	exportCmd.Flags().BoolVar(&exportSaveFiles, "save-files", false, "Write per-account text-file exports")
	exportCmd.Flags().StringVar(&exportOutput, "output", "", "Output directory (default \"exports\")")
	exportCmd.Flags().IntVar(&exportConcurrency, "concurrency", 0, "Number of account workers")
	exportCmd.Flags().StringArrayVar(&exportProxies, "proxies", nil, "Proxy URL, repeatable")
	exportCmd.Flags().DurationVar(&exportRateDelay, "rate-delay", 0, "Pause between session fetches of one account")
	exportCmd.Flags().DurationVar(&exportTimeout, "timeout", 0, "Per-call timeout")
	exportCmd.Flags().IntVar(&exportMaxRetries, "max-retries", 0, "Remote call attempts before giving up")
	_ = exportCmd.MarkFlagRequired("accounts")
}

func runExport(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("output") {
		cfg.OutputDir = exportOutput
	}
	log := logrus.WithField("run_id", uuid.NewString())

	// Patterns compile before any network activity, so a bad set costs
	// nothing.
	var set *scan.Set
	if exportPatterns != "" {
		patterns, err := scan.LoadPatterns(exportPatterns, exportIgnoreCase)
		if err != nil {
			return err
		}
		set, err = scan.Compile(patterns)
		if err != nil {
			return fmt.Errorf("failed to compile patterns: %w", err)
		}
	}
	if exportLiveSearch && set == nil {
		return fmt.Errorf("--live-search requires --patterns")
	}

	credentials, malformed, err := creds.ParseFile(exportAccounts)
	if err != nil {
		return err
	}
	for _, m := range malformed {
		log.WithField("line", m.Line).Warn("skipping malformed credential")
	}
	if len(credentials) == 0 {
		return fmt.Errorf("no usable credentials in %s", exportAccounts)
	}

	if err := os.MkdirAll(cfg.OutputDir, 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	var st store.Store
	if exportSaveDB {
		st, err = store.NewSQLiteStore(filepath.Join(cfg.OutputDir, cfg.DBFile))
		if err != nil {
			return fmt.Errorf("failed to open store: %w", err)
		}
		defer func() { _ = st.Close() }()
	}

	var sinks []pipeline.Sink
	if st != nil {
		sinks = append(sinks, &pipeline.StoreSink{Store: st})
	}
	var tree *export.Tree
	if exportSaveFiles {
		tree = export.NewTree(cfg.OutputDir)
		sinks = append(sinks, tree)
	}
	var matches *export.MatchWriter
	if exportLiveSearch {
		matches = export.NewMatchWriter(filepath.Join(cfg.OutputDir, "matches.jsonl"))
		defer func() { _ = matches.Close() }()
		sinks = append(sinks, &pipeline.ScanSink{
			Set:   set,
			Store: st,
			OnHit: func(h store.MatchHit) {
				fmt.Printf("[MATCH] pattern=%s account=%s session=%s message=%s\n",
					h.PatternID, h.Account, h.SessionID, h.MessageID)
				if err := matches.Append(h); err != nil {
					log.WithError(err).Error("failed to append match")
				}
			},
		})
	}

	proxies, err := proxy.NewPool(exportProxies, proxy.Config{
		Threshold: cfg.ProxyThreshold,
		Base:      cfg.QuarantineBase(),
		Cap:       cfg.QuarantineCap(),
		Fallback:  proxyFallback(cfg),
	})
	if err != nil {
		return err
	}

	pool := &pipeline.Pool{
		Worker: &pipeline.Worker{
			Client: remote.NewHTTPClient(remote.HTTPConfig{
				BaseURL: cfg.BaseURL,
				Timeout: cfg.Timeout(),
			}),
			Proxies:     proxies,
			Policy:      retry.New(cfg.MaxAttempts, cfg.BackoffBase(), cfg.BackoffCap(), cfg.Jitter()),
			Sinks:       sinks,
			CallTimeout: cfg.Timeout(),
			RateDelay:   cfg.RateDelay(),
			Logger:      logrus.StandardLogger(),
		},
		Concurrency: cfg.Concurrency,
		QueueDepth:  cfg.Queue(),
	}

	// SIGINT finishes in-flight calls and accounts for everything queued.
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.WithFields(logrus.Fields{
		"accounts":    len(credentials),
		"concurrency": cfg.Concurrency,
		"proxies":     proxies.Size(),
	}).Info("starting export")

	manifest := pool.Process(ctx, credentials, func(r pipeline.JobResult) {
		fmt.Printf("[%s] %s sessions=%d messages=%d attempts=%d",
			r.Outcome, r.Credential.Identifier, r.Sessions, r.Messages, r.Attempts)
		if r.Reason != "" {
			fmt.Printf(" (%s)", r.Reason)
		}
		fmt.Println()
	})

	if tree != nil {
		if err := tree.Close(); err != nil {
			log.WithError(err).Error("failed to finish file export")
		}
	}

	fmt.Println()
	fmt.Println(manifest.Summary())
	telemetry.TrackRun(len(manifest.Results), manifest.Succeeded, manifest.AuthFailed,
		manifest.Transient, manifest.Cancelled)

	if manifest.Succeeded == 0 && len(manifest.Results) > 0 {
		return fmt.Errorf("no account succeeded")
	}
	return nil
}

// loadConfig resolves file + environment configuration, then lays the
// command-line flags on top.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return config.Config{}, err
	}
	flags := cmd.Flags()
	if flags.Changed("concurrency") {
		cfg.Concurrency = exportConcurrency
	}
	if flags.Changed("rate-delay") {
		cfg.RateDelayMS = int(exportRateDelay / time.Millisecond)
	}
	if flags.Changed("timeout") {
		cfg.TimeoutMS = int(exportTimeout / time.Millisecond)
	}
	if flags.Changed("max-retries") {
		cfg.MaxAttempts = exportMaxRetries
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

func proxyFallback(cfg config.Config) proxy.FallbackMode {
	if cfg.ProxyFallbackDirect {
		return proxy.FallbackDirect
	}
	return proxy.FallbackLeastRecent
}
