package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/iksnae/querychat/internal"
	"github.com/iksnae/querychat/internal/history"
	"github.com/spf13/cobra"
)

var (
	verbose     bool
	configPath  string
	backendURL  string
	dbType      string
	historyPath string
	version     string = "dev"
	commit      string = "unknown"
	date        string = "unknown"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "querychat",
	Short: "Ask questions about your data in plain language",
	Long: `A command-line client for a conversational analytics service.

Questions are sent to the query service, which turns them into SQL and runs
them. querychat follows each query through its stages, asks you to approve
risky statements, suggests fixes for failed queries and keeps a local history
of every chat.

Features:
  • Live query stages and thinking steps
  • Human approval for risky SQL, with optional edits
  • Self-heal suggestions for misspelled columns
  • Local chat history in SQLite
  • Export in multiple formats (JSON, JSONL, YAML, Markdown)

Quick Start:
  querychat ask "top 10 customers by revenue"   # Ask one question
  querychat ask                                   # Interactive chat
  querychat history list                          # List past chats
  querychat export <chat-id> --format md          # Export a chat`,
	Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		internal.SetVerbose(verbose)
	},
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config.yaml (default: per-user config directory)")
	rootCmd.PersistentFlags().StringVar(&backendURL, "backend", "", "Query service URL (overrides "+internal.EnvBackendURL+")")
	rootCmd.PersistentFlags().StringVar(&dbType, "db-type", "", "Target database type ("+strings.Join(internal.SupportedDatabaseTypes(), ", ")+")")
	rootCmd.PersistentFlags().StringVar(&historyPath, "history", "", "Path to the chat history database")

	// Set version template to ensure --version flag works
	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)
}

// loadConfig reads the config file and environment, then applies the
// persistent flags on top
func loadConfig() (internal.Config, error) {
	cfg, err := internal.LoadConfig(configPath)
	if err != nil {
		return internal.Config{}, err
	}

	if backendURL != "" {
		cfg.BackendURL = strings.TrimRight(strings.TrimSpace(backendURL), "/")
	}
	if dbType != "" {
		cfg.DatabaseType = strings.ToLower(strings.TrimSpace(dbType))
	}
	if historyPath != "" {
		cfg.HistoryPath = historyPath
	}

	if err := cfg.Validate(); err != nil {
		return internal.Config{}, err
	}
	internal.LogDebug("config: backend=%q database=%s history=%s", cfg.BackendURL, cfg.DatabaseType, cfg.HistoryPath)
	return cfg, nil
}

// openHistory opens the configured history database
func openHistory(cfg internal.Config) (*history.Store, error) {
	if cfg.HistoryPath == "" {
		return nil, fmt.Errorf("no history database configured (use --history or %s)", internal.EnvHistory)
	}
	return history.Open(cfg.HistoryPath)
}
