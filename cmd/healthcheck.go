package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/iksnae/querychat/internal"
	"github.com/iksnae/querychat/internal/backend"
	"github.com/spf13/cobra"
)

var (
	healthcheckVerbose bool
)

var (
	successStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("42")).
			Bold(true)

	warningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("214")).
			Bold(true)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Bold(true)

	infoStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("39"))

	sectionStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("62")).
			Bold(true).
			Underline(true)
)

// healthcheckCmd represents the healthcheck command
var healthcheckCmd = &cobra.Command{
	Use:   "healthcheck",
	Short: "Check that querychat can reach its history and the query service",
	Long: `Check the health of querychat by verifying:
  • Configuration loading
  • Chat history database access
  • Query service reachability

This command is useful for debugging setup issues, especially in CI/CD environments.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		_, _ = fmt.Fprintln(out, sectionStyle.Render("🔍 querychat Health Check"))
		_, _ = fmt.Fprintln(out)

		// Step 1: Configuration
		_, _ = fmt.Fprintln(out, infoStyle.Render("Step 1: Loading configuration..."))
		cfg, err := loadConfig()
		if err != nil {
			_, _ = fmt.Fprintln(out, errorStyle.Render("❌ Failed to load configuration:"), err)
			return fmt.Errorf("health check failed: %w", err)
		}
		_, _ = fmt.Fprintln(out, successStyle.Render("✅ Configuration loaded"))
		if healthcheckVerbose {
			_, _ = fmt.Fprintf(out, "   Database type: %s\n", cfg.DatabaseType)
			_, _ = fmt.Fprintf(out, "   History: %s\n", cfg.HistoryPath)
			_, _ = fmt.Fprintf(out, "   Request timeout: %s\n", cfg.RequestTimeout)
		}
		_, _ = fmt.Fprintln(out)

		// Step 2: History database
		_, _ = fmt.Fprintln(out, infoStyle.Render("Step 2: Opening chat history..."))
		chatCount := -1
		store, err := openHistory(cfg)
		if err != nil {
			_, _ = fmt.Fprintln(out, warningStyle.Render("⚠️  Chat history unavailable:"), err)
		} else {
			ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
			if err := store.Ping(ctx); err != nil {
				_, _ = fmt.Fprintln(out, warningStyle.Render("⚠️  Chat history not responding:"), err)
			} else if chats, err := store.ListChats(ctx, 0); err != nil {
				_, _ = fmt.Fprintln(out, warningStyle.Render("⚠️  Failed to read chats:"), err)
			} else {
				chatCount = len(chats)
				_, _ = fmt.Fprintln(out, successStyle.Render(fmt.Sprintf("✅ Found %d saved chat(s)", chatCount)))
				if healthcheckVerbose {
					for i, chat := range chats {
						if i == 5 {
							_, _ = fmt.Fprintf(out, "   ... and %d more\n", len(chats)-5)
							break
						}
						_, _ = fmt.Fprintf(out, "   [%d] %s (ID: %s)\n", i+1, truncate(chat.LastQuery, 40), shortID(chat.ID))
					}
				}
			}
			cancel()
			_ = store.Close()
		}
		_, _ = fmt.Fprintln(out)

		// Step 3: Query service
		_, _ = fmt.Fprintln(out, infoStyle.Render("Step 3: Contacting the query service..."))
		serviceOK := false
		if err := cfg.RequireBackend(); err != nil {
			_, _ = fmt.Fprintln(out, errorStyle.Render("❌ No query service configured:"), err)
		} else {
			client, err := backend.NewClient(backend.Config{BaseURL: cfg.BackendURL, APIKey: cfg.APIKey, Timeout: cfg.RequestTimeout})
			if err != nil {
				_, _ = fmt.Fprintln(out, errorStyle.Render("❌ Invalid query service settings:"), err)
			} else if health, err := client.Health(cmd.Context()); err != nil {
				_, _ = fmt.Fprintln(out, errorStyle.Render("❌ Query service unreachable:"), err)
			} else {
				serviceOK = true
				_, _ = fmt.Fprintln(out, successStyle.Render("✅ Query service reachable"))
				if healthcheckVerbose {
					_, _ = fmt.Fprintf(out, "   URL: %s\n", cfg.BackendURL)
					_, _ = fmt.Fprintf(out, "   Status: %s\n", health.Status)
					if health.Version != "" {
						_, _ = fmt.Fprintf(out, "   Version: %s\n", health.Version)
					}
				}
			}
		}
		_, _ = fmt.Fprintln(out)

		// Summary
		_, _ = fmt.Fprintln(out, sectionStyle.Render("📊 Summary"))
		_, _ = fmt.Fprintln(out)

		if !serviceOK {
			_, _ = fmt.Fprintln(out, errorStyle.Render("❌ Health check failed"))
			_, _ = fmt.Fprintln(out, "   • Questions cannot be sent")
			if internal.IsCIEnvironment() {
				_, _ = fmt.Fprintln(out)
				_, _ = fmt.Fprintln(out, "Note: set "+internal.EnvBackendURL+" for the CI job.")
			}
			return fmt.Errorf("health check failed: query service unavailable")
		}
		if chatCount < 0 {
			_, _ = fmt.Fprintln(out, warningStyle.Render("⚠️  Query service available but chat history is not"))
			_, _ = fmt.Fprintln(out, "   • Use ask --no-history, or fix --history")
			return nil
		}
		_, _ = fmt.Fprintln(out, successStyle.Render("✅ Health check passed!"))
		_, _ = fmt.Fprintln(out, successStyle.Render(fmt.Sprintf("   • Chats: %d saved", chatCount)))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(healthcheckCmd)
	healthcheckCmd.Flags().BoolVarP(&healthcheckVerbose, "verbose", "v", false, "Show detailed diagnostic information")
}
