package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/iksnae/querychat/internal"
	"github.com/spf13/cobra"
)

var (
	pathsSuccessStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("42")).
				Bold(true)

	pathsWarningStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("214")).
				Bold(true)

	pathsErrorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Bold(true)

	pathsInfoStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("39"))

	pathsSectionStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("62")).
				Bold(true).
				Underline(true)

	pathsPathStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("243"))
)

// pathsCmd represents the paths command
var pathsCmd = &cobra.Command{
	Use:   "paths",
	Short: "Show where querychat keeps its files",
	Long: `Show the per-user locations querychat reads and writes:
  • Base directory
  • config.yaml and .env
  • Chat history database
  • Default export directory

Each location is checked and marked as present or missing.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		paths, err := internal.DetectPaths()
		if err != nil {
			return fmt.Errorf("failed to detect paths: %w", err)
		}

		_, _ = fmt.Fprintln(out, pathsSectionStyle.Render("📂 querychat paths"))
		_, _ = fmt.Fprintln(out)
		for _, entry := range []struct{ label, path string }{
			{"Base directory:", paths.BaseDir},
			{"Config file:", paths.ConfigFile},
			{"Environment file:", paths.EnvFile},
			{"History database:", paths.HistoryDB},
			{"Export directory:", paths.ExportDir},
		} {
			_, _ = fmt.Fprintln(out, pathsInfoStyle.Render(entry.label))
			_, _ = fmt.Fprintf(out, "  %s\n", pathsPathStyle.Render(entry.path))
			checkPath(out, entry.path, "  ")
		}

		_, _ = fmt.Fprintln(out)
		_, _ = fmt.Fprintln(out, pathsSectionStyle.Render("📊 Summary"))
		if !paths.ConfigExists() {
			_, _ = fmt.Fprintf(out, "  %s\n", pathsInfoStyle.Render("ℹ️  No config file; defaults and "+internal.EnvBackendURL+" are used"))
		}
		if paths.HistoryExists() {
			_, _ = fmt.Fprintf(out, "  %s\n", pathsSuccessStyle.Render("✅ Chat history is available"))
		} else {
			_, _ = fmt.Fprintf(out, "  %s\n", pathsInfoStyle.Render("ℹ️  Chat history is created on the first question"))
		}
		return nil
	},
}

func checkPath(w io.Writer, path string, indent string) {
	if info, err := os.Stat(path); err == nil {
		if info.IsDir() {
			_, _ = fmt.Fprintf(w, "%s%s\n", indent, pathsSuccessStyle.Render("✅ Directory exists"))
		} else {
			_, _ = fmt.Fprintf(w, "%s%s\n", indent, pathsSuccessStyle.Render("✅ File exists"))
		}
	} else if os.IsNotExist(err) {
		_, _ = fmt.Fprintf(w, "%s%s\n", indent, pathsWarningStyle.Render("⚠️  Does not exist"))
	} else {
		_, _ = fmt.Fprintf(w, "%s%s ❌ Error checking: %v\n", indent, pathsErrorStyle.Render(""), err)
	}
}

func init() {
	rootCmd.AddCommand(pathsCmd)
}
