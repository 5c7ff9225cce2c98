package cmd

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/iksnae/querychat/internal"
	"github.com/spf13/cobra"
)

var (
	healError   string
	healSQL     string
	healColumns string
	healJSON    bool
)

// healCmd runs the self-heal advisor on a failed query without contacting the service
var healCmd = &cobra.Command{
	Use:   "heal",
	Short: "Suggest a fix for a failed query",
	Long: `Analyse a database error message and the SQL that caused it, and suggest
a fix. Misspelled columns are matched against --columns (and any
known_columns in the config file).

Example:
  querychat heal --error 'ORA-00904: "CUSTMER_ID": invalid identifier' \
    --sql 'SELECT CUSTMER_ID FROM SALES' --columns CUSTOMER_ID,REVENUE`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if strings.TrimSpace(healError) == "" {
			return fmt.Errorf("--error is required")
		}

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		columns := append([]string(nil), cfg.KnownColumns...)
		for _, c := range strings.Split(healColumns, ",") {
			if c = strings.TrimSpace(c); c != "" {
				columns = append(columns, c)
			}
		}

		suggestion := internal.NewSelfHealAdvisor().Analyze(healError, healSQL, columns)

		out := cmd.OutOrStdout()
		if healJSON {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(suggestion)
		}
		if suggestion == nil {
			_, _ = fmt.Fprintln(out, "No suggestion for this error.")
			return nil
		}
		_, _ = fmt.Fprintln(out, internal.RenderSuggestion(suggestion))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(healCmd)
	healCmd.Flags().StringVar(&healError, "error", "", "Database error message")
	healCmd.Flags().StringVar(&healSQL, "sql", "", "SQL that produced the error")
	healCmd.Flags().StringVar(&healColumns, "columns", "", "Comma-separated list of known column names")
	healCmd.Flags().BoolVar(&healJSON, "json", false, "Print the suggestion as JSON")
}
