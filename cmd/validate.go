package cmd

import (
	"fmt"
	"io"
	"strings"

	"github.com/iksnae/querychat/internal"
	"github.com/spf13/cobra"
)

// validateCmd checks SQL the same way edited SQL is checked before approval
var validateCmd = &cobra.Command{
	Use:   "validate <sql | ->",
	Short: "Check SQL before submitting an edit",
	Long: `Run the checks applied to edited SQL in the approval prompt: the statement
must not be empty, must start with a SQL keyword, and its parentheses and
quotes must balance. Pass - to read the statement from standard input.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sql := strings.Join(args, " ")
		if sql == "-" {
			data, err := io.ReadAll(cmd.InOrStdin())
			if err != nil {
				return fmt.Errorf("failed to read standard input: %w", err)
			}
			sql = string(data)
		}

		if err := internal.ValidateSQL(sql); err != nil {
			return err
		}
		_, _ = fmt.Fprintln(cmd.OutOrStdout(), "✓ SQL is valid")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)
}
