package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/iksnae/querychat/internal"
	"github.com/spf13/cobra"
)

var (
	inspectFormat  string
	inspectMaxRows int
)

// inspectResult is the JSON form of an inspected response
type inspectResult struct {
	Outcome    internal.OutcomeKind       `json:"outcome"`
	Message    string                     `json:"message,omitempty"`
	Error      string                     `json:"error,omitempty"`
	Result     *internal.NormalizedResult `json:"result,omitempty"`
	Steps      []internal.ThinkingStep    `json:"thinkingSteps,omitempty"`
	Suggestion *internal.Suggestion       `json:"suggestion,omitempty"`
	Metadata   internal.Metadata          `json:"metadata"`
}

// inspectCmd represents the inspect command
var inspectCmd = &cobra.Command{
	Use:   "inspect [response.json]",
	Short: "Classify a raw query service response",
	Long: `Inspect a raw JSON response from the query service and show how querychat
reads it:
  • Outcome (success, error, needs_approval, clarification_needed, conversational)
  • Normalized result table
  • Thinking steps, SQL and risk level
  • Self-heal suggestion for errors

Reads standard input when no file (or -) is given.

Examples:
  querychat inspect response.json
  curl -s .../api/v1/query -d @q.json | querychat inspect --format json`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var (
			data []byte
			err  error
		)
		if len(args) == 0 || args[0] == "-" {
			data, err = io.ReadAll(cmd.InOrStdin())
		} else {
			data, err = os.ReadFile(args[0])
		}
		if err != nil {
			return fmt.Errorf("failed to read response: %w", err)
		}

		r, err := inspectResponse(data)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		switch inspectFormat {
		case "json":
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(r)
		case "text", "":
			displayInspection(out, r, inspectMaxRows)
			return nil
		default:
			return fmt.Errorf("unsupported format: %s (supported: text, json)", inspectFormat)
		}
	},
}

func inspectResponse(data []byte) (*inspectResult, error) {
	var resp internal.Response
	if err := json.Unmarshal(bytes.TrimSpace(data), &resp); err != nil {
		return nil, &internal.ParseError{Source: "response", Err: err}
	}

	outcome := internal.Classify(resp)
	md := internal.MetadataFromResponse(resp)
	r := &inspectResult{
		Outcome:  outcome.Kind,
		Message:  outcome.Message,
		Error:    outcome.ErrorMessage,
		Result:   outcome.Result,
		Steps:    internal.ExtractThinkingSteps(md),
		Metadata: md,
	}
	if outcome.Kind == internal.OutcomeError {
		r.Suggestion = internal.AnalyzeError(outcome.ErrorMessage, md.SQL, internal.SchemaColumns(md.SchemaData))
	}
	return r, nil
}

func displayInspection(w io.Writer, r *inspectResult, maxRows int) {
	_, _ = fmt.Fprintf(w, "Outcome: %s\n", r.Outcome)
	if r.Metadata.QueryID != "" {
		_, _ = fmt.Fprintf(w, "Query ID: %s\n", r.Metadata.QueryID)
	}
	if r.Metadata.RiskLevel != "" {
		_, _ = fmt.Fprintf(w, "Risk: %s\n", internal.RiskStyle(r.Metadata.RiskLevel).Render(string(r.Metadata.RiskLevel)))
	}
	if r.Metadata.SQL != "" {
		_, _ = fmt.Fprintf(w, "SQL:\n  %s\n", r.Metadata.SQL)
	}
	if r.Message != "" {
		_, _ = fmt.Fprintf(w, "Message: %s\n", r.Message)
	}
	if r.Error != "" {
		_, _ = fmt.Fprintf(w, "Error: %s\n", r.Error)
	}
	if len(r.Steps) > 0 {
		_, _ = fmt.Fprintln(w, "Thinking steps:")
		_, _ = fmt.Fprintln(w, internal.RenderThinkingSteps(r.Steps))
	}
	if r.Result != nil {
		_, _ = fmt.Fprintf(w, "Rows: %d\n", r.Result.RowCount)
		if len(r.Result.Columns) > 0 {
			_, _ = fmt.Fprintln(w, internal.RenderResult(r.Result, maxRows))
		}
	}
	if r.Suggestion != nil {
		_, _ = fmt.Fprintln(w, internal.RenderSuggestion(r.Suggestion))
	}
}

func init() {
	rootCmd.AddCommand(inspectCmd)
	inspectCmd.Flags().StringVar(&inspectFormat, "format", "text", "Output format (text, json)")
	inspectCmd.Flags().IntVar(&inspectMaxRows, "sample", internal.MaxRenderedRows, "Number of result rows to show")
}
