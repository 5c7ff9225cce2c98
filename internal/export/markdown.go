package export

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/iksnae/querychat/internal"
)

// MaxMarkdownRows caps the result rows written per query
const MaxMarkdownRows = 50

// MarkdownExporter exports transcripts in Markdown format
type MarkdownExporter struct{}

// Export exports a transcript to Markdown format
func (e *MarkdownExporter) Export(transcript *internal.Transcript, w io.Writer) error {
	// Header
	_, _ = fmt.Fprintf(w, "# Chat %s\n\n", transcript.ChatID)

	if transcript.DatabaseType != "" {
		_, _ = fmt.Fprintf(w, "**Database:** %s  \n", transcript.DatabaseType)
	}
	if !transcript.CreatedAt.IsZero() {
		_, _ = fmt.Fprintf(w, "**Started:** %s  \n", transcript.CreatedAt.UTC().Format(time.RFC3339))
	}
	_, _ = fmt.Fprintf(w, "**Queries:** %d  \n", transcript.QueryCount())
	_, _ = fmt.Fprintf(w, "**Messages:** %d\n\n", len(transcript.Messages))

	_, _ = fmt.Fprintf(w, "---\n\n")
	_, _ = fmt.Fprintf(w, "## Messages\n\n")

	for i, msg := range transcript.Messages {
		timestamp := ""
		if !msg.Timestamp.IsZero() {
			timestamp = fmt.Sprintf(" (%s)", msg.Timestamp.UTC().Format(time.RFC3339))
		}

		actor := "Assistant"
		if msg.Type == internal.MessageTypeUser {
			actor = "You"
		}
		_, _ = fmt.Fprintf(w, "**%s:**%s\n\n", actor, timestamp)

		if msg.Content != "" {
			_, _ = fmt.Fprintf(w, "%s\n\n", escapeMarkdown(msg.Content))
		}
		if msg.ToolCall != nil {
			writeToolCall(w, msg.ToolCall)
		}

		// Add horizontal rule after each message (except the last one)
		if i < len(transcript.Messages)-1 {
			_, _ = fmt.Fprintf(w, "---\n\n")
		}
	}

	return nil
}

func writeToolCall(w io.Writer, tc *internal.ToolCall) {
	if tc.Metadata.SQL != "" {
		_, _ = fmt.Fprintf(w, "```sql\n%s\n```\n\n", tc.Metadata.SQL)
	}

	switch tc.Status {
	case internal.ToolCallError:
		_, _ = fmt.Fprintf(w, "**Error:** %s\n\n", escapeMarkdown(tc.Error))
	case internal.ToolCallPending:
		_, _ = fmt.Fprintf(w, "_Pending_\n\n")
	}

	if tc.Result != nil && len(tc.Result.Columns) > 0 {
		writeTable(w, tc.Result)
	}

	if s := tc.Metadata.Suggestion; s != nil {
		_, _ = fmt.Fprintf(w, "**Suggestion:** %s\n\n", escapeMarkdown(s.Message))
		if s.SuggestedSQL != "" {
			_, _ = fmt.Fprintf(w, "```sql\n%s\n```\n\n", s.SuggestedSQL)
		}
	}
}

func writeTable(w io.Writer, r *internal.NormalizedResult) {
	header := make([]string, len(r.Columns))
	rule := make([]string, len(r.Columns))
	for i, col := range r.Columns {
		header[i] = escapeCell(col)
		rule[i] = "---"
		if internal.IsNumericColumn(*r, col) {
			rule[i] = "---:"
		}
	}
	_, _ = fmt.Fprintf(w, "| %s |\n", strings.Join(header, " | "))
	_, _ = fmt.Fprintf(w, "| %s |\n", strings.Join(rule, " | "))

	rows := r.Rows
	if len(rows) > MaxMarkdownRows {
		rows = rows[:MaxMarkdownRows]
	}
	for _, row := range rows {
		cells := make([]string, len(r.Columns))
		for i, col := range r.Columns {
			v, _ := row.Cell(col, i)
			cells[i] = escapeCell(internal.FormatCell(v))
		}
		_, _ = fmt.Fprintf(w, "| %s |\n", strings.Join(cells, " | "))
	}
	_, _ = fmt.Fprintln(w)

	if hidden := r.RowCount - len(rows); hidden > 0 {
		_, _ = fmt.Fprintf(w, "_%d more rows not shown_\n\n", hidden)
	}
}

func escapeCell(s string) string {
	s = strings.ReplaceAll(s, "|", "\\|")
	return strings.ReplaceAll(s, "\n", " ")
}

// escapeMarkdown escapes markdown special characters
func escapeMarkdown(text string) string {
	// Basic escaping - preserve code blocks
	lines := strings.Split(text, "\n")
	var result []string
	inCodeBlock := false

	for _, line := range lines {
		if strings.HasPrefix(line, "```") {
			inCodeBlock = !inCodeBlock
			result = append(result, line)
		} else if inCodeBlock {
			result = append(result, line)
		} else {
			line = strings.ReplaceAll(line, "**", "\\*\\*")
			line = strings.ReplaceAll(line, "__", "\\_\\_")
			result = append(result, line)
		}
	}

	return strings.Join(result, "\n")
}

// Extension returns the file extension for this format
func (e *MarkdownExporter) Extension() string {
	return "md"
}
