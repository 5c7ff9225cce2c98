package internal

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
)

var (
	progressStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("62")).
			Bold(true)

	successStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("42")).
			Bold(true)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Bold(true)

	warningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("214")).
			Bold(true)

	userStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("39")).
			Bold(true)

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245"))

	sqlStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("180")).
			PaddingLeft(2)

	headerStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
)

// MaxRenderedRows caps the rows printed for a result table
const MaxRenderedRows = 20

// ProgressStep represents a single step in a multi-step process
type ProgressStep struct {
	Message string
	Fn      func() error
}

// ShowProgress runs fn with a spinner on stderr when it is a terminal
func ShowProgress(ctx context.Context, message string, fn func() error) error {
	if !isTerminal(os.Stderr) {
		LogInfo(message)
		return fn()
	}
	return showProgressSimple(ctx, message, fn)
}

// ShowProgressWithSteps shows progress for multiple steps
func ShowProgressWithSteps(ctx context.Context, steps []ProgressStep) error {
	for i, step := range steps {
		msg := fmt.Sprintf("[%d/%d] %s", i+1, len(steps), step.Message)
		if err := ShowProgress(ctx, msg, step.Fn); err != nil {
			return fmt.Errorf("%s: %w", step.Message, err)
		}
	}
	return nil
}

// showProgressSimple uses a simple text-based spinner
func showProgressSimple(ctx context.Context, message string, fn func() error) error {
	spinnerChars := []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}
	done := make(chan error, 1)
	stop := make(chan struct{})
	spinnerDone := make(chan struct{})

	go func() {
		defer close(spinnerDone)
		ticker := time.NewTicker(100 * time.Millisecond)
		defer ticker.Stop()
		i := 0
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				char := spinnerChars[i%len(spinnerChars)]
				fmt.Fprintf(os.Stderr, "\r%s %s", progressStyle.Render(char), message)
				i++
			}
		}
	}()

	go func() {
		done <- fn()
	}()

	var err error
	select {
	case err = <-done:
	case <-ctx.Done():
		err = ctx.Err()
	}
	close(stop)
	<-spinnerDone

	if err != nil {
		fmt.Fprintf(os.Stderr, "\r%s %s\n", errorStyle.Render("✗"), message)
		return err
	}
	fmt.Fprintf(os.Stderr, "\r%s %s\n", successStyle.Render("✓"), message)
	return nil
}

// isTerminal checks if the writer is a terminal
func isTerminal(w io.Writer) bool {
	if f, ok := w.(*os.File); ok {
		stat, err := f.Stat()
		if err != nil {
			return false
		}
		return (stat.Mode() & os.ModeCharDevice) != 0
	}
	return false
}

// PrintSuccess prints a success message
func PrintSuccess(message string) {
	if isTerminal(os.Stdout) {
		fmt.Printf("%s %s\n", successStyle.Render("✓"), message)
	} else {
		fmt.Println(message)
	}
}

// PrintError prints an error message
func PrintError(message string) {
	if isTerminal(os.Stderr) {
		fmt.Fprintf(os.Stderr, "%s %s\n", errorStyle.Render("✗"), message)
	} else {
		fmt.Fprintf(os.Stderr, "%s\n", message)
	}
}

// PrintInfo prints an info message
func PrintInfo(message string) {
	if isTerminal(os.Stdout) {
		fmt.Printf("%s %s\n", progressStyle.Render("ℹ"), message)
	} else {
		fmt.Println(message)
	}
}

// PrintWarning prints a warning message
func PrintWarning(message string) {
	if isTerminal(os.Stderr) {
		fmt.Fprintf(os.Stderr, "%s %s\n", warningStyle.Render("⚠"), message)
	} else {
		fmt.Fprintf(os.Stderr, "WARNING: %s\n", message)
	}
}

// RiskStyle returns the badge style for a risk level
func RiskStyle(level RiskLevel) lipgloss.Style {
	switch level {
	case RiskSafe, RiskLow:
		return successStyle
	case RiskHigh, RiskCritical:
		return errorStyle
	default:
		return warningStyle
	}
}

// RenderMessage formats a chat message for the terminal
func RenderMessage(msg ChatMessage) string {
	if msg.Type == MessageTypeUser {
		return userStyle.Render("You:") + " " + msg.Content
	}
	tc := msg.ToolCall
	if tc == nil {
		return msg.Content
	}

	var b strings.Builder
	switch tc.Status {
	case ToolCallCompleted:
		b.WriteString(successStyle.Render("✓") + " " + msg.Content)
	case ToolCallError:
		content := msg.Content
		if content == "" {
			content = tc.Error
		}
		b.WriteString(errorStyle.Render("✗") + " " + content)
	default:
		state := tc.Metadata.CurrentState
		if state == "" {
			state = StateSubmitted
		}
		b.WriteString(progressStyle.Render("…") + " " + dimStyle.Render(state))
	}

	if tc.Metadata.SQL != "" {
		b.WriteString("\n" + sqlStyle.Render(tc.Metadata.SQL))
	}
	if tc.Result != nil && len(tc.Result.Columns) > 0 {
		b.WriteString("\n" + RenderResult(tc.Result, MaxRenderedRows))
	}
	if s := tc.Metadata.Suggestion; s != nil {
		b.WriteString("\n" + RenderSuggestion(s))
	}
	return b.String()
}

// RenderThinkingSteps formats thinking steps one per line
func RenderThinkingSteps(steps []ThinkingStep) string {
	lines := make([]string, 0, len(steps))
	for _, s := range steps {
		var icon string
		switch s.Status {
		case StepCompleted:
			icon = successStyle.Render("✓")
		case StepFailed:
			icon = errorStyle.Render("✗")
		case StepInProgress:
			icon = progressStyle.Render("◐")
		default:
			icon = dimStyle.Render("○")
		}
		line := icon + " " + s.Label
		if s.Error != "" {
			line += " " + dimStyle.Render("("+s.Error+")")
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

// RenderResult formats a result as a table of at most maxRows rows.
// Numeric columns are right-aligned.
func RenderResult(r *NormalizedResult, maxRows int) string {
	if r == nil || len(r.Columns) == 0 {
		return dimStyle.Render("(no columns)")
	}

	numeric := make(map[int]bool)
	for i, col := range r.Columns {
		numeric[i] = IsNumericColumn(*r, col)
	}

	shown := r.Rows
	if maxRows > 0 && len(shown) > maxRows {
		shown = shown[:maxRows]
	}
	rows := make([][]string, 0, len(shown))
	for _, row := range shown {
		cells := make([]string, len(r.Columns))
		for i, col := range r.Columns {
			v, _ := row.Cell(col, i)
			cells[i] = FormatCell(v)
		}
		rows = append(rows, cells)
	}

	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(dimStyle).
		Headers(r.Columns...).
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			if numeric[col] {
				return cellStyle.Align(lipgloss.Right)
			}
			return cellStyle
		})

	out := t.Render()
	if hidden := r.RowCount - len(shown); hidden > 0 {
		out += "\n" + dimStyle.Render(fmt.Sprintf("… %d more rows", hidden))
	}
	return out
}

// RenderSuggestion formats a self-heal suggestion
func RenderSuggestion(s *Suggestion) string {
	if s == nil {
		return ""
	}
	out := warningStyle.Render("Suggestion:") + " " + s.Message
	if s.SuggestedSQL != "" {
		out += "\n" + sqlStyle.Render(s.SuggestedSQL)
	}
	return out
}

// RenderApproval formats an approval request
func RenderApproval(state ApprovalDialogState) string {
	level := state.RiskLevel
	if level == "" {
		level = RiskMedium
	}
	var b strings.Builder
	b.WriteString(warningStyle.Render("Approval required") + " " + RiskStyle(level).Render("["+string(level)+"]"))
	if state.SQL != "" {
		b.WriteString("\n" + sqlStyle.Render(state.SQL))
	}
	if ac := state.ApprovalContext; ac != nil {
		for _, w := range ac.Warnings {
			b.WriteString("\n  " + warningStyle.Render("⚠") + " " + w)
		}
		for _, r := range ac.Reasons {
			b.WriteString("\n  " + dimStyle.Render("- "+r))
		}
	}
	return b.String()
}

// FormatCell renders a result value as text. Nulls print as NULL and whole
// floats print without a fractional part.
func FormatCell(v interface{}) string {
	switch x := v.(type) {
	case nil:
		return "NULL"
	case string:
		return x
	case bool:
		return strconv.FormatBool(x)
	case float64:
		if x == math.Trunc(x) && math.Abs(x) < 1e15 {
			return strconv.FormatInt(int64(x), 10)
		}
		return strconv.FormatFloat(x, 'f', -1, 64)
	case json.Number:
		return x.String()
	case map[string]interface{}, []interface{}:
		data, err := json.Marshal(x)
		if err != nil {
			return fmt.Sprint(x)
		}
		return string(data)
	}
	return fmt.Sprint(v)
}
