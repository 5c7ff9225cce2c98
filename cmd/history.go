package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/iksnae/querychat/internal"
	"github.com/iksnae/querychat/internal/history"
	"github.com/spf13/cobra"
)

var (
	historyLimit int
	historyJSON  bool
	showLimit    int
)

var (
	// Styles
	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("62")).
			Padding(0, 1)

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("212"))

	idStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("240")).
		Italic(true)

	countStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("42")).
			Bold(true)

	dateStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("243"))

	databaseStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("135")).
			Italic(true)

	chatHeaderStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("212")).
			Padding(0, 1).
			MarginBottom(1)

	chatMetaStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("243")).
			MarginBottom(1)

	timestampStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240")).
			Italic(true)
)

// historyCmd groups the chat history commands
var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Browse saved chats",
	Long:  `List, show and delete the chats saved in the local history database.`,
}

var historyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List saved chats",
	Long:  `List saved chats, most recently active first.`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		store, err := openHistory(cfg)
		if err != nil {
			return err
		}
		defer func() { _ = store.Close() }()

		chats, err := store.ListChats(cmd.Context(), historyLimit)
		if err != nil {
			return fmt.Errorf("failed to list chats: %w", err)
		}

		out := cmd.OutOrStdout()
		if historyJSON {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(chats)
		}
		displayChats(out, chats, time.Now())
		return nil
	},
}

var historyShowCmd = &cobra.Command{
	Use:   "show <chat-id>",
	Short: "Show the messages of a chat",
	Long:  `Display the messages of a saved chat. The id may be shortened to any unique prefix.`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		store, err := openHistory(cfg)
		if err != nil {
			return err
		}
		defer func() { _ = store.Close() }()

		transcript, err := store.Transcript(cmd.Context(), args[0])
		if err != nil {
			return fmt.Errorf("%w (use 'querychat history list' to see available chats)", err)
		}

		out := cmd.OutOrStdout()
		if historyJSON {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(transcript)
		}
		displayTranscript(out, transcript, showLimit)
		return nil
	},
}

var historyDeleteCmd = &cobra.Command{
	Use:   "delete <chat-id>",
	Short: "Delete a chat and its messages",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		store, err := openHistory(cfg)
		if err != nil {
			return err
		}
		defer func() { _ = store.Close() }()

		chat, err := store.GetChat(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if err := store.DeleteChat(cmd.Context(), chat.ID); err != nil {
			return err
		}
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Deleted chat %s\n", chat.ID)
		return nil
	},
}

func displayChats(w io.Writer, chats []history.ChatSummary, now time.Time) {
	if len(chats) == 0 {
		_, _ = fmt.Fprintln(w, headerStyle.Render("📋 No chats found"))
		return
	}

	_, _ = fmt.Fprintln(w, headerStyle.Render(fmt.Sprintf("📋 Found %d chat(s)", len(chats))))
	_, _ = fmt.Fprintln(w)

	tw := tabwriter.NewWriter(w, 0, 0, 3, ' ', 0)
	_, _ = fmt.Fprintln(tw, titleStyle.Render("ID")+"\t"+titleStyle.Render("Last question")+"\t"+titleStyle.Render("Messages")+"\t"+titleStyle.Render("Updated")+"\t"+titleStyle.Render("Database")+"\t")
	_, _ = fmt.Fprintln(tw, strings.Repeat("─", 100))

	for _, chat := range chats {
		question := chat.LastQuery
		if question == "" {
			question = "Untitled"
		}
		question = truncate(strings.ReplaceAll(question, "\n", " "), 50)

		database := chat.DatabaseType
		if database == "" {
			database = "—"
		}

		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t\n",
			idStyle.Render(shortID(chat.ID)),
			question,
			countStyle.Render(strconv.Itoa(chat.MessageCount)),
			dateStyle.Render(formatWhen(chat.UpdatedAt, now)),
			databaseStyle.Render(database),
		)
	}
	_ = tw.Flush()

	_, _ = fmt.Fprintln(w)
	_, _ = fmt.Fprintln(w, idStyle.Render("💡 Tip: Use the ID (e.g., ")+
		lipgloss.NewStyle().Foreground(lipgloss.Color("62")).Render(shortID(chats[0].ID))+
		idStyle.Render(") with `querychat history show <id>`"))
}

func displayTranscript(w io.Writer, t *internal.Transcript, limit int) {
	_, _ = fmt.Fprintln(w, chatHeaderStyle.Render("Chat "+t.ChatID))

	meta := []string{fmt.Sprintf("%d question(s)", t.QueryCount()), fmt.Sprintf("%d message(s)", len(t.Messages))}
	if t.DatabaseType != "" {
		meta = append(meta, t.DatabaseType)
	}
	if !t.CreatedAt.IsZero() {
		meta = append(meta, "started "+t.CreatedAt.Local().Format("2006-01-02 15:04"))
	}
	_, _ = fmt.Fprintln(w, chatMetaStyle.Render(strings.Join(meta, " · ")))

	messages := t.Messages
	if limit > 0 && len(messages) > limit {
		_, _ = fmt.Fprintln(w, dateStyle.Render(fmt.Sprintf("… %d earlier message(s)", len(messages)-limit)))
		messages = messages[len(messages)-limit:]
	}

	for _, msg := range messages {
		if !msg.Timestamp.IsZero() {
			_, _ = fmt.Fprintln(w, timestampStyle.Render(msg.Timestamp.Local().Format("15:04:05")))
		}
		_, _ = fmt.Fprintln(w, internal.RenderMessage(msg))
		_, _ = fmt.Fprintln(w)
	}
}

// formatWhen renders a timestamp relative to now: time of day for today,
// weekday within a week, month and day within a year, else the full date
func formatWhen(t, now time.Time) string {
	if t.IsZero() {
		return "—"
	}
	t = t.In(now.Location())
	diff := now.Sub(t)
	switch {
	case diff < 24*time.Hour:
		return t.Format("Today 15:04")
	case diff < 7*24*time.Hour:
		return t.Format("Mon 15:04")
	case diff < 365*24*time.Hour:
		return t.Format("Jan 02 15:04")
	default:
		return t.Format("2006-01-02")
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.AddCommand(historyListCmd, historyShowCmd, historyDeleteCmd)
	historyCmd.PersistentFlags().BoolVar(&historyJSON, "json", false, "Print as JSON")
	historyListCmd.Flags().IntVar(&historyLimit, "limit", 20, "Maximum number of chats to list (0 for all)")
	historyShowCmd.Flags().IntVar(&showLimit, "limit", 0, "Show only the last N messages")
}
