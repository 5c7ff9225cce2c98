package cmd

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/iksnae/querychat/internal"
	"github.com/iksnae/querychat/internal/backend"
	"github.com/iksnae/querychat/internal/history"
	"github.com/spf13/cobra"
)

var (
	askChat      string
	askYes       bool
	askJSON      bool
	askNoHistory bool
	askRetries   int
)

// askCmd represents the ask command
var askCmd = &cobra.Command{
	Use:   "ask [question]",
	Short: "Ask a question about your data",
	Long: `Send a question to the query service and follow it until it completes.

Risky statements are shown for approval before they run: answer y to run
the SQL as generated, n to reject it, or e to edit it first. When the service
needs more detail it asks a follow-up question, and your answer is sent
along with the original question.

Without a question, ask starts an interactive chat that reads one question
per line until "exit" or end of input.

Examples:
  querychat ask "monthly revenue for 2024"
  querychat ask --chat 5b1e0c7a "and for 2023?"   # Continue a chat
  querychat ask --yes --json "row count of ORDERS"`,
	RunE: runAsk,
}

func runAsk(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := cfg.RequireBackend(); err != nil {
		return err
	}

	client, err := backend.NewClient(backend.Config{
		BaseURL: cfg.BackendURL,
		APIKey:  cfg.APIKey,
		Timeout: cfg.RequestTimeout,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	sess, err := openChatSession(ctx, cfg, askChat, !askNoHistory)
	if err != nil {
		return err
	}
	defer sess.Close()

	ctrl := internal.NewController(client, sess.store, cfg.ControllerConfig(sess.chatID))
	defer func() {
		if err := ctrl.Close(); err != nil {
			internal.LogWarn("closing controller: %v", err)
		}
	}()

	a := &asker{
		ctrl:        ctrl,
		in:          bufio.NewReader(cmd.InOrStdin()),
		out:         cmd.OutOrStdout(),
		autoApprove: askYes,
		jsonOutput:  askJSON,
		retries:     askRetries,
	}

	if len(args) == 0 {
		return a.repl(ctx, sess.chatID)
	}

	msg, err := a.ask(ctx, strings.Join(args, " "))
	if err != nil {
		return err
	}
	if tc := msg.ToolCall; tc != nil && tc.Status == internal.ToolCallError {
		return fmt.Errorf("query failed: %s", tc.Error)
	}
	return nil
}

// chatSession is the message store of one chat and the history behind it
type chatSession struct {
	chatID  string
	store   *internal.MessageStore
	history *history.Store
}

// openChatSession resumes chatRef from history, or starts a new chat
func openChatSession(ctx context.Context, cfg internal.Config, chatRef string, persist bool) (*chatSession, error) {
	s := &chatSession{}
	opts := []internal.StoreOption{stageLogger()}

	if persist {
		h, err := openHistory(cfg)
		if err != nil {
			return nil, err
		}
		s.history = h
		opts = append(opts, internal.WithPersister(h))
	}

	if chatRef != "" {
		if s.history == nil {
			return nil, fmt.Errorf("--chat needs the chat history (drop --no-history)")
		}
		transcript, err := s.history.Transcript(ctx, chatRef)
		if err != nil {
			s.Close()
			return nil, err
		}
		s.chatID = transcript.ChatID
		s.store = internal.NewMessageStore(s.chatID, opts...)
		s.store.Load(transcript.Messages)
		internal.LogDebug("resumed chat %s with %d messages", s.chatID, len(transcript.Messages))
		return s, nil
	}

	s.chatID = uuid.NewString()
	if s.history != nil {
		if _, err := s.history.CreateChat(ctx, s.chatID, cfg.DatabaseType); err != nil {
			s.Close()
			return nil, err
		}
	}
	s.store = internal.NewMessageStore(s.chatID, opts...)
	return s, nil
}

// stageLogger logs each query stage once, as it is first reached
func stageLogger() internal.StoreOption {
	var mu sync.Mutex
	last := make(map[string]string)
	return internal.WithListener(func(msg internal.ChatMessage) {
		tc := msg.ToolCall
		if tc == nil || tc.Metadata.CurrentState == "" {
			return
		}
		mu.Lock()
		defer mu.Unlock()
		if last[msg.ID] == tc.Metadata.CurrentState {
			return
		}
		last[msg.ID] = tc.Metadata.CurrentState
		internal.LogDebug("query %s: %s", tc.Metadata.QueryID, tc.Metadata.CurrentState)
	})
}

func (s *chatSession) Close() {
	if s.history != nil {
		if err := s.history.Close(); err != nil {
			internal.LogWarn("closing history: %v", err)
		}
	}
}

// asker drives the controller from the terminal
type asker struct {
	ctrl        *internal.Controller
	in          *bufio.Reader
	out         io.Writer
	autoApprove bool
	jsonOutput  bool
	retries     int
}

// ask submits a question and answers any dialogs it opens. It returns the
// final assistant message.
func (a *asker) ask(ctx context.Context, question string) (internal.ChatMessage, error) {
	queryID, err := a.ctrl.Submit(question)
	if err != nil {
		return internal.ChatMessage{}, err
	}
	retries := a.retries

	for {
		msg, err := a.await(ctx, queryID)
		if err != nil {
			if ctx.Err() == nil {
				return msg, err
			}
			pending, hasPending := a.ctrl.Store().Pending()
			if cerr := a.ctrl.Cancel(); cerr != nil && !errors.Is(cerr, internal.ErrNoActiveQuery) {
				internal.LogWarn("cancel: %v", cerr)
			}
			if hasPending {
				if latest, ok := a.ctrl.Store().Get(pending.ID); ok {
					msg = latest
					a.print(msg)
				}
			}
			return msg, fmt.Errorf("interrupted")
		}

		if approval, ok := a.ctrl.PendingApproval(); ok && approval.QueryID == queryID {
			if err := a.resolveApproval(approval); err != nil {
				return msg, err
			}
			continue
		}

		a.print(msg)

		if tc := msg.ToolCall; tc != nil && tc.Metadata.ConnectionLost && retries > 0 {
			retries--
			internal.PrintWarning("Connection lost, retrying")
			if queryID, err = a.ctrl.RetryConnection(msg.ID); err != nil {
				return msg, err
			}
			continue
		}

		if clarification, ok := a.ctrl.PendingClarification(); ok && clarification.QueryID == queryID {
			answer, err := a.resolveClarification(clarification)
			if err != nil || answer == "" {
				a.ctrl.DismissDialogs()
				return msg, nil
			}
			if queryID, err = a.ctrl.AnswerClarification(answer); err != nil {
				return msg, err
			}
			continue
		}

		return msg, nil
	}
}

func (a *asker) await(ctx context.Context, queryID string) (internal.ChatMessage, error) {
	var msg internal.ChatMessage
	err := internal.ShowProgress(ctx, "Running query", func() error {
		var err error
		msg, err = a.ctrl.Await(ctx, queryID)
		return err
	})
	if err != nil {
		// the spinner may return before Await does
		return internal.ChatMessage{}, err
	}
	return msg, nil
}

func (a *asker) resolveApproval(state internal.ApprovalDialogState) error {
	_, _ = fmt.Fprintln(a.out, internal.RenderApproval(state))
	if a.autoApprove {
		_, _ = fmt.Fprintln(a.out, "Approved (--yes)")
		return a.ctrl.Approve(nil, nil)
	}

	for {
		answer, err := a.prompt("Run this query? [y]es / [n]o / [e]dit: ")
		if err != nil {
			return a.ctrl.Reject()
		}
		switch strings.ToLower(answer) {
		case "y", "yes":
			return a.ctrl.Approve(nil, nil)
		case "n", "no", "":
			return a.ctrl.Reject()
		case "e", "edit":
			sql, err := a.prompt("SQL: ")
			if err != nil {
				return a.ctrl.Reject()
			}
			err = a.ctrl.Approve(&sql, nil)
			if internal.IsValidationError(err) {
				_, _ = fmt.Fprintf(a.out, "✗ %v\n", err)
				continue
			}
			return err
		default:
			_, _ = fmt.Fprintln(a.out, "Please answer y, n or e.")
		}
	}
}

func (a *asker) resolveClarification(state internal.ClarificationDialogState) (string, error) {
	for i, opt := range state.Options {
		_, _ = fmt.Fprintf(a.out, "  %d. %s\n", i+1, opt)
	}
	answer, err := a.prompt("Your answer (empty to skip): ")
	if err != nil {
		return "", err
	}
	// a bare number picks a listed option
	if n, err := strconv.Atoi(answer); err == nil && n >= 1 && n <= len(state.Options) {
		answer = state.Options[n-1]
	}
	return answer, nil
}

func (a *asker) prompt(label string) (string, error) {
	_, _ = fmt.Fprint(a.out, label)
	line, err := a.in.ReadString('\n')
	if err != nil && line == "" {
		_, _ = fmt.Fprintln(a.out)
		return "", err
	}
	return strings.TrimSpace(line), nil
}

func (a *asker) print(msg internal.ChatMessage) {
	if a.jsonOutput {
		enc := json.NewEncoder(a.out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(msg); err != nil {
			internal.LogWarn("encode message: %v", err)
		}
		return
	}
	if verbose && msg.ToolCall != nil {
		if steps := internal.ExtractThinkingSteps(msg.ToolCall); len(steps) > 0 {
			_, _ = fmt.Fprintln(a.out, internal.RenderThinkingSteps(steps))
		}
	}
	_, _ = fmt.Fprintln(a.out, internal.RenderMessage(msg))
}

// repl reads questions line by line until exit or end of input
func (a *asker) repl(ctx context.Context, chatID string) error {
	_, _ = fmt.Fprintf(a.out, "Chat %s. Type a question, or \"exit\" to quit.\n", chatID)
	for {
		line, err := a.prompt("querychat> ")
		if err != nil {
			return nil
		}
		switch strings.ToLower(line) {
		case "":
			continue
		case "exit", "quit":
			return nil
		}

		if _, err := a.ask(ctx, line); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			internal.PrintError(err.Error())
		}
	}
}

func init() {
	rootCmd.AddCommand(askCmd)
	askCmd.Flags().StringVar(&askChat, "chat", "", "Continue a chat from history (full id or unique prefix)")
	askCmd.Flags().BoolVarP(&askYes, "yes", "y", false, "Approve risky SQL without asking")
	askCmd.Flags().BoolVar(&askJSON, "json", false, "Print the final message as JSON")
	askCmd.Flags().BoolVar(&askNoHistory, "no-history", false, "Do not save this chat")
	askCmd.Flags().IntVar(&askRetries, "retries", 1, "Resubmit this many times after a lost connection")
}
