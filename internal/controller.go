package internal

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// Pipeline states written to Metadata.CurrentState by the controller
const (
	StateSubmitted       = "submitted"
	StatePendingApproval = "pending_approval"
	StateExecuting       = "executing"
	StateCompleted       = "completed"
	StateClarification   = "clarification_needed"
	StateError           = "error"
	StateRejected        = "rejected"
	StateCancelled       = "cancelled"
)

// notifyTimeout bounds best-effort cancel and reject calls when no request
// timeout is configured
const notifyTimeout = 10 * time.Second

const (
	// CancelledMessage is the tool call error of a query cancelled by the user
	CancelledMessage = "Query cancelled by user"
	// RejectedMessage is the tool call error of a query rejected at the approval gate
	RejectedMessage = "Query rejected by user"
)

// Backend is the remote query service
type Backend interface {
	// Submit starts a query and returns its terminal (or gated) response
	Submit(ctx context.Context, req SubmitRequest) (Response, error)
	// Subscribe delivers progress updates for a query until the stream ends.
	// It returns nil when the stream closes normally.
	Subscribe(ctx context.Context, queryID string, fn func(StreamUpdate)) error
	// Approve resumes a gated query and returns its terminal response
	Approve(ctx context.Context, req ApprovalRequest) (Response, error)
	Reject(ctx context.Context, queryID string) error
	Cancel(ctx context.Context, queryID string) error
}

// ControllerConfig configures a Controller
type ControllerConfig struct {
	SessionID      string
	DatabaseType   string
	KnownColumns   []string
	RequestTimeout time.Duration
	NewQueryID     func() string
}

type queryState struct {
	id         string
	messageID  string
	text       string
	cancelled  bool
	decided    bool // the user approved or rejected it at the gate
	stopStream context.CancelFunc
}

// Controller drives the lifecycle of the queries in one chat. The stream, the
// terminal response and connection errors arrive on their own goroutines and
// are serialised through Dispatch; status only ever leaves pending once and
// metadata is only ever merged, so the arrival order does not matter.
type Controller struct {
	backend Backend
	store   *MessageStore
	gate    *ApprovalGate
	advisor *SelfHealAdvisor
	cfg     ControllerConfig

	mu      sync.Mutex
	queries map[string]*queryState
	active  string
	changed chan struct{}
	closed  bool

	ctx    context.Context
	cancel context.CancelFunc
	group  *errgroup.Group
}

// NewController creates a controller writing into store. A nil store gets a fresh one.
func NewController(backend Backend, store *MessageStore, cfg ControllerConfig) *Controller {
	if store == nil {
		store = NewMessageStore("")
	}
	if cfg.NewQueryID == nil {
		cfg.NewQueryID = uuid.NewString
	}

	ctx, cancel := context.WithCancel(context.Background())
	group, gctx := errgroup.WithContext(ctx)
	return &Controller{
		backend: backend,
		store:   store,
		gate:    NewApprovalGate(),
		advisor: NewSelfHealAdvisor(),
		cfg:     cfg,
		queries: make(map[string]*queryState),
		changed: make(chan struct{}),
		ctx:     gctx,
		cancel:  cancel,
		group:   group,
	}
}

// Store returns the message store the controller writes to
func (c *Controller) Store() *MessageStore {
	return c.store
}

// ActiveQuery returns the id of the pending query, or ""
func (c *Controller) ActiveQuery() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// PendingApproval returns the open approval dialog
func (c *Controller) PendingApproval() (ApprovalDialogState, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gate.Approval()
}

// PendingClarification returns the open clarification dialog
func (c *Controller) PendingClarification() (ClarificationDialogState, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gate.Clarification()
}

// Dispatch applies one event. User actions return their validation errors;
// backend signals never fail except after Close.
func (c *Controller) Dispatch(ev Event) error {
	switch e := ev.(type) {
	case SubmitQuery:
		_, err := c.Submit(e.Text)
		return err
	case ApproveQuery:
		return c.Approve(e.EditedSQL, e.Constraints)
	case RejectQuery:
		return c.Reject()
	case CancelQuery:
		return c.Cancel()
	case RetryQuery:
		_, err := c.Retry(e.MessageID)
		return err
	case RetryConnection:
		_, err := c.RetryConnection(e.MessageID)
		return err
	case AnswerClarification:
		_, err := c.AnswerClarification(e.Answer)
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrControllerClosed
	}

	switch e := ev.(type) {
	case StreamUpdateReceived:
		c.onStreamUpdate(e)
	case ResponseReceived:
		c.onResponse(e)
	case RequestFailed:
		c.onRequestFailed(e)
	case ConnectionLost:
		c.onConnectionLost(e)
	default:
		return fmt.Errorf("unknown event %T", ev)
	}
	c.broadcast()
	return nil
}

// Submit starts a new query and returns its id. It fails with ErrQueryPending,
// leaving the log untouched, while another query is pending.
func (c *Controller) Submit(text string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.submitLocked(text)
}

func (c *Controller) submitLocked(text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", ErrEmptyQuery
	}
	if c.closed {
		return "", ErrControllerClosed
	}
	if c.active != "" {
		LogDebug("rejecting submission while query %s is pending", c.active)
		return "", ErrQueryPending
	}

	queryID := c.cfg.NewQueryID()
	c.store.AddMessage(ChatMessage{Type: MessageTypeUser, Content: text})
	msg := c.store.AddMessage(ChatMessage{
		Type: MessageTypeAssistant,
		ToolCall: &ToolCall{
			Name: ToolCallName,
			Params: map[string]interface{}{
				"query":         text,
				"database_type": c.cfg.DatabaseType,
			},
			Status: ToolCallPending,
			Metadata: Metadata{
				QueryID:       queryID,
				OriginalQuery: text,
				DatabaseType:  c.cfg.DatabaseType,
				CurrentState:  StateSubmitted,
			},
		},
	})

	streamCtx, stop := context.WithCancel(c.ctx)
	c.queries[queryID] = &queryState{
		id:         queryID,
		messageID:  msg.ID,
		text:       text,
		stopStream: stop,
	}
	c.active = queryID

	req := SubmitRequest{
		Query:        text,
		QueryID:      queryID,
		SessionID:    c.cfg.SessionID,
		DatabaseType: c.cfg.DatabaseType,
	}
	c.group.Go(func() error {
		c.runSubmit(req)
		return nil
	})
	c.group.Go(func() error {
		c.runStream(streamCtx, queryID)
		return nil
	})

	LogDebug("query %s submitted (message %s)", queryID, msg.ID)
	c.broadcast()
	return queryID, nil
}

// Approve resumes the gated query. Edited SQL that fails validation returns a
// *ValidationError and leaves the dialog open.
func (c *Controller) Approve(editedSQL *string, constraints *Constraints) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrControllerClosed
	}

	decision, err := c.gate.Approve(editedSQL, constraints)
	if err != nil {
		return err
	}
	q, ok := c.queries[decision.QueryID]
	if !ok {
		return ErrNoActiveQuery
	}

	md := Metadata{
		ApprovalState: "approved",
		CurrentState:  StateExecuting,
		Constraints:   decision.Constraints,
	}
	req := ApprovalRequest{
		QueryID:     q.id,
		Approved:    true,
		Constraints: decision.Constraints,
	}
	if decision.Modified {
		md.ApprovalState = "modified"
		md.SQL = decision.SQL
		req.ModifiedSQL = decision.SQL
	}
	q.decided = true
	c.mergeLocked(q, ToolCallPatch{Metadata: md})

	c.group.Go(func() error {
		c.runApprove(req)
		return nil
	})

	LogDebug("query %s approved (modified=%v)", q.id, decision.Modified)
	c.broadcast()
	return nil
}

// Reject closes the approval dialog and fails the gated query
func (c *Controller) Reject() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrControllerClosed
	}

	state, err := c.gate.Reject()
	if err != nil {
		return err
	}
	q, ok := c.queries[state.QueryID]
	if !ok {
		return ErrNoActiveQuery
	}

	q.decided = true
	content := "Query rejected. It was not executed."
	c.mergeLocked(q, ToolCallPatch{
		Status:   ToolCallError,
		Error:    RejectedMessage,
		Content:  &content,
		Metadata: Metadata{ApprovalState: "rejected", CurrentState: StateRejected},
	})
	c.finish(q)
	q.stopStream()

	queryID := q.id
	c.group.Go(func() error {
		ctx, cancel := c.notifyContext()
		defer cancel()
		if err := c.backend.Reject(ctx, queryID); err != nil {
			LogWarn("%v", &RequestError{Op: "reject", QueryID: queryID, Err: err})
		}
		return nil
	})

	LogDebug("query %s rejected", q.id)
	c.broadcast()
	return nil
}

// Cancel stops the pending query. The local state changes immediately; the
// backend is told on a best-effort basis and its answer is only logged.
func (c *Controller) Cancel() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrControllerClosed
	}

	q, ok := c.queries[c.active]
	if !ok {
		return ErrNoActiveQuery
	}
	q.cancelled = true

	content := "Query cancelled."
	c.mergeLocked(q, ToolCallPatch{
		Status:   ToolCallError,
		Error:    CancelledMessage,
		Content:  &content,
		Metadata: Metadata{Cancelled: true, CurrentState: StateCancelled},
	})
	c.finish(q)
	q.stopStream()

	queryID := q.id
	c.group.Go(func() error {
		ctx, cancel := c.notifyContext()
		defer cancel()
		if err := c.backend.Cancel(ctx, queryID); err != nil {
			LogWarn("%v", &RequestError{Op: "cancel", QueryID: queryID, Err: err})
		}
		return nil
	})

	LogDebug("query %s cancelled", q.id)
	c.broadcast()
	return nil
}

// Retry re-submits the query text recorded on a message as a new query
func (c *Controller) Retry(messageID string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	msg, ok := c.store.Get(messageID)
	if !ok {
		return "", ErrMessageNotFound
	}
	text := msg.Content
	if msg.ToolCall != nil {
		text = msg.ToolCall.Metadata.OriginalQuery
	}
	if strings.TrimSpace(text) == "" {
		return "", ErrNotRetriable
	}
	return c.submitLocked(text)
}

// RetryConnection re-submits a query that failed because its stream dropped
func (c *Controller) RetryConnection(messageID string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	msg, ok := c.store.Get(messageID)
	if !ok {
		return "", ErrMessageNotFound
	}
	if msg.ToolCall == nil || !msg.ToolCall.Metadata.ConnectionLost {
		return "", ErrNotConnectionError
	}
	return c.submitLocked(msg.ToolCall.Metadata.OriginalQuery)
}

// AnswerClarification closes the clarification dialog and submits the
// original question together with the answer as a new query
func (c *Controller) AnswerClarification(answer string) (string, error) {
	answer = strings.TrimSpace(answer)
	if answer == "" {
		return "", ErrEmptyQuery
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return "", ErrControllerClosed
	}

	state, err := c.gate.ResolveClarification()
	if err != nil {
		return "", err
	}
	return c.submitLocked(state.Query + "\n\nClarification: " + answer)
}

// DismissDialogs closes any open dialog without acting on it
func (c *Controller) DismissDialogs() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gate.Close()
	c.broadcast()
}

// Await blocks until the query settles: it reaches a terminal status or
// opens an approval dialog. It returns the query's message at that point.
func (c *Controller) Await(ctx context.Context, queryID string) (ChatMessage, error) {
	for {
		c.mu.Lock()
		q, ok := c.queries[queryID]
		if !ok {
			c.mu.Unlock()
			return ChatMessage{}, fmt.Errorf("unknown query %s", queryID)
		}
		msg, _ := c.store.Get(q.messageID)
		settled := msg.ToolCall == nil || msg.ToolCall.Status.IsTerminal()
		if a, open := c.gate.Approval(); open && a.QueryID == queryID {
			settled = true
		}
		closed := c.closed
		changed := c.changed
		c.mu.Unlock()

		if settled {
			return msg, nil
		}
		if closed {
			return msg, ErrControllerClosed
		}
		select {
		case <-changed:
		case <-ctx.Done():
			return msg, ctx.Err()
		}
	}
}

// Close stops every in-flight request and stream and waits for them to exit.
// Cancel and reject notifications already sent are allowed to finish.
func (c *Controller) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.cancel()
	c.broadcast()
	c.mu.Unlock()

	return c.group.Wait()
}

func (c *Controller) onStreamUpdate(e StreamUpdateReceived) {
	q, ok := c.queries[e.QueryID]
	if !ok {
		LogDebug("ignoring stream update for unknown query %s", e.QueryID)
		return
	}

	md := e.Update.Metadata()
	if q.decided && e.Update.IsPendingApproval() {
		md.CurrentState = ""
	}
	msg := c.mergeLocked(q, ToolCallPatch{Metadata: md})
	LogDebug("query %s stage %q", q.id, e.Update.State)

	if !e.Update.IsPendingApproval() || q.cancelled || q.decided || msg.ToolCall == nil || msg.ToolCall.Status != ToolCallPending {
		return
	}
	if !c.gate.IsOpen() {
		c.openApproval(q, msg)
	}
}

func (c *Controller) onResponse(e ResponseReceived) {
	q, ok := c.queries[e.QueryID]
	if !ok {
		LogDebug("ignoring response for unknown query %s", e.QueryID)
		return
	}

	md := MetadataFromResponse(e.Response)
	md.QueryID = q.id

	if q.cancelled {
		md.LateResponse = true
		c.mergeLocked(q, ToolCallPatch{Metadata: md})
		LogInfo("late response for cancelled query %s", q.id)
		return
	}

	current, ok := c.store.Get(q.messageID)
	if !ok || current.ToolCall == nil || current.ToolCall.Status.IsTerminal() {
		c.mergeLocked(q, ToolCallPatch{Metadata: md})
		LogDebug("query %s already settled; response only enriches metadata", q.id)
		return
	}

	outcome := Classify(e.Response)
	LogDebug("query %s classified as %s", q.id, outcome.Kind)

	switch outcome.Kind {
	case OutcomeNeedsApproval:
		// only the answer to an approval may gate a decided query again
		if q.decided && !e.Approval {
			md.CurrentState = ""
			c.mergeLocked(q, ToolCallPatch{Metadata: md})
			LogDebug("query %s already decided; ignoring repeated approval request", q.id)
			return
		}
		q.decided = false
		md.CurrentState = StatePendingApproval
		msg := c.mergeLocked(q, ToolCallPatch{Metadata: md})
		c.openApproval(q, msg)

	case OutcomeClarification:
		content := outcome.Message
		md.CurrentState = StateClarification
		c.mergeLocked(q, ToolCallPatch{Status: ToolCallCompleted, Content: &content, Metadata: md})
		c.finish(q)
		state := ClarificationDialogState{
			MessageID: q.messageID,
			QueryID:   q.id,
			Query:     q.text,
			Message:   content,
		}
		if md.Clarification != nil {
			state.Details = md.Clarification.Details
			state.Options = md.Clarification.Options
		}
		c.gate.OpenClarification(state)

	case OutcomeConversational:
		content := outcome.Message
		md.CurrentState = StateCompleted
		c.mergeLocked(q, ToolCallPatch{Status: ToolCallCompleted, Content: &content, Metadata: md})
		c.finish(q)

	case OutcomeSuccess:
		content := ResultSummary(outcome.Result)
		md.CurrentState = StateCompleted
		c.mergeLocked(q, ToolCallPatch{Status: ToolCallCompleted, Result: outcome.Result, Content: &content, Metadata: md})
		c.finish(q)

	default:
		merged := MergeMetadata(current.ToolCall.Metadata, md)
		md.Suggestion = c.advisor.Analyze(outcome.ErrorMessage, merged.SQL, c.knownColumns(merged))
		md.CurrentState = StateError
		content := "Error: " + outcome.ErrorMessage
		c.mergeLocked(q, ToolCallPatch{Status: ToolCallError, Error: outcome.ErrorMessage, Content: &content, Metadata: md})
		c.finish(q)
	}
}

func (c *Controller) onRequestFailed(e RequestFailed) {
	q, ok := c.queries[e.QueryID]
	if !ok || q.cancelled {
		LogDebug("ignoring %s failure for query %s: %v", e.Op, e.QueryID, e.Err)
		return
	}
	if msg, ok := c.store.Get(q.messageID); !ok || msg.ToolCall == nil || msg.ToolCall.Status.IsTerminal() {
		LogDebug("query %s already settled; ignoring %s failure: %v", q.id, e.Op, e.Err)
		return
	}

	LogWarn("%v", &RequestError{Op: e.Op, QueryID: q.id, Err: e.Err})
	errMsg := fmt.Sprintf("Failed to %s query: %v", e.Op, e.Err)
	content := "Error: " + errMsg
	c.mergeLocked(q, ToolCallPatch{
		Status:   ToolCallError,
		Error:    errMsg,
		Content:  &content,
		Metadata: Metadata{CurrentState: StateError},
	})
	c.finish(q)
}

func (c *Controller) onConnectionLost(e ConnectionLost) {
	q, ok := c.queries[e.QueryID]
	if !ok || q.cancelled {
		return
	}
	if msg, ok := c.store.Get(q.messageID); !ok || msg.ToolCall == nil || msg.ToolCall.Status.IsTerminal() {
		LogDebug("query %s already settled; ignoring stream error: %v", q.id, e.Err)
		return
	}

	LogWarn("%v", &RequestError{Op: "stream", QueryID: q.id, Err: e.Err})
	errMsg := fmt.Sprintf("Connection lost: %v", e.Err)
	content := "Connection lost while waiting for the query. Retry the connection to resume."
	c.mergeLocked(q, ToolCallPatch{
		Status:   ToolCallError,
		Error:    errMsg,
		Content:  &content,
		Metadata: Metadata{ConnectionLost: true, CurrentState: StateError},
	})
	c.finish(q)
}

func (c *Controller) runSubmit(req SubmitRequest) {
	ctx, cancel := c.requestContext()
	defer cancel()

	resp, err := c.backend.Submit(ctx, req)
	if err != nil {
		c.dispatchAsync(RequestFailed{QueryID: req.QueryID, Op: "submit", Err: err})
		return
	}
	c.dispatchAsync(ResponseReceived{QueryID: req.QueryID, Response: resp})
}

func (c *Controller) runApprove(req ApprovalRequest) {
	ctx, cancel := c.requestContext()
	defer cancel()

	resp, err := c.backend.Approve(ctx, req)
	if err != nil {
		c.dispatchAsync(RequestFailed{QueryID: req.QueryID, Op: "approve", Err: err})
		return
	}
	c.dispatchAsync(ResponseReceived{QueryID: req.QueryID, Response: resp, Approval: true})
}

func (c *Controller) runStream(ctx context.Context, queryID string) {
	err := c.backend.Subscribe(ctx, queryID, func(u StreamUpdate) {
		c.dispatchAsync(StreamUpdateReceived{QueryID: queryID, Update: u})
	})
	if err == nil || ctx.Err() != nil {
		return
	}
	c.dispatchAsync(ConnectionLost{QueryID: queryID, Err: err})
}

func (c *Controller) dispatchAsync(ev Event) {
	if err := c.Dispatch(ev); err != nil && !errors.Is(err, ErrControllerClosed) {
		LogWarn("dispatch %T: %v", ev, err)
	}
}

func (c *Controller) requestContext() (context.Context, context.CancelFunc) {
	if c.cfg.RequestTimeout > 0 {
		return context.WithTimeout(c.ctx, c.cfg.RequestTimeout)
	}
	return context.WithCancel(c.ctx)
}

// notifyContext is detached from Close so that a cancel or reject sent just
// before shutdown still reaches the service
func (c *Controller) notifyContext() (context.Context, context.CancelFunc) {
	timeout := c.cfg.RequestTimeout
	if timeout <= 0 {
		timeout = notifyTimeout
	}
	return context.WithTimeout(context.WithoutCancel(c.ctx), timeout)
}

func (c *Controller) mergeLocked(q *queryState, patch ToolCallPatch) ChatMessage {
	msg, _, err := c.store.MergeToolCall(q.messageID, patch)
	if err != nil {
		LogWarn("query %s: %v", q.id, err)
	}
	return msg
}

func (c *Controller) openApproval(q *queryState, msg ChatMessage) {
	state := ApprovalDialogState{
		MessageID: q.messageID,
		QueryID:   q.id,
		Query:     q.text,
	}
	if msg.ToolCall != nil {
		md := msg.ToolCall.Metadata
		state.SQL = md.SQL
		state.RiskLevel = md.RiskLevel
		state.ApprovalContext = md.ApprovalContext
		state.Constraints = md.Constraints
	}
	if c.gate.OpenApproval(state) {
		LogDebug("approval requested for query %s (risk %s)", q.id, state.RiskLevel)
	}
}

// finish ends a query's lifecycle: it is no longer active and any dialog is
// discarded. Its stream runs on so late updates can still enrich metadata.
func (c *Controller) finish(q *queryState) {
	if c.active == q.id {
		c.active = ""
	}
	c.gate.Close()
}

func (c *Controller) knownColumns(md Metadata) []string {
	seen := make(map[string]bool)
	var out []string
	for _, col := range append(SchemaColumns(md.SchemaData), c.cfg.KnownColumns...) {
		key := strings.ToUpper(col)
		if col == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, col)
	}
	return out
}

func (c *Controller) broadcast() {
	close(c.changed)
	c.changed = make(chan struct{})
}

// ResultSummary is the assistant text shown for a successful result
func ResultSummary(r *NormalizedResult) string {
	if r == nil {
		return "Query completed."
	}
	noun := "rows"
	if r.RowCount == 1 {
		noun = "row"
	}
	s := fmt.Sprintf("Query returned %d %s", r.RowCount, noun)
	if r.ExecutionTimeMs != nil {
		s += fmt.Sprintf(" in %.0f ms", *r.ExecutionTimeMs)
	}
	return s + "."
}
