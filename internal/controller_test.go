package internal

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"go.uber.org/goleak"
)

const testTimeout = 2 * time.Second

func newTestController(t *testing.T, cfg ControllerConfig) (*Controller, *FakeBackend) {
	t.Helper()
	fb := NewFakeBackend()
	n := 0
	if cfg.NewQueryID == nil {
		cfg.NewQueryID = func() string {
			n++
			return fmt.Sprintf("q%d", n)
		}
	}
	c := NewController(fb, NewMessageStore("chat-test"), cfg)
	t.Cleanup(func() {
		if err := c.Close(); err != nil {
			t.Errorf("Close() error = %v", err)
		}
		goleak.VerifyNone(t)
	})
	return c, fb
}

func assistantFor(t *testing.T, c *Controller, queryID string) ChatMessage {
	t.Helper()
	for _, m := range c.Store().Messages() {
		if m.ToolCall != nil && m.ToolCall.Metadata.QueryID == queryID {
			return m
		}
	}
	t.Fatalf("no assistant message for query %s", queryID)
	return ChatMessage{}
}

func awaitSettled(t *testing.T, c *Controller, queryID string) ChatMessage {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()
	msg, err := c.Await(ctx, queryID)
	if err != nil {
		t.Fatalf("Await(%s) error = %v", queryID, err)
	}
	return msg
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(testTimeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// expectCalls waits until every listed backend call has been observed, in any order
func expectCalls(t *testing.T, fb *FakeBackend, want ...string) {
	t.Helper()
	pending := make(map[string]bool, len(want))
	for _, w := range want {
		pending[w] = true
	}
	deadline := time.After(testTimeout)
	for len(pending) > 0 {
		select {
		case got := <-fb.Calls():
			delete(pending, got)
		case <-deadline:
			t.Fatalf("backend calls not observed: %v", pending)
		}
	}
}

func TestController_Submit(t *testing.T) {
	c, fb := newTestController(t, ControllerConfig{DatabaseType: "oracle", SessionID: "s1"})

	id, err := c.Submit("  how many customers?  ")
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	msgs := c.Store().Messages()
	if len(msgs) != 2 {
		t.Fatalf("Submit() appended %d messages, want 2", len(msgs))
	}
	if msgs[0].Type != MessageTypeUser || msgs[0].Content != "how many customers?" {
		t.Errorf("user message = %+v", msgs[0])
	}
	tc := msgs[1].ToolCall
	if msgs[1].Type != MessageTypeAssistant || tc == nil || tc.Status != ToolCallPending {
		t.Fatalf("assistant message = %+v", msgs[1])
	}
	if tc.Metadata.QueryID != id || tc.Metadata.OriginalQuery != "how many customers?" {
		t.Errorf("tool call metadata = %+v", tc.Metadata)
	}
	if c.ActiveQuery() != id {
		t.Errorf("ActiveQuery() = %q, want %q", c.ActiveQuery(), id)
	}

	expectCalls(t, fb, "submit:"+id, "subscribe:"+id)
	req := fb.Submits()[0]
	if req.Query != "how many customers?" || req.DatabaseType != "oracle" || req.SessionID != "s1" {
		t.Errorf("SubmitRequest = %+v", req)
	}
}

func TestController_SubmitWhilePendingIsNoop(t *testing.T) {
	c, _ := newTestController(t, ControllerConfig{})

	if _, err := c.Submit("first"); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	before := c.Store().QueryCount()

	if _, err := c.Submit("second"); !errors.Is(err, ErrQueryPending) {
		t.Errorf("second Submit() error = %v, want ErrQueryPending", err)
	}
	if err := c.Dispatch(SubmitQuery{Text: "third"}); !errors.Is(err, ErrQueryPending) {
		t.Errorf("Dispatch(SubmitQuery) error = %v, want ErrQueryPending", err)
	}
	if after := c.Store().QueryCount(); after != before {
		t.Errorf("QueryCount() = %d after rejected submissions, want %d", after, before)
	}
	if c.Store().Len() != 2 {
		t.Errorf("Len() = %d, want 2", c.Store().Len())
	}
}

func TestController_SubmitEmpty(t *testing.T) {
	c, _ := newTestController(t, ControllerConfig{})
	if _, err := c.Submit("   "); !errors.Is(err, ErrEmptyQuery) {
		t.Errorf("Submit(blank) error = %v, want ErrEmptyQuery", err)
	}
	if c.Store().Len() != 0 {
		t.Error("Submit(blank) appended messages")
	}
}

func TestController_StreamUpdatesMerge(t *testing.T) {
	c, _ := newTestController(t, ControllerConfig{})
	id, _ := c.Submit("top customers")

	updates := []StreamUpdate{
		{State: "understanding", ThinkingSteps: []StepRecord{{"name": "parse", "status": "in_progress"}}},
		{State: "generating_sql", SQL: "SELECT * FROM CUSTOMERS", ThinkingSteps: []StepRecord{{"name": "parse", "status": "completed"}, {"name": "generate", "status": "in_progress"}}},
		{State: "validating", SQLExplanation: "lists customers", Extra: map[string]interface{}{"trace": "t-1"}},
	}
	for _, u := range updates {
		if err := c.Dispatch(StreamUpdateReceived{QueryID: id, Update: u}); err != nil {
			t.Fatalf("Dispatch() error = %v", err)
		}
	}

	tc := assistantFor(t, c, id).ToolCall
	if tc.Status != ToolCallPending {
		t.Errorf("status = %v, want pending", tc.Status)
	}
	md := tc.Metadata
	if md.CurrentState != "validating" || md.SQL != "SELECT * FROM CUSTOMERS" || md.SQLExplanation != "lists customers" {
		t.Errorf("metadata = %+v", md)
	}
	if md.Extra["trace"] != "t-1" {
		t.Errorf("Extra = %v, want trace kept", md.Extra)
	}
	steps := ExtractThinkingSteps(tc)
	if len(steps) != 2 || steps[0].Status != StepCompleted || steps[1].Status != StepInProgress {
		t.Errorf("steps = %+v", steps)
	}
}

func TestController_StreamViaBackend(t *testing.T) {
	c, fb := newTestController(t, ControllerConfig{})
	id, _ := c.Submit("revenue by month")

	fb.Push(id, StreamUpdate{State: "executing", SQL: "SELECT 1 FROM DUAL"})
	waitFor(t, "streamed state", func() bool {
		return assistantFor(t, c, id).ToolCall.Metadata.CurrentState == "executing"
	})
}

func TestController_Success(t *testing.T) {
	c, fb := newTestController(t, ControllerConfig{})
	id, _ := c.Submit("list customers")

	fb.Respond(id, CreateTestResultResponse(id), nil)
	msg := awaitSettled(t, c, id)

	if msg.ToolCall.Status != ToolCallCompleted {
		t.Fatalf("status = %v, want completed", msg.ToolCall.Status)
	}
	if msg.ToolCall.Result == nil || msg.ToolCall.Result.RowCount != 2 {
		t.Errorf("result = %+v", msg.ToolCall.Result)
	}
	if msg.Content != "Query returned 2 rows in 12 ms." {
		t.Errorf("content = %q", msg.Content)
	}
	if msg.ToolCall.Metadata.SQL != "SELECT ID, NAME FROM CUSTOMERS" {
		t.Errorf("SQL = %q", msg.ToolCall.Metadata.SQL)
	}
	if c.ActiveQuery() != "" {
		t.Error("ActiveQuery() should be cleared after completion")
	}

	if _, err := c.Submit("next question"); err != nil {
		t.Errorf("Submit() after completion error = %v", err)
	}
}

func TestController_LateStreamUpdateAfterCompletion(t *testing.T) {
	c, _ := newTestController(t, ControllerConfig{})
	id, _ := c.Submit("list customers")

	_ = c.Dispatch(ResponseReceived{QueryID: id, Response: CreateTestResultResponse(id)})
	_ = c.Dispatch(StreamUpdateReceived{QueryID: id, Update: StreamUpdate{State: "pending", SQLExplanation: "explained late"}})
	_ = c.Dispatch(StreamUpdateReceived{QueryID: id, Update: StreamUpdate{State: "PENDING_APPROVAL"}})

	msg := assistantFor(t, c, id)
	if msg.ToolCall.Status != ToolCallCompleted {
		t.Errorf("status = %v, want completed", msg.ToolCall.Status)
	}
	if msg.ToolCall.Metadata.SQLExplanation != "explained late" {
		t.Error("late stream update should still enrich metadata")
	}
	if _, open := c.PendingApproval(); open {
		t.Error("late pending_approval must not open a dialog for a completed query")
	}
}

func TestController_Cancel(t *testing.T) {
	c, fb := newTestController(t, ControllerConfig{})
	fb.CancelErr = errors.New("backend unavailable")
	id, _ := c.Submit("slow query")

	if err := c.Cancel(); err != nil {
		t.Fatalf("Cancel() error = %v", err)
	}

	msg := assistantFor(t, c, id)
	if msg.ToolCall.Status != ToolCallError || msg.ToolCall.Error != CancelledMessage {
		t.Errorf("tool call = %+v, want cancelled error", msg.ToolCall)
	}
	if msg.Content != "Query cancelled." {
		t.Errorf("content = %q", msg.Content)
	}
	if !msg.ToolCall.Metadata.Cancelled {
		t.Error("Cancelled flag not set")
	}
	if c.ActiveQuery() != "" {
		t.Error("ActiveQuery() should be cleared after cancel")
	}
	if !fb.WaitCall("cancel:"+id, testTimeout) {
		t.Error("backend Cancel was not called")
	}

	if err := c.Cancel(); !errors.Is(err, ErrNoActiveQuery) {
		t.Errorf("second Cancel() error = %v, want ErrNoActiveQuery", err)
	}
}

func TestController_LateResponseAfterCancel(t *testing.T) {
	c, fb := newTestController(t, ControllerConfig{})
	id, _ := c.Submit("slow query")
	_ = c.Cancel()

	fb.Respond(id, CreateTestResultResponse(id), nil)
	waitFor(t, "late response annotation", func() bool {
		return assistantFor(t, c, id).ToolCall.Metadata.LateResponse
	})

	msg := assistantFor(t, c, id)
	if msg.ToolCall.Status != ToolCallError || msg.ToolCall.Result != nil {
		t.Errorf("late response changed a cancelled tool call: %+v", msg.ToolCall)
	}
	if msg.Content != "Query cancelled." {
		t.Errorf("content = %q", msg.Content)
	}
}

func TestController_ApprovalFlow(t *testing.T) {
	c, fb := newTestController(t, ControllerConfig{})
	id, _ := c.Submit("delete old orders")

	fb.Respond(id, CreateTestApprovalResponse(id, "DELETE FROM ORDERS"), nil)
	msg := awaitSettled(t, c, id)
	if msg.ToolCall.Status != ToolCallPending {
		t.Fatalf("status = %v, want pending while awaiting approval", msg.ToolCall.Status)
	}

	dialog, open := c.PendingApproval()
	if !open {
		t.Fatal("approval dialog not open")
	}
	if dialog.SQL != "DELETE FROM ORDERS" || dialog.RiskLevel != RiskHigh || dialog.Query != "delete old orders" {
		t.Errorf("dialog = %+v", dialog)
	}
	if dialog.ApprovalContext == nil || len(dialog.ApprovalContext.Warnings) != 1 {
		t.Errorf("approval context = %+v", dialog.ApprovalContext)
	}

	bad := "DELETE FROM ORDERS WHERE (ID = 1"
	if err := c.Approve(&bad, nil); !IsValidationError(err) {
		t.Fatalf("Approve(invalid) error = %v, want validation error", err)
	}
	if _, open := c.PendingApproval(); !open {
		t.Fatal("validation failure must not close the dialog")
	}
	if assistantFor(t, c, id).ToolCall.Status != ToolCallPending {
		t.Fatal("validation failure must not cancel the query")
	}

	edited := "DELETE FROM ORDERS WHERE ID = 1"
	if err := c.Approve(&edited, &Constraints{RowLimit: 1}); err != nil {
		t.Fatalf("Approve() error = %v", err)
	}
	if !fb.WaitCall("approve:"+id, testTimeout) {
		t.Fatal("backend Approve was not called")
	}
	req := fb.Approvals()[0]
	if req.ModifiedSQL != edited || req.Constraints == nil || req.Constraints.RowLimit != 1 {
		t.Errorf("ApprovalRequest = %+v", req)
	}

	md := assistantFor(t, c, id).ToolCall.Metadata
	if md.ApprovalState != "modified" || md.SQL != edited || md.CurrentState != StateExecuting {
		t.Errorf("metadata after approve = %+v", md)
	}

	fb.RespondApproval(id, Response{"query_id": id, "columns": []interface{}{"DELETED"}, "rows": []interface{}{[]interface{}{1.0}}}, nil)
	msg = awaitSettled(t, c, id)
	if msg.ToolCall.Status != ToolCallCompleted {
		t.Errorf("status = %v, want completed", msg.ToolCall.Status)
	}
}

func TestController_ApproveUnchangedSendsNoModifiedSQL(t *testing.T) {
	c, fb := newTestController(t, ControllerConfig{})
	id, _ := c.Submit("purge")
	_ = c.Dispatch(ResponseReceived{QueryID: id, Response: CreateTestApprovalResponse(id, "DELETE FROM LOGS")})

	if err := c.Dispatch(ApproveQuery{}); err != nil {
		t.Fatalf("Dispatch(ApproveQuery) error = %v", err)
	}
	if !fb.WaitCall("approve:"+id, testTimeout) {
		t.Fatal("backend Approve was not called")
	}
	if req := fb.Approvals()[0]; req.ModifiedSQL != "" || !req.Approved {
		t.Errorf("ApprovalRequest = %+v, want unmodified approval", req)
	}
	if md := assistantFor(t, c, id).ToolCall.Metadata; md.SQL != "DELETE FROM LOGS" || md.ApprovalState != "approved" {
		t.Errorf("metadata = %+v", md)
	}
}

func TestController_StreamPendingApprovalAndReject(t *testing.T) {
	c, fb := newTestController(t, ControllerConfig{})
	id, _ := c.Submit("drop staging table")

	u := StreamUpdate{State: "Pending_Approval", SQL: "DROP TABLE STAGING"}
	_ = c.Dispatch(StreamUpdateReceived{QueryID: id, Update: u})
	_ = c.Dispatch(StreamUpdateReceived{QueryID: id, Update: StreamUpdate{State: "pending_approval", SQL: "DROP TABLE OTHER"}})

	dialog, open := c.PendingApproval()
	if !open {
		t.Fatal("pending_approval stream state should open the dialog")
	}
	if dialog.SQL != "DROP TABLE STAGING" {
		t.Errorf("duplicate stream event replaced the dialog: SQL = %q", dialog.SQL)
	}

	if err := c.Reject(); err != nil {
		t.Fatalf("Reject() error = %v", err)
	}
	msg := assistantFor(t, c, id)
	if msg.ToolCall.Status != ToolCallError || msg.ToolCall.Error != RejectedMessage {
		t.Errorf("tool call after reject = %+v", msg.ToolCall)
	}
	if _, open := c.PendingApproval(); open {
		t.Error("dialog still open after reject")
	}
	if c.ActiveQuery() != "" {
		t.Error("rejected query still active")
	}
	if !fb.WaitCall("reject:"+id, testTimeout) {
		t.Error("backend Reject was not called")
	}
	if err := c.Reject(); !errors.Is(err, ErrNoApprovalPending) {
		t.Errorf("second Reject() error = %v, want ErrNoApprovalPending", err)
	}
}

func TestController_DecidedQueryIsNotGatedAgain(t *testing.T) {
	c, fb := newTestController(t, ControllerConfig{})
	id, _ := c.Submit("delete old orders")

	gated := StreamUpdate{State: "pending_approval", SQL: "DELETE FROM ORDERS"}
	_ = c.Dispatch(StreamUpdateReceived{QueryID: id, Update: gated})
	if err := c.Approve(nil, nil); err != nil {
		t.Fatalf("Approve() error = %v", err)
	}
	if !fb.WaitCall("approve:"+id, testTimeout) {
		t.Fatal("backend Approve was not called")
	}

	_ = c.Dispatch(StreamUpdateReceived{QueryID: id, Update: gated})
	if _, open := c.PendingApproval(); open {
		t.Error("redelivered pending_approval reopened the dialog of an approved query")
	}
	_ = c.Dispatch(ResponseReceived{QueryID: id, Response: CreateTestApprovalResponse(id, "DELETE FROM ORDERS")})
	if _, open := c.PendingApproval(); open {
		t.Error("needs_approval submit response reopened the dialog of an approved query")
	}

	msg := assistantFor(t, c, id)
	if msg.ToolCall.Status != ToolCallPending || msg.ToolCall.Metadata.CurrentState != StateExecuting {
		t.Errorf("tool call = %+v, want pending and executing", msg.ToolCall)
	}
	if msg.ToolCall.Metadata.ApprovalState != "approved" {
		t.Errorf("ApprovalState = %q, want approved", msg.ToolCall.Metadata.ApprovalState)
	}

	fb.RespondApproval(id, CreateTestResultResponse(id), nil)
	if got := awaitSettled(t, c, id); got.ToolCall.Status != ToolCallCompleted {
		t.Errorf("status = %v, want completed", got.ToolCall.Status)
	}
	if n := len(fb.Approvals()); n != 1 {
		t.Errorf("backend saw %d approvals, want 1", n)
	}
}

func TestController_ApprovalAnswerCanGateAgain(t *testing.T) {
	c, fb := newTestController(t, ControllerConfig{})
	id, _ := c.Submit("delete old orders")
	_ = c.Dispatch(ResponseReceived{QueryID: id, Response: CreateTestApprovalResponse(id, "DELETE FROM ORDERS")})

	edited := "DELETE FROM ORDERS WHERE YEAR < 2000"
	if err := c.Approve(&edited, nil); err != nil {
		t.Fatalf("Approve() error = %v", err)
	}
	fb.RespondApproval(id, CreateTestApprovalResponse(id, "DELETE FROM ORDERS WHERE YEAR < 2001"), nil)
	awaitSettled(t, c, id)

	dialog, open := c.PendingApproval()
	if !open {
		t.Fatal("an approval answer that needs approval should open a new dialog")
	}
	if dialog.SQL != "DELETE FROM ORDERS WHERE YEAR < 2001" {
		t.Errorf("dialog SQL = %q", dialog.SQL)
	}
}

func TestController_StreamOutlivesResponse(t *testing.T) {
	c, fb := newTestController(t, ControllerConfig{})
	id, _ := c.Submit("list customers")

	fb.Respond(id, CreateTestResultResponse(id), nil)
	awaitSettled(t, c, id)

	fb.Push(id, StreamUpdate{State: "executing", SQLExplanation: "explained late"})
	waitFor(t, "late explanation", func() bool {
		return assistantFor(t, c, id).ToolCall.Metadata.SQLExplanation == "explained late"
	})

	msg := assistantFor(t, c, id)
	if msg.ToolCall.Status != ToolCallCompleted {
		t.Errorf("status = %v, want completed", msg.ToolCall.Status)
	}
	if msg.ToolCall.Metadata.CurrentState != StateCompleted {
		t.Errorf("CurrentState = %q, want %q", msg.ToolCall.Metadata.CurrentState, StateCompleted)
	}
}

func TestController_NotificationsSurviveClose(t *testing.T) {
	tests := []struct {
		name  string
		act   func(c *Controller, id string) error
		calls func(fb *FakeBackend) []string
	}{
		{
			name:  "cancel",
			act:   func(c *Controller, id string) error { return c.Cancel() },
			calls: (*FakeBackend).Cancels,
		},
		{
			name: "reject",
			act: func(c *Controller, id string) error {
				_ = c.Dispatch(ResponseReceived{QueryID: id, Response: CreateTestApprovalResponse(id, "DROP TABLE T")})
				return c.Reject()
			},
			calls: (*FakeBackend).Rejects,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, fb := newTestController(t, ControllerConfig{RequestTimeout: time.Second})
			fb.NotifyDelay = 50 * time.Millisecond
			id, _ := c.Submit("slow query")

			if err := tt.act(c, id); err != nil {
				t.Fatalf("%s error = %v", tt.name, err)
			}
			if err := c.Close(); err != nil {
				t.Fatalf("Close() error = %v", err)
			}
			if got := tt.calls(fb); len(got) != 1 || got[0] != id {
				t.Errorf("backend %s calls after Close = %v, want [%s]", tt.name, got, id)
			}
		})
	}
}

func TestController_ErrorWithSelfHeal(t *testing.T) {
	c, fb := newTestController(t, ControllerConfig{KnownColumns: []string{"CUSTOMER_ID", "NAME"}})
	id, _ := c.Submit("customers by id")

	fb.Respond(id, CreateTestErrorResponse(id, "SELECT CUSTMER_ID FROM CUSTOMERS", "Column CUSTMER_ID not found"), nil)
	msg := awaitSettled(t, c, id)

	tc := msg.ToolCall
	if tc.Status != ToolCallError || tc.Error != "Column CUSTMER_ID not found" {
		t.Fatalf("tool call = %+v", tc)
	}
	if !strings.HasPrefix(msg.Content, "Error: ") {
		t.Errorf("content = %q", msg.Content)
	}
	if tc.Metadata.FailedStage != "execution" || tc.Metadata.CorrelationID != "corr-"+id {
		t.Errorf("error details = %q / %q", tc.Metadata.FailedStage, tc.Metadata.CorrelationID)
	}
	s := tc.Metadata.Suggestion
	if s == nil || s.Replacement != "CUSTOMER_ID" || s.SuggestedSQL != "SELECT CUSTOMER_ID FROM CUSTOMERS" {
		t.Errorf("suggestion = %+v", s)
	}
}

func TestController_SelfHealUsesStreamedSchema(t *testing.T) {
	c, _ := newTestController(t, ControllerConfig{})
	id, _ := c.Submit("orders by date")

	_ = c.Dispatch(StreamUpdateReceived{QueryID: id, Update: StreamUpdate{
		State:      "schema_retrieved",
		SchemaData: []interface{}{map[string]interface{}{"table": "ORDERS", "columns": []interface{}{"ORDER_DATE"}}},
	}})
	_ = c.Dispatch(ResponseReceived{QueryID: id, Response: CreateTestErrorResponse(id, "SELECT ORDR_DATE FROM ORDERS", `ORA-00904: "ORDR_DATE": invalid identifier`)})

	s := assistantFor(t, c, id).ToolCall.Metadata.Suggestion
	if s == nil || s.Replacement != "ORDER_DATE" {
		t.Errorf("suggestion = %+v, want ORDER_DATE", s)
	}
}

func TestController_MalformedResponse(t *testing.T) {
	c, _ := newTestController(t, ControllerConfig{})
	id, _ := c.Submit("anything")

	_ = c.Dispatch(ResponseReceived{QueryID: id, Response: Response{"unexpected": true}})
	tc := assistantFor(t, c, id).ToolCall
	if tc.Status != ToolCallError || tc.Error != MalformedResponseMessage {
		t.Errorf("tool call = %+v, want malformed response error", tc)
	}
}

func TestController_ConversationalReply(t *testing.T) {
	c, _ := newTestController(t, ControllerConfig{})
	id, _ := c.Submit("hello")

	_ = c.Dispatch(ResponseReceived{QueryID: id, Response: Response{"is_conversational": true, "message": "Hi there"}})
	msg := assistantFor(t, c, id)
	if msg.ToolCall.Status != ToolCallCompleted || msg.Content != "Hi there" || msg.ToolCall.Result != nil {
		t.Errorf("message = %+v", msg)
	}
}

func TestController_SubmitFailure(t *testing.T) {
	c, fb := newTestController(t, ControllerConfig{})
	id, _ := c.Submit("anything")

	fb.Respond(id, nil, errors.New("dial tcp: connection refused"))
	msg := awaitSettled(t, c, id)

	if msg.ToolCall.Status != ToolCallError {
		t.Fatalf("status = %v, want error", msg.ToolCall.Status)
	}
	if !strings.Contains(msg.ToolCall.Error, "Failed to submit query") || !strings.Contains(msg.Content, "connection refused") {
		t.Errorf("tool call = %+v, content = %q", msg.ToolCall, msg.Content)
	}
	if msg.ToolCall.Metadata.ConnectionLost {
		t.Error("a failed submission is not a lost stream connection")
	}
	if _, err := c.RetryConnection(msg.ID); !errors.Is(err, ErrNotConnectionError) {
		t.Errorf("RetryConnection() error = %v, want ErrNotConnectionError", err)
	}
}

func TestController_ConnectionLostAndRetry(t *testing.T) {
	c, fb := newTestController(t, ControllerConfig{})
	id, _ := c.Submit("monthly revenue")

	fb.Disconnect(id, errors.New("unexpected EOF"))
	msg := awaitSettled(t, c, id)

	if msg.ToolCall.Status != ToolCallError || !msg.ToolCall.Metadata.ConnectionLost {
		t.Fatalf("tool call = %+v, want connection lost error", msg.ToolCall)
	}
	if !strings.Contains(msg.ToolCall.Error, "unexpected EOF") {
		t.Errorf("error = %q", msg.ToolCall.Error)
	}

	retryID, err := c.RetryConnection(msg.ID)
	if err != nil {
		t.Fatalf("RetryConnection() error = %v", err)
	}
	if retryID == id {
		t.Error("retry should start a new query")
	}
	retried := assistantFor(t, c, retryID)
	if retried.ToolCall.Metadata.OriginalQuery != "monthly revenue" || retried.ToolCall.Status != ToolCallPending {
		t.Errorf("retried tool call = %+v", retried.ToolCall)
	}
}

func TestController_RetryUsesRecordedQuery(t *testing.T) {
	c, _ := newTestController(t, ControllerConfig{})
	id, _ := c.Submit("original question")
	_ = c.Dispatch(ResponseReceived{QueryID: id, Response: Response{"error": "boom"}})

	failed := assistantFor(t, c, id)
	retryID, err := c.Retry(failed.ID)
	if err != nil {
		t.Fatalf("Retry() error = %v", err)
	}

	msgs := c.Store().Messages()
	last := msgs[len(msgs)-2]
	if last.Type != MessageTypeUser || last.Content != "original question" {
		t.Errorf("retry user message = %+v", last)
	}
	if assistantFor(t, c, retryID).ToolCall.Status != ToolCallPending {
		t.Error("retried query should be pending")
	}
	if c.Store().QueryCount() != 2 {
		t.Errorf("QueryCount() = %d, want 2", c.Store().QueryCount())
	}

	if _, err := c.Retry("missing"); !errors.Is(err, ErrMessageNotFound) {
		t.Errorf("Retry(missing) error = %v, want ErrMessageNotFound", err)
	}
}

func TestController_Clarification(t *testing.T) {
	c, fb := newTestController(t, ControllerConfig{})
	id, _ := c.Submit("sales last year")

	_ = c.Dispatch(ResponseReceived{QueryID: id, Response: Response{
		"clarification_message": "Calendar or fiscal year?",
		"clarification_details": map[string]interface{}{"options": []interface{}{"calendar", "fiscal"}},
	}})

	msg := assistantFor(t, c, id)
	if msg.ToolCall.Status != ToolCallCompleted || msg.Content != "Calendar or fiscal year?" {
		t.Errorf("message = %+v", msg)
	}
	dialog, open := c.PendingClarification()
	if !open || len(dialog.Options) != 2 {
		t.Fatalf("clarification dialog = %+v, open = %v", dialog, open)
	}

	newID, err := c.AnswerClarification("fiscal")
	if err != nil {
		t.Fatalf("AnswerClarification() error = %v", err)
	}
	if !fb.WaitCall("submit:"+newID, testTimeout) {
		t.Fatal("clarified query was not submitted")
	}
	var got string
	for _, r := range fb.Submits() {
		if r.QueryID == newID {
			got = r.Query
		}
	}
	if got != "sales last year\n\nClarification: fiscal" {
		t.Errorf("clarified query = %q", got)
	}
	if _, open := c.PendingClarification(); open {
		t.Error("clarification dialog still open")
	}
}

func TestController_ErrorClearsDialog(t *testing.T) {
	c, _ := newTestController(t, ControllerConfig{})
	id, _ := c.Submit("risky")
	_ = c.Dispatch(StreamUpdateReceived{QueryID: id, Update: StreamUpdate{State: "pending_approval", SQL: "DELETE FROM T"}})

	_ = c.Dispatch(ResponseReceived{QueryID: id, Response: Response{"error": "approval timed out"}})
	if _, open := c.PendingApproval(); open {
		t.Error("terminal response should clear the approval dialog")
	}
}

func TestController_UnknownQueryEventsIgnored(t *testing.T) {
	c, _ := newTestController(t, ControllerConfig{})
	if err := c.Dispatch(ResponseReceived{QueryID: "nope", Response: CreateTestResultResponse("nope")}); err != nil {
		t.Errorf("Dispatch(unknown query) error = %v", err)
	}
	if c.Store().Len() != 0 {
		t.Error("events for unknown queries must not create messages")
	}
}

func TestController_Close(t *testing.T) {
	c, _ := newTestController(t, ControllerConfig{})
	id, _ := c.Submit("never answered")

	if err := c.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if _, err := c.Submit("after close"); !errors.Is(err, ErrControllerClosed) {
		t.Errorf("Submit() after Close error = %v, want ErrControllerClosed", err)
	}
	if err := c.Dispatch(ResponseReceived{QueryID: id}); !errors.Is(err, ErrControllerClosed) {
		t.Errorf("Dispatch() after Close error = %v, want ErrControllerClosed", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()
	if _, err := c.Await(ctx, id); !errors.Is(err, ErrControllerClosed) {
		t.Errorf("Await() after Close error = %v, want ErrControllerClosed", err)
	}
}
