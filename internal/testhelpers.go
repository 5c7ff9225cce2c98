package internal

import (
	"context"
	"sync"
	"time"
)

type fakeResult struct {
	resp Response
	err  error
}

// FakeBackend is a scripted Backend for tests. Submit and Approve block until
// the test answers them with Respond or RespondApproval; Subscribe delivers
// whatever is pushed with Push until Disconnect or EndStream.
type FakeBackend struct {
	CancelErr error
	RejectErr error
	// NotifyDelay holds Cancel and Reject back; a call whose context ends
	// first returns the context error and is not recorded
	NotifyDelay time.Duration

	mu        sync.Mutex
	submits   []SubmitRequest
	approvals []ApprovalRequest
	cancels   []string
	rejects   []string
	responses map[string]chan fakeResult
	approved  map[string]chan fakeResult
	streams   map[string]chan StreamUpdate
	ends      map[string]chan error
	calls     chan string
}

// NewFakeBackend creates an idle fake backend
func NewFakeBackend() *FakeBackend {
	return &FakeBackend{
		responses: make(map[string]chan fakeResult),
		approved:  make(map[string]chan fakeResult),
		streams:   make(map[string]chan StreamUpdate),
		ends:      make(map[string]chan error),
		calls:     make(chan string, 64),
	}
}

// Calls reports each backend call as "<op>:<queryID>" once it has been recorded
func (f *FakeBackend) Calls() <-chan string {
	return f.calls
}

// WaitCall blocks until the call "<op>:<queryID>" is observed or timeout expires
func (f *FakeBackend) WaitCall(want string, timeout time.Duration) bool {
	deadline := time.After(timeout)
	for {
		select {
		case got := <-f.calls:
			if got == want {
				return true
			}
		case <-deadline:
			return false
		}
	}
}

func (f *FakeBackend) record(op, queryID string) {
	select {
	case f.calls <- op + ":" + queryID:
	default:
	}
}

func (f *FakeBackend) resultChan(m map[string]chan fakeResult, queryID string) chan fakeResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch, ok := m[queryID]
	if !ok {
		ch = make(chan fakeResult, 1)
		m[queryID] = ch
	}
	return ch
}

func (f *FakeBackend) streamChans(queryID string) (chan StreamUpdate, chan error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	updates, ok := f.streams[queryID]
	if !ok {
		updates = make(chan StreamUpdate, 16)
		f.streams[queryID] = updates
		f.ends[queryID] = make(chan error, 1)
	}
	return updates, f.ends[queryID]
}

// Submit records the request and waits for Respond
func (f *FakeBackend) Submit(ctx context.Context, req SubmitRequest) (Response, error) {
	ch := f.resultChan(f.responses, req.QueryID)
	f.mu.Lock()
	f.submits = append(f.submits, req)
	f.mu.Unlock()
	f.record("submit", req.QueryID)

	select {
	case r := <-ch:
		return r.resp, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Subscribe delivers pushed updates until the stream is ended
func (f *FakeBackend) Subscribe(ctx context.Context, queryID string, fn func(StreamUpdate)) error {
	updates, end := f.streamChans(queryID)
	f.record("subscribe", queryID)

	for {
		select {
		case u := <-updates:
			fn(u)
		case err := <-end:
			return err
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Approve records the request and waits for RespondApproval
func (f *FakeBackend) Approve(ctx context.Context, req ApprovalRequest) (Response, error) {
	ch := f.resultChan(f.approved, req.QueryID)
	f.mu.Lock()
	f.approvals = append(f.approvals, req)
	f.mu.Unlock()
	f.record("approve", req.QueryID)

	select {
	case r := <-ch:
		return r.resp, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Reject records the call and returns RejectErr
func (f *FakeBackend) Reject(ctx context.Context, queryID string) error {
	if err := f.delay(ctx); err != nil {
		return err
	}
	f.mu.Lock()
	f.rejects = append(f.rejects, queryID)
	f.mu.Unlock()
	f.record("reject", queryID)
	return f.RejectErr
}

// Cancel records the call and returns CancelErr
func (f *FakeBackend) Cancel(ctx context.Context, queryID string) error {
	if err := f.delay(ctx); err != nil {
		return err
	}
	f.mu.Lock()
	f.cancels = append(f.cancels, queryID)
	f.mu.Unlock()
	f.record("cancel", queryID)
	return f.CancelErr
}

func (f *FakeBackend) delay(ctx context.Context) error {
	if f.NotifyDelay <= 0 {
		return nil
	}
	select {
	case <-time.After(f.NotifyDelay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Respond answers a pending or future Submit
func (f *FakeBackend) Respond(queryID string, resp Response, err error) {
	f.resultChan(f.responses, queryID) <- fakeResult{resp: resp, err: err}
}

// RespondApproval answers a pending or future Approve
func (f *FakeBackend) RespondApproval(queryID string, resp Response, err error) {
	f.resultChan(f.approved, queryID) <- fakeResult{resp: resp, err: err}
}

// Push queues a stream update
func (f *FakeBackend) Push(queryID string, u StreamUpdate) {
	updates, _ := f.streamChans(queryID)
	updates <- u
}

// Disconnect ends the stream with an error
func (f *FakeBackend) Disconnect(queryID string, err error) {
	_, end := f.streamChans(queryID)
	end <- err
}

// Submits returns the recorded submissions
func (f *FakeBackend) Submits() []SubmitRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]SubmitRequest(nil), f.submits...)
}

// Approvals returns the recorded approvals
func (f *FakeBackend) Approvals() []ApprovalRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]ApprovalRequest(nil), f.approvals...)
}

// Cancels returns the recorded cancellations
func (f *FakeBackend) Cancels() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.cancels...)
}

// Rejects returns the recorded rejections
func (f *FakeBackend) Rejects() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.rejects...)
}

// CreateTestResultResponse creates a successful tabular response
func CreateTestResultResponse(queryID string) Response {
	return Response{
		"query_id":          queryID,
		"sql_query":         "SELECT ID, NAME FROM CUSTOMERS",
		"columns":           []interface{}{"ID", "NAME"},
		"rows":              []interface{}{[]interface{}{1.0, "Ada"}, []interface{}{2.0, "Grace"}},
		"row_count":         2.0,
		"execution_time_ms": 12.0,
	}
}

// CreateTestApprovalResponse creates a response gated on human approval
func CreateTestApprovalResponse(queryID, sql string) Response {
	return Response{
		"query_id":       queryID,
		"needs_approval": true,
		"sql_query":      sql,
		"approval_context": map[string]interface{}{
			"risk_level": "HIGH",
			"warnings":   []interface{}{"statement modifies data"},
			"scope":      map[string]interface{}{"tables": []interface{}{"ORDERS"}},
		},
		"risk_reasons": []interface{}{"DELETE without WHERE"},
	}
}

// CreateTestErrorResponse creates a failed execution response
func CreateTestErrorResponse(queryID, sql, message string) Response {
	return Response{
		"query_id":  queryID,
		"error":     message,
		"sql_query": sql,
		"llm_metadata": map[string]interface{}{
			"failed_stage":   "execution",
			"error_details":  message,
			"correlation_id": "corr-" + queryID,
		},
	}
}

// CreateTestToolCall creates a tool call with raw thinking steps
func CreateTestToolCall(status ToolCallStatus, steps ...StepRecord) *ToolCall {
	return &ToolCall{
		Name:   ToolCallName,
		Status: status,
		Metadata: Metadata{
			QueryID:       "q-test",
			OriginalQuery: "how many customers?",
			ThinkingSteps: steps,
		},
	}
}

// CreateTestTranscript creates a transcript with one completed and one failed query
func CreateTestTranscript(chatID string) *Transcript {
	base := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	exec := 12.0
	return &Transcript{
		ChatID:       chatID,
		DatabaseType: "oracle",
		CreatedAt:    base,
		Messages: []ChatMessage{
			{ID: "m1", Type: MessageTypeUser, Content: "list customers", Timestamp: base},
			{
				ID:        "m2",
				Type:      MessageTypeAssistant,
				Content:   "Query returned 2 rows in 12 ms.",
				Timestamp: base.Add(time.Second),
				ToolCall: &ToolCall{
					Name:   ToolCallName,
					Status: ToolCallCompleted,
					Result: &NormalizedResult{
						Columns:         []string{"ID", "NAME"},
						Rows:            []Row{{Values: []interface{}{1.0, "Ada"}}, {Values: []interface{}{2.0, "Grace"}}},
						RowCount:        2,
						ExecutionTimeMs: &exec,
					},
					Metadata: Metadata{QueryID: "q1", SQL: "SELECT ID, NAME FROM CUSTOMERS"},
				},
			},
			{ID: "m3", Type: MessageTypeUser, Content: "customer ids", Timestamp: base.Add(2 * time.Second)},
			{
				ID:        "m4",
				Type:      MessageTypeAssistant,
				Timestamp: base.Add(3 * time.Second),
				ToolCall: &ToolCall{
					Name:   ToolCallName,
					Status: ToolCallError,
					Error:  `ORA-00904: "CUSTMER_ID": invalid identifier`,
					Metadata: Metadata{
						QueryID: "q2",
						SQL:     "SELECT CUSTMER_ID FROM CUSTOMERS",
						Suggestion: &Suggestion{
							Kind:         SuggestColumn,
							Message:      "Did you mean CUSTOMER_ID?",
							SuggestedSQL: "SELECT CUSTOMER_ID FROM CUSTOMERS",
						},
					},
				},
			},
		},
	}
}
