package internal

// Event is anything the controller reacts to: user actions and signals from
// the backend. Dispatch is the single entry point for all of them.
type Event interface {
	isEvent()
}

// SubmitQuery asks to start a new query
type SubmitQuery struct {
	Text string
}

// ApproveQuery approves the gated query, optionally with edited SQL and constraints
type ApproveQuery struct {
	EditedSQL   *string
	Constraints *Constraints
}

// RejectQuery rejects the gated query
type RejectQuery struct{}

// CancelQuery cancels the pending query
type CancelQuery struct{}

// RetryQuery re-submits the query recorded on a message
type RetryQuery struct {
	MessageID string
}

// RetryConnection re-submits a query whose stream connection was lost
type RetryConnection struct {
	MessageID string
}

// AnswerClarification answers the open clarification dialog
type AnswerClarification struct {
	Answer string
}

// StreamUpdateReceived carries one streaming progress event
type StreamUpdateReceived struct {
	QueryID string
	Update  StreamUpdate
}

// ResponseReceived carries a terminal (or gated) response
type ResponseReceived struct {
	QueryID  string
	Response Response
	Approval bool // the response answers an approval rather than the submission
}

// RequestFailed reports a backend call that failed before producing a response
type RequestFailed struct {
	QueryID string
	Op      string
	Err     error
}

// ConnectionLost reports that the streaming channel dropped
type ConnectionLost struct {
	QueryID string
	Err     error
}

func (SubmitQuery) isEvent()          {}
func (ApproveQuery) isEvent()         {}
func (RejectQuery) isEvent()          {}
func (CancelQuery) isEvent()          {}
func (RetryQuery) isEvent()           {}
func (RetryConnection) isEvent()      {}
func (AnswerClarification) isEvent()  {}
func (StreamUpdateReceived) isEvent() {}
func (ResponseReceived) isEvent()     {}
func (RequestFailed) isEvent()        {}
func (ConnectionLost) isEvent()       {}
