package internal

import (
	"errors"
	"fmt"
)

var (
	// ErrQueryPending is returned when a query is submitted while another is still pending
	ErrQueryPending = errors.New("a query is already pending")
	// ErrEmptyQuery is returned when the submitted text is blank
	ErrEmptyQuery = errors.New("query text is empty")
	// ErrNoActiveQuery is returned when cancelling with nothing pending
	ErrNoActiveQuery = errors.New("no active query")
	// ErrNoApprovalPending is returned when approving or rejecting with no open approval dialog
	ErrNoApprovalPending = errors.New("no approval pending")
	// ErrNoClarificationPending is returned when answering with no open clarification dialog
	ErrNoClarificationPending = errors.New("no clarification pending")
	// ErrNotConnectionError is returned when a connection retry targets a message that did not lose its connection
	ErrNotConnectionError = errors.New("message did not fail with a connection error")
	// ErrMessageNotFound is returned when a message id is unknown to the store
	ErrMessageNotFound = errors.New("message not found")
	// ErrNotRetriable is returned when retrying a message that has no recorded query
	ErrNotRetriable = errors.New("message has no query to retry")
	// ErrControllerClosed is returned after Close
	ErrControllerClosed = errors.New("controller is closed")
)

// StorageError represents errors accessing the chat history database
type StorageError struct {
	Path string
	Op   string // "open", "migrate", "read", "write"
	Err  error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage error: %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// ParseError represents errors parsing configuration or persisted data
type ParseError struct {
	Source string // "config", "history"
	Key    string // file path or record id
	Err    error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse error [%s] %s: %v", e.Source, e.Key, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// ValidationError is returned when user-edited SQL fails client-side checks.
// The approval dialog stays open so the user can keep editing.
type ValidationError struct {
	SQL    string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid SQL: %s", e.Reason)
}

// RequestError represents a failed backend call for a query
type RequestError struct {
	Op      string // "submit", "approve", "reject", "cancel", "stream"
	QueryID string
	Err     error
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("%s request failed [%s]: %v", e.Op, e.QueryID, e.Err)
}

func (e *RequestError) Unwrap() error {
	return e.Err
}

// PersistError represents a failure writing a message to history
type PersistError struct {
	ChatID    string
	MessageID string
	Err       error
}

func (e *PersistError) Error() string {
	return fmt.Sprintf("persist error [%s/%s]: %v", e.ChatID, e.MessageID, e.Err)
}

func (e *PersistError) Unwrap() error {
	return e.Err
}

// ExportError represents errors during export
type ExportError struct {
	Format string
	Path   string
	Err    error
}

func (e *ExportError) Error() string {
	return fmt.Sprintf("export error [%s] %s: %v", e.Format, e.Path, e.Err)
}

func (e *ExportError) Unwrap() error {
	return e.Err
}

// IsValidationError reports whether err is a SQL validation failure
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
