package internal

import (
	"time"
)

// MessageType identifies who authored a chat message
type MessageType string

const (
	MessageTypeUser      MessageType = "user"
	MessageTypeAssistant MessageType = "assistant"
)

// ToolCallStatus is the lifecycle status of a query attached to an assistant message
type ToolCallStatus string

const (
	ToolCallPending   ToolCallStatus = "pending"
	ToolCallCompleted ToolCallStatus = "completed"
	ToolCallError     ToolCallStatus = "error"
)

// IsTerminal reports whether the status can no longer change
func (s ToolCallStatus) IsTerminal() bool {
	return s == ToolCallCompleted || s == ToolCallError
}

// ToolCallName is the name given to every query tool call
const ToolCallName = "sql_query"

// ChatMessage is one entry in a chat's ordered message log
type ChatMessage struct {
	ID        string      `json:"id" yaml:"id"`
	Type      MessageType `json:"type" yaml:"type"`
	Content   string      `json:"content" yaml:"content"`
	Timestamp time.Time   `json:"timestamp" yaml:"timestamp"`
	ToolCall  *ToolCall   `json:"toolCall,omitempty" yaml:"toolCall,omitempty"`
}

// Clone returns a copy that shares no mutable state with m
func (m ChatMessage) Clone() ChatMessage {
	if m.ToolCall != nil {
		tc := m.ToolCall.Clone()
		m.ToolCall = &tc
	}
	return m
}

// ToolCall records one backend query's lifecycle
type ToolCall struct {
	Name     string                 `json:"name" yaml:"name"`
	Params   map[string]interface{} `json:"params,omitempty" yaml:"params,omitempty"`
	Status   ToolCallStatus         `json:"status" yaml:"status"`
	Result   *NormalizedResult      `json:"result,omitempty" yaml:"result,omitempty"`
	Error    string                 `json:"error,omitempty" yaml:"error,omitempty"`
	Metadata Metadata               `json:"metadata" yaml:"metadata"`
}

// Clone returns a deep copy of the tool call. Results are treated as immutable once set.
func (tc ToolCall) Clone() ToolCall {
	if tc.Params != nil {
		params := make(map[string]interface{}, len(tc.Params))
		for k, v := range tc.Params {
			params[k] = v
		}
		tc.Params = params
	}
	tc.Metadata = tc.Metadata.Clone()
	return tc
}

// Metadata is the additively merged bag of everything learned about a query.
// Named fields cover the keys the client understands; Extra keeps anything else.
type Metadata struct {
	QueryID          string           `json:"queryId,omitempty" yaml:"queryId,omitempty"`
	OriginalQuery    string           `json:"originalQuery,omitempty" yaml:"originalQuery,omitempty"`
	DatabaseType     string           `json:"databaseType,omitempty" yaml:"databaseType,omitempty"`
	SQL              string           `json:"sql,omitempty" yaml:"sql,omitempty"`
	CurrentState     string           `json:"currentState,omitempty" yaml:"currentState,omitempty"`
	ThinkingSteps    []StepRecord     `json:"thinkingSteps,omitempty" yaml:"thinkingSteps,omitempty"`
	SchemaData       []interface{}    `json:"schemaData,omitempty" yaml:"schemaData,omitempty"`
	IntermediateData interface{}      `json:"intermediateData,omitempty" yaml:"intermediateData,omitempty"`
	ResultRef        interface{}      `json:"resultRef,omitempty" yaml:"resultRef,omitempty"`
	SQLExplanation   interface{}      `json:"sqlExplanation,omitempty" yaml:"sqlExplanation,omitempty"`
	QueryPlan        interface{}      `json:"queryPlan,omitempty" yaml:"queryPlan,omitempty"`
	RLSExplanation   interface{}      `json:"rlsExplanation,omitempty" yaml:"rlsExplanation,omitempty"`
	RiskLevel        RiskLevel        `json:"riskLevel,omitempty" yaml:"riskLevel,omitempty"`
	RiskReasons      []string         `json:"riskReasons,omitempty" yaml:"riskReasons,omitempty"`
	ApprovalContext  *ApprovalContext `json:"approvalContext,omitempty" yaml:"approvalContext,omitempty"`
	ApprovalState    string           `json:"approvalState,omitempty" yaml:"approvalState,omitempty"`
	Constraints      *Constraints     `json:"constraints,omitempty" yaml:"constraints,omitempty"`
	Clarification    *Clarification   `json:"clarification,omitempty" yaml:"clarification,omitempty"`
	Citations        []interface{}    `json:"citations,omitempty" yaml:"citations,omitempty"`
	FailedStage      string           `json:"failedStage,omitempty" yaml:"failedStage,omitempty"`
	ErrorDetails     string           `json:"errorDetails,omitempty" yaml:"errorDetails,omitempty"`
	CorrelationID    string           `json:"correlationId,omitempty" yaml:"correlationId,omitempty"`
	Suggestion       *Suggestion      `json:"suggestion,omitempty" yaml:"suggestion,omitempty"`
	ConnectionLost   bool             `json:"connectionLost,omitempty" yaml:"connectionLost,omitempty"`
	Cancelled        bool             `json:"cancelled,omitempty" yaml:"cancelled,omitempty"`
	LateResponse     bool             `json:"lateResponse,omitempty" yaml:"lateResponse,omitempty"`

	Extra map[string]interface{} `json:"extra,omitempty" yaml:"extra,omitempty"`
}

// Clone returns a copy of the metadata whose slices and maps can be mutated independently
func (m Metadata) Clone() Metadata {
	if m.ThinkingSteps != nil {
		steps := make([]StepRecord, len(m.ThinkingSteps))
		for i, s := range m.ThinkingSteps {
			steps[i] = s.clone()
		}
		m.ThinkingSteps = steps
	}
	if m.SchemaData != nil {
		m.SchemaData = append([]interface{}(nil), m.SchemaData...)
	}
	if m.RiskReasons != nil {
		m.RiskReasons = append([]string(nil), m.RiskReasons...)
	}
	if m.Citations != nil {
		m.Citations = append([]interface{}(nil), m.Citations...)
	}
	if m.ApprovalContext != nil {
		ac := *m.ApprovalContext
		ac.Warnings = append([]string(nil), ac.Warnings...)
		ac.Reasons = append([]string(nil), ac.Reasons...)
		ac.Scope = copyMap(ac.Scope)
		m.ApprovalContext = &ac
	}
	if m.Constraints != nil {
		c := m.Constraints.clone()
		m.Constraints = &c
	}
	if m.Clarification != nil {
		c := *m.Clarification
		c.Options = append([]string(nil), c.Options...)
		m.Clarification = &c
	}
	if m.Suggestion != nil {
		s := *m.Suggestion
		m.Suggestion = &s
	}
	m.Extra = copyMap(m.Extra)
	return m
}

// StepRecord is one raw thinking step as reported by the backend.
// Field names vary between pipeline versions, so it stays untyped until
// ExtractThinkingSteps resolves it.
type StepRecord map[string]interface{}

func (r StepRecord) clone() StepRecord {
	return StepRecord(copyMap(r))
}

// RiskLevel grades how dangerous a generated statement is
type RiskLevel string

const (
	RiskSafe     RiskLevel = "SAFE"
	RiskLow      RiskLevel = "LOW"
	RiskMedium   RiskLevel = "MEDIUM"
	RiskHigh     RiskLevel = "HIGH"
	RiskCritical RiskLevel = "CRITICAL"
)

// ApprovalContext explains why a query needs human approval
type ApprovalContext struct {
	RiskLevel RiskLevel              `json:"riskLevel,omitempty" yaml:"riskLevel,omitempty"`
	Warnings  []string               `json:"warnings,omitempty" yaml:"warnings,omitempty"`
	Scope     map[string]interface{} `json:"scope,omitempty" yaml:"scope,omitempty"`
	Reasons   []string               `json:"reasons,omitempty" yaml:"reasons,omitempty"`
}

// Constraints are user-imposed execution limits attached to an approval
type Constraints struct {
	RowLimit       int                    `json:"row_limit,omitempty" yaml:"rowLimit,omitempty"`
	TimeoutSeconds int                    `json:"timeout_seconds,omitempty" yaml:"timeoutSeconds,omitempty"`
	Extra          map[string]interface{} `json:"extra,omitempty" yaml:"extra,omitempty"`
}

func (c Constraints) clone() Constraints {
	c.Extra = copyMap(c.Extra)
	return c
}

// IsZero reports whether no constraint is set
func (c *Constraints) IsZero() bool {
	return c == nil || (c.RowLimit == 0 && c.TimeoutSeconds == 0 && len(c.Extra) == 0)
}

// Clarification is the backend's request for disambiguation
type Clarification struct {
	Message string      `json:"message,omitempty" yaml:"message,omitempty"`
	Details interface{} `json:"details,omitempty" yaml:"details,omitempty"`
	Options []string    `json:"options,omitempty" yaml:"options,omitempty"`
}

// Transcript is a chat's full message log, as persisted and exported
type Transcript struct {
	ChatID       string        `json:"chatId" yaml:"chatId"`
	DatabaseType string        `json:"databaseType,omitempty" yaml:"databaseType,omitempty"`
	CreatedAt    time.Time     `json:"createdAt" yaml:"createdAt"`
	Messages     []ChatMessage `json:"messages" yaml:"messages"`
}

// QueryCount returns the number of user messages in the transcript
func (t *Transcript) QueryCount() int {
	n := 0
	for _, m := range t.Messages {
		if m.Type == MessageTypeUser {
			n++
		}
	}
	return n
}

func copyMap(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return nil
	}
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
