package internal

import (
	"strings"
	"unicode"
)

// ApprovalDialogState is the open human-in-the-loop approval dialog
type ApprovalDialogState struct {
	Open            bool
	MessageID       string
	QueryID         string
	Query           string
	SQL             string
	RiskLevel       RiskLevel
	ApprovalContext *ApprovalContext
	Constraints     *Constraints
}

// ClarificationDialogState is the open disambiguation dialog
type ClarificationDialogState struct {
	Open      bool
	MessageID string
	QueryID   string
	Query     string
	Message   string
	Details   interface{}
	Options   []string
}

// ApprovalDecision is the outcome of approving a gated query
type ApprovalDecision struct {
	MessageID   string
	QueryID     string
	SQL         string
	Modified    bool
	Constraints *Constraints
}

// ApprovalGate owns the approval and clarification dialogs of one chat.
// At most one dialog is open at a time. It is not safe for concurrent use;
// the controller serialises access.
type ApprovalGate struct {
	approval      ApprovalDialogState
	clarification ClarificationDialogState
}

// NewApprovalGate creates a closed gate
func NewApprovalGate() *ApprovalGate {
	return &ApprovalGate{}
}

// IsOpen reports whether any dialog is open
func (g *ApprovalGate) IsOpen() bool {
	return g.approval.Open || g.clarification.Open
}

// OpenApproval opens the approval dialog. It returns false without changing
// anything if a dialog for the same query is already open. A dialog for a
// different query, or an open clarification, is discarded.
func (g *ApprovalGate) OpenApproval(state ApprovalDialogState) bool {
	if g.approval.Open && g.approval.QueryID == state.QueryID {
		return false
	}
	if state.RiskLevel == "" && state.ApprovalContext != nil {
		state.RiskLevel = state.ApprovalContext.RiskLevel
	}
	if state.RiskLevel == "" {
		state.RiskLevel = RiskMedium
	}
	state.Open = true
	g.clarification = ClarificationDialogState{}
	g.approval = state
	return true
}

// Approval returns the open approval dialog
func (g *ApprovalGate) Approval() (ApprovalDialogState, bool) {
	return g.approval, g.approval.Open
}

// Approve resolves the open approval dialog. A nil editedSQL, or one equal to
// the proposed SQL, approves the statement unchanged. Edited SQL must pass
// ValidateSQL; on failure the dialog stays open and a *ValidationError is
// returned. Constraints are merged over any already attached to the dialog.
func (g *ApprovalGate) Approve(editedSQL *string, constraints *Constraints) (ApprovalDecision, error) {
	if !g.approval.Open {
		return ApprovalDecision{}, ErrNoApprovalPending
	}

	decision := ApprovalDecision{
		MessageID:   g.approval.MessageID,
		QueryID:     g.approval.QueryID,
		SQL:         g.approval.SQL,
		Constraints: MergeConstraints(g.approval.Constraints, constraints),
	}
	if editedSQL != nil && *editedSQL != g.approval.SQL {
		if err := ValidateSQL(*editedSQL); err != nil {
			return ApprovalDecision{}, err
		}
		decision.SQL = strings.TrimSpace(*editedSQL)
		decision.Modified = true
	}

	g.approval = ApprovalDialogState{}
	return decision, nil
}

// Reject closes the open approval dialog and returns its final state
func (g *ApprovalGate) Reject() (ApprovalDialogState, error) {
	if !g.approval.Open {
		return ApprovalDialogState{}, ErrNoApprovalPending
	}
	state := g.approval
	state.Open = false
	g.approval = ApprovalDialogState{}
	return state, nil
}

// OpenClarification opens the clarification dialog, discarding any approval dialog.
// It returns false if a clarification for the same query is already open.
func (g *ApprovalGate) OpenClarification(state ClarificationDialogState) bool {
	if g.clarification.Open && g.clarification.QueryID == state.QueryID {
		return false
	}
	state.Open = true
	g.approval = ApprovalDialogState{}
	g.clarification = state
	return true
}

// Clarification returns the open clarification dialog
func (g *ApprovalGate) Clarification() (ClarificationDialogState, bool) {
	return g.clarification, g.clarification.Open
}

// ResolveClarification closes the clarification dialog and returns its final state
func (g *ApprovalGate) ResolveClarification() (ClarificationDialogState, error) {
	if !g.clarification.Open {
		return ClarificationDialogState{}, ErrNoClarificationPending
	}
	state := g.clarification
	state.Open = false
	g.clarification = ClarificationDialogState{}
	return state, nil
}

// Close discards every open dialog
func (g *ApprovalGate) Close() {
	g.approval = ApprovalDialogState{}
	g.clarification = ClarificationDialogState{}
}

// MergeConstraints layers patch over base. Zero fields in patch never clear base.
func MergeConstraints(base, patch *Constraints) *Constraints {
	if base.IsZero() && patch.IsZero() {
		return nil
	}
	out := Constraints{}
	if base != nil {
		out = base.clone()
	}
	if patch != nil {
		if patch.RowLimit > 0 {
			out.RowLimit = patch.RowLimit
		}
		if patch.TimeoutSeconds > 0 {
			out.TimeoutSeconds = patch.TimeoutSeconds
		}
		for k, v := range patch.Extra {
			if out.Extra == nil {
				out.Extra = make(map[string]interface{})
			}
			out.Extra[k] = v
		}
	}
	return &out
}

var statementKeywords = map[string]bool{
	"SELECT": true, "WITH": true, "INSERT": true, "UPDATE": true, "DELETE": true,
	"MERGE": true, "CREATE": true, "ALTER": true, "DROP": true, "TRUNCATE": true,
	"EXPLAIN": true, "SHOW": true, "DESCRIBE": true, "DESC": true, "VALUES": true,
	"CALL": true, "GRANT": true, "REVOKE": true, "REPLACE": true, "UPSERT": true,
}

// ValidateSQL performs the client-side checks an edited statement must pass
// before it can be approved: it must be non-empty, start with a statement
// keyword, and have balanced parentheses and single quotes.
func ValidateSQL(sql string) error {
	trimmed := strings.TrimSpace(sql)
	if trimmed == "" {
		return &ValidationError{SQL: sql, Reason: "SQL is empty"}
	}

	head := strings.TrimLeft(trimmed, "( \t\r\n")
	end := strings.IndexFunc(head, func(r rune) bool {
		return !unicode.IsLetter(r)
	})
	if end < 0 {
		end = len(head)
	}
	if keyword := strings.ToUpper(head[:end]); !statementKeywords[keyword] {
		return &ValidationError{SQL: sql, Reason: "SQL must start with a statement keyword such as SELECT or WITH"}
	}

	depth := 0
	inQuote := false
	for _, r := range trimmed {
		switch {
		case r == '\'':
			inQuote = !inQuote
		case inQuote:
		case r == '(':
			depth++
		case r == ')':
			depth--
			if depth < 0 {
				return &ValidationError{SQL: sql, Reason: "unbalanced parentheses"}
			}
		}
	}
	if inQuote {
		return &ValidationError{SQL: sql, Reason: "unbalanced single quotes"}
	}
	if depth != 0 {
		return &ValidationError{SQL: sql, Reason: "unbalanced parentheses"}
	}
	return nil
}
