package internal

import (
	"strings"
)

// OutcomeKind discriminates the result of classifying a backend response
type OutcomeKind string

const (
	OutcomeNeedsApproval  OutcomeKind = "needs_approval"
	OutcomeClarification  OutcomeKind = "clarification_needed"
	OutcomeConversational OutcomeKind = "conversational"
	OutcomeSuccess        OutcomeKind = "success"
	OutcomeError          OutcomeKind = "error"
)

// MalformedResponseMessage is the error reported for responses that match no outcome
const MalformedResponseMessage = "malformed response"

// Outcome is the typed form of a backend response.
// Only the fields relevant to Kind are set.
type Outcome struct {
	Kind         OutcomeKind
	Response     Response
	Message      string            // conversational reply or clarification prompt
	Result       *NormalizedResult // success only
	ErrorMessage string            // error only
}

// Classify maps a backend response onto exactly one Outcome. It never fails:
// anything it cannot recognise becomes an error outcome.
//
// Precedence, first match wins: error flag, needs-approval flag, clarification,
// conversational reply, tabular result, then the malformed-response fallback.
// Approval and clarification are checked before results so a partial result
// attached to a gated response is never shown as success.
func Classify(resp Response) Outcome {
	if resp == nil {
		return Outcome{Kind: OutcomeError, ErrorMessage: MalformedResponseMessage}
	}

	if msg, failed := errorFlag(resp); failed {
		return Outcome{Kind: OutcomeError, Response: resp, ErrorMessage: msg}
	}

	if needsApproval(resp) {
		return Outcome{Kind: OutcomeNeedsApproval, Response: resp}
	}

	if resp.String("clarification_message", "clarificationMessage") != "" ||
		resp.Has("clarification_details", "clarificationDetails") ||
		resp.Bool("needs_clarification", "needsClarification") {
		return Outcome{
			Kind:     OutcomeClarification,
			Response: resp,
			Message:  clarificationText(resp),
		}
	}

	if isConversational(resp) {
		return Outcome{
			Kind:     OutcomeConversational,
			Response: resp,
			Message:  resp.String("message", "response", "answer", "content", "text"),
		}
	}

	if raw, ok := tabularPayload(resp); ok {
		result := Normalize(raw)
		return Outcome{Kind: OutcomeSuccess, Response: resp, Result: &result}
	}

	return Outcome{Kind: OutcomeError, Response: resp, ErrorMessage: MalformedResponseMessage}
}

func errorFlag(resp Response) (string, bool) {
	failed := false
	switch v := resp["error"].(type) {
	case nil:
	case bool:
		failed = v
	case string:
		failed = strings.TrimSpace(v) != ""
	default:
		failed = true
	}

	if b, ok := resp["success"].(bool); ok && !b {
		failed = true
	}
	switch strings.ToLower(resp.String("status")) {
	case "error", "failed", "failure":
		failed = true
	}
	if !failed {
		return "", false
	}

	if msg := resp.String("error", "error_message", "errorMessage"); msg != "" {
		return msg, true
	}
	if e := resp.Map("error"); e != nil {
		if msg := Response(e).String("message", "detail", "error"); msg != "" {
			return msg, true
		}
	}
	if msg := resp.String("message", "detail"); msg != "" {
		return msg, true
	}
	if llm := resp.Map("llm_metadata", "llmMetadata"); llm != nil {
		if msg := Response(llm).String("error_details", "errorDetails"); msg != "" {
			return msg, true
		}
	}
	return "Query failed", true
}

func needsApproval(resp Response) bool {
	if resp.Bool("needs_approval", "needsApproval", "requires_approval", "requiresApproval") {
		return true
	}
	return strings.EqualFold(resp.String("status", "state"), "pending_approval")
}

func isConversational(resp Response) bool {
	if resp.Bool("is_conversational", "isConversational", "conversational") {
		return true
	}
	for _, k := range []string{"response_type", "responseType", "type", "intent"} {
		switch strings.ToLower(resp.String(k)) {
		case "conversational", "conversation", "greeting", "help", "chat":
			return true
		}
	}
	return false
}

func clarificationText(resp Response) string {
	if msg := resp.String("clarification_message", "clarificationMessage"); msg != "" {
		return msg
	}
	for _, k := range []string{"clarification_details", "clarificationDetails"} {
		if d := resp.Map(k); d != nil {
			if msg := Response(d).String("message", "question", "prompt"); msg != "" {
				return msg
			}
		}
	}
	if msg := resp.String("message"); msg != "" {
		return msg
	}
	return "Could you clarify your question?"
}

// tabularPayload finds the object holding the result table: the response
// itself or a nested result object. A bare result_ref also counts, since the
// rows then live on the backend.
func tabularPayload(resp Response) (interface{}, bool) {
	if HasTabularData(resp) {
		return resp, true
	}
	for _, k := range []string{"result", "results", "data"} {
		if nested := resp.Map(k); nested != nil && HasTabularData(nested) {
			return nested, true
		}
	}
	if resp.Has("result_ref", "resultRef") {
		return resp, true
	}
	return nil, false
}
