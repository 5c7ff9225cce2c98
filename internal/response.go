package internal

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"
)

// Response is a decoded backend payload. Its shape varies between endpoints and
// pipeline versions, so it is read through the lenient accessors below and
// turned into an Outcome exactly once by Classify.
type Response map[string]interface{}

// QueryID returns the backend's query identifier
func (r Response) QueryID() string {
	return r.String("query_id", "queryId", "id")
}

// Has reports whether any of the keys is present with a non-nil value
func (r Response) Has(keys ...string) bool {
	for _, k := range keys {
		if v, ok := r[k]; ok && v != nil {
			return true
		}
	}
	return false
}

// String returns the first non-empty string value among keys
func (r Response) String(keys ...string) string {
	for _, k := range keys {
		if s := toString(r[k]); s != "" {
			return s
		}
	}
	return ""
}

// Bool returns true if any of the keys holds a truthy flag
func (r Response) Bool(keys ...string) bool {
	for _, k := range keys {
		if toBool(r[k]) {
			return true
		}
	}
	return false
}

// Map returns the first value among keys that is an object
func (r Response) Map(keys ...string) map[string]interface{} {
	for _, k := range keys {
		if m, ok := toMap(r[k]); ok {
			return m
		}
	}
	return nil
}

// Slice returns the first value among keys that is an array
func (r Response) Slice(keys ...string) []interface{} {
	for _, k := range keys {
		if s, ok := toSlice(r[k]); ok {
			return s
		}
	}
	return nil
}

// SubmitRequest is the payload for starting a query
type SubmitRequest struct {
	Query        string `json:"query"`
	QueryID      string `json:"query_id"`
	SessionID    string `json:"session_id,omitempty"`
	DatabaseType string `json:"database_type,omitempty"`
}

// ApprovalRequest carries a user's approval decision to the backend
type ApprovalRequest struct {
	QueryID     string       `json:"query_id"`
	Approved    bool         `json:"approved"`
	ModifiedSQL string       `json:"modified_sql,omitempty"`
	Constraints *Constraints `json:"constraints,omitempty"`
}

// StreamUpdate is one event from the streaming progress channel
type StreamUpdate struct {
	State            string        `json:"state"`
	SQL              string        `json:"sql,omitempty"`
	ThinkingSteps    []StepRecord  `json:"thinking_steps,omitempty"`
	SchemaData       []interface{} `json:"schema_data,omitempty"`
	IntermediateData interface{}   `json:"intermediate_data,omitempty"`
	ResultRef        interface{}   `json:"result_ref,omitempty"`
	SQLExplanation   interface{}   `json:"sql_explanation,omitempty"`
	QueryPlan        interface{}   `json:"query_plan,omitempty"`
	RLSExplanation   interface{}   `json:"rls_explanation,omitempty"`

	Extra map[string]interface{} `json:"-"`
}

var streamUpdateKeys = map[string]bool{
	"state": true, "current_state": true, "sql": true, "sql_query": true,
	"thinking_steps": true, "thinkingSteps": true, "schema_data": true,
	"intermediate_data": true, "result_ref": true, "sql_explanation": true,
	"query_plan": true, "rls_explanation": true, "query_id": true,
}

// ParseStreamUpdate builds a StreamUpdate from a decoded event object.
// Keys the client does not know are kept in Extra.
func ParseStreamUpdate(m map[string]interface{}) StreamUpdate {
	r := Response(m)
	u := StreamUpdate{
		State:            r.String("state", "current_state"),
		SQL:              r.String("sql", "sql_query"),
		ThinkingSteps:    stepRecords(r.Slice("thinking_steps", "thinkingSteps")),
		SchemaData:       r.Slice("schema_data"),
		IntermediateData: m["intermediate_data"],
		ResultRef:        m["result_ref"],
		SQLExplanation:   m["sql_explanation"],
		QueryPlan:        m["query_plan"],
		RLSExplanation:   m["rls_explanation"],
	}
	for k, v := range m {
		if streamUpdateKeys[k] || v == nil {
			continue
		}
		if u.Extra == nil {
			u.Extra = make(map[string]interface{})
		}
		u.Extra[k] = v
	}
	return u
}

// UnmarshalJSON accepts both snake_case and camelCase event payloads
func (u *StreamUpdate) UnmarshalJSON(data []byte) error {
	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	*u = ParseStreamUpdate(m)
	return nil
}

// Metadata converts the update into a metadata patch
func (u StreamUpdate) Metadata() Metadata {
	return Metadata{
		CurrentState:     u.State,
		SQL:              u.SQL,
		ThinkingSteps:    u.ThinkingSteps,
		SchemaData:       u.SchemaData,
		IntermediateData: u.IntermediateData,
		ResultRef:        u.ResultRef,
		SQLExplanation:   u.SQLExplanation,
		QueryPlan:        u.QueryPlan,
		RLSExplanation:   u.RLSExplanation,
		Extra:            copyMap(u.Extra),
	}
}

// IsPendingApproval reports whether the update asks for the approval gate
func (u StreamUpdate) IsPendingApproval() bool {
	return strings.EqualFold(strings.TrimSpace(u.State), "pending_approval")
}

// MetadataFromResponse extracts the metadata patch carried by a terminal response
func MetadataFromResponse(r Response) Metadata {
	if r == nil {
		return Metadata{}
	}
	md := Metadata{
		QueryID:          r.QueryID(),
		SQL:              r.String("sql_query", "sql", "generated_sql"),
		CurrentState:     r.String("current_state", "state"),
		SchemaData:       r.Slice("schema_data"),
		IntermediateData: r["intermediate_data"],
		ResultRef:        r["result_ref"],
		SQLExplanation:   r["sql_explanation"],
		QueryPlan:        r["query_plan"],
		RLSExplanation:   r["rls_explanation"],
		RiskLevel:        ParseRiskLevel(r.String("risk_level")),
		RiskReasons:      toStrings(r["risk_reasons"]),
		Citations:        r.Slice("citations", "sources"),
		CorrelationID:    r.String("correlation_id", "correlationId", "trace_id"),
		ThinkingSteps:    stepRecords(r.Slice("thinking_steps", "thinkingSteps")),
	}

	if ac := r.Map("approval_context", "approvalContext"); ac != nil {
		md.ApprovalContext = parseApprovalContext(ac)
		if md.RiskLevel == "" {
			md.RiskLevel = md.ApprovalContext.RiskLevel
		}
	}

	if llm := r.Map("llm_metadata", "llmMetadata"); llm != nil {
		lr := Response(llm)
		if steps := stepRecords(lr.Slice("thinking_steps", "thinkingSteps")); len(steps) > 0 {
			md.ThinkingSteps = steps
		}
		md.FailedStage = lr.String("failed_stage", "failedStage")
		md.ErrorDetails = lr.String("error_details", "errorDetails")
		if md.CorrelationID == "" {
			md.CorrelationID = lr.String("correlation_id", "correlationId")
		}
	}

	if msg := r.String("clarification_message", "clarificationMessage"); msg != "" || r.Has("clarification_details", "clarificationDetails") {
		details := r["clarification_details"]
		if details == nil {
			details = r["clarificationDetails"]
		}
		md.Clarification = &Clarification{
			Message: msg,
			Details: details,
			Options: clarificationOptions(details),
		}
	}
	return md
}

func parseApprovalContext(m map[string]interface{}) *ApprovalContext {
	r := Response(m)
	return &ApprovalContext{
		RiskLevel: ParseRiskLevel(r.String("risk_level", "riskLevel")),
		Warnings:  toStrings(r["warnings"]),
		Scope:     r.Map("scope"),
		Reasons:   toStrings(r["reasons"]),
	}
}

func clarificationOptions(details interface{}) []string {
	m, ok := toMap(details)
	if !ok {
		return nil
	}
	r := Response(m)
	for _, k := range []string{"options", "suggestions", "choices"} {
		if opts := toStrings(r[k]); len(opts) > 0 {
			return opts
		}
	}
	return nil
}

// ParseRiskLevel maps a backend risk label onto a RiskLevel. Unknown labels map to "".
func ParseRiskLevel(s string) RiskLevel {
	switch RiskLevel(strings.ToUpper(strings.TrimSpace(s))) {
	case RiskSafe:
		return RiskSafe
	case RiskLow:
		return RiskLow
	case RiskMedium:
		return RiskMedium
	case RiskHigh:
		return RiskHigh
	case RiskCritical:
		return RiskCritical
	}
	return ""
}

func stepRecords(items []interface{}) []StepRecord {
	if len(items) == 0 {
		return nil
	}
	out := make([]StepRecord, 0, len(items))
	for _, item := range items {
		switch v := item.(type) {
		case StepRecord:
			out = append(out, v.clone())
		case string:
			out = append(out, StepRecord{"content": v})
		default:
			if m, ok := toMap(v); ok {
				out = append(out, StepRecord(copyMap(m)))
			}
		}
	}
	return out
}

func toString(v interface{}) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	case json.Number:
		return s.String()
	case fmt.Stringer:
		return s.String()
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	case int:
		return strconv.Itoa(s)
	case int64:
		return strconv.FormatInt(s, 10)
	}
	return ""
}

func toBool(v interface{}) bool {
	switch b := v.(type) {
	case bool:
		return b
	case string:
		parsed, err := strconv.ParseBool(strings.TrimSpace(b))
		return err == nil && parsed
	case float64:
		return b != 0
	case int:
		return b != 0
	}
	return false
}

func toFloat(v interface{}) (float64, bool) {
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case float32:
		f = float64(n)
	case int:
		f = float64(n)
	case int32:
		f = float64(n)
	case int64:
		f = float64(n)
	case uint:
		f = float64(n)
	case uint32:
		f = float64(n)
	case uint64:
		f = float64(n)
	case json.Number:
		parsed, err := n.Float64()
		if err != nil {
			return 0, false
		}
		f = parsed
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

func toInt(v interface{}) (int, bool) {
	f, ok := toFloat(v)
	if !ok {
		return 0, false
	}
	return int(f), true
}

func toStrings(v interface{}) []string {
	items, ok := toSlice(v)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s := toString(item); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func toMap(v interface{}) (map[string]interface{}, bool) {
	switch m := v.(type) {
	case nil:
		return nil, false
	case map[string]interface{}:
		return m, true
	case Response:
		return m, true
	case StepRecord:
		return m, true
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Map || rv.Type().Key().Kind() != reflect.String {
		return nil, false
	}
	out := make(map[string]interface{}, rv.Len())
	iter := rv.MapRange()
	for iter.Next() {
		out[iter.Key().String()] = iter.Value().Interface()
	}
	return out, true
}

func toSlice(v interface{}) ([]interface{}, bool) {
	switch s := v.(type) {
	case nil:
		return nil, false
	case []interface{}:
		return s, true
	case string, []byte:
		return nil, false
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}
	out := make([]interface{}, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}
