package internal

// ToolCallPatch is a partial update to a message's tool call. Zero fields are
// left untouched.
type ToolCallPatch struct {
	Status   ToolCallStatus
	Result   *NormalizedResult
	Error    string
	Content  *string // replaces the owning message's content
	Metadata Metadata
}

// MergeToolCall applies patch to current and reports whether the state-bearing
// fields (status, result, error, content) were applied.
//
// Metadata is always merged additively. Status, result, error and content are
// only applied while current is still pending: once a tool call is completed or
// failed those fields are frozen, as is the pipeline stage, and later patches
// can only enrich metadata.
func MergeToolCall(current ToolCall, patch ToolCallPatch) (ToolCall, bool) {
	out := current.Clone()
	out.Metadata = MergeMetadata(out.Metadata, patch.Metadata)

	if out.Status.IsTerminal() {
		out.Metadata.CurrentState = current.Metadata.CurrentState
		return out, false
	}
	if patch.Status != "" {
		out.Status = patch.Status
	}
	if patch.Result != nil {
		r := Normalize(patch.Result)
		out.Result = &r
	}
	if patch.Error != "" {
		out.Error = patch.Error
	}
	return out, true
}

// MergeMetadata layers patch over base. Every non-zero field in patch replaces
// the one in base; zero fields never clear base. Extra is merged key by key and
// thinking steps are merged by label, so replaying an update is harmless.
func MergeMetadata(base, patch Metadata) Metadata {
	out := base.Clone()

	setString(&out.QueryID, patch.QueryID)
	setString(&out.OriginalQuery, patch.OriginalQuery)
	setString(&out.DatabaseType, patch.DatabaseType)
	setString(&out.SQL, patch.SQL)
	setString(&out.CurrentState, patch.CurrentState)
	setString(&out.ApprovalState, patch.ApprovalState)
	setString(&out.FailedStage, patch.FailedStage)
	setString(&out.ErrorDetails, patch.ErrorDetails)
	setString(&out.CorrelationID, patch.CorrelationID)
	if patch.RiskLevel != "" {
		out.RiskLevel = patch.RiskLevel
	}

	if len(patch.ThinkingSteps) > 0 {
		out.ThinkingSteps = mergeSteps(out.ThinkingSteps, patch.ThinkingSteps)
	}
	if len(patch.SchemaData) > 0 {
		out.SchemaData = append([]interface{}(nil), patch.SchemaData...)
	}
	if len(patch.RiskReasons) > 0 {
		out.RiskReasons = append([]string(nil), patch.RiskReasons...)
	}
	if len(patch.Citations) > 0 {
		out.Citations = append([]interface{}(nil), patch.Citations...)
	}

	setValue(&out.IntermediateData, patch.IntermediateData)
	setValue(&out.ResultRef, patch.ResultRef)
	setValue(&out.SQLExplanation, patch.SQLExplanation)
	setValue(&out.QueryPlan, patch.QueryPlan)
	setValue(&out.RLSExplanation, patch.RLSExplanation)

	if patch.ApprovalContext != nil {
		out.ApprovalContext = mergeApprovalContext(out.ApprovalContext, patch.ApprovalContext)
	}
	if !patch.Constraints.IsZero() {
		out.Constraints = MergeConstraints(out.Constraints, patch.Constraints)
	}
	if patch.Clarification != nil {
		c := *patch.Clarification
		c.Options = append([]string(nil), c.Options...)
		out.Clarification = &c
	}
	if patch.Suggestion != nil {
		s := *patch.Suggestion
		out.Suggestion = &s
	}

	out.ConnectionLost = out.ConnectionLost || patch.ConnectionLost
	out.Cancelled = out.Cancelled || patch.Cancelled
	out.LateResponse = out.LateResponse || patch.LateResponse

	for k, v := range patch.Extra {
		if out.Extra == nil {
			out.Extra = make(map[string]interface{}, len(patch.Extra))
		}
		out.Extra[k] = v
	}
	return out
}

// mergeSteps updates steps whose label already exists and appends new ones in order
func mergeSteps(base, patch []StepRecord) []StepRecord {
	out := make([]StepRecord, len(base), len(base)+len(patch))
	index := make(map[string]int, len(base))
	for i, rec := range base {
		out[i] = rec.clone()
		index[StepLabel(rec, i)] = i
	}
	for i, rec := range patch {
		label := StepLabel(rec, i)
		if j, ok := index[label]; ok {
			merged := out[j]
			for k, v := range rec {
				merged[k] = v
			}
			out[j] = merged
			continue
		}
		index[label] = len(out)
		out = append(out, rec.clone())
	}
	return out
}

func mergeApprovalContext(base, patch *ApprovalContext) *ApprovalContext {
	out := ApprovalContext{}
	if base != nil {
		out = *base
	}
	if patch.RiskLevel != "" {
		out.RiskLevel = patch.RiskLevel
	}
	if len(patch.Warnings) > 0 {
		out.Warnings = append([]string(nil), patch.Warnings...)
	}
	if len(patch.Reasons) > 0 {
		out.Reasons = append([]string(nil), patch.Reasons...)
	}
	if len(patch.Scope) > 0 {
		scope := copyMap(out.Scope)
		if scope == nil {
			scope = make(map[string]interface{}, len(patch.Scope))
		}
		for k, v := range patch.Scope {
			scope[k] = v
		}
		out.Scope = scope
	}
	return &out
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setValue(dst *interface{}, v interface{}) {
	if v != nil {
		*dst = v
	}
}
