package internal

import (
	"fmt"
	"strings"
)

// StepStatus is the display status of a thinking step
type StepStatus string

const (
	StepPending    StepStatus = "pending"
	StepInProgress StepStatus = "in-progress"
	StepCompleted  StepStatus = "completed"
	StepFailed     StepStatus = "failed"
)

// ThinkingStep is a resolved, display-ready thinking step
type ThinkingStep struct {
	Label  string     `json:"label" yaml:"label"`
	Status StepStatus `json:"status" yaml:"status"`
	Error  string     `json:"error,omitempty" yaml:"error,omitempty"`
}

// ExtractThinkingSteps resolves the thinking steps carried by a tool call or a
// metadata bag. src may be a ToolCall, *ToolCall, Metadata, *Metadata, or a
// decoded map shaped like either. The result is rebuilt on every call.
//
// Labels fall back content, name, stage, then "Step N". Missing statuses take
// their default from the owning tool call: pending while it runs, completed
// once it finished. In a failed tool call the step named by failed_stage is
// marked failed.
func ExtractThinkingSteps(src interface{}) []ThinkingStep {
	records, status, failedStage := stepSource(src)
	if len(records) == 0 {
		return []ThinkingStep{}
	}

	def := StepCompleted
	if status == ToolCallPending {
		def = StepPending
	}

	steps := make([]ThinkingStep, 0, len(records))
	for i, rec := range records {
		label := StepLabel(rec, i)
		step := ThinkingStep{
			Label:  label,
			Status: parseStepStatus(Response(rec).String("status", "state"), def),
			Error:  Response(rec).String("error", "error_message"),
		}
		if status == ToolCallError && failedStage != "" && matchesStage(rec, label, failedStage) {
			step.Status = StepFailed
		}
		if step.Error != "" && step.Status != StepFailed && !hasExplicitStatus(rec) {
			step.Status = StepFailed
		}
		steps = append(steps, step)
	}
	return steps
}

// StepLabel resolves the display label of a raw step at position index
func StepLabel(rec StepRecord, index int) string {
	r := Response(rec)
	if label := strings.TrimSpace(r.String("content", "name", "stage")); label != "" {
		return label
	}
	return fmt.Sprintf("Step %d", index+1)
}

func stepSource(src interface{}) ([]StepRecord, ToolCallStatus, string) {
	switch v := src.(type) {
	case nil:
		return nil, "", ""
	case *ToolCall:
		if v == nil {
			return nil, "", ""
		}
		return v.Metadata.ThinkingSteps, v.Status, v.Metadata.FailedStage
	case ToolCall:
		return v.Metadata.ThinkingSteps, v.Status, v.Metadata.FailedStage
	case *Metadata:
		if v == nil {
			return nil, "", ""
		}
		return v.ThinkingSteps, "", v.FailedStage
	case Metadata:
		return v.ThinkingSteps, "", v.FailedStage
	}

	m, ok := toMap(src)
	if !ok {
		return nil, "", ""
	}
	r := Response(m)
	status := ToolCallStatus(strings.ToLower(r.String("status")))
	if inner := r.Map("metadata"); inner != nil {
		r = Response(inner)
	}
	records := stepRecords(r.Slice("thinkingSteps", "thinking_steps"))
	failedStage := r.String("failedStage", "failed_stage")
	if llm := r.Map("llm_metadata", "llmMetadata"); llm != nil {
		lr := Response(llm)
		if len(records) == 0 {
			records = stepRecords(lr.Slice("thinking_steps", "thinkingSteps"))
		}
		if failedStage == "" {
			failedStage = lr.String("failed_stage", "failedStage")
		}
	}
	return records, status, failedStage
}

func parseStepStatus(s string, def StepStatus) StepStatus {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "":
		return def
	case "pending", "queued", "waiting":
		return StepPending
	case "in-progress", "in_progress", "inprogress", "running", "active", "started":
		return StepInProgress
	case "completed", "complete", "done", "success", "succeeded", "ok":
		return StepCompleted
	case "failed", "failure", "error", "errored":
		return StepFailed
	}
	return def
}

func hasExplicitStatus(rec StepRecord) bool {
	return Response(rec).String("status", "state") != ""
}

func matchesStage(rec StepRecord, label, stage string) bool {
	if strings.EqualFold(label, stage) {
		return true
	}
	return strings.EqualFold(Response(rec).String("stage", "name"), stage)
}
