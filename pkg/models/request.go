package models

import (
	"errors"
	"time"
)

// ErrMissingTaskID is returned when a resource request has no task ID.
var ErrMissingTaskID = errors.New("resource request missing task_id")

// TaskResourceRequest asks the governor for permission to run one task.
type TaskResourceRequest struct {
	// TaskID identifies the requesting task.
	TaskID string `json:"task_id"`
	// ProjectID identifies the owning project.
	ProjectID string `json:"project_id"`
	// AgentType tags the request for complexity and performance lookup.
	AgentType string `json:"agent_type"`
	// Description is optional free text for keyword-based complexity signals.
	Description string `json:"description,omitempty"`
	// PreferredModel is a tier hint.
	PreferredModel Tier `json:"preferred_model,omitempty"`
	// RequiresHeavyTier is a hard requirement, bypassing routing.
	RequiresHeavyTier bool `json:"requires_heavy_tier,omitempty"`
	// EstimatedMessages is the expected message count. Minimum 1.
	EstimatedMessages int `json:"estimated_messages"`
	// EstimatedInputTokens is the expected input token count.
	EstimatedInputTokens int `json:"estimated_input_tokens,omitempty"`
	// EstimatedOutputTokens is the expected output token count.
	EstimatedOutputTokens int `json:"estimated_output_tokens,omitempty"`
	// Priority is clamped to [1,10].
	Priority int `json:"priority"`
	// Deadline optionally bounds how long the task may wait.
	Deadline *time.Time `json:"deadline,omitempty"`
}

// Normalize clamps fields into their documented ranges.
func (r *TaskResourceRequest) Normalize() {
	if r.Priority < 1 {
		r.Priority = 1
	}
	if r.Priority > 10 {
		r.Priority = 10
	}
	if r.EstimatedMessages < 1 {
		r.EstimatedMessages = 1
	}
	r.PreferredModel = r.PreferredModel.OrStandard()
}

// Validate rejects structurally broken requests. Budget denial is never
// signalled here; only malformed input is.
func (r *TaskResourceRequest) Validate() error {
	if r.TaskID == "" {
		return ErrMissingTaskID
	}
	return nil
}

// ResourceAllocation is the governor's decision for one request.
// A denied allocation is a normal outcome, not an error.
type ResourceAllocation struct {
	// TaskID echoes the requesting task.
	TaskID string `json:"task_id"`
	// Allocated reports whether the request was granted.
	Allocated bool `json:"allocated"`
	// AllocatedModel is the granted tier. Empty when denied.
	AllocatedModel Tier `json:"allocated_model,omitempty"`
	// EstimatedCostUnits is the cost charged against the window on grant.
	EstimatedCostUnits float64 `json:"estimated_cost_units"`
	// WindowID names the usage window the decision was made against.
	WindowID string `json:"window_id"`
	// DecisionReason is a human-readable explanation of the decision.
	DecisionReason string `json:"decision_reason"`
	// AlternativeSuggestion tells a denied caller what would succeed.
	AlternativeSuggestion string `json:"alternative_suggestion,omitempty"`
	// ScheduledTime suggests when a denied request should retry.
	ScheduledTime *time.Time `json:"scheduled_time,omitempty"`
	// EstimatedWaitSeconds is the bounded wait until retry makes sense.
	EstimatedWaitSeconds int64 `json:"estimated_wait_time_seconds,omitempty"`
	// Confidence carries the router's confidence for granted requests.
	Confidence float64 `json:"confidence,omitempty"`
	// ComplexityScore carries the router's complexity score so outcome
	// reporting can reference the same analysis.
	ComplexityScore float64 `json:"complexity_score,omitempty"`
}
