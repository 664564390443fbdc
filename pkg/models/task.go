package models

import "time"

// TaskStatus represents the current state of a task.
type TaskStatus string

const (
	// TaskStatusPending indicates the task has not started.
	TaskStatusPending TaskStatus = "pending"
	// TaskStatusQueued indicates the task is ready and waiting for a worker.
	TaskStatusQueued TaskStatus = "queued"
	// TaskStatusRunning indicates the task is executing.
	TaskStatusRunning TaskStatus = "running"
	// TaskStatusCompleted indicates the task finished successfully.
	TaskStatusCompleted TaskStatus = "completed"
	// TaskStatusFailed indicates the task failed after exhausting retries.
	TaskStatusFailed TaskStatus = "failed"
	// TaskStatusCancelled indicates the task was cancelled. Terminal.
	TaskStatusCancelled TaskStatus = "cancelled"
	// TaskStatusBlocked indicates a dependency failed and the task cannot run.
	TaskStatusBlocked TaskStatus = "blocked"
)

// Valid returns true if the status is a known value.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskStatusPending, TaskStatusQueued, TaskStatusRunning,
		TaskStatusCompleted, TaskStatusFailed, TaskStatusCancelled, TaskStatusBlocked:
		return true
	default:
		return false
	}
}

// Terminal returns true if the status admits no further transitions.
func (s TaskStatus) Terminal() bool {
	switch s {
	case TaskStatusCompleted, TaskStatusFailed, TaskStatusCancelled, TaskStatusBlocked:
		return true
	default:
		return false
	}
}

// Task represents a unit of agent work in a project DAG.
type Task struct {
	// ID is the unique identifier for this task.
	ID string `json:"id" yaml:"id"`
	// ProjectID identifies the owning project DAG.
	ProjectID string `json:"project_id" yaml:"project_id"`
	// AgentType tags the task for complexity and performance lookup.
	AgentType string `json:"agent_type" yaml:"agent_type"`
	// Description is free text used for best-effort complexity signals.
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	// PreferredModel is a tier hint; the router may override it.
	PreferredModel Tier `json:"preferred_model,omitempty" yaml:"preferred_model,omitempty"`
	// RequiresHeavyTier forces the heavy tier regardless of scoring.
	RequiresHeavyTier bool `json:"requires_heavy_tier,omitempty" yaml:"requires_heavy_tier,omitempty"`
	// EstimatedMessages is the expected message count. Minimum 1.
	EstimatedMessages int `json:"estimated_messages" yaml:"estimated_messages"`
	// EstimatedTokens is the expected total token count.
	EstimatedTokens int `json:"estimated_tokens,omitempty" yaml:"estimated_tokens,omitempty"`
	// Priority orders tasks within a batch. Clamped to [1,10].
	Priority int `json:"priority" yaml:"priority"`
	// DependsOn lists task IDs that must complete before this task.
	DependsOn []string `json:"depends_on,omitempty" yaml:"depends_on,omitempty"`
	// Status is the current state of the task.
	Status TaskStatus `json:"status" yaml:"status,omitempty"`
	// RetryCount is the number of times this task has been retried.
	RetryCount int `json:"retry_count,omitempty" yaml:"-"`
	// MaxRetries caps retry attempts before the task is failed.
	MaxRetries int `json:"max_retries,omitempty" yaml:"max_retries,omitempty"`
	// Deadline, when set, bounds requeueing on resource denial.
	Deadline *time.Time `json:"deadline,omitempty" yaml:"deadline,omitempty"`
	// BlockedReason explains why the task entered TaskStatusBlocked.
	BlockedReason string `json:"blocked_reason,omitempty" yaml:"-"`
	// AllocatedModel is filled after a successful allocation.
	AllocatedModel Tier `json:"allocated_model,omitempty" yaml:"-"`
	// ActualMessages is filled after execution.
	ActualMessages int `json:"actual_messages,omitempty" yaml:"-"`
	// ActualTokens is filled after execution.
	ActualTokens int `json:"actual_tokens,omitempty" yaml:"-"`
}

// Normalize clamps fields into their documented ranges so downstream
// components never see an illegal task.
func (t *Task) Normalize() {
	if t.Priority < 1 {
		t.Priority = 1
	}
	if t.Priority > 10 {
		t.Priority = 10
	}
	if t.EstimatedMessages < 1 {
		t.EstimatedMessages = 1
	}
	if t.Status == "" {
		t.Status = TaskStatusPending
	}
	t.PreferredModel = t.PreferredModel.OrStandard()
}
