// Package scheduler executes project task graphs in dependency order with
// bounded parallelism, negotiating every task's tier and budget with the
// resource governor before it runs.
package scheduler

import (
	"time"

	"github.com/tbracken/stratum/pkg/models"
)

// EventType represents the type of scheduler event.
type EventType string

const (
	// EventTaskQueued indicates a task is ready and queued for execution.
	EventTaskQueued EventType = "task_queued"
	// EventTaskStarted indicates a task has started execution.
	EventTaskStarted EventType = "task_started"
	// EventTaskCompleted indicates a task completed successfully.
	EventTaskCompleted EventType = "task_completed"
	// EventTaskFailed indicates a task failed after exhausting retries.
	EventTaskFailed EventType = "task_failed"
	// EventTaskRetrying indicates a failed attempt is being retried.
	EventTaskRetrying EventType = "task_retrying"
	// EventTaskRequeued indicates a task was denied resources and requeued.
	EventTaskRequeued EventType = "task_requeued"
	// EventTaskBlocked indicates a task is blocked by a failed dependency.
	EventTaskBlocked EventType = "task_blocked"
	// EventTaskCancelled indicates a task was cancelled.
	EventTaskCancelled EventType = "task_cancelled"
	// EventProjectDone indicates the project's graph finished executing.
	EventProjectDone EventType = "project_done"
)

// Event is emitted by the scheduler as a project executes. Consumers that
// fall behind lose events rather than stalling execution.
type Event struct {
	// Type is the kind of event.
	Type EventType
	// ProjectID is the owning project.
	ProjectID string
	// TaskID is the ID of the related task, if applicable.
	TaskID string
	// Tier is the tier the task was allocated, if applicable.
	Tier models.Tier
	// Message provides additional context about the event.
	Message string
	// Err contains error details for failure events.
	Err error
	// Timestamp is when the event occurred.
	Timestamp time.Time
}

// emit sends an event without blocking. Events are best-effort: a slow or
// absent consumer never stalls the run loop.
func (s *Scheduler) emit(ev Event) {
	if s.events == nil {
		return
	}
	ev.Timestamp = time.Now()
	select {
	case s.events <- ev:
	default:
	}
}
