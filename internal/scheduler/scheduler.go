package scheduler

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/tbracken/stratum/internal/graph"
	"github.com/tbracken/stratum/pkg/models"
)

const (
	// DefaultMaxParallel is the default bound on concurrently running tasks.
	DefaultMaxParallel = 10
	// DefaultRetryBaseDelay is the base backoff applied between retries.
	// The actual delay is retry_count * DefaultRetryBaseDelay.
	DefaultRetryBaseDelay = 2 * time.Second
	// DefaultRequeueDelay caps how long a denied task waits before it asks
	// the governor again, regardless of the suggested wait.
	DefaultRequeueDelay = 30 * time.Second
	// defaultPollInterval paces the run loop while workers are in flight.
	defaultPollInterval = 25 * time.Millisecond

	// minutesPerMessage is the coarse planning estimate for one agent turn.
	minutesPerMessage = 0.5
)

// ErrUnknownProject is returned for operations on a project that was
// never scheduled.
var ErrUnknownProject = errors.New("unknown project")

// ExecutionResult is what an executor reports back for one task attempt.
type ExecutionResult struct {
	// Payload is the executor's output, opaque to the scheduler.
	Payload string
	// ActualMessages is the number of messages the attempt consumed.
	ActualMessages int
	// ActualTokens is the total token count the attempt consumed.
	ActualTokens int
	// Success reports whether the attempt succeeded.
	Success bool
}

// AgentExecutor runs a single task attempt. Implementations must honor
// context cancellation.
type AgentExecutor interface {
	Execute(ctx context.Context, task *models.Task) (*ExecutionResult, error)
}

// ResourceGovernor is the budget authority the scheduler consults before
// running any task. *governor.Governor satisfies it.
type ResourceGovernor interface {
	RequestResources(req *models.TaskResourceRequest) (*models.ResourceAllocation, error)
	RecordUsage(tier models.Tier, messages, inputTokens, outputTokens int) error
	RecordOutcome(agentType string, tierUsed models.Tier, success bool, complexityScore float64)
}

// ExecutionPlan is the batch layout computed for a project before
// execution starts. Batches run in order; tasks within a batch may run
// concurrently up to the parallelism bound.
type ExecutionPlan struct {
	// ProjectID identifies the planned project.
	ProjectID string `json:"project_id"`
	// Batches holds task IDs level by level in execution order.
	Batches [][]string `json:"batches"`
	// EstimatedDurationMinutes is a coarse wall-clock estimate assuming
	// each batch is bounded by its largest task.
	EstimatedDurationMinutes float64 `json:"estimated_duration_minutes"`
	// EstimatedCostUnits is the summed cost estimate across all tasks,
	// priced by each task's likely tier.
	EstimatedCostUnits float64 `json:"estimated_cost_units"`
}

// ProjectStatus is a point-in-time snapshot of a project's execution.
type ProjectStatus struct {
	ProjectID string `json:"project_id"`
	Total     int    `json:"total"`
	Pending   int    `json:"pending"`
	Queued    int    `json:"queued"`
	Running   int    `json:"running"`
	Completed int    `json:"completed"`
	Failed    int    `json:"failed"`
	Blocked   int    `json:"blocked"`
	Cancelled int    `json:"cancelled"`
	// RunningTasks, ReadyTasks, and BlockedTasks list the IDs currently
	// in each non-terminal state of interest, sorted for determinism.
	RunningTasks []string `json:"running_tasks,omitempty"`
	ReadyTasks   []string `json:"ready_tasks,omitempty"`
	BlockedTasks []string `json:"blocked_tasks,omitempty"`
	// Done reports whether execution has finished, successfully or not.
	Done bool `json:"done"`
}

// CompletionStats summarizes a finished Execute call.
type CompletionStats struct {
	ProjectID string `json:"project_id"`
	Total     int    `json:"total"`
	Completed int    `json:"completed"`
	Failed    int    `json:"failed"`
	Blocked   int    `json:"blocked"`
	Cancelled int    `json:"cancelled"`
	// Requeues counts resource-denial requeues across the whole run.
	Requeues int `json:"requeues"`
	// Deadlocked reports that execution stopped with unrunnable tasks
	// remaining, yielding a partial result rather than hanging.
	Deadlocked bool          `json:"deadlocked"`
	Duration   time.Duration `json:"duration"`
}

// project is the scheduler's per-project execution state.
type project struct {
	mu         sync.Mutex
	id         string
	dag        *graph.DependencyGraph
	plan       *ExecutionPlan
	cancelled  bool
	done       bool
	deadlocked bool
	requeues   int
	// inFlight tracks task IDs handed to workers and not yet settled.
	inFlight map[string]bool
	// holdUntil keeps requeued tasks out of dispatch until their wait
	// elapses, without tying up a worker slot.
	holdUntil map[string]time.Time
}

// Config carries the scheduler's collaborators and tuning knobs.
type Config struct {
	// Executor runs task attempts. Required for Execute.
	Executor AgentExecutor
	// Governor is the budget authority. Required for Execute.
	Governor ResourceGovernor
	// MaxParallel bounds concurrent task execution. Defaults to
	// DefaultMaxParallel when zero or negative.
	MaxParallel int
	// RetryBaseDelay is the base backoff between retries. Defaults to
	// DefaultRetryBaseDelay when zero.
	RetryBaseDelay time.Duration
	// RequeueDelay caps the wait after a resource denial. Defaults to
	// DefaultRequeueDelay when zero.
	RequeueDelay time.Duration
	// Events, when non-nil, receives best-effort execution events.
	Events chan Event
	// HeavyCostMultiplier and StandardCostMultiplier price plan
	// estimates. Defaults match the budget package.
	HeavyCostMultiplier    float64
	StandardCostMultiplier float64
}

// Scheduler plans and executes task DAGs across projects.
type Scheduler struct {
	mu       sync.RWMutex
	projects map[string]*project

	executor       AgentExecutor
	governor       ResourceGovernor
	maxParallel    int64
	retryBaseDelay time.Duration
	requeueDelay   time.Duration
	pollInterval   time.Duration
	events         chan Event

	heavyMultiplier    float64
	standardMultiplier float64
}

// New creates a Scheduler from cfg, applying defaults for unset knobs.
func New(cfg Config) *Scheduler {
	s := &Scheduler{
		projects:           make(map[string]*project),
		executor:           cfg.Executor,
		governor:           cfg.Governor,
		maxParallel:        int64(cfg.MaxParallel),
		retryBaseDelay:     cfg.RetryBaseDelay,
		requeueDelay:       cfg.RequeueDelay,
		pollInterval:       defaultPollInterval,
		events:             cfg.Events,
		heavyMultiplier:    cfg.HeavyCostMultiplier,
		standardMultiplier: cfg.StandardCostMultiplier,
	}
	if s.maxParallel <= 0 {
		s.maxParallel = DefaultMaxParallel
	}
	if s.retryBaseDelay <= 0 {
		s.retryBaseDelay = DefaultRetryBaseDelay
	}
	if s.requeueDelay <= 0 {
		s.requeueDelay = DefaultRequeueDelay
	}
	if s.heavyMultiplier <= 0 {
		s.heavyMultiplier = 5.0
	}
	if s.standardMultiplier <= 0 {
		s.standardMultiplier = 1.0
	}
	return s
}

// Schedule validates a project's task list, builds its dependency graph,
// and returns the batch execution plan. Structural errors (cycles,
// unknown dependencies, duplicate IDs) are returned as-is.
func (s *Scheduler) Schedule(projectID string, tasks []*models.Task) (*ExecutionPlan, error) {
	if projectID == "" {
		return nil, errors.New("project id is required")
	}
	if len(tasks) == 0 {
		return nil, errors.New("no tasks to schedule")
	}

	dag := graph.New()
	for _, t := range tasks {
		t.ProjectID = projectID
	}
	if err := dag.Build(tasks); err != nil {
		return nil, fmt.Errorf("building dependency graph: %w", err)
	}

	batches, err := dag.Batches()
	if err != nil {
		return nil, err
	}

	plan := &ExecutionPlan{ProjectID: projectID}
	for _, batch := range batches {
		ids := make([]string, 0, len(batch))
		batchMinutes := 0.0
		for _, t := range batch {
			ids = append(ids, t.ID)
			batchMinutes = math.Max(batchMinutes, float64(t.EstimatedMessages)*minutesPerMessage)
			plan.EstimatedCostUnits += s.taskCostEstimate(t)
		}
		plan.Batches = append(plan.Batches, ids)
		plan.EstimatedDurationMinutes += batchMinutes
	}

	s.mu.Lock()
	s.projects[projectID] = &project{
		id:        projectID,
		dag:       dag,
		plan:      plan,
		inFlight:  make(map[string]bool),
		holdUntil: make(map[string]time.Time),
	}
	s.mu.Unlock()

	log.Debug().
		Str("project_id", projectID).
		Int("tasks", len(tasks)).
		Int("batches", len(plan.Batches)).
		Float64("estimated_cost_units", plan.EstimatedCostUnits).
		Msg("scheduler: project planned")

	return plan, nil
}

// taskCostEstimate prices a task by the tier it will most likely run on.
// Heavy-tier requirements price at the heavy multiplier; everything else
// at standard, which keeps plan estimates conservative under throttling.
func (s *Scheduler) taskCostEstimate(t *models.Task) float64 {
	mult := s.standardMultiplier
	if t.RequiresHeavyTier || t.PreferredModel == models.TierHeavy {
		mult = s.heavyMultiplier
	}
	return float64(t.EstimatedMessages) * mult
}

// Plan returns the execution plan computed at Schedule time.
func (s *Scheduler) Plan(projectID string) (*ExecutionPlan, error) {
	p, err := s.project(projectID)
	if err != nil {
		return nil, err
	}
	return p.plan, nil
}

// GetProjectStatus returns a snapshot of a project's task states.
func (s *Scheduler) GetProjectStatus(projectID string) (*ProjectStatus, error) {
	p, err := s.project(projectID)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	st := &ProjectStatus{ProjectID: projectID, Done: p.done}
	for _, t := range p.dag.Tasks() {
		st.Total++
		switch t.Status {
		case models.TaskStatusPending:
			st.Pending++
		case models.TaskStatusQueued:
			st.Queued++
		case models.TaskStatusRunning:
			st.Running++
			st.RunningTasks = append(st.RunningTasks, t.ID)
		case models.TaskStatusCompleted:
			st.Completed++
		case models.TaskStatusFailed:
			st.Failed++
		case models.TaskStatusBlocked:
			st.Blocked++
			st.BlockedTasks = append(st.BlockedTasks, t.ID)
		case models.TaskStatusCancelled:
			st.Cancelled++
		}
	}
	sort.Strings(st.RunningTasks)
	sort.Strings(st.BlockedTasks)
	for _, t := range s.readyTasksLocked(p) {
		st.ReadyTasks = append(st.ReadyTasks, t.ID)
	}
	return st, nil
}

// Cancel requests cooperative cancellation of a project. Tasks that have
// not started are cancelled immediately; running tasks finish their
// current attempt and their results are still recorded.
func (s *Scheduler) Cancel(projectID string) error {
	p, err := s.project(projectID)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.cancelled = true
	for _, t := range p.dag.Tasks() {
		if t.Status == models.TaskStatusPending || t.Status == models.TaskStatusQueued {
			if p.inFlight[t.ID] {
				continue
			}
			t.Status = models.TaskStatusCancelled
			s.emit(Event{Type: EventTaskCancelled, ProjectID: projectID, TaskID: t.ID})
		}
	}

	log.Info().Str("project_id", projectID).Msg("scheduler: project cancellation requested")
	return nil
}

func (s *Scheduler) project(projectID string) (*project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.projects[projectID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProject, projectID)
	}
	return p, nil
}
