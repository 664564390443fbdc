package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/semaphore"

	"github.com/tbracken/stratum/internal/graph"
	"github.com/tbracken/stratum/pkg/models"
)

// Execute runs a scheduled project to completion. Batching is implicit:
// a task becomes runnable the moment all of its dependencies complete,
// and runnable tasks execute concurrently up to the parallelism bound.
//
// Execute returns partial completion stats rather than an error when
// tasks fail, are blocked, or the run deadlocks; errors are reserved for
// unknown projects and missing collaborators.
func (s *Scheduler) Execute(ctx context.Context, projectID string) (*CompletionStats, error) {
	p, err := s.project(projectID)
	if err != nil {
		return nil, err
	}
	if s.executor == nil {
		return nil, errors.New("scheduler: no executor configured")
	}
	if s.governor == nil {
		return nil, errors.New("scheduler: no governor configured")
	}

	start := time.Now()
	sem := semaphore.NewWeighted(s.maxParallel)
	var wg sync.WaitGroup

	for {
		if ctx.Err() != nil {
			_ = s.Cancel(projectID)
		}

		p.mu.Lock()
		if p.cancelled {
			p.mu.Unlock()
			break
		}

		ready := s.readyTasksLocked(p)
		for _, t := range ready {
			t.Status = models.TaskStatusQueued
			p.inFlight[t.ID] = true
		}
		inFlight := len(p.inFlight)
		held := len(p.holdUntil)
		p.mu.Unlock()

		for _, t := range ready {
			s.emit(Event{Type: EventTaskQueued, ProjectID: projectID, TaskID: t.ID})
			wg.Add(1)
			go func(task *models.Task) {
				defer wg.Done()
				s.runTask(ctx, sem, p, task)
			}(t)
		}

		if len(ready) == 0 && inFlight == 0 && held == 0 {
			if p.dag.IsComplete() {
				break
			}
			// Nothing runnable and nothing running: any task still
			// pending is waiting on a dependency that will never
			// complete. Block them and stop with a partial result.
			if s.blockStrandedTasks(p) {
				break
			}
		}

		sleepCtx(ctx, s.pollInterval)
	}

	wg.Wait()

	p.mu.Lock()
	p.done = true
	stats := &CompletionStats{
		ProjectID: projectID,
		Requeues:  p.requeues,
		Duration:  time.Since(start),
	}
	for _, t := range p.dag.Tasks() {
		stats.Total++
		switch t.Status {
		case models.TaskStatusCompleted:
			stats.Completed++
		case models.TaskStatusFailed:
			stats.Failed++
		case models.TaskStatusBlocked:
			stats.Blocked++
		case models.TaskStatusCancelled:
			stats.Cancelled++
		}
	}
	stats.Deadlocked = p.deadlocked
	p.mu.Unlock()

	s.emit(Event{Type: EventProjectDone, ProjectID: projectID,
		Message: fmt.Sprintf("%d/%d tasks completed", stats.Completed, stats.Total)})

	log.Info().
		Str("project_id", projectID).
		Int("completed", stats.Completed).
		Int("failed", stats.Failed).
		Int("blocked", stats.Blocked).
		Int("requeues", stats.Requeues).
		Dur("duration", stats.Duration).
		Msg("scheduler: project finished")

	return stats, nil
}

// readyTasksLocked returns runnable tasks in execution order, excluding
// anything already handed to a worker. Caller must hold p.mu.
func (s *Scheduler) readyTasksLocked(p *project) []*models.Task {
	now := time.Now()
	var tasks []*models.Task
	for _, id := range p.dag.GetReady() {
		if p.inFlight[id] {
			continue
		}
		if until, ok := p.holdUntil[id]; ok {
			if now.Before(until) {
				continue
			}
			delete(p.holdUntil, id)
		}
		if t := p.dag.GetTask(id); t != nil {
			tasks = append(tasks, t)
		}
	}
	graph.SortByExecutionOrder(tasks)
	return tasks
}

// runTask negotiates resources for one task and runs a single attempt,
// handling denial requeue, retry backoff, and dependent blocking.
func (s *Scheduler) runTask(ctx context.Context, sem *semaphore.Weighted, p *project, task *models.Task) {
	if err := sem.Acquire(ctx, 1); err != nil {
		s.settle(p, task, models.TaskStatusCancelled, "")
		return
	}
	defer sem.Release(1)

	p.mu.Lock()
	if p.cancelled {
		task.Status = models.TaskStatusCancelled
		delete(p.inFlight, task.ID)
		p.mu.Unlock()
		s.emit(Event{Type: EventTaskCancelled, ProjectID: p.id, TaskID: task.ID})
		return
	}
	p.mu.Unlock()

	alloc, err := s.governor.RequestResources(requestFor(task))
	if err != nil {
		log.Error().Err(err).Str("task_id", task.ID).Msg("scheduler: resource request failed")
		s.failTask(p, task, fmt.Sprintf("resource request failed: %v", err))
		return
	}

	if !alloc.Allocated {
		s.handleDenial(p, task, alloc)
		return
	}

	p.mu.Lock()
	task.AllocatedModel = alloc.AllocatedModel
	task.Status = models.TaskStatusRunning
	p.mu.Unlock()
	s.emit(Event{Type: EventTaskStarted, ProjectID: p.id, TaskID: task.ID,
		Tier: alloc.AllocatedModel, Message: alloc.DecisionReason})

	res, execErr := s.executor.Execute(ctx, task)
	success := execErr == nil && res != nil && res.Success

	if res != nil {
		s.reconcileUsage(p, task, alloc.AllocatedModel, res)
	}
	s.governor.RecordOutcome(task.AgentType, alloc.AllocatedModel, success, alloc.ComplexityScore)

	if success {
		p.mu.Lock()
		task.Status = models.TaskStatusCompleted
		p.dag.MarkComplete(task.ID)
		delete(p.inFlight, task.ID)
		p.mu.Unlock()
		s.emit(Event{Type: EventTaskCompleted, ProjectID: p.id, TaskID: task.ID, Tier: alloc.AllocatedModel})
		return
	}

	s.handleFailure(ctx, p, task, execErr)
}

// handleDenial requeues a denied task for re-dispatch after a bounded
// wait, or fails it when its deadline cannot be met. The wait is a hold
// on the task, not a sleep in the worker, so the slot frees immediately.
func (s *Scheduler) handleDenial(p *project, task *models.Task, alloc *models.ResourceAllocation) {
	wait := s.requeueDelay
	if alloc.EstimatedWaitSeconds > 0 {
		suggested := time.Duration(alloc.EstimatedWaitSeconds) * time.Second
		if suggested < wait {
			wait = suggested
		}
	}

	if task.Deadline != nil && time.Now().Add(wait).After(*task.Deadline) {
		s.failTask(p, task, fmt.Sprintf("resources denied and deadline passed: %s", alloc.DecisionReason))
		return
	}

	p.mu.Lock()
	p.requeues++
	p.holdUntil[task.ID] = time.Now().Add(wait)
	p.mu.Unlock()
	s.emit(Event{Type: EventTaskRequeued, ProjectID: p.id, TaskID: task.ID, Message: alloc.DecisionReason})
	log.Debug().
		Str("task_id", task.ID).
		Dur("wait", wait).
		Str("reason", alloc.DecisionReason).
		Msg("scheduler: task requeued on resource denial")

	s.settle(p, task, models.TaskStatusPending, "")
}

// handleFailure applies retry backoff or fails the task for good,
// blocking its dependents.
func (s *Scheduler) handleFailure(ctx context.Context, p *project, task *models.Task, execErr error) {
	p.mu.Lock()
	task.RetryCount++
	retries := task.RetryCount
	exhausted := retries > task.MaxRetries
	p.mu.Unlock()

	if exhausted {
		reason := "execution failed"
		if execErr != nil {
			reason = execErr.Error()
		}
		s.failTask(p, task, reason)
		s.emit(Event{Type: EventTaskFailed, ProjectID: p.id, TaskID: task.ID, Err: execErr})
		return
	}

	backoff := time.Duration(retries) * s.retryBaseDelay
	s.emit(Event{Type: EventTaskRetrying, ProjectID: p.id, TaskID: task.ID,
		Message: fmt.Sprintf("attempt %d of %d", retries+1, task.MaxRetries+1)})
	log.Debug().
		Str("task_id", task.ID).
		Int("retry", retries).
		Dur("backoff", backoff).
		Msg("scheduler: retrying task")

	sleepCtx(ctx, backoff)
	s.settle(p, task, models.TaskStatusPending, "")
}

// failTask marks a task failed and blocks every task downstream of it.
func (s *Scheduler) failTask(p *project, task *models.Task, reason string) {
	p.mu.Lock()
	task.Status = models.TaskStatusFailed
	task.BlockedReason = reason
	delete(p.inFlight, task.ID)
	s.blockDependentsLocked(p, task.ID)
	p.mu.Unlock()
}

// blockDependentsLocked transitively marks pending dependents of a dead
// task as blocked. Caller must hold p.mu.
func (s *Scheduler) blockDependentsLocked(p *project, deadTaskID string) {
	queue := []string{deadTaskID}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		for _, depID := range p.dag.GetDependents(id) {
			t := p.dag.GetTask(depID)
			if t == nil || t.Status != models.TaskStatusPending {
				continue
			}
			t.Status = models.TaskStatusBlocked
			t.BlockedReason = "dependency_failed:" + deadTaskID
			queue = append(queue, depID)
			s.emit(Event{Type: EventTaskBlocked, ProjectID: p.id, TaskID: depID,
				Message: t.BlockedReason})
		}
	}
}

// blockStrandedTasks sweeps for pending tasks stranded behind dead
// dependencies when nothing is running. Returns true when the run should
// stop: either tasks were stranded or nothing pending remains.
func (s *Scheduler) blockStrandedTasks(p *project) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	stranded := false
	pending := 0
	for _, t := range p.dag.Tasks() {
		if t.Status != models.TaskStatusPending {
			continue
		}
		pending++
		for _, depID := range p.dag.GetDependencies(t.ID) {
			dep := p.dag.GetTask(depID)
			if dep != nil && dep.Status.Terminal() && dep.Status != models.TaskStatusCompleted {
				t.Status = models.TaskStatusBlocked
				t.BlockedReason = "dependency_failed:" + depID
				s.emit(Event{Type: EventTaskBlocked, ProjectID: p.id, TaskID: t.ID,
					Message: t.BlockedReason})
				stranded = true
				break
			}
		}
	}

	if stranded {
		// Another sweep may be needed for transitive dependents.
		return false
	}
	if pending > 0 {
		p.deadlocked = true
		log.Warn().
			Str("project_id", p.id).
			Int("pending", pending).
			Msg("scheduler: execution deadlocked, stopping with partial completion")
	}
	return true
}

// settle returns a task to the given state and releases its in-flight slot.
func (s *Scheduler) settle(p *project, task *models.Task, status models.TaskStatus, reason string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancelled && !status.Terminal() {
		status = models.TaskStatusCancelled
	}
	task.Status = status
	if reason != "" {
		task.BlockedReason = reason
	}
	delete(p.inFlight, task.ID)
}

// reconcileUsage records the positive delta between actual and estimated
// consumption. Estimates were charged at grant time, so only overage is
// reported; underage stays charged, keeping the window conservative.
func (s *Scheduler) reconcileUsage(p *project, task *models.Task, tier models.Tier, res *ExecutionResult) {
	p.mu.Lock()
	task.ActualMessages = res.ActualMessages
	task.ActualTokens = res.ActualTokens
	estMessages := task.EstimatedMessages
	estTokens := task.EstimatedTokens
	p.mu.Unlock()

	deltaMessages := res.ActualMessages - estMessages
	deltaTokens := res.ActualTokens - estTokens
	if deltaMessages <= 0 && deltaTokens <= 0 {
		return
	}
	if deltaMessages < 0 {
		deltaMessages = 0
	}
	if deltaTokens < 0 {
		deltaTokens = 0
	}
	if err := s.governor.RecordUsage(tier, deltaMessages, 0, deltaTokens); err != nil {
		log.Warn().Err(err).Str("task_id", task.ID).Msg("scheduler: usage reconciliation failed")
	}
}

// requestFor builds the governor request for one task. The task's total
// token estimate is split evenly between input and output.
func requestFor(task *models.Task) *models.TaskResourceRequest {
	half := task.EstimatedTokens / 2
	return &models.TaskResourceRequest{
		TaskID:                task.ID,
		ProjectID:             task.ProjectID,
		AgentType:             task.AgentType,
		Description:           task.Description,
		PreferredModel:        task.PreferredModel,
		RequiresHeavyTier:     task.RequiresHeavyTier,
		EstimatedMessages:     task.EstimatedMessages,
		EstimatedInputTokens:  half,
		EstimatedOutputTokens: task.EstimatedTokens - half,
		Priority:              task.Priority,
		Deadline:              task.Deadline,
	}
}

// sleepCtx sleeps for d or until ctx is done, whichever comes first.
func sleepCtx(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
