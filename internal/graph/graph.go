// Package graph provides the dependency graph for task scheduling.
package graph

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/tbracken/stratum/pkg/models"
)

// ErrCycleDetected indicates a circular dependency was found in the task graph.
var ErrCycleDetected = errors.New("circular dependency detected")

// DependencyGraph represents a directed acyclic graph of task dependencies.
// Tasks are nodes, and edges represent "blocked by" relationships.
type DependencyGraph struct {
	mu sync.RWMutex
	// nodes maps task ID to the task itself.
	nodes map[string]*models.Task
	// edges maps task ID to IDs of tasks it depends on (is blocked by).
	edges map[string][]string
	// completed tracks which tasks have been marked complete.
	completed map[string]bool
}

// New creates a new empty dependency graph.
func New() *DependencyGraph {
	return &DependencyGraph{
		nodes:     make(map[string]*models.Task),
		edges:     make(map[string][]string),
		completed: make(map[string]bool),
	}
}

// Build constructs the dependency graph from a slice of tasks.
// Returns an error if a cycle is detected, a task ID is empty or
// duplicated, or dependencies reference unknown tasks. Fails fast:
// a structurally broken graph is never partially scheduled.
func (g *DependencyGraph) Build(tasks []*models.Task) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	for _, task := range tasks {
		task.Normalize()
		if task.ID == "" {
			return errors.New("task with empty id")
		}
		if _, exists := g.nodes[task.ID]; exists {
			return fmt.Errorf("duplicate task id %s", task.ID)
		}
		g.nodes[task.ID] = task
		g.edges[task.ID] = nil
	}

	for _, task := range tasks {
		for _, depID := range task.DependsOn {
			if _, exists := g.nodes[depID]; !exists {
				return fmt.Errorf("task %s depends on unknown task %s", task.ID, depID)
			}
			g.edges[task.ID] = append(g.edges[task.ID], depID)
		}
	}

	if g.hasCycleLocked() {
		return ErrCycleDetected
	}
	return nil
}

// HasCycle returns true if the graph contains a circular dependency.
// Uses depth-first search with coloring to detect back edges.
func (g *DependencyGraph) HasCycle() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.hasCycleLocked()
}

// hasCycleLocked is the internal implementation that assumes the lock is held.
func (g *DependencyGraph) hasCycleLocked() bool {
	// Color states: 0 = white (unvisited), 1 = gray (in progress), 2 = black (done).
	colors := make(map[string]int)
	for id := range g.nodes {
		colors[id] = 0
	}

	var visit func(id string) bool
	visit = func(id string) bool {
		colors[id] = 1

		for _, depID := range g.edges[id] {
			switch colors[depID] {
			case 1:
				// Back edge - cycle detected.
				return true
			case 0:
				if visit(depID) {
					return true
				}
			}
		}

		colors[id] = 2
		return false
	}

	for id := range g.nodes {
		if colors[id] == 0 {
			if visit(id) {
				return true
			}
		}
	}
	return false
}

// Batches computes execution batches with Kahn's algorithm: every task in
// batch N has all its dependencies in batches < N. Within a batch, tasks
// are ordered by priority descending, then deadline ascending, then task
// ID ascending so the order is stable and testable.
func (g *DependencyGraph) Batches() ([][]*models.Task, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if g.hasCycleLocked() {
		return nil, ErrCycleDetected
	}

	inDegree := make(map[string]int, len(g.nodes))
	dependents := make(map[string][]string, len(g.nodes))
	for id, deps := range g.edges {
		inDegree[id] = len(deps)
		for _, depID := range deps {
			dependents[depID] = append(dependents[depID], id)
		}
	}

	var ready []*models.Task
	for id, task := range g.nodes {
		if inDegree[id] == 0 {
			ready = append(ready, task)
		}
	}

	var batches [][]*models.Task
	for len(ready) > 0 {
		sortBatch(ready)
		batches = append(batches, ready)

		var next []*models.Task
		for _, task := range ready {
			for _, depID := range dependents[task.ID] {
				inDegree[depID]--
				if inDegree[depID] == 0 {
					next = append(next, g.nodes[depID])
				}
			}
		}
		ready = next
	}

	return batches, nil
}

// SortByExecutionOrder applies the in-batch total order in place:
// priority descending, deadline ascending, task ID ascending.
func SortByExecutionOrder(tasks []*models.Task) {
	sortBatch(tasks)
}

// sortBatch applies the in-batch total order in place.
func sortBatch(batch []*models.Task) {
	sort.SliceStable(batch, func(i, j int) bool {
		a, b := batch[i], batch[j]
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		switch {
		case a.Deadline != nil && b.Deadline == nil:
			return true
		case a.Deadline == nil && b.Deadline != nil:
			return false
		case a.Deadline != nil && b.Deadline != nil && !a.Deadline.Equal(*b.Deadline):
			return a.Deadline.Before(*b.Deadline)
		}
		return a.ID < b.ID
	})
}

// GetReady returns task IDs whose dependencies are all completed and
// whose own status still permits execution.
func (g *DependencyGraph) GetReady() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var ready []string
	for id, task := range g.nodes {
		if g.completed[id] || task.Status.Terminal() ||
			task.Status == models.TaskStatusRunning || task.Status == models.TaskStatusQueued {
			continue
		}

		allDepsComplete := true
		for _, depID := range g.edges[id] {
			if !g.completed[depID] {
				allDepsComplete = false
				break
			}
		}
		if allDepsComplete {
			ready = append(ready, id)
		}
	}

	sort.Strings(ready)
	return ready
}

// MarkComplete marks a task as completed in the graph.
// This affects subsequent calls to GetReady.
func (g *DependencyGraph) MarkComplete(taskID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.completed[taskID] = true
}

// IsComplete reports whether every task is either completed or in a
// terminal status.
func (g *DependencyGraph) IsComplete() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()

	for id, task := range g.nodes {
		if !g.completed[id] && !task.Status.Terminal() {
			return false
		}
	}
	return true
}

// GetTask returns the task for a given ID, or nil if not found.
func (g *DependencyGraph) GetTask(taskID string) *models.Task {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.nodes[taskID]
}

// Size returns the number of tasks in the graph.
func (g *DependencyGraph) Size() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.nodes)
}

// Tasks returns all tasks in the graph.
func (g *DependencyGraph) Tasks() []*models.Task {
	g.mu.RLock()
	defer g.mu.RUnlock()

	tasks := make([]*models.Task, 0, len(g.nodes))
	for _, task := range g.nodes {
		tasks = append(tasks, task)
	}
	return tasks
}

// GetDependencies returns the IDs of tasks that the given task depends on.
func (g *DependencyGraph) GetDependencies(taskID string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.edges[taskID]
}

// GetDependents returns the IDs of tasks that depend on the given task.
func (g *DependencyGraph) GetDependents(taskID string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var dependents []string
	for id, deps := range g.edges {
		for _, depID := range deps {
			if depID == taskID {
				dependents = append(dependents, id)
				break
			}
		}
	}
	sort.Strings(dependents)
	return dependents
}
