package graph

import (
	"errors"
	"testing"
	"time"

	"github.com/tbracken/stratum/pkg/models"
)

func task(id string, deps ...string) *models.Task {
	return &models.Task{ID: id, Priority: 5, EstimatedMessages: 1, DependsOn: deps}
}

func TestBuild_RejectsCycle(t *testing.T) {
	g := New()
	err := g.Build([]*models.Task{
		task("a", "c"),
		task("b", "a"),
		task("c", "b"),
	})
	if !errors.Is(err, ErrCycleDetected) {
		t.Fatalf("expected ErrCycleDetected, got %v", err)
	}
}

func TestBuild_RejectsSelfCycle(t *testing.T) {
	g := New()
	err := g.Build([]*models.Task{task("a", "a")})
	if !errors.Is(err, ErrCycleDetected) {
		t.Fatalf("expected ErrCycleDetected, got %v", err)
	}
}

func TestBuild_RejectsUnknownDependency(t *testing.T) {
	g := New()
	err := g.Build([]*models.Task{task("a", "ghost")})
	if err == nil || errors.Is(err, ErrCycleDetected) {
		t.Fatalf("expected unknown-dependency error, got %v", err)
	}
}

func TestBuild_RejectsDuplicateID(t *testing.T) {
	g := New()
	err := g.Build([]*models.Task{task("a"), task("a")})
	if err == nil {
		t.Fatal("expected duplicate-id error, got nil")
	}
}

func TestBuild_RejectsEmptyID(t *testing.T) {
	g := New()
	err := g.Build([]*models.Task{task("")})
	if err == nil {
		t.Fatal("expected empty-id error, got nil")
	}
}

func TestBatches_LinearChain(t *testing.T) {
	// End-to-end scenario C: A -> B -> C yields three batches of one.
	g := New()
	if err := g.Build([]*models.Task{
		task("a"),
		task("b", "a"),
		task("c", "b"),
	}); err != nil {
		t.Fatalf("Build: %v", err)
	}

	batches, err := g.Batches()
	if err != nil {
		t.Fatalf("Batches: %v", err)
	}
	if len(batches) != 3 {
		t.Fatalf("len(batches) = %d, want 3", len(batches))
	}
	for i, want := range []string{"a", "b", "c"} {
		if len(batches[i]) != 1 || batches[i][0].ID != want {
			t.Errorf("batch %d = %v, want single task %q", i, ids(batches[i]), want)
		}
	}
}

func TestBatches_DependenciesNeverLater(t *testing.T) {
	g := New()
	tasks := []*models.Task{
		task("root"),
		task("left", "root"),
		task("right", "root"),
		task("join", "left", "right"),
		task("lone"),
	}
	if err := g.Build(tasks); err != nil {
		t.Fatalf("Build: %v", err)
	}

	batches, err := g.Batches()
	if err != nil {
		t.Fatalf("Batches: %v", err)
	}

	batchOf := make(map[string]int)
	for i, batch := range batches {
		for _, tk := range batch {
			batchOf[tk.ID] = i
		}
	}
	for _, tk := range tasks {
		for _, dep := range tk.DependsOn {
			if batchOf[dep] >= batchOf[tk.ID] {
				t.Errorf("dependency %s (batch %d) not before %s (batch %d)",
					dep, batchOf[dep], tk.ID, batchOf[tk.ID])
			}
		}
	}
}

func TestBatches_InBatchOrdering(t *testing.T) {
	early := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	late := time.Date(2026, 3, 1, 20, 0, 0, 0, time.UTC)

	lowPrio := task("z-low")
	lowPrio.Priority = 2
	highA := task("b-high")
	highA.Priority = 9
	highA.Deadline = &late
	highB := task("a-high")
	highB.Priority = 9
	highB.Deadline = &early
	highC := task("c-high")
	highC.Priority = 9
	highC.Deadline = &early

	g := New()
	if err := g.Build([]*models.Task{lowPrio, highA, highB, highC}); err != nil {
		t.Fatalf("Build: %v", err)
	}

	batches, err := g.Batches()
	if err != nil {
		t.Fatalf("Batches: %v", err)
	}
	if len(batches) != 1 {
		t.Fatalf("len(batches) = %d, want 1", len(batches))
	}

	// Priority desc, then deadline asc, then ID asc.
	want := []string{"a-high", "c-high", "b-high", "z-low"}
	got := ids(batches[0])
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("batch order = %v, want %v", got, want)
		}
	}
}

func TestGetReady_TracksCompletion(t *testing.T) {
	g := New()
	if err := g.Build([]*models.Task{
		task("a"),
		task("b", "a"),
		task("c", "a", "b"),
	}); err != nil {
		t.Fatalf("Build: %v", err)
	}

	if got := g.GetReady(); len(got) != 1 || got[0] != "a" {
		t.Fatalf("initial ready = %v, want [a]", got)
	}

	g.MarkComplete("a")
	if got := g.GetReady(); len(got) != 1 || got[0] != "b" {
		t.Fatalf("ready after a = %v, want [b]", got)
	}

	g.MarkComplete("b")
	if got := g.GetReady(); len(got) != 1 || got[0] != "c" {
		t.Fatalf("ready after b = %v, want [c]", got)
	}

	g.MarkComplete("c")
	if !g.IsComplete() {
		t.Error("graph should be complete")
	}
}

func TestGetReady_SkipsRunningAndTerminal(t *testing.T) {
	running := task("r")
	running.Status = models.TaskStatusRunning
	cancelled := task("x")
	cancelled.Status = models.TaskStatusCancelled

	g := New()
	if err := g.Build([]*models.Task{running, cancelled, task("p")}); err != nil {
		t.Fatalf("Build: %v", err)
	}

	if got := g.GetReady(); len(got) != 1 || got[0] != "p" {
		t.Errorf("ready = %v, want [p]", got)
	}
}

func TestGetDependents(t *testing.T) {
	g := New()
	if err := g.Build([]*models.Task{
		task("a"),
		task("b", "a"),
		task("c", "a"),
		task("d", "b"),
	}); err != nil {
		t.Fatalf("Build: %v", err)
	}

	got := g.GetDependents("a")
	if len(got) != 2 || got[0] != "b" || got[1] != "c" {
		t.Errorf("dependents of a = %v, want [b c]", got)
	}
}

func ids(tasks []*models.Task) []string {
	out := make([]string, len(tasks))
	for i, tk := range tasks {
		out[i] = tk.ID
	}
	return out
}
