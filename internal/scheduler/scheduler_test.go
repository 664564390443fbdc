package scheduler

import (
	"errors"
	"testing"

	"github.com/tbracken/stratum/internal/graph"
	"github.com/tbracken/stratum/pkg/models"
)

func TestSchedule_PlanBatchesAndEstimates(t *testing.T) {
	s := New(Config{})

	tasks := []*models.Task{
		{ID: "a", AgentType: "code", EstimatedMessages: 4, Priority: 5},
		{ID: "b", AgentType: "code", EstimatedMessages: 2, Priority: 5, DependsOn: []string{"a"}},
		{ID: "c", AgentType: "qa", EstimatedMessages: 2, Priority: 5, DependsOn: []string{"b"}},
		{ID: "d", AgentType: "architecture", EstimatedMessages: 6, Priority: 5, RequiresHeavyTier: true},
	}

	plan, err := s.Schedule("proj-1", tasks)
	if err != nil {
		t.Fatalf("Schedule() error = %v", err)
	}

	wantBatches := [][]string{{"a", "d"}, {"b"}, {"c"}}
	if len(plan.Batches) != len(wantBatches) {
		t.Fatalf("got %d batches, want %d", len(plan.Batches), len(wantBatches))
	}
	for i, want := range wantBatches {
		got := plan.Batches[i]
		if len(got) != len(want) {
			t.Fatalf("batch %d = %v, want %v", i, got, want)
		}
		for j := range want {
			if got[j] != want[j] {
				t.Errorf("batch %d = %v, want %v", i, got, want)
				break
			}
		}
	}

	// Batch durations are bounded by the largest task: max(4,6)/2 + 1 + 1.
	if plan.EstimatedDurationMinutes != 5.0 {
		t.Errorf("EstimatedDurationMinutes = %v, want 5.0", plan.EstimatedDurationMinutes)
	}
	// d prices at the heavy multiplier: 4 + 2 + 2 + 6*5.
	if plan.EstimatedCostUnits != 38.0 {
		t.Errorf("EstimatedCostUnits = %v, want 38.0", plan.EstimatedCostUnits)
	}
}

func TestSchedule_ChainYieldsSingletonBatches(t *testing.T) {
	s := New(Config{})

	tasks := []*models.Task{
		{ID: "a", EstimatedMessages: 1, Priority: 5},
		{ID: "b", EstimatedMessages: 1, Priority: 5, DependsOn: []string{"a"}},
		{ID: "c", EstimatedMessages: 1, Priority: 5, DependsOn: []string{"b"}},
	}

	plan, err := s.Schedule("proj-chain", tasks)
	if err != nil {
		t.Fatalf("Schedule() error = %v", err)
	}

	want := [][]string{{"a"}, {"b"}, {"c"}}
	if len(plan.Batches) != 3 {
		t.Fatalf("got %d batches, want 3", len(plan.Batches))
	}
	for i, batch := range plan.Batches {
		if len(batch) != 1 || batch[0] != want[i][0] {
			t.Errorf("batch %d = %v, want %v", i, batch, want[i])
		}
	}
}

func TestSchedule_RejectsCycle(t *testing.T) {
	s := New(Config{})

	tasks := []*models.Task{
		{ID: "a", DependsOn: []string{"b"}},
		{ID: "b", DependsOn: []string{"a"}},
	}

	if _, err := s.Schedule("proj-cycle", tasks); !errors.Is(err, graph.ErrCycleDetected) {
		t.Fatalf("Schedule() error = %v, want ErrCycleDetected", err)
	}
}

func TestSchedule_RejectsDuplicateTaskIDs(t *testing.T) {
	s := New(Config{})

	tasks := []*models.Task{
		{ID: "a", EstimatedMessages: 2},
		{ID: "a", EstimatedMessages: 3},
	}

	if _, err := s.Schedule("proj-dup", tasks); err == nil {
		t.Fatal("expected duplicate-id error, got nil")
	}
	// A structurally broken project is never registered.
	if _, err := s.GetProjectStatus("proj-dup"); !errors.Is(err, ErrUnknownProject) {
		t.Fatalf("GetProjectStatus() error = %v, want ErrUnknownProject", err)
	}
}

func TestSchedule_RejectsEmptyInput(t *testing.T) {
	s := New(Config{})

	if _, err := s.Schedule("", []*models.Task{{ID: "a"}}); err == nil {
		t.Error("expected error for missing project id")
	}
	if _, err := s.Schedule("proj", nil); err == nil {
		t.Error("expected error for empty task list")
	}
}

func TestGetProjectStatus_UnknownProject(t *testing.T) {
	s := New(Config{})

	if _, err := s.GetProjectStatus("nope"); !errors.Is(err, ErrUnknownProject) {
		t.Fatalf("GetProjectStatus() error = %v, want ErrUnknownProject", err)
	}
	if err := s.Cancel("nope"); !errors.Is(err, ErrUnknownProject) {
		t.Fatalf("Cancel() error = %v, want ErrUnknownProject", err)
	}
}

func TestGetProjectStatus_CountsStates(t *testing.T) {
	s := New(Config{})

	tasks := []*models.Task{
		{ID: "a", EstimatedMessages: 1},
		{ID: "b", EstimatedMessages: 1, DependsOn: []string{"a"}},
	}
	if _, err := s.Schedule("proj-status", tasks); err != nil {
		t.Fatalf("Schedule() error = %v", err)
	}

	st, err := s.GetProjectStatus("proj-status")
	if err != nil {
		t.Fatalf("GetProjectStatus() error = %v", err)
	}
	if st.Total != 2 || st.Pending != 2 {
		t.Errorf("status = %+v, want 2 total, 2 pending", st)
	}
	if len(st.ReadyTasks) != 1 || st.ReadyTasks[0] != "a" {
		t.Errorf("ReadyTasks = %v, want [a]", st.ReadyTasks)
	}
	if st.Done {
		t.Error("project should not be done before Execute")
	}
}

func TestCancel_BeforeExecuteCancelsAll(t *testing.T) {
	s := New(Config{})

	tasks := []*models.Task{
		{ID: "a", EstimatedMessages: 1},
		{ID: "b", EstimatedMessages: 1, DependsOn: []string{"a"}},
	}
	if _, err := s.Schedule("proj-cancel", tasks); err != nil {
		t.Fatalf("Schedule() error = %v", err)
	}
	if err := s.Cancel("proj-cancel"); err != nil {
		t.Fatalf("Cancel() error = %v", err)
	}

	st, err := s.GetProjectStatus("proj-cancel")
	if err != nil {
		t.Fatalf("GetProjectStatus() error = %v", err)
	}
	if st.Cancelled != 2 {
		t.Errorf("Cancelled = %d, want 2", st.Cancelled)
	}
}
