package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/tbracken/stratum/internal/scheduler"
	"github.com/tbracken/stratum/internal/store"
	"github.com/tbracken/stratum/pkg/models"
)

var executeTaskDelay time.Duration

var executeCmd = &cobra.Command{
	Use:   "execute <tasks.yaml>",
	Short: "Execute a task graph under budget control",
	Long: `Execute schedules a task file and runs it with the built-in
simulated executor. Every task negotiates its tier with the resource
governor before running and is charged against the active usage window;
real agent execution plugs in through the same executor interface.

Interrupt with Ctrl-C, or run 'stratum cancel <project>' from another
terminal, to stop gracefully: running tasks finish, everything else is
cancelled.`,
	Args: cobra.ExactArgs(1),
	RunE: runExecute,
}

func init() {
	executeCmd.Flags().DurationVar(&executeTaskDelay, "task-delay", 0,
		"Simulated per-task execution time")
}

// simulatedExecutor stands in for real agents: it succeeds after an
// optional delay and reports the task's estimates as actual usage.
type simulatedExecutor struct {
	delay time.Duration
}

func (e *simulatedExecutor) Execute(ctx context.Context, task *models.Task) (*scheduler.ExecutionResult, error) {
	if e.delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(e.delay):
		}
	}
	return &scheduler.ExecutionResult{
		Payload:        fmt.Sprintf("simulated:%s", task.ID),
		ActualMessages: task.EstimatedMessages,
		ActualTokens:   task.EstimatedTokens,
		Success:        true,
	}, nil
}

func runExecute(cmd *cobra.Command, args []string) error {
	project, tasks, err := loadTaskFile(args[0])
	if err != nil {
		return err
	}

	s, err := openStore()
	if err != nil {
		return err
	}
	if s != nil {
		defer s.Close()
	}

	gov, rt, err := buildGovernor(s)
	if err != nil {
		return err
	}

	events := make(chan scheduler.Event, 256)
	sched := scheduler.New(scheduler.Config{
		Executor:               &simulatedExecutor{delay: executeTaskDelay},
		Governor:               gov,
		MaxParallel:            cfg.Scheduler.MaxParallel,
		RetryBaseDelay:         cfg.Scheduler.RetryBaseDelay,
		RequeueDelay:           cfg.Scheduler.RequeueDelay,
		Events:                 events,
		HeavyCostMultiplier:    cfg.Budget.HeavyCostMultiplier,
		StandardCostMultiplier: cfg.Budget.StandardCostMultiplier,
	})

	plan, err := sched.Schedule(project, tasks)
	if err != nil {
		return err
	}
	printPlan(plan)
	fmt.Println()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go watchCancelMarker(ctx, sched, project)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for ev := range events {
			printEvent(ev)
		}
	}()

	stats, execErr := sched.Execute(ctx, project)
	close(events)
	<-done

	savePerformance(s, rt)

	if execErr != nil {
		return execErr
	}
	printStats(stats)
	return nil
}

func printEvent(ev scheduler.Event) {
	switch ev.Type {
	case scheduler.EventTaskStarted:
		fmt.Printf("  start    %s (%s)\n", ev.TaskID, ev.Tier)
	case scheduler.EventTaskCompleted:
		color.New(color.FgGreen).Printf("  done     %s\n", ev.TaskID)
	case scheduler.EventTaskRetrying:
		fmt.Printf("  retry    %s: %s\n", ev.TaskID, ev.Message)
	case scheduler.EventTaskRequeued:
		fmt.Printf("  requeue  %s: %s\n", ev.TaskID, ev.Message)
	case scheduler.EventTaskFailed:
		color.New(color.FgRed).Printf("  failed   %s: %v\n", ev.TaskID, ev.Err)
	case scheduler.EventTaskBlocked:
		color.New(color.FgYellow).Printf("  blocked  %s: %s\n", ev.TaskID, ev.Message)
	case scheduler.EventTaskCancelled:
		fmt.Printf("  cancel   %s\n", ev.TaskID)
	}
}

func printStats(stats *scheduler.CompletionStats) {
	fmt.Println()
	fmt.Printf("Finished %s in %s: %d/%d completed\n",
		stats.ProjectID, stats.Duration.Round(time.Millisecond),
		stats.Completed, stats.Total)
	if stats.Failed > 0 || stats.Blocked > 0 || stats.Cancelled > 0 {
		fmt.Printf("  %d failed, %d blocked, %d cancelled\n",
			stats.Failed, stats.Blocked, stats.Cancelled)
	}
	if stats.Requeues > 0 {
		fmt.Printf("  %d resource-denial requeues\n", stats.Requeues)
	}
	if stats.Deadlocked {
		color.New(color.FgRed).Println("  execution stopped with unrunnable tasks remaining")
	}
}

// cancelMarkerPath is the cooperative cancel file checked by a running
// execute and written by the cancel command.
func cancelMarkerPath(projectID string) string {
	base := cfg.Storage.Path
	if base == "" {
		base = store.DefaultPath()
	}
	return filepath.Join(filepath.Dir(base), "cancel", projectID)
}

// watchCancelMarker polls for the project's cancel marker and forwards
// the request to the scheduler.
func watchCancelMarker(ctx context.Context, sched *scheduler.Scheduler, projectID string) {
	path := cancelMarkerPath(projectID)
	os.Remove(path) // stale marker from an earlier run

	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := os.Stat(path); err == nil {
				os.Remove(path)
				_ = sched.Cancel(projectID)
				return
			}
		}
	}
}
