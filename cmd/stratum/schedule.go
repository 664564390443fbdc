package main

import (
	"github.com/spf13/cobra"

	"github.com/tbracken/stratum/internal/scheduler"
)

var scheduleCmd = &cobra.Command{
	Use:   "schedule <tasks.yaml>",
	Short: "Validate a task graph and print its execution plan",
	Long: `Schedule builds the dependency graph for a task file, rejects
cycles and unknown dependencies, and prints the batched execution plan
with duration and cost estimates. Nothing is executed.`,
	Args: cobra.ExactArgs(1),
	RunE: runSchedule,
}

func runSchedule(cmd *cobra.Command, args []string) error {
	project, tasks, err := loadTaskFile(args[0])
	if err != nil {
		return err
	}

	sched := scheduler.New(scheduler.Config{
		MaxParallel:            cfg.Scheduler.MaxParallel,
		HeavyCostMultiplier:    cfg.Budget.HeavyCostMultiplier,
		StandardCostMultiplier: cfg.Budget.StandardCostMultiplier,
	})

	plan, err := sched.Schedule(project, tasks)
	if err != nil {
		return err
	}
	printPlan(plan)
	return nil
}
