package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/tbracken/stratum/internal/scheduler"
	"github.com/tbracken/stratum/pkg/models"
)

// taskFile is the YAML document accepted by schedule and execute.
type taskFile struct {
	Project string         `yaml:"project"`
	Tasks   []*models.Task `yaml:"tasks"`
}

// loadTaskFile parses a task list. The project name defaults to the file
// name without its extension.
func loadTaskFile(path string) (string, []*models.Task, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", nil, fmt.Errorf("read task file: %w", err)
	}

	var tf taskFile
	if err := yaml.Unmarshal(data, &tf); err != nil {
		return "", nil, fmt.Errorf("parse task file %s: %w", path, err)
	}
	if len(tf.Tasks) == 0 {
		return "", nil, fmt.Errorf("task file %s contains no tasks", path)
	}

	if tf.Project == "" {
		base := filepath.Base(path)
		tf.Project = strings.TrimSuffix(base, filepath.Ext(base))
	}
	for _, t := range tf.Tasks {
		t.ProjectID = tf.Project
	}
	return tf.Project, tf.Tasks, nil
}

func printPlan(plan *scheduler.ExecutionPlan) {
	fmt.Printf("Project %s: %d tasks in %d batches\n",
		plan.ProjectID, planTaskCount(plan), len(plan.Batches))
	for i, batch := range plan.Batches {
		fmt.Printf("  %d. %s\n", i+1, strings.Join(batch, ", "))
	}
	fmt.Printf("Estimated duration: %.1f min\n", plan.EstimatedDurationMinutes)
	fmt.Printf("Estimated cost: %.1f units\n", plan.EstimatedCostUnits)
}

func planTaskCount(plan *scheduler.ExecutionPlan) int {
	n := 0
	for _, batch := range plan.Batches {
		n += len(batch)
	}
	return n
}
