package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show budget and cache state",
	Long: `Display the active usage window, budget health, and the layered
cache's persisted contents.`,
	RunE: runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	s, err := openStore()
	if err != nil {
		return err
	}
	if s != nil {
		defer s.Close()
	}

	g, _, err := buildGovernor(s)
	if err != nil {
		return err
	}
	printBudgetStatus(g.BudgetStatus())

	mgr, err := buildCache(s)
	if err != nil {
		return err
	}
	fmt.Println()
	printCacheMetrics(mgr.Metrics())

	fmt.Println()
	if s != nil {
		fmt.Printf("Database: %s\n", s.Path())
	} else {
		fmt.Println("Persistence disabled; state is in-memory only.")
	}
	return nil
}
