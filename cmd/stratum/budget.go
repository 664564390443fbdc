package main

import (
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/tbracken/stratum/internal/budget"
)

var budgetCmd = &cobra.Command{
	Use:   "budget",
	Short: "Show usage window status",
	Long: `Display the active usage window: consumed messages and tokens,
usage percentage, budget health, and any earlier windows from today.`,
	RunE: runBudget,
}

var budgetRotateCmd = &cobra.Command{
	Use:   "rotate",
	Short: "Archive the current window and start a fresh one",
	RunE:  runBudgetRotate,
}

func init() {
	budgetCmd.AddCommand(budgetRotateCmd)
}

func runBudget(cmd *cobra.Command, args []string) error {
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
	return nil
}

func runBudgetRotate(cmd *cobra.Command, args []string) error {
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
	if err := g.ForceRotate(); err != nil {
		return fmt.Errorf("rotate window: %w", err)
	}

	st := g.BudgetStatus()
	fmt.Printf("Started window %s (ends %s)\n",
		st.CurrentWindow.ID,
		st.CurrentWindow.EndTime.Local().Format(time.RFC822))
	return nil
}

func printBudgetStatus(st *budget.Status) {
	w := st.CurrentWindow
	limits := w.Limits()

	fmt.Printf("Window %s\n", w.ID)
	fmt.Printf("  Period: %s to %s\n",
		w.StartTime.Local().Format(time.RFC822),
		w.EndTime.Local().Format(time.RFC822))
	fmt.Printf("  Messages: %d / %d (%.1f%%)\n",
		w.TotalMessages, limits.MaxMessages, w.UsagePercentage())
	fmt.Printf("  Tokens: %d in / %d out\n", w.TotalInputTokens, w.TotalOutputTokens)
	fmt.Printf("  Tiers: %d heavy (%.1f units), %d standard (%.1f units)\n",
		w.HeavyMessages, w.HeavyCostUnits, w.StandardMessages, w.StandardCostUnits)

	healthColor(st.Health).Printf("  Health: %s\n", st.Health)
	if st.IsThrottling {
		color.New(color.FgYellow).Printf("  Throttling: %s\n", st.ThrottleReason)
	}

	if len(st.PreviousWindows) > 0 {
		fmt.Println()
		fmt.Println("Earlier windows today:")
		for _, p := range st.PreviousWindows {
			fmt.Printf("  %s: %d messages (%.1f%%)\n", p.ID, p.TotalMessages, p.UsagePercentage())
		}
	}
}

func healthColor(h budget.Health) *color.Color {
	switch h {
	case budget.HealthGreen:
		return color.New(color.FgGreen)
	case budget.HealthYellow:
		return color.New(color.FgYellow)
	default:
		return color.New(color.FgRed)
	}
}
