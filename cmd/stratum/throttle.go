package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var throttleClear bool

var throttleCmd = &cobra.Command{
	Use:   "throttle [reason]",
	Short: "Force or clear a manual throttle",
	Long: `Force throttling regardless of usage percentage. While throttled,
heavy-tier recommendations are downgraded to the standard tier and tasks
that require the heavy tier are deferred to the next window.

The override persists until cleared with --clear.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runThrottle,
}

func init() {
	throttleCmd.Flags().BoolVar(&throttleClear, "clear", false, "Clear a manual throttle")
}

func runThrottle(cmd *cobra.Command, args []string) error {
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

	if throttleClear {
		g.ClearThrottle()
		fmt.Println("Manual throttle cleared.")
		return nil
	}

	reason := "manual throttle"
	if len(args) > 0 {
		reason = args[0]
	}
	g.ForceThrottle(reason)
	fmt.Printf("Throttle forced: %s\n", reason)
	if s == nil {
		fmt.Println("Persistence is disabled; the override will not outlive this process.")
	}
	return nil
}
