package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
)

var cancelCmd = &cobra.Command{
	Use:   "cancel <project>",
	Short: "Cancel a running execution",
	Long: `Cancel signals an execute command running in another process to
stop the named project. Tasks already running finish; pending and queued
tasks are cancelled.`,
	Args: cobra.ExactArgs(1),
	RunE: runCancel,
}

func runCancel(cmd *cobra.Command, args []string) error {
	path := cancelMarkerPath(args[0])
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create cancel directory: %w", err)
	}

	stamp := time.Now().UTC().Format(time.RFC3339) + "\n"
	if err := os.WriteFile(path, []byte(stamp), 0644); err != nil {
		return fmt.Errorf("write cancel marker: %w", err)
	}

	fmt.Printf("Cancellation requested for %s.\n", args[0])
	return nil
}
