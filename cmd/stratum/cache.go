package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tbracken/stratum/internal/cache"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect and manage the response cache",
}

var cacheMetricsCmd = &cobra.Command{
	Use:   "metrics",
	Short: "Show per-layer cache metrics",
	RunE:  runCacheMetrics,
}

var (
	cacheInvalidateLayer    string
	cacheInvalidateTaskType string
)

var cacheInvalidateCmd = &cobra.Command{
	Use:   "invalidate",
	Short: "Remove cache entries by layer and/or task type",
	RunE:  runCacheInvalidate,
}

func init() {
	cacheInvalidateCmd.Flags().StringVar(&cacheInvalidateLayer, "layer", "",
		"Restrict to one layer: l1, l2, or l3")
	cacheInvalidateCmd.Flags().StringVar(&cacheInvalidateTaskType, "task-type", "",
		"Restrict to one task type")

	cacheCmd.AddCommand(cacheMetricsCmd)
	cacheCmd.AddCommand(cacheInvalidateCmd)
}

func runCacheMetrics(cmd *cobra.Command, args []string) error {
	s, err := openStore()
	if err != nil {
		return err
	}
	if s != nil {
		defer s.Close()
	}

	mgr, err := buildCache(s)
	if err != nil {
		return err
	}
	printCacheMetrics(mgr.Metrics())
	return nil
}

func runCacheInvalidate(cmd *cobra.Command, args []string) error {
	s, err := openStore()
	if err != nil {
		return err
	}
	if s != nil {
		defer s.Close()
	}

	mgr, err := buildCache(s)
	if err != nil {
		return err
	}

	res, err := mgr.Invalidate(&cache.InvalidateRequest{
		Layer:    cache.Layer(cacheInvalidateLayer),
		TaskType: cacheInvalidateTaskType,
	})
	if err != nil {
		return err
	}

	if res.Entries == 0 {
		fmt.Println("Nothing to invalidate.")
		return nil
	}
	layers := make([]string, len(res.Layers))
	for i, l := range res.Layers {
		layers[i] = string(l)
	}
	fmt.Printf("Invalidated %d entries (%s).\n", res.Entries, strings.Join(layers, ", "))
	return nil
}

func printCacheMetrics(m *cache.Metrics) {
	fmt.Println("Cache:")
	printLayerMetrics("L1 prefix", m.L1)
	printLayerMetrics("L2 exact", m.L2)
	printLayerMetrics("L3 semantic", m.L3)
	if m.TotalLookups > 0 {
		fmt.Printf("  Overall: %d/%d hits (%.0f%%)\n",
			m.TotalHits, m.TotalLookups, m.OverallHitRate*100)
	}
	if m.TokensSaved > 0 {
		fmt.Printf("  Saved: %d tokens ($%.4f)\n", m.TokensSaved, m.EstimatedSavings)
	}
}

func printLayerMetrics(name string, lm cache.LayerMetrics) {
	line := fmt.Sprintf("  %-12s %d entries", name, lm.Entries)
	if lm.TotalLookups > 0 {
		line += fmt.Sprintf(", %d/%d hits (%.0f%%)",
			lm.TotalHits, lm.TotalLookups, lm.HitRate()*100)
	}
	if lm.AvgSimilarityOnHit > 0 {
		line += fmt.Sprintf(", avg similarity %.2f", lm.AvgSimilarityOnHit)
	}
	fmt.Println(line)
}
