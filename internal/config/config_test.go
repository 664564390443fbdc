package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadFromPath_AppliesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("{}\n"), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadFromPath(path)
	if err != nil {
		t.Fatalf("LoadFromPath() error = %v", err)
	}

	if cfg.Budget.MaxMessages != 900 {
		t.Errorf("Budget.MaxMessages = %d, want 900", cfg.Budget.MaxMessages)
	}
	if cfg.Budget.WindowDuration != 5*time.Hour {
		t.Errorf("Budget.WindowDuration = %v, want 5h", cfg.Budget.WindowDuration)
	}
	if cfg.Scheduler.MaxParallel != 10 {
		t.Errorf("Scheduler.MaxParallel = %d, want 10", cfg.Scheduler.MaxParallel)
	}
	if cfg.Cache.SimilarityThreshold != 0.85 {
		t.Errorf("Cache.SimilarityThreshold = %v, want 0.85", cfg.Cache.SimilarityThreshold)
	}
	if !cfg.Storage.Enabled || !cfg.Storage.Strict {
		t.Errorf("Storage = %+v, want enabled and strict", cfg.Storage)
	}
}

func TestLoadFromPath_Overrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
budget:
  max_messages: 450
  throttle_threshold: 0.9
scheduler:
  max_parallel: 4
  retry_base_delay: 500ms
cache:
  similarity_threshold: 0.7
storage:
  enabled: false
logging:
  level: debug
  pretty: true
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadFromPath(path)
	if err != nil {
		t.Fatalf("LoadFromPath() error = %v", err)
	}

	if cfg.Budget.MaxMessages != 450 {
		t.Errorf("Budget.MaxMessages = %d, want 450", cfg.Budget.MaxMessages)
	}
	if cfg.Budget.ThrottleThreshold != 0.9 {
		t.Errorf("Budget.ThrottleThreshold = %v, want 0.9", cfg.Budget.ThrottleThreshold)
	}
	if cfg.Scheduler.MaxParallel != 4 {
		t.Errorf("Scheduler.MaxParallel = %d, want 4", cfg.Scheduler.MaxParallel)
	}
	if cfg.Scheduler.RetryBaseDelay != 500*time.Millisecond {
		t.Errorf("Scheduler.RetryBaseDelay = %v, want 500ms", cfg.Scheduler.RetryBaseDelay)
	}
	if cfg.Cache.SimilarityThreshold != 0.7 {
		t.Errorf("Cache.SimilarityThreshold = %v, want 0.7", cfg.Cache.SimilarityThreshold)
	}
	if cfg.Storage.Enabled {
		t.Error("Storage.Enabled = true, want false")
	}
	if cfg.Logging.Level != "debug" || !cfg.Logging.Pretty {
		t.Errorf("Logging = %+v, want debug/pretty", cfg.Logging)
	}

	// Untouched sections keep their defaults.
	if cfg.Cache.L2TTL != time.Hour {
		t.Errorf("Cache.L2TTL = %v, want 1h", cfg.Cache.L2TTL)
	}
}

func TestLimits_Conversion(t *testing.T) {
	cfg := Default()
	limits := cfg.Budget.Limits()

	if limits.MaxMessages != 900 || limits.WindowDuration != 5*time.Hour {
		t.Errorf("Limits = %+v, want defaults", limits)
	}
	if limits.HeavyCostMultiplier != 5.0 || limits.StandardCostMultiplier != 1.0 {
		t.Errorf("multipliers = %v/%v, want 5/1", limits.HeavyCostMultiplier, limits.StandardCostMultiplier)
	}
}
