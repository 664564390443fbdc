// Package config handles configuration loading for stratum.
// It supports XDG config paths, project-level overrides, and environment
// variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"

	"github.com/tbracken/stratum/internal/budget"
)

// Config holds all configuration for stratum.
type Config struct {
	Budget    BudgetConfig    `mapstructure:"budget"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// BudgetConfig parameterizes usage windows.
type BudgetConfig struct {
	WindowDuration         time.Duration `mapstructure:"window_duration"`
	MaxMessages            int           `mapstructure:"max_messages"`
	ThrottleThreshold      float64       `mapstructure:"throttle_threshold"`
	HistorySize            int           `mapstructure:"history_size"`
	HeavyCostMultiplier    float64       `mapstructure:"heavy_cost_multiplier"`
	StandardCostMultiplier float64       `mapstructure:"standard_cost_multiplier"`
}

// Limits converts the budget section into window parameters.
func (b BudgetConfig) Limits() budget.Limits {
	return budget.Limits{
		WindowDuration:         b.WindowDuration,
		MaxMessages:            b.MaxMessages,
		ThrottleThreshold:      b.ThrottleThreshold,
		HistorySize:            b.HistorySize,
		HeavyCostMultiplier:    b.HeavyCostMultiplier,
		StandardCostMultiplier: b.StandardCostMultiplier,
	}
}

// SchedulerConfig tunes DAG execution.
type SchedulerConfig struct {
	MaxParallel    int           `mapstructure:"max_parallel"`
	RetryBaseDelay time.Duration `mapstructure:"retry_base_delay"`
	RequeueDelay   time.Duration `mapstructure:"requeue_delay"`
}

// CacheConfig tunes the three cache layers.
type CacheConfig struct {
	SimilarityThreshold float64       `mapstructure:"similarity_threshold"`
	MinPrefixTokens     int           `mapstructure:"min_prefix_tokens"`
	L1TTL               time.Duration `mapstructure:"l1_ttl"`
	L2TTL               time.Duration `mapstructure:"l2_ttl"`
	L3TTL               time.Duration `mapstructure:"l3_ttl"`
	MaxTTL              time.Duration `mapstructure:"max_ttl"`
	CostPerToken        float64       `mapstructure:"cost_per_token"`
}

// StorageConfig controls the SQLite persistence layer.
type StorageConfig struct {
	// Enabled turns persistence on. When false all state is in-memory.
	Enabled bool `mapstructure:"enabled"`
	// Path is the database file location. Empty means the default
	// data-directory path.
	Path string `mapstructure:"path"`
	// Strict makes persistence failures fatal instead of degrading to
	// empty state.
	Strict bool `mapstructure:"strict"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"`
}

// Load loads configuration with the following precedence (highest to
// lowest): environment variables (STRATUM_*), project config
// (.stratum.yaml in the current directory or a parent), user config
// (~/.config/stratum/config.yaml), built-in defaults.
func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(getUserConfigDir())

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading user config: %w", err)
		}
	}

	if projectConfig := findProjectConfig(); projectConfig != "" {
		projectViper := viper.New()
		projectViper.SetConfigFile(projectConfig)
		if err := projectViper.ReadInConfig(); err == nil {
			if err := v.MergeConfigMap(projectViper.AllSettings()); err != nil {
				return nil, fmt.Errorf("merging project config: %w", err)
			}
		}
	}

	v.SetEnvPrefix("STRATUM")
	v.AutomaticEnv()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	return cfg, nil
}

// LoadFromPath loads configuration from a specific file.
func LoadFromPath(path string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	return cfg, nil
}

// GetUserConfigPath returns the path to the user config file.
func GetUserConfigPath() string {
	return filepath.Join(getUserConfigDir(), "config.yaml")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("budget.window_duration", "5h")
	v.SetDefault("budget.max_messages", 900)
	v.SetDefault("budget.throttle_threshold", 0.80)
	v.SetDefault("budget.history_size", 24)
	v.SetDefault("budget.heavy_cost_multiplier", 5.0)
	v.SetDefault("budget.standard_cost_multiplier", 1.0)

	v.SetDefault("scheduler.max_parallel", 10)
	v.SetDefault("scheduler.retry_base_delay", "2s")
	v.SetDefault("scheduler.requeue_delay", "30s")

	v.SetDefault("cache.similarity_threshold", 0.85)
	v.SetDefault("cache.min_prefix_tokens", 128)
	v.SetDefault("cache.l1_ttl", "5m")
	v.SetDefault("cache.l2_ttl", "1h")
	v.SetDefault("cache.l3_ttl", "24h")
	v.SetDefault("cache.max_ttl", "168h")
	v.SetDefault("cache.cost_per_token", 0.000003)

	v.SetDefault("storage.enabled", true)
	v.SetDefault("storage.path", "")
	v.SetDefault("storage.strict", true)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.pretty", false)
}

// getUserConfigDir returns the XDG config directory for stratum.
func getUserConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "stratum")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".config", "stratum")
	}
	return filepath.Join(home, ".config", "stratum")
}

// findProjectConfig searches for .stratum.yaml in the current directory
// and parents.
func findProjectConfig() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}

	for {
		configPath := filepath.Join(cwd, ".stratum.yaml")
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}

		parent := filepath.Dir(cwd)
		if parent == cwd {
			break
		}
		cwd = parent
	}

	return ""
}

// Default returns a Config with built-in default values.
func Default() *Config {
	return &Config{
		Budget: BudgetConfig{
			WindowDuration:         5 * time.Hour,
			MaxMessages:            900,
			ThrottleThreshold:      0.80,
			HistorySize:            24,
			HeavyCostMultiplier:    5.0,
			StandardCostMultiplier: 1.0,
		},
		Scheduler: SchedulerConfig{
			MaxParallel:    10,
			RetryBaseDelay: 2 * time.Second,
			RequeueDelay:   30 * time.Second,
		},
		Cache: CacheConfig{
			SimilarityThreshold: 0.85,
			MinPrefixTokens:     128,
			L1TTL:               5 * time.Minute,
			L2TTL:               time.Hour,
			L3TTL:               24 * time.Hour,
			MaxTTL:              7 * 24 * time.Hour,
			CostPerToken:        0.000003,
		},
		Storage: StorageConfig{
			Enabled: true,
			Strict:  true,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}
