// Package budget provides rolling-window usage accounting for the
// orchestration core. A UsageWindow is pure data plus arithmetic; all
// mutation is serialized by the owning governor (single-writer).
package budget

import (
	"fmt"
	"time"

	"github.com/tbracken/stratum/pkg/models"
)

// DefaultWindowDuration is the length of one accounting window.
const DefaultWindowDuration = 5 * time.Hour

// DefaultMaxMessages is the message budget per window.
const DefaultMaxMessages = 900

// DefaultThrottleThreshold is the usage fraction at which throttling begins.
const DefaultThrottleThreshold = 0.80

// DefaultHistorySize bounds how many archived windows are retained.
const DefaultHistorySize = 24

// Default per-tier cost multipliers applied to message counts.
const (
	DefaultHeavyCostMultiplier    = 5.0
	DefaultStandardCostMultiplier = 1.0
)

// Limits holds the fixed parameters a window is accounted against.
type Limits struct {
	// WindowDuration is the fixed window length.
	WindowDuration time.Duration
	// MaxMessages is the message budget per window.
	MaxMessages int
	// HeavyCostMultiplier converts heavy-tier messages to cost units.
	HeavyCostMultiplier float64
	// StandardCostMultiplier converts standard-tier messages to cost units.
	StandardCostMultiplier float64
	// ThrottleThreshold is the usage fraction at which ShouldThrottle fires.
	ThrottleThreshold float64
	// HistorySize bounds the archived window history.
	HistorySize int
}

// DefaultLimits returns the built-in window parameters.
func DefaultLimits() Limits {
	return Limits{
		WindowDuration:         DefaultWindowDuration,
		MaxMessages:            DefaultMaxMessages,
		HeavyCostMultiplier:    DefaultHeavyCostMultiplier,
		StandardCostMultiplier: DefaultStandardCostMultiplier,
		ThrottleThreshold:      DefaultThrottleThreshold,
		HistorySize:            DefaultHistorySize,
	}
}

// normalized fills zero values with defaults so a partially configured
// Limits never divides by zero.
func (l Limits) normalized() Limits {
	d := DefaultLimits()
	if l.WindowDuration <= 0 {
		l.WindowDuration = d.WindowDuration
	}
	if l.MaxMessages <= 0 {
		l.MaxMessages = d.MaxMessages
	}
	if l.HeavyCostMultiplier <= 0 {
		l.HeavyCostMultiplier = d.HeavyCostMultiplier
	}
	if l.StandardCostMultiplier <= 0 {
		l.StandardCostMultiplier = d.StandardCostMultiplier
	}
	if l.ThrottleThreshold <= 0 || l.ThrottleThreshold > 1 {
		l.ThrottleThreshold = d.ThrottleThreshold
	}
	if l.HistorySize <= 0 {
		l.HistorySize = d.HistorySize
	}
	return l
}

// UsageWindow is the accounting record for one fixed-length budget period.
// Counters are monotonically non-decreasing for the window's lifetime.
type UsageWindow struct {
	ID        string    `json:"window_id"`
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
	IsActive  bool      `json:"is_active"`

	TotalMessages     int `json:"total_messages"`
	TotalInputTokens  int `json:"total_input_tokens"`
	TotalOutputTokens int `json:"total_output_tokens"`
	HeavyMessages     int `json:"heavy_messages"`
	StandardMessages  int `json:"standard_messages"`

	HeavyCostUnits    float64 `json:"heavy_cost_units"`
	StandardCostUnits float64 `json:"standard_cost_units"`

	ThrottleActivated bool `json:"throttle_activated"`

	limits Limits
}

// NewWindow creates an active window starting at now.
func NewWindow(now time.Time, limits Limits) *UsageWindow {
	limits = limits.normalized()
	start := now.UTC()
	return &UsageWindow{
		ID:        fmt.Sprintf("uw-%s", start.Format("20060102-150405")),
		StartTime: start,
		EndTime:   start.Add(limits.WindowDuration),
		IsActive:  true,
		limits:    limits,
	}
}

// Limits returns the parameters this window is accounted against.
func (w *UsageWindow) Limits() Limits {
	return w.limits
}

// SetLimits restores limits on a window rehydrated from storage.
func (w *UsageWindow) SetLimits(limits Limits) {
	w.limits = limits.normalized()
}

// UpdateUsage records messages and tokens against the window.
// Negative inputs are ignored; counters never decrease.
func (w *UsageWindow) UpdateUsage(tier models.Tier, messages, inputTokens, outputTokens int) {
	if messages < 0 {
		messages = 0
	}
	if inputTokens < 0 {
		inputTokens = 0
	}
	if outputTokens < 0 {
		outputTokens = 0
	}

	w.TotalMessages += messages
	w.TotalInputTokens += inputTokens
	w.TotalOutputTokens += outputTokens

	switch tier {
	case models.TierHeavy:
		w.HeavyMessages += messages
		w.HeavyCostUnits += float64(messages) * w.limits.HeavyCostMultiplier
	default:
		w.StandardMessages += messages
		w.StandardCostUnits += float64(messages) * w.limits.StandardCostMultiplier
	}

	if w.ShouldThrottle() {
		w.ThrottleActivated = true
	}
}

// UsagePercentage returns window consumption as a percentage, clamped to
// [0,100] for display. Internally the raw counters may transiently exceed
// the budget before a rotation check fires.
func (w *UsageWindow) UsagePercentage() float64 {
	if w.limits.MaxMessages <= 0 {
		return 0
	}
	pct := float64(w.TotalMessages) / float64(w.limits.MaxMessages) * 100
	if pct < 0 {
		return 0
	}
	if pct > 100 {
		return 100
	}
	return pct
}

// RemainingBudget returns how many messages remain, floored at zero.
func (w *UsageWindow) RemainingBudget() int {
	remaining := w.limits.MaxMessages - w.TotalMessages
	if remaining < 0 {
		return 0
	}
	return remaining
}

// ShouldThrottle reports whether usage has reached the throttle threshold.
func (w *UsageWindow) ShouldThrottle() bool {
	if w.limits.MaxMessages <= 0 {
		return false
	}
	return float64(w.TotalMessages) >= w.limits.ThrottleThreshold*float64(w.limits.MaxMessages)
}

// TotalCostUnits returns the combined cost charged to the window.
func (w *UsageWindow) TotalCostUnits() float64 {
	return w.HeavyCostUnits + w.StandardCostUnits
}

// Expired reports whether the window has passed its end time.
func (w *UsageWindow) Expired(now time.Time) bool {
	return now.After(w.EndTime)
}

// Archive deactivates the window. Called by the governor on rotation.
func (w *UsageWindow) Archive() {
	w.IsActive = false
}

// Clone returns a copy safe to hand to readers while the governor keeps
// mutating the original.
func (w *UsageWindow) Clone() *UsageWindow {
	copied := *w
	return &copied
}
