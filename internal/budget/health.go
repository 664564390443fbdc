package budget

// Health summarizes window consumption into a traffic-light state.
type Health int

const (
	// HealthGreen indicates usage below 60%.
	HealthGreen Health = iota
	// HealthYellow indicates usage between 60% and 80%.
	HealthYellow
	// HealthRed indicates usage above 80%.
	HealthRed
)

// String returns a human-readable representation of the health state.
func (h Health) String() string {
	switch h {
	case HealthGreen:
		return "green"
	case HealthYellow:
		return "yellow"
	case HealthRed:
		return "red"
	default:
		return "unknown"
	}
}

// HealthFor maps a usage percentage to a health state.
func HealthFor(usagePct float64) Health {
	switch {
	case usagePct > 80:
		return HealthRed
	case usagePct >= 60:
		return HealthYellow
	default:
		return HealthGreen
	}
}

// Status is the derived budget view handed to callers. It is a snapshot;
// the governor owns the live window.
type Status struct {
	// CurrentWindow is a copy of the active window.
	CurrentWindow *UsageWindow `json:"current_window"`
	// IsThrottling reports whether allocations are being throttled.
	IsThrottling bool `json:"is_throttling"`
	// ThrottleReason explains the throttle, manual or usage-driven.
	ThrottleReason string `json:"throttle_reason,omitempty"`
	// Health is the traffic-light summary of the current window.
	Health Health `json:"budget_health"`
	// PreviousWindows holds archived same-day windows, newest first.
	PreviousWindows []*UsageWindow `json:"previous_windows,omitempty"`
}
