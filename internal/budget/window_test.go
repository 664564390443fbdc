package budget

import (
	"math"
	"testing"
	"time"

	"github.com/tbracken/stratum/pkg/models"
)

func testWindow() *UsageWindow {
	return NewWindow(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC), DefaultLimits())
}

func TestUpdateUsage_CounterInvariant(t *testing.T) {
	w := testWindow()

	w.UpdateUsage(models.TierHeavy, 10, 1000, 500)
	w.UpdateUsage(models.TierStandard, 25, 2000, 800)
	w.UpdateUsage(models.TierHeavy, 3, 100, 50)

	if w.TotalMessages != w.HeavyMessages+w.StandardMessages {
		t.Errorf("total %d != heavy %d + standard %d", w.TotalMessages, w.HeavyMessages, w.StandardMessages)
	}
	if w.TotalMessages != 38 {
		t.Errorf("TotalMessages = %d, want 38", w.TotalMessages)
	}
	if w.TotalInputTokens != 3100 || w.TotalOutputTokens != 1350 {
		t.Errorf("tokens = %d/%d, want 3100/1350", w.TotalInputTokens, w.TotalOutputTokens)
	}

	wantCost := 13*DefaultHeavyCostMultiplier + 25*DefaultStandardCostMultiplier
	if math.Abs(w.TotalCostUnits()-wantCost) > 1e-9 {
		t.Errorf("TotalCostUnits = %f, want %f", w.TotalCostUnits(), wantCost)
	}
}

func TestUpdateUsage_NegativeIgnored(t *testing.T) {
	w := testWindow()
	w.UpdateUsage(models.TierStandard, -5, -10, -10)
	if w.TotalMessages != 0 || w.TotalInputTokens != 0 {
		t.Errorf("negative usage should not decrease counters, got %d msgs", w.TotalMessages)
	}
}

func TestUsagePercentage_AndThrottle(t *testing.T) {
	tests := []struct {
		name         string
		messages     int
		wantPct      float64
		wantThrottle bool
	}{
		{"empty", 0, 0, false},
		{"half", 450, 50, false},
		{"just below threshold", 719, 79.888888888889, false},
		{"at threshold", 720, 80, true},
		{"over budget", 1000, 100, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := testWindow()
			w.UpdateUsage(models.TierStandard, tt.messages, 0, 0)
			if got := w.UsagePercentage(); math.Abs(got-tt.wantPct) > 1e-6 {
				t.Errorf("UsagePercentage = %f, want %f", got, tt.wantPct)
			}
			if got := w.ShouldThrottle(); got != tt.wantThrottle {
				t.Errorf("ShouldThrottle = %v, want %v", got, tt.wantThrottle)
			}
		})
	}
}

func TestRemainingBudget_FlooredAtZero(t *testing.T) {
	w := testWindow()
	w.UpdateUsage(models.TierStandard, 950, 0, 0)
	if got := w.RemainingBudget(); got != 0 {
		t.Errorf("RemainingBudget = %d, want 0", got)
	}
}

func TestWindow_LifecycleAndExpiry(t *testing.T) {
	start := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	w := NewWindow(start, DefaultLimits())

	if !w.IsActive {
		t.Error("new window should be active")
	}
	if w.EndTime != start.Add(DefaultWindowDuration) {
		t.Errorf("EndTime = %v, want start+%v", w.EndTime, DefaultWindowDuration)
	}
	if w.Expired(start.Add(4 * time.Hour)) {
		t.Error("window should not be expired before end time")
	}
	if !w.Expired(start.Add(5*time.Hour + time.Second)) {
		t.Error("window should be expired after end time")
	}

	w.Archive()
	if w.IsActive {
		t.Error("archived window should be inactive")
	}
}

func TestWindow_ThrottleActivatedLatches(t *testing.T) {
	w := testWindow()
	w.UpdateUsage(models.TierStandard, 720, 0, 0)
	if !w.ThrottleActivated {
		t.Error("ThrottleActivated should latch at threshold")
	}
}

func TestHealthFor(t *testing.T) {
	tests := []struct {
		pct  float64
		want Health
	}{
		{0, HealthGreen},
		{59.9, HealthGreen},
		{60, HealthYellow},
		{80, HealthYellow},
		{80.1, HealthRed},
		{100, HealthRed},
	}
	for _, tt := range tests {
		if got := HealthFor(tt.pct); got != tt.want {
			t.Errorf("HealthFor(%f) = %v, want %v", tt.pct, got, tt.want)
		}
	}
}

func TestClone_IsIndependent(t *testing.T) {
	w := testWindow()
	w.UpdateUsage(models.TierHeavy, 5, 100, 100)
	c := w.Clone()
	w.UpdateUsage(models.TierHeavy, 5, 100, 100)
	if c.TotalMessages != 5 {
		t.Errorf("clone mutated: TotalMessages = %d, want 5", c.TotalMessages)
	}
}
