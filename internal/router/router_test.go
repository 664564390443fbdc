package router

import (
	"math"
	"testing"
	"time"

	"github.com/tbracken/stratum/internal/budget"
	"github.com/tbracken/stratum/pkg/models"
)

func statusWithUsage(t *testing.T, messages int, throttling bool) *budget.Status {
	t.Helper()
	w := budget.NewWindow(time.Now(), budget.DefaultLimits())
	w.UpdateUsage(models.TierStandard, messages, 0, 0)
	return &budget.Status{
		CurrentWindow: w,
		IsThrottling:  throttling,
		Health:        budget.HealthFor(w.UsagePercentage()),
	}
}

func TestRecommendModel_HeavyRequirementShortCircuits(t *testing.T) {
	r := New()
	req := &models.TaskResourceRequest{
		TaskID: "t1", AgentType: "translation",
		EstimatedMessages: 1, Priority: 1, RequiresHeavyTier: true,
	}

	// Even at 96% usage the requirement wins.
	rec := r.RecommendModel(req, statusWithUsage(t, 864, true))
	if rec.Tier != models.TierHeavy {
		t.Errorf("Tier = %q, want heavy", rec.Tier)
	}
	if rec.Confidence != 1.0 {
		t.Errorf("Confidence = %f, want 1.0", rec.Confidence)
	}
}

func TestRecommendModel_AbundantBudgetComplexTask(t *testing.T) {
	r := New()
	req := &models.TaskResourceRequest{
		TaskID: "t1", AgentType: "architecture",
		EstimatedMessages: 60, Priority: 9,
	}

	rec := r.RecommendModel(req, statusWithUsage(t, 0, false))
	if rec.Tier != models.TierHeavy {
		t.Errorf("Tier = %q, want heavy (reasoning: %s)", rec.Tier, rec.Reasoning)
	}
	if rec.Confidence <= 0 || rec.Confidence > 1 {
		t.Errorf("Confidence %f out of (0,1]", rec.Confidence)
	}
}

func TestRecommendModel_SimpleTaskTightBudget(t *testing.T) {
	r := New()
	req := &models.TaskResourceRequest{
		TaskID: "t1", AgentType: "translation",
		EstimatedMessages: 2, Priority: 1,
	}

	rec := r.RecommendModel(req, statusWithUsage(t, 850, true))
	if rec.Tier != models.TierStandard {
		t.Errorf("Tier = %q, want standard (reasoning: %s)", rec.Tier, rec.Reasoning)
	}
}

func TestRecommendModel_BudgetPressureIsMonotone(t *testing.T) {
	r := New()
	req := &models.TaskResourceRequest{
		TaskID: "t1", AgentType: "code",
		EstimatedMessages: 25, Priority: 6,
	}

	// The same request must never get a cheaper recommendation at low
	// usage than at high usage.
	lowRec := r.RecommendModel(req, statusWithUsage(t, 0, false))
	highRec := r.RecommendModel(req, statusWithUsage(t, 860, true))

	if lowRec.Tier == models.TierStandard && highRec.Tier == models.TierHeavy {
		t.Errorf("recommendation became more permissive under budget pressure: %q -> %q",
			lowRec.Tier, highRec.Tier)
	}
}

func TestPerformanceTable_EMA(t *testing.T) {
	p := NewPerformanceTable()

	if got := p.SuccessRate("code", models.TierHeavy); got != 0.5 {
		t.Fatalf("default rate = %f, want 0.5", got)
	}

	p.Record("code", models.TierHeavy, true)
	want := 0.5 + emaAlpha*(1-0.5)
	if got := p.SuccessRate("code", models.TierHeavy); math.Abs(got-want) > 1e-9 {
		t.Errorf("after one success rate = %f, want %f", got, want)
	}

	p.Record("code", models.TierHeavy, false)
	want = want + emaAlpha*(0-want)
	if got := p.SuccessRate("code", models.TierHeavy); math.Abs(got-want) > 1e-9 {
		t.Errorf("after one failure rate = %f, want %f", got, want)
	}

	// The standard-tier cell is untouched.
	if got := p.SuccessRate("code", models.TierStandard); got != 0.5 {
		t.Errorf("standard-tier rate = %f, want untouched 0.5", got)
	}
}

func TestPerformanceTable_SnapshotRestore(t *testing.T) {
	p := NewPerformanceTable()
	p.Record("qa", models.TierStandard, true)
	p.Record("code", models.TierHeavy, false)

	snap := p.Snapshot()
	if len(snap) != 2 {
		t.Fatalf("snapshot size = %d, want 2", len(snap))
	}

	restored := NewPerformanceTable()
	restored.Restore(snap)
	for _, tier := range []models.Tier{models.TierStandard, models.TierHeavy} {
		for _, agent := range []string{"qa", "code"} {
			if restored.SuccessRate(agent, tier) != p.SuccessRate(agent, tier) {
				t.Errorf("restored rate mismatch for %s/%s", agent, tier)
			}
		}
	}
}

func TestPerformanceTable_RestoreSkipsGarbage(t *testing.T) {
	p := NewPerformanceTable()
	p.Restore(map[string]float64{
		"no-separator": 0.9,
		"code/opus":    0.9, // unknown tier
		"code/heavy":   1.5, // out of range
		"qa/standard":  0.8,
	})

	if got := p.SuccessRate("qa", models.TierStandard); got != 0.8 {
		t.Errorf("valid entry not restored: %f", got)
	}
	if got := p.SuccessRate("code", models.TierHeavy); got != 0.5 {
		t.Errorf("invalid entries should be skipped, got %f", got)
	}
}
