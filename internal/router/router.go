package router

import (
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/tbracken/stratum/internal/budget"
	"github.com/tbracken/stratum/pkg/models"
)

// Decision-score thresholds for tier selection. The band between them is
// the hybrid zone, which defaults to the standard tier for cost efficiency.
const (
	heavyThreshold    = 6.5
	standardThreshold = 4.5
)

// hybridHeavyComplexity is the complexity floor at which the hybrid zone
// still picks the heavy tier (with reduced confidence) when the budget
// is not throttling.
const hybridHeavyComplexity = 7.0

// Recommendation is the router's tier pick for one request.
type Recommendation struct {
	// Tier is the recommended model tier.
	Tier models.Tier
	// Confidence is in [0,1].
	Confidence float64
	// Reasoning is a human-readable justification.
	Reasoning string
	// ComplexityScore is the 1-10 complexity estimate behind the pick.
	ComplexityScore float64
	// ComplexityLevel buckets the score.
	ComplexityLevel ComplexityLevel
}

// Router recommends a model tier by balancing task complexity, remaining
// budget, and historical tier performance. It is read-only with respect
// to budget state.
type Router struct {
	perf *PerformanceTable
}

// New creates a Router with its own performance table.
func New() *Router {
	return &Router{perf: NewPerformanceTable()}
}

// NewWithTable creates a Router around an existing performance table,
// typically one rehydrated from storage.
func NewWithTable(perf *PerformanceTable) *Router {
	if perf == nil {
		perf = NewPerformanceTable()
	}
	return &Router{perf: perf}
}

// Performance exposes the table for persistence snapshots.
func (r *Router) Performance() *PerformanceTable {
	return r.perf
}

// RecommendModel picks a tier for the request given current budget state.
// requires_heavy_tier short-circuits to the heavy tier at full confidence.
func (r *Router) RecommendModel(req *models.TaskResourceRequest, status *budget.Status) Recommendation {
	complexity, level := AnalyzeComplexity(req)

	if req.RequiresHeavyTier {
		return Recommendation{
			Tier:            models.TierHeavy,
			Confidence:      1.0,
			Reasoning:       "task declares a hard heavy-tier requirement",
			ComplexityScore: complexity,
			ComplexityLevel: level,
		}
	}

	usagePct := 0.0
	throttling := false
	if status != nil {
		if status.CurrentWindow != nil {
			usagePct = status.CurrentWindow.UsagePercentage()
		}
		throttling = status.IsThrottling
	}

	// Abundant budget scores high and is permissive toward the heavy tier.
	budgetFactor := (100 - usagePct) / 10
	perfFactor := r.perf.SuccessRate(req.AgentType, models.TierHeavy) * 10

	score := 0.4*complexity + 0.3*budgetFactor + 0.2*perfFactor + 0.1*float64(req.Priority)

	rec := Recommendation{ComplexityScore: complexity, ComplexityLevel: level}
	switch {
	case score >= heavyThreshold:
		rec.Tier = models.TierHeavy
		rec.Confidence = clamp(0.7+(score-heavyThreshold)*0.08, 0, 0.95)
		rec.Reasoning = fmt.Sprintf(
			"decision score %.2f >= %.1f (complexity %.1f/%s, budget %.1f, perf %.1f): heavy tier",
			score, heavyThreshold, complexity, level, budgetFactor, perfFactor)
	case score <= standardThreshold:
		rec.Tier = models.TierStandard
		rec.Confidence = clamp(0.7+(standardThreshold-score)*0.08, 0, 0.95)
		rec.Reasoning = fmt.Sprintf(
			"decision score %.2f <= %.1f (complexity %.1f/%s): standard tier",
			score, standardThreshold, complexity, level)
	case complexity >= hybridHeavyComplexity && !throttling:
		rec.Tier = models.TierHeavy
		rec.Confidence = 0.6
		rec.Reasoning = fmt.Sprintf(
			"hybrid zone (score %.2f) but complexity %.1f warrants heavy tier while budget allows",
			score, complexity)
	default:
		rec.Tier = models.TierStandard
		rec.Confidence = 0.7
		rec.Reasoning = fmt.Sprintf(
			"hybrid zone (score %.2f): defaulting to standard tier for cost efficiency", score)
	}

	log.Debug().
		Str("task_id", req.TaskID).
		Str("agent_type", req.AgentType).
		Float64("complexity", complexity).
		Float64("decision_score", score).
		Str("tier", string(rec.Tier)).
		Float64("confidence", rec.Confidence).
		Msg("router: tier recommendation")

	return rec
}

// RecordOutcome folds a task result into the performance table. This is
// the router's only learning mechanism.
func (r *Router) RecordOutcome(agentType string, tierUsed models.Tier, success bool, complexityScore float64) {
	r.perf.Record(agentType, tierUsed, success)

	log.Debug().
		Str("agent_type", agentType).
		Str("tier", string(tierUsed)).
		Bool("success", success).
		Float64("complexity", complexityScore).
		Float64("ema", r.perf.SuccessRate(agentType, tierUsed)).
		Msg("router: outcome recorded")
}
