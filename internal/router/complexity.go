package router

import (
	"strings"

	"github.com/tbracken/stratum/pkg/models"
)

// ComplexityLevel buckets a numeric complexity score for display.
type ComplexityLevel string

const (
	ComplexitySimple   ComplexityLevel = "simple"
	ComplexityModerate ComplexityLevel = "moderate"
	ComplexityComplex  ComplexityLevel = "complex"
	ComplexityCritical ComplexityLevel = "critical"
)

// defaultBaseWeight is used when an agent type is not in the table.
const defaultBaseWeight = 5.0

// agentBaseWeights maps agent types to a 1-10 base complexity weight.
var agentBaseWeights = map[string]float64{
	"prd":           7,
	"architecture":  8,
	"code":          7,
	"code_review":   6,
	"qa":            5,
	"test":          5,
	"content":       4,
	"copywriting":   3,
	"research":      6,
	"data_analysis": 6,
	"translation":   2,
	"summarize":     2,
	"classify":      2,
}

// heavyKeywords in a task description nudge the complexity score up.
var heavyKeywords = []string{
	"architecture",
	"refactor",
	"migration",
	"security",
	"concurrency",
	"distributed",
	"optimize",
	"design",
	"integration",
}

// lightKeywords nudge the complexity score down.
var lightKeywords = []string{
	"typo",
	"rename",
	"formatting",
	"comment",
	"readme",
	"lookup",
	"simple",
	"summary",
}

// Blend weights for the complexity score. When no free text is available
// the keyword share is redistributed across the remaining terms.
const (
	weightBase    = 0.4
	weightEffort  = 0.3
	weightKeyword = 0.2
	weightPrio    = 0.1
)

// AnalyzeComplexity scores a request on a 1-10 scale and buckets it.
// The keyword term is best-effort: it only participates when the request
// carries a description.
func AnalyzeComplexity(req *models.TaskResourceRequest) (float64, ComplexityLevel) {
	base := baseWeight(req.AgentType)
	effort := effortScore(req.EstimatedMessages)
	prio := float64(req.Priority)

	var score float64
	if strings.TrimSpace(req.Description) == "" {
		// Redistribute the keyword share proportionally.
		total := weightBase + weightEffort + weightPrio
		score = (weightBase*base + weightEffort*effort + weightPrio*prio) / total
	} else {
		kw := keywordScore(req.Description)
		score = weightBase*base + weightEffort*effort + weightKeyword*kw + weightPrio*prio
	}

	score = clamp(score, 1, 10)
	return score, levelFor(score)
}

func baseWeight(agentType string) float64 {
	if w, ok := agentBaseWeights[strings.ToLower(agentType)]; ok {
		return w
	}
	return defaultBaseWeight
}

// effortScore maps the estimated message count to a 0-10 bucket score.
func effortScore(messages int) float64 {
	switch {
	case messages <= 5:
		return 2
	case messages <= 20:
		return 5
	case messages <= 50:
		return 7.5
	default:
		return 9.5
	}
}

// keywordScore starts neutral and moves with each keyword hit.
func keywordScore(description string) float64 {
	lower := strings.ToLower(description)
	score := 5.0
	for _, kw := range heavyKeywords {
		if strings.Contains(lower, kw) {
			score += 1.5
		}
	}
	for _, kw := range lightKeywords {
		if strings.Contains(lower, kw) {
			score -= 1.5
		}
	}
	return clamp(score, 0, 10)
}

func levelFor(score float64) ComplexityLevel {
	switch {
	case score <= 3:
		return ComplexitySimple
	case score <= 6:
		return ComplexityModerate
	case score <= 8:
		return ComplexityComplex
	default:
		return ComplexityCritical
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
