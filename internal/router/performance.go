// Package router scores task complexity against budget state and picks a
// model tier. It owns the per-agent-type performance history table.
package router

import (
	"sync"

	"github.com/tbracken/stratum/pkg/models"
)

// emaAlpha is the smoothing factor for the success-rate moving average.
const emaAlpha = 0.2

// defaultSuccessRate is assumed for agent_type/tier pairs with no history.
const defaultSuccessRate = 0.5

// perfKey identifies one agent_type x tier cell of the table.
type perfKey struct {
	agentType string
	tier      models.Tier
}

// PerformanceTable tracks an exponential moving average of task success
// per agent type and tier. Reads are frequent and never block behind a
// write in progress; writes happen once per completed task.
type PerformanceTable struct {
	mu    sync.RWMutex
	rates map[perfKey]float64
}

// NewPerformanceTable creates an empty performance table.
func NewPerformanceTable() *PerformanceTable {
	return &PerformanceTable{rates: make(map[perfKey]float64)}
}

// SuccessRate returns the smoothed success rate for the pair, or the
// default 0.5 when no outcome has been recorded.
func (p *PerformanceTable) SuccessRate(agentType string, tier models.Tier) float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if rate, ok := p.rates[perfKey{agentType, tier}]; ok {
		return rate
	}
	return defaultSuccessRate
}

// Record folds one outcome into the moving average.
func (p *PerformanceTable) Record(agentType string, tier models.Tier, success bool) {
	outcome := 0.0
	if success {
		outcome = 1.0
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	key := perfKey{agentType, tier}
	prev, ok := p.rates[key]
	if !ok {
		prev = defaultSuccessRate
	}
	p.rates[key] = prev + emaAlpha*(outcome-prev)
}

// Snapshot returns a copy of the table keyed by "agentType/tier" for
// persistence.
func (p *PerformanceTable) Snapshot() map[string]float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make(map[string]float64, len(p.rates))
	for k, v := range p.rates {
		out[k.agentType+"/"+string(k.tier)] = v
	}
	return out
}

// Restore merges persisted rates into the table. Unparseable keys are
// skipped.
func (p *PerformanceTable) Restore(rates map[string]float64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for k, v := range rates {
		for i := len(k) - 1; i >= 0; i-- {
			if k[i] == '/' {
				tier := models.Tier(k[i+1:])
				if tier.Valid() && v >= 0 && v <= 1 {
					p.rates[perfKey{k[:i], tier}] = v
				}
				break
			}
		}
	}
}
