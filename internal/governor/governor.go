// Package governor owns the active usage window and applies zone-based
// override policy on top of the economic router's recommendations.
package governor

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/tbracken/stratum/internal/budget"
	"github.com/tbracken/stratum/internal/router"
	"github.com/tbracken/stratum/pkg/models"
)

// Store persists windows and their history. Implementations must be safe
// for use from a single governor goroutine at a time; the governor
// serializes all calls under its own mutex.
type Store interface {
	// SaveWindow upserts the active window.
	SaveWindow(w *budget.UsageWindow) error
	// ArchiveWindow records a rotated window into bounded history.
	ArchiveWindow(w *budget.UsageWindow) error
	// LoadActiveWindow returns the persisted active window, or nil when
	// none exists.
	LoadActiveWindow() (*budget.UsageWindow, error)
	// LoadWindowHistory returns archived windows, newest first.
	LoadWindowHistory(limit int) ([]*budget.UsageWindow, error)
	// SaveThrottleOverride persists a manual throttle across restarts.
	SaveThrottleOverride(reason string) error
	// ClearThrottleOverride removes a persisted manual throttle.
	ClearThrottleOverride() error
	// LoadThrottleOverride reports a persisted manual throttle and its
	// reason.
	LoadThrottleOverride() (bool, string, error)
}

// Config holds the governor's collaborators and policy knobs.
type Config struct {
	// Limits parameterizes new windows.
	Limits budget.Limits
	// Router provides tier recommendations. Required.
	Router *router.Router
	// Store persists window state. Optional; nil keeps state in memory.
	Store Store
	// StrictPersistence makes store failures hard errors. When false the
	// governor degrades to from-empty/in-memory behavior, which can
	// under-count usage.
	StrictPersistence bool
	// Clock overrides time.Now for tests.
	Clock func() time.Time
}

// Governor is the single writer for the active usage window. All
// allocation decisions and usage recording are serialized through it.
type Governor struct {
	mu      sync.Mutex
	limits  budget.Limits
	router  *router.Router
	store   Store
	strict  bool
	clock   func() time.Time
	window  *budget.UsageWindow
	history []*budget.UsageWindow

	forcedThrottle bool
	throttleReason string
}

// New creates a Governor, restoring the active window from the store when
// one is present and still valid.
func New(cfg Config) (*Governor, error) {
	if cfg.Router == nil {
		return nil, fmt.Errorf("governor: router is required")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	g := &Governor{
		limits: cfg.Limits,
		router: cfg.Router,
		store:  cfg.Store,
		strict: cfg.StrictPersistence,
		clock:  clock,
	}

	if cfg.Store != nil {
		w, err := cfg.Store.LoadActiveWindow()
		if err != nil {
			if cfg.StrictPersistence {
				return nil, fmt.Errorf("load active window: %w", err)
			}
			log.Warn().Err(err).Msg("governor: window restore failed, starting from empty state")
		} else if w != nil {
			w.SetLimits(cfg.Limits)
			g.window = w
		}

		history, err := cfg.Store.LoadWindowHistory(g.historySize())
		if err != nil {
			if cfg.StrictPersistence {
				return nil, fmt.Errorf("load window history: %w", err)
			}
			log.Warn().Err(err).Msg("governor: history restore failed")
		} else {
			for _, h := range history {
				h.SetLimits(cfg.Limits)
			}
			g.history = history
		}

		forced, reason, err := cfg.Store.LoadThrottleOverride()
		if err != nil {
			if cfg.StrictPersistence {
				return nil, fmt.Errorf("load throttle override: %w", err)
			}
			log.Warn().Err(err).Msg("governor: throttle override restore failed")
		} else if forced {
			g.forcedThrottle = true
			g.throttleReason = reason
		}
	}

	if g.window == nil {
		g.window = budget.NewWindow(clock(), cfg.Limits)
		if err := g.persistWindow(); err != nil {
			return nil, err
		}
	}

	return g, nil
}

func (g *Governor) historySize() int {
	if g.limits.HistorySize > 0 {
		return g.limits.HistorySize
	}
	return budget.DefaultHistorySize
}

// RequestResources evaluates one allocation request. Denial is a modeled
// outcome; the error return is reserved for malformed requests and
// backing-store failures in strict mode.
func (g *Governor) RequestResources(req *models.TaskResourceRequest) (*models.ResourceAllocation, error) {
	req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.clock()
	if err := g.rotateIfExpiredLocked(now); err != nil {
		return nil, err
	}

	status := g.statusLocked()
	rec := g.router.RecommendModel(req, status)

	usagePct := g.window.UsagePercentage()
	zone := zoneFor(usagePct, g.window.RemainingBudget(), g.limits.ThrottleThreshold*100)
	if g.forcedThrottle && zone == ZoneNormal {
		zone = ZoneThrottle
	}

	alloc := &models.ResourceAllocation{
		TaskID:          req.TaskID,
		WindowID:        g.window.ID,
		ComplexityScore: rec.ComplexityScore,
	}

	switch zone {
	case ZoneExhausted:
		wait := g.window.EndTime.Sub(now)
		if wait < 0 {
			wait = 0
		}
		end := g.window.EndTime
		alloc.DecisionReason = fmt.Sprintf(
			"window budget exhausted; next window starts at %s", end.Format(time.RFC3339))
		alloc.AlternativeSuggestion = "wait for the next window"
		alloc.ScheduledTime = &end
		alloc.EstimatedWaitSeconds = int64(wait.Seconds())

	case ZoneCritical:
		if req.Priority >= criticalMinPriority {
			g.grantLocked(alloc, req, models.TierStandard,
				fmt.Sprintf("critical zone (%.1f%% used): priority %d grant forced to standard tier",
					usagePct, req.Priority), rec.Confidence)
		} else {
			alloc.DecisionReason = fmt.Sprintf(
				"critical zone (%.1f%% used): priority %d below %d", usagePct, req.Priority, criticalMinPriority)
			alloc.AlternativeSuggestion = fmt.Sprintf(
				"raise priority to %d or wait for the next window", criticalMinPriority)
			alloc.EstimatedWaitSeconds = int64(g.window.EndTime.Sub(now).Seconds())
		}

	case ZoneThrottle:
		if !req.RequiresHeavyTier {
			reason := fmt.Sprintf("throttle zone (%.1f%% used): standard tier for cost containment", usagePct)
			if g.forcedThrottle {
				reason = fmt.Sprintf("throttle forced (%s): standard tier for cost containment", g.throttleReason)
			}
			g.grantLocked(alloc, req, models.TierStandard, reason, rec.Confidence)
		} else {
			end := g.window.EndTime
			alloc.DecisionReason = fmt.Sprintf(
				"throttle zone (%.1f%% used): heavy-tier requirement deferred to next window", usagePct)
			alloc.AlternativeSuggestion = "drop the heavy-tier requirement or wait"
			alloc.ScheduledTime = &end
			alloc.EstimatedWaitSeconds = int64(end.Sub(now).Seconds())
		}

	default:
		g.grantLocked(alloc, req, rec.Tier, rec.Reasoning, rec.Confidence)
	}

	if alloc.Allocated {
		if err := g.persistWindow(); err != nil {
			return nil, err
		}
	}

	log.Info().
		Str("task_id", req.TaskID).
		Str("zone", zone.String()).
		Bool("allocated", alloc.Allocated).
		Str("tier", string(alloc.AllocatedModel)).
		Float64("usage_pct", usagePct).
		Msg("governor: allocation decision")

	return alloc, nil
}

// grantLocked fills a granted allocation and immediately charges the
// estimated figures against the window. Callers reconcile later through
// RecordUsage with actuals only, never re-reporting the estimate.
func (g *Governor) grantLocked(alloc *models.ResourceAllocation, req *models.TaskResourceRequest, tier models.Tier, reason string, confidence float64) {
	alloc.Allocated = true
	alloc.AllocatedModel = tier
	alloc.DecisionReason = reason
	alloc.Confidence = confidence
	alloc.EstimatedCostUnits = g.costUnits(tier, req.EstimatedMessages)

	g.window.UpdateUsage(tier, req.EstimatedMessages, req.EstimatedInputTokens, req.EstimatedOutputTokens)
}

func (g *Governor) costUnits(tier models.Tier, messages int) float64 {
	limits := g.window.Limits()
	if tier == models.TierHeavy {
		return float64(messages) * limits.HeavyCostMultiplier
	}
	return float64(messages) * limits.StandardCostMultiplier
}

// RecordUsage charges usage to the active window. Grants already charge
// their estimates, so callers must report only the delta between actual
// and estimated figures to avoid double-counting.
func (g *Governor) RecordUsage(tier models.Tier, messages, inputTokens, outputTokens int) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.window.UpdateUsage(tier, messages, inputTokens, outputTokens)
	return g.persistWindow()
}

// RecordOutcome forwards an execution outcome to the router's performance
// table so future tier recommendations reflect observed success rates.
func (g *Governor) RecordOutcome(agentType string, tierUsed models.Tier, success bool, complexityScore float64) {
	g.router.RecordOutcome(agentType, tierUsed, success, complexityScore)
}

// BudgetStatus returns a snapshot of budget state.
func (g *Governor) BudgetStatus() *budget.Status {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.statusLocked()
}

// statusLocked builds the derived status. Caller holds g.mu.
func (g *Governor) statusLocked() *budget.Status {
	usagePct := g.window.UsagePercentage()
	throttling := g.forcedThrottle || g.window.ShouldThrottle()

	reason := g.throttleReason
	if throttling && reason == "" {
		reason = fmt.Sprintf("usage at %.1f%% of window budget", usagePct)
	}
	if !throttling {
		reason = ""
	}

	// Same-day history only.
	today := g.clock().UTC().Truncate(24 * time.Hour)
	var previous []*budget.UsageWindow
	for _, w := range g.history {
		if !w.StartTime.UTC().Truncate(24 * time.Hour).Equal(today) {
			continue
		}
		previous = append(previous, w.Clone())
	}

	return &budget.Status{
		CurrentWindow:   g.window.Clone(),
		IsThrottling:    throttling,
		ThrottleReason:  reason,
		Health:          budget.HealthFor(usagePct),
		PreviousWindows: previous,
	}
}

// ForceThrottle enables throttling regardless of usage percentage.
func (g *Governor) ForceThrottle(reason string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.forcedThrottle = true
	g.throttleReason = reason
	if g.store != nil {
		if err := g.store.SaveThrottleOverride(reason); err != nil {
			log.Warn().Err(err).Msg("governor: throttle override not persisted")
		}
	}
	log.Warn().Str("reason", reason).Msg("governor: throttle forced")
}

// ClearThrottle removes a manual throttle override.
func (g *Governor) ClearThrottle() {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.forcedThrottle = false
	g.throttleReason = ""
	if g.store != nil {
		if err := g.store.ClearThrottleOverride(); err != nil {
			log.Warn().Err(err).Msg("governor: throttle override not cleared in store")
		}
	}
	log.Info().Msg("governor: manual throttle cleared")
}

// ForceRotate archives the current window and starts a fresh one now.
func (g *Governor) ForceRotate() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.rotateLocked(g.clock())
}

// rotateIfExpiredLocked rotates when the window has passed its end time.
func (g *Governor) rotateIfExpiredLocked(now time.Time) error {
	if !g.window.Expired(now) {
		return nil
	}
	return g.rotateLocked(now)
}

// rotateLocked archives the active window and creates its successor.
func (g *Governor) rotateLocked(now time.Time) error {
	old := g.window
	old.Archive()

	g.history = append([]*budget.UsageWindow{old}, g.history...)
	if size := g.historySize(); len(g.history) > size {
		g.history = g.history[:size]
	}

	g.window = budget.NewWindow(now, g.limits)

	log.Info().
		Str("archived", old.ID).
		Str("window", g.window.ID).
		Int("archived_messages", old.TotalMessages).
		Msg("governor: window rotated")

	if g.store != nil {
		if err := g.store.ArchiveWindow(old); err != nil {
			if g.strict {
				return fmt.Errorf("archive window: %w", err)
			}
			log.Warn().Err(err).Msg("governor: archive persist failed")
		}
	}
	return g.persistWindow()
}

// persistWindow writes the active window through to the store.
func (g *Governor) persistWindow() error {
	if g.store == nil {
		return nil
	}
	if err := g.store.SaveWindow(g.window); err != nil {
		if g.strict {
			return fmt.Errorf("save window: %w", err)
		}
		log.Warn().Err(err).Msg("governor: window persist failed")
	}
	return nil
}
