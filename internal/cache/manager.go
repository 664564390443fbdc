package cache

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	// DefaultSimilarityThreshold is the L3 cosine-similarity floor.
	DefaultSimilarityThreshold = 0.85
	// DefaultMinPrefixTokens is the smallest prefix worth an L1 marker.
	DefaultMinPrefixTokens = 128
	// DefaultL1TTL bounds prefix warm markers.
	DefaultL1TTL = 5 * time.Minute
	// DefaultL2TTL bounds exact-match entries.
	DefaultL2TTL = time.Hour
	// DefaultL3TTL bounds semantic entries.
	DefaultL3TTL = 24 * time.Hour
	// DefaultMaxTTL caps caller-supplied TTL overrides.
	DefaultMaxTTL = 7 * 24 * time.Hour
	// DefaultCostPerToken prices estimated savings.
	DefaultCostPerToken = 0.000003
)

// ErrMissingTaskType is returned for lookups and stores without a task type.
var ErrMissingTaskType = errors.New("cache request missing task_type")

// EmbedFunc produces a fixed-dimension embedding for a text. The manager
// is agnostic to the model behind it; vectors need only be comparable by
// cosine similarity.
type EmbedFunc func(text string) ([]float64, error)

// EntryStore persists cache entries. Implementations must tolerate
// concurrent calls. *store.Store satisfies it.
type EntryStore interface {
	SaveCacheEntry(layer string, e *Entry) error
	DeleteCacheEntry(layer, taskType, entryID string) error
	LoadCacheEntries(layer string) ([]*Entry, error)
}

// Config carries the manager's collaborators and tuning knobs.
type Config struct {
	// Embed enables L3. When nil the semantic layer never matches.
	Embed EmbedFunc
	// Tokens estimates token counts; defaults to the cl100k_base
	// encoding with a chars/4 fallback.
	Tokens TokenCounter
	// Store, when non-nil, persists entries write-through and restores
	// them at construction.
	Store EntryStore
	// StrictPersistence makes store failures fatal. When false the
	// manager degrades to memory-only with a warning.
	StrictPersistence bool

	// SimilarityThreshold overrides DefaultSimilarityThreshold.
	SimilarityThreshold float64
	// MinPrefixTokens overrides DefaultMinPrefixTokens.
	MinPrefixTokens int
	// L1TTL, L2TTL, L3TTL override the per-layer defaults.
	L1TTL time.Duration
	L2TTL time.Duration
	L3TTL time.Duration
	// MaxTTL caps TTL overrides, defaulting to DefaultMaxTTL.
	MaxTTL time.Duration
	// CostPerToken prices savings, defaulting to DefaultCostPerToken.
	CostPerToken float64
	// Clock overrides time.Now, for tests.
	Clock func() time.Time
}

// Manager orchestrates the L1/L2/L3 waterfall.
type Manager struct {
	l1 *prefixCache
	l2 *exactCache
	l3 *semanticCache

	embed       EmbedFunc
	countTokens TokenCounter
	store       EntryStore
	strict      bool

	threshold    float64
	l1TTL        time.Duration
	l2TTL        time.Duration
	l3TTL        time.Duration
	maxTTL       time.Duration
	costPerToken float64

	tokensSaved atomic.Int64
}

// NewManager builds a Manager from cfg, restoring persisted entries when
// a store is configured.
func NewManager(cfg Config) (*Manager, error) {
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	counter := cfg.Tokens
	if counter == nil {
		counter = defaultTokenCounter()
	}

	m := &Manager{
		embed:        cfg.Embed,
		countTokens:  counter,
		store:        cfg.Store,
		strict:       cfg.StrictPersistence,
		threshold:    cfg.SimilarityThreshold,
		l1TTL:        cfg.L1TTL,
		l2TTL:        cfg.L2TTL,
		l3TTL:        cfg.L3TTL,
		maxTTL:       cfg.MaxTTL,
		costPerToken: cfg.CostPerToken,
	}
	if m.threshold <= 0 || m.threshold > 1 {
		m.threshold = DefaultSimilarityThreshold
	}
	if m.l1TTL <= 0 {
		m.l1TTL = DefaultL1TTL
	}
	if m.l2TTL <= 0 {
		m.l2TTL = DefaultL2TTL
	}
	if m.l3TTL <= 0 {
		m.l3TTL = DefaultL3TTL
	}
	if m.maxTTL <= 0 {
		m.maxTTL = DefaultMaxTTL
	}
	if m.costPerToken <= 0 {
		m.costPerToken = DefaultCostPerToken
	}
	minPrefix := cfg.MinPrefixTokens
	if minPrefix <= 0 {
		minPrefix = DefaultMinPrefixTokens
	}

	m.l1 = newPrefixCache(minPrefix, counter, clock)
	m.l2 = newExactCache(clock)
	m.l3 = newSemanticCache(clock)

	if m.store != nil {
		m.l1.persist = m.persistFunc(LayerL1)
		m.l1.remove = m.removeFunc(LayerL1)
		m.l2.persist = m.persistFunc(LayerL2)
		m.l2.remove = m.removeFunc(LayerL2)
		m.l3.persist = m.persistFunc(LayerL3)
		m.l3.remove = m.removeFunc(LayerL3)
		if err := m.restore(); err != nil {
			if m.strict {
				return nil, fmt.Errorf("restoring cache entries: %w", err)
			}
			log.Warn().Err(err).Msg("cache: restore failed, starting empty")
		}
	}

	return m, nil
}

func (m *Manager) restore() error {
	for _, layer := range []Layer{LayerL1, LayerL2, LayerL3} {
		entries, err := m.store.LoadCacheEntries(string(layer))
		if err != nil {
			return err
		}
		switch layer {
		case LayerL1:
			m.l1.restore(entries)
		case LayerL2:
			m.l2.restore(entries)
		case LayerL3:
			m.l3.restore(entries)
		}
	}
	return nil
}

func (m *Manager) persistFunc(layer Layer) func(*Entry) {
	return func(e *Entry) {
		if err := m.store.SaveCacheEntry(string(layer), e); err != nil {
			log.Warn().Err(err).Str("layer", string(layer)).Msg("cache: persist failed")
		}
	}
}

func (m *Manager) removeFunc(layer Layer) func(taskType, entryID string) {
	return func(taskType, entryID string) {
		if err := m.store.DeleteCacheEntry(string(layer), taskType, entryID); err != nil {
			log.Warn().Err(err).Str("layer", string(layer)).Msg("cache: delete failed")
		}
	}
}

// LookupRequest asks the waterfall for a cached response.
type LookupRequest struct {
	// InputText is the query text.
	InputText string `json:"input_text"`
	// TaskType scopes the lookup. Required.
	TaskType string `json:"task_type"`
	// PrefixText, when set, is checked against the L1 warm markers.
	PrefixText string `json:"prefix_text,omitempty"`
	// SimilarityThreshold overrides the configured L3 floor for this
	// call. Zero means use the configured value.
	SimilarityThreshold float64 `json:"similarity_threshold,omitempty"`
	// Layers restricts which layers participate. Nil means all.
	Layers []Layer `json:"layers,omitempty"`
}

// LookupResult is the waterfall's answer.
type LookupResult struct {
	// Hit reports whether a payload-bearing layer matched.
	Hit bool `json:"hit"`
	// Layer names the layer that produced the payload.
	Layer Layer `json:"layer,omitempty"`
	// Payload is the cached response.
	Payload string `json:"payload,omitempty"`
	// Confidence is 1.0 for exact matches and the similarity score for
	// semantic matches.
	Confidence float64 `json:"confidence,omitempty"`
	// PrefixWarm signals that the request's prefix has a live L1
	// marker, independent of whether a payload was found.
	PrefixWarm bool `json:"prefix_warm,omitempty"`
}

func layerEnabled(layers []Layer, l Layer) bool {
	if len(layers) == 0 {
		return true
	}
	for _, candidate := range layers {
		if candidate == l {
			return true
		}
	}
	return false
}

// Lookup walks the waterfall: L1 contributes a prefix-warm signal and
// always falls through; L2 short-circuits on an exact match; L3 scans by
// similarity. A miss is a normal result, never an error.
func (m *Manager) Lookup(req *LookupRequest) (*LookupResult, error) {
	if req.TaskType == "" {
		return nil, ErrMissingTaskType
	}

	res := &LookupResult{}

	if req.PrefixText != "" && layerEnabled(req.Layers, LayerL1) {
		res.PrefixWarm = m.l1.isWarm(req.PrefixText)
	}

	if layerEnabled(req.Layers, LayerL2) {
		if e, ok := m.l2.lookup(req.TaskType, req.InputText); ok {
			res.Hit = true
			res.Layer = LayerL2
			res.Payload = e.CachedResponse
			res.Confidence = 1.0
			m.recordSavings(e.CachedResponse)
			return res, nil
		}
	}

	if m.embed != nil && layerEnabled(req.Layers, LayerL3) {
		threshold := req.SimilarityThreshold
		if threshold <= 0 || threshold > 1 {
			threshold = m.threshold
		}
		vec, err := m.embed(req.InputText)
		if err != nil {
			log.Warn().Err(err).Str("task_type", req.TaskType).Msg("cache: embedding failed, skipping semantic layer")
			return res, nil
		}
		if e, sim, ok := m.l3.lookup(req.TaskType, vec, threshold); ok {
			res.Hit = true
			res.Layer = LayerL3
			res.Payload = e.CachedResponse
			res.Confidence = sim
			m.recordSavings(e.CachedResponse)
		}
	}

	return res, nil
}

func (m *Manager) recordSavings(payload string) {
	m.tokensSaved.Add(int64(m.countTokens(payload)))
}

// StoreRequest writes a response into the enabled layers.
type StoreRequest struct {
	// InputText keys L2 and feeds the L3 embedding.
	InputText string `json:"input_text"`
	// ResponsePayload is the opaque response to cache.
	ResponsePayload string `json:"response_payload"`
	// TaskType scopes the entry. Required.
	TaskType string `json:"task_type"`
	// ModelUsed records the producing tier/model.
	ModelUsed string `json:"model_used,omitempty"`
	// PrefixText, when set, is offered to L1 as a warm-marker candidate.
	PrefixText string `json:"prefix_text,omitempty"`
	// Layers restricts which layers are written. Nil means all.
	Layers []Layer `json:"layers,omitempty"`
	// L2TTLOverride and L3TTLOverride replace the configured TTLs,
	// capped at the configured maximum.
	L2TTLOverride time.Duration `json:"l2_ttl_override,omitempty"`
	L3TTLOverride time.Duration `json:"l3_ttl_override,omitempty"`
}

// StoreResult reports which layers were written.
type StoreResult struct {
	Stored bool    `json:"stored"`
	Layers []Layer `json:"layers,omitempty"`
}

// Store writes the response into each enabled layer independently. L1 is
// written only when the prefix clears the minimum-token threshold; L3
// only when an embedder is configured and succeeds.
func (m *Manager) Store(req *StoreRequest) (*StoreResult, error) {
	if req.TaskType == "" {
		return nil, ErrMissingTaskType
	}

	res := &StoreResult{}

	if req.PrefixText != "" && layerEnabled(req.Layers, LayerL1) {
		if m.l1.markWarm(req.PrefixText, req.TaskType, req.ModelUsed, m.l1TTL) {
			res.Layers = append(res.Layers, LayerL1)
		}
	}

	if layerEnabled(req.Layers, LayerL2) {
		m.l2.store(req.TaskType, req.InputText, req.ResponsePayload, req.ModelUsed, m.capTTL(req.L2TTLOverride, m.l2TTL))
		res.Layers = append(res.Layers, LayerL2)
	}

	if m.embed != nil && layerEnabled(req.Layers, LayerL3) {
		vec, err := m.embed(req.InputText)
		if err != nil {
			log.Warn().Err(err).Str("task_type", req.TaskType).Msg("cache: embedding failed, skipping semantic store")
		} else {
			m.l3.store(req.TaskType, req.ResponsePayload, req.ModelUsed, vec, m.capTTL(req.L3TTLOverride, m.l3TTL))
			res.Layers = append(res.Layers, LayerL3)
		}
	}

	res.Stored = len(res.Layers) > 0
	return res, nil
}

func (m *Manager) capTTL(override, fallback time.Duration) time.Duration {
	ttl := fallback
	if override > 0 {
		ttl = override
	}
	if ttl > m.maxTTL {
		ttl = m.maxTTL
	}
	return ttl
}

// InvalidateRequest scopes an invalidation.
type InvalidateRequest struct {
	// Layer restricts invalidation to one layer. Empty means all.
	Layer Layer `json:"layer,omitempty"`
	// TaskType restricts invalidation to one task type. Empty means all.
	TaskType string `json:"task_type,omitempty"`
}

// InvalidateResult reports what an invalidation removed.
type InvalidateResult struct {
	// Entries is the number of entries removed.
	Entries int `json:"entries"`
	// Layers lists the layers that lost at least one entry.
	Layers []Layer `json:"layers,omitempty"`
}

// Invalidate removes entries by layer and/or task type.
func (m *Manager) Invalidate(req *InvalidateRequest) (*InvalidateResult, error) {
	if req.Layer != "" && !req.Layer.Valid() {
		return nil, fmt.Errorf("unknown cache layer %q", req.Layer)
	}

	res := &InvalidateResult{}
	record := func(layer Layer, n int) {
		if n > 0 {
			res.Entries += n
			res.Layers = append(res.Layers, layer)
		}
	}

	if req.Layer == "" || req.Layer == LayerL1 {
		record(LayerL1, m.l1.invalidate(req.TaskType))
	}
	if req.Layer == "" || req.Layer == LayerL2 {
		record(LayerL2, m.l2.invalidate(req.TaskType))
	}
	if req.Layer == "" || req.Layer == LayerL3 {
		record(LayerL3, m.l3.invalidate(req.TaskType))
	}

	log.Debug().
		Str("layer", string(req.Layer)).
		Str("task_type", req.TaskType).
		Int("entries", res.Entries).
		Msg("cache: invalidated")

	return res, nil
}

// Metrics aggregates the per-layer counters and prices the savings.
func (m *Manager) Metrics() *Metrics {
	out := &Metrics{
		L1:          m.l1.snapshot(),
		L2:          m.l2.snapshot(),
		L3:          m.l3.snapshot(),
		TokensSaved: m.tokensSaved.Load(),
	}
	out.TotalLookups = out.L1.TotalLookups + out.L2.TotalLookups + out.L3.TotalLookups
	out.TotalHits = out.L1.TotalHits + out.L2.TotalHits + out.L3.TotalHits
	if out.TotalLookups > 0 {
		out.OverallHitRate = float64(out.TotalHits) / float64(out.TotalLookups)
	}
	out.EstimatedSavings = float64(out.TokensSaved) * m.costPerToken
	return out
}
