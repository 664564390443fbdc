package cache

import (
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
)

// semanticCache is the L3 layer: payloads keyed by task type and matched
// by cosine similarity over stored embeddings. The lookup is a linear
// scan per task type; entry counts here are expected to stay small
// enough that an index would be overkill.
type semanticCache struct {
	mu      sync.Mutex
	entries map[string][]*Entry // keyed by task type
	metrics LayerMetrics

	similaritySum float64
	clock         func() time.Time

	persist func(*Entry)
	remove  func(taskType, entryID string)
}

func newSemanticCache(clock func() time.Time) *semanticCache {
	return &semanticCache{
		entries: make(map[string][]*Entry),
		clock:   clock,
	}
}

// lookup scans the task type's entries for the highest cosine similarity
// to vec. A hit requires similarity >= threshold; the similarity doubles
// as the confidence score. Expired entries are purged as encountered.
func (c *semanticCache) lookup(taskType string, vec []float64, threshold float64) (*Entry, float64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.metrics.TotalLookups++
	now := c.clock()

	var (
		best    *Entry
		bestSim float64
	)
	live := c.entries[taskType][:0]
	for _, e := range c.entries[taskType] {
		if e.Expired(now) {
			if c.remove != nil {
				c.remove(e.TaskType, e.EntryID)
			}
			continue
		}
		live = append(live, e)
		if sim := cosineSimilarity(vec, e.Embedding); best == nil || sim > bestSim {
			best = e
			bestSim = sim
		}
	}
	if len(live) == 0 {
		delete(c.entries, taskType)
	} else {
		c.entries[taskType] = live
	}

	if best == nil || bestSim < threshold-similarityEpsilon {
		return nil, 0, false
	}

	best.touch(now)
	// Running average over this entry's hits, then over the layer's.
	best.AvgSimilarityOnHit += (bestSim - best.AvgSimilarityOnHit) / float64(best.AccessCount)
	c.metrics.TotalHits++
	c.similaritySum += bestSim
	c.metrics.AvgSimilarityOnHit = c.similaritySum / float64(c.metrics.TotalHits)
	if c.persist != nil {
		c.persist(best)
	}
	return best, bestSim, true
}

// store appends a payload with its embedding under the task type.
func (c *semanticCache) store(taskType, payload, modelUsed string, vec []float64, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e := &Entry{
		EntryID:        uuid.New().String(),
		CreatedAt:      c.clock(),
		TTLSeconds:     int64(ttl.Seconds()),
		TaskType:       taskType,
		ModelUsed:      modelUsed,
		CachedResponse: payload,
		Embedding:      append([]float64(nil), vec...),
	}
	c.entries[taskType] = append(c.entries[taskType], e)
	if c.persist != nil {
		c.persist(e)
	}
}

// invalidate drops entries, all of them when taskType is empty.
func (c *semanticCache) invalidate(taskType string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for tt, entries := range c.entries {
		if taskType != "" && tt != taskType {
			continue
		}
		for _, e := range entries {
			if c.remove != nil {
				c.remove(e.TaskType, e.EntryID)
			}
			n++
		}
		delete(c.entries, tt)
	}
	return n
}

func (c *semanticCache) snapshot() LayerMetrics {
	c.mu.Lock()
	defer c.mu.Unlock()
	m := c.metrics
	for _, entries := range c.entries {
		m.Entries += len(entries)
	}
	return m
}

func (c *semanticCache) restore(entries []*Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.clock()
	for _, e := range entries {
		if len(e.Embedding) == 0 || e.Expired(now) {
			continue
		}
		c.entries[e.TaskType] = append(c.entries[e.TaskType], e)
	}
}

// cosineSimilarity returns the cosine of the angle between a and b.
// Mismatched dimensions or zero vectors yield 0.
// similarityEpsilon absorbs float rounding in cosineSimilarity so an
// identical embedding still matches at a threshold of exactly 1.0.
const similarityEpsilon = 1e-9

func cosineSimilarity(a, b []float64) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	sim := dot / (math.Sqrt(normA) * math.Sqrt(normB))
	// Rounding can push the ratio past the mathematical bounds.
	return math.Max(-1, math.Min(1, sim))
}
