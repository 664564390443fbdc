package cache

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// prefixCache is the L1 layer: it remembers which prompt prefixes are
// warm. It never holds a response payload; a hit only signals that
// prefix-level cost can be reduced, and lookups always fall through to
// the payload-bearing layers.
type prefixCache struct {
	mu      sync.Mutex
	entries map[string]*Entry // keyed by prefix hash
	metrics LayerMetrics

	minPrefixTokens int
	countTokens     TokenCounter
	clock           func() time.Time

	persist func(*Entry)
	remove  func(taskType, entryID string)
}

func newPrefixCache(minPrefixTokens int, countTokens TokenCounter, clock func() time.Time) *prefixCache {
	return &prefixCache{
		entries:         make(map[string]*Entry),
		minPrefixTokens: minPrefixTokens,
		countTokens:     countTokens,
		clock:           clock,
	}
}

// isWarm reports whether the prefix has a live warm marker, lazily
// purging an expired one.
func (c *prefixCache) isWarm(prefixText string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.metrics.TotalLookups++
	key := hashText(prefixText)
	e, ok := c.entries[key]
	if !ok {
		return false
	}
	now := c.clock()
	if e.Expired(now) {
		delete(c.entries, key)
		if c.remove != nil {
			c.remove(e.TaskType, e.EntryID)
		}
		return false
	}
	e.touch(now)
	c.metrics.TotalHits++
	return true
}

// markWarm stores a warm marker for the prefix. Prefixes below the
// minimum token threshold are not worth caching and are skipped.
func (c *prefixCache) markWarm(prefixText, taskType, modelUsed string, ttl time.Duration) bool {
	if c.countTokens(prefixText) < c.minPrefixTokens {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	key := hashText(prefixText)
	e := &Entry{
		EntryID:    uuid.New().String(),
		CreatedAt:  c.clock(),
		TTLSeconds: int64(ttl.Seconds()),
		TaskType:   taskType,
		ModelUsed:  modelUsed,
		PrefixHash: key,
	}
	c.entries[key] = e
	if c.persist != nil {
		c.persist(e)
	}
	return true
}

// invalidate drops entries, all of them when taskType is empty.
func (c *prefixCache) invalidate(taskType string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for key, e := range c.entries {
		if taskType != "" && e.TaskType != taskType {
			continue
		}
		delete(c.entries, key)
		if c.remove != nil {
			c.remove(e.TaskType, e.EntryID)
		}
		n++
	}
	return n
}

func (c *prefixCache) snapshot() LayerMetrics {
	c.mu.Lock()
	defer c.mu.Unlock()
	m := c.metrics
	m.Entries = len(c.entries)
	return m
}

func (c *prefixCache) restore(entries []*Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.clock()
	for _, e := range entries {
		if e.PrefixHash == "" || e.Expired(now) {
			continue
		}
		c.entries[e.PrefixHash] = e
	}
}
