package cache

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// exactCache is the L2 layer: full payloads keyed by (task_type,
// hash(input_text)). A hit is definitive with confidence 1.0.
type exactCache struct {
	mu      sync.Mutex
	entries map[string]*Entry // keyed by taskType + ":" + input hash
	metrics LayerMetrics

	clock func() time.Time

	persist func(*Entry)
	remove  func(taskType, entryID string)
}

func newExactCache(clock func() time.Time) *exactCache {
	return &exactCache{
		entries: make(map[string]*Entry),
		clock:   clock,
	}
}

func exactKey(taskType, inputHash string) string {
	return taskType + ":" + inputHash
}

// lookup returns the live entry for (taskType, inputText), lazily
// purging an expired one.
func (c *exactCache) lookup(taskType, inputText string) (*Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.metrics.TotalLookups++
	key := exactKey(taskType, hashText(inputText))
	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	now := c.clock()
	if e.Expired(now) {
		delete(c.entries, key)
		if c.remove != nil {
			c.remove(e.TaskType, e.EntryID)
		}
		return nil, false
	}
	e.touch(now)
	c.metrics.TotalHits++
	return e, true
}

// store writes (or overwrites) the payload for (taskType, inputText).
func (c *exactCache) store(taskType, inputText, payload, modelUsed string, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	inputHash := hashText(inputText)
	e := &Entry{
		EntryID:        uuid.New().String(),
		CreatedAt:      c.clock(),
		TTLSeconds:     int64(ttl.Seconds()),
		TaskType:       taskType,
		ModelUsed:      modelUsed,
		CachedResponse: payload,
		InputHash:      inputHash,
	}
	c.entries[exactKey(taskType, inputHash)] = e
	if c.persist != nil {
		c.persist(e)
	}
}

// invalidate drops entries, all of them when taskType is empty.
func (c *exactCache) invalidate(taskType string) int {
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

func (c *exactCache) snapshot() LayerMetrics {
	c.mu.Lock()
	defer c.mu.Unlock()
	m := c.metrics
	m.Entries = len(c.entries)
	return m
}

func (c *exactCache) restore(entries []*Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.clock()
	for _, e := range entries {
		if e.InputHash == "" || e.Expired(now) {
			continue
		}
		c.entries[exactKey(e.TaskType, e.InputHash)] = e
	}
}
