// Package cache implements the three-layer response cache: L1 prefix
// warm markers, L2 exact-match entries, and L3 semantic-similarity
// entries, orchestrated behind one Lookup/Store/Invalidate surface.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// Layer identifies one of the three cache layers.
type Layer string

const (
	// LayerL1 is the prompt-prefix warm-marker cache.
	LayerL1 Layer = "l1"
	// LayerL2 is the exact input-match cache.
	LayerL2 Layer = "l2"
	// LayerL3 is the semantic-similarity cache.
	LayerL3 Layer = "l3"
)

// Valid returns true if the layer is a known value.
func (l Layer) Valid() bool {
	switch l {
	case LayerL1, LayerL2, LayerL3:
		return true
	default:
		return false
	}
}

// Entry is the shared shape of a cached record across all three layers.
// Layer-specific fields are populated only where they apply.
type Entry struct {
	// EntryID is the unique identifier for this entry.
	EntryID string `json:"entry_id"`
	// CreatedAt starts the TTL clock.
	CreatedAt time.Time `json:"created_at"`
	// TTLSeconds bounds the entry's lifetime from CreatedAt.
	TTLSeconds int64 `json:"ttl_seconds"`
	// TaskType scopes the entry; lookups never cross task types.
	TaskType string `json:"task_type"`
	// ModelUsed records which tier/model produced the cached response.
	ModelUsed string `json:"model_used,omitempty"`
	// CachedResponse is the opaque payload. Empty for L1 warm markers.
	CachedResponse string `json:"cached_response,omitempty"`
	// AccessCount counts hits against this entry.
	AccessCount int64 `json:"access_count"`
	// LastAccessed is the time of the most recent hit.
	LastAccessed time.Time `json:"last_accessed"`

	// PrefixHash keys L1 entries by their prompt prefix.
	PrefixHash string `json:"prefix_hash,omitempty"`
	// InputHash keys L2 entries together with TaskType.
	InputHash string `json:"input_hash,omitempty"`
	// Embedding is the L3 comparison vector.
	Embedding []float64 `json:"embedding,omitempty"`
	// AvgSimilarityOnHit is the running average similarity of L3 hits
	// against this entry.
	AvgSimilarityOnHit float64 `json:"avg_similarity_on_hit,omitempty"`
}

// Expired reports whether the entry's TTL has elapsed at now.
func (e *Entry) Expired(now time.Time) bool {
	return now.After(e.CreatedAt.Add(time.Duration(e.TTLSeconds) * time.Second))
}

// touch records a hit against the entry.
func (e *Entry) touch(now time.Time) {
	e.AccessCount++
	e.LastAccessed = now
}

// hashText returns the hex sha256 of s, the keying hash for L1 and L2.
func hashText(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}
