package cache

// LayerMetrics counts lookups and hits for one layer.
type LayerMetrics struct {
	// TotalLookups counts lookup attempts against the layer.
	TotalLookups int64 `json:"total_lookups"`
	// TotalHits counts non-expired hits.
	TotalHits int64 `json:"total_hits"`
	// Entries is the current live entry count.
	Entries int `json:"entries"`
	// AvgSimilarityOnHit is the running average hit similarity.
	// Populated for L3 only.
	AvgSimilarityOnHit float64 `json:"avg_similarity_on_hit,omitempty"`
}

// HitRate returns hits over lookups, zero when no lookups occurred.
func (m LayerMetrics) HitRate() float64 {
	if m.TotalLookups == 0 {
		return 0
	}
	return float64(m.TotalHits) / float64(m.TotalLookups)
}

// Metrics aggregates the per-layer counters with estimated savings.
type Metrics struct {
	L1 LayerMetrics `json:"l1"`
	L2 LayerMetrics `json:"l2"`
	L3 LayerMetrics `json:"l3"`
	// TotalLookups and TotalHits sum across all layers.
	TotalLookups int64 `json:"total_lookups"`
	TotalHits    int64 `json:"total_hits"`
	// OverallHitRate is TotalHits over TotalLookups.
	OverallHitRate float64 `json:"overall_hit_rate"`
	// TokensSaved estimates tokens not regenerated thanks to L2/L3 hits.
	TokensSaved int64 `json:"tokens_saved"`
	// EstimatedSavings is TokensSaved priced at the configured
	// historical cost per token.
	EstimatedSavings float64 `json:"estimated_savings"`
}
