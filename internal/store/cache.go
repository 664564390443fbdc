package store

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/tbracken/stratum/internal/cache"
)

// SaveCacheEntry upserts one cache entry under (layer, task_type,
// entry_id), mirroring the keyed layout the cache manager expects.
func (s *Store) SaveCacheEntry(layer string, e *cache.Entry) error {
	var embedding any
	if len(e.Embedding) > 0 {
		raw, err := json.Marshal(e.Embedding)
		if err != nil {
			return fmt.Errorf("encode embedding: %w", err)
		}
		embedding = string(raw)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.conn.Exec(`
		INSERT INTO cache_entries (layer, task_type, entry_id, created_at,
			ttl_seconds, model_used, cached_response, access_count,
			last_accessed, prefix_hash, input_hash, embedding, avg_similarity)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(layer, task_type, entry_id) DO UPDATE SET
			access_count = excluded.access_count,
			last_accessed = excluded.last_accessed,
			avg_similarity = excluded.avg_similarity,
			cached_response = excluded.cached_response,
			ttl_seconds = excluded.ttl_seconds`,
		layer, e.TaskType, e.EntryID, formatTime(e.CreatedAt),
		e.TTLSeconds, e.ModelUsed, e.CachedResponse, e.AccessCount,
		formatTime(e.LastAccessed), e.PrefixHash, e.InputHash, embedding,
		e.AvgSimilarityOnHit)
	if err != nil {
		return fmt.Errorf("upsert cache entry %s: %w", e.EntryID, err)
	}
	return nil
}

// DeleteCacheEntry removes one entry.
func (s *Store) DeleteCacheEntry(layer, taskType, entryID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.conn.Exec(
		"DELETE FROM cache_entries WHERE layer = ? AND task_type = ? AND entry_id = ?",
		layer, taskType, entryID)
	if err != nil {
		return fmt.Errorf("delete cache entry %s: %w", entryID, err)
	}
	return nil
}

// LoadCacheEntries returns all persisted entries for a layer.
func (s *Store) LoadCacheEntries(layer string) ([]*cache.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.conn.Query(`
		SELECT entry_id, task_type, created_at, ttl_seconds, model_used,
			cached_response, access_count, last_accessed, prefix_hash,
			input_hash, embedding, avg_similarity
		FROM cache_entries WHERE layer = ?`, layer)
	if err != nil {
		return nil, fmt.Errorf("query cache entries: %w", err)
	}
	defer rows.Close()

	var entries []*cache.Entry
	for rows.Next() {
		var (
			e                   cache.Entry
			created, accessed   string
			modelUsed, response sql.NullString
			prefix, input       sql.NullString
			embedding           sql.NullString
		)
		err := rows.Scan(&e.EntryID, &e.TaskType, &created, &e.TTLSeconds,
			&modelUsed, &response, &e.AccessCount, &accessed,
			&prefix, &input, &embedding, &e.AvgSimilarityOnHit)
		if err != nil {
			return nil, err
		}
		if e.CreatedAt, err = parseTime(created); err != nil {
			return nil, fmt.Errorf("parse entry created_at: %w", err)
		}
		if accessed != "" {
			if e.LastAccessed, err = parseTime(accessed); err != nil {
				return nil, fmt.Errorf("parse entry last_accessed: %w", err)
			}
		}
		e.ModelUsed = modelUsed.String
		e.CachedResponse = response.String
		e.PrefixHash = prefix.String
		e.InputHash = input.String
		if embedding.Valid && embedding.String != "" {
			if err := json.Unmarshal([]byte(embedding.String), &e.Embedding); err != nil {
				return nil, fmt.Errorf("decode embedding for %s: %w", e.EntryID, err)
			}
		}
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}

// DeleteExpiredCacheEntries reclaims space from entries whose TTL has
// elapsed. Correctness does not depend on this; the cache expires
// lazily on lookup.
func (s *Store) DeleteExpiredCacheEntries() (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.conn.Exec(`
		DELETE FROM cache_entries
		WHERE datetime(created_at, '+' || ttl_seconds || ' seconds') < datetime('now')`)
	if err != nil {
		return 0, fmt.Errorf("delete expired cache entries: %w", err)
	}
	return res.RowsAffected()
}
