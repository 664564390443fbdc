package store

import (
	"database/sql"
	"fmt"
)

// SavePerformance upserts the router's success-rate snapshot, keyed by
// "agentType/tier".
func (s *Store) SavePerformance(rates map[string]float64) error {
	return s.Transaction(func(tx *sql.Tx) error {
		for key, rate := range rates {
			_, err := tx.Exec(`
				INSERT INTO performance_history (key, success_rate)
				VALUES (?, ?)
				ON CONFLICT(key) DO UPDATE SET success_rate = excluded.success_rate`,
				key, rate)
			if err != nil {
				return fmt.Errorf("upsert performance key %s: %w", key, err)
			}
		}
		return nil
	})
}

// LoadPerformance returns the persisted success rates.
func (s *Store) LoadPerformance() (map[string]float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.conn.Query("SELECT key, success_rate FROM performance_history")
	if err != nil {
		return nil, fmt.Errorf("query performance history: %w", err)
	}
	defer rows.Close()

	rates := make(map[string]float64)
	for rows.Next() {
		var (
			key  string
			rate float64
		)
		if err := rows.Scan(&key, &rate); err != nil {
			return nil, err
		}
		rates[key] = rate
	}
	return rates, rows.Err()
}
