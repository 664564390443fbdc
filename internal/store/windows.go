package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/tbracken/stratum/internal/budget"
)

const windowColumns = `id, start_time, end_time, is_active, total_messages,
	total_input_tokens, total_output_tokens, heavy_messages, standard_messages,
	heavy_cost_units, standard_cost_units, throttle_activated`

// SaveWindow upserts the active window. Any previously active row is
// demoted so at most one window is active at a time.
func (s *Store) SaveWindow(w *budget.UsageWindow) error {
	return s.Transaction(func(tx *sql.Tx) error {
		if _, err := tx.Exec("UPDATE usage_windows SET is_active = 0 WHERE id != ?", w.ID); err != nil {
			return fmt.Errorf("demote active windows: %w", err)
		}
		return upsertWindow(tx, w, true, nil)
	})
}

// ArchiveWindow records a rotated window into history.
func (s *Store) ArchiveWindow(w *budget.UsageWindow) error {
	now := time.Now()
	return s.Transaction(func(tx *sql.Tx) error {
		return upsertWindow(tx, w, false, &now)
	})
}

func upsertWindow(tx *sql.Tx, w *budget.UsageWindow, active bool, archivedAt *time.Time) error {
	var archived any
	if archivedAt != nil {
		archived = formatTime(*archivedAt)
	}
	_, err := tx.Exec(`
		INSERT INTO usage_windows (`+windowColumns+`, archived_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			is_active = excluded.is_active,
			total_messages = excluded.total_messages,
			total_input_tokens = excluded.total_input_tokens,
			total_output_tokens = excluded.total_output_tokens,
			heavy_messages = excluded.heavy_messages,
			standard_messages = excluded.standard_messages,
			heavy_cost_units = excluded.heavy_cost_units,
			standard_cost_units = excluded.standard_cost_units,
			throttle_activated = excluded.throttle_activated,
			archived_at = COALESCE(excluded.archived_at, usage_windows.archived_at)`,
		w.ID, formatTime(w.StartTime), formatTime(w.EndTime), boolToInt(active),
		w.TotalMessages, w.TotalInputTokens, w.TotalOutputTokens,
		w.HeavyMessages, w.StandardMessages,
		w.HeavyCostUnits, w.StandardCostUnits,
		boolToInt(w.ThrottleActivated), archived)
	if err != nil {
		return fmt.Errorf("upsert window %s: %w", w.ID, err)
	}
	return nil
}

// LoadActiveWindow returns the persisted active window, or nil when none
// exists.
func (s *Store) LoadActiveWindow() (*budget.UsageWindow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.conn.QueryRow(
		"SELECT " + windowColumns + " FROM usage_windows WHERE is_active = 1 LIMIT 1")
	w, err := scanWindow(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return w, err
}

// LoadWindowHistory returns archived windows, newest first.
func (s *Store) LoadWindowHistory(limit int) ([]*budget.UsageWindow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.conn.Query(
		"SELECT "+windowColumns+" FROM usage_windows WHERE is_active = 0 ORDER BY end_time DESC LIMIT ?",
		limit)
	if err != nil {
		return nil, fmt.Errorf("query window history: %w", err)
	}
	defer rows.Close()

	var history []*budget.UsageWindow
	for rows.Next() {
		w, err := scanWindow(rows)
		if err != nil {
			return nil, err
		}
		history = append(history, w)
	}
	return history, rows.Err()
}

// PruneWindowHistory deletes archived windows beyond the newest keep.
func (s *Store) PruneWindowHistory(keep int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.conn.Exec(`
		DELETE FROM usage_windows WHERE is_active = 0 AND id NOT IN (
			SELECT id FROM usage_windows WHERE is_active = 0
			ORDER BY end_time DESC LIMIT ?
		)`, keep)
	if err != nil {
		return fmt.Errorf("prune window history: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanWindow(row rowScanner) (*budget.UsageWindow, error) {
	var (
		w                 budget.UsageWindow
		start, end        string
		active, throttled int
	)
	err := row.Scan(&w.ID, &start, &end, &active,
		&w.TotalMessages, &w.TotalInputTokens, &w.TotalOutputTokens,
		&w.HeavyMessages, &w.StandardMessages,
		&w.HeavyCostUnits, &w.StandardCostUnits, &throttled)
	if err != nil {
		return nil, err
	}
	if w.StartTime, err = parseTime(start); err != nil {
		return nil, fmt.Errorf("parse window start: %w", err)
	}
	if w.EndTime, err = parseTime(end); err != nil {
		return nil, fmt.Errorf("parse window end: %w", err)
	}
	w.IsActive = active != 0
	w.ThrottleActivated = throttled != 0
	return &w, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
