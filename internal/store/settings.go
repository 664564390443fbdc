package store

import (
	"database/sql"
	"errors"
	"fmt"
)

const throttleOverrideKey = "throttle_override"

// SetSetting upserts a key/value pair in the settings table.
func (s *Store) SetSetting(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.conn.Exec(`
		INSERT INTO settings (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	if err != nil {
		return fmt.Errorf("set setting %s: %w", key, err)
	}
	return nil
}

// GetSetting returns the value for key. The bool reports presence.
func (s *Store) GetSetting(key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var value string
	row := s.conn.QueryRow("SELECT value FROM settings WHERE key = ?", key)
	if err := row.Scan(&value); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("get setting %s: %w", key, err)
	}
	return value, true, nil
}

// DeleteSetting removes a key. Missing keys are not an error.
func (s *Store) DeleteSetting(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.conn.Exec("DELETE FROM settings WHERE key = ?", key); err != nil {
		return fmt.Errorf("delete setting %s: %w", key, err)
	}
	return nil
}

// SaveThrottleOverride persists a manual throttle so it survives process
// restarts.
func (s *Store) SaveThrottleOverride(reason string) error {
	return s.SetSetting(throttleOverrideKey, reason)
}

// ClearThrottleOverride removes a persisted manual throttle.
func (s *Store) ClearThrottleOverride() error {
	return s.DeleteSetting(throttleOverrideKey)
}

// LoadThrottleOverride reports whether a manual throttle is persisted and
// its reason.
func (s *Store) LoadThrottleOverride() (bool, string, error) {
	reason, ok, err := s.GetSetting(throttleOverrideKey)
	return ok, reason, err
}
