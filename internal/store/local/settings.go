package local

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Well-known setting keys.
const (
	SettingLastSyncTime = "lastSyncTime"
)

// GetSetting returns the value stored under key.
// The boolean is false when the key has never been set.
func (s *Store) GetSetting(ctx context.Context, key string) (string, bool, error) {
	if err := s.check(); err != nil {
		return "", false, err
	}

	var value string
	err := s.conn.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, classify(fmt.Errorf("failed to read setting %s: %w", key, err))
	}
	return value, true, nil
}

// SetSetting stores value under key, replacing any previous value.
func (s *Store) SetSetting(ctx context.Context, key, value string) error {
	if err := s.check(); err != nil {
		return err
	}

	_, err := s.conn.ExecContext(ctx, `
	INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?)
	ON CONFLICT(key) DO UPDATE SET
		value = excluded.value,
		updated_at = excluded.updated_at
	`, key, value, formatTime(time.Now()))
	if err != nil {
		return classify(fmt.Errorf("failed to write setting %s: %w", key, err))
	}
	return nil
}

// LastSyncTime returns the wall-clock time of the last drain that synced at
// least one document, or nil if none has.
func (s *Store) LastSyncTime(ctx context.Context) (*time.Time, error) {
	value, ok, err := s.GetSetting(ctx, SettingLastSyncTime)
	if err != nil || !ok {
		return nil, err
	}
	t := parseTime(value)
	if t.IsZero() {
		return nil, nil
	}
	return &t, nil
}

// SetLastSyncTime records the time of a successful drain.
func (s *Store) SetLastSyncTime(ctx context.Context, t time.Time) error {
	return s.SetSetting(ctx, SettingLastSyncTime, formatTime(t))
}
