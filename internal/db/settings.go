package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Setting keys persisted by the admin API. Stored values override the
// config file on the next start.
const (
	SettingToken             = "token"
	SettingMinUpdateInterval = "min_update_interval"
)

// GetSetting returns the stored value for key; ok is false when unset.
func (db *DB) GetSetting(ctx context.Context, key string) (value string, ok bool, err error) {
	err = db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read setting %q: %w", key, err)
	}
	return value, true, nil
}

// PutSetting stores value under key, replacing any previous value.
func (db *DB) PutSetting(ctx context.Context, key, value string) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO settings (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = strftime('%s', 'now')`,
		key, value,
	)
	if err != nil {
		return fmt.Errorf("failed to write setting %q: %w", key, err)
	}
	return nil
}

// RuntimeSettings are the values an operator can change while running.
type RuntimeSettings struct {
	Token             string
	MinUpdateInterval time.Duration
}

// LoadRuntimeSettings overlays stored settings on defaults.
func (db *DB) LoadRuntimeSettings(ctx context.Context, defaults RuntimeSettings) (RuntimeSettings, error) {
	out := defaults
	if v, ok, err := db.GetSetting(ctx, SettingToken); err != nil {
		return out, err
	} else if ok {
		out.Token = v
	}

	v, ok, err := db.GetSetting(ctx, SettingMinUpdateInterval)
	if err != nil {
		return out, err
	}
	if ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return out, fmt.Errorf("setting %q: %w", SettingMinUpdateInterval, err)
		}
		out.MinUpdateInterval = d
	}
	return out, nil
}
