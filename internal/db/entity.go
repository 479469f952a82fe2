package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/paulmach/orb"
)

// Entity is one tracked remote person.
type Entity struct {
	ID              int64     `json:"id"`
	ExternalID      string    `json:"external_id"`
	DisplayName     string    `json:"display_name"`
	AvatarRef       string    `json:"avatar_ref"`
	Address         string    `json:"address"`
	Lat             float64   `json:"lat"`
	Lon             float64   `json:"lon"`
	AccuracyMeters  float64   `json:"accuracy_m"`
	SpeedKPH        float64   `json:"speed_kph"`
	BatteryPercent  int       `json:"battery_percent"`
	BatteryCharging bool      `json:"battery_charging"`
	LastAppliedAt   time.Time `json:"last_applied_at"`
	ForwardEnabled  bool      `json:"forward_enabled"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Position returns the last accepted location as an orb point.
func (e *Entity) Position() orb.Point {
	return orb.Point{e.Lon, e.Lat}
}

// EntityStore is the record-store contract shared by the reconciler and
// the admin API. Both *DB views and transactions implement it.
type EntityStore interface {
	GetByExternalID(ctx context.Context, externalID string) (*Entity, error)
	GetByID(ctx context.Context, id int64) (*Entity, error)
	Upsert(ctx context.Context, e *Entity) error
	ListAll(ctx context.Context) ([]Entity, error)
	DeleteByID(ctx context.Context, id int64) error
}

type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type entityQueries struct {
	q queryer
}

const entityColumns = `
	id, external_id, display_name, avatar_ref, address,
	lat, lon, accuracy_m, speed_kph,
	battery_percent, battery_charging, last_applied_ms, forward_enabled,
	created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntity(row rowScanner) (*Entity, error) {
	var (
		e                        Entity
		charging, forward        int
		lastAppliedMs            int64
		createdUnix, updatedUnix int64
	)
	err := row.Scan(
		&e.ID, &e.ExternalID, &e.DisplayName, &e.AvatarRef, &e.Address,
		&e.Lat, &e.Lon, &e.AccuracyMeters, &e.SpeedKPH,
		&e.BatteryPercent, &charging, &lastAppliedMs, &forward,
		&createdUnix, &updatedUnix,
	)
	if err != nil {
		return nil, err
	}
	e.BatteryCharging = charging != 0
	e.ForwardEnabled = forward != 0
	e.LastAppliedAt = fromUnixMilli(lastAppliedMs)
	e.CreatedAt = time.Unix(createdUnix, 0).UTC()
	e.UpdatedAt = time.Unix(updatedUnix, 0).UTC()
	return &e, nil
}

func (s *entityQueries) GetByExternalID(ctx context.Context, externalID string) (*Entity, error) {
	row := s.q.QueryRowContext(ctx, `SELECT `+entityColumns+` FROM entities WHERE external_id = ?`, externalID)
	e, err := scanEntity(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("entity %q: %w", externalID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get entity %q: %w", externalID, err)
	}
	return e, nil
}

func (s *entityQueries) GetByID(ctx context.Context, id int64) (*Entity, error) {
	row := s.q.QueryRowContext(ctx, `SELECT `+entityColumns+` FROM entities WHERE id = ?`, id)
	e, err := scanEntity(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("entity %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get entity %d: %w", id, err)
	}
	return e, nil
}

// Upsert inserts e or, when its external id already exists, overwrites every
// mutable column. e.ID, CreatedAt and UpdatedAt are refreshed from the row.
func (s *entityQueries) Upsert(ctx context.Context, e *Entity) error {
	row := s.q.QueryRowContext(ctx, `
		INSERT INTO entities (
			external_id, display_name, avatar_ref, address,
			lat, lon, accuracy_m, speed_kph,
			battery_percent, battery_charging, last_applied_ms, forward_enabled
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(external_id) DO UPDATE SET
			display_name     = excluded.display_name,
			avatar_ref       = excluded.avatar_ref,
			address          = excluded.address,
			lat              = excluded.lat,
			lon              = excluded.lon,
			accuracy_m       = excluded.accuracy_m,
			speed_kph        = excluded.speed_kph,
			battery_percent  = excluded.battery_percent,
			battery_charging = excluded.battery_charging,
			last_applied_ms  = excluded.last_applied_ms,
			forward_enabled  = excluded.forward_enabled,
			updated_at       = strftime('%s', 'now')
		RETURNING id, created_at, updated_at`,
		e.ExternalID, e.DisplayName, e.AvatarRef, e.Address,
		e.Lat, e.Lon, e.AccuracyMeters, e.SpeedKPH,
		e.BatteryPercent, boolToInt(e.BatteryCharging), toUnixMilli(e.LastAppliedAt), boolToInt(e.ForwardEnabled),
	)

	var createdUnix, updatedUnix int64
	if err := row.Scan(&e.ID, &createdUnix, &updatedUnix); err != nil {
		return fmt.Errorf("failed to upsert entity %q: %w", e.ExternalID, err)
	}
	e.CreatedAt = time.Unix(createdUnix, 0).UTC()
	e.UpdatedAt = time.Unix(updatedUnix, 0).UTC()
	return nil
}

func (s *entityQueries) ListAll(ctx context.Context) ([]Entity, error) {
	rows, err := s.q.QueryContext(ctx, `SELECT `+entityColumns+` FROM entities ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list entities: %w", err)
	}
	defer rows.Close()

	var entities []Entity
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan entity: %w", err)
		}
		entities = append(entities, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return entities, nil
}

func (s *entityQueries) DeleteByID(ctx context.Context, id int64) error {
	res, err := s.q.ExecContext(ctx, `DELETE FROM entities WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete entity %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to delete entity %d: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("entity %d: %w", id, ErrNotFound)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func toUnixMilli(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromUnixMilli(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

// AdminFields are the entity columns an operator may edit. Nil fields are
// left unchanged.
type AdminFields struct {
	DisplayName    *string `json:"display_name,omitempty"`
	Address        *string `json:"address,omitempty"`
	ForwardEnabled *bool   `json:"forward_enabled,omitempty"`
}

// UpdateAdminFields applies f to entity id as one read-modify-write
// transaction and returns the stored result.
func (db *DB) UpdateAdminFields(ctx context.Context, id int64, f AdminFields) (*Entity, error) {
	var updated *Entity
	err := db.WithTx(ctx, func(store EntityStore) error {
		e, err := store.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if f.DisplayName != nil {
			e.DisplayName = *f.DisplayName
		}
		if f.Address != nil {
			e.Address = *f.Address
		}
		if f.ForwardEnabled != nil {
			e.ForwardEnabled = *f.ForwardEnabled
		}
		if err := store.Upsert(ctx, e); err != nil {
			return err
		}
		updated = e
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}
