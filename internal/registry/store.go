package registry

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Entry maps a collector sensor-object location to its sensor id.
type Entry struct {
	LocationID int       `json:"sensorObjectLocationId"`
	SensorID   int       `json:"id"`
	Name       string    `json:"name"`
	UpdatedAt  time.Time `json:"-"`
}

type Store struct {
	db  *sql.DB
	now func() time.Time
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db, now: time.Now}
}

// Save upserts entries keyed by location id in one transaction.
func (s *Store) Save(ctx context.Context, entries []Entry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO sensor_ids (location_id, sensor_id, name, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(location_id) DO UPDATE SET
			sensor_id  = excluded.sensor_id,
			name       = excluded.name,
			updated_at = excluded.updated_at
	`)
	if err != nil {
		return fmt.Errorf("prepare upsert: %w", err)
	}
	defer stmt.Close()

	ts := s.now().UTC().Format(time.RFC3339Nano)
	for _, e := range entries {
		if _, err := stmt.ExecContext(ctx, e.LocationID, e.SensorID, e.Name, ts); err != nil {
			return fmt.Errorf("upsert location %d: %w", e.LocationID, err)
		}
	}
	return tx.Commit()
}

// Load returns every cached entry keyed by location id.
func (s *Store) Load(ctx context.Context) (map[int]Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT location_id, sensor_id, name, updated_at
		FROM sensor_ids
		ORDER BY location_id
	`)
	if err != nil {
		return nil, fmt.Errorf("query sensor_ids: %w", err)
	}
	defer rows.Close()

	out := make(map[int]Entry)
	for rows.Next() {
		var (
			e  Entry
			ts string
		)
		if err := rows.Scan(&e.LocationID, &e.SensorID, &e.Name, &ts); err != nil {
			return nil, fmt.Errorf("scan sensor_ids: %w", err)
		}
		e.UpdatedAt, _ = time.Parse(time.RFC3339Nano, ts)
		out[e.LocationID] = e
	}
	return out, rows.Err()
}

// RecordLookup appends one resolution attempt to lookup_log.
func (s *Store) RecordLookup(ctx context.Context, source Source, resolved int, lookupErr error) error {
	msg := ""
	if lookupErr != nil {
		msg = lookupErr.Error()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO lookup_log (source, resolved, error) VALUES (?, ?, ?)`,
		string(source), resolved, msg,
	)
	if err != nil {
		return fmt.Errorf("insert lookup_log: %w", err)
	}
	return nil
}
