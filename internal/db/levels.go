package db

import (
	"context"
	"fmt"
	"time"

	"github.com/banshee-data/waterlevel/internal/telemetry"
)

// LevelRecord is one stored water level.
type LevelRecord struct {
	ID         int64     `json:"id"`
	Location   string    `json:"location"`
	Level      float64   `json:"level"`
	RecordedAt time.Time `json:"recorded_at"`
}

// RecordLevel inserts a level observed at the given location and time.
func (db *DB) RecordLevel(ctx context.Context, location string, level float64, at time.Time) error {
	_, err := db.ExecContext(ctx,
		`INSERT INTO water_levels (location, level_m, recorded_at) VALUES (?, ?, ?)`,
		location, level, at.UnixNano())
	if err != nil {
		return fmt.Errorf("record level: %w", err)
	}
	return nil
}

// WritePoint stores a telemetry point, making the database a telemetry sink.
// Points other than water_level are ignored.
func (db *DB) WritePoint(ctx context.Context, p telemetry.Point) error {
	if p.Name != telemetry.MeasurementName {
		return nil
	}
	level, ok := p.Level()
	if !ok {
		return fmt.Errorf("point %s has no %s field", p.Name, telemetry.LevelField)
	}
	return db.RecordLevel(ctx, p.Tags[telemetry.LocationTag], level, p.Time)
}

// Levels returns up to limit records, newest first.
func (db *DB) Levels(ctx context.Context, limit int) ([]LevelRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	return db.queryLevels(ctx,
		`SELECT level_id, location, level_m, recorded_at FROM water_levels
		 ORDER BY recorded_at DESC, level_id DESC LIMIT ?`, limit)
}

// LevelsSince returns every record at or after since, oldest first.
func (db *DB) LevelsSince(ctx context.Context, since time.Time) ([]LevelRecord, error) {
	return db.queryLevels(ctx,
		`SELECT level_id, location, level_m, recorded_at FROM water_levels
		 WHERE recorded_at >= ? ORDER BY recorded_at ASC, level_id ASC`, since.UnixNano())
}

func (db *DB) queryLevels(ctx context.Context, query string, args ...any) ([]LevelRecord, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []LevelRecord
	for rows.Next() {
		var r LevelRecord
		var nanos int64
		if err := rows.Scan(&r.ID, &r.Location, &r.Level, &nanos); err != nil {
			return nil, err
		}
		r.RecordedAt = time.Unix(0, nanos).UTC()
		out = append(out, r)
	}
	return out, rows.Err()
}

// Session describes one run of the capture pipeline.
type Session struct {
	ID        string    `json:"id"`
	StartedAt time.Time `json:"started_at"`
	Source    string    `json:"source"`
	LogPath   string    `json:"log_path,omitempty"`
}

// RecordSession registers a capture session, e.g. one detection log file.
func (db *DB) RecordSession(ctx context.Context, s Session) error {
	_, err := db.ExecContext(ctx,
		`INSERT INTO detection_sessions (session_id, started_at, source, log_path) VALUES (?, ?, ?, ?)`,
		s.ID, s.StartedAt.UnixNano(), s.Source, s.LogPath)
	if err != nil {
		return fmt.Errorf("record session: %w", err)
	}
	return nil
}

// Sessions lists capture sessions, newest first.
func (db *DB) Sessions(ctx context.Context) ([]Session, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT session_id, started_at, source, COALESCE(log_path, '') FROM detection_sessions ORDER BY started_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		var s Session
		var nanos int64
		if err := rows.Scan(&s.ID, &nanos, &s.Source, &s.LogPath); err != nil {
			return nil, err
		}
		s.StartedAt = time.Unix(0, nanos).UTC()
		out = append(out, s)
	}
	return out, rows.Err()
}
