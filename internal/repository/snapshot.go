package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mr1hm/gnss-integrity-monitor/internal/models"
)

// AddSnapshot archives a space-weather snapshot. The full document is kept
// as JSON; kp and the alert count are broken out for querying.
func (s *SQLiteDB) AddSnapshot(ctx context.Context, snap *models.SpaceWeatherSnapshot) error {
	raw, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("error encoding snapshot: %w", err)
	}
	stale := 0
	if snap.Stale {
		stale = 1
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO weather_snapshots (timestamp, kp, alert_count, stale, raw)
		VALUES (?, ?, ?, ?, ?)`,
		snap.Timestamp.UnixNano(),
		nullFloat(snap.Kp),
		len(snap.Alerts),
		stale,
		raw,
	)
	if err != nil {
		return fmt.Errorf("error inserting snapshot: %w", err)
	}
	return nil
}

// ListSnapshots returns snapshots newest first. Only the time and paging
// fields of opts apply.
func (s *SQLiteDB) ListSnapshots(ctx context.Context, opts Filter) ([]models.SpaceWeatherSnapshot, error) {
	var (
		where []string
		args  []any
	)
	if opts.Since != nil {
		where = append(where, "timestamp >= ?")
		args = append(args, opts.Since.UnixNano())
	}
	if opts.Until != nil {
		where = append(where, "timestamp < ?")
		args = append(args, opts.Until.UnixNano())
	}

	query := `SELECT raw FROM weather_snapshots`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY timestamp DESC, id DESC"
	query, args = paginate(query, args, opts)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("error listing snapshots: %w", err)
	}
	defer rows.Close()

	var out []models.SpaceWeatherSnapshot
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var snap models.SpaceWeatherSnapshot
		if err := json.Unmarshal(raw, &snap); err != nil {
			return nil, fmt.Errorf("error decoding snapshot: %w", err)
		}
		out = append(out, snap)
	}
	return out, rows.Err()
}
