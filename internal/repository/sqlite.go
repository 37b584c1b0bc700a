package repository

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

type SQLiteDB struct {
	db *sql.DB
}

func NewSQLiteDB(path string) (*SQLiteDB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("error opening database: %w", err)
	}
	// An in-memory database lives and dies with its connection.
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("error while pinging database: %w", err)
	}

	s := &SQLiteDB{
		db: db,
	}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("error while migrating to database: %w", err)
	}

	return s, nil
}

func (s *SQLiteDB) migrate() error {
	schema := `
		CREATE TABLE IF NOT EXISTS statuses (
			id TEXT PRIMARY KEY,
			level TEXT NOT NULL,
			level_rank INTEGER NOT NULL,
			reasons TEXT NOT NULL,
			source TEXT NOT NULL,
			grp TEXT NOT NULL,
			pdop REAL,
			kp REAL,
			satellite_count INTEGER NOT NULL,
			detail TEXT,
			evaluated_at INTEGER NOT NULL,
			expires_at INTEGER NOT NULL
		);

		CREATE TABLE IF NOT EXISTS weather_snapshots (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp INTEGER NOT NULL,
			kp REAL,
			alert_count INTEGER NOT NULL,
			stale INTEGER NOT NULL,
			raw BLOB NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_statuses_evaluated_at ON statuses(evaluated_at);
		CREATE INDEX IF NOT EXISTS idx_statuses_grp ON statuses(grp, evaluated_at);
		CREATE INDEX IF NOT EXISTS idx_weather_snapshots_timestamp ON weather_snapshots(timestamp);
	`

	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteDB) Close() error {
	return s.db.Close()
}
