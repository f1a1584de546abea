package main

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Store persists calibration runs and a stream session log so the last
// calibration vector survives a restart.
type Store struct {
	db *sql.DB
}

// NewStore opens (or creates) the SQLite database at path
func NewStore(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("error opening database: %w", err)
	}
	if err := createTables(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("error creating tables: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// createTables creates the required tables if they don't exist
func createTables(db *sql.DB) error {
	createCalibrations := `
    CREATE TABLE IF NOT EXISTS calibrations (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        created_at TIMESTAMP NOT NULL,
        values_json TEXT NOT NULL
    );
    `
	createSessions := `
    CREATE TABLE IF NOT EXISTS sessions (
        id TEXT PRIMARY KEY,
        started_at TIMESTAMP NOT NULL,
        stopped_at TIMESTAMP,
        rows_archived INTEGER NOT NULL DEFAULT 0
    );
    `
	for _, stmt := range []string{createCalibrations, createSessions} {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// SaveCalibration stores a completed calibration vector
func (s *Store) SaveCalibration(values []float64) error {
	data, err := json.Marshal(values)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(
		"INSERT INTO calibrations (created_at, values_json) VALUES (?, ?)",
		time.Now().UTC(), string(data),
	)
	return err
}

// LatestCalibration returns the most recent calibration vector, or nil if
// none has been stored.
func (s *Store) LatestCalibration() ([]float64, error) {
	var data string
	err := s.db.QueryRow(
		"SELECT values_json FROM calibrations ORDER BY id DESC LIMIT 1",
	).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var values []float64
	if err := json.Unmarshal([]byte(data), &values); err != nil {
		return nil, err
	}
	return values, nil
}

// RecordSessionStart logs a new stream session
func (s *Store) RecordSessionStart(id string, startedAt time.Time) error {
	_, err := s.db.Exec(
		"INSERT INTO sessions (id, started_at) VALUES (?, ?)",
		id, startedAt.UTC(),
	)
	return err
}

// RecordSessionStop closes out a stream session
func (s *Store) RecordSessionStop(id string, stoppedAt time.Time, rowsArchived int) error {
	_, err := s.db.Exec(
		"UPDATE sessions SET stopped_at = ?, rows_archived = ? WHERE id = ?",
		stoppedAt.UTC(), rowsArchived, id,
	)
	return err
}

// SessionCount returns the number of logged sessions
func (s *Store) SessionCount() (int, error) {
	var n int
	err := s.db.QueryRow("SELECT COUNT(*) FROM sessions").Scan(&n)
	return n, err
}
